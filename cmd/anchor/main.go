package main

import (
	"fmt"
	"os"

	"github.com/allaspectsdev/anchor/internal/version"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "start":
		cmdStart(os.Args[2:])
	case "stop":
		cmdStop(os.Args[2:])
	case "status":
		cmdStatus(os.Args[2:])
	case "keys":
		cmdKeys(os.Args[2:])
	case "init-config":
		cmdInitConfig()
	case "config-export":
		cmdConfigExport(os.Args[2:])
	case "version":
		fmt.Println(version.String())
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", os.Args[1])
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`Usage: anchor <command> [options]

Commands:
  start            Start the reply gateway
  stop             Stop the running gateway
  status           Show gateway status
  keys             Manage the upstream API key (list|set|delete <provider>)
  init-config      Generate default config file
  config-export    Export current config to a TOML file
  version          Print version information
  help             Show this help message

Options:
  --foreground     Run in foreground (with 'start')
  --config <path>  Use a specific config file (with 'start', 'stop', 'status', 'config-export')
  --env <path>     Load environment from a dotenv file before start (default .env)`)
}
