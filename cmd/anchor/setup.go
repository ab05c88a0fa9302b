package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/allaspectsdev/anchor/internal/config"
	"github.com/allaspectsdev/anchor/internal/daemon"
)

type startFlags struct {
	foreground bool
	configPath string
	envFile    string
	rest       []string
}

// parseFlags understands --foreground/-f, --config <path>, --env <path> and
// their --flag=value forms. Anything else is returned in rest.
func parseFlags(args []string) (startFlags, error) {
	f := startFlags{envFile: ".env"}
	for i := 0; i < len(args); i++ {
		a := args[i]
		name, value, hasValue := strings.Cut(a, "=")
		switch name {
		case "--foreground", "-f":
			f.foreground = true
		case "--config", "-c", "--env":
			if !hasValue {
				if i+1 >= len(args) {
					return f, fmt.Errorf("%s requires a value", name)
				}
				i++
				value = args[i]
			}
			if name == "--env" {
				f.envFile = value
			} else {
				f.configPath = value
			}
		default:
			f.rest = append(f.rest, a)
		}
	}
	return f, nil
}

func mustParseFlags(args []string) startFlags {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
	return f
}

func mustLoadConfig(path string) *config.Config {
	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}
	return cfg
}

func cmdStart(args []string) {
	f := mustParseFlags(args)

	// Existing environment variables win over the dotenv file.
	if err := godotenv.Load(f.envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "error loading %s: %v\n", f.envFile, err)
		os.Exit(1)
	}

	cfg := mustLoadConfig(f.configPath)

	if err := daemon.Run(cfg, f.foreground); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func cmdStop(args []string) {
	mustLoadConfig(mustParseFlags(args).configPath)
	if err := daemon.Stop(); err != nil {
		fmt.Fprintf(os.Stderr, "error stopping gateway: %v\n", err)
		os.Exit(1)
	}
	fmt.Println("anchor stopped")
}

func cmdStatus(args []string) {
	mustLoadConfig(mustParseFlags(args).configPath)
	if err := daemon.Status(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

func cmdInitConfig() {
	if err := config.InitConfig(); err != nil {
		fmt.Fprintf(os.Stderr, "error generating config: %v\n", err)
		os.Exit(1)
	}
}

func cmdConfigExport(args []string) {
	f := mustParseFlags(args)
	path := "anchor-export.toml"
	if len(f.rest) > 0 {
		path = f.rest[0]
	}
	mustLoadConfig(f.configPath)
	if err := config.ExportConfig(path); err != nil {
		fmt.Fprintf(os.Stderr, "error exporting config: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Config exported to %s\n", path)
}
