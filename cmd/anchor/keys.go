package main

import (
	"fmt"
	"os"
	"strings"
	"syscall"

	"golang.org/x/term"

	"github.com/allaspectsdev/anchor/internal/vault"
)

func cmdKeys(args []string) {
	if len(args) == 0 {
		fmt.Println("Usage: anchor keys <list|set|delete> [provider]")
		os.Exit(1)
	}

	v := vault.New()

	switch args[0] {
	case "list":
		providers, err := v.List()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error listing keys: %v\n", err)
			os.Exit(1)
		}
		if len(providers) == 0 {
			fmt.Println("No API keys stored")
			return
		}
		for _, p := range providers {
			fmt.Printf("  %s: ****\n", p)
		}

	case "set":
		provider := providerArg(args)
		fmt.Printf("Enter API key for %s: ", provider)
		key, err := term.ReadPassword(int(syscall.Stdin))
		fmt.Println()
		if err != nil {
			fmt.Fprintf(os.Stderr, "error reading key: %v\n", err)
			os.Exit(1)
		}
		secret := strings.TrimSpace(string(key))
		if secret == "" {
			fmt.Fprintln(os.Stderr, "error: empty key, nothing stored")
			os.Exit(1)
		}
		if err := v.Set(provider, secret); err != nil {
			fmt.Fprintf(os.Stderr, "error storing key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Key for %s stored; reference it with key_ref = \"keyring://anchor/%s\"\n", provider, provider)

	case "delete":
		provider := providerArg(args)
		if err := v.Delete(provider); err != nil {
			fmt.Fprintf(os.Stderr, "error deleting key: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Key for %s deleted\n", provider)

	default:
		fmt.Fprintf(os.Stderr, "unknown keys command: %s\n", args[0])
		os.Exit(1)
	}
}

// providerArg returns the lower-cased provider argument, defaulting to openai.
func providerArg(args []string) string {
	if len(args) < 2 {
		return "openai"
	}
	return strings.ToLower(args[1])
}
