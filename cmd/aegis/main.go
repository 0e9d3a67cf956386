// Command aegis is the desktop-side CLI: it stores the API key locally and
// checks entitlement against the portal, degrading to offline mode when the
// portal is unreachable.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"example/aegis-portal/client"
)

func main() {
	baseURL := flag.String("url", envOr("AEGIS_API_URL", "https://aegissolutions.co.uk"), "portal base URL")
	timeout := flag.Duration("timeout", client.DefaultTimeout, "request timeout")
	flag.Parse()

	configPath, err := client.DefaultConfigPath()
	if err != nil {
		log.Fatalf("resolve config path: %v", err)
	}
	creds := client.NewCredentials(configPath)
	checker := client.NewChecker(*baseURL, *timeout, creds)

	switch flag.Arg(0) {
	case "login":
		key := flag.Arg(1)
		if key == "" {
			log.Fatal("usage: aegis login <api-key>")
		}
		if err := creds.SetAPIKey(key); err != nil {
			log.Fatalf("save key: %v", err)
		}
		fmt.Println("API key saved.")

	case "status", "":
		printStatus(checker.Check(context.Background()))

	case "spend":
		action := flag.Arg(1)
		if action == "" {
			log.Fatal("usage: aegis spend <action> [project-id]")
		}
		ctx, cancel := context.WithTimeout(context.Background(), *timeout)
		defer cancel()
		result, err := checker.Spend(ctx, action, flag.Arg(2))
		if err != nil {
			log.Fatalf("spend failed: %v", err)
		}
		if !result.Success {
			fmt.Printf("Denied: %s (balance %d)\n", result.Message, result.Balance)
			if result.UpgradeURL != "" {
				fmt.Printf("Upgrade at %s\n", result.UpgradeURL)
			}
			os.Exit(1)
		}
		fmt.Printf("Spent %d tokens, %s remaining.\n", result.TokensUsed, remaining(result.Balance))

	default:
		log.Fatalf("unknown command %q (want login, status, or spend)", flag.Arg(0))
	}
}

func printStatus(status client.Status) {
	switch {
	case status.Offline:
		fmt.Println("Offline - limited trust, app usable.")
	case status.CanUseApp():
		fmt.Printf("Entitled: plan=%s status=%s tokens=%s\n", status.Plan, status.State, status.TokensRemaining())
	default:
		fmt.Printf("Blocked: %s - upgrade required.\n", status.ErrorMessage)
		os.Exit(1)
	}
}

func remaining(balance int) string {
	if balance < 0 {
		return "unlimited"
	}
	return fmt.Sprintf("%d tokens", balance)
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
