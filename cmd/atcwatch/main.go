// Command atcwatch watches a facility's manual-receiving events and sends
// delivery-level notifications.
//
// Usage:
//
//	atcwatch run --config ./atcwatch.yaml
//	atcwatch status --config ./atcwatch.yaml
//	atcwatch events --config ./atcwatch.yaml --since 24h
//	atcwatch send-test --config ./atcwatch.yaml --channel webhook --shift "Shift A1"
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Load .env if present (secrets for env overrides).
	_ = godotenv.Load(".env")

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "fatal:", err)
		os.Exit(1)
	}
}
