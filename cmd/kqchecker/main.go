// kqchecker is the attendance engine CLI. It caches the weekly class
// schedule, derives the cleaned timeslot map, and matches door check-in
// records against upcoming classes, alerting when one is missing.
package main

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Optional .env next to the binary; real env always wins.
	_ = godotenv.Load()

	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
