// Command live runs a voice conversation with a Gemini Live model from the
// local microphone and speaker, with long-running generation tools and an
// optional web dashboard.
package main

import (
	"fmt"
	"os"
)

func main() {
	if err := rootCmd().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
