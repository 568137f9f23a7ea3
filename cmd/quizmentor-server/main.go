// Package main provides the entry point for the quizmentor server.
package main

import (
	"fmt"
	"os"

	"github.com/quizmentor-ai/quizmentor/cmd/quizmentor-server/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
