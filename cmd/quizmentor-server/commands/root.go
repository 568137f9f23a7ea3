// Package commands provides the CLI commands for the quizmentor server.
package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Version information set at build time
	Version   = "0.1.0"
	BuildTime = "dev"
)

// Global flags
var (
	prettyLogs bool
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "quizmentor-server",
	Short: "QuizMentor - streaming AI tutor backend",
	Long: `QuizMentor streams AI-generated explanations of quiz answers to
polling HTTP clients.

Run 'quizmentor-server serve' to start the relay server.`,
	Version: Version,
	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&prettyLogs, "pretty-logs", false, "Human-readable console logs")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level (DEBUG|INFO|WARN|ERROR)")

	rootCmd.SetVersionTemplate(fmt.Sprintf("quizmentor-server %s (%s)\n", Version, BuildTime))

	rootCmd.AddCommand(serveCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
