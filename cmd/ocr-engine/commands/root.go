// Package commands implements the ocr-engine CLI.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "ocr-engine",
	Short: "OCR document processing engine",
	Long: `The OCR engine ingests PDF and image documents, splits them into
per-page units, runs each page through an OCR inference service, and
aggregates the normalized page texts into retrievable results.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Missing .env files are not an error.
		_ = godotenv.Load()
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(migrateCmd)
	rootCmd.AddCommand(enqueueCmd)
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
