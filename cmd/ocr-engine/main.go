// Package main provides the OCR engine entrypoint.
package main

import (
	"fmt"
	"os"

	"github.com/cin-dennis/ocr-engine/cmd/ocr-engine/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
