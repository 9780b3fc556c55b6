// Package main provides the entry point for the blackia-rag CLI.
package main

import (
	"os"

	"github.com/Franck-BRT/BlackIA-sub003/cmd/blackia-rag/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
