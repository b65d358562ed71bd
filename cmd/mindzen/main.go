package main

import (
	"os"

	"github.com/mindzen-erp/mindzen/internal/cli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
