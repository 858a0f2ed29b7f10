package main

import (
	"os"

	"github.com/planforge/planforge/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
