package main

import (
	"os"

	"github.com/opsignal/threatmem/internal/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
