package main

import (
	"os"

	"github.com/rustyeddy/smc/cmd/smc/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
