package main

import (
	"os"

	"github.com/moorhen/cartograph/cmd/cartograph/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
