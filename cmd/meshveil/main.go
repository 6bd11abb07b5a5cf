package main

import (
	"os"

	"meshveil/cmd/meshveil/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
