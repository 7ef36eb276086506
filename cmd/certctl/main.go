package main

import (
	"os"

	"sealed_chat/cmd/certctl/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
