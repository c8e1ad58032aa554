package main

import (
	"os"

	"github.com/looplabs/chatcore/cmd/chatcli/commands"
)

func main() {
	if err := commands.Execute(); err != nil {
		os.Exit(1)
	}
}
