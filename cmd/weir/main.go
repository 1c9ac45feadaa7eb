package main

import (
	"fmt"
	"os"

	"github.com/pterm/pterm"

	"github.com/teranos/weir/cmd/weir/commands"
	"github.com/teranos/weir/logger"
)

func main() {
	defer logger.Cleanup()

	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprint(os.Stderr, pterm.Error.Sprintln(err.Error()))
		os.Exit(1)
	}
}
