package main

import (
	"fmt"
	"os"

	"github.com/relaychain/noded/cmd/noded/commands"
)

func main() {
	commands.RootCmd.AddCommand(
		commands.NewRunCmd(commands.DefaultProvider),
		commands.VersionCmd,
	)

	if err := commands.RootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(commands.ExitCode(err))
	}
}
