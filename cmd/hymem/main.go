// cmd/hymem is the command-line interface to hymem, a cycle-accurate
// hybrid memory-hierarchy simulator.
package main

import (
	"context"
	"os"

	"github.com/smoynes/hymem/internal/cli"
	"github.com/smoynes/hymem/internal/cli/cmd"
)

var commands = []cli.Command{
	cmd.Runner(),
	cmd.Demo(),
}

func main() {
	result :=
		cli.New(context.Background()).
			WithLogger(os.Stderr).
			WithCommands(commands).
			WithHelp(cmd.Help(commands)).
			Execute(os.Args[1:])

	os.Exit(result)
}
