// Package main is the procflow command: the API server, the standalone
// scheduler and offline validation.
package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

func main() {
	cmd := &cli.Command{
		Name:                  "procflow",
		Usage:                 "Run and manage business processes",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewServeCommand(),
			NewSchedulerCommand(),
			NewValidateCommand(),
		},
	}

	err := cmd.Run(context.Background(), os.Args)
	if err != nil {
		panic(err)
	}
}
