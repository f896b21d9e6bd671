package main

import (
	"context"
	"os"

	cli "github.com/urfave/cli/v3"
)

const serviceName = "orchestrator-health"

func main() {
	cmd := &cli.Command{
		Name:                  serviceName,
		Usage:                 "Probe workflow providers and record their health",
		EnableShellCompletion: true,
		Commands: []*cli.Command{
			NewRunCommand(),
			NewCheckCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		panic(err)
	}
}
