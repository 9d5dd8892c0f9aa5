package main

import (
	"context"
	"fmt"
	"os"
	"runtime/debug"

	"github.com/urfave/cli/v3"
	"go.opentelemetry.io/otel/sdk/metric"

	"github.com/tzrikka/revowners/pkg/config"
)

func main() {
	bi, _ := debug.ReadBuildInfo()
	var mp *metric.MeterProvider

	cmd := &cli.Command{
		Name:    "revowners",
		Usage:   "Resolve code owners and approvals of GitHub pull requests",
		Version: bi.Main.Version,
		Flags:   config.Flags(),
		Before: func(ctx context.Context, cmd *cli.Command) (context.Context, error) {
			var err error
			ctx, mp, err = initRuntime(ctx, cmd)
			return ctx, err
		},
		After: func(ctx context.Context, _ *cli.Command) error {
			if mp == nil {
				return nil
			}
			return mp.Shutdown(ctx)
		},
		Commands: []*cli.Command{
			reportCommand(),
			serveCommand(),
			matchCommand(),
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
