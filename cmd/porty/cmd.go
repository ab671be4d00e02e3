// Package main is the porty CLI entrypoint: it loads configuration,
// wires up the default event sink, and runs the Supervisor. Command
// dispatch is deliberately thin glue around the core in pkg/proxy.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/oodx/porty/pkg/config"
	"github.com/oodx/porty/pkg/events"
	"github.com/oodx/porty/pkg/proxy"
	"github.com/spf13/cobra"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:   "porty",
		Short: "porty is a lightweight layer-4/layer-7 forwarding proxy",
	}

	run := &cobra.Command{
		Use:   "run",
		Short: "load the config and run the proxy until terminated",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	run.Flags().StringVarP(&configPath, "config", "c", "porty.yaml", "path to the YAML config file")

	root.AddCommand(run)
	return root
}

func runServe(ctx context.Context, configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	sink := events.NewDefaultZapSink()
	defer sink.Sync()

	sup := &proxy.Supervisor{Config: cfg, Sink: sink}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return sup.Run(ctx)
}

// exitCode maps a Supervisor/config error to the process exit code:
// 0 on clean shutdown, 1 on fatal bind failure or configuration
// rejection.
func exitCode(err error) int {
	if err == nil {
		return 0
	}
	return 1
}
