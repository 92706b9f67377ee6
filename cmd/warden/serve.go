package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/daemon"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the warden daemon",
	Long: `Starts the long-lived mediator: a Unix socket server answering
evaluation requests, a watcher hot-reloading the rule table, and a
sweeper expiring stale episodes. Exactly one daemon runs per workspace,
enforced by a file lock.`,
	RunE: runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}

	d, err := daemon.New(wardenDir, cfg)
	if err != nil {
		return fmt.Errorf("create daemon: %w", err)
	}

	return d.Run()
}
