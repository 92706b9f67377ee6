package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/setup"
)

var initProjectName string

var initCmd = &cobra.Command{
	Use:   "init [dir]",
	Short: "Initialize a .warden/ workspace",
	Long: `Materializes .warden/ in the given directory (default: current
directory) with a commented factory rule table, a config file, and the
log and lock directories the daemon needs.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringVar(&initProjectName, "name", "", "Project name (default: directory basename)")
}

func runInit(cmd *cobra.Command, args []string) error {
	dir := "."
	if len(args) > 0 {
		dir = args[0]
	}

	if err := setup.Run(dir, initProjectName); err != nil {
		return fmt.Errorf("init: %w", err)
	}

	absDir, _ := filepath.Abs(dir)
	fmt.Printf("Initialized .warden/ in %s\n", absDir)
	fmt.Println("Review .warden/rules.yaml, then start the daemon with: warden serve")
	return nil
}
