// Command warden mediates shell commands and agent delegations for an AI
// coding assistant. It classifies each intercepted action into a risk
// tier and answers allow, ask, or block; realize-tier work additionally
// requires an approved episode.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/daemon"
	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/uds"
)

const version = "0.3.0"

var rootCmd = &cobra.Command{
	Use:   "warden",
	Short: "warden - command authorization mediator for AI coding agents",
	Long: `Warden intercepts shell commands and agent delegations, classifies
their risk (read < validate < simulate < realize), and returns exactly one
of allow, ask, or block. Realize-tier work is licensed only by an episode a
human has explicitly approved.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the warden version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("warden %s\n", version)
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(checkCmd)
	rootCmd.AddCommand(delegateCmd)
	rootCmd.AddCommand(hookCmd)
	rootCmd.AddCommand(episodeCmd)
	rootCmd.AddCommand(rulesCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// findWardenDir searches for .warden/ in the current directory and its
// ancestors.
func findWardenDir() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".warden")
		if info, err := os.Stat(candidate); err == nil && info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// openWorkspace locates .warden/ and loads its configuration.
func openWorkspace() (string, *model.Config, error) {
	wardenDir := findWardenDir()
	if wardenDir == "" {
		return "", nil, fmt.Errorf(".warden/ directory not found; run 'warden init' first")
	}
	cfg, err := model.LoadConfig(filepath.Join(wardenDir, "config.yaml"))
	if err != nil {
		return "", nil, err
	}
	return wardenDir, cfg, nil
}

func socketPath(wardenDir string, cfg *model.Config) string {
	return filepath.Join(wardenDir, cfg.Daemon.SocketName)
}

// daemonAvailable reports whether a daemon socket exists for the
// workspace. Existence is a hint, not a guarantee; callers still handle
// connection errors.
func daemonAvailable(wardenDir string, cfg *model.Config) bool {
	_, err := os.Stat(socketPath(wardenDir, cfg))
	return err == nil
}

func daemonClient(wardenDir string, cfg *model.Config) *uds.Client {
	return uds.NewClient(socketPath(wardenDir, cfg))
}

// newCore builds a local evaluation pipeline for one-shot commands.
func newCore(wardenDir string, cfg *model.Config) (*daemon.Core, error) {
	return daemon.NewCore(wardenDir, cfg)
}

// printDecision writes the decision as JSON and exits with a code the
// calling hook or script can branch on: 0 allow, 1 block, 2 ask.
func printDecision(dec model.Decision) {
	out, _ := json.MarshalIndent(dec, "", "  ")
	fmt.Println(string(out))
	os.Exit(decisionExitCode(dec.Outcome))
}

func decisionExitCode(o model.Outcome) int {
	switch o {
	case model.OutcomeAllow:
		return 0
	case model.OutcomeAsk:
		return 2
	default:
		return 1
	}
}

// respFailure formats a daemon error response.
func respFailure(op string, resp *uds.Response) error {
	code := ""
	msg := "unknown error"
	if resp.Error != nil {
		code = resp.Error.Code
		msg = resp.Error.Message
	}
	return fmt.Errorf("%s failed [%s]: %s", op, code, msg)
}
