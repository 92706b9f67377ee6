package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/policy"
)

var (
	checkEpisodeID string
	checkViaSocket bool
)

var checkCmd = &cobra.Command{
	Use:   "check <command-line>",
	Short: "Evaluate one shell command line",
	Long: `Judges a raw command line and prints the decision as JSON.
Exit code: 0 allow, 1 block, 2 ask.

By default the evaluation runs in-process against the workspace rule
table; --socket routes it through a running daemon instead.`,
	Args: cobra.MinimumNArgs(1),
	RunE: runCheck,
}

func init() {
	checkCmd.Flags().StringVar(&checkEpisodeID, "episode", "", "Episode id claimed to license realize-tier work")
	checkCmd.Flags().BoolVar(&checkViaSocket, "socket", false, "Evaluate through the running daemon")
}

func runCheck(cmd *cobra.Command, args []string) error {
	raw := strings.Join(args, " ")

	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}

	if checkViaSocket {
		resp, err := daemonClient(wardenDir, cfg).SendCommand("evaluate.bash", map[string]string{
			"command":    raw,
			"episode_id": checkEpisodeID,
		})
		if err != nil {
			return fmt.Errorf("check: %w", err)
		}
		if !resp.Success {
			return respFailure("check", resp)
		}
		var dec model.Decision
		if err := json.Unmarshal(resp.Data, &dec); err != nil {
			return fmt.Errorf("decode decision: %w", err)
		}
		printDecision(dec)
		return nil
	}

	core, err := newCore(wardenDir, cfg)
	if err != nil {
		return err
	}
	dec := core.EvaluateBash(raw, policy.BashContext{EpisodeID: checkEpisodeID})
	core.Close()
	printDecision(dec)
	return nil
}
