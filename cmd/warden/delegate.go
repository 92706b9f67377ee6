package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/model"
)

var (
	delegatePersona   string
	delegatePrompt    string
	delegateResumeID  string
	delegateMeta      []string
	delegateViaSocket bool
)

var delegateCmd = &cobra.Command{
	Use:   "delegate",
	Short: "Evaluate an agent delegation request",
	Long: `Judges handing work to a persona and prints the decision as JSON.
Exit code: 0 allow, 1 block, 2 ask.

A new task is --persona plus --prompt; --resume <episode-id> instead
continues a previously approved episode, consuming its approval.`,
	RunE: runDelegate,
}

func init() {
	delegateCmd.Flags().StringVar(&delegatePersona, "persona", "", "Persona to delegate to")
	delegateCmd.Flags().StringVar(&delegatePrompt, "prompt", "", "Task prompt")
	delegateCmd.Flags().StringVar(&delegateResumeID, "resume", "", "Episode id to resume")
	delegateCmd.Flags().StringArrayVar(&delegateMeta, "meta", nil, "Metadata key=value (repeatable)")
	delegateCmd.Flags().BoolVar(&delegateViaSocket, "socket", false, "Evaluate through the running daemon")
}

func buildDelegationRequest() (model.DelegationRequest, error) {
	if delegateResumeID != "" {
		if delegatePersona != "" || delegatePrompt != "" {
			return model.DelegationRequest{}, fmt.Errorf("--resume cannot be combined with --persona/--prompt")
		}
		return model.DelegationRequest{
			Kind:      model.DelegationResume,
			EpisodeID: delegateResumeID,
		}, nil
	}

	req := model.DelegationRequest{
		Kind:    model.DelegationNewTask,
		Persona: delegatePersona,
		Prompt:  delegatePrompt,
	}
	for _, kv := range delegateMeta {
		k, v, ok := splitKeyValue(kv)
		if !ok {
			return model.DelegationRequest{}, fmt.Errorf("invalid --meta %q, want key=value", kv)
		}
		if req.Metadata == nil {
			req.Metadata = make(map[string]string)
		}
		req.Metadata[k] = v
	}
	return req, nil
}

func splitKeyValue(s string) (string, string, bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == '=' {
			return s[:i], s[i+1:], i > 0
		}
	}
	return "", "", false
}

func runDelegate(cmd *cobra.Command, args []string) error {
	req, err := buildDelegationRequest()
	if err != nil {
		return err
	}

	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		return err
	}

	if delegateViaSocket {
		resp, err := daemonClient(wardenDir, cfg).SendCommand("evaluate.delegation", req)
		if err != nil {
			return fmt.Errorf("delegate: %w", err)
		}
		if !resp.Success {
			return respFailure("delegate", resp)
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
	dec := core.EvaluateDelegation(req)
	core.Close()
	printDecision(dec)
	return nil
}
