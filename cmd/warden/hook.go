package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/policy"
	"github.com/metraton/warden/internal/uds"
)

// hookInput is the host's PreToolUse hook payload.
type hookInput struct {
	SessionID  string          `json:"session_id"`
	ToolName   string          `json:"tool_name"`
	ToolInput  json.RawMessage `json:"tool_input"`
	WorkingDir string          `json:"cwd"`
}

type hookOutput struct {
	HookSpecificOutput hookSpecificOutput `json:"hookSpecificOutput"`
}

type hookSpecificOutput struct {
	HookEventName            string `json:"hookEventName"`
	PermissionDecision       string `json:"permissionDecision"`
	PermissionDecisionReason string `json:"permissionDecisionReason"`
}

var hookCmd = &cobra.Command{
	Use:   "hook",
	Short: "Run as a host PreToolUse hook",
	Long: `Reads one PreToolUse JSON request on stdin and writes one
hookSpecificOutput JSON decision on stdout. Bash tool calls are judged
as command lines, Task tool calls as delegations; tools warden does not
mediate produce no output, leaving the host's own rules in charge.`,
	RunE: runHook,
}

func runHook(cmd *cobra.Command, args []string) error {
	input, err := readHookInput(cmd.InOrStdin())
	if err != nil {
		// The action cannot even be identified. Failing closed here is
		// the whole point of a mediator.
		writeHookDecision(model.Block(model.TierRealize, fmt.Sprintf("unreadable hook input: %v", err)))
		return nil
	}

	wardenDir, cfg, err := openWorkspace()
	if err != nil {
		// No workspace means warden is not mediating this project.
		// Silence, not allow: the host's own permission rules apply.
		return nil
	}

	var dec model.Decision
	switch input.ToolName {
	case "Bash":
		var ti struct {
			Command string `json:"command"`
		}
		if err := json.Unmarshal(input.ToolInput, &ti); err != nil || ti.Command == "" {
			writeHookDecision(model.Block(model.TierRealize, "Bash tool input carries no command"))
			return nil
		}
		dec = evaluateHookBash(wardenDir, cfg, ti.Command)
	case "Task":
		var ti struct {
			Description  string `json:"description"`
			Prompt       string `json:"prompt"`
			SubagentType string `json:"subagent_type"`
		}
		if err := json.Unmarshal(input.ToolInput, &ti); err != nil {
			writeHookDecision(model.Block(model.TierRealize, "Task tool input is malformed"))
			return nil
		}
		req := model.DelegationRequest{
			Kind:    model.DelegationNewTask,
			Persona: ti.SubagentType,
			Prompt:  ti.Prompt,
		}
		if ti.Description != "" {
			req.Metadata = map[string]string{"description": ti.Description}
		}
		dec = evaluateHookDelegation(wardenDir, cfg, req)
	default:
		// Not ours to judge.
		return nil
	}

	writeHookDecision(dec)
	return nil
}

// evaluateHookBash prefers a running daemon (warm cache, hot-reloaded
// rules) and falls back to an in-process evaluation.
func evaluateHookBash(wardenDir string, cfg *model.Config, command string) model.Decision {
	if daemonAvailable(wardenDir, cfg) {
		resp, err := daemonClient(wardenDir, cfg).SendCommand("evaluate.bash", map[string]string{
			"command": command,
		})
		if err == nil {
			if dec, ok := decodeDecision(resp); ok {
				return dec
			}
			return model.Block(model.TierRealize, "daemon returned an undecodable response")
		}
		// Stale socket; fall through to local evaluation.
	}

	core, err := newCore(wardenDir, cfg)
	if err != nil {
		return model.Block(model.TierRealize, fmt.Sprintf("mediator failed to start: %v", err))
	}
	defer core.Close()
	return core.EvaluateBash(command, policy.BashContext{})
}

func evaluateHookDelegation(wardenDir string, cfg *model.Config, req model.DelegationRequest) model.Decision {
	if daemonAvailable(wardenDir, cfg) {
		resp, err := daemonClient(wardenDir, cfg).SendCommand("evaluate.delegation", req)
		if err == nil {
			if dec, ok := decodeDecision(resp); ok {
				return dec
			}
			return model.Block(model.TierRealize, "daemon returned an undecodable response")
		}
	}

	core, err := newCore(wardenDir, cfg)
	if err != nil {
		return model.Block(model.TierRealize, fmt.Sprintf("mediator failed to start: %v", err))
	}
	defer core.Close()
	return core.EvaluateDelegation(req)
}

func decodeDecision(resp *uds.Response) (model.Decision, bool) {
	if !resp.Success {
		// The daemon refused the request outright; its error message is
		// the block reason.
		msg := "daemon error"
		if resp.Error != nil {
			msg = resp.Error.Message
		}
		return model.Block(model.TierRealize, msg), true
	}
	var dec model.Decision
	if err := json.Unmarshal(resp.Data, &dec); err != nil {
		return model.Decision{}, false
	}
	return dec, true
}

func readHookInput(r io.Reader) (*hookInput, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	var input hookInput
	if err := json.Unmarshal(data, &input); err != nil {
		return nil, err
	}
	return &input, nil
}

// permissionFor maps a decision outcome onto the host's permission
// verdicts: block becomes deny, the other two pass through by name.
func permissionFor(o model.Outcome) string {
	switch o {
	case model.OutcomeAllow:
		return "allow"
	case model.OutcomeAsk:
		return "ask"
	default:
		return "deny"
	}
}

func writeHookDecision(dec model.Decision) {
	out := hookOutput{
		HookSpecificOutput: hookSpecificOutput{
			HookEventName:            "PreToolUse",
			PermissionDecision:       permissionFor(dec.Outcome),
			PermissionDecisionReason: dec.Reason,
		},
	}
	json.NewEncoder(os.Stdout).Encode(out)
}
