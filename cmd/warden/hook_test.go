package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/uds"
)

func TestReadHookInput(t *testing.T) {
	input := `{
		"session_id": "s-1",
		"tool_name": "Bash",
		"tool_input": {
			"command": "git status",
			"description": "Check the working tree"
		},
		"cwd": "/home/dev/project"
	}`

	parsed, err := readHookInput(strings.NewReader(input))
	if err != nil {
		t.Fatalf("readHookInput: %v", err)
	}
	if parsed.ToolName != "Bash" {
		t.Errorf("tool_name = %q, want Bash", parsed.ToolName)
	}
	if parsed.WorkingDir != "/home/dev/project" {
		t.Errorf("cwd = %q, want /home/dev/project", parsed.WorkingDir)
	}

	var ti struct {
		Command string `json:"command"`
	}
	if err := json.Unmarshal(parsed.ToolInput, &ti); err != nil {
		t.Fatalf("tool_input decode: %v", err)
	}
	if ti.Command != "git status" {
		t.Errorf("command = %q, want git status", ti.Command)
	}
}

func TestReadHookInput_Garbage(t *testing.T) {
	if _, err := readHookInput(strings.NewReader("not json")); err == nil {
		t.Fatal("expected error for non-JSON input")
	}
}

func TestHookOutputFormat(t *testing.T) {
	out := hookOutput{
		HookSpecificOutput: hookSpecificOutput{
			HookEventName:            "PreToolUse",
			PermissionDecision:       "deny",
			PermissionDecisionReason: "blocked: rm -rf / matched builtin:irrecoverable-delete",
		},
	}

	data, err := json.Marshal(out)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	s := string(data)
	if !strings.Contains(s, `"hookEventName":"PreToolUse"`) {
		t.Errorf("missing hookEventName: %s", s)
	}
	if !strings.Contains(s, `"permissionDecision":"deny"`) {
		t.Errorf("missing permissionDecision: %s", s)
	}
	if !strings.Contains(s, `"permissionDecisionReason"`) {
		t.Errorf("missing permissionDecisionReason: %s", s)
	}
}

func TestPermissionFor(t *testing.T) {
	tests := []struct {
		outcome model.Outcome
		want    string
	}{
		{model.OutcomeAllow, "allow"},
		{model.OutcomeAsk, "ask"},
		{model.OutcomeBlock, "deny"},
		{model.Outcome("garbled"), "deny"},
	}

	for _, tt := range tests {
		if got := permissionFor(tt.outcome); got != tt.want {
			t.Errorf("permissionFor(%q) = %q, want %q", tt.outcome, got, tt.want)
		}
	}
}

func TestDecodeDecision(t *testing.T) {
	dec := model.Ask(model.TierSimulate, "curl reaches the network")
	data, err := json.Marshal(dec)
	if err != nil {
		t.Fatalf("marshal decision: %v", err)
	}

	got, ok := decodeDecision(&uds.Response{Success: true, Data: data})
	if !ok {
		t.Fatal("expected decodable response")
	}
	if got.Outcome != model.OutcomeAsk || got.Tier != model.TierSimulate {
		t.Errorf("decoded %+v, want %+v", got, dec)
	}
}

func TestDecodeDecision_DaemonRefusal(t *testing.T) {
	resp := &uds.Response{
		Success: false,
		Error:   &uds.ErrorDetail{Code: uds.ErrCodeValidation, Message: "command is required"},
	}

	got, ok := decodeDecision(resp)
	if !ok {
		t.Fatal("refusals must still produce a decision")
	}
	if got.Outcome != model.OutcomeBlock {
		t.Errorf("outcome = %q, want block", got.Outcome)
	}
	if got.Reason != "command is required" {
		t.Errorf("reason = %q, want the daemon's message", got.Reason)
	}
}

func TestDecodeDecision_Undecodable(t *testing.T) {
	if _, ok := decodeDecision(&uds.Response{Success: true, Data: []byte(`"nonsense"`)}); ok {
		t.Fatal("expected decode failure for a non-decision payload")
	}
}
