package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/metraton/warden/internal/model"
)

func newTestLogger(t *testing.T, maxSize int64) (*Logger, string) {
	t.Helper()
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "decisions.jsonl")

	logger, err := New(logPath, maxSize)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	t.Cleanup(func() { logger.Close() })
	return logger, logPath
}

func TestNew(t *testing.T) {
	_, logPath := newTestLogger(t, DefaultMaxLogSize)

	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		t.Error("Log file was not created")
	}
}

func TestLogger_RecordDecision(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	rec := Record{
		Kind:        "bash",
		InputDigest: Digest("git push --force"),
		Decision:    model.OutcomeBlock,
		Tier:        "realize",
		Reason:      "forced push rewrites shared history",
		MatchedRule: "builtin:git-push-force",
	}

	if err := logger.RecordDecision(rec); err != nil {
		t.Fatalf("Failed to record decision: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var read Record
	if err := json.Unmarshal(data[:len(data)-1], &read); err != nil {
		t.Fatalf("Failed to unmarshal record: %v", err)
	}

	if read.Kind != "bash" {
		t.Errorf("Kind mismatch: got %s, want %s", read.Kind, "bash")
	}
	if read.Decision != model.OutcomeBlock {
		t.Errorf("Decision mismatch: got %s, want %s", read.Decision, model.OutcomeBlock)
	}
	if read.InputDigest != rec.InputDigest {
		t.Errorf("InputDigest mismatch: got %s, want %s", read.InputDigest, rec.InputDigest)
	}
	if read.MatchedRule != "builtin:git-push-force" {
		t.Errorf("MatchedRule mismatch: got %s, want %s", read.MatchedRule, "builtin:git-push-force")
	}
	if read.EventID == "" {
		t.Error("EventID was not stamped")
	}
	if read.Timestamp.IsZero() {
		t.Error("Timestamp was not stamped")
	}
}

func TestLogger_KeepsCallerEventID(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	rec := Record{
		EventID:     "evt-fixed",
		Timestamp:   time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Kind:        "delegation",
		InputDigest: Digest("deploy the release"),
		Decision:    model.OutcomeAllow,
		Tier:        "realize",
		Reason:      "planning only",
		Persona:     "builder",
	}

	if err := logger.RecordDecision(rec); err != nil {
		t.Fatalf("Failed to record decision: %v", err)
	}

	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("Failed to read log file: %v", err)
	}

	var read Record
	if err := json.Unmarshal(data[:len(data)-1], &read); err != nil {
		t.Fatalf("Failed to unmarshal record: %v", err)
	}

	if read.EventID != "evt-fixed" {
		t.Errorf("EventID was overwritten: got %s, want %s", read.EventID, "evt-fixed")
	}
	if !read.Timestamp.Equal(rec.Timestamp) {
		t.Errorf("Timestamp was overwritten: got %v, want %v", read.Timestamp, rec.Timestamp)
	}
	if read.Persona != "builder" {
		t.Errorf("Persona mismatch: got %s, want %s", read.Persona, "builder")
	}
}

func TestDigest(t *testing.T) {
	a := Digest("ls -la")
	b := Digest("ls -la")
	c := Digest("ls -l")

	if a != b {
		t.Errorf("Digest is not deterministic: %s != %s", a, b)
	}
	if a == c {
		t.Error("Distinct inputs produced the same digest")
	}
	if len(a) != 64 {
		t.Errorf("Digest length mismatch: got %d, want 64", len(a))
	}
	if strings.ToLower(a) != a {
		t.Error("Digest is not lowercase hex")
	}
}

func TestLogger_ConcurrentWrites(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	numGoroutines := 50
	recordsPerGoroutine := 10
	var wg sync.WaitGroup

	for i := 0; i < numGoroutines; i++ {
		wg.Add(1)
		go func(id int) {
			defer wg.Done()
			for j := 0; j < recordsPerGoroutine; j++ {
				rec := Record{
					Kind:        "bash",
					InputDigest: Digest(fmt.Sprintf("cmd_%d_%d", id, j)),
					Decision:    model.OutcomeAllow,
					Tier:        "read",
					Reason:      "all segments within tier read",
				}
				if err := logger.RecordDecision(rec); err != nil {
					t.Errorf("Failed to record decision: %v", err)
				}
			}
		}(i)
	}

	wg.Wait()

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	count := 0
	seen := make(map[string]bool)
	for decoder.More() {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			t.Errorf("Failed to decode record: %v", err)
			continue
		}
		if seen[rec.EventID] {
			t.Errorf("Duplicate event id: %s", rec.EventID)
		}
		seen[rec.EventID] = true
		count++
	}

	expected := numGoroutines * recordsPerGoroutine
	if count != expected {
		t.Errorf("Record count mismatch: got %d, want %d", count, expected)
	}
}

func TestLogger_Rotation(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "decisions.jsonl")

	maxSize := int64(1024)
	logger, err := New(logPath, maxSize)
	if err != nil {
		t.Fatalf("Failed to create audit logger: %v", err)
	}
	defer logger.Close()

	longReason := strings.Repeat("segment exceeded its tier; ", 8)
	rotated := false
	for i := 0; i < 100; i++ {
		rec := Record{
			Kind:        "bash",
			InputDigest: Digest(fmt.Sprintf("input_%d", i)),
			Decision:    model.OutcomeAsk,
			Tier:        "simulate",
			Reason:      longReason,
		}
		if err := logger.RecordDecision(rec); err != nil {
			t.Fatalf("Failed to record decision: %v", err)
		}

		archiveDir := filepath.Join(tempDir, archiveDirName)
		if files, err := os.ReadDir(archiveDir); err == nil && len(files) > 0 {
			rotated = true
			break
		}
	}

	if !rotated {
		t.Error("Rotation did not occur despite exceeding max size")
	}
	if _, err := os.Stat(logPath); err != nil {
		t.Error("Live log file does not exist after rotation")
	}
	if logger.Size() >= maxSize {
		t.Errorf("Live log did not shrink after rotation: %d bytes", logger.Size())
	}
}

func TestLogger_FileRecovery(t *testing.T) {
	tempDir := t.TempDir()
	logPath := filepath.Join(tempDir, "decisions.jsonl")

	logger1, err := New(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("Failed to create first logger: %v", err)
	}
	for i := 0; i < 5; i++ {
		rec := Record{
			Kind:        "bash",
			InputDigest: Digest(fmt.Sprintf("first_%d", i)),
			Decision:    model.OutcomeAllow,
			Tier:        "read",
			Reason:      "ok",
		}
		if err := logger1.RecordDecision(rec); err != nil {
			t.Fatalf("Failed to record decision: %v", err)
		}
	}
	logger1.Close()

	logger2, err := New(logPath, DefaultMaxLogSize)
	if err != nil {
		t.Fatalf("Failed to create second logger: %v", err)
	}
	defer logger2.Close()

	for i := 5; i < 10; i++ {
		rec := Record{
			Kind:        "bash",
			InputDigest: Digest(fmt.Sprintf("second_%d", i)),
			Decision:    model.OutcomeAllow,
			Tier:        "read",
			Reason:      "ok",
		}
		if err := logger2.RecordDecision(rec); err != nil {
			t.Fatalf("Failed to record decision: %v", err)
		}
	}

	file, err := os.Open(logPath)
	if err != nil {
		t.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	decoder := json.NewDecoder(file)
	count := 0
	for decoder.More() {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			t.Errorf("Failed to decode record: %v", err)
			continue
		}
		count++
	}

	if count != 10 {
		t.Errorf("Record count mismatch: got %d, want %d", count, 10)
	}
}

func TestNilLoggerDiscards(t *testing.T) {
	var logger *Logger

	rec := Record{
		Kind:        "bash",
		InputDigest: Digest("ls"),
		Decision:    model.OutcomeAllow,
		Tier:        "read",
		Reason:      "ok",
	}
	if err := logger.RecordDecision(rec); err != nil {
		t.Errorf("Nil logger returned error: %v", err)
	}
	if err := logger.Close(); err != nil {
		t.Errorf("Nil logger close returned error: %v", err)
	}
	if logger.Size() != 0 {
		t.Error("Nil logger reported non-zero size")
	}
	if logger.Path() != "" {
		t.Error("Nil logger reported a path")
	}
}

func TestTail(t *testing.T) {
	logger, logPath := newTestLogger(t, DefaultMaxLogSize)

	for i := 0; i < 5; i++ {
		rec := Record{
			Kind:        "bash",
			InputDigest: Digest(fmt.Sprintf("input_%d", i)),
			Decision:    model.OutcomeAllow,
			Tier:        "read",
			Reason:      fmt.Sprintf("reason_%d", i),
		}
		if err := logger.RecordDecision(rec); err != nil {
			t.Fatalf("Failed to record decision: %v", err)
		}
	}

	records, err := Tail(logPath, 3)
	if err != nil {
		t.Fatalf("Failed to tail log: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("Tail length mismatch: got %d, want 3", len(records))
	}
	if records[0].Reason != "reason_2" {
		t.Errorf("Tail window mismatch: got %s, want %s", records[0].Reason, "reason_2")
	}
	if records[2].Reason != "reason_4" {
		t.Errorf("Tail window mismatch: got %s, want %s", records[2].Reason, "reason_4")
	}

	all, err := Tail(logPath, 0)
	if err != nil {
		t.Fatalf("Failed to tail log: %v", err)
	}
	if len(all) != 5 {
		t.Errorf("Unbounded tail mismatch: got %d, want 5", len(all))
	}
}
