// Package audit appends one JSONL record per mediator decision. Records
// carry a digest of the judged input rather than the input itself, so
// the trail proves what was decided without retaining command text.
package audit

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/metraton/warden/internal/model"
)

const (
	// DefaultMaxLogSize bounds the live log file before rotation.
	DefaultMaxLogSize = 10 * 1024 * 1024

	logFileExtension = ".jsonl"
	archiveDirName   = "archive"
)

// Record is one audited decision.
type Record struct {
	Timestamp   time.Time     `json:"timestamp"`
	EventID     string        `json:"event_id"`
	Kind        string        `json:"kind"`
	InputDigest string        `json:"input_digest"`
	Decision    model.Outcome `json:"decision"`
	Tier        string        `json:"tier"`
	Reason      string        `json:"reason"`
	MatchedRule string        `json:"matched_rule,omitempty"`
	Persona     string        `json:"persona,omitempty"`
	EpisodeID   string        `json:"episode_id,omitempty"`
}

// Digest fingerprints raw input for the audit trail.
func Digest(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// Logger is an append-only JSONL writer with size-based rotation. A nil
// *Logger is valid and discards records, which is how disabled audit is
// wired.
type Logger struct {
	mu              sync.Mutex
	file            *os.File
	currentSize     int64
	maxSize         int64
	logPath         string
	rotationCounter int
}

// New opens (creating if needed) the audit log at path.
func New(logPath string, maxSize int64) (*Logger, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxLogSize
	}

	l := &Logger{
		logPath: logPath,
		maxSize: maxSize,
	}

	if err := os.MkdirAll(filepath.Dir(logPath), 0o755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	if err := l.openLogFile(); err != nil {
		return nil, err
	}
	return l, nil
}

func (l *Logger) openLogFile() error {
	file, err := os.OpenFile(l.logPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat log file: %w", err)
	}

	l.file = file
	l.currentSize = stat.Size()
	return nil
}

// RecordDecision appends the record, stamping the timestamp and event id
// when the caller left them empty.
func (l *Logger) RecordDecision(rec Record) error {
	if l == nil {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if rec.Timestamp.IsZero() {
		rec.Timestamp = time.Now().UTC()
	}
	if rec.EventID == "" {
		rec.EventID = uuid.New().String()
	}

	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal audit record: %w", err)
	}
	data = append(data, '\n')

	if l.currentSize+int64(len(data)) > l.maxSize {
		if err := l.rotate(); err != nil {
			return fmt.Errorf("rotate audit log: %w", err)
		}
	}

	n, err := l.file.Write(data)
	if err != nil {
		return fmt.Errorf("write audit record: %w", err)
	}
	// Sync per record: an audit line that vanished with the page cache
	// is worse than the write latency.
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("sync audit log: %w", err)
	}

	l.currentSize += int64(n)
	return nil
}

func (l *Logger) rotate() error {
	if err := l.file.Close(); err != nil {
		return fmt.Errorf("close current log file: %w", err)
	}

	archiveDir := filepath.Join(filepath.Dir(l.logPath), archiveDirName)
	if err := os.MkdirAll(archiveDir, 0o755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	timestamp := time.Now().Format("20060102_150405")
	l.rotationCounter++
	baseName := filepath.Base(l.logPath)
	archiveName := fmt.Sprintf("%s.%s.%d%s",
		baseName[:len(baseName)-len(logFileExtension)],
		timestamp,
		l.rotationCounter,
		logFileExtension)

	if err := os.Rename(l.logPath, filepath.Join(archiveDir, archiveName)); err != nil {
		return fmt.Errorf("archive log file: %w", err)
	}

	return l.openLogFile()
}

// Path returns the live log file location.
func (l *Logger) Path() string {
	if l == nil {
		return ""
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.logPath
}

// Size returns the current size of the live log file.
func (l *Logger) Size() int64 {
	if l == nil {
		return 0
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.currentSize
}

func (l *Logger) Close() error {
	if l == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file != nil {
		if err := l.file.Sync(); err != nil {
			return err
		}
		return l.file.Close()
	}
	return nil
}

// Tail reads up to n most recent records from the live log file.
func Tail(logPath string, n int) ([]Record, error) {
	file, err := os.Open(logPath)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	defer file.Close()

	var records []Record
	decoder := json.NewDecoder(file)
	for decoder.More() {
		var rec Record
		if err := decoder.Decode(&rec); err != nil {
			// A torn trailing line from a crashed writer is not fatal.
			break
		}
		records = append(records, rec)
	}
	if n > 0 && len(records) > n {
		records = records[len(records)-n:]
	}
	return records, nil
}
