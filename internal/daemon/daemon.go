// Package daemon runs warden as a long-lived mediator process: a UDS
// server answering evaluation requests, a watcher hot-reloading the rule
// table, and a sweeper expiring stale episodes.
package daemon

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/metraton/warden/internal/lock"
	"github.com/metraton/warden/internal/model"
	"github.com/metraton/warden/internal/uds"
)

type LogLevel int

const (
	LogLevelDebug LogLevel = iota
	LogLevelInfo
	LogLevelWarn
	LogLevelError
)

func parseLogLevel(s string) LogLevel {
	switch strings.ToLower(s) {
	case "debug":
		return LogLevelDebug
	case "info":
		return LogLevelInfo
	case "warn", "warning":
		return LogLevelWarn
	case "error":
		return LogLevelError
	default:
		return LogLevelInfo
	}
}

// Daemon is the warden daemon process.
type Daemon struct {
	wardenDir string
	config    *model.Config
	logLevel  LogLevel
	logger    *log.Logger
	logFile   io.Closer

	core *Core

	fileLock *lock.FileLock
	server   *uds.Server
	watcher  *fsnotify.Watcher
	sweeper  *time.Ticker

	ctx      context.Context
	cancel   context.CancelFunc
	wg       sync.WaitGroup
	shutdown sync.Once

	forceExit atomic.Bool
}

// New creates a Daemon writing its log to .warden/logs/daemon.log.
func New(wardenDir string, cfg *model.Config) (*Daemon, error) {
	logPath := filepath.Join(wardenDir, "logs", "daemon.log")
	if err := os.MkdirAll(filepath.Dir(logPath), 0755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}
	logFile, err := os.OpenFile(logPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open daemon log: %w", err)
	}

	return newDaemon(wardenDir, cfg, logFile, logFile)
}

// newDaemon is the internal constructor for testing.
func newDaemon(wardenDir string, cfg *model.Config, w io.Writer, closer io.Closer) (*Daemon, error) {
	core, err := NewCore(wardenDir, cfg)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, err
	}

	sweepInterval := cfg.Episodes.SweepIntervalSec
	if sweepInterval <= 0 {
		sweepInterval = 300
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Daemon{
		wardenDir: wardenDir,
		config:    cfg,
		logLevel:  parseLogLevel(cfg.Logging.Level),
		logger:    log.New(w, "", 0),
		logFile:   closer,
		core:      core,
		fileLock:  lock.NewFileLock(filepath.Join(wardenDir, "locks", "daemon.lock")),
		server:    uds.NewServer(filepath.Join(wardenDir, cfg.Daemon.SocketName)),
		sweeper:   time.NewTicker(time.Duration(sweepInterval) * time.Second),
		ctx:       ctx,
		cancel:    cancel,
	}

	return d, nil
}

// Run starts the daemon and blocks until shutdown completes.
func (d *Daemon) Run() error {
	// Step 1: Acquire file lock
	if err := d.fileLock.TryLock(); err != nil {
		return fmt.Errorf("daemon lock: %w", err)
	}
	d.log(LogLevelInfo, "daemon starting pid=%d", os.Getpid())

	// Step 2: Watch the rule table's directory. The file itself is often
	// replaced by rename on save, so watching the parent survives that.
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.fileLock.Unlock()
		return fmt.Errorf("create fsnotify watcher: %w", err)
	}
	d.watcher = watcher
	if err := watcher.Add(filepath.Dir(d.core.Loader.Path())); err != nil {
		d.cleanup()
		return fmt.Errorf("watch rule table dir: %w", err)
	}

	// Step 3: Register UDS handlers
	d.registerHandlers()

	// Step 4: Start UDS server
	if err := d.server.Start(); err != nil {
		d.cleanup()
		return fmt.Errorf("start UDS server: %w", err)
	}
	d.log(LogLevelInfo, "UDS server listening on %s", filepath.Join(d.wardenDir, d.config.Daemon.SocketName))

	// Step 5: Start background loops
	d.wg.Add(2)
	go d.watchLoop()
	go d.sweepLoop()

	// Step 6: Initial sweep
	d.sweepOnce()
	d.log(LogLevelInfo, "daemon ready rules=%d checksum=%s",
		d.core.Classifier.RuleCount(), shortChecksum(d.core.Classifier.Checksum()))

	// Step 7: Wait for signals
	d.waitSignals()

	return nil
}

// watchLoop debounces rule-table change events into reloads. A reload
// failure keeps the serving table untouched.
func (d *Daemon) watchLoop() {
	defer d.wg.Done()

	debounce := time.Duration(d.config.Daemon.ReloadDebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}

	var timer *time.Timer
	var pending <-chan time.Time

	rulesPath := filepath.Clean(d.core.Loader.Path())

	for {
		select {
		case <-d.ctx.Done():
			return
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != rulesPath {
				continue
			}
			if event.Has(fsnotify.Write) || event.Has(fsnotify.Create) || event.Has(fsnotify.Rename) {
				d.log(LogLevelDebug, "fsnotify event=%s file=%s", event.Op, event.Name)
				if timer == nil {
					timer = time.NewTimer(debounce)
					pending = timer.C
				} else {
					if !timer.Stop() {
						select {
						case <-timer.C:
						default:
						}
					}
					timer.Reset(debounce)
				}
			}
		case <-pending:
			timer = nil
			pending = nil
			d.reloadRules()
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			d.log(LogLevelError, "fsnotify error=%v", err)
		}
	}
}

func (d *Daemon) reloadRules() {
	table, changed, err := d.core.Loader.Reload()
	if err != nil {
		d.log(LogLevelWarn, "rule reload failed, keeping current table: %v", err)
		return
	}
	if !changed {
		d.log(LogLevelDebug, "rule table unchanged, reload skipped")
		return
	}
	d.core.Classifier.SetTable(table)
	d.log(LogLevelInfo, "rule table reloaded rules=%d checksum=%s",
		table.RuleCount(), shortChecksum(table.Checksum()))
}

// sweepLoop expires episodes past retention at the configured interval.
func (d *Daemon) sweepLoop() {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case <-d.sweeper.C:
			d.sweepOnce()
		}
	}
}

func (d *Daemon) sweepOnce() {
	purged, err := d.core.Engine.SweepExpired()
	if err != nil {
		d.log(LogLevelError, "episode sweep error=%v", err)
		return
	}
	if purged > 0 {
		d.log(LogLevelInfo, "episode sweep purged=%d", purged)
	} else {
		d.log(LogLevelDebug, "episode sweep purged=0")
	}
}

// waitSignals blocks until a shutdown signal is received.
func (d *Daemon) waitSignals() {
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	sig := <-sigCh
	d.log(LogLevelInfo, "received signal=%s, initiating graceful shutdown", sig)

	// Second signal → force exit
	go func() {
		<-sigCh
		d.log(LogLevelWarn, "received second signal, forcing exit")
		d.forceExit.Store(true)
		os.Exit(1)
	}()

	d.Shutdown()
}

// Shutdown performs graceful shutdown (idempotent via sync.Once).
func (d *Daemon) Shutdown() {
	d.shutdown.Do(func() {
		d.log(LogLevelInfo, "shutdown started")

		// 1. Cancel context (stops background loops)
		d.cancel()

		// 2. Stop producers
		d.sweeper.Stop()
		if d.watcher != nil {
			d.watcher.Close()
		}
		if d.server != nil {
			d.server.Stop()
		}

		// 3. Drain in-flight with timeout
		timeout := d.config.Daemon.ShutdownTimeoutSec
		if timeout <= 0 {
			timeout = 10
		}

		done := make(chan struct{})
		go func() {
			d.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			d.log(LogLevelInfo, "all goroutines drained")
		case <-time.After(time.Duration(timeout) * time.Second):
			d.log(LogLevelWarn, "shutdown timeout after %ds, some operations may be incomplete", timeout)
		}

		// 4. Cleanup
		d.cleanup()
		d.log(LogLevelInfo, "daemon stopped")
	})
}

// cleanup releases resources. Closing the watcher twice is safe, so the
// startup error paths and Shutdown can share this.
func (d *Daemon) cleanup() {
	if d.watcher != nil {
		d.watcher.Close()
	}
	os.Remove(filepath.Join(d.wardenDir, d.config.Daemon.SocketName))
	d.fileLock.Unlock()
	if err := d.core.Close(); err != nil {
		d.log(LogLevelError, "close core error=%v", err)
	}
	if d.logFile != nil {
		d.logFile.Close()
	}
}

func shortChecksum(sum string) string {
	if len(sum) > 12 {
		return sum[:12]
	}
	return sum
}

func (d *Daemon) log(level LogLevel, format string, args ...any) {
	if level < d.logLevel {
		return
	}
	levelStr := "INFO"
	switch level {
	case LogLevelDebug:
		levelStr = "DEBUG"
	case LogLevelWarn:
		levelStr = "WARN"
	case LogLevelError:
		levelStr = "ERROR"
	}
	msg := fmt.Sprintf(format, args...)
	d.logger.Printf("%s %s daemon: %s", time.Now().Format(time.RFC3339), levelStr, msg)
}
