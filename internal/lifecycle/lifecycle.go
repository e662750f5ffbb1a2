// Package lifecycle implements LifecycleSupervisor: the daemon's startup
// sequence (resolve data directory, detect and hand off from a running
// sibling instance, open resources, bind, write the PID file only once
// listening) and its signal-driven graceful shutdown.
package lifecycle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/procfs"

	"github.com/clmem/memoryd/internal/health"
)

// PIDFile is the JSON document written to $DATA_DIR/worker.pid after the
// HTTP listener succeeds.
type PIDFile struct {
	PID       int       `json:"pid"`
	Port      int       `json:"port"`
	StartedAt time.Time `json:"startedAt"`
}

// Options configures a Supervisor.
type Options struct {
	// Disabled, when true, makes Prepare return early so main can exit 0
	// without touching the data directory or any sibling instance.
	Disabled bool

	// DataDirOverride takes precedence over every other resolution rule.
	DataDirOverride string

	Host string
	Port int

	// ChildOrphanPatterns and DaemonOrphanPatterns are command-line
	// substrings killed during the startup orphan sweep: children (e.g. the
	// embedding worker) with no age gate, main daemon instances with a
	// 30-minute gate so a sibling mid-restart is not killed out from under
	// itself.
	ChildOrphanPatterns  []string
	DaemonOrphanPatterns []string

	Logger *slog.Logger
}

// Supervisor drives the daemon's startup/shutdown sequence. It never opens
// the Store or HTTP server itself — Prepare returns
// once the data directory is ready and any sibling instance has been dealt
// with, and the caller opens the Store, starts the HTTP server, and then
// calls Finish once the listener is up.
type Supervisor struct {
	opts   Options
	logger *slog.Logger
}

// New constructs a Supervisor.
func New(opts Options) *Supervisor {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{opts: opts, logger: logger}
}

// PrepareResult is the outcome of steps 1-5.
type PrepareResult struct {
	// Skip is true when the process should exit 0 without starting
	// anything further: either the plugin is disabled, or a sibling
	// instance at a matching version is already running.
	Skip bool

	DataDir string
	PIDPath string
}

// Prepare runs steps 1-5 of the startup sequence: the disabled check,
// directory resolution, the PID-file singleton/version-drift check, stale
// PID-file removal, and the aggressive orphan sweep. It does not open the
// Store or start the HTTP server; call Finish after those succeed.
func (s *Supervisor) Prepare(ctx context.Context) (*PrepareResult, error) {
	if s.opts.Disabled {
		s.logger.Info("lifecycle: plugin disabled in settings, exiting")
		return &PrepareResult{Skip: true}, nil
	}

	dataDir := ResolveDataDir(s.opts.DataDirOverride)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("lifecycle: create data dir %s: %w", dataDir, err)
	}
	pidPath := filepath.Join(dataDir, "worker.pid")

	existing, err := ReadPIDFile(pidPath)
	if err != nil && !os.IsNotExist(err) {
		s.logger.Warn("lifecycle: unreadable pid file, treating as stale", "path", pidPath, "error", err)
		existing = nil
	}

	if existing != nil {
		if processAlive(existing.PID) {
			match, err := health.CheckVersionMatch(ctx, s.opts.Host, existing.Port)
			if err != nil {
				return nil, fmt.Errorf("lifecycle: probe sibling instance: %w", err)
			}
			if match.Matches {
				s.logger.Info("lifecycle: a matching-version instance is already running, refusing to start",
					"pid", existing.PID, "port", existing.Port)
				return &PrepareResult{Skip: true}, nil
			}

			s.logger.Warn("lifecycle: version drift detected, shutting down sibling instance",
				"pid", existing.PID, "port", existing.Port,
				"plugin_version", match.PluginVersion, "worker_version", match.WorkerVersion)
			if err := requestShutdown(ctx, s.opts.Host, existing.Port); err != nil {
				s.logger.Warn("lifecycle: sibling shutdown request failed, proceeding anyway", "error", err)
			}
			if err := health.WaitForPortFree(ctx, s.opts.Host, existing.Port, 10*time.Second); err != nil {
				s.logger.Warn("lifecycle: sibling did not free its port in time", "error", err)
			}
			_ = os.Remove(pidPath)
		} else {
			s.logger.Info("lifecycle: removing stale pid file", "pid", existing.PID)
			_ = os.Remove(pidPath)
		}
	}

	s.sweepOrphans()

	return &PrepareResult{DataDir: dataDir, PIDPath: pidPath}, nil
}

// Finish writes the PID file only after the HTTP listener is confirmed
// bound, so a reader of the PID file never observes a daemon that claims
// to be listening but isn't.
func (s *Supervisor) Finish(pidPath string, port int) error {
	return WritePIDFile(pidPath, PIDFile{PID: os.Getpid(), Port: port, StartedAt: time.Now()})
}

// Cleanup removes the PID file; called once during graceful shutdown.
func (s *Supervisor) Cleanup(pidPath string) {
	if err := os.Remove(pidPath); err != nil && !os.IsNotExist(err) {
		s.logger.Warn("lifecycle: failed to remove pid file", "path", pidPath, "error", err)
	}
}

// ShutdownContext returns a context cancelled on SIGINT/SIGTERM.
func ShutdownContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

// sweepOrphans kills leaked child and daemon processes by command-line
// substring match: no age gate for child patterns, a 30-minute gate for
// main daemon patterns (so a sibling still mid-handoff above is not killed
// by its own successor).
func (s *Supervisor) sweepOrphans() {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		s.logger.Warn("lifecycle: cannot open /proc for orphan sweep", "error", err)
		return
	}
	procs, err := fs.AllProcs()
	if err != nil {
		s.logger.Warn("lifecycle: cannot list processes for orphan sweep", "error", err)
		return
	}
	self := os.Getpid()

	const daemonAgeGate = 30 * time.Minute
	for _, p := range procs {
		if p.PID == self {
			continue
		}
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		joined := strings.Join(cmdline, " ")

		if matchesAny(joined, s.opts.ChildOrphanPatterns) {
			s.logger.Warn("lifecycle: killing leaked child process", "pid", p.PID, "cmdline", joined)
			_ = syscall.Kill(p.PID, syscall.SIGKILL)
			continue
		}

		if matchesAny(joined, s.opts.DaemonOrphanPatterns) {
			stat, err := p.Stat()
			if err != nil {
				continue
			}
			age, err := processAge(fs, stat)
			if err == nil && age < daemonAgeGate {
				continue
			}
			s.logger.Warn("lifecycle: killing leaked daemon process", "pid", p.PID, "cmdline", joined, "age", age)
			_ = syscall.Kill(p.PID, syscall.SIGKILL)
		}
	}
}

func matchesAny(cmdline string, patterns []string) bool {
	for _, p := range patterns {
		if p != "" && strings.Contains(cmdline, p) {
			return true
		}
	}
	return false
}

func processAge(fs procfs.FS, stat procfs.ProcStat) (time.Duration, error) {
	info, err := fs.Stat()
	if err != nil {
		return 0, err
	}
	bootTime := time.Unix(int64(info.BootTime), 0)
	startedAt := bootTime.Add(time.Duration(stat.Starttime) * time.Second / 100)
	return time.Since(startedAt), nil
}

// ResolveDataDir implements the env override -> script-relative -> XDG ->
// legacy path resolution chain.
func ResolveDataDir(override string) string {
	if override != "" {
		return override
	}
	if v := os.Getenv("CLAUDE_MEM_DATA_DIR"); v != "" {
		return v
	}
	if exe, err := os.Executable(); err == nil {
		scriptRelative := filepath.Join(filepath.Dir(exe), "..", "data")
		if info, err := os.Stat(scriptRelative); err == nil && info.IsDir() {
			return scriptRelative
		}
	}
	if xdg := os.Getenv("XDG_DATA_HOME"); xdg != "" {
		return filepath.Join(xdg, "claude-mem")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".claude-mem")
	}
	return filepath.Join(os.TempDir(), "claude-mem")
}

// WritePIDFile writes pf as JSON to path, truncating any previous content.
func WritePIDFile(path string, pf PIDFile) error {
	data, err := json.MarshalIndent(pf, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// ReadPIDFile reads and parses path; returns an *os.PathError satisfying
// os.IsNotExist when the file does not exist.
func ReadPIDFile(path string) (*PIDFile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var pf PIDFile
	if err := json.Unmarshal(data, &pf); err != nil {
		return nil, fmt.Errorf("lifecycle: parse pid file %s: %w", path, err)
	}
	if pf.PID <= 0 {
		return nil, fmt.Errorf("lifecycle: pid file %s has no valid pid", path)
	}
	return &pf, nil
}

func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}
	return syscall.Kill(pid, 0) == nil
}

// requestShutdown POSTs to a sibling instance's admin shutdown endpoint.
func requestShutdown(ctx context.Context, host string, port int) error {
	url := fmt.Sprintf("http://%s/api/admin/shutdown", net.JoinHostPort(host, fmt.Sprintf("%d", port)))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, nil)
	if err != nil {
		return err
	}
	client := &http.Client{Timeout: 2 * time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	return nil
}
