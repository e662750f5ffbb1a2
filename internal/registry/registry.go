// Package registry tracks every subprocess the daemon has spawned (the
// VectorSync embedding worker first among them), enforces a global
// concurrency cap via a slot semaphore, and periodically reaps orphans:
// processes this daemon lost track of across a crash or an unclean restart.
//
// Generalized from a lane-based in-memory task queue into a PID-keyed
// registry; the slot semaphore keeps the same promise-based-wait shape
// (buffered channel, no polling) the lane queue used for concurrency limits.
package registry

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/procfs"
)

// Entry is one registered subprocess.
type Entry struct {
	PID       int
	SessionID int64
	StartedAt time.Time
}

// Registry tracks live subprocess PIDs keyed by session, enforces a
// concurrency cap with AcquireSlot, and reaps orphans left behind by a
// previous daemon instance or a runner that died without unregistering.
type Registry struct {
	mu      sync.Mutex
	entries map[int]*Entry

	slotMu sync.Mutex
	slots  int // current count against the cap; decremented by Unregister
	max    int
	waiter chan struct{} // closed and replaced each time a slot frees

	// binaryNames match command lines for the orphan command-name sweep
	// (e.g. the embedding worker's executable name).
	binaryNames []string

	logger *slog.Logger
}

// New constructs a Registry. binaryNames lists the process names (as they
// would appear in argv[0] or the command line) ReapOrphans treats as
// belonging to this daemon when found parented to init.
func New(binaryNames []string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		entries:     make(map[int]*Entry),
		waiter:      make(chan struct{}),
		binaryNames: binaryNames,
		logger:      logger,
	}
}

// AcquireSlot blocks until fewer than max subprocesses are registered, or
// returns an error once timeout elapses or ctx is cancelled. It is
// promise-based: callers park on a channel that is closed whenever a slot
// frees, rather than polling.
func (r *Registry) AcquireSlot(ctx context.Context, max int, timeout time.Duration) error {
	deadline := time.Now().Add(timeout)
	for {
		r.slotMu.Lock()
		r.max = max
		if r.slotCountLocked() < max {
			r.slotMu.Unlock()
			return nil
		}
		wait := r.waiter
		r.slotMu.Unlock()

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return fmt.Errorf("registry: timed out waiting for a free slot (max %d)", max)
		}

		timer := time.NewTimer(remaining)
		select {
		case <-wait:
			timer.Stop()
		case <-timer.C:
			return fmt.Errorf("registry: timed out waiting for a free slot (max %d)", max)
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
}

func (r *Registry) slotCountLocked() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// notifyFreeSlot wakes every AcquireSlot waiter; must be called without
// r.slotMu held.
func (r *Registry) notifyFreeSlot() {
	r.slotMu.Lock()
	old := r.waiter
	r.waiter = make(chan struct{})
	r.slotMu.Unlock()
	close(old)
}

// Register records a live subprocess PID under sessionID.
func (r *Registry) Register(pid int, sessionID int64) {
	r.mu.Lock()
	r.entries[pid] = &Entry{PID: pid, SessionID: sessionID, StartedAt: time.Now()}
	r.mu.Unlock()
	r.logger.Info("registry: subprocess registered", "pid", pid, "session_db_id", sessionID)
}

// Unregister removes pid from the registry, freeing a concurrency slot.
// Safe to call more than once or on an unknown pid.
func (r *Registry) Unregister(pid int) {
	r.mu.Lock()
	_, existed := r.entries[pid]
	delete(r.entries, pid)
	r.mu.Unlock()
	if existed {
		r.logger.Info("registry: subprocess unregistered", "pid", pid)
		r.notifyFreeSlot()
	}
}

// EnsureExit signals pid to terminate (SIGTERM, escalating to SIGKILL after
// grace) and unregisters it regardless of whether the process actually
// exited, so a dead-but-unresponsive child never pins a concurrency slot.
func (r *Registry) EnsureExit(pid int, grace time.Duration) error {
	defer r.Unregister(pid)

	if err := syscall.Kill(pid, syscall.SIGTERM); err != nil {
		if err == syscall.ESRCH {
			return nil // already gone
		}
		return err
	}

	deadline := time.Now().Add(grace)
	for time.Now().Before(deadline) {
		if err := syscall.Kill(pid, 0); err == syscall.ESRCH {
			return nil
		}
		time.Sleep(50 * time.Millisecond)
	}

	if err := syscall.Kill(pid, syscall.SIGKILL); err != nil && err != syscall.ESRCH {
		return err
	}
	return nil
}

// Snapshot returns every currently registered entry.
func (r *Registry) Snapshot() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, *e)
	}
	return out
}

const (
	idleChildAge    = 2 * time.Minute
	cpuSampleWindow = 200 * time.Millisecond
)

// ReapOrphans kills every registered PID whose session is not in
// activeSessionIDs, then sweeps the system process table for two further
// classes of leak: processes reparented to init whose command line matches
// a known binary name, and idle direct children of this daemon older than
// two minutes with ~0% CPU. It is meant to run on a periodic timer (5 min
// by default) and once at startup.
func (r *Registry) ReapOrphans(activeSessionIDs []int64) {
	active := make(map[int64]bool, len(activeSessionIDs))
	for _, id := range activeSessionIDs {
		active[id] = true
	}

	for _, e := range r.Snapshot() {
		if !active[e.SessionID] {
			r.logger.Warn("registry: reaping subprocess for ended session", "pid", e.PID, "session_db_id", e.SessionID)
			if err := r.EnsureExit(e.PID, 2*time.Second); err != nil {
				r.logger.Error("registry: failed to reap subprocess", "pid", e.PID, "error", err)
			}
		}
	}

	r.reapSystemOrphans()
	r.reapIdleChildren()
}

// reapSystemOrphans finds processes with ppid==1 whose command line
// matches one of the daemon's known binary names and kills them; these are
// leaked children of a previous daemon instance that outlived their parent.
func (r *Registry) reapSystemOrphans() {
	if len(r.binaryNames) == 0 {
		return
	}
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		r.logger.Error("registry: cannot open /proc", "error", err)
		return
	}
	procs, err := fs.AllProcs()
	if err != nil {
		r.logger.Error("registry: cannot list processes", "error", err)
		return
	}

	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil || stat.PPID != 1 {
			continue
		}
		cmdline, err := p.CmdLine()
		if err != nil || len(cmdline) == 0 {
			continue
		}
		joined := strings.Join(cmdline, " ")
		for _, name := range r.binaryNames {
			if strings.Contains(joined, name) {
				r.logger.Warn("registry: killing orphaned worker process", "pid", p.PID, "cmdline", joined)
				_ = syscall.Kill(p.PID, syscall.SIGKILL)
				break
			}
		}
	}
}

// reapIdleChildren kills direct children of this process older than
// idleChildAge whose CPU usage sampled over cpuSampleWindow is ~0%: a
// hung subprocess consuming no CPU is assumed wedged rather than working.
func (r *Registry) reapIdleChildren() {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return
	}
	self := int(syscall.Getpid())

	procs, err := fs.AllProcs()
	if err != nil {
		return
	}

	type sample struct {
		pid        int
		ticksStart uint
	}
	var candidates []sample
	for _, p := range procs {
		stat, err := p.Stat()
		if err != nil || stat.PPID != self {
			continue
		}
		age, err := processAge(stat)
		if err != nil || age < idleChildAge {
			continue
		}
		candidates = append(candidates, sample{pid: p.PID, ticksStart: stat.UTime + stat.STime})
	}
	if len(candidates) == 0 {
		return
	}

	time.Sleep(cpuSampleWindow)

	for _, c := range candidates {
		p, err := fs.Proc(c.pid)
		if err != nil {
			continue // exited between samples
		}
		stat, err := p.Stat()
		if err != nil {
			continue
		}
		if stat.UTime+stat.STime == c.ticksStart {
			r.logger.Warn("registry: killing idle child process", "pid", c.pid)
			_ = syscall.Kill(c.pid, syscall.SIGKILL)
		}
	}
}

func processAge(stat procfs.ProcStat) (time.Duration, error) {
	fs, err := procfs.NewDefaultFS()
	if err != nil {
		return 0, err
	}
	stat2, err := fs.Stat()
	if err != nil {
		return 0, err
	}
	bootTime := time.Unix(int64(stat2.BootTime), 0)
	startedAt := bootTime.Add(time.Duration(stat.Starttime) * time.Second / time.Duration(clockTicksPerSecond()))
	return time.Since(startedAt), nil
}

// clockTicksPerSecond is the kernel's USER_HZ, almost universally 100 on
// Linux; procfs does not expose sysconf(_SC_CLK_TCK) directly.
func clockTicksPerSecond() int64 { return 100 }
