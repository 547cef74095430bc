// Package lifecycle owns the registry of per-project engines: starting them
// on first use, stopping them after a period of inactivity, and making sure
// only one process serves a project at a time.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/rcliao/memory-mcp/internal/engine"
	"github.com/rcliao/memory-mcp/internal/memerr"
	"github.com/rcliao/memory-mcp/internal/metrics"
)

// State is the lifecycle state of one project instance.
type State int

const (
	Unstarted State = iota
	Starting
	Running
	IdlePending
	Stopped
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Running:
		return "running"
	case IdlePending:
		return "idle_pending"
	case Stopped:
		return "stopped"
	default:
		return "unstarted"
	}
}

var ErrShutdown = errors.New("lifecycle: manager is shut down")

// Factory opens the engine for an absolute project root.
type Factory func(ctx context.Context, root string) (*engine.Engine, error)

// Options configures a Manager.
type Options struct {
	IdleTimeout      time.Duration
	ShutdownGrace    time.Duration
	OperationTimeout time.Duration
	// StateDir holds per-project lock files. Empty disables locking.
	StateDir string
}

// Info describes one tracked instance.
type Info struct {
	Root   string    `json:"root"`
	State  string    `json:"state"`
	Active int       `json:"active"`
	Since  time.Time `json:"since"`
}

type instance struct {
	root  string
	state State
	since time.Time
	ready chan struct{}
	err   error
	eng   *engine.Engine
	lock  *Lock

	active int
	gen    uint64
	timer  *time.Timer

	// shutdownDone is closed once an instance detached while Starting has
	// been released.
	shutdownDone chan struct{}
}

// Manager is the registry of project instances, keyed by absolute root.
type Manager struct {
	factory Factory
	opts    Options
	metrics *metrics.Manager
	log     *slog.Logger

	mu        sync.Mutex
	instances map[string]*instance
	stopping  map[string]chan struct{}
	closed    bool
}

// NewManager creates a Manager.
func NewManager(factory Factory, opts Options, m *metrics.Manager, log *slog.Logger) *Manager {
	if opts.IdleTimeout <= 0 {
		opts.IdleTimeout = 10 * time.Minute
	}
	if opts.OperationTimeout <= 0 {
		opts.OperationTimeout = 2 * time.Minute
	}
	if m == nil {
		m = metrics.NoOpManager()
	}
	if log == nil {
		log = slog.Default()
	}
	return &Manager{
		factory:   factory,
		opts:      opts,
		metrics:   m,
		log:       log.With("component", "lifecycle"),
		instances: map[string]*instance{},
		stopping:  map[string]chan struct{}{},
	}
}

// Canonical resolves root to the absolute, symlink-free key used by the
// registry and the lock file.
func Canonical(root string) (string, error) {
	if root == "" {
		root = "."
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", fmt.Errorf("resolve project root: %w", err)
	}
	if real, err := filepath.EvalSymlinks(abs); err == nil {
		abs = real
	}
	return filepath.Clean(abs), nil
}

// Do runs fn against the project's engine, starting it first if needed.
// fn gets a context bounded by the operation timeout; expiry is reported as
// memerr.ErrTimeout.
func (m *Manager) Do(ctx context.Context, root string, fn func(ctx context.Context, e *engine.Engine) error) error {
	root, err := Canonical(root)
	if err != nil {
		return err
	}
	inst, starter, err := m.enter(root)
	if err != nil {
		return err
	}
	defer m.leave(inst)

	if starter {
		m.start(inst)
	}
	select {
	case <-inst.ready:
	case <-ctx.Done():
		return ctx.Err()
	}
	if inst.err != nil {
		return inst.err
	}

	opCtx, cancel := context.WithTimeout(ctx, m.opts.OperationTimeout)
	defer cancel()
	err = fn(opCtx, inst.eng)
	switch {
	case err == nil:
	case errors.Is(err, memerr.ErrStoreUnavailable):
		m.log.Error("store unavailable, stopping project", "project", root, "err", err)
		m.stop(inst, "store_unavailable")
	case errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil:
		err = fmt.Errorf("%w after %s: %w", memerr.ErrTimeout, m.opts.OperationTimeout, err)
	}
	return err
}

// enter registers a caller with the instance for root, creating it if
// untracked. starter reports whether this caller must start it.
func (m *Manager) enter(root string) (*instance, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, false, ErrShutdown
	}
	inst, ok := m.instances[root]
	if !ok {
		inst = &instance{root: root, ready: make(chan struct{})}
		m.instances[root] = inst
		m.setState(inst, Starting)
	}
	inst.active++
	inst.gen++
	if inst.timer != nil {
		inst.timer.Stop()
		inst.timer = nil
	}
	if inst.state == IdlePending {
		m.setState(inst, Running)
	}
	return inst, !ok, nil
}

func (m *Manager) leave(inst *instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	inst.active--
	if inst.active == 0 && inst.state == Running {
		m.armLocked(inst, m.opts.IdleTimeout, m.idle)
	}
}

func (m *Manager) armLocked(inst *instance, d time.Duration, fire func(*instance, uint64)) {
	inst.gen++
	gen := inst.gen
	inst.timer = time.AfterFunc(d, func() { fire(inst, gen) })
}

func (m *Manager) idle(inst *instance, gen uint64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst.gen != gen || inst.active > 0 || inst.state != Running {
		return
	}
	m.setState(inst, IdlePending)
	m.armLocked(inst, m.opts.ShutdownGrace, m.expire)
}

func (m *Manager) expire(inst *instance, gen uint64) {
	m.mu.Lock()
	if inst.gen != gen || inst.active > 0 || inst.state != IdlePending {
		m.mu.Unlock()
		return
	}
	done := m.detachLocked(inst)
	m.mu.Unlock()

	m.log.Info("project idle, stopping", "project", inst.root)
	m.release(inst, done)
}

// start opens the engine outside the registry lock. Callers arriving in the
// meantime wait on inst.ready.
func (m *Manager) start(inst *instance) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.OperationTimeout)
	defer cancel()

	m.mu.Lock()
	prev := m.stopping[inst.root]
	m.mu.Unlock()
	if prev != nil {
		select {
		case <-prev:
		case <-ctx.Done():
		}
	}

	err := m.open(ctx, inst)

	m.mu.Lock()
	defer m.mu.Unlock()
	if err != nil {
		inst.err = err
		if m.instances[inst.root] == inst {
			delete(m.instances, inst.root)
		}
		m.setState(inst, Stopped)
		m.log.Error("project start failed", "project", inst.root, "err", err)
		close(inst.ready)
		if inst.shutdownDone != nil {
			close(inst.shutdownDone)
		}
		return
	}
	if inst.state != Starting {
		// Shut down while starting.
		inst.err = ErrShutdown
		close(inst.ready)
		go m.release(inst, inst.shutdownDone)
		return
	}
	m.setState(inst, Running)
	m.metrics.ProjectStarted()
	close(inst.ready)
}

func (m *Manager) open(ctx context.Context, inst *instance) error {
	if m.opts.StateDir != "" {
		lock, err := AcquireLock(m.opts.StateDir, inst.root)
		if err != nil {
			return err
		}
		inst.lock = lock
	}
	eng, err := m.factory(ctx, inst.root)
	if err != nil {
		if rerr := inst.lock.Release(); rerr != nil {
			m.log.Warn("release lock", "project", inst.root, "err", rerr)
		}
		inst.lock = nil
		return err
	}
	inst.eng = eng
	return nil
}

// stop removes inst from the registry immediately and releases it in the
// background once in-flight operations drain.
func (m *Manager) stop(inst *instance, reason string) {
	m.mu.Lock()
	if inst.state == Stopped || m.instances[inst.root] != inst {
		m.mu.Unlock()
		return
	}
	done := m.detachLocked(inst)
	m.mu.Unlock()

	m.log.Warn("project stopped", "project", inst.root, "reason", reason)
	go m.release(inst, done)
}

// detachLocked marks inst Stopped and removes it from the registry. The
// returned channel is closed once its resources are released.
func (m *Manager) detachLocked(inst *instance) chan struct{} {
	wasRunning := inst.state == Running || inst.state == IdlePending
	inst.gen++
	if inst.timer != nil {
		inst.timer.Stop()
		inst.timer = nil
	}
	m.setState(inst, Stopped)
	if wasRunning {
		m.metrics.ProjectStopped()
	}
	delete(m.instances, inst.root)
	done := make(chan struct{})
	m.stopping[inst.root] = done
	return done
}

func (m *Manager) release(inst *instance, done chan struct{}) {
	ctx, cancel := context.WithTimeout(context.Background(), m.opts.OperationTimeout)
	defer cancel()

	if inst.eng != nil {
		if err := inst.eng.Close(ctx); err != nil {
			m.log.Warn("close engine", "project", inst.root, "err", err)
		}
	}
	if err := inst.lock.Release(); err != nil {
		m.log.Warn("release lock", "project", inst.root, "err", err)
	}
	if done != nil {
		m.mu.Lock()
		if m.stopping[inst.root] == done {
			delete(m.stopping, inst.root)
		}
		m.mu.Unlock()
		close(done)
	}
}

func (m *Manager) setState(inst *instance, s State) {
	inst.state = s
	inst.since = time.Now()
	m.metrics.RecordTransition(s.String())
	m.log.Debug("project state", "project", inst.root, "state", s.String())
}

// State reports the state of root. Untracked roots are Unstarted.
func (m *Manager) State(root string) State {
	root, err := Canonical(root)
	if err != nil {
		return Unstarted
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if inst, ok := m.instances[root]; ok {
		return inst.state
	}
	return Unstarted
}

// Instances lists tracked instances ordered by root.
func (m *Manager) Instances() []Info {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Info, 0, len(m.instances))
	for _, inst := range m.instances {
		out = append(out, Info{Root: inst.root, State: inst.state.String(), Active: inst.active, Since: inst.since})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Root < out[j].Root })
	return out
}

// Shutdown stops every instance and refuses further calls.
func (m *Manager) Shutdown(ctx context.Context) error {
	m.mu.Lock()
	m.closed = true
	var dones []chan struct{}
	for _, ch := range m.stopping {
		dones = append(dones, ch)
	}
	var running []*instance
	var runningDone []chan struct{}
	for _, inst := range m.instances {
		if inst.state == Starting {
			// start() releases it once the open returns.
			inst.gen++
			inst.shutdownDone = make(chan struct{})
			m.setState(inst, Stopped)
			delete(m.instances, inst.root)
			dones = append(dones, inst.shutdownDone)
			continue
		}
		done := m.detachLocked(inst)
		running = append(running, inst)
		runningDone = append(runningDone, done)
		dones = append(dones, done)
	}
	m.mu.Unlock()

	for i, inst := range running {
		go m.release(inst, runningDone[i])
	}
	for _, ch := range dones {
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	m.log.Info("all projects stopped")
	return nil
}
