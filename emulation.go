package fabricemu

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/aousterh/fabricemu/internal/logging"
)

// Emulation is a running (or stopped) instance of a topology: the fixed
// set of cores, drivers, and shared rings BuildTopology allocated, plus the
// goroutine supervision and lifecycle state that turns "an allocated
// topology" into "an emulation serving timeslots". Modeled on the teacher's
// Device/CreateAndServe/StopAndDelete split — here, the three-way split
// becomes NewEmulation (build, don't run) and Start/Stop (run, then
// reclaim).
type Emulation struct {
	RunID uuid.UUID

	topology *Topology
	logger   *logging.Logger

	mu        sync.Mutex
	startedAt time.Time
	started   bool
	stopped   bool

	ctx    context.Context
	cancel context.CancelFunc
	group  *errgroup.Group
}

// NewEmulation builds every mempool, ring, group, router, and core the
// given config describes, but does not start any of them — symmetric with
// the teacher's pattern of separating device construction from
// CreateAndServe's control-plane handshake, except here there is no
// control plane: construction and scheduling are the same process.
func NewEmulation(cfg TopologyConfig) (*Emulation, error) {
	topo, err := BuildTopology(cfg)
	if err != nil {
		return nil, WrapError("NewEmulation", err)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logging.Default()
	}
	return &Emulation{
		RunID:    uuid.New(),
		topology: topo,
		logger:   logger,
	}, nil
}

// Topology returns the underlying Topology this emulation wraps, for
// callers (test harnesses, the demand-injecting CLI) that need direct
// access to its rings and mempools.
func (e *Emulation) Topology() *Topology {
	return e.topology
}

// EmulationState mirrors the teacher's DeviceState: a small, closed set of
// states an emulation can be observed in.
type EmulationState string

const (
	EmulationStateCreated EmulationState = "created"
	EmulationStateRunning EmulationState = "running"
	EmulationStateStopped EmulationState = "stopped"
)

// State returns the current lifecycle state of the emulation.
func (e *Emulation) State() EmulationState {
	if e == nil {
		return EmulationStateStopped
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	switch {
	case !e.started:
		return EmulationStateCreated
	case e.stopped:
		return EmulationStateStopped
	default:
		return EmulationStateRunning
	}
}

// IsRunning reports whether the emulation is currently stepping timeslots.
func (e *Emulation) IsRunning() bool {
	return e.State() == EmulationStateRunning
}

// EmulationInfo summarizes a running or stopped emulation for status
// reporting, mirroring the teacher's DeviceInfo.
type EmulationInfo struct {
	RunID      string         `json:"run_id"`
	State      EmulationState `json:"state"`
	Racks      int            `json:"racks"`
	NumCores   int            `json:"num_cores"`
	CoreRouter bool           `json:"core_router"`
	Discipline string         `json:"discipline"`
}

// Info returns a point-in-time summary of the emulation's shape and state.
func (e *Emulation) Info() EmulationInfo {
	if e == nil {
		return EmulationInfo{}
	}
	return EmulationInfo{
		RunID:      e.RunID.String(),
		State:      e.State(),
		Racks:      e.topology.cfg.Racks,
		NumCores:   len(e.topology.Cores),
		CoreRouter: e.topology.cfg.CoreRouter,
		Discipline: e.topology.cfg.Discipline.String(),
	}
}

// Start launches one goroutine per core, each free-running its drivers
// until ctx is cancelled or Stop is called. Start returns once every core
// goroutine has been launched; it does not block on their completion — use
// Stop, or cancel ctx and call Wait, to join them.
func (e *Emulation) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.started {
		return NewError("Emulation.Start", CodeConfigError, "emulation already started")
	}
	if ctx == nil {
		ctx = context.Background()
	}

	runCtx, cancel := context.WithCancel(ctx)
	group, runCtx := errgroup.WithContext(runCtx)

	e.ctx = runCtx
	e.cancel = cancel
	e.group = group
	e.startedAt = time.Now()
	e.started = true

	for _, c := range e.topology.Cores {
		c := c
		group.Go(func() error {
			if err := c.Run(runCtx); err != nil {
				return fmt.Errorf("%s: %w", c.String(), err)
			}
			return nil
		})
	}

	e.logger.Info("emulation started", "run_id", e.RunID.String(), "cores", len(e.topology.Cores))
	return nil
}

// Stop cancels every core's context and waits for them all to drain their
// owned rings back to the packet pool (each core's own cleanup, run as
// part of Run returning). While it waits, Stop keeps draining the shared
// admitted-batch ring, so a core spinning in Output.Flush on a full
// q_admitted_out reaches its next timeslot boundary and sees the
// cancellation. Once every core has stopped, Stop makes one last pass over
// that ring — draining whatever batches are still in flight on
// q_admitted_out and returning them to the batch pool, per SPEC_FULL.md §6's
// shutdown order. Safe to call more than once; subsequent calls are no-ops.
func (e *Emulation) Stop() error {
	e.mu.Lock()
	if !e.started || e.stopped {
		e.mu.Unlock()
		return nil
	}
	e.stopped = true
	cancel := e.cancel
	group := e.group
	e.mu.Unlock()

	cancel()
	waitErr := make(chan error, 1)
	go func() { waitErr <- group.Wait() }()
	var err error
	for waiting := true; waiting; {
		select {
		case err = <-waitErr:
			waiting = false
		default:
			e.drainAdmittedOut()
			runtime.Gosched()
		}
	}

	e.drainAdmittedOut()

	e.logger.Info("emulation stopped", "run_id", e.RunID.String())
	if err != nil {
		return WrapError("Emulation.Stop", err)
	}
	return nil
}

// drainAdmittedOut reclaims every batch handle currently sitting on the
// shared outbound ring. Only Stop calls it, rather than each core's own
// cleanup: several cores can enqueue onto the same q_admitted_out, so only
// one goroutine may drain it without racing another core's own reclaim pass.
func (e *Emulation) drainAdmittedOut() {
	for {
		h, ok := e.topology.AdmittedOut.Dequeue()
		if !ok {
			return
		}
		e.topology.BatchPool.Put(h)
	}
}

// Stats returns the current aggregate statistics across every core.
func (e *Emulation) Stats() StatsSnapshot {
	e.mu.Lock()
	startedAt := e.startedAt
	e.mu.Unlock()
	if startedAt.IsZero() {
		startedAt = time.Now()
	}
	return NewStatsSnapshot(e.RunID.String(), startedAt, e.topology.Stats())
}

// Wait blocks until every core goroutine has returned, without initiating
// shutdown itself. Callers that want to stop the emulation should call
// Stop, which cancels and waits in one step; Wait is for observing an
// emulation that stops on its own (e.g. a finite run driven by a test
// harness's own context deadline).
func (e *Emulation) Wait() error {
	e.mu.Lock()
	group := e.group
	e.mu.Unlock()
	if group == nil {
		return nil
	}
	if err := group.Wait(); err != nil {
		return WrapError("Emulation.Wait", err)
	}
	return nil
}
