package fabricemu

import (
	"fmt"
	"strings"
	"time"

	"github.com/aousterh/fabricemu/internal/fabric"
)

// StatsSnapshot is a point-in-time aggregate of every core's fabric.Stats,
// plus the run-level context (RunID, elapsed time) needed to report it. Its
// field names mirror spec.md §6's periodic report; the drop-cause breakdown
// restores detail the original flexplane emulator's
// print_global_admission_log_emulation() reported but spec.md's
// distillation collapsed into a single Drop counter.
type StatsSnapshot struct {
	RunID    string
	ElapsedS float64

	Admit uint64
	Drop  uint64
	Mark  uint64

	Pushed uint64
	Pulled uint64

	AllocFailed          uint64
	WaitForAdmitted      uint64
	AdmittedAllocFailed  uint64
	PacketAllocFailed    uint64
	BacklogEnqueueFailed uint64
	ResetEnqueueFailed   uint64
}

// NewStatsSnapshot folds per-core stats into one snapshot, tagged with the
// run identifier and elapsed wall-clock time since the emulation started.
func NewStatsSnapshot(runID string, startedAt time.Time, cores []fabric.Stats) StatsSnapshot {
	var total fabric.Stats
	for _, s := range cores {
		total.Add(s)
	}
	return StatsSnapshot{
		RunID:                runID,
		ElapsedS:             time.Since(startedAt).Seconds(),
		Admit:                total.Admit,
		Drop:                 total.Drop,
		Mark:                 total.Mark,
		Pushed:               total.Pushed,
		Pulled:               total.Pulled,
		AllocFailed:          total.AllocFailed,
		WaitForAdmitted:      total.WaitForAdmitted,
		AdmittedAllocFailed:  total.AdmittedAllocFailed,
		PacketAllocFailed:    total.PacketAllocFailed,
		BacklogEnqueueFailed: total.BacklogEnqueueFailed,
		ResetEnqueueFailed:   total.ResetEnqueueFailed,
	}
}

// TotalDemand is every packet the emulation was asked to carry: admitted
// plus dropped, across all causes.
func (s StatsSnapshot) TotalDemand() uint64 {
	return s.Admit + s.Drop
}

// DropRate is the fraction of total demand that was dropped, in [0,1].
func (s StatsSnapshot) DropRate() float64 {
	total := s.TotalDemand()
	if total == 0 {
		return 0
	}
	return float64(s.Drop) / float64(total)
}

// DropBreakdown restores the original admissible_log.c distinction between
// *why* a packet never made it to admission: a policy drop inside a router
// discipline or a demand drop because an endpoint's backlog was full. It
// also counts lost reset tokens and the ring-full/pool-empty stalls that
// retry resolved.
type DropBreakdown struct {
	PolicyDrop  uint64 // router discipline drop-tail/RED/DCTCP/HULL decision
	DemandDrop  uint64 // endpoint backlog full (NewPackets overflow)
	ResetDrop   uint64 // reset tokens lost because q_resets was full
	AllocStall  uint64 // ring-full/pool-empty stalls that resolved via retry, not drop
}

// DropBreakdown computes the breakdown. PolicyDrop is derived (Drop minus
// the demand-side causes already counted separately) since fabric.Stats
// folds router and output drops into one counter by design (see DESIGN.md).
func (s StatsSnapshot) DropBreakdown() DropBreakdown {
	demand := s.BacklogEnqueueFailed
	policy := s.Drop
	if policy > demand {
		policy -= demand
	} else {
		policy = 0
	}
	return DropBreakdown{
		PolicyDrop: policy,
		DemandDrop: demand,
		ResetDrop:  s.ResetEnqueueFailed,
		AllocStall: s.AllocFailed + s.WaitForAdmitted + s.AdmittedAllocFailed,
	}
}

// Report renders a human-readable admission log line, the direct
// descendant of the original emulator's
// print_global_admission_log_emulation() output.
func (s StatsSnapshot) Report() string {
	b := s.DropBreakdown()
	var sb strings.Builder
	fmt.Fprintf(&sb, "run=%s elapsed=%.1fs admitted=%d dropped=%d (rate=%.4f%%) marked=%d\n",
		s.RunID, s.ElapsedS, s.Admit, s.Drop, s.DropRate()*100, s.Mark)
	fmt.Fprintf(&sb, "  drop breakdown: policy=%d demand=%d reset=%d alloc-stall=%d\n",
		b.PolicyDrop, b.DemandDrop, b.ResetDrop, b.AllocStall)
	fmt.Fprintf(&sb, "  pushed=%d pulled=%d", s.Pushed, s.Pulled)
	return sb.String()
}

// Observer is the pluggable hook a running Emulation reports through, the
// same shape the teacher's I/O metrics hook uses, adapted to the four
// events a timeslot loop actually produces.
type Observer interface {
	ObserveAdmit()
	ObserveDrop(breakdown DropBreakdown)
	ObserveMark()
	ObserveTimeslot(coreIndex int, elapsed time.Duration)
}

// NoOpObserver discards every event.
type NoOpObserver struct{}

func (NoOpObserver) ObserveAdmit()                                  {}
func (NoOpObserver) ObserveDrop(DropBreakdown)                      {}
func (NoOpObserver) ObserveMark()                                   {}
func (NoOpObserver) ObserveTimeslot(coreIndex int, elapsed time.Duration) {}

var _ Observer = (*NoOpObserver)(nil)
