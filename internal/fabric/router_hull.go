package fabric

import (
	"time"

	"golang.org/x/time/rate"
)

// HULLState is the per-router phantom-queue state HULL layers on top of
// the real queue bank: one counter per output port, incremented by one MTU
// on every arrival and drained below the real line rate so ECN marking
// reacts before the real queue ever builds up.
type HULLState struct {
	phantom   []float64
	K         float64
	drainStep float64
	limiter   *rate.Limiter
}

// NewHULLState builds phantom-queue state for numPorts output ports,
// marking ECN once a port's phantom occupancy reaches k MTUs. drainRate is
// expressed as allowed drains per timeslot (not wall-clock time) and must
// stay below one per timeslot for the phantom queue to meaningfully lead
// the real one; drainStep is how many phantom MTUs one allowed drain
// removes.
func NewHULLState(numPorts int, k, drainStep, drainRate float64) *HULLState {
	return &HULLState{
		phantom:   make([]float64, numPorts),
		K:         k,
		drainStep: drainStep,
		limiter:   rate.NewLimiter(rate.Limit(drainRate), 1),
	}
}

func (h *HULLState) arrive(port int) {
	h.phantom[port]++
}

// slotEpoch is an arbitrary fixed reference instant used only to turn a
// timeslot count into the time.Time golang.org/x/time/rate's AllowN
// expects. It carries no wall-clock meaning; it exists so the limiter's
// token bucket advances with the timeslot counter rather than with real
// elapsed time, keeping HULL marking reproducible by seed and timeslot
// count alone under a tight synchronous loop (testing.StepOnce) the same
// as under a real-time Emulation run.
var slotEpoch = time.Unix(0, 0)

// drain removes drainStep phantom MTUs from every port if the limiter's
// per-timeslot budget allows it, where now is the router driver's own
// timeslot counter rather than wall-clock time.
func (h *HULLState) drain(now uint64) {
	if !h.limiter.AllowN(slotEpoch.Add(time.Duration(now)*time.Second), 1) {
		return
	}
	for i := range h.phantom {
		h.phantom[i] -= h.drainStep
		if h.phantom[i] < 0 {
			h.phantom[i] = 0
		}
	}
}
