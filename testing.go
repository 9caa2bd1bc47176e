package fabricemu

import (
	"sync"

	"github.com/aousterh/fabricemu/internal/fabric"
)

// MockAllocator drives a Topology's external-facing rings the way a real
// allocator would: injecting new-packet demand and endpoint resets onto
// q_new/q_resets, and draining admitted batches off q_admitted_out. It
// tracks call counts for test assertions, the way the teacher's
// MockBackend counts ReadAt/WriteAt/Flush calls rather than just
// recording their side effects.
type MockAllocator struct {
	topo *Topology

	mu            sync.RWMutex
	injectCalls   int
	injectDropped int // injections that found the packet pool or ring full
	resetCalls    int
	drainCalls    int
}

// NewMockAllocator wraps an already-built Topology for test-driven demand
// injection and admitted-batch draining.
func NewMockAllocator(topo *Topology) *MockAllocator {
	return &MockAllocator{topo: topo}
}

// Inject allocates a packet from the shared packet pool, fills it in, and
// enqueues it onto rack's q_new ring. Returns false if the packet pool is
// exhausted or the ring is full — callers in a tight test loop should
// treat that as "try again next timeslot", same as a real allocator would.
func (m *MockAllocator) Inject(rack int, src, dst, flow uint16) bool {
	m.mu.Lock()
	m.injectCalls++
	m.mu.Unlock()

	h, ok := m.topo.PacketPool.Get()
	if !ok {
		m.mu.Lock()
		m.injectDropped++
		m.mu.Unlock()
		return false
	}
	p := m.topo.PacketPool.At(h)
	p.Src, p.Dst, p.Flow = src, dst, flow

	if !m.topo.QNew[rack].Enqueue(h) {
		m.topo.PacketPool.Put(h)
		m.mu.Lock()
		m.injectDropped++
		m.mu.Unlock()
		return false
	}
	return true
}

// InjectBacklog is the add_backlog(src, dst, flow, amount) entry point
// spec.md §6 describes: it allocates and enqueues up to amount packets for
// the given flow, stopping at the first allocation failure rather than
// skipping ahead and counting it in PacketAllocFailed, the way the original
// source's add_backlog logs a demand drop and returns early instead of
// retrying later slots in the same call. Returns the number of packets
// actually injected.
func (m *MockAllocator) InjectBacklog(rack int, src, dst, flow uint16, amount int) int {
	stats := m.topo.EndpointGroups[rack].Stats()
	injected := 0
	for i := 0; i < amount; i++ {
		m.mu.Lock()
		m.injectCalls++
		m.mu.Unlock()

		h, ok := m.topo.PacketPool.Get()
		if !ok {
			stats.PacketAllocFailed++
			m.mu.Lock()
			m.injectDropped++
			m.mu.Unlock()
			break
		}
		p := m.topo.PacketPool.At(h)
		p.Src, p.Dst, p.Flow = src, dst, flow

		if !m.topo.QNew[rack].Enqueue(h) {
			m.topo.PacketPool.Put(h)
			m.mu.Lock()
			m.injectDropped++
			m.mu.Unlock()
			continue
		}
		injected++
	}
	return injected
}

// InjectReset enqueues a reset request for endpointID onto rack's
// q_resets ring. Returns false if the ring is full.
func (m *MockAllocator) InjectReset(rack int, endpointID uint16) bool {
	m.mu.Lock()
	m.resetCalls++
	m.mu.Unlock()
	return m.topo.QResets[rack].Enqueue(endpointID)
}

// DrainAdmitted dequeues every batch currently sitting on q_admitted_out,
// copies out their edges, and returns each batch to the pool. Intended for
// a test driver that steps a topology's cores manually (via StepOnce,
// without a full Emulation) and wants to observe admission results
// between steps.
func (m *MockAllocator) DrainAdmitted() []fabric.Edge {
	m.mu.Lock()
	m.drainCalls++
	m.mu.Unlock()

	var edges []fabric.Edge
	for {
		h, ok := m.topo.AdmittedOut.Dequeue()
		if !ok {
			return edges
		}
		batch := m.topo.BatchPool.At(h)
		edges = append(edges, batch.Edges[:batch.Size]...)
		m.topo.BatchPool.Put(h)
	}
}

// CallCounts returns the number of times each allocator-facing method has
// been called, plus how many injections were dropped for want of a free
// packet slot or ring space.
func (m *MockAllocator) CallCounts() map[string]int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]int{
		"inject":         m.injectCalls,
		"inject_dropped": m.injectDropped,
		"reset":          m.resetCalls,
		"drain":          m.drainCalls,
	}
}

// Reset zeroes every call counter without touching the wrapped topology.
func (m *MockAllocator) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.injectCalls, m.injectDropped, m.resetCalls, m.drainCalls = 0, 0, 0, 0
}

// StepOnce runs every core's endpoint and router drivers through exactly
// one timeslot, without spawning goroutines or touching CPU affinity — a
// synchronous, single-threaded alternative to Emulation.Start for
// deterministic, single-step test assertions.
func StepOnce(topo *Topology) {
	for _, ed := range topo.endpointDrivers {
		ed.Step()
		ed.ResetDrain()
	}
	for _, td := range topo.torDrivers {
		td.Step()
	}
	if topo.coreDriver != nil {
		topo.coreDriver.Step()
	}
	seen := make(map[*fabric.Output]bool)
	flush := func(out *fabric.Output) {
		if out != nil && !seen[out] {
			out.Flush()
			seen[out] = true
		}
	}
	for _, eg := range topo.EndpointGroups {
		flush(eg.Output())
	}
	for _, td := range topo.torDrivers {
		flush(td.Output)
	}
	if topo.coreDriver != nil {
		flush(topo.coreDriver.Output)
	}
}
