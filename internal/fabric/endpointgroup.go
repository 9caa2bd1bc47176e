package fabric

// endpointState holds one endpoint's per-destination backlogs plus the
// round-robin cursor pull_batch uses to pick among them.
type endpointState struct {
	backlogs  map[uint16]*handleQueue
	destOrder []uint16 // stable order destinations were first seen in
	cursor    int       // index into destOrder to resume scanning from
	backlog   int       // total packets queued across all destinations
}

func newEndpointState() *endpointState {
	return &endpointState{backlogs: make(map[uint16]*handleQueue)}
}

func (e *endpointState) queueFor(dst uint16) *handleQueue {
	q, ok := e.backlogs[dst]
	if !ok {
		q = &handleQueue{}
		e.backlogs[dst] = q
		e.destOrder = append(e.destOrder, dst)
	}
	return q
}

// pullOne scans destinations starting at the cursor for the first
// non-empty backlog, pops its head, and advances the cursor past it.
func (e *endpointState) pullOne() (Handle, bool) {
	n := len(e.destOrder)
	if n == 0 {
		return NullHandle, false
	}
	for i := 0; i < n; i++ {
		idx := (e.cursor + i) % n
		dst := e.destOrder[idx]
		q := e.backlogs[dst]
		if q.empty() {
			continue
		}
		h, _ := q.pop()
		e.cursor = (idx + 1) % n
		e.backlog--
		return h, true
	}
	return NullHandle, false
}

// EndpointGroup models one rack of endpoints sharing backlog memory: it
// owns each endpoint's per-destination FIFOs and produces/consumes at most
// one packet per endpoint per timeslot.
type EndpointGroup struct {
	rackID       int
	endpoints    []*endpointState
	backlogCap   int
	packetPool   *Mempool[Packet]
	output       *Output
	stats        *Stats
}

// NewEndpointGroup builds a group of numEndpoints endpoints, each capped at
// backlogCap queued packets across all of its destinations.
func NewEndpointGroup(rackID, numEndpoints, backlogCap int, packetPool *Mempool[Packet], output *Output, stats *Stats) *EndpointGroup {
	g := &EndpointGroup{
		rackID:     rackID,
		endpoints:  make([]*endpointState, numEndpoints),
		backlogCap: backlogCap,
		packetPool: packetPool,
		output:     output,
		stats:      stats,
	}
	for i := range g.endpoints {
		g.endpoints[i] = newEndpointState()
	}
	return g
}

func (g *EndpointGroup) localIndex(endpointID uint16) int {
	return int(endpointID) % len(g.endpoints)
}

// PacketPool returns the packet mempool this group allocates out of, for
// callers (shutdown cleanup) that need to return handles directly.
func (g *EndpointGroup) PacketPool() *Mempool[Packet] {
	return g.packetPool
}

// Output returns the Output this group reports admits/drops through, so
// topology construction can share one Output across co-located drivers.
func (g *EndpointGroup) Output() *Output {
	return g.output
}

// Stats returns the counter set this group's driver accumulates into, so
// callers outside the timeslot loop (an allocator adapter injecting demand
// or resets) can attribute their own failures to the same per-rack counters
// the driver itself uses.
func (g *EndpointGroup) Stats() *Stats {
	return g.stats
}

// NewPackets appends each incoming demand packet to its source endpoint's
// per-destination backlog. A packet that would push an endpoint over its
// backlog cap is dropped: reported as a Dropped edge and counted.
func (g *EndpointGroup) NewPackets(pkts []Handle) {
	for _, h := range pkts {
		p := g.packetPool.At(h)
		ep := g.endpoints[g.localIndex(p.Src)]
		if ep.backlog >= g.backlogCap {
			g.output.Drop(h)
			g.stats.BacklogEnqueueFailed++
			continue
		}
		ep.queueFor(p.Dst).push(h)
		ep.backlog++
	}
}

// Reset drains and silently frees every backlog belonging to endpointID.
// No Dropped edges are emitted — reset is the one sanctioned silent drop.
func (g *EndpointGroup) Reset(endpointID uint16) {
	ep := g.endpoints[g.localIndex(endpointID)]
	for _, dst := range ep.destOrder {
		q := ep.backlogs[dst]
		for {
			h, ok := q.pop()
			if !ok {
				break
			}
			g.output.FreePacket(h)
		}
	}
	ep.backlogs = make(map[uint16]*handleQueue)
	ep.destOrder = nil
	ep.cursor = 0
	ep.backlog = 0
}

// PullBatch emits at most one packet per endpoint, in endpoint-id order,
// writing handles into out and returning the count written.
func (g *EndpointGroup) PullBatch(out []Handle) int {
	n := 0
	for _, ep := range g.endpoints {
		if n >= len(out) {
			break
		}
		if h, ok := ep.pullOne(); ok {
			out[n] = h
			n++
		}
	}
	return n
}

// PushBatch admits every packet that arrived back from the network this
// timeslot, freeing each to the packet pool via Output.Admit.
func (g *EndpointGroup) PushBatch(pkts []Handle) {
	for _, h := range pkts {
		g.output.Admit(h)
	}
}
