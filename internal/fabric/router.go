package fabric

import "math/rand"

// Discipline selects a router's admit/drop/mark policy. Disciplines are
// dispatched as a tagged sum rather than an interface hierarchy: their
// per-discipline state layouts differ enough (RED's EWMA, HULL's phantom
// queue and rate limiter) that a small switch over one concrete Router type
// reads more plainly than a family of types satisfying a shared interface,
// and keeps the hot path (PushBatch/PullBatch) monomorphic.
type Discipline int

const (
	DropTail Discipline = iota
	RED
	DCTCP
	HULL
)

func (d Discipline) String() string {
	switch d {
	case DropTail:
		return "drop-tail"
	case RED:
		return "red"
	case DCTCP:
		return "dctcp"
	case HULL:
		return "hull"
	default:
		return "unknown"
	}
}

// PortResolver maps a packet to the (input,output) port pair in this
// router's queue bank. Topology construction supplies the closure; Router
// itself stays agnostic of rack/core wiring.
type PortResolver func(p *Packet) (inPort, outPort int)

// Router holds one router instance's queue bank, discipline parameters, and
// port wiring. Every discipline shares the same push_batch/pull_batch
// contract (spec.md §4.3); only the enqueue admit/drop/mark decision inside
// PushBatch varies by discipline.
type Router struct {
	Discipline Discipline
	bank       *QueueBank
	numPorts   int
	route      PortResolver

	red   REDParams
	dctcp DCTCPParams
	hull  *HULLState
}

// NewRouter constructs a router with the given discipline and port count.
// Discipline-specific parameters are set on the returned Router's Red/DCTCP
// fields (via SetREDParams/SetDCTCPParams) or HULL state (NewHULLState)
// before the first PushBatch call.
func NewRouter(discipline Discipline, numPorts, cellCapacity int, route PortResolver) *Router {
	return &Router{
		Discipline: discipline,
		bank:       NewQueueBank(numPorts, cellCapacity),
		numPorts:   numPorts,
		route:      route,
	}
}

// SetREDParams installs RED thresholds; only meaningful when Discipline ==
// RED.
func (r *Router) SetREDParams(p REDParams) { r.red = p }

// SetDCTCPParams installs the DCTCP marking threshold; only meaningful when
// Discipline == DCTCP.
func (r *Router) SetDCTCPParams(p DCTCPParams) { r.dctcp = p }

// SetHULLState installs the per-port phantom queue state; only meaningful
// when Discipline == HULL.
func (r *Router) SetHULLState(h *HULLState) { r.hull = h }

// NumPorts returns the port count this router's queue bank was built with.
func (r *Router) NumPorts() int { return r.numPorts }

// PushBatch enqueues each packet into the cell its destination routes to,
// applying this router's discipline to decide admit, drop, or (DCTCP/HULL)
// mark. Dropped packets are reported through out via Output.Drop; accepted
// packets remain owned by their queue cell until a future PullBatch. rng
// backs RED's probabilistic drop decision — supplied by the caller
// (RouterDriver owns one PRNG per driver, never shared across cores). stats
// is the calling driver's per-core counter set; PushBatch increments Mark
// for every packet the DCTCP/HULL paths ECN-mark.
func (r *Router) PushBatch(pkts []Handle, now uint64, pool *Mempool[Packet], rng *rand.Rand, out *Output, stats *Stats) {
	if r.Discipline == HULL && r.hull != nil {
		r.hull.drain(now)
	}
	for _, h := range pkts {
		p := pool.At(h)
		inPort, outPort := r.route(p)
		cell := r.bank.at(inPort, outPort)
		r.enqueue(cell, h, p, outPort, rng, out, stats)
	}
}

func (r *Router) enqueue(cell *Cell, h Handle, p *Packet, outPort int, rng *rand.Rand, out *Output, stats *Stats) {
	switch r.Discipline {
	case DropTail:
		if cell.occupancy < cell.capacity {
			cell.push(h)
		} else {
			cell.dropCount++
			out.Drop(h)
		}

	case RED:
		cell.avgOccupancy = (1-r.red.Weight)*cell.avgOccupancy + r.red.Weight*float64(cell.occupancy)
		switch {
		case cell.avgOccupancy >= r.red.MaxTh:
			cell.dropCount++
			out.Drop(h)
		case cell.avgOccupancy >= r.red.MinTh:
			span := r.red.MaxTh - r.red.MinTh
			prob := r.red.MaxP
			if span > 0 {
				prob = r.red.MaxP * (cell.avgOccupancy - r.red.MinTh) / span
			}
			if rng.Float64() < prob || cell.occupancy >= cell.capacity {
				cell.dropCount++
				out.Drop(h)
			} else {
				cell.push(h)
			}
		default:
			if cell.occupancy < cell.capacity {
				cell.push(h)
			} else {
				cell.dropCount++
				out.Drop(h)
			}
		}

	case DCTCP:
		if cell.occupancy >= cell.capacity {
			cell.dropCount++
			out.Drop(h)
			return
		}
		if cell.occupancy >= r.dctcp.MarkThreshold {
			p.Flags |= FlagECNMarked
			stats.Mark++
		}
		cell.push(h)

	case HULL:
		r.hull.arrive(outPort)
		if r.hull.phantom[outPort] >= r.hull.K {
			p.Flags |= FlagECNMarked
			stats.Mark++
		}
		if cell.occupancy >= cell.capacity {
			cell.dropCount++
			out.Drop(h)
			return
		}
		cell.push(h)
	}
}

// PullBatch emits at most one packet per output port selected by portMask,
// chosen from the non-empty input cell at or after that output's
// round-robin cursor. Returns the number of packets written to out.
func (r *Router) PullBatch(out []Handle, portMask uint64, now uint64) int {
	n := 0
	for outPort := 0; outPort < r.numPorts && outPort < 64; outPort++ {
		if portMask&(1<<uint(outPort)) == 0 {
			continue
		}
		if n >= len(out) {
			break
		}
		cursor := r.bank.cursor[outPort]
		for i := 0; i < r.numPorts; i++ {
			inPort := (cursor + i) % r.numPorts
			cell := r.bank.at(inPort, outPort)
			if cell.empty() {
				continue
			}
			h, _ := cell.pop(now)
			out[n] = h
			n++
			r.bank.cursor[outPort] = (inPort + 1) % r.numPorts
			break
		}
	}
	return n
}

// Cleanup drains every cell in this router's queue bank and returns the
// freed handles. The queue bank is allocated and owned exclusively by its
// Router — there is no separate ingress/egress ownership split to reason
// about, resolving the ownership ambiguity the source left implicit (see
// DESIGN.md).
func (r *Router) Cleanup() []Handle {
	return r.bank.drain(nil)
}
