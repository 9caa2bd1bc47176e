// Package interfaces provides internal interface definitions for
// fabricemu. These are separate from the root package's types to avoid
// circular imports between it and the packages that need to depend on an
// allocator without depending on the whole public API surface.
package interfaces

import (
	"context"
	"time"

	"github.com/aousterh/fabricemu/internal/fabric"
)

// Allocator is the channel-shaped contract spec.md §8 describes for
// anything outside the emulator that wants to drive it: push new-packet
// demand and endpoint resets in, read admitted/dropped edges out. The
// emulation core itself never depends on this interface — it is purely
// for test harnesses and CLI front ends that would rather think in terms
// of channels than reach into a Topology's rings directly.
type Allocator interface {
	// NewPacketsCh returns the channel used to inject new-packet demand
	// for the given rack. Closing it is the caller's responsibility; the
	// adapter goroutine feeding the corresponding ring exits when it
	// closes.
	NewPacketsCh(rack int) chan<- []fabric.Packet

	// ResetsCh returns the channel used to request an endpoint reset on
	// the given rack.
	ResetsCh(rack int) chan<- uint16

	// AdmittedOutCh returns the channel admitted/dropped edge batches
	// are delivered on, one fabric.Edge slice per non-empty AdmittedBatch
	// drained off q_admitted_out; empty batches are not delivered.
	AdmittedOutCh() <-chan []fabric.Edge
}

// RingTopology is the subset of Topology's fields a RingAdapter needs;
// declared locally so this package does not import the root package
// (which itself imports internal/fabric, internal/core, and
// internal/logging — keeping the dependency one-directional).
type RingTopology struct {
	QNew           []*fabric.Ring[fabric.Handle]
	QResets        []*fabric.Ring[uint16]
	AdmittedOut    *fabric.Ring[fabric.Handle]
	PacketPool     *fabric.Mempool[fabric.Packet]
	BatchPool      *fabric.Mempool[fabric.AdmittedBatch]
	EndpointGroups []*fabric.EndpointGroup // per rack, aligned with QNew/QResets
	Policy         fabric.DropPolicy
}

// RingAdapter implements Allocator over a RingTopology's rings, the way a
// real allocator process would be expected to: it owns a background
// goroutine per rack feeding q_new/q_resets from buffered channels, plus
// one goroutine draining q_admitted_out into a channel of copied edge
// slices (copied because the underlying AdmittedBatch is returned to its
// pool, and reused, the instant it is drained).
type RingAdapter struct {
	topo RingTopology

	newPackets []chan []fabric.Packet
	resets     []chan uint16
	admitted   chan []fabric.Edge
}

// NewRingAdapter starts the adapter's background goroutines, bound to
// ctx: they exit once ctx is cancelled.
func NewRingAdapter(ctx context.Context, topo RingTopology, chanBuf int) *RingAdapter {
	a := &RingAdapter{
		topo:       topo,
		newPackets: make([]chan []fabric.Packet, len(topo.QNew)),
		resets:     make([]chan uint16, len(topo.QResets)),
		admitted:   make(chan []fabric.Edge, chanBuf),
	}
	for rack := range topo.QNew {
		ch := make(chan []fabric.Packet, chanBuf)
		a.newPackets[rack] = ch
		go a.pumpNewPackets(ctx, rack, ch)
	}
	for rack := range topo.QResets {
		ch := make(chan uint16, chanBuf)
		a.resets[rack] = ch
		go a.pumpResets(ctx, rack, ch)
	}
	go a.pumpAdmitted(ctx)
	return a
}

func (a *RingAdapter) NewPacketsCh(rack int) chan<- []fabric.Packet { return a.newPackets[rack] }
func (a *RingAdapter) ResetsCh(rack int) chan<- uint16              { return a.resets[rack] }
func (a *RingAdapter) AdmittedOutCh() <-chan []fabric.Edge          { return a.admitted }

// pumpNewPackets implements the add_backlog(src, dst, flow, amount) entry
// point spec.md §6 describes: each received slice is one such call, one
// element per requested packet. It allocates and enqueues packets in order,
// stopping at the first allocation failure rather than skipping ahead, and
// counts that failure in PacketAllocFailed — the same behavior the original
// source's add_backlog logs as a demand drop before returning early.
func (a *RingAdapter) pumpNewPackets(ctx context.Context, rack int, ch chan []fabric.Packet) {
	ring := a.topo.QNew[rack]
	stats := a.topo.EndpointGroups[rack].Stats()
	for {
		select {
		case <-ctx.Done():
			return
		case pkts, ok := <-ch:
			if !ok {
				return
			}
			for _, p := range pkts {
				h, ok := a.topo.PacketPool.Get()
				if !ok {
					stats.PacketAllocFailed++
					break
				}
				*a.topo.PacketPool.At(h) = p
				if !ring.Enqueue(h) {
					a.topo.PacketPool.Put(h)
				}
			}
		}
	}
}

func (a *RingAdapter) pumpResets(ctx context.Context, rack int, ch chan uint16) {
	ring := a.topo.QResets[rack]
	for {
		select {
		case <-ctx.Done():
			return
		case endpointID, ok := <-ch:
			if !ok {
				return
			}
			a.enqueueReset(rack, ring, endpointID)
		}
	}
}

// enqueueReset pushes endpointID onto rack's q_resets ring, applying the
// same drop/retry policy the in-process drivers apply to a full egress
// ring (driver_endpoint.go, driver_router.go): Retry spins and counts each
// stall as AllocFailed; DropOnFailedEnqueue drops the token and counts it
// as a genuine reset loss in ResetEnqueueFailed instead of discarding it
// silently.
func (a *RingAdapter) enqueueReset(rack int, ring *fabric.Ring[uint16], endpointID uint16) {
	stats := a.topo.EndpointGroups[rack].Stats()
	for !ring.Enqueue(endpointID) {
		if a.topo.Policy == fabric.DropOnFailedEnqueue {
			stats.ResetEnqueueFailed++
			return
		}
		stats.AllocFailed++
	}
}

func (a *RingAdapter) pumpAdmitted(ctx context.Context) {
	idle := time.NewTicker(time.Millisecond)
	defer idle.Stop()
	for {
		h, ok := a.topo.AdmittedOut.Dequeue()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-idle.C:
				continue
			}
		}
		batch := a.topo.BatchPool.At(h)
		if batch.Size == 0 {
			a.topo.BatchPool.Put(h)
			continue
		}
		edges := make([]fabric.Edge, batch.Size)
		copy(edges, batch.Edges[:batch.Size])
		a.topo.BatchPool.Put(h)

		select {
		case a.admitted <- edges:
		case <-ctx.Done():
			return
		}
	}
}

var _ Allocator = (*RingAdapter)(nil)
