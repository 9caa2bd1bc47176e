// Package fabric implements the timeslot-accurate packet-flow engine: the
// packet and ring primitives, endpoint backlogs, router queueing
// disciplines, and the stage drivers that bind them to rings each timeslot.
package fabric

// Handle is a move-only reference to a slot in a Mempool arena. Packets and
// admitted batches are addressed by Handle rather than by pointer so that
// ownership transfer between rings, backlogs, and queue cells never aliases
// two owners onto the same object.
type Handle uint32

// NullHandle is the zero-value-free sentinel for "no packet" / "no batch".
const NullHandle Handle = 1<<32 - 1

// Flags captures discipline-specific per-packet hints.
type Flags uint8

const (
	// FlagECNCapable marks a packet as eligible for ECN marking by a router
	// discipline (DCTCP, HULL).
	FlagECNCapable Flags = 1 << iota
	// FlagECNMarked is set by a router discipline that decided to mark
	// rather than drop (DCTCP past the K threshold, HULL past the phantom
	// queue threshold).
	FlagECNMarked
	// FlagDropHint is advisory; disciplines may set it before a drop
	// decision is finalized, useful for tracing why a packet was dropped.
	FlagDropHint
)

// Packet is the MTU-sized unit of ownership moved between every stage of the
// emulator: rings, backlogs, queue cells, and admitted batches. Exactly one
// component holds a given packet's Handle at any instant.
type Packet struct {
	Src   uint16
	Dst   uint16
	Flow  uint16
	Flags Flags
}

// Reset clears a packet so its arena slot can be reused by a future Get.
func (p *Packet) Reset() {
	p.Src, p.Dst, p.Flow, p.Flags = 0, 0, 0, 0
}
