package fabric

// DropPolicy governs what an EndpointDriver or RouterDriver does when a
// ring it needs to enqueue onto is full. The source decided this at compile
// time via a DROP_ON_FAILED_ENQUEUE flag; here it is a runtime choice per
// Emulation, defaulting to Retry to preserve packet conservation (spec.md
// design notes, "Open question (source ambiguity)").
type DropPolicy int

const (
	// Retry spins until the destination ring has room. Never loses a
	// packet, at the cost of stalling the driver's own timeslot.
	Retry DropPolicy = iota
	// DropOnFailedEnqueue demotes every packet in the failed batch to a
	// Dropped edge and logs, rather than stalling.
	DropOnFailedEnqueue
)

// Driver is the common stepping interface EmulationCore drives once per
// timeslot, in the fixed endpoint-then-router order spec.md §4.6 requires.
type Driver interface {
	Step()
}
