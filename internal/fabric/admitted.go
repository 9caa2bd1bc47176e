package fabric

// Edge is one outcome record inside an AdmittedBatch: a (src,dst,flow)
// demand either admitted or dropped this timeslot.
type Edge struct {
	Src, Dst, Flow uint16
	Dropped        bool
}

// AdmittedBatch is the fixed-capacity unit handed to the allocator over
// q_admitted_out. Edges is pre-sized to its capacity at mempool
// construction (see NewAdmittedMempool) so appends on the hot path never
// allocate.
type AdmittedBatch struct {
	Edges []Edge
	Size  int
}

// Reset clears the batch for reuse without discarding Edges' capacity.
func (b *AdmittedBatch) Reset() {
	b.Size = 0
}

// Full reports whether the batch has reached its configured capacity.
func (b *AdmittedBatch) Full() bool {
	return b.Size >= cap(b.Edges)
}

// Append adds an edge, returning false if the batch is already full.
func (b *AdmittedBatch) Append(e Edge) bool {
	if b.Full() {
		return false
	}
	if b.Size < len(b.Edges) {
		b.Edges[b.Size] = e
	} else {
		b.Edges = append(b.Edges, e)
	}
	b.Size++
	return true
}

// NewAdmittedMempool builds the bounded pool of pre-sized admitted batches,
// one per slot capped at admitsPerBatch edges (EMU_ADMITS_PER_ADMITTED).
func NewAdmittedMempool(poolSize, admitsPerBatch int) *Mempool[AdmittedBatch] {
	return NewMempool[AdmittedBatch](
		poolSize,
		func(b *AdmittedBatch) {
			b.Edges = make([]Edge, admitsPerBatch)
			b.Size = 0
		},
		func(b *AdmittedBatch) {
			b.Size = 0
		},
	)
}
