package fabric

// Output is the per-core sink for admission results: it batches Admitted
// and Dropped edges into the in-construction AdmittedBatch and hands full
// batches to the allocator via q_admitted_out, with blocking back-pressure
// on the two points spec'd as acceptable to spin on. An Output instance
// belongs to exactly one EmulationCore and is never shared across cores.
type Output struct {
	packetPool   *Mempool[Packet]
	batchPool    *Mempool[AdmittedBatch]
	outRing      *Ring[Handle]
	current      Handle
	stats        *Stats
}

// NewOutput allocates the first in-construction batch from batchPool and
// returns an Output ready to admit/drop packets. Panics if the batch pool
// cannot supply the initial batch — that would mean the pool was sized to
// zero, a configuration error caught at topology construction time.
func NewOutput(packetPool *Mempool[Packet], batchPool *Mempool[AdmittedBatch], outRing *Ring[Handle], stats *Stats) *Output {
	h, ok := batchPool.Get()
	if !ok {
		panic("fabric: admitted batch pool has zero capacity")
	}
	return &Output{
		packetPool: packetPool,
		batchPool:  batchPool,
		outRing:    outRing,
		current:    h,
		stats:      stats,
	}
}

// StatsRef returns the Stats instance this Output accumulates into, so a
// shared Output's stats can be reached by whatever topology code allocated
// it separately.
func (o *Output) StatsRef() *Stats {
	return o.stats
}

// Admit records pkt as an Admitted edge and frees it back to the packet
// pool. Flushes the current batch first if it has no room.
func (o *Output) Admit(pkt Handle) {
	p := o.packetPool.At(pkt)
	edge := Edge{Src: p.Src, Dst: p.Dst, Flow: p.Flow, Dropped: false}
	o.appendEdge(edge)
	o.packetPool.Put(pkt)
	o.stats.Admit++
}

// Drop records pkt as a Dropped edge and frees it back to the packet pool.
func (o *Output) Drop(pkt Handle) {
	p := o.packetPool.At(pkt)
	edge := Edge{Src: p.Src, Dst: p.Dst, Flow: p.Flow, Dropped: true}
	o.appendEdge(edge)
	o.packetPool.Put(pkt)
	o.stats.Drop++
}

// FreePacket returns pkt directly to the packet pool, bypassing admit/drop
// accounting. Used only by reset, whose drops are silent by spec.
func (o *Output) FreePacket(pkt Handle) {
	o.packetPool.Put(pkt)
}

func (o *Output) appendEdge(e Edge) {
	batch := o.batchPool.At(o.current)
	if !batch.Append(e) {
		o.Flush()
		batch = o.batchPool.At(o.current)
		batch.Append(e)
	}
}

// Flush enqueues the current batch onto q_admitted_out and replaces it with
// a fresh one. Both steps are the system's only sanctioned blocking points:
// spin while the output ring is full, then spin while the batch pool is
// empty, each incrementing its stats counter so backpressure is visible.
func (o *Output) Flush() {
	for !o.outRing.Enqueue(o.current) {
		o.stats.WaitForAdmitted++
	}
	for {
		h, ok := o.batchPool.Get()
		if ok {
			o.current = h
			return
		}
		o.stats.AdmittedAllocFailed++
	}
}

// Cleanup returns the in-progress batch (never flushed) to the batch pool,
// leaving this Output unusable. Called once, at core shutdown.
func (o *Output) Cleanup() {
	o.batchPool.Put(o.current)
}
