package fabric

import (
	"math/rand"
	"time"

	"github.com/aousterh/fabricemu/internal/logging"
)

// RouterDriver binds one Router to its ingress ring and one egress ring per
// neighbor group, stepping it once per timeslot in the order spec.md §4.4
// prescribes: pull (using the current timeslot) before the timeslot
// counter advances, then push (using the new timeslot) — this is what
// keeps a cell's last_empty_time always <= the timeslot that observed it.
type RouterDriver struct {
	Router      *Router
	QToRouter   *Ring[Handle]
	QFromRouter []*Ring[Handle] // one per neighbor group, aligned with PortMasks
	PortMasks   []uint64
	PacketPool  *Mempool[Packet]
	Output      *Output
	Policy      DropPolicy
	Burst       int
	Stats       *Stats
	Logger      *logging.Logger

	curTime uint64
	rng     *rand.Rand

	pullBuf []Handle
	pushBuf []Handle
}

// NewRouterDriver wires a driver around an already-constructed router. seed
// of 0 means "unseeded" and the driver seeds its PRNG from wall-clock time;
// a non-zero seed makes shuffle and RED's probabilistic drop deterministic,
// for reproducible tests.
func NewRouterDriver(router *Router, qToRouter *Ring[Handle], qFromRouter []*Ring[Handle], portMasks []uint64, pool *Mempool[Packet], output *Output, policy DropPolicy, burst int, seed int64, stats *Stats, logger *logging.Logger) *RouterDriver {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &RouterDriver{
		Router:      router,
		QToRouter:   qToRouter,
		QFromRouter: qFromRouter,
		PortMasks:   portMasks,
		PacketPool:  pool,
		Output:      output,
		Policy:      policy,
		Burst:       burst,
		Stats:       stats,
		Logger:      logger,
		rng:         rand.New(rand.NewSource(seed)),
		pullBuf:     make([]Handle, burst),
		pushBuf:     make([]Handle, burst),
	}
}

// Step pulls toward every neighbor group, advances the timeslot counter,
// then shuffles and pushes newly-arrived packets.
func (d *RouterDriver) Step() {
	for j, mask := range d.PortMasks {
		n := d.Router.PullBatch(d.pullBuf, mask, d.curTime)
		if n == 0 {
			continue
		}
		d.Stats.Pulled += uint64(n)
		batch := d.pullBuf[:n]
		for !d.QFromRouter[j].EnqueueBulk(batch) {
			switch d.Policy {
			case DropOnFailedEnqueue:
				for _, h := range batch {
					d.Output.Drop(h)
				}
				if d.Logger != nil {
					d.Logger.Warn("dropped router pull batch: egress ring full", "neighbor", j, "count", n)
				}
				goto nextNeighbor
			default:
				d.Stats.AllocFailed++
			}
		}
	nextNeighbor:
	}

	d.curTime++

	n := d.QToRouter.DequeueBurst(d.pushBuf)
	if n == 0 {
		return
	}
	batch := d.pushBuf[:n]
	fisherYatesShuffle(batch, d.rng)
	d.Router.PushBatch(batch, d.curTime, d.PacketPool, d.rng, d.Output, d.Stats)
}

// Cleanup drains q_to_router and every egress ring this driver owns, plus
// the router's own queue bank, returning every freed packet to the pool.
func (d *RouterDriver) Cleanup() {
	drainRing := func(r *Ring[Handle]) {
		buf := make([]Handle, r.Cap())
		for {
			n := r.DequeueBurst(buf)
			if n == 0 {
				return
			}
			for _, h := range buf[:n] {
				d.PacketPool.Put(h)
			}
		}
	}
	drainRing(d.QToRouter)
	for _, r := range d.QFromRouter {
		drainRing(r)
	}
	for _, h := range d.Router.Cleanup() {
		d.PacketPool.Put(h)
	}
}

// fisherYatesShuffle randomizes batch order using driver's own PRNG, so the
// allocator's enumeration order cannot game a router's round-robin
// cursors (spec.md §4.3).
func fisherYatesShuffle(batch []Handle, rng *rand.Rand) {
	for i := len(batch) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		batch[i], batch[j] = batch[j], batch[i]
	}
}

var _ Driver = (*RouterDriver)(nil)
