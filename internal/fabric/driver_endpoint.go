package fabric

import "github.com/aousterh/fabricemu/internal/logging"

// EndpointDriver binds one EndpointGroup to its four rings and steps it
// through push, pull, and process_new in that fixed order every timeslot
// (spec.md §4.4): a packet pulled in slot t cannot reach a router pull in
// the same slot, because it must first cross q_to_router.
type EndpointDriver struct {
	Group       *EndpointGroup
	QNew        *Ring[Handle]
	QResets     *Ring[uint16]
	QToRouter   *Ring[Handle]
	QFromRouter *Ring[Handle]
	Output      *Output
	Policy      DropPolicy
	Burst       int
	Stats       *Stats
	Logger      *logging.Logger

	pushBuf []Handle
	pullBuf []Handle
	newBuf  []Handle
	resetBuf []uint16
}

// NewEndpointDriver wires a driver around an already-constructed group and
// its rings.
func NewEndpointDriver(group *EndpointGroup, qNew *Ring[Handle], qResets *Ring[uint16], qToRouter, qFromRouter *Ring[Handle], output *Output, policy DropPolicy, burst int, stats *Stats, logger *logging.Logger) *EndpointDriver {
	return &EndpointDriver{
		Group:       group,
		QNew:        qNew,
		QResets:     qResets,
		QToRouter:   qToRouter,
		QFromRouter: qFromRouter,
		Output:      output,
		Policy:      policy,
		Burst:       burst,
		Stats:       stats,
		Logger:      logger,
		pushBuf:     make([]Handle, burst),
		pullBuf:     make([]Handle, burst),
		newBuf:      make([]Handle, burst),
		resetBuf:    make([]uint16, burst),
	}
}

// Step executes push, pull, process_new in that order.
func (d *EndpointDriver) Step() {
	d.push()
	d.pull()
	d.processNew()
}

func (d *EndpointDriver) push() {
	n := d.QFromRouter.DequeueBurst(d.pushBuf)
	if n == 0 {
		return
	}
	d.Group.PushBatch(d.pushBuf[:n])
	d.Stats.Pushed += uint64(n)
}

func (d *EndpointDriver) pull() {
	n := d.Group.PullBatch(d.pullBuf)
	if n == 0 {
		return
	}
	d.Stats.Pulled += uint64(n)
	batch := d.pullBuf[:n]
	for !d.QToRouter.EnqueueBulk(batch) {
		switch d.Policy {
		case DropOnFailedEnqueue:
			for _, h := range batch {
				d.Output.Drop(h)
			}
			if d.Logger != nil {
				d.Logger.Warn("dropped pulled batch: q_to_router full", "count", n)
			}
			return
		default:
			d.Stats.AllocFailed++
		}
	}
}

func (d *EndpointDriver) processNew() {
	n := d.QNew.DequeueBurst(d.newBuf)
	if n == 0 {
		return
	}
	d.Group.NewPackets(d.newBuf[:n])
}

// ResetDrain services q_resets, calling Group.Reset for each pending token.
func (d *EndpointDriver) ResetDrain() {
	n := d.QResets.DequeueBurst(d.resetBuf)
	for _, epID := range d.resetBuf[:n] {
		d.Group.Reset(epID)
	}
}

// Cleanup drains every ring this driver owns, returning packets to the
// packet pool directly (q_resets carries bare endpoint ids, not handles).
func (d *EndpointDriver) Cleanup(packetPool *Mempool[Packet]) {
	drainRing := func(r *Ring[Handle]) {
		buf := make([]Handle, r.Cap())
		for {
			n := r.DequeueBurst(buf)
			if n == 0 {
				return
			}
			for _, h := range buf[:n] {
				packetPool.Put(h)
			}
		}
	}
	drainRing(d.QNew)
	drainRing(d.QToRouter)
	drainRing(d.QFromRouter)

	// Drain any backlog still held by the group itself.
	for i := range d.Group.endpoints {
		ep := d.Group.endpoints[i]
		for _, dst := range ep.destOrder {
			q := ep.backlogs[dst]
			for {
				h, ok := q.pop()
				if !ok {
					break
				}
				packetPool.Put(h)
			}
		}
	}
}

var _ Driver = (*EndpointDriver)(nil)
