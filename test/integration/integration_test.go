// Package integration exercises the end-to-end scenarios spec.md §8
// enumerates, against a fully built Topology/Emulation rather than any one
// driver or router in isolation.
package integration

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/aousterh/fabricemu"
	"github.com/aousterh/fabricemu/internal/fabric"
)

func singleRackConfig(cellCapacity int) fabricemu.TopologyConfig {
	cfg := fabricemu.DefaultTopologyConfig()
	cfg.Racks = 1
	cfg.EndpointsPerRack = 8
	cfg.CoreRouter = false
	cfg.Assignment = fabricemu.SingleCore
	cfg.Discipline = fabric.DropTail
	cfg.CellCapacity = cellCapacity
	return cfg
}

func buildOrFatal(t *testing.T, cfg fabricemu.TopologyConfig) *fabricemu.Topology {
	t.Helper()
	topo, err := fabricemu.BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology: %v", err)
	}
	return topo
}

// Scenario 1: basic admission.
func TestBasicAdmission(t *testing.T) {
	cfg := singleRackConfig(4)
	topo := buildOrFatal(t, cfg)
	alloc := fabricemu.NewMockAllocator(topo)

	if n := alloc.InjectBacklog(0, 0, 1, 1, 3); n != 3 {
		t.Fatalf("InjectBacklog injected %d packets, want 3", n)
	}

	var admitted, dropped int
	var admitSlots []int
	// A demand reaches the backlog in slot 0, enters the ToR's cell in slot
	// 1, leaves it in slot 2 and is admitted in slot 3; the third lands in
	// slot 5.
	for slot := 0; slot < 6; slot++ {
		fabricemu.StepOnce(topo)
		for _, e := range alloc.DrainAdmitted() {
			if e.Dropped {
				dropped++
				continue
			}
			admitted++
			admitSlots = append(admitSlots, slot)
			if e.Src != 0 || e.Dst != 1 || e.Flow != 1 {
				t.Errorf("unexpected edge %+v", e)
			}
		}
	}

	if admitted != 3 {
		t.Errorf("admitted = %d, want 3", admitted)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	for i := 1; i < len(admitSlots); i++ {
		if admitSlots[i] == admitSlots[i-1] {
			t.Errorf("two admits landed in the same timeslot: %v", admitSlots)
		}
	}
}

// Scenario 2: contention round-robin between two sources of the same
// destination port.
func TestContentionRoundRobin(t *testing.T) {
	cfg := singleRackConfig(4)
	topo := buildOrFatal(t, cfg)
	alloc := fabricemu.NewMockAllocator(topo)

	alloc.InjectBacklog(0, 0, 1, 1, 2)
	alloc.InjectBacklog(0, 2, 1, 1, 2)

	var order []uint16
	var dropped int
	// Output port 1 admits one packet per slot from slot 3 on, so the
	// fourth lands in slot 6.
	for slot := 0; slot < 7; slot++ {
		fabricemu.StepOnce(topo)
		for _, e := range alloc.DrainAdmitted() {
			if e.Dropped {
				dropped++
				continue
			}
			order = append(order, e.Src)
		}
	}

	if len(order) != 4 {
		t.Fatalf("admitted %d edges, want 4: %v", len(order), order)
	}
	if dropped != 0 {
		t.Errorf("dropped = %d, want 0", dropped)
	}
	for i := 1; i < len(order); i++ {
		if order[i] == order[i-1] {
			t.Errorf("cursor did not alternate between contending sources: %v", order)
		}
	}
}

// Scenario 3: drop-tail overflow at a single congested output port.
func TestDropTailOverflow(t *testing.T) {
	cfg := singleRackConfig(4)
	topo := buildOrFatal(t, cfg)
	alloc := fabricemu.NewMockAllocator(topo)

	for src := uint16(0); src < 8; src++ {
		if !alloc.Inject(0, src, 7, 1) {
			t.Fatalf("Inject src=%d failed", src)
		}
	}

	var admitted, dropped int
	for slot := 0; slot < 20; slot++ {
		fabricemu.StepOnce(topo)
		for _, e := range alloc.DrainAdmitted() {
			if e.Dst != 7 {
				t.Errorf("unexpected destination in edge %+v", e)
			}
			if e.Dropped {
				dropped++
			} else {
				admitted++
			}
		}
	}

	if admitted != 4 {
		t.Errorf("admitted = %d, want 4", admitted)
	}
	if dropped != 4 {
		t.Errorf("dropped = %d, want 4", dropped)
	}
	if admitted+dropped != 8 {
		t.Errorf("total edges = %d, want 8", admitted+dropped)
	}
}

// Scenario 4: a reset drains an endpoint's pending demand silently, with no
// admitted or dropped edges and full mempool restoration.
func TestResetDrainsSilently(t *testing.T) {
	cfg := singleRackConfig(4)
	topo := buildOrFatal(t, cfg)
	alloc := fabricemu.NewMockAllocator(topo)

	before := topo.PacketPool.Available()
	for i := 0; i < 10; i++ {
		if !alloc.Inject(0, 3, 4, 1) {
			t.Fatalf("Inject %d failed", i)
		}
	}
	if !alloc.InjectReset(0, 3) {
		t.Fatal("InjectReset failed")
	}

	var involvingEndpoint3 int
	for slot := 0; slot < 10; slot++ {
		fabricemu.StepOnce(topo)
		for _, e := range alloc.DrainAdmitted() {
			if e.Src == 3 {
				involvingEndpoint3++
			}
		}
	}

	if involvingEndpoint3 != 0 {
		t.Errorf("got %d admitted/dropped edges from endpoint 3, want 0", involvingEndpoint3)
	}
	if after := topo.PacketPool.Available(); after != before {
		t.Errorf("packet pool not fully restored: before=%d after=%d", before, after)
	}
}

// Scenario 5: an undersized admitted ring forces Output.Flush to spin until
// a concurrent drainer relieves it, without losing any edges it produces.
func TestAdmittedBatchBackpressure(t *testing.T) {
	cfg := fabricemu.DefaultTopologyConfig()
	cfg.Racks = 1
	cfg.EndpointsPerRack = 8
	cfg.CoreRouter = false
	cfg.Assignment = fabricemu.SingleCore
	cfg.AdmitsPerAdmitted = 2
	cfg.AdmittedRingSize = 1
	cfg.AdmittedMempoolSize = 4
	cfg.Seed = 7

	emu, err := fabricemu.NewEmulation(cfg)
	if err != nil {
		t.Fatalf("NewEmulation: %v", err)
	}
	if err := emu.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	alloc := fabricemu.NewMockAllocator(emu.Topology())
	rng := rand.New(rand.NewSource(1))

	stopDrain := make(chan struct{})
	drainDone := make(chan int)
	go func() {
		// Delay the first drain so the core's free-running loop has a
		// chance to fill the single-slot admitted ring and spin on it —
		// the behavior this scenario exists to exercise.
		time.Sleep(5 * time.Millisecond)
		total := 0
		for {
			total += len(alloc.DrainAdmitted())
			select {
			case <-stopDrain:
				drainDone <- total
				return
			case <-time.After(time.Millisecond):
			}
		}
	}()

	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		for i := 0; i < cfg.EndpointsPerRack; i++ {
			dst := uint16(rng.Intn(cfg.EndpointsPerRack))
			alloc.Inject(0, uint16(i), dst, 0)
		}
	}

	close(stopDrain)
	drained := <-drainDone

	if err := emu.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	snap := emu.Stats()
	if snap.WaitForAdmitted == 0 {
		t.Error("WaitForAdmitted = 0, want > 0 under a single-slot admitted ring")
	}
	if drained == 0 {
		t.Error("drained 0 edges, want > 0")
	}
	// admit+drop is write-owned per core and only ever incremented once per
	// edge produced; it can exceed what our drainer observed (a last batch
	// may still be in flight when Stop reclaims the ring), but it must
	// never fall short of it — that would mean an edge was double-counted
	// or the drainer saw edges stats never recorded.
	if total := snap.Admit + snap.Drop; total < uint64(drained) {
		t.Errorf("stats recorded %d admit+drop, fewer than the %d edges observed", total, drained)
	}
}

// Scenario 6: packet conservation holds exactly at shutdown even when every
// ring is undersized relative to the demand driving it.
func TestPacketConservationUnderRingSaturation(t *testing.T) {
	cfg := fabricemu.DefaultTopologyConfig()
	cfg.Racks = 1
	cfg.EndpointsPerRack = 4
	cfg.CoreRouter = false
	cfg.Assignment = fabricemu.SingleCore
	cfg.CellCapacity = 2
	cfg.BacklogCap = 4
	cfg.RingSize = 4
	cfg.PacketMempoolSize = 8
	cfg.AdmittedMempoolSize = 4
	cfg.AdmitsPerAdmitted = 2
	cfg.Seed = 42

	topo := buildOrFatal(t, cfg)
	alloc := fabricemu.NewMockAllocator(topo)
	rng := rand.New(rand.NewSource(3))

	var admitted, dropped int
	drain := func() {
		for _, e := range alloc.DrainAdmitted() {
			if e.Dropped {
				dropped++
			} else {
				admitted++
			}
		}
	}

	for slot := 0; slot < 1000; slot++ {
		src := uint16(rng.Intn(cfg.EndpointsPerRack))
		dst := uint16(rng.Intn(cfg.EndpointsPerRack))
		alloc.Inject(0, src, dst, 0)
		fabricemu.StepOnce(topo)
		drain()
	}

	// Quiesce: stop injecting and keep stepping until nothing more drains,
	// so every packet still in flight when demand stopped has time to reach
	// an endpoint's backlog, cross the router, and land as Admitted/Dropped.
	for slot := 0; slot < 200; slot++ {
		fabricemu.StepOnce(topo)
		drain()
	}

	counts := alloc.CallCounts()
	successfulInjects := counts["inject"] - counts["inject_dropped"]

	if got := admitted + dropped; got != successfulInjects {
		t.Errorf("admitted+dropped = %d, want %d (= successful injects)", got, successfulInjects)
	}
	if avail := topo.PacketPool.Available(); avail != cfg.PacketMempoolSize {
		t.Errorf("packet pool available = %d, want %d (fully restored)", avail, cfg.PacketMempoolSize)
	}
	// The Output always holds one batch under construction; every other
	// batch is back in the pool once drained.
	if avail := topo.BatchPool.Available(); avail != cfg.AdmittedMempoolSize-1 {
		t.Errorf("admitted batch pool available = %d, want %d (all but the Output's batch)", avail, cfg.AdmittedMempoolSize-1)
	}
}
