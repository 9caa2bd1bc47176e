package core

import (
	"context"
	"runtime"
	"testing"
	"time"

	"github.com/aousterh/fabricemu/internal/fabric"
)

func newTestCore(t *testing.T, cpu int) *Core {
	t.Helper()
	packetPool := fabric.NewMempool[fabric.Packet](64, nil, (*fabric.Packet).Reset)
	batchPool := fabric.NewAdmittedMempool(8, 4)
	outRing := fabric.NewRing[fabric.Handle](8, fabric.MPMC)
	stats := &fabric.Stats{}
	output := fabric.NewOutput(packetPool, batchPool, outRing, stats)

	// Stand in for the allocator: once outRing is full the core spins in
	// Output.Flush and never reaches its between-timeslot ctx check.
	stopDrain := make(chan struct{})
	t.Cleanup(func() { close(stopDrain) })
	go func() {
		for {
			select {
			case <-stopDrain:
				return
			default:
			}
			if h, ok := outRing.Dequeue(); ok {
				batchPool.Put(h)
			} else {
				runtime.Gosched()
			}
		}
	}()

	qNew := fabric.NewRing[fabric.Handle](8, fabric.MPMC)
	qResets := fabric.NewRing[uint16](8, fabric.MPMC)
	qToRouter := fabric.NewRing[fabric.Handle](8, fabric.MPMC)
	qFromRouter := fabric.NewRing[fabric.Handle](8, fabric.MPMC)

	epg := fabric.NewEndpointGroup(0, 4, 16, packetPool, output, stats)
	ed := fabric.NewEndpointDriver(epg, qNew, qResets, qToRouter, qFromRouter, output, fabric.Retry, 4, stats, nil)

	resolver := func(p *fabric.Packet) (int, int) { return int(p.Src) % 4, int(p.Dst) % 4 }
	router := fabric.NewRouter(fabric.DropTail, 4, 8, resolver)
	rd := fabric.NewRouterDriver(router, qToRouter, []*fabric.Ring[fabric.Handle]{qFromRouter}, []uint64{0xF}, packetPool, output, fabric.Retry, 4, 1, stats, nil)

	return New(Config{
		Index:           0,
		EndpointDrivers: []*fabric.EndpointDriver{ed},
		RouterDrivers:   []*fabric.RouterDriver{rd},
		Output:          output,
		CPU:             cpu,
	})
}

func TestCoreRunStopsOnContextCancel(t *testing.T) {
	c := newTestCore(t, -1)
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan error, 1)
	go func() {
		done <- c.Run(ctx)
	}()

	time.Sleep(2 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run returned error: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("Run did not return after context cancellation")
	}
}

func TestCoreString(t *testing.T) {
	c := newTestCore(t, -1)
	if got := c.String(); got != "core[0]" {
		t.Errorf("String() = %q, want core[0]", got)
	}
}
