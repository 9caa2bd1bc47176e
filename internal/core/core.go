// Package core pins one emulation core per OS thread and free-runs its
// drivers timeslot after timeslot.
package core

import (
	"context"
	"fmt"
	"runtime"

	"golang.org/x/sys/unix"

	"github.com/aousterh/fabricemu/internal/fabric"
	"github.com/aousterh/fabricemu/internal/logging"
)

// Config describes one core's assignment: the drivers it steps, in the
// fixed endpoint-then-router order spec.md §4.6 requires, the output it
// flushes once per timeslot, and which CPU (if any) to pin to.
type Config struct {
	Index          int
	EndpointDrivers []*fabric.EndpointDriver
	RouterDrivers   []*fabric.RouterDriver
	Output          *fabric.Output
	CPU             int // -1 means no affinity pinning
	Logger          *logging.Logger
}

// Core runs a fixed set of drivers on its own OS thread, optionally pinned
// to a single CPU. Cross-core communication happens exclusively through
// the bounded rings the drivers were constructed with; Core itself holds
// no shared state.
type Core struct {
	index           int
	endpointDrivers []*fabric.EndpointDriver
	routerDrivers   []*fabric.RouterDriver
	output          *fabric.Output
	cpu             int
	logger          *logging.Logger
}

// New builds a Core from Config. Pass CPU: -1 for no affinity pinning.
func New(cfg Config) *Core {
	return &Core{
		index:           cfg.Index,
		endpointDrivers: cfg.EndpointDrivers,
		routerDrivers:   cfg.RouterDrivers,
		output:          cfg.Output,
		cpu:             cfg.CPU,
		logger:          cfg.Logger,
	}
}

// Run pins the calling goroutine's OS thread to this core's assigned CPU
// (if any) and free-runs the timeslot loop until ctx is cancelled. ctx is
// checked only between timeslots, so a core spinning in Output.Flush on a
// full admitted ring returns only after that ring has room. On
// return, every driver this core owns has drained its rings back to the
// packet pool — the caller still owns reclaiming the shared admitted-batch
// ring (see Emulation.Stop).
func (c *Core) Run(ctx context.Context) error {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if c.cpu >= 0 {
		var mask unix.CPUSet
		mask.Set(c.cpu)
		if err := unix.SchedSetaffinity(0, &mask); err != nil {
			if c.logger != nil {
				c.logger.Warn("failed to set core CPU affinity", "core", c.index, "cpu", c.cpu, "err", err)
			}
		} else if c.logger != nil {
			c.logger.Debug("pinned core to CPU", "core", c.index, "cpu", c.cpu)
		}
	}

	if c.logger != nil {
		c.logger.Debug("core starting", "core", c.index)
	}

	for {
		select {
		case <-ctx.Done():
			c.cleanup()
			if c.logger != nil {
				c.logger.Debug("core stopped", "core", c.index)
			}
			return nil
		default:
			c.step()
		}
	}
}

func (c *Core) step() {
	for _, d := range c.endpointDrivers {
		// Resets run after process_new, so a reset also drops demand that
		// reached the backlog in this timeslot.
		d.Step()
		d.ResetDrain()
	}
	for _, d := range c.routerDrivers {
		d.Step()
	}
	if c.output != nil {
		c.output.Flush()
	}
}

// cleanup drains every driver this core owns back to the packet pool. It
// does not touch the shared admitted-batch output ring; Emulation.Stop
// drains that while the cores stop and once more after every core has
// stopped, to avoid several cores racing to drain one shared ring.
func (c *Core) cleanup() {
	for _, d := range c.endpointDrivers {
		d.Cleanup(c.packetPool())
	}
	for _, d := range c.routerDrivers {
		d.Cleanup()
	}
	if c.output != nil {
		c.output.Cleanup()
	}
}

func (c *Core) packetPool() *fabric.Mempool[fabric.Packet] {
	if len(c.endpointDrivers) > 0 {
		return c.endpointDrivers[0].Group.PacketPool()
	}
	if len(c.routerDrivers) > 0 {
		return c.routerDrivers[0].PacketPool
	}
	return nil
}

// String identifies a core for logging and error context.
func (c *Core) String() string {
	return fmt.Sprintf("core[%d]", c.index)
}
