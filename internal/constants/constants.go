// Package constants holds default sizing and topology limits shared across
// the fabric emulator.
package constants

// Default configuration constants
const (
	// DefaultRingSize is the default capacity of every packet ring
	// (packet_ring_size in spec.md §6).
	DefaultRingSize = 128

	// DefaultPacketMempoolSize is the default number of pre-allocated
	// packet slots in the packet arena (PACKET_MEMPOOL_SIZE).
	DefaultPacketMempoolSize = 1 << 16

	// DefaultAdmittedMempoolSize is the default number of pre-allocated
	// admitted-batch slots (ADMITTED_MEMPOOL_SIZE).
	DefaultAdmittedMempoolSize = 256

	// DefaultAdmitsPerAdmitted is the default capacity of one admitted
	// batch (EMU_ADMITS_PER_ADMITTED).
	DefaultAdmitsPerAdmitted = 64

	// DefaultBacklogCap is the default maximum number of packets queued
	// per endpoint across all of its destinations.
	DefaultBacklogCap = 512

	// DefaultCellCapacity is the default occupancy limit of one queue
	// cell in a router's queue bank.
	DefaultCellCapacity = 64

	// MaxEndpointsPerRack is the hard limit on endpoints per rack; port
	// masks are 64 bits wide, one bit per endpoint/port.
	MaxEndpointsPerRack = 64

	// MaxRouterPorts is the maximum number of ports addressable by a
	// single 64-bit port mask.
	MaxRouterPorts = 64

	// DefaultEndpointBurst bounds how many packets a single
	// EndpointDriver.process_new/push call will drain from a ring in one
	// timeslot (mirrors ENDPOINT_MAX_BURST in original_source/emulation.cc).
	DefaultEndpointBurst = 128

	// DefaultRouterBurst bounds how many packets a single RouterDriver
	// pull/push call will move in one timeslot (mirrors ROUTER_MAX_BURST).
	DefaultRouterBurst = 128
)
