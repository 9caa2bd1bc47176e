package fabricemu

import "github.com/aousterh/fabricemu/internal/constants"

// Re-export constants for public API
const (
	DefaultRingSize             = constants.DefaultRingSize
	DefaultPacketMempoolSize    = constants.DefaultPacketMempoolSize
	DefaultAdmittedMempoolSize  = constants.DefaultAdmittedMempoolSize
	DefaultAdmitsPerAdmitted    = constants.DefaultAdmitsPerAdmitted
	DefaultBacklogCap           = constants.DefaultBacklogCap
	DefaultCellCapacity         = constants.DefaultCellCapacity
	MaxEndpointsPerRack         = constants.MaxEndpointsPerRack
	MaxRouterPorts              = constants.MaxRouterPorts
	DefaultEndpointBurst        = constants.DefaultEndpointBurst
	DefaultRouterBurst          = constants.DefaultRouterBurst
)
