package fabricemu

import (
	"fmt"

	"github.com/aousterh/fabricemu/internal/constants"
	"github.com/aousterh/fabricemu/internal/core"
	"github.com/aousterh/fabricemu/internal/fabric"
	"github.com/aousterh/fabricemu/internal/logging"
)

// CoreAssignment selects one of the three EmulationCore assignment
// patterns spec.md §4.6 permits; any other core count is rejected at
// construction.
type CoreAssignment int

const (
	// PerRackPlusCoreRouter gives each rack its own core (running that
	// rack's endpoint driver and ToR router driver) plus one more core for
	// the core router, when one is configured. N_CORES == num_racks (+1).
	PerRackPlusCoreRouter CoreAssignment = iota
	// SingleCore runs every driver in the topology on one core.
	SingleCore
	// PerDriver gives every individual driver its own core.
	PerDriver
)

// String renders a CoreAssignment the way config and CLI output expect it.
func (a CoreAssignment) String() string {
	switch a {
	case SingleCore:
		return "single-core"
	case PerDriver:
		return "per-driver"
	default:
		return "per-rack-plus-core-router"
	}
}

// TopologyConfig describes one emulation's static shape: how many racks,
// how many endpoints each, whether a core router links them, the queueing
// discipline and its parameters, and the sizing knobs spec.md §3 leaves as
// constants but which a real deployment needs to tune per scenario.
type TopologyConfig struct {
	Racks            int
	EndpointsPerRack int
	CoreRouter       bool // num_core_routers ∈ {0,1}; false is only valid with Racks == 1
	Assignment       CoreAssignment

	Discipline    fabric.Discipline
	RED           fabric.REDParams
	DCTCP         fabric.DCTCPParams
	HULLK         float64
	HULLDrainStep float64
	HULLDrainRate float64

	CellCapacity        int
	BacklogCap          int
	RingSize            int
	// AdmittedRingSize sizes q_admitted_out independently of the packet
	// rings, so a caller can provoke its back-pressure path in isolation
	// (spec.md §8 scenario 5) without undersizing every other ring too.
	// Zero means "use RingSize".
	AdmittedRingSize    int
	PacketMempoolSize   int
	AdmittedMempoolSize int
	AdmitsPerAdmitted   int
	EndpointBurst       int
	RouterBurst         int

	DropPolicy fabric.DropPolicy
	// Seed seeds every driver's PRNG deterministically when non-zero;
	// zero means each driver seeds itself from wall-clock time.
	Seed int64
	// CPUAffinity maps core index to a CPU to pin to; nil disables pinning.
	CPUAffinity []int

	Logger *logging.Logger
}

// DefaultTopologyConfig returns a single-rack, drop-tail topology sized by
// the package's default constants — the simplest valid configuration.
func DefaultTopologyConfig() TopologyConfig {
	return TopologyConfig{
		Racks:               1,
		EndpointsPerRack:    16,
		CoreRouter:          false,
		Assignment:          SingleCore,
		Discipline:          fabric.DropTail,
		RED:                 fabric.DefaultREDParams(),
		CellCapacity:        constants.DefaultCellCapacity,
		BacklogCap:          constants.DefaultBacklogCap,
		RingSize:            constants.DefaultRingSize,
		PacketMempoolSize:   constants.DefaultPacketMempoolSize,
		AdmittedMempoolSize: constants.DefaultAdmittedMempoolSize,
		AdmitsPerAdmitted:   constants.DefaultAdmitsPerAdmitted,
		EndpointBurst:       constants.DefaultEndpointBurst,
		RouterBurst:         constants.DefaultRouterBurst,
		DropPolicy:          fabric.Retry,
	}
}

// Validate checks the configuration error conditions spec.md §4.7 and §4.6
// name explicitly.
func (c TopologyConfig) Validate() error {
	if c.Racks < 1 {
		return NewError("TopologyConfig.Validate", CodeConfigError, "racks must be >= 1")
	}
	if c.EndpointsPerRack < 1 || c.EndpointsPerRack > constants.MaxEndpointsPerRack {
		return NewError("TopologyConfig.Validate", CodeConfigError, fmt.Sprintf("endpoints_per_rack must be in [1,%d]", constants.MaxEndpointsPerRack))
	}
	if !c.CoreRouter && c.Racks != 1 {
		return NewError("TopologyConfig.Validate", CodeConfigError, "a core router is required when racks > 1")
	}
	if c.Racks > constants.MaxRouterPorts {
		return NewError("TopologyConfig.Validate", CodeConfigError, fmt.Sprintf("racks must be <= %d (core router port count)", constants.MaxRouterPorts))
	}
	if c.CellCapacity < 1 || c.BacklogCap < 1 || c.RingSize < 1 {
		return NewError("TopologyConfig.Validate", CodeConfigError, "capacities and ring size must be positive")
	}
	if c.AdmittedRingSize < 0 {
		return NewError("TopologyConfig.Validate", CodeConfigError, "admitted ring size must be >= 0 (0 means use ring_size)")
	}
	if c.PacketMempoolSize < 1 || c.AdmittedMempoolSize < 1 || c.AdmitsPerAdmitted < 1 {
		return NewError("TopologyConfig.Validate", CodeConfigError, "mempool sizes must be positive")
	}
	return nil
}

// Topology holds every allocated object a built emulation needs: the
// mempools, per-rack endpoint groups and ToR routers, the optional core
// router, every driver, and the cores that step them. Emulation wraps a
// Topology with the goroutine supervision and lifecycle state spec.md §5
// and §4.6 describe.
type Topology struct {
	cfg TopologyConfig

	PacketPool  *fabric.Mempool[fabric.Packet]
	BatchPool   *fabric.Mempool[fabric.AdmittedBatch]
	AdmittedOut *fabric.Ring[fabric.Handle]

	EndpointGroups []*fabric.EndpointGroup
	QNew           []*fabric.Ring[fabric.Handle] // allocator -> endpoint group, per rack
	QResets        []*fabric.Ring[uint16]        // allocator -> endpoint group, per rack

	stats []*fabric.Stats // one per core

	endpointDrivers []*fabric.EndpointDriver
	torDrivers      []*fabric.RouterDriver
	coreDriver      *fabric.RouterDriver

	Cores []*core.Core
}

// BuildTopology allocates and wires every object TopologyConfig describes,
// following the two-hop rack/core-router shape spec.md §4.7 generalizes
// to: each ToR router's ingress ring is shared between its rack's
// EndpointDriver (local demand heading up) and the core router's downlink
// for that rack (remote traffic heading down), so a packet crosses the
// same queue-bank matrix whichever direction it travels.
func BuildTopology(cfg TopologyConfig) (*Topology, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	admittedRingSize := cfg.AdmittedRingSize
	if admittedRingSize == 0 {
		admittedRingSize = cfg.RingSize
	}

	t := &Topology{cfg: cfg}
	t.PacketPool = fabric.NewMempool[fabric.Packet](cfg.PacketMempoolSize, nil, (*fabric.Packet).Reset)
	t.BatchPool = fabric.NewAdmittedMempool(cfg.AdmittedMempoolSize, cfg.AdmitsPerAdmitted)
	t.AdmittedOut = fabric.NewRing[fabric.Handle](admittedRingSize, fabric.MPMC)

	// One Stats+Output pair per core under PerRackPlusCoreRouter/PerDriver;
	// SingleCore shares one pair across every driver.
	newStatsOutput := func() (*fabric.Stats, *fabric.Output) {
		s := &fabric.Stats{}
		o := fabric.NewOutput(t.PacketPool, t.BatchPool, t.AdmittedOut, s)
		t.stats = append(t.stats, s)
		return s, o
	}

	uplinkMask := uint64(1) << uint(cfg.EndpointsPerRack)
	localMask := func() uint64 {
		if cfg.EndpointsPerRack >= 64 {
			return ^uint64(0)
		}
		return (uint64(1) << uint(cfg.EndpointsPerRack)) - 1
	}()

	var sharedQUplink *fabric.Ring[fabric.Handle]
	if cfg.CoreRouter {
		sharedQUplink = fabric.NewRing[fabric.Handle](cfg.RingSize, fabric.MPMC)
	}

	qToTorIngress := make([]*fabric.Ring[fabric.Handle], cfg.Racks)
	qTorToEndpoint := make([]*fabric.Ring[fabric.Handle], cfg.Racks)

	for rack := 0; rack < cfg.Racks; rack++ {
		qToTorIngress[rack] = fabric.NewRing[fabric.Handle](cfg.RingSize, fabric.MPMC)
		qTorToEndpoint[rack] = fabric.NewRing[fabric.Handle](cfg.RingSize, fabric.MPMC)
		t.QNew = append(t.QNew, fabric.NewRing[fabric.Handle](cfg.RingSize, fabric.MPMC))
		t.QResets = append(t.QResets, fabric.NewRing[uint16](cfg.RingSize, fabric.MPMC))
	}

	var epgOutputs []*fabric.Output
	var torOutputs []*fabric.Output
	if cfg.Assignment == SingleCore {
		_, sharedOutput := newStatsOutput()
		for rack := 0; rack < cfg.Racks; rack++ {
			epgOutputs = append(epgOutputs, sharedOutput)
			torOutputs = append(torOutputs, sharedOutput)
		}
	}

	torNumPorts := cfg.EndpointsPerRack
	if cfg.CoreRouter {
		torNumPorts++
	}

	for rack := 0; rack < cfg.Racks; rack++ {
		var epgStats, torStats *fabric.Stats
		var epgOutput, torOutput *fabric.Output

		switch cfg.Assignment {
		case SingleCore:
			epgOutput = epgOutputs[rack]
			epgStats = epgOutput.StatsRef()
			torOutput = torOutputs[rack]
			torStats = torOutput.StatsRef()
		case PerRackPlusCoreRouter:
			// Endpoint driver and ToR driver share a core under this
			// pattern, so they share the one Output that core flushes
			// and reclaims each timeslot.
			epgStats, epgOutput = newStatsOutput()
			torStats, torOutput = epgStats, epgOutput
		default: // PerDriver
			epgStats, epgOutput = newStatsOutput()
			torStats, torOutput = newStatsOutput()
		}

		epg := fabric.NewEndpointGroup(rack, cfg.EndpointsPerRack, cfg.BacklogCap, t.PacketPool, epgOutput, epgStats)
		t.EndpointGroups = append(t.EndpointGroups, epg)

		ed := fabric.NewEndpointDriver(epg, t.QNew[rack], t.QResets[rack], qToTorIngress[rack], qTorToEndpoint[rack], epgOutput, cfg.DropPolicy, cfg.EndpointBurst, epgStats, cfg.Logger)
		t.endpointDrivers = append(t.endpointDrivers, ed)

		localRack := rack
		resolver := func(p *fabric.Packet) (inPort, outPort int) {
			inPort = int(p.Src) % cfg.EndpointsPerRack
			dstRack := int(p.Dst) / cfg.EndpointsPerRack
			if dstRack == localRack {
				outPort = int(p.Dst) % cfg.EndpointsPerRack
			} else {
				outPort = cfg.EndpointsPerRack
			}
			return
		}
		tor := fabric.NewRouter(cfg.Discipline, torNumPorts, cfg.CellCapacity, resolver)
		applyDisciplineParams(tor, cfg)

		egress := []*fabric.Ring[fabric.Handle]{qTorToEndpoint[rack]}
		masks := []uint64{localMask}
		if cfg.CoreRouter {
			egress = append(egress, sharedQUplink)
			masks = append(masks, uplinkMask)
		}
		td := fabric.NewRouterDriver(tor, qToTorIngress[rack], egress, masks, t.PacketPool, torOutput, cfg.DropPolicy, cfg.RouterBurst, cfg.Seed, torStats, cfg.Logger)
		t.torDrivers = append(t.torDrivers, td)
	}

	if cfg.CoreRouter {
		var coreStats *fabric.Stats
		var coreOutput *fabric.Output
		if cfg.Assignment != SingleCore {
			coreStats, coreOutput = newStatsOutput()
		} else {
			coreOutput = epgOutputs[0]
			coreStats = coreOutput.StatsRef()
		}

		resolver := func(p *fabric.Packet) (inPort, outPort int) {
			inPort = int(p.Src) / cfg.EndpointsPerRack
			outPort = int(p.Dst) / cfg.EndpointsPerRack
			return
		}
		cr := fabric.NewRouter(cfg.Discipline, cfg.Racks, cfg.CellCapacity, resolver)
		applyDisciplineParams(cr, cfg)

		masks := make([]uint64, cfg.Racks)
		for rack := range masks {
			masks[rack] = uint64(1) << uint(rack)
		}
		t.coreDriver = fabric.NewRouterDriver(cr, sharedQUplink, qToTorIngress, masks, t.PacketPool, coreOutput, cfg.DropPolicy, cfg.RouterBurst, cfg.Seed, coreStats, cfg.Logger)
	}

	t.assignCores()
	return t, nil
}

func applyDisciplineParams(r *fabric.Router, cfg TopologyConfig) {
	switch cfg.Discipline {
	case fabric.RED:
		r.SetREDParams(cfg.RED)
	case fabric.DCTCP:
		r.SetDCTCPParams(cfg.DCTCP)
	case fabric.HULL:
		r.SetHULLState(fabric.NewHULLState(r.NumPorts(), cfg.HULLK, cfg.HULLDrainStep, cfg.HULLDrainRate))
	}
}

// assignCores groups the built drivers into cores per the configured
// assignment pattern.
func (t *Topology) assignCores() {
	cpu := func(i int) int {
		if i < len(t.cfg.CPUAffinity) {
			return t.cfg.CPUAffinity[i]
		}
		return -1
	}

	switch t.cfg.Assignment {
	case SingleCore:
		t.Cores = []*core.Core{core.New(core.Config{
			Index:           0,
			EndpointDrivers: t.endpointDrivers,
			RouterDrivers:   t.torRoutersPlusCore(),
			Output:          t.EndpointGroups[0].Output(),
			CPU:             cpu(0),
			Logger:          t.cfg.Logger,
		})}

	case PerDriver:
		idx := 0
		for _, ed := range t.endpointDrivers {
			t.Cores = append(t.Cores, core.New(core.Config{
				Index:           idx,
				EndpointDrivers: []*fabric.EndpointDriver{ed},
				Output:          ed.Group.Output(),
				CPU:             cpu(idx),
				Logger:          t.cfg.Logger,
			}))
			idx++
		}
		for _, td := range t.torDrivers {
			t.Cores = append(t.Cores, core.New(core.Config{
				Index:         idx,
				RouterDrivers: []*fabric.RouterDriver{td},
				Output:        td.Output,
				CPU:           cpu(idx),
				Logger:        t.cfg.Logger,
			}))
			idx++
		}
		if t.coreDriver != nil {
			t.Cores = append(t.Cores, core.New(core.Config{
				Index:         idx,
				RouterDrivers: []*fabric.RouterDriver{t.coreDriver},
				Output:        t.coreDriver.Output,
				CPU:           cpu(idx),
				Logger:        t.cfg.Logger,
			}))
		}

	default: // PerRackPlusCoreRouter
		for rack := 0; rack < t.cfg.Racks; rack++ {
			t.Cores = append(t.Cores, core.New(core.Config{
				Index:           rack,
				EndpointDrivers: []*fabric.EndpointDriver{t.endpointDrivers[rack]},
				RouterDrivers:   []*fabric.RouterDriver{t.torDrivers[rack]},
				Output:          t.endpointDrivers[rack].Group.Output(),
				CPU:             cpu(rack),
				Logger:          t.cfg.Logger,
			}))
		}
		if t.coreDriver != nil {
			t.Cores = append(t.Cores, core.New(core.Config{
				Index:         t.cfg.Racks,
				RouterDrivers: []*fabric.RouterDriver{t.coreDriver},
				Output:        t.coreDriver.Output,
				CPU:           cpu(t.cfg.Racks),
				Logger:        t.cfg.Logger,
			}))
		}
	}
}

func (t *Topology) torRoutersPlusCore() []*fabric.RouterDriver {
	drivers := append([]*fabric.RouterDriver{}, t.torDrivers...)
	if t.coreDriver != nil {
		drivers = append(drivers, t.coreDriver)
	}
	return drivers
}

// Stats returns the current per-core stats, one entry per core this
// topology allocated (shared pairs under SingleCore appear once).
func (t *Topology) Stats() []fabric.Stats {
	out := make([]fabric.Stats, len(t.stats))
	for i, s := range t.stats {
		out[i] = *s
	}
	return out
}

// DropPolicy returns the drop/retry policy this topology's drivers were
// built with, so code outside the timeslot loop (an allocator adapter
// enqueueing demand or resets from its own goroutines) can apply the same
// policy the in-process drivers use on a full ring.
func (t *Topology) DropPolicy() fabric.DropPolicy {
	return t.cfg.DropPolicy
}
