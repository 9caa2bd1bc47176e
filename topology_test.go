package fabricemu

import (
	"testing"

	"github.com/aousterh/fabricemu/internal/fabric"
)

func TestTopologyConfigValidate(t *testing.T) {
	cases := []struct {
		name    string
		mutate  func(*TopologyConfig)
		wantErr bool
	}{
		{"default ok", func(c *TopologyConfig) {}, false},
		{"zero racks", func(c *TopologyConfig) { c.Racks = 0 }, true},
		{"zero endpoints", func(c *TopologyConfig) { c.EndpointsPerRack = 0 }, true},
		{"too many endpoints", func(c *TopologyConfig) { c.EndpointsPerRack = 1 << 20 }, true},
		{"multi-rack without core router", func(c *TopologyConfig) { c.Racks = 2; c.CoreRouter = false }, true},
		{"zero cell capacity", func(c *TopologyConfig) { c.CellCapacity = 0 }, true},
		{"zero ring size", func(c *TopologyConfig) { c.RingSize = 0 }, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultTopologyConfig()
			tc.mutate(&cfg)
			err := cfg.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestBuildTopologySingleCore(t *testing.T) {
	cfg := DefaultTopologyConfig()
	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}
	if len(topo.Cores) != 1 {
		t.Fatalf("expected 1 core under SingleCore, got %d", len(topo.Cores))
	}
	if len(topo.EndpointGroups) != 1 {
		t.Fatalf("expected 1 endpoint group, got %d", len(topo.EndpointGroups))
	}
}

func TestBuildTopologyPerDriver(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.Racks = 2
	cfg.CoreRouter = true
	cfg.Assignment = PerDriver

	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}
	// 2 endpoint drivers + 2 tor drivers + 1 core router driver = 5 cores.
	if len(topo.Cores) != 5 {
		t.Fatalf("expected 5 cores under PerDriver, got %d", len(topo.Cores))
	}
}

func TestStepOnceSingleRackLoopback(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.EndpointsPerRack = 4
	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}

	alloc := NewMockAllocator(topo)
	if !alloc.Inject(0, 0, 1, 0) {
		t.Fatal("Inject failed")
	}

	var edges []fabric.Edge
	for i := 0; i < 8 && len(edges) == 0; i++ {
		StepOnce(topo)
		edges = append(edges, alloc.DrainAdmitted()...)
	}

	if len(edges) == 0 {
		t.Fatal("expected the injected packet to surface as an admitted or dropped edge")
	}
	if edges[0].Src != 0 || edges[0].Dst != 1 {
		t.Errorf("edge = %+v, want src=0 dst=1", edges[0])
	}
}

func TestStepOnceTwoRackCrossTraffic(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.Racks = 2
	cfg.EndpointsPerRack = 4
	cfg.CoreRouter = true
	cfg.Assignment = PerRackPlusCoreRouter

	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}

	alloc := NewMockAllocator(topo)
	// Endpoint 0 on rack 0 targets endpoint 4 (rack 1's first endpoint).
	if !alloc.Inject(0, 0, 4, 0) {
		t.Fatal("Inject failed")
	}

	var edges []fabric.Edge
	for i := 0; i < 16 && len(edges) == 0; i++ {
		StepOnce(topo)
		edges = append(edges, alloc.DrainAdmitted()...)
	}

	if len(edges) == 0 {
		t.Fatal("expected cross-rack traffic to surface as an admitted or dropped edge")
	}
}

func TestMockAllocatorCallCounts(t *testing.T) {
	cfg := DefaultTopologyConfig()
	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}
	alloc := NewMockAllocator(topo)
	alloc.Inject(0, 0, 1, 0)
	alloc.Inject(0, 1, 2, 0)
	alloc.InjectReset(0, 0)
	alloc.DrainAdmitted()

	counts := alloc.CallCounts()
	if counts["inject"] != 2 || counts["reset"] != 1 || counts["drain"] != 1 {
		t.Errorf("CallCounts() = %+v, want inject=2 reset=1 drain=1", counts)
	}

	alloc.Reset()
	counts = alloc.CallCounts()
	if counts["inject"] != 0 || counts["reset"] != 0 || counts["drain"] != 0 {
		t.Errorf("CallCounts() after Reset = %+v, want all zero", counts)
	}
}

func TestMockAllocatorInjectBacklog(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.EndpointsPerRack = 4
	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}
	alloc := NewMockAllocator(topo)

	n := alloc.InjectBacklog(0, 0, 1, 7, 3)
	if n != 3 {
		t.Fatalf("InjectBacklog returned %d, want 3", n)
	}
	if topo.QNew[0].Len() != 3 {
		t.Errorf("q_new len = %d, want 3", topo.QNew[0].Len())
	}

	var edges []fabric.Edge
	for i := 0; i < 8 && len(edges) < 3; i++ {
		StepOnce(topo)
		edges = append(edges, alloc.DrainAdmitted()...)
	}
	if len(edges) != 3 {
		t.Fatalf("got %d edges, want 3", len(edges))
	}
}

func TestMockAllocatorInjectBacklogStopsOnAllocFailure(t *testing.T) {
	cfg := DefaultTopologyConfig()
	cfg.EndpointsPerRack = 4
	cfg.PacketMempoolSize = 2
	topo, err := BuildTopology(cfg)
	if err != nil {
		t.Fatalf("BuildTopology failed: %v", err)
	}
	alloc := NewMockAllocator(topo)

	n := alloc.InjectBacklog(0, 0, 1, 0, 5)
	if n != 2 {
		t.Fatalf("InjectBacklog returned %d, want 2 (pool exhausted after 2)", n)
	}

	stats := topo.EndpointGroups[0].Stats()
	if stats.PacketAllocFailed != 1 {
		t.Errorf("PacketAllocFailed = %d, want 1", stats.PacketAllocFailed)
	}
}
