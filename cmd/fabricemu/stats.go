package main

import (
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"github.com/spf13/cobra"

	"github.com/aousterh/fabricemu"
	"github.com/aousterh/fabricemu/internal/config"
)

func newStatsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Run a fixed number of timeslots single-threaded and print the resulting stats as JSON",
		Long: `stats builds a topology and steps it synchronously (no goroutines, no
CPU affinity) for a fixed slot count, injecting uniform random demand each
slot. Useful for scripted, reproducible batch runs where a seed pins the
result exactly, unlike "run"'s free-running wall-clock loop.`,
		RunE: runStats,
	}
	cmd.Flags().String("config", "", "path to a YAML topology config file")
	cmd.Flags().Int("slots", 1000, "number of timeslots to step")
	cmd.Flags().Int("demand-per-slot", 1, "packets injected per rack per timeslot")
	return cmd
}

func runStats(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	configPath, _ := cmd.Flags().GetString("config")
	loader.SetConfigFile(configPath)
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}
	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	topo, err := fabricemu.BuildTopology(cfg)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = 1
	}
	rng := rand.New(rand.NewSource(seed))
	alloc := fabricemu.NewMockAllocator(topo)

	slots, _ := cmd.Flags().GetInt("slots")
	demandPerSlot, _ := cmd.Flags().GetInt("demand-per-slot")
	totalEndpoints := cfg.Racks * cfg.EndpointsPerRack

	start := time.Now()
	for slot := 0; slot < slots; slot++ {
		for rack := 0; rack < cfg.Racks; rack++ {
			for i := 0; i < demandPerSlot; i++ {
				src := uint16(rack*cfg.EndpointsPerRack + rng.Intn(cfg.EndpointsPerRack))
				dst := uint16(rng.Intn(totalEndpoints))
				alloc.Inject(rack, src, dst, 0)
			}
		}
		fabricemu.StepOnce(topo)
		alloc.DrainAdmitted()
	}

	snap := fabricemu.NewStatsSnapshot("offline", start, topo.Stats())
	out, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
