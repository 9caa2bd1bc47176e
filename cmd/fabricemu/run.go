package main

import (
	"context"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/aousterh/fabricemu"
	"github.com/aousterh/fabricemu/internal/config"
	"github.com/aousterh/fabricemu/internal/logging"
	"github.com/aousterh/fabricemu/internal/metrics"
)

func newRunCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Build a topology from flags/config and run it under synthetic demand",
		Long: `run builds a topology, starts every core, injects uniformly-random
new-packet demand against it for the given duration, then stops the
emulation and prints an admission report.`,
		RunE: runRun,
	}

	cmd.Flags().String("config", "", "path to a YAML topology config file")
	cmd.Flags().Int("racks", 0, "number of racks (0 = use config/default)")
	cmd.Flags().Int("endpoints-per-rack", 0, "endpoints per rack (0 = use config/default)")
	cmd.Flags().Bool("core-router", false, "wire a core router between racks")
	cmd.Flags().String("assignment", "", "core assignment pattern: per-rack-plus-core-router, single-core, per-driver")
	cmd.Flags().String("discipline", "", "queueing discipline: drop-tail, red, dctcp, hull")
	cmd.Flags().Int64("seed", 0, "deterministic PRNG seed (0 = wall-clock)")
	cmd.Flags().Duration("duration", 5*time.Second, "how long to run before stopping")
	cmd.Flags().Int("demand-per-slot", 1, "packets injected per rack per 1ms demand tick")
	cmd.Flags().Bool("verbose", false, "enable debug logging")
	cmd.Flags().String("metrics-addr", "", "if set, serve Prometheus metrics on this address (e.g. :9090) while running")

	return cmd
}

func runRun(cmd *cobra.Command, args []string) error {
	loader := config.NewLoader()
	configPath, _ := cmd.Flags().GetString("config")
	loader.SetConfigFile(configPath)
	if err := loader.BindFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("binding flags: %w", err)
	}

	verbose, _ := cmd.Flags().GetBool("verbose")
	logCfg := logging.DefaultConfig()
	if verbose {
		logCfg.Level = logging.LevelDebug
	}
	logger := logging.NewLogger(logCfg)
	logging.SetDefault(logger)

	cfg, err := loader.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	cfg.Logger = logger

	em, err := fabricemu.NewEmulation(cfg)
	if err != nil {
		return fmt.Errorf("building topology: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("signal received, stopping")
		cancel()
	}()

	if err := em.Start(ctx); err != nil {
		return fmt.Errorf("starting emulation: %w", err)
	}

	info := em.Info()
	logger.Info("emulation running", "run_id", info.RunID, "racks", info.Racks, "cores", info.NumCores, "discipline", info.Discipline)

	if metricsAddr, _ := cmd.Flags().GetString("metrics-addr"); metricsAddr != "" {
		stopMetrics := serveMetrics(ctx, em, metricsAddr, logger)
		defer stopMetrics()
	}

	duration, _ := cmd.Flags().GetDuration("duration")
	demandPerSlot, _ := cmd.Flags().GetInt("demand-per-slot")
	runDemandGenerator(ctx, em, cfg, demandPerSlot)

	select {
	case <-time.After(duration):
		cancel()
	case <-ctx.Done():
	}

	if err := em.Stop(); err != nil {
		return fmt.Errorf("stopping emulation: %w", err)
	}

	fmt.Println(em.Stats().Report())
	return nil
}

// serveMetrics starts an HTTP server exposing em's running stats at
// /metrics, refreshed once per tick, until ctx is cancelled. The returned
// func shuts the server down; callers should defer it.
func serveMetrics(ctx context.Context, em *fabricemu.Emulation, addr string, logger *logging.Logger) func() {
	reporter := metrics.NewReporter()
	mux := http.NewServeMux()
	mux.Handle("/metrics", reporter.Handler())
	srv := &http.Server{Addr: addr, Handler: mux}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Warn("metrics server stopped", "err", err)
		}
	}()
	logger.Info("serving metrics", "addr", addr)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ticker := time.NewTicker(100 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				reporter.Update(em.Stats())
			}
		}
	}()

	return func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
		<-done
	}
}

// runDemandGenerator launches a goroutine that injects uniformly-random
// cross-endpoint demand into every rack's q_new ring until ctx is
// cancelled, once per millisecond tick; the cores free-run timeslots
// independently of that tick.
func runDemandGenerator(ctx context.Context, em *fabricemu.Emulation, cfg fabricemu.TopologyConfig, perSlot int) {
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))
	alloc := fabricemu.NewMockAllocator(em.Topology())
	totalEndpoints := cfg.Racks * cfg.EndpointsPerRack

	go func() {
		ticker := time.NewTicker(time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				for rack := 0; rack < cfg.Racks; rack++ {
					for i := 0; i < perSlot; i++ {
						src := uint16(rack*cfg.EndpointsPerRack + rng.Intn(cfg.EndpointsPerRack))
						dst := uint16(rng.Intn(totalEndpoints))
						flow := uint16(rng.Intn(1 << 12))
						alloc.Inject(rack, src, dst, flow)
					}
				}
			}
		}
	}()
}
