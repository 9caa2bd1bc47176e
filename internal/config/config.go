// Package config loads a TopologyConfig from a YAML file, environment
// variables, and command-line flags, in that increasing order of
// precedence, via viper.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/aousterh/fabricemu"
	"github.com/aousterh/fabricemu/internal/fabric"
	"github.com/aousterh/fabricemu/internal/logging"
)

// EnvPrefix namespaces every environment variable this package recognizes,
// e.g. FABRICEMU_RACKS, FABRICEMU_DISCIPLINE.
const EnvPrefix = "FABRICEMU"

// Loader wraps a viper instance pre-bound to the flags and environment
// variables a topology configuration needs.
type Loader struct {
	v *viper.Viper
}

// NewLoader builds a Loader seeded with package defaults, ready to have a
// config file path set and flags bound before Load is called.
func NewLoader() *Loader {
	v := viper.New()
	def := fabricemu.DefaultTopologyConfig()

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("racks", def.Racks)
	v.SetDefault("endpoints-per-rack", def.EndpointsPerRack)
	v.SetDefault("core-router", def.CoreRouter)
	v.SetDefault("assignment", "single-core")
	v.SetDefault("discipline", "drop-tail")
	v.SetDefault("cell_capacity", def.CellCapacity)
	v.SetDefault("backlog_cap", def.BacklogCap)
	v.SetDefault("ring_size", def.RingSize)
	v.SetDefault("packet_mempool_size", def.PacketMempoolSize)
	v.SetDefault("admitted_mempool_size", def.AdmittedMempoolSize)
	v.SetDefault("admits_per_admitted", def.AdmitsPerAdmitted)
	v.SetDefault("endpoint_burst", def.EndpointBurst)
	v.SetDefault("router_burst", def.RouterBurst)
	v.SetDefault("seed", def.Seed)
	v.SetDefault("red.weight", def.RED.Weight)
	v.SetDefault("red.min_th", def.RED.MinTh)
	v.SetDefault("red.max_th", def.RED.MaxTh)
	v.SetDefault("red.max_p", def.RED.MaxP)
	v.SetDefault("dctcp.mark_threshold", fabric.DefaultDCTCPParams(def.CellCapacity).MarkThreshold)
	v.SetDefault("hull.k", 50.0)
	v.SetDefault("hull.drain_step", 1.0)
	v.SetDefault("hull.drain_rate", 1.0)

	return &Loader{v: v}
}

// SetConfigFile points the loader at a YAML config file. An empty path
// leaves defaults and environment/flag overrides as the only sources.
func (l *Loader) SetConfigFile(path string) {
	if path == "" {
		return
	}
	l.v.SetConfigFile(path)
}

// BindFlags binds a cobra/pflag flag set so flag values take precedence
// over both the config file and the environment.
func (l *Loader) BindFlags(flags *pflag.FlagSet) error {
	return l.v.BindPFlags(flags)
}

// Load reads the bound config file (if any), then decodes the merged
// file/env/flag values into a TopologyConfig.
func (l *Loader) Load() (fabricemu.TopologyConfig, error) {
	if l.v.ConfigFileUsed() != "" {
		if err := l.v.ReadInConfig(); err != nil {
			return fabricemu.TopologyConfig{}, fabricemu.WrapError("config.Load", err)
		}
	}

	cfg := fabricemu.DefaultTopologyConfig()
	cfg.Racks = l.v.GetInt("racks")
	cfg.EndpointsPerRack = l.v.GetInt("endpoints-per-rack")
	cfg.CoreRouter = l.v.GetBool("core-router")
	cfg.Seed = l.v.GetInt64("seed")
	cfg.CellCapacity = l.v.GetInt("cell_capacity")
	cfg.BacklogCap = l.v.GetInt("backlog_cap")
	cfg.RingSize = l.v.GetInt("ring_size")
	cfg.PacketMempoolSize = l.v.GetInt("packet_mempool_size")
	cfg.AdmittedMempoolSize = l.v.GetInt("admitted_mempool_size")
	cfg.AdmitsPerAdmitted = l.v.GetInt("admits_per_admitted")
	cfg.EndpointBurst = l.v.GetInt("endpoint_burst")
	cfg.RouterBurst = l.v.GetInt("router_burst")

	assignment, err := parseAssignment(l.v.GetString("assignment"))
	if err != nil {
		return fabricemu.TopologyConfig{}, err
	}
	cfg.Assignment = assignment

	discipline, err := parseDiscipline(l.v.GetString("discipline"))
	if err != nil {
		return fabricemu.TopologyConfig{}, err
	}
	cfg.Discipline = discipline

	cfg.RED = fabric.REDParams{
		Weight: l.v.GetFloat64("red.weight"),
		MinTh:  l.v.GetFloat64("red.min_th"),
		MaxTh:  l.v.GetFloat64("red.max_th"),
		MaxP:   l.v.GetFloat64("red.max_p"),
	}
	cfg.DCTCP = fabric.DCTCPParams{MarkThreshold: l.v.GetInt("dctcp.mark_threshold")}
	cfg.HULLK = l.v.GetFloat64("hull.k")
	cfg.HULLDrainStep = l.v.GetFloat64("hull.drain_step")
	cfg.HULLDrainRate = l.v.GetFloat64("hull.drain_rate")

	cfg.Logger = logging.Default()

	if err := cfg.Validate(); err != nil {
		return fabricemu.TopologyConfig{}, err
	}
	return cfg, nil
}

func parseAssignment(s string) (fabricemu.CoreAssignment, error) {
	switch strings.ToLower(s) {
	case "", "per-rack-plus-core-router", "per_rack_plus_core_router":
		return fabricemu.PerRackPlusCoreRouter, nil
	case "single-core", "single_core":
		return fabricemu.SingleCore, nil
	case "per-driver", "per_driver":
		return fabricemu.PerDriver, nil
	default:
		return 0, fabricemu.NewError("config.parseAssignment", fabricemu.CodeConfigError, fmt.Sprintf("unknown core assignment %q", s))
	}
}

func parseDiscipline(s string) (fabric.Discipline, error) {
	switch strings.ToLower(s) {
	case "", "drop-tail", "drop_tail", "droptail":
		return fabric.DropTail, nil
	case "red":
		return fabric.RED, nil
	case "dctcp":
		return fabric.DCTCP, nil
	case "hull":
		return fabric.HULL, nil
	default:
		return 0, fabricemu.NewError("config.parseDiscipline", fabricemu.CodeConfigError, fmt.Sprintf("unknown discipline %q", s))
	}
}
