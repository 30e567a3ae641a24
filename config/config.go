// Package config loads the §6.4 configuration surface using viper, the
// way codenotary-immudb's cmd/immudb/command package binds flags/env into
// a settings struct.
package config

import (
	"strings"
	"time"

	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Config is the compute node's recognized option set from spec.md §6.4.
type Config struct {
	NodeID             uint32        `mapstructure:"node_id"`
	NumMemoryNodes     uint32        `mapstructure:"num_memory_nodes"`
	BTreeFanout        uint32        `mapstructure:"btree_fanout"`
	KeyRange           uint64        `mapstructure:"key_range"`
	OpsPerSecond       uint32        `mapstructure:"ops_per_second"`
	SimulationDuration time.Duration `mapstructure:"simulation_duration"`
	ReadRatio          float64       `mapstructure:"read_ratio"`
	ZipfianAlpha       float64       `mapstructure:"zipfian_alpha"`
	KeyDistribution    string        `mapstructure:"key_distribution"`
}

// Defaults mirror the original SST component's SST_ELI_DOCUMENT_PARAMS
// defaults (computeServer.h), preserved so the demo command reproduces
// the original's out-of-the-box workload shape.
func Defaults() Config {
	return Config{
		NodeID:             0,
		NumMemoryNodes:     4,
		BTreeFanout:        16,
		KeyRange:           1_000_000,
		OpsPerSecond:       10_000,
		SimulationDuration: time.Second,
		ReadRatio:          0.95,
		ZipfianAlpha:       0.9,
		KeyDistribution:    "zipfian",
	}
}

// BindFlags registers the configuration surface on fs and returns a
// *viper.Viper pre-bound to those flags plus the DMBTREE_ environment
// prefix, so values can come from flags, env, or a config file in that
// order of precedence.
func BindFlags(fs *pflag.FlagSet) *viper.Viper {
	d := Defaults()

	fs.Uint32("node-id", d.NodeID, "identity of this compute node")
	fs.Uint32("num-memory-nodes", d.NumMemoryNodes, "number of memory-node slabs (N)")
	fs.Uint32("btree-fanout", d.BTreeFanout, "keys per B+tree node")
	fs.Uint64("key-range", d.KeyRange, "upper bound of the key domain")
	fs.Uint32("ops-per-second", d.OpsPerSecond, "operation schedule density")
	fs.Duration("simulation-duration", d.SimulationDuration, "operation schedule horizon")
	fs.Float64("read-ratio", d.ReadRatio, "fraction of operations that are searches")
	fs.Float64("zipfian-alpha", d.ZipfianAlpha, "zipfian skew parameter (<=0 selects uniform)")
	fs.String("key-distribution", d.KeyDistribution, "workload key distribution (zipfian|uniform)")

	v := viper.New()
	v.SetEnvPrefix("dmbtree")
	v.AutomaticEnv()
	// Flags use hyphens, the mapstructure keys use underscores: bind each
	// flag under its underscored key so Unmarshal can find it.
	fs.VisitAll(func(f *pflag.Flag) {
		_ = v.BindPFlag(strings.ReplaceAll(f.Name, "-", "_"), f)
	})
	return v
}

// Load reads bound flags/env into a Config, filling in defaults for
// anything unset.
func Load(v *viper.Viper) (Config, error) {
	cfg := Defaults()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, err
	}
	if cfg.KeyDistribution == "uniform" {
		cfg.ZipfianAlpha = 0
	}
	return cfg, nil
}
