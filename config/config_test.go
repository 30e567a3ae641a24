package config

import (
	"testing"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadUsesDefaultsWhenNoFlagsSet(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := BindFlags(fs)

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, Defaults(), cfg)
}

func TestLoadHonorsExplicitFlags(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--btree-fanout=32", "--num-memory-nodes=8"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, uint32(32), cfg.BTreeFanout)
	assert.Equal(t, uint32(8), cfg.NumMemoryNodes)
}

func TestLoadUniformDistributionZeroesZipfianAlpha(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	v := BindFlags(fs)
	require.NoError(t, fs.Parse([]string{"--key-distribution=uniform"}))

	cfg, err := Load(v)
	require.NoError(t, err)
	assert.Equal(t, float64(0), cfg.ZipfianAlpha)
}
