package workload

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGeneratorFillSchedulesOpsAcrossDuration(t *testing.T) {
	g := NewGenerator(GeneratorConfig{
		OpsPerSecond: 100,
		Duration:     time.Second,
		ReadRatio:    0.5,
		KeyRange:     1000,
		Seed:         1,
	})
	start := time.Now()
	q := NewQueue(start.Add(time.Second))
	g.Fill(q, start)

	assert.Equal(t, 100, q.Len())
}

func TestGeneratorZipfianKeyStaysInRange(t *testing.T) {
	g := NewGenerator(GeneratorConfig{KeyRange: 50, ZipfianAlpha: 0.9, Seed: 7})
	for i := 0; i < 1000; i++ {
		key := g.zipfianKey()
		require.Less(t, key, uint64(50))
	}
}

func TestGeneratorUniformKeyStaysInRange(t *testing.T) {
	g := NewGenerator(GeneratorConfig{KeyRange: 50, ZipfianAlpha: 0, Seed: 7})
	for i := 0; i < 1000; i++ {
		key := g.zipfianKey()
		require.Less(t, key, uint64(50))
	}
}

func TestGeneratorFillNoOpWhenRateIsZero(t *testing.T) {
	g := NewGenerator(GeneratorConfig{OpsPerSecond: 0, Duration: time.Second})
	q := NewQueue(time.Now().Add(time.Second))
	g.Fill(q, time.Now())
	assert.Equal(t, 0, q.Len())
}
