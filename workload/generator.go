package workload

import (
	"math"
	"math/rand"
	"time"
)

// GeneratorConfig mirrors the original SST component's workload knobs
// (computeServer.cc generate_workload/get_zipfian_key), kept here only as
// a reference generator for the demo command and tests — real workload
// generation is external per spec.md §1.
type GeneratorConfig struct {
	OpsPerSecond uint32
	Duration     time.Duration
	ReadRatio    float64 // fraction of ops that are searches
	ZipfianAlpha float64 // <= 0 selects a uniform key distribution
	KeyRange     uint64
	NodeID       uint32
	Seed         int64
}

// Generator reproduces the original's read-ratio / zipfian-key shape:
// rand < ReadRatio picks a search, otherwise a 90/10 insert/delete split
// (delete stays in the mix for fidelity with the original's BTreeOp enum,
// even though the engine never executes it — see workload.Kind).
type Generator struct {
	cfg GeneratorConfig
	rng *rand.Rand
}

func NewGenerator(cfg GeneratorConfig) *Generator {
	seed := cfg.Seed
	if seed == 0 {
		seed = int64(cfg.NodeID) + 1
	}
	return &Generator{cfg: cfg, rng: rand.New(rand.NewSource(seed))}
}

// Fill populates q with one operation per op_interval = 1s/OpsPerSecond,
// starting at start, for the generator's configured Duration.
func (g *Generator) Fill(q *Queue, start time.Time) {
	if g.cfg.OpsPerSecond == 0 {
		return
	}
	interval := time.Second / time.Duration(g.cfg.OpsPerSecond)
	for elapsed := time.Duration(0); elapsed < g.cfg.Duration; elapsed += interval {
		q.Push(g.next(start.Add(elapsed)))
	}
}

func (g *Generator) next(at time.Time) Item {
	key := g.zipfianKey()
	item := Item{Key: key, ScheduledTime: at}

	r := g.rng.Float64()
	switch {
	case r < g.cfg.ReadRatio:
		item.Kind = OpSearch
	case g.rng.Float64() < 0.9:
		item.Kind = OpInsert
		item.Value = key*1000 + uint64(g.cfg.NodeID)
	default:
		item.Kind = OpDelete
	}
	return item
}

// zipfianKey draws a key in [0, KeyRange) from a Zipfian distribution
// (rank-based, matching the original's get_zipfian_key intent) or a plain
// uniform distribution when ZipfianAlpha <= 0.
func (g *Generator) zipfianKey() uint64 {
	keyRange := g.cfg.KeyRange
	if keyRange == 0 {
		keyRange = 1
	}
	if g.cfg.ZipfianAlpha <= 0 {
		return uint64(g.rng.Int63n(int64(keyRange)))
	}

	// Rejection-free approximate Zipfian sampler: draw a uniform value in
	// (0,1), invert the Zipf CDF for the requested alpha.
	u := g.rng.Float64()
	if u == 0 {
		u = 1e-12
	}
	rank := math.Pow(u, -1.0/g.cfg.ZipfianAlpha) - 1.0
	key := uint64(rank) % keyRange
	return key
}
