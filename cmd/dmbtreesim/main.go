// Command dmbtreesim drives the disaggregated-memory B+tree engine
// end to end against the in-process simulated remote-memory gateway, the
// way the original SST computeServer component drives it against a
// simulated RDMA NIC and memory server.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"dmbtree/addrmap"
	"dmbtree/config"
	"dmbtree/engine"
	"dmbtree/node"
	"dmbtree/rmem"
	"dmbtree/workload"
)

// maxInternalLevels bounds how many internal-node bands the address map
// reserves per memory-node slab; generous enough for any tree this demo's
// key range and fanout combination will ever grow to.
const maxInternalLevels = 6

const tickInterval = time.Millisecond

// maxOpsPerTick bounds how many due operations a single tick launches,
// per spec.md §5's note that "an implementation may bound the in-flight
// operation count".
const maxOpsPerTick = 64

func main() {
	fs := pflag.NewFlagSet("dmbtreesim", pflag.ExitOnError)
	v := config.BindFlags(fs)

	root := &cobra.Command{
		Use:   "dmbtreesim",
		Short: "Run the disaggregated-memory B+tree engine against a simulated remote-memory gateway",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(v)
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			return run(context.Background(), cfg)
		},
	}
	root.Flags().AddFlagSet(fs)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}

func run(ctx context.Context, cfg config.Config) error {
	logger := log.New(os.Stdout, "dmbtree: ", log.LstdFlags)

	nodeSize := node.Size(cfg.BTreeFanout)
	addrCfg := addrmap.NewConfig(0, addrmap.DefaultSlabSize, cfg.NumMemoryNodes, nodeSize, maxInternalLevels)

	simCtx, cancel := context.WithTimeout(ctx, cfg.SimulationDuration+2*time.Second)
	defer cancel()

	gw := rmem.NewSimGateway(simCtx, addrCfg, 50*time.Microsecond, 500*time.Microsecond)
	defer gw.Close()

	eng := engine.New(addrCfg, cfg.BTreeFanout, gw, logger)
	if err := eng.Init(simCtx); err != nil {
		return fmt.Errorf("initializing tree: %w", err)
	}

	start := time.Now()
	queue := workload.NewQueue(start.Add(cfg.SimulationDuration))
	gen := workload.NewGenerator(workload.GeneratorConfig{
		OpsPerSecond: cfg.OpsPerSecond,
		Duration:     cfg.SimulationDuration,
		ReadRatio:    cfg.ReadRatio,
		ZipfianAlpha: cfg.ZipfianAlpha,
		KeyRange:     cfg.KeyRange,
		NodeID:       cfg.NodeID,
	})
	gen.Fill(queue, start)

	logger.Printf("scheduled %d operations over %s (fanout=%d, memory-nodes=%d)",
		queue.Len(), cfg.SimulationDuration, cfg.BTreeFanout, cfg.NumMemoryNodes)

	eng.Run(simCtx, queue, tickInterval, maxOpsPerTick)

	snap := eng.Stats.Snapshot()
	logger.Printf("done: inserts=%d searches=%d reads=%d writes=%d completed=%d",
		snap.Inserts, snap.Searches, snap.RemoteReads, snap.RemoteWrites, snap.OperationsCompleted)
	if snap.OperationsCompleted > 0 {
		avg := time.Duration(snap.TotalLatencyNanos / snap.OperationsCompleted)
		logger.Printf("average completion latency: %s", avg)
	}
	return nil
}
