package main

import (
	"context"
	"fmt"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ringattn/internal/tensor"
)

// BenchReport is the machine-readable result of one bench invocation.
type BenchReport struct {
	WorldSize  int     `json:"world_size"`
	Batch      int     `json:"batch"`
	SeqLen     int     `json:"seq_len"`
	Heads      int     `json:"heads"`
	HeadDim    int     `json:"head_dim"`
	ShardSize  int     `json:"shard_size"`
	Causal     bool    `json:"causal"`
	Runs       int     `json:"runs"`
	RefMS      float64 `json:"reference_ms"`
	RingMS     float64 `json:"ring_ms"`
	MaxAbsDiff float64 `json:"max_abs_diff"`
}

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		jsonOut    string
	)

	flags := append(commonAttnFlags(), loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       1,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "runs",
			Usage:       "number of timed runs",
			Value:       3,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "json",
			Usage:       "write a JSON report to this path",
			Destination: &jsonOut,
		},
	)

	return &cli.Command{
		Name:  "bench",
		Usage: "Time ring attention against the full-sequence reference",
		Flags: flags,
		Action: func(ctx context.Context, cmd *cli.Command) error {
			applyConfig(cmd, loadConfig())
			log := buildLogger()

			cfg := moduleConfig()
			x := tensor.NewSeq(int(batchSize), int(seqLen), int(dim))
			tensor.FillSeqRand(x, seed)

			for i := int64(0); i < warmupRuns; i++ {
				if _, err := referenceForward(cfg, x); err != nil {
					return err
				}
				if _, err := ringForward(cfg, x, int(worldSize)); err != nil {
					return err
				}
			}

			var refOut, ringOut *tensor.Seq
			var refTotal, ringTotal time.Duration
			for i := int64(0); i < benchRuns; i++ {
				start := time.Now()
				out, err := referenceForward(cfg, x)
				if err != nil {
					return err
				}
				refTotal += time.Since(start)
				refOut = out

				start = time.Now()
				out, err = ringForward(cfg, x, int(worldSize))
				if err != nil {
					return err
				}
				ringTotal += time.Since(start)
				ringOut = out
			}

			report := BenchReport{
				WorldSize:  int(worldSize),
				Batch:      int(batchSize),
				SeqLen:     int(seqLen),
				Heads:      int(heads),
				HeadDim:    int(headDim),
				ShardSize:  int(shardSize),
				Causal:     causal,
				Runs:       int(benchRuns),
				RefMS:      float64(refTotal.Milliseconds()) / float64(benchRuns),
				RingMS:     float64(ringTotal.Milliseconds()) / float64(benchRuns),
				MaxAbsDiff: maxAbsDiff(refOut.Data, ringOut.Data),
			}

			log.Info("bench complete",
				"reference_ms", report.RefMS,
				"ring_ms", report.RingMS,
				"max_abs_diff", report.MaxAbsDiff)
			fmt.Printf("reference: %.1f ms/run  ring(w=%d): %.1f ms/run  max abs diff: %.3g\n",
				report.RefMS, report.WorldSize, report.RingMS, report.MaxAbsDiff)

			if jsonOut != "" {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return err
				}
				if err := os.WriteFile(jsonOut, data, 0o644); err != nil {
					return fmt.Errorf("write report: %w", err)
				}
			}
			return nil
		},
	}
}
