package main

import (
	"os"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/ringattn/internal/logger"
)

var (
	worldSize int64
	batchSize int64
	seqLen    int64
	dim       int64
	heads     int64
	headDim   int64
	shardSize int64
	qBlock    int64
	kBlock    int64
	causal    bool
	seed      int64
	logLevel  string
	logFormat string
)

func commonAttnFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "world",
			Aliases:     []string{"w"},
			Usage:       "number of ring ranks",
			Value:       4,
			Destination: &worldSize,
		},
		&cli.Int64Flag{
			Name:        "batch",
			Aliases:     []string{"b"},
			Usage:       "batch items per rank",
			Value:       2,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "seq-len",
			Aliases:     []string{"n"},
			Usage:       "sequence length per batch item",
			Value:       1024,
			Destination: &seqLen,
		},
		&cli.Int64Flag{
			Name:        "dim",
			Usage:       "model feature dimension",
			Value:       128,
			Destination: &dim,
		},
		&cli.Int64Flag{
			Name:        "heads",
			Usage:       "attention heads",
			Value:       4,
			Destination: &heads,
		},
		&cli.Int64Flag{
			Name:        "head-dim",
			Usage:       "dimension per head",
			Value:       32,
			Destination: &headDim,
		},
		&cli.Int64Flag{
			Name:        "shard-size",
			Usage:       "sequence shard length per rank",
			Value:       256,
			Destination: &shardSize,
		},
		&cli.Int64Flag{
			Name:        "q-block",
			Usage:       "query block size of the tiled kernel",
			Value:       64,
			Destination: &qBlock,
		},
		&cli.Int64Flag{
			Name:        "k-block",
			Usage:       "key block size of the tiled kernel",
			Value:       64,
			Destination: &kBlock,
		},
		&cli.BoolFlag{
			Name:        "causal",
			Usage:       "apply causal masking",
			Destination: &causal,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "seed for reproducible inputs and weights",
			Value:       42,
			Destination: &seed,
		},
	}
}

func loggingFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "log-level",
			Usage:       "log level (debug, info, warn, error)",
			Value:       "info",
			Destination: &logLevel,
		},
		&cli.StringFlag{
			Name:        "log-format",
			Usage:       "log format (pretty, json, text)",
			Value:       "pretty",
			Destination: &logFormat,
		},
	}
}

func buildLogger() logger.Logger {
	level := logger.ParseLevel(logLevel)
	switch logFormat {
	case "json":
		return logger.JSON(os.Stderr, level)
	case "text":
		return logger.Default()
	default:
		return logger.Pretty(os.Stderr, level)
	}
}
