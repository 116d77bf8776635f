package main

import "github.com/urfave/cli/v3"

var (
	batchSize   int64
	headNumber  int64
	headSize    int64
	headSizeV   int64
	seqLength   int64
	seqLengthKV int64
	fixedSeqLen bool
	useMask     bool
	causal      bool
	alignment   int64
	seed        int64

	schedulerMode string
	tileRows      int64
	tileCols      int64
	units         int64
	scale         float64

	logLevel   string
	logFormat  string
	debug      bool
	configFile string
)

func commonProblemFlags() []cli.Flag {
	return []cli.Flag{
		&cli.Int64Flag{
			Name:        "batch-size",
			Aliases:     []string{"batch_size", "b"},
			Usage:       "number of independent batches",
			Value:       4,
			Destination: &batchSize,
		},
		&cli.Int64Flag{
			Name:        "head-number",
			Aliases:     []string{"head_number", "heads"},
			Usage:       "attention heads per batch",
			Value:       8,
			Destination: &headNumber,
		},
		&cli.Int64Flag{
			Name:        "head-size",
			Aliases:     []string{"head_size", "d"},
			Usage:       "head dimension of Q and K",
			Value:       64,
			Destination: &headSize,
		},
		&cli.Int64Flag{
			Name:        "head-size-v",
			Aliases:     []string{"head_size_v", "dv"},
			Usage:       "head dimension of V and O (default 0 = head-size)",
			Destination: &headSizeV,
		},
		&cli.Int64Flag{
			Name:        "seq-length",
			Aliases:     []string{"seq_length", "s"},
			Usage:       "query sequence length (upper bound when lengths are randomized)",
			Value:       256,
			Destination: &seqLength,
		},
		&cli.Int64Flag{
			Name:        "seq-length-kv",
			Aliases:     []string{"seq_length_kv", "skv"},
			Usage:       "key/value sequence length (default 0 = seq-length)",
			Destination: &seqLengthKV,
		},
		&cli.BoolFlag{
			Name:        "fixed-seq-length",
			Aliases:     []string{"fixed_seq_length", "fixed"},
			Usage:       "use the exact sequence lengths instead of randomizing per batch",
			Destination: &fixedSeqLen,
		},
		&cli.BoolFlag{
			Name:        "use-mask",
			Aliases:     []string{"use_mask"},
			Usage:       "mask padded positions (requires padded problem sets)",
			Destination: &useMask,
		},
		&cli.BoolFlag{
			Name:        "causal",
			Usage:       "apply causal masking (row attends keys <= row)",
			Destination: &causal,
		},
		&cli.Int64Flag{
			Name:        "alignment",
			Usage:       "sequence-length alignment granule",
			Value:       1,
			Destination: &alignment,
		},
		&cli.Int64Flag{
			Name:        "seed",
			Usage:       "length/operand RNG seed (default -1 = random)",
			Value:       -1,
			Destination: &seed,
		},
	}
}

func commonLaunchFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:        "scheduler-mode",
			Aliases:     []string{"scheduler_mode", "sched"},
			Usage:       "work distribution mode (device-only, host-precompute)",
			Value:       "device-only",
			Destination: &schedulerMode,
		},
		&cli.Int64Flag{
			Name:        "tile-rows",
			Aliases:     []string{"tile_rows"},
			Usage:       "query rows per tile (default 0 = engine default)",
			Destination: &tileRows,
		},
		&cli.Int64Flag{
			Name:        "tile-cols",
			Aliases:     []string{"tile_cols"},
			Usage:       "key columns per tile (default 0 = engine default)",
			Destination: &tileCols,
		},
		&cli.Int64Flag{
			Name:        "units",
			Aliases:     []string{"u"},
			Usage:       "execution unit cap (default 0 = occupancy-derived)",
			Destination: &units,
		},
		&cli.Float64Flag{
			Name:        "scale",
			Usage:       "softmax scale (default 0 = 1/sqrt(head-size))",
			Destination: &scale,
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
		&cli.BoolFlag{
			Name:        "debug",
			Usage:       "enable debug logging (shorthand for --log-level=debug)",
			Destination: &debug,
		},
		&cli.StringFlag{
			Name:        "config",
			Usage:       "path to config file (default ~/.config/fmha/config.yaml)",
			Destination: &configFile,
		},
	}
}
