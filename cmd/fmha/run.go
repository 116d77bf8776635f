package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"runtime/pprof"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fmha/internal/attention"
	"github.com/samcharles93/fmha/internal/logger"
	"github.com/samcharles93/fmha/internal/tensor"
	"github.com/samcharles93/fmha/pkg/apf"
)

func runCmd() *cli.Command {
	var (
		input          string
		referenceCheck bool
		showProblems   bool

		// Profiling
		cpuProfile string
		memProfile string
	)

	flags := append([]cli.Flag{}, commonProblemFlags()...)
	flags = append(flags, commonLaunchFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "input",
			Aliases:     []string{"i"},
			Usage:       "load the problem set and operands from an .apf file instead of generating them",
			Destination: &input,
		},
		&cli.BoolFlag{
			Name:        "reference-check",
			Aliases:     []string{"reference_check", "check"},
			Usage:       "verify the output against the full-softmax reference",
			Value:       true,
			Destination: &referenceCheck,
		},
		&cli.BoolFlag{
			Name:        "show-problems",
			Usage:       "print per-batch sequence lengths",
			Value:       true,
			Destination: &showProblems,
		},
		&cli.StringFlag{
			Name:        "cpuprofile",
			Aliases:     []string{"cpu-profile"},
			Usage:       "write cpu profile to file",
			Destination: &cpuProfile,
		},
		&cli.StringFlag{
			Name:        "memprofile",
			Aliases:     []string{"mem-profile"},
			Usage:       "write memory profile to file",
			Destination: &memProfile,
		},
	)

	return &cli.Command{
		Name:  "run",
		Usage: "Run one grouped attention launch and verify it",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if cpuProfile != "" {
				f, err := os.Create(cpuProfile)
				if err != nil {
					return cli.Exit(fmt.Sprintf("could not create CPU profile: %v", err), 1)
				}
				defer func() { _ = f.Close() }()
				if err := pprof.StartCPUProfile(f); err != nil {
					return cli.Exit(fmt.Sprintf("could not start CPU profile: %v", err), 1)
				}
				defer pprof.StopCPUProfile()
			}

			if memProfile != "" {
				defer func() {
					f, err := os.Create(memProfile)
					if err != nil {
						fmt.Fprintf(os.Stderr, "could not create memory profile: %v\n", err)
						return
					}
					defer func() { _ = f.Close() }()
					if err := pprof.WriteHeapProfile(f); err != nil {
						fmt.Fprintf(os.Stderr, "could not write memory profile: %v\n", err)
					}
				}()
			}

			if debug {
				logLevel = "debug"
			}
			ctx = logger.WithContext(ctx, logger.New(logger.Config{Level: logLevel, Format: logFormat}))
			log := logger.FromContext(ctx)

			applyProblemConfig(c, LoadConfig())

			if useMask {
				return cli.Exit("error: unsupported configuration: masking requires padded problem sets (--use-mask)", -2)
			}
			if alignment != 1 {
				return cli.Exit(fmt.Sprintf("error: unsupported configuration: alignment granule %d (kernel requires 1)", alignment), -2)
			}

			mode, err := attention.ParseMode(schedulerMode)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: %v", err), -1)
			}

			var (
				set     *attention.ProblemSet
				q, k, v []float32
			)
			if input != "" {
				contents, closeFn, err := loadProblemFile(input)
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: load %s: %v", input, err), -1)
				}
				defer closeFn()
				set, q, k, v = contents.Set, contents.Q, contents.K, contents.V
				log.Info("loaded problem set",
					"path", input,
					"problems", set.Count(),
					"granule", set.Granule,
					"masked", set.Masked,
				)
			} else {
				if seed < 0 {
					seed = time.Now().UnixNano()
				}
				set = attention.BuildSet(attention.SetConfig{
					BatchSize:    int(batchSize),
					HeadCount:    int(headNumber),
					HeadDimQK:    int(headSize),
					HeadDimV:     int(headSizeV),
					SeqLen:       int(seqLength),
					SeqLenKV:     int(seqLengthKV),
					FixedLengths: fixedSeqLen,
					Seed:         seed,
				})
				q = make([]float32, set.ElemsQ)
				k = make([]float32, set.ElemsK)
				v = make([]float32, set.ElemsV)
				fillOperand(q, seed+1)
				fillOperand(k, seed+2)
				fillOperand(v, seed+3)
			}

			o := make([]float32, set.ElemsO)
			params := attention.Params{
				Set:      set,
				Q:        q,
				K:        k,
				V:        v,
				O:        o,
				Scale:    scale,
				Causal:   causal,
				Mode:     mode,
				TileRows: int(tileRows),
				TileCols: int(tileCols),
				MaxUnits: int(units),
			}

			driver, err := attention.NewDriver(params)
			if err != nil {
				return exitForEngineError(err)
			}
			defer driver.Close()

			tr, tc := driver.TileShape()
			workUnits, keyTiles := attention.ScheduleStats(set, tr, tc, causal)
			log.Info("initialized",
				"problems", set.Count(),
				"work_units", workUnits,
				"units", driver.Units(),
				"workspace_bytes", driver.WorkspaceSize(),
				"scratch_accum", driver.ScratchAccum(),
			)

			start := time.Now()
			if err := driver.Run(ctx); err != nil {
				return exitForEngineError(err)
			}
			elapsed := time.Since(start)

			flops := attention.SetFlops(set, causal)
			fmt.Println("=== Grouped Attention ===")
			fmt.Printf("Problems:   %d (%d batches x %d heads)\n", set.Count(), set.BatchSize, set.HeadCount)
			fmt.Printf("Head dims:  qk=%d v=%d\n", set.HeadDimQK, set.HeadDimV)
			fmt.Printf("Mode:       %s\n", mode)
			fmt.Printf("Tiles:      %dx%d (%d work units, %d key tiles)\n", tr, tc, workUnits, keyTiles)
			fmt.Printf("Units:      %d\n", driver.Units())
			fmt.Printf("Workspace:  %d bytes\n", driver.WorkspaceSize())
			fmt.Printf("Elapsed:    %s\n", elapsed.Round(time.Microsecond))
			fmt.Printf("Throughput: %.2f GFLOP/s\n", float64(flops)/elapsed.Seconds()/1e9)

			if showProblems {
				lens := set.BatchLengths()
				limit := len(lens)
				if limit > 16 {
					limit = 16
				}
				fmt.Println()
				fmt.Printf("%-8s %10s %10s\n", "Batch", "Query", "Key")
				for b := 0; b < limit; b++ {
					fmt.Printf("%-8d %10d %10d\n", b, lens[b].Query, lens[b].Key)
				}
				if limit < len(lens) {
					fmt.Printf("... %d more\n", len(lens)-limit)
				}
				fmt.Println()
			}

			if referenceCheck {
				rep := attention.VerifySet(params)
				if !rep.OK() {
					fmt.Printf("Check:      FAILED (%d/%d elements, max abs %.3e, max rel %.3e)\n",
						rep.Bad, rep.Elems, rep.MaxAbs, rep.MaxRel)
					return cli.Exit("error: output diverges from reference", -1)
				}
				fmt.Printf("Check:      passed (%d elements, max abs %.3e, max rel %.3e)\n",
					rep.Elems, rep.MaxAbs, rep.MaxRel)
			}

			return nil
		},
	}
}

// loadProblemFile opens an .apf container and decodes the problem set plus
// operand payloads. The returned close function unmaps the file; the
// operand slices alias the mapping and must not be used after it runs.
func loadProblemFile(path string) (*apf.Contents, func(), error) {
	af, err := apf.Open(path)
	if err != nil {
		return nil, nil, err
	}
	contents, err := apf.ReadSet(af)
	if err != nil {
		_ = af.Close()
		return nil, nil, err
	}
	return contents, func() { _ = af.Close() }, nil
}

func fillOperand(buf []float32, seed int64) {
	if len(buf) == 0 {
		return
	}
	m := tensor.NewMatFromData(1, len(buf), buf)
	tensor.FillRand(&m, seed)
}

// exitForEngineError maps engine errors onto the harness exit-code contract:
// unsupported configurations exit -2, anything else -1.
func exitForEngineError(err error) error {
	if errors.Is(err, attention.ErrUnsupportedConfig) {
		return cli.Exit(fmt.Sprintf("error: unsupported configuration: %v", err), -2)
	}
	return cli.Exit(fmt.Sprintf("error: %v", err), -1)
}
