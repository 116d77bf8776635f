package main

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"runtime/pprof"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fmha/internal/attention"
	"github.com/samcharles93/fmha/internal/logger"
)

type benchIteration struct {
	Run      int     `json:"run"`
	Millis   float64 `json:"ms"`
	GFlops   float64 `json:"gflops"`
	Workload int64   `json:"flops"`
}

type benchReport struct {
	ID        string `json:"id"`
	Object    string `json:"object"`
	CreatedAt int64  `json:"created_at"`

	BatchSize  int    `json:"batch_size"`
	HeadNumber int    `json:"head_number"`
	HeadSize   int    `json:"head_size"`
	HeadSizeV  int    `json:"head_size_v"`
	Causal     bool   `json:"causal"`
	Mode       string `json:"scheduler_mode"`
	TileRows   int    `json:"tile_rows"`
	TileCols   int    `json:"tile_cols"`
	Units      int    `json:"units"`
	Problems   int    `json:"problems"`
	WorkUnits  int    `json:"work_units"`
	Workspace  int64  `json:"workspace_bytes"`
	Seed       int64  `json:"seed"`

	Iterations []benchIteration `json:"iterations"`
	AvgMillis  float64          `json:"avg_ms"`
	AvgGFlops  float64          `json:"avg_gflops"`
	BestGFlops float64          `json:"best_gflops"`
}

func benchCmd() *cli.Command {
	var (
		warmupRuns int64
		benchRuns  int64
		jsonPath   string
		cpuProfile string
		memProfile string
	)

	flags := append([]cli.Flag{}, commonProblemFlags()...)
	flags = append(flags, commonLaunchFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.Int64Flag{
			Name:        "warmup",
			Usage:       "number of warmup runs",
			Value:       2,
			Destination: &warmupRuns,
		},
		&cli.Int64Flag{
			Name:        "iterations",
			Aliases:     []string{"runs", "n"},
			Usage:       "number of timed runs",
			Value:       10,
			Destination: &benchRuns,
		},
		&cli.StringFlag{
			Name:        "json",
			Usage:       "write a JSON report to file",
			Destination: &jsonPath,
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
		Name:  "bench",
		Usage: "Run standardized attention performance benchmarks",
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
			if seed < 0 {
				seed = time.Now().UnixNano()
			}

			set := attention.BuildSet(attention.SetConfig{
				BatchSize:    int(batchSize),
				HeadCount:    int(headNumber),
				HeadDimQK:    int(headSize),
				HeadDimV:     int(headSizeV),
				SeqLen:       int(seqLength),
				SeqLenKV:     int(seqLengthKV),
				FixedLengths: fixedSeqLen,
				Seed:         seed,
			})
			q := make([]float32, set.ElemsQ)
			k := make([]float32, set.ElemsK)
			v := make([]float32, set.ElemsV)
			o := make([]float32, set.ElemsO)
			fillOperand(q, seed+1)
			fillOperand(k, seed+2)
			fillOperand(v, seed+3)

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

			// One driver for every iteration: the schedule and offsets are
			// uploaded once and stay valid across repeated runs.
			driver, err := attention.NewDriver(params)
			if err != nil {
				return exitForEngineError(err)
			}
			defer driver.Close()

			tr, tc := driver.TileShape()
			workUnits, keyTiles := attention.ScheduleStats(set, tr, tc, causal)
			flops := attention.SetFlops(set, causal)

			fmt.Println("=== FMHA Benchmark ===")
			fmt.Printf("Problems:   %d (%d batches x %d heads)\n", set.Count(), set.BatchSize, set.HeadCount)
			fmt.Printf("Head dims:  qk=%d v=%d\n", set.HeadDimQK, set.HeadDimV)
			fmt.Printf("Mode:       %s\n", mode)
			fmt.Printf("Tiles:      %dx%d (%d work units, %d key tiles)\n", tr, tc, workUnits, keyTiles)
			fmt.Printf("Units:      %d\n", driver.Units())
			fmt.Printf("Workspace:  %d bytes\n", driver.WorkspaceSize())
			fmt.Printf("CPUs:       %d\n", runtime.NumCPU())
			fmt.Printf("GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))
			fmt.Printf("FLOPs/run:  %d\n", flops)
			fmt.Printf("Warmup:     %d runs\n", warmupRuns)
			fmt.Printf("Runs:       %d\n", benchRuns)
			fmt.Println()

			for i := range int(warmupRuns) {
				log.Debug("warmup run", "run", i+1)
				if err := driver.Run(ctx); err != nil {
					return exitForEngineError(err)
				}
			}

			iterations := make([]benchIteration, 0, benchRuns)
			for i := range int(benchRuns) {
				start := time.Now()
				if err := driver.Run(ctx); err != nil {
					return exitForEngineError(err)
				}
				dur := time.Since(start)
				iterations = append(iterations, benchIteration{
					Run:      i + 1,
					Millis:   float64(dur.Microseconds()) / 1e3,
					GFlops:   float64(flops) / dur.Seconds() / 1e9,
					Workload: flops,
				})
			}

			fmt.Println("=== Results ===")
			fmt.Printf("%-6s %12s %12s\n", "Run", "Duration", "GFLOP/s")
			fmt.Printf("%-6s %12s %12s\n", "---", "ms", "")

			var sumMillis, sumGFlops, bestGFlops float64
			for _, it := range iterations {
				fmt.Printf("%-6d %12.3f %12.2f\n", it.Run, it.Millis, it.GFlops)
				sumMillis += it.Millis
				sumGFlops += it.GFlops
				if it.GFlops > bestGFlops {
					bestGFlops = it.GFlops
				}
			}

			n := float64(len(iterations))
			fmt.Printf("\n%-6s %12.3f %12.2f\n", "Avg", sumMillis/n, sumGFlops/n)
			fmt.Printf("%-6s %12s %12.2f\n", "Best", "", bestGFlops)

			var mem runtime.MemStats
			runtime.ReadMemStats(&mem)
			fmt.Printf("\nMemory: %.1f MB alloc, %.1f MB sys\n",
				float64(mem.Alloc)/(1024*1024),
				float64(mem.Sys)/(1024*1024))

			if jsonPath != "" {
				report := benchReport{
					ID:         "bench_" + uuid.NewString(),
					Object:     "attention.benchmark",
					CreatedAt:  time.Now().Unix(),
					BatchSize:  set.BatchSize,
					HeadNumber: set.HeadCount,
					HeadSize:   set.HeadDimQK,
					HeadSizeV:  set.HeadDimV,
					Causal:     causal,
					Mode:       mode.String(),
					TileRows:   tr,
					TileCols:   tc,
					Units:      driver.Units(),
					Problems:   set.Count(),
					WorkUnits:  workUnits,
					Workspace:  driver.WorkspaceSize(),
					Seed:       seed,
					Iterations: iterations,
					AvgMillis:  sumMillis / n,
					AvgGFlops:  sumGFlops / n,
					BestGFlops: bestGFlops,
				}
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return cli.Exit(fmt.Sprintf("error: encode report: %v", err), -1)
				}
				if err := os.WriteFile(jsonPath, data, 0o644); err != nil {
					return cli.Exit(fmt.Sprintf("error: write report: %v", err), -1)
				}
				log.Info("wrote benchmark report", "path", jsonPath, "id", report.ID)
			}

			return nil
		},
	}
}
