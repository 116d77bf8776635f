package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fmha/internal/attention"
	"github.com/samcharles93/fmha/internal/logger"
	"github.com/samcharles93/fmha/pkg/apf"
)

func packCmd() *cli.Command {
	var output string

	flags := append([]cli.Flag{}, commonProblemFlags()...)
	flags = append(flags, loggingFlags()...)
	flags = append(flags,
		&cli.StringFlag{
			Name:        "output",
			Aliases:     []string{"o"},
			Usage:       "path of the .apf file to write",
			Required:    true,
			Destination: &output,
		},
	)

	return &cli.Command{
		Name:  "pack",
		Usage: "Generate a problem set and write it into an .apf container",
		Flags: flags,
		Action: func(ctx context.Context, c *cli.Command) error {
			if debug {
				logLevel = "debug"
			}
			ctx = logger.WithContext(ctx, logger.New(logger.Config{Level: logLevel, Format: logFormat}))
			log := logger.FromContext(ctx)

			applyProblemConfig(c, LoadConfig())

			if seed < 0 {
				seed = time.Now().UnixNano()
			}

			// Masked and coarse-granule sets are legal container contents
			// even though the current kernel only accepts granule 1; the
			// run command enforces its own support envelope on load.
			set := attention.BuildSet(attention.SetConfig{
				BatchSize:    int(batchSize),
				HeadCount:    int(headNumber),
				HeadDimQK:    int(headSize),
				HeadDimV:     int(headSizeV),
				SeqLen:       int(seqLength),
				SeqLenKV:     int(seqLengthKV),
				FixedLengths: fixedSeqLen,
				Masked:       useMask,
				Granule:      int(alignment),
				Seed:         seed,
			})
			q := make([]float32, set.ElemsQ)
			k := make([]float32, set.ElemsK)
			v := make([]float32, set.ElemsV)
			fillOperand(q, seed+1)
			fillOperand(k, seed+2)
			fillOperand(v, seed+3)

			if err := apf.Create(output, set, q, k, v); err != nil {
				return cli.Exit(fmt.Sprintf("error: pack %s: %v", output, err), 1)
			}

			stat, err := os.Stat(output)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: stat %s: %v", output, err), 1)
			}
			log.Info("packed problem set",
				"path", output,
				"problems", set.Count(),
				"granule", set.Granule,
				"masked", set.Masked,
				"seed", seed,
			)
			fmt.Printf("Packed %d problems (%d batches x %d heads) into %s (%d bytes)\n",
				set.Count(), set.BatchSize, set.HeadCount, output, stat.Size())
			return nil
		},
	}
}
