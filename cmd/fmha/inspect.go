package main

import (
	"context"
	"fmt"

	"github.com/urfave/cli/v3"

	"github.com/samcharles93/fmha/internal/attention"
	"github.com/samcharles93/fmha/pkg/apf"
)

func inspectCmd() *cli.Command {
	var (
		input       string
		showLengths bool
		lengthLimit int64
	)

	return &cli.Command{
		Name:  "inspect",
		Usage: "Inspect the contents of an .apf problem container",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "input",
				Aliases:     []string{"i"},
				Usage:       "path to .apf file",
				Required:    true,
				Destination: &input,
			},
			&cli.BoolFlag{
				Name:        "lengths",
				Usage:       "show per-batch sequence lengths",
				Value:       true,
				Destination: &showLengths,
			},
			&cli.Int64Flag{
				Name:        "length-limit",
				Usage:       "max batches to list (0 = all)",
				Value:       32,
				Destination: &lengthLimit,
			},
		},
		Action: func(ctx context.Context, c *cli.Command) error {
			af, err := apf.Open(input)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: open %s: %v", input, err), 1)
			}
			defer func() { _ = af.Close() }()

			h := af.Header
			fmt.Printf("File:        %s\n", input)
			fmt.Printf("Format:      APF v%d.%d\n", h.Major, h.Minor)
			fmt.Printf("Size:        %d bytes\n", h.FileSize)
			fmt.Printf("Sections:    %d\n", h.SectionCount)
			if h.Flags != 0 {
				fmt.Printf("Flags:       0x%x\n", h.Flags)
			}
			fmt.Println()

			fmt.Printf("%-14s %-8s %12s %12s\n", "Section", "Version", "Offset", "Size")
			for _, s := range af.Sections {
				fmt.Printf("%-14s %-8d %12d %12d\n", apf.SectionType(s.Type), s.Version, s.Offset, s.Size)
			}
			fmt.Println()

			contents, err := apf.ReadSet(af)
			if err != nil {
				return cli.Exit(fmt.Sprintf("error: decode problem set: %v", err), 1)
			}
			set := contents.Set

			fmt.Printf("Problems:    %d (%d batches x %d heads)\n", set.Count(), set.BatchSize, set.HeadCount)
			fmt.Printf("Head dims:   qk=%d v=%d\n", set.HeadDimQK, set.HeadDimV)
			fmt.Printf("Granule:     %d\n", set.Granule)
			fmt.Printf("Masked:      %v\n", set.Masked)
			fmt.Printf("Elements:    q=%d k=%d v=%d o=%d\n", set.ElemsQ, set.ElemsK, set.ElemsV, set.ElemsO)
			fmt.Printf("FLOPs:       %d\n", attention.SetFlops(set, false))

			if showLengths {
				lens := set.BatchLengths()
				limit := len(lens)
				if lengthLimit > 0 && int(lengthLimit) < limit {
					limit = int(lengthLimit)
				}
				fmt.Println()
				fmt.Printf("%-8s %10s %10s\n", "Batch", "Query", "Key")
				for b := 0; b < limit; b++ {
					fmt.Printf("%-8d %10d %10d\n", b, lens[b].Query, lens[b].Key)
				}
				if limit < len(lens) {
					fmt.Printf("... %d more\n", len(lens)-limit)
				}
			}

			return nil
		},
	}
}
