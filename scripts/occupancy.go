package main

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/samcharles93/fmha/internal/attention"
)

type tilePoint struct {
	TileRows     int   `json:"tile_rows"`
	TileCols     int   `json:"tile_cols"`
	HeadDimV     int   `json:"head_dim_v"`
	ScratchBytes int64 `json:"scratch_budget"`
	Units        int   `json:"units"`
}

type output struct {
	GoVersion  string      `json:"go_version"`
	GoOS       string      `json:"go_os"`
	GoArch     string      `json:"go_arch"`
	CPUs       int         `json:"cpus"`
	GoMaxProcs int         `json:"gomaxprocs"`
	Points     []tilePoint `json:"points"`
}

// Prints the execution-unit occupancy the engine would derive for a grid
// of tile shapes and scratch budgets on this machine.
func main() {
	budgets := []int64{
		attention.DefaultScratchBudget / 16,
		attention.DefaultScratchBudget / 4,
		attention.DefaultScratchBudget,
	}
	shapes := [][3]int{
		{16, 32, 64},
		{32, 64, 64},
		{32, 64, 128},
		{32, 64, 256},
		{64, 64, 256},
	}

	var points []tilePoint
	for _, budget := range budgets {
		for _, s := range shapes {
			points = append(points, tilePoint{
				TileRows:     s[0],
				TileCols:     s[1],
				HeadDimV:     s[2],
				ScratchBytes: budget,
				Units:        attention.UnitsFor(s[0], s[1], s[2], budget, 0),
			})
		}
	}

	out := output{
		GoVersion:  runtime.Version(),
		GoOS:       runtime.GOOS,
		GoArch:     runtime.GOARCH,
		CPUs:       runtime.NumCPU(),
		GoMaxProcs: runtime.GOMAXPROCS(0),
		Points:     points,
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(out); err != nil {
		fmt.Fprintf(os.Stderr, "encode: %v\n", err)
		os.Exit(1)
	}
}
