package api

import (
	"context"
	"time"

	"github.com/samcharles93/fmha/internal/attention"
	"github.com/samcharles93/fmha/internal/tensor"
)

// AttentionService builds problem sets from request parameters, drives
// the grouped kernel and checks results against the exact reference.
type AttentionService struct {
	now func() time.Time
}

func NewAttentionService() *AttentionService {
	return &AttentionService{now: time.Now}
}

func (spec *ProblemSpec) setConfig() (attention.SetConfig, error) {
	if spec.BatchSize < 1 {
		return attention.SetConfig{}, newInvalidRequest("batch_size must be positive, got %d", spec.BatchSize)
	}
	if spec.HeadNumber < 1 {
		return attention.SetConfig{}, newInvalidRequest("head_number must be positive, got %d", spec.HeadNumber)
	}
	if spec.HeadSize < 1 {
		return attention.SetConfig{}, newInvalidRequest("head_size must be positive, got %d", spec.HeadSize)
	}
	if spec.HeadSizeV < 0 {
		return attention.SetConfig{}, newInvalidRequest("head_size_v must not be negative, got %d", spec.HeadSizeV)
	}
	if spec.SeqLength < 1 {
		return attention.SetConfig{}, newInvalidRequest("seq_length must be positive, got %d", spec.SeqLength)
	}
	if spec.SeqLengthKV < 0 {
		return attention.SetConfig{}, newInvalidRequest("seq_length_kv must not be negative, got %d", spec.SeqLengthKV)
	}
	if spec.Alignment < 0 {
		return attention.SetConfig{}, newInvalidRequest("alignment must not be negative, got %d", spec.Alignment)
	}
	return attention.SetConfig{
		BatchSize:    spec.BatchSize,
		HeadCount:    spec.HeadNumber,
		HeadDimQK:    spec.HeadSize,
		HeadDimV:     spec.HeadSizeV,
		SeqLen:       spec.SeqLength,
		SeqLenKV:     spec.SeqLengthKV,
		FixedLengths: spec.FixedLength,
		Masked:       spec.UseMask,
		Granule:      spec.Alignment,
		Seed:         spec.Seed,
	}, nil
}

// Estimate reports scheduling and sizing numbers without running anything.
func (s *AttentionService) Estimate(req *EstimateRequest) (*EstimateResponse, error) {
	cfg, err := req.setConfig()
	if err != nil {
		return nil, err
	}
	set := attention.BuildSet(cfg)

	tileRows := req.TileRows
	if tileRows == 0 {
		tileRows = attention.DefaultTileRows
	}
	tileCols := req.TileCols
	if tileCols == 0 {
		tileCols = attention.DefaultTileCols
	}
	if tileRows < 1 || tileCols < 1 {
		return nil, newInvalidRequest("tile sizes must be positive, got %dx%d", tileRows, tileCols)
	}

	workUnits, keyTiles := attention.ScheduleStats(set, tileRows, tileCols, req.Causal)
	return &EstimateResponse{
		Object:    "attention.estimate",
		Problems:  set.Count(),
		WorkUnits: workUnits,
		KeyTiles:  keyTiles,
		Flops:     attention.SetFlops(set, req.Causal),
		ElemsQ:    set.ElemsQ,
		ElemsK:    set.ElemsK,
		ElemsV:    set.ElemsV,
		ElemsO:    set.ElemsO,
	}, nil
}

// Run executes one launch and returns its record. Execution and
// configuration errors come back as the error; a reference-check
// mismatch comes back as a failed record.
func (s *AttentionService) Run(ctx context.Context, req *RunRequest) (*RunResponse, error) {
	cfg, err := req.setConfig()
	if err != nil {
		return nil, err
	}

	mode := attention.ModeDeviceOnly
	if req.SchedulerMode != "" {
		mode, err = attention.ParseMode(req.SchedulerMode)
		if err != nil {
			return nil, newInvalidRequest("scheduler_mode: %v", err)
		}
	}
	if req.Units < 0 {
		return nil, newInvalidRequest("units must not be negative, got %d", req.Units)
	}

	set := attention.BuildSet(cfg)
	q := make([]float32, set.ElemsQ)
	k := make([]float32, set.ElemsK)
	v := make([]float32, set.ElemsV)
	o := make([]float32, set.ElemsO)
	fillOperand(q, req.Seed+1)
	fillOperand(k, req.Seed+2)
	fillOperand(v, req.Seed+3)

	params := attention.Params{
		Set:      set,
		Q:        q,
		K:        k,
		V:        v,
		O:        o,
		Scale:    req.Scale,
		Causal:   req.Causal,
		Mode:     mode,
		TileRows: req.TileRows,
		TileCols: req.TileCols,
		MaxUnits: req.Units,
	}

	driver, err := attention.NewDriver(params)
	if err != nil {
		return nil, err
	}
	defer driver.Close()

	start := s.now()
	if err := driver.Run(ctx); err != nil {
		return nil, err
	}
	elapsed := s.now().Sub(start)

	tileRows, tileCols := driver.TileShape()
	workUnits, _ := attention.ScheduleStats(set, tileRows, tileCols, req.Causal)
	flops := attention.SetFlops(set, req.Causal)

	resp := &RunResponse{
		Status:       "completed",
		Request:      *req,
		Problems:     set.Count(),
		WorkUnits:    workUnits,
		Units:        driver.Units(),
		ScratchAccum: driver.ScratchAccum(),
		Workspace:    driver.WorkspaceSize(),
		Flops:        flops,
		ElapsedMS:    float64(elapsed.Microseconds()) / 1e3,
	}
	if elapsed > 0 {
		resp.GFlops = float64(flops) / elapsed.Seconds() / 1e9
	}

	if req.Check == nil || *req.Check {
		report := attention.VerifySet(params)
		passed := report.OK()
		resp.Checked = true
		resp.Passed = &passed
		resp.MaxAbsError = report.MaxAbs
		resp.MaxRelError = report.MaxRel
		if !passed {
			resp.Status = "failed"
			resp.Error = "output diverges from reference"
		}
	}
	return resp, nil
}

// fillOperand writes reproducible pseudo-random values through the dense
// matrix helpers so generated operands match the CLI's data path.
func fillOperand(buf []float32, seed int64) {
	if len(buf) == 0 {
		return
	}
	m := tensor.NewMatFromData(1, len(buf), buf)
	tensor.FillRand(&m, seed)
}
