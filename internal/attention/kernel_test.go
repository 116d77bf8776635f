package attention

import (
	"context"
	"math"
	"sync"
	"testing"
)

type runCase struct {
	set    *ProblemSet
	params Params
	driver *Driver
}

// newRunCase allocates operand buffers for set, fills them
// deterministically and builds a driver. Callers own Close.
func newRunCase(t *testing.T, set *ProblemSet, mutate func(*Params)) *runCase {
	t.Helper()
	p := Params{
		Set: set,
		Q:   make([]float32, set.ElemsQ),
		K:   make([]float32, set.ElemsK),
		V:   make([]float32, set.ElemsV),
		O:   make([]float32, set.ElemsO),
	}
	fillTestData(p.Q, 0.1)
	fillTestData(p.K, 0.2)
	fillTestData(p.V, 0.3)
	if mutate != nil {
		mutate(&p)
	}
	d, err := NewDriver(p)
	if err != nil {
		t.Fatalf("NewDriver: %v", err)
	}
	t.Cleanup(d.Close)
	return &runCase{set: set, params: p, driver: d}
}

func (rc *runCase) run(t *testing.T) {
	t.Helper()
	if err := rc.driver.Run(context.Background()); err != nil {
		t.Fatalf("Run: %v", err)
	}
}

func TestStreamingMatchesReference(t *testing.T) {
	tests := []struct {
		name     string
		cfg      SetConfig
		causal   bool
		mode     Mode
		tileRows int
		tileCols int
	}{
		{"1x1x32/fixed", SetConfig{BatchSize: 1, HeadCount: 1, HeadDimQK: 32, SeqLen: 1, FixedLengths: true}, false, ModeDeviceOnly, 0, 0},
		{"4x4x32/fixed", SetConfig{BatchSize: 1, HeadCount: 1, HeadDimQK: 32, SeqLen: 4, FixedLengths: true}, false, ModeDeviceOnly, 0, 0},
		{"128x128x64/fixed", SetConfig{BatchSize: 2, HeadCount: 1, HeadDimQK: 64, SeqLen: 128, FixedLengths: true}, false, ModeDeviceOnly, 0, 0},
		{"128x128x64/causal", SetConfig{BatchSize: 2, HeadCount: 1, HeadDimQK: 64, SeqLen: 128, FixedLengths: true}, true, ModeDeviceOnly, 0, 0},
		{"ragged/randomized", SetConfig{BatchSize: 5, HeadCount: 3, HeadDimQK: 32, SeqLen: 90, SeqLenKV: 70, Seed: 7}, false, ModeDeviceOnly, 0, 0},
		{"ragged/randomized/causal", SetConfig{BatchSize: 5, HeadCount: 3, HeadDimQK: 32, SeqLen: 90, SeqLenKV: 70, Seed: 11}, true, ModeDeviceOnly, 0, 0},
		{"ragged/host-precompute", SetConfig{BatchSize: 4, HeadCount: 2, HeadDimQK: 48, SeqLen: 85, Seed: 3}, true, ModeHostPrecompute, 0, 0},
		{"non-aligned-dims/3x5x7", SetConfig{BatchSize: 1, HeadCount: 1, HeadDimQK: 7, SeqLen: 3, SeqLenKV: 5, FixedLengths: true}, false, ModeDeviceOnly, 0, 0},
		{"odd-tiles", SetConfig{BatchSize: 3, HeadCount: 2, HeadDimQK: 33, SeqLen: 50, Seed: 5}, true, ModeDeviceOnly, 8, 24},
		{"wide-values", SetConfig{BatchSize: 2, HeadCount: 2, HeadDimQK: 32, HeadDimV: 160, SeqLen: 64, FixedLengths: true}, false, ModeDeviceOnly, 0, 0},
		{"kv-longer-than-q", SetConfig{BatchSize: 2, HeadCount: 1, HeadDimQK: 16, SeqLen: 8, SeqLenKV: 96, FixedLengths: true}, false, ModeDeviceOnly, 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			set := BuildSet(tt.cfg)
			rc := newRunCase(t, set, func(p *Params) {
				p.Causal = tt.causal
				p.Mode = tt.mode
				p.TileRows = tt.tileRows
				p.TileCols = tt.tileCols
			})
			rc.run(t)

			rep := VerifySet(rc.params)
			if !rep.OK() {
				t.Fatalf("%d of %d elements outside tolerance (max abs %g, max rel %g)",
					rep.Bad, rep.Elems, rep.MaxAbs, rep.MaxRel)
			}
		})
	}
}

func TestCausalRowZeroExact(t *testing.T) {
	set := BuildSet(SetConfig{
		BatchSize: 2, HeadCount: 1,
		HeadDimQK: 64, HeadDimV: 64,
		SeqLen: 128, FixedLengths: true,
	})
	rc := newRunCase(t, set, func(p *Params) { p.Causal = true })
	rc.run(t)

	// Row 0 sees exactly one key, so its softmax weight is 1 and the
	// output must equal the first value row bit for bit.
	for i := range set.Problems {
		p := &set.Problems[i]
		out := rc.params.O[p.OffO : p.OffO+p.Shape1.Cols]
		v0 := rc.params.V[p.OffV : p.OffV+p.Shape1.Cols]
		for d := range out {
			if out[d] != v0[d] {
				t.Fatalf("problem %d elem %d: got %v want %v", i, d, out[d], v0[d])
			}
		}
	}
}

func TestCausalIgnoresFutureKeys(t *testing.T) {
	const seq = 48
	set := BuildSet(SetConfig{
		BatchSize: 1, HeadCount: 1, HeadDimQK: 16,
		SeqLen: seq, FixedLengths: true,
	})
	rc := newRunCase(t, set, func(p *Params) {
		p.Causal = true
		p.TileRows = 8
		p.TileCols = 8
	})
	rc.run(t)
	baseline := append([]float32(nil), rc.params.O...)

	// Clobber the last key/value row; every query row before it must be
	// unaffected.
	p := &set.Problems[0]
	last := seq - 1
	for d := 0; d < p.Shape0.Inner; d++ {
		rc.params.K[p.OffK+last*p.StrideK+d] = 9
	}
	for d := 0; d < p.Shape1.Cols; d++ {
		rc.params.V[p.OffV+last*p.StrideV+d] = 9
	}
	rc.run(t)

	dimV := p.Shape1.Cols
	for r := 0; r < last; r++ {
		for d := 0; d < dimV; d++ {
			idx := p.OffO + r*p.StrideO + d
			if rc.params.O[idx] != baseline[idx] {
				t.Fatalf("row %d changed after future-key edit", r)
			}
		}
	}
	changed := false
	for d := 0; d < dimV; d++ {
		if rc.params.O[p.OffO+last*p.StrideO+d] != baseline[p.OffO+last*p.StrideO+d] {
			changed = true
			break
		}
	}
	if !changed {
		t.Fatal("final row should depend on the final key")
	}
}

func TestCausalSkipsTilesBeyondDiagonal(t *testing.T) {
	const (
		seq      = 128
		tileRows = 16
		tileCols = 16
	)
	set := BuildSet(SetConfig{
		BatchSize: 1, HeadCount: 1, HeadDimQK: 8,
		SeqLen: seq, FixedLengths: true,
	})
	rc := newRunCase(t, set, func(p *Params) {
		p.Causal = true
		p.TileRows = tileRows
		p.TileCols = tileCols
	})

	var mu sync.Mutex
	visits := make(map[[2]int][]int)
	rc.driver.tileHook = func(problem, queryTile, keyTile int) {
		mu.Lock()
		key := [2]int{problem, queryTile}
		visits[key] = append(visits[key], keyTile)
		mu.Unlock()
	}
	rc.run(t)

	fullTiles := KeyTiles(seq, tileCols)
	for qt := 0; qt < QueryTiles(seq, tileRows); qt++ {
		got := visits[[2]int{0, qt}]
		extent := KeyExtent(seq, seq, tileRows, qt, true)
		want := KeyTiles(extent, tileCols)
		if len(got) != want {
			t.Fatalf("query-tile %d visited %d key-tiles, want %d", qt, len(got), want)
		}
		for i, kt := range got {
			if kt != i {
				t.Fatalf("query-tile %d visited tiles out of order: %v", qt, got)
			}
		}
		if qt < QueryTiles(seq, tileRows)-1 && len(got) >= fullTiles {
			t.Fatalf("query-tile %d did not truncate its key range", qt)
		}
	}
}

func TestEstimatorMatchesAttendedKeys(t *testing.T) {
	// With zeroed queries every attended key gets uniform weight, and a
	// first value column of 0,1,2,... makes each output row the mean of
	// its attended indices. Inverting that mean recovers exactly how many
	// keys the kernel touched per row.
	const (
		seq  = 50
		dim  = 4
		dimV = 4
	)
	set := BuildSet(SetConfig{
		BatchSize: 1, HeadCount: 1,
		HeadDimQK: dim, HeadDimV: dimV,
		SeqLen: seq, FixedLengths: true,
	})
	rc := newRunCase(t, set, func(p *Params) {
		p.Causal = true
		p.TileRows = 16
		p.TileCols = 8
		clear(p.Q)
		clear(p.V)
		pr := &p.Set.Problems[0]
		for j := 0; j < seq; j++ {
			p.V[pr.OffV+j*pr.StrideV] = float32(j)
		}
	})
	rc.run(t)

	p := &set.Problems[0]
	for r := 0; r < seq; r++ {
		mean := float64(rc.params.O[p.OffO+r*p.StrideO])
		got := int(math.Round(2*mean + 1))
		want := AttendedCols(r, seq, true)
		if got != want {
			t.Fatalf("row %d attends %d keys, estimator says %d", r, got, want)
		}
	}
}

// paddedSet hand-builds a descriptor table whose storage extents exceed
// the real sequence lengths, the layout a masked launch uses.
func paddedSet(realLens []Lengths, storeRows, storeCols, dimQK, dimV int) *ProblemSet {
	set := &ProblemSet{
		BatchSize: len(realLens),
		HeadCount: 1,
		HeadDimQK: dimQK,
		HeadDimV:  dimV,
		Granule:   1,
		Masked:    true,
	}
	for b, l := range realLens {
		p := Problem{
			Shape0:      ProblemShape{Rows: storeRows, Cols: storeCols, Inner: dimQK},
			Shape1:      ProblemShape{Rows: storeRows, Cols: dimV, Inner: storeCols},
			RealRows:    l.Query,
			RealCols:    l.Key,
			Batch:       b,
			OffQ:        set.ElemsQ,
			OffK:        set.ElemsK,
			OffV:        set.ElemsV,
			OffO:        set.ElemsO,
			OffAccum:    set.ElemsAccum,
			StrideQ:     dimQK,
			StrideK:     dimQK,
			StrideV:     dimV,
			StrideO:     dimV,
			StrideAccum: dimV,
		}
		set.Problems = append(set.Problems, p)
		set.ElemsQ += storeRows * dimQK
		set.ElemsK += storeCols * dimQK
		set.ElemsV += storeCols * dimV
		set.ElemsO += storeRows * dimV
		set.ElemsAccum += storeRows * dimV
	}
	return set
}

func TestMaskedRealLengthsBoundDomain(t *testing.T) {
	set := paddedSet([]Lengths{{Query: 20, Key: 17}, {Query: 8, Key: 0}}, 32, 64, 16, 16)
	if err := set.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	const sentinel = 7
	rc := newRunCase(t, set, func(p *Params) {
		for i := range p.O {
			p.O[i] = sentinel
		}
	})
	rc.run(t)

	rep := VerifySet(rc.params)
	if !rep.OK() {
		t.Fatalf("masked output outside tolerance: %+v", rep)
	}

	// Rows past the real query length must never be written.
	for i := range set.Problems {
		p := &set.Problems[i]
		for r := p.RealRows; r < p.Shape1.Rows; r++ {
			for d := 0; d < p.Shape1.Cols; d++ {
				if rc.params.O[p.OffO+r*p.StrideO+d] != sentinel {
					t.Fatalf("problem %d row %d was written past its real length", i, r)
				}
			}
		}
	}

	// A real query row with zero attendable keys resolves to zero output.
	p := &set.Problems[1]
	for r := 0; r < p.RealRows; r++ {
		for d := 0; d < p.Shape1.Cols; d++ {
			if got := rc.params.O[p.OffO+r*p.StrideO+d]; got != 0 {
				t.Fatalf("zero-key row %d emitted %v, want 0", r, got)
			}
		}
	}
}

func TestKernelTinyHandComputed(t *testing.T) {
	set := BuildSet(SetConfig{
		BatchSize: 1, HeadCount: 1,
		HeadDimQK: 2, HeadDimV: 2,
		SeqLen: 1, SeqLenKV: 2, FixedLengths: true,
	})
	rc := newRunCase(t, set, func(p *Params) {
		p.Scale = 1
		copy(p.Q, []float32{1, 0})
		copy(p.K, []float32{1, 0, 0, 1})
		copy(p.V, []float32{2, 0, 0, 4})
	})
	rc.run(t)

	e := math.Exp(1)
	w0 := e / (e + 1)
	w1 := 1 / (e + 1)
	want := []float32{float32(2 * w0), float32(4 * w1)}
	compareSlices(t, rc.params.O, want, 1e-6)
}

func fillTestData(x []float32, scale float32) {
	for i := range x {
		x[i] = scale * float32((i%29)-14)
	}
}

func compareSlices(t *testing.T, got, want []float32, tol float32) {
	t.Helper()
	if len(got) != len(want) {
		t.Fatalf("length mismatch: got %d want %d", len(got), len(want))
	}
	for i := range got {
		g := got[i]
		w := want[i]
		if g < w-tol || g > w+tol {
			t.Fatalf("mismatch at %d: got %v want %v±%v", i, g, w, tol)
		}
	}
}
