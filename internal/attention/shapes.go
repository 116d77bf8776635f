package attention

import "math/rand"

// ProblemShape describes the logical extent of one matrix multiply as
// (output rows, output columns, reduction depth).
type ProblemShape struct {
	Rows  int
	Cols  int
	Inner int
}

// Problem is one (batch, head) attention sub-problem. Shape0 covers the
// score multiply Q·Kᵀ, Shape1 the value multiply P·V; the two are linked:
// Shape0.Rows == Shape1.Rows and Shape0.Cols == Shape1.Inner.
//
// RealRows and RealCols are the un-padded sequence extents. Storage layout
// uses the aligned shape extents; the real extents bound the valid softmax
// domain. With an alignment granule of 1 the two coincide.
//
// Offsets locate the sub-problem's contiguous region inside one flat
// per-operand buffer; strides are elements between consecutive rows.
type Problem struct {
	Shape0 ProblemShape
	Shape1 ProblemShape

	RealRows int
	RealCols int

	Batch int
	Head  int

	OffQ, OffK, OffV, OffO, OffAccum                int
	StrideQ, StrideK, StrideV, StrideO, StrideAccum int
}

// ProblemSet is the full descriptor table for one grouped launch: every
// sub-problem's shapes, strides and offsets, plus the flat element totals
// needed to allocate each operand buffer. Construction is pure; the set is
// consumed read-only afterwards.
type ProblemSet struct {
	Problems []Problem

	BatchSize int
	HeadCount int
	HeadDimQK int
	HeadDimV  int
	Granule   int
	Masked    bool

	ElemsQ, ElemsK, ElemsV, ElemsO, ElemsAccum int
}

// Lengths carries one batch's query and key sequence lengths. Heads within
// a batch share lengths.
type Lengths struct {
	Query int
	Key   int
}

// SetConfig drives problem-set construction.
type SetConfig struct {
	BatchSize int
	HeadCount int
	HeadDimQK int
	HeadDimV  int // 0 means HeadDimQK

	SeqLen   int // query length (fixed) or upper bound (randomized)
	SeqLenKV int // 0 means SeqLen

	FixedLengths bool  // false randomizes per-batch lengths in [1, bound]
	Masked       bool  // retain real extents for masking
	Granule      int   // alignment granule, 0 means 1
	Seed         int64 // randomized-length seed
}

func (c *SetConfig) normalize() {
	if c.HeadDimV == 0 {
		c.HeadDimV = c.HeadDimQK
	}
	if c.SeqLenKV == 0 {
		c.SeqLenKV = c.SeqLen
	}
	if c.Granule == 0 {
		c.Granule = 1
	}
}

// BuildSet constructs the descriptor table for batch_size × head_count
// sub-problems. With FixedLengths every batch uses (SeqLen, SeqLenKV);
// otherwise lengths are drawn per batch from [1, bound] with the given
// seed.
func BuildSet(cfg SetConfig) *ProblemSet {
	cfg.normalize()
	lens := make([]Lengths, cfg.BatchSize)
	if cfg.FixedLengths {
		for b := range lens {
			lens[b] = Lengths{Query: cfg.SeqLen, Key: cfg.SeqLenKV}
		}
	} else {
		rng := rand.New(rand.NewSource(cfg.Seed))
		for b := range lens {
			lens[b] = Lengths{
				Query: 1 + rng.Intn(cfg.SeqLen),
				Key:   1 + rng.Intn(cfg.SeqLenKV),
			}
		}
	}
	return BuildSetFromLengths(cfg, lens)
}

// BuildSetFromLengths constructs the descriptor table from explicit
// per-batch lengths. len(lens) must equal cfg.BatchSize; zero lengths are
// permitted and produce sub-problems that schedule no work.
func BuildSetFromLengths(cfg SetConfig, lens []Lengths) *ProblemSet {
	cfg.normalize()
	if cfg.BatchSize < 1 || cfg.HeadCount < 1 {
		panic("batch size and head count must be positive")
	}
	if cfg.HeadDimQK < 1 || cfg.HeadDimV < 1 {
		panic("head dimensions must be positive")
	}
	if len(lens) != cfg.BatchSize {
		panic("length table does not match batch size")
	}

	set := &ProblemSet{
		Problems:  make([]Problem, 0, cfg.BatchSize*cfg.HeadCount),
		BatchSize: cfg.BatchSize,
		HeadCount: cfg.HeadCount,
		HeadDimQK: cfg.HeadDimQK,
		HeadDimV:  cfg.HeadDimV,
		Granule:   cfg.Granule,
		Masked:    cfg.Masked,
	}

	for b := 0; b < cfg.BatchSize; b++ {
		if lens[b].Query < 0 || lens[b].Key < 0 {
			panic("negative sequence length")
		}
		rows := alignUp(lens[b].Query, cfg.Granule)
		cols := alignUp(lens[b].Key, cfg.Granule)
		realRows, realCols := rows, cols
		if cfg.Masked {
			realRows, realCols = lens[b].Query, lens[b].Key
		}
		for h := 0; h < cfg.HeadCount; h++ {
			p := Problem{
				Shape0:      ProblemShape{Rows: rows, Cols: cols, Inner: cfg.HeadDimQK},
				Shape1:      ProblemShape{Rows: rows, Cols: cfg.HeadDimV, Inner: cols},
				RealRows:    realRows,
				RealCols:    realCols,
				Batch:       b,
				Head:        h,
				OffQ:        set.ElemsQ,
				OffK:        set.ElemsK,
				OffV:        set.ElemsV,
				OffO:        set.ElemsO,
				OffAccum:    set.ElemsAccum,
				StrideQ:     cfg.HeadDimQK,
				StrideK:     cfg.HeadDimQK,
				StrideV:     cfg.HeadDimV,
				StrideO:     cfg.HeadDimV,
				StrideAccum: cfg.HeadDimV,
			}
			set.Problems = append(set.Problems, p)
			set.ElemsQ += rows * cfg.HeadDimQK
			set.ElemsK += cols * cfg.HeadDimQK
			set.ElemsV += cols * cfg.HeadDimV
			set.ElemsO += rows * cfg.HeadDimV
			set.ElemsAccum += rows * cfg.HeadDimV
		}
	}
	return set
}

// Count returns the number of sub-problems.
func (s *ProblemSet) Count() int { return len(s.Problems) }

// BatchLengths recovers the per-batch real lengths, one entry per batch.
func (s *ProblemSet) BatchLengths() []Lengths {
	lens := make([]Lengths, s.BatchSize)
	for b := 0; b < s.BatchSize; b++ {
		p := &s.Problems[b*s.HeadCount]
		lens[b] = Lengths{Query: p.RealRows, Key: p.RealCols}
	}
	return lens
}

// Validate checks the cross-shape invariants and offset monotonicity.
// Sets built by BuildSet always pass; this guards sets deserialized from
// external sources.
func (s *ProblemSet) Validate() error {
	if s.Granule < 1 {
		return errBadGranule
	}
	if len(s.Problems) != s.BatchSize*s.HeadCount {
		return errBadCount
	}
	var offQ, offK, offV, offO int
	for i := range s.Problems {
		p := &s.Problems[i]
		if p.Shape0.Rows != p.Shape1.Rows {
			return errRowMismatch
		}
		if p.Shape0.Cols != p.Shape1.Inner {
			return errInnerMismatch
		}
		if p.RealRows > p.Shape0.Rows || p.RealCols > p.Shape0.Cols {
			return errRealExceedsAligned
		}
		if p.RealRows < 0 || p.RealCols < 0 {
			return errRealExceedsAligned
		}
		if p.OffQ != offQ || p.OffK != offK || p.OffV != offV || p.OffO != offO {
			return errOffsetGap
		}
		offQ += p.Shape0.Rows * p.StrideQ
		offK += p.Shape0.Cols * p.StrideK
		offV += p.Shape1.Inner * p.StrideV
		offO += p.Shape1.Rows * p.StrideO
	}
	if offQ != s.ElemsQ || offK != s.ElemsK || offV != s.ElemsV || offO != s.ElemsO {
		return errOffsetGap
	}
	return nil
}

func alignUp(n, granule int) int {
	if granule <= 1 {
		return n
	}
	return (n + granule - 1) / granule * granule
}
