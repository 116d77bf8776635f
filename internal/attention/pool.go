package attention

import "runtime"

// DefaultScratchBudget caps the total scratch the pool may carve into
// per-unit slabs, in bytes.
const DefaultScratchBudget = 64 << 20

// launch carries one persistent-grid execution into a worker: the shared
// run state, the logical unit index to claim work as, and the completion
// slot the worker signals when its claim loop drains.
type launch struct {
	state *runState
	unit  int
	done  chan error
}

// unitScratch is the private streaming state of one execution unit: the
// score tile, the running max and sum vectors, and the output
// accumulator. Nothing in it is ever shared between units.
type unitScratch struct {
	scores []float64
	rowMax []float64
	rowSum []float64
	acc    []float64
}

// Pool is a fixed set of persistent execution units. Workers are spawned
// once and live until Close; each owns scratch carved from one backing
// slab. The accumulator region either sits in the same slab or, when the
// value width pushes accumulation off-register, in a caller-provided
// workspace.
type Pool struct {
	Size      int
	Tasks     chan launch
	DoneSlots chan chan error

	tileRows int
	tileCols int
	dimV     int
	slab     []float64
}

// unitScratchBytes returns the scratch footprint of a single execution
// unit for the given tile configuration.
func unitScratchBytes(tileRows, tileCols, dimV int) int64 {
	elems := int64(tileRows)*int64(tileCols) + 2*int64(tileRows) + int64(tileRows)*int64(dimV)
	return elems * 8
}

// UnitsFor is the occupancy query: how many execution units the host can
// afford for this tile configuration under the scratch budget, capped by
// available parallelism and by max (0 means no cap). Returns 0 when even
// a single unit would not fit, which callers must treat as fatal before
// touching any buffers.
func UnitsFor(tileRows, tileCols, dimV int, budget int64, max int) int {
	if budget <= 0 {
		budget = DefaultScratchBudget
	}
	per := unitScratchBytes(tileRows, tileCols, dimV)
	if per > budget {
		return 0
	}
	units := runtime.GOMAXPROCS(0)
	if units < 1 {
		units = 1
	}
	if max > 0 && units > max {
		units = max
	}
	if fit := int(budget / per); units > fit {
		units = fit
	}
	return units
}

// NewPool spins up the persistent units. When accum is non-nil it must
// hold units*tileRows*dimV elements and becomes the off-register
// accumulator backing; otherwise accumulators live in the pool's own
// slab.
func NewPool(units, tileRows, tileCols, dimV int, accum []float64) *Pool {
	if units < 1 {
		panic("pool requires at least one unit")
	}
	accSpan := tileRows * dimV
	if accum != nil && len(accum) < units*accSpan {
		panic("accumulator workspace too small for pool")
	}

	scoreSpan := tileRows * tileCols
	perSlab := scoreSpan + 2*tileRows
	if accum == nil {
		perSlab += accSpan
	}

	p := &Pool{
		Size:      units,
		Tasks:     make(chan launch, units*2),
		DoneSlots: make(chan chan error, units),
		tileRows:  tileRows,
		tileCols:  tileCols,
		dimV:      dimV,
		slab:      make([]float64, units*perSlab),
	}
	for i := 0; i < units; i++ {
		p.DoneSlots <- make(chan error, 1)
	}
	for i := 0; i < units; i++ {
		workerID := i
		go func() {
			base := workerID * perSlab
			sc := unitScratch{
				scores: p.slab[base : base+scoreSpan],
				rowMax: p.slab[base+scoreSpan : base+scoreSpan+tileRows],
				rowSum: p.slab[base+scoreSpan+tileRows : base+scoreSpan+2*tileRows],
			}
			if accum != nil {
				sc.acc = accum[workerID*accSpan : (workerID+1)*accSpan]
			} else {
				sc.acc = p.slab[base+perSlab-accSpan : base+perSlab]
			}
			for task := range p.Tasks {
				task.done <- task.state.runUnit(task.unit, &sc)
			}
		}()
	}
	return p
}

// Close stops the workers. In-flight launches finish first; the pool must
// not be used afterwards.
func (p *Pool) Close() {
	close(p.Tasks)
}
