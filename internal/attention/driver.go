package attention

import (
	"context"
	"fmt"
	"math"
	"sync/atomic"
)

// DefaultAccumThreshold is the value head dimension above which the
// output accumulator no longer fits the unit-local fast scratch and moves
// into the driver workspace. The streaming recurrence is identical in
// both layouts.
const DefaultAccumThreshold = 128

// workUnitBytes is the schedule-mirror footprint of one precomputed work
// unit inside the workspace accounting.
const workUnitBytes = 24

// Params configures a grouped attention launch over one descriptor table
// and its flat operand buffers.
type Params struct {
	Set *ProblemSet

	Q []float32
	K []float32
	V []float32
	O []float32

	Scale  float64 // 0 means 1/sqrt(HeadDimQK)
	Causal bool
	Mode   Mode

	TileRows       int   // query rows per tile, 0 means DefaultTileRows
	TileCols       int   // key columns per tile, 0 means DefaultTileCols
	MaxUnits       int   // cap on execution units, 0 means occupancy-derived
	ScratchBudget  int64 // bytes for all unit scratch, 0 means DefaultScratchBudget
	AccumThreshold int   // 0 means DefaultAccumThreshold
}

func (p *Params) normalize() {
	if p.TileRows == 0 {
		p.TileRows = DefaultTileRows
	}
	if p.TileCols == 0 {
		p.TileCols = DefaultTileCols
	}
	if p.AccumThreshold == 0 {
		p.AccumThreshold = DefaultAccumThreshold
	}
	if p.Scale == 0 && p.Set != nil {
		p.Scale = 1 / math.Sqrt(float64(p.Set.HeadDimQK))
	}
}

func (p *Params) validate() error {
	if p.Set == nil || p.Set.Count() == 0 {
		return fmt.Errorf("%w: empty problem set", ErrUnsupportedConfig)
	}
	if err := p.Set.Validate(); err != nil {
		return fmt.Errorf("%w: %w", ErrUnsupportedConfig, err)
	}
	if p.Set.Granule != 1 {
		return fmt.Errorf("%w: alignment granule %d (kernel requires 1)", ErrUnsupportedConfig, p.Set.Granule)
	}
	if p.TileRows < 1 || p.TileCols < 1 {
		return fmt.Errorf("%w: tile %dx%d", ErrUnsupportedConfig, p.TileRows, p.TileCols)
	}
	if len(p.Q) < p.Set.ElemsQ || len(p.K) < p.Set.ElemsK ||
		len(p.V) < p.Set.ElemsV || len(p.O) < p.Set.ElemsO {
		return fmt.Errorf("%w: operand buffers smaller than the offset table requires", ErrUnsupportedConfig)
	}
	return nil
}

// WorkspaceSize reports the scratch bytes a launch with these parameters
// needs beyond the operand buffers: the host-precomputed schedule mirror
// plus, when accumulation is off-register, the per-unit accumulator slab.
func WorkspaceSize(p Params) (int64, error) {
	p.normalize()
	if err := p.validate(); err != nil {
		return 0, err
	}
	units := UnitsFor(p.TileRows, p.TileCols, p.Set.HeadDimV, p.ScratchBudget, p.MaxUnits)
	if units == 0 {
		return 0, fmt.Errorf("tile %dx%d, value width %d: %w",
			p.TileRows, p.TileCols, p.Set.HeadDimV, ErrResourceInsufficient)
	}
	var ws int64
	if p.Mode == ModeHostPrecompute {
		workUnits, _ := ScheduleStats(p.Set, p.TileRows, p.TileCols, p.Causal)
		ws += int64(workUnits) * workUnitBytes
	}
	if p.Set.HeadDimV > p.AccumThreshold {
		ws += int64(units) * int64(p.TileRows) * int64(p.Set.HeadDimV) * 8
	}
	return ws, nil
}

// runState is everything a launch shares across execution units: the
// static plan, the per-run claim cursor, the operand buffers and the
// softmax parameters. Units touch disjoint output regions, so the cursor
// is the only cross-unit synchronization point.
type runState struct {
	plan   *workPlan
	cursor atomic.Int64
	ctx    context.Context

	q, k, v, o []float32
	scale      float64

	unitHook func(unit int, u WorkUnit)
	tileHook func(problem, queryTile, keyTile int)
}

func (st *runState) runUnit(unit int, sc *unitScratch) error {
	next := st.plan.claims(unit, &st.cursor)
	for {
		if err := st.ctx.Err(); err != nil {
			return err
		}
		u, ok := next()
		if !ok {
			return nil
		}
		if st.unitHook != nil {
			st.unitHook(unit, u)
		}
		st.process(u, sc)
	}
}

// Driver orchestrates grouped attention launches. It is built once per
// problem-size configuration, may Run any number of times with unchanged
// buffers, and must be Closed to release the execution units.
type Driver struct {
	params       Params
	plan         *workPlan
	pool         *Pool
	units        int
	autoScale    bool
	scratchAccum bool
	workspace    []float64
	wsBytes      int64
	closed       bool

	unitHook func(unit int, u WorkUnit)
	tileHook func(problem, queryTile, keyTile int)
}

// NewDriver validates the configuration, derives the execution-unit count
// from the occupancy query, builds the schedule and spins up the unit
// pool. No operand memory is touched on failure.
func NewDriver(p Params) (*Driver, error) {
	autoScale := p.Scale == 0
	p.normalize()
	if err := p.validate(); err != nil {
		return nil, err
	}
	units := UnitsFor(p.TileRows, p.TileCols, p.Set.HeadDimV, p.ScratchBudget, p.MaxUnits)
	if units == 0 {
		return nil, fmt.Errorf("tile %dx%d, value width %d: %w",
			p.TileRows, p.TileCols, p.Set.HeadDimV, ErrResourceInsufficient)
	}
	wsBytes, err := WorkspaceSize(p)
	if err != nil {
		return nil, err
	}

	d := &Driver{
		params:       p,
		units:        units,
		autoScale:    autoScale,
		scratchAccum: p.Set.HeadDimV > p.AccumThreshold,
		wsBytes:      wsBytes,
	}
	if d.scratchAccum {
		d.workspace = make([]float64, units*p.TileRows*p.Set.HeadDimV)
	}
	d.plan = newWorkPlan(p.Set, p.Mode, p.TileRows, p.TileCols, units, p.Causal)
	d.pool = NewPool(units, p.TileRows, p.TileCols, p.Set.HeadDimV, d.workspace)
	return d, nil
}

// Units reports how many execution units the occupancy query granted.
func (d *Driver) Units() int { return d.units }

// TileShape reports the tile dimensions in effect after defaulting.
func (d *Driver) TileShape() (rows, cols int) {
	return d.params.TileRows, d.params.TileCols
}

// WorkspaceSize reports the scratch bytes this driver holds beyond the
// operand buffers.
func (d *Driver) WorkspaceSize() int64 { return d.wsBytes }

// ScratchAccum reports whether output accumulation runs in the workspace
// rather than unit-local scratch.
func (d *Driver) ScratchAccum() bool { return d.scratchAccum }

// Run executes one grouped launch and blocks until every execution unit
// drains its claims. Repeated calls with unchanged buffers reproduce the
// same output. The context is polled only at work-unit claim boundaries;
// a claimed unit always runs to completion.
func (d *Driver) Run(ctx context.Context) error {
	if d.closed {
		return fmt.Errorf("%w: driver closed", ErrExecutionFailure)
	}
	st := &runState{
		plan:     d.plan,
		ctx:      ctx,
		q:        d.params.Q,
		k:        d.params.K,
		v:        d.params.V,
		o:        d.params.O,
		scale:    d.params.Scale,
		unitHook: d.unitHook,
		tileHook: d.tileHook,
	}

	dones := make([]chan error, d.pool.Size)
	for i := range dones {
		slot := <-d.pool.DoneSlots
		dones[i] = slot
		d.pool.Tasks <- launch{state: st, unit: i, done: slot}
	}

	var firstErr error
	for _, done := range dones {
		if err := <-done; err != nil && firstErr == nil {
			firstErr = err
		}
		d.pool.DoneSlots <- done
	}
	if firstErr != nil {
		return fmt.Errorf("%w: %w", ErrExecutionFailure, firstErr)
	}
	return nil
}

// SetProblems installs a new descriptor table and operand buffers,
// rebuilding the schedule. The unit pool is reused unless the value head
// dimension or the accumulator layout changes.
func (d *Driver) SetProblems(set *ProblemSet, q, k, v, o []float32) error {
	if d.closed {
		return fmt.Errorf("%w: driver closed", ErrExecutionFailure)
	}
	p := d.params
	p.Set = set
	p.Q, p.K, p.V, p.O = q, k, v, o
	if d.autoScale {
		p.Scale = 1 / math.Sqrt(float64(set.HeadDimQK))
	}
	if err := p.validate(); err != nil {
		return err
	}
	wsBytes, err := WorkspaceSize(p)
	if err != nil {
		return err
	}

	scratchAccum := set.HeadDimV > p.AccumThreshold
	if set.HeadDimV != d.params.Set.HeadDimV || scratchAccum != d.scratchAccum {
		d.pool.Close()
		d.workspace = nil
		if scratchAccum {
			d.workspace = make([]float64, d.units*p.TileRows*set.HeadDimV)
		}
		d.pool = NewPool(d.units, p.TileRows, p.TileCols, set.HeadDimV, d.workspace)
	}
	d.params = p
	d.scratchAccum = scratchAccum
	d.wsBytes = wsBytes
	d.plan = newWorkPlan(set, p.Mode, p.TileRows, p.TileCols, d.units, p.Causal)
	return nil
}

// Close stops the execution units. The driver cannot Run afterwards.
func (d *Driver) Close() {
	if d.closed {
		return
	}
	d.closed = true
	d.pool.Close()
}
