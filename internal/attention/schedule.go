package attention

import (
	"fmt"
	"sort"
	"sync/atomic"
)

// Mode selects how work units reach execution units.
type Mode int

const (
	// ModeDeviceOnly makes units claim (sub-problem, query-tile) pairs
	// from a shared atomic cursor at run time, with no precomputation.
	ModeDeviceOnly Mode = iota
	// ModeHostPrecompute lays out a static, load-balanced assignment of
	// work units to execution units before the launch.
	ModeHostPrecompute
)

func (m Mode) String() string {
	switch m {
	case ModeDeviceOnly:
		return "device-only"
	case ModeHostPrecompute:
		return "host-precompute"
	}
	return "unknown"
}

// ParseMode maps a flag value onto a scheduler mode.
func ParseMode(s string) (Mode, error) {
	switch s {
	case "device-only":
		return ModeDeviceOnly, nil
	case "host-precompute":
		return ModeHostPrecompute, nil
	}
	return 0, fmt.Errorf("unknown scheduler mode %q", s)
}

// WorkUnit is the granule an execution unit consumes: one query-tile of
// one sub-problem plus the number of key-tiles its streaming loop covers.
// Units are produced once per launch, consumed exactly once, never
// mutated. KeyTiles may be zero (a query-tile with no attendable keys);
// such units still reach the epilogue so their rows are written.
type WorkUnit struct {
	Problem   int
	QueryTile int
	KeyTiles  int
}

// workPlan is the static part of a schedule, built once per Initialize
// and reused across repeated runs.
type workPlan struct {
	set      *ProblemSet
	mode     Mode
	tileRows int
	tileCols int
	causal   bool
	units    int

	perUnit [][]WorkUnit // host-precompute only
}

func newWorkPlan(set *ProblemSet, mode Mode, tileRows, tileCols, units int, causal bool) *workPlan {
	p := &workPlan{
		set:      set,
		mode:     mode,
		tileRows: tileRows,
		tileCols: tileCols,
		causal:   causal,
		units:    units,
	}
	if mode == ModeHostPrecompute {
		p.perUnit = hostSchedule(set, tileRows, tileCols, units, causal)
	}
	return p
}

// claims returns the claim function one execution unit loops on for a
// single run. Host-precompute units walk their static list; device-only
// units share the cursor and resolve each claimed linear index against
// their own monotonic iterator.
func (p *workPlan) claims(unitID int, cursor *atomic.Int64) func() (WorkUnit, bool) {
	if p.mode == ModeHostPrecompute {
		list := p.perUnit[unitID]
		pos := 0
		return func() (WorkUnit, bool) {
			if pos >= len(list) {
				return WorkUnit{}, false
			}
			u := list[pos]
			pos++
			return u, true
		}
	}
	it := newDeviceIter(p.set, p.tileRows, p.tileCols, p.causal)
	return func() (WorkUnit, bool) {
		idx := cursor.Add(1) - 1
		return it.locate(idx)
	}
}

// hostSchedule enumerates every work unit and distributes them across
// units greedily, heaviest first, so load is balanced by key-tile totals
// rather than by sub-problem count. Each unit's list is then ordered by
// (problem, query-tile) to keep its memory walk forward.
func hostSchedule(set *ProblemSet, tileRows, tileCols, units int, causal bool) [][]WorkUnit {
	var all []WorkUnit
	for i := range set.Problems {
		rows, cols := set.Problems[i].domain()
		qt := QueryTiles(rows, tileRows)
		for t := 0; t < qt; t++ {
			extent := KeyExtent(rows, cols, tileRows, t, causal)
			all = append(all, WorkUnit{
				Problem:   i,
				QueryTile: t,
				KeyTiles:  KeyTiles(extent, tileCols),
			})
		}
	}

	order := make([]int, len(all))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		return all[order[a]].KeyTiles > all[order[b]].KeyTiles
	})

	perUnit := make([][]WorkUnit, units)
	loads := make([]int, units)
	for _, idx := range order {
		u := all[idx]
		target := 0
		for i := 1; i < units; i++ {
			if loads[i] < loads[target] {
				target = i
			}
		}
		perUnit[target] = append(perUnit[target], u)
		loads[target] += u.KeyTiles
	}

	for i := range perUnit {
		sort.Slice(perUnit[i], func(a, b int) bool {
			if perUnit[i][a].Problem != perUnit[i][b].Problem {
				return perUnit[i][a].Problem < perUnit[i][b].Problem
			}
			return perUnit[i][a].QueryTile < perUnit[i][b].QueryTile
		})
	}
	return perUnit
}

// deviceIter resolves linear work indices into work units without any
// precomputed table. The shared cursor only ever grows, so each unit
// walks its private iterator forward, subtracting per-problem query-tile
// counts until the claimed index lands inside the current problem.
type deviceIter struct {
	set      *ProblemSet
	tileRows int
	tileCols int
	causal   bool

	prob  int
	base  int64
	tiles int
}

func newDeviceIter(set *ProblemSet, tileRows, tileCols int, causal bool) *deviceIter {
	it := &deviceIter{
		set:      set,
		tileRows: tileRows,
		tileCols: tileCols,
		causal:   causal,
	}
	if set.Count() > 0 {
		rows, _ := set.Problems[0].domain()
		it.tiles = QueryTiles(rows, tileRows)
	}
	return it
}

func (it *deviceIter) locate(idx int64) (WorkUnit, bool) {
	for it.prob < it.set.Count() {
		if idx < it.base+int64(it.tiles) {
			qt := int(idx - it.base)
			rows, cols := it.set.Problems[it.prob].domain()
			extent := KeyExtent(rows, cols, it.tileRows, qt, it.causal)
			return WorkUnit{
				Problem:   it.prob,
				QueryTile: qt,
				KeyTiles:  KeyTiles(extent, it.tileCols),
			}, true
		}
		it.base += int64(it.tiles)
		it.prob++
		if it.prob < it.set.Count() {
			rows, _ := it.set.Problems[it.prob].domain()
			it.tiles = QueryTiles(rows, it.tileRows)
		}
	}
	return WorkUnit{}, false
}

// ScheduleStats reports the work-unit and key-tile totals a schedule will
// cover, for load accounting and benchmark reporting.
func ScheduleStats(set *ProblemSet, tileRows, tileCols int, causal bool) (workUnits, keyTiles int) {
	for i := range set.Problems {
		rows, cols := set.Problems[i].domain()
		qt, kt := problemTiles(rows, cols, tileRows, tileCols, causal)
		workUnits += qt
		keyTiles += kt
	}
	return workUnits, keyTiles
}
