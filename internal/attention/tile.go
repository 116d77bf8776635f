package attention

// Default tile extents: B_q query rows per tile, B_k key columns per
// streaming iteration.
const (
	DefaultTileRows = 32
	DefaultTileCols = 64
)

// QueryTiles returns how many query-tiles cover rows.
func QueryTiles(rows, tileRows int) int {
	if rows <= 0 {
		return 0
	}
	return (rows + tileRows - 1) / tileRows
}

// KeyExtent returns the number of key columns any row of query-tile qt may
// attend to. Without causal masking every tile sees the full key range;
// with it, the extent is capped at the tile's last row index plus one, so
// key-tiles past the diagonal are skipped entirely rather than masked.
func KeyExtent(rows, cols, tileRows, qt int, causal bool) int {
	if !causal {
		return cols
	}
	end := (qt + 1) * tileRows
	if end > rows {
		end = rows
	}
	if end < cols {
		return end
	}
	return cols
}

// KeyTiles returns how many key-tiles cover extent columns.
func KeyTiles(extent, tileCols int) int {
	if extent <= 0 {
		return 0
	}
	return (extent + tileCols - 1) / tileCols
}

// problemTiles returns (query-tile count, summed key-tile count) for one
// sub-problem. The scheduler balances on the key-tile sum; the workspace
// sizing and the estimator share the same arithmetic so host and unit
// views of the tile space never diverge.
func problemTiles(rows, cols, tileRows, tileCols int, causal bool) (int, int) {
	qt := QueryTiles(rows, tileRows)
	total := 0
	for t := 0; t < qt; t++ {
		total += KeyTiles(KeyExtent(rows, cols, tileRows, t, causal), tileCols)
	}
	return qt, total
}

// domain returns the compute extents of one sub-problem: the real lengths
// bound the softmax domain, the aligned shapes only the storage.
func (p *Problem) domain() (rows, cols int) {
	return p.RealRows, p.RealCols
}
