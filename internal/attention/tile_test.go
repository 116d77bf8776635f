package attention

import "testing"

func TestQueryTiles(t *testing.T) {
	tests := []struct {
		rows, tileRows, want int
	}{
		{0, 32, 0},
		{1, 32, 1},
		{32, 32, 1},
		{33, 32, 2},
		{128, 32, 4},
		{100, 32, 4},
	}
	for _, tt := range tests {
		if got := QueryTiles(tt.rows, tt.tileRows); got != tt.want {
			t.Fatalf("QueryTiles(%d,%d) = %d, want %d", tt.rows, tt.tileRows, got, tt.want)
		}
	}
}

func TestKeyExtent(t *testing.T) {
	tests := []struct {
		name                     string
		rows, cols, tileRows, qt int
		causal                   bool
		want                     int
	}{
		{"full range without causal", 100, 128, 32, 0, false, 128},
		{"first tile truncates", 100, 128, 32, 0, true, 32},
		{"middle tile", 100, 128, 32, 1, true, 64},
		{"last partial tile caps at rows", 100, 128, 32, 3, true, 100},
		{"short keys win", 100, 40, 32, 2, true, 40},
		{"zero keys", 100, 0, 32, 0, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := KeyExtent(tt.rows, tt.cols, tt.tileRows, tt.qt, tt.causal)
			if got != tt.want {
				t.Fatalf("KeyExtent = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestKeyTiles(t *testing.T) {
	tests := []struct {
		extent, tileCols, want int
	}{
		{0, 64, 0},
		{1, 64, 1},
		{64, 64, 1},
		{65, 64, 2},
		{17, 64, 1},
	}
	for _, tt := range tests {
		if got := KeyTiles(tt.extent, tt.tileCols); got != tt.want {
			t.Fatalf("KeyTiles(%d,%d) = %d, want %d", tt.extent, tt.tileCols, got, tt.want)
		}
	}
}

func TestProblemTilesCausalSaving(t *testing.T) {
	qtFull, ktFull := problemTiles(128, 128, 32, 32, false)
	qtCausal, ktCausal := problemTiles(128, 128, 32, 32, true)
	if qtFull != qtCausal {
		t.Fatalf("query-tile count should not depend on causal: %d vs %d", qtFull, qtCausal)
	}
	if ktFull != 16 || ktCausal != 10 {
		t.Fatalf("key-tile totals = (%d,%d), want (16,10)", ktFull, ktCausal)
	}
}
