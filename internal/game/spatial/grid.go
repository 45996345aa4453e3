// Package spatial provides a broad-phase grid for radius queries on the
// ground plane.
//
// Entities are stored by ID (not pointer) and cells keep their capacity across
// rebuilds, so a per-tick Clear + Insert cycle allocates nothing once warm.
package spatial

import (
	"math"
)

// maxCell bounds cell indices. Coordinates beyond it fold into the edge cells,
// which only widens the candidate set.
const maxCell = 1 << 30

type cellKey struct {
	col, row int64
}

// Grid buckets entity IDs into square cells on the XZ plane. Unlike a
// bounded grid it accepts any coordinate, negative included.
//
// Optimal cell size is close to the typical query radius.
type Grid struct {
	cellSize    float64
	invCellSize float64
	cells       map[cellKey][]uint64
	scratch     []uint64 // reusable buffer for query results
	count       int
}

// NewGrid creates an empty grid. expected presizes the cell map.
func NewGrid(cellSize float64, expected int) *Grid {
	if cellSize <= 0 {
		cellSize = 1
	}
	return &Grid{
		cellSize:    cellSize,
		invCellSize: 1.0 / cellSize,
		cells:       make(map[cellKey][]uint64, expected/8+1),
		scratch:     make([]uint64, 0, 64),
	}
}

func (g *Grid) key(x, z float64) cellKey {
	return cellKey{col: g.cell(x), row: g.cell(z)}
}

func (g *Grid) cell(v float64) int64 {
	c := math.Floor(v * g.invCellSize)
	switch {
	case math.IsNaN(c):
		return 0
	case c < -maxCell:
		return -maxCell
	case c > maxCell:
		return maxCell
	}
	return int64(c)
}

// Clear empties every cell but keeps the allocations
func (g *Grid) Clear() {
	for k, cell := range g.cells {
		g.cells[k] = cell[:0]
	}
	g.count = 0
}

// Insert adds an entity at (x, z)
func (g *Grid) Insert(id uint64, x, z float64) {
	k := g.key(x, z)
	g.cells[k] = append(g.cells[k], id)
	g.count++
}

// QueryRadius returns every ID in a cell touching the circle at (cx, cz).
// When the circle spans more cells than the grid holds, the occupied cells are
// scanned instead, so cost never exceeds one pass over the map.
//
// IMPORTANT: The returned slice is reused on subsequent calls.
// Candidates may lie outside the radius; callers do the exact distance check.
func (g *Grid) QueryRadius(cx, cz, radius float64) []uint64 {
	g.scratch = g.scratch[:0]

	lo := g.key(cx-radius, cz-radius)
	hi := g.key(cx+radius, cz+radius)
	if lo.col > hi.col || lo.row > hi.row {
		return g.scratch
	}

	if span := (hi.col - lo.col + 1) * (hi.row - lo.row + 1); span > int64(len(g.cells)) {
		for k, cell := range g.cells {
			if k.col >= lo.col && k.col <= hi.col && k.row >= lo.row && k.row <= hi.row {
				g.scratch = append(g.scratch, cell...)
			}
		}
		return g.scratch
	}

	for row := lo.row; row <= hi.row; row++ {
		for col := lo.col; col <= hi.col; col++ {
			g.scratch = append(g.scratch, g.cells[cellKey{col, row}]...)
		}
	}
	return g.scratch
}

// Len returns the number of inserted entries since the last Clear
func (g *Grid) Len() int {
	return g.count
}

// Stats returns grid statistics for debugging/profiling.
func (g *Grid) Stats() GridStats {
	var nonEmpty, maxInCell int
	for _, cell := range g.cells {
		if n := len(cell); n > 0 {
			nonEmpty++
			maxInCell = max(maxInCell, n)
		}
	}
	return GridStats{
		Cells:         len(g.cells),
		NonEmptyCells: nonEmpty,
		Entities:      g.count,
		MaxInCell:     maxInCell,
	}
}

// GridStats contains grid statistics for debugging.
type GridStats struct {
	Cells         int `json:"cells"`
	NonEmptyCells int `json:"nonEmptyCells"`
	Entities      int `json:"entities"`
	MaxInCell     int `json:"maxInCell"`
}
