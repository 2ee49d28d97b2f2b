// Package world provides the hex grid, level contents, territory and storage.
// Uses axial coordinates (q, r) for the hex grid.
package world

import "sort"

// HexCoord represents a position on the hex grid using axial coordinates.
// The third cube coordinate s is derived: s = -q - r.
type HexCoord struct {
	Q int `json:"q"`
	R int `json:"r"`
}

// S returns the implicit third cube coordinate.
func (h HexCoord) S() int {
	return -h.Q - h.R
}

// HexNeighborDirections defines the six neighbor offsets in axial coordinates.
var HexNeighborDirections = [6]HexCoord{
	{Q: 1, R: 0},
	{Q: 1, R: -1},
	{Q: 0, R: -1},
	{Q: -1, R: 0},
	{Q: -1, R: 1},
	{Q: 0, R: 1},
}

// Neighbors returns the six adjacent hex coordinates.
func (h HexCoord) Neighbors() [6]HexCoord {
	var result [6]HexCoord
	for i, dir := range HexNeighborDirections {
		result[i] = HexCoord{Q: h.Q + dir.Q, R: h.R + dir.R}
	}
	return result
}

// StepToward returns the neighbor of h that is closest to target.
// Ties go to the first direction in HexNeighborDirections order.
func (h HexCoord) StepToward(target HexCoord) HexCoord {
	if h == target {
		return h
	}
	best := h
	bestDist := Distance(h, target)
	for _, n := range h.Neighbors() {
		if d := Distance(n, target); d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

// Distance returns the hex distance between two coordinates.
func Distance(a, b HexCoord) int {
	dq := abs(a.Q - b.Q)
	dr := abs(a.R - b.R)
	ds := abs(a.S() - b.S())
	return max(dq, dr, ds)
}

// SortCoords orders coordinates row-major (R, then Q) so iteration over
// map-backed sets is reproducible.
func SortCoords(cs []HexCoord) {
	sort.Slice(cs, func(i, j int) bool {
		if cs[i].R != cs[j].R {
			return cs[i].R < cs[j].R
		}
		return cs[i].Q < cs[j].Q
	})
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
