// Package threat computes the zone around visible threats in which no new
// build, trap or fetch orders are started.
package threat

import (
	"github.com/talgya/collective/internal/world"
)

// DefaultRadius is how far suppression spreads from a threat, in steps.
const DefaultRadius = 10

// Territory is the part of the level the flood fill may expand through.
type Territory interface {
	InTerritory(c world.HexCoord) bool
}

// Suppressor maps locations to the tick until which they are unsafe.
// Entries are never evicted; they simply stop applying once the tick passes.
type Suppressor struct {
	radius int
	until  map[world.HexCoord]uint64
}

// New creates a suppressor with the given flood-fill radius.
func New(radius int) *Suppressor {
	if radius < 0 {
		radius = 0
	}
	return &Suppressor{radius: radius, until: make(map[world.HexCoord]uint64)}
}

// Radius returns the flood-fill radius.
func (s *Suppressor) Radius() int { return s.radius }

// ComputeDelay floods outward from every threat at once through territory
// for up to Radius steps and marks each territory hex reached as unsafe
// until the given tick.
func (s *Suppressor) ComputeDelay(terr Territory, threats []world.HexCoord, until uint64) {
	depth := make(map[world.HexCoord]int, len(threats))
	queue := make([]world.HexCoord, 0, len(threats))
	for _, c := range threats {
		if _, ok := depth[c]; ok {
			continue
		}
		depth[c] = 0
		queue = append(queue, c)
	}

	for len(queue) > 0 {
		c := queue[0]
		queue = queue[1:]
		if terr.InTerritory(c) {
			s.mark(c, until)
		}
		d := depth[c]
		if d == s.radius {
			continue
		}
		for _, n := range c.Neighbors() {
			if _, seen := depth[n]; seen || !terr.InTerritory(n) {
				continue
			}
			depth[n] = d + 1
			queue = append(queue, n)
		}
	}
}

func (s *Suppressor) mark(c world.HexCoord, until uint64) {
	if until > s.until[c] {
		s.until[c] = until
	}
}

// IsDelayed reports whether c is unsafe at tick now.
func (s *Suppressor) IsDelayed(c world.HexCoord, now uint64) bool {
	return now < s.until[c]
}

// Clear forgets every suppressed location.
func (s *Suppressor) Clear() {
	s.until = make(map[world.HexCoord]uint64)
}

// Update recomputes the zone for this tick. With no visible threats the
// zone is cleared rather than left to expire.
func (s *Suppressor) Update(terr Territory, threats []world.HexCoord, now, duration uint64) {
	if len(threats) == 0 {
		s.Clear()
		return
	}
	s.ComputeDelay(terr, threats, now+duration)
}

// Zone returns every location unsafe at tick now, row-major.
func (s *Suppressor) Zone(now uint64) []world.HexCoord {
	var out []world.HexCoord
	for c, until := range s.until {
		if now < until {
			out = append(out, c)
		}
	}
	world.SortCoords(out)
	return out
}
