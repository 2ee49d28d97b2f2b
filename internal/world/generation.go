// Level generation using layered simplex noise.
// Elevation decides rock, floor and water; a dug-out core around the origin
// becomes the collective's starting territory with stockpiles and facilities.
package world

import (
	"math"
	"math/rand"

	opensimplex "github.com/ojrac/opensimplex-go"
)

// GenConfig holds level generation parameters.
type GenConfig struct {
	Level      LevelID
	Radius     int     // Hex grid radius
	Seed       int64   // Random seed (0 = random)
	WaterLevel float64 // Elevation below which hexes flood (0.0–1.0)
	RockLevel  float64 // Elevation above which hexes are solid rock (0.0–1.0)
	CoreRadius int     // Radius of the pre-dug starting territory
}

// DefaultGenConfig returns a reasonable starting configuration.
func DefaultGenConfig() GenConfig {
	return GenConfig{
		Level:      1,
		Radius:     20,
		WaterLevel: 0.22,
		RockLevel:  0.45,
		CoreRadius: 4,
	}
}

// SmallTestConfig returns a tiny level for rapid iteration.
func SmallTestConfig() GenConfig {
	return GenConfig{
		Level:      1,
		Radius:     8,
		Seed:       42,
		WaterLevel: 0.20,
		RockLevel:  0.50,
		CoreRadius: 3,
	}
}

// Generate creates a complete level with terrain and a starting core.
func Generate(cfg GenConfig) *Map {
	seed := cfg.Seed
	if seed == 0 {
		seed = rand.Int63()
	}
	elevNoise := opensimplex.NewNormalized(seed)

	m := NewMap(cfg.Level, cfg.Radius)
	for q := -cfg.Radius; q <= cfg.Radius; q++ {
		for r := -cfg.Radius; r <= cfg.Radius; r++ {
			coord := HexCoord{Q: q, R: r}
			if !m.InBounds(coord) {
				continue
			}
			// Hex axial → cartesian: x = q + r*0.5, y = r * sqrt(3)/2
			x := float64(q) + float64(r)*0.5
			y := float64(r) * math.Sqrt(3.0) / 2.0
			elev := octaveNoise(elevNoise, x, y, 4, 0.09, 0.5)

			m.Set(&Hex{
				Coord:     coord,
				Terrain:   deriveTerrain(elev, Distance(coord, HexCoord{}), cfg),
				Elevation: elev,
			})
		}
	}

	carveCore(m, cfg.CoreRadius)
	return m
}

func deriveTerrain(elev float64, ring int, cfg GenConfig) Terrain {
	if ring == cfg.Radius {
		return TerrainBedrock
	}
	if elev < cfg.WaterLevel {
		return TerrainWater
	}
	if elev > cfg.RockLevel {
		return TerrainRock
	}
	return TerrainFloor
}

// carveCore digs out the starting territory and furnishes it. The layout is
// fixed relative to the origin so tests can address facilities directly.
func carveCore(m *Map, radius int) {
	for c, h := range m.Hexes {
		if Distance(c, HexCoord{}) <= radius {
			h.Terrain = TerrainFloor
			h.Territory = true
		}
	}
	furnish := func(c HexCoord, f FurnitureKind) {
		if h := m.Get(c); h != nil {
			h.Furniture = f
		}
	}
	zone := func(c HexCoord, s StorageKind) {
		if h := m.Get(c); h != nil {
			h.Storage = s
		}
	}
	zone(HexCoord{Q: 1, R: 0}, StorageResources)
	zone(HexCoord{Q: 1, R: -1}, StorageResources)
	zone(HexCoord{Q: -1, R: 0}, StorageEquipment)
	zone(HexCoord{Q: 0, R: -1}, StorageTreasury)
	furnish(HexCoord{Q: 2, R: 0}, FurnitureBed)
	furnish(HexCoord{Q: 2, R: -1}, FurnitureBed)
	furnish(HexCoord{Q: -2, R: 0}, FurnitureTrainingDummy)
	furnish(HexCoord{Q: 0, R: 2}, FurnitureWorkshop)
	furnish(HexCoord{Q: 0, R: -2}, FurnitureLaboratory)
}

// octaveNoise generates fractal noise by layering multiple frequencies.
func octaveNoise(noise opensimplex.Noise, x, y float64, octaves int, frequency, persistence float64) float64 {
	total := 0.0
	amplitude := 1.0
	maxVal := 0.0

	for i := 0; i < octaves; i++ {
		total += noise.Eval2(x*frequency, y*frequency) * amplitude
		maxVal += amplitude
		amplitude *= persistence
		frequency *= 2
	}

	return total / maxVal
}

// TerrainCounts returns a summary of terrain type distribution.
func TerrainCounts(m *Map) map[Terrain]int {
	counts := make(map[Terrain]int)
	for _, hex := range m.Hexes {
		counts[hex.Terrain]++
	}
	return counts
}

// TerrainName returns a human-readable name for a terrain type.
func TerrainName(t Terrain) string {
	switch t {
	case TerrainFloor:
		return "Floor"
	case TerrainRock:
		return "Rock"
	case TerrainWater:
		return "Water"
	case TerrainBedrock:
		return "Bedrock"
	default:
		return "Unknown"
	}
}
