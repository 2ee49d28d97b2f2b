package world

import "fmt"

// LevelID identifies a map region. Agents on a different level than the
// collective's home level backtrack through their last transition point.
type LevelID uint32

// Terrain types for level hexes.
type Terrain uint8

const (
	TerrainFloor   Terrain = iota // Walkable, buildable
	TerrainRock                   // Diggable
	TerrainWater                  // Impassable without a bridge
	TerrainBedrock                // Never diggable
)

// FurnitureKind is a facility that hosts a recurring activity.
type FurnitureKind uint8

const (
	FurnitureNone FurnitureKind = iota
	FurnitureBed
	FurnitureTrainingDummy
	FurnitureWorkshop
	FurnitureLaboratory
	FurnitureBookcase
	FurniturePrison
	FurnitureTortureTable
	FurnitureGrave
)

// StorageKind is a stockpile zone category.
type StorageKind uint8

const (
	StorageNone StorageKind = iota
	StorageResources
	StorageEquipment
	StorageTreasury
)

// StructureKind names a constructible structure ("door", "bridge", ...).
type StructureKind string

const (
	StructureDoor    StructureKind = "door"
	StructureBridge  StructureKind = "bridge"
	StructureBarrier StructureKind = "barricade"
	StructureFloor   StructureKind = "wood_floor"
)

// Hex represents a single tile of a level.
type Hex struct {
	Coord     HexCoord      `json:"coord"`
	Terrain   Terrain       `json:"terrain"`
	Elevation float64       `json:"elevation"`
	Furniture FurnitureKind `json:"furniture"`
	Structure StructureKind `json:"structure,omitempty"`
	Storage   StorageKind   `json:"storage"`
	Territory bool          `json:"territory"`
	Items     []Item        `json:"items,omitempty"`
}

// Level is the map collaborator consumed by the scheduler.
type Level interface {
	ID() LevelID
	CanEnter(c HexCoord) bool
	Items(c HexCoord) []Item
	CanConstruct(c HexCoord, kind StructureKind) bool
	InTerritory(c HexCoord) bool
	Facilities(kind FurnitureKind) []HexCoord
	StorageLocations(kind StorageKind) []HexCoord
}

// Stockpile is the subset of a level the resource ledger mutates.
type Stockpile interface {
	StorageLocations(kind StorageKind) []HexCoord
	Items(c HexCoord) []Item
	RemoveItem(c HexCoord, id ItemID) (Item, bool)
	NewItem(c HexCoord, proto string) Item
}

// Map holds the complete hex grid of one level.
type Map struct {
	Level  LevelID           `json:"level"`
	Hexes  map[HexCoord]*Hex `json:"-"` // All hexes keyed by coordinate
	Radius int               `json:"radius"`

	nextItem ItemID
}

// NewMap creates an empty map with the given radius.
// A hex grid of radius R contains hexes where max(|q|, |r|, |s|) <= R.
func NewMap(level LevelID, radius int) *Map {
	return &Map{
		Level:    level,
		Hexes:    make(map[HexCoord]*Hex),
		Radius:   radius,
		nextItem: 1,
	}
}

// ID returns the level identifier.
func (m *Map) ID() LevelID { return m.Level }

// Get returns the hex at the given coordinate, or nil if out of bounds.
func (m *Map) Get(coord HexCoord) *Hex {
	return m.Hexes[coord]
}

// Set places a hex at the given coordinate.
func (m *Map) Set(hex *Hex) {
	m.Hexes[hex.Coord] = hex
	for _, it := range hex.Items {
		if it.ID >= m.nextItem {
			m.nextItem = it.ID + 1
		}
	}
}

// InBounds returns true if the coordinate is within the map radius.
func (m *Map) InBounds(coord HexCoord) bool {
	return Distance(coord, HexCoord{}) <= m.Radius
}

// HexCount returns the total number of hexes in the map.
func (m *Map) HexCount() int {
	return len(m.Hexes)
}

// CanEnter reports whether an agent may stand on c.
func (m *Map) CanEnter(c HexCoord) bool {
	h := m.Get(c)
	if h == nil {
		return false
	}
	switch h.Terrain {
	case TerrainFloor:
		return h.Structure != StructureBarrier
	case TerrainWater:
		return h.Structure == StructureBridge
	default:
		return false
	}
}

// CanConstruct reports whether kind may be built at c.
func (m *Map) CanConstruct(c HexCoord, kind StructureKind) bool {
	h := m.Get(c)
	if h == nil || h.Structure != "" || h.Furniture != FurnitureNone {
		return false
	}
	if kind == StructureBridge {
		return h.Terrain == TerrainWater
	}
	return h.Terrain == TerrainFloor
}

// PlaceStructure finishes a construction at c.
func (m *Map) PlaceStructure(c HexCoord, kind StructureKind) bool {
	if !m.CanConstruct(c, kind) {
		return false
	}
	m.Get(c).Structure = kind
	return true
}

// DestroyStructure removes whatever structure stands at c.
func (m *Map) DestroyStructure(c HexCoord) (StructureKind, bool) {
	h := m.Get(c)
	if h == nil || h.Structure == "" {
		return "", false
	}
	kind := h.Structure
	h.Structure = ""
	return kind, true
}

// Dig turns diggable rock into floor. Returns false if c cannot be dug.
func (m *Map) Dig(c HexCoord) bool {
	h := m.Get(c)
	if h == nil || h.Terrain != TerrainRock {
		return false
	}
	h.Terrain = TerrainFloor
	return true
}

// InTerritory reports whether c is claimed by the collective.
func (m *Map) InTerritory(c HexCoord) bool {
	h := m.Get(c)
	return h != nil && h.Territory
}

// Claim adds c to the collective's territory.
func (m *Map) Claim(c HexCoord) {
	if h := m.Get(c); h != nil {
		h.Territory = true
	}
}

// Territory returns all claimed coordinates in row-major order.
func (m *Map) Territory() []HexCoord {
	var out []HexCoord
	for c, h := range m.Hexes {
		if h.Territory {
			out = append(out, c)
		}
	}
	SortCoords(out)
	return out
}

// Facilities returns every hex holding the given furniture, row-major.
func (m *Map) Facilities(kind FurnitureKind) []HexCoord {
	var out []HexCoord
	for c, h := range m.Hexes {
		if h.Furniture == kind && h.Territory {
			out = append(out, c)
		}
	}
	SortCoords(out)
	return out
}

// StorageLocations returns every hex zoned as the given storage kind, row-major.
func (m *Map) StorageLocations(kind StorageKind) []HexCoord {
	var out []HexCoord
	for c, h := range m.Hexes {
		if h.Storage == kind && h.Territory {
			out = append(out, c)
		}
	}
	SortCoords(out)
	return out
}

// Items returns a copy of the items lying at c.
func (m *Map) Items(c HexCoord) []Item {
	h := m.Get(c)
	if h == nil || len(h.Items) == 0 {
		return nil
	}
	out := make([]Item, len(h.Items))
	copy(out, h.Items)
	return out
}

// NewItem creates an item of the given prototype at c.
func (m *Map) NewItem(c HexCoord, proto string) Item {
	it := Item{ID: m.nextItem, Proto: proto}
	m.nextItem++
	m.PutItem(c, it)
	return it
}

// PutItem drops an existing item at c.
func (m *Map) PutItem(c HexCoord, it Item) {
	h := m.Get(c)
	if h == nil {
		return
	}
	h.Items = append(h.Items, it)
}

// RemoveItem takes the item with the given id from c.
func (m *Map) RemoveItem(c HexCoord, id ItemID) (Item, bool) {
	h := m.Get(c)
	if h == nil {
		return Item{}, false
	}
	for i, it := range h.Items {
		if it.ID == id {
			h.Items = append(h.Items[:i], h.Items[i+1:]...)
			return it, true
		}
	}
	return Item{}, false
}

// SetReserved flags an item as claimed by a pending task.
func (m *Map) SetReserved(c HexCoord, id ItemID, reserved bool) bool {
	h := m.Get(c)
	if h == nil {
		return false
	}
	for i := range h.Items {
		if h.Items[i].ID == id {
			h.Items[i].Reserved = reserved
			return true
		}
	}
	return false
}

// String returns a summary of the map.
func (m *Map) String() string {
	return fmt.Sprintf("Map(level=%d, radius=%d, hexes=%d)", m.Level, m.Radius, m.HexCount())
}
