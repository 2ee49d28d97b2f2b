// Agent spawning: recruits, prisoners and invaders, each with the behavior
// machine of its category.
package agents

import (
	"math/rand"

	"github.com/talgya/collective/internal/world"
)

// Spawner creates agents for the collective.
type Spawner struct {
	rng        *rand.Rand
	nextID     AgentID
	archetypes *Archetypes
}

// NewSpawner creates an agent spawner with the given seed. Names come from
// the spawner's own stream so recruiting does not perturb scheduler draws.
func NewSpawner(seed int64, archetypes *Archetypes) *Spawner {
	return &Spawner{
		rng:        rand.New(rand.NewSource(seed + 300)),
		nextID:     1,
		archetypes: archetypes,
	}
}

// SetNextID sets the next agent ID to be issued (used when restoring from DB).
func (s *Spawner) SetNextID(id AgentID) {
	s.nextID = id
}

// Spawn creates one agent of category c at position.
func (s *Spawner) Spawn(c Category, level world.LevelID, position world.HexCoord, tick uint64) *Agent {
	id := s.nextID
	s.nextID++

	return &Agent{
		ID:            id,
		Name:          s.generateName(c),
		Category:      c,
		Level:         level,
		Position:      position,
		Health:        0.8 + s.rng.Float32()*0.2,
		Alive:         true,
		Behavior:      s.archetypes.MachineFor(c),
		RecruitedTick: tick,
	}
}

// Restore re-attaches a behavior machine to an agent loaded from storage.
func (s *Spawner) Restore(a *Agent) {
	if a.Behavior == nil {
		a.Behavior = s.archetypes.MachineFor(a.Category)
	}
	if a.ID >= s.nextID {
		s.nextID = a.ID + 1
	}
}

func (s *Spawner) generateName(c Category) string {
	switch c {
	case CategoryWorker:
		return "imp " + lastNames[s.rng.Intn(len(lastNames))]
	case CategoryGolem:
		return golemNames[s.rng.Intn(len(golemNames))] + " golem"
	case CategoryBeast:
		return beastNames[s.rng.Intn(len(beastNames))]
	}
	var firsts []string
	if s.rng.Float32() < 0.5 {
		firsts = maleNames
	} else {
		firsts = femaleNames
	}
	first := firsts[s.rng.Intn(len(firsts))]
	last := lastNames[s.rng.Intn(len(lastNames))]
	return first + " " + last
}

var maleNames = []string{
	"Aldric", "Bram", "Cedric", "Doran", "Erik", "Finn", "Gareth",
	"Halvard", "Ivan", "Jasper", "Kael", "Leif", "Magnus", "Nils",
	"Oswin", "Per", "Quinn", "Rowan", "Stellan", "Theron", "Ulric",
}

var femaleNames = []string{
	"Astrid", "Brenna", "Calla", "Daria", "Elara", "Freya", "Greta",
	"Helene", "Iris", "Juno", "Kira", "Lena", "Mira", "Nessa",
	"Olwen", "Petra", "Runa", "Senna", "Thea", "Una", "Vera",
}

var lastNames = []string{
	"Voss", "Thornwood", "Blackwood", "Ashford", "Ironhand", "Dunmore",
	"Stormcrow", "Frostborn", "Hearthstone", "Ravenmoor", "Wolfsbane",
	"Stoneheart", "Deepwell", "Redforge", "Marshwood", "Nightingale",
}

var golemNames = []string{"clay", "stone", "iron", "lava", "ice"}

var beastNames = []string{"cave bear", "wolf", "giant bat", "spider", "raven"}
