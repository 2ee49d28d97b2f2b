// Package warning holds the named indicator flags the collective raises for
// expected infeasibility ("not enough wood", "no training room").
package warning

// Warning is a named indicator consumed by presentation layers.
type Warning uint8

const (
	NotEnoughGold Warning = iota
	NotEnoughWood
	NotEnoughStone
	NotEnoughIron
	NotEnoughMana
	NoBeds
	NoTrainingRoom
	NoWorkshop
	NoLaboratory
	NoLibrary
	NoPrison
	NoTortureTable
	NoGraveyard
	NoStorage
	NoEquipmentStorage

	numWarnings
)

var names = [numWarnings]string{
	"not enough gold",
	"not enough wood",
	"not enough stone",
	"not enough iron",
	"not enough mana",
	"no beds",
	"no training room",
	"no workshop",
	"no laboratory",
	"no library",
	"no prison",
	"no torture table",
	"no graveyard",
	"no storage",
	"no equipment storage",
}

func (w Warning) String() string {
	if w >= numWarnings {
		return "unknown warning"
	}
	return names[w]
}

// Set is a bitset of raised warnings.
type Set uint32

// Raise sets w.
func (s *Set) Raise(w Warning) { *s |= 1 << w }

// Clear resets w.
func (s *Set) Clear(w Warning) { *s &^= 1 << w }

// Toggle raises w if on, clears it otherwise.
func (s *Set) Toggle(w Warning, on bool) {
	if on {
		s.Raise(w)
	} else {
		s.Clear(w)
	}
}

// Has reports whether w is raised.
func (s Set) Has(w Warning) bool { return s&(1<<w) != 0 }

// Active lists raised warnings in declaration order.
func (s Set) Active() []Warning {
	var out []Warning
	for w := Warning(0); w < numWarnings; w++ {
		if s.Has(w) {
			out = append(out, w)
		}
	}
	return out
}

// Strings lists the names of raised warnings.
func (s Set) Strings() []string {
	active := s.Active()
	out := make([]string, len(active))
	for i, w := range active {
		out[i] = w.String()
	}
	return out
}
