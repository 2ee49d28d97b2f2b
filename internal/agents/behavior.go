// Behavior state machines: one transition table per archetype.
// Every tick an idle agent's machine gets one Update; at most one edge fires.
package agents

import (
	"fmt"
	"strings"

	"github.com/talgya/collective/internal/entropy"
	"github.com/talgya/collective/internal/world"
)

// Activity is a recurring thing an idle agent spends its time on.
type Activity uint8

const (
	ActivityIdle Activity = iota
	ActivitySleep
	ActivityTrain
	ActivityWorkshop
	ActivityLaboratory
	ActivityStudy
	ActivityLabor
	ActivityPrison
	ActivityBeTortured
	ActivityGuardPrisoner
	ActivityGraveRest

	numActivities
)

var activityNames = [numActivities]string{
	"idle", "sleep", "train", "workshop", "laboratory", "study",
	"labor", "prison", "be_tortured", "guard_prisoner", "grave_rest",
}

func (s Activity) String() string {
	if s >= numActivities {
		return "unknown"
	}
	return activityNames[s]
}

// ParseActivity maps a name back to an Activity.
func ParseActivity(name string) (Activity, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range activityNames {
		if n == name {
			return Activity(i), nil
		}
	}
	return 0, fmt.Errorf("unknown activity %q", name)
}

// Facility returns the furniture an activity is performed at. Activities
// with no facility (labor, idle) return FurnitureNone.
func (s Activity) Facility() world.FurnitureKind {
	switch s {
	case ActivitySleep:
		return world.FurnitureBed
	case ActivityTrain:
		return world.FurnitureTrainingDummy
	case ActivityWorkshop:
		return world.FurnitureWorkshop
	case ActivityLaboratory:
		return world.FurnitureLaboratory
	case ActivityStudy:
		return world.FurnitureBookcase
	case ActivityPrison, ActivityGuardPrisoner:
		return world.FurniturePrison
	case ActivityBeTortured:
		return world.FurnitureTortureTable
	case ActivityGraveRest:
		return world.FurnitureGrave
	default:
		return world.FurnitureNone
	}
}

// Edge is one probabilistic transition.
type Edge struct {
	To   Activity
	Prob float64
}

// Table is the transition graph shared by every agent of one archetype.
// Edges out of a state are evaluated in the order they were added.
type Table struct {
	Name    string
	Initial Activity

	states []Activity
	edges  map[Activity][]Edge

	reachable map[Activity]bool // nil until computed
}

// NewTable declares an archetype graph with its initial state and the full
// set of states it uses.
func NewTable(name string, initial Activity, states ...Activity) *Table {
	t := &Table{
		Name:    name,
		Initial: initial,
		edges:   make(map[Activity][]Edge),
	}
	t.states = append(t.states, initial)
	for _, s := range states {
		if s != initial {
			t.states = append(t.states, s)
		}
	}
	return t
}

// AddEdge appends a transition. A zero-probability edge never fires on its
// own but makes the target assignable by manual override.
func (t *Table) AddEdge(from, to Activity, prob float64) *Table {
	t.edges[from] = append(t.edges[from], Edge{To: to, Prob: prob})
	t.reachable = nil
	return t
}

// States returns the declared states, initial first.
func (t *Table) States() []Activity {
	return append([]Activity(nil), t.states...)
}

// Edges returns the ordered transitions out of from.
func (t *Table) Edges(from Activity) []Edge {
	return t.edges[from]
}

// Reachable reports whether s can be reached from the initial state.
func (t *Table) Reachable(s Activity) bool {
	if t.reachable == nil {
		t.reachable = t.walk()
	}
	return t.reachable[s]
}

func (t *Table) walk() map[Activity]bool {
	seen := map[Activity]bool{t.Initial: true}
	queue := []Activity{t.Initial}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, e := range t.edges[cur] {
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, e.To)
			}
		}
	}
	return seen
}

// Validate checks that every declared state is reachable, that edges only
// connect declared states and that probabilities lie in [0, 1].
func (t *Table) Validate() error {
	declared := make(map[Activity]bool, len(t.states))
	for _, s := range t.states {
		declared[s] = true
	}
	for from, edges := range t.edges {
		if !declared[from] {
			return fmt.Errorf("%s: edges from undeclared state %s", t.Name, from)
		}
		for _, e := range edges {
			if !declared[e.To] {
				return fmt.Errorf("%s: edge %s→%s targets undeclared state", t.Name, from, e.To)
			}
			if e.Prob < 0 || e.Prob > 1 {
				return fmt.Errorf("%s: edge %s→%s probability %v out of range", t.Name, from, e.To, e.Prob)
			}
		}
	}
	var dead []string
	for _, s := range t.states {
		if !t.Reachable(s) {
			dead = append(dead, s.String())
		}
	}
	if len(dead) > 0 {
		return fmt.Errorf("%s: unreachable states %s", t.Name, strings.Join(dead, ", "))
	}
	return nil
}

// BehaviorStateMachine is one agent's position in its archetype's table.
type BehaviorStateMachine struct {
	table   *Table
	current Activity
}

// NewMachine starts a machine in the table's initial state.
func NewMachine(t *Table) *BehaviorStateMachine {
	return &BehaviorStateMachine{table: t, current: t.Initial}
}

// Archetype returns the name of the machine's table.
func (m *BehaviorStateMachine) Archetype() string { return m.table.Name }

// Current returns the active state.
func (m *BehaviorStateMachine) Current() Activity { return m.current }

// ContainsState reports whether s is reachable in this archetype's graph.
func (m *BehaviorStateMachine) ContainsState(s Activity) bool {
	return m.table.Reachable(s)
}

// Set forces the machine into s. Only reachable states are accepted.
func (m *BehaviorStateMachine) Set(s Activity) error {
	if !m.ContainsState(s) {
		return fmt.Errorf("%s cannot %s", m.table.Name, s)
	}
	m.current = s
	return nil
}

// Update runs one Bernoulli trial per outgoing edge in declared order; the
// first success fires. Returns true if the state changed.
func (m *BehaviorStateMachine) Update(rng entropy.Source) bool {
	for _, e := range m.table.edges[m.current] {
		if entropy.Chance(rng, e.Prob) {
			m.current = e.To
			return true
		}
	}
	return false
}

// UpdateToNext forces a transition because the current activity cannot be
// performed. Outgoing edges are chosen by weight; a state with no usable
// edges falls back to the initial state.
func (m *BehaviorStateMachine) UpdateToNext(rng entropy.Source) Activity {
	edges := m.table.edges[m.current]
	total := 0.0
	for _, e := range edges {
		if e.To != m.current {
			total += e.Prob
		}
	}
	if total <= 0 {
		m.current = m.table.Initial
		return m.current
	}
	r := rng.Float64() * total
	for _, e := range edges {
		if e.To == m.current {
			continue
		}
		if r < e.Prob {
			m.current = e.To
			return m.current
		}
		r -= e.Prob
	}
	// Floating point slack: take the last usable edge.
	for i := len(edges) - 1; i >= 0; i-- {
		if edges[i].To != m.current && edges[i].Prob > 0 {
			m.current = edges[i].To
			break
		}
	}
	return m.current
}
