// Package agents provides the agent data model, agent categories and the
// per-archetype behavior state machines.
package agents

import (
	"fmt"

	"github.com/talgya/collective/internal/world"
)

// AgentID is a unique identifier for an agent.
type AgentID uint64

// Category determines which scheduler branch and which archetype table an
// agent uses.
type Category uint8

const (
	CategoryWorker   Category = iota // Pool-driven labor (digging, hauling, building)
	CategoryMinion                   // Ordinary fighter
	CategoryLeader                   // The collective's keeper
	CategoryPrisoner                 // Captured enemy
	CategoryGolem                    // Constructed; never sleeps
	CategoryUndead                   // Rests in graves
	CategoryBeast                    // Wanders instead of using the task pool
	CategoryHostile                  // Invader; a threat, never scheduled
)

var categoryNames = [...]string{"worker", "minion", "leader", "prisoner", "golem", "undead", "beast", "hostile"}

func (c Category) String() string {
	if int(c) < len(categoryNames) {
		return categoryNames[c]
	}
	return "unknown"
}

// ParseCategory maps a category name to its value.
func ParseCategory(name string) (Category, error) {
	for i, n := range categoryNames {
		if n == name {
			return Category(i), nil
		}
	}
	return 0, fmt.Errorf("unknown agent category %q", name)
}

// IsWorkerClass reports whether the agent is scheduled by the worker branch.
func (c Category) IsWorkerClass() bool { return c == CategoryWorker }

// IgnoresAlarm reports whether the agent keeps working when the alarm sounds.
func (c Category) IgnoresAlarm() bool {
	return c == CategoryWorker || c == CategoryPrisoner || c == CategoryBeast
}

// CanEquip reports whether the agent can wear or wield items.
func (c Category) CanEquip() bool {
	return c == CategoryMinion || c == CategoryLeader || c == CategoryUndead
}

// CanOwnItems reports whether the agent may keep carried items inside territory.
func (c Category) CanOwnItems() bool {
	return c != CategoryPrisoner && c != CategoryBeast
}

// PrisonerDuty is a manual assignment against a prisoner.
type PrisonerDuty uint8

const (
	DutyNone PrisonerDuty = iota
	DutyExecute
	DutyTorture
)

// Agent is a member of (or intruder into) the collective.
type Agent struct {
	ID       AgentID  `json:"id"`
	Name     string   `json:"name"`
	Category Category `json:"category"`

	// Location
	Level    world.LevelID  `json:"level"`
	Position world.HexCoord `json:"position"`
	// LastTransition is where the agent left the home level, if it did.
	LastTransition *world.HexCoord `json:"last_transition,omitempty"`

	Health float32 `json:"health"` // 0.0–1.0
	Alive  bool    `json:"alive"`

	Carried   []world.Item `json:"carried,omitempty"`
	Equipment []world.Item `json:"equipment,omitempty"`

	// Manual assignments
	ControlledBy *AgentID        `json:"controlled_by,omitempty"` // Player proxy to follow
	GuardPost    *world.HexCoord `json:"guard_post,omitempty"`
	Prisoner     *AgentID        `json:"prisoner,omitempty"`
	Duty         PrisonerDuty    `json:"duty,omitempty"`

	// Behavior is nil for hostile agents.
	Behavior *BehaviorStateMachine `json:"-"`

	RecruitedTick uint64 `json:"recruited_tick"`
}

// Activity returns the agent's current recurring activity.
func (a *Agent) Activity() Activity {
	if a.Behavior == nil {
		return ActivityIdle
	}
	return a.Behavior.Current()
}

// IsDead reports whether the agent has died.
func (a *Agent) IsDead() bool { return !a.Alive }

// MoveToward returns a move action toward target, or false if the agent is
// already standing there.
func (a *Agent) MoveToward(target world.HexCoord) (Action, bool) {
	if a.Position == target {
		return Action{}, false
	}
	return Action{AgentID: a.ID, Kind: ActionMove, Target: target}, true
}

// Equip puts it on if the agent can use equipment and does not already hold
// an item of the same prototype.
func (a *Agent) Equip(it world.Item) bool {
	if !a.Category.CanEquip() {
		return false
	}
	for _, e := range a.Equipment {
		if e.Proto == it.Proto {
			return false
		}
	}
	it.Owner = uint64(a.ID)
	a.Equipment = append(a.Equipment, it)
	return true
}

// HasEquipped reports whether an item of proto is worn or wielded.
func (a *Agent) HasEquipped(proto string) bool {
	for _, e := range a.Equipment {
		if e.Proto == proto {
			return true
		}
	}
	return false
}

// DisallowedCarried returns carried items the agent should not keep inside
// territory: everything for categories that cannot own items, otherwise
// anything not owned by this agent.
func (a *Agent) DisallowedCarried() []world.Item {
	var out []world.Item
	for _, it := range a.Carried {
		if !a.Category.CanOwnItems() || it.Owner != uint64(a.ID) {
			out = append(out, it)
		}
	}
	return out
}
