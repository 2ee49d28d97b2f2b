// Archetype transition tables: each agent category gets one fixed graph at
// recruitment time.
package agents

import "fmt"

// Archetype names.
const (
	ArchWorker   = "worker"
	ArchMinion   = "minion"
	ArchLeader   = "leader"
	ArchPrisoner = "prisoner"
	ArchGolem    = "golem"
	ArchUndead   = "undead"
	ArchBeast    = "beast"
)

// Rates are the per-tick transition probabilities shared by the tables.
type Rates struct {
	TrainTime    float64 `yaml:"train_time" json:"train_time"`
	WorkshopTime float64 `yaml:"workshop_time" json:"workshop_time"`
	LabTime      float64 `yaml:"lab_time" json:"lab_time"`
	StudyTime    float64 `yaml:"study_time" json:"study_time"`
	GuardTime    float64 `yaml:"guard_time" json:"guard_time"`
	LaborTime    float64 `yaml:"labor_time" json:"labor_time"`
	DoneChance   float64 `yaml:"done_chance" json:"done_chance"` // "done for now" chance back to rest
}

// DefaultRates returns the built-in transition probabilities.
func DefaultRates() Rates {
	return Rates{
		TrainTime:    0.3,
		WorkshopTime: 0.15,
		LabTime:      0.1,
		StudyTime:    0.1,
		GuardTime:    0.05,
		LaborTime:    0.2,
		DoneChance:   0.02,
	}
}

// Archetypes holds one table per category.
type Archetypes struct {
	byCategory map[Category]*Table
}

// NewArchetypes builds every table from rates and validates them.
func NewArchetypes(r Rates) (*Archetypes, error) {
	a := &Archetypes{byCategory: map[Category]*Table{
		CategoryWorker:   workerTable(),
		CategoryMinion:   minionTable(r),
		CategoryLeader:   leaderTable(r),
		CategoryPrisoner: prisonerTable(r),
		CategoryGolem:    golemTable(r),
		CategoryUndead:   undeadTable(r),
		CategoryBeast:    beastTable(),
	}}
	for _, t := range a.byCategory {
		if err := t.Validate(); err != nil {
			return nil, fmt.Errorf("archetype table: %w", err)
		}
	}
	return a, nil
}

// TableFor returns the table for c, or nil for categories that are never
// scheduled (hostiles).
func (a *Archetypes) TableFor(c Category) *Table {
	return a.byCategory[c]
}

// Tables returns every table keyed by category.
func (a *Archetypes) Tables() map[Category]*Table {
	return a.byCategory
}

// MachineFor creates a fresh machine for a newly recruited agent.
func (a *Archetypes) MachineFor(c Category) *BehaviorStateMachine {
	t := a.TableFor(c)
	if t == nil {
		return nil
	}
	return NewMachine(t)
}

func workerTable() *Table {
	return NewTable(ArchWorker, ActivityLabor)
}

func minionTable(r Rates) *Table {
	t := NewTable(ArchMinion, ActivitySleep,
		ActivityTrain, ActivityWorkshop, ActivityLaboratory, ActivityGuardPrisoner)
	t.AddEdge(ActivitySleep, ActivityTrain, r.TrainTime).
		AddEdge(ActivitySleep, ActivityWorkshop, r.WorkshopTime).
		AddEdge(ActivitySleep, ActivityLaboratory, r.LabTime).
		AddEdge(ActivitySleep, ActivityGuardPrisoner, r.GuardTime)
	for _, s := range []Activity{ActivityTrain, ActivityWorkshop, ActivityLaboratory, ActivityGuardPrisoner} {
		t.AddEdge(s, ActivitySleep, r.DoneChance)
	}
	return t
}

func leaderTable(r Rates) *Table {
	t := NewTable(ArchLeader, ActivitySleep, ActivityStudy, ActivityLaboratory)
	t.AddEdge(ActivitySleep, ActivityStudy, r.StudyTime).
		AddEdge(ActivitySleep, ActivityLaboratory, r.LabTime).
		AddEdge(ActivityStudy, ActivitySleep, r.DoneChance).
		AddEdge(ActivityLaboratory, ActivitySleep, r.DoneChance)
	return t
}

func prisonerTable(r Rates) *Table {
	t := NewTable(ArchPrisoner, ActivityPrison, ActivityLabor, ActivityBeTortured)
	t.AddEdge(ActivityPrison, ActivityLabor, r.LaborTime).
		AddEdge(ActivityPrison, ActivityBeTortured, 0).
		AddEdge(ActivityLabor, ActivityPrison, r.DoneChance).
		AddEdge(ActivityBeTortured, ActivityPrison, r.DoneChance)
	return t
}

func golemTable(r Rates) *Table {
	t := NewTable(ArchGolem, ActivityTrain, ActivityLabor)
	t.AddEdge(ActivityTrain, ActivityLabor, r.LaborTime).
		AddEdge(ActivityLabor, ActivityTrain, r.DoneChance)
	return t
}

func undeadTable(r Rates) *Table {
	t := NewTable(ArchUndead, ActivityGraveRest, ActivityTrain)
	t.AddEdge(ActivityGraveRest, ActivityTrain, r.TrainTime).
		AddEdge(ActivityTrain, ActivityGraveRest, r.DoneChance)
	return t
}

func beastTable() *Table {
	return NewTable(ArchBeast, ActivitySleep)
}
