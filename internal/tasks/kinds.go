package tasks

import (
	"fmt"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/world"
)

// Kind distinguishes the concrete jobs the collective issues.
type Kind uint8

const (
	KindDig      Kind = iota // Turn rock into floor
	KindBuild                // Raise a structure
	KindArmTrap              // Carry a trap component to its spot and arm it
	KindFetch                // Haul a loose item into storage
	KindActivity             // Spend time at a facility
)

var kindNames = [...]string{"dig", "build", "arm_trap", "fetch", "activity"}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return "unknown"
}

// Outcome is what one unit of work achieved.
type Outcome uint8

const (
	OutcomeProgress Outcome = iota // Still working
	OutcomePickedUp                // Carried item picked up; now delivering
	OutcomeDone                    // Finished this tick
)

// Job is the task implementation used by every order the collective issues.
// Carrying jobs (fetch, arm trap) have two stages: pick up at the source,
// then work at the destination.
type Job struct {
	id           ID
	kind         Kind
	level        world.Level
	source       world.HexCoord
	dest         world.HexCoord
	carrying     bool
	transferable bool

	Structure world.StructureKind
	TrapProto string
	Item      world.ItemID
	Activity  agents.Activity
	// For is the only agent allowed on the job; zero means any worker.
	For agents.AgentID

	required  int
	progress  int
	done      bool
	cancelled bool
}

// Work required per kind, in ticks.
const (
	DigWork   = 3
	BuildWork = 5
	ArmWork   = 2
	FetchWork = 1
)

// NewDig creates a dig order at loc.
func NewDig(level world.Level, loc world.HexCoord) *Job {
	return &Job{id: NewID(), kind: KindDig, level: level, source: loc, dest: loc, transferable: true, required: DigWork}
}

// NewBuild creates a construction order for kind at loc.
func NewBuild(level world.Level, loc world.HexCoord, kind world.StructureKind) *Job {
	return &Job{id: NewID(), kind: KindBuild, level: level, source: loc, dest: loc, Structure: kind, transferable: true, required: BuildWork}
}

// NewArmTrap creates an order to carry trap component item from itemLoc to
// loc and arm it there.
func NewArmTrap(level world.Level, loc world.HexCoord, proto string, item world.ItemID, itemLoc world.HexCoord) *Job {
	return &Job{id: NewID(), kind: KindArmTrap, level: level, source: itemLoc, dest: loc, TrapProto: proto, Item: item, required: ArmWork}
}

// NewFetch creates an order to haul item from loc into storage at dest.
func NewFetch(level world.Level, loc world.HexCoord, item world.ItemID, dest world.HexCoord) *Job {
	return &Job{id: NewID(), kind: KindFetch, level: level, source: loc, dest: dest, Item: item, transferable: true, required: FetchWork}
}

// NewActivity creates a private job for agent to pursue activity at a
// facility for the given number of ticks.
func NewActivity(level world.Level, loc world.HexCoord, activity agents.Activity, agent agents.AgentID, ticks int) *Job {
	return &Job{id: NewID(), kind: KindActivity, level: level, source: loc, dest: loc, Activity: activity, For: agent, required: max(ticks, 1)}
}

func (j *Job) ID() ID             { return j.id }
func (j *Job) Kind() Kind         { return j.kind }
func (j *Job) IsDone() bool       { return j.done || j.cancelled }
func (j *Job) Cancelled() bool    { return j.cancelled }
func (j *Job) Cancel()            { j.cancelled = true }

// Transferable reports whether another agent may take the job over. A job
// whose item is in someone's hands stays with the carrier.
func (j *Job) Transferable() bool { return j.transferable && !j.carrying }

// Carrying reports whether the carried item has been picked up.
func (j *Job) Carrying() bool { return j.carrying }

// Source returns where the job starts (the item for carrying jobs).
func (j *Job) Source() world.HexCoord { return j.source }

// Destination returns where the job's final work happens.
func (j *Job) Destination() world.HexCoord { return j.dest }

// Progress returns work done and work required.
func (j *Job) Progress() (int, int) { return j.progress, j.required }

// Location is where the agent needs to be next.
func (j *Job) Location() world.HexCoord {
	if j.needsPickup() {
		return j.source
	}
	return j.dest
}

func (j *Job) needsPickup() bool {
	return (j.kind == KindFetch || j.kind == KindArmTrap) && !j.carrying
}

// adjacentWork reports whether the job is done from a neighboring hex.
func (j *Job) adjacentWork() bool {
	return !j.needsPickup() && (j.kind == KindDig || j.kind == KindBuild)
}

// Eligible reports whether a may take this job at all.
func (j *Job) Eligible(a *agents.Agent) bool {
	if a == nil || !a.Alive {
		return false
	}
	if j.kind == KindActivity {
		return a.ID == j.For
	}
	if j.For != 0 {
		return a.ID == j.For
	}
	return a.Category.IsWorkerClass()
}

// Reachable reports whether some hex from which the job can be worked is
// enterable.
func (j *Job) Reachable() bool {
	target := j.Location()
	if j.level.CanEnter(target) {
		return true
	}
	if !j.adjacentWork() {
		return false
	}
	for _, n := range target.Neighbors() {
		if j.level.CanEnter(n) {
			return true
		}
	}
	return false
}

// ActionFor returns a work action when a is in reach of the job and a move
// otherwise. It fails for ineligible agents and unreachable jobs.
func (j *Job) ActionFor(a *agents.Agent) (agents.Action, bool) {
	if j.IsDone() || !j.Eligible(a) || a.Level != j.level.ID() || !j.Reachable() {
		return agents.Action{}, false
	}
	target := j.Location()
	reach := 0
	if j.adjacentWork() {
		reach = 1
	}
	if world.Distance(a.Position, target) <= reach {
		return agents.Action{
			AgentID:  a.ID,
			Kind:     agents.ActionWork,
			Target:   target,
			Item:     j.Item,
			Activity: j.Activity,
			Detail:   j.String(),
		}, true
	}
	act, ok := a.MoveToward(target)
	if ok {
		act.Detail = j.String()
	}
	return act, ok
}

// Work advances the job by one tick of a's labor.
func (j *Job) Work(a *agents.Agent) Outcome {
	if j.IsDone() {
		return OutcomeDone
	}
	if j.needsPickup() {
		j.carrying = true
		return OutcomePickedUp
	}
	j.progress++
	if j.progress >= j.required {
		j.done = true
		return OutcomeDone
	}
	return OutcomeProgress
}

// Drop puts a carrying job back into its pickup stage at loc, used when
// the carrier dies or gives the job up.
func (j *Job) Drop(loc world.HexCoord) {
	if !j.carrying {
		return
	}
	j.carrying = false
	j.source = loc
}

func (j *Job) String() string {
	switch j.kind {
	case KindBuild:
		return fmt.Sprintf("build %s at %v", j.Structure, j.dest)
	case KindArmTrap:
		return fmt.Sprintf("arm %s at %v", j.TrapProto, j.dest)
	case KindFetch:
		return fmt.Sprintf("fetch item %d to %v", j.Item, j.dest)
	case KindActivity:
		return fmt.Sprintf("%s at %v", j.Activity, j.dest)
	}
	return fmt.Sprintf("%s at %v", j.kind, j.dest)
}
