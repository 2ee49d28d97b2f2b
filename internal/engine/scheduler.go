// Scheduler: the per-agent decision made once every tick.
package engine

import (
	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/warning"
	"github.com/talgya/collective/internal/world"
)

// facilityWarnings names the warning raised when an activity's facility is
// missing.
var facilityWarnings = map[world.FurnitureKind]warning.Warning{
	world.FurnitureBed:           warning.NoBeds,
	world.FurnitureTrainingDummy: warning.NoTrainingRoom,
	world.FurnitureWorkshop:      warning.NoWorkshop,
	world.FurnitureLaboratory:    warning.NoLaboratory,
	world.FurnitureBookcase:      warning.NoLibrary,
	world.FurniturePrison:        warning.NoPrison,
	world.FurnitureTortureTable:  warning.NoTortureTable,
	world.FurnitureGrave:         warning.NoGraveyard,
}

// Decide returns what a should do at tick now without applying it.
func (c *Collective) Decide(id agents.AgentID, now uint64) (agents.Action, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok {
		return agents.Action{}, ErrUnknownAgent
	}
	return c.decide(a, now), nil
}

func (c *Collective) decide(a *agents.Agent, now uint64) agents.Action {
	if a.Category.IsWorkerClass() {
		return c.decideWorker(a, now)
	}
	return c.decideMinion(a, now)
}

// decideWorker: continue the owned task, else take the nearest one, else
// head home toward the leader when outside territory.
func (c *Collective) decideWorker(a *agents.Agent, now uint64) agents.Action {
	if act, ok := c.taskAction(a, now); ok {
		return act
	}
	if !c.Map.InTerritory(a.Position) {
		if l, ok := c.index[c.leader]; ok && l.Alive {
			if act, ok := a.MoveToward(l.Position); ok {
				act.Detail = "return to leader"
				return act
			}
		}
	}
	return agents.Idle(a.ID)
}

// taskAction continues a's owned task or acquires the nearest one.
func (c *Collective) taskAction(a *agents.Agent, now uint64) (agents.Action, bool) {
	if t, ok := c.Pool.TaskOf(a.ID); ok && !t.IsDone() {
		if act, ok := t.ActionFor(a); ok {
			return act, true
		}
		c.Pool.Lock(a.ID, t.ID())
		if job, ok := t.(*tasks.Job); ok {
			c.setDown(a, job)
			if job.For == a.ID {
				// Nobody else can finish a private job.
				job.Cancel()
			}
		}
		_ = c.Pool.Free(t.ID())
	}
	_, act, ok := c.Pool.AssignNearestTo(a, now, c)
	return act, ok
}

// decideMinion walks the fighter priorities in order; the first rule that
// yields an action wins.
func (c *Collective) decideMinion(a *agents.Agent, now uint64) agents.Action {
	home := c.Map.ID()

	// Player-controlled.
	if a.ControlledBy != nil {
		if p, ok := c.index[*a.ControlledBy]; ok && p.Alive {
			return agents.Action{AgentID: a.ID, Kind: agents.ActionFollow, Target: p.Position, Detail: "follow " + p.Name}
		}
		a.ControlledBy = nil
	}

	// Away from home: backtrack to where it left.
	if a.Level != home {
		if a.LastTransition != nil {
			act := agents.Action{AgentID: a.ID, Kind: agents.ActionMove, Target: *a.LastTransition, Detail: "backtrack"}
			return act
		}
		return agents.Idle(a.ID)
	}

	if c.alarm != nil && !a.Category.IgnoresAlarm() {
		if act, ok := a.MoveToward(*c.alarm); ok {
			act.Detail = "answer alarm"
			return act
		}
		return agents.Action{AgentID: a.ID, Kind: agents.ActionGuard, Target: *c.alarm, Detail: "hold alarm"}
	}

	if c.Map.InTerritory(a.Position) {
		if bad := a.DisallowedCarried(); len(bad) > 0 {
			return agents.Action{AgentID: a.ID, Kind: agents.ActionDrop, Target: a.Position, Item: bad[0].ID}
		}
	}

	if a.Category == agents.CategoryBeast {
		return c.wander(a)
	}

	if act, ok := c.prisonerDuty(a); ok {
		return act
	}

	if a.GuardPost != nil {
		if act, ok := a.MoveToward(*a.GuardPost); ok {
			act.Detail = "to guard post"
			return act
		}
		return agents.Action{AgentID: a.ID, Kind: agents.ActionGuard, Target: *a.GuardPost}
	}

	if act, ok := c.taskAction(a, now); ok {
		return act
	}

	if a.Category.CanEquip() {
		if act, ok := c.autoEquip(a); ok {
			return act
		}
	}

	return c.activity(a, now)
}

// wander steps a beast to a random enterable neighbor inside territory,
// or toward territory when it has strayed.
func (c *Collective) wander(a *agents.Agent) agents.Action {
	ns := a.Position.Neighbors()
	start := c.rng.Intn(len(ns))
	inside := c.Map.InTerritory(a.Position)
	for i := range ns {
		n := ns[(start+i)%len(ns)]
		if c.Map.CanEnter(n) && (!inside || c.Map.InTerritory(n)) {
			return agents.Action{AgentID: a.ID, Kind: agents.ActionWander, Target: n}
		}
	}
	return agents.Idle(a.ID)
}

func (c *Collective) prisonerDuty(a *agents.Agent) (agents.Action, bool) {
	if a.Prisoner == nil || a.Duty == agents.DutyNone {
		return agents.Action{}, false
	}
	p, ok := c.index[*a.Prisoner]
	if !ok || !p.Alive {
		a.Prisoner, a.Duty = nil, agents.DutyNone
		return agents.Action{}, false
	}
	if world.Distance(a.Position, p.Position) > 1 {
		act, ok := a.MoveToward(p.Position)
		act.Detail = "pursue " + p.Name
		return act, ok
	}
	kind := agents.ActionExecute
	if a.Duty == agents.DutyTorture {
		kind = agents.ActionTorture
	}
	return agents.Action{AgentID: a.ID, Kind: kind, Target: p.Position, Detail: p.Name}, true
}

// autoEquip heads for the nearest unreserved piece of equipment in storage
// that a does not already wear.
func (c *Collective) autoEquip(a *agents.Agent) (agents.Action, bool) {
	best := -1
	var target world.HexCoord
	var item world.Item
	for _, loc := range c.Map.StorageLocations(world.StorageEquipment) {
		for _, it := range c.Map.Items(loc) {
			if it.Reserved || !world.EquipmentProtos[it.Proto] || a.HasEquipped(it.Proto) {
				continue
			}
			if d := world.Distance(a.Position, loc); best < 0 || d < best {
				best, target, item = d, loc, it
			}
		}
	}
	if best < 0 {
		return agents.Action{}, false
	}
	if best == 0 {
		return agents.Action{AgentID: a.ID, Kind: agents.ActionEquip, Target: target, Item: item.ID, Detail: item.Proto}, true
	}
	act, ok := a.MoveToward(target)
	act.Detail = "fetch " + item.Proto
	return act, ok
}

// activity advances a's behavior machine and starts a session at the
// facility its state needs. A missing facility raises the facility's
// warning and forces the machine on.
func (c *Collective) activity(a *agents.Agent, now uint64) agents.Action {
	m := a.Behavior
	if m == nil {
		return agents.Idle(a.ID)
	}
	m.Update(c.rng)

	for tries := 0; tries < 2; tries++ {
		act := m.Current()
		fac := act.Facility()
		if fac == world.FurnitureNone {
			return agents.Action{AgentID: a.ID, Kind: agents.ActionActivity, Target: a.Position, Activity: act}
		}
		locs := c.Map.Facilities(fac)
		if len(locs) == 0 {
			if w, ok := facilityWarnings[fac]; ok {
				c.warnings.Raise(w)
			}
			m.UpdateToNext(c.rng)
			continue
		}
		if w, ok := facilityWarnings[fac]; ok {
			c.warnings.Clear(w)
		}
		loc := nearest(a.Position, locs)
		job := tasks.NewActivity(c.Map, loc, act, a.ID, c.opts.ActivityTicks)
		if _, err := c.Pool.Add(job); err != nil {
			return agents.Idle(a.ID)
		}
		_ = c.Pool.AssignTo(job.ID(), a.ID)
		if out, ok := job.ActionFor(a); ok {
			return out
		}
		job.Cancel()
		return agents.Idle(a.ID)
	}
	return agents.Idle(a.ID)
}

func nearest(from world.HexCoord, locs []world.HexCoord) world.HexCoord {
	best := locs[0]
	for _, l := range locs[1:] {
		if world.Distance(from, l) < world.Distance(from, best) {
			best = l
		}
	}
	return best
}
