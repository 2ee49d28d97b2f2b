package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/world"
)

// Torture wears a prisoner down by this much health per tick.
const tortureDamage = 0.05

// apply carries out a decided action against the collective's state.
func (c *Collective) apply(a *agents.Agent, act agents.Action, now uint64) {
	switch act.Kind {
	case agents.ActionMove, agents.ActionWander:
		c.step(a, act.Target)
	case agents.ActionFollow:
		if world.Distance(a.Position, act.Target) > 1 {
			c.step(a, act.Target)
		}
	case agents.ActionWork:
		c.work(a, now)
	case agents.ActionDrop:
		c.drop(a, act.Item)
	case agents.ActionEquip:
		c.equip(a, act.Target, act.Item)
	case agents.ActionExecute:
		if a.Prisoner == nil {
			return
		}
		if p, ok := c.index[*a.Prisoner]; ok {
			c.emit(Event{Description: fmt.Sprintf("%s executed %s", a.Name, p.Name), Category: "prison"})
			c.agentDied(p, now)
		}
		a.Prisoner, a.Duty = nil, agents.DutyNone
	case agents.ActionTorture:
		if a.Prisoner == nil {
			return
		}
		if p, ok := c.index[*a.Prisoner]; ok {
			if p.Behavior != nil && p.Behavior.ContainsState(agents.ActivityBeTortured) {
				_ = p.Behavior.Set(agents.ActivityBeTortured)
			}
			p.Health -= tortureDamage
			if p.Health <= 0 {
				p.Health = 0
				c.emit(Event{Description: fmt.Sprintf("%s died under torture", p.Name), Category: "prison"})
				c.agentDied(p, now)
			}
		}
	}
}

// step moves a one hex toward target. Off the home level there is no map
// to consult; the move is taken as given.
func (c *Collective) step(a *agents.Agent, target world.HexCoord) {
	if a.Level != c.Map.ID() {
		a.Position = a.Position.StepToward(target)
		if a.LastTransition != nil && a.Position == *a.LastTransition {
			a.Level = c.Map.ID()
			a.LastTransition = nil
		}
		return
	}
	next := a.Position.StepToward(target)
	if !c.Map.CanEnter(next) {
		// Sidestep: any enterable neighbor that still gets closer.
		d := world.Distance(a.Position, target)
		moved := false
		for _, n := range a.Position.Neighbors() {
			if c.Map.CanEnter(n) && world.Distance(n, target) < d {
				next, moved = n, true
				break
			}
		}
		if !moved {
			return
		}
	}
	a.Position = next
}

// work advances a's owned task and applies its effects on completion.
func (c *Collective) work(a *agents.Agent, now uint64) {
	t, ok := c.Pool.TaskOf(a.ID)
	if !ok {
		return
	}
	job, ok := t.(*tasks.Job)
	if !ok {
		if w, ok := t.(tasks.Worker); ok {
			w.Work(a)
		}
		return
	}
	switch job.Work(a) {
	case tasks.OutcomePickedUp:
		it, ok := c.Map.RemoveItem(job.Source(), job.Item)
		if !ok {
			job.Cancel()
			return
		}
		it.Reserved = false
		a.Carried = append(a.Carried, it)
	case tasks.OutcomeDone:
		c.complete(a, job, now)
	}
}

func (c *Collective) complete(a *agents.Agent, job *tasks.Job, now uint64) {
	loc := job.Destination()
	switch job.Kind() {
	case tasks.KindDig:
		if c.Map.Dig(loc) {
			c.Map.Claim(loc)
			c.topologyChanged()
			c.emit(Event{Description: fmt.Sprintf("%s dug out %v", a.Name, loc), Category: "task"})
		}
	case tasks.KindBuild:
		if c.Map.PlaceStructure(loc, job.Structure) {
			c.Constructions.OnBuilt(loc)
			c.topologyChanged()
			c.emit(Event{Description: fmt.Sprintf("%s built a %s at %v", a.Name, job.Structure, loc), Category: "task"})
			return
		}
		// Something else took the spot: give the materials back and retry
		// later. The job still finishes as done, so reap does not refund
		// it a second time.
		if cost, ok := c.Pool.Cost(job.ID()); ok {
			c.Resources.ReturnResource(cost)
		}
		c.Constructions.OnDestroyed(loc, now)
	case tasks.KindArmTrap:
		if _, ok := takeCarried(a, job.Item); ok {
			c.Constructions.OnArmed(loc)
			c.emit(Event{Description: fmt.Sprintf("%s armed a %s at %v", a.Name, job.TrapProto, loc), Category: "task"})
		}
	case tasks.KindFetch:
		if it, ok := takeCarried(a, job.Item); ok {
			c.Map.PutItem(loc, it)
		}
	}
}

func takeCarried(a *agents.Agent, id world.ItemID) (world.Item, bool) {
	for i, it := range a.Carried {
		if it.ID == id {
			a.Carried = append(a.Carried[:i], a.Carried[i+1:]...)
			return it, true
		}
	}
	return world.Item{}, false
}

// setDown puts the item of a's carrying job back on the map where a
// stands and rewinds the job to its pickup stage, so it can change hands.
func (c *Collective) setDown(a *agents.Agent, job *tasks.Job) {
	if !job.Carrying() {
		return
	}
	c.drop(a, job.Item)
	job.Drop(a.Position)
}

func (c *Collective) drop(a *agents.Agent, id world.ItemID) {
	it, ok := takeCarried(a, id)
	if !ok {
		return
	}
	it.Owner = 0
	c.Map.PutItem(a.Position, it)
}

func (c *Collective) equip(a *agents.Agent, loc world.HexCoord, id world.ItemID) {
	it, ok := c.Map.RemoveItem(loc, id)
	if !ok {
		return
	}
	if !a.Equip(it) {
		c.Map.PutItem(loc, it)
		return
	}
	slog.Debug("agent equipped", "agent", a.Name, "item", it.Proto)
}

// topologyChanged invalidates every per-agent infeasibility judgment.
func (c *Collective) topologyChanged() {
	c.Pool.ClearAllLocks()
}

// agentDied handles an agent's death: its task is handed back to the pool
// (transferable) or cancelled and refunded, and what it carried is dropped.
func (c *Collective) agentDied(a *agents.Agent, now uint64) {
	if !a.Alive {
		return
	}
	a.Alive = false
	a.Health = 0

	if t, ok := c.Pool.TaskOf(a.ID); ok {
		if job, ok := t.(*tasks.Job); ok {
			c.setDown(a, job)
		}
	}
	refund, task, kept := c.Pool.ReleaseOwner(a.ID, now, c.opts.TaskRetryDelay)
	if job, ok := task.(*tasks.Job); ok {
		if !kept {
			c.Resources.ReturnResource(refund)
			c.Constructions.TaskGone(c.env(), job.ID())
			if job.Kind() == tasks.KindFetch {
				delete(c.fetching, job.Item)
			}
		}
	} else if task != nil && !kept {
		c.Resources.ReturnResource(refund)
	}

	for _, it := range a.Carried {
		it.Owner = 0
		c.Map.PutItem(a.Position, it)
	}
	a.Carried = nil

	for _, other := range c.agents {
		if other.Prisoner != nil && *other.Prisoner == a.ID {
			other.Prisoner, other.Duty = nil, agents.DutyNone
		}
		if other.ControlledBy != nil && *other.ControlledBy == a.ID {
			other.ControlledBy = nil
		}
	}
	if c.leader == a.ID {
		c.leader = 0
	}
	c.emit(Event{
		Description: fmt.Sprintf("%s the %s has died", a.Name, a.Category),
		Category:    "death",
		Meta:        map[string]any{"agent_id": a.ID, "kept_task": kept},
	})
}
