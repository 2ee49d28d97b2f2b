package engine

import (
	"fmt"
	"log/slog"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/construction"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/world"
)

// AgentState is a detached copy of an agent.
type AgentState struct {
	agents.Agent
	Activity agents.Activity `json:"activity"`
}

// TaskView describes one live task.
type TaskView struct {
	ID       string         `json:"id"`
	Kind     string         `json:"kind"`
	Location world.HexCoord `json:"location"`
	Owner    agents.AgentID `json:"owner,omitempty"`
	Cost     string         `json:"cost,omitempty"`
	Delayed  uint64         `json:"delayed_until,omitempty"`
	Detail   string         `json:"detail"`
}

// ResourceView is one row of the resource ledger.
type ResourceView struct {
	Kind   string `json:"kind"`
	Credit int    `json:"credit"`
	Total  int    `json:"total"`
}

// State is a detached snapshot of everything worth saving or showing.
type State struct {
	Tick          uint64                    `json:"tick"`
	Agents        []AgentState              `json:"agents"`
	Credits       [economy.NumResources]int `json:"credits"`
	Resources     []ResourceView            `json:"resources"`
	Constructions []construction.Record     `json:"constructions"`
	Traps         []construction.TrapRecord `json:"traps"`
	Tasks         []TaskView                `json:"tasks"`
	Digs          []world.HexCoord          `json:"digs,omitempty"`
	Warnings      []string                  `json:"warnings"`
	Recruited     int                       `json:"recruited"`
	Researched    int                       `json:"researched"`
	RecruitCost   economy.CostAmount        `json:"recruit_cost"`
	ResearchCost  economy.CostAmount        `json:"research_cost"`
	Alarm         *world.HexCoord           `json:"alarm,omitempty"`
	Stats         Stats                     `json:"stats"`
}

// Snapshot copies the collective's state under its lock.
func (c *Collective) Snapshot() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.snapshot()
}

// Checkpoint calls save with a snapshot, the map and the event log while
// the collective is locked, so nothing moves underneath a save.
func (c *Collective) Checkpoint(save func(State, *world.Map, []Event) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return save(c.snapshot(), c.Map, c.events)
}

func (c *Collective) snapshot() State {
	s := State{
		Tick:          c.lastTick,
		Credits:       c.Resources.Credits(),
		Constructions: c.Constructions.Records(),
		Traps:         c.Constructions.Traps(),
		Warnings:      c.warnings.Strings(),
		Recruited:     c.recruited,
		Researched:    c.researched,
		RecruitCost:   c.opts.RecruitSchedule.Cost(c.recruited),
		ResearchCost:  c.opts.ResearchSchedule.Cost(c.researched),
		Stats:         c.stats,
	}
	s.Stats.ByCategory = make(map[string]int, len(c.stats.ByCategory))
	for k, v := range c.stats.ByCategory {
		s.Stats.ByCategory[k] = v
	}
	if c.alarm != nil {
		a := *c.alarm
		s.Alarm = &a
	}
	s.Resources = c.resourceViews()
	for _, a := range c.agents {
		cp := *a
		cp.Behavior = nil
		cp.Carried = append([]world.Item(nil), a.Carried...)
		cp.Equipment = append([]world.Item(nil), a.Equipment...)
		s.Agents = append(s.Agents, AgentState{Agent: cp, Activity: a.Activity()})
	}
	for _, t := range c.Pool.Tasks() {
		s.Tasks = append(s.Tasks, c.taskView(t))
		if job, ok := t.(*tasks.Job); ok && job.Kind() == tasks.KindDig {
			s.Digs = append(s.Digs, job.Destination())
		}
		// Live tasks are not saved; what they hold comes back as credit.
		if cost, ok := c.Pool.Cost(t.ID()); ok && cost.Value > 0 {
			s.Credits[cost.Kind] += cost.Value
		}
	}
	return s
}

// Ledger returns the current resource totals.
func (c *Collective) Ledger() []ResourceView {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resourceViews()
}

func (c *Collective) resourceViews() []ResourceView {
	out := make([]ResourceView, 0, economy.NumResources)
	for k := economy.ResourceKind(0); k < economy.NumResources; k++ {
		out = append(out, ResourceView{
			Kind:   k.String(),
			Credit: c.Resources.Credit(k),
			Total:  c.Resources.NumResource(k),
		})
	}
	return out
}

// Tasks returns a view of every live task.
func (c *Collective) Tasks() []TaskView {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []TaskView
	for _, t := range c.Pool.Tasks() {
		out = append(out, c.taskView(t))
	}
	return out
}

func (c *Collective) taskView(t tasks.Task) TaskView {
	v := TaskView{ID: t.ID().String(), Kind: "task", Location: t.Location(), Detail: fmt.Sprint(t)}
	if job, ok := t.(*tasks.Job); ok {
		v.Kind = job.Kind().String()
		v.Detail = job.String()
	}
	if owner, ok := c.Pool.Owner(t.ID()); ok {
		v.Owner = owner
	}
	if cost, ok := c.Pool.Cost(t.ID()); ok && !cost.IsZero() {
		v.Cost = cost.String()
	}
	if until, ok := c.Pool.DelayedUntil(t.ID()); ok {
		v.Delayed = until
	}
	return v
}

// Restore loads a saved snapshot into a fresh collective whose map is
// already loaded. Live tasks are not saved; dig orders are re-issued from
// the saved locations and the rest from the construction records.
func (c *Collective) Restore(s State) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTick = s.Tick
	c.recruited = s.Recruited
	c.researched = s.Researched
	for k, v := range s.Credits {
		c.Resources.AddCredit(economy.ResourceKind(k), v-c.Resources.Credit(economy.ResourceKind(k)))
	}
	for _, r := range s.Constructions {
		c.Constructions.Restore(r)
	}
	for _, t := range s.Traps {
		c.Constructions.RestoreTrap(t)
	}
	for _, loc := range s.Digs {
		if err := c.dig(loc); err != nil {
			slog.Warn("dropping saved dig order", "at", loc, "error", err)
		}
	}
	for _, as := range s.Agents {
		a := as.Agent
		if a.Category.IsWorkerClass() {
			// The hauling jobs were not saved; put their loads down.
			for _, it := range a.Carried {
				c.Map.PutItem(a.Position, it)
			}
			a.Carried = nil
		}
		c.addAgent(&a)
		if a.Behavior != nil && a.Behavior.ContainsState(as.Activity) {
			_ = a.Behavior.Set(as.Activity)
		}
	}
	c.updateStats()
}
