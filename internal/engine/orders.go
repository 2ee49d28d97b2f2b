package engine

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/world"
)

// ErrNotDiggable is returned for dig orders on anything but rock.
var ErrNotDiggable = errors.New("location cannot be dug")

// SelectionMode says what a drag selection over many locations does. The
// mode is decided once per drag from its first location and passed down;
// nothing about it is kept between calls.
type SelectionMode uint8

const (
	SelectDig SelectionMode = iota
	SelectCancelDig
	SelectBuild
	SelectCancelBuild
	SelectTrap
	SelectRemoveTrap
)

var selectionNames = [...]string{"dig", "cancel_dig", "build", "cancel_build", "trap", "remove_trap"}

func (m SelectionMode) String() string {
	if int(m) < len(selectionNames) {
		return selectionNames[m]
	}
	return "unknown"
}

// Selection is the payload of a drag selection.
type Selection struct {
	Mode      SelectionMode
	Structure world.StructureKind
	Cost      economy.CostAmount
	Trap      string
}

// SelectionModeAt resolves the mode of a drag that starts at first: a drag
// that starts on an existing order removes orders instead of adding them.
func (c *Collective) SelectionModeAt(base SelectionMode, first world.HexCoord) SelectionMode {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch base {
	case SelectDig:
		if _, ok := c.Pool.MarkedAt(first); ok {
			return SelectCancelDig
		}
	case SelectBuild:
		if _, ok := c.Constructions.Get(first); ok {
			return SelectCancelBuild
		}
	case SelectTrap:
		if _, ok := c.Constructions.Trap(first); ok {
			return SelectRemoveTrap
		}
	}
	return base
}

// ApplySelection applies sel to every location and returns how many
// locations it changed. Locations where the order does not apply are
// skipped.
func (c *Collective) ApplySelection(sel Selection, locs []world.HexCoord) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, loc := range locs {
		var err error
		switch sel.Mode {
		case SelectDig:
			err = c.dig(loc)
		case SelectCancelDig:
			err = c.cancelDig(loc)
		case SelectBuild:
			err = c.build(loc, sel.Structure, sel.Cost)
		case SelectCancelBuild:
			_, err = c.Constructions.Cancel(c.env(), loc)
		case SelectTrap:
			err = c.Constructions.AddTrap(loc, sel.Trap, c.lastTick)
		case SelectRemoveTrap:
			err = c.Constructions.RemoveTrap(c.env(), loc)
		default:
			err = fmt.Errorf("selection mode %d", sel.Mode)
		}
		if err == nil {
			n++
		}
	}
	slog.Info("selection applied", "mode", sel.Mode, "locations", len(locs), "applied", n)
	return n
}

// Dig orders rock at loc dug out.
func (c *Collective) Dig(loc world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.dig(loc)
}

func (c *Collective) dig(loc world.HexCoord) error {
	h := c.Map.Get(loc)
	if h == nil || h.Terrain != world.TerrainRock {
		return fmt.Errorf("dig %v: %w", loc, ErrNotDiggable)
	}
	if _, err := c.Pool.Mark(loc, tasks.NewDig(c.Map, loc)); err != nil {
		return fmt.Errorf("dig %v: %w", loc, err)
	}
	logOrder("dig", "at", loc)
	return nil
}

// CancelDig withdraws the dig order at loc.
func (c *Collective) CancelDig(loc world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cancelDig(loc)
}

func (c *Collective) cancelDig(loc world.HexCoord) error {
	t, ok := c.Pool.MarkedAt(loc)
	if job, isJob := t.(*tasks.Job); !ok || !isJob || job.Kind() != tasks.KindDig {
		return fmt.Errorf("cancel dig %v: %w", loc, tasks.ErrTaskNotFound)
	}
	refund, _ := c.Pool.Unmark(loc)
	c.Resources.ReturnResource(refund)
	return nil
}

// Build orders a structure of kind at loc for cost.
func (c *Collective) Build(loc world.HexCoord, kind world.StructureKind, cost economy.CostAmount) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.build(loc, kind, cost)
}

func (c *Collective) build(loc world.HexCoord, kind world.StructureKind, cost economy.CostAmount) error {
	if err := c.Constructions.Order(c.Map, loc, kind, cost); err != nil {
		return err
	}
	logOrder("build", "at", loc, "structure", kind, "cost", cost.String())
	return nil
}

// CancelConstruction drops the construction at loc and refunds whatever
// was reserved for it.
func (c *Collective) CancelConstruction(loc world.HexCoord) (economy.CostAmount, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Constructions.Cancel(c.env(), loc)
}

// SetTrap places a trap of proto at loc; a worker arms it once a component
// is in storage.
func (c *Collective) SetTrap(loc world.HexCoord, proto string) error {
	if !world.TrapProtos[proto] {
		return fmt.Errorf("set trap: unknown trap %q", proto)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Constructions.AddTrap(loc, proto, c.lastTick)
}

// RemoveTrap drops the trap at loc.
func (c *Collective) RemoveTrap(loc world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.Constructions.RemoveTrap(c.env(), loc)
}

// TriggerTrap fires the armed trap at loc. Alarm traps sound the alarm.
func (c *Collective) TriggerTrap(loc world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	t, ok := c.Constructions.Trap(loc)
	if !ok || !t.Armed {
		return fmt.Errorf("trigger trap %v: not armed", loc)
	}
	c.Constructions.OnTriggered(loc, c.lastTick)
	if t.Proto == world.ProtoAlarmTrap {
		c.setAlarm(loc)
	}
	c.emit(Event{Description: fmt.Sprintf("%s triggered at %v", t.Proto, loc), Category: "trap"})
	return nil
}

// DestroyStructure knocks down the structure at loc; an ordered
// construction there is rebuilt after the build delay.
func (c *Collective) DestroyStructure(loc world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	kind, ok := c.Map.DestroyStructure(loc)
	if !ok {
		return fmt.Errorf("destroy %v: no structure", loc)
	}
	c.Constructions.OnDestroyed(loc, c.lastTick)
	c.topologyChanged()
	c.emit(Event{Description: fmt.Sprintf("%s at %v destroyed", kind, loc), Category: "construction"})
	return nil
}

// OnTopologyChanged is called when the level changes shape outside the
// collective's own orders.
func (c *Collective) OnTopologyChanged() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topologyChanged()
}

// SetAlarm sounds the alarm at loc.
func (c *Collective) SetAlarm(loc world.HexCoord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setAlarm(loc)
}

func (c *Collective) setAlarm(loc world.HexCoord) {
	l := loc
	c.alarm = &l
	c.alarmUntil = c.lastTick + c.opts.AlarmDuration
}

// Alarm returns the active alarm origin.
func (c *Collective) Alarm() (world.HexCoord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.alarm == nil {
		return world.HexCoord{}, false
	}
	return *c.alarm, true
}

// issueFetches orders every loose item lying in territory outside storage
// hauled to the nearest storage that accepts it. Suppressed locations are
// left alone.
func (c *Collective) issueFetches(now uint64) {
	for _, loc := range c.Map.Territory() {
		h := c.Map.Get(loc)
		if h.Storage != world.StorageNone || len(h.Items) == 0 || c.Threats.IsDelayed(loc, now) {
			continue
		}
		for _, it := range h.Items {
			if it.Reserved {
				continue
			}
			if _, ok := c.fetching[it.ID]; ok {
				continue
			}
			dest, ok := c.storageFor(it, loc)
			if !ok {
				continue
			}
			job := tasks.NewFetch(c.Map, loc, it.ID, dest)
			if _, err := c.Pool.Add(job); err != nil {
				continue
			}
			c.fetching[it.ID] = job.ID()
		}
	}
}

// storageFor picks the nearest storage location for it.
func (c *Collective) storageFor(it world.Item, from world.HexCoord) (world.HexCoord, bool) {
	var kinds []world.StorageKind
	if kind, ok := c.Resources.Catalog().KindOf(it); ok {
		kinds = c.Resources.Catalog().Info(kind).Storage
	} else if world.EquipmentProtos[it.Proto] || world.TrapProtos[it.Proto] {
		kinds = []world.StorageKind{world.StorageEquipment}
	}
	var locs []world.HexCoord
	for _, k := range kinds {
		locs = append(locs, c.Map.StorageLocations(k)...)
	}
	if len(locs) == 0 {
		return world.HexCoord{}, false
	}
	return nearest(from, locs), true
}

// Recruit pays the current recruit cost and spawns an agent of cat next to
// the leader (or at the origin).
func (c *Collective) Recruit(cat agents.Category) (*agents.Agent, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cat == agents.CategoryHostile || cat == agents.CategoryPrisoner {
		return nil, fmt.Errorf("recruit %s: %w", cat, ErrIllegalAssignment)
	}
	cost := c.opts.RecruitSchedule.Cost(c.recruited)
	if err := c.Resources.TakeResource(cost); err != nil {
		var short *economy.InsufficientResourceError
		if errors.As(err, &short) {
			c.warnings.Raise(c.Resources.Catalog().Info(cost.Kind).Warning)
		}
		return nil, fmt.Errorf("recruit %s: %w", cat, err)
	}
	pos := world.HexCoord{}
	if l, ok := c.index[c.leader]; ok && l.Alive {
		pos = l.Position
	}
	a := c.Spawner.Spawn(cat, c.Map.ID(), pos, c.lastTick)
	c.addAgent(a)
	c.recruited++
	c.emit(Event{
		Description: fmt.Sprintf("%s joined the collective for %s", a.Name, cost),
		Category:    "recruit",
		Meta:        map[string]any{"agent_id": a.ID, "category": cat.String(), "cost": cost.Value},
	})
	return a, nil
}

// RecruitCost returns what the next recruit costs.
func (c *Collective) RecruitCost() economy.CostAmount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.RecruitSchedule.Cost(c.recruited)
}

// Research pays the current research cost and returns the number of
// upgrades now acquired.
func (c *Collective) Research() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	cost := c.opts.ResearchSchedule.Cost(c.researched)
	if err := c.Resources.TakeResource(cost); err != nil {
		var short *economy.InsufficientResourceError
		if errors.As(err, &short) {
			c.warnings.Raise(c.Resources.Catalog().Info(cost.Kind).Warning)
		}
		return c.researched, fmt.Errorf("research: %w", err)
	}
	c.researched++
	c.emit(Event{Description: fmt.Sprintf("research %d complete", c.researched), Category: "research"})
	return c.researched, nil
}

// ResearchCost returns what the next upgrade costs.
func (c *Collective) ResearchCost() economy.CostAmount {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.opts.ResearchSchedule.Cost(c.researched)
}

// AssignMinionTask overrides an agent's recurring activity. The activity
// must be reachable in the agent's archetype graph.
func (c *Collective) AssignMinionTask(id agents.AgentID, act agents.Activity) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok || !a.Alive {
		return fmt.Errorf("assign %d: %w", id, ErrUnknownAgent)
	}
	if a.Behavior == nil || !a.Behavior.ContainsState(act) {
		return fmt.Errorf("assign %s to %s: %w", a.Name, act, ErrIllegalAssignment)
	}
	if t, ok := c.Pool.TaskOf(id); ok {
		if job, isJob := t.(*tasks.Job); isJob && job.Kind() == tasks.KindActivity {
			job.Cancel()
		}
	}
	return a.Behavior.Set(act)
}

// AssignPrisonerDuty sends guard after prisoner to execute or torture it.
// Torture needs a prisoner whose archetype can be tortured.
func (c *Collective) AssignPrisonerDuty(guard, prisoner agents.AgentID, duty agents.PrisonerDuty) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	g, ok := c.index[guard]
	if !ok || !g.Alive {
		return fmt.Errorf("duty: guard %d: %w", guard, ErrUnknownAgent)
	}
	p, ok := c.index[prisoner]
	if !ok || !p.Alive {
		return fmt.Errorf("duty: prisoner %d: %w", prisoner, ErrUnknownAgent)
	}
	if p.Category != agents.CategoryPrisoner || g.Category.IsWorkerClass() || g.Category == agents.CategoryBeast {
		return fmt.Errorf("duty %s on %s: %w", g.Name, p.Name, ErrIllegalAssignment)
	}
	if duty == agents.DutyTorture && (p.Behavior == nil || !p.Behavior.ContainsState(agents.ActivityBeTortured)) {
		return fmt.Errorf("torture %s: %w", p.Name, ErrIllegalAssignment)
	}
	if duty == agents.DutyNone {
		g.Prisoner = nil
	} else {
		id := prisoner
		g.Prisoner = &id
	}
	g.Duty = duty
	return nil
}

// SetGuardPost makes id hold loc; nil releases it.
func (c *Collective) SetGuardPost(id agents.AgentID, loc *world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok {
		return fmt.Errorf("guard post: %w", ErrUnknownAgent)
	}
	if a.Category.IsWorkerClass() {
		return fmt.Errorf("guard post for %s: %w", a.Name, ErrIllegalAssignment)
	}
	if loc != nil && !c.Map.CanEnter(*loc) {
		return fmt.Errorf("guard post %v: %w", *loc, ErrIllegalAssignment)
	}
	a.GuardPost = loc
	return nil
}

// SetControl puts id under the control of proxy; nil releases it.
func (c *Collective) SetControl(id agents.AgentID, proxy *agents.AgentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok {
		return fmt.Errorf("control: %w", ErrUnknownAgent)
	}
	a.ControlledBy = proxy
	return nil
}

// SendAway moves id to another level through the transition point at loc.
func (c *Collective) SendAway(id agents.AgentID, level world.LevelID, via world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok {
		return fmt.Errorf("send away: %w", ErrUnknownAgent)
	}
	v := via
	a.Level = level
	a.LastTransition = &v
	return nil
}

// MoveAgent places id at pos directly (teleport, invader arrival).
func (c *Collective) MoveAgent(id agents.AgentID, pos world.HexCoord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok {
		return fmt.Errorf("move: %w", ErrUnknownAgent)
	}
	a.Position = pos
	return nil
}

// OnAgentDied records id's death: its transferable task is released with a
// retry delay, anything else is cancelled and refunded.
func (c *Collective) OnAgentDied(id agents.AgentID) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	a, ok := c.index[id]
	if !ok {
		return fmt.Errorf("agent died: %w", ErrUnknownAgent)
	}
	c.agentDied(a, c.lastTick)
	return nil
}

// Fetch orders every loose item at loc hauled into storage and returns how
// many orders were issued. Suppressed locations are refused.
func (c *Collective) Fetch(loc world.HexCoord) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.Threats.IsDelayed(loc, c.lastTick) {
		return 0, fmt.Errorf("fetch %v: threat nearby", loc)
	}
	n := 0
	for _, it := range c.Map.Items(loc) {
		if it.Reserved {
			continue
		}
		if _, ok := c.fetching[it.ID]; ok {
			continue
		}
		dest, ok := c.storageFor(it, loc)
		if !ok || dest == loc {
			continue
		}
		job := tasks.NewFetch(c.Map, loc, it.ID, dest)
		if _, err := c.Pool.Add(job); err != nil {
			return n, fmt.Errorf("fetch %v: %w", loc, err)
		}
		c.fetching[it.ID] = job.ID()
		n++
	}
	return n, nil
}
