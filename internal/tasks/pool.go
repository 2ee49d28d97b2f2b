package tasks

import (
	"errors"
	"fmt"
	"sort"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/world"
)

var (
	// ErrDuplicateTask is returned when a task id is already live in the pool.
	ErrDuplicateTask = errors.New("duplicate task")
	// ErrTaskNotFound is returned for stale handles and unknown ids.
	ErrTaskNotFound = errors.New("task not found")
	// ErrLocationMarked is returned when a location already has a marked task.
	ErrLocationMarked = errors.New("location already marked")
)

// Handle addresses a pool slot. Handles go stale when their task is removed
// and the slot is reused.
type Handle struct {
	index int32
	gen   uint32
}

// Roster resolves agent ids to agents; used to compare a candidate with a
// task's current owner.
type Roster interface {
	Agent(id agents.AgentID) (*agents.Agent, bool)
}

// eligible is implemented by tasks that only some agents may ever take.
// Ineligible agents skip such tasks without locking them.
type eligible interface {
	Eligible(a *agents.Agent) bool
}

type entry struct {
	task  Task
	gen   uint32
	live  bool
	seq   uint64 // Insertion order; breaks distance ties
	owner agents.AgentID
	owned bool
	cost  economy.CostAmount
	mark  *world.HexCoord
}

type lockKey struct {
	agent agents.AgentID
	task  ID
}

// Pool is the set of outstanding tasks. Slots are stable: removing a task
// frees its slot for reuse without moving other tasks.
type Pool struct {
	slots   []entry
	free    []int32
	seq     uint64
	byID    map[ID]Handle
	byOwner map[agents.AgentID]Handle
	marked  map[world.HexCoord]Handle
	locks   map[lockKey]struct{}
	delayed map[ID]uint64
}

// NewPool creates an empty task pool.
func NewPool() *Pool {
	return &Pool{
		byID:    make(map[ID]Handle),
		byOwner: make(map[agents.AgentID]Handle),
		marked:  make(map[world.HexCoord]Handle),
		locks:   make(map[lockKey]struct{}),
		delayed: make(map[ID]uint64),
	}
}

// Len returns the number of live tasks.
func (p *Pool) Len() int { return len(p.byID) }

// Add inserts an unowned task.
func (p *Pool) Add(t Task) (Handle, error) {
	return p.AddWithCost(t, economy.ZeroCost())
}

// AddWithCost inserts an unowned task with a refundable cost attached.
func (p *Pool) AddWithCost(t Task, cost economy.CostAmount) (Handle, error) {
	if t == nil {
		return Handle{}, fmt.Errorf("add nil task: %w", ErrTaskNotFound)
	}
	if _, ok := p.byID[t.ID()]; ok {
		return Handle{}, fmt.Errorf("add %s: %w", t.ID(), ErrDuplicateTask)
	}
	var idx int32
	if n := len(p.free); n > 0 {
		idx = p.free[n-1]
		p.free = p.free[:n-1]
	} else {
		p.slots = append(p.slots, entry{})
		idx = int32(len(p.slots) - 1)
	}
	p.seq++
	e := &p.slots[idx]
	e.gen++
	e.task = t
	e.live = true
	e.seq = p.seq
	e.owned = false
	e.owner = 0
	e.cost = cost
	e.mark = nil

	h := Handle{index: idx, gen: e.gen}
	p.byID[t.ID()] = h
	return h, nil
}

// Mark inserts t as the single authoritative task for loc.
func (p *Pool) Mark(loc world.HexCoord, t Task) (Handle, error) {
	return p.MarkWithCost(loc, t, economy.ZeroCost())
}

// MarkWithCost inserts t as the task for loc with a refundable cost.
func (p *Pool) MarkWithCost(loc world.HexCoord, t Task, cost economy.CostAmount) (Handle, error) {
	if _, ok := p.marked[loc]; ok {
		return Handle{}, fmt.Errorf("mark %v: %w", loc, ErrLocationMarked)
	}
	h, err := p.AddWithCost(t, cost)
	if err != nil {
		return Handle{}, err
	}
	l := loc
	p.slots[h.index].mark = &l
	p.marked[loc] = h
	return h, nil
}

// MarkedAt returns the task marked at loc.
func (p *Pool) MarkedAt(loc world.HexCoord) (Task, bool) {
	h, ok := p.marked[loc]
	if !ok {
		return nil, false
	}
	return p.Get(h)
}

// Unmark cancels and removes the task marked at loc, returning its cost for
// the caller to refund.
func (p *Pool) Unmark(loc world.HexCoord) (economy.CostAmount, bool) {
	h, ok := p.marked[loc]
	if !ok {
		return economy.ZeroCost(), false
	}
	p.slots[h.index].task.Cancel()
	cost, err := p.Remove(h)
	return cost, err == nil
}

// Get resolves a handle.
func (p *Pool) Get(h Handle) (Task, bool) {
	e, ok := p.entry(h)
	if !ok {
		return nil, false
	}
	return e.task, true
}

// Lookup returns the handle of a live task id.
func (p *Pool) Lookup(id ID) (Handle, bool) {
	h, ok := p.byID[id]
	return h, ok
}

// Contains reports whether id is live in the pool.
func (p *Pool) Contains(id ID) bool {
	_, ok := p.byID[id]
	return ok
}

// Cost returns the cost attached to a live task.
func (p *Pool) Cost(id ID) (economy.CostAmount, bool) {
	h, ok := p.byID[id]
	if !ok {
		return economy.ZeroCost(), false
	}
	return p.slots[h.index].cost, true
}

// Remove deletes the entry, clears its mark and ownership, and returns the
// attached cost (zero if none). The task itself is not cancelled.
func (p *Pool) Remove(h Handle) (economy.CostAmount, error) {
	e, ok := p.entry(h)
	if !ok {
		return economy.ZeroCost(), ErrTaskNotFound
	}
	id := e.task.ID()
	cost := e.cost
	if e.mark != nil {
		if mh, ok := p.marked[*e.mark]; ok && mh == h {
			delete(p.marked, *e.mark)
		}
	}
	if e.owned {
		if oh, ok := p.byOwner[e.owner]; ok && oh == h {
			delete(p.byOwner, e.owner)
		}
	}
	delete(p.byID, id)
	delete(p.delayed, id)
	for k := range p.locks {
		if k.task == id {
			delete(p.locks, k)
		}
	}

	*e = entry{gen: e.gen}
	p.free = append(p.free, h.index)
	return cost, nil
}

// RemoveByID removes the task with the given id.
func (p *Pool) RemoveByID(id ID) (economy.CostAmount, error) {
	h, ok := p.byID[id]
	if !ok {
		return economy.ZeroCost(), fmt.Errorf("remove %s: %w", id, ErrTaskNotFound)
	}
	return p.Remove(h)
}

// Lock records that agent has proven task currently infeasible.
func (p *Pool) Lock(agent agents.AgentID, task ID) {
	p.locks[lockKey{agent: agent, task: task}] = struct{}{}
}

// IsLocked reports whether task is locked for agent.
func (p *Pool) IsLocked(agent agents.AgentID, task ID) bool {
	_, ok := p.locks[lockKey{agent: agent, task: task}]
	return ok
}

// ClearAllLocks forgets every feasibility judgment; called when the map
// topology changes.
func (p *Pool) ClearAllLocks() {
	p.locks = make(map[lockKey]struct{})
}

// LockCount returns the number of lock records.
func (p *Pool) LockCount() int { return len(p.locks) }

// Owner returns the agent owning task id.
func (p *Pool) Owner(id ID) (agents.AgentID, bool) {
	h, ok := p.byID[id]
	if !ok {
		return 0, false
	}
	e := &p.slots[h.index]
	return e.owner, e.owned
}

// TaskOf returns the task owned by agent.
func (p *Pool) TaskOf(agent agents.AgentID) (Task, bool) {
	h, ok := p.byOwner[agent]
	if !ok {
		return nil, false
	}
	return p.Get(h)
}

// Free drops ownership of task id without delaying it.
func (p *Pool) Free(id ID) error {
	h, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("free %s: %w", id, ErrTaskNotFound)
	}
	p.unassign(&p.slots[h.index])
	return nil
}

// FreeWithDelay drops ownership and hides the task from every agent until
// tick until.
func (p *Pool) FreeWithDelay(id ID, until uint64) error {
	if err := p.Free(id); err != nil {
		return err
	}
	p.delayed[id] = until
	return nil
}

// DelayedUntil returns the tick a delayed task becomes available again.
func (p *Pool) DelayedUntil(id ID) (uint64, bool) {
	until, ok := p.delayed[id]
	return until, ok
}

// ReleaseOwner handles an owning agent that died or was dismissed. A
// transferable task stays in the pool, delayed until now+retryDelay; any
// other task is cancelled and removed and its cost returned for refund.
func (p *Pool) ReleaseOwner(agent agents.AgentID, now, retryDelay uint64) (refund economy.CostAmount, task Task, kept bool) {
	h, ok := p.byOwner[agent]
	if !ok {
		return economy.ZeroCost(), nil, false
	}
	e := &p.slots[h.index]
	t := e.task
	if t.Transferable() {
		p.unassign(e)
		p.delayed[t.ID()] = now + retryDelay
		return economy.ZeroCost(), t, true
	}
	t.Cancel()
	cost, _ := p.Remove(h)
	return cost, t, false
}

// Removed pairs a reaped task with its attached cost.
type Removed struct {
	Task  Task
	Owner agents.AgentID
	Owned bool
	Cost  economy.CostAmount
}

// ReapDone removes every completed task in insertion order.
func (p *Pool) ReapDone() []Removed {
	var out []Removed
	for _, h := range p.ordered() {
		e := &p.slots[h.index]
		if !e.task.IsDone() {
			continue
		}
		r := Removed{Task: e.task, Owner: e.owner, Owned: e.owned, Cost: e.cost}
		if _, err := p.Remove(h); err == nil {
			out = append(out, r)
		}
	}
	return out
}

// Tasks returns every live task in insertion order.
func (p *Pool) Tasks() []Task {
	hs := p.ordered()
	out := make([]Task, len(hs))
	for i, h := range hs {
		out[i] = p.slots[h.index].task
	}
	return out
}

// AssignNearestTo picks the closest task a can act on and makes a its owner.
//
// Unowned tasks are always candidates; an owned task is a candidate only if
// it is transferable and a is strictly closer than its current owner.
// Locked and delayed tasks are skipped. Candidates are tried nearest first
// with equal distances broken by insertion order; a candidate that yields no
// action for a is locked for a and the next one is tried.
func (p *Pool) AssignNearestTo(a *agents.Agent, now uint64, roster Roster) (Task, agents.Action, bool) {
	type candidate struct {
		h    Handle
		dist int
		seq  uint64
	}
	var cands []candidate
	for i := range p.slots {
		e := &p.slots[i]
		if !e.live || e.task.IsDone() {
			continue
		}
		id := e.task.ID()
		if p.IsLocked(a.ID, id) {
			continue
		}
		if el, ok := e.task.(eligible); ok && !el.Eligible(a) {
			continue
		}
		if until, ok := p.delayed[id]; ok {
			if now < until {
				continue
			}
			delete(p.delayed, id)
		}
		loc := e.task.Location()
		dist := world.Distance(a.Position, loc)
		if e.owned && e.owner != a.ID {
			if !e.task.Transferable() {
				continue
			}
			if owner, ok := roster.Agent(e.owner); ok && owner.Alive && dist >= world.Distance(owner.Position, loc) {
				continue
			}
		}
		cands = append(cands, candidate{h: Handle{index: int32(i), gen: e.gen}, dist: dist, seq: e.seq})
	}
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].dist != cands[j].dist {
			return cands[i].dist < cands[j].dist
		}
		return cands[i].seq < cands[j].seq
	})

	for _, c := range cands {
		e := &p.slots[c.h.index]
		act, ok := e.task.ActionFor(a)
		if !ok {
			p.Lock(a.ID, e.task.ID())
			continue
		}
		p.assign(c.h, a.ID)
		return e.task, act, true
	}
	return nil, agents.Action{}, false
}

// AssignTo makes agent the owner of task id unconditionally (manual orders).
func (p *Pool) AssignTo(id ID, agent agents.AgentID) error {
	h, ok := p.byID[id]
	if !ok {
		return fmt.Errorf("assign %s: %w", id, ErrTaskNotFound)
	}
	p.assign(h, agent)
	return nil
}

func (p *Pool) assign(h Handle, agent agents.AgentID) {
	e := &p.slots[h.index]
	if prev, ok := p.byOwner[agent]; ok && prev != h {
		p.unassign(&p.slots[prev.index])
	}
	p.unassign(e)
	e.owner = agent
	e.owned = true
	p.byOwner[agent] = h
}

func (p *Pool) unassign(e *entry) {
	if !e.owned {
		return
	}
	if h, ok := p.byOwner[e.owner]; ok && p.slots[h.index].seq == e.seq {
		delete(p.byOwner, e.owner)
	}
	e.owned = false
	e.owner = 0
}

func (p *Pool) entry(h Handle) (*entry, bool) {
	if h.index < 0 || int(h.index) >= len(p.slots) {
		return nil, false
	}
	e := &p.slots[h.index]
	if !e.live || e.gen != h.gen {
		return nil, false
	}
	return e, true
}

func (p *Pool) ordered() []Handle {
	hs := make([]Handle, 0, len(p.byID))
	for _, h := range p.byID {
		hs = append(hs, h)
	}
	sort.Slice(hs, func(i, j int) bool {
		return p.slots[hs[i].index].seq < p.slots[hs[j].index].seq
	})
	return hs
}
