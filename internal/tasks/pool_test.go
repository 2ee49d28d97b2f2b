package tasks

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/entropy"
	"github.com/talgya/collective/internal/world"
)

type stub struct {
	id           ID
	loc          world.HexCoord
	done         bool
	cancelled    bool
	transferable bool
	refuse       map[agents.AgentID]bool
}

func newStub(q, r int) *stub {
	return &stub{id: NewID(), loc: world.HexCoord{Q: q, R: r}}
}

func (s *stub) ID() ID                   { return s.id }
func (s *stub) Location() world.HexCoord { return s.loc }
func (s *stub) IsDone() bool             { return s.done || s.cancelled }
func (s *stub) Cancel()                  { s.cancelled = true }
func (s *stub) Transferable() bool       { return s.transferable }
func (s *stub) ActionFor(a *agents.Agent) (agents.Action, bool) {
	if s.refuse[a.ID] {
		return agents.Action{}, false
	}
	if act, ok := a.MoveToward(s.loc); ok {
		return act, true
	}
	return agents.Action{AgentID: a.ID, Kind: agents.ActionWork, Target: s.loc}, true
}

type roster map[agents.AgentID]*agents.Agent

func (r roster) Agent(id agents.AgentID) (*agents.Agent, bool) {
	a, ok := r[id]
	return a, ok
}

func worker(id agents.AgentID, q, r int) *agents.Agent {
	return &agents.Agent{ID: id, Category: agents.CategoryWorker, Alive: true, Position: world.HexCoord{Q: q, R: r}}
}

func TestAddRejectsDuplicateID(t *testing.T) {
	p := NewPool()
	s := newStub(0, 0)
	_, err := p.Add(s)
	require.NoError(t, err)
	_, err = p.Add(s)
	assert.ErrorIs(t, err, ErrDuplicateTask)
	assert.Equal(t, 1, p.Len())
}

func TestRemoveReturnsAttachedCost(t *testing.T) {
	rng := entropy.New(7)
	p := NewPool()
	live := map[ID]economy.CostAmount{}
	var handles []Handle

	for i := 0; i < 500; i++ {
		if len(handles) > 0 && rng.Intn(3) == 0 {
			k := rng.Intn(len(handles))
			h := handles[k]
			handles = append(handles[:k], handles[k+1:]...)
			task, ok := p.Get(h)
			require.True(t, ok)
			want := live[task.ID()]
			delete(live, task.ID())

			got, err := p.Remove(h)
			require.NoError(t, err)
			assert.Equal(t, want, got)
			continue
		}
		s := newStub(rng.Intn(5), rng.Intn(5))
		cost := economy.ZeroCost()
		if rng.Intn(2) == 0 {
			cost = economy.Cost(economy.ResourceKind(rng.Intn(int(economy.NumResources))), 1+rng.Intn(9))
		}
		h, err := p.AddWithCost(s, cost)
		require.NoError(t, err)
		live[s.ID()] = cost
		handles = append(handles, h)
		require.Equal(t, len(live), p.Len())
	}

	seen := map[ID]bool{}
	for _, task := range p.Tasks() {
		assert.False(t, seen[task.ID()], "task %s live twice", task.ID())
		seen[task.ID()] = true
	}
	assert.Len(t, seen, len(live))
}

func TestRandomSequenceKeepsIndexes(t *testing.T) {
	for _, seed := range []int64{1, 42, 2024} {
		rng := entropy.New(seed)
		p := NewPool()
		live := map[ID]economy.CostAmount{}
		marks := map[world.HexCoord]ID{}
		var ids []ID

		forget := func(k int) ID {
			id := ids[k]
			ids = append(ids[:k], ids[k+1:]...)
			for loc, mid := range marks {
				if mid == id {
					delete(marks, loc)
				}
			}
			return id
		}

		for i := 0; i < 1000; i++ {
			cost := economy.ZeroCost()
			if rng.Intn(2) == 0 {
				cost = economy.Cost(economy.ResourceKind(rng.Intn(int(economy.NumResources))), 1+rng.Intn(9))
			}
			loc := world.HexCoord{Q: rng.Intn(6), R: rng.Intn(6)}

			switch op := rng.Intn(5); {
			case op == 0:
				s := newStub(loc.Q, loc.R)
				_, err := p.AddWithCost(s, cost)
				require.NoError(t, err)
				live[s.ID()] = cost
				ids = append(ids, s.ID())
			case op == 1:
				s := newStub(loc.Q, loc.R)
				_, err := p.MarkWithCost(loc, s, cost)
				if _, taken := marks[loc]; taken {
					require.ErrorIs(t, err, ErrLocationMarked)
					break
				}
				require.NoError(t, err)
				live[s.ID()] = cost
				marks[loc] = s.ID()
				ids = append(ids, s.ID())
			case op == 2 && len(ids) > 0:
				k := rng.Intn(len(ids))
				h, ok := p.Lookup(ids[k])
				require.True(t, ok)
				id := forget(k)
				got, err := p.Remove(h)
				require.NoError(t, err)
				assert.Equal(t, live[id], got)
				delete(live, id)
			case op == 3 && len(ids) > 0:
				id := forget(rng.Intn(len(ids)))
				got, err := p.RemoveByID(id)
				require.NoError(t, err)
				assert.Equal(t, live[id], got)
				delete(live, id)
				_, err = p.RemoveByID(id)
				assert.ErrorIs(t, err, ErrTaskNotFound)
			case op == 4:
				id, taken := marks[loc]
				got, ok := p.Unmark(loc)
				require.Equal(t, taken, ok)
				if !taken {
					break
				}
				for k := range ids {
					if ids[k] == id {
						forget(k)
						break
					}
				}
				assert.Equal(t, live[id], got)
				delete(live, id)
			}
			require.Equal(t, len(live), p.Len(), "seed %d step %d", seed, i)
		}

		seen := map[ID]bool{}
		for _, task := range p.Tasks() {
			assert.False(t, seen[task.ID()], "task %s live twice", task.ID())
			seen[task.ID()] = true
			cost, ok := p.Cost(task.ID())
			require.True(t, ok)
			assert.Equal(t, live[task.ID()], cost)
		}
		assert.Len(t, seen, len(live))
		for loc, id := range marks {
			task, ok := p.MarkedAt(loc)
			require.True(t, ok)
			assert.Equal(t, id, task.ID())
		}
	}
}

func TestStaleHandle(t *testing.T) {
	p := NewPool()
	h, err := p.Add(newStub(0, 0))
	require.NoError(t, err)
	_, err = p.Remove(h)
	require.NoError(t, err)

	h2, err := p.Add(newStub(1, 0))
	require.NoError(t, err)
	_, ok := p.Get(h)
	assert.False(t, ok)
	_, err = p.Remove(h)
	assert.ErrorIs(t, err, ErrTaskNotFound)
	_, ok = p.Get(h2)
	assert.True(t, ok)
}

func TestMarkAndUnmark(t *testing.T) {
	p := NewPool()
	loc := world.HexCoord{Q: 2, R: -1}
	s := newStub(2, -1)
	_, err := p.MarkWithCost(loc, s, economy.Cost(economy.ResourceWood, 4))
	require.NoError(t, err)

	_, err = p.Mark(loc, newStub(2, -1))
	assert.ErrorIs(t, err, ErrLocationMarked)

	got, ok := p.MarkedAt(loc)
	require.True(t, ok)
	assert.Equal(t, s.ID(), got.ID())

	cost, ok := p.Unmark(loc)
	require.True(t, ok)
	assert.Equal(t, economy.Cost(economy.ResourceWood, 4), cost)
	assert.True(t, s.cancelled)
	assert.Equal(t, 0, p.Len())

	// Removing by id clears the mark too.
	s2 := newStub(2, -1)
	_, err = p.Mark(loc, s2)
	require.NoError(t, err)
	_, err = p.RemoveByID(s2.ID())
	require.NoError(t, err)
	_, ok = p.MarkedAt(loc)
	assert.False(t, ok)
}

func TestAssignNearestNeverAssignsLocked(t *testing.T) {
	p := NewPool()
	near, far := newStub(1, 0), newStub(4, 0)
	_, _ = p.Add(near)
	_, _ = p.Add(far)
	a := worker(1, 0, 0)

	p.Lock(a.ID, near.ID())
	task, _, ok := p.AssignNearestTo(a, 0, roster{1: a})
	require.True(t, ok)
	assert.Equal(t, far.ID(), task.ID())

	p.ClearAllLocks()
	assert.Equal(t, 0, p.LockCount())
	task, _, ok = p.AssignNearestTo(a, 0, roster{1: a})
	require.True(t, ok)
	assert.Equal(t, near.ID(), task.ID())
	// Switching tasks drops ownership of the old one.
	_, owned := p.Owner(far.ID())
	assert.False(t, owned)
}

func TestAssignNearestLocksInfeasibleTask(t *testing.T) {
	p := NewPool()
	bad, good := newStub(1, 0), newStub(3, 0)
	bad.refuse = map[agents.AgentID]bool{1: true}
	_, _ = p.Add(bad)
	_, _ = p.Add(good)

	a, b := worker(1, 0, 0), worker(2, 0, 0)
	r := roster{1: a, 2: b}
	task, _, ok := p.AssignNearestTo(a, 0, r)
	require.True(t, ok)
	assert.Equal(t, good.ID(), task.ID())
	assert.True(t, p.IsLocked(a.ID, bad.ID()))

	// The lock is per agent; the task stays available to others.
	task, _, ok = p.AssignNearestTo(b, 0, r)
	require.True(t, ok)
	assert.Equal(t, bad.ID(), task.ID())
}

func TestIneligibleAgentSkipsWithoutLocking(t *testing.T) {
	m := floorMap()
	p := NewPool()
	rock := world.HexCoord{Q: 2, R: 0}
	m.Get(rock).Terrain = world.TerrainRock
	_, err := p.Add(NewDig(m, rock))
	require.NoError(t, err)

	minion := &agents.Agent{ID: 2, Category: agents.CategoryMinion, Alive: true, Level: 1}
	for i := 0; i < 3; i++ {
		_, _, ok := p.AssignNearestTo(minion, uint64(i), roster{})
		assert.False(t, ok)
	}
	assert.Equal(t, 0, p.LockCount())

	w := &agents.Agent{ID: 1, Category: agents.CategoryWorker, Alive: true, Level: 1}
	_, _, ok := p.AssignNearestTo(w, 0, roster{})
	assert.True(t, ok)
}

func TestRemoveClearsLocks(t *testing.T) {
	p := NewPool()
	s, other := newStub(1, 0), newStub(2, 0)
	h, err := p.Add(s)
	require.NoError(t, err)
	_, err = p.Add(other)
	require.NoError(t, err)
	p.Lock(1, s.ID())
	p.Lock(2, s.ID())
	p.Lock(1, other.ID())

	_, err = p.Remove(h)
	require.NoError(t, err)
	assert.Equal(t, 1, p.LockCount())
	assert.False(t, p.IsLocked(1, s.ID()))
	assert.True(t, p.IsLocked(1, other.ID()))
}

func TestNoDoubleAssignOfNonTransferable(t *testing.T) {
	p := NewPool()
	s := newStub(3, 0)
	_, _ = p.Add(s)

	far, near := worker(1, -3, 0), worker(2, 2, 0)
	r := roster{1: far, 2: near}
	_, _, ok := p.AssignNearestTo(far, 0, r)
	require.True(t, ok)
	_, _, ok = p.AssignNearestTo(near, 0, r)
	assert.False(t, ok)

	owner, owned := p.Owner(s.ID())
	assert.True(t, owned)
	assert.Equal(t, far.ID, owner)
}

func TestTransferableGoesToStrictlyCloserAgent(t *testing.T) {
	p := NewPool()
	s := newStub(3, 0)
	s.transferable = true
	_, _ = p.Add(s)

	first, same, closer := worker(1, 0, 0), worker(2, 3, -3), worker(3, 2, 0)
	r := roster{1: first, 2: same, 3: closer}
	_, _, ok := p.AssignNearestTo(first, 0, r)
	require.True(t, ok)

	// Equal distance does not steal.
	_, _, ok = p.AssignNearestTo(same, 0, r)
	assert.False(t, ok)

	task, _, ok := p.AssignNearestTo(closer, 0, r)
	require.True(t, ok)
	assert.Equal(t, s.ID(), task.ID())
	owner, _ := p.Owner(s.ID())
	assert.Equal(t, closer.ID, owner)
	_, stillHas := p.TaskOf(first.ID)
	assert.False(t, stillHas)
}

func TestTiesBreakByInsertionOrder(t *testing.T) {
	p := NewPool()
	a, b, c := newStub(2, 0), newStub(0, 2), newStub(-2, 2)
	for _, s := range []*stub{a, b, c} {
		_, err := p.Add(s)
		require.NoError(t, err)
	}
	ag := worker(1, 0, 0)
	r := roster{1: ag}
	for _, want := range []*stub{a, b, c} {
		task, _, ok := p.AssignNearestTo(ag, 0, r)
		require.True(t, ok)
		assert.Equal(t, want.ID(), task.ID())
		want.done = true
	}
}

func TestDeadOwnerTransferableDelayed(t *testing.T) {
	p := NewPool()
	s := newStub(5, 0)
	s.transferable = true
	_, _ = p.AddWithCost(s, economy.Cost(economy.ResourceStone, 3))

	dead, other := worker(1, 4, 0), worker(2, 0, 0)
	r := roster{1: dead, 2: other}
	_, _, ok := p.AssignNearestTo(dead, 10, r)
	require.True(t, ok)

	dead.Alive = false
	refund, task, kept := p.ReleaseOwner(dead.ID, 10, 20)
	require.True(t, kept)
	assert.True(t, refund.IsZero())
	assert.Equal(t, s.ID(), task.ID())
	until, ok := p.DelayedUntil(s.ID())
	require.True(t, ok)
	assert.Equal(t, uint64(30), until)

	_, _, ok = p.AssignNearestTo(other, 29, r)
	assert.False(t, ok)
	got, _, ok := p.AssignNearestTo(other, 30, r)
	require.True(t, ok)
	assert.Equal(t, s.ID(), got.ID())
	_, delayed := p.DelayedUntil(s.ID())
	assert.False(t, delayed)

	cost, ok := p.Cost(s.ID())
	require.True(t, ok)
	assert.Equal(t, economy.Cost(economy.ResourceStone, 3), cost)
}

func TestDeadOwnerNonTransferableRefunds(t *testing.T) {
	p := NewPool()
	s := newStub(1, 0)
	_, _ = p.AddWithCost(s, economy.Cost(economy.ResourceIron, 2))
	a := worker(1, 0, 0)
	_, _, ok := p.AssignNearestTo(a, 0, roster{1: a})
	require.True(t, ok)

	refund, _, kept := p.ReleaseOwner(a.ID, 0, 20)
	assert.False(t, kept)
	assert.Equal(t, economy.Cost(economy.ResourceIron, 2), refund)
	assert.True(t, s.cancelled)
	assert.False(t, p.Contains(s.ID()))
}

func TestReapDone(t *testing.T) {
	p := NewPool()
	a, b, c := newStub(0, 0), newStub(1, 0), newStub(2, 0)
	_, _ = p.AddWithCost(a, economy.Cost(economy.ResourceGold, 1))
	_, _ = p.Add(b)
	_, _ = p.Add(c)
	ag := worker(9, 0, 0)
	require.NoError(t, p.AssignTo(a.ID(), ag.ID))

	a.done, c.cancelled = true, true
	reaped := p.ReapDone()
	require.Len(t, reaped, 2)
	assert.Equal(t, a.ID(), reaped[0].Task.ID())
	assert.True(t, reaped[0].Owned)
	assert.Equal(t, ag.ID, reaped[0].Owner)
	assert.Equal(t, economy.Cost(economy.ResourceGold, 1), reaped[0].Cost)
	assert.Equal(t, c.ID(), reaped[1].Task.ID())
	assert.Equal(t, 1, p.Len())
	_, has := p.TaskOf(ag.ID)
	assert.False(t, has)
}

func floorMap() *world.Map {
	m := world.NewMap(1, 4)
	for q := -4; q <= 4; q++ {
		for r := -4; r <= 4; r++ {
			c := world.HexCoord{Q: q, R: r}
			if m.InBounds(c) {
				m.Set(&world.Hex{Coord: c, Terrain: world.TerrainFloor, Territory: true})
			}
		}
	}
	return m
}

func TestDigWorksFromNeighbor(t *testing.T) {
	m := floorMap()
	rock := world.HexCoord{Q: 2, R: 0}
	m.Get(rock).Terrain = world.TerrainRock
	j := NewDig(m, rock)

	a := &agents.Agent{ID: 1, Category: agents.CategoryWorker, Alive: true, Level: 1}
	act, ok := j.ActionFor(a)
	require.True(t, ok)
	assert.Equal(t, agents.ActionMove, act.Kind)

	a.Position = world.HexCoord{Q: 1, R: 0}
	act, ok = j.ActionFor(a)
	require.True(t, ok)
	assert.Equal(t, agents.ActionWork, act.Kind)
	for i := 1; i < DigWork; i++ {
		assert.Equal(t, OutcomeProgress, j.Work(a))
	}
	assert.Equal(t, OutcomeDone, j.Work(a))
	assert.True(t, j.IsDone())

	minion := &agents.Agent{ID: 2, Category: agents.CategoryMinion, Alive: true, Level: 1}
	_, ok = NewDig(m, rock).ActionFor(minion)
	assert.False(t, ok)
}

func TestJobUnreachable(t *testing.T) {
	m := floorMap()
	loc := world.HexCoord{Q: 3, R: 0}
	m.Get(loc).Terrain = world.TerrainWater
	a := &agents.Agent{ID: 1, Category: agents.CategoryWorker, Alive: true, Level: 1}

	_, ok := NewFetch(m, loc, 5, world.HexCoord{}).ActionFor(a)
	assert.False(t, ok)
	_, ok = NewBuild(m, loc, world.StructureBridge).ActionFor(a)
	assert.True(t, ok)
}

func TestFetchPicksUpThenDelivers(t *testing.T) {
	m := floorMap()
	src, dst := world.HexCoord{Q: 2, R: 0}, world.HexCoord{Q: -1, R: 0}
	j := NewFetch(m, src, 7, dst)
	a := &agents.Agent{ID: 1, Category: agents.CategoryWorker, Alive: true, Level: 1, Position: src}

	assert.Equal(t, src, j.Location())
	act, ok := j.ActionFor(a)
	require.True(t, ok)
	assert.Equal(t, agents.ActionWork, act.Kind)
	assert.Equal(t, OutcomePickedUp, j.Work(a))
	assert.Equal(t, dst, j.Location())

	act, _ = j.ActionFor(a)
	assert.Equal(t, agents.ActionMove, act.Kind)

	assert.False(t, j.Transferable(), "the carrier keeps the job")
	other := &agents.Agent{ID: 2, Category: agents.CategoryWorker, Alive: true, Level: 1, Position: dst}
	p := NewPool()
	_, err := p.Add(j)
	require.NoError(t, err)
	require.NoError(t, p.AssignTo(j.ID(), a.ID))
	_, _, ok = p.AssignNearestTo(other, 0, roster{a.ID: a, other.ID: other})
	assert.False(t, ok)

	j.Drop(world.HexCoord{Q: 1, R: 0})
	assert.True(t, j.Transferable())
	assert.False(t, j.Carrying())
	assert.Equal(t, world.HexCoord{Q: 1, R: 0}, j.Location())
}

func TestActivityJobIsPrivate(t *testing.T) {
	m := floorMap()
	j := NewActivity(m, world.HexCoord{Q: 1, R: 1}, agents.ActivityTrain, 4, 2)
	owner := &agents.Agent{ID: 4, Category: agents.CategoryMinion, Alive: true, Level: 1, Position: world.HexCoord{Q: 1, R: 1}}
	other := &agents.Agent{ID: 5, Category: agents.CategoryMinion, Alive: true, Level: 1}

	_, ok := j.ActionFor(other)
	assert.False(t, ok)
	act, ok := j.ActionFor(owner)
	require.True(t, ok)
	assert.Equal(t, agents.ActivityTrain, act.Activity)
	assert.Equal(t, OutcomeProgress, j.Work(owner))
	assert.Equal(t, OutcomeDone, j.Work(owner))
	assert.False(t, j.Transferable())
}
