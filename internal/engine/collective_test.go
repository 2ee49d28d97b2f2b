package engine

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/warning"
	"github.com/talgya/collective/internal/world"
)

var origin = world.HexCoord{}

func newTestCollective(t *testing.T, mutate ...func(*Options)) *Collective {
	t.Helper()
	opts := DefaultOptions()
	for _, f := range mutate {
		f(&opts)
	}
	c, err := NewCollective(world.Generate(world.SmallTestConfig()), opts)
	require.NoError(t, err)
	return c
}

// still disables every random transition so activities stay put.
func still(o *Options) { o.Rates = agents.Rates{} }

func rockAt(c *Collective, q, r int) world.HexCoord {
	loc := world.HexCoord{Q: q, R: r}
	c.Map.Get(loc).Terrain = world.TerrainRock
	return loc
}

func run(c *Collective, from, to uint64) {
	for tick := from; tick <= to; tick++ {
		c.Tick(tick)
	}
}

func TestWorkerDigsOrderedRock(t *testing.T) {
	c := newTestCollective(t)
	loc := rockAt(c, 4, 0)
	c.Spawn(agents.CategoryWorker, origin)
	require.NoError(t, c.Dig(loc))

	var decisions int
	c.OnDecision = func(Decision) { decisions++ }
	run(c, 1, 10)

	h := c.Map.Get(loc)
	assert.Equal(t, world.TerrainFloor, h.Terrain)
	assert.True(t, h.Territory)
	assert.Equal(t, 0, c.Pool.Len())
	assert.Equal(t, 1, c.Stats().TasksDone)
	assert.Equal(t, 6, decisions, "three moves and three work ticks")
}

func TestDigRejectsFloor(t *testing.T) {
	c := newTestCollective(t)
	assert.ErrorIs(t, c.Dig(origin), ErrNotDiggable)

	loc := rockAt(c, 4, 0)
	require.NoError(t, c.Dig(loc))
	assert.ErrorIs(t, c.Dig(loc), tasks.ErrLocationMarked)
	require.NoError(t, c.CancelDig(loc))
	assert.ErrorIs(t, c.CancelDig(loc), tasks.ErrTaskNotFound)
}

func TestSelectionTogglesOnFirstLocation(t *testing.T) {
	c := newTestCollective(t)
	a, b := rockAt(c, 4, 0), rockAt(c, 4, -1)

	mode := c.SelectionModeAt(SelectDig, a)
	require.Equal(t, SelectDig, mode)
	assert.Equal(t, 2, c.ApplySelection(Selection{Mode: mode}, []world.HexCoord{a, b, origin}))
	assert.Equal(t, 2, c.Pool.Len())

	mode = c.SelectionModeAt(SelectDig, a)
	require.Equal(t, SelectCancelDig, mode)
	assert.Equal(t, 2, c.ApplySelection(Selection{Mode: mode}, []world.HexCoord{a, b}))
	assert.Equal(t, 0, c.Pool.Len())

	door := world.HexCoord{Q: 0, R: 1}
	build := Selection{Mode: SelectBuild, Structure: world.StructureDoor, Cost: economy.Cost(economy.ResourceWood, 1)}
	assert.Equal(t, 1, c.ApplySelection(build, []world.HexCoord{door}))
	assert.Equal(t, SelectCancelBuild, c.SelectionModeAt(SelectBuild, door))
	assert.Equal(t, SelectTrap, c.SelectionModeAt(SelectTrap, door))
}

func TestMinionFollowsController(t *testing.T) {
	c := newTestCollective(t, still)
	leader := c.Spawn(agents.CategoryLeader, world.HexCoord{Q: 0, R: 3})
	m := c.Spawn(agents.CategoryMinion, origin)
	require.NoError(t, c.SetControl(m.ID, &leader.ID))

	act, err := c.Decide(m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionFollow, act.Kind)
	assert.Equal(t, leader.Position, act.Target)
}

func TestAlarmOutranksActivity(t *testing.T) {
	c := newTestCollective(t, still)
	m := c.Spawn(agents.CategoryMinion, origin)
	w := c.Spawn(agents.CategoryWorker, origin)
	bell := world.HexCoord{Q: 0, R: 2}
	c.SetAlarm(bell)

	act, err := c.Decide(m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionMove, act.Kind)
	assert.Equal(t, bell, act.Target)

	act, err = c.Decide(w.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionIdle, act.Kind, "workers ignore the alarm")

	require.NoError(t, c.MoveAgent(m.ID, bell))
	act, err = c.Decide(m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionGuard, act.Kind)
}

func TestAlarmExpires(t *testing.T) {
	c := newTestCollective(t, func(o *Options) { o.AlarmDuration = 5 })
	c.SetAlarm(origin)
	run(c, 1, 4)
	_, ok := c.Alarm()
	assert.True(t, ok)
	run(c, 5, 5)
	_, ok = c.Alarm()
	assert.False(t, ok)
}

func TestMinionDropsForeignItem(t *testing.T) {
	c := newTestCollective(t, still)
	m := c.Spawn(agents.CategoryMinion, origin)
	m.Carried = []world.Item{{ID: 900, Proto: world.ProtoSword}}

	act, err := c.Decide(m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionDrop, act.Kind)
	assert.Equal(t, world.ItemID(900), act.Item)
}

func TestGuardPostHeld(t *testing.T) {
	c := newTestCollective(t, still)
	m := c.Spawn(agents.CategoryMinion, origin)
	post := world.HexCoord{Q: -1, R: 2}
	require.NoError(t, c.SetGuardPost(m.ID, &post))

	act, _ := c.Decide(m.ID, 1)
	assert.Equal(t, agents.ActionMove, act.Kind)
	require.NoError(t, c.MoveAgent(m.ID, post))
	act, _ = c.Decide(m.ID, 1)
	assert.Equal(t, agents.ActionGuard, act.Kind)

	w := c.Spawn(agents.CategoryWorker, origin)
	assert.ErrorIs(t, c.SetGuardPost(w.ID, &post), ErrIllegalAssignment)
}

func TestMissingFacilityRaisesWarning(t *testing.T) {
	c := newTestCollective(t, still)
	for _, loc := range c.Map.Facilities(world.FurnitureBed) {
		c.Map.Get(loc).Furniture = world.FurnitureNone
	}
	m := c.Spawn(agents.CategoryMinion, origin)

	act, err := c.Decide(m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionIdle, act.Kind)
	w := c.Warnings()
	assert.True(t, w.Has(warning.NoBeds))
	assert.Equal(t, agents.ActivitySleep, m.Activity(), "no usable edges falls back to the initial state")
}

func TestActivityHeadsToFacility(t *testing.T) {
	c := newTestCollective(t, still)
	m := c.Spawn(agents.CategoryMinion, origin)

	act, err := c.Decide(m.ID, 1)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionMove, act.Kind)
	require.Equal(t, 1, c.Pool.Len())
	task, ok := c.Pool.TaskOf(m.ID)
	require.True(t, ok)
	assert.Contains(t, c.Map.Facilities(world.FurnitureBed), task.Location())
	w := c.Warnings()
	assert.False(t, w.Has(warning.NoBeds))
}

func TestAssignMinionTaskLegality(t *testing.T) {
	c := newTestCollective(t, still)
	m := c.Spawn(agents.CategoryMinion, origin)
	p := c.Spawn(agents.CategoryPrisoner, world.HexCoord{Q: 0, R: 3})

	assert.ErrorIs(t, c.AssignMinionTask(m.ID, agents.ActivityStudy), ErrIllegalAssignment)
	require.NoError(t, c.AssignMinionTask(m.ID, agents.ActivityTrain))
	assert.Equal(t, agents.ActivityTrain, m.Activity())
	assert.ErrorIs(t, c.AssignMinionTask(999, agents.ActivityTrain), ErrUnknownAgent)

	// Reachable only through a zero-probability edge, still assignable.
	require.NoError(t, c.AssignMinionTask(p.ID, agents.ActivityBeTortured))
	require.NoError(t, c.AssignPrisonerDuty(m.ID, p.ID, agents.DutyTorture))
	assert.ErrorIs(t, c.AssignPrisonerDuty(p.ID, m.ID, agents.DutyExecute), ErrIllegalAssignment)
}

func TestExecutionDuty(t *testing.T) {
	c := newTestCollective(t, still)
	m := c.Spawn(agents.CategoryMinion, origin)
	p := c.Spawn(agents.CategoryPrisoner, world.HexCoord{Q: 0, R: 3})
	require.NoError(t, c.AssignPrisonerDuty(m.ID, p.ID, agents.DutyExecute))

	act, _ := c.Decide(m.ID, 1)
	assert.Equal(t, agents.ActionMove, act.Kind)

	require.NoError(t, c.MoveAgent(p.ID, world.HexCoord{Q: 0, R: 1}))
	c.Tick(1)
	assert.False(t, p.Alive)
	assert.Nil(t, m.Prisoner)
	assert.Equal(t, 1, c.Stats().Deaths)
}

func TestRecruitCostDoubles(t *testing.T) {
	c := newTestCollective(t, func(o *Options) {
		o.RecruitSchedule = economy.CostSchedule{Kind: economy.ResourceGold, Base: 10, DoublingPeriod: 1, FreeAllotment: 1}
	})

	_, err := c.Recruit(agents.CategoryMinion)
	var short *economy.InsufficientResourceError
	require.ErrorAs(t, err, &short)
	w := c.Warnings()
	assert.True(t, w.Has(warning.NotEnoughGold))

	c.Resources.AddCredit(economy.ResourceGold, 40)
	for _, want := range []int{10, 10, 20} {
		assert.Equal(t, want, c.RecruitCost().Value)
		_, err := c.Recruit(agents.CategoryMinion)
		require.NoError(t, err)
	}
	assert.Equal(t, 0, c.Resources.NumResource(economy.ResourceGold))
	assert.Equal(t, 40, c.RecruitCost().Value)

	_, err = c.Recruit(agents.CategoryHostile)
	assert.ErrorIs(t, err, ErrIllegalAssignment)
}

func TestResearchPaysSchedule(t *testing.T) {
	c := newTestCollective(t)
	c.Resources.AddCredit(economy.ResourceMana, 60)
	n, err := c.Research()
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	_, err = c.Research()
	assert.Error(t, err)
	w := c.Warnings()
	assert.True(t, w.Has(warning.NotEnoughMana))
}

func TestDeadWorkerTaskWaitsForRetry(t *testing.T) {
	c := newTestCollective(t, func(o *Options) { o.TaskRetryDelay = 50 })
	loc := rockAt(c, 4, 0)
	w := c.Spawn(agents.CategoryWorker, origin)
	require.NoError(t, c.Dig(loc))
	c.Tick(1)

	task, ok := c.Pool.MarkedAt(loc)
	require.True(t, ok)
	owner, ok := c.Pool.Owner(task.ID())
	require.True(t, ok)
	require.Equal(t, w.ID, owner)

	require.NoError(t, c.OnAgentDied(w.ID))
	until, ok := c.Pool.DelayedUntil(task.ID())
	require.True(t, ok)
	assert.Equal(t, uint64(51), until)

	other := c.Spawn(agents.CategoryWorker, origin)
	act, err := c.Decide(other.ID, 50)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionIdle, act.Kind)

	act, err = c.Decide(other.ID, 51)
	require.NoError(t, err)
	assert.Equal(t, agents.ActionMove, act.Kind)
}

func TestLooseItemHauledToStorage(t *testing.T) {
	c := newTestCollective(t)
	wood := c.Resources.Catalog().Info(economy.ResourceWood).Proto
	c.Map.NewItem(world.HexCoord{Q: 0, R: 1}, wood)
	c.Spawn(agents.CategoryWorker, origin)

	run(c, 1, 12)
	assert.Equal(t, 1, c.Resources.NumResource(economy.ResourceWood))
	assert.Empty(t, c.Map.Items(world.HexCoord{Q: 0, R: 1}))
	assert.Equal(t, 0, c.Pool.Len())
}

func TestThreatRefusesFetch(t *testing.T) {
	c := newTestCollective(t)
	loc := world.HexCoord{Q: 0, R: 1}
	c.Map.NewItem(loc, world.ProtoSword)
	c.Spawn(agents.CategoryHostile, origin)
	c.Tick(1)

	_, err := c.Fetch(loc)
	assert.Error(t, err)
	assert.Equal(t, 0, c.Pool.Len(), "suppressed items are not hauled")
	assert.Positive(t, c.Stats().Suppressed)
}

func TestSnapshotRestore(t *testing.T) {
	c := newTestCollective(t, still)
	c.Resources.AddCredit(economy.ResourceGold, 100)
	m, err := c.Recruit(agents.CategoryMinion)
	require.NoError(t, err)
	require.NoError(t, c.AssignMinionTask(m.ID, agents.ActivityWorkshop))
	require.NoError(t, c.Build(world.HexCoord{Q: 0, R: 1}, world.StructureDoor, economy.Cost(economy.ResourceWood, 2)))
	c.Tick(7)

	s := c.Snapshot()
	require.Len(t, s.Agents, 1)
	assert.Nil(t, s.Agents[0].Behavior)
	assert.Equal(t, agents.ActivityWorkshop, s.Agents[0].Activity)

	d := newTestCollective(t, still)
	d.Restore(s)
	assert.Equal(t, uint64(7), d.LastTick())
	assert.Equal(t, c.RecruitCost(), d.RecruitCost())
	assert.Equal(t, 80, d.Resources.Credit(economy.ResourceGold))
	restored, ok := d.Agent(m.ID)
	require.True(t, ok)
	assert.Equal(t, agents.ActivityWorkshop, restored.Activity())
	_, ok = d.Constructions.Get(world.HexCoord{Q: 0, R: 1})
	assert.True(t, ok)
}

func TestDigOrderSurvivesRestore(t *testing.T) {
	c := newTestCollective(t)
	loc := rockAt(c, 4, 0)
	require.NoError(t, c.Dig(loc))
	s := c.Snapshot()
	assert.Equal(t, []world.HexCoord{loc}, s.Digs)

	d := newTestCollective(t)
	rockAt(d, 4, 0)
	d.Restore(s)
	require.Equal(t, 1, d.Pool.Len())
	_, ok := d.Pool.MarkedAt(loc)
	require.True(t, ok)

	d.Spawn(agents.CategoryWorker, origin)
	run(d, 1, 20)
	assert.Equal(t, world.TerrainFloor, d.Map.Get(loc).Terrain)
	assert.Equal(t, 0, d.Pool.Len())
}

func TestCarriedFetchStaysWithCarrier(t *testing.T) {
	c := newTestCollective(t, still)
	src := world.HexCoord{Q: -3, R: 0}
	wood := c.Resources.Catalog().Info(economy.ResourceWood).Proto
	c.Map.NewItem(src, wood)
	a := c.Spawn(agents.CategoryWorker, src)
	c.Tick(1)

	task, ok := c.Pool.TaskOf(a.ID)
	require.True(t, ok)
	job, ok := task.(*tasks.Job)
	require.True(t, ok)
	require.True(t, job.Carrying())
	require.Len(t, a.Carried, 1)

	// A second worker waiting at the storage is closer to the delivery
	// point but must not take the job over.
	b := c.Spawn(agents.CategoryWorker, job.Destination())
	run(c, 2, 20)

	assert.Equal(t, 1, c.Resources.NumResource(economy.ResourceWood))
	assert.Empty(t, a.Carried)
	assert.Empty(t, b.Carried)
	assert.Equal(t, 0, c.Pool.Len())
}

func TestAbandonedFetchPutsItemDown(t *testing.T) {
	c := newTestCollective(t, still)
	src := world.HexCoord{Q: -3, R: 0}
	wood := c.Resources.Catalog().Info(economy.ResourceWood).Proto
	c.Map.NewItem(src, wood)
	a := c.Spawn(agents.CategoryWorker, src)
	c.Tick(1)

	task, ok := c.Pool.TaskOf(a.ID)
	require.True(t, ok)
	job := task.(*tasks.Job)
	require.True(t, job.Carrying())

	// Walling off the storage leaves the carrier with nowhere to go.
	c.Map.Get(job.Destination()).Terrain = world.TerrainRock
	c.Tick(2)

	assert.Empty(t, a.Carried)
	assert.Len(t, c.Map.Items(a.Position), 1)
	assert.False(t, job.Carrying())
	assert.Equal(t, a.Position, job.Source())
	assert.True(t, job.Transferable())
	_, owned := c.Pool.Owner(job.ID())
	assert.False(t, owned)
	assert.True(t, c.Pool.IsLocked(a.ID, job.ID()))
}

func TestDeadCarrierLeavesFetchForOthers(t *testing.T) {
	c := newTestCollective(t, func(o *Options) {
		still(o)
		o.TaskRetryDelay = 1
	})
	src := world.HexCoord{Q: -3, R: 0}
	wood := c.Resources.Catalog().Info(economy.ResourceWood).Proto
	c.Map.NewItem(src, wood)
	a := c.Spawn(agents.CategoryWorker, src)
	c.Tick(1)
	c.Tick(2)
	require.Len(t, a.Carried, 1)
	spot := a.Position

	require.NoError(t, c.OnAgentDied(a.ID))
	assert.Len(t, c.Map.Items(spot), 1)
	require.Equal(t, 1, c.Pool.Len(), "the haul stays ordered")

	c.Spawn(agents.CategoryWorker, origin)
	run(c, 3, 25)
	assert.Equal(t, 1, c.Resources.NumResource(economy.ResourceWood))
	assert.Equal(t, 0, c.Pool.Len())
}

func TestMinionsLeaveWorkerJobsUnlocked(t *testing.T) {
	c := newTestCollective(t, still)
	a, b := rockAt(c, 4, 0), rockAt(c, 4, -1)
	require.NoError(t, c.Dig(a))
	require.NoError(t, c.Dig(b))
	c.Spawn(agents.CategoryMinion, origin)
	c.Spawn(agents.CategoryMinion, origin)

	run(c, 1, 3)
	assert.Equal(t, 0, c.Pool.LockCount())
	for _, loc := range []world.HexCoord{a, b} {
		task, ok := c.Pool.MarkedAt(loc)
		require.True(t, ok)
		_, owned := c.Pool.Owner(task.ID())
		assert.False(t, owned)
	}
}

func TestTakenBuildSpotRefundsOnce(t *testing.T) {
	c := newTestCollective(t, still)
	wood := c.Resources.Catalog().Info(economy.ResourceWood).Proto
	c.Map.NewItem(world.HexCoord{Q: 1, R: 0}, wood)
	c.Map.NewItem(world.HexCoord{Q: 1, R: 0}, wood)
	spot := world.HexCoord{Q: 0, R: 1}
	c.Spawn(agents.CategoryWorker, origin)
	require.NoError(t, c.Build(spot, world.StructureDoor, economy.Cost(economy.ResourceWood, 2)))

	c.Tick(1)
	require.Equal(t, 0, c.Resources.NumResource(economy.ResourceWood), "materials reserved")
	require.True(t, c.Map.PlaceStructure(spot, world.StructureBarrier))

	run(c, 2, 20)
	assert.Equal(t, 2, c.Resources.NumResource(economy.ResourceWood))
	assert.Equal(t, 0, c.Pool.Len())
	assert.Equal(t, 1, c.Stats().TasksDone)
	assert.Zero(t, c.Stats().TasksFailed)
	r, ok := c.Constructions.Get(spot)
	require.True(t, ok)
	assert.False(t, r.Built)
}
