// Collective ties together the task pool, ledgers, threat zone and agents
// and runs the scheduler over them each tick.
package engine

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/construction"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/entropy"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/threat"
	"github.com/talgya/collective/internal/warning"
	"github.com/talgya/collective/internal/world"
)

// ErrIllegalAssignment is returned for manual assignments an agent's
// archetype or category cannot perform.
var ErrIllegalAssignment = errors.New("illegal assignment")

// ErrUnknownAgent is returned for agent ids not in the collective.
var ErrUnknownAgent = errors.New("unknown agent")

// Options are the tunables of a collective.
type Options struct {
	Seed             int64
	BuildDelay       uint64 // Ticks before an issued build/arm order may be re-issued
	TaskRetryDelay   uint64 // Ticks a transferable task waits after its owner dies
	ThreatRadius     int
	ThreatDuration   uint64 // Ticks a location stays suppressed after a threat is seen
	ActivityTicks    int    // Length of one facility activity session
	AlarmDuration    uint64
	RecruitSchedule  economy.CostSchedule
	ResearchSchedule economy.CostSchedule
	Rates            agents.Rates
	Catalog          economy.Catalog
}

// DefaultOptions returns the built-in tunables.
func DefaultOptions() Options {
	return Options{
		Seed:             42,
		BuildDelay:       200,
		TaskRetryDelay:   100,
		ThreatRadius:     threat.DefaultRadius,
		ThreatDuration:   300,
		ActivityTicks:    30,
		AlarmDuration:    120,
		RecruitSchedule:  economy.DefaultRecruitSchedule(),
		ResearchSchedule: economy.DefaultResearchSchedule(),
		Rates:            agents.DefaultRates(),
		Catalog:          economy.DefaultCatalog(),
	}
}

// Event is a notable occurrence in the collective.
type Event struct {
	Tick        uint64         `json:"tick"`
	Description string         `json:"description"`
	Category    string         `json:"category"` // "order", "task", "death", "recruit", "threat", ...
	Meta        map[string]any `json:"meta,omitempty"`
}

// Decision is one agent's chosen action for a tick.
type Decision struct {
	Tick   uint64        `json:"tick"`
	Action agents.Action `json:"action"`
}

// Stats are aggregate counters refreshed every tick.
type Stats struct {
	Alive       int            `json:"alive"`
	Deaths      int            `json:"deaths"`
	ByCategory  map[string]int `json:"by_category"`
	Tasks       int            `json:"tasks"`
	Locks       int            `json:"locks"`
	Pending     int            `json:"pending_orders"`
	Suppressed  int            `json:"suppressed"`
	TasksDone   int            `json:"tasks_done"`
	TasksFailed int            `json:"tasks_failed"`
}

// Collective holds the complete settlement state. Every exported method is
// safe for concurrent use; ticks and orders are serialized on one mutex.
type Collective struct {
	mu sync.Mutex

	Map           *world.Map
	Pool          *tasks.Pool
	Resources     *economy.Ledger
	Constructions *construction.Ledger
	Threats       *threat.Suppressor
	Archetypes    *agents.Archetypes
	Spawner       *agents.Spawner

	agents   []*agents.Agent // Ascending id; evaluation order
	index    map[agents.AgentID]*agents.Agent
	leader   agents.AgentID
	warnings warning.Set

	alarm      *world.HexCoord
	alarmUntil uint64

	fetching map[world.ItemID]tasks.ID

	rng        entropy.Source
	opts       Options
	lastTick   uint64
	recruited  int
	researched int
	events     []Event
	stats      Stats

	// OnEvent is called for every emitted event while the lock is held.
	OnEvent func(Event)
	// OnDecision is called for every agent decision while the lock is held.
	OnDecision func(Decision)
}

// NewCollective creates a collective on m.
func NewCollective(m *world.Map, opts Options) (*Collective, error) {
	arch, err := agents.NewArchetypes(opts.Rates)
	if err != nil {
		return nil, fmt.Errorf("new collective: %w", err)
	}
	rng := entropy.New(opts.Seed)
	c := &Collective{
		Map:           m,
		Pool:          tasks.NewPool(),
		Resources:     economy.NewLedger(opts.Catalog, m, rng),
		Constructions: construction.NewLedger(opts.BuildDelay),
		Threats:       threat.New(opts.ThreatRadius),
		Archetypes:    arch,
		Spawner:       agents.NewSpawner(opts.Seed, arch),
		index:         make(map[agents.AgentID]*agents.Agent),
		fetching:      make(map[world.ItemID]tasks.ID),
		rng:           rng,
		opts:          opts,
	}
	c.stats.ByCategory = map[string]int{}
	return c, nil
}

// Options returns the tunables the collective was built with.
func (c *Collective) Options() Options { return c.opts }

// Agent resolves an id; it implements tasks.Roster.
func (c *Collective) Agent(id agents.AgentID) (*agents.Agent, bool) {
	a, ok := c.index[id]
	return a, ok
}

// LastTick returns the most recently processed tick.
func (c *Collective) LastTick() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastTick
}

// Warnings returns the currently raised warnings.
func (c *Collective) Warnings() warning.Set {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.warnings
}

// Events returns a copy of the recent events.
func (c *Collective) Events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.events))
	copy(out, c.events)
	return out
}

// Stats returns the counters from the last tick.
func (c *Collective) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	s := c.stats
	s.ByCategory = make(map[string]int, len(c.stats.ByCategory))
	for k, v := range c.stats.ByCategory {
		s.ByCategory[k] = v
	}
	return s
}

// AddAgent inserts an existing agent (restored or spawned elsewhere).
func (c *Collective) AddAgent(a *agents.Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.addAgent(a)
	c.updateStats()
}

func (c *Collective) addAgent(a *agents.Agent) {
	c.Spawner.Restore(a)
	c.index[a.ID] = a
	i := sort.Search(len(c.agents), func(i int) bool { return c.agents[i].ID >= a.ID })
	c.agents = append(c.agents, nil)
	copy(c.agents[i+1:], c.agents[i:])
	c.agents[i] = a
	if a.Category == agents.CategoryLeader && c.leader == 0 {
		c.leader = a.ID
	}
}

// Spawn creates an agent of category at pos without paying for it (start
// of game, prisoners, invaders).
func (c *Collective) Spawn(cat agents.Category, pos world.HexCoord) *agents.Agent {
	c.mu.Lock()
	defer c.mu.Unlock()
	a := c.Spawner.Spawn(cat, c.Map.ID(), pos, c.lastTick)
	c.addAgent(a)
	c.updateStats()
	return a
}

// emit records an event and notifies OnEvent.
func (c *Collective) emit(e Event) {
	if e.Tick == 0 {
		e.Tick = c.lastTick
	}
	c.events = append(c.events, e)
	if c.OnEvent != nil {
		c.OnEvent(e)
	}
}

func (c *Collective) env() construction.Env {
	return construction.Env{
		Site:      c.Map,
		Pool:      c.Pool,
		Resources: c.Resources,
		Threats:   c.Threats,
		Warnings:  &c.warnings,
	}
}

// Tick runs one scheduler pass: threat zone, construction ledger, fetch
// orders, then one decision per agent in ascending id order, then reaping.
func (c *Collective) Tick(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastTick = tick

	c.Threats.Update(c.Map, c.threatPositions(), tick, c.opts.ThreatDuration)
	c.Constructions.Update(c.env(), tick)
	c.issueFetches(tick)

	for _, a := range c.agents {
		if !a.Alive || a.Category == agents.CategoryHostile {
			continue
		}
		act := c.decide(a, tick)
		c.apply(a, act, tick)
		if c.OnDecision != nil && act.Kind != agents.ActionIdle {
			c.OnDecision(Decision{Tick: tick, Action: act})
		}
	}

	c.reap()
	if c.alarm != nil && tick >= c.alarmUntil {
		c.alarm = nil
	}
	c.updateStats()
}

// TickHour trims bookkeeping that does not need per-tick attention.
func (c *Collective) TickHour(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for id, tid := range c.fetching {
		if !c.Pool.Contains(tid) {
			delete(c.fetching, id)
		}
	}
}

func (c *Collective) threatPositions() []world.HexCoord {
	var out []world.HexCoord
	for _, a := range c.agents {
		if a.Alive && a.Category == agents.CategoryHostile && a.Level == c.Map.ID() {
			out = append(out, a.Position)
		}
	}
	return out
}

// reap removes finished and cancelled tasks. Cancelled tasks refund their
// cost and release whatever record issued them.
func (c *Collective) reap() {
	for _, r := range c.Pool.ReapDone() {
		job, _ := r.Task.(*tasks.Job)
		if job != nil && job.Kind() == tasks.KindFetch {
			delete(c.fetching, job.Item)
		}
		if job != nil && !job.Cancelled() {
			c.stats.TasksDone++
			continue
		}
		c.stats.TasksFailed++
		c.Resources.ReturnResource(r.Cost)
		c.Constructions.TaskGone(c.env(), r.Task.ID())
	}
}

func (c *Collective) updateStats() {
	s := &c.stats
	s.Alive, s.Deaths = 0, 0
	for k := range s.ByCategory {
		delete(s.ByCategory, k)
	}
	for _, a := range c.agents {
		if a.Alive {
			s.Alive++
			s.ByCategory[a.Category.String()]++
		} else {
			s.Deaths++
		}
	}
	s.Tasks = c.Pool.Len()
	s.Locks = c.Pool.LockCount()
	s.Pending = c.Constructions.Pending()
	s.Suppressed = len(c.Threats.Zone(c.lastTick))
}

// trimEvents keeps the most recent n events.
func (c *Collective) trimEvents(n int) {
	if len(c.events) > n {
		c.events = append([]Event(nil), c.events[len(c.events)-n:]...)
	}
}

func logOrder(kind string, args ...any) {
	slog.Debug("order", append([]any{"kind", kind}, args...)...)
}
