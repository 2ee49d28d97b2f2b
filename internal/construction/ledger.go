// Package construction keeps the per-location records of ordered structures
// and traps, and turns them into pool tasks once resources allow.
package construction

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/warning"
	"github.com/talgya/collective/internal/world"
)

var (
	// ErrAlreadyOrdered is returned when a location already has a record.
	ErrAlreadyOrdered = errors.New("location already has an order")
	// ErrNoOrder is returned for locations without a record.
	ErrNoOrder = errors.New("no order at location")
	// ErrNotConstructible is returned when the structure cannot stand there.
	ErrNotConstructible = errors.New("structure cannot be built here")
)

// Record is one ordered structure. It survives rebuild attempts.
type Record struct {
	Location world.HexCoord      `json:"location"`
	Kind     world.StructureKind `json:"kind"`
	Cost     economy.CostAmount  `json:"cost"`
	Built    bool                `json:"built"`
	RetryAt  uint64              `json:"retry_at"`
	TaskID   tasks.ID            `json:"task_id"` // uuid.Nil when no task is live
}

// TrapRecord is one trap placement.
type TrapRecord struct {
	Location world.HexCoord `json:"location"`
	Proto    string         `json:"proto"`
	Armed    bool           `json:"armed"`
	MarkedAt uint64         `json:"marked_at"`
	RetryAt  uint64         `json:"retry_at"`
	TaskID   tasks.ID       `json:"task_id"`
	// Component is the reserved trap item while an arm task is pending.
	Component    world.ItemID   `json:"component,omitempty"`
	ComponentLoc world.HexCoord `json:"component_loc"`
}

// Site is the level surface the ledger reads and reserves items on.
type Site interface {
	world.Level
	SetReserved(c world.HexCoord, id world.ItemID, reserved bool) bool
}

// Suppressor reports locations where no new orders may start.
type Suppressor interface {
	IsDelayed(c world.HexCoord, now uint64) bool
}

// Env is the collective state an update works against.
type Env struct {
	Site      Site
	Pool      *tasks.Pool
	Resources *economy.Ledger
	Threats   Suppressor
	Warnings  *warning.Set
}

// Ledger holds every construction and trap record.
type Ledger struct {
	buildDelay    uint64
	constructions map[world.HexCoord]*Record
	traps         map[world.HexCoord]*TrapRecord
}

// NewLedger creates an empty ledger. buildDelay is how long an issued order
// waits before it may be re-issued.
func NewLedger(buildDelay uint64) *Ledger {
	return &Ledger{
		buildDelay:    buildDelay,
		constructions: make(map[world.HexCoord]*Record),
		traps:         make(map[world.HexCoord]*TrapRecord),
	}
}

// BuildDelay returns the retry delay in ticks.
func (l *Ledger) BuildDelay() uint64 { return l.buildDelay }

// Order records a structure of kind at loc with the given cost. Nothing is
// reserved until Update finds the resources.
func (l *Ledger) Order(site world.Level, loc world.HexCoord, kind world.StructureKind, cost economy.CostAmount) error {
	if _, ok := l.constructions[loc]; ok {
		return fmt.Errorf("order %s at %v: %w", kind, loc, ErrAlreadyOrdered)
	}
	if _, ok := l.traps[loc]; ok {
		return fmt.Errorf("order %s at %v: %w", kind, loc, ErrAlreadyOrdered)
	}
	if !site.CanConstruct(loc, kind) {
		return fmt.Errorf("order %s at %v: %w", kind, loc, ErrNotConstructible)
	}
	l.constructions[loc] = &Record{Location: loc, Kind: kind, Cost: cost}
	return nil
}

// Restore inserts a record loaded from storage. Live task ids are dropped;
// Update re-issues the order.
func (l *Ledger) Restore(r Record) {
	r.TaskID = uuid.Nil
	l.constructions[r.Location] = &r
}

// RestoreTrap inserts a trap record loaded from storage.
func (l *Ledger) RestoreTrap(t TrapRecord) {
	t.TaskID = uuid.Nil
	t.Component = 0
	l.traps[t.Location] = &t
}

// Cancel drops the order at loc. A pending build task is cancelled and its
// reserved cost returned to the resource ledger; the refund is reported.
func (l *Ledger) Cancel(env Env, loc world.HexCoord) (economy.CostAmount, error) {
	r, ok := l.constructions[loc]
	if !ok {
		return economy.ZeroCost(), fmt.Errorf("cancel %v: %w", loc, ErrNoOrder)
	}
	delete(l.constructions, loc)
	if r.TaskID == uuid.Nil {
		return economy.ZeroCost(), nil
	}
	refund, _ := env.Pool.Unmark(loc)
	env.Resources.ReturnResource(refund)
	return refund, nil
}

// Get returns a copy of the construction record at loc.
func (l *Ledger) Get(loc world.HexCoord) (Record, bool) {
	r, ok := l.constructions[loc]
	if !ok {
		return Record{}, false
	}
	return *r, true
}

// Trap returns a copy of the trap record at loc.
func (l *Ledger) Trap(loc world.HexCoord) (TrapRecord, bool) {
	t, ok := l.traps[loc]
	if !ok {
		return TrapRecord{}, false
	}
	return *t, true
}

// Records returns copies of every construction record, row-major.
func (l *Ledger) Records() []Record {
	out := make([]Record, 0, len(l.constructions))
	for _, c := range sortedKeys(l.constructions) {
		out = append(out, *l.constructions[c])
	}
	return out
}

// Traps returns copies of every trap record, row-major.
func (l *Ledger) Traps() []TrapRecord {
	out := make([]TrapRecord, 0, len(l.traps))
	for _, c := range sortedKeys(l.traps) {
		out = append(out, *l.traps[c])
	}
	return out
}

// Pending counts unbuilt constructions and unarmed traps.
func (l *Ledger) Pending() int {
	n := 0
	for _, r := range l.constructions {
		if !r.Built {
			n++
		}
	}
	for _, t := range l.traps {
		if !t.Armed {
			n++
		}
	}
	return n
}

// OnBuilt marks the structure at loc finished.
func (l *Ledger) OnBuilt(loc world.HexCoord) {
	if r, ok := l.constructions[loc]; ok {
		r.Built = true
		r.TaskID = uuid.Nil
	}
}

// OnDestroyed resets a built structure so it is rebuilt after the delay.
func (l *Ledger) OnDestroyed(loc world.HexCoord, now uint64) {
	if r, ok := l.constructions[loc]; ok {
		r.Built = false
		r.TaskID = uuid.Nil
		r.RetryAt = now + l.buildDelay
	}
}

// AddTrap records a trap placement at loc.
func (l *Ledger) AddTrap(loc world.HexCoord, proto string, now uint64) error {
	if _, ok := l.traps[loc]; ok {
		return fmt.Errorf("trap at %v: %w", loc, ErrAlreadyOrdered)
	}
	if _, ok := l.constructions[loc]; ok {
		return fmt.Errorf("trap at %v: %w", loc, ErrAlreadyOrdered)
	}
	l.traps[loc] = &TrapRecord{Location: loc, Proto: proto, MarkedAt: now}
	return nil
}

// RemoveTrap drops the trap at loc, cancelling any pending arm task and
// releasing its reserved component.
func (l *Ledger) RemoveTrap(env Env, loc world.HexCoord) error {
	t, ok := l.traps[loc]
	if !ok {
		return fmt.Errorf("remove trap %v: %w", loc, ErrNoOrder)
	}
	delete(l.traps, loc)
	if t.TaskID != uuid.Nil {
		env.Pool.Unmark(loc)
		l.release(env, t)
	}
	return nil
}

// OnArmed marks the trap at loc armed; its component has been used up.
func (l *Ledger) OnArmed(loc world.HexCoord) {
	if t, ok := l.traps[loc]; ok {
		t.Armed = true
		t.TaskID = uuid.Nil
		t.Component = 0
	}
}

// OnTriggered disarms the trap at loc. It is re-armed by a later arm task.
func (l *Ledger) OnTriggered(loc world.HexCoord, now uint64) {
	if t, ok := l.traps[loc]; ok {
		t.Armed = false
		t.RetryAt = now
	}
}

// TaskGone clears the record that issued task id after the task left the
// pool without completing. Trap components are un-reserved; the retry
// timer is left as is.
func (l *Ledger) TaskGone(env Env, id tasks.ID) {
	for _, r := range l.constructions {
		if r.TaskID == id {
			r.TaskID = uuid.Nil
			return
		}
	}
	for _, t := range l.traps {
		if t.TaskID == id {
			l.release(env, t)
			return
		}
	}
}

func (l *Ledger) release(env Env, t *TrapRecord) {
	if t.Component != 0 {
		env.Site.SetReserved(t.ComponentLoc, t.Component, false)
	}
	t.TaskID = uuid.Nil
	t.Component = 0
}

// Update issues arm and build tasks for every record whose retry timer has
// elapsed and whose location is not suppressed. Construction resources are
// reserved when the task is issued; a shortfall raises the resource's
// warning instead.
func (l *Ledger) Update(env Env, now uint64) {
	for _, c := range sortedKeys(l.traps) {
		l.updateTrap(env, l.traps[c], now)
	}

	var short [economy.NumResources]bool
	for _, c := range sortedKeys(l.constructions) {
		r := l.constructions[c]
		if kind, ok := l.updateConstruction(env, r, now); !ok {
			short[kind] = true
		}
	}
	if env.Warnings != nil {
		cat := env.Resources.Catalog()
		for k := economy.ResourceKind(0); k < economy.NumResources; k++ {
			env.Warnings.Toggle(cat.Info(k).Warning, short[k])
		}
	}
}

func (l *Ledger) suppressed(env Env, loc world.HexCoord, now uint64) bool {
	return env.Threats != nil && env.Threats.IsDelayed(loc, now)
}

func (l *Ledger) updateTrap(env Env, t *TrapRecord, now uint64) {
	if t.Armed || now < t.RetryAt || l.suppressed(env, t.Location, now) {
		return
	}
	if t.TaskID != uuid.Nil && env.Pool.Contains(t.TaskID) {
		return
	}
	itemLoc, item, ok := findComponent(env.Site, t.Proto)
	if !ok {
		return
	}
	job := tasks.NewArmTrap(env.Site, t.Location, t.Proto, item.ID, itemLoc)
	if _, err := env.Pool.Mark(t.Location, job); err != nil {
		slog.Debug("arm trap not issued", "at", t.Location, "err", err)
		return
	}
	env.Site.SetReserved(itemLoc, item.ID, true)
	t.TaskID = job.ID()
	t.Component = item.ID
	t.ComponentLoc = itemLoc
	t.RetryAt = now + l.buildDelay
}

// updateConstruction returns the cost kind and false when the order is
// blocked on resources.
func (l *Ledger) updateConstruction(env Env, r *Record, now uint64) (economy.ResourceKind, bool) {
	if r.Built || now < r.RetryAt || l.suppressed(env, r.Location, now) {
		return r.Cost.Kind, true
	}
	if r.TaskID != uuid.Nil && env.Pool.Contains(r.TaskID) {
		return r.Cost.Kind, true
	}
	if !env.Site.CanConstruct(r.Location, r.Kind) {
		return r.Cost.Kind, true
	}
	if !env.Resources.HasResource(r.Cost) {
		return r.Cost.Kind, false
	}
	if err := env.Resources.TakeResource(r.Cost); err != nil {
		var insufficient *economy.InsufficientResourceError
		if errors.As(err, &insufficient) {
			return r.Cost.Kind, false
		}
		slog.Warn("construction reserve failed", "at", r.Location, "err", err)
		return r.Cost.Kind, true
	}
	job := tasks.NewBuild(env.Site, r.Location, r.Kind)
	if _, err := env.Pool.MarkWithCost(r.Location, job, r.Cost); err != nil {
		env.Resources.ReturnResource(r.Cost)
		slog.Debug("build not issued", "at", r.Location, "err", err)
		return r.Cost.Kind, true
	}
	r.TaskID = job.ID()
	r.RetryAt = now + l.buildDelay
	return r.Cost.Kind, true
}

// findComponent looks for an unreserved trap item of proto in equipment or
// resource storage.
func findComponent(site world.Level, proto string) (world.HexCoord, world.Item, bool) {
	for _, kind := range []world.StorageKind{world.StorageEquipment, world.StorageResources} {
		for _, c := range site.StorageLocations(kind) {
			for _, it := range site.Items(c) {
				if it.Proto == proto && !it.Reserved {
					return c, it, true
				}
			}
		}
	}
	return world.HexCoord{}, world.Item{}, false
}

func sortedKeys[V any](m map[world.HexCoord]V) []world.HexCoord {
	out := make([]world.HexCoord, 0, len(m))
	for c := range m {
		out = append(out, c)
	}
	world.SortCoords(out)
	return out
}
