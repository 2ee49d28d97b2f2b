package economy

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/talgya/collective/internal/entropy"
	"github.com/talgya/collective/internal/world"
)

// ErrNegativeAmount is returned when a take is requested for a negative quantity.
var ErrNegativeAmount = errors.New("negative resource amount")

// InsufficientResourceError reports a take that exceeds the available total.
type InsufficientResourceError struct {
	Kind ResourceKind
	Need int
	Have int
}

func (e *InsufficientResourceError) Error() string {
	return fmt.Sprintf("insufficient %s: need %d, have %d", e.Kind, e.Need, e.Have)
}

// Ledger tracks credit balances plus physical items in storage.
type Ledger struct {
	catalog Catalog
	credit  [NumResources]int
	stock   world.Stockpile
	rng     entropy.Source
}

// NewLedger creates a ledger over the given stockpile.
func NewLedger(catalog Catalog, stock world.Stockpile, rng entropy.Source) *Ledger {
	return &Ledger{catalog: catalog, stock: stock, rng: rng}
}

// Catalog returns the resource catalog the ledger was built with.
func (l *Ledger) Catalog() *Catalog { return &l.catalog }

// Credit returns the abstract balance for kind.
func (l *Ledger) Credit(kind ResourceKind) int { return l.credit[kind] }

// AddCredit adjusts the abstract balance directly (starting funds, rewards).
func (l *Ledger) AddCredit(kind ResourceKind, n int) {
	l.credit[kind] += n
	if l.credit[kind] < 0 {
		l.credit[kind] = 0
	}
}

// Credits returns a copy of every credit balance.
func (l *Ledger) Credits() [NumResources]int { return l.credit }

// NumResource returns credit plus matching items in the kind's storage.
func (l *Ledger) NumResource(kind ResourceKind) int {
	n := l.credit[kind]
	info := l.catalog.Info(kind)
	for _, c := range l.storageFor(info) {
		for _, it := range l.stock.Items(c) {
			if info.Matches(it) {
				n++
			}
		}
	}
	return n
}

// HasResource reports whether c can be taken in full.
func (l *Ledger) HasResource(c CostAmount) bool {
	return c.Value <= 0 || l.NumResource(c.Kind) >= c.Value
}

// TakeResource consumes c: credit first, then physical items from storage
// locations in random order. Nothing is consumed when the total is short.
func (l *Ledger) TakeResource(c CostAmount) error {
	if c.Value < 0 {
		return fmt.Errorf("take %s: %w", c, ErrNegativeAmount)
	}
	if c.Value == 0 {
		return nil
	}
	if have := l.NumResource(c.Kind); have < c.Value {
		return &InsufficientResourceError{Kind: c.Kind, Need: c.Value, Have: have}
	}

	need := c.Value
	fromCredit := min(l.credit[c.Kind], need)
	l.credit[c.Kind] -= fromCredit
	need -= fromCredit

	info := l.catalog.Info(c.Kind)
	locs := l.storageFor(info)
	for _, i := range l.rng.Perm(len(locs)) {
		if need == 0 {
			break
		}
		loc := locs[i]
		for _, it := range l.stock.Items(loc) {
			if need == 0 {
				break
			}
			if !info.Matches(it) {
				continue
			}
			if _, ok := l.stock.RemoveItem(loc, it.ID); ok {
				need--
			}
		}
	}
	if need > 0 {
		// NumResource and the removal loop disagree; restore what we can.
		slog.Error("resource ledger inconsistent", "kind", c.Kind, "short", need)
		l.credit[c.Kind] += c.Value - need
		return &InsufficientResourceError{Kind: c.Kind, Need: c.Value, Have: c.Value - need}
	}
	return nil
}

// ReturnResource refunds c as new items in a random storage location of the
// kind, or as credit when no storage exists. Never fails.
func (l *Ledger) ReturnResource(c CostAmount) {
	if c.Value <= 0 {
		return
	}
	info := l.catalog.Info(c.Kind)
	locs := l.storageFor(info)
	if info.Proto == "" || len(locs) == 0 {
		l.credit[c.Kind] += c.Value
		return
	}
	loc := locs[l.rng.Intn(len(locs))]
	for i := 0; i < c.Value; i++ {
		l.stock.NewItem(loc, info.Proto)
	}
}

func (l *Ledger) storageFor(info ResourceInfo) []world.HexCoord {
	if info.Proto == "" || l.stock == nil {
		return nil
	}
	var out []world.HexCoord
	for _, kind := range info.Storage {
		out = append(out, l.stock.StorageLocations(kind)...)
	}
	return out
}
