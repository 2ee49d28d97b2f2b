// Package economy provides the resource ledger, cost amounts and the
// exponential cost schedules for recruiting and research.
package economy

import (
	"fmt"
	"strings"

	"github.com/talgya/collective/internal/warning"
	"github.com/talgya/collective/internal/world"
)

// ResourceKind enumerates fungible resources.
type ResourceKind uint8

const (
	ResourceGold  ResourceKind = iota // Currency, stored in the treasury
	ResourceWood                      // Construction
	ResourceStone                     // Construction
	ResourceIron                      // Traps, equipment
	ResourceMana                      // Research; credit only, no physical form
)

// NumResources is the total number of resource kinds.
const NumResources = 5

var kindNames = [NumResources]string{"gold", "wood", "stone", "iron", "mana"}

func (k ResourceKind) String() string {
	if int(k) >= NumResources {
		return fmt.Sprintf("resource(%d)", k)
	}
	return kindNames[k]
}

// ParseResourceKind maps a configuration name to a kind.
func ParseResourceKind(name string) (ResourceKind, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for i, n := range kindNames {
		if n == name {
			return ResourceKind(i), nil
		}
	}
	return 0, fmt.Errorf("unknown resource kind %q", name)
}

// MarshalText encodes the kind by name.
func (k ResourceKind) MarshalText() ([]byte, error) {
	if int(k) >= NumResources {
		return nil, fmt.Errorf("marshal %s: out of range", k)
	}
	return []byte(kindNames[k]), nil
}

// UnmarshalText decodes a kind name.
func (k *ResourceKind) UnmarshalText(b []byte) error {
	v, err := ParseResourceKind(string(b))
	if err != nil {
		return err
	}
	*k = v
	return nil
}

// ResourceInfo describes where a resource is stored and what physical items
// count toward it.
type ResourceInfo struct {
	Kind    ResourceKind        `json:"kind"`
	Proto   string              `json:"proto,omitempty"` // Prototype created on refund; empty = credit only
	Storage []world.StorageKind `json:"storage,omitempty"`
	Warning warning.Warning     `json:"-"`
}

// Matches reports whether a physical item counts toward this resource.
func (ri ResourceInfo) Matches(it world.Item) bool {
	return ri.Proto != "" && it.Proto == ri.Proto && !it.Reserved
}

// Catalog maps every resource kind to its storage description.
type Catalog [NumResources]ResourceInfo

// DefaultCatalog returns the built-in resource catalog.
func DefaultCatalog() Catalog {
	return Catalog{
		ResourceGold:  {Kind: ResourceGold, Proto: "gold_piece", Storage: []world.StorageKind{world.StorageTreasury}, Warning: warning.NotEnoughGold},
		ResourceWood:  {Kind: ResourceWood, Proto: "wood_plank", Storage: []world.StorageKind{world.StorageResources}, Warning: warning.NotEnoughWood},
		ResourceStone: {Kind: ResourceStone, Proto: "rock", Storage: []world.StorageKind{world.StorageResources}, Warning: warning.NotEnoughStone},
		ResourceIron:  {Kind: ResourceIron, Proto: "iron_ore", Storage: []world.StorageKind{world.StorageResources}, Warning: warning.NotEnoughIron},
		ResourceMana:  {Kind: ResourceMana, Warning: warning.NotEnoughMana},
	}
}

// Info returns the catalog entry for k.
func (c *Catalog) Info(k ResourceKind) ResourceInfo {
	return c[k]
}

// KindOf returns the resource an item counts toward, if any.
func (c *Catalog) KindOf(it world.Item) (ResourceKind, bool) {
	for _, ri := range c {
		if ri.Proto != "" && ri.Proto == it.Proto {
			return ri.Kind, true
		}
	}
	return 0, false
}

// CostAmount is a signed quantity of one resource.
type CostAmount struct {
	Kind  ResourceKind `json:"kind"`
	Value int          `json:"value"`
}

// Cost builds a CostAmount.
func Cost(kind ResourceKind, value int) CostAmount {
	return CostAmount{Kind: kind, Value: value}
}

// ZeroCost is the "no cost" sentinel.
func ZeroCost() CostAmount { return CostAmount{} }

// IsZero reports whether the amount is empty.
func (c CostAmount) IsZero() bool { return c.Value == 0 }

// Neg returns the negated amount.
func (c CostAmount) Neg() CostAmount { return CostAmount{Kind: c.Kind, Value: -c.Value} }

// Mul scales the amount.
func (c CostAmount) Mul(n int) CostAmount { return CostAmount{Kind: c.Kind, Value: c.Value * n} }

// Div divides the amount, truncating toward zero. Division by zero yields zero.
func (c CostAmount) Div(n int) CostAmount {
	if n == 0 {
		return CostAmount{Kind: c.Kind}
	}
	return CostAmount{Kind: c.Kind, Value: c.Value / n}
}

func (c CostAmount) String() string {
	return fmt.Sprintf("%d %s", c.Value, c.Kind)
}
