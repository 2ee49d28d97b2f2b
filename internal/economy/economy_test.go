package economy

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talgya/collective/internal/entropy"
	"github.com/talgya/collective/internal/world"
)

var (
	pileA = world.HexCoord{Q: 1, R: 0}
	pileB = world.HexCoord{Q: 1, R: -1}
	vault = world.HexCoord{Q: 0, R: -1}
)

func newStockpile() *world.Map {
	m := world.NewMap(1, 3)
	for _, c := range []world.HexCoord{pileA, pileB, vault, {}} {
		m.Set(&world.Hex{Coord: c, Terrain: world.TerrainFloor, Territory: true})
	}
	m.Get(pileA).Storage = world.StorageResources
	m.Get(pileB).Storage = world.StorageResources
	m.Get(vault).Storage = world.StorageTreasury
	return m
}

func fill(m *world.Map, c world.HexCoord, proto string, n int) {
	for i := 0; i < n; i++ {
		m.NewItem(c, proto)
	}
}

func TestTakeResourcePhysicalOnly(t *testing.T) {
	m := newStockpile()
	fill(m, pileA, "wood_plank", 5)
	l := NewLedger(DefaultCatalog(), m, entropy.New(3))

	require.NoError(t, l.TakeResource(Cost(ResourceWood, 3)))
	assert.Equal(t, 0, l.Credit(ResourceWood))
	assert.Len(t, m.Items(pileA), 2)
	assert.Equal(t, 2, l.NumResource(ResourceWood))
}

func TestTakeResourceCreditFirst(t *testing.T) {
	m := newStockpile()
	fill(m, pileA, "wood_plank", 4)
	l := NewLedger(DefaultCatalog(), m, entropy.New(3))
	l.AddCredit(ResourceWood, 2)

	require.NoError(t, l.TakeResource(Cost(ResourceWood, 3)))
	assert.Equal(t, 0, l.Credit(ResourceWood))
	assert.Len(t, m.Items(pileA), 3)
}

func TestTakeResourceInsufficient(t *testing.T) {
	m := newStockpile()
	fill(m, pileA, "wood_plank", 2)
	l := NewLedger(DefaultCatalog(), m, entropy.New(3))
	l.AddCredit(ResourceWood, 1)

	err := l.TakeResource(Cost(ResourceWood, 5))
	var insufficient *InsufficientResourceError
	require.True(t, errors.As(err, &insufficient))
	assert.Equal(t, 5, insufficient.Need)
	assert.Equal(t, 3, insufficient.Have)

	// Nothing consumed.
	assert.Equal(t, 3, l.NumResource(ResourceWood))
	assert.Equal(t, 1, l.Credit(ResourceWood))
}

func TestTakeResourceNegative(t *testing.T) {
	l := NewLedger(DefaultCatalog(), newStockpile(), entropy.New(1))
	assert.ErrorIs(t, l.TakeResource(Cost(ResourceGold, -1)), ErrNegativeAmount)
}

func TestReservedItemsDoNotCount(t *testing.T) {
	m := newStockpile()
	it := m.NewItem(pileA, "iron_ore")
	m.NewItem(pileA, "iron_ore")
	require.True(t, m.SetReserved(pileA, it.ID, true))
	l := NewLedger(DefaultCatalog(), m, entropy.New(1))
	assert.Equal(t, 1, l.NumResource(ResourceIron))
}

func TestTakeReturnRoundTrip(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		m := newStockpile()
		fill(m, pileA, "rock", 3)
		fill(m, pileB, "rock", 4)
		l := NewLedger(DefaultCatalog(), m, entropy.New(seed))
		l.AddCredit(ResourceStone, 2)

		before := l.NumResource(ResourceStone)
		c := Cost(ResourceStone, 6)
		require.NoError(t, l.TakeResource(c))
		assert.Equal(t, before-6, l.NumResource(ResourceStone))
		l.ReturnResource(c)
		assert.Equal(t, before, l.NumResource(ResourceStone), "seed %d", seed)
	}
}

func TestReturnResourceWithoutStorageCredits(t *testing.T) {
	m := world.NewMap(1, 1)
	m.Set(&world.Hex{Coord: world.HexCoord{}, Terrain: world.TerrainFloor})
	l := NewLedger(DefaultCatalog(), m, entropy.New(1))

	l.ReturnResource(Cost(ResourceWood, 4))
	assert.Equal(t, 4, l.Credit(ResourceWood))
	assert.Equal(t, 4, l.NumResource(ResourceWood))

	l.ReturnResource(Cost(ResourceMana, 10))
	assert.Equal(t, 10, l.Credit(ResourceMana))
}

func TestReturnResourceCreatesItems(t *testing.T) {
	m := newStockpile()
	l := NewLedger(DefaultCatalog(), m, entropy.New(1))
	l.ReturnResource(Cost(ResourceGold, 3))
	assert.Len(t, m.Items(vault), 3)
	assert.Equal(t, 0, l.Credit(ResourceGold))
	assert.Equal(t, 3, l.NumResource(ResourceGold))
}

func TestCostAmountArithmetic(t *testing.T) {
	c := Cost(ResourceIron, 7)
	assert.Equal(t, Cost(ResourceIron, -7), c.Neg())
	assert.Equal(t, Cost(ResourceIron, 21), c.Mul(3))
	assert.Equal(t, Cost(ResourceIron, 3), c.Div(2))
	assert.True(t, c.Div(0).IsZero())
	assert.True(t, ZeroCost().IsZero())
	assert.Equal(t, "7 iron", c.String())
}

func TestCostSchedule(t *testing.T) {
	s := CostSchedule{Kind: ResourceGold, Base: 20, DoublingPeriod: 5, FreeAllotment: 3}

	tests := []struct {
		count int
		want  int
	}{
		{0, 20},
		{3, 20},
		{7, 20}, // (7-3)/5 = 0
		{8, 40}, // (8-3)/5 = 1
		{12, 40},
		{13, 80},
		{1000, 20 << 30},
	}
	for _, tt := range tests {
		assert.Equal(t, Cost(ResourceGold, tt.want), s.Cost(tt.count), "count %d", tt.count)
	}

	assert.Equal(t, 40, DefaultRecruitSchedule().Cost(8).Value)
}

func TestParseResourceKind(t *testing.T) {
	k, err := ParseResourceKind(" Wood ")
	require.NoError(t, err)
	assert.Equal(t, ResourceWood, k)

	_, err = ParseResourceKind("unobtainium")
	assert.Error(t, err)
}
