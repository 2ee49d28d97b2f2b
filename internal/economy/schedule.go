package economy

// maxDoublings caps the exponent so the shift cannot overflow.
const maxDoublings = 30

// CostSchedule is an exponential price curve: Base, doubled every
// DoublingPeriod acquisitions past FreeAllotment.
type CostSchedule struct {
	Kind           ResourceKind `json:"kind" yaml:"kind"`
	Base           int          `json:"base" yaml:"base"`
	DoublingPeriod int          `json:"doubling_period" yaml:"doubling_period"`
	FreeAllotment  int          `json:"free_allotment" yaml:"free_allotment"`
}

// Cost returns base * 2^((count - free) / period), with integer floor
// division on the exponent. Counts at or below the allotment pay base.
func (s CostSchedule) Cost(count int) CostAmount {
	if count <= s.FreeAllotment || s.DoublingPeriod <= 0 {
		return Cost(s.Kind, s.Base)
	}
	doublings := (count - s.FreeAllotment) / s.DoublingPeriod
	if doublings > maxDoublings {
		doublings = maxDoublings
	}
	return Cost(s.Kind, s.Base<<doublings)
}

// DefaultRecruitSchedule prices new minions in gold.
func DefaultRecruitSchedule() CostSchedule {
	return CostSchedule{Kind: ResourceGold, Base: 20, DoublingPeriod: 5, FreeAllotment: 3}
}

// DefaultResearchSchedule prices upgrades in mana.
func DefaultResearchSchedule() CostSchedule {
	return CostSchedule{Kind: ResourceMana, Base: 60, DoublingPeriod: 2, FreeAllotment: 1}
}
