package world

// ItemID uniquely identifies a physical item on a level.
type ItemID uint64

// Item is a physical object lying on a hex. Proto names the item prototype
// ("wood_plank", "gold_piece", "boulder_trap", ...).
type Item struct {
	ID       ItemID `json:"id"`
	Proto    string `json:"proto"`
	Reserved bool   `json:"reserved,omitempty"` // Claimed by a pending task
	Owner    uint64 `json:"owner,omitempty"`    // Agent that may carry it; 0 = collective
}

// Item class prototypes known to the core. Resource prototypes are supplied
// by the resource catalog.
const (
	ProtoBoulderTrap   = "boulder_trap"
	ProtoPoisonGasTrap = "poison_gas_trap"
	ProtoAlarmTrap     = "alarm_trap"
	ProtoSword         = "sword"
	ProtoLeatherArmor  = "leather_armor"
)

// EquipmentProtos lists prototypes an agent can wear or wield.
var EquipmentProtos = map[string]bool{
	ProtoSword:        true,
	ProtoLeatherArmor: true,
}

// TrapProtos lists trap-component prototypes.
var TrapProtos = map[string]bool{
	ProtoBoulderTrap:   true,
	ProtoPoisonGasTrap: true,
	ProtoAlarmTrap:     true,
}
