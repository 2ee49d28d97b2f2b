package agents

import "github.com/talgya/collective/internal/world"

// ActionKind enumerates what an agent can decide to do in one tick.
type ActionKind uint8

const (
	ActionIdle     ActionKind = iota
	ActionMove                // Step toward Target
	ActionWork                // Perform the owned task at Target
	ActionDrop                // Drop a carried item
	ActionEquip               // Pick up and equip Item from Target
	ActionFollow              // Follow the controlling proxy
	ActionExecute             // Kill the assigned prisoner
	ActionTorture             // Torture the assigned prisoner
	ActionGuard               // Hold a guard post
	ActionActivity            // Pursue the current recurring activity at Target
	ActionWander              // Beast wander/patrol step
)

var actionNames = [...]string{"idle", "move", "work", "drop", "equip", "follow", "execute", "torture", "guard", "activity", "wander"}

func (k ActionKind) String() string {
	if int(k) < len(actionNames) {
		return actionNames[k]
	}
	return "unknown"
}

// Action represents what an agent decided to do this tick.
type Action struct {
	AgentID  AgentID        `json:"agent_id"`
	Kind     ActionKind     `json:"kind"`
	Target   world.HexCoord `json:"target"`
	Item     world.ItemID   `json:"item,omitempty"`
	Activity Activity       `json:"activity,omitempty"`
	Detail   string         `json:"detail,omitempty"` // Human-readable description for the event log
}

// Idle is the do-nothing action for a.
func Idle(id AgentID) Action {
	return Action{AgentID: id, Kind: ActionIdle}
}
