package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/construction"
	"github.com/talgya/collective/internal/economy"
	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/tasks"
	"github.com/talgya/collective/internal/world"
)

// orderRequest is the body of POST /api/v1/orders. Which fields matter
// depends on Type.
type orderRequest struct {
	Type      string              `json:"type"`
	At        *world.HexCoord     `json:"at,omitempty"`
	Locations []world.HexCoord    `json:"locations,omitempty"`
	Mode      string              `json:"mode,omitempty"` // selection: dig, build, trap
	Structure world.StructureKind `json:"structure,omitempty"`
	Cost      economy.CostAmount  `json:"cost"`
	Trap      string              `json:"trap,omitempty"`
	Category  string              `json:"category,omitempty"`
	Agent     agents.AgentID      `json:"agent,omitempty"`
	Target    *agents.AgentID     `json:"target,omitempty"`
	Activity  string              `json:"activity,omitempty"`
	Duty      string              `json:"duty,omitempty"`
}

var errBadRequest = errors.New("bad request")

func (s *Server) handleOrders(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req orderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}

	result, err := s.applyOrder(req)
	if err != nil {
		slog.Info("order rejected", "type", req.Type, "error", err)
		http.Error(w, err.Error(), orderStatus(err))
		return
	}
	slog.Info("order applied", "type", req.Type)
	resp := map[string]any{"type": req.Type, "tick": s.Col.LastTick()}
	for k, v := range result {
		resp[k] = v
	}
	writeJSON(w, resp)
}

func (s *Server) applyOrder(req orderRequest) (map[string]any, error) {
	at := func() (world.HexCoord, error) {
		if req.At == nil {
			return world.HexCoord{}, fmt.Errorf("%w: %q needs \"at\"", errBadRequest, req.Type)
		}
		return *req.At, nil
	}
	col := s.Col

	switch req.Type {
	case "dig", "cancel_dig", "build", "cancel_build", "trap", "remove_trap", "fetch", "trigger_trap", "destroy", "alarm":
		loc, err := at()
		if err != nil {
			return nil, err
		}
		switch req.Type {
		case "dig":
			return nil, col.Dig(loc)
		case "cancel_dig":
			return nil, col.CancelDig(loc)
		case "build":
			return nil, col.Build(loc, req.Structure, req.Cost)
		case "cancel_build":
			refund, err := col.CancelConstruction(loc)
			return map[string]any{"refund": refund}, err
		case "trap":
			return nil, col.SetTrap(loc, req.Trap)
		case "remove_trap":
			return nil, col.RemoveTrap(loc)
		case "trigger_trap":
			return nil, col.TriggerTrap(loc)
		case "destroy":
			return nil, col.DestroyStructure(loc)
		case "alarm":
			col.SetAlarm(loc)
			return nil, nil
		default: // fetch
			n, err := col.Fetch(loc)
			return map[string]any{"issued": n}, err
		}

	case "selection":
		if len(req.Locations) == 0 {
			return nil, fmt.Errorf("%w: selection needs locations", errBadRequest)
		}
		var base engine.SelectionMode
		switch req.Mode {
		case "dig":
			base = engine.SelectDig
		case "build":
			base = engine.SelectBuild
		case "trap":
			base = engine.SelectTrap
		default:
			return nil, fmt.Errorf("%w: selection mode %q", errBadRequest, req.Mode)
		}
		mode := col.SelectionModeAt(base, req.Locations[0])
		n := col.ApplySelection(engine.Selection{
			Mode:      mode,
			Structure: req.Structure,
			Cost:      req.Cost,
			Trap:      req.Trap,
		}, req.Locations)
		return map[string]any{"mode": mode.String(), "applied": n}, nil

	case "recruit":
		cat, err := agents.ParseCategory(req.Category)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		a, err := col.Recruit(cat)
		if err != nil {
			return nil, err
		}
		return map[string]any{"agent": a.ID, "name": a.Name, "next_cost": col.RecruitCost()}, nil

	case "research":
		n, err := col.Research()
		if err != nil {
			return nil, err
		}
		return map[string]any{"researched": n, "next_cost": col.ResearchCost()}, nil

	case "assign":
		act, err := agents.ParseActivity(req.Activity)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return nil, col.AssignMinionTask(req.Agent, act)

	case "duty":
		if req.Target == nil {
			return nil, fmt.Errorf("%w: duty needs a target prisoner", errBadRequest)
		}
		var duty agents.PrisonerDuty
		switch req.Duty {
		case "execute":
			duty = agents.DutyExecute
		case "torture":
			duty = agents.DutyTorture
		default:
			return nil, fmt.Errorf("%w: duty %q", errBadRequest, req.Duty)
		}
		return nil, col.AssignPrisonerDuty(req.Agent, *req.Target, duty)

	case "guard":
		return nil, col.SetGuardPost(req.Agent, req.At)

	case "control":
		return nil, col.SetControl(req.Agent, req.Target)

	case "died":
		return nil, col.OnAgentDied(req.Agent)
	}
	return nil, fmt.Errorf("%w: unknown order type %q", errBadRequest, req.Type)
}

// orderStatus maps an order error onto an HTTP status.
func orderStatus(err error) int {
	var short *economy.InsufficientResourceError
	switch {
	case errors.Is(err, errBadRequest):
		return http.StatusBadRequest
	case errors.Is(err, engine.ErrUnknownAgent),
		errors.Is(err, tasks.ErrTaskNotFound),
		errors.Is(err, construction.ErrNoOrder):
		return http.StatusNotFound
	case errors.As(err, &short),
		errors.Is(err, tasks.ErrDuplicateTask),
		errors.Is(err, tasks.ErrLocationMarked),
		errors.Is(err, construction.ErrAlreadyOrdered):
		return http.StatusConflict
	default:
		return http.StatusUnprocessableEntity
	}
}
