// Package tasks provides the collective's task pool: outstanding work items,
// per-agent ownership and locks, and nearest-task assignment.
package tasks

import (
	"github.com/google/uuid"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/world"
)

// ID uniquely identifies a task for its whole lifetime.
type ID = uuid.UUID

// NewID issues a fresh task id.
func NewID() ID { return uuid.New() }

// Task is a unit of assignable work with a location and a completion
// condition. How it moves agents or touches the world is up to the task.
type Task interface {
	ID() ID
	Location() world.HexCoord
	IsDone() bool
	// ActionFor returns what a should do next for this task, or false if a
	// cannot currently act on it.
	ActionFor(a *agents.Agent) (agents.Action, bool)
	Cancel()
	// Transferable tasks may be taken over by a closer agent while owned.
	Transferable() bool
}

// Worker is implemented by tasks that make progress when an agent performs
// an ActionWork on them.
type Worker interface {
	Work(a *agents.Agent) Outcome
}
