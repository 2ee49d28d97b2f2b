// Package engine provides the collective: its per-tick scheduler, the orders
// that feed it, and the tick loop that drives it.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// TickSchedule defines when each layer runs relative to the tick counter.
const (
	TicksPerSimHour = 60   // 60 ticks = 1 sim-hour
	TicksPerSimDay  = 1440 // 24 hours × 60
)

// Engine drives the collective forward.
type Engine struct {
	mu       sync.Mutex
	tick     uint64        // Current tick counter (monotonic, never resets)
	speed    float64       // Multiplier: 1.0 = real-time, 0 = paused
	Interval time.Duration // Base tick interval (default 1 second)

	// Callbacks for each tick layer, populated during setup.
	OnTick func(tick uint64) // Every tick
	OnHour func(tick uint64) // Every 60 ticks
	OnDay  func(tick uint64) // Every 1440 ticks
}

// NewEngine creates an engine starting after tick start.
func NewEngine(start uint64, interval time.Duration) *Engine {
	if interval <= 0 {
		interval = time.Second
	}
	return &Engine{tick: start, speed: 1.0, Interval: interval}
}

// Tick returns the last tick run.
func (e *Engine) Tick() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.tick
}

// Speed returns the current speed multiplier.
func (e *Engine) Speed() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.speed
}

// SetSpeed changes the speed multiplier; 0 pauses.
func (e *Engine) SetSpeed(s float64) {
	if s < 0 {
		s = 0
	}
	e.mu.Lock()
	e.speed = s
	e.mu.Unlock()
	slog.Info("engine speed changed", "speed", s)
}

// Run steps the engine until ctx is cancelled.
func (e *Engine) Run(ctx context.Context) error {
	slog.Info("collective engine started", "tick", e.Tick(), "speed", e.Speed())
	defer func() { slog.Info("collective engine stopped", "tick", e.Tick()) }()

	for {
		speed := e.Speed()
		wait := 100 * time.Millisecond
		if speed > 0 {
			start := time.Now()
			e.Step()
			// Sleep for the remainder of the tick interval, adjusted for speed.
			target := time.Duration(float64(e.Interval) / speed)
			wait = target - time.Since(start)
		}
		if wait <= 0 {
			if err := ctx.Err(); err != nil {
				return nil
			}
			continue
		}
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(wait):
		}
	}
}

// Step advances by one tick and runs the due layers.
func (e *Engine) Step() uint64 {
	e.mu.Lock()
	e.tick++
	tick := e.tick
	e.mu.Unlock()

	if e.OnTick != nil {
		e.OnTick(tick)
	}
	if tick%TicksPerSimHour == 0 && e.OnHour != nil {
		e.OnHour(tick)
	}
	if tick%TicksPerSimDay == 0 && e.OnDay != nil {
		e.OnDay(tick)
	}
	return tick
}

// SimTime returns a human-readable time string from a tick number.
func SimTime(tick uint64) string {
	minutes := tick % 60
	totalHours := tick / 60
	hours := totalHours % 24
	day := totalHours/24 + 1
	return fmt.Sprintf("Day %d, %d:%02d", day, hours, minutes)
}
