package engine

import (
	"log/slog"

	"github.com/dustin/go-humanize"

	"github.com/talgya/collective/internal/economy"
)

// maxEvents bounds the in-memory event log.
const maxEvents = 1000

// TickDay writes the daily report and trims the event log.
func (c *Collective) TickDay(tick uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.stats
	stock := make([]any, 0, 2*economy.NumResources)
	for k := economy.ResourceKind(0); k < economy.NumResources; k++ {
		stock = append(stock, k.String(), humanize.Comma(int64(c.Resources.NumResource(k))))
	}

	slog.Info("daily report",
		"day", tick/TicksPerSimDay,
		"time", SimTime(tick),
		"alive", s.Alive,
		"deaths", s.Deaths,
		"tasks", s.Tasks,
		"locks", s.Locks,
		"pending_orders", s.Pending,
		"suppressed", s.Suppressed,
		"tasks_done", humanize.Comma(int64(s.TasksDone)),
		"tasks_failed", humanize.Comma(int64(s.TasksFailed)),
		"recruited", c.recruited,
		"researched", humanize.Ordinal(c.researched),
		"warnings", c.warnings.Strings(),
	)
	slog.Info("daily stock", stock...)

	c.trimEvents(maxEvents)
}
