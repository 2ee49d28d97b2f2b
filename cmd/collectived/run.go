package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"syscall"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/api"
	"github.com/talgya/collective/internal/config"
	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/persistence"
	"github.com/talgya/collective/internal/world"
)

func newRunCmd(load func() (config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run the scheduler and serve the status API",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return run(ctx, cfg)
		},
	}
}

func run(ctx context.Context, cfg config.Config) error {
	slog.Info("collective starting", "seed", cfg.Seed, "config_db", cfg.Storage.DBPath)

	// ── Database ──────────────────────────────────────────────────────
	if err := os.MkdirAll(filepath.Dir(cfg.Storage.DBPath), 0o755); err != nil {
		return fmt.Errorf("create data dir: %w", err)
	}
	db, err := persistence.Open(cfg.Storage.DBPath)
	if err != nil {
		return fmt.Errorf("open database: %w", err)
	}
	defer db.Close()

	// ── Level (regenerated from seed, saved hexes overlaid) ──────────
	m := world.Generate(cfg.GenConfig())
	for t, n := range world.TerrainCounts(m) {
		slog.Debug("terrain", "type", world.TerrainName(t), "count", n)
	}

	opts, err := cfg.Options()
	if err != nil {
		return err
	}
	col, err := engine.NewCollective(m, opts)
	if err != nil {
		return err
	}

	// ── Load or seed state ───────────────────────────────────────────
	if db.HasState() {
		s, err := db.LoadState(m)
		if err != nil {
			return fmt.Errorf("load state: %w", err)
		}
		col.Restore(s)
		slog.Info("collective restored",
			"agents", len(s.Agents),
			"tick", s.Tick,
			"sim_time", engine.SimTime(s.Tick),
		)
	} else if err := seed(col, cfg); err != nil {
		return err
	}
	start := col.LastTick()

	// ── Tick log ─────────────────────────────────────────────────────
	var ticks *persistence.TickLog
	if cfg.Storage.TickLogDir != "" {
		ticks = persistence.NewTickLog(cfg.Storage.TickLogDir)
		col.OnDecision = ticks.Record
		defer func() {
			if err := ticks.Close(); err != nil {
				slog.Error("tick log close failed", "error", err)
			}
		}()
	}

	save := func() {
		if err := db.Checkpoint(col); err != nil {
			slog.Error("save failed", "error", err)
		}
	}

	eng := engine.NewEngine(start, cfg.TickInterval)
	eng.OnTick = func(tick uint64) {
		col.Tick(tick)
		if ticks != nil {
			if err := ticks.WriteTick(tick); err != nil {
				slog.Error("tick log write failed", "tick", tick, "error", err)
			}
		}
		if every := cfg.Storage.SaveEvery; every > 0 && tick%every == 0 {
			save()
		}
	}
	eng.OnHour = col.TickHour
	eng.OnDay = func(tick uint64) {
		col.TickDay(tick)
		if cfg.Storage.SaveEvery == 0 {
			save()
		}
	}

	// ── Run ──────────────────────────────────────────────────────────
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return eng.Run(ctx) })

	if cfg.API.Port > 0 {
		if cfg.API.AdminKey == "" {
			slog.Warn("COLLECTIVE_ADMIN_KEY not set, order endpoints are disabled")
		}
		srv, err := api.NewServer(col, eng, db)
		if err != nil {
			return err
		}
		srv.Port = cfg.API.Port
		srv.AdminKey = cfg.API.AdminKey
		srv.RateLimit = cfg.API.RateLimit
		g.Go(func() error { return srv.Run(ctx) })
		fmt.Printf("API: http://localhost:%d/api/v1/status\n", cfg.API.Port)
	}

	st := col.Stats()
	fmt.Printf("Collective is alive: %s agents on %s hexes.\n",
		humanize.Comma(int64(st.Alive)), humanize.Comma(int64(m.HexCount())))
	if start > 0 {
		fmt.Printf("Resuming from tick %d (%s)\n", start, engine.SimTime(start))
	}

	err = g.Wait()

	slog.Info("final save...")
	save()
	return err
}

// seed gives a fresh collective its starting credit and population.
func seed(col *engine.Collective, cfg config.Config) error {
	credits, err := cfg.Credits()
	if err != nil {
		return err
	}
	for k, n := range credits {
		col.Resources.AddCredit(k, n)
	}

	pop, err := cfg.Population()
	if err != nil {
		return err
	}
	cats := make([]agents.Category, 0, len(pop))
	for cat := range pop {
		cats = append(cats, cat)
	}
	// Leader first, so recruits and followers find it.
	sort.Slice(cats, func(i, j int) bool {
		if (cats[i] == agents.CategoryLeader) != (cats[j] == agents.CategoryLeader) {
			return cats[i] == agents.CategoryLeader
		}
		return cats[i] < cats[j]
	})
	for _, cat := range cats {
		for i := 0; i < pop[cat]; i++ {
			col.Spawn(cat, world.HexCoord{})
		}
	}
	slog.Info("collective seeded", "agents", col.Stats().Alive, "credits", credits)
	return nil
}
