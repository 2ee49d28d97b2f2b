package main

import (
	"fmt"
	"io"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/talgya/collective/internal/agents"
	"github.com/talgya/collective/internal/config"
	"github.com/talgya/collective/internal/engine"
	"github.com/talgya/collective/internal/persistence"
)

func newReplayCmd(load func() (config.Config, error)) *cobra.Command {
	var (
		day   uint64
		file  string
		agent uint64
		full  bool
	)
	cmd := &cobra.Command{
		Use:   "replay",
		Short: "Summarize the decisions recorded in a tick log",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := file
			if path == "" {
				cfg, err := load()
				if err != nil {
					return err
				}
				if cfg.Storage.TickLogDir == "" {
					return fmt.Errorf("tick log disabled (storage.tick_log_dir is empty)")
				}
				path = persistence.NewTickLog(cfg.Storage.TickLogDir).PathForDay(day)
			}
			entries, err := persistence.ReadTicks(path)
			if err != nil {
				return err
			}
			return replay(cmd.OutOrStdout(), entries, agents.AgentID(agent), full)
		},
	}
	cmd.Flags().Uint64Var(&day, "day", 0, "sim-day to read (0-based)")
	cmd.Flags().StringVar(&file, "file", "", "tick log file; overrides --day")
	cmd.Flags().Uint64Var(&agent, "agent", 0, "only show this agent's decisions")
	cmd.Flags().BoolVar(&full, "full", false, "print every decision, not only totals")
	return cmd
}

func replay(w io.Writer, entries []persistence.TickEntry, only agents.AgentID, full bool) error {
	byKind := map[string]int{}
	total := 0
	for _, e := range entries {
		for _, d := range e.Decisions {
			if only != 0 && d.Action.AgentID != only {
				continue
			}
			total++
			byKind[d.Action.Kind.String()]++
			if full {
				fmt.Fprintf(w, "%-16s agent %-4d %-8s %v %s\n",
					engine.SimTime(e.Tick), d.Action.AgentID, d.Action.Kind, d.Action.Target, d.Action.Detail)
			}
		}
	}
	if len(entries) == 0 {
		fmt.Fprintln(w, "no decisions recorded")
		return nil
	}

	first, last := entries[0].Tick, entries[len(entries)-1].Tick
	fmt.Fprintf(w, "%s decisions over %s ticks (%s to %s)\n",
		humanize.Comma(int64(total)), humanize.Comma(int64(last-first+1)),
		engine.SimTime(first), engine.SimTime(last))

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool {
		if byKind[kinds[i]] != byKind[kinds[j]] {
			return byKind[kinds[i]] > byKind[kinds[j]]
		}
		return kinds[i] < kinds[j]
	})
	for _, k := range kinds {
		fmt.Fprintf(w, "  %-10s %s\n", k, humanize.Comma(int64(byKind[k])))
	}
	return nil
}
