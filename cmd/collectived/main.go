// Command collectived runs the collective scheduler with its status API,
// and inspects what it recorded.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/talgya/collective/internal/config"
)

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var cfgPath string
	root := &cobra.Command{
		Use:           "collectived",
		Short:         "Collective task scheduler",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&cfgPath, "config", "c", config.DefaultFile, "path to the YAML config")

	load := func() (config.Config, error) {
		cfg, err := config.Load(cfgPath)
		if err != nil {
			return cfg, err
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level: cfg.SlogLevel(),
		})))
		return cfg, nil
	}

	root.AddCommand(newRunCmd(load), newReplayCmd(load), newConfigCmd(load))
	return root
}
