package cmd

import (
	"fmt"
	"os/signal"
	"syscall"
	"time"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/execstate"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/watcher"
	"github.com/spf13/cobra"
)

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the plan directory and report changes",
	Long: `Observe the plan directory and print a status line whenever the plan
documents change. The watcher is read-only: it takes no lock and never
writes. Press Ctrl-C to stop.`,
	RunE: runWatch,
}

func init() {
	rootCmd.AddCommand(watchCmd)
}

func runWatch(cmd *cobra.Command, args []string) error {
	store, logger := openStore()
	defer logger.Close()

	if !store.Exists() {
		return fmt.Errorf("no plan found in %s", planDir())
	}

	cfg := config.Get()
	opts := []watcher.Option{watcher.WithDebounce(cfg.Watcher.Debounce())}
	if len(cfg.Watcher.IgnorePatterns) > 0 {
		opts = append(opts, watcher.WithIgnorePatterns(cfg.Watcher.IgnorePatterns...))
	}

	w, err := watcher.New(store, logger, opts...)
	if err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cmd.Printf("Watching %s (Ctrl-C to stop)\n", store.Dir())

	err = w.Run(ctx, func(p *plan.Plan, loadErr error) {
		stamp := time.Now().Format("15:04:05")
		if loadErr != nil {
			cmd.Printf("%s  plan unreadable: %v\n", stamp, loadErr)
			return
		}
		prog := p.Orchestration.Progress
		line := fmt.Sprintf("%s  %s: %d/%d tasks, %d/%d phases",
			stamp, p.Orchestration.Metadata.PlanID,
			prog.CompletedTasks, prog.TotalTasks,
			prog.CompletedPhases, prog.TotalPhases)
		if a := execstate.Analyze(p); a.HasStarted && a.CurrentPhase != "" {
			line += ", executing " + a.CurrentPhase
		}
		cmd.Println(line)
	})
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}
