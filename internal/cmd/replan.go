package cmd

import (
	"fmt"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/orchestrator"
	"github.com/spf13/cobra"
)

var replanCmd = &cobra.Command{
	Use:   "replan [batch-file]",
	Short: "Archive execution state, reset the plan, and apply a new batch",
	Long: `Roll the plan back to a clean pre-execution state and apply a
replacement batch. The current execution state and a derived summary
are archived to a logs backup first, every phase and task is reset to
pending, and a history entry records what had been completed. The new
batch is then applied through the normal atomic pipeline.

Refuses to run on a plan that has not started executing; use 'apply'
for ordinary edits.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runReplan,
}

func init() {
	replanCmd.Flags().String("reason", "", "reason recorded in the execution history")
	replanCmd.Flags().Bool("force", false, "override completed-entity protection in the new batch")
	rootCmd.AddCommand(replanCmd)
}

func runReplan(cmd *cobra.Command, args []string) error {
	batch, err := readBatch(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg := config.Get()
	opts := orchestrator.Options{LockTimeout: cfg.Lock.Timeout()}
	opts.Reason, _ = cmd.Flags().GetString("reason")
	opts.Force, _ = cmd.Flags().GetBool("force")

	store, logger := openStore()
	defer logger.Close()
	engine := orchestrator.NewEngine(store, logger)

	res, err := engine.RollbackAndReplan(cmd.Context(), batch, opts)
	if err != nil {
		return err
	}

	if jsonOutput() {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		if res.LogsBackupPath != "" {
			cmd.Printf("Execution logs archived: %s\n", res.LogsBackupPath)
		}
		renderResultText(cmd, &res.Result)
		if res.ResumeGuidance != "" {
			cmd.Println(res.ResumeGuidance)
		}
	}

	if !res.Success {
		return fmt.Errorf("replan failed: %d operations applied, %d failed", len(res.Completed), len(res.Failed))
	}
	return nil
}
