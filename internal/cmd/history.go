package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Show the plan's replan history",
	Long: `List execution-history entries in chronological order. Each entry
records one rollback-replan event: when it happened, why, and what had
been completed before the reset.`,
	RunE: runHistory,
}

func init() {
	rootCmd.AddCommand(historyCmd)
}

func runHistory(cmd *cobra.Command, args []string) error {
	store, logger := openStore()
	defer logger.Close()

	orch, err := store.LoadOrchestration(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, orch.ExecutionHistory)
	}

	if len(orch.ExecutionHistory) == 0 {
		cmd.Println("No replan history.")
		return nil
	}

	for i, entry := range orch.ExecutionHistory {
		cmd.Printf("[%d] %s  %s\n", i+1, entry.Timestamp.Format("2006-01-02 15:04:05"), entry.Reason)
		cmd.Printf("    Completed before reset: %d/%d tasks, %d/%d phases\n",
			entry.Progress.CompletedTasks, entry.Progress.TotalTasks,
			entry.Progress.CompletedPhases, entry.Progress.TotalPhases)
		if entry.LogsBackupPath != "" {
			cmd.Printf("    Logs: %s\n", entry.LogsBackupPath)
		}
	}

	return nil
}
