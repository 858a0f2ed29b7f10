package cmd

import (
	"fmt"

	"github.com/planforge/planforge/internal/plan"
	"github.com/spf13/cobra"
)

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "Inspect and clean plan locks",
}

var locksShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current lock holder, if any",
	RunE:  runLocksShow,
}

var locksCleanCmd = &cobra.Command{
	Use:   "clean",
	Short: "Remove a stale lock left by a dead process",
	Long: `Remove the plan lock if its owning process is no longer alive.
A lock held by a live process is never removed.`,
	RunE: runLocksClean,
}

func init() {
	locksCmd.AddCommand(locksShowCmd)
	locksCmd.AddCommand(locksCleanCmd)
	rootCmd.AddCommand(locksCmd)
}

func runLocksShow(cmd *cobra.Command, args []string) error {
	lock, locked := plan.IsLocked(planDir())
	if !locked {
		cmd.Println("Plan is not locked.")
		return nil
	}

	if jsonOutput() {
		return printJSON(cmd, lock)
	}

	cmd.Printf("Locked by pid %d on %s since %s (holder %s)\n",
		lock.PID, lock.Hostname, lock.AcquiredAt.Format("2006-01-02 15:04:05"), lock.HolderID)
	return nil
}

func runLocksClean(cmd *cobra.Command, args []string) error {
	_, logger := openStore()
	defer logger.Close()

	cleaned, err := plan.CleanStaleLock(planDir(), logger)
	if err != nil {
		return fmt.Errorf("failed to clean lock: %w", err)
	}

	if cleaned {
		cmd.Println("Removed stale lock.")
	} else {
		cmd.Println("No stale lock to clean.")
	}
	return nil
}
