package cmd

import (
	"fmt"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/plan"
	"github.com/spf13/cobra"
)

var backupsCmd = &cobra.Command{
	Use:   "backups",
	Short: "Manage plan backups",
	Long: `List or prune the directory snapshots taken before mutating batches.
Backups are never pruned automatically; old ones stay on disk until
this command removes them.`,
}

var backupsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List backups, newest first",
	RunE:  runBackupsList,
}

var backupsPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete all but the most recent backups",
	RunE:  runBackupsPrune,
}

func init() {
	backupsPruneCmd.Flags().Int("keep", 0, "number of backups to keep (default from config)")
	backupsCmd.AddCommand(backupsListCmd)
	backupsCmd.AddCommand(backupsPruneCmd)
	rootCmd.AddCommand(backupsCmd)
}

func runBackupsList(cmd *cobra.Command, args []string) error {
	backups, err := plan.ListBackups(planDir())
	if err != nil {
		return fmt.Errorf("failed to list backups: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, backups)
	}

	if len(backups) == 0 {
		cmd.Println("No backups.")
		return nil
	}

	for _, b := range backups {
		cmd.Printf("%s  %s  %d files\n",
			b.Manifest.CreatedAt.Format("2006-01-02 15:04:05"), b.Path, len(b.Manifest.Files))
	}
	return nil
}

func runBackupsPrune(cmd *cobra.Command, args []string) error {
	keep, _ := cmd.Flags().GetInt("keep")
	if !cmd.Flags().Changed("keep") {
		keep = config.Get().Backup.Keep
	}
	if keep <= 0 {
		return fmt.Errorf("refusing to prune: --keep must be positive (got %d)", keep)
	}

	removed, err := plan.PruneBackups(planDir(), keep)
	if err != nil {
		return fmt.Errorf("failed to prune backups: %w", err)
	}

	cmd.Printf("Removed %d backups, kept the %d most recent.\n", removed, keep)
	return nil
}
