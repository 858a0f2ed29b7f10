package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/gobwas/glob"
	"github.com/planforge/planforge/internal/execstate"
	"github.com/planforge/planforge/internal/plan"
	"github.com/planforge/planforge/internal/util"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show plan and execution status",
	Long: `Display the plan's phases and tasks together with their effective
execution status. When no plan directory is found, nearby plan
directories are listed instead.`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().String("filter", "", "glob pattern matching phase or task ids")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	store, logger := openStore()
	defer logger.Close()

	if !store.Exists() {
		return listNearbyPlans(cmd)
	}

	p, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	pattern, _ := cmd.Flags().GetString("filter")
	var filter glob.Glob
	if pattern != "" {
		filter, err = glob.Compile(pattern)
		if err != nil {
			return fmt.Errorf("invalid filter pattern: %w", err)
		}
	}

	if jsonOutput() {
		return printJSON(cmd, execstate.Summarize(p, time.Now()))
	}

	meta := p.Orchestration.Metadata
	prog := p.Orchestration.Progress
	cmd.Printf("Plan: %s (%s)\n", meta.Name, meta.PlanID)
	cmd.Printf("Status: %s  Phases: %d/%d  Tasks: %d/%d\n",
		meta.Status, prog.CompletedPhases, prog.TotalPhases, prog.CompletedTasks, prog.TotalTasks)

	analysis := execstate.Analyze(p)
	if analysis.HasStarted {
		cmd.Printf("Execution: started")
		if analysis.CurrentPhase != "" {
			cmd.Printf(", current phase %s", analysis.CurrentPhase)
		}
		cmd.Println()
	}
	cmd.Println()

	for _, ref := range p.Orchestration.Phases {
		phaseStatus := execstate.PhaseStatus(p, ref.ID)
		if filter == nil || filter.Match(ref.ID) {
			cmd.Printf("[%s] %s (%s)\n", phaseStatus, ref.ID, ref.Name)
		}
		pf, ok := p.PhaseFiles[ref.ID]
		if !ok {
			continue
		}
		for _, task := range pf.Tasks {
			if filter != nil && !filter.Match(task.TaskID) {
				continue
			}
			cmd.Printf("    [%s] %s: %s\n", execstate.TaskStatus(p, task.TaskID), task.TaskID,
				util.TruncateString(task.Description, 72))
		}
	}

	return nil
}

// listNearbyPlans reports plan directories under the working directory
// when the configured one does not exist
func listNearbyPlans(cmd *cobra.Command) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get current directory: %w", err)
	}

	plans, err := plan.FindPlans(cwd)
	if err != nil || len(plans) == 0 {
		cmd.Printf("No plan found in %s\n", planDir())
		cmd.Println("Run 'planforge init <plan-id>' to create one.")
		return nil
	}

	cmd.Printf("No plan found in %s. Nearby plan directories:\n", planDir())
	for _, dir := range plans {
		cmd.Printf("  %s\n", dir)
	}
	return nil
}
