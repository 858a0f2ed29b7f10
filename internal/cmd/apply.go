package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/orchestrator"
	"github.com/planforge/planforge/internal/plan"
	"github.com/spf13/cobra"
)

var applyCmd = &cobra.Command{
	Use:   "apply [batch-file]",
	Short: "Apply a batch of operations to the plan",
	Long: `Apply a JSON batch of operations atomically. The batch is read from
the given file, or from stdin when no file (or "-") is given.

A batch is either a JSON array of operations or an object with an
"operations" array. Each operation carries a type (add, update, delete,
move, reorder), a target (phase, task, metadata), and a payload.

The whole batch is validated before anything is written. On a mid-batch
failure the plan is restored from the pre-batch backup unless
--continue-on-error is set. Use --selective on an executing plan to
screen the batch against execution state first.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().Bool("force", false, "override completed-entity protection")
	applyCmd.Flags().Bool("continue-on-error", false, "keep applying after a failed operation")
	applyCmd.Flags().Bool("dry-run", false, "simulate the batch without writing")
	applyCmd.Flags().Bool("selective", false, "screen operations against execution state")
	applyCmd.Flags().Bool("skip-blocked", false, "with --selective, apply the allowed subset")
	rootCmd.AddCommand(applyCmd)
}

// batchEnvelope is the object form of a batch file
type batchEnvelope struct {
	Operations []plan.Operation `json:"operations"`
}

// readBatch parses a batch from a file or stdin. Both a bare JSON array
// and an {"operations": [...]} envelope are accepted.
func readBatch(args []string, stdin io.Reader) ([]plan.Operation, error) {
	var data []byte
	var err error

	if len(args) == 1 && args[0] != "-" {
		data, err = os.ReadFile(args[0])
		if err != nil {
			return nil, fmt.Errorf("failed to read batch file: %w", err)
		}
	} else {
		data, err = io.ReadAll(stdin)
		if err != nil {
			return nil, fmt.Errorf("failed to read batch from stdin: %w", err)
		}
	}

	var batch []plan.Operation
	if err := json.Unmarshal(data, &batch); err == nil {
		return batch, nil
	}

	var env batchEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("failed to parse batch: %w", err)
	}
	return env.Operations, nil
}

func runApply(cmd *cobra.Command, args []string) error {
	batch, err := readBatch(args, cmd.InOrStdin())
	if err != nil {
		return err
	}

	cfg := config.Get()
	opts := orchestrator.Options{LockTimeout: cfg.Lock.Timeout()}
	opts.Force, _ = cmd.Flags().GetBool("force")
	opts.DryRun, _ = cmd.Flags().GetBool("dry-run")
	if set, _ := cmd.Flags().GetBool("continue-on-error"); set {
		opts.ContinueOnError = true
	} else {
		opts.ContinueOnError = cfg.Apply.ContinueOnError
	}
	if set, _ := cmd.Flags().GetBool("skip-blocked"); set {
		opts.SkipBlocked = true
	} else {
		opts.SkipBlocked = cfg.Apply.SkipBlocked
	}

	store, logger := openStore()
	defer logger.Close()
	engine := orchestrator.NewEngine(store, logger)

	selective, _ := cmd.Flags().GetBool("selective")
	if selective {
		res, err := engine.SelectiveUpdate(cmd.Context(), batch, opts)
		if err != nil {
			return err
		}
		return renderSelective(cmd, res)
	}

	res, err := engine.ApplyBatch(cmd.Context(), batch, opts)
	if err != nil {
		return err
	}
	return renderResult(cmd, res)
}

// renderResult prints a batch result and returns a non-nil error when the
// batch did not fully succeed, so the process exit code reflects it
func renderResult(cmd *cobra.Command, res *orchestrator.Result) error {
	if jsonOutput() {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
	} else {
		renderResultText(cmd, res)
	}

	if !res.Success {
		return fmt.Errorf("batch failed: %d operations applied, %d failed", len(res.Completed), len(res.Failed))
	}
	return nil
}

func renderResultText(cmd *cobra.Command, res *orchestrator.Result) {
	if res.DryRun {
		cmd.Println("Dry run: no changes were written.")
	}
	for _, v := range res.ValidationErrors {
		cmd.Printf("error   %s: [%s] %s\n", v.Path, v.Code, v.Message)
	}
	for _, w := range res.Warnings {
		cmd.Printf("warning %s\n", w)
	}
	for _, out := range res.Completed {
		cmd.Printf("applied %s\n", out.Operation.String())
	}
	for _, out := range res.Failed {
		msg := ""
		if out.Result != nil && out.Result.Err != "" {
			msg = ": " + out.Result.Err
		}
		cmd.Printf("failed  %s%s\n", out.Operation.String(), msg)
	}
	if res.BackupPath != "" {
		cmd.Printf("Backup: %s\n", res.BackupPath)
	}
	if res.Rollback != nil && res.Rollback.Attempted {
		if res.Rollback.Restored {
			cmd.Println("Plan restored from backup.")
		} else {
			cmd.Printf("Restore failed: %s\n", res.Rollback.Error)
			cmd.Println("Manual recovery required; the backup directory is intact.")
		}
	}
	if res.Message != "" {
		cmd.Println(res.Message)
	}
}

func renderSelective(cmd *cobra.Command, res *orchestrator.SelectiveResult) error {
	if jsonOutput() {
		if err := printJSON(cmd, res); err != nil {
			return err
		}
		if !res.Success {
			return fmt.Errorf("selective batch failed")
		}
		return nil
	}

	for _, b := range res.Blocked {
		cmd.Printf("blocked %s: [%s] %s\n", b.Operation.String(), b.Code, b.Reason)
	}
	renderResultText(cmd, &res.Result)
	if !res.Success {
		return fmt.Errorf("selective batch failed: %d operations blocked", len(res.Blocked))
	}
	return nil
}
