package cmd

import (
	"fmt"

	"github.com/planforge/planforge/internal/errors"
	"github.com/planforge/planforge/internal/integrity"
	"github.com/planforge/planforge/internal/schema"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the plan documents",
	Long: `Run schema and referential-integrity validation over the plan
documents without modifying anything. Warnings (orphaned phase files,
name mismatches) do not fail validation; errors do.`,
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// validationReport is the JSON shape of a validate run
type validationReport struct {
	Valid    bool                      `json:"valid"`
	Errors   []*errors.ValidationError `json:"errors,omitempty"`
	Warnings []*errors.ValidationError `json:"warnings,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	store, logger := openStore()
	defer logger.Close()

	p, err := store.Load(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to load plan: %w", err)
	}

	report := validationReport{Valid: true}

	if res := schema.ValidatePlanDocuments(p); !res.Valid {
		report.Errors = append(report.Errors, res.Errors...)
	}

	res := integrity.Validate(p)
	report.Errors = append(report.Errors, res.Errors...)
	report.Warnings = append(report.Warnings, res.Warnings...)
	report.Valid = len(report.Errors) == 0

	if jsonOutput() {
		if err := printJSON(cmd, report); err != nil {
			return err
		}
	} else {
		for _, e := range report.Errors {
			cmd.Printf("error   %s: [%s] %s\n", e.Path, e.Code, e.Message)
		}
		for _, w := range report.Warnings {
			cmd.Printf("warning %s: [%s] %s\n", w.Path, w.Code, w.Message)
		}
		if report.Valid {
			cmd.Printf("Plan is valid (%d warnings)\n", len(report.Warnings))
		} else {
			cmd.Printf("Plan is invalid: %d errors, %d warnings\n", len(report.Errors), len(report.Warnings))
		}
	}

	if !report.Valid {
		return fmt.Errorf("validation failed with %d errors", len(report.Errors))
	}
	return nil
}
