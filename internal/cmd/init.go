package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/planforge/planforge/internal/scaffold"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var initCmd = &cobra.Command{
	Use:   "init <plan-id>",
	Short: "Create a new plan directory",
	Long: `Create a new plan directory scaffolded from a template.
Without --template the builtin starter template is used. The template
is validated for referential integrity before anything is written.`,
	Args: cobra.ExactArgs(1),
	RunE: runInit,
}

func init() {
	initCmd.Flags().StringP("template", "t", "", "YAML plan template file")
	initCmd.Flags().String("name", "", "plan name (default: template name)")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	planID := args[0]

	templatePath, _ := cmd.Flags().GetString("template")
	if templatePath == "" {
		templatePath = viper.GetString("plan.template")
	}

	tmpl := scaffold.Default()
	if templatePath != "" {
		data, err := os.ReadFile(templatePath)
		if err != nil {
			return fmt.Errorf("failed to read template: %w", err)
		}
		tmpl, err = scaffold.Parse(data)
		if err != nil {
			return fmt.Errorf("invalid template: %w", err)
		}
	}

	if name, _ := cmd.Flags().GetString("name"); name != "" {
		tmpl.Name = name
	}

	store, logger := openStore()
	defer logger.Close()

	p, err := scaffold.Scaffold(cmd.Context(), store, tmpl, planID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to create plan: %w", err)
	}

	if jsonOutput() {
		return printJSON(cmd, p.Orchestration)
	}

	cmd.Printf("Created plan %q in %s\n", planID, store.Dir())
	cmd.Printf("Phases: %d, Tasks: %d\n", len(p.Orchestration.Phases), len(p.TaskIDSet()))
	return nil
}
