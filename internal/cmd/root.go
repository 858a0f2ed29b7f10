package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/planforge/planforge/internal/config"
	"github.com/planforge/planforge/internal/logging"
	"github.com/planforge/planforge/internal/plan"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var rootCmd = &cobra.Command{
	Use:   "planforge",
	Short: "Execution-aware plan document store",
	Long: `Planforge maintains a structured, multi-file plan on disk and applies
batches of edits to it atomically. Every batch is validated against the
plan's schema, referential integrity, and the current execution state
before anything is written, and a failed batch restores the plan from
a verified backup.`,
	SilenceUsage: true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringP("config", "c", "", "config file (default is $HOME/.config/planforge/config.yaml)")
	rootCmd.PersistentFlags().StringP("dir", "d", "", "plan directory (default \".plan\")")
	rootCmd.PersistentFlags().Bool("json", false, "render output as JSON")
	_ = viper.BindPFlag("config", rootCmd.PersistentFlags().Lookup("config"))
	_ = viper.BindPFlag("plan.dir", rootCmd.PersistentFlags().Lookup("dir"))
	_ = viper.BindPFlag("output.json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	// Set defaults first so they're available even without a config file
	config.SetDefaults()

	if cfgFile := viper.GetString("config"); cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.SetConfigName("config")
		viper.SetConfigType("yaml")
		viper.AddConfigPath(config.ConfigDir())
		viper.AddConfigPath("$HOME/.config/planforge")
		viper.AddConfigPath(".")
	}

	viper.AutomaticEnv()
	viper.SetEnvPrefix("PLANFORGE")
	// Replace dots with underscores for nested keys in env vars
	// e.g., PLANFORGE_LOCK_TIMEOUT_MS for lock.timeout_ms
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Read config file if it exists (ignore error if not found)
	_ = viper.ReadInConfig()
}

// planDir resolves the plan directory from the flag, environment, or config
func planDir() string {
	if dir := viper.GetString("plan.dir"); dir != "" {
		return dir
	}
	return config.Default().Plan.Dir
}

// jsonOutput reports whether --json was requested
func jsonOutput() bool {
	return viper.GetBool("output.json")
}

// openStore builds a store and logger for the configured plan directory.
// The logger writes to .logs/debug.log inside the plan directory when
// logging is enabled and the directory exists.
func openStore() (*plan.Store, *logging.Logger) {
	cfg := config.Get()
	dir := planDir()

	logger := logging.NopLogger()
	if cfg.Logging.Enabled && plan.DirExists(dir) {
		if l, err := logging.NewLogger(dir, cfg.Logging.Level); err == nil {
			logger = l
		}
	}

	return plan.NewStore(dir, logger), logger
}

// printJSON writes v to the command's stdout as indented JSON
func printJSON(cmd *cobra.Command, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode output: %w", err)
	}
	cmd.Println(string(data))
	return nil
}
