// Package commands implements the resultsctl command line.
package commands

import (
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/weldmaster/resultstore/internal/config"
	"github.com/weldmaster/resultstore/pkg/utils"
)

var (
	// Version information injected at build time.
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"

	// Global flags.
	cfgFile    string
	resultsDir string
	logLevel   string
)

var rootCmd = &cobra.Command{
	Use:   "resultsctl",
	Short: "Inspect and operate the weld inspection results store",
	Long: `resultsctl operates the results store that keeps the measurements of
inspected products on disk.

It lists and prunes the results cache, reports the disk usage the store
admits new products against, prints the records of a stored product
instance and can feed simulated inspections through the store.

Use "resultsctl [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// GetRootCmd returns the root command for testing purposes.
func GetRootCmd() *cobra.Command {
	return rootCmd
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML)")
	rootCmd.PersistentFlags().StringVar(&resultsDir, "results-dir", "", "results directory (overrides the config file)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (DEBUG, INFO, WARN, ERROR)")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(usageCmd)
	rootCmd.AddCommand(inspectCmd)
	rootCmd.AddCommand(simulateCmd)
	rootCmd.AddCommand(serveMetricsCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "resultsctl %s (commit: %s, built: %s)\n", Version, Commit, Date)
	},
}

// loadConfig builds the configuration from defaults, the config file, the
// environment and the global flags, in that order.
func loadConfig() (*config.Configuration, error) {
	cfg := config.NewDefault()
	if cfgFile != "" {
		if err := cfg.LoadFromFile(cfgFile); err != nil {
			return nil, err
		}
	}
	if err := cfg.LoadFromEnv(); err != nil {
		return nil, err
	}
	if resultsDir != "" {
		cfg.Storage.ResultsDirectory = resultsDir
	}
	if logLevel != "" {
		cfg.Global.LogLevel = logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func requireResultsDir(cfg *config.Configuration) (string, error) {
	if cfg.Storage.ResultsDirectory == "" {
		return "", fmt.Errorf("no results directory configured (use --results-dir or storage.results_directory)")
	}
	return filepath.Abs(cfg.Storage.ResultsDirectory)
}

// newLogger creates the logger described by the global section. Command
// output goes to stdout, logs go to stderr unless a log file is set.
func newLogger(cfg *config.Configuration, stderr io.Writer) (*utils.StructuredLogger, error) {
	level, err := utils.ParseLogLevel(cfg.Global.LogLevel)
	if err != nil {
		return nil, err
	}
	format, err := utils.ParseLogFormat(cfg.Global.LogFormat)
	if err != nil {
		return nil, err
	}
	return utils.NewStructuredLogger(&utils.StructuredLoggerConfig{
		Level:    level,
		Output:   stderr,
		Format:   format,
		Filename: cfg.Global.LogFile,
	})
}
