// =============================================================================
// Collection Aggregator - Root Command
// =============================================================================
//
// This file defines the root command for the Cobra CLI. All other commands
// are attached to it.
//
// COBRA CLI STRUCTURE:
//   rootCmd (aggregator)
//   ├── aggregateCmd (aggregator aggregate)
//   ├── validateCmd  (aggregator validate)
//   ├── serveCmd     (aggregator serve)
//   └── versionCmd   (aggregator version)
//
// Before any subcommand runs, the root command loads the configuration and
// installs the global zap logger.
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/ginjaninja78/collection-aggregator/internal/config"
	"github.com/ginjaninja78/collection-aggregator/internal/converter"
	"github.com/ginjaninja78/collection-aggregator/internal/csvparser"
)

// =============================================================================
// GLOBAL VARIABLES
// =============================================================================

// cfgFile is the --config flag. Empty means config.yaml in the working
// directory, if present.
var cfgFile string

// verbose forces debug logging.
var verbose bool

// cfg is loaded by PersistentPreRunE.
var cfg *config.Config

// =============================================================================
// ROOT COMMAND DEFINITION
// =============================================================================

var rootCmd = &cobra.Command{
	Use:   "aggregator",
	Short: "Collection Aggregator - Roll up loan collection reports by branch and officer",
	Long: `Collection Aggregator reads raw loan-collection reports (.xlsx, .xls or .csv)
exported from the core banking system and rolls them up into branch and
officer totals with days-past-due bucket counts, for the collections
dashboard.

Example Usage:
  aggregator aggregate --file Collection_Oct.xlsx   # Aggregate one report
  aggregator aggregate                              # Aggregate the input directory
  aggregator validate --file Collection_Oct.xlsx    # Check a report's header and totals
  aggregator serve                                  # Start the upload API`,

	SilenceUsage: true,

	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load(cfgFile)
		if err != nil {
			return eris.Wrap(err, "load config")
		}
		if verbose {
			c.Log.Level = "debug"
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return eris.Wrap(err, "init logger")
		}
		return nil
	},

	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},

	Run: func(cmd *cobra.Command, args []string) {
		cmd.Help()
	},
}

// =============================================================================
// EXECUTE FUNCTION
// =============================================================================

// Execute runs the CLI. It is called by main.main().
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"Path to the configuration file (default is ./config.yaml if present)",
	)
	rootCmd.PersistentFlags().BoolVarP(
		&verbose,
		"verbose",
		"v",
		false,
		"Enable debug logging",
	)
}

// =============================================================================
// ENGINE CONSTRUCTION
// =============================================================================

// newEngine builds the aggregation engine from the engine configuration,
// merging the alias file over the built-in header aliases.
func newEngine(ec config.EngineConfig) (*converter.Engine, error) {
	aliases := converter.DefaultAliases
	if ec.AliasesFile != "" {
		extra, err := config.LoadAliasFile(ec.AliasesFile)
		if err != nil {
			return nil, err
		}
		aliases = aliases.Merge(extra)
	}

	opts := converter.Options{
		HeaderScanRows:      ec.HeaderScanRows,
		MinHeaderMatches:    ec.MinHeaderMatches,
		DegradeRowThreshold: ec.DegradeRowThreshold,
		MaxDetailRows:       ec.MaxDetailRows,
		MaxHeapMB:           ec.MaxHeapMB,
		Aliases:             aliases,
		CSV: csvparser.Settings{
			Delimiter: ec.CSVDelimiter,
			Encoding:  ec.CSVEncoding,
		},
	}
	return converter.New(opts, zap.L().Named("engine")), nil
}
