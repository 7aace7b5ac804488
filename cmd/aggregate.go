// =============================================================================
// Collection Aggregator - Aggregate Command
// =============================================================================
//
// This file defines the 'aggregate' command, which rolls raw collection
// reports up into branch and officer totals.
//
// COMMAND USAGE:
//   aggregator aggregate [flags]
//
// FLAGS:
//   --file         Aggregate a single report instead of the input directory
//   --no-accounts  Omit per-account detail
//   --format       Output format: json (default) or xlsx
//   --output       Output path for --file ("-" writes JSON to stdout)
//   --dry-run      Aggregate but do not write outputs or archive inputs
//
// BATCH PIPELINE (no --file):
//   1. Discover .xlsx/.xlsm/.xls/.csv files in input_dir
//   2. Aggregate up to max_concurrency files at once
//   3. Write one output per input to output_dir, named by output_file_format
//   4. Move inputs to input_archive_dir when archive_inputs is set
//   5. Print a summary and write summary_<timestamp>.log to output_dir
//
// =============================================================================

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ginjaninja78/collection-aggregator/internal/config"
	"github.com/ginjaninja78/collection-aggregator/internal/converter"
	"github.com/ginjaninja78/collection-aggregator/internal/report"
	"github.com/ginjaninja78/collection-aggregator/pkg/utils"
)

// =============================================================================
// COMMAND FLAGS
// =============================================================================

var (
	aggFile       string
	aggNoAccounts bool
	aggFormat     string
	aggOutput     string
	aggDryRun     bool
)

var aggregateCmd = &cobra.Command{
	Use:   "aggregate",
	Short: "Aggregate collection reports into branch and officer totals",
	Long: `The aggregate command reads raw loan-collection reports and writes the
branch/officer aggregate used by the collections dashboard.

With --file, a single report is aggregated. Without it, every report in the
input directory is aggregated concurrently; a failure in one file does not
stop the others unless continue_on_error is false.

Large reports are aggregated without account detail automatically; the
output then carries "fallback": true and the reason.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		format, err := report.ParseFormat(aggFormat)
		if err != nil {
			return err
		}

		engine, err := newEngine(cfg.Engine)
		if err != nil {
			return err
		}
		includeAccounts := cfg.Engine.IncludeAccounts && !aggNoAccounts

		if aggFile != "" {
			return runAggregateFile(engine, aggFile, format, includeAccounts)
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		return runAggregateBatch(ctx, engine, format, includeAccounts)
	},
}

func init() {
	rootCmd.AddCommand(aggregateCmd)

	aggregateCmd.Flags().StringVar(&aggFile, "file", "", "Aggregate a single report")
	aggregateCmd.Flags().BoolVar(&aggNoAccounts, "no-accounts", false, "Omit per-account detail")
	aggregateCmd.Flags().StringVar(&aggFormat, "format", string(report.FormatJSON), "Output format (json or xlsx)")
	aggregateCmd.Flags().StringVar(&aggOutput, "output", "", `Output path for --file ("-" for stdout)`)
	aggregateCmd.Flags().BoolVar(&aggDryRun, "dry-run", false, "Aggregate without writing outputs or archiving inputs")
}

// newFileManager builds the batch file layout from the configuration.
func newFileManager(c *config.Config) *utils.FileManager {
	fm := utils.NewFileManager(c.InputDir, c.OutputDir, c.InputArchiveDir)
	fm.UseDateSubdirs = c.ArchiveDateSubdirs
	return fm
}

// =============================================================================
// SINGLE FILE
// =============================================================================

func runAggregateFile(engine *converter.Engine, path string, format report.Format, includeAccounts bool) error {
	fm := newFileManager(cfg)

	output := aggOutput
	if output == "" {
		output = fm.OutputPath(cfg.OutputFileFormat, path, format.Extension())
	}
	if aggDryRun {
		output = ""
	}

	info, err := aggregateOne(engine, path, output, format, includeAccounts)
	if err != nil {
		return err
	}

	if output != "-" {
		printProcessed(info)
	}
	return nil
}

// =============================================================================
// BATCH
// =============================================================================

func runAggregateBatch(ctx context.Context, engine *converter.Engine, format report.Format, includeAccounts bool) error {
	fm := newFileManager(cfg)
	if err := fm.EnsureDirectories(); err != nil {
		return err
	}

	files, err := fm.DiscoverInputFiles()
	if err != nil {
		return err
	}
	if len(files) == 0 {
		fmt.Printf("No reports found in %s\n", cfg.InputDir)
		return nil
	}

	fmt.Println("=== Collection Aggregator ===")
	fmt.Printf("Found %d report(s) in %s\n", len(files), cfg.InputDir)
	zap.L().Info("batch started",
		zap.Int("files", len(files)),
		zap.Int("concurrency", cfg.MaxConcurrency),
		zap.Bool("dry_run", aggDryRun),
	)

	summary := &utils.ProcessingSummary{StartTime: time.Now(), DryRun: aggDryRun}
	var mu sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(cfg.MaxConcurrency)

	for _, file := range files {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			output := ""
			if !aggDryRun {
				output = fm.OutputPath(cfg.OutputFileFormat, file, format.Extension())
			}

			info, err := aggregateOne(engine, file, output, format, includeAccounts)
			if err == nil && cfg.ArchiveInputs && !aggDryRun {
				info.ArchivePath, err = fm.ArchiveInputFile(file)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				zap.L().Error("aggregation failed", zap.String("file", file), zap.Error(err))
				summary.FailedFiles = append(summary.FailedFiles, utils.FailedFileInfo{
					InputFile:    file,
					ErrorMessage: err.Error(),
				})
				fmt.Printf("  ✗ %s: %v\n", filepath.Base(file), err)
				if !cfg.ContinueOnError {
					return eris.Wrapf(err, "aggregate %s", filepath.Base(file))
				}
				return nil
			}
			summary.ProcessedFiles = append(summary.ProcessedFiles, *info)
			fmt.Printf("  ✓ %s -> %s\n", filepath.Base(file), displayOutput(info.OutputFile))
			return nil
		})
	}
	runErr := g.Wait()

	summary.EndTime = time.Now()
	fmt.Println("\n=== Aggregation Complete ===")
	fmt.Printf("Total files:     %d\n", summary.TotalFiles())
	fmt.Printf("Successful:      %d\n", len(summary.ProcessedFiles))
	fmt.Printf("Failed:          %d\n", len(summary.FailedFiles))
	fmt.Printf("Rows aggregated: %d\n", summary.TotalRows())
	fmt.Printf("Time elapsed:    %s\n", summary.EndTime.Sub(summary.StartTime))

	logPath, err := fm.WriteSummaryLog(summary)
	if err != nil {
		zap.L().Warn("failed to write summary log", zap.Error(err))
	} else {
		fmt.Printf("Summary written to %s\n", logPath)
	}

	return runErr
}

// =============================================================================
// HELPERS
// =============================================================================

// aggregateOne reads and aggregates one report. An empty output skips
// writing; "-" writes JSON to stdout.
func aggregateOne(engine *converter.Engine, path, output string, format report.Format, includeAccounts bool) (*utils.ProcessedFileInfo, error) {
	start := time.Now()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}

	result, err := engine.ParseWithFallback(data, includeAccounts)
	if err != nil {
		return nil, err
	}

	switch output {
	case "":
	case "-":
		if err := report.WriteJSON(os.Stdout, result, true); err != nil {
			return nil, err
		}
	default:
		if err := report.WriteFile(output, result, format); err != nil {
			return nil, err
		}
	}

	return &utils.ProcessedFileInfo{
		InputFile:      path,
		OutputFile:     output,
		Rows:           result.Meta.TotalRows,
		Branches:       result.Meta.TotalBranches,
		Officers:       result.Meta.TotalOfficers,
		Fallback:       result.Meta.Fallback,
		FallbackReason: result.Meta.FallbackReason,
		ProcessTime:    time.Since(start),
	}, nil
}

func displayOutput(output string) string {
	if output == "" {
		return "(dry run)"
	}
	return output
}

func printProcessed(info *utils.ProcessedFileInfo) {
	fmt.Printf("Report:    %s\n", info.InputFile)
	fmt.Printf("Output:    %s\n", displayOutput(info.OutputFile))
	fmt.Printf("Rows:      %d\n", info.Rows)
	fmt.Printf("Branches:  %d\n", info.Branches)
	fmt.Printf("Officers:  %d\n", info.Officers)
	if info.Fallback {
		fmt.Printf("Detail:    omitted (%s)\n", info.FallbackReason)
	}
	fmt.Printf("Time:      %s\n", info.ProcessTime)
}
