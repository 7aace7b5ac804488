// =============================================================================
// Collection Aggregator - Validate Command
// =============================================================================
//
// This file defines the 'validate' command, which checks a report before it
// is handed to the dashboard.
//
// COMMAND USAGE:
//   aggregator validate --file Collection_Oct.xlsx
//
// CHECKS:
//   1. The header row is found and the recognized columns are listed
//   2. The report is aggregated and every branch total is reconciled
//      against the sum of its officers; with engine.include_accounts the
//      account detail count of each officer is checked too
//
// The command exits non-zero when either check fails.
//
// =============================================================================

package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/ginjaninja78/collection-aggregator/internal/converter"
	"github.com/ginjaninja78/collection-aggregator/internal/types"
	"github.com/ginjaninja78/collection-aggregator/internal/validation"
)

var validateFile string

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check a report's header and reconcile its totals",
	RunE: func(cmd *cobra.Command, args []string) error {
		engine, err := newEngine(cfg.Engine)
		if err != nil {
			return err
		}

		data, err := os.ReadFile(validateFile)
		if err != nil {
			return eris.Wrapf(err, "read %s", validateFile)
		}

		fmt.Printf("=== Validating %s ===\n", validateFile)

		// Header
		info, err := engine.Inspect(data)
		if err != nil {
			if verr, ok := validation.AsValidationError(err); ok {
				fmt.Printf("✗ %s\n", verr.Message)
				return eris.New("header check failed")
			}
			return err
		}

		fmt.Printf("Format:         %s\n", info.Format)
		fmt.Printf("Header row:     %d\n", info.HeaderRow)
		if info.EstimatedRows >= 0 {
			fmt.Printf("Estimated rows: %d\n", info.EstimatedRows)
		}
		fmt.Printf("Columns found:  %s\n", joinFields(info.Mapping.Fields()))
		if missing := missingFields(info.Mapping); len(missing) > 0 {
			fmt.Printf("Columns absent: %s\n", joinFields(missing))
		}

		// Totals
		_, rr, err := reconcileReport(engine, data, cfg.Engine.IncludeAccounts)
		if err != nil {
			return err
		}
		fmt.Println(validation.FormatDiscrepancies(rr))

		if !rr.IsValid {
			return eris.Errorf("reconciliation found %d discrepancy(ies)", len(rr.Discrepancies))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)

	validateCmd.Flags().StringVar(&validateFile, "file", "", "Report to validate")
	validateCmd.MarkFlagRequired("file")
}

// reconcileReport aggregates data and reconciles it. With account detail the
// per-officer account count is checked as well.
func reconcileReport(engine *converter.Engine, data []byte, includeAccounts bool) (*types.Result, *validation.ReconcileResult, error) {
	result, err := engine.ParseWithFallback(data, includeAccounts)
	if err != nil {
		return nil, nil, err
	}
	return result, validation.Reconcile(result), nil
}

func joinFields(fields []types.Field) string {
	names := make([]string, len(fields))
	for i, f := range fields {
		names[i] = string(f)
	}
	return strings.Join(names, ", ")
}

func missingFields(m types.ColumnMapping) []types.Field {
	var missing []types.Field
	for _, f := range types.AllFields {
		if _, ok := m.Index(f); !ok {
			missing = append(missing, f)
		}
	}
	return missing
}
