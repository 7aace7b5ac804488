// =============================================================================
// Collection Aggregator - Validation
// =============================================================================
//
// This package holds the two kinds of validation the aggregator performs:
//
//   1. Input validation: ValidationError is returned by the engine when a
//      workbook cannot be understood (no header row, no branch column). Its
//      message is shown to the end user as-is.
//   2. Output validation: Reconcile re-derives every invariant of a Result
//      (branch totals equal the sum of their officers, row counts, derived
//      percentages) and reports each mismatch as a Discrepancy.
//
// =============================================================================

package validation

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// =============================================================================
// INPUT VALIDATION ERRORS
// =============================================================================

// ValidationError reports input that the engine cannot aggregate.
type ValidationError struct {
	// Message is human readable and safe to return to the uploader.
	Message string

	// Found lists the canonical fields that were recognized before the
	// failure, to help diagnose a mislabeled header.
	Found []types.Field

	// Cause is the underlying reader error, if any. It is logged, never
	// shown to the uploader.
	Cause error
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	return e.Message
}

// Unwrap returns the underlying cause.
func (e *ValidationError) Unwrap() error {
	return e.Cause
}

// NewHeaderError builds the error returned when no usable header row exists.
func NewHeaderError(found []types.Field) *ValidationError {
	names := make([]string, len(found))
	for i, f := range found {
		names[i] = string(f)
	}
	return &ValidationError{
		Message: "Could not find expected columns in the raw data file. " +
			"Expected at least: BranchName, Officer Name. " +
			"Found: " + strings.Join(names, ", "),
		Found: found,
	}
}

// Errorf builds a ValidationError with a formatted message.
func Errorf(format string, args ...any) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// AsValidationError unwraps err to a *ValidationError if there is one in its chain.
func AsValidationError(err error) (*ValidationError, bool) {
	var ve *ValidationError
	if errors.As(err, &ve) {
		return ve, true
	}
	return nil, false
}

// =============================================================================
// RECONCILIATION
// =============================================================================

// Discrepancy is one broken invariant in a Result.
type Discrepancy struct {
	// Rule names the invariant, e.g. "branch_accounts" or "collection_pct".
	Rule string

	// Branch and Officer locate the node; either may be empty.
	Branch  string
	Officer string

	Expected string
	Actual   string
}

// String formats the discrepancy for logs and CLI output.
func (d *Discrepancy) String() string {
	loc := "result"
	switch {
	case d.Officer != "":
		loc = fmt.Sprintf("branch %q officer %q", d.Branch, d.Officer)
	case d.Branch != "":
		loc = fmt.Sprintf("branch %q", d.Branch)
	}
	return fmt.Sprintf("%s: %s expected %s, got %s", loc, d.Rule, d.Expected, d.Actual)
}

// ReconcileResult summarizes a reconciliation pass.
type ReconcileResult struct {
	// IsValid is true when no discrepancies were found.
	IsValid bool

	Discrepancies []*Discrepancy

	BranchesChecked int
	OfficersChecked int
}

// Reconcile checks every invariant of an aggregate:
//   - branch totals equal the exact sum of their officers' totals,
//     field by field and bucket by bucket;
//   - meta.total_rows equals the sum of branch account counts;
//   - meta.total_branches and meta.total_officers match the tree;
//   - every collection_pct equals the value derived from its sums;
//   - when account detail is present, its length equals the account count.
func Reconcile(result *types.Result) *ReconcileResult {
	rr := &ReconcileResult{}

	names := make([]string, 0, len(result.Branches))
	for name := range result.Branches {
		names = append(names, name)
	}
	sort.Strings(names)

	rowSum := 0
	officerCount := 0

	for _, branchName := range names {
		branch := result.Branches[branchName]
		rr.BranchesChecked++
		rowSum += branch.Totals.Accounts

		var sum types.Totals
		for officerName, officer := range branch.Officers {
			rr.OfficersChecked++
			officerCount++

			addTotals(&sum, officer.Totals)
			rr.checkPct(branchName, officerName, officer.Totals)

			if officer.Accounts != nil && len(officer.Accounts) != officer.Totals.Accounts {
				rr.add(&Discrepancy{
					Rule:     "account_detail_count",
					Branch:   branchName,
					Officer:  officerName,
					Expected: fmt.Sprint(officer.Totals.Accounts),
					Actual:   fmt.Sprint(len(officer.Accounts)),
				})
			}
		}

		rr.compareTotals(branchName, branch.Totals, sum)
		rr.checkPct(branchName, "", branch.Totals)
	}

	rr.compareInt("", "total_rows", rowSum, result.Meta.TotalRows)
	rr.compareInt("", "total_branches", len(result.Branches), result.Meta.TotalBranches)
	rr.compareInt("", "total_officers", officerCount, result.Meta.TotalOfficers)

	rr.IsValid = len(rr.Discrepancies) == 0
	return rr
}

func addTotals(dst *types.Totals, src types.Totals) {
	dst.Accounts += src.Accounts
	dst.RegularDemand = dst.RegularDemand.Add(src.RegularDemand)
	dst.CumulativeDemand = dst.CumulativeDemand.Add(src.CumulativeDemand)
	dst.Collection = dst.Collection.Add(src.Collection)
	dst.DPDBreakdown.Days0 += src.DPDBreakdown.Days0
	dst.DPDBreakdown.Days1To30 += src.DPDBreakdown.Days1To30
	dst.DPDBreakdown.Days31To60 += src.DPDBreakdown.Days31To60
	dst.DPDBreakdown.Days61To90 += src.DPDBreakdown.Days61To90
	dst.DPDBreakdown.Days90Plus += src.DPDBreakdown.Days90Plus
}

func (rr *ReconcileResult) compareTotals(branch string, got, officerSum types.Totals) {
	rr.compareInt(branch, "branch_accounts", officerSum.Accounts, got.Accounts)
	rr.compareDecimal(branch, "branch_regular_demand", officerSum.RegularDemand, got.RegularDemand)
	rr.compareDecimal(branch, "branch_cumulative_demand", officerSum.CumulativeDemand, got.CumulativeDemand)
	rr.compareDecimal(branch, "branch_collection", officerSum.Collection, got.Collection)
	for _, b := range types.Buckets {
		rr.compareInt(branch, "branch_dpd_"+string(b), officerSum.DPDBreakdown.Count(b), got.DPDBreakdown.Count(b))
	}
}

func (rr *ReconcileResult) checkPct(branch, officer string, t types.Totals) {
	want := types.DerivePct(t.Collection, t.RegularDemand)
	if want != t.CollectionPct {
		rr.add(&Discrepancy{
			Rule:     "collection_pct",
			Branch:   branch,
			Officer:  officer,
			Expected: fmt.Sprint(want),
			Actual:   fmt.Sprint(t.CollectionPct),
		})
	}
}

func (rr *ReconcileResult) compareInt(branch, rule string, want, got int) {
	if want != got {
		rr.add(&Discrepancy{Rule: rule, Branch: branch, Expected: fmt.Sprint(want), Actual: fmt.Sprint(got)})
	}
}

func (rr *ReconcileResult) compareDecimal(branch, rule string, want, got decimal.Decimal) {
	if !want.Equal(got) {
		rr.add(&Discrepancy{Rule: rule, Branch: branch, Expected: want.String(), Actual: got.String()})
	}
}

func (rr *ReconcileResult) add(d *Discrepancy) {
	rr.Discrepancies = append(rr.Discrepancies, d)
}

// =============================================================================
// FORMATTING
// =============================================================================

// FormatDiscrepancies formats a reconciliation result for display or logging.
func FormatDiscrepancies(rr *ReconcileResult) string {
	if rr.IsValid {
		return fmt.Sprintf("Reconciliation passed (%d branches, %d officers).",
			rr.BranchesChecked, rr.OfficersChecked)
	}

	var builder strings.Builder
	builder.WriteString(fmt.Sprintf("Reconciliation found %d discrepancy(ies):\n\n", len(rr.Discrepancies)))
	for i, d := range rr.Discrepancies {
		builder.WriteString(fmt.Sprintf("%d. %s\n", i+1, d.String()))
	}
	return builder.String()
}
