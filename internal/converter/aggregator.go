// =============================================================================
// Collection Aggregator - Aggregator
// =============================================================================
//
// The aggregator folds normalized rows into the Branch -> Officer tree.
//
// PER ROW:
//   1. Get or create the branch keyed by branch name.
//   2. Get or create the officer keyed by officer name within the branch.
//      Officers are keyed by name, so two officers sharing a display name in
//      one branch are merged.
//   3. The first non-empty officer id is kept; later ids never replace it.
//   4. Officer and branch totals are updated from the same row.
//   5. With detail retention on, the account record is appended.
//
// AFTER THE LAST ROW:
//   Finalize derives collection_pct for every node once and assembles the
//   Result. Percentages are never accumulated.
//
// =============================================================================

package converter

import (
	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// Aggregator accumulates one parse. It is not safe for concurrent use.
type Aggregator struct {
	includeAccounts bool
	budget          *Budget

	branches  map[string]*types.BranchNode
	totalRows int
	retained  int
}

// NewAggregator creates an empty tree. budget may be nil and only applies
// when includeAccounts is true.
func NewAggregator(includeAccounts bool, budget *Budget) *Aggregator {
	return &Aggregator{
		includeAccounts: includeAccounts,
		budget:          budget,
		branches:        make(map[string]*types.BranchNode),
	}
}

// Add folds one row into the tree.
//
// RETURNS:
//   - ErrResourceExhausted when retaining this row's detail exceeded the
//     budget. The tree is then incomplete and must be discarded.
func (a *Aggregator) Add(row NormalizedRow, bucket types.Bucket) error {
	branch, ok := a.branches[row.BranchName]
	if !ok {
		branch = &types.BranchNode{Officers: make(map[string]*types.OfficerNode)}
		a.branches[row.BranchName] = branch
	}

	officer, ok := branch.Officers[row.OfficerName]
	if !ok {
		officer = &types.OfficerNode{OfficerID: row.OfficerID}
		if a.includeAccounts {
			officer.Accounts = []types.AccountDetail{}
		}
		branch.Officers[row.OfficerName] = officer
	} else if officer.OfficerID == "" && row.OfficerID != "" {
		officer.OfficerID = row.OfficerID
	}

	accumulate(&officer.Totals, row, bucket)
	accumulate(&branch.Totals, row, bucket)
	a.totalRows++

	if !a.includeAccounts {
		return nil
	}
	officer.Accounts = append(officer.Accounts, row.Detail())
	a.retained++
	return a.budget.Check(a.retained)
}

func accumulate(t *types.Totals, row NormalizedRow, bucket types.Bucket) {
	t.Accounts++
	t.RegularDemand = t.RegularDemand.Add(row.RegularDemand)
	t.CumulativeDemand = t.CumulativeDemand.Add(row.CumulativeDemand)
	t.Collection = t.Collection.Add(row.Collection)
	t.DPDBreakdown.Inc(bucket)
}

// Finalize derives the percentages and returns the Result. The aggregator
// must not be used afterwards.
func (a *Aggregator) Finalize() *types.Result {
	officers := 0
	for _, branch := range a.branches {
		finalize(&branch.Totals)
		for _, officer := range branch.Officers {
			finalize(&officer.Totals)
			officers++
		}
	}

	return &types.Result{
		Status: types.StatusOK,
		Meta: types.Meta{
			TotalRows:     a.totalRows,
			TotalBranches: len(a.branches),
			TotalOfficers: officers,
		},
		Branches: a.branches,
	}
}

func finalize(t *types.Totals) {
	t.CollectionPct = types.DerivePct(t.Collection, t.RegularDemand)
}
