package converter

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
	"github.com/ginjaninja78/collection-aggregator/internal/validation"
)

var header = []any{
	"BranchName", "Officer Name", "Officer ID", "Account ID", "Client Name",
	"Product", "Loan Amount", "DPD Days", "DPD Group", "Current Loan Status",
	"Regular Demand", "Cumulative Demand", "Collection", "Partial Amount",
}

// dataRow builds a row in header order.
func dataRow(branch, officer, officerID, account string, dpdDays any, dpdGroup string, regular, cumulative, collection any) []any {
	return []any{
		branch, officer, officerID, account, "Client " + account,
		"JLG", 25000, dpdDays, dpdGroup, "Active",
		regular, cumulative, collection, "",
	}
}

// workbook writes rows to the first sheet of a new workbook.
func workbook(t *testing.T, rows ...[]any) []byte {
	t.Helper()
	f := excelize.NewFile()
	defer f.Close()

	for i, r := range rows {
		if len(r) == 0 {
			continue
		}
		cell, err := excelize.CoordinatesToCellName(1, i+1)
		require.NoError(t, err)
		require.NoError(t, f.SetSheetRow("Sheet1", cell, &r))
	}

	buf, err := f.WriteToBuffer()
	require.NoError(t, err)
	return buf.Bytes()
}

// withTitle prefixes n report title lines, as the loan system export does.
func withTitle(n int, rows ...[]any) [][]any {
	out := make([][]any, 0, n+len(rows))
	for i := 0; i < n; i++ {
		out = append(out, []any{fmt.Sprintf("Regular Demand Vs Collection - report line %d", i+1)})
	}
	return append(out, rows...)
}

func sampleRows() [][]any {
	return [][]any{
		header,
		dataRow("B1", "Jane Doe", "E100", "A1", 0, "0 Days", "1000", "2000", "1000"),
		dataRow("B1", "Jane Doe", "", "A2", 15, "1-30 Days", "500", "500", "234"),
		dataRow("B1", "Raj", "E200", "A3", 95, "", 300.25, 900, 0),
		{"", "Nobody", "", "A4", 0, "", 1, 1, 1},
		dataRow("B2", "", "", "A5", 45, "DPD 31-60", "1,250.50", "2,500", "N/A"),
	}
}

func parse(t *testing.T, e *Engine, rows [][]any, includeAccounts bool) *types.Result {
	t.Helper()
	res, err := e.ParseWithFallback(workbook(t, rows...), includeAccounts)
	require.NoError(t, err)
	return res
}

func TestParse_Aggregates(t *testing.T) {
	res := parse(t, New(DefaultOptions(), nil), sampleRows(), true)

	assert.Equal(t, types.StatusOK, res.Status)
	assert.Equal(t, 4, res.Meta.TotalRows, "row without branch is skipped")
	assert.Equal(t, 2, res.Meta.TotalBranches)
	assert.Equal(t, 3, res.Meta.TotalOfficers)
	assert.False(t, res.Meta.Fallback)

	b1 := res.Branches["B1"]
	require.NotNil(t, b1)
	assert.Equal(t, 3, b1.Totals.Accounts)
	assert.Equal(t, "1800.25", b1.Totals.RegularDemand.String())
	assert.Equal(t, "1234", b1.Totals.Collection.String())
	assert.Equal(t, types.DPDBreakdown{Days0: 1, Days1To30: 1, Days90Plus: 1}, b1.Totals.DPDBreakdown)

	jane := b1.Officers["Jane Doe"]
	require.NotNil(t, jane)
	assert.Equal(t, "E100", jane.OfficerID)
	assert.Equal(t, 82.3, jane.Totals.CollectionPct, "1234 / 1500")
	require.Len(t, jane.Accounts, 2)
	assert.Equal(t, "A1", jane.Accounts[0].AccountID)
	assert.Equal(t, 15.0, jane.Accounts[1].DPDDays)

	b2 := res.Branches["B2"]
	require.NotNil(t, b2)
	unknown := b2.Officers[UnknownOfficer]
	require.NotNil(t, unknown)
	assert.Equal(t, "1250.5", unknown.Totals.RegularDemand.String())
	assert.True(t, unknown.Totals.Collection.IsZero(), "N/A collection is 0")
	assert.Equal(t, 0.0, unknown.Totals.CollectionPct)
	assert.Equal(t, 1, unknown.Totals.DPDBreakdown.Days31To60)
}

func TestParse_Reconciles(t *testing.T) {
	res := parse(t, New(DefaultOptions(), nil), sampleRows(), true)

	rr := validation.Reconcile(res)
	assert.True(t, rr.IsValid, validation.FormatDiscrepancies(rr))
}

func TestParse_HeaderRowBoundary(t *testing.T) {
	e := New(DefaultOptions(), nil)
	row := dataRow("B1", "Jane Doe", "E100", "A1", 0, "", 100, 100, 50)

	res := parse(t, e, withTitle(9, header, row), true)
	assert.Equal(t, 1, res.Meta.TotalRows, "header on row 10 resolves")

	_, err := e.ParseWithFallback(workbook(t, withTitle(10, header, row)...), true)
	var ve *validation.ValidationError
	require.True(t, errors.As(err, &ve), "header on row 11 fails, got %v", err)
	assert.Contains(t, ve.Message, "Could not find expected columns")
}

func TestParse_HeaderWithoutBranchFails(t *testing.T) {
	noBranch := []any{"Officer Name", "Officer ID", "Account ID", "Client Name", "Regular Demand", "Collection"}

	_, err := New(DefaultOptions(), nil).Parse(workbook(t, noBranch), true)

	ve, ok := validation.AsValidationError(err)
	require.True(t, ok)
	assert.Contains(t, ve.Message, "Found: officer_name, officer_id, account_id, client_name, regular_demand, collection")
}

func TestParse_DetailToggleKeepsTotals(t *testing.T) {
	e := New(DefaultOptions(), nil)
	full := parse(t, e, sampleRows(), true)
	lean := parse(t, e, sampleRows(), false)

	assert.Equal(t, full.Meta, lean.Meta)
	require.Len(t, lean.Branches, len(full.Branches))
	for name, fb := range full.Branches {
		lb := lean.Branches[name]
		require.NotNil(t, lb, name)
		assert.Equal(t, fb.Totals, lb.Totals, name)
		for officer, fo := range fb.Officers {
			lo := lb.Officers[officer]
			require.NotNil(t, lo, officer)
			assert.Equal(t, fo.Totals, lo.Totals, officer)
			assert.Equal(t, fo.OfficerID, lo.OfficerID, officer)
			assert.NotNil(t, fo.Accounts)
			assert.Nil(t, lo.Accounts)
		}
	}

	out, err := json.Marshal(lean)
	require.NoError(t, err)
	assert.NotContains(t, string(out), `"accounts":[`)
	assert.NotContains(t, string(out), `"fallback"`)
}

func TestParse_OfficerMergeKeepsFirstID(t *testing.T) {
	withID := dataRow("B1", "Jane Doe", "E100", "A1", 0, "", 10, 10, 10)
	blankID := dataRow("B1", "Jane Doe", "", "A2", 0, "", 10, 10, 10)
	otherID := dataRow("B1", "Jane Doe", "E999", "A3", 0, "", 10, 10, 10)

	for name, rows := range map[string][][]any{
		"id first":    {header, withID, blankID, otherID},
		"blank first": {header, blankID, withID, otherID},
	} {
		t.Run(name, func(t *testing.T) {
			res := parse(t, New(DefaultOptions(), nil), rows, true)

			officers := res.Branches["B1"].Officers
			require.Len(t, officers, 1)
			assert.Equal(t, "E100", officers["Jane Doe"].OfficerID)
			assert.Equal(t, 3, officers["Jane Doe"].Totals.Accounts)
		})
	}
}

func TestParse_GarbageNumericsDefaultToZero(t *testing.T) {
	rows := [][]any{
		header,
		dataRow("B1", "Jane Doe", "E100", "A1", "N/A", "", "N/A", "", "--"),
	}

	res := parse(t, New(DefaultOptions(), nil), rows, true)

	totals := res.Branches["B1"].Totals
	assert.True(t, totals.RegularDemand.IsZero())
	assert.True(t, totals.CumulativeDemand.IsZero())
	assert.True(t, totals.Collection.IsZero())
	assert.Equal(t, 1, totals.DPDBreakdown.Days0)
	assert.Equal(t, 0.0, res.Branches["B1"].Officers["Jane Doe"].Accounts[0].DPDDays)
}

func TestParse_ResourceExhaustedFallsBack(t *testing.T) {
	opts := DefaultOptions()
	opts.MaxDetailRows = 2
	e := New(opts, nil)
	data := workbook(t, sampleRows()...)

	_, err := e.Parse(data, true)
	require.ErrorIs(t, err, ErrResourceExhausted)

	res, err := e.ParseWithFallback(data, true)
	require.NoError(t, err)
	assert.True(t, res.Meta.Fallback)
	assert.Equal(t, types.FallbackResourceExhausted, res.Meta.FallbackReason)
	assert.Equal(t, 4, res.Meta.TotalRows)
	assert.Nil(t, res.Branches["B1"].Officers["Jane Doe"].Accounts)

	out, err := json.Marshal(res.Meta)
	require.NoError(t, err)
	assert.JSONEq(t, `{"total_rows":4,"total_branches":2,"total_officers":3,"fallback":true,"fallback_reason":"resource_exhausted"}`, string(out))
}

func TestParse_RowEstimateDegradesUpFront(t *testing.T) {
	opts := DefaultOptions()
	opts.DegradeRowThreshold = 3
	e := New(opts, nil)

	csv := strings.Join([]string{
		"BranchName,Officer Name,Account ID,Regular Demand,Collection,DPD Days",
		"B1,Jane Doe,A1,100,50,0",
		"B1,Jane Doe,A2,100,50,10",
		"B2,Raj,A3,100,100,0",
	}, "\n")

	res, err := e.ParseWithFallback([]byte(csv), true)
	require.NoError(t, err)
	assert.True(t, res.Meta.Fallback)
	assert.Equal(t, types.FallbackRowEstimate, res.Meta.FallbackReason)
	assert.Equal(t, 3, res.Meta.TotalRows)

	res, err = e.ParseWithFallback([]byte(csv), false)
	require.NoError(t, err)
	assert.False(t, res.Meta.Fallback, "explicit opt-out is not a fallback")
}

func TestParse_EmptyPayload(t *testing.T) {
	_, err := Parse(nil, true)

	_, ok := validation.AsValidationError(err)
	assert.True(t, ok)
}

func TestParse_CorruptWorkbook(t *testing.T) {
	_, err := New(DefaultOptions(), nil).Parse([]byte("PK\x03\x04 definitely not a zip"), true)

	ve, ok := validation.AsValidationError(err)
	require.True(t, ok)
	assert.Equal(t, "Could not read the uploaded file as a spreadsheet (xlsx).", ve.Message)
	assert.Error(t, ve.Cause)
}

func TestInspect(t *testing.T) {
	data := []byte("Report generated 2026-10-01\n" +
		"Branch Name,Officer Name,DPD Days,Regular Demand,Collection\n" +
		"B1,Jane,0,100,100\n")

	info, err := New(DefaultOptions(), nil).Inspect(data)
	require.NoError(t, err)

	assert.Equal(t, FormatCSV, info.Format)
	assert.Equal(t, 2, info.HeaderRow)
	assert.Equal(t, 3, info.EstimatedRows)
	idx, ok := info.Mapping.Index(types.FieldCollection)
	require.True(t, ok)
	assert.Equal(t, 4, idx)
}

func TestInspect_NoHeader(t *testing.T) {
	_, err := New(DefaultOptions(), nil).Inspect([]byte("a,b\n1,2\n"))

	_, ok := validation.AsValidationError(err)
	assert.True(t, ok)
}

func TestParse_LegacyXLS(t *testing.T) {
	data, err := os.ReadFile("../xlsparser/testdata/collection.xls")
	require.NoError(t, err)
	require.Equal(t, FormatXLS, DetectFormat(data))

	res, err := New(DefaultOptions(), nil).ParseWithFallback(data, true)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Meta.TotalRows)
	assert.Equal(t, 2, res.Meta.TotalBranches)
	assert.Equal(t, 2, res.Meta.TotalOfficers)

	b1 := res.Branches["B1"]
	require.NotNil(t, b1)
	assert.Equal(t, 2, b1.Totals.Accounts)
	assert.Equal(t, "1500", b1.Totals.RegularDemand.String())
	assert.Equal(t, "1234.5", b1.Totals.Collection.String())
	assert.Equal(t, 82.3, b1.Totals.CollectionPct)

	b2 := res.Branches["B2"]
	require.NotNil(t, b2)
	assert.Equal(t, "1000", b2.Totals.CumulativeDemand.String())
	assert.Equal(t, types.DPDBreakdown{Days31To60: 1, Days90Plus: 1}, b2.Totals.DPDBreakdown)
	raj := b2.Officers["Raj"]
	require.NotNil(t, raj)
	assert.Equal(t, "E200", raj.OfficerID, "ID taken from the later row")

	rr := validation.Reconcile(res)
	assert.True(t, rr.IsValid, validation.FormatDiscrepancies(rr))
}

func TestInspect_LegacyXLS(t *testing.T) {
	data, err := os.ReadFile("../xlsparser/testdata/collection.xls")
	require.NoError(t, err)

	info, err := New(DefaultOptions(), nil).Inspect(data)
	require.NoError(t, err)

	assert.Equal(t, FormatXLS, info.Format)
	assert.Equal(t, 3, info.HeaderRow, "absent row 2 still counts")
	assert.Equal(t, 7, info.EstimatedRows)
}

func TestParse_CSVBlankLinesAreNotCounted(t *testing.T) {
	// Unlike worksheet rows, blank CSV lines do not count toward the header
	// scan, so a header on physical line 11 still resolves.
	data := "Regular Demand Vs Collection\n" + strings.Repeat("\n", 9) +
		"Branch Name,Officer Name,DPD Days,Regular Demand,Collection\n" +
		"B1,Jane,0,100,100\n"

	info, err := New(DefaultOptions(), nil).Inspect([]byte(data))
	require.NoError(t, err)
	assert.Equal(t, 2, info.HeaderRow)

	res, err := New(DefaultOptions(), nil).Parse([]byte(data), false)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Meta.TotalRows)
}
