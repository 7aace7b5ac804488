// =============================================================================
// Collection Aggregator - Report Writer Module
// =============================================================================
//
// This module writes an aggregate Result for the dashboard and for people.
//
// OUTPUT FORMATS:
//   json - the Result as consumed by the dashboard renderer
//
//          {"status":"ok","meta":{...},"branches":{"B1":{"totals":{...},
//           "officers":{"Jane Doe":{"officer_id":"E100","totals":{...},
//           "accounts":[...]}}}}}
//
//   xlsx - a summary workbook for branch managers, two sheets:
//          "Branches" one row per branch
//          "Officers" one row per officer, with its branch
//          Rows are sorted by name. Account detail is not written.
//
// =============================================================================

package report

import (
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// Format is an output format.
type Format string

const (
	FormatJSON Format = "json"
	FormatXLSX Format = "xlsx"
)

// ParseFormat validates a format name.
func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatJSON, FormatXLSX:
		return f, nil
	}
	return "", eris.Errorf("report: unknown format %q (want json or xlsx)", s)
}

// Extension returns the file extension for the format, with the dot.
func (f Format) Extension() string {
	return "." + string(f)
}

// =============================================================================
// JSON
// =============================================================================

// WriteJSON encodes the result. indent produces human-readable output.
func WriteJSON(w io.Writer, result *types.Result, indent bool) error {
	enc := json.NewEncoder(w)
	if indent {
		enc.SetIndent("", "  ")
	}
	if err := enc.Encode(result); err != nil {
		return eris.Wrap(err, "report: encode json")
	}
	return nil
}

// =============================================================================
// XLSX SUMMARY
// =============================================================================

const (
	branchSheet  = "Branches"
	officerSheet = "Officers"
)

var totalsHeader = []any{
	"Accounts", "Regular Demand", "Cumulative Demand", "Collection", "Collection %",
	"0 Days", "1-30", "31-60", "61-90", "90+",
}

func totalsCells(t types.Totals) []any {
	return []any{
		t.Accounts,
		t.RegularDemand.InexactFloat64(),
		t.CumulativeDemand.InexactFloat64(),
		t.Collection.InexactFloat64(),
		t.CollectionPct,
		t.DPDBreakdown.Days0,
		t.DPDBreakdown.Days1To30,
		t.DPDBreakdown.Days31To60,
		t.DPDBreakdown.Days61To90,
		t.DPDBreakdown.Days90Plus,
	}
}

// WriteXLSX writes the summary workbook.
func WriteXLSX(w io.Writer, result *types.Result) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", branchSheet); err != nil {
		return eris.Wrap(err, "report: rename sheet")
	}
	if _, err := f.NewSheet(officerSheet); err != nil {
		return eris.Wrap(err, "report: add sheet")
	}

	bold, err := f.NewStyle(&excelize.Style{Font: &excelize.Font{Bold: true}})
	if err != nil {
		return eris.Wrap(err, "report: header style")
	}

	names := sortedKeys(result.Branches)

	// Branches
	sw, err := f.NewStreamWriter(branchSheet)
	if err != nil {
		return eris.Wrap(err, "report: open branch sheet")
	}
	if err := sw.SetColWidth(1, 1, 28); err != nil {
		return eris.Wrap(err, "report: set width")
	}
	header := append([]any{"Branch", "Officers"}, totalsHeader...)
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return eris.Wrap(err, "report: write branch header")
	}
	for i, name := range names {
		b := result.Branches[name]
		row := append([]any{name, len(b.Officers)}, totalsCells(b.Totals)...)
		if err := setRow(sw, i+2, row); err != nil {
			return err
		}
	}
	if err := sw.Flush(); err != nil {
		return eris.Wrap(err, "report: flush branch sheet")
	}

	// Officers
	sw, err = f.NewStreamWriter(officerSheet)
	if err != nil {
		return eris.Wrap(err, "report: open officer sheet")
	}
	if err := sw.SetColWidth(1, 2, 28); err != nil {
		return eris.Wrap(err, "report: set width")
	}
	header = append([]any{"Branch", "Officer", "Officer ID"}, totalsHeader...)
	if err := sw.SetRow("A1", header, excelize.RowOpts{StyleID: bold}); err != nil {
		return eris.Wrap(err, "report: write officer header")
	}
	rowNum := 2
	for _, branch := range names {
		officers := result.Branches[branch].Officers
		for _, name := range sortedKeys(officers) {
			o := officers[name]
			row := append([]any{branch, name, o.OfficerID}, totalsCells(o.Totals)...)
			if err := setRow(sw, rowNum, row); err != nil {
				return err
			}
			rowNum++
		}
	}
	if err := sw.Flush(); err != nil {
		return eris.Wrap(err, "report: flush officer sheet")
	}

	if _, err := f.WriteTo(w); err != nil {
		return eris.Wrap(err, "report: write workbook")
	}
	return nil
}

func setRow(sw *excelize.StreamWriter, row int, values []any) error {
	cell, err := excelize.CoordinatesToCellName(1, row)
	if err != nil {
		return eris.Wrap(err, "report: cell name")
	}
	if err := sw.SetRow(cell, values); err != nil {
		return eris.Wrapf(err, "report: write row %d", row)
	}
	return nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================
// FILES
// =============================================================================

// WriteFile writes the result to path in the given format, creating the
// parent directory if needed. The report is written to a temporary file
// and renamed into place.
func WriteFile(path string, result *types.Result, format Format) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return eris.Wrap(err, "report: create output directory")
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), ".report-*")
	if err != nil {
		return eris.Wrap(err, "report: create temp file")
	}
	defer os.Remove(tmp.Name())

	switch format {
	case FormatXLSX:
		err = WriteXLSX(tmp, result)
	default:
		err = WriteJSON(tmp, result, true)
	}
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = eris.Wrap(cerr, "report: close temp file")
	}
	if err != nil {
		return err
	}

	if err := os.Rename(tmp.Name(), path); err != nil {
		return eris.Wrap(err, "report: rename output")
	}
	return nil
}
