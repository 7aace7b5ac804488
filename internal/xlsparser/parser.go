// =============================================================================
// Collection Aggregator - Legacy XLS Row Source
// =============================================================================
//
// Some branches still export the raw data from the older reporting screen,
// which produces BIFF8 .xls workbooks. This module reads the first worksheet
// of such a workbook. The .xls format caps a sheet at 65,536 rows, so the
// whole workbook is decoded up front and rows are handed out one at a time.
//
// =============================================================================

package xlsparser

import (
	"bytes"

	"github.com/extrame/xls"
	"github.com/rotisserie/eris"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// ErrNoSheets is returned for a workbook without worksheets.
var ErrNoSheets = eris.New("xls: workbook has no worksheets")

// maxCols is the BIFF8 column limit.
const maxCols = 256

// StreamingParser is a types.RowSource over the first worksheet.
type StreamingParser struct {
	sheet     *xls.WorkSheet
	next      int
	current   types.Row
	rowNumber int
	err       error
}

// NewStreamingParser decodes an .xls workbook held in memory.
//
// PARAMETERS:
//   - data: the workbook bytes.
//   - charset: the charset for non-unicode strings, usually "utf-8".
func NewStreamingParser(data []byte, charset string) (p *StreamingParser, err error) {
	// The decoder panics on some malformed records.
	defer func() {
		if r := recover(); r != nil {
			p, err = nil, eris.Errorf("xls: malformed workbook: %v", r)
		}
	}()

	wb, err := xls.OpenReader(bytes.NewReader(data), charset)
	if err != nil {
		return nil, eris.Wrap(err, "xls: open workbook")
	}
	if wb.NumSheets() == 0 {
		return nil, ErrNoSheets
	}
	sheet := wb.GetSheet(0)
	if sheet == nil {
		return nil, ErrNoSheets
	}
	return &StreamingParser{sheet: sheet}, nil
}

// Next advances to the next row. Missing rows are reported as empty rows.
// A row the decoder cannot render stops iteration and is reported by Err.
func (p *StreamingParser) Next() (ok bool) {
	if p.err != nil || p.next > int(p.sheet.MaxRow) {
		return false
	}
	defer func() {
		if r := recover(); r != nil {
			p.current = nil
			p.err = eris.Errorf("xls: malformed row %d: %v", p.next+1, r)
			ok = false
		}
	}()

	p.current = readRow(rowAt(p.sheet, p.next))
	p.next++
	p.rowNumber++
	return true
}

// rowAt returns row i, or nil when the sheet has no records for it.
// WorkSheet.Row dereferences the missing entry, so the panic is absorbed here.
func rowAt(sheet *xls.WorkSheet, i int) (row *xls.Row) {
	defer func() {
		if recover() != nil {
			row = nil
		}
	}()
	return sheet.Row(i)
}

// readRow renders a row's cells. LastCol is exclusive; rows that only exist
// through their cells report 0, so those are scanned up to the column limit.
func readRow(r *xls.Row) types.Row {
	if r == nil {
		return nil
	}
	width := r.LastCol()
	if width <= 0 {
		width = maxCols
	}
	row := make(types.Row, width)
	last := -1
	for c := 0; c < width; c++ {
		if v := r.Col(c); v != "" {
			row[c] = v
			last = c
		}
	}
	return row[:last+1]
}

// Row returns the current row.
func (p *StreamingParser) Row() types.Row {
	return p.current
}

// RowNumber returns the 1-based number of the current row.
func (p *StreamingParser) RowNumber() int {
	return p.rowNumber
}

// Err returns the error that stopped iteration, if any.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close is a no-op; the workbook is held in memory.
func (p *StreamingParser) Close() error {
	return nil
}

// EstimateRows returns the number of rows in the first worksheet.
func EstimateRows(data []byte) (int, error) {
	p, err := NewStreamingParser(data, "utf-8")
	if err != nil {
		return 0, err
	}
	return int(p.sheet.MaxRow) + 1, nil
}
