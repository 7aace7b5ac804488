// =============================================================================
// Collection Aggregator - XLSX Row Source
// =============================================================================
//
// This module streams the rows of the first worksheet of an .xlsx/.xlsm
// workbook. Raw collection exports run to hundreds of thousands of rows, so
// rows are read with excelize's row iterator and never loaded as a whole.
//
// CELL VALUES:
//   Cells are read with RawCellValue so that amounts come back as stored
//   ("1234.5"), not as displayed ("1,234.50" or "₹1,234.50"). Empty cells
//   are reported as nil.
//
// ROW ESTIMATE:
//   EstimateRows reads the <dimension> element at the top of the worksheet
//   part without loading the sheet, so the engine can decide up front
//   whether a full-detail parse is affordable.
//
// =============================================================================

package xlsxparser

import (
	"archive/zip"
	"bytes"
	"encoding/xml"
	"io"
	"path"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/xuri/excelize/v2"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// =============================================================================
// STREAMING PARSER
// =============================================================================

// StreamingParser is a types.RowSource over the first worksheet.
//
// USAGE:
//
//	parser, err := xlsxparser.NewStreamingParser(bytes.NewReader(data))
//	if err != nil {
//	    return err
//	}
//	defer parser.Close()
//
//	for parser.Next() {
//	    row := parser.Row()
//	}
//	if err := parser.Err(); err != nil {
//	    return err
//	}
type StreamingParser struct {
	file      *excelize.File
	rows      *excelize.Rows
	sheet     string
	current   types.Row
	rowNumber int
	err       error
}

// ErrNoSheets is returned for a workbook without worksheets.
var ErrNoSheets = eris.New("xlsx: workbook has no worksheets")

// NewStreamingParser opens a workbook and positions before its first row.
func NewStreamingParser(r io.Reader) (*StreamingParser, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, eris.Wrap(err, "xlsx: open workbook")
	}

	sheet := f.GetSheetName(0)
	if sheet == "" {
		f.Close()
		return nil, ErrNoSheets
	}

	rows, err := f.Rows(sheet)
	if err != nil {
		f.Close()
		return nil, eris.Wrapf(err, "xlsx: open rows of sheet %q", sheet)
	}

	return &StreamingParser{file: f, rows: rows, sheet: sheet}, nil
}

// Next advances to the next row. Rows absent from the sheet XML are
// reported as empty rows so that row numbers stay aligned with the sheet.
func (p *StreamingParser) Next() bool {
	if p.err != nil || !p.rows.Next() {
		return false
	}

	cols, err := p.rows.Columns(excelize.Options{RawCellValue: true})
	if err != nil {
		p.err = eris.Wrapf(err, "xlsx: read row %d", p.rowNumber+1)
		return false
	}
	p.rowNumber++

	row := make(types.Row, len(cols))
	for i, c := range cols {
		if c != "" {
			row[i] = c
		}
	}
	p.current = row
	return true
}

// Row returns the current row.
func (p *StreamingParser) Row() types.Row {
	return p.current
}

// RowNumber returns the 1-based number of the current row.
func (p *StreamingParser) RowNumber() int {
	return p.rowNumber
}

// SheetName returns the name of the worksheet being read.
func (p *StreamingParser) SheetName() string {
	return p.sheet
}

// Err returns the first read error.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close releases the row iterator and the workbook.
func (p *StreamingParser) Close() error {
	rowsErr := p.rows.Close()
	if err := p.file.Close(); err != nil {
		return eris.Wrap(err, "xlsx: close workbook")
	}
	if rowsErr != nil {
		return eris.Wrap(rowsErr, "xlsx: close rows")
	}
	return nil
}

// =============================================================================
// ROW ESTIMATE
// =============================================================================

type workbookXML struct {
	Sheets []struct {
		Attrs []xml.Attr `xml:",any,attr"`
	} `xml:"sheets>sheet"`
}

type relationshipsXML struct {
	Relationships []struct {
		ID     string `xml:"Id,attr"`
		Target string `xml:"Target,attr"`
	} `xml:"Relationship"`
}

// EstimateRows returns the last row number recorded in the first
// worksheet's dimension, or 0 when the workbook does not record one.
func EstimateRows(data []byte) (int, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return 0, eris.Wrap(err, "xlsx: open archive")
	}

	sheetPath, err := firstSheetPath(zr)
	if err != nil {
		return 0, err
	}

	ref, err := readDimension(zr, sheetPath)
	if err != nil || ref == "" {
		return 0, err
	}

	last := ref
	if i := strings.LastIndex(ref, ":"); i >= 0 {
		last = ref[i+1:]
	}
	_, row, err := excelize.CellNameToCoordinates(last)
	if err != nil {
		return 0, eris.Wrapf(err, "xlsx: parse dimension %q", ref)
	}
	return row, nil
}

func firstSheetPath(zr *zip.Reader) (string, error) {
	var wb workbookXML
	if err := decodeZipXML(zr, "xl/workbook.xml", &wb); err != nil {
		return "", err
	}
	if len(wb.Sheets) == 0 {
		return "", ErrNoSheets
	}

	var rid string
	for _, a := range wb.Sheets[0].Attrs {
		if a.Name.Local == "id" {
			rid = a.Value
		}
	}

	var rels relationshipsXML
	if err := decodeZipXML(zr, "xl/_rels/workbook.xml.rels", &rels); err != nil {
		return "", err
	}
	for _, rel := range rels.Relationships {
		if rel.ID != rid {
			continue
		}
		if strings.HasPrefix(rel.Target, "/") {
			return strings.TrimPrefix(rel.Target, "/"), nil
		}
		return path.Join("xl", rel.Target), nil
	}
	return "", eris.Errorf("xlsx: no relationship for sheet %q", rid)
}

// readDimension scans the worksheet part up to <sheetData> for <dimension>.
func readDimension(zr *zip.Reader, name string) (string, error) {
	rc, err := openZipEntry(zr, name)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	dec := xml.NewDecoder(rc)
	for {
		tok, err := dec.Token()
		if err == io.EOF {
			return "", nil
		}
		if err != nil {
			return "", eris.Wrapf(err, "xlsx: read %s", name)
		}
		start, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		switch start.Name.Local {
		case "dimension":
			for _, a := range start.Attr {
				if a.Name.Local == "ref" {
					return a.Value, nil
				}
			}
			return "", nil
		case "sheetData":
			return "", nil
		}
	}
}

func decodeZipXML(zr *zip.Reader, name string, v any) error {
	rc, err := openZipEntry(zr, name)
	if err != nil {
		return err
	}
	defer rc.Close()
	if err := xml.NewDecoder(rc).Decode(v); err != nil {
		return eris.Wrapf(err, "xlsx: decode %s", name)
	}
	return nil
}

func openZipEntry(zr *zip.Reader, name string) (io.ReadCloser, error) {
	for _, f := range zr.File {
		if f.Name == name {
			rc, err := f.Open()
			if err != nil {
				return nil, eris.Wrapf(err, "xlsx: open %s", name)
			}
			return rc, nil
		}
	}
	return nil, eris.Errorf("xlsx: missing part %s", name)
}
