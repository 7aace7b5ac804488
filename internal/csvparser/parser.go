// =============================================================================
// Collection Aggregator - CSV Row Source
// =============================================================================
//
// This module streams rows from a CSV export of the raw collection data.
// It handles the variations seen in branch exports:
//   - Different delimiters (comma, semicolon, tab, pipe)
//   - Legacy encodings (windows-1252 from older Excel "Save as CSV")
//   - A UTF-8 or UTF-16 byte order mark, which overrides the configured
//     encoding
//   - Ragged rows and stray quotes
//
// Unlike the workbook sources, blank lines are skipped by the CSV reader,
// so row numbers count records, not lines.
//
// =============================================================================

package csvparser

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"golang.org/x/text/encoding/htmlindex"
	"golang.org/x/text/encoding/unicode"
	"golang.org/x/text/transform"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// =============================================================================
// SETTINGS
// =============================================================================

// Settings controls how a CSV source is read.
type Settings struct {
	// Delimiter is a single character or one of "tab", "pipe",
	// "semicolon", "comma". Empty means comma.
	Delimiter string

	// Encoding is a WHATWG encoding label ("utf-8", "windows-1252",
	// "latin1", ...). Empty means utf-8.
	Encoding string
}

// configureReader applies the delimiter and leniency settings.
func configureReader(reader *csv.Reader, settings Settings) {
	switch strings.ToLower(settings.Delimiter) {
	case "\\t", "tab":
		reader.Comma = '\t'
	case "|", "pipe":
		reader.Comma = '|'
	case ";", "semicolon":
		reader.Comma = ';'
	case "", ",", "comma":
		reader.Comma = ','
	default:
		reader.Comma = []rune(settings.Delimiter)[0]
	}

	// Exports are not strict CSV: row lengths vary and quotes are unbalanced.
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true
	reader.TrimLeadingSpace = true
	reader.ReuseRecord = true
}

// decodingReader wraps r so it yields UTF-8. A byte order mark, when
// present, takes precedence over the configured encoding.
func decodingReader(r io.Reader, encoding string) (io.Reader, error) {
	if encoding == "" {
		encoding = "utf-8"
	}
	enc, err := htmlindex.Get(encoding)
	if err != nil {
		return nil, eris.Wrapf(err, "csv: unsupported encoding %q", encoding)
	}
	return transform.NewReader(r, unicode.BOMOverride(enc.NewDecoder())), nil
}

// =============================================================================
// STREAMING PARSER
// =============================================================================

// StreamingParser is a types.RowSource over CSV records.
//
// USAGE:
//
//	parser, err := csvparser.NewStreamingParser(file, csvparser.Settings{})
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
	closer    io.Closer
	reader    *csv.Reader
	current   types.Row
	rowNumber int
	err       error
}

// NewStreamingParser creates a parser over r. If r is an io.Closer it is
// closed by Close.
func NewStreamingParser(r io.Reader, settings Settings) (*StreamingParser, error) {
	decoded, err := decodingReader(r, settings.Encoding)
	if err != nil {
		return nil, err
	}

	reader := csv.NewReader(bufio.NewReader(decoded))
	configureReader(reader, settings)

	p := &StreamingParser{reader: reader}
	if c, ok := r.(io.Closer); ok {
		p.closer = c
	}
	return p, nil
}

// Next advances to the next record.
func (p *StreamingParser) Next() bool {
	if p.err != nil {
		return false
	}

	record, err := p.reader.Read()
	if err == io.EOF {
		return false
	}
	if err != nil {
		p.err = eris.Wrapf(err, "csv: read record %d", p.rowNumber+1)
		return false
	}
	p.rowNumber++

	// The record slice is reused by the reader; copy out the cells.
	row := make(types.Row, len(record))
	for i, cell := range record {
		if cell = strings.TrimSpace(cell); cell != "" {
			row[i] = cell
		}
	}
	p.current = row
	return true
}

// Row returns the current record.
func (p *StreamingParser) Row() types.Row {
	return p.current
}

// RowNumber returns the 1-based number of the current record.
func (p *StreamingParser) RowNumber() int {
	return p.rowNumber
}

// Err returns the first read error.
func (p *StreamingParser) Err() error {
	return p.err
}

// Close closes the underlying reader when it is closable.
func (p *StreamingParser) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}

// =============================================================================
// UTILITY FUNCTIONS
// =============================================================================

// EstimateRows counts the lines in a CSV payload. Quoted fields containing
// newlines make this an overestimate, which is acceptable for sizing.
func EstimateRows(data []byte) int {
	if len(data) == 0 {
		return 0
	}
	n := bytes.Count(data, []byte{'\n'})
	if data[len(data)-1] != '\n' {
		n++
	}
	return n
}
