package converter

import (
	"bytes"

	"github.com/ginjaninja78/collection-aggregator/internal/csvparser"
	"github.com/ginjaninja78/collection-aggregator/internal/types"
	"github.com/ginjaninja78/collection-aggregator/internal/validation"
	"github.com/ginjaninja78/collection-aggregator/internal/xlsparser"
	"github.com/ginjaninja78/collection-aggregator/internal/xlsxparser"
)

// Format identifies the container of an upload.
type Format string

const (
	FormatXLSX Format = "xlsx"
	FormatXLS  Format = "xls"
	FormatCSV  Format = "csv"
)

var (
	zipMagic  = []byte("PK\x03\x04")
	ole2Magic = []byte("\xD0\xCF\x11\xE0")
)

// DetectFormat sniffs the leading bytes. Anything that is neither a zip
// archive nor an OLE2 compound file is treated as CSV.
func DetectFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, zipMagic):
		return FormatXLSX
	case bytes.HasPrefix(data, ole2Magic):
		return FormatXLS
	}
	return FormatCSV
}

// OpenSource returns a row source over the first worksheet of data.
// A payload that cannot be opened is reported as a ValidationError, since
// the cause is the uploaded file.
func OpenSource(data []byte, csvSettings csvparser.Settings) (types.RowSource, Format, error) {
	if len(data) == 0 {
		return nil, "", validation.Errorf("The uploaded file is empty.")
	}

	format := DetectFormat(data)
	var (
		src types.RowSource
		err error
	)
	switch format {
	case FormatXLSX:
		src, err = xlsxparser.NewStreamingParser(bytes.NewReader(data))
	case FormatXLS:
		src, err = xlsparser.NewStreamingParser(data, "utf-8")
	default:
		src, err = csvparser.NewStreamingParser(bytes.NewReader(data), csvSettings)
	}
	if err != nil {
		return nil, format, &validation.ValidationError{
			Message: "Could not read the uploaded file as a spreadsheet (" + string(format) + ").",
			Cause:   err,
		}
	}
	return src, format, nil
}

// EstimateRows returns an upper estimate of the row count without parsing
// the rows, or 0 when no estimate is available.
func EstimateRows(data []byte) (int, error) {
	switch DetectFormat(data) {
	case FormatXLSX:
		return xlsxparser.EstimateRows(data)
	case FormatXLS:
		return xlsparser.EstimateRows(data)
	}
	return csvparser.EstimateRows(data), nil
}
