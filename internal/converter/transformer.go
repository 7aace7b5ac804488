// =============================================================================
// Collection Aggregator - Row Normalizer
// =============================================================================
//
// This module turns a positional raw row into typed values for the canonical
// fields. Raw exports are messy: amounts arrive as "1,234.50", as native
// numbers, as "N/A" or as nothing at all. None of that may stop the stream,
// so every coercion here has a default instead of an error.
//
// COERCION RULES:
//   - Missing column or index past the end of the row -> nil
//   - Numbers: nil -> 0; native numeric kinds pass through; text has commas
//     and surrounding whitespace stripped and is parsed; anything else -> 0
//   - Strings: nil -> ""; otherwise the trimmed text form
//
// ROW VALIDITY:
//   A row with an empty branch name is not a data row (totals lines, blank
//   separators) and is skipped by the engine.
//
// =============================================================================

package converter

import (
	"math"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// UnknownOfficer is used when a row has no officer name.
const UnknownOfficer = "Unknown"

// =============================================================================
// NORMALIZED ROW
// =============================================================================

// NormalizedRow holds the typed values of one data row.
type NormalizedRow struct {
	BranchName  string
	OfficerName string
	OfficerID   string

	RegularDemand    decimal.Decimal
	CumulativeDemand decimal.Decimal
	Collection       decimal.Decimal

	// DPDGroup and DPDDays stay raw; the bucketer interprets them.
	DPDGroup any
	DPDDays  any

	AccountID     string
	ClientName    string
	Product       string
	LoanAmount    float64
	Status        string
	PartialAmount string
}

// Normalize extracts the canonical fields of a raw row.
//
// RETURNS:
//   - The normalized row.
//   - false when the row has no branch name and must be skipped.
func Normalize(row types.Row, mapping types.ColumnMapping) (NormalizedRow, bool) {
	branch := ToString(Cell(row, mapping, types.FieldBranchName))
	if branch == "" {
		return NormalizedRow{}, false
	}

	officer := ToString(Cell(row, mapping, types.FieldOfficerName))
	if officer == "" {
		officer = UnknownOfficer
	}

	return NormalizedRow{
		BranchName:       branch,
		OfficerName:      officer,
		OfficerID:        ToString(Cell(row, mapping, types.FieldOfficerID)),
		RegularDemand:    ToDecimal(Cell(row, mapping, types.FieldRegularDemand)),
		CumulativeDemand: ToDecimal(Cell(row, mapping, types.FieldCumulativeDemand)),
		Collection:       ToDecimal(Cell(row, mapping, types.FieldCollection)),
		DPDGroup:         Cell(row, mapping, types.FieldDPDGroup),
		DPDDays:          Cell(row, mapping, types.FieldDPDDays),
		AccountID:        ToString(Cell(row, mapping, types.FieldAccountID)),
		ClientName:       ToString(Cell(row, mapping, types.FieldClientName)),
		Product:          ToString(Cell(row, mapping, types.FieldProduct)),
		LoanAmount:       ToNumber(Cell(row, mapping, types.FieldLoanAmount)),
		Status:           ToString(Cell(row, mapping, types.FieldStatus)),
		PartialAmount:    ToString(Cell(row, mapping, types.FieldPartialAmount)),
	}, true
}

// Detail builds the account record kept under an officer.
func (n NormalizedRow) Detail() types.AccountDetail {
	return types.AccountDetail{
		AccountID:     n.AccountID,
		ClientName:    n.ClientName,
		Product:       n.Product,
		LoanAmount:    n.LoanAmount,
		DPDDays:       ToNumber(n.DPDDays),
		DPDGroup:      ToString(n.DPDGroup),
		Status:        n.Status,
		RegularDemand: n.RegularDemand.InexactFloat64(),
		Collection:    n.Collection.InexactFloat64(),
		PartialAmount: n.PartialAmount,
	}
}

// =============================================================================
// CELL ACCESS AND COERCION
// =============================================================================

// Cell returns the raw value of a field, or nil when the field is unmapped
// or the row is too short.
func Cell(row types.Row, mapping types.ColumnMapping, field types.Field) any {
	idx, ok := mapping.Index(field)
	if !ok || idx < 0 || idx >= len(row) {
		return nil
	}
	return row[idx]
}

// ToString returns the trimmed text form of a cell.
func ToString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32)
	case int:
		return strconv.Itoa(t)
	case int64:
		return strconv.FormatInt(t, 10)
	case bool:
		return strconv.FormatBool(t)
	case []byte:
		return strings.TrimSpace(string(t))
	}
	if f, ok := nativeNumber(v); ok {
		return strconv.FormatFloat(f, 'f', -1, 64)
	}
	return ""
}

// ToNumber coerces a cell to float64. It never fails: anything that cannot
// be read as a finite number becomes 0.
func ToNumber(v any) float64 {
	if v == nil {
		return 0
	}
	f, ok := nativeNumber(v)
	if !ok {
		s := cleanNumeric(v)
		if s == "" {
			return 0
		}
		parsed, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0
		}
		f = parsed
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0
	}
	return f
}

// ToDecimal coerces a cell to an exact decimal using the same rules as
// ToNumber. Text is parsed directly so "1234.10" keeps its exact value.
func ToDecimal(v any) decimal.Decimal {
	if v == nil {
		return decimal.Zero
	}
	if f, ok := nativeNumber(v); ok {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return decimal.Zero
		}
		return decimal.NewFromFloat(f)
	}
	s := cleanNumeric(v)
	if s == "" {
		return decimal.Zero
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		// Forms decimal does not accept but ParseFloat does ("1e3", "+5").
		return decimal.NewFromFloat(ToNumber(s))
	}
	return d
}

func cleanNumeric(v any) string {
	return strings.TrimSpace(strings.ReplaceAll(ToString(v), ",", ""))
}

func nativeNumber(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	}
	return 0, false
}
