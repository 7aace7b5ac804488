// =============================================================================
// Collection Aggregator - Shared Types
// =============================================================================
//
// This package contains the types shared by the engine, the row sources, the
// output writers and the HTTP layer. Keeping them here avoids import cycles
// between converter, validation and report.
//
// OUTPUT CONTRACT:
//   Result
//   └── branches[branch_name] -> BranchNode
//       ├── totals
//       └── officers[officer_name] -> OfficerNode
//           ├── officer_id
//           ├── totals
//           └── accounts[] (normal mode only)
//
// =============================================================================

package types

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// =============================================================================
// CANONICAL FIELDS
// =============================================================================

// Field is a canonical column name. Raw header spellings are mapped onto
// these by the column resolver.
type Field string

const (
	FieldBranchName       Field = "branch_name"
	FieldOfficerName      Field = "officer_name"
	FieldOfficerID        Field = "officer_id"
	FieldAccountID        Field = "account_id"
	FieldClientName       Field = "client_name"
	FieldProduct          Field = "product"
	FieldLoanAmount       Field = "loan_amount"
	FieldDPDDays          Field = "dpd_days"
	FieldDPDGroup         Field = "dpd_group"
	FieldStatus           Field = "status"
	FieldRegularDemand    Field = "regular_demand"
	FieldCumulativeDemand Field = "cumulative_demand"
	FieldCollection       Field = "collection"
	FieldPartialAmount    Field = "partial_amount"
)

// AllFields lists every canonical field in a stable order.
var AllFields = []Field{
	FieldBranchName,
	FieldOfficerName,
	FieldOfficerID,
	FieldAccountID,
	FieldClientName,
	FieldProduct,
	FieldLoanAmount,
	FieldDPDDays,
	FieldDPDGroup,
	FieldStatus,
	FieldRegularDemand,
	FieldCumulativeDemand,
	FieldCollection,
	FieldPartialAmount,
}

// IsValid reports whether f is one of the canonical fields.
func (f Field) IsValid() bool {
	for _, known := range AllFields {
		if f == known {
			return true
		}
	}
	return false
}

// ColumnMapping maps a canonical field to a zero-based column index.
// It is built once per parse and never modified afterwards.
type ColumnMapping map[Field]int

// Index returns the column index for a field, if the field was resolved.
func (m ColumnMapping) Index(f Field) (int, bool) {
	idx, ok := m[f]
	return idx, ok
}

// Fields returns the resolved fields in canonical order.
func (m ColumnMapping) Fields() []Field {
	found := make([]Field, 0, len(m))
	for _, f := range AllFields {
		if _, ok := m[f]; ok {
			found = append(found, f)
		}
	}
	return found
}

// =============================================================================
// ROWS
// =============================================================================

// Row is one positional row of raw cell values. Cells may be strings,
// numbers or nil depending on the source.
type Row []any

// RowSource is a forward-only sequence of rows.
//
// USAGE:
//
//	for src.Next() {
//	    row := src.Row()
//	}
//	if err := src.Err(); err != nil { ... }
type RowSource interface {
	Next() bool
	Row() Row
	Err() error
	Close() error
}

// =============================================================================
// DPD BUCKETS
// =============================================================================

// Bucket is an ordered delinquency range.
type Bucket string

const (
	Bucket0Days  Bucket = "0_days"
	Bucket1To30  Bucket = "1_30"
	Bucket31To60 Bucket = "31_60"
	Bucket61To90 Bucket = "61_90"
	Bucket90Plus Bucket = "90_plus"
)

// Buckets lists all buckets from least to most delinquent.
var Buckets = []Bucket{Bucket0Days, Bucket1To30, Bucket31To60, Bucket61To90, Bucket90Plus}

// DPDBreakdown counts accounts per bucket. All five keys are always
// serialized, even when zero.
type DPDBreakdown struct {
	Days0      int `json:"0_days"`
	Days1To30  int `json:"1_30"`
	Days31To60 int `json:"31_60"`
	Days61To90 int `json:"61_90"`
	Days90Plus int `json:"90_plus"`
}

// Inc adds one account to bucket b.
func (d *DPDBreakdown) Inc(b Bucket) {
	switch b {
	case Bucket0Days:
		d.Days0++
	case Bucket1To30:
		d.Days1To30++
	case Bucket31To60:
		d.Days31To60++
	case Bucket61To90:
		d.Days61To90++
	case Bucket90Plus:
		d.Days90Plus++
	}
}

// Count returns the number of accounts in bucket b.
func (d DPDBreakdown) Count(b Bucket) int {
	switch b {
	case Bucket0Days:
		return d.Days0
	case Bucket1To30:
		return d.Days1To30
	case Bucket31To60:
		return d.Days31To60
	case Bucket61To90:
		return d.Days61To90
	case Bucket90Plus:
		return d.Days90Plus
	}
	return 0
}

// =============================================================================
// TOTALS
// =============================================================================

// Totals is a running accumulator for one branch or officer.
//
// The money sums are exact decimals so that branch totals reconcile with the
// sum of their officers regardless of row order. CollectionPct is derived
// once by the aggregator after the last row; it is never accumulated.
type Totals struct {
	Accounts         int             `json:"accounts"`
	RegularDemand    decimal.Decimal `json:"regular_demand"`
	CumulativeDemand decimal.Decimal `json:"cumulative_demand"`
	Collection       decimal.Decimal `json:"collection"`
	CollectionPct    float64         `json:"collection_pct"`
	DPDBreakdown     DPDBreakdown    `json:"dpd_breakdown"`
}

// totalsJSON is the wire form of Totals: money as plain JSON numbers.
type totalsJSON struct {
	Accounts         int          `json:"accounts"`
	RegularDemand    float64      `json:"regular_demand"`
	CumulativeDemand float64      `json:"cumulative_demand"`
	Collection       float64      `json:"collection"`
	CollectionPct    float64      `json:"collection_pct"`
	DPDBreakdown     DPDBreakdown `json:"dpd_breakdown"`
}

// MarshalJSON emits the money sums as numbers rather than quoted decimals,
// which is what the dashboard renderer expects.
func (t Totals) MarshalJSON() ([]byte, error) {
	return json.Marshal(totalsJSON{
		Accounts:         t.Accounts,
		RegularDemand:    t.RegularDemand.InexactFloat64(),
		CumulativeDemand: t.CumulativeDemand.InexactFloat64(),
		Collection:       t.Collection.InexactFloat64(),
		CollectionPct:    t.CollectionPct,
		DPDBreakdown:     t.DPDBreakdown,
	})
}

var hundred = decimal.NewFromInt(100)

// DerivePct returns collection as a percentage of regular demand, rounded to
// one decimal place with ties to even, or 0 when regular demand is not
// positive.
func DerivePct(collection, regularDemand decimal.Decimal) float64 {
	if !regularDemand.IsPositive() {
		return 0
	}
	pct, _ := collection.Div(regularDemand).Mul(hundred).RoundBank(1).Float64()
	return pct
}

// =============================================================================
// TREE NODES
// =============================================================================

// AccountDetail is the per-row record kept under an officer in normal mode.
type AccountDetail struct {
	AccountID     string  `json:"account_id"`
	ClientName    string  `json:"client_name"`
	Product       string  `json:"product"`
	LoanAmount    float64 `json:"loan_amount"`
	DPDDays       float64 `json:"dpd_days"`
	DPDGroup      string  `json:"dpd_group"`
	Status        string  `json:"status"`
	RegularDemand float64 `json:"regular_demand"`
	Collection    float64 `json:"collection"`
	PartialAmount string  `json:"partial_amount"`
}

// OfficerNode holds one officer's totals within a branch.
// Accounts is nil in degraded mode and is then omitted from the JSON.
type OfficerNode struct {
	OfficerID string          `json:"officer_id"`
	Totals    Totals          `json:"totals"`
	Accounts  []AccountDetail `json:"accounts,omitempty"`
}

// BranchNode holds a branch's totals and its officers keyed by name.
type BranchNode struct {
	Totals   Totals                  `json:"totals"`
	Officers map[string]*OfficerNode `json:"officers"`
}

// =============================================================================
// RESULT
// =============================================================================

// Fallback reasons recorded in Meta when the engine drops account detail
// on its own.
const (
	FallbackRowEstimate       = "row_estimate"
	FallbackResourceExhausted = "resource_exhausted"
)

// StatusOK is the status of every successful Result.
const StatusOK = "ok"

// Meta summarizes a parse.
type Meta struct {
	TotalRows      int    `json:"total_rows"`
	TotalBranches  int    `json:"total_branches"`
	TotalOfficers  int    `json:"total_officers"`
	Fallback       bool   `json:"fallback,omitempty"`
	FallbackReason string `json:"fallback_reason,omitempty"`
}

// Result is the complete aggregate returned by the engine.
type Result struct {
	Status   string                 `json:"status"`
	Meta     Meta                   `json:"meta"`
	Branches map[string]*BranchNode `json:"branches"`
}
