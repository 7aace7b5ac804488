// =============================================================================
// Collection Aggregator - Column Resolver
// =============================================================================
//
// Raw exports from the loan system are not consistent about column names:
// the same column may be called "BranchName", "Branch Name" or "Branch", and
// the header is often preceded by a title block of a few rows. The resolver
// finds the header row and maps each canonical field to a column index.
//
// HEADER DETECTION:
//   1. Rows are offered one at a time, starting with the first row of the
//      worksheet, for at most HeaderScanRows rows.
//   2. Each cell is normalized (see NormalizeHeader) and looked up in the
//      alias table.
//   3. The first row with at least MinHeaderMatches distinct canonical
//      fields is the header row. Within that row, the leftmost column wins
//      when several columns map to the same field.
//   4. branch_name must be among the resolved fields.
//
// CUSTOMIZATION:
//   Extra aliases can be supplied in a YAML file (engine.aliases_file); they
//   are merged over DefaultAliases with AliasTable.Merge.
//
// =============================================================================

package converter

import (
	"strings"
	"unicode"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
	"github.com/ginjaninja78/collection-aggregator/internal/validation"
)

// =============================================================================
// ALIAS TABLE
// =============================================================================

// AliasTable lists the accepted header spellings for each canonical field.
type AliasTable map[types.Field][]string

// DefaultAliases is the built-in alias table.
var DefaultAliases = AliasTable{
	types.FieldBranchName:       {"branchname", "branch name", "branch"},
	types.FieldOfficerName:      {"officer name", "officername", "field officer", "fo name"},
	types.FieldOfficerID:        {"officerid", "officer id", "emp id", "empid", "employee id", "emp code"},
	types.FieldAccountID:        {"account id", "accountid", "account no", "account number", "loan id", "loanid"},
	types.FieldClientName:       {"client name", "clientname", "customer name", "borrower name"},
	types.FieldProduct:          {"product name", "productname", "product", "product type"},
	types.FieldLoanAmount:       {"loan amount", "loanamount", "loan amt", "disbursed amount", "sanctioned amount"},
	types.FieldDPDDays:          {"dpd days", "dpd", "days past due", "dpddays"},
	types.FieldDPDGroup:         {"dpd group", "dpd bucket", "dpd range", "dpdgroup", "dpd band"},
	types.FieldStatus:           {"current loan status", "loan status", "status", "account status"},
	types.FieldRegularDemand:    {"regular demand", "regulardemand", "reg demand"},
	types.FieldCumulativeDemand: {"cumulative demand", "cumulativedemand", "cum demand", "total demand"},
	types.FieldCollection:       {"collection", "total collection", "collection amount"},
	types.FieldPartialAmount:    {"partial amount", "partialamount", "partial", "partial amt"},
}

// Merge returns a new table with extra's aliases added to t. When an alias
// in extra is already listed under a different field in t, extra wins.
func (t AliasTable) Merge(extra AliasTable) AliasTable {
	claimed := make(map[string]types.Field)
	for field, aliases := range extra {
		for _, alias := range aliases {
			claimed[NormalizeHeader(alias)] = field
		}
	}

	merged := make(AliasTable, len(t))
	for field, aliases := range t {
		for _, alias := range aliases {
			if owner, ok := claimed[NormalizeHeader(alias)]; ok && owner != field {
				continue
			}
			merged[field] = append(merged[field], alias)
		}
	}
	for field, aliases := range extra {
		merged[field] = append(merged[field], aliases...)
	}
	return merged
}

// index builds the normalized alias -> field lookup.
func (t AliasTable) index() map[string]types.Field {
	idx := make(map[string]types.Field)
	for _, field := range types.AllFields {
		for _, alias := range t[field] {
			key := NormalizeHeader(alias)
			if _, taken := idx[key]; !taken {
				idx[key] = field
			}
		}
	}
	return idx
}

// NormalizeHeader lower-cases a header cell, turns punctuation and
// underscores into spaces and collapses runs of whitespace.
//
// EXAMPLES:
//
//	"Branch_Name"   -> "branch name"
//	"  DPD  (Days)" -> "dpd days"
//	"Loan Amt."     -> "loan amt"
func NormalizeHeader(cell any) string {
	s := strings.ToLower(ToString(cell))
	s = strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return r
		}
		return ' '
	}, s)
	return strings.Join(strings.Fields(s), " ")
}

// =============================================================================
// RESOLVER
// =============================================================================

// Resolver locates the header row within the first rows of a source.
//
// USAGE:
//
//	r := NewResolver(DefaultAliases, 10, 5)
//	for src.Next() {
//	    if r.Offer(src.Row()) {
//	        break
//	    }
//	}
//	mapping, headerRow, err := r.Result()
type Resolver struct {
	lookup     map[string]types.Field
	scanRows   int
	minMatches int

	scanned   int
	mapping   types.ColumnMapping
	headerRow int

	// best is the row with the most matches so far, reported on failure.
	best types.ColumnMapping
}

// NewResolver creates a Resolver that scans at most scanRows rows for a row
// with at least minMatches recognized fields.
func NewResolver(aliases AliasTable, scanRows, minMatches int) *Resolver {
	return &Resolver{
		lookup:     aliases.index(),
		scanRows:   scanRows,
		minMatches: minMatches,
	}
}

// Offer inspects the next row of the source. It returns true once the
// resolver needs no more rows, either because the header was found or the
// scan limit was reached.
func (r *Resolver) Offer(row types.Row) bool {
	if r.mapping != nil || r.scanned >= r.scanRows {
		return true
	}
	r.scanned++

	m := r.match(row)
	if len(m) > len(r.best) {
		r.best = m
	}
	if len(m) >= r.minMatches {
		r.mapping = m
		r.headerRow = r.scanned
		return true
	}
	return r.scanned >= r.scanRows
}

// match maps the cells of one row to canonical fields, leftmost column first.
func (r *Resolver) match(row types.Row) types.ColumnMapping {
	m := make(types.ColumnMapping)
	for col, cell := range row {
		if cell == nil {
			continue
		}
		field, ok := r.lookup[NormalizeHeader(cell)]
		if !ok {
			continue
		}
		if _, seen := m[field]; !seen {
			m[field] = col
		}
	}
	return m
}

// Result returns the column mapping and the 1-based header row.
//
// RETURNS:
//   - A *validation.ValidationError when no row reached the match threshold
//     or when the header row has no branch column. The error lists the
//     fields that were recognized.
func (r *Resolver) Result() (types.ColumnMapping, int, error) {
	if r.mapping == nil {
		return nil, 0, validation.NewHeaderError(r.best.Fields())
	}
	if _, ok := r.mapping.Index(types.FieldBranchName); !ok {
		return nil, 0, validation.NewHeaderError(r.mapping.Fields())
	}
	return r.mapping, r.headerRow, nil
}

// ResolveHeader runs a Resolver over already materialized rows with the
// default aliases and limits.
func ResolveHeader(rows []types.Row) (types.ColumnMapping, int, error) {
	r := NewResolver(DefaultAliases, DefaultHeaderScanRows, DefaultMinHeaderMatches)
	for _, row := range rows {
		if r.Offer(row) {
			break
		}
	}
	return r.Result()
}
