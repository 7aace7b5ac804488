package converter

import (
	"strings"
	"unicode"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// Classify assigns a row to a DPD bucket.
//
// The textual group label is tried first, because upstream systems label
// buckets inconsistently ("DPD 1-30", "31-60 Days", ">90 Days") but reliably
// enough to be matched by substring. Only when the label says nothing
// recognizable are the numeric days past due used.
//
// PRIORITY (first match wins, order matters):
//  1. label has a standalone "0" with "day" or "dpd", or is exactly "0" -> 0_days
//  2. "1" and "30" -> 1_30; "31" and "60" -> 31_60; "61" and "90" -> 61_90
//  3. "90" with "+", "above" or "plus"; or ">90"; or "91" -> 90_plus
//  4. dpd days: <=0, <=30, <=60, <=90, else 90_plus
//
// So "31-60,90+" is 31_60 and "61-90+" is 61_90: the range checks run before
// the open-ended check.
func Classify(label any, dpdDays any) types.Bucket {
	g := strings.ToLower(ToString(label))

	if g == "0" || (hasZeroToken(g) && (strings.Contains(g, "day") || strings.Contains(g, "dpd"))) {
		return types.Bucket0Days
	}

	switch {
	case strings.Contains(g, "1") && strings.Contains(g, "30"):
		return types.Bucket1To30
	case strings.Contains(g, "31") && strings.Contains(g, "60"):
		return types.Bucket31To60
	case strings.Contains(g, "61") && strings.Contains(g, "90"):
		return types.Bucket61To90
	}

	if strings.Contains(g, "90") &&
		(strings.Contains(g, "+") || strings.Contains(g, "above") || strings.Contains(g, "plus")) {
		return types.Bucket90Plus
	}
	if strings.Contains(g, ">90") || strings.Contains(g, "91") {
		return types.Bucket90Plus
	}

	d := ToNumber(dpdDays)
	switch {
	case d <= 0:
		return types.Bucket0Days
	case d <= 30:
		return types.Bucket1To30
	case d <= 60:
		return types.Bucket31To60
	case d <= 90:
		return types.Bucket61To90
	}
	return types.Bucket90Plus
}

// hasZeroToken reports whether s contains a run of digits that is all zeros,
// such as the "0" in "0 days". The zero inside "30" does not count.
func hasZeroToken(s string) bool {
	tokens := strings.FieldsFunc(s, func(r rune) bool { return !unicode.IsDigit(r) })
	for _, tok := range tokens {
		if strings.Trim(tok, "0") == "" {
			return true
		}
	}
	return false
}
