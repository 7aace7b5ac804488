package converter

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name    string
		label   any
		dpdDays any
		want    types.Bucket
	}{
		{"zero days label", "0 Days", 45, types.Bucket0Days},
		{"zero dpd label", "0 DPD", nil, types.Bucket0Days},
		{"bare zero label", " 0 ", 120, types.Bucket0Days},
		{"one to thirty", "1-30 days", 0, types.Bucket1To30},
		{"dpd prefix", "DPD 1-30", nil, types.Bucket1To30},
		{"thirty one to sixty", "31-60 Days", nil, types.Bucket31To60},
		{"sixty one to ninety", "61-90", nil, types.Bucket61To90},
		{"ninety plus", "90+", nil, types.Bucket90Plus},
		{"above ninety", "Above 90 days", nil, types.Bucket90Plus},
		{"greater than ninety ignores days", ">90", 0, types.Bucket90Plus},
		{"ninety one", "91-180", nil, types.Bucket90Plus},

		// Range checks run before the open-ended check.
		{"range before open-ended", "31-60,90+", 200, types.Bucket31To60},
		{"sixty one to ninety plus", "61-90+", nil, types.Bucket61To90},
		{"sixty one to ninety one", "61-91", nil, types.Bucket90Plus},

		{"empty label zero days", "", 0, types.Bucket0Days},
		{"empty label ninety one days", "", 91, types.Bucket90Plus},
		{"nil label numeric text", nil, "30", types.Bucket1To30},
		{"unrecognized label", "Current", 60, types.Bucket31To60},
		{"ninety days", "", 90.0, types.Bucket61To90},
		{"negative days", "", -3, types.Bucket0Days},
		{"garbage days", "", "N/A", types.Bucket0Days},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(tt.label, tt.dpdDays))
		})
	}
}

func TestHasZeroToken(t *testing.T) {
	assert.True(t, hasZeroToken("0 days"))
	assert.True(t, hasZeroToken("dpd 00"))
	assert.False(t, hasZeroToken("1-30 days"))
	assert.False(t, hasZeroToken("days"))
}
