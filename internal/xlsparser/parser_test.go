package xlsparser

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ginjaninja78/collection-aggregator/internal/types"
)

// testdata/collection.xls is a BIFF8 export of the first worksheet layout:
// a title row, an absent row, the header, and four account rows. The last
// row has cells but no ROW record.
func readFixture(t *testing.T) []byte {
	t.Helper()
	data, err := os.ReadFile("testdata/collection.xls")
	require.NoError(t, err)
	return data
}

func readAll(t *testing.T, p *StreamingParser) ([]types.Row, []int) {
	t.Helper()
	var rows []types.Row
	var numbers []int
	for p.Next() {
		rows = append(rows, p.Row())
		numbers = append(numbers, p.RowNumber())
	}
	require.NoError(t, p.Err())
	return rows, numbers
}

func TestStreamingParser_ReadsRows(t *testing.T) {
	p, err := NewStreamingParser(readFixture(t), "utf-8")
	require.NoError(t, err)
	defer p.Close()

	rows, numbers := readAll(t, p)
	require.Len(t, rows, 7)
	assert.Equal(t, []int{1, 2, 3, 4, 5, 6, 7}, numbers)

	assert.Equal(t, types.Row{"Regular Demand Vs Collection - October"}, rows[0])
	assert.Empty(t, rows[1], "absent row comes back empty")
	assert.Equal(t, types.Row{
		"BranchName", "Officer Name", "Officer ID", "Account ID",
		"DPD Days", "Regular Demand", "Cumulative Demand", "Collection",
	}, rows[2])
	assert.Equal(t, types.Row{"B1", "Jane Doe", "E100", "A1", "0", "1000", "2000", "1000.5"}, rows[3])
}

func TestStreamingParser_MissingCellIsNil(t *testing.T) {
	p, err := NewStreamingParser(readFixture(t), "utf-8")
	require.NoError(t, err)

	rows, _ := readAll(t, p)
	require.Len(t, rows, 7)
	require.Len(t, rows[5], 8)
	assert.Equal(t, "Raj", rows[5][1])
	assert.Nil(t, rows[5][2])
	assert.Equal(t, "A3", rows[5][3])
}

func TestStreamingParser_RowWithoutRowRecord(t *testing.T) {
	p, err := NewStreamingParser(readFixture(t), "utf-8")
	require.NoError(t, err)

	rows, _ := readAll(t, p)
	require.Len(t, rows, 7)
	assert.Equal(t, types.Row{"B2", "Raj", "E200", "A4", "45", "100", "100", "50"}, rows[6])
}

func TestStreamingParser_StopsAtEnd(t *testing.T) {
	p, err := NewStreamingParser(readFixture(t), "utf-8")
	require.NoError(t, err)

	readAll(t, p)
	assert.False(t, p.Next())
	assert.NoError(t, p.Err())
}

func TestStreamingParser_MalformedRowStops(t *testing.T) {
	// Row 4 holds a shared-string index past the end of the string table.
	data, err := os.ReadFile("testdata/bad_string_index.xls")
	require.NoError(t, err)

	p, err := NewStreamingParser(data, "utf-8")
	require.NoError(t, err)

	count := 0
	for p.Next() {
		count++
	}
	assert.Equal(t, 3, count)
	require.Error(t, p.Err())
	assert.Contains(t, p.Err().Error(), "malformed row 4")
	assert.False(t, p.Next(), "iteration stays stopped")
}

func TestEstimateRows(t *testing.T) {
	n, err := EstimateRows(readFixture(t))
	require.NoError(t, err)
	assert.Equal(t, 7, n)
}

func TestReadRow_Nil(t *testing.T) {
	assert.Nil(t, readRow(nil))
}

func TestNewStreamingParser_RejectsNonWorkbook(t *testing.T) {
	_, err := NewStreamingParser([]byte("\xD0\xCF\x11\xE0 truncated compound file"), "utf-8")
	assert.Error(t, err)
}

func TestEstimateRows_RejectsNonWorkbook(t *testing.T) {
	_, err := EstimateRows([]byte("plain text"))
	assert.Error(t, err)
}
