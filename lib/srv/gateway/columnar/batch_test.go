package columnar

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
)

func TestBuilderDerivesTimestampMs(t *testing.T) {
	tbl, err := catalog.Lookup(catalog.TagValues)
	require.NoError(t, err)

	b := NewBuilder(tbl)
	ts := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	require.NoError(t, b.AddRow(map[string]interface{}{
		"tag_name":      "A",
		"timestamp":     ts,
		"numeric_value": 1.5,
		"string_value":  nil,
		"quality":       "Good",
	}))
	batch := b.Finish()
	require.Equal(t, 1, batch.Len)

	var tsMsCol *Column
	var stringCol *Column
	for i := range batch.Columns {
		switch batch.Columns[i].Name {
		case "timestamp_ms":
			tsMsCol = &batch.Columns[i]
		case "string_value":
			stringCol = &batch.Columns[i]
		}
	}
	require.NotNil(t, tsMsCol)
	assert.Equal(t, ts.UnixMilli(), tsMsCol.Int[0])
	assert.False(t, tsMsCol.Null[0])

	require.NotNil(t, stringCol)
	assert.True(t, stringCol.Null[0])
}

func TestBuilderRejectsUnrepresentableNumeric(t *testing.T) {
	tbl, err := catalog.Lookup(catalog.TagValues)
	require.NoError(t, err)
	b := NewBuilder(tbl)
	err = b.AddRow(map[string]interface{}{
		"tag_name":      "A",
		"numeric_value": "not-a-number",
	})
	require.Error(t, err)
}
