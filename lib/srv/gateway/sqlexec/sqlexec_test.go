package sqlexec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/columnar"
)

func buildTagValuesBatch(t *testing.T) *columnar.Batch {
	t.Helper()
	tbl, err := catalog.Lookup(catalog.TagValues)
	require.NoError(t, err)
	b := columnar.NewBuilder(tbl)
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, b.AddRow(map[string]interface{}{
		"tag_name": "A", "timestamp": now, "numeric_value": 1.0, "quality": "Good",
	}))
	require.NoError(t, b.AddRow(map[string]interface{}{
		"tag_name": "B", "timestamp": now, "numeric_value": 2.0, "quality": "Good",
	}))
	return b.Finish()
}

func TestRunSelectStar(t *testing.T) {
	batch := buildTagValuesBatch(t)
	result, err := Run(batch, `SELECT * FROM tagvalues ORDER BY tag_name`)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 2)
	assert.Equal(t, "A", result.Rows[0][0])
}

func TestRunCountMatchesRowCount(t *testing.T) {
	batch := buildTagValuesBatch(t)
	star, err := Run(batch, `SELECT * FROM tagvalues`)
	require.NoError(t, err)

	count, err := Run(batch, `SELECT COUNT(*) FROM tagvalues`)
	require.NoError(t, err)
	require.Len(t, count.Rows, 1)
	assert.EqualValues(t, len(star.Rows), count.Rows[0][0])
}
