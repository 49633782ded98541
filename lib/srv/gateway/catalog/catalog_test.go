package catalog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLookupCaseInsensitive(t *testing.T) {
	tbl, err := Lookup("TagValues")
	require.NoError(t, err)
	assert.Equal(t, TagValues, tbl.Name)

	_, err = Lookup("nope")
	require.Error(t, err)
}

func TestMaterializedColumnsExcludesVirtual(t *testing.T) {
	tbl, err := Lookup(LoggedAlarms)
	require.NoError(t, err)

	mat := tbl.MaterializedColumns()
	for _, c := range mat {
		assert.False(t, c.Virtual, "column %s should not be virtual", c.Name)
	}

	_, ok := tbl.Column("filterstring")
	assert.True(t, ok)

	found := false
	for _, c := range mat {
		if c.Name == "duration" {
			found = true
		}
	}
	assert.True(t, found, "loggedalarms must materialize duration")
}

func TestNamesStableOrder(t *testing.T) {
	names := Names()
	assert.Equal(t, []string{TagValues, LoggedTagValues, ActiveAlarms, LoggedAlarms, TagList}, names)
}

func TestIsVirtualTable(t *testing.T) {
	assert.True(t, IsVirtualTable("TAGLIST"))
	assert.False(t, IsVirtualTable("foo"))
}
