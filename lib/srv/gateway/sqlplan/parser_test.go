/*
Copyright 2024 The WinCC PG Gateway Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package sqlplan

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

func fixedClassifier(now time.Time) *Classifier {
	return NewClassifier(func() time.Time { return now })
}

func TestClassifySessionUtility(t *testing.T) {
	c := fixedClassifier(time.Now())
	cases := map[string]string{
		"":                  "",
		"BEGIN":             "BEGIN",
		"begin;":            "BEGIN",
		"COMMIT":            "COMMIT",
		"ROLLBACK":          "ROLLBACK",
		"DISCARD ALL":       "DISCARD",
		"LISTEN mychannel":  "LISTEN",
		"SET client_encoding = 'UTF8'": "SET",
		"RESET ALL":         "RESET",
	}
	for sql, tag := range cases {
		p, err := c.Classify(sql)
		require.NoError(t, err, sql)
		assert.Equal(t, KindSessionUtility, p.Kind, sql)
		assert.Equal(t, tag, p.CommandTag, sql)
	}
}

func TestClassifyShowExtractsName(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SHOW server_version")
	require.NoError(t, err)
	assert.Equal(t, "SHOW", p.CommandTag)
	assert.Equal(t, "server_version", p.ShowName)
}

func TestClassifyScalarIntrospection(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SELECT 1")
	require.NoError(t, err)
	assert.Equal(t, KindIntrospection, p.Kind)
	assert.Equal(t, "SELECT 1", p.ScalarSQL)
}

func TestClassifyUnknownTableFails(t *testing.T) {
	c := fixedClassifier(time.Now())
	_, err := c.Classify("SELECT * FROM nosuchtable")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindUnsupportedTable, pgerr.KindOf(err))
}

func TestClassifyTagValuesRequiresTagName(t *testing.T) {
	c := fixedClassifier(time.Now())
	_, err := c.Classify("SELECT * FROM tagvalues")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindFilterMissing, pgerr.KindOf(err))
}

func TestClassifyTagValuesAggregateExemptFromTagName(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SELECT COUNT(*) FROM tagvalues")
	require.NoError(t, err)
	assert.True(t, p.Aggregate)
}

func TestClassifyInPredicate(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SELECT * FROM tagvalues WHERE tag_name IN ('A', 'B')")
	require.NoError(t, err)
	require.Len(t, p.Predicates, 1)
	assert.Equal(t, OpIn, p.Predicates[0].Op)
	assert.Equal(t, []interface{}{"A", "B"}, p.Predicates[0].Values)
}

func TestClassifyLikePredicate(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SELECT * FROM tagvalues WHERE tag_name LIKE 'HMI_%:PV'")
	require.NoError(t, err)
	require.Len(t, p.Predicates, 1)
	assert.Equal(t, OpLike, p.Predicates[0].Op)
	assert.Equal(t, "HMI_%:PV", p.Predicates[0].Value)
}

func TestClassifyLoggedTagValuesSynthesizesToNow(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	c := fixedClassifier(now)
	p, err := c.Classify("SELECT COUNT(*) FROM loggedtagvalues WHERE tag_name='T' AND timestamp > '2024-01-01T00:00:00Z'")
	require.NoError(t, err)
	assert.True(t, p.Window.HasFrom)
	assert.True(t, p.Window.HasTo)
	assert.Equal(t, now, p.Window.To)
}

func TestClassifyIntervalFoldsAgainstClock(t *testing.T) {
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	c := fixedClassifier(now)
	p, err := c.Classify("SELECT * FROM loggedtagvalues WHERE tag_name='T' AND timestamp > CURRENT_TIMESTAMP - INTERVAL '1' HOUR")
	require.NoError(t, err)
	require.Len(t, p.Predicates, 2)
	var found bool
	for _, pred := range p.Predicates {
		if pred.Column == "timestamp" {
			found = true
			assert.Equal(t, now.Add(-time.Hour), pred.Value)
		}
	}
	assert.True(t, found)

	// plan.SQLText runs verbatim against the embedded SQLite executor, which
	// has no INTERVAL keyword: the folded value must replace the expression
	// in the stored text, not just in Predicates.
	assert.NotContains(t, p.SQLText, "INTERVAL")
	assert.Contains(t, p.SQLText, now.Add(-time.Hour).UTC().Format(time.RFC3339Nano))
}

func TestClassifyOrPredicateRejected(t *testing.T) {
	c := fixedClassifier(time.Now())
	_, err := c.Classify("SELECT * FROM tagvalues WHERE tag_name = 'A' OR tag_name = 'B'")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindUnsupportedStatement, pgerr.KindOf(err))
}

func TestClassifyLoggedAlarmsFilterStringRejectsNonEquality(t *testing.T) {
	c := fixedClassifier(time.Now())
	_, err := c.Classify("SELECT * FROM loggedalarms WHERE filterstring LIKE 'x%'")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindUnsupportedStatement, pgerr.KindOf(err))
}

func TestClassifyOrderByAndLimit(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SELECT * FROM tagvalues WHERE tag_name = 'A' ORDER BY timestamp DESC LIMIT 10")
	require.NoError(t, err)
	require.NotNil(t, p.OrderBy)
	assert.Equal(t, "timestamp", p.OrderBy.Column)
	assert.True(t, p.OrderBy.Desc)
	require.NotNil(t, p.Limit)
	assert.Equal(t, int64(10), *p.Limit)
}

func TestClassifyCatalogQueryRewritesSchemaQualifier(t *testing.T) {
	c := fixedClassifier(time.Now())
	p, err := c.Classify("SELECT * FROM pg_catalog.pg_type")
	require.NoError(t, err)
	assert.Equal(t, KindIntrospection, p.Kind)
	assert.Equal(t, "SELECT * FROM pg_type", p.ScalarSQL)
}

func TestClassifyCatalogQueryRecognizesNamespaceAndTablesViews(t *testing.T) {
	c := fixedClassifier(time.Now())

	p, err := c.Classify("SELECT * FROM pg_catalog.pg_namespace")
	require.NoError(t, err)
	assert.Equal(t, KindIntrospection, p.Kind)
	assert.Equal(t, "pg_namespace", p.CatalogBatchTable)
	require.NotEmpty(t, p.CatalogRows)

	p, err = c.Classify("SELECT * FROM information_schema.tables")
	require.NoError(t, err)
	assert.Equal(t, KindIntrospection, p.Kind)
	assert.Equal(t, "tables", p.CatalogBatchTable)
	var sawVirtualTable bool
	for _, row := range p.CatalogRows {
		if row["table_name"] == "tagvalues" {
			sawVirtualTable = true
		}
	}
	assert.True(t, sawVirtualTable)
}

func TestClassifyUnsupportedStatementType(t *testing.T) {
	c := fixedClassifier(time.Now())
	_, err := c.Classify("INSERT INTO tagvalues (tag_name) VALUES ('A')")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindUnsupportedStatement, pgerr.KindOf(err))
}

func TestClassifySyntaxError(t *testing.T) {
	c := fixedClassifier(time.Now())
	_, err := c.Classify("SELECT * FROM WHERE")
	require.Error(t, err)
	assert.Equal(t, pgerr.KindParse, pgerr.KindOf(err))
}
