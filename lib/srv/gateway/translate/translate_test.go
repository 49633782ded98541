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

package translate

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/graphqlapi"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlplan"
)

func TestGlobFromLike(t *testing.T) {
	assert.Equal(t, "HMI_Tag_*:*", GlobFromLike(`HMI\_Tag\_%:%`))
	assert.Equal(t, "A?C", GlobFromLike("A_C"))
}

func TestLikeToRegexpReFiltersOverMatches(t *testing.T) {
	re := likeToRegexp("%::PV%")
	assert.True(t, re.MatchString("HMI_Tag_1::PV_raw"))
	assert.False(t, re.MatchString("HMI_Tag_1::SP"))
}

func TestExecuteTagValuesUsesBrowseThenTagValues(t *testing.T) {
	var queries []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Query string `json:"query"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		queries = append(queries, req.Query)
		switch {
		case strings.Contains(req.Query, "browse"):
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"browse": []map[string]interface{}{
						{"name": "HMI_Tag_1::PV"},
						{"name": "HMI_Tag_1::SP"},
					},
				},
			})
		default:
			_ = json.NewEncoder(w).Encode(map[string]interface{}{
				"data": map[string]interface{}{
					"tagValues": []map[string]interface{}{
						{"name": "HMI_Tag_1::PV", "timestamp": time.Now().UTC().Format(time.RFC3339Nano), "value": 1.5, "quality": "GOOD"},
						{"name": "HMI_Tag_1::SP", "timestamp": time.Now().UTC().Format(time.RFC3339Nano), "value": 2.5, "quality": "GOOD"},
					},
				},
			})
		}
	}))
	defer srv.Close()

	client := graphqlapi.NewClient(srv.URL, time.Second)
	c := sqlplan.NewClassifier(time.Now)
	plan, err := c.Classify("SELECT * FROM tagvalues WHERE tag_name LIKE '%::PV%'")
	require.NoError(t, err)

	batch, err := Execute(context.Background(), client, "tok", plan)
	require.NoError(t, err)
	assert.Equal(t, 1, batch.Len)
	assert.Len(t, queries, 2)
}
