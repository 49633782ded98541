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

package wire

import (
	"context"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/columnar"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlexec"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlplan"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/translate"
)

// outcome is the result of running a single statement: either a row-bearing
// Result plus its CommandComplete tag, or a bare command tag for a
// statement that never touches the embedded executor (BEGIN, SET, ...).
type outcome struct {
	result *sqlexec.Result
	tag    string
}

// run classifies and executes one statement end to end: session-utility
// statements are acknowledged directly, introspection statements run
// through the embedded executor with either no table registered or one
// synthetic pg_catalog/information_schema table registered, and virtual
// table SELECTs are translated into GraphQL call(s), loaded into a
// columnar batch, and run through the embedded executor — the same
// uniform execution path handles both cases.
func (c *conn) run(ctx context.Context, sqlText string) (*outcome, error) {
	plan, err := c.classifier.Classify(sqlText)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	switch plan.Kind {
	case sqlplan.KindSessionUtility:
		return c.runUtility(plan)
	case sqlplan.KindIntrospection:
		return c.runIntrospection(ctx, plan)
	case sqlplan.KindVirtualTable:
		return c.runVirtualTable(ctx, plan)
	default:
		return nil, trace.BadParameter("unreachable plan kind")
	}
}

func (c *conn) runUtility(plan *sqlplan.Plan) (*outcome, error) {
	switch plan.CommandTag {
	case "":
		return &outcome{tag: ""}, nil
	case "SHOW":
		return c.runShow(plan)
	default:
		return &outcome{tag: plan.CommandTag}, nil
	}
}

// runShow answers SHOW <name> from a small fixed set of server parameters,
// without involving the embedded executor — its output is a single
// constant row, not worth a SQLite round trip.
func (c *conn) runShow(plan *sqlplan.Plan) (*outcome, error) {
	value := c.showValue(plan.ShowName)
	result := &sqlexec.Result{
		Columns: []sqlexec.ResultColumn{{Name: plan.ShowName, Type: catalog.TypeText}},
		Rows:    [][]interface{}{{value}},
	}
	return &outcome{result: result, tag: "SHOW"}, nil
}

func (c *conn) showValue(name string) string {
	switch name {
	case "server_version":
		return c.cfg.ServerVersion
	case "client_encoding":
		if c.session != nil {
			return c.session.ClientEncoding
		}
		return "UTF8"
	default:
		return ""
	}
}

func (c *conn) runIntrospection(ctx context.Context, plan *sqlplan.Plan) (*outcome, error) {
	var batch *columnar.Batch
	if plan.CatalogBatchTable != "" {
		b := columnar.NewBuilder(catalog.Table{Name: plan.CatalogBatchTable, Columns: plan.CatalogColumns})
		for _, row := range plan.CatalogRows {
			if err := b.AddRow(row); err != nil {
				return nil, trace.Wrap(err)
			}
		}
		batch = b.Finish()
	}
	result, err := sqlexec.Run(batch, plan.ScalarSQL)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &outcome{result: result, tag: commandTag("SELECT", len(result.Rows))}, nil
}

func (c *conn) runVirtualTable(ctx context.Context, plan *sqlplan.Plan) (*outcome, error) {
	token, err := c.session.GetToken(c.cfg.Clock.Now())
	if err != nil {
		return nil, trace.Wrap(err)
	}
	batch, err := translate.Execute(ctx, c.cfg.GraphQL, token, plan)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result, err := sqlexec.Run(batch, plan.SQLText)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &outcome{result: result, tag: commandTag(verbOf(plan.SQLText), len(result.Rows))}, nil
}

// verbOf returns the leading keyword of a statement, used only to label
// the CommandComplete tag ("SELECT" for every virtual-table query the
// gateway accepts).
func verbOf(sqlText string) string {
	fields := strings.Fields(sqlText)
	if len(fields) == 0 {
		return "SELECT"
	}
	return strings.ToUpper(fields[0])
}
