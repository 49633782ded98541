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
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/pingcap/tidb/pkg/parser"
	"github.com/pingcap/tidb/pkg/parser/ast"
	"github.com/pingcap/tidb/pkg/parser/opcode"

	// Registers ast.NewValueExpr. The grammar calls it to build literal
	// nodes; without this import every numeric or string literal fails
	// to parse.
	_ "github.com/pingcap/tidb/pkg/parser/test_driver"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

var intervalPattern = regexp.MustCompile(`(?i)CURRENT_(TIME|TIMESTAMP|DATE)\s*([+-])\s*INTERVAL\s+'(\d+)'\s*(SECOND|SECONDS|MINUTE|MINUTES|HOUR|HOURS|DAY|DAYS|WEEK|WEEKS)`)

var catalogSchemas = map[string]bool{"pg_catalog": true, "information_schema": true}

// Classifier turns statement text into a Plan. It owns a clock because the
// CURRENT_TIME/CURRENT_TIMESTAMP/CURRENT_DATE ± INTERVAL folding rule
// resolves against "now" at plan time, not execute time.
type Classifier struct {
	now func() time.Time
}

// NewClassifier builds a Classifier that resolves "now" via nowFn on every
// call to Classify.
func NewClassifier(nowFn func() time.Time) *Classifier {
	return &Classifier{now: nowFn}
}

// Classify parses a single SQL statement (already split on top-level
// semicolons by the caller) and returns its Plan.
func (c *Classifier) Classify(sqlText string) (*Plan, error) {
	trimmed := strings.TrimSpace(sqlText)
	if trimmed == "" {
		return &Plan{Kind: KindSessionUtility, CommandTag: "", SQLText: trimmed}, nil
	}

	if plan := classifyUtility(trimmed); plan != nil {
		return plan, nil
	}

	p := parser.New()
	stmt, err := p.ParseOneStmt(strings.TrimRight(trimmed, "; \t\n"), "", "")
	if err != nil {
		return nil, pgerr.Wrap(pgerr.KindParse, err, "syntax error")
	}

	sel, ok := stmt.(*ast.SelectStmt)
	if !ok {
		return nil, pgerr.New(pgerr.KindUnsupportedStatement, "statement type %T is not supported", stmt)
	}
	return c.classifySelect(sel, foldIntervalsInText(trimmed, c.now()))
}

// foldIntervalsInText rewrites every CURRENT_TIME/CURRENT_TIMESTAMP/
// CURRENT_DATE ± INTERVAL expression in sqlText to the absolute timestamp
// literal it folds to against now. The embedded executor runs plan.SQLText
// verbatim against SQLite, which has no INTERVAL keyword, so the text
// handed to it must already be in plain SQL the executor understands — the
// same reason substituteParams rewrites $N placeholders before a bound
// statement reaches the classifier.
func foldIntervalsInText(sqlText string, now time.Time) string {
	return intervalPattern.ReplaceAllStringFunc(sqlText, func(match string) string {
		t, ok := foldInterval(match, now)
		if !ok {
			return match
		}
		return "'" + t.UTC().Format(time.RFC3339Nano) + "'"
	})
}

// classifyUtility recognizes the fixed-form session statements that the
// wire layer acknowledges without ever reaching the backend. These use
// MySQL-incompatible
// Postgres syntax (DISCARD ALL, LISTEN <chan>) that the embedded parser's
// grammar cannot parse at all, so they are recognized by keyword prefix
// before the real parser ever sees them.
func classifyUtility(trimmed string) *Plan {
	upper := strings.ToUpper(trimmed)
	switch {
	case strings.HasPrefix(upper, "BEGIN"), strings.HasPrefix(upper, "START TRANSACTION"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "BEGIN", SQLText: trimmed}
	case strings.HasPrefix(upper, "COMMIT"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "COMMIT", SQLText: trimmed}
	case strings.HasPrefix(upper, "ROLLBACK"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "ROLLBACK", SQLText: trimmed}
	case strings.HasPrefix(upper, "DISCARD"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "DISCARD", SQLText: trimmed}
	case strings.HasPrefix(upper, "LISTEN"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "LISTEN", SQLText: trimmed}
	case strings.HasPrefix(upper, "UNLISTEN"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "UNLISTEN", SQLText: trimmed}
	case strings.HasPrefix(upper, "SET "), upper == "SET":
		return &Plan{Kind: KindSessionUtility, CommandTag: "SET", SQLText: trimmed}
	case strings.HasPrefix(upper, "RESET"):
		return &Plan{Kind: KindSessionUtility, CommandTag: "RESET", SQLText: trimmed}
	case strings.HasPrefix(upper, "SHOW "):
		name := strings.TrimSpace(trimmed[len("SHOW"):])
		name = strings.Trim(name, "\"'; \t")
		return &Plan{Kind: KindSessionUtility, CommandTag: "SHOW", ShowName: strings.ToLower(name), SQLText: trimmed}
	}
	return nil
}

func (c *Classifier) classifySelect(sel *ast.SelectStmt, sqlText string) (*Plan, error) {
	if sel.From == nil {
		return &Plan{Kind: KindIntrospection, ScalarSQL: sqlText, SQLText: sqlText}, nil
	}

	tableName, schemaName, err := soleTable(sel.From)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	if catalogSchemas[schemaName] || isKnownCatalogTable(tableName) {
		rewritten := rewriteCatalogReference(sqlText, schemaName, tableName)
		plan := &Plan{Kind: KindIntrospection, ScalarSQL: rewritten, SQLText: sqlText}
		if rows, cols, ok := catalogTable(tableName); ok {
			plan.CatalogBatchTable = tableName
			plan.CatalogRows = rows
			plan.CatalogColumns = cols
		}
		return plan, nil
	}

	if !catalog.IsVirtualTable(tableName) {
		return nil, pgerr.New(pgerr.KindUnsupportedTable, "relation %q is not a recognized table", tableName)
	}
	table, err := catalog.Lookup(tableName)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	plan := &Plan{
		Kind:    KindVirtualTable,
		Table:   table,
		SQLText: sqlText,
	}

	proj, agg, err := projection(sel)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	plan.Projection = proj
	plan.Aggregate = agg

	if sel.Where != nil {
		preds, err := collectConjuncts(sel.Where, c.now())
		if err != nil {
			return nil, trace.Wrap(err)
		}
		plan.Predicates = preds
		plan.Window = windowFromPredicates(preds)
	}

	if err := validate(plan, c.now()); err != nil {
		return nil, trace.Wrap(err)
	}

	if sel.OrderBy != nil && len(sel.OrderBy.Items) > 0 {
		item := sel.OrderBy.Items[0]
		if col, ok := item.Expr.(*ast.ColumnNameExpr); ok {
			plan.OrderBy = &OrderSpec{Column: strings.ToLower(col.Name.Name.L), Desc: item.Desc}
		}
	}

	if sel.Limit != nil && sel.Limit.Count != nil {
		if n, ok := literalValue(sel.Limit.Count); ok {
			if i, ok := toInt64(n); ok {
				plan.Limit = &i
			}
		}
	}

	return plan, nil
}

// soleTable extracts the single table (and optional schema) named in a
// FROM clause. Joins across multiple tables are out of scope and are
// rejected here.
func soleTable(from *ast.TableRefsClause) (table, schema string, err error) {
	join, ok := from.TableRefs.(*ast.Join)
	if !ok || join.Right != nil {
		return "", "", pgerr.New(pgerr.KindUnsupportedStatement, "joins across multiple tables are not supported")
	}
	src, ok := join.Left.(*ast.TableSource)
	if !ok {
		return "", "", pgerr.New(pgerr.KindUnsupportedStatement, "unsupported FROM clause")
	}
	tn, ok := src.Source.(*ast.TableName)
	if !ok {
		return "", "", pgerr.New(pgerr.KindUnsupportedStatement, "unsupported FROM clause")
	}
	return strings.ToLower(tn.Name.L), strings.ToLower(tn.Schema.L), nil
}

func projection(sel *ast.SelectStmt) (cols []string, aggregate bool, err error) {
	if sel.Fields == nil {
		return nil, false, nil
	}
	for _, f := range sel.Fields.Fields {
		if f.WildCard != nil {
			return nil, aggregate, nil
		}
		switch e := f.Expr.(type) {
		case *ast.ColumnNameExpr:
			cols = append(cols, strings.ToLower(e.Name.Name.L))
		case *ast.AggregateFuncExpr:
			aggregate = true
		default:
			// Constant/expression projections are passed straight through
			// to the embedded executor and are not themselves predicates.
		}
	}
	return cols, aggregate, nil
}

// collectConjuncts walks the top-level AND tree of a WHERE clause into a
// flat predicate list. An OR anywhere in that tree is rejected: only a
// top-level conjunction of predicates is supported.
func collectConjuncts(expr ast.ExprNode, now time.Time) ([]Predicate, error) {
	if bin, ok := expr.(*ast.BinaryOperationExpr); ok && bin.Op == opcode.LogicAnd {
		left, err := collectConjuncts(bin.L, now)
		if err != nil {
			return nil, err
		}
		right, err := collectConjuncts(bin.R, now)
		if err != nil {
			return nil, err
		}
		return append(left, right...), nil
	}
	if bin, ok := expr.(*ast.BinaryOperationExpr); ok && bin.Op == opcode.LogicOr {
		return nil, pgerr.New(pgerr.KindUnsupportedStatement, "OR predicates are not supported")
	}
	pred, err := atomicPredicate(expr, now)
	if err != nil {
		return nil, err
	}
	return []Predicate{pred}, nil
}

func atomicPredicate(expr ast.ExprNode, now time.Time) (Predicate, error) {
	switch e := expr.(type) {
	case *ast.BinaryOperationExpr:
		col, val, swapped, err := columnAndOperand(e.L, e.R, now)
		if err != nil {
			return Predicate{}, err
		}
		op, err := comparisonOp(e.Op, swapped)
		if err != nil {
			return Predicate{}, err
		}
		return Predicate{Column: col, Op: op, Value: val}, nil

	case *ast.PatternInExpr:
		col, ok := columnName(e.Expr)
		if !ok {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported IN predicate")
		}
		if e.Not {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "NOT IN is not supported")
		}
		var values []interface{}
		for _, item := range e.List {
			v, ok := literalOrFold(item, now)
			if !ok {
				return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported value in IN list")
			}
			values = append(values, v)
		}
		return Predicate{Column: col, Op: OpIn, Values: values}, nil

	case *ast.PatternLikeExpr:
		col, ok := columnName(e.Expr)
		if !ok {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported LIKE predicate")
		}
		if e.Not {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "NOT LIKE is not supported")
		}
		pattern, ok := literalOrFold(e.Pattern, now)
		if !ok {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported LIKE pattern")
		}
		return Predicate{Column: col, Op: OpLike, Value: pattern}, nil

	case *ast.BetweenExpr:
		col, ok := columnName(e.Expr)
		if !ok {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported BETWEEN predicate")
		}
		if e.Not {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "NOT BETWEEN is not supported")
		}
		low, ok := literalOrFold(e.Left, now)
		if !ok {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported BETWEEN lower bound")
		}
		high, ok := literalOrFold(e.Right, now)
		if !ok {
			return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported BETWEEN upper bound")
		}
		return Predicate{Column: col, Op: OpBetween, Low: low, High: high}, nil
	}
	return Predicate{}, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported predicate")
}

func columnAndOperand(l, r ast.ExprNode, now time.Time) (col string, val interface{}, swapped bool, err error) {
	if name, ok := columnName(l); ok {
		v, ok := literalOrFold(r, now)
		if !ok {
			return "", nil, false, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported predicate operand")
		}
		return name, v, false, nil
	}
	if name, ok := columnName(r); ok {
		v, ok := literalOrFold(l, now)
		if !ok {
			return "", nil, false, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported predicate operand")
		}
		return name, v, true, nil
	}
	return "", nil, false, pgerr.New(pgerr.KindUnsupportedStatement, "predicate does not reference a column")
}

func columnName(expr ast.ExprNode) (string, bool) {
	if c, ok := expr.(*ast.ColumnNameExpr); ok {
		return strings.ToLower(c.Name.Name.L), true
	}
	return "", false
}

// literalOrFold resolves expr to a concrete Go value, either a plain
// literal or a CURRENT_TIME/CURRENT_TIMESTAMP/CURRENT_DATE ± INTERVAL
// expression folded against now. The interval arm is matched
// against the operand's original source text rather than walked as an AST
// sub-tree: MySQL-family grammars desugar "expr + INTERVAL n unit" into
// several different node shapes across parser versions, and the absolute
// timestamp it must fold to is fully determined by four captured fields,
// so matching the source text directly is the robust option here.
func literalOrFold(expr ast.ExprNode, now time.Time) (interface{}, bool) {
	if t, ok := foldInterval(expr.Text(), now); ok {
		return t, true
	}
	return literalValue(expr)
}

func foldInterval(text string, now time.Time) (time.Time, bool) {
	m := intervalPattern.FindStringSubmatch(text)
	if m == nil {
		return time.Time{}, false
	}
	n, err := strconv.Atoi(m[3])
	if err != nil {
		return time.Time{}, false
	}
	var d time.Duration
	switch strings.ToUpper(strings.TrimSuffix(strings.ToUpper(m[4]), "S")) {
	case "SECOND":
		d = time.Duration(n) * time.Second
	case "MINUTE":
		d = time.Duration(n) * time.Minute
	case "HOUR":
		d = time.Duration(n) * time.Hour
	case "DAY":
		d = time.Duration(n) * 24 * time.Hour
	case "WEEK":
		d = time.Duration(n) * 7 * 24 * time.Hour
	default:
		return time.Time{}, false
	}
	if m[2] == "-" {
		return now.Add(-d), true
	}
	return now.Add(d), true
}

func literalValue(expr ast.ExprNode) (interface{}, bool) {
	v, ok := expr.(ast.ValueExpr)
	if !ok {
		return nil, false
	}
	raw := v.GetValue()
	if raw == nil {
		return nil, false
	}
	switch x := raw.(type) {
	case string:
		if ts, err := time.Parse(time.RFC3339, x); err == nil {
			return ts, true
		}
		return x, true
	default:
		return raw, true
	}
}

func toInt64(v interface{}) (int64, bool) {
	switch x := v.(type) {
	case int64:
		return x, true
	case int:
		return int64(x), true
	case float64:
		return int64(x), true
	case string:
		i, err := strconv.ParseInt(x, 10, 64)
		return i, err == nil
	default:
		return 0, false
	}
}

func comparisonOp(op opcode.Op, swapped bool) (PredicateOp, error) {
	switch op {
	case opcode.EQ:
		return OpEquals, nil
	case opcode.LT:
		if swapped {
			return OpGT, nil
		}
		return OpLT, nil
	case opcode.LE:
		if swapped {
			return OpGE, nil
		}
		return OpLE, nil
	case opcode.GT:
		if swapped {
			return OpLT, nil
		}
		return OpGT, nil
	case opcode.GE:
		if swapped {
			return OpLE, nil
		}
		return OpGE, nil
	default:
		return 0, pgerr.New(pgerr.KindUnsupportedStatement, "unsupported comparison operator %q", op.String())
	}
}

func windowFromPredicates(preds []Predicate) TimeWindow {
	var w TimeWindow
	for _, p := range preds {
		if p.Column != "timestamp" && p.Column != "modification_time" {
			continue
		}
		switch p.Op {
		case OpGE, OpGT:
			if t, ok := p.Value.(time.Time); ok {
				w.From, w.HasFrom = t, true
			}
		case OpLE, OpLT:
			if t, ok := p.Value.(time.Time); ok {
				w.To, w.HasTo = t, true
			}
		case OpBetween:
			if t, ok := p.Low.(time.Time); ok {
				w.From, w.HasFrom = t, true
			}
			if t, ok := p.High.(time.Time); ok {
				w.To, w.HasTo = t, true
			}
		case OpEquals:
			if t, ok := p.Value.(time.Time); ok {
				w.From, w.HasFrom = t, true
				w.To, w.HasTo = t, true
			}
		}
	}
	return w
}

// rewriteCatalogReference strips a "pg_catalog."/"information_schema."
// qualifier so the statement can run unmodified against the embedded
// executor's unqualified synthetic table of the same name.
func rewriteCatalogReference(sqlText, schema, table string) string {
	re := regexp.MustCompile(`(?i)` + regexp.QuoteMeta(schema) + `\.` + regexp.QuoteMeta(table))
	return re.ReplaceAllString(sqlText, table)
}

// validate enforces each virtual table's required-predicate rules.
func validate(plan *Plan, now time.Time) error {
	t := plan.Table
	switch t.Name {
	case catalog.TagValues, catalog.LoggedTagValues:
		if !plan.Aggregate && !hasPredicate(plan.Predicates, "tag_name") {
			return pgerr.New(pgerr.KindFilterMissing, "%s requires a predicate on tag_name", t.Name)
		}
	}
	if t.Name == catalog.LoggedAlarms {
		for _, p := range plan.Predicates {
			switch p.Column {
			case "filterstring", "filter_language":
				if p.Op != OpEquals {
					return pgerr.New(pgerr.KindUnsupportedStatement, "%s only supports equality", p.Column)
				}
			case "system_name":
				if p.Op != OpEquals && p.Op != OpIn {
					return pgerr.New(pgerr.KindUnsupportedStatement, "system_name only supports = or IN")
				}
			}
		}
	}
	if t.Name == catalog.LoggedTagValues || t.Name == catalog.LoggedAlarms {
		if !plan.Window.HasTo {
			plan.Window.To = now
			plan.Window.HasTo = true
		}
	}
	return nil
}

func hasPredicate(preds []Predicate, column string) bool {
	for _, p := range preds {
		if p.Column == column {
			return true
		}
	}
	return false
}
