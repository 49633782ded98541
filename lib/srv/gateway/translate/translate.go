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

// Package translate turns a classified sqlplan.Plan into the GraphQL
// call(s) needed to answer it and loads the result into a columnar.Batch
// ready for the embedded executor.
package translate

import (
	"context"
	"regexp"
	"strings"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/catalog"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/columnar"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/graphqlapi"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/sqlplan"
)

// GlobFromLike converts a SQL LIKE pattern to the glob syntax the WinCC
// Unified browse operation's nameFilter expects: '%' becomes '*', '_'
// becomes '?', a backslash makes the next character literal (so '\_' is a
// plain '_'), everything else is literal.
func GlobFromLike(pattern string) string {
	var b strings.Builder
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteRune(r)
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteRune('*')
		case r == '_':
			b.WriteRune('?')
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}

// likeToRegexp compiles a SQL LIKE pattern into an exact-match regexp, used
// to re-filter browse() results against the client's original LIKE
// semantics: glob patterns that cannot be exactly represented by
// nameFilter's wildcard support still need exact matching applied to the
// names browse() returns. A backslash makes the next character literal,
// as in GlobFromLike.
func likeToRegexp(pattern string) *regexp.Regexp {
	var b strings.Builder
	b.WriteString("^")
	escaped := false
	for _, r := range pattern {
		switch {
		case escaped:
			b.WriteString(regexp.QuoteMeta(string(r)))
			escaped = false
		case r == '\\':
			escaped = true
		case r == '%':
			b.WriteString(".*")
		case r == '_':
			b.WriteString(".")
		default:
			b.WriteString(regexp.QuoteMeta(string(r)))
		}
	}
	b.WriteString("$")
	return regexp.MustCompile(b.String())
}

// Execute resolves plan (a KindVirtualTable plan) into the appropriate
// GraphQL call(s) and returns the resulting rows as a columnar.Batch ready
// for sqlexec.Run.
func Execute(ctx context.Context, client *graphqlapi.Client, token string, plan *sqlplan.Plan) (*columnar.Batch, error) {
	switch plan.Table.Name {
	case catalog.TagValues:
		return tagValuesBatch(ctx, client, token, plan)
	case catalog.LoggedTagValues:
		return loggedTagValuesBatch(ctx, client, token, plan)
	case catalog.ActiveAlarms:
		return activeAlarmsBatch(ctx, client, token, plan)
	case catalog.LoggedAlarms:
		return loggedAlarmsBatch(ctx, client, token, plan)
	case catalog.TagList:
		return tagListBatch(ctx, client, token, plan)
	default:
		return nil, pgerr.New(pgerr.KindUnsupportedTable, "no translation for table %s", plan.Table.Name)
	}
}

// resolvedNames is the result of turning a plan's tag_name predicate(s)
// into a concrete name list plus an optional post-filter for names that a
// browse() glob approximation over-matched.
type resolvedNames struct {
	names  []string
	filter func(name string) bool
}

func (r resolvedNames) keep(name string) bool {
	if r.filter == nil {
		return true
	}
	return r.filter(name)
}

// resolveTagNames implements LIKE/IN/equals handling for a tag_name
// predicate. When plan has none (only legal when the table's tag_name
// requirement was exempted, i.e. an aggregation query), it falls back to
// an unfiltered browse() to enumerate every tag: the same browse +
// tagValues pair answers both SELECT * and SELECT COUNT(*).
func resolveTagNames(ctx context.Context, client *graphqlapi.Client, token string, preds []sqlplan.Predicate) (resolvedNames, error) {
	for _, p := range preds {
		if p.Column != "tag_name" {
			continue
		}
		switch p.Op {
		case sqlplan.OpEquals:
			s, _ := p.Value.(string)
			return resolvedNames{names: []string{s}}, nil
		case sqlplan.OpIn:
			var names []string
			for _, v := range p.Values {
				if s, ok := v.(string); ok {
					names = append(names, s)
				}
			}
			return resolvedNames{names: names}, nil
		case sqlplan.OpLike:
			pattern, _ := p.Value.(string)
			matched, err := client.Browse(ctx, token, GlobFromLike(pattern), nil, "")
			if err != nil {
				return resolvedNames{}, trace.Wrap(err)
			}
			re := likeToRegexp(pattern)
			return resolvedNames{names: matched, filter: func(name string) bool { return re.MatchString(name) }}, nil
		}
	}
	all, err := client.Browse(ctx, token, "", nil, "")
	if err != nil {
		return resolvedNames{}, trace.Wrap(err)
	}
	return resolvedNames{names: all}, nil
}

func tagValuesBatch(ctx context.Context, client *graphqlapi.Client, token string, plan *sqlplan.Plan) (*columnar.Batch, error) {
	resolved, err := resolveTagNames(ctx, client, token, plan.Predicates)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	values, err := client.TagValues(ctx, token, resolved.names)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	b := columnar.NewBuilder(plan.Table)
	for _, v := range values {
		if !resolved.keep(v.Name) {
			continue
		}
		if err := b.AddRow(map[string]interface{}{
			"tag_name":      v.Name,
			"timestamp":     v.Timestamp,
			"numeric_value": v.Value,
			"quality":       v.Quality,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return b.Finish(), nil
}

func loggedTagValuesBatch(ctx context.Context, client *graphqlapi.Client, token string, plan *sqlplan.Plan) (*columnar.Batch, error) {
	resolved, err := resolveTagNames(ctx, client, token, plan.Predicates)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	in := graphqlapi.LoggedTagValuesInput{
		Names:       resolved.names,
		StartTime:   plan.Window.From,
		EndTime:     plan.Window.To,
		SortingMode: sortingModeFor(plan.OrderBy),
	}
	values, err := client.LoggedTagValues(ctx, token, in)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	b := columnar.NewBuilder(plan.Table)
	for _, v := range values {
		if !resolved.keep(v.Name) {
			continue
		}
		if err := b.AddRow(map[string]interface{}{
			"tag_name":      v.Name,
			"timestamp":     v.Timestamp,
			"numeric_value": v.Value,
			"quality":       v.Quality,
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return b.Finish(), nil
}

// sortingModeFor maps an ORDER BY timestamp clause to loggedTagValues'
// sortingMode argument. Only ORDER BY timestamp maps to sortingMode; other
// ORDER BY columns are applied post-fetch by the embedded executor.
func sortingModeFor(order *sqlplan.OrderSpec) graphqlapi.SortingMode {
	if order == nil || order.Column != "timestamp" {
		return ""
	}
	if order.Desc {
		return graphqlapi.SortTimeDesc
	}
	return graphqlapi.SortTimeAsc
}

func activeAlarmsBatch(ctx context.Context, client *graphqlapi.Client, token string, plan *sqlplan.Plan) (*columnar.Batch, error) {
	alarms, err := client.ActiveAlarms(ctx, token, nil, "", "")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return alarmBatch(plan.Table, alarms, nil)
}

func loggedAlarmsBatch(ctx context.Context, client *graphqlapi.Client, token string, plan *sqlplan.Plan) (*columnar.Batch, error) {
	in := graphqlapi.LoggedAlarmsInput{
		StartTime: plan.Window.From,
		EndTime:   plan.Window.To,
	}
	for _, p := range plan.Predicates {
		switch p.Column {
		case "system_name":
			switch p.Op {
			case sqlplan.OpEquals:
				if s, ok := p.Value.(string); ok {
					in.SystemNames = []string{s}
				}
			case sqlplan.OpIn:
				for _, v := range p.Values {
					if s, ok := v.(string); ok {
						in.SystemNames = append(in.SystemNames, s)
					}
				}
			}
		case "filterstring":
			if s, ok := p.Value.(string); ok {
				in.FilterString = s
			}
		case "filter_language":
			if s, ok := p.Value.(string); ok {
				in.FilterLanguage = s
			}
		}
	}
	alarms, err := client.LoggedAlarms(ctx, token, in)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return alarmBatch(plan.Table, alarms, nil)
}

func alarmBatch(table catalog.Table, alarms []graphqlapi.Alarm, keep func(graphqlapi.Alarm) bool) (*columnar.Batch, error) {
	b := columnar.NewBuilder(table)
	for _, a := range alarms {
		if keep != nil && !keep(a) {
			continue
		}
		row := map[string]interface{}{
			"name":                a.Name,
			"instance_id":         a.InstanceID,
			"alarm_group_id":      a.AlarmGroupID,
			"raise_time":          a.RaiseTime,
			"acknowledgment_time": a.AcknowledgmentTime,
			"clear_time":          a.ClearTime,
			"reset_time":          a.ResetTime,
			"modification_time":   a.ModificationTime,
			"state":               a.State,
			"priority":            int64(a.Priority),
			"event_text":          a.EventText,
			"info_text":           a.InfoText,
			"origin":              a.Origin,
			"area":                a.Area,
			"value":               a.Value,
			"host_name":           a.HostName,
			"user_name":           a.UserName,
		}
		if _, ok := table.Column("duration"); ok {
			row["duration"] = a.DurationSeconds
		}
		if err := b.AddRow(row); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return b.Finish(), nil
}

func tagListBatch(ctx context.Context, client *graphqlapi.Client, token string, plan *sqlplan.Plan) (*columnar.Batch, error) {
	var nameFilter, language string
	var objectTypeFilters []string
	for _, p := range plan.Predicates {
		if p.Column == "language" && p.Op == sqlplan.OpEquals {
			if s, ok := p.Value.(string); ok {
				language = s
			}
		}
		if p.Column == "object_type_filter" && p.Op == sqlplan.OpEquals {
			if s, ok := p.Value.(string); ok {
				objectTypeFilters = []string{s}
			}
		}
		if p.Column == "tag_name" && p.Op == sqlplan.OpLike {
			if s, ok := p.Value.(string); ok {
				nameFilter = GlobFromLike(s)
			}
		}
	}
	names, err := client.Browse(ctx, token, nameFilter, objectTypeFilters, language)
	if err != nil {
		return nil, trace.Wrap(err)
	}

	var displayFilter func(string) bool
	for _, p := range plan.Predicates {
		if p.Column == "display_name" && p.Op == sqlplan.OpLike {
			if s, ok := p.Value.(string); ok {
				re := likeToRegexp(s)
				displayFilter = re.MatchString
			}
		}
	}

	b := columnar.NewBuilder(plan.Table)
	for _, n := range names {
		if displayFilter != nil && !displayFilter(n) {
			continue
		}
		if err := b.AddRow(map[string]interface{}{
			"tag_name":     n,
			"display_name": n,
			"object_type":  "tag",
			"data_type":    "",
		}); err != nil {
			return nil, trace.Wrap(err)
		}
	}
	return b.Finish(), nil
}
