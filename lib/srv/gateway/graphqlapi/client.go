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

// Package graphqlapi is a thin, typed wrapper around the seven WinCC Unified
// GraphQL operations the gateway consumes. It reuses a single *http.Client
// and parses GraphQL-level errors into the gateway's
// own error taxonomy so callers never have to inspect raw GraphQL JSON.
package graphqlapi

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gravitational/trace"

	"github.com/gravitational/wincc-pg-gateway/lib/srv/gateway/pgerr"
)

// Client is a typed wrapper over the WinCC Unified GraphQL endpoint.
type Client struct {
	url        string
	httpClient *http.Client
}

// NewClient creates a Client targeting the given GraphQL endpoint URL, with
// the given overall request timeout. TLS verification follows the system
// default CA pool.
func NewClient(url string, timeout time.Duration) *Client {
	return &Client{
		url: url,
		httpClient: &http.Client{
			Timeout: timeout,
		},
	}
}

type graphQLRequest struct {
	Query     string                 `json:"query"`
	Variables map[string]interface{} `json:"variables,omitempty"`
}

type graphQLError struct {
	Message   string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// authErrorCodes are the GraphQL extensions.code values that map to
// AuthError instead of BackendError.
var authErrorCodes = map[string]bool{
	"101":          true,
	"102":          true,
	"401":          true,
	"unauthorized": true,
}

// do executes a single GraphQL call, with optional bearer-token auth, and
// decodes its "data" field into out.
func (c *Client) do(ctx context.Context, token, query string, variables map[string]interface{}, out interface{}) error {
	body, err := json.Marshal(graphQLRequest{Query: query, Variables: variables})
	if err != nil {
		return pgerr.Wrap(pgerr.KindInternal, err, "encoding GraphQL request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return pgerr.Wrap(pgerr.KindInternal, err, "building GraphQL request")
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pgerr.Wrap(pgerr.KindBackend, err, "calling GraphQL endpoint")
	}
	defer resp.Body.Close()

	var gqlResp graphQLResponse
	if err := json.NewDecoder(resp.Body).Decode(&gqlResp); err != nil {
		return pgerr.Wrap(pgerr.KindBackend, err, "decoding GraphQL response")
	}

	if len(gqlResp.Errors) > 0 {
		first := gqlResp.Errors[0]
		if authErrorCodes[first.Extensions.Code] {
			return pgerr.New(pgerr.KindAuth, "graphql authentication error: %s", first.Message)
		}
		return pgerr.New(pgerr.KindBackend, "graphql error [%s]: %s", first.Extensions.Code, first.Message)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(gqlResp.Data, out); err != nil {
		return pgerr.Wrap(pgerr.KindBackend, err, "decoding GraphQL data payload")
	}
	return nil
}

// LoginResult is the response of the login mutation.
type LoginResult struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

// Login authenticates username/password against the WinCC Unified GraphQL
// backend and returns a bearer token with its absolute expiry.
func (c *Client) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	const query = `mutation Login($username: String!, $password: String!) {
		login(username: $username, password: $password) { token expiresAt }
	}`
	var out struct {
		Login LoginResult `json:"login"`
	}
	if err := c.do(ctx, "", query, map[string]interface{}{
		"username": username,
		"password": password,
	}, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return &out.Login, nil
}

// ExtendSession calls session.extend and returns the refreshed expiry.
func (c *Client) ExtendSession(ctx context.Context, token string) (time.Time, error) {
	const query = `mutation { session { extend } }`
	var out struct {
		Session struct {
			Extend time.Time `json:"extend"`
		} `json:"session"`
	}
	if err := c.do(ctx, token, query, nil, &out); err != nil {
		return time.Time{}, trace.Wrap(err)
	}
	return out.Session.Extend, nil
}

// TagValue is a single current-value sample for one tag.
type TagValue struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
	Quality   string    `json:"quality"`
}

// TagValues calls tagValues(names) for the given tag names.
func (c *Client) TagValues(ctx context.Context, token string, names []string) ([]TagValue, error) {
	const query = `query TagValues($names: [String!]!) {
		tagValues(names: $names) { name timestamp value quality }
	}`
	var out struct {
		TagValues []TagValue `json:"tagValues"`
	}
	if err := c.do(ctx, token, query, map[string]interface{}{"names": names}, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.TagValues, nil
}

// SortingMode selects sort order for loggedTagValues, derived from a SQL
// ORDER BY timestamp clause.
type SortingMode string

const (
	SortTimeAsc  SortingMode = "TIME_ASC"
	SortTimeDesc SortingMode = "TIME_DESC"
)

// LoggedTagValuesInput bundles loggedTagValues' variables.
type LoggedTagValuesInput struct {
	Names             []string
	StartTime         time.Time
	EndTime           time.Time
	MaxNumberOfValues int
	SortingMode       SortingMode
}

// LoggedTagValues calls loggedTagValues with the given filter window.
func (c *Client) LoggedTagValues(ctx context.Context, token string, in LoggedTagValuesInput) ([]TagValue, error) {
	const query = `query LoggedTagValues($names: [String!]!, $startTime: Timestamp!, $endTime: Timestamp!, $maxNumberOfValues: Int, $sortingMode: LoggingSortingMode) {
		loggedTagValues(names: $names, startTime: $startTime, endTime: $endTime, maxNumberOfValues: $maxNumberOfValues, sortingMode: $sortingMode) { name timestamp value quality }
	}`
	vars := map[string]interface{}{
		"names":     in.Names,
		"startTime": in.StartTime.UTC().Format(time.RFC3339Nano),
		"endTime":   in.EndTime.UTC().Format(time.RFC3339Nano),
	}
	if in.MaxNumberOfValues > 0 {
		vars["maxNumberOfValues"] = in.MaxNumberOfValues
	}
	if in.SortingMode != "" {
		vars["sortingMode"] = string(in.SortingMode)
	}
	var out struct {
		LoggedTagValues []TagValue `json:"loggedTagValues"`
	}
	if err := c.do(ctx, token, query, vars, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.LoggedTagValues, nil
}

// Alarm is one active or logged alarm instance, a superset covering both
// activealarms and loggedalarms virtual-table columns.
type Alarm struct {
	Name               string    `json:"name"`
	InstanceID         int64     `json:"instanceId"`
	AlarmGroupID       int64     `json:"alarmGroupId"`
	RaiseTime          time.Time `json:"raiseTime"`
	AcknowledgmentTime time.Time `json:"acknowledgmentTime"`
	ClearTime          time.Time `json:"clearTime"`
	ResetTime          time.Time `json:"resetTime"`
	ModificationTime   time.Time `json:"modificationTime"`
	State              string    `json:"state"`
	Priority           int       `json:"priority"`
	EventText          string    `json:"eventText"`
	InfoText           string    `json:"infoText"`
	Origin             string    `json:"origin"`
	Area               string    `json:"area"`
	Value              string    `json:"value"`
	HostName           string    `json:"hostName"`
	UserName           string    `json:"userName"`
	DurationSeconds    int64     `json:"duration"`
}

// ActiveAlarms calls activeAlarms with the given filter.
func (c *Client) ActiveAlarms(ctx context.Context, token string, systemNames []string, filterString, filterLanguage string) ([]Alarm, error) {
	const query = `query ActiveAlarms($systemNames: [String!], $filterString: String, $filterLanguage: String) {
		activeAlarms(systemNames: $systemNames, filterString: $filterString, filterLanguage: $filterLanguage) {
			name instanceId alarmGroupId raiseTime acknowledgmentTime clearTime resetTime modificationTime
			state priority eventText infoText origin area value hostName userName
		}
	}`
	vars := map[string]interface{}{}
	if len(systemNames) > 0 {
		vars["systemNames"] = systemNames
	}
	if filterString != "" {
		vars["filterString"] = filterString
	}
	if filterLanguage != "" {
		vars["filterLanguage"] = filterLanguage
	}
	var out struct {
		ActiveAlarms []Alarm `json:"activeAlarms"`
	}
	if err := c.do(ctx, token, query, vars, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.ActiveAlarms, nil
}

// LoggedAlarmsInput bundles loggedAlarms' variables.
type LoggedAlarmsInput struct {
	SystemNames        []string
	FilterString       string
	FilterLanguage     string
	StartTime          time.Time
	EndTime            time.Time
	MaxNumberOfResults int
}

// LoggedAlarms calls loggedAlarms with the given filter and time window.
func (c *Client) LoggedAlarms(ctx context.Context, token string, in LoggedAlarmsInput) ([]Alarm, error) {
	const query = `query LoggedAlarms($systemNames: [String!], $filterString: String, $filterLanguage: String, $startTime: Timestamp!, $endTime: Timestamp!, $maxNumberOfResults: Int) {
		loggedAlarms(systemNames: $systemNames, filterString: $filterString, filterLanguage: $filterLanguage, startTime: $startTime, endTime: $endTime, maxNumberOfResults: $maxNumberOfResults) {
			name instanceId alarmGroupId raiseTime acknowledgmentTime clearTime resetTime modificationTime
			state priority eventText infoText origin area value hostName userName duration
		}
	}`
	vars := map[string]interface{}{
		"startTime": in.StartTime.UTC().Format(time.RFC3339Nano),
		"endTime":   in.EndTime.UTC().Format(time.RFC3339Nano),
	}
	if len(in.SystemNames) > 0 {
		vars["systemNames"] = in.SystemNames
	}
	if in.FilterString != "" {
		vars["filterString"] = in.FilterString
	}
	if in.FilterLanguage != "" {
		vars["filterLanguage"] = in.FilterLanguage
	}
	if in.MaxNumberOfResults > 0 {
		vars["maxNumberOfResults"] = in.MaxNumberOfResults
	}
	var out struct {
		LoggedAlarms []Alarm `json:"loggedAlarms"`
	}
	if err := c.do(ctx, token, query, vars, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	return out.LoggedAlarms, nil
}

// Browse calls browse(nameFilter) and returns matching tag names.
func (c *Client) Browse(ctx context.Context, token, nameFilter string, objectTypeFilters []string, language string) ([]string, error) {
	const query = `query Browse($nameFilter: String, $objectTypeFilters: [String!], $language: String) {
		browse(nameFilter: $nameFilter, objectTypeFilters: $objectTypeFilters, language: $language) { name }
	}`
	vars := map[string]interface{}{}
	if nameFilter != "" {
		vars["nameFilter"] = nameFilter
	}
	if len(objectTypeFilters) > 0 {
		vars["objectTypeFilters"] = objectTypeFilters
	}
	if language != "" {
		vars["language"] = language
	}
	var out struct {
		Browse []struct {
			Name string `json:"name"`
		} `json:"browse"`
	}
	if err := c.do(ctx, token, query, vars, &out); err != nil {
		return nil, trace.Wrap(err)
	}
	names := make([]string, len(out.Browse))
	for i, b := range out.Browse {
		names[i] = b.Name
	}
	return names, nil
}

// Healthy performs a best-effort reachability check against the
// configured endpoint, used by the CLI's startup validation: the process
// exits with status 2 if the GraphQL endpoint cannot be reached.
func (c *Client) Healthy(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, c.url, nil)
	if err != nil {
		return pgerr.Wrap(pgerr.KindInternal, err, "building healthcheck request")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return pgerr.Wrap(pgerr.KindBackend, err, "graphql endpoint %s unreachable", c.url)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 500 {
		return pgerr.New(pgerr.KindBackend, "graphql endpoint %s returned %s", c.url, resp.Status)
	}
	return nil
}
