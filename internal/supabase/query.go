package supabase

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// QueryBuilder builds one PostgREST call.
type QueryBuilder struct {
	client  *Client
	table   string
	method  string
	columns string
	filters []string
	orders  []string
	query   url.Values
	body    []byte
	headers map[string]string
	err     error
}

// From starts a query against a table. The access token stored in ctx by WithAccessToken,
// if any, is sent with it.
func (c *Client) From(table string) *QueryBuilder {
	return &QueryBuilder{
		client:  c,
		table:   table,
		method:  http.MethodGet,
		columns: "*",
		query:   url.Values{},
		headers: make(map[string]string),
	}
}

func (q *QueryBuilder) Select(columns string) *QueryBuilder {
	q.method = http.MethodGet
	q.columns = columns
	return q
}

func (q *QueryBuilder) Insert(data any) *QueryBuilder {
	q.method = http.MethodPost
	q.setBody(data)
	q.headers["Prefer"] = "return=representation"
	return q
}

// Upsert inserts rows, resolving primary key conflicts either by merging or by keeping the existing row.
func (q *QueryBuilder) Upsert(data any, onConflict string, ignoreDuplicates bool) *QueryBuilder {
	q.method = http.MethodPost
	q.setBody(data)
	if ignoreDuplicates {
		q.headers["Prefer"] = "return=representation,resolution=ignore-duplicates"
	} else {
		q.headers["Prefer"] = "return=representation,resolution=merge-duplicates"
	}
	if onConflict != "" {
		q.query.Set("on_conflict", onConflict)
	}
	return q
}

func (q *QueryBuilder) Update(data any) *QueryBuilder {
	q.method = http.MethodPatch
	q.setBody(data)
	q.headers["Prefer"] = "return=representation"
	return q
}

func (q *QueryBuilder) setBody(data any) {
	body, err := json.Marshal(data)
	if err != nil {
		q.err = fmt.Errorf("marshal body: %w", err)
		return
	}
	q.body = body
}

func (q *QueryBuilder) Eq(column string, value any) *QueryBuilder {
	q.filters = append(q.filters, column+"=eq."+url.QueryEscape(fmt.Sprint(value)))
	return q
}

func (q *QueryBuilder) In(column string, values []string) *QueryBuilder {
	escaped := make([]string, len(values))
	for i, v := range values {
		escaped[i] = url.QueryEscape(v)
	}
	q.filters = append(q.filters, fmt.Sprintf("%s=in.(%s)", column, strings.Join(escaped, ",")))
	return q
}

// Order adds an order clause; later calls are lower priority.
func (q *QueryBuilder) Order(column string, ascending bool) *QueryBuilder {
	dir := "desc"
	if ascending {
		dir = "asc"
	}
	q.orders = append(q.orders, column+"."+dir)
	return q
}

// Single asks for exactly one row. A miss is reported as an *Error for which IsNotFound is true.
func (q *QueryBuilder) Single() *QueryBuilder {
	q.headers["Accept"] = "application/vnd.pgrst.object+json"
	return q
}

func (q *QueryBuilder) Execute(ctx context.Context) ([]byte, error) {
	if q.err != nil {
		return nil, q.err
	}

	respBody, statusCode, err := q.client.do(ctx, q.method, q.buildURL(), q.body, q.headers, AccessToken(ctx))
	if err != nil {
		return nil, err
	}
	if statusCode >= 400 {
		return nil, parseError(respBody, statusCode)
	}

	return respBody, nil
}

func (q *QueryBuilder) ExecuteInto(ctx context.Context, dest any) error {
	data, err := q.Execute(ctx)
	if err != nil {
		return err
	}

	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}

func (q *QueryBuilder) buildURL() string {
	urlStr := q.client.restURL + "/" + url.PathEscape(q.table)

	params := make([]string, 0, len(q.filters)+3)
	if q.method == http.MethodGet && q.columns != "" {
		params = append(params, "select="+url.QueryEscape(q.columns))
	}
	params = append(params, q.filters...)
	if len(q.orders) > 0 {
		params = append(params, "order="+strings.Join(q.orders, ","))
	}
	if encoded := q.query.Encode(); encoded != "" {
		params = append(params, encoded)
	}

	if len(params) > 0 {
		urlStr += "?" + strings.Join(params, "&")
	}
	return urlStr
}

// RPC calls a Postgres function and decodes its result into dest, which may be nil.
func (c *Client) RPC(ctx context.Context, fn string, params any, dest any) error {
	body, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("marshal params: %w", err)
	}

	respBody, statusCode, err := c.do(ctx, http.MethodPost, c.restURL+"/rpc/"+url.PathEscape(fn), body, nil, AccessToken(ctx))
	if err != nil {
		return err
	}
	if statusCode >= 400 {
		return parseError(respBody, statusCode)
	}

	if dest == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, dest); err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}
	return nil
}
