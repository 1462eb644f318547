// Package rest implements remote.Client against a PostgREST-style HTTP API
// (tables under /rest/v1, filters as query parameters, conflict handling via
// the Prefer header).
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"example.com/learnsync/internal/remote"
)

// TokenSource supplies the bearer token for the signed-in identity.
type TokenSource interface {
	Token() (string, bool)
}

// Client talks to the backend's REST endpoint.
type Client struct {
	baseURL    string
	apiKey     string
	tokens     TokenSource
	httpClient *http.Client
}

// Option configures a Client.
type Option func(*Client)

// WithAPIKey sets the project key sent in the apikey header.
func WithAPIKey(key string) Option {
	return func(c *Client) {
		c.apiKey = key
	}
}

// WithTokenSource sets where per-request bearer tokens come from.
func WithTokenSource(tokens TokenSource) Option {
	return func(c *Client) {
		c.tokens = tokens
	}
}

// WithHTTPClient overrides the HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

// NewClient constructs a client with sane defaults.
func NewClient(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Upsert implements remote.Client.
func (c *Client) Upsert(ctx context.Context, table string, rows []remote.Row, conflictKey string) error {
	if len(rows) == 0 {
		return nil
	}
	params := url.Values{}
	params.Set("on_conflict", conflictKey)
	return c.write(ctx, "upsert", table, params, rows, "resolution=merge-duplicates,return=minimal")
}

// Insert implements remote.Client.
func (c *Client) Insert(ctx context.Context, table string, rows []remote.Row) error {
	if len(rows) == 0 {
		return nil
	}
	params := url.Values{}
	params.Set("on_conflict", "id")
	return c.write(ctx, "insert", table, params, rows, "resolution=merge-duplicates,return=minimal")
}

func (c *Client) write(ctx context.Context, op, table string, params url.Values, rows []remote.Row, prefer string) error {
	body, err := json.Marshal(rows)
	if err != nil {
		return &remote.Error{Op: op, Table: table, Err: err}
	}
	req, err := c.newRequest(ctx, http.MethodPost, table, params, bytes.NewReader(body))
	if err != nil {
		return &remote.Error{Op: op, Table: table, Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Prefer", prefer)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return &remote.Error{Op: op, Table: table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return statusError(op, table, resp)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Select implements remote.Client.
func (c *Client) Select(ctx context.Context, table string, q remote.SelectQuery) ([]remote.Row, error) {
	params := url.Values{}
	if len(q.Columns) > 0 {
		params.Set("select", strings.Join(q.Columns, ","))
	}
	for _, f := range q.Filters {
		params.Add(f.Column, fmt.Sprintf("%s.%v", f.Op, f.Value))
	}
	if q.OrderBy != "" {
		dir := "asc"
		if q.Descending {
			dir = "desc"
		}
		params.Set("order", q.OrderBy+"."+dir)
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}

	req, err := c.newRequest(ctx, http.MethodGet, table, params, nil)
	if err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return nil, statusError("select", table, resp)
	}

	dec := json.NewDecoder(resp.Body)
	dec.UseNumber()
	var rows []remote.Row
	if err := dec.Decode(&rows); err != nil {
		return nil, &remote.Error{Op: "select", Table: table, Err: fmt.Errorf("decode response: %w", err)}
	}
	if rows == nil {
		rows = []remote.Row{}
	}
	return rows, nil
}

func (c *Client) newRequest(ctx context.Context, method, table string, params url.Values, body io.Reader) (*http.Request, error) {
	endpoint := fmt.Sprintf("%s/rest/v1/%s", c.baseURL, url.PathEscape(table))
	if encoded := params.Encode(); encoded != "" {
		endpoint += "?" + encoded
	}
	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return nil, err
	}
	if c.apiKey != "" {
		req.Header.Set("apikey", c.apiKey)
	}
	if c.tokens != nil {
		if token, ok := c.tokens.Token(); ok {
			req.Header.Set("Authorization", "Bearer "+token)
		}
	}
	return req, nil
}

// statusError reads the PostgREST error envelope when present.
func statusError(op, table string, resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	var envelope struct {
		Message string `json:"message"`
		Code    string `json:"code"`
	}
	msg := strings.TrimSpace(string(data))
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != "" {
		msg = envelope.Message
		if envelope.Code != "" {
			msg = envelope.Code + ": " + msg
		}
	}
	if msg == "" {
		msg = http.StatusText(resp.StatusCode)
	}
	return &remote.Error{Op: op, Table: table, Status: resp.StatusCode, Message: msg}
}
