// Package client talks to the ticklist task service over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"ticklist/internal/model"
	"ticklist/internal/query"
)

const GuestHeader = "X-Session-ID"

type Client struct {
	baseURL string
	http    *http.Client
	session *Session
	logger  *log.Logger
	now     func() time.Time
}

type Option func(*Client)

func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithTimeout bounds every request. Zero leaves requests unbounded.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		hc := *c.http
		hc.Timeout = d
		c.http = &hc
	}
}

func WithSession(s *Session) Option {
	return func(c *Client) { c.session = s }
}

func WithLogger(l *log.Logger) Option {
	return func(c *Client) { c.logger = l }
}

func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		http:    &http.Client{},
		logger:  log.New(io.Discard, "", 0),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.session == nil {
		c.session = NewSession(SessionData{})
	}
	return c
}

func (c *Client) Session() *Session { return c.session }

func (c *Client) BaseURL() string { return c.baseURL }

// ListQuery mirrors the list endpoint's query parameters.
type ListQuery struct {
	Criteria query.Criteria
	Sort     query.SortField
	Order    query.Order
}

func (q ListQuery) values() url.Values {
	v := url.Values{}
	if q.Criteria.Completed != nil {
		v.Set("completed", fmt.Sprint(*q.Criteria.Completed))
	}
	if q.Criteria.Category != "" {
		v.Set("category", q.Criteria.Category)
	}
	if q.Criteria.Tag != "" {
		v.Set("tag", q.Criteria.Tag)
	}
	if q.Criteria.Search != "" {
		v.Set("search", q.Criteria.Search)
	}
	if q.Sort != "" {
		v.Set("sort", string(q.Sort))
	}
	if q.Order != "" {
		v.Set("order", string(q.Order))
	}
	return v
}

func (c *Client) ListTasks(ctx context.Context) ([]model.Task, error) {
	return c.SearchTasks(ctx, ListQuery{})
}

func (c *Client) SearchTasks(ctx context.Context, q ListQuery) ([]model.Task, error) {
	path := "/api/tasks"
	if enc := q.values().Encode(); enc != "" {
		path += "?" + enc
	}
	var out []model.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []model.Task{}
	}
	return out, nil
}

func (c *Client) GetTask(ctx context.Context, id string) (model.Task, error) {
	var out model.Task
	err := c.do(ctx, http.MethodGet, "/api/tasks/"+url.PathEscape(id), nil, &out)
	return out, err
}

func (c *Client) CreateTask(ctx context.Context, d model.Draft) (model.Task, error) {
	var out model.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks", d, &out)
	return out, err
}

func (c *Client) UpdateTask(ctx context.Context, id string, p model.Patch) (model.Task, error) {
	var out model.Task
	err := c.do(ctx, http.MethodPut, "/api/tasks/"+url.PathEscape(id), p, &out)
	return out, err
}

func (c *Client) ToggleCompletion(ctx context.Context, id string, completed bool) (model.Task, error) {
	var out model.Task
	body := map[string]bool{"completed": completed}
	err := c.do(ctx, http.MethodPatch, "/api/tasks/"+url.PathEscape(id)+"/complete", body, &out)
	return out, err
}

func (c *Client) DeleteTask(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/api/tasks/"+url.PathEscape(id), nil, nil)
}

func (c *Client) Stats(ctx context.Context) (query.StatusCounts, error) {
	var out query.StatusCounts
	err := c.do(ctx, http.MethodGet, "/api/tasks/stats", nil, &out)
	return out, err
}

func (c *Client) Tags(ctx context.Context) ([]query.TagUsage, error) {
	var out []query.TagUsage
	err := c.do(ctx, http.MethodGet, "/api/tags", nil, &out)
	return out, err
}

// ImportTasks uploads a JSON export document and returns the created tasks.
func (c *Client) ImportTasks(ctx context.Context, doc []byte) ([]model.Task, error) {
	var out []model.Task
	err := c.do(ctx, http.MethodPost, "/api/tasks/import", json.RawMessage(doc), &out)
	return out, err
}

// Download is a server-generated export file.
type Download struct {
	Filename    string
	ContentType string
	Body        []byte
}

func (c *Client) ExportTasks(ctx context.Context, format string) (Download, error) {
	res, err := c.send(ctx, http.MethodGet, "/api/tasks/export?format="+url.QueryEscape(format), nil)
	if err != nil {
		return Download{}, err
	}
	defer res.Body.Close()
	body, err := io.ReadAll(res.Body)
	if err != nil {
		return Download{}, &NetworkError{BaseURL: c.baseURL, Err: err}
	}
	if res.StatusCode/100 != 2 {
		return Download{}, decodeError(res.StatusCode, body)
	}
	d := Download{ContentType: res.Header.Get("Content-Type"), Body: body}
	if _, params, err := mime.ParseMediaType(res.Header.Get("Content-Disposition")); err == nil {
		d.Filename = params["filename"]
	}
	return d, nil
}

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(b)
	}

	res, err := c.send(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	raw, err := io.ReadAll(res.Body)
	if err != nil {
		return &NetworkError{BaseURL: c.baseURL, Err: err}
	}
	if res.StatusCode/100 != 2 {
		apiErr := decodeError(res.StatusCode, raw)
		c.logger.Printf("[client] %s %s: %v", method, path, apiErr)
		return apiErr
	}
	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	data, err := unwrapEnvelope(res.StatusCode, raw)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if tok := c.session.Token(c.now()); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	} else {
		req.Header.Set(GuestHeader, c.session.GuestID())
	}

	res, err := c.http.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &NetworkError{BaseURL: c.baseURL, Err: err}
	}
	return res, nil
}

type envelope struct {
	Success *bool           `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// unwrapEnvelope accepts both the {success,data,timestamp} envelope and bare entities.
func unwrapEnvelope(status int, raw []byte) ([]byte, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return raw, nil
	}
	var env envelope
	if err := json.Unmarshal(trimmed, &env); err != nil || env.Success == nil {
		return raw, nil
	}
	if !*env.Success {
		return nil, decodeError(status, raw)
	}
	return env.Data, nil
}

func decodeError(status int, raw []byte) *APIError {
	e := &APIError{Status: status}
	var body struct {
		Error  json.RawMessage `json:"error"`
		Detail json.RawMessage `json:"detail"`
	}
	if err := json.Unmarshal(raw, &body); err != nil {
		return e
	}
	if len(body.Error) > 0 {
		var structured struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		var plain string
		switch {
		case json.Unmarshal(body.Error, &structured) == nil:
			e.Code = structured.Code
			e.Message = structured.Message
		case json.Unmarshal(body.Error, &plain) == nil:
			e.Message = plain
		}
	}
	if e.Message == "" && len(body.Detail) > 0 {
		var detail string
		if json.Unmarshal(body.Detail, &detail) == nil {
			e.Message = detail
		}
	}
	return e
}

// IsAuthError reports failures that should send the user back to sign-in.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrUnauthorized)
}
