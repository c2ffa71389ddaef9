// Package apiclient is an HTTP client for the remote task API.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/marcus/offtask/internal/models"
)

// DefaultTimeout bounds every request unless overridden with WithTimeout.
const DefaultTimeout = 10 * time.Second

// ErrNotFound matches an *APIError with status 404 via errors.Is.
var ErrNotFound = errors.New("not found")

// NetworkError is a transport failure: the request never produced an HTTP
// response.
type NetworkError struct {
	Op      string
	Err     error
	Timeout bool
}

func (e *NetworkError) Error() string {
	if e.Timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// APIError is a non-2xx response from the server.
type APIError struct {
	Status  int
	Message string
	Detail  string
}

func (e *APIError) Error() string {
	if e.Detail != "" {
		return fmt.Sprintf("HTTP %d: %s (%s)", e.Status, e.Message, e.Detail)
	}
	return fmt.Sprintf("HTTP %d: %s", e.Status, e.Message)
}

// Is reports 404 responses as ErrNotFound.
func (e *APIError) Is(target error) bool {
	return target == ErrNotFound && e.Status == http.StatusNotFound
}

// IsClient reports a 4xx status.
func (e *APIError) IsClient() bool { return e.Status >= 400 && e.Status < 500 }

// IsServer reports a 5xx status.
func (e *APIError) IsServer() bool { return e.Status >= 500 }

// IsTimeout reports whether err is a request that ran out of time.
func IsTimeout(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Timeout
}

// Client talks to the remote task API rooted at BaseURL (e.g.
// http://localhost:3000/api).
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Timeout time.Duration
}

// Option configures a Client.
type Option func(*Client)

// WithTimeout sets the per-request timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.Timeout = d }
}

// WithHTTPClient replaces the underlying http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.HTTP = hc }
}

// New creates a new API client.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		HTTP:    &http.Client{},
		Timeout: DefaultTimeout,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// --- Wire types (mirrors internal/api, independently defined) ---

// envelope is the response wrapper used by every endpoint.
type envelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data,omitempty"`
	Total   *int            `json:"total,omitempty"`
	Message string          `json:"message,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// CreateRequest is the body for POST /tasks. The client supplies the id and
// timestamps so a replayed create is recognized by the server.
type CreateRequest struct {
	ID          string          `json:"id,omitempty"`
	Title       string          `json:"title"`
	Description string          `json:"description,omitempty"`
	Completed   bool            `json:"completed,omitempty"`
	Priority    models.Priority `json:"priority,omitempty"`
	Category    string          `json:"category,omitempty"`
	DueDate     string          `json:"dueDate,omitempty"`
	CreatedAt   *time.Time      `json:"createdAt,omitempty"`
	UpdatedAt   *time.Time      `json:"updatedAt,omitempty"`
}

// UpdateRequest is the body for PUT /tasks/{id}. Nil fields are left alone.
type UpdateRequest struct {
	Title       *string          `json:"title,omitempty"`
	Description *string          `json:"description,omitempty"`
	Completed   *bool            `json:"completed,omitempty"`
	Priority    *models.Priority `json:"priority,omitempty"`
	Category    *string          `json:"category,omitempty"`
	DueDate     *string          `json:"dueDate,omitempty"`
	UpdatedAt   *time.Time       `json:"updatedAt,omitempty"`
}

// CreateRequestFromTask builds a create body carrying the full local state.
func CreateRequestFromTask(t models.Task) CreateRequest {
	created, updated := t.CreatedAt, t.UpdatedAt
	return CreateRequest{
		ID:          t.ID,
		Title:       t.Title,
		Description: t.Description,
		Completed:   t.Completed,
		Priority:    t.Priority,
		Category:    t.Category,
		DueDate:     t.DueDate,
		CreatedAt:   &created,
		UpdatedAt:   &updated,
	}
}

// UpdateRequestFromTask builds an update body setting every mutable field.
func UpdateRequestFromTask(t models.Task) UpdateRequest {
	title, desc, done, pr, cat, due, updated := t.Title, t.Description, t.Completed, t.Priority, t.Category, t.DueDate, t.UpdatedAt
	return UpdateRequest{
		Title:       &title,
		Description: &desc,
		Completed:   &done,
		Priority:    &pr,
		Category:    &cat,
		DueDate:     &due,
		UpdatedAt:   &updated,
	}
}

// --- Task methods ---

// List fetches tasks matching filters.
func (c *Client) List(ctx context.Context, f models.TaskFilters) ([]models.Task, error) {
	q := url.Values{}
	if f.Completed != nil {
		q.Set("completed", strconv.FormatBool(*f.Completed))
	}
	if f.Priority != "" {
		q.Set("priority", string(f.Priority))
	}
	if f.Category != "" {
		q.Set("category", f.Category)
	}
	if f.Search != "" {
		q.Set("search", f.Search)
	}
	path := "/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}

	var tasks []models.Task
	if err := c.do(ctx, http.MethodGet, path, nil, &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// Get fetches one task.
func (c *Client) Get(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodGet, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Create creates a task on the server.
func (c *Client) Create(ctx context.Context, req CreateRequest) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPost, "/tasks", req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Update applies a partial update on the server.
func (c *Client) Update(ctx context.Context, id string, req UpdateRequest) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPut, "/tasks/"+url.PathEscape(id), req, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Delete removes a task on the server and returns the deleted copy.
func (c *Client) Delete(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodDelete, "/tasks/"+url.PathEscape(id), nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Toggle flips completion on the server.
func (c *Client) Toggle(ctx context.Context, id string) (*models.Task, error) {
	var t models.Task
	if err := c.do(ctx, http.MethodPatch, "/tasks/"+url.PathEscape(id)+"/toggle", nil, &t); err != nil {
		return nil, err
	}
	return &t, nil
}

// Stats fetches server-side task statistics.
func (c *Client) Stats(ctx context.Context) (*models.TaskStats, error) {
	var s models.TaskStats
	if err := c.do(ctx, http.MethodGet, "/stats", nil, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Ping checks reachability via GET /healthz. Any HTTP response counts as
// reachable; only transport failures are returned.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return networkError("GET /healthz", err)
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, c.Timeout)
}

func networkError(op string, err error) *NetworkError {
	ne := &NetworkError{Op: op, Err: err}
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		ne.Timeout = true
	}
	return ne
}

// do executes a request and decodes the envelope's data field into result.
func (c *Client) do(ctx context.Context, method, path string, body, result any) error {
	op := method + " " + path

	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	ctx, cancel := c.withTimeout(ctx)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return networkError(op, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return networkError(op, fmt.Errorf("read response: %w", err))
	}

	var env envelope
	decodeErr := json.Unmarshal(respBody, &env)

	if resp.StatusCode >= 400 {
		apiErr := &APIError{Status: resp.StatusCode, Message: http.StatusText(resp.StatusCode)}
		if decodeErr == nil && env.Message != "" {
			apiErr.Message = env.Message
			apiErr.Detail = env.Error
		}
		return apiErr
	}

	if decodeErr != nil {
		return fmt.Errorf("unmarshal response: %w", decodeErr)
	}
	if result != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, result); err != nil {
			return fmt.Errorf("unmarshal data: %w", err)
		}
	}
	return nil
}
