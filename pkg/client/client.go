// Package client provides a Go SDK for the Taskflow HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/ankittk/taskflow/pkg/models"
)

// Client calls the Taskflow HTTP API. It is safe for concurrent use.
// Every call acts as Worker; the server reads it from the X-Worker and
// X-Worker-Role headers.
type Client struct {
	BaseURL    string        // e.g. "http://localhost:7333"
	APIKey     string        // optional; set for X-API-Key / api_key
	Worker     models.Worker // acting operator sent with every request
	HTTPClient *http.Client  // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL acting as the given worker.
// APIKey is optional; when set, requests use the X-API-Key header.
func New(baseURL string, worker models.Worker, apiKey string) *Client {
	return &Client{BaseURL: baseURL, Worker: worker, APIKey: apiKey}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	u := c.BaseURL + path
	req, err := http.NewRequestWithContext(ctx, method, u, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.APIKey != "" {
		req.Header.Set("X-API-Key", c.APIKey)
	}
	req.Header.Set("X-Worker", c.Worker.Name)
	req.Header.Set("X-Worker-Role", c.Worker.Role)
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func taskPath(taskID int64) string {
	return "/tasks/" + strconv.FormatInt(taskID, 10)
}

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// ListTasks returns the tasks visible to the acting worker: its own
// assignments plus any unassigned tasks poolable at its role.
func (c *Client) ListTasks(ctx context.Context) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, "/tasks", nil, &out)
	return out, err
}

// CreateTask creates a task from an intake submission reference.
func (c *Client) CreateTask(ctx context.Context, submissionRef string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/tasks", map[string]string{"submission_ref": submissionRef}, &out)
	return &out, err
}

// GetTask returns one task by ID, subject to pool visibility.
func (c *Client) GetTask(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, taskPath(taskID), nil, &out)
	return &out, err
}

// AssignToRole routes a fresh task into a role's pool (approver only).
func (c *Client) AssignToRole(ctx context.Context, taskID int64, role string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID)+"/assign", map[string]string{"role": role}, &out)
	return &out, err
}

// Claim takes an unassigned pool task for the acting worker.
func (c *Client) Claim(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID)+"/claim", nil, &out)
	return &out, err
}

// Reassign changes the task's assignee without changing stage (approver only).
func (c *Client) Reassign(ctx context.Context, taskID int64, assignee string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID)+"/reassign", map[string]string{"assignee": assignee}, &out)
	return &out, err
}

// SubmitDeliverable attaches a deliverable and advances the task.
func (c *Client) SubmitDeliverable(ctx context.Context, taskID int64, kind, contentRef string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID)+"/deliverables", map[string]string{
		"kind": kind, "content_ref": contentRef,
	}, &out)
	return &out, err
}

// Approve advances a task out of a review stage (approver only).
func (c *Client) Approve(ctx context.Context, taskID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID)+"/approve", nil, &out)
	return &out, err
}

// Reject returns a task under review to its author (approver only).
// Reason is required by the server.
func (c *Client) Reject(ctx context.Context, taskID int64, reason string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(taskID)+"/reject", map[string]string{"reason": reason}, &out)
	return &out, err
}

// ListDeliverables returns all deliverables attached to a task, oldest first.
func (c *Client) ListDeliverables(ctx context.Context, taskID int64) ([]models.Deliverable, error) {
	var out []models.Deliverable
	err := c.doJSON(ctx, http.MethodGet, taskPath(taskID)+"/deliverables", nil, &out)
	return out, err
}

// ListAuditLog returns a task's full audit trail, oldest first.
func (c *Client) ListAuditLog(ctx context.Context, taskID int64) ([]models.AuditEntry, error) {
	var out []models.AuditEntry
	err := c.doJSON(ctx, http.MethodGet, taskPath(taskID)+"/audit", nil, &out)
	return out, err
}
