// Package gateway provides the HTTP client for the remote
// face-recognition service: identity matching, enrollment and
// attendance log export.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// MatchResult is the service's answer to a login or logout attempt.
type MatchResult struct {
	Matched  bool     `json:"match_status"`
	Identity string   `json:"user"`
	Distance *float64 `json:"distance"`
	Message  string   `json:"message"`
}

// EnrollResult is the service's answer to an enrollment request.
type EnrollResult struct {
	Status  int    `json:"registration_status"`
	Message string `json:"message"`
	Error   string `json:"error"`
}

// OK reports whether the enrollment was accepted.
func (r EnrollResult) OK() bool {
	return r.Status == http.StatusOK
}

// HealthResult is the service's health report.
type HealthResult struct {
	OK    bool     `json:"ok"`
	Users []string `json:"users"`
}

// Client talks to the recognition service. All calls are single-shot
// request/response exchanges; the client never retries.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the service at baseURL.
func NewClient(baseURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

// Login submits a snapshot for identity matching.
func (c *Client) Login(ctx context.Context, image []byte) (MatchResult, error) {
	return c.match(ctx, "/login", image)
}

// Logout submits a snapshot for de-authentication matching.
func (c *Client) Logout(ctx context.Context, image []byte) (MatchResult, error) {
	return c.match(ctx, "/logout", image)
}

func (c *Client) match(ctx context.Context, path string, image []byte) (MatchResult, error) {
	var result MatchResult

	body, contentType, err := imageForm(image)
	if err != nil {
		return result, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, body)
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("submit %s: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("submit %s: service returned %s", path, resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode %s response: %w", path, err)
	}

	return result, nil
}

// Enroll registers a new identity from a display name and a snapshot.
// The service appends to existing encodings when the name is already
// known, so repeat enrollments improve matching robustness.
func (c *Client) Enroll(ctx context.Context, name string, image []byte) (EnrollResult, error) {
	var result EnrollResult

	body, contentType, err := imageForm(image)
	if err != nil {
		return result, err
	}

	endpoint := c.baseURL + "/register_new_user?" + url.Values{"text": {name}}.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return result, err
	}
	req.Header.Set("Content-Type", contentType)

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("submit enrollment: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("submit enrollment: service returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode enrollment response: %w", err)
	}

	return result, nil
}

// ExportLogs retrieves the attendance log archive (a ZIP stream). The
// caller owns the returned reader and must close it.
func (c *Client) ExportLogs(ctx context.Context) (io.ReadCloser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/get_attendance_logs", nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("export logs: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return nil, fmt.Errorf("export logs: service returned %s", resp.Status)
	}

	return resp.Body, nil
}

// Health checks the service and returns the enrolled user list.
func (c *Client) Health(ctx context.Context) (HealthResult, error) {
	var result HealthResult

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return result, err
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return result, fmt.Errorf("gateway health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return result, fmt.Errorf("gateway health: service returned %s", resp.Status)
	}

	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return result, fmt.Errorf("decode health response: %w", err)
	}

	return result, nil
}

// imageForm builds a multipart form with the snapshot under the "file"
// field, the shape the recognition service expects.
func imageForm(image []byte) (io.Reader, string, error) {
	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)

	part, err := w.CreateFormFile("file", "snapshot.jpg")
	if err != nil {
		return nil, "", err
	}
	if _, err := part.Write(image); err != nil {
		return nil, "", err
	}
	if err := w.Close(); err != nil {
		return nil, "", err
	}

	return &buf, w.FormDataContentType(), nil
}
