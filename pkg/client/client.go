// Package client provides a Go SDK for the contentd HTTP API.
package client

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/houghtp/terra-automation-platform-sub002/pkg/models"
)

// Client calls the contentd HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:3547"
	APIKey     string       // optional; set for X-API-Key
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL (e.g. "http://localhost:3547").
// APIKey is optional; when set, requests carry the X-API-Key header.
func New(baseURL, apiKey string) *Client {
	return &Client{BaseURL: baseURL, APIKey: apiKey}
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

// Health returns the /health response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/health", nil, &out)
	return out.OK, err
}

// Config returns the /config response.
func (c *Client) Config(ctx context.Context) (*models.Config, error) {
	var out models.Config
	err := c.doJSON(ctx, http.MethodGet, "/config", nil, &out)
	return &out, err
}

// Channels returns the variant channels the daemon can adapt content for.
func (c *Client) Channels(ctx context.Context) ([]string, error) {
	var out struct {
		Channels []string `json:"channels"`
	}
	err := c.doJSON(ctx, http.MethodGet, "/channels", nil, &out)
	return out.Channels, err
}

// NewPlan is the request body for CreatePlan. Title is required; zero values
// for MinSEOScore and MaxIterations take the server defaults.
type NewPlan struct {
	TenantID       string   `json:"tenant_id,omitempty"`
	Title          string   `json:"title"`
	Description    *string  `json:"description,omitempty"`
	TargetAudience *string  `json:"target_audience,omitempty"`
	Tone           *string  `json:"tone,omitempty"`
	SEOKeywords    []string `json:"seo_keywords,omitempty"`
	SkipResearch   bool     `json:"skip_research,omitempty"`
	TargetChannels []string `json:"target_channels,omitempty"`
	MinSEOScore    int      `json:"min_seo_score,omitempty"`
	MaxIterations  int      `json:"max_iterations,omitempty"`
}

// CreatePlan creates a plan and returns it.
func (c *Client) CreatePlan(ctx context.Context, p NewPlan) (*models.Plan, error) {
	var out models.Plan
	err := c.doJSON(ctx, http.MethodPost, "/plans", p, &out)
	return &out, err
}

// ListPlans returns plans, newest first (tenant "" = all, limit 0 = no cap).
func (c *Client) ListPlans(ctx context.Context, tenant string, limit int) ([]models.Plan, error) {
	path := "/plans"
	q := url.Values{}
	if tenant != "" {
		q.Set("tenant", tenant)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Plan
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// GetPlan returns a plan with its refinement history and variants.
func (c *Client) GetPlan(ctx context.Context, planID string) (*models.Plan, error) {
	var out models.Plan
	err := c.doJSON(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID), nil, &out)
	return &out, err
}

// StartPlan launches the generation workflow for a plan.
func (c *Client) StartPlan(ctx context.Context, planID string) error {
	return c.doJSON(ctx, http.MethodPost, "/plans/"+url.PathEscape(planID)+"/start", nil, nil)
}

// CancelPlan cancels a running workflow.
func (c *Client) CancelPlan(ctx context.Context, planID string) error {
	return c.doJSON(ctx, http.MethodPost, "/plans/"+url.PathEscape(planID)+"/cancel", nil, nil)
}

// ListVariants returns the channel variants produced for a plan.
func (c *Client) ListVariants(ctx context.Context, planID string) ([]models.Variant, error) {
	var out []models.Variant
	err := c.doJSON(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID)+"/variants", nil, &out)
	return out, err
}

// StreamEvents subscribes to a plan's SSE progress stream and calls fn for
// each event. It returns nil when the stream ends after a terminal event,
// fn's error if fn fails, or ctx.Err() on cancellation.
func (c *Client) StreamEvents(ctx context.Context, planID string, fn func(models.Event) error) error {
	resp, err := c.do(ctx, http.MethodGet, "/plans/"+url.PathEscape(planID)+"/events", nil)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("api GET /plans/%s/events: status %d", planID, resp.StatusCode)
	}

	sc := bufio.NewScanner(resp.Body)
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if !strings.HasPrefix(line, "data: ") {
			// Blank separators and ": keepalive" comments.
			continue
		}
		var ev models.Event
		if err := json.Unmarshal([]byte(line[len("data: "):]), &ev); err != nil {
			continue
		}
		if ev.Stage == "" {
			// The connected ping carries no stage.
			continue
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return err
	}
	return nil
}
