package tdpriosdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal tdprio HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL:  baseURL,
		BasePath: "v0",
		Timeout:  30 * time.Second,
	}
}

// DatasetSummary describes a dataset in listings.
type DatasetSummary struct {
	Name       string  `json:"name"`
	Items      int     `json:"items"`
	Lines      float64 `json:"lines"`
	Issues     float64 `json:"issues"`
	OpenEffort float64 `json:"open_reliability_effort"`
}

// Item is a technical-debt item as the API returns it.
type Item struct {
	Addressed       bool    `json:"addressed"`
	Spend           float64 `json:"spend"`
	Defined         float64 `json:"defined"`
	LinesChanged    int     `json:"lines_changed"`
	DebtMaintain    float64 `json:"debt_maintain"`
	RemediationTime float64 `json:"remediation_time"`
	Last            bool    `json:"last"`
	ID              int     `json:"id"`
}

// Dataset is a full dataset with its initial metrics keyed by field name.
type Dataset struct {
	Name    string             `json:"name"`
	Items   []Item             `json:"items"`
	Metrics map[string]float64 `json:"metrics"`
}

// Plan is the outcome of evaluating an explicit order.
type Plan struct {
	Dataset string             `json:"dataset"`
	Order   []int              `json:"order"`
	IDs     []int              `json:"ids"`
	Metrics map[string]float64 `json:"metrics"`
	Reward  float64            `json:"reward"`
}

// Run is one simulation count inside a sweep.
type Run struct {
	Simulations int     `json:"simulations"`
	Order       []int   `json:"order"`
	Reward      float64 `json:"reward"`
}

// Sweep is a stored rollout sweep.
type Sweep struct {
	ID                string  `json:"id"`
	Dataset           string  `json:"dataset"`
	MaxSimulations    int     `json:"max_simulations"`
	ExplorationWeight float64 `json:"exploration_weight"`
	Seed              int64   `json:"seed"`
	CreatedAt         string  `json:"created_at"`
	Runs              []Run   `json:"runs"`
	Best              *Run    `json:"best"`
}

// SweepRequest parameterizes RunSweep; zero fields use server defaults.
type SweepRequest struct {
	Dataset           string  `json:"dataset,omitempty"`
	MaxSimulations    int     `json:"max_simulations,omitempty"`
	ExplorationWeight float64 `json:"exploration_weight,omitempty"`
	Seed              *int64  `json:"seed,omitempty"`
	Parallelism       int     `json:"parallelism,omitempty"`
}

// Trend regroups a sweep by position.
type Trend struct {
	SweepID     string  `json:"sweep_id"`
	Simulations []int   `json:"simulations"`
	Positions   [][]int `json:"positions"`
}

// Event represents a log entry.
type Event struct {
	ID         int64          `json:"id"`
	TS         string         `json:"ts"`
	Type       string         `json:"type"`
	EntityKind string         `json:"entity_kind"`
	EntityID   string         `json:"entity_id"`
	Payload    map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// ListDatasets returns dataset summaries.
func (c *Client) ListDatasets(ctx context.Context) ([]DatasetSummary, error) {
	var resp struct {
		Items []DatasetSummary `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, c.apiPath("datasets"), nil, &resp)
	return resp.Items, err
}

// GetDataset fetches a dataset by name.
func (c *Client) GetDataset(ctx context.Context, name string) (Dataset, error) {
	var resp Dataset
	err := c.do(ctx, http.MethodGet, c.apiPath("datasets/"+url.PathEscape(name)), nil, &resp)
	return resp, err
}

// EvaluatePlan scores an order of item indices on a dataset.
func (c *Client) EvaluatePlan(ctx context.Context, dataset string, order []int) (Plan, error) {
	body := map[string]any{
		"dataset": dataset,
		"order":   order,
	}
	var resp Plan
	err := c.do(ctx, http.MethodPost, c.apiPath("plans/evaluate"), body, &resp)
	return resp, err
}

// RunSweep runs and stores a rollout sweep.
func (c *Client) RunSweep(ctx context.Context, req SweepRequest) (Sweep, error) {
	var resp Sweep
	err := c.do(ctx, http.MethodPost, c.apiPath("sweeps"), req, &resp)
	return resp, err
}

// ListSweeps returns stored sweep headers, newest first.
func (c *Client) ListSweeps(ctx context.Context, dataset string, limit int) ([]Sweep, error) {
	q := url.Values{}
	if dataset != "" {
		q.Set("dataset", dataset)
	}
	if limit > 0 {
		q.Set("limit", fmt.Sprintf("%d", limit))
	}
	endpoint := c.apiPath("sweeps")
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp struct {
		Items []Sweep `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

// GetSweep fetches a sweep with its runs.
func (c *Client) GetSweep(ctx context.Context, id string) (Sweep, error) {
	var resp Sweep
	err := c.do(ctx, http.MethodGet, c.apiPath("sweeps/"+url.PathEscape(id)), nil, &resp)
	return resp, err
}

// SweepTrend fetches the per-position trend of a sweep.
func (c *Client) SweepTrend(ctx context.Context, id string) (Trend, error) {
	var resp Trend
	err := c.do(ctx, http.MethodGet, c.apiPath(fmt.Sprintf("sweeps/%s/trend", url.PathEscape(id))), nil, &resp)
	return resp, err
}

// DeleteSweep removes a stored sweep.
func (c *Client) DeleteSweep(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, c.apiPath("sweeps/"+url.PathEscape(id)), nil, nil)
}

// Events returns recent events, newest first.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := c.apiPath("events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) apiPath(p string) string {
	base := strings.Trim(c.BasePath, "/")
	if base == "" {
		base = "v0"
	}
	return base + "/" + strings.TrimLeft(p, "/")
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
