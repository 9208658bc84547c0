package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// --- Response types (дублируются из api/dto.go, CLI не импортирует internal/api) ---

// JobSummary — краткое представление job из API.
type JobSummary struct {
	ID        string `json:"id"`
	Platform  string `json:"platform"`
	Topic     string `json:"topic"`
	Status    string `json:"status"`
	Error     string `json:"error,omitempty"`
	CreatedAt string `json:"created_at"`
}

// StageView — состояние stage из API.
type StageView struct {
	ID        string `json:"id"`
	Type      string `json:"type"`
	Status    string `json:"status"`
	Attempt   int    `json:"attempt,omitempty"`
	ErrorKind string `json:"error_kind,omitempty"`
	Error     string `json:"error,omitempty"`
}

// JobDetail — полное состояние job из API.
type JobDetail struct {
	JobID         string      `json:"job_id"`
	Status        string      `json:"status"`
	Progress      float64     `json:"progress"`
	Stages        []StageView `json:"stages"`
	FinalArtifact string      `json:"final_artifact,omitempty"`
	Error         string      `json:"error,omitempty"`
	CreatedAt     string      `json:"created_at"`
	StartedAt     string      `json:"started_at,omitempty"`
	FinishedAt    string      `json:"finished_at,omitempty"`
}

// ArtifactResponse — ссылка на финальный артефакт.
type ArtifactResponse struct {
	JobID         string `json:"job_id"`
	FinalArtifact string `json:"final_artifact"`
}

// --- Request types ---

// CreateJobRequest — создание job.
type CreateJobRequest struct {
	Platform    string `json:"platform"`
	Audience    string `json:"audience,omitempty"`
	Topic       string `json:"topic"`
	DurationSec int    `json:"duration_sec"`
	Tone        string `json:"tone,omitempty"`
}

// ListJobsOpts — параметры фильтрации jobs.
type ListJobsOpts struct {
	Status string
	Limit  int
}

// --- API response wrappers ---

type dataResponse struct {
	Data json.RawMessage `json:"data"`
}

type listResponse struct {
	Data  json.RawMessage `json:"data"`
	Total int             `json:"total"`
}

type errorResponse struct {
	Error struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

// --- Client ---

// Client — HTTP-клиент для Reelforge API.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient создаёт клиент для API.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitJob создаёт новый job.
func (c *Client) SubmitJob(req CreateJobRequest) (*JobSummary, error) {
	var job JobSummary
	err := c.post("/api/v1/jobs", req, &job)
	return &job, err
}

// ListJobs возвращает список jobs с фильтрацией.
func (c *Client) ListJobs(opts ListJobsOpts) ([]JobSummary, error) {
	params := url.Values{}
	if opts.Status != "" {
		params.Set("status", opts.Status)
	}
	if opts.Limit > 0 {
		params.Set("limit", fmt.Sprintf("%d", opts.Limit))
	}

	var jobs []JobSummary
	err := c.list("/api/v1/jobs", params, &jobs)
	return jobs, err
}

// GetJob возвращает агрегированное состояние job.
func (c *Client) GetJob(id string) (*JobDetail, error) {
	var job JobDetail
	err := c.get("/api/v1/jobs/"+id, &job)
	return &job, err
}

// CancelJob запрашивает отмену job.
func (c *Client) CancelJob(id string) (*JobSummary, error) {
	var job JobSummary
	err := c.post("/api/v1/jobs/"+id+"/cancel", nil, &job)
	return &job, err
}

// GetArtifact возвращает ссылку на финальный артефакт.
func (c *Client) GetArtifact(id string) (*ArtifactResponse, error) {
	var artifact ArtifactResponse
	err := c.get("/api/v1/jobs/"+id+"/artifact", &artifact)
	return &artifact, err
}

// --- HTTP helpers ---

func (c *Client) get(path string, result any) error {
	return c.doData(http.MethodGet, path, nil, result)
}

func (c *Client) post(path string, body any, result any) error {
	return c.doData(http.MethodPost, path, body, result)
}

func (c *Client) list(path string, params url.Values, result any) error {
	if len(params) > 0 {
		path = path + "?" + params.Encode()
	}

	resp, err := c.do(http.MethodGet, path, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	var lr listResponse
	if err := json.NewDecoder(resp.Body).Decode(&lr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	return json.Unmarshal(lr.Data, result)
}

func (c *Client) doData(method, path string, body any, result any) error {
	resp, err := c.do(method, path, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := c.checkError(resp); err != nil {
		return err
	}

	// 204 No Content
	if resp.StatusCode == http.StatusNoContent {
		return nil
	}

	var dr dataResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	if result != nil {
		return json.Unmarshal(dr.Data, result)
	}
	return nil
}

func (c *Client) do(method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal request: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := http.NewRequest(method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	return c.httpClient.Do(req)
}

func (c *Client) checkError(resp *http.Response) error {
	if resp.StatusCode < 400 {
		return nil
	}

	var er errorResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return fmt.Errorf("API error: HTTP %d", resp.StatusCode)
	}

	return fmt.Errorf("%s: %s", er.Error.Code, er.Error.Message)
}
