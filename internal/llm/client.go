package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

// Client is the boundary to the external generation service. Calls are
// single-shot: there is no automatic retry, failures surface to the caller
// and the clinician retries manually.
type Client interface {
	GenerateDifferential(ctx context.Context, req *DifferentialRequest) (*DifferentialResponse, error)
	Finalize(ctx context.Context, req *FinalizeRequest) (*FinalizeResponse, error)
}

type DifferentialRequest struct {
	EncounterID    string  `json:"encounter_id"`
	ChiefComplaint string  `json:"chief_complaint"`
	Content        string  `json:"content"`
	TrendLocation  *string `json:"trend_location,omitempty"`
}

// DifferentialResponse carries the server-computed submission counters
// alongside the opaque domain payload.
type DifferentialResponse struct {
	SubmissionCount int             `json:"submissionCount"`
	IsLocked        bool            `json:"isLocked"`
	Differential    json.RawMessage `json:"differential"`
	SuggestedCDRs   []string        `json:"suggestedCdrs"`
}

type FinalizeRequest struct {
	EncounterID string          `json:"encounter_id"`
	Mode        string          `json:"mode"`
	Narrative   string          `json:"narrative"`
	Workup      json.RawMessage `json:"workup"`
	Disposition json.RawMessage `json:"disposition"`
	CDRSummary  json.RawMessage `json:"cdr_summary"`
}

type FinalizeResponse struct {
	SubmissionCount int    `json:"submissionCount"`
	IsLocked        bool   `json:"isLocked"`
	Document        string `json:"document"`
	QuotaRemaining  int    `json:"quotaRemaining"`
}

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

type httpClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *zerolog.Logger
}

func NewClient(cfg Config, logger *zerolog.Logger) Client {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &httpClient{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		client:  &http.Client{Timeout: timeout},
		logger:  logger,
	}
}

func (c *httpClient) GenerateDifferential(ctx context.Context, req *DifferentialRequest) (*DifferentialResponse, error) {
	var resp DifferentialResponse
	if err := c.post(ctx, "/v1/generate/differential", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to generate differential: %w", err)
	}
	return &resp, nil
}

func (c *httpClient) Finalize(ctx context.Context, req *FinalizeRequest) (*FinalizeResponse, error) {
	var resp FinalizeResponse
	if err := c.post(ctx, "/v1/generate/finalize", req, &resp); err != nil {
		return nil, fmt.Errorf("failed to finalize encounter: %w", err)
	}
	return &resp, nil
}

func (c *httpClient) post(ctx context.Context, path string, body, out interface{}) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	start := time.Now()
	httpResp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer httpResp.Body.Close()

	c.logger.Debug().
		Str("path", path).
		Int("status", httpResp.StatusCode).
		Dur("latency", time.Since(start)).
		Msg("generation call completed")

	respBody, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if httpResp.StatusCode != http.StatusOK {
		return fmt.Errorf("generation service returned %d: %s", httpResp.StatusCode, truncate(respBody, 512))
	}

	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func truncate(b []byte, n int) string {
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}
