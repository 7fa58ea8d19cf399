package enrichment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Remote function paths, relative to the configured base URL.
const (
	pathEnrichScene      = "/enrich-scene"
	pathFinalizeAnalysis = "/finalize-analysis"
	pathDirectorAnalysis = "/director-analysis"
)

// maxErrorBodyBytes bounds how much of an error response is read into the message.
const maxErrorBodyBytes = 4 << 10

// HTTPClientConfig configures the HTTP client.
type HTTPClientConfig struct {
	// BaseURL is the base URL of the enrichment functions.
	BaseURL string

	// APIKey is sent as a bearer token when set.
	APIKey string

	// Timeout is the per-request timeout.
	Timeout time.Duration

	// RateLimit is the maximum requests per second.
	RateLimit float64

	// BurstSize is the maximum burst of requests allowed.
	BurstSize int

	// UserAgent is the User-Agent header sent with requests.
	UserAgent string
}

// HTTPClient calls the remote enrichment functions.
// It is safe for concurrent use.
type HTTPClient struct {
	client      *http.Client
	rateLimiter *RateLimiter
	config      HTTPClientConfig
}

var (
	_ Enricher          = (*HTTPClient)(nil)
	_ Finalizer         = (*HTTPClient)(nil)
	_ SecondaryAnalyzer = (*HTTPClient)(nil)
)

// NewHTTPClient creates a new HTTP client with rate limiting.
func NewHTTPClient(cfg HTTPClientConfig) *HTTPClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 120 * time.Second
	}
	if cfg.BurstSize == 0 {
		cfg.BurstSize = 5
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = "Helixir-SceneEnrichment/1.0"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")

	return &HTTPClient{
		client: &http.Client{
			Timeout: cfg.Timeout,
		},
		rateLimiter: NewRateLimiter(cfg.RateLimit, cfg.BurstSize),
		config:      cfg,
	}
}

type enrichSceneRequest struct {
	SceneID    uuid.UUID `json:"scene_id"`
	AnalysisID uuid.UUID `json:"analysis_id"`
}

type analysisRequest struct {
	AnalysisID uuid.UUID `json:"analysis_id"`
}

// Enrich asks the remote function to enrich one scene. The function persists the result itself.
func (c *HTTPClient) Enrich(ctx context.Context, sceneID, jobID uuid.UUID) error {
	return c.post(ctx, pathEnrichScene, enrichSceneRequest{SceneID: sceneID, AnalysisID: jobID})
}

// Finalize asks the remote function to finalize the job's analysis.
func (c *HTTPClient) Finalize(ctx context.Context, jobID uuid.UUID) error {
	return c.post(ctx, pathFinalizeAnalysis, analysisRequest{AnalysisID: jobID})
}

// SecondaryAnalysis asks the remote function for the director-style analysis.
func (c *HTTPClient) SecondaryAnalysis(ctx context.Context, jobID uuid.UUID) error {
	return c.post(ctx, pathDirectorAnalysis, analysisRequest{AnalysisID: jobID})
}

// post sends one JSON request and maps any non-2xx response to an APIError.
func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	if err := c.rateLimiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiter wait: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", c.config.UserAgent)
	if c.config.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("request %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}

	return &APIError{
		StatusCode: resp.StatusCode,
		Message:    errorMessage(resp),
	}
}

// errorMessage extracts a readable message from an error response.
// JSON bodies with an "error" or "message" field are unwrapped; anything else is used verbatim.
func errorMessage(resp *http.Response) string {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodyBytes))
	text := strings.TrimSpace(string(raw))

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Error != "":
			return body.Error
		case body.Message != "":
			return body.Message
		}
	}

	if text == "" {
		return http.StatusText(resp.StatusCode)
	}
	return text
}
