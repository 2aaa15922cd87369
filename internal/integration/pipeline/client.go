package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/iapessoastecnologia/CredAnalyzer-backend/pkg/logger"
)

// Client calls the external report-generation pipeline. The pipeline is a
// black box: documents in, report artifact out.
type Client struct {
	baseURL string
	http    *http.Client
	log     *logger.Logger
}

// NewClient creates a pipeline client with the given request timeout.
func NewClient(baseURL string, timeout time.Duration, log *logger.Logger) *Client {
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	return &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: timeout},
		log:     log,
	}
}

// GenerateReport submits the analysis request and returns the produced
// report bytes.
func (c *Client) GenerateReport(ctx context.Context, userID string, input json.RawMessage) ([]byte, error) {
	body, err := json.Marshal(map[string]any{
		"userId": userID,
		"input":  input,
	})
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/analyze", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("pipeline: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		c.log.Warnw("Pipeline returned non-OK status", "status", resp.StatusCode, "userID", userID)
		return nil, fmt.Errorf("pipeline: unexpected status %d", resp.StatusCode)
	}

	report, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("pipeline: failed to read response: %w", err)
	}
	return report, nil
}
