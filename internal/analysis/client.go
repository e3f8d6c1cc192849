// Package analysis retrieves post-session reports from the coach server.
package analysis

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ealbalas/ai-speaking-coach/internal/domain"
)

// Client fetches analysis reports over HTTP. A report request is only valid
// once the session's streaming connection has fully closed.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

func NewClient(serverURL string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		baseURL:    strings.TrimRight(strings.TrimSpace(serverURL), "/"),
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Fetch retrieves the report for a session. Any non-2xx response is treated
// uniformly as a failed analysis; no structured error body is parsed.
func (c *Client) Fetch(ctx context.Context, sessionID string) (domain.AnalysisReport, error) {
	if strings.TrimSpace(sessionID) == "" {
		return domain.AnalysisReport{}, fmt.Errorf("session id is empty")
	}

	endpoint := c.baseURL + "/analysis/" + url.PathEscape(sessionID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return domain.AnalysisReport{}, fmt.Errorf("failed to build analysis request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return domain.AnalysisReport{}, fmt.Errorf("analysis request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.AnalysisReport{}, fmt.Errorf("analysis failed: server returned %s", resp.Status)
	}

	var report domain.AnalysisReport
	if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
		return domain.AnalysisReport{}, fmt.Errorf("failed to decode analysis report: %w", err)
	}
	return report, nil
}
