package engines

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/reelsmith/reelsmith-backend/internal/platform/logger"
)

// Moderation hints providers embed in 4xx bodies and failure reasons.
var moderationHints = []string{
	"moderation", "safety", "content policy", "flagged", "nsfw", "unsafe",
}

func looksLikeModeration(body string) bool {
	lower := strings.ToLower(body)
	for _, hint := range moderationHints {
		if strings.Contains(lower, hint) {
			return true
		}
	}
	return false
}

// httpProvider carries the plumbing every external provider shares: an HTTP
// client, an overall deadline covering submit+poll, and the poll cadence.
type httpProvider struct {
	log          *logger.Logger
	client       *http.Client
	apiKey       string
	deadline     time.Duration
	pollInterval time.Duration
	// Backoff applied when polling hits a transient 429.
	pollBackoff time.Duration
}

func newHTTPProvider(log *logger.Logger, apiKey string, deadline time.Duration, pollInterval, pollBackoff time.Duration) httpProvider {
	if deadline <= 0 {
		deadline = 60 * time.Second
	}
	return httpProvider{
		log:          log,
		client:       &http.Client{Timeout: 30 * time.Second},
		apiKey:       apiKey,
		deadline:     deadline,
		pollInterval: pollInterval,
		pollBackoff:  pollBackoff,
	}
}

// postJSON sends a JSON payload and decodes the response body into out.
// Status handling follows the shared provider contract: 429 is rate-limited,
// moderation-hinting 4xx is flagged, other non-2xx is an API error.
func (p *httpProvider) postJSON(ctx context.Context, url string, headers map[string]string, payload, out interface{}) *Result {
	body, err := json.Marshal(payload)
	if err != nil {
		r := failure(ErrAPIError, fmt.Sprintf("marshal request: %v", err))
		return &r
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		r := failure(ErrAPIError, fmt.Sprintf("build request: %v", err))
		return &r
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			r := failure(ErrTimeout, "submit cancelled or timed out")
			return &r
		}
		r := failure(ErrAPIError, fmt.Sprintf("submit: %v", err))
		return &r
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		r := failure(ErrRateLimited, "provider rate limited the request")
		return &r
	case resp.StatusCode >= 400 && resp.StatusCode < 500 && looksLikeModeration(string(raw)):
		r := failure(ErrModerationRejection, "provider rejected the prompt")
		return &r
	case resp.StatusCode < 200 || resp.StatusCode >= 300:
		r := failure(ErrAPIError, fmt.Sprintf("status %d: %s", resp.StatusCode, truncateBody(raw)))
		return &r
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			r := failure(ErrAPIError, fmt.Sprintf("decode response: %v", err))
			return &r
		}
	}
	return nil
}

func (p *httpProvider) getJSON(ctx context.Context, url string, headers map[string]string, out interface{}) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, err
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return 0, err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if resp.StatusCode >= 200 && resp.StatusCode < 300 && out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, fmt.Errorf("decode poll response: %w", err)
		}
	}
	return resp.StatusCode, nil
}

// pollState is what each provider extracts from one poll response.
type pollState struct {
	Done              bool
	Failed            bool
	ModerationFlagged bool
	DownloadURL       string
	FailureReason     string
}

// pollUntilDone drives the shared poll loop: fixed cadence, longer backoff on
// 429, hard stop at the overall deadline.
func (p *httpProvider) pollUntilDone(ctx context.Context, poll func(ctx context.Context) (pollState, int, error)) (pollState, *Result) {
	deadline := time.Now().Add(p.deadline)
	for {
		if time.Now().After(deadline) {
			r := failure(ErrTimeout, "generation exceeded overall deadline")
			return pollState{}, &r
		}

		wait := p.pollInterval
		state, status, err := poll(ctx)
		switch {
		case err != nil:
			if ctx.Err() != nil {
				r := failure(ErrTimeout, "poll cancelled")
				return pollState{}, &r
			}
			// Transient; retry at the normal cadence.
		case status == http.StatusTooManyRequests:
			wait = p.pollBackoff
		case state.Failed && state.ModerationFlagged:
			r := failure(ErrModerationRejection, firstNonEmpty(state.FailureReason, "generation flagged by moderation"))
			return pollState{}, &r
		case state.Failed:
			r := failure(ErrAPIError, firstNonEmpty(state.FailureReason, "generation failed"))
			return pollState{}, &r
		case state.Done:
			return state, nil
		}

		select {
		case <-ctx.Done():
			r := failure(ErrTimeout, "poll cancelled")
			return pollState{}, &r
		case <-time.After(wait):
		}
	}
}

// downloadTo streams the produced clip into outputDir.
func (p *httpProvider) downloadTo(ctx context.Context, url, outputDir, filename string) (string, *Result) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		r := failure(ErrAPIError, fmt.Sprintf("build download request: %v", err))
		return "", &r
	}
	resp, err := p.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			r := failure(ErrTimeout, "download cancelled")
			return "", &r
		}
		r := failure(ErrAPIError, fmt.Sprintf("download: %v", err))
		return "", &r
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		r := failure(ErrAPIError, fmt.Sprintf("download status %d", resp.StatusCode))
		return "", &r
	}

	if err := os.MkdirAll(outputDir, 0o755); err != nil {
		r := failure(ErrAPIError, fmt.Sprintf("create output dir: %v", err))
		return "", &r
	}
	path := filepath.Join(outputDir, filename)
	f, err := os.Create(path)
	if err != nil {
		r := failure(ErrAPIError, fmt.Sprintf("create clip file: %v", err))
		return "", &r
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(path)
		r := failure(ErrAPIError, fmt.Sprintf("write clip file: %v", err))
		return "", &r
	}
	if err := f.Close(); err != nil {
		r := failure(ErrAPIError, fmt.Sprintf("close clip file: %v", err))
		return "", &r
	}
	return path, nil
}

func clampDuration(requested, max float64) float64 {
	if requested > max {
		return max
	}
	if requested <= 0 {
		return 1
	}
	return requested
}

func truncateBody(raw []byte) string {
	s := string(raw)
	if len(s) > 300 {
		return s[:300]
	}
	return s
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
