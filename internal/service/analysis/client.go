// Package analysis is the HTTP client for the remote speech analysis service.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"speech-coach-service/internal/models"
	"speech-coach-service/internal/observability/metrics"
)

const maxBodyBytes = 4 << 20

// Config holds analysis client configuration.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// DefaultConfig points at a locally running analysis service.
func DefaultConfig() Config {
	return Config{
		BaseURL: "http://localhost:5000",
		Timeout: 60 * time.Second,
	}
}

// Client sends transcripts to the analysis service. No retries: a failed
// request is reported once and the session returns to idle.
type Client struct {
	baseURL string
	http    *http.Client
	metrics *metrics.Metrics
}

// New creates a client. A zero timeout disables the client-side deadline.
func New(cfg Config) *Client {
	base := strings.TrimRight(cfg.BaseURL, "/")
	if base == "" {
		base = DefaultConfig().BaseURL
	}
	return &Client{
		baseURL: base,
		http:    &http.Client{Timeout: cfg.Timeout},
		metrics: metrics.DefaultMetrics,
	}
}

// BaseURL returns the service root the client talks to.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Analyze posts one transcript and decodes the canonical analysis.
// Returns *TransportError for network failures and non-2xx responses, and
// *ProtocolError for 2xx responses without a usable analysis.
func (c *Client) Analyze(ctx context.Context, req models.AnalysisRequest) (*models.AnalysisResult, error) {
	start := time.Now()

	status, body, err := c.Do(ctx, http.MethodPost, "/api/analyze", nil, req)
	if err == nil && (status < 200 || status > 299) {
		err = &TransportError{StatusCode: status, Message: errorMessage(body), Body: body}
	}

	var result *models.AnalysisResult
	if err == nil {
		result, err = decodeResponse(body)
	}
	if result != nil && result.SessionID == "" {
		result.SessionID = req.SessionID
	}

	latency := time.Since(start).Seconds()
	c.metrics.RecordAnalysis(outcome(err), latency)

	if err != nil {
		log.Warn().
			Err(err).
			Str("sessionId", req.SessionID).
			Int("status", status).
			Float64("latencySeconds", latency).
			Msg("Analysis request failed")
		return nil, err
	}

	log.Debug().
		Str("sessionId", req.SessionID).
		Float64("latencySeconds", latency).
		Msg("Analysis request completed")
	return result, nil
}

// ResetSession asks the service to forget accumulated state for sessionID.
func (c *Client) ResetSession(ctx context.Context, sessionID string) error {
	q := url.Values{"session_id": {sessionID}}
	status, body, err := c.Do(ctx, http.MethodPost, "/api/reset-session", q, map[string]string{"session_id": sessionID})
	if err != nil {
		return err
	}
	if status < 200 || status > 299 {
		return &TransportError{StatusCode: status, Message: errorMessage(body), Body: body}
	}
	return nil
}

// FillerWords returns the service's filler word catalogue untouched.
func (c *Client) FillerWords(ctx context.Context) (json.RawMessage, error) {
	status, body, err := c.Do(ctx, http.MethodGet, "/api/filler-words", nil, nil)
	if err != nil {
		return nil, err
	}
	if status < 200 || status > 299 {
		return nil, &TransportError{StatusCode: status, Message: errorMessage(body), Body: body}
	}
	if !json.Valid(body) {
		return nil, &ProtocolError{Reason: "malformed JSON"}
	}
	return json.RawMessage(body), nil
}

// Do performs one JSON round trip and returns the raw status and body.
// Only failures to obtain a response are returned as errors.
func (c *Client) Do(ctx context.Context, method, path string, query url.Values, payload any) (int, []byte, error) {
	var reader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	target := c.baseURL + path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return 0, nil, &TransportError{Err: err}
	}
	if payload != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	httpReq.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return 0, nil, &TransportError{Err: err}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return resp.StatusCode, nil, &TransportError{StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, body, nil
}

// errorMessage extracts the service's error text from an error body.
func errorMessage(body []byte) string {
	var payload struct {
		Error   any    `json:"error"`
		Detail  any    `json:"detail"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return strings.TrimSpace(string(body))
	}
	for _, v := range []any{payload.Error, payload.Detail} {
		if s, ok := v.(string); ok && s != "" {
			return s
		}
	}
	return payload.Message
}

func outcome(err error) string {
	var te *TransportError
	var pe *ProtocolError
	switch {
	case err == nil:
		return "ok"
	case errors.As(err, &te):
		return "transport_error"
	case errors.As(err, &pe):
		return "protocol_error"
	default:
		return "error"
	}
}
