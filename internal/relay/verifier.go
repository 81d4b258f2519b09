package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/clinicdesk/clinicdesk/internal/platform/metrics"
)

// Result is what the relay answers for a verification.
type Result struct {
	Success bool     `json:"success"`
	Score   *float64 `json:"score,omitempty"`
}

type upstreamResponse struct {
	Success    bool     `json:"success"`
	Score      *float64 `json:"score"`
	ErrorCodes []string `json:"error-codes"`
}

// Verifier forwards tokens to the third-party verification endpoint.
type Verifier struct {
	secret    string
	verifyURL string
	client    *http.Client
	metrics   *metrics.RelayMetrics
	logger    zerolog.Logger
}

func NewVerifier(secret, verifyURL string, timeout time.Duration, m *metrics.RelayMetrics, logger zerolog.Logger) *Verifier {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Verifier{
		secret:    secret,
		verifyURL: verifyURL,
		client:    &http.Client{Timeout: timeout},
		metrics:   m,
		logger:    logger,
	}
}

// Verify posts secret, response and remoteip as a form. A rejected token is
// a Result with Success false, not an error.
func (v *Verifier) Verify(ctx context.Context, token, remoteIP string) (*Result, error) {
	start := time.Now()
	res, err := v.verify(ctx, token, remoteIP)
	outcome := "error"
	switch {
	case err != nil:
	case res.Success:
		outcome = "success"
	default:
		outcome = "failure"
	}
	v.metrics.ObserveVerification(outcome, time.Since(start))
	return res, err
}

func (v *Verifier) verify(ctx context.Context, token, remoteIP string) (*Result, error) {
	form := url.Values{}
	form.Set("secret", v.secret)
	form.Set("response", token)
	if remoteIP != "" {
		form.Set("remoteip", remoteIP)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, v.verifyURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("build verify request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := v.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("verify upstream: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return nil, fmt.Errorf("read verify response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("verify upstream: status %d", resp.StatusCode)
	}

	var up upstreamResponse
	if err := json.Unmarshal(body, &up); err != nil {
		return nil, fmt.Errorf("decode verify response: %w", err)
	}
	if !up.Success && len(up.ErrorCodes) > 0 {
		v.logger.Info().Strs("error_codes", up.ErrorCodes).Msg("token rejected")
	}
	return &Result{Success: up.Success, Score: up.Score}, nil
}
