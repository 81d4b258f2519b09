package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/clinicdesk/clinicdesk/internal/platform/apperr"
)

// QuotaError reports that the relay refused a verification for the client's
// quota. It unwraps to apperr.ErrRateLimited.
type QuotaError struct {
	RetryAfter time.Duration
}

func (e *QuotaError) Error() string {
	return fmt.Sprintf("relay: quota exceeded, retry after %s", e.RetryAfter)
}

func (e *QuotaError) Unwrap() error { return apperr.ErrRateLimited }

// RetryAfterSeconds is the whole-second wait for a Retry-After header.
func (e *QuotaError) RetryAfterSeconds() int { return retryAfterSeconds(e.RetryAfter) }

// Client calls a relay from the main server. It satisfies the login
// handler's captcha check.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewClient builds a relay client. token is the relay's forward token; with
// it the relay accounts each verification to the login's client IP.
func NewClient(baseURL, token string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: timeout},
	}
}

func (c *Client) Verify(ctx context.Context, token, remoteIP string) (bool, error) {
	body, err := json.Marshal(verifyRequest{Token: token})
	if err != nil {
		return false, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/verify", bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set(HeaderForwardToken, c.token)
		if remoteIP != "" {
			req.Header.Set(HeaderClientIP, remoteIP)
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("relay: %w", err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusTooManyRequests:
		secs, _ := strconv.Atoi(resp.Header.Get("Retry-After"))
		return false, &QuotaError{RetryAfter: time.Duration(secs) * time.Second}
	default:
		return false, fmt.Errorf("relay: status %d", resp.StatusCode)
	}

	var res Result
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return false, fmt.Errorf("decode relay response: %w", err)
	}
	return res.Success, nil
}
