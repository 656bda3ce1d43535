package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"time"
)

const defaultTimeout = 30 * time.Second

// Environment selects the settlement account set.
type Environment string

const (
	EnvironmentSandbox    Environment = "sandbox"
	EnvironmentProduction Environment = "production"
)

// AccountConfig holds the debit account ids per environment.
type AccountConfig struct {
	Environment      Environment
	DebitAccountID   string
	SandboxAccountID string
}

// DebitAccount selects the account for the configured environment.
func (c AccountConfig) DebitAccount() string {
	if c.Environment == EnvironmentProduction {
		return c.DebitAccountID
	}
	if c.SandboxAccountID != "" {
		return c.SandboxAccountID
	}
	return c.DebitAccountID
}

type httpStatusError struct {
	status int
	body   []byte
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("rail responded %d: %s", e.status, strings.TrimSpace(string(e.body)))
}

// doJSON sends payload as JSON and decodes the response body into out. Non-2xx
// responses return *httpStatusError with the raw body so adapters can classify it.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return classifyTransportError(err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%w: read response: %v", ErrUnknownOutcome, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &httpStatusError{status: resp.StatusCode, body: raw}
	}
	if out == nil || len(raw) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("%w: decode response: %v", ErrUnknownOutcome, err)
	}
	return nil
}

// classifyTransportError separates failures where the request surely never left
// (dial errors) from those where the rail may have acted on it.
func classifyTransportError(err error) error {
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("rail unreachable: %w", err)
	}
	return fmt.Errorf("%w: %v", ErrUnknownOutcome, err)
}

func newHTTPClient(timeout time.Duration) *http.Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return &http.Client{Timeout: timeout}
}

func containsInsufficientFunds(msg string) bool {
	m := strings.ToLower(msg)
	return strings.Contains(m, "no sufficient funds") ||
		strings.Contains(m, "insufficient funds") ||
		strings.Contains(m, "insufficient balance")
}

// JSONClient is the bounded-timeout JSON transport shared with other rail clients.
type JSONClient struct {
	client *http.Client
}

// NewJSONClient builds a client; a non-positive timeout uses the default.
func NewJSONClient(timeout time.Duration) *JSONClient {
	return &JSONClient{client: newHTTPClient(timeout)}
}

// Do sends payload and decodes the 2xx response into out. Timeouts and
// unreadable responses wrap ErrUnknownOutcome.
func (c *JSONClient) Do(ctx context.Context, method, url string, headers map[string]string, payload, out any) error {
	return doJSON(ctx, c.client, method, url, headers, payload, out)
}

// ResponseStatus extracts the HTTP status and body of a non-2xx response error.
func ResponseStatus(err error) (int, []byte, bool) {
	var se *httpStatusError
	if errors.As(err, &se) {
		return se.status, se.body, true
	}
	return 0, nil, false
}

// InsufficientFunds reports whether a rail message describes a funds shortfall.
func InsufficientFunds(msg string) bool { return containsInsufficientFunds(msg) }
