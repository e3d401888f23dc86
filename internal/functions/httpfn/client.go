// Package httpfn invokes stage functions exposed over HTTP, such as a function
// gateway or a locally running function runtime.
//
// Each function is reached at POST {baseURL}/functions/{name}. Async requests set
// X-Invocation-Type: Event and expect 202 Accepted. A function that ran and failed
// answers with X-Function-Error set.
package httpfn

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kiranshivaraju/codereview/internal/invoke"
)

const maxResponseBytes = 32 << 20

// Client implements invoke.Invoker over HTTP.
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a new HTTP function client.
func NewClient(baseURL, apiKey string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) Name() string { return "http" }

func (c *Client) Invoke(ctx context.Context, req invoke.Request) ([]byte, error) {
	u := fmt.Sprintf("%s/functions/%s", c.baseURL, url.PathEscape(req.Function))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(req.Payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq, req.Mode)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: reading response: %v", invoke.ErrTransient, err)
	}

	if fe := resp.Header.Get("X-Function-Error"); fe != "" {
		return nil, fmt.Errorf("%w: %s: %s", invoke.ErrRemoteExecution, fe, snippet(body))
	}

	switch {
	case resp.StatusCode == http.StatusOK, resp.StatusCode == http.StatusAccepted:
		return body, nil
	case resp.StatusCode == http.StatusTooManyRequests, resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", invoke.ErrTransient, resp.StatusCode)
	default:
		return nil, fmt.Errorf("function %s rejected request: status %d: %s", req.Function, resp.StatusCode, snippet(body))
	}
}

func (c *Client) setHeaders(req *http.Request, mode invoke.Mode) {
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	if mode == invoke.ModeAsync {
		req.Header.Set("X-Invocation-Type", "Event")
	} else {
		req.Header.Set("X-Invocation-Type", "RequestResponse")
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: timeout: %v", invoke.ErrTransient, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: timeout: %v", invoke.ErrTransient, err)
	}

	return fmt.Errorf("%w: unreachable: %v", invoke.ErrTransient, err)
}

func snippet(b []byte) string {
	const n = 256
	if len(b) > n {
		return string(b[:n]) + "..."
	}
	return string(b)
}

// Compile-time check that Client implements invoke.Invoker.
var _ invoke.Invoker = (*Client)(nil)
