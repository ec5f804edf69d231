package transport

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/valyala/fasthttp"
)

// HTTPClient performs exchanges against an HTTPServer.
type HTTPClient struct {
	client  *fasthttp.Client
	url     string
	timeout time.Duration
}

// ClientOption configures an HTTPClient.
type ClientOption func(*HTTPClient)

// WithDial replaces the dialer, e.g. with an in-memory listener's Dial.
func WithDial(dial func(addr string) (net.Conn, error)) ClientOption {
	return func(c *HTTPClient) { c.client.Dial = dial }
}

// WithTimeout bounds exchanges whose context has no deadline.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *HTTPClient) { c.timeout = d }
}

// NewHTTPClient creates a client for the server at url, e.g.
// "http://127.0.0.1:7000/".
func NewHTTPClient(url string, opts ...ClientOption) *HTTPClient {
	c := &HTTPClient{
		client:  &fasthttp.Client{Name: "solvegrid"},
		url:     url,
		timeout: DefaultExchangeTimeout + 5*time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Exchange sends payload and returns the reply body, which is empty when the
// coordinator had nothing to say.
func (c *HTTPClient) Exchange(ctx context.Context, payload []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(c.url)
	req.Header.SetMethod(fasthttp.MethodPost)
	req.Header.SetContentType(contentType)
	req.SetBody(payload)

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	if err := c.client.DoDeadline(req, resp, deadline); err != nil {
		return nil, fmt.Errorf("exchange with %s: %w", c.url, err)
	}
	if code := resp.StatusCode(); code != fasthttp.StatusOK {
		return nil, fmt.Errorf("exchange with %s: status %d", c.url, code)
	}
	return append([]byte(nil), resp.Body()...), nil
}
