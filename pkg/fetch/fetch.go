// Package fetch makes small HTTP requests (server catalogs, IP metadata)
// over a configurable outline-sdk transport. An empty transport dials direct.
package fetch

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/textproto"
	"strings"
	"time"

	"github.com/Jigsaw-Code/outline-sdk/x/configurl"
)

const maxBodyBytes = 8 << 20

// Options contains the configuration for a fetch request
type Options struct {
	// Transport config string, e.g. "socks5://proxy:1080". Empty dials direct.
	Transport string
	// HTTP method to use (default: "GET")
	Method string
	// Raw HTTP headers to add (without \r\n)
	Headers []string
	// Timeout for the whole request (default: 10s)
	Timeout time.Duration
}

// Result contains the response from a fetch request
type Result struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}

// OK reports whether the response status is 2xx.
func (r *Result) OK() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// Client issues requests through a single dialer built from Options.Transport.
type Client struct {
	opts Options
	http *http.Client
}

// NewClient builds a client for opts. The transport string is validated here
// so misconfiguration surfaces at startup.
func NewClient(opts Options) (*Client, error) {
	if opts.Method == "" {
		opts.Method = http.MethodGet
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}

	dialer, err := configurl.NewDefaultConfigToDialer().NewStreamDialer(opts.Transport)
	if err != nil {
		return nil, fmt.Errorf("could not create dialer: %w", err)
	}

	dialContext := func(ctx context.Context, network, addr string) (net.Conn, error) {
		if !strings.HasPrefix(network, "tcp") {
			return nil, fmt.Errorf("protocol not supported: %v", network)
		}
		return dialer.DialStream(ctx, addr)
	}

	return &Client{
		opts: opts,
		http: &http.Client{
			Transport: &http.Transport{DialContext: dialContext},
			Timeout:   opts.Timeout,
		},
	}, nil
}

// Get fetches url and returns the (size-limited) body regardless of status.
func (c *Client) Get(ctx context.Context, url string) (*Result, error) {
	req, err := http.NewRequestWithContext(ctx, c.opts.Method, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	// Process headers
	if len(c.opts.Headers) > 0 {
		headerText := strings.Join(c.opts.Headers, "\r\n") + "\r\n\r\n"
		h, err := textproto.NewReader(bufio.NewReader(strings.NewReader(headerText))).ReadMIMEHeader()
		if err != nil {
			return nil, fmt.Errorf("invalid header line: %w", err)
		}
		for name, values := range h {
			for _, value := range values {
				req.Header.Add(name, value)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("read of page body failed: %w", err)
	}

	return &Result{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
	}, nil
}
