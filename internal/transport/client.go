// Package transport provides the outbound HTTP client shared by partner
// adapters, the token cache and the creative registrar
package transport

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/thenexusengine/tne_dooh/internal/config"
	"github.com/thenexusengine/tne_dooh/pkg/logger"
)

// Request is one outbound call
type Request struct {
	Method  string
	URI     string
	Body    []byte
	Headers http.Header
}

// Response is a fully read outbound response
type Response struct {
	StatusCode int
	Body       []byte
	Headers    http.Header
}

// IsSuccess reports a 2xx status
func (r *Response) IsSuccess() bool {
	return r.StatusCode >= 200 && r.StatusCode < 300
}

// IsError reports a 4xx or 5xx status
func (r *Response) IsError() bool {
	return r.StatusCode >= 400 && r.StatusCode < 600
}

// Doer executes outbound calls
type Doer interface {
	Do(ctx context.Context, req *Request, timeout time.Duration) (*Response, error)
}

// JSONRequest builds a JSON call with the usual headers
func JSONRequest(method, uri string, body []byte) *Request {
	h := http.Header{}
	h.Set("Content-Type", "application/json")
	h.Set("Accept", "application/json")
	return &Request{Method: method, URI: uri, Body: body, Headers: h}
}

// FormRequest builds an x-www-form-urlencoded POST
func FormRequest(uri string, form url.Values) *Request {
	h := http.Header{}
	h.Set("Content-Type", "application/x-www-form-urlencoded")
	h.Set("Accept", "application/json")
	return &Request{Method: http.MethodPost, URI: uri, Body: []byte(form.Encode()), Headers: h}
}

// Client implements Doer with connection pooling and a response size cap
type Client struct {
	client          *http.Client
	maxResponseSize int64
}

// NewClient creates a pooled client. timeout is the hard ceiling per call.
func NewClient(timeout time.Duration) *Client {
	transport := &http.Transport{
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 20,
		MaxConnsPerHost:     50,
		IdleConnTimeout:     90 * time.Second,

		TLSClientConfig: &tls.Config{
			ClientSessionCache: tls.NewLRUClientSessionCache(32),
			MinVersion:         tls.VersionTLS12,
		},

		DialContext: (&net.Dialer{
			Timeout:   3 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   3 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ResponseHeaderTimeout: 10 * time.Second,
	}

	return &Client{
		client: &http.Client{
			Timeout:   timeout,
			Transport: transport,
		},
		maxResponseSize: config.MaxPartnerResponseSize,
	}
}

// Do executes req. The shorter of timeout and the ctx deadline applies.
func (c *Client) Do(ctx context.Context, req *Request, timeout time.Duration) (*Response, error) {
	if timeout > 0 {
		if deadline, ok := ctx.Deadline(); ok {
			if remaining := time.Until(deadline); remaining < timeout {
				timeout = remaining
			}
		}
		if timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
	}

	var body io.Reader
	if len(req.Body) > 0 {
		body = bytes.NewReader(req.Body)
	}
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, req.URI, body)
	if err != nil {
		return nil, err
	}
	for k, v := range req.Headers {
		httpReq.Header[k] = v
	}

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, err
	}

	// One goroutine owns the read so a cancelled ctx can close the body under it
	type readResult struct {
		data []byte
		err  error
	}
	readCh := make(chan readResult, 1)
	go func() {
		defer resp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(resp.Body, c.maxResponseSize+1))
		readCh <- readResult{data: data, err: err}
	}()

	select {
	case <-ctx.Done():
		resp.Body.Close()
		if result := <-readCh; result.err != nil && !errors.Is(result.err, io.EOF) {
			logger.Log.Debug().
				Err(result.err).
				Str("uri", redact(req.URI)).
				Msg("read error during context cancellation")
		}
		return nil, ctx.Err()
	case result := <-readCh:
		if result.err != nil {
			return nil, result.err
		}
		if int64(len(result.data)) > c.maxResponseSize {
			return nil, fmt.Errorf("response too large: exceeded %d bytes", c.maxResponseSize)
		}
		return &Response{
			StatusCode: resp.StatusCode,
			Body:       result.data,
			Headers:    resp.Header,
		}, nil
	}
}

// redact drops the query string, which may carry api keys
func redact(uri string) string {
	if i := strings.IndexByte(uri, '?'); i >= 0 {
		return uri[:i]
	}
	return uri
}
