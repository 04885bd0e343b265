package apiclient

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

var (
	// ErrInvalidBaseURL is returned by [New] for an empty or relative base URL.
	ErrInvalidBaseURL = errors.New("apiclient: base URL must be absolute")
	// ErrTransport wraps network-level failures (dial, TLS, timeout, cancel).
	ErrTransport = errors.New("apiclient: transport failure")
	// ErrResponseTooLarge is returned when a body exceeds Config.MaxResponseBytes.
	ErrResponseTooLarge = errors.New("apiclient: response body too large")
)

const (
	// RequestIDHeader carries the per-request correlation ID.
	RequestIDHeader = "X-Request-ID"

	defaultTimeout          = 30 * time.Second
	defaultMaxResponseBytes = 4 << 20
)

// Config configures a [Client].
type Config struct {
	// BaseURL is required, e.g. "https://api.example.com".
	BaseURL string
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	// Timeout bounds each exchange when HTTPClient is nil. Default 30s.
	Timeout time.Duration
	// UserAgent is sent when non-empty.
	UserAgent string
	// MaxResponseBytes caps how much of a body is read. Default 4 MiB.
	MaxResponseBytes int64
}

// Client sends JSON requests to one base URL and runs response interceptors.
// It is safe for concurrent use.
type Client struct {
	baseURL   string
	http      *http.Client
	userAgent string
	maxBody   int64

	mu           sync.RWMutex
	nextID       InterceptorID
	interceptors []registeredInterceptor
}

// New validates cfg and returns a Client.
func New(cfg Config) (*Client, error) {
	u, err := url.Parse(strings.TrimSpace(cfg.BaseURL))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidBaseURL, cfg.BaseURL)
	}

	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}

	maxBody := cfg.MaxResponseBytes
	if maxBody <= 0 {
		maxBody = defaultMaxResponseBytes
	}

	return &Client{
		baseURL:   strings.TrimRight(u.String(), "/"),
		http:      httpClient,
		userAgent: cfg.UserAgent,
		maxBody:   maxBody,
	}, nil
}

// BaseURL returns the normalized base URL.
func (c *Client) BaseURL() string {
	return c.baseURL
}

// Do sends req and runs the interceptor chain over the outcome. A non-2xx
// status yields *HTTPError.
func (c *Client) Do(ctx context.Context, req *Request) (*Response, error) {
	if req == nil {
		return nil, errors.New("apiclient: nil request")
	}

	start := time.Now()
	resp, err := c.send(ctx, req)
	return c.intercept(ctx, Exchange{
		Request:  req,
		Response: resp,
		Err:      err,
		Duration: time.Since(start),
	})
}

// Request is shorthand for Do with a JSON-encoded body. body may be nil,
// []byte (sent verbatim) or any JSON-marshalable value.
func (c *Client) Request(ctx context.Context, method, path string, body any, headers http.Header) (*Response, error) {
	var (
		req *Request
		err error
	)
	if raw, ok := body.([]byte); ok {
		req = &Request{Method: method, Path: path, Body: raw}
	} else {
		req, err = NewJSONRequest(method, path, body)
		if err != nil {
			return nil, err
		}
	}
	req.Header = headers.Clone()
	return c.Do(ctx, req)
}

func (c *Client) send(ctx context.Context, req *Request) (*Response, error) {
	method := req.Method
	if method == "" {
		method = http.MethodGet
	}

	var body io.Reader
	if req.Body != nil {
		body = bytes.NewReader(req.Body)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, c.resolve(req.Path), body)
	if err != nil {
		return nil, err
	}

	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	if httpReq.Header.Get(RequestIDHeader) == "" {
		requestID, ok := RequestIDFromContext(ctx)
		if !ok {
			requestID = uuid.NewString()
		}
		httpReq.Header.Set(RequestIDHeader, requestID)
	}

	httpResp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(httpResp.Body, c.maxBody+1))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %w", ErrTransport, err)
	}
	if int64(len(data)) > c.maxBody {
		return nil, ErrResponseTooLarge
	}

	if httpResp.StatusCode < 200 || httpResp.StatusCode > 299 {
		return nil, newHTTPError(req, httpResp.StatusCode, data)
	}

	return &Response{
		Status: httpResp.StatusCode,
		Header: httpResp.Header,
		Body:   data,
	}, nil
}

func (c *Client) resolve(path string) string {
	if strings.HasPrefix(path, "http://") || strings.HasPrefix(path, "https://") {
		return path
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return c.baseURL + path
}
