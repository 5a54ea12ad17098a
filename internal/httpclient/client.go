package httpclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/torosent/loadforge/internal/metricmodel"
	"github.com/torosent/loadforge/internal/scenario"
	"github.com/torosent/loadforge/internal/tracing"
)

// OnComplete is invoked exactly once per HTTP attempt, success or failure.
type OnComplete func(metricmodel.RequestMetric)

// OnNewLabel is invoked the first time an endpoint name is seen by this
// client, so the worker can publish it to the label channel.
type OnNewLabel func(metricmodel.EndpointLabel)

// Config configures a Client.
type Config struct {
	BaseURL        string
	DefaultHeaders map[string]string
	Timeout        time.Duration
	WorkerID       uint8
	OnComplete     OnComplete
	OnNewLabel     OnNewLabel
	Tracer         trace.Tracer // nil disables per-request spans
}

// Client implements scenario.Client: a connection-pooled HTTP client that
// times every call and reports a RequestMetric through OnComplete.
type Client struct {
	http           *http.Client
	baseURL        string
	defaultHeaders map[string]string
	workerID       uint8
	onComplete     OnComplete
	onNewLabel     OnNewLabel
	tracer         trace.Tracer

	mu       sync.Mutex
	seen     map[string]uint64 // name -> hash, the worker's local dedup set
	byHash   map[uint64]string // detects hash collisions (same hash, different name)
}

var _ scenario.Client = (*Client)(nil)

// New creates a Client with a connection pool sized for load-testing
// concurrency (>=100 connections per worker).
func New(cfg Config) *Client {
	return &Client{
		http:           NewTransportClient(cfg.Timeout),
		baseURL:        cfg.BaseURL,
		defaultHeaders: cfg.DefaultHeaders,
		workerID:       cfg.WorkerID,
		onComplete:     cfg.OnComplete,
		onNewLabel:     cfg.OnNewLabel,
		tracer:         cfg.Tracer,
		seen:           make(map[string]uint64),
		byHash:         make(map[uint64]string),
	}
}

// NewTransportClient builds the pooled *http.Client every worker's Client
// wraps: a dialer with
// keep-alive, HTTP/1.1 only, and a per-worker connection pool deep
// enough to sustain a large virtual-user count per worker.
func NewTransportClient(timeout time.Duration) *http.Client {
	if timeout < 0 {
		timeout = 0
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second, KeepAlive: 30 * time.Second}
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           dialer.DialContext,
		ForceAttemptHTTP2:     false,
		MaxIdleConns:          1024,
		MaxIdleConnsPerHost:   128,
		MaxConnsPerHost:       0, // unbounded: the rate limiter is the admission control
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
	}
	return &http.Client{Timeout: timeout, Transport: transport}
}

func (c *Client) Get(ctx context.Context, path, name string) (*http.Response, error) {
	return c.do(ctx, http.MethodGet, path, name, nil)
}

func (c *Client) Post(ctx context.Context, path, name string, body []byte) (*http.Response, error) {
	return c.do(ctx, http.MethodPost, path, name, body)
}

func (c *Client) Put(ctx context.Context, path, name string, body []byte) (*http.Response, error) {
	return c.do(ctx, http.MethodPut, path, name, body)
}

func (c *Client) Patch(ctx context.Context, path, name string, body []byte) (*http.Response, error) {
	return c.do(ctx, http.MethodPatch, path, name, body)
}

func (c *Client) Delete(ctx context.Context, path, name string) (*http.Response, error) {
	return c.do(ctx, http.MethodDelete, path, name, nil)
}

func (c *Client) do(ctx context.Context, method, path, name string, body []byte) (*http.Response, error) {
	hash := c.registerName(name, method)

	var span trace.Span
	if c.tracer != nil {
		ctx, span = tracing.StartRequestSpan(ctx, c.tracer, method, name)
	}

	target := path
	if c.baseURL != "" {
		joined, err := url.JoinPath(c.baseURL, path)
		if err == nil {
			target = joined
		} else {
			target = c.baseURL + path
		}
	}

	var reader io.Reader
	if len(body) > 0 {
		reader = bytes.NewReader(body)
	}

	start := time.Now()
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		c.report(hash, method, 0, 0, 0, start, metricmodel.ErrorOther)
		if span != nil {
			tracing.EndSpan(span, 0, err)
		}
		return nil, err
	}
	for k, v := range c.defaultHeaders {
		req.Header.Set(k, v)
	}
	if span != nil {
		tracing.InjectHTTPHeaders(ctx, req.Header)
	}

	resp, err := c.http.Do(req)
	latency := time.Since(start)
	if err != nil {
		c.report(hash, method, 0, float32(latency.Milliseconds()), 0, start, categorizeError(err))
		if span != nil {
			tracing.EndSpan(span, 0, err)
		}
		return nil, err
	}

	length := uint32(0)
	if resp.ContentLength > 0 {
		length = uint32(resp.ContentLength)
	}
	category := metricmodel.CategoryForStatus(resp.StatusCode)
	c.report(hash, method, uint16(resp.StatusCode), float32(latency.Milliseconds()), length, start, category)
	if span != nil {
		tracing.EndSpan(span, resp.StatusCode, nil)
	}
	return resp, nil
}

func (c *Client) registerName(name, method string) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if hash, ok := c.seen[name]; ok {
		return hash
	}
	hash := scenario.LabelHash(name)
	effectiveName := name
	if existing, collided := c.byHash[hash]; collided && existing != name {
		effectiveName = name + "#dup"
	} else {
		c.byHash[hash] = name
	}
	c.seen[name] = hash
	if c.onNewLabel != nil {
		c.onNewLabel(metricmodel.EndpointLabel{
			Hash:   hash,
			Name:   effectiveName,
			Method: metricmodel.MethodCodeFromString(method),
		})
	}
	return hash
}

func (c *Client) report(hash uint64, method string, status uint16, latencyMs float32, length uint32, start time.Time, category metricmodel.ErrorCategory) {
	if c.onComplete == nil {
		return
	}
	c.onComplete(metricmodel.RequestMetric{
		Timestamp:     float64(start.UnixNano()) / 1e9,
		NameHash:      hash,
		Method:        metricmodel.MethodCodeFromString(method),
		StatusCode:    status,
		LatencyMs:     latencyMs,
		ContentLength: length,
		WorkerID:      c.workerID,
		ErrorCategory: category,
	})
}

// categorizeError maps a transport failure to one of connect, timeout,
// tls, read, write, or other.
func categorizeError(err error) metricmodel.ErrorCategory {
	if err == nil {
		return metricmodel.ErrorNone
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return metricmodel.ErrorTimeout
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metricmodel.ErrorTimeout
	}
	var tlsErr tls.RecordHeaderError
	if errors.As(err, &tlsErr) {
		return metricmodel.ErrorTLS
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		if urlErr.Timeout() {
			return metricmodel.ErrorTimeout
		}
		var opErr *net.OpError
		if errors.As(urlErr.Err, &opErr) {
			switch opErr.Op {
			case "dial":
				return metricmodel.ErrorConnect
			case "read":
				return metricmodel.ErrorRead
			case "write":
				return metricmodel.ErrorWrite
			}
		}
		return metricmodel.ErrorConnect
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return metricmodel.ErrorRead
	}
	return metricmodel.ErrorOther
}
