package client

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"runtime/debug"
	"strings"
	"syscall"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/phalt/clientele-sub001/cache"
	"github.com/phalt/clientele-sub001/logger"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

var (
	Version = "dev"
	Commit  = "unknown"
)

const (
	// DefaultRetries is the number of attempts made for a retryable failure.
	DefaultRetries = 5
	// DefaultTimeout bounds a whole request, retries included.
	DefaultTimeout = 30 * time.Second

	tracerName = "github.com/phalt/clientele-sub001/client"
)

var propagator = propagation.TraceContext{}

// Config configures a Client.
type Config struct {
	BaseURL string
	// Token is sent as a bearer token when set.
	Token   string
	Timeout time.Duration
	// Retries is the number of attempts; values below 1 mean DefaultRetries.
	Retries int
	// Headers are added to every request.
	Headers map[string]string
	// HTTPClient defaults to a client with Timeout.
	HTTPClient *http.Client
	// CacheBackend is used by memoized operations of this client that do not
	// name a backend of their own.
	CacheBackend   cache.Backend
	Logger         logger.Logger
	TracerProvider trace.TracerProvider
}

type Client struct {
	cfg    Config
	client *http.Client
	logger logger.Logger
	tracer trace.Tracer
}

// Error is returned for requests that could not be sent or that completed
// with a non-2xx status.
type Error struct {
	URL       string
	Method    string
	Status    int
	Body      string
	TheError  error
	RequestID string
}

func (e *Error) Error() string {
	if e == nil || e.TheError == nil {
		return ""
	}
	return e.TheError.Error()
}

func (e *Error) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.TheError
}

func NewError(url, method string, status int, body string, err error, requestID string) *Error {
	return &Error{
		URL:       url,
		Method:    method,
		Status:    status,
		Body:      body,
		TheError:  err,
		RequestID: requestID,
	}
}

// New returns a client for cfg. Zero values select the package defaults and
// a nil Logger discards everything below error level.
func New(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.Retries < 1 {
		cfg.Retries = DefaultRetries
	}
	if cfg.Logger == nil {
		cfg.Logger = logger.NewConsoleLogger(logger.LevelError)
	}
	if cfg.TracerProvider == nil {
		cfg.TracerProvider = otel.GetTracerProvider()
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:    cfg,
		client: httpClient,
		logger: cfg.Logger.WithPrefix("[client]"),
		tracer: cfg.TracerProvider.Tracer(tracerName),
	}
}

// Config returns the configuration the client was built with, defaults
// applied.
func (c *Client) Config() Config {
	return c.cfg
}

func UserAgent() string {
	gitSHA := Commit
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				gitSHA = setting.Value
			}
		}
	}
	return "clientele/" + Version + " (" + gitSHA + ")"
}

func shouldRetry(resp *http.Response, err error) bool {
	if err != nil {
		if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.ECONNREFUSED) {
			return true
		} else if msg := err.Error(); strings.Contains(msg, "EOF") {
			return true
		}
	}
	if resp != nil {
		switch resp.StatusCode {
		case http.StatusRequestTimeout, http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout, http.StatusTooManyRequests:
			return true
		}
	}
	return false
}

var backoff = func(attempt int) time.Duration {
	return time.Duration(150*math.Pow(2, float64(attempt))) * time.Millisecond
}

var binaryTypes = []string{
	"image/", "video/", "audio/", "application/octet-stream",
	"application/pdf", "application/zip", "application/gzip",
	"application/x-tar", "application/x-rar", "font/",
}

var textTypes = []string{
	"text/", "application/json", "application/problem+json", "application/xml",
	"application/javascript", "application/x-www-form-urlencoded",
}

func containsAny(s string, subs []string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// safeBodyPreview returns a preview of a response body fit for logs. Binary
// and unknown content is summarised by size and hash, text is truncated.
func safeBodyPreview(body []byte, contentType string, maxChars int) string {
	if maxChars == 0 {
		maxChars = 200
	}
	lower := strings.ToLower(contentType)
	if containsAny(lower, binaryTypes) {
		hash := sha256.Sum256(body)
		return fmt.Sprintf("<binary: %d bytes, sha256=%s>", len(body), hex.EncodeToString(hash[:8]))
	}
	if contentType != "" && !containsAny(lower, textTypes) {
		hash := sha256.Sum256(body)
		return fmt.Sprintf("<unknown type: %d bytes, sha256=%s>", len(body), hex.EncodeToString(hash[:8]))
	}
	if len(body) > maxChars {
		return string(body[:maxChars]) + fmt.Sprintf("[truncated, total: %d chars]", len(body))
	}
	return string(body)
}

// errorMessage pulls a human readable message out of a JSON error body, as
// produced by FastAPI style ("detail") and most other ("message", "error")
// servers.
func errorMessage(body []byte) string {
	var payload map[string]any
	if err := json.Unmarshal(body, &payload); err != nil {
		return ""
	}
	for _, field := range []string{"detail", "message", "error"} {
		switch v := payload[field].(type) {
		case string:
			if v != "" {
				return v
			}
		case nil:
		default:
			if buf, err := json.Marshal(v); err == nil {
				return string(buf)
			}
		}
	}
	return ""
}

// Request is a single HTTP call relative to the client's base URL.
type Request struct {
	Method string
	Path   string
	// Template is the unrendered path, used to name the request span.
	Template string
	Query   url.Values
	Headers map[string]string
	// Body is encoded as JSON when not nil.
	Body any
}

func (c *Client) url(r Request) (string, error) {
	u, err := url.Parse(c.cfg.BaseURL)
	if err != nil {
		return "", errors.Wrap(err, "error parsing base url")
	}
	ref, err := url.Parse(r.Path)
	if err != nil {
		return "", errors.Wrapf(err, "error parsing path %q", r.Path)
	}
	if p := ref.EscapedPath(); p != "" {
		u = u.JoinPath(p)
	}
	q := u.Query()
	for k, vals := range ref.Query() {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	for k, vals := range r.Query {
		for _, v := range vals {
			q.Add(k, v)
		}
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Do sends r and decodes a JSON response into out when out is not nil.
// Connection resets, EOFs and 408, 429, 502, 503 and 504 responses are
// retried with exponential backoff.
func (c *Client) Do(ctx context.Context, r Request, out any) error {
	method := strings.ToUpper(r.Method)
	requestID := uuid.New().String()

	u, err := c.url(r)
	if err != nil {
		return NewError(c.cfg.BaseURL, method, 0, "", err, requestID)
	}

	spanName := r.Template
	if spanName == "" {
		spanName = r.Path
	}
	ctx, span := c.tracer.Start(ctx, method+" "+spanName,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("http.request.method", method),
			attribute.String("url.full", u),
			attribute.String("http.request.id", requestID),
		))
	defer span.End()

	fail := func(status int, body string, err error) error {
		span.SetStatus(codes.Error, err.Error())
		span.RecordError(err)
		return NewError(u, method, status, body, err, requestID)
	}

	var body []byte
	if r.Body != nil {
		body, err = json.Marshal(r.Body)
		if err != nil {
			return fail(0, "", errors.Wrap(err, "error marshalling payload"))
		}
	}
	c.logger.Trace("sending request: %s %s", method, u)

	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(body))
	if err != nil {
		return fail(0, "", errors.Wrap(err, "error creating request"))
	}
	req.Header.Set("User-Agent", UserAgent())
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", requestID)
	if r.Body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.cfg.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	}
	for k, v := range c.cfg.Headers {
		req.Header.Set(k, v)
	}
	for k, v := range r.Headers {
		req.Header.Set(k, v)
	}
	propagator.Inject(ctx, propagation.HeaderCarrier(req.Header))

	var resp *http.Response
	retries := c.cfg.Retries
	for i := range retries {
		isLast := i == retries-1
		var err error
		resp, err = c.client.Do(req)
		if shouldRetry(resp, err) && !isLast {
			c.logger.Trace("client returned retryable error, retrying...")
			if resp != nil {
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
			}
			req.Body = io.NopCloser(bytes.NewReader(body))
			req.GetBody = func() (io.ReadCloser, error) {
				return io.NopCloser(bytes.NewReader(body)), nil
			}
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(backoff(i)):
			}
			continue
		}
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				span.RecordError(err)
				return err
			}
			return fail(0, "", errors.Wrap(err, "error sending request"))
		}
		break
	}
	defer resp.Body.Close()
	c.logger.Debug("response status: %s", resp.Status)
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fail(resp.StatusCode, "", errors.Wrap(err, "error reading response body"))
	}

	contentType := resp.Header.Get("Content-Type")
	c.logger.Debug("response body: %s, content-type: %s", safeBodyPreview(respBody, contentType, 200), contentType)

	if resp.StatusCode > 299 {
		if strings.Contains(contentType, "json") {
			if msg := errorMessage(respBody); msg != "" {
				return fail(resp.StatusCode, string(respBody), errors.Newf("%s", msg))
			}
		}
		return fail(resp.StatusCode, string(respBody), errors.Newf("request failed with status (%s)", resp.Status))
	}

	if out != nil && len(bytes.TrimSpace(respBody)) > 0 {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fail(resp.StatusCode, string(respBody), errors.Wrap(err, "error JSON decoding response"))
		}
	}
	span.SetStatus(codes.Ok, "")
	return nil
}
