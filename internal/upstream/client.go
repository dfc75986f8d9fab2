// Package upstream is the HTTP client for the external AI service.
//
// Every call names a capability and carries its own timeout. Failures come
// back as *Error classified by Kind so callers can tell an unreachable
// service (fall back) from one that answered with an error (pass through).
// Multipart uploads are streamed from disk; binary downloads are streamed
// to the caller without buffering.
package upstream

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"
)

// Per-call timeouts.
const (
	TimeoutHealth   = 5 * time.Second
	TimeoutLookup   = 10 * time.Second
	TimeoutStandard = 30 * time.Second
	TimeoutVision   = 60 * time.Second
	TimeoutCombined = 90 * time.Second
)

// maxBodyBytes bounds buffered JSON responses.
const maxBodyBytes = 8 << 20

var errThrottled = errors.New("outbound throttle wait failed")

// Client calls the AI service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	limiter    *rate.Limiter
	tracer     trace.Tracer
}

// ClientOption configures the Client.
type ClientOption func(*Client)

// WithHTTPClient sets a custom HTTP client. Per-call timeouts still apply
// through the request context.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(client *Client) {
		client.httpClient = c
	}
}

// WithRateLimit throttles outbound calls to rps with burst. rps <= 0 disables it.
func WithRateLimit(rps float64, burst int) ClientOption {
	return func(client *Client) {
		if rps <= 0 {
			client.limiter = nil
			return
		}
		if burst < 1 {
			burst = 1
		}
		client.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	}
}

// WithTracer overrides the tracer used for outbound spans.
func WithTracer(t trace.Tracer) ClientOption {
	return func(client *Client) {
		client.tracer = t
	}
}

// NewClient creates a client for baseURL. apiKey, when set, is sent as X-API-Key.
func NewClient(baseURL, apiKey string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		httpClient: &http.Client{},
		tracer:     otel.Tracer("phishguard-gateway/upstream"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// BaseURL returns the configured service URL.
func (c *Client) BaseURL() string { return c.baseURL }

// FormFile is a file part streamed from disk.
type FormFile struct {
	Field       string
	Path        string
	Filename    string
	ContentType string
}

// Form is a multipart/form-data body.
type Form struct {
	Fields map[string]string
	Files  []FormFile
}

// Call describes one outbound request. Exactly one of JSON or Form may be set.
type Call struct {
	Capability string
	Method     string
	Path       string
	Query      url.Values
	JSON       any
	Form       *Form
	// Bearer is the caller's token, forwarded as-is.
	Bearer  string
	Timeout time.Duration
}

// Response is a buffered 2xx answer.
type Response struct {
	Status      int
	Body        []byte
	ContentType string
	Duration    time.Duration
}

// Stream is a streamed 2xx answer. The caller must Close it.
type Stream struct {
	Status        int
	ContentType   string
	ContentLength int64
	Body          io.ReadCloser
	Duration      time.Duration
}

// Do performs call and buffers the response body.
func (c *Client) Do(ctx context.Context, call Call) (*Response, error) {
	ctx, cancel := c.withTimeout(ctx, call.Timeout)
	defer cancel()

	resp, dur, err := c.send(ctx, call)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, c.fail(call.Capability, dur, &Error{Kind: classify(err), Capability: call.Capability, Err: err})
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, c.fail(call.Capability, dur, &Error{
			Kind:        KindUpstream,
			Capability:  call.Capability,
			Status:      resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
		})
	}
	c.ok(call.Capability, dur)
	return &Response{
		Status:      resp.StatusCode,
		Body:        body,
		ContentType: resp.Header.Get("Content-Type"),
		Duration:    dur,
	}, nil
}

// Stream performs call and hands back the unread body. The call timeout
// keeps running until the body is closed.
func (c *Client) Stream(ctx context.Context, call Call) (*Stream, error) {
	ctx, cancel := c.withTimeout(ctx, call.Timeout)

	resp, dur, err := c.send(ctx, call)
	if err != nil {
		cancel()
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
		resp.Body.Close()
		cancel()
		return nil, c.fail(call.Capability, dur, &Error{
			Kind:        KindUpstream,
			Capability:  call.Capability,
			Status:      resp.StatusCode,
			Body:        body,
			ContentType: resp.Header.Get("Content-Type"),
		})
	}
	c.ok(call.Capability, dur)
	return &Stream{
		Status:        resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          &cancelOnClose{ReadCloser: resp.Body, cancel: cancel},
		Duration:      dur,
	}, nil
}

func (c *Client) withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		d = TimeoutStandard
	}
	return context.WithTimeout(ctx, d)
}

// send builds and executes the request. Errors are already classified and counted.
func (c *Client) send(ctx context.Context, call Call) (*http.Response, time.Duration, error) {
	ctx, span := c.tracer.Start(ctx, "upstream."+call.Capability,
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			attribute.String("upstream.capability", call.Capability),
			attribute.String("http.request.method", call.Method),
			attribute.String("url.path", call.Path),
		))
	defer span.End()

	start := time.Now()
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			span.SetStatus(codes.Error, "throttled")
			return nil, 0, c.fail(call.Capability, time.Since(start),
				&Error{Kind: KindUnavailable, Capability: call.Capability, Err: fmt.Errorf("%w: %v", errThrottled, err)})
		}
	}

	req, err := c.newRequest(ctx, call)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
		return nil, 0, c.fail(call.Capability, 0, &Error{Kind: KindInternal, Capability: call.Capability, Err: err})
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))

	resp, err := c.httpClient.Do(req)
	dur := time.Since(start)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "transport error")
		return nil, dur, c.fail(call.Capability, dur, &Error{Kind: classify(err), Capability: call.Capability, Err: err})
	}
	span.SetAttributes(attribute.Int("http.response.status_code", resp.StatusCode))
	if resp.StatusCode >= 400 {
		span.SetStatus(codes.Error, http.StatusText(resp.StatusCode))
	}
	return resp, dur, nil
}

func (c *Client) newRequest(ctx context.Context, call Call) (*http.Request, error) {
	if call.JSON != nil && call.Form != nil {
		return nil, errors.New("call has both JSON and Form bodies")
	}
	method := call.Method
	if method == "" {
		method = http.MethodGet
	}
	u := c.baseURL + call.Path
	if len(call.Query) > 0 {
		u += "?" + call.Query.Encode()
	}

	var (
		body        io.Reader
		contentType string
	)
	switch {
	case call.JSON != nil:
		b, err := json.Marshal(call.JSON)
		if err != nil {
			return nil, err
		}
		body = bytes.NewReader(b)
		contentType = "application/json"
	case call.Form != nil:
		pr, pw := io.Pipe()
		mw := multipart.NewWriter(pw)
		go func() {
			pw.CloseWithError(writeForm(mw, call.Form))
		}()
		body = pr
		contentType = mw.FormDataContentType()
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("Accept", "application/json")
	if call.Bearer != "" {
		req.Header.Set("Authorization", "Bearer "+call.Bearer)
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	return req, nil
}

// writeForm streams fields then files into mw and closes it.
func writeForm(mw *multipart.Writer, f *Form) error {
	for k, v := range f.Fields {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	for _, ff := range f.Files {
		if err := copyFilePart(mw, ff); err != nil {
			return err
		}
	}
	return mw.Close()
}

func copyFilePart(mw *multipart.Writer, ff FormFile) error {
	fh, err := os.Open(ff.Path)
	if err != nil {
		return err
	}
	defer fh.Close()

	name := ff.Filename
	if name == "" {
		name = filepath.Base(ff.Path)
	}
	ct := ff.ContentType
	if ct == "" {
		ct = "application/octet-stream"
	}
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, ff.Field, name))
	h.Set("Content-Type", ct)
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	_, err = io.Copy(part, fh)
	return err
}

func (c *Client) ok(capability string, dur time.Duration) {
	reqs.WithLabelValues(capability, "ok").Inc()
	lat.WithLabelValues(capability).Observe(dur.Seconds())
}

func (c *Client) fail(capability string, dur time.Duration, err *Error) error {
	reqs.WithLabelValues(capability, err.Kind.String()).Inc()
	if dur > 0 {
		lat.WithLabelValues(capability).Observe(dur.Seconds())
	}
	return err
}

type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (c *cancelOnClose) Close() error {
	err := c.ReadCloser.Close()
	c.cancel()
	return err
}
