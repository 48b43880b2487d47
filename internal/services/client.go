// Package services talks to the external content-generation and site-build
// collaborators.
package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"git.home.luguber.info/inful/sitebuilder/internal/config"
	derrors "git.home.luguber.info/inful/sitebuilder/internal/foundation/errors"
	"git.home.luguber.info/inful/sitebuilder/internal/logfields"
	"git.home.luguber.info/inful/sitebuilder/internal/metrics"
	"git.home.luguber.info/inful/sitebuilder/internal/version"
)

// Outbound header names.
const (
	HeaderRequestID = "X-Request-ID"
	HeaderService   = "X-Service"
	HeaderTimestamp = "X-Timestamp"

	serviceName = "sitebuilder"

	ServiceContent   = "content-generation"
	ServiceSiteBuild = "site-build"

	maxErrorBody = 4 << 10
)

type ctxKey struct{}

// WithCorrelationID attaches a correlation id that outbound calls reuse.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, ctxKey{}, id)
}

// CorrelationID returns the id attached to ctx, or "".
func CorrelationID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Client is the communication client for both collaborators. It is safe for
// concurrent use.
type Client struct {
	http            *http.Client
	contentBaseURL  string
	buildBaseURL    string
	pollInterval    time.Duration
	maxPollAttempts int
	requestTimeout  time.Duration
	buildTimeout    time.Duration
	healthTimeout   time.Duration
	recorder        metrics.Recorder
	now             func() time.Time
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the transport.
func WithHTTPClient(c *http.Client) Option { return func(cl *Client) { cl.http = c } }

// WithRecorder sets the metrics recorder.
func WithRecorder(r metrics.Recorder) Option { return func(cl *Client) { cl.recorder = r } }

// WithClock overrides the timestamp source for outbound headers.
func WithClock(now func() time.Time) Option { return func(cl *Client) { cl.now = now } }

// NewClient builds a client from configuration.
func NewClient(cfg *config.Config, opts ...Option) *Client {
	c := &Client{
		http:            &http.Client{},
		contentBaseURL:  strings.TrimRight(cfg.ContentService.BaseURL, "/"),
		pollInterval:    cfg.ContentService.PollInterval,
		maxPollAttempts: cfg.ContentService.MaxPollAttempts,
		requestTimeout:  cfg.ContentService.RequestTimeout,
		buildTimeout:    cfg.SiteBuild.Timeout,
		healthTimeout:   cfg.Health.Timeout,
		recorder:        metrics.NoopRecorder{},
		now:             time.Now,
	}
	if cfg.SiteBuild.Mode == config.SiteBuildRemote {
		c.buildBaseURL = strings.TrimRight(cfg.SiteBuild.BaseURL, "/")
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// call performs one JSON request. A nil out discards the body. Non-2xx
// responses become a *ServiceError.
func (c *Client) call(ctx context.Context, service, method, url string, in, out any) error {
	var body io.Reader
	if in != nil {
		buf, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("encode %s request: %w", service, err)
		}
		body = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return err
	}
	c.decorate(ctx, req)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	start := time.Now()
	resp, err := c.http.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		c.recorder.ObserveServiceCall(service, elapsed, false)
		return &ServiceError{Service: service, Endpoint: method + " " + url, Message: err.Error(), Err: err}
	}
	defer resp.Body.Close()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	c.recorder.ObserveServiceCall(service, elapsed, ok)
	slog.Debug("Outbound call",
		logfields.Method(method), logfields.URL(url), logfields.StatusCode(resp.StatusCode),
		logfields.RequestID(req.Header.Get(HeaderRequestID)),
		logfields.DurationMS(float64(elapsed.Milliseconds())))

	if !ok {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &ServiceError{
			Service:    service,
			Endpoint:   method + " " + url,
			StatusCode: resp.StatusCode,
			Message:    errorMessage(msg),
		}
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return &ServiceError{Service: service, Endpoint: method + " " + url, StatusCode: resp.StatusCode,
			Message: "invalid response body: " + err.Error()}
	}
	return nil
}

func (c *Client) decorate(ctx context.Context, req *http.Request) {
	id := CorrelationID(ctx)
	if id == "" {
		id = uuid.NewString()
	}
	req.Header.Set(HeaderRequestID, id)
	req.Header.Set(HeaderService, serviceName)
	req.Header.Set(HeaderTimestamp, c.now().UTC().Format(time.RFC3339))
	req.Header.Set("User-Agent", version.UserAgent())
}

// errorMessage extracts "error"/"message"/"detail" from a JSON error body,
// falling back to the trimmed text.
func errorMessage(body []byte) string {
	var shaped struct {
		Error   any    `json:"error"`
		Message string `json:"message"`
		Detail  string `json:"detail"`
	}
	if json.Unmarshal(body, &shaped) == nil {
		switch {
		case shaped.Message != "":
			return shaped.Message
		case shaped.Detail != "":
			return shaped.Detail
		case shaped.Error != nil:
			if s, ok := shaped.Error.(string); ok {
				return s
			}
			if m, ok := shaped.Error.(map[string]any); ok {
				if s, ok := m["message"].(string); ok {
					return s
				}
			}
		}
	}
	return strings.TrimSpace(string(body))
}

// classify folds a transport or status failure into the error taxonomy.
func classify(err error, message string) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) {
		return err
	}
	var se *ServiceError
	b := derrors.WrapError(err, derrors.CategoryExternalService, message).Retryable()
	if errors.As(err, &se) {
		b = b.WithContext("service", se.Service).WithContext("endpoint", se.Endpoint)
		if se.StatusCode > 0 {
			b = b.WithContext("status_code", se.StatusCode)
		}
	}
	return b.Build()
}
