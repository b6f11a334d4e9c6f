package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/giantswarm/sns-oauth/instrumentation"
)

// MaxResponseBytes caps the size of a provider response body.
const MaxResponseBytes = 10 << 20

// ErrProtocol marks a provider response that is not the JSON object the flow expects.
var ErrProtocol = errors.New("provider protocol error")

// BackchannelError is returned when a provider call fails at the transport
// level or answers with a non-2xx status.
type BackchannelError struct {
	Provider   string
	Step       string
	StatusCode int // zero when no response was received
	Err        error
}

// Error implements the error interface
func (e *BackchannelError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s %s request failed with status %d", e.Provider, e.Step, e.StatusCode)
	}
	return fmt.Sprintf("%s %s request failed: %v", e.Provider, e.Step, e.Err)
}

// Unwrap returns the underlying transport error, if any.
func (e *BackchannelError) Unwrap() error {
	return e.Err
}

// call describes one backchannel request.
type call struct {
	step     string
	method   string
	endpoint string
	query    url.Values
	form     url.Values
	jsonBody any
}

// errorEnvelope is the error shape both providers return with HTTP 200.
type errorEnvelope struct {
	ErrCode *json.Number `json:"errcode"`
	ErrMsg  string       `json:"errmsg"`
}

// do performs c and decodes the JSON object response into out.
func (e *Exchanger) do(ctx context.Context, cfg *Config, c call, out any) (err error) {
	// Each call is bounded on its own; an earlier deadline on ctx still wins.
	ctx, cancel := context.WithTimeout(ctx, cfg.Timeout())
	defer cancel()

	var span trace.Span
	if e.tracer != nil {
		ctx, span = e.tracer.Start(ctx, "provider."+cfg.Name+"."+c.step)
		defer span.End()
		instrumentation.AddProviderAttributes(span, cfg.Name, c.step)
	}

	startTime := time.Now()
	statusCode := 0
	defer func() {
		if e.instrumentation != nil {
			durationMs := float64(time.Since(startTime).Microseconds()) / 1000
			e.instrumentation.Metrics().RecordProviderAPICall(ctx, cfg.Name, c.step, statusCode, durationMs, err)
		}
		if err != nil {
			instrumentation.RecordError(span, err)
		} else {
			instrumentation.SetSpanSuccess(span)
		}
	}()

	req, err := newRequest(ctx, c)
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", c.step, err)
	}

	resp, err := e.clientFor(ctx).Do(req)
	if err != nil {
		return &BackchannelError{Provider: cfg.Name, Step: c.step, Err: stripURL(err)}
	}
	defer func() { _ = resp.Body.Close() }()

	statusCode = resp.StatusCode
	instrumentation.SetSpanAttributes(span, attribute.Int(instrumentation.AttrProviderStatus, statusCode))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, MaxResponseBytes))
		return &BackchannelError{Provider: cfg.Name, Step: c.step, StatusCode: resp.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes+1))
	if err != nil {
		return &BackchannelError{Provider: cfg.Name, Step: c.step, StatusCode: resp.StatusCode, Err: err}
	}
	if len(body) > MaxResponseBytes {
		return fmt.Errorf("%w: %s response exceeds %d bytes", ErrProtocol, c.step, MaxResponseBytes)
	}

	return decodeObject(c.step, body, out)
}

// stripURL drops the request URL from transport errors. Query strings carry
// access tokens and app secrets.
func stripURL(err error) error {
	var urlErr *url.Error
	if errors.As(err, &urlErr) {
		return fmt.Errorf("%s: %w", urlErr.Op, urlErr.Err)
	}
	return err
}

func newRequest(ctx context.Context, c call) (*http.Request, error) {
	endpoint := c.endpoint
	if len(c.query) > 0 {
		u, err := url.Parse(endpoint)
		if err != nil {
			return nil, fmt.Errorf("invalid endpoint: %w", err)
		}
		q := u.Query()
		for k, vs := range c.query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
		endpoint = u.String()
	}

	var body io.Reader
	contentType := ""
	switch {
	case c.form != nil:
		body = strings.NewReader(c.form.Encode())
		contentType = "application/x-www-form-urlencoded"
	case c.jsonBody != nil:
		data, err := json.Marshal(c.jsonBody)
		if err != nil {
			return nil, fmt.Errorf("failed to encode body: %w", err)
		}
		body = bytes.NewReader(data)
		contentType = "application/json"
	}

	req, err := http.NewRequestWithContext(ctx, c.method, endpoint, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/json")
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	return req, nil
}

// decodeObject requires body to be a JSON object without a non-zero errcode.
func decodeObject(step string, body []byte, out any) error {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return fmt.Errorf("%w: %s response is not a JSON object", ErrProtocol, step)
	}

	var envelope errorEnvelope
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrProtocol, step, err)
	}
	if envelope.ErrCode != nil && envelope.ErrCode.String() != "0" {
		return fmt.Errorf("%w: %s returned errcode %s: %s", ErrProtocol, step, envelope.ErrCode.String(), envelope.ErrMsg)
	}

	dec := json.NewDecoder(bytes.NewReader(trimmed))
	dec.UseNumber()
	if err := dec.Decode(out); err != nil {
		return fmt.Errorf("%w: failed to decode %s response: %v", ErrProtocol, step, err)
	}
	return nil
}
