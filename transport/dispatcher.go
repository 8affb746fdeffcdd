// Package transport issues authenticated REST calls. The Dispatcher attaches
// the current access token, and on an authorization failure drives exactly
// one renewal through the session manager before replaying the request once.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	wifiwatch "github.com/wifiwatch/go-wifiwatch"
	"github.com/wifiwatch/go-wifiwatch/session"
)

// Dispatcher executes requests against the monitoring service. Construct one
// per process and share it; it is safe for concurrent use.
type Dispatcher struct {
	baseURL string
	client  *http.Client
	session *session.Manager
	log     zerolog.Logger
}

// DispatcherOption modifies a Dispatcher during construction.
type DispatcherOption func(*Dispatcher)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(client *http.Client) DispatcherOption {
	return func(d *Dispatcher) { d.client = client }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) DispatcherOption {
	return func(d *Dispatcher) { d.log = log }
}

// NewDispatcher builds a Dispatcher over the service base URL and the
// session manager that supplies and renews credentials.
func NewDispatcher(baseURL string, mgr *session.Manager, options ...DispatcherOption) (*Dispatcher, error) {
	if baseURL == "" {
		return nil, errors.New("[NewDispatcher] baseURL is required")
	}
	if mgr == nil {
		return nil, errors.New("[NewDispatcher] session manager is required")
	}

	d := &Dispatcher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		session: mgr,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(d)
	}
	return d, nil
}

// Do executes the request. The retry budget is exactly one
// renewal-and-replay per request: a 401 on the first attempt triggers a
// shared renewal; a 401 on the replay, or a rejected renewal, terminates
// with wifiwatch.ErrSessionExpired. Transport failures surface as
// wifiwatch.ErrNetwork and are never retried here; business rejections
// surface as *wifiwatch.RejectedError with the server message verbatim. A
// renewal that failed transiently (server trouble, not token rejection)
// passes through with the session intact.
func (d *Dispatcher) Do(ctx context.Context, req Request) (*Response, error) {
	requestID := uuid.New().String()
	log := d.log.With().Str("request_id", requestID).Str("method", req.Method).Str("path", req.Path).Logger()

	resp, err := d.attempt(ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusUnauthorized {
		drain(resp)
		log.Debug().Msg("unauthorized, renewing credential")

		if _, err := d.session.Renew(ctx); err != nil {
			if errors.Is(err, wifiwatch.ErrRenewalFailed) {
				return nil, errors.Wrap(wifiwatch.ErrSessionExpired, err.Error())
			}
			// Transport failures and transient server errors are
			// recoverable; the session is still intact.
			return nil, err
		}

		resp, err = d.attempt(ctx, req)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode == http.StatusUnauthorized {
			drain(resp)
			log.Warn().Msg("replay still unauthorized")
			return nil, wifiwatch.ErrSessionExpired
		}
	}

	return d.finish(resp, log)
}

// attempt builds and issues one HTTP call with the current access token.
func (d *Dispatcher) attempt(ctx context.Context, req Request) (*http.Response, error) {
	var body io.Reader
	if req.Body != nil {
		data, err := json.Marshal(req.Body)
		if err != nil {
			return nil, errors.Wrap(err, "[Dispatcher] encode request body")
		}
		body = bytes.NewReader(data)
	}

	target := d.baseURL + req.Path
	if len(req.Query) > 0 {
		target += "?" + req.Query.Encode()
	}

	httpReq, err := http.NewRequestWithContext(ctx, req.Method, target, body)
	if err != nil {
		return nil, errors.Wrap(err, "[Dispatcher] build request")
	}
	for key, values := range req.Header {
		for _, v := range values {
			httpReq.Header.Add(key, v)
		}
	}
	if req.Body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}
	// Header omitted entirely when unauthenticated.
	if token, ok := d.session.AccessToken(); ok {
		httpReq.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, errors.Wrap(wifiwatch.ErrNetwork, err.Error())
	}
	return resp, nil
}

// finish converts a terminal HTTP response into a Response or a rejection.
func (d *Dispatcher) finish(resp *http.Response, log zerolog.Logger) (*Response, error) {
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(wifiwatch.ErrNetwork, err.Error())
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		rejection := &wifiwatch.RejectedError{Status: resp.StatusCode, Message: rejectionMessage(data)}
		log.Debug().Int("status", resp.StatusCode).Str("message", rejection.Message).Msg("request rejected")
		return nil, rejection
	}

	log.Debug().Int("status", resp.StatusCode).Int("bytes", len(data)).Msg("request complete")
	return &Response{Status: resp.StatusCode, body: data}, nil
}

// rejectionMessage surfaces the server's detail field verbatim when present.
func rejectionMessage(body []byte) string {
	if len(body) == 0 {
		return "request failed"
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(body, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(body))
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 8192))
	resp.Body.Close()
}
