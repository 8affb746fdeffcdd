// Package session owns the credential lifecycle: login, logout, and renewal.
// The Manager is the single authority allowed to write to the token store;
// every other component reads the access token through the Manager.
package session

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	wifiwatch "github.com/wifiwatch/go-wifiwatch"
	"github.com/wifiwatch/go-wifiwatch/tokenstore"
)

const (
	loginPath = "/api/auth/login"
	renewPath = "/api/auth/refresh"

	// Single key: all concurrent renewal callers share one in-flight attempt.
	renewalKey = "renewal"
)

// Manager drives the session state machine. State is derived from credential
// presence, never stored separately.
type Manager struct {
	baseURL string
	client  *http.Client
	store   tokenstore.Store
	log     zerolog.Logger
	nowTime func() time.Time

	mu      sync.RWMutex
	cred    *Credential
	gen     uint64 // bumped whenever the credential owner changes (login, logout, expiry)
	expired []func()

	renewals singleflight.Group
}

// ManagerOption modifies a Manager during construction.
type ManagerOption func(*Manager)

// WithHTTPClient replaces the HTTP client used for the auth endpoints.
func WithHTTPClient(client *http.Client) ManagerOption {
	return func(m *Manager) { m.client = client }
}

// WithLogger attaches a logger; the default discards everything.
func WithLogger(log zerolog.Logger) ManagerOption {
	return func(m *Manager) { m.log = log }
}

// WithNowTime sets the now time function (primarily for testing).
func WithNowTime(nowFunc func() time.Time) ManagerOption {
	return func(m *Manager) { m.nowTime = nowFunc }
}

// NewManager initializes a Manager over the given service base URL and token
// store. A credential pair persisted by a previous process is restored, so a
// session survives restarts until its refresh token is rejected.
func NewManager(baseURL string, store tokenstore.Store, options ...ManagerOption) (*Manager, error) {
	if baseURL == "" {
		return nil, errors.New("[NewManager] baseURL is required")
	}
	if store == nil {
		return nil, errors.New("[NewManager] token store is required")
	}

	m := &Manager{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		client:  &http.Client{},
		store:   store,
		log:     zerolog.Nop(),
		nowTime: time.Now,
	}
	for _, opt := range options {
		opt(m)
	}

	if err := m.restore(); err != nil {
		return nil, errors.Wrap(err, "[NewManager] restore credential")
	}
	return m, nil
}

// Login exchanges the username/password for a credential pair, persists it,
// and moves the session to Authenticated.
func (m *Manager) Login(ctx context.Context, username, password string) (Credential, error) {
	form := url.Values{}
	form.Set("username", username)
	form.Set("password", password)

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.baseURL+loginPath, strings.NewReader(form.Encode()))
	if err != nil {
		return Credential{}, errors.Wrap(err, "[Login] build request")
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := m.client.Do(req)
	if err != nil {
		return Credential{}, errors.Wrap(wifiwatch.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized {
		return Credential{}, wifiwatch.ErrInvalidCredentials
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Credential{}, &wifiwatch.RejectedError{Status: resp.StatusCode, Message: serverDetail(resp.Body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Credential{}, errors.Wrap(err, "[Login] decode token response")
	}

	cred := credentialFrom(tr, m.nowTime())
	if err := m.setCredential(cred); err != nil {
		return Credential{}, errors.Wrap(err, "[Login] persist credential")
	}
	m.log.Info().Str("username", username).Msg("session authenticated")
	return cred, nil
}

// Logout clears the credential unconditionally. It is idempotent and purely
// local; an already-cleared session stays cleared.
func (m *Manager) Logout(ctx context.Context) error {
	if err := m.clearCredential(); err != nil {
		return errors.Wrap(err, "[Logout] clear credential")
	}
	m.log.Info().Msg("session logged out")
	return nil
}

// AccessToken is a non-blocking read of the current access token.
func (m *Manager) AccessToken() (string, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return "", false
	}
	return m.cred.AccessToken, true
}

// Current returns a copy of the whole credential pair.
func (m *Manager) Current() (Credential, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.cred == nil {
		return Credential{}, false
	}
	return *m.cred, true
}

// Authenticated reports whether the session holds a credential.
func (m *Manager) Authenticated() bool {
	_, ok := m.AccessToken()
	return ok
}

// OnExpired registers a callback fired when the session terminates because
// renewal failed. Callbacks run outside the Manager's lock.
func (m *Manager) OnExpired(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.expired = append(m.expired, fn)
}

// Renew exchanges the stored refresh token for a new credential pair. At
// most one renewal is in flight at a time: concurrent callers share the
// result of the single outstanding attempt instead of each spending a
// refresh token, which would invalidate each other's.
//
// Only an explicit rejection of the refresh token (401/403) is terminal:
// the credential is cleared and the error wraps wifiwatch.ErrRenewalFailed.
// A transport failure wraps wifiwatch.ErrNetwork, and any other server
// status surfaces as a *wifiwatch.RejectedError; both leave the session
// untouched so a later attempt can succeed.
func (m *Manager) Renew(ctx context.Context) (Credential, error) {
	v, err, shared := m.renewals.Do(renewalKey, func() (interface{}, error) {
		return m.doRenew(ctx)
	})
	if err != nil {
		return Credential{}, err
	}
	if shared {
		m.log.Debug().Msg("renewal result shared with concurrent caller")
	}
	return v.(Credential), nil
}

func (m *Manager) doRenew(ctx context.Context) (Credential, error) {
	m.mu.RLock()
	var refreshToken string
	if m.cred != nil {
		refreshToken = m.cred.RefreshToken
	}
	gen := m.gen
	m.mu.RUnlock()

	if refreshToken == "" {
		return Credential{}, errors.Wrap(wifiwatch.ErrRenewalFailed, "no refresh token held")
	}

	renewURL := m.baseURL + renewPath + "?refresh_token=" + url.QueryEscape(refreshToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, renewURL, nil)
	if err != nil {
		return Credential{}, errors.Wrap(err, "[Renew] build request")
	}

	resp, err := m.client.Do(req)
	if err != nil {
		return Credential{}, errors.Wrap(wifiwatch.ErrNetwork, err.Error())
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		detail := serverDetail(resp.Body)
		m.expire()
		m.log.Warn().Int("status", resp.StatusCode).Msg("refresh token rejected, session terminated")
		return Credential{}, errors.Wrap(wifiwatch.ErrRenewalFailed, detail)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Server trouble, not a verdict on the refresh token. The credential
		// stays so a later renewal can succeed.
		m.log.Warn().Int("status", resp.StatusCode).Msg("renewal failed transiently, keeping session")
		return Credential{}, &wifiwatch.RejectedError{Status: resp.StatusCode, Message: serverDetail(resp.Body)}
	}

	var tr tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&tr); err != nil {
		return Credential{}, errors.Wrap(err, "[Renew] decode token response")
	}

	cred := credentialFrom(tr, m.nowTime())
	if err := m.renewCredential(cred, gen); err != nil {
		return Credential{}, err
	}
	m.log.Debug().Time("expires_at", cred.ExpiresAt).Msg("credential renewed")
	return cred, nil
}

// restore loads a persisted pair. Both halves must be present; a stray
// single token is discarded rather than trusted.
func (m *Manager) restore() error {
	access, okAccess, err := m.store.Get(tokenstore.KeyAccessToken)
	if err != nil {
		return err
	}
	refresh, okRefresh, err := m.store.Get(tokenstore.KeyRefreshToken)
	if err != nil {
		return err
	}
	if !okAccess || !okRefresh {
		if okAccess || okRefresh {
			return m.clearCredential()
		}
		return nil
	}

	cred := credentialFrom(tokenResponse{AccessToken: access, RefreshToken: refresh}, m.nowTime())
	m.mu.Lock()
	m.cred = &cred
	m.mu.Unlock()
	m.log.Debug().Msg("restored persisted credential")
	return nil
}

// setCredential replaces the pair in store and memory and starts a new
// session generation. Readers go through the Manager's lock, so they always
// observe the old pair or the new pair, never a mix.
func (m *Manager) setCredential(cred Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	return m.persistLocked(cred)
}

// renewCredential installs a renewed pair only while the session that
// started the renewal is still live. A logout or expiry in the meantime
// wins; the fresh pair is discarded rather than resurrecting the session.
func (m *Manager) renewCredential(cred Credential, gen uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.gen != gen {
		return errors.Wrap(wifiwatch.ErrSessionExpired, "session ended during renewal")
	}
	if err := m.persistLocked(cred); err != nil {
		return errors.Wrap(err, "[Renew] persist credential")
	}
	return nil
}

func (m *Manager) persistLocked(cred Credential) error {
	if err := m.store.Set(tokenstore.KeyAccessToken, cred.AccessToken); err != nil {
		return err
	}
	if err := m.store.Set(tokenstore.KeyRefreshToken, cred.RefreshToken); err != nil {
		// Do not leave half a pair behind.
		_ = m.store.Clear(tokenstore.KeyAccessToken)
		return err
	}
	m.cred = &cred
	return nil
}

func (m *Manager) clearCredential() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gen++
	m.cred = nil
	if err := m.store.Clear(tokenstore.KeyAccessToken); err != nil {
		return err
	}
	return m.store.Clear(tokenstore.KeyRefreshToken)
}

// expire clears the credential and notifies listeners once for this expiry.
func (m *Manager) expire() {
	m.mu.Lock()
	alreadyGone := m.cred == nil
	m.gen++
	m.cred = nil
	_ = m.store.Clear(tokenstore.KeyAccessToken)
	_ = m.store.Clear(tokenstore.KeyRefreshToken)
	listeners := make([]func(), len(m.expired))
	copy(listeners, m.expired)
	m.mu.Unlock()

	if alreadyGone {
		return
	}
	for _, fn := range listeners {
		fn()
	}
}

// serverDetail extracts the server's error message ({"detail": "..."}) or
// falls back to a generic string.
func serverDetail(body io.Reader) string {
	data, err := io.ReadAll(io.LimitReader(body, 8192))
	if err != nil || len(data) == 0 {
		return "request failed"
	}
	var payload struct {
		Detail string `json:"detail"`
	}
	if err := json.Unmarshal(data, &payload); err == nil && payload.Detail != "" {
		return payload.Detail
	}
	return strings.TrimSpace(string(data))
}
