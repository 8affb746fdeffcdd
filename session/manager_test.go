package session_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	wifiwatch "github.com/wifiwatch/go-wifiwatch"
	"github.com/wifiwatch/go-wifiwatch/session"
	"github.com/wifiwatch/go-wifiwatch/tokenstore"
)

const (
	testUsername = "admin"
	testPassword = "Sup3rSecret"
)

// authServer is a fake of the auth endpoints with controllable behavior.
type authServer struct {
	mu           sync.Mutex
	loginCalls   int
	renewCalls   int32
	rejectRenew  bool
	renewStatus  int           // when nonzero, renew answers with this status
	renewBarrier chan struct{} // when set, renew handlers block until closed
	issued       int
}

func (s *authServer) handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/auth/login", func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.loginCalls++
		s.mu.Unlock()

		if err := r.ParseForm(); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if r.PostFormValue("username") != testUsername || r.PostFormValue("password") != testPassword {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Incorrect username or password"})
			return
		}
		s.writeTokens(w)
	})
	mux.HandleFunc("POST /api/auth/refresh", func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&s.renewCalls, 1)
		if s.renewBarrier != nil {
			<-s.renewBarrier
		}
		s.mu.Lock()
		status := s.renewStatus
		s.mu.Unlock()
		if status != 0 {
			w.WriteHeader(status)
			json.NewEncoder(w).Encode(map[string]string{"detail": "service unavailable"})
			return
		}
		if s.rejectRenew || r.URL.Query().Get("refresh_token") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			json.NewEncoder(w).Encode(map[string]string{"detail": "Invalid refresh token"})
			return
		}
		s.writeTokens(w)
	})
	return mux
}

func (s *authServer) writeTokens(w http.ResponseWriter) {
	s.mu.Lock()
	s.issued++
	n := s.issued
	s.mu.Unlock()

	json.NewEncoder(w).Encode(map[string]any{
		"access_token":  fmt.Sprintf("access-%d", n),
		"refresh_token": fmt.Sprintf("refresh-%d", n),
		"token_type":    "bearer",
		"expires_in":    1800,
	})
}

func newTestManager(t *testing.T, srv *authServer) (*session.Manager, *tokenstore.MemoryStore, *httptest.Server) {
	t.Helper()

	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	store := tokenstore.NewMemoryStore()
	mgr, err := session.NewManager(ts.URL, store)
	require.NoError(t, err)
	return mgr, store, ts
}

func TestLogin_PersistsBothTokens(t *testing.T) {
	mgr, store, _ := newTestManager(t, &authServer{})

	cred, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, "access-1", cred.AccessToken)
	require.Equal(t, "refresh-1", cred.RefreshToken)
	require.True(t, mgr.Authenticated())

	access, ok, err := store.Get(tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "access-1", access)

	refresh, ok, err := store.Get(tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "refresh-1", refresh)
}

// The access tokens issued by the fake are not JWTs, so the expiry comes
// from expires_in relative to the injected clock.
func TestLogin_ExpiryFromExpiresIn(t *testing.T) {
	now := time.Date(2026, 8, 29, 10, 0, 0, 0, time.UTC)

	ts := httptest.NewServer((&authServer{}).handler())
	t.Cleanup(ts.Close)

	mgr, err := session.NewManager(ts.URL, tokenstore.NewMemoryStore(),
		session.WithNowTime(func() time.Time { return now }))
	require.NoError(t, err)

	cred, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)
	require.Equal(t, now.Add(1800*time.Second), cred.ExpiresAt)
}

func TestLogin_InvalidCredentials(t *testing.T) {
	mgr, _, _ := newTestManager(t, &authServer{})

	_, err := mgr.Login(context.Background(), testUsername, "wrong")
	require.ErrorIs(t, err, wifiwatch.ErrInvalidCredentials)
	require.False(t, mgr.Authenticated())
}

func TestLogin_NetworkError(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	mgr, err := session.NewManager("http://127.0.0.1:1", store)
	require.NoError(t, err)

	_, err = mgr.Login(context.Background(), testUsername, testPassword)
	require.ErrorIs(t, err, wifiwatch.ErrNetwork)
	require.False(t, mgr.Authenticated())
}

func TestLogout_Idempotent(t *testing.T) {
	mgr, store, _ := newTestManager(t, &authServer{})

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	require.NoError(t, mgr.Logout(context.Background()))
	require.False(t, mgr.Authenticated())
	require.NoError(t, mgr.Logout(context.Background()))

	_, ok, err := store.Get(tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRenew_ReplacesPair(t *testing.T) {
	mgr, _, _ := newTestManager(t, &authServer{})

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	cred, err := mgr.Renew(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", cred.AccessToken)
	require.Equal(t, "refresh-2", cred.RefreshToken)
}

// Renewal failure is terminal: the credential is cleared everywhere and the
// expiry listeners fire.
func TestRenew_RejectedTerminatesSession(t *testing.T) {
	srv := &authServer{rejectRenew: true}
	mgr, store, _ := newTestManager(t, srv)

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	expired := 0
	mgr.OnExpired(func() { expired++ })

	_, err = mgr.Renew(context.Background())
	require.ErrorIs(t, err, wifiwatch.ErrRenewalFailed)

	_, ok := mgr.AccessToken()
	require.False(t, ok)
	require.Equal(t, 1, expired)

	_, ok, err = store.Get(tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.Get(tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, ok)
}

// Server trouble on the refresh endpoint is not a verdict on the refresh
// token: the session survives and a later renewal succeeds.
func TestRenew_TransientServerErrorKeepsSession(t *testing.T) {
	srv := &authServer{renewStatus: http.StatusServiceUnavailable}
	mgr, store, _ := newTestManager(t, srv)

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	expired := 0
	mgr.OnExpired(func() { expired++ })

	_, err = mgr.Renew(context.Background())
	require.Error(t, err)
	require.NotErrorIs(t, err, wifiwatch.ErrRenewalFailed)

	var rejection *wifiwatch.RejectedError
	require.ErrorAs(t, err, &rejection)
	require.Equal(t, http.StatusServiceUnavailable, rejection.Status)

	require.True(t, mgr.Authenticated())
	require.Equal(t, 0, expired)
	_, ok, err := store.Get(tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	require.True(t, ok)

	// Server recovered; the kept refresh token still works.
	srv.mu.Lock()
	srv.renewStatus = 0
	srv.mu.Unlock()
	cred, err := mgr.Renew(context.Background())
	require.NoError(t, err)
	require.Equal(t, "access-2", cred.AccessToken)
}

// A logout while a renewal is in flight wins: the renewed pair is discarded
// instead of resurrecting the session the user just ended.
func TestRenew_LogoutDuringRenewalDiscardsPair(t *testing.T) {
	barrier := make(chan struct{})
	srv := &authServer{renewBarrier: barrier}
	mgr, store, _ := newTestManager(t, srv)

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	var renewErr error
	var done sync.WaitGroup
	done.Add(1)
	go func() {
		defer done.Done()
		_, renewErr = mgr.Renew(context.Background())
	}()

	// The renewal is held at the server when the user logs out.
	require.Eventually(t, func() bool {
		return atomic.LoadInt32(&srv.renewCalls) == 1
	}, 2*time.Second, time.Millisecond)
	require.NoError(t, mgr.Logout(context.Background()))

	close(barrier)
	done.Wait()

	require.ErrorIs(t, renewErr, wifiwatch.ErrSessionExpired)
	require.False(t, mgr.Authenticated())
	_, ok, err := store.Get(tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
	_, ok, err = store.Get(tokenstore.KeyRefreshToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestRenew_WithoutCredential(t *testing.T) {
	mgr, _, _ := newTestManager(t, &authServer{})

	_, err := mgr.Renew(context.Background())
	require.ErrorIs(t, err, wifiwatch.ErrRenewalFailed)
}

// Concurrent renewals collapse into a single refresh call; every caller
// receives the pair that call produced.
func TestRenew_SingleFlight(t *testing.T) {
	barrier := make(chan struct{})
	srv := &authServer{renewBarrier: barrier}
	mgr, _, _ := newTestManager(t, srv)

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	const callers = 8
	results := make([]session.Credential, callers)
	errs := make([]error, callers)

	var started, done sync.WaitGroup
	started.Add(callers)
	done.Add(callers)
	for i := 0; i < callers; i++ {
		go func(i int) {
			defer done.Done()
			started.Done()
			results[i], errs[i] = mgr.Renew(context.Background())
		}(i)
	}
	started.Wait()
	close(barrier)
	done.Wait()

	require.EqualValues(t, 1, atomic.LoadInt32(&srv.renewCalls), "exactly one renewal call must reach the server")
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		require.Equal(t, results[0], results[i], "all callers share the single renewal's credential")
	}
}

// Reads during renewal always observe a matched pair, old or new, never a
// mixed one.
func TestCredential_AtomicReplace(t *testing.T) {
	mgr, _, _ := newTestManager(t, &authServer{})

	_, err := mgr.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	stop := make(chan struct{})
	var mixed atomic.Bool
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			cred, ok := mgr.Current()
			if !ok {
				continue
			}
			// access-N always pairs with refresh-N.
			if cred.AccessToken[len("access-"):] != cred.RefreshToken[len("refresh-"):] {
				mixed.Store(true)
				return
			}
		}
	}()

	for i := 0; i < 20; i++ {
		_, err := mgr.Renew(context.Background())
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
	require.False(t, mixed.Load(), "observed a mixed credential pair")
}

func TestManager_RestoresPersistedSession(t *testing.T) {
	srv := &authServer{}
	ts := httptest.NewServer(srv.handler())
	t.Cleanup(ts.Close)

	store := tokenstore.NewMemoryStore()
	first, err := session.NewManager(ts.URL, store)
	require.NoError(t, err)
	_, err = first.Login(context.Background(), testUsername, testPassword)
	require.NoError(t, err)

	// A second manager over the same store picks the credential up.
	second, err := session.NewManager(ts.URL, store)
	require.NoError(t, err)
	require.True(t, second.Authenticated())

	token, ok := second.AccessToken()
	require.True(t, ok)
	require.Equal(t, "access-1", token)
}

func TestManager_DiscardsHalfPair(t *testing.T) {
	store := tokenstore.NewMemoryStore()
	require.NoError(t, store.Set(tokenstore.KeyAccessToken, "orphan"))

	mgr, err := session.NewManager("http://localhost:8000", store)
	require.NoError(t, err)
	require.False(t, mgr.Authenticated())

	_, ok, err := store.Get(tokenstore.KeyAccessToken)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestNewManager_Validation(t *testing.T) {
	_, err := session.NewManager("", tokenstore.NewMemoryStore())
	require.Error(t, err)
	require.Contains(t, err.Error(), "baseURL is required")

	_, err = session.NewManager("http://localhost:8000", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "token store is required")
}
