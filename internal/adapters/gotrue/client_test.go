package gotrue

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
)

const testAnonKey = "anon-key"

type recordedRequest struct {
	Path          string
	Query         string
	APIKey        string
	Authorization string
	Body          map[string]string
}

type requestLog struct {
	mu   sync.Mutex
	reqs []recordedRequest
}

func (l *requestLog) add(r recordedRequest) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.reqs = append(l.reqs, r)
}

func (l *requestLog) all() []recordedRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]recordedRequest(nil), l.reqs...)
}

func newTestServer(t *testing.T, handler func(w http.ResponseWriter, r *http.Request, rec recordedRequest)) (*Client, *requestLog) {
	t.Helper()
	seen := &requestLog{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := recordedRequest{
			Path:          r.URL.Path,
			Query:         r.URL.RawQuery,
			APIKey:        r.Header.Get("apikey"),
			Authorization: r.Header.Get("Authorization"),
		}
		if r.Body != nil {
			_ = json.NewDecoder(r.Body).Decode(&rec.Body)
		}
		seen.add(rec)
		handler(w, r, rec)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(Config{
		URL:     srv.URL + "/",
		AnonKey: testAnonKey,
		Client:  srv.Client(),
		Now:     func() time.Time { return time.Unix(1_700_000_000, 0) },
	})
	require.NoError(t, err)
	return client, seen
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func accessToken(t *testing.T, sub, email string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":   sub,
		"email": email,
		"exp":   exp.Unix(),
	})
	signed, err := tok.SignedString([]byte("gotrue-secret"))
	require.NoError(t, err)
	return signed
}

func TestNewClient_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "missing url", cfg: Config{AnonKey: "k"}},
		{name: "bad scheme", cfg: Config{URL: "ftp://x", AnonKey: "k"}},
		{name: "missing anon key", cfg: Config{URL: "https://x.supabase.co"}},
		{name: "missing host", cfg: Config{URL: "https://", AnonKey: "k"}},
		{name: "public suffix host", cfg: Config{URL: "https://co.uk", AnonKey: "k"}},
		{name: "private suffix host", cfg: Config{URL: "https://github.io", AnonKey: "k"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewClient(tt.cfg)
			assert.Error(t, err)
		})
	}

	c, err := NewClient(Config{URL: "https://x.supabase.co", AnonKey: "k"})
	require.NoError(t, err)
	assert.Equal(t, defaultTimeout, c.client.Timeout)
	assert.Equal(t, "google", c.provider)
	assert.Equal(t, "delete_user", c.deleteRPC)
}

func TestCheckProjectHost(t *testing.T) {
	for _, host := range []string{"xyz.supabase.co", "auth.example.com", "auth.example.co.uk", "localhost", "kong", "127.0.0.1", "::1", "XYZ.Supabase.CO."} {
		assert.NoError(t, checkProjectHost(host), host)
	}
	for _, host := range []string{"", "co.uk", "com.au", "github.io"} {
		assert.Error(t, checkProjectHost(host), host)
	}
}

func TestExchangeIDToken_Success(t *testing.T) {
	client, seen := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
			"expires_in":    3600,
			"expires_at":    1_700_003_600,
			"user": map[string]any{
				"id":            "user-1",
				"email":         "a@example.com",
				"user_metadata": map[string]any{"name": "Ann"},
			},
		})
	})

	tokens, err := client.ExchangeIDToken(context.Background(), "id-token", "raw-nonce")
	require.NoError(t, err)
	assert.Equal(t, "user-1", tokens.UserID)
	assert.Equal(t, "access-1", tokens.AccessToken)
	assert.Equal(t, "refresh-1", tokens.RefreshToken)
	assert.Equal(t, "a@example.com", tokens.Email)
	assert.True(t, tokens.ExpiresAt.Equal(time.Unix(1_700_003_600, 0)))
	assert.JSONEq(t, `{"name":"Ann"}`, string(tokens.Metadata))

	require.Len(t, seen.all(), 1)
	req := seen.all()[0]
	assert.Equal(t, "/auth/v1/token", req.Path)
	assert.Equal(t, "grant_type=id_token", req.Query)
	assert.Equal(t, testAnonKey, req.APIKey)
	assert.Empty(t, req.Authorization)
	assert.Equal(t, map[string]string{"provider": "google", "id_token": "id-token", "nonce": "raw-nonce"}, req.Body)
}

func TestExchangeIDToken_FillsFromAccessTokenClaims(t *testing.T) {
	exp := time.Unix(1_700_007_200, 0)
	at := accessToken(t, "user-9", "z@example.com", exp)
	client, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": at, "refresh_token": "r"})
	})

	tokens, err := client.ExchangeIDToken(context.Background(), "id-token", "")
	require.NoError(t, err)
	assert.Equal(t, "user-9", tokens.UserID)
	assert.Equal(t, "z@example.com", tokens.Email)
	assert.True(t, tokens.ExpiresAt.Equal(exp))
	assert.Nil(t, tokens.Metadata)
}

func TestExchangeIDToken_ExpiresInFallback(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "opaque", "refresh_token": "r", "expires_in": 60,
			"user": map[string]any{"id": "u"},
		})
	})
	tokens, err := client.ExchangeIDToken(context.Background(), "id-token", "n")
	require.NoError(t, err)
	assert.True(t, tokens.ExpiresAt.Equal(time.Unix(1_700_000_060, 0)))
}

func TestExchangeIDToken_MissingUser(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{"access_token": "opaque", "refresh_token": "r"})
	})
	_, err := client.ExchangeIDToken(context.Background(), "id-token", "n")
	assert.Equal(t, domainauth.ErrCodeRejected, domainauth.ErrorCode(err))
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    map[string]any
		refresh bool
		want    domainauth.AuthErrorCode
	}{
		{name: "server error", status: 503, body: map[string]any{"msg": "down"}, want: domainauth.ErrCodeNetwork},
		{name: "rate limited", status: 429, body: map[string]any{"error_code": "over_request_rate_limit"}, want: domainauth.ErrCodeNetwork},
		{name: "invalid credentials", status: 400, body: map[string]any{"error_code": "invalid_credentials", "msg": "bad token"}, want: domainauth.ErrCodeRejected},
		{name: "nonce", status: 400, body: map[string]any{"msg": "Passed nonce and nonce in id_token should either both exist or not."}, want: domainauth.ErrCodeNonceMismatch},
		{name: "refresh not found", status: 400, body: map[string]any{"error_code": "refresh_token_not_found"}, refresh: true, want: domainauth.ErrCodeRevoked},
		{name: "legacy invalid grant", status: 400, body: map[string]any{"error": "invalid_grant", "error_description": "Invalid Refresh Token: Already Used"}, refresh: true, want: domainauth.ErrCodeRevoked},
		{name: "refresh validation", status: 422, body: map[string]any{"error_code": "validation_failed", "msg": "bad body"}, refresh: true, want: domainauth.ErrCodeRejected},
		{name: "refresh outage", status: 502, body: map[string]any{}, refresh: true, want: domainauth.ErrCodeNetwork},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, _ := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
				writeJSON(w, tt.status, tt.body)
			})
			var err error
			if tt.refresh {
				_, err = client.Refresh(context.Background(), "refresh")
			} else {
				_, err = client.ExchangeIDToken(context.Background(), "id", "n")
			}
			require.Error(t, err)
			assert.Equal(t, tt.want, domainauth.ErrorCode(err))
			var se *statusError
			assert.True(t, errors.As(err, &se))
			assert.Equal(t, tt.status, se.status)
		})
	}
}

func TestTransportFailureIsNetwork(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	srv.Close()

	client, err := NewClient(Config{URL: srv.URL, AnonKey: testAnonKey})
	require.NoError(t, err)
	_, err = client.Refresh(context.Background(), "r")
	assert.Equal(t, domainauth.ErrCodeNetwork, domainauth.ErrorCode(err))
}

func TestRefresh(t *testing.T) {
	client, seen := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		writeJSON(w, http.StatusOK, map[string]any{
			"access_token": "access-2", "refresh_token": "refresh-2", "expires_at": 1_700_010_000,
			"user": map[string]any{"id": "user-1"},
		})
	})

	tokens, err := client.Refresh(context.Background(), "refresh-1")
	require.NoError(t, err)
	assert.Equal(t, "refresh-2", tokens.RefreshToken)
	assert.Equal(t, "grant_type=refresh_token", seen.all()[0].Query)
	assert.Equal(t, map[string]string{"refresh_token": "refresh-1"}, seen.all()[0].Body)

	_, err = client.Refresh(context.Background(), "")
	assert.Equal(t, domainauth.ErrCodeRevoked, domainauth.ErrorCode(err))
	assert.Len(t, seen.all(), 1)
}

func TestSignOut(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	client, seen := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		w.WriteHeader(int(status.Load()))
	})

	require.NoError(t, client.SignOut(context.Background(), "access"))
	req := seen.all()[0]
	assert.Equal(t, "/auth/v1/logout", req.Path)
	assert.Equal(t, "scope=local", req.Query)
	assert.Equal(t, "Bearer access", req.Authorization)

	status.Store(http.StatusUnauthorized)
	assert.NoError(t, client.SignOut(context.Background(), "expired"))

	status.Store(http.StatusInternalServerError)
	err := client.SignOut(context.Background(), "access")
	assert.Equal(t, domainauth.ErrCodeNetwork, domainauth.ErrorCode(err))

	assert.NoError(t, client.SignOut(context.Background(), ""))
	assert.Len(t, seen.all(), 3)
}

func TestDeleteUser(t *testing.T) {
	var status atomic.Int32
	status.Store(http.StatusNoContent)
	client, seen := newTestServer(t, func(w http.ResponseWriter, _ *http.Request, _ recordedRequest) {
		w.WriteHeader(int(status.Load()))
	})

	require.NoError(t, client.DeleteUser(context.Background(), "access", "user-1"))
	req := seen.all()[0]
	assert.Equal(t, "/rest/v1/rpc/delete_user", req.Path)
	assert.Equal(t, "Bearer access", req.Authorization)
	assert.Equal(t, testAnonKey, req.APIKey)
	assert.Equal(t, map[string]string{"user_id": "user-1"}, req.Body)

	status.Store(http.StatusForbidden)
	err := client.DeleteUser(context.Background(), "access", "user-1")
	assert.Equal(t, domainauth.ErrCodeRejected, domainauth.ErrorCode(err))

	err = client.DeleteUser(context.Background(), "", "user-1")
	assert.Equal(t, domainauth.ErrCodeInvalidInput, domainauth.ErrorCode(err))
}
