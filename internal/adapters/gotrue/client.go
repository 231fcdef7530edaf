// Package gotrue implements ports.AuthBackend against a Supabase project
// (GoTrue auth endpoints plus a PostgREST RPC for account deletion).
package gotrue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/net/publicsuffix"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

const (
	defaultProvider = "google"
	defaultTimeout  = 10 * time.Second
	maxErrorBody    = 4 << 10
)

// Config describes a Supabase project.
type Config struct {
	URL     string // project URL, e.g. https://xyz.supabase.co
	AnonKey string // sent as the apikey header
	// Provider is the identity provider the ID tokens come from. Defaults to "google".
	Provider string
	// DeleteUserRPC names the Postgres function that deletes the caller's account.
	// Defaults to "delete_user".
	DeleteUserRPC string
	Timeout       time.Duration
	Client        *http.Client
	Now           func() time.Time
}

// Client talks to GoTrue and PostgREST over HTTP.
type Client struct {
	baseURL   *url.URL
	anonKey   string
	provider  string
	deleteRPC string
	client    *http.Client
	now       func() time.Time
}

var _ ports.AuthBackend = (*Client)(nil)

// NewClient validates cfg and builds a client. Without cfg.Client it uses a
// plain client with cfg.Timeout.
func NewClient(cfg Config) (*Client, error) {
	raw := strings.TrimRight(strings.TrimSpace(cfg.URL), "/")
	if raw == "" {
		return nil, errors.New("supabase url is required")
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("parse supabase url: %w", err)
	}
	if base.Scheme != "http" && base.Scheme != "https" {
		return nil, fmt.Errorf("supabase url %q must be http or https", raw)
	}
	if err := checkProjectHost(base.Hostname()); err != nil {
		return nil, err
	}
	anonKey := strings.TrimSpace(cfg.AnonKey)
	if anonKey == "" {
		return nil, errors.New("supabase anon key is required")
	}

	hc := cfg.Client
	if hc == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		hc = &http.Client{Timeout: timeout}
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &Client{
		baseURL:   base,
		anonKey:   anonKey,
		provider:  fallbackString(strings.TrimSpace(cfg.Provider), defaultProvider),
		deleteRPC: fallbackString(strings.TrimSpace(cfg.DeleteUserRPC), "delete_user"),
		client:    hc,
		now:       now,
	}, nil
}

// checkProjectHost rejects a project URL whose host is itself a public
// suffix, e.g. "co.uk" or "com". IPs and single-label hosts such as
// "localhost" or a compose service name are accepted for local stacks.
func checkProjectHost(host string) error {
	host = strings.ToLower(strings.TrimSuffix(host, "."))
	if host == "" {
		return errors.New("supabase url has no host")
	}
	if net.ParseIP(host) != nil || !strings.Contains(host, ".") {
		return nil
	}
	suffix, icann := publicsuffix.PublicSuffix(host)
	if icann && suffix == host {
		return fmt.Errorf("supabase url host %q is a public suffix, not a project domain", host)
	}
	if _, err := publicsuffix.EffectiveTLDPlusOne(host); err != nil {
		return fmt.Errorf("supabase url host %q: %w", host, err)
	}
	return nil
}

type sessionResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	ExpiresAt    int64  `json:"expires_at"`
	RefreshToken string `json:"refresh_token"`
	User         struct {
		ID           string          `json:"id"`
		Email        string          `json:"email"`
		UserMetadata json.RawMessage `json:"user_metadata"`
	} `json:"user"`
}

// errorResponse covers both the current ({error_code, msg}) and the
// legacy OAuth ({error, error_description}) GoTrue error bodies.
type errorResponse struct {
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

// ExchangeIDToken signs in with a provider ID token.
func (c *Client) ExchangeIDToken(ctx context.Context, idToken, rawNonce string) (domainauth.Tokens, error) {
	body := map[string]string{
		"provider": c.provider,
		"id_token": idToken,
	}
	if rawNonce != "" {
		body["nonce"] = rawNonce
	}
	var out sessionResponse
	if err := c.do(ctx, "/auth/v1/token?grant_type=id_token", "", body, &out); err != nil {
		return domainauth.Tokens{}, classify(err, false)
	}
	return c.tokens(out)
}

// Refresh trades a refresh token for a new session.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (domainauth.Tokens, error) {
	if refreshToken == "" {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeRevoked, "refresh token is empty", nil)
	}
	var out sessionResponse
	body := map[string]string{"refresh_token": refreshToken}
	if err := c.do(ctx, "/auth/v1/token?grant_type=refresh_token", "", body, &out); err != nil {
		return domainauth.Tokens{}, classify(err, true)
	}
	return c.tokens(out)
}

// SignOut revokes the session behind accessToken. A token the server no
// longer recognizes is already signed out.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	if accessToken == "" {
		return nil
	}
	err := c.do(ctx, "/auth/v1/logout?scope=local", accessToken, nil, nil)
	var se *statusError
	if errors.As(err, &se) {
		switch se.status {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil
		}
	}
	if err != nil {
		return classify(err, false)
	}
	return nil
}

// DeleteUser calls the account deletion RPC as the signed-in user.
func (c *Client) DeleteUser(ctx context.Context, accessToken, userID string) error {
	if accessToken == "" || userID == "" {
		return domainauth.NewAuthError(domainauth.ErrCodeInvalidInput, "access token and user id are required", nil)
	}
	body := map[string]string{"user_id": userID}
	if err := c.do(ctx, "/rest/v1/rpc/"+url.PathEscape(c.deleteRPC), accessToken, body, nil); err != nil {
		return classify(err, false)
	}
	return nil
}

func (c *Client) tokens(out sessionResponse) (domainauth.Tokens, error) {
	if out.AccessToken == "" {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeRejected, "backend returned no access token", nil)
	}
	t := domainauth.Tokens{
		UserID:       out.User.ID,
		AccessToken:  out.AccessToken,
		RefreshToken: out.RefreshToken,
		Email:        out.User.Email,
	}
	if len(out.User.UserMetadata) > 0 && string(out.User.UserMetadata) != "null" {
		t.Metadata = append(json.RawMessage(nil), out.User.UserMetadata...)
	}
	switch {
	case out.ExpiresAt > 0:
		t.ExpiresAt = time.Unix(out.ExpiresAt, 0).UTC()
	case out.ExpiresIn > 0:
		t.ExpiresAt = c.now().Add(time.Duration(out.ExpiresIn) * time.Second).UTC()
	}

	// The access token is a JWT issued by GoTrue; fill what the body left out.
	if t.UserID == "" || t.ExpiresAt.IsZero() || t.Email == "" {
		var claims accessClaims
		if _, _, err := jwt.NewParser().ParseUnverified(out.AccessToken, &claims); err == nil {
			if t.UserID == "" {
				t.UserID = claims.Subject
			}
			if t.ExpiresAt.IsZero() && claims.ExpiresAt != nil {
				t.ExpiresAt = claims.ExpiresAt.UTC()
			}
			if t.Email == "" {
				t.Email = claims.Email
			}
		}
	}
	if t.UserID == "" {
		return domainauth.Tokens{}, domainauth.NewAuthError(domainauth.ErrCodeRejected, "backend returned no user id", nil)
	}
	return t, nil
}

type accessClaims struct {
	jwt.RegisteredClaims
	Email string `json:"email"`
}

type statusError struct {
	status int
	code   string
	msg    string
}

func (e *statusError) Error() string {
	if e.code != "" {
		return fmt.Sprintf("backend status %d (%s): %s", e.status, e.code, e.msg)
	}
	return fmt.Sprintf("backend status %d: %s", e.status, e.msg)
}

func (c *Client) do(ctx context.Context, path, bearer string, in, out any) error {
	ref, err := url.Parse(path)
	if err != nil {
		return fmt.Errorf("parse path: %w", err)
	}
	target := c.baseURL.ResolveReference(&url.URL{Path: c.baseURL.Path + ref.Path, RawQuery: ref.RawQuery})

	var body io.Reader
	if in != nil {
		payload, marshalErr := json.Marshal(in)
		if marshalErr != nil {
			return fmt.Errorf("encode request: %w", marshalErr)
		}
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("apikey", c.anonKey)
	req.Header.Set("Accept", "application/json")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if bearer != "" {
		req.Header.Set("Authorization", "Bearer "+bearer)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("post %s: %w", ref.Path, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &statusError{status: resp.StatusCode}
	var er errorResponse
	if json.Unmarshal(raw, &er) == nil {
		se.code = firstNonEmpty(er.ErrorCode, er.Error)
		se.msg = firstNonEmpty(er.Msg, er.Message, er.ErrorDescription)
	}
	if se.msg == "" {
		se.msg = strings.TrimSpace(string(raw))
	}
	if se.msg == "" {
		se.msg = http.StatusText(resp.StatusCode)
	}
	return se
}

// revokedCodes are GoTrue error codes meaning the refresh token can never succeed again.
var revokedCodes = map[string]bool{
	"invalid_grant":              true,
	"refresh_token_not_found":    true,
	"refresh_token_already_used": true,
	"session_not_found":          true,
	"session_expired":            true,
	"user_not_found":             true,
	"user_banned":                true,
}

func classify(err error, refreshing bool) error {
	var se *statusError
	if !errors.As(err, &se) {
		// Transport failure, timeout or an unreadable body.
		return domainauth.NewAuthError(domainauth.ErrCodeNetwork, "backend unreachable", err)
	}

	switch {
	case se.status >= 500 || se.status == http.StatusTooManyRequests || se.status == http.StatusRequestTimeout:
		return domainauth.NewAuthError(domainauth.ErrCodeNetwork, "backend unavailable", se)
	case refreshing && (revokedCodes[se.code] || strings.Contains(strings.ToLower(se.msg), "refresh token")):
		return domainauth.NewAuthError(domainauth.ErrCodeRevoked, "refresh token revoked", se)
	case strings.Contains(strings.ToLower(se.code+" "+se.msg), "nonce"):
		return domainauth.NewAuthError(domainauth.ErrCodeNonceMismatch, "backend rejected nonce", se)
	default:
		return domainauth.NewAuthError(domainauth.ErrCodeRejected, "backend rejected request", se)
	}
}

func fallbackString(value, fallback string) string {
	if value == "" {
		return fallback
	}
	return value
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
