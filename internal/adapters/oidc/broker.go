// Package oidc provides an OpenID Connect credential broker: it runs the
// authorization-code flow against the identity provider and hands back the
// verified ID token.
package oidc

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	gooidc "github.com/coreos/go-oidc/v3/oidc"
	"golang.org/x/oauth2"

	"github.com/junghoonshin3/bemypet/internal/ports"
)

// Callback holds the query parameters the identity provider redirected back with.
type Callback struct {
	Code             string
	State            string
	Error            string
	ErrorDescription string
}

// CodeReceiver presents the authorization URL to the user and waits for the redirect.
type CodeReceiver interface {
	Authorize(ctx context.Context, authURL string) (Callback, error)
}

// BrokerConfig holds configuration for the OIDC broker.
type BrokerConfig struct {
	ClientID     string
	ClientSecret string // optional for public clients using PKCE
	RedirectURL  string
	Scope        string
	DiscoveryURL string
	HTTPClient   *http.Client // Optional, defaults to a client with a 30s timeout
	Receiver     CodeReceiver // Optional, defaults to a LoopbackReceiver on RedirectURL
}

// DiscoveryDocument represents the OIDC discovery document.
type DiscoveryDocument struct {
	Issuer                string `json:"issuer"`
	AuthorizationEndpoint string `json:"authorization_endpoint"`
	TokenEndpoint         string `json:"token_endpoint"`
	UserinfoEndpoint      string `json:"userinfo_endpoint"`
	JwksURI               string `json:"jwks_uri"`
}

// Broker implements ports.CredentialBroker using OIDC/OAuth2.
type Broker struct {
	config     *oauth2.Config
	httpClient *http.Client
	receiver   CodeReceiver

	oidcProvider *gooidc.Provider

	mu        sync.Mutex
	loginHint string // email of the last account picked; cleared by ClearCredentialState
}

var _ ports.CredentialBroker = (*Broker)(nil)

// NewBroker creates a new OIDC broker. It fetches the discovery document once.
func NewBroker(config BrokerConfig) (*Broker, error) {
	if config.ClientID == "" {
		return nil, errors.New("client ID is required")
	}
	if config.RedirectURL == "" {
		return nil, errors.New("redirect URL is required")
	}
	if config.DiscoveryURL == "" {
		return nil, errors.New("discovery URL is required")
	}

	httpClient := config.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}
	receiver := config.Receiver
	if receiver == nil {
		receiver = &LoopbackReceiver{RedirectURL: config.RedirectURL}
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, httpClient)
	issuer := strings.TrimSuffix(config.DiscoveryURL, "/")
	issuer = strings.TrimSuffix(issuer, "/.well-known/openid-configuration")
	op, err := gooidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("oidc new provider: %w", err)
	}

	scopes := strings.Fields(config.Scope)
	if len(scopes) == 0 {
		scopes = []string{gooidc.ScopeOpenID, "email", "profile"}
	}

	return &Broker{
		config: &oauth2.Config{
			ClientID:     config.ClientID,
			ClientSecret: config.ClientSecret,
			RedirectURL:  config.RedirectURL,
			Scopes:       scopes,
			Endpoint:     op.Endpoint(),
		},
		httpClient:   httpClient,
		receiver:     receiver,
		oidcProvider: op,
	}, nil
}

// GetCredential runs one authorization-code flow. The hashed nonce is sent as
// the OIDC nonce, so the returned ID token carries it in its nonce claim.
//
// FilterByKnownAccounts uses prompt=none, which only succeeds for an account
// that already has a session with the provider. AutoSelect=false forces the
// account chooser.
func (b *Broker) GetCredential(ctx context.Context, req ports.CredentialRequest) (ports.BrokerCredential, error) {
	if req.HashedNonce == "" {
		return ports.BrokerCredential{}, errors.New("hashed nonce is required")
	}

	cfg := *b.config
	if req.BackendClientID != "" {
		cfg.ClientID = req.BackendClientID
	}

	state, err := generateRandomString(32)
	if err != nil {
		return ports.BrokerCredential{}, fmt.Errorf("generate state: %w", err)
	}
	verifier := oauth2.GenerateVerifier()

	callback, err := b.receiver.Authorize(ctx, cfg.AuthCodeURL(state, b.authParams(req, verifier)...))
	if err != nil {
		return ports.BrokerCredential{}, fmt.Errorf("authorize: %w", err)
	}
	if callback.Error != "" {
		return ports.BrokerCredential{}, mapAuthorizeError(callback)
	}
	if callback.State != state {
		return ports.BrokerCredential{}, errors.New("state mismatch in authorization callback")
	}
	if callback.Code == "" {
		return ports.BrokerCredential{}, errors.New("authorization callback has no code")
	}

	ctx = context.WithValue(ctx, oauth2.HTTPClient, b.httpClient)
	token, err := cfg.Exchange(ctx, callback.Code, oauth2.VerifierOption(verifier))
	if err != nil {
		return ports.BrokerCredential{}, fmt.Errorf("exchange code for token: %w", err)
	}

	rawID, err := getIDTokenFromToken(token)
	if err != nil {
		return ports.BrokerCredential{}, err
	}
	claims, err := b.verify(ctx, cfg.ClientID, rawID, req.HashedNonce)
	if err != nil {
		return ports.BrokerCredential{}, err
	}

	b.mu.Lock()
	b.loginHint = claims.Email
	b.mu.Unlock()

	return ports.BrokerCredential{
		Type: ports.CredentialTypeIDToken,
		Data: map[string]string{"id_token": rawID},
	}, nil
}

// ClearCredentialState forgets the last selected account so the next
// request is not steered towards it.
func (b *Broker) ClearCredentialState(_ context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.loginHint = ""
	return nil
}

func (b *Broker) authParams(req ports.CredentialRequest, verifier string) []oauth2.AuthCodeOption {
	opts := []oauth2.AuthCodeOption{
		oauth2.SetAuthURLParam("nonce", req.HashedNonce),
		oauth2.SetAuthURLParam("response_type", "code"),
		oauth2.S256ChallengeOption(verifier),
	}
	switch {
	case req.FilterByKnownAccounts:
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "none"))
	case !req.AutoSelect:
		opts = append(opts, oauth2.SetAuthURLParam("prompt", "select_account"))
	}

	b.mu.Lock()
	hint := b.loginHint
	b.mu.Unlock()
	if hint != "" && req.FilterByKnownAccounts {
		opts = append(opts, oauth2.SetAuthURLParam("login_hint", hint))
	}
	return opts
}

type idTokenClaims struct {
	Sub   string `json:"sub"`
	Email string `json:"email"`
	Nonce string `json:"nonce"`
}

func (b *Broker) verify(ctx context.Context, clientID, rawID, expectedNonce string) (idTokenClaims, error) {
	var claims idTokenClaims
	idTok, err := b.oidcProvider.Verifier(&gooidc.Config{ClientID: clientID}).Verify(ctx, rawID)
	if err != nil {
		return claims, fmt.Errorf("verify id_token: %w", err)
	}
	if err := idTok.Claims(&claims); err != nil {
		return claims, fmt.Errorf("parse id_token claims: %w", err)
	}
	if claims.Nonce != expectedNonce {
		return claims, errors.New("invalid nonce")
	}
	return claims, nil
}

// mapAuthorizeError classifies an OAuth error response from the authorization endpoint.
func mapAuthorizeError(cb Callback) error {
	detail := firstNonEmpty(cb.ErrorDescription, cb.Error)
	switch cb.Error {
	case "access_denied":
		return fmt.Errorf("%w: %s", ports.ErrBrokerCancelled, detail)
	case "login_required", "interaction_required", "account_selection_required", "consent_required":
		return fmt.Errorf("%w: %s", ports.ErrBrokerNoCredentials, detail)
	default:
		return fmt.Errorf("authorization failed: %s", detail)
	}
}

// firstNonEmpty returns the first non-empty string from vals, or empty string if none.
func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

// generateRandomString generates a cryptographically secure URL-safe random string of exact length.
func generateRandomString(length int) (string, error) {
	if length <= 0 {
		return "", nil
	}
	b := make([]byte, (length*3+3)/4+1)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(b)[:length], nil
}

// getIDTokenFromToken extracts the id_token from oauth2.Token.
func getIDTokenFromToken(tok *oauth2.Token) (string, error) {
	if tok == nil {
		return "", errors.New("nil token")
	}
	raw := tok.Extra("id_token")
	s, ok := raw.(string)
	if !ok || s == "" {
		return "", errors.New("missing id_token in token response")
	}
	return s, nil
}
