package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/observability/metrics"
	"github.com/junghoonshin3/bemypet/internal/observability/statsd"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

// CredentialProviderOptions groups dependencies for CredentialProvider.
type CredentialProviderOptions struct {
	Broker          ports.CredentialBroker
	BackendClientID string
	Logger          *slog.Logger
	Metrics         statsd.Sink
}

// CredentialProvider bridges the platform credential broker. It generates the
// sign-in nonce, sends only its hash to the broker, and classifies the outcome.
// Nothing is persisted.
type CredentialProvider struct {
	broker   ports.CredentialBroker
	clientID string
	logger   *slog.Logger
	metrics  statsd.Sink

	mu   sync.Mutex
	last *domainauth.Account
}

var _ ports.AccountSource = (*CredentialProvider)(nil)

// NewCredentialProvider constructs a CredentialProvider.
func NewCredentialProvider(opts CredentialProviderOptions) *CredentialProvider {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &CredentialProvider{
		broker:   opts.Broker,
		clientID: opts.BackendClientID,
		logger:   logger.With("component", "credential_provider"),
		metrics:  opts.Metrics,
	}
}

// RequestCredential asks the broker for an identity token.
// Failures are always a *domainauth.CredentialError.
func (p *CredentialProvider) RequestCredential(ctx context.Context, filterToKnownAccounts bool) (cred domainauth.Credential, err error) {
	start := time.Now()
	defer func() {
		metrics.EmitAuthOperation(p.metrics, metrics.AuthMetric{
			Operation: metrics.OpCredential,
			Duration:  time.Since(start),
			Err:       err,
		})
	}()

	rawNonce, err := domainauth.NewNonce()
	if err != nil {
		return domainauth.Credential{}, &domainauth.CredentialError{
			Reason: domainauth.CredentialFailure,
			Cause:  fmt.Errorf("generate nonce: %w", err),
		}
	}
	hashed := domainauth.HashNonce(rawNonce)

	p.logger.DebugContext(ctx, "requesting credential",
		"filter_known_accounts", filterToKnownAccounts,
		"nonce_hash_prefix", hashed[:8],
	)

	resp, err := p.broker.GetCredential(ctx, ports.CredentialRequest{
		BackendClientID:       p.clientID,
		HashedNonce:           hashed,
		FilterByKnownAccounts: filterToKnownAccounts,
		AutoSelect:            true,
	})
	if err != nil {
		return domainauth.Credential{}, classifyBrokerError(err)
	}

	idToken, err := extractIDToken(resp)
	if err != nil {
		return domainauth.Credential{}, &domainauth.CredentialError{Reason: domainauth.CredentialFailure, Cause: err}
	}

	return domainauth.Credential{IDToken: idToken, RawNonce: rawNonce}, nil
}

// ClearCredentialState clears the broker's cached account selection and forgets
// the last account seen.
func (p *CredentialProvider) ClearCredentialState(ctx context.Context) error {
	p.mu.Lock()
	p.last = nil
	p.mu.Unlock()

	if err := p.broker.ClearCredentialState(ctx); err != nil {
		return fmt.Errorf("clear credential state: %w", err)
	}
	return nil
}

// Account reports the account behind the last credential that signed in.
func (p *CredentialProvider) Account() (domainauth.Account, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.last == nil {
		return domainauth.Account{}, false
	}
	return *p.last, true
}

// Remember records the account named by cred's ID token. Callers invoke it
// only after the backend accepted the credential.
func (p *CredentialProvider) Remember(cred domainauth.Credential) {
	claims, ok := parseUnverifiedIDToken(cred.IDToken)
	if !ok || claims.Subject == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.last = &domainauth.Account{
		UserID:  claims.Subject,
		Email:   claims.Email,
		Profile: claims.profileJSON(),
	}
}

func classifyBrokerError(err error) *domainauth.CredentialError {
	switch {
	case errors.Is(err, ports.ErrBrokerCancelled):
		return &domainauth.CredentialError{Reason: domainauth.CredentialCancelled, Cause: err}
	case errors.Is(err, ports.ErrBrokerNoCredentials):
		return &domainauth.CredentialError{Reason: domainauth.CredentialNoCredentials, Cause: err}
	default:
		return &domainauth.CredentialError{Reason: domainauth.CredentialFailure, Cause: err}
	}
}

func extractIDToken(cred ports.BrokerCredential) (string, error) {
	if cred.Type != ports.CredentialTypeIDToken {
		return "", fmt.Errorf("unexpected credential type %q", cred.Type)
	}
	token := cred.Data["id_token"]
	if token == "" {
		return "", errors.New("credential has no id_token")
	}
	return token, nil
}
