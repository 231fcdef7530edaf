package service

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	authmocks "github.com/junghoonshin3/bemypet/internal/mocks/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

func newLoginHarness(broker *authmocks.FakeBroker) (*LoginFlow, *IdentityService, *authmocks.FakeBackend) {
	backend := authmocks.NewFakeBackend()
	provider := NewCredentialProvider(CredentialProviderOptions{Broker: broker, BackendClientID: "client"})
	identity := NewIdentityService(IdentityServiceOptions{
		Backend:     backend,
		Tokens:      authmocks.NewMemoryTokenStore(),
		Credentials: provider,
	})
	flow := NewLoginFlow(LoginFlowOptions{Credentials: provider, Identity: identity})
	return flow, identity, backend
}

func TestLoginFlow_SignIn_KnownAccount(t *testing.T) {
	broker := &authmocks.FakeBroker{}
	flow, identity, backend := newLoginHarness(broker)

	require.NoError(t, flow.SignIn(context.Background()))

	reqs := broker.Requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].FilterByKnownAccounts)
	assert.Equal(t, 1, backend.ExchangeCalls())

	sess, ok := identity.Current().(domainauth.Authenticated)
	require.True(t, ok)
	assert.Equal(t, "user-1", sess.UserID)
}

func TestLoginFlow_SignIn_FallsBackToAllAccounts(t *testing.T) {
	broker := &authmocks.FakeBroker{}
	broker.GetCredentialFunc = func(_ context.Context, req ports.CredentialRequest) (ports.BrokerCredential, error) {
		if req.FilterByKnownAccounts {
			return ports.BrokerCredential{}, ports.ErrBrokerNoCredentials
		}
		return idTokenCredential("id-token"), nil
	}
	flow, identity, _ := newLoginHarness(broker)

	require.NoError(t, flow.SignIn(context.Background()))

	reqs := broker.Requests()
	require.Len(t, reqs, 2)
	assert.True(t, reqs[0].FilterByKnownAccounts)
	assert.False(t, reqs[1].FilterByKnownAccounts)
	assert.IsType(t, domainauth.Authenticated{}, identity.Current())
}

func TestLoginFlow_SignIn_CancelledLeavesSessionUntouched(t *testing.T) {
	broker := &authmocks.FakeBroker{}
	broker.GetCredentialFunc = func(context.Context, ports.CredentialRequest) (ports.BrokerCredential, error) {
		return ports.BrokerCredential{}, ports.ErrBrokerCancelled
	}
	flow, identity, backend := newLoginHarness(broker)

	err := flow.SignIn(context.Background())
	require.Error(t, err)
	assert.True(t, domainauth.IsCancelled(err))

	assert.Len(t, broker.Requests(), 1, "cancel must not fall back")
	assert.Equal(t, 0, backend.ExchangeCalls())
	assert.Equal(t, domainauth.Initializing{}, identity.Current())
}

func TestLoginFlow_SignInAllAccounts(t *testing.T) {
	broker := &authmocks.FakeBroker{}
	flow, _, _ := newLoginHarness(broker)

	require.NoError(t, flow.SignInAllAccounts(context.Background()))

	reqs := broker.Requests()
	require.Len(t, reqs, 1)
	assert.False(t, reqs[0].FilterByKnownAccounts)
}

func TestOutcome(t *testing.T) {
	tests := map[string]error{
		"signed_in":      nil,
		"cancelled":      &domainauth.CredentialError{Reason: domainauth.CredentialCancelled},
		"no_credentials": &domainauth.CredentialError{Reason: domainauth.CredentialNoCredentials},
		"auth_rejected":  domainauth.NewAuthError(domainauth.ErrCodeRejected, "nope", nil),
		"failure":        errors.New("boom"),
	}
	for want, err := range tests {
		assert.Equal(t, want, Outcome(err))
	}
}
