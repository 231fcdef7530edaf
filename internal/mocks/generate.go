// Package mocks provides gomock implementations of the auth ports.
//
// This package uses go.uber.org/mock (gomock) to generate type-safe mocks for our port interfaces.
// The mocks are generated using go:generate directives and provide a fluent API for setting up test expectations.
//
// To regenerate mocks after interface changes, run:
//
//	go generate ./internal/mocks
//
// Usage in tests:
//
//	ctrl := gomock.NewController(t)
//	backend := mocks.NewMockAuthBackend(ctrl)
//	backend.EXPECT().ExchangeIDToken(gomock.Any(), "id-token", "raw-nonce").Return(tokens, nil)
package mocks

// Generate mock for AuthBackend interface from internal/ports package.
// This creates MockAuthBackend with methods: ExchangeIDToken, Refresh, SignOut, DeleteUser
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=auth_backend_mock.go github.com/junghoonshin3/bemypet/internal/ports AuthBackend

// Generate mock for CredentialBroker interface from internal/ports package.
// This creates MockCredentialBroker with methods: GetCredential, ClearCredentialState
//go:generate go run go.uber.org/mock/mockgen@v0.6.0 -package=mocks -destination=credential_broker_mock.go github.com/junghoonshin3/bemypet/internal/ports CredentialBroker
