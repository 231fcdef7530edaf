//go:build tools
// +build tools

// Package tools documents development tool dependencies.
// They are run with `go run pkg@version` or installed globally and are not
// tracked in go.mod.
package tools

// mockgen regenerates internal/mocks from the ports interfaces:
//   go generate ./internal/mocks
//   Version: go.uber.org/mock/mockgen@v0.6.0
//
// golangci-lint enforces the nolint directives used in cmd/:
//   Install: go install github.com/golangci/golangci-lint/cmd/golangci-lint@v1.64.8
