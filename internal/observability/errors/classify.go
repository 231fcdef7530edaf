package errors

import (
	"context"
	goerrors "errors"
	"reflect"
	"strings"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
)

// Classify returns a normalized error class suitable for tagging metrics/logs.
// Auth and credential errors report their code; other errors report the
// innermost concrete type in snake_case-ish form.
func Classify(err error) string {
	if err == nil {
		return ""
	}

	var authErr *domainauth.AuthError
	if goerrors.As(err, &authErr) {
		return "auth_" + string(authErr.Code)
	}
	var credErr *domainauth.CredentialError
	if goerrors.As(err, &credErr) {
		return "credential_" + string(credErr.Reason)
	}
	switch {
	case goerrors.Is(err, context.DeadlineExceeded):
		return "timeout"
	case goerrors.Is(err, context.Canceled):
		return "canceled"
	}

	for {
		unwrapped := goerrors.Unwrap(err)
		if unwrapped == nil {
			break
		}
		err = unwrapped
	}

	t := reflect.TypeOf(err)
	for t != nil && t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if t == nil {
		return "unknown"
	}
	name := strings.ToLower(strings.ReplaceAll(t.String(), ".", "_"))
	if name == "" {
		return "unknown"
	}
	return name
}
