package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	jmespath "github.com/jmespath-community/go-jmespath"

	domainauth "github.com/junghoonshin3/bemypet/internal/domain/auth"
	"github.com/junghoonshin3/bemypet/internal/ports"
)

// ErrNoAccount is returned by profile queries when nobody is signed in.
var ErrNoAccount = errors.New("no signed-in account")

// SignOuter ends the current session.
type SignOuter interface {
	SignOut(ctx context.Context) error
}

// SessionViewer reports the current session. SessionStore implements it.
type SessionViewer interface {
	Current() domainauth.Session
}

// AccountFacadeOptions groups dependencies for AccountFacade.
type AccountFacadeOptions struct {
	// Sources are consulted in order; the first holding an account wins.
	Sources []ports.AccountSource
	// Sessions gates every read: no account is reported unless it is Authenticated.
	Sessions SessionViewer
	Identity SignOuter
}

// AccountFacade is the read-only "who is signed in" view for presenters.
// Every read consults the sources; nothing is cached here.
type AccountFacade struct {
	sources  []ports.AccountSource
	sessions SessionViewer
	identity SignOuter
}

// NewAccountFacade constructs an AccountFacade.
func NewAccountFacade(opts AccountFacadeOptions) *AccountFacade {
	sources := make([]ports.AccountSource, 0, len(opts.Sources))
	for _, src := range opts.Sources {
		if src != nil {
			sources = append(sources, src)
		}
	}
	return &AccountFacade{sources: sources, sessions: opts.Sessions, identity: opts.Identity}
}

// Account returns the account held by the first source that has one.
func (f *AccountFacade) Account() (domainauth.Account, bool) {
	if f.sessions != nil {
		if _, ok := f.sessions.Current().(domainauth.Authenticated); !ok {
			return domainauth.Account{}, false
		}
	}
	for _, src := range f.sources {
		if acct, ok := src.Account(); ok {
			return acct, true
		}
	}
	return domainauth.Account{}, false
}

// CurrentUserID returns the signed-in user ID, or "".
func (f *AccountFacade) CurrentUserID() string {
	acct, _ := f.Account()
	return acct.UserID
}

// CurrentEmail returns the signed-in user's email, or "".
func (f *AccountFacade) CurrentEmail() string {
	acct, _ := f.Account()
	return acct.Email
}

// Profile returns the provider-specific profile data, or nil.
func (f *AccountFacade) Profile() json.RawMessage {
	acct, _ := f.Account()
	return acct.Profile
}

// ProfileValue evaluates a JMESPath expression against the profile,
// e.g. "name" or "app_metadata.provider".
func (f *AccountFacade) ProfileValue(expr string) (any, error) {
	acct, ok := f.Account()
	if !ok {
		return nil, ErrNoAccount
	}
	if len(acct.Profile) == 0 {
		return nil, nil
	}

	var data any
	if err := json.Unmarshal(acct.Profile, &data); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	v, err := jmespath.Search(expr, data)
	if err != nil {
		return nil, fmt.Errorf("evaluate %q: %w", expr, err)
	}
	return v, nil
}

// SignOut delegates to the identity service.
func (f *AccountFacade) SignOut(ctx context.Context) error {
	if f.identity == nil {
		return errors.New("account facade has no identity service")
	}
	return f.identity.SignOut(ctx)
}
