package auth

import (
	"context"
	"errors"
)

var (
	// ErrUnauthenticated signals no verified caller is bound to the context.
	ErrUnauthenticated = errors.New("auth: no authenticated caller")
	// ErrUnauthorized signals the verified caller is not the required address.
	ErrUnauthorized = errors.New("auth: caller did not authorize this call")
)

// Authorizer answers "did this address authorize the current call".
type Authorizer interface {
	Require(ctx context.Context, address string) error
}

type callerKey struct{}

// WithCaller binds a verified caller address to ctx.
func WithCaller(ctx context.Context, address string) context.Context {
	return context.WithValue(ctx, callerKey{}, address)
}

// CallerFrom returns the caller bound by WithCaller.
func CallerFrom(ctx context.Context) (string, bool) {
	address, ok := ctx.Value(callerKey{}).(string)
	return address, ok && address != ""
}

// ContextAuthorizer requires the caller bound to the context to equal the
// address whose authorization is needed.
type ContextAuthorizer struct{}

func (ContextAuthorizer) Require(ctx context.Context, address string) error {
	caller, ok := CallerFrom(ctx)
	if !ok {
		return ErrUnauthenticated
	}
	if caller != address {
		return ErrUnauthorized
	}
	return nil
}

// AllowAll treats every call as authorized. Used by trusted automation such
// as the resolution sweeper, and by tests.
type AllowAll struct{}

func (AllowAll) Require(context.Context, string) error { return nil }
