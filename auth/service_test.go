package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestService_IssueAndAuthenticate(t *testing.T) {
	svc, err := NewService("test-secret")
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	token, err := svc.IssueToken("GPLAINTIFF")
	if err != nil {
		t.Fatalf("issue token: unexpected error: %v", err)
	}
	if token == "" {
		t.Fatal("issue token: expected token, got empty string")
	}

	ctx, err := svc.Authenticate(context.Background(), token)
	if err != nil {
		t.Fatalf("authenticate: %v", err)
	}
	caller, ok := CallerFrom(ctx)
	if !ok || caller != "GPLAINTIFF" {
		t.Fatalf("authenticate: expected caller GPLAINTIFF got %q (ok=%v)", caller, ok)
	}

	authz := ContextAuthorizer{}
	if err := authz.Require(ctx, "GPLAINTIFF"); err != nil {
		t.Fatalf("require own address: %v", err)
	}
	if err := authz.Require(ctx, "GDEFENDANT"); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestService_RejectsForeignAndExpiredTokens(t *testing.T) {
	svc, _ := NewService("test-secret")
	other, _ := NewService("other-secret")

	foreign, err := other.IssueToken("GVOTER")
	if err != nil {
		t.Fatalf("issue foreign token: %v", err)
	}
	if _, err := svc.VerifyToken(foreign); err == nil {
		t.Fatal("expected verification failure for token signed with another secret")
	}

	issuedAt := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.WithTTL(time.Hour).WithClock(func() time.Time { return issuedAt })
	token, err := svc.IssueToken("GVOTER")
	if err != nil {
		t.Fatalf("issue token: %v", err)
	}

	svc.WithClock(func() time.Time { return issuedAt.Add(2 * time.Hour) })
	if _, err := svc.VerifyToken(token); !errors.Is(err, jwt.ErrTokenExpired) {
		t.Fatalf("expected expired token error, got %v", err)
	}
}

func TestService_RequiresSecret(t *testing.T) {
	if _, err := NewService(""); !errors.Is(err, ErrEmptySecret) {
		t.Fatalf("expected ErrEmptySecret, got %v", err)
	}
}

func TestContextAuthorizer_NoCaller(t *testing.T) {
	err := ContextAuthorizer{}.Require(context.Background(), "GANY")
	if !errors.Is(err, ErrUnauthenticated) {
		t.Fatalf("expected ErrUnauthenticated, got %v", err)
	}
	if err := (AllowAll{}).Require(context.Background(), "GANY"); err != nil {
		t.Fatalf("allow all: unexpected error %v", err)
	}
}
