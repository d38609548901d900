package auth

import (
	"testing"

	"encore.app/internal/gwerrors"
)

func TestAuthenticateKnownCredentials(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, []string{"user-secret"})

	role, err := a.Authenticate("admin-secret")
	if err != nil || role != RoleAdmin {
		t.Fatalf("admin credential: role=%v err=%v, want RoleAdmin, nil", role, err)
	}

	role, err = a.Authenticate("user-secret")
	if err != nil || role != RoleUser {
		t.Fatalf("user credential: role=%v err=%v, want RoleUser, nil", role, err)
	}
}

func TestAuthenticateRejectsMissingAndUnknown(t *testing.T) {
	a := New("X-API-Key", []string{"admin-secret"}, []string{"user-secret"})

	if _, err := a.Authenticate(""); !gwerrors.Is(err, gwerrors.KindUnauthenticated) {
		t.Fatalf("empty credential: err=%v, want KindUnauthenticated", err)
	}
	if _, err := a.Authenticate("nope"); !gwerrors.Is(err, gwerrors.KindUnauthenticated) {
		t.Fatalf("unknown credential: err=%v, want KindUnauthenticated", err)
	}
}

func TestAuthenticateDoesNotConfuseRoles(t *testing.T) {
	a := New("X-API-Key", []string{"shared-prefix-admin"}, []string{"shared-prefix-use"})

	if role, err := a.Authenticate("shared-prefix-admin"); err != nil || role != RoleAdmin {
		t.Fatalf("got role=%v err=%v", role, err)
	}
	if _, err := a.Authenticate("shared-prefix-adm"); err == nil {
		t.Fatalf("truncated credential unexpectedly authenticated")
	}
}
