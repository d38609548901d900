// Package auth implements the Authenticator component of spec.md §4.1:
// it maps a presented credential to a role, or rejects it, using a
// constant-time comparison so a timing side channel cannot be used to
// brute-force a valid credential one byte at a time.
package auth

import (
	"crypto/subtle"

	"encore.app/internal/gwerrors"
)

// Role is the access tag attached to an authenticated request.
type Role string

const (
	RoleUser  Role = "user"
	RoleAdmin Role = "admin"
)

// Authenticator holds the configured credential sets. It is built once at
// startup from secrets and never mutated afterwards.
type Authenticator struct {
	headerName string
	admins     [][]byte
	users      [][]byte
}

// New builds an Authenticator for the given header name and credential
// sets. Credentials are copied so later mutation of the input slices
// does not affect the Authenticator.
func New(headerName string, adminCredentials, userCredentials []string) *Authenticator {
	a := &Authenticator{headerName: headerName}
	for _, c := range adminCredentials {
		a.admins = append(a.admins, []byte(c))
	}
	for _, c := range userCredentials {
		a.users = append(a.users, []byte(c))
	}
	return a
}

// HeaderName returns the configured credential header name.
func (a *Authenticator) HeaderName() string { return a.headerName }

// Authenticate maps a presented credential value to a role. An empty
// value or a value matching no configured credential fails with
// KindUnauthenticated, per spec.md §4.1.
func (a *Authenticator) Authenticate(presented string) (Role, error) {
	if presented == "" {
		return "", gwerrors.New(gwerrors.KindUnauthenticated, "missing credential")
	}

	presentedBytes := []byte(presented)

	if matchesAny(presentedBytes, a.admins) {
		return RoleAdmin, nil
	}
	if matchesAny(presentedBytes, a.users) {
		return RoleUser, nil
	}

	return "", gwerrors.New(gwerrors.KindUnauthenticated, "unrecognized credential")
}

// matchesAny compares presented against every candidate in constant time
// per candidate. It does not short-circuit on the first length mismatch
// being informative beyond what subtle.ConstantTimeCompare already does
// for equal-length candidates; candidates of different length naturally
// cannot match, and checking all of them avoids leaking which candidate
// index was closest.
func matchesAny(presented []byte, candidates [][]byte) bool {
	found := 0
	for _, c := range candidates {
		if len(c) != len(presented) {
			continue
		}
		if subtle.ConstantTimeCompare(presented, c) == 1 {
			found = 1
		}
	}
	return found == 1
}
