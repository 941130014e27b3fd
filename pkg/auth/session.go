package auth

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

// DefaultSessionTTL is the bearer-session lifetime (spec §3.2: "a
// bearer-token row with a fixed TTL").
const DefaultSessionTTL = 12 * time.Hour

// IssueSession mints a new bearer session for eid and persists it,
// returning the hex-encoded bearer token to hand back to the caller. The
// random-token-then-persist shape mirrors the teacher's join-token
// issuance (pkg/manager/token.go's GenerateToken), generalized from an
// in-memory map to a storage-backed row with its own TTL enforcement on
// read.
func IssueSession(store storage.Store, eid id.Any, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultSessionTTL
	}
	var raw [20]byte
	if _, err := rand.Read(raw[:]); err != nil {
		return "", fmt.Errorf("auth: generating session token: %w", err)
	}
	s := &types.Session{Token: raw, Eid: eid, ExpiresAt: time.Now().Add(ttl)}
	if err := store.PutSession(s); err != nil {
		return "", fmt.Errorf("auth: persisting session: %w", err)
	}
	return hex.EncodeToString(raw[:]), nil
}

// ValidateSession resolves a bearer token to its owning entity ID,
// rejecting (and deleting) an expired session.
func ValidateSession(store storage.Store, token string) (id.Any, error) {
	raw, err := decodeToken(token)
	if err != nil {
		return id.Any{}, &AuthError{Kind: ErrTokenInvalid, Msg: "malformed session token", Err: err}
	}
	s, err := store.GetSession(raw)
	if err != nil {
		return id.Any{}, &AuthError{Kind: ErrSessionNotFound, Msg: "unknown session token", Err: err}
	}
	if time.Now().After(s.ExpiresAt) {
		_ = store.DeleteSession(raw)
		return id.Any{}, &AuthError{Kind: ErrSessionExpired, Msg: "session expired"}
	}
	return s.Eid, nil
}

// RevokeSession deletes a session ahead of its natural expiry (logout).
func RevokeSession(store storage.Store, token string) error {
	raw, err := decodeToken(token)
	if err != nil {
		return &AuthError{Kind: ErrTokenInvalid, Msg: "malformed session token", Err: err}
	}
	return store.DeleteSession(raw)
}

func decodeToken(token string) ([20]byte, error) {
	var raw [20]byte
	b, err := hex.DecodeString(token)
	if err != nil {
		return raw, err
	}
	if len(b) != len(raw) {
		return raw, fmt.Errorf("want %d bytes, got %d", len(raw), len(b))
	}
	copy(raw[:], b)
	return raw, nil
}
