package auth

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// argon2id parameters; chosen to match the library's documented
// recommended baseline for interactive login (not configurable — spec
// doesn't call out tunable cost parameters, and a fixed cost avoids a
// document or config knob that would let a deployment weaken it).
const (
	argonTime    = 1
	argonMemory  = 64 * 1024 // KiB
	argonThreads = 4
	argonKeyLen  = 32
	argonSaltLen = 16
)

// HashPassword derives the encoded PHC-style argon2id hash stored as a
// persona's password-hash property (spec glossary: "Persona: a human
// entity that can authenticate (password, ...)").
func HashPassword(plaintext string) (string, error) {
	salt := make([]byte, argonSaltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("auth: generating password salt: %w", err)
	}
	hash := argon2.IDKey([]byte(plaintext), salt, argonTime, argonMemory, argonThreads, argonKeyLen)
	return fmt.Sprintf("$argon2id$v=%d$m=%d,t=%d,p=%d$%s$%s",
		argon2.Version, argonMemory, argonTime, argonThreads,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(hash)), nil
}

// VerifyPassword checks plaintext against an encoded hash produced by
// HashPassword, in constant time.
func VerifyPassword(encoded, plaintext string) error {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return &AuthError{Kind: ErrInvalidCredentials, Msg: "malformed password hash"}
	}
	var version int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &version); err != nil {
		return &AuthError{Kind: ErrInvalidCredentials, Msg: "malformed password hash version", Err: err}
	}
	var mem uint32
	var t uint32
	var p uint8
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &mem, &t, &p); err != nil {
		return &AuthError{Kind: ErrInvalidCredentials, Msg: "malformed password hash params", Err: err}
	}
	salt, err := base64.RawStdEncoding.DecodeString(parts[4])
	if err != nil {
		return &AuthError{Kind: ErrInvalidCredentials, Msg: "malformed password hash salt", Err: err}
	}
	want, err := base64.RawStdEncoding.DecodeString(parts[5])
	if err != nil {
		return &AuthError{Kind: ErrInvalidCredentials, Msg: "malformed password hash digest", Err: err}
	}

	got := argon2.IDKey([]byte(plaintext), salt, t, mem, p, uint32(len(want)))
	if subtle.ConstantTimeCompare(got, want) != 1 {
		return &AuthError{Kind: ErrInvalidCredentials, Msg: "password mismatch"}
	}
	return nil
}
