package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
)

// DefaultAccessTokenTTL bounds how long an access token is valid for
// before a caller must exchange its session for a fresh one (spec §4.7).
const DefaultAccessTokenTTL = 10 * time.Minute

// AccessTokenClaims is the JWT payload handed to a service entity after a
// successful GetAccessToken call: the caller's own entity ID plus the
// AuthlyRole attribute labels it was granted (spec §3.2's builtin
// AuthlyRole property), so a peer service can authorize a call without a
// further round trip to the directory store.
type AccessTokenClaims struct {
	jwt.RegisteredClaims
	EntityID string   `json:"eid"`
	Roles    []string `json:"roles,omitempty"`
}

// IssueAccessToken signs an ES256 JWT over inst's local CA identity key
// (spec §4.7: "access tokens are signed with the instance's own EC key,
// verified by any peer holding the cluster's trust root").
func IssueAccessToken(inst *security.AuthlyInstance, subject id.Any, roles []string, ttl time.Duration) (string, error) {
	if ttl == 0 {
		ttl = DefaultAccessTokenTTL
	}
	now := time.Now()
	claims := AccessTokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			Subject:   subject.String(),
		},
		EntityID: subject.String(),
		Roles:    roles,
	}
	tok := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := tok.SignedString(inst.LocalJWTEncodingKey())
	if err != nil {
		return "", &AuthError{Kind: ErrTokenInvalid, Msg: "signing access token", Err: err}
	}
	return signed, nil
}

// VerifyAccessToken validates signature and expiry and returns the decoded
// claims.
func VerifyAccessToken(inst *security.AuthlyInstance, token string) (*AccessTokenClaims, error) {
	var claims AccessTokenClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodECDSA); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return inst.LocalJWTDecodingKey(), nil
	}, jwt.WithValidMethods([]string{"ES256"}))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, &AuthError{Kind: ErrTokenExpired, Msg: "access token expired", Err: err}
		}
		return nil, &AuthError{Kind: ErrTokenInvalid, Msg: "access token invalid", Err: err}
	}
	return &claims, nil
}
