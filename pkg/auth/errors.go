package auth

import "fmt"

// ErrorKind distinguishes the ways authentication/authorization can fail,
// letting the outermost gRPC interceptor map each onto a codes.Code
// without re-inspecting error text (spec §7: "only at the outermost RPC
// handler are errors reduced to status codes").
type ErrorKind string

const (
	ErrInvalidCredentials ErrorKind = "invalid_credentials"
	ErrSessionExpired     ErrorKind = "session_expired"
	ErrSessionNotFound    ErrorKind = "session_not_found"
	ErrTokenInvalid       ErrorKind = "token_invalid"
	ErrTokenExpired       ErrorKind = "token_expired"
	ErrWebauthnCeremony   ErrorKind = "webauthn_ceremony"
	ErrOAuthExchange      ErrorKind = "oauth_exchange"
)

// AuthError is this package's closed error taxonomy; Kind identifies which
// branch failed, Err (when set) carries the underlying cause.
type AuthError struct {
	Kind ErrorKind
	Msg  string
	Err  error
}

func (e *AuthError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("auth: %s: %s: %v", e.Kind, e.Msg, e.Err)
	}
	return fmt.Sprintf("auth: %s: %s", e.Kind, e.Msg)
}

func (e *AuthError) Unwrap() error { return e.Err }
