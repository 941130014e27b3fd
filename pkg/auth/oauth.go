package auth

import (
	"context"
	"encoding/json"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

// ProviderConfig is one configured external OAuth2 identity provider
// (SPEC_FULL.md §13 item 3: binding an external subject claim to a local
// persona).
type ProviderConfig struct {
	Label        string
	oauth2.Config
	UserInfoURL string // endpoint returning the foreign subject claim as JSON
}

// foreignSubjectPropKey is the ObjIdent PropKey every linked foreign
// subject is stored under.
func foreignSubjectPropKey() uint64 { return id.BuiltinOAuthForeignSubject.PropKey() }

// foreignSubject is the minimal claim persisted per linked persona: the
// provider's own stable subject identifier, scoped by provider label so
// one persona can link accounts at more than one provider.
type foreignSubject struct {
	Provider string `json:"provider"`
	Subject  string `json:"subject"`
}

// AuthCodeURL returns the URL the caller's browser should be redirected to
// to start the authorization-code flow, binding state to the ceremony the
// caller is expected to complete.
func (p *ProviderConfig) AuthCodeURL(state string) string {
	return p.Config.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token and fetches the
// foreign subject claim from the provider's user-info endpoint.
func (p *ProviderConfig) Exchange(ctx context.Context, code string) (string, error) {
	tok, err := p.Config.Exchange(ctx, code)
	if err != nil {
		return "", &AuthError{Kind: ErrOAuthExchange, Msg: "exchanging authorization code", Err: err}
	}

	client := p.Config.Client(ctx, tok)
	resp, err := client.Get(p.UserInfoURL)
	if err != nil {
		return "", &AuthError{Kind: ErrOAuthExchange, Msg: "fetching user info", Err: err}
	}
	defer resp.Body.Close()

	var claim struct {
		Subject string `json:"sub"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&claim); err != nil {
		return "", &AuthError{Kind: ErrOAuthExchange, Msg: "decoding user info", Err: err}
	}
	if claim.Subject == "" {
		return "", &AuthError{Kind: ErrOAuthExchange, Msg: "user info response carried no subject claim"}
	}
	return claim.Subject, nil
}

// LinkForeignSubject persists the binding between persona and a verified
// (provider, subject) pair, encrypted at rest like every other sensitive
// identifier. Runs outside document compilation, same as RegisterCredential.
func LinkForeignSubject(store storage.Store, deks *security.DecryptedDeks, persona id.Any, provider, subject string) error {
	payload, err := json.Marshal(foreignSubject{Provider: provider, Subject: subject})
	if err != nil {
		return fmt.Errorf("auth: encoding foreign subject: %w", err)
	}
	propID := id.BuiltinOAuthForeignSubject.ToPropertyID()
	fp, nonce, ciph, err := security.EncryptObjIdent(deks, propID, payload)
	if err != nil {
		return fmt.Errorf("auth: encrypting foreign subject: %w", err)
	}
	return store.PutObjIdent(&types.ObjIdent{
		ObjID: persona, PropKey: foreignSubjectPropKey(), Fingerprint: fp, Nonce: nonce, Ciph: ciph,
	})
}

// ResolveForeignSubject looks up the persona linked to a (provider,
// subject) pair by its encrypted fingerprint, mirroring how username/email
// lookups work (spec §4.2's fingerprint-indexed lookup for encrypted
// ObjIdent rows).
func ResolveForeignSubject(store storage.Store, deks *security.DecryptedDeks, provider, subject string) (id.Any, error) {
	payload, err := json.Marshal(foreignSubject{Provider: provider, Subject: subject})
	if err != nil {
		return id.Any{}, fmt.Errorf("auth: encoding foreign subject: %w", err)
	}
	fp, _, _, err := security.EncryptObjIdent(deks, id.BuiltinOAuthForeignSubject.ToPropertyID(), payload)
	if err != nil {
		return id.Any{}, fmt.Errorf("auth: fingerprinting foreign subject: %w", err)
	}
	row, err := store.GetObjIdentByFingerprint(foreignSubjectPropKey(), fp)
	if err != nil {
		return id.Any{}, &AuthError{Kind: ErrInvalidCredentials, Msg: "no persona linked to this foreign subject", Err: err}
	}
	return row.ObjID, nil
}
