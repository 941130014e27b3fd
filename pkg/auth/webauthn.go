package auth

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

// RelyingParty is the per-public-URI WebAuthn context a persona registers
// a credential against (spec §5: "Per-URI WebAuthn contexts live in a
// plain mutex-protected map keyed by public URI").
type RelyingParty struct {
	ID     string // the RP ID, typically the host part of the public URI
	Origin string // the full public URI, checked against the ceremony's origin
}

// Registry holds every known RelyingParty, keyed by public URI, behind a
// single mutex (spec §5's literal description of the concurrency model
// for this component — no sharding, no per-entry locks).
type Registry struct {
	mu  sync.Mutex
	rps map[string]*RelyingParty
}

// NewRegistry returns an empty relying-party registry.
func NewRegistry() *Registry {
	return &Registry{rps: map[string]*RelyingParty{}}
}

// Register adds or replaces the relying party for publicURI.
func (r *Registry) Register(publicURI string, rp *RelyingParty) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rps[publicURI] = rp
}

// Lookup returns the relying party registered for publicURI, if any.
func (r *Registry) Lookup(publicURI string) (*RelyingParty, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rp, ok := r.rps[publicURI]
	return rp, ok
}

// Challenge is a registration or assertion nonce handed to the browser
// and expected back signed by the authenticator.
type Challenge struct {
	Bytes []byte
}

// NewChallenge draws a fresh random challenge.
func NewChallenge() (Challenge, error) {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return Challenge{}, fmt.Errorf("auth: generating webauthn challenge: %w", err)
	}
	return Challenge{Bytes: b}, nil
}

// CredentialRecord is the bookkeeping persisted per registered credential:
// its ID plus the authenticator's P-256 public key, good enough for this
// lite bookkeeping to verify a raw ECDSA assertion signature without a
// full COSE/attestation-format parser (no such library appears anywhere
// in the pack; spec.md itself never details the wire ceremony, only that
// a credential record must exist).
type CredentialRecord struct {
	CredentialID []byte `json:"credential_id"`
	PubKeyDER    []byte `json:"pub_key_der"`
}

// webauthnPropKey is the ObjIdent PropKey every registered credential is
// stored under — the builtin's reserved ID, since (like every other
// builtin property) it has no compiler-minted Property row.
func webauthnPropKey() uint64 { return id.BuiltinWebauthnCredential.PropKey() }

// RegisterCredential persists a newly registered credential for persona,
// encrypted at rest under the same ObjIdent scheme as every other
// sensitive identifier (spec §4.2). Credentials are registered at
// runtime, outside document compilation, so this writes the row directly
// rather than through a directory snapshot.
func RegisterCredential(store storage.Store, deks *security.DecryptedDeks, persona id.Any, credentialID []byte, pub *ecdsa.PublicKey) error {
	pubDER, err := x509.MarshalPKIXPublicKey(pub)
	if err != nil {
		return fmt.Errorf("auth: encoding webauthn public key: %w", err)
	}
	payload, err := json.Marshal(CredentialRecord{CredentialID: credentialID, PubKeyDER: pubDER})
	if err != nil {
		return fmt.Errorf("auth: encoding webauthn credential record: %w", err)
	}
	propID := id.BuiltinWebauthnCredential.ToPropertyID()
	fp, nonce, ciph, err := security.EncryptObjIdent(deks, propID, payload)
	if err != nil {
		return fmt.Errorf("auth: encrypting webauthn credential: %w", err)
	}
	return store.PutObjIdent(&types.ObjIdent{
		ObjID: persona, PropKey: webauthnPropKey(), Fingerprint: fp, Nonce: nonce, Ciph: ciph,
	})
}

// LoadCredential decrypts the credential record registered for persona, if
// any.
func LoadCredential(store storage.Store, deks *security.DecryptedDeks, persona id.Any) (*CredentialRecord, error) {
	row, err := store.GetObjIdent(persona, webauthnPropKey())
	if err != nil {
		return nil, &AuthError{Kind: ErrWebauthnCeremony, Msg: "no registered credential", Err: err}
	}
	plaintext, err := security.DecryptObjIdent(deks, id.BuiltinWebauthnCredential.ToPropertyID(), row.Nonce, row.Ciph)
	if err != nil {
		return nil, &AuthError{Kind: ErrWebauthnCeremony, Msg: "decrypting credential record", Err: err}
	}
	var rec CredentialRecord
	if err := json.Unmarshal(plaintext, &rec); err != nil {
		return nil, &AuthError{Kind: ErrWebauthnCeremony, Msg: "decoding credential record", Err: err}
	}
	return &rec, nil
}

// VerifyAssertion checks sig over challenge against rec's stored P-256
// public key.
func VerifyAssertion(rec *CredentialRecord, challenge []byte, sig []byte) error {
	pubAny, err := x509.ParsePKIXPublicKey(rec.PubKeyDER)
	if err != nil {
		return &AuthError{Kind: ErrWebauthnCeremony, Msg: "decoding stored public key", Err: err}
	}
	pub, ok := pubAny.(*ecdsa.PublicKey)
	if !ok || pub.Curve != elliptic.P256() {
		return &AuthError{Kind: ErrWebauthnCeremony, Msg: "stored credential key is not P-256 ECDSA"}
	}
	if !ecdsa.VerifyASN1(pub, challenge, sig) {
		return &AuthError{Kind: ErrWebauthnCeremony, Msg: "assertion signature does not verify"}
	}
	return nil
}
