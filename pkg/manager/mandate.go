package manager

import (
	"crypto/ecdsa"
	"crypto/rand"
	"crypto/x509"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
	"github.com/protojour/authly/pkg/types"
)

// SubmissionCodeTTL bounds the lifetime of a mandate submission code
// (SPEC_FULL.md §13 item 1: "10-minute TTL, single-use").
const SubmissionCodeTTL = 10 * time.Minute

// MandateValidity is how long a signed mandate certificate is valid for
// before the mandate instance must submit again.
const MandateValidity = 365 * 24 * time.Hour

// IssueSubmissionCode mints a single-use code an authority hands to a
// downstream mandate instance out of band. Only its fingerprint is
// persisted — the same encrypt-at-rest pattern spec §4.2 uses for every
// other secret — so a compromised store row reveals nothing usable.
func IssueSubmissionCode(store storage.Store, deks *security.DecryptedDeks, createdBy id.Any) (string, error) {
	raw := make([]byte, 32)
	if _, err := rand.Read(raw); err != nil {
		return "", fmt.Errorf("manager: generating submission code: %w", err)
	}
	code := hex.EncodeToString(raw)

	dek, ok := deks.Get(id.BuiltinMandateSubmissionCode.ToPropertyID())
	if !ok {
		return "", fmt.Errorf("manager: no DEK for mandate submission code")
	}
	fp := security.Fingerprint(dek, []byte(code))

	now := time.Now()
	if err := store.PutMandateSubmissionCode(&types.MandateSubmissionCode{
		CodeFingerprint: fp,
		CreatedAt:       now,
		CreatedByEid:    createdBy,
		ExpiresAt:       now.Add(SubmissionCodeTTL),
	}); err != nil {
		return "", fmt.Errorf("manager: persisting submission code: %w", err)
	}
	return code, nil
}

// SubmitMandate is the authority side of the exchange: it validates and
// consumes code, signs mandateEid's local-CA public key under the
// authority's own local CA, and records the resulting relationship as an
// AuthorityMandate row.
func SubmitMandate(store storage.Store, deks *security.DecryptedDeks, inst *security.AuthlyInstance, code string, mandateEid id.ServiceID, pubKey *ecdsa.PublicKey) ([]byte, error) {
	dek, ok := deks.Get(id.BuiltinMandateSubmissionCode.ToPropertyID())
	if !ok {
		return nil, fmt.Errorf("manager: no DEK for mandate submission code")
	}
	fp := security.Fingerprint(dek, []byte(code))

	row, err := store.GetMandateSubmissionCode(fp)
	if err != nil {
		return nil, fmt.Errorf("manager: unknown or already-used submission code: %w", err)
	}
	if time.Now().After(row.ExpiresAt) {
		_ = store.DeleteMandateSubmissionCode(fp)
		return nil, fmt.Errorf("manager: submission code expired")
	}
	if err := store.DeleteMandateSubmissionCode(fp); err != nil {
		return nil, fmt.Errorf("manager: consuming submission code: %w", err)
	}

	der, err := inst.SignWithLocalCA(security.CsrParams{Certifies: mandateEid.Upcast(), Validity: MandateValidity, IsCA: true}, pubKey)
	if err != nil {
		return nil, fmt.Errorf("manager: signing mandate CSR: %w", err)
	}

	pubDER, err := x509.MarshalPKIXPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("manager: encoding mandate public key: %w", err)
	}
	if err := store.PutAuthorityMandate(&types.AuthorityMandate{
		MandateEid:         mandateEid,
		GrantedByEid:       inst.AuthlyEid,
		PublicKey:          pubDER,
		MandateType:        "local_ca",
		LastConnectionTime: time.Now(),
	}); err != nil {
		return nil, fmt.Errorf("manager: persisting authority mandate: %w", err)
	}
	return der, nil
}

// FetchMandate is the mandate side of the exchange: it polls the authority
// until SubmitMandate has recorded a row for mandateEid.
func FetchMandate(store storage.Store, mandateEid id.ServiceID) (*types.AuthorityMandate, error) {
	m, err := store.GetAuthorityMandate(mandateEid)
	if err != nil {
		return nil, fmt.Errorf("manager: mandate not yet granted: %w", err)
	}
	return m, nil
}
