package security

import (
	"crypto/ecdsa"
	"crypto/x509"
	"fmt"
	"time"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

// Certificate validity periods (spec §4.3).
const (
	localCAValidity  = 100 * 365 * 24 * time.Hour
	identityValidity = 365 * 24 * time.Hour
	// ServiceCertRotationRate is the default interval between issuing a
	// fresh identity certificate to a replicated service (spec §4.3's
	// server_cert_rotation_rate, spec §9's design note on streaming
	// ServerConfig updates).
	ServiceCertRotationRate = 30 * 24 * time.Hour
)

// TlsKeyStore persists TlsKey rows (spec §3's tls_key table) keyed by
// purpose. It is satisfied by pkg/storage's directory store.
type TlsKeyStore interface {
	GetTlsKey(purpose types.TlsKeyPurpose) (*types.TlsKey, error)
	PutTlsKey(key *types.TlsKey) error
}

// BootstrapInstance loads or generates this node's AuthlyInstance: the
// local CA and this node's own identity certificate (spec §4.3:
// "leader-only bootstrap: load-or-generate local CA then identity cert
// signed by local CA with CN=entity-ID"). Followers must wait for the
// leader to publish the bootstrapped rows via cluster replication before
// calling this with isLeader=false.
func BootstrapInstance(store TlsKeyStore, deks *DecryptedDeks, eid id.ServiceID, isLeader bool) (*AuthlyInstance, error) {
	caKey, caCert, err := loadOrCreateLocalCA(store, deks, eid, isLeader)
	if err != nil {
		return nil, fmt.Errorf("bootstrap local CA: %w", err)
	}

	_, identityCert, err := loadOrCreateSelfIdentity(store, deks, eid, caKey, caCert, isLeader)
	if err != nil {
		return nil, fmt.Errorf("bootstrap self identity: %w", err)
	}

	return NewAuthlyInstance(eid, caKey, []AuthlyCert{caCert, identityCert})
}

func loadOrCreateLocalCA(store TlsKeyStore, deks *DecryptedDeks, eid id.ServiceID, isLeader bool) (*ecdsa.PrivateKey, AuthlyCert, error) {
	row, err := store.GetTlsKey(types.TlsKeyPurposeLocalCA)
	if err != nil {
		return nil, AuthlyCert{}, err
	}
	if row != nil {
		key, cert, err := decodeTlsKeyRow(deks, id.BuiltinLocalCA.ToPropertyID(), row)
		if err != nil {
			return nil, AuthlyCert{}, err
		}
		return key, AuthlyCert{Kind: AuthlyCertKindCA, Certifies: eid.Upcast(), SignedBy: eid.Upcast(), DER: cert.Raw}, nil
	}
	if !isLeader {
		return nil, AuthlyCert{}, &ErrInvariant{"local CA not yet replicated from leader"}
	}

	key, err := GenerateLocalCAKey()
	if err != nil {
		return nil, AuthlyCert{}, err
	}
	cert, err := BootstrapRootCA(eid, key)
	if err != nil {
		return nil, AuthlyCert{}, err
	}
	if err := persistTlsKeyRow(store, deks, id.BuiltinLocalCA.ToPropertyID(), types.TlsKeyPurposeLocalCA, key, cert.DER, time.Now().Add(localCAValidity)); err != nil {
		return nil, AuthlyCert{}, err
	}
	return key, cert, nil
}

func loadOrCreateSelfIdentity(store TlsKeyStore, deks *DecryptedDeks, eid id.ServiceID, caKey *ecdsa.PrivateKey, caCert AuthlyCert, isLeader bool) (*ecdsa.PrivateKey, AuthlyCert, error) {
	row, err := store.GetTlsKey(types.TlsKeyPurposeIdentity)
	if err != nil {
		return nil, AuthlyCert{}, err
	}
	if row != nil {
		key, cert, err := decodeTlsKeyRow(deks, id.BuiltinTlsIdentity.ToPropertyID(), row)
		if err != nil {
			return nil, AuthlyCert{}, err
		}
		return key, AuthlyCert{Kind: AuthlyCertKindIdentity, Certifies: eid.Upcast(), SignedBy: caCert.Certifies, DER: cert.Raw}, nil
	}
	if !isLeader {
		return nil, AuthlyCert{}, &ErrInvariant{"self identity not yet replicated from leader"}
	}

	key, err := GenerateLocalCAKey()
	if err != nil {
		return nil, AuthlyCert{}, err
	}
	cert, err := BootstrapSelfIdentity(eid, caCert, caKey, key, identityValidity)
	if err != nil {
		return nil, AuthlyCert{}, err
	}
	if err := persistTlsKeyRow(store, deks, id.BuiltinTlsIdentity.ToPropertyID(), types.TlsKeyPurposeIdentity, key, cert.DER, time.Now().Add(identityValidity)); err != nil {
		return nil, AuthlyCert{}, err
	}
	return key, cert, nil
}

func decodeTlsKeyRow(deks *DecryptedDeks, propID id.PropertyID, row *types.TlsKey) (*ecdsa.PrivateKey, *x509.Certificate, error) {
	plaintext, err := DecryptObjIdent(deks, propID, row.Nonce, row.EncryptedKey)
	if err != nil {
		return nil, nil, fmt.Errorf("decrypt tls key: %w", err)
	}
	key, err := x509.ParseECPrivateKey(plaintext)
	if err != nil {
		return nil, nil, fmt.Errorf("parse tls key: %w", err)
	}
	cert, err := x509.ParseCertificate(row.CertDER)
	if err != nil {
		return nil, nil, fmt.Errorf("parse tls cert: %w", err)
	}
	return key, cert, nil
}

func persistTlsKeyRow(store TlsKeyStore, deks *DecryptedDeks, propID id.PropertyID, purpose types.TlsKeyPurpose, key *ecdsa.PrivateKey, certDER []byte, expiresAt time.Time) error {
	raw, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal tls key: %w", err)
	}
	_, nonce, ciph, err := EncryptObjIdent(deks, propID, raw)
	if err != nil {
		return fmt.Errorf("encrypt tls key: %w", err)
	}
	return store.PutTlsKey(&types.TlsKey{
		Purpose:      purpose,
		EncryptedKey: ciph,
		Nonce:        nonce,
		CertDER:      certDER,
		ExpiresAt:    expiresAt,
	})
}

// RotateSelfIdentity reissues this node's identity certificate under the
// current local CA, for the periodic rotation described in spec §4.3 and
// §9 (a fresh stream of ServerConfig values pushed to the gRPC server).
func RotateSelfIdentity(store TlsKeyStore, deks *DecryptedDeks, inst *AuthlyInstance) (*AuthlyInstance, error) {
	localCA := inst.LocalCA()
	if localCA == nil {
		return nil, &ErrInvariant{"cannot rotate: no local CA"}
	}
	key, err := GenerateLocalCAKey()
	if err != nil {
		return nil, err
	}
	cert, err := BootstrapSelfIdentity(inst.AuthlyEid, *localCA, inst.PrivateKey, key, identityValidity)
	if err != nil {
		return nil, err
	}
	if err := persistTlsKeyRow(store, deks, id.BuiltinTlsIdentity.ToPropertyID(), types.TlsKeyPurposeIdentity, key, cert.DER, time.Now().Add(identityValidity)); err != nil {
		return nil, err
	}

	certs := make([]AuthlyCert, 0, len(inst.Certs))
	for _, c := range inst.Certs {
		if c.Kind == AuthlyCertKindIdentity && c.Certifies.Equal(inst.AuthlyEid.Upcast()) {
			continue
		}
		certs = append(certs, c)
	}
	certs = append(certs, cert)
	return NewAuthlyInstance(inst.AuthlyEid, inst.PrivateKey, certs)
}
