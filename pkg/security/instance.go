package security

import (
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/x509"
	"crypto/x509/pkix"
	"encoding/asn1"
	"fmt"
	"math/big"
	"sync/atomic"
	"time"

	"github.com/protojour/authly/pkg/id"
)

// entityIDOID is the custom DN attribute type carrying the Authly entity
// ID, per spec §4.3/§6: "OID 2.5.4.45". This is how a gRPC peer's
// ServiceId is recovered at TLS handshake time.
var entityIDOID = asn1.ObjectIdentifier{2, 5, 4, 45}

// AuthlyCertKind distinguishes a CA certificate from a leaf identity
// certificate (design note: sum types over boolean flags).
type AuthlyCertKind int

const (
	AuthlyCertKindCA AuthlyCertKind = iota
	AuthlyCertKindIdentity
)

// AuthlyCert is one certificate held by an AuthlyInstance, per spec §4.3.
type AuthlyCert struct {
	Kind      AuthlyCertKind
	Certifies id.Any // the entity this cert identifies
	SignedBy  id.Any // the entity whose key signed this cert
	DER       []byte
}

func (c AuthlyCert) parsed() (*x509.Certificate, error) {
	return x509.ParseCertificate(c.DER)
}

// AuthlyInstance holds the entity ID, local-CA signing key, and the
// certificate chain of a running Authly node (spec §4.3). It is mutated
// only by full replacement (design note: atomic-swap state); see
// InstanceHolder.
type AuthlyInstance struct {
	AuthlyEid   id.ServiceID
	PrivateKey  *ecdsa.PrivateKey // the local CA's signing key
	Certs       []AuthlyCert
	jwtDecoding *ecdsa.PublicKey
}

// ErrInvariant reports a violated AuthlyInstance invariant (spec §3.3,
// §4.3): trust-root CA, local CA, and self-identity must each exist
// exactly once.
type ErrInvariant struct{ Msg string }

func (e *ErrInvariant) Error() string { return "instance invariant violated: " + e.Msg }

// NewAuthlyInstance validates the three certificate invariants of spec
// §3.3/§4.3 and derives the cached JWT decoding key from the local CA's EC
// public key.
func NewAuthlyInstance(eid id.ServiceID, key *ecdsa.PrivateKey, certs []AuthlyCert) (*AuthlyInstance, error) {
	var trustRoot, localCA, selfIdentity *AuthlyCert
	for i := range certs {
		c := &certs[i]
		if c.Kind == AuthlyCertKindCA && c.SignedBy.Equal(c.Certifies) {
			if trustRoot != nil {
				return nil, &ErrInvariant{"more than one trust-root CA"}
			}
			trustRoot = c
		}
		if c.Kind == AuthlyCertKindCA && c.Certifies.Equal(eid.Upcast()) {
			if localCA != nil {
				return nil, &ErrInvariant{"more than one local CA"}
			}
			localCA = c
		}
		if c.Kind == AuthlyCertKindIdentity && c.Certifies.Equal(eid.Upcast()) {
			if selfIdentity != nil {
				return nil, &ErrInvariant{"more than one self-identity certificate"}
			}
			selfIdentity = c
		}
	}
	if trustRoot == nil {
		return nil, &ErrInvariant{"missing trust-root CA"}
	}
	if localCA == nil {
		return nil, &ErrInvariant{"missing local CA"}
	}
	if selfIdentity == nil {
		return nil, &ErrInvariant{"missing self-identity certificate"}
	}

	localCAParsed, err := localCA.parsed()
	if err != nil {
		return nil, fmt.Errorf("parse local CA cert: %w", err)
	}
	pub, ok := localCAParsed.PublicKey.(*ecdsa.PublicKey)
	if !ok {
		return nil, &ErrInvariant{"local CA public key is not EC"}
	}

	return &AuthlyInstance{
		AuthlyEid:   eid,
		PrivateKey:  key,
		Certs:       certs,
		jwtDecoding: pub,
	}, nil
}

// LocalJWTDecodingKey returns the cached EC public key used to verify
// access tokens signed with SignAccessToken (spec §4.7).
func (a *AuthlyInstance) LocalJWTDecodingKey() *ecdsa.PublicKey { return a.jwtDecoding }

// LocalJWTEncodingKey returns the local CA's private key, used to sign
// access tokens.
func (a *AuthlyInstance) LocalJWTEncodingKey() *ecdsa.PrivateKey { return a.PrivateKey }

func (a *AuthlyInstance) certOfKind(kind AuthlyCertKind, certifies id.Any) *AuthlyCert {
	for i := range a.Certs {
		if a.Certs[i].Kind == kind && a.Certs[i].Certifies.Equal(certifies) {
			return &a.Certs[i]
		}
	}
	return nil
}

// LocalCA returns this instance's local CA certificate.
func (a *AuthlyInstance) LocalCA() *AuthlyCert { return a.certOfKind(AuthlyCertKindCA, a.AuthlyEid.Upcast()) }

// TrustRootCA returns the trust-root CA certificate (may equal LocalCA for
// a standalone authority, or be an upstream authority's CA for a mandate).
func (a *AuthlyInstance) TrustRootCA() *AuthlyCert {
	for i := range a.Certs {
		if a.Certs[i].Kind == AuthlyCertKindCA && a.Certs[i].SignedBy.Equal(a.Certs[i].Certifies) {
			return &a.Certs[i]
		}
	}
	return nil
}

// SelfIdentity returns this instance's own identity certificate.
func (a *AuthlyInstance) SelfIdentity() *AuthlyCert {
	return a.certOfKind(AuthlyCertKindIdentity, a.AuthlyEid.Upcast())
}

// CsrParams describes the certificate to sign: the entity it identifies
// and the validity interval, past(1 day) to future(duration) per the
// original implementation's cert.rs convention (a small clock-skew
// allowance on NotBefore).
type CsrParams struct {
	Certifies id.Any
	Validity  time.Duration
	DNSNames  []string
	IsCA      bool
}

// SignWithLocalCA signs pubKey under the local CA, embedding the Authly
// entity ID as the custom DN attribute (OID 2.5.4.45) and returns the
// resulting certificate DER (spec §4.3's sign_with_local_ca).
func (a *AuthlyInstance) SignWithLocalCA(params CsrParams, pubKey *ecdsa.PublicKey) ([]byte, error) {
	localCA := a.LocalCA()
	if localCA == nil {
		return nil, &ErrInvariant{"cannot sign: no local CA loaded"}
	}
	caCert, err := localCA.parsed()
	if err != nil {
		return nil, fmt.Errorf("parse local CA: %w", err)
	}

	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return nil, fmt.Errorf("generate serial: %w", err)
	}

	subject := pkix.Name{
		CommonName: params.Certifies.String(),
		ExtraNames: []pkix.AttributeTypeAndValue{
			{Type: entityIDOID, Value: params.Certifies.String()},
		},
	}

	template := &x509.Certificate{
		SerialNumber:          serial,
		Subject:                subject,
		NotBefore:              time.Now().Add(-24 * time.Hour),
		NotAfter:               time.Now().Add(params.Validity),
		DNSNames:               params.DNSNames,
		BasicConstraintsValid:  true,
		IsCA:                   params.IsCA,
		KeyUsage:               x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage:            []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if params.IsCA {
		template.KeyUsage |= x509.KeyUsageCertSign | x509.KeyUsageCRLSign
		template.MaxPathLenZero = true
	}

	der, err := x509.CreateCertificate(rand.Reader, template, caCert, pubKey, a.PrivateKey)
	if err != nil {
		return nil, fmt.Errorf("create certificate: %w", err)
	}
	return der, nil
}

// EntityIDFromCert extracts the Authly entity ID custom DN attribute from a
// verified peer certificate (spec §4.3, §4.7's mTLS peer-service
// extraction). Absence is not an error at this layer — callers receive
// ok=false.
func EntityIDFromCert(cert *x509.Certificate) (id.Any, bool) {
	for _, atv := range cert.Subject.Names {
		if atv.Type.Equal(entityIDOID) {
			s, ok := atv.Value.(string)
			if !ok {
				return id.Any{}, false
			}
			parsed, err := id.ParseLiteral(s)
			if err != nil {
				return id.Any{}, false
			}
			return parsed, true
		}
	}
	return id.Any{}, false
}

// InstanceHolder is the atomic-swap snapshot pointer for AuthlyInstance
// (design note: atomic-swap state, spec §5: "stored behind an atomic swap
// pointer so that rotations publish a new value without locking readers").
type InstanceHolder struct {
	ptr atomic.Pointer[AuthlyInstance]
}

// Load returns the current instance snapshot.
func (h *InstanceHolder) Load() *AuthlyInstance { return h.ptr.Load() }

// Store publishes a new instance snapshot.
func (h *InstanceHolder) Store(inst *AuthlyInstance) { h.ptr.Store(inst) }

// GenerateLocalCAKey generates a fresh P-256 EC key pair for a new local
// CA, matching the ES256 signature algorithm required for access tokens
// (spec §4.7).
func GenerateLocalCAKey() (*ecdsa.PrivateKey, error) {
	return ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
}

// BootstrapRootCA generates a brand-new, self-signed trust-root CA valid
// for 100 years (spec §4.3: "If absent, generate a new 100-year CA"),
// certifying eid as both signer and subject.
func BootstrapRootCA(eid id.ServiceID, key *ecdsa.PrivateKey) (AuthlyCert, error) {
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return AuthlyCert{}, err
	}
	eidAny := eid.Upcast()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: "Authly ID",
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: entityIDOID, Value: eidAny.String()},
			},
		},
		NotBefore:             time.Now().Add(-24 * time.Hour),
		NotAfter:               time.Now().Add(100 * 365 * 24 * time.Hour),
		IsCA:                   true,
		BasicConstraintsValid:  true,
		KeyUsage:               x509.KeyUsageCertSign | x509.KeyUsageCRLSign,
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	if err != nil {
		return AuthlyCert{}, fmt.Errorf("create root CA: %w", err)
	}
	return AuthlyCert{Kind: AuthlyCertKindCA, Certifies: eidAny, SignedBy: eidAny, DER: der}, nil
}

// BootstrapSelfIdentity issues eid's own identity certificate, signed by
// the local CA (spec §4.3: "common-name = entity-ID").
func BootstrapSelfIdentity(eid id.ServiceID, localCACert AuthlyCert, localCAKey *ecdsa.PrivateKey, selfKey *ecdsa.PrivateKey, validity time.Duration) (AuthlyCert, error) {
	caParsed, err := localCACert.parsed()
	if err != nil {
		return AuthlyCert{}, err
	}
	serial, err := rand.Int(rand.Reader, new(big.Int).Lsh(big.NewInt(1), 128))
	if err != nil {
		return AuthlyCert{}, err
	}
	eidAny := eid.Upcast()
	template := &x509.Certificate{
		SerialNumber: serial,
		Subject: pkix.Name{
			CommonName: eidAny.String(),
			ExtraNames: []pkix.AttributeTypeAndValue{
				{Type: entityIDOID, Value: eidAny.String()},
			},
		},
		NotBefore:   time.Now().Add(-24 * time.Hour),
		NotAfter:    time.Now().Add(validity),
		KeyUsage:    x509.KeyUsageDigitalSignature | x509.KeyUsageKeyEncipherment,
		ExtKeyUsage: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	der, err := x509.CreateCertificate(rand.Reader, template, caParsed, &selfKey.PublicKey, localCAKey)
	if err != nil {
		return AuthlyCert{}, fmt.Errorf("create self identity: %w", err)
	}
	return AuthlyCert{Kind: AuthlyCertKindIdentity, Certifies: eidAny, SignedBy: localCACert.Certifies, DER: der}, nil
}

// VerifyChain walks local identity -> local CA -> trust root, matching
// spec testable property 6.
func (a *AuthlyInstance) VerifyChain() error {
	root := a.TrustRootCA()
	local := a.LocalCA()
	self := a.SelfIdentity()
	if root == nil || local == nil || self == nil {
		return &ErrInvariant{"incomplete chain"}
	}

	rootParsed, err := root.parsed()
	if err != nil {
		return err
	}
	localParsed, err := local.parsed()
	if err != nil {
		return err
	}
	selfParsed, err := self.parsed()
	if err != nil {
		return err
	}

	pool := x509.NewCertPool()
	pool.AddCert(rootParsed)
	if !root.Certifies.Equal(local.Certifies) { // mandate: local CA chains to upstream root
		if _, err := localParsed.Verify(x509.VerifyOptions{Roots: pool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
			return fmt.Errorf("local CA does not verify against trust root: %w", err)
		}
	}

	localPool := x509.NewCertPool()
	localPool.AddCert(localParsed)
	if _, err := selfParsed.Verify(x509.VerifyOptions{Roots: localPool, KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageAny}}); err != nil {
		return fmt.Errorf("self identity does not verify against local CA: %w", err)
	}
	return nil
}
