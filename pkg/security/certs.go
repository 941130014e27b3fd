package security

import (
	"crypto/ecdsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/protojour/authly/pkg/id"
)

const (
	// certRotationThreshold mirrors ServiceCertRotationRate: a cert with
	// less than this much life left is due for renewal.
	certRotationThreshold = 30 * 24 * time.Hour

	// etcExportRoot is where AUTHLY_EXPORT_TLS_TO_ETC (spec §6) writes a
	// service's identity material for consumption by processes that
	// cannot speak gRPC to authlyd directly.
	etcExportRoot = "/etc/authly/service"
)

// ExportDir returns the on-disk export directory for a service's identity
// material, per AUTHLY_EXPORT_TLS_TO_ETC.
func ExportDir(svc id.ServiceID) string {
	return filepath.Join(etcExportRoot, svc.String())
}

// ExportIdentityPEM writes identity.pem (leaf cert followed by local CA
// cert, then the EC private key) and ca.pem (trust-root CA alone) to
// ExportDir(svc), for services that load their TLS material from disk
// rather than over gRPC.
func ExportIdentityPEM(dir string, key *ecdsa.PrivateKey, leafDER []byte, chain [][]byte, rootDER []byte) error {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}

	keyDER, err := x509.MarshalECPrivateKey(key)
	if err != nil {
		return fmt.Errorf("marshal identity key: %w", err)
	}

	var identityPEM []byte
	identityPEM = append(identityPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: leafDER})...)
	for _, der := range chain {
		identityPEM = append(identityPEM, pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: der})...)
	}
	identityPEM = append(identityPEM, pem.EncodeToMemory(&pem.Block{Type: "EC PRIVATE KEY", Bytes: keyDER})...)

	if err := os.WriteFile(filepath.Join(dir, "identity.pem"), identityPEM, 0600); err != nil {
		return fmt.Errorf("write identity.pem: %w", err)
	}

	caPEM := pem.EncodeToMemory(&pem.Block{Type: "CERTIFICATE", Bytes: rootDER})
	if err := os.WriteFile(filepath.Join(dir, "ca.pem"), caPEM, 0644); err != nil {
		return fmt.Errorf("write ca.pem: %w", err)
	}
	return nil
}

// LoadIdentityPEM loads a previously exported identity.pem/ca.pem pair as
// a tls.Certificate plus the separate root CA certificate.
func LoadIdentityPEM(dir string) (*tls.Certificate, *x509.Certificate, error) {
	cert, err := tls.LoadX509KeyPair(filepath.Join(dir, "identity.pem"), filepath.Join(dir, "identity.pem"))
	if err != nil {
		return nil, nil, fmt.Errorf("load identity.pem: %w", err)
	}
	if cert.Leaf == nil {
		leaf, err := x509.ParseCertificate(cert.Certificate[0])
		if err != nil {
			return nil, nil, fmt.Errorf("parse identity leaf: %w", err)
		}
		cert.Leaf = leaf
	}

	caPEM, err := os.ReadFile(filepath.Join(dir, "ca.pem"))
	if err != nil {
		return nil, nil, fmt.Errorf("read ca.pem: %w", err)
	}
	block, _ := pem.Decode(caPEM)
	if block == nil || block.Type != "CERTIFICATE" {
		return nil, nil, fmt.Errorf("decode ca.pem: not a certificate")
	}
	root, err := x509.ParseCertificate(block.Bytes)
	if err != nil {
		return nil, nil, fmt.Errorf("parse ca.pem: %w", err)
	}
	return &cert, root, nil
}

// ExportExists reports whether a prior export is present in dir.
func ExportExists(dir string) bool {
	_, err1 := os.Stat(filepath.Join(dir, "identity.pem"))
	_, err2 := os.Stat(filepath.Join(dir, "ca.pem"))
	return err1 == nil && err2 == nil
}

// CertNeedsRotation reports whether cert has less than
// certRotationThreshold validity remaining.
func CertNeedsRotation(cert *x509.Certificate) bool {
	if cert == nil {
		return true
	}
	return time.Until(cert.NotAfter) < certRotationThreshold
}

// GetCertExpiry returns cert's expiry time.
func GetCertExpiry(cert *x509.Certificate) time.Time {
	if cert == nil {
		return time.Time{}
	}
	return cert.NotAfter
}

// GetCertTimeRemaining returns the time remaining until cert expires.
func GetCertTimeRemaining(cert *x509.Certificate) time.Duration {
	if cert == nil {
		return 0
	}
	return time.Until(cert.NotAfter)
}

// ValidateCertChain verifies that cert is signed by ca.
func ValidateCertChain(cert, ca *x509.Certificate) error {
	if cert == nil {
		return fmt.Errorf("certificate is nil")
	}
	if ca == nil {
		return fmt.Errorf("CA certificate is nil")
	}
	roots := x509.NewCertPool()
	roots.AddCert(ca)
	opts := x509.VerifyOptions{
		Roots:     roots,
		KeyUsages: []x509.ExtKeyUsage{x509.ExtKeyUsageClientAuth, x509.ExtKeyUsageServerAuth},
	}
	if _, err := cert.Verify(opts); err != nil {
		return fmt.Errorf("certificate verification failed: %w", err)
	}
	return nil
}

// GetCertInfo returns human-readable certificate fields, including the
// custom entity-ID DN attribute when present.
func GetCertInfo(cert *x509.Certificate) map[string]any {
	if cert == nil {
		return map[string]any{"error": "certificate is nil"}
	}
	info := map[string]any{
		"subject":       cert.Subject.CommonName,
		"issuer":        cert.Issuer.CommonName,
		"serial_number": cert.SerialNumber.String(),
		"not_before":    cert.NotBefore.Format(time.RFC3339),
		"not_after":     cert.NotAfter.Format(time.RFC3339),
		"is_ca":         cert.IsCA,
		"key_usage":     describeKeyUsage(cert.KeyUsage),
		"ext_key_usage": describeExtKeyUsage(cert.ExtKeyUsage),
	}
	if eid, ok := EntityIDFromCert(cert); ok {
		info["entity_id"] = eid.String()
	}
	return info
}

func describeKeyUsage(usage x509.KeyUsage) []string {
	var usages []string
	if usage&x509.KeyUsageDigitalSignature != 0 {
		usages = append(usages, "DigitalSignature")
	}
	if usage&x509.KeyUsageKeyEncipherment != 0 {
		usages = append(usages, "KeyEncipherment")
	}
	if usage&x509.KeyUsageCertSign != 0 {
		usages = append(usages, "CertSign")
	}
	if usage&x509.KeyUsageCRLSign != 0 {
		usages = append(usages, "CRLSign")
	}
	return usages
}

func describeExtKeyUsage(usages []x509.ExtKeyUsage) []string {
	var result []string
	for _, usage := range usages {
		switch usage {
		case x509.ExtKeyUsageClientAuth:
			result = append(result, "ClientAuth")
		case x509.ExtKeyUsageServerAuth:
			result = append(result, "ServerAuth")
		}
	}
	return result
}

// RemoveExport deletes a previously exported identity directory.
func RemoveExport(dir string) error {
	return os.RemoveAll(dir)
}
