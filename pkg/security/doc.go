/*
Package security provides Authly's encryption subsystem and certificate
plane.

# Encryption subsystem

A SecretsBackend (BaoBackend for an OpenBao/Vault-style server, DevBackend
for local development) holds the 32-byte master secret; Authly persists
only its MasterVersion row. LoadDecryptedDeks acquires the master secret
and then, for every built-in encrypted property, creates (leader) or loads
(follower) a data-encryption key stored as a PropDek row encrypted under
the master key. A follower never creates these rows and gets a CryptoError
when they are absent.

Each Dek is split by HKDF over BLAKE3 into an AEAD key and a fingerprint
key. EncryptObjIdent seals a value with AES-GCM-SIV under a 12-byte nonce
and returns a keyed-BLAKE3 Fingerprint alongside it, so identities can be
looked up by fingerprint without decryption; DecryptObjIdent reverses it.

# Certificate plane

An AuthlyInstance holds an instance's ServiceID, its ECDSA P-256 private
key and its certificates. On the leader BootstrapInstance creates the local
CA, a self-signed root valid for 100 years (BootstrapRootCA), and a
self-identity certificate valid for 365 days signed by it
(BootstrapSelfIdentity), and stores both private keys as TlsKey rows
encrypted under their DEKs; a follower loads those rows instead.
SignWithLocalCA issues leaf certificates that carry the entity ID, which
EntityIDFromCert reads back.

CertNeedsRotation reports whether a certificate has less than 30 days
(ServiceCertRotationRate) of validity left, and RotateSelfIdentity reissues
the self-identity certificate under the local CA and persists it;
pkg/reconcile runs these on an hourly loop.

ExportIdentityPEM writes a key, leaf certificate, chain and root as PEM
files into a directory (ExportDir names the default one per service), and
LoadIdentityPEM reads them back as a tls.Certificate.

# See Also

  - pkg/storage for the MasterVersion, PropDek and TlsKey rows
  - pkg/reconcile for the certificate-rotation loop
  - pkg/mtls for the server and client TLS configuration

*/
package security
