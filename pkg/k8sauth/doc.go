/*
Package k8sauth implements Authly's optional Kubernetes service-account
auth server (SPEC_FULL.md §13 item 4, grounded on
original_source/src/k8s/k8s_auth_server.rs): a small HTTPS server a pod can
reach from inside a cluster to exchange its projected service-account
token for an Authly client certificate, without ever holding a
long-lived secret.

# Protocol

	POST /api/v0/authenticate
	Authorization: Bearer <service-account JWT>
	Content-Type: application/octet-stream
	<body: DER-encoded SubjectPublicKeyInfo of an EC public key>

The server verifies the bearer token against the cluster's published JWKS
(see jwks.go), extracts the calling pod's namespace and service account
name from the token's "kubernetes.io" claim, and looks up a Service
entity previously bound to that namespace/name pair via a document's
`k8s-service-account` field (pkg/document's compiler, not this package).
On a match it signs the presented public key under the instance's local
CA and returns the resulting certificate DER.

# Why RSA-only JWKS parsing

The example pack carries no JWK/JWKS library, and the original's
jsonwebtoken::jwk module is Rust-specific. jwks.go hand-decodes the `n`/`e`
fields of RSA JWK entries directly into an *rsa.PublicKey using
encoding/base64 and math/big — the verification itself still goes through
golang-jwt/jwt/v5, the teacher's/pack's JWT library. Most Kubernetes
distributions sign projected service-account tokens RS256; EC-signed
clusters are not supported by this server (see DESIGN.md).
*/
package k8sauth
