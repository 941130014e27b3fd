package k8sauth

import (
	"crypto/rsa"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// ServiceAccountClaims is the subset of a Kubernetes projected
// service-account token's claims this server needs (original_source's
// claims::KubernetesJwtClaims).
type ServiceAccountClaims struct {
	jwt.RegisteredClaims
	KubernetesIO KubernetesIOClaims `json:"kubernetes.io"`
}

// KubernetesIOClaims is the "kubernetes.io" claim namespace Kubernetes
// stamps onto every projected service-account token.
type KubernetesIOClaims struct {
	Namespace      string                `json:"namespace"`
	ServiceAccount K8sServiceAccountRef  `json:"serviceaccount"`
}

// K8sServiceAccountRef names the pod's service account.
type K8sServiceAccountRef struct {
	Name string `json:"name"`
}

// Identity is "namespace/name", the same string pkg/document's compiler
// encrypts a service entity's k8s-service-account field as, so a verified
// token's claims and a stored ObjIdent row can be matched by fingerprint.
func (c ServiceAccountClaims) Identity() string {
	return c.KubernetesIO.Namespace + "/" + c.KubernetesIO.ServiceAccount.Name
}

// JWTVerifier validates Kubernetes service-account tokens against a
// cluster's published RSA JWKS.
type JWTVerifier struct {
	keysByKid map[string]*rsa.PublicKey
	anyKey    *rsa.PublicKey // used when a token carries no "kid" header
	audience  string
}

// NewJWTVerifier builds a verifier from a fetched JWKS, rejecting any
// non-RSA key rather than silently skipping it (a misconfigured cluster
// should fail loudly, not accept a weaker-than-expected key set).
func NewJWTVerifier(jwks *JWKSet, audience string) (*JWTVerifier, error) {
	v := &JWTVerifier{keysByKid: make(map[string]*rsa.PublicKey, len(jwks.Keys)), audience: audience}
	for _, k := range jwks.Keys {
		pub, err := k.PublicKey()
		if err != nil {
			return nil, err
		}
		v.keysByKid[k.Kid] = pub
		v.anyKey = pub
	}
	return v, nil
}

// Verify checks token's signature, expiry, and audience, returning its
// decoded claims (spec: "audience must contain the cluster URL").
func (v *JWTVerifier) Verify(token string) (*ServiceAccountClaims, error) {
	var claims ServiceAccountClaims
	_, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (interface{}, error) {
		kid, _ := t.Header["kid"].(string)
		if kid != "" {
			if key, ok := v.keysByKid[kid]; ok {
				return key, nil
			}
		}
		if v.anyKey != nil {
			return v.anyKey, nil
		}
		return nil, fmt.Errorf("k8sauth: no matching jwk for kid %q", kid)
	}, jwt.WithValidMethods([]string{"RS256"}), jwt.WithAudience(v.audience))
	if err != nil {
		return nil, fmt.Errorf("k8sauth: token not verified: %w", err)
	}
	return &claims, nil
}
