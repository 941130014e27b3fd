package k8sauth

import (
	"context"
	"crypto/rsa"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"time"
)

// JWK is one entry of a published JSON Web Key Set, restricted to the RSA
// fields this package understands (see doc.go).
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`
	N   string `json:"n"`
	E   string `json:"e"`
}

// JWKSet is the top-level JWKS document shape.
type JWKSet struct {
	Keys []JWK `json:"keys"`
}

// PublicKey decodes an RSA JWK's n/e fields into an *rsa.PublicKey.
func (k JWK) PublicKey() (*rsa.PublicKey, error) {
	if k.Kty != "RSA" {
		return nil, fmt.Errorf("k8sauth: unsupported key type %q (only RSA JWKs are supported)", k.Kty)
	}
	nb, err := base64.RawURLEncoding.DecodeString(k.N)
	if err != nil {
		return nil, fmt.Errorf("k8sauth: decoding jwk modulus: %w", err)
	}
	eb, err := base64.RawURLEncoding.DecodeString(k.E)
	if err != nil {
		return nil, fmt.Errorf("k8sauth: decoding jwk exponent: %w", err)
	}
	return &rsa.PublicKey{
		N: new(big.Int).SetBytes(nb),
		E: int(new(big.Int).SetBytes(eb).Int64()),
	}, nil
}

// JWKSFetchConfig parameterizes FetchJWKS. CACertPEM and BearerToken mirror
// the original's use of the projected service-account CA bundle and token
// to authenticate the JWKS request to the cluster's own API server.
type JWKSFetchConfig struct {
	URL         string
	CACertPEM   []byte
	BearerToken string
	Timeout     time.Duration
}

// FetchJWKS retrieves and decodes a cluster's JWKS document.
func FetchJWKS(ctx context.Context, cfg JWKSFetchConfig) (*JWKSet, error) {
	client := &http.Client{Timeout: cfg.Timeout}
	if client.Timeout == 0 {
		client.Timeout = 10 * time.Second
	}
	if len(cfg.CACertPEM) > 0 {
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(cfg.CACertPEM) {
			return nil, fmt.Errorf("k8sauth: no certificates parsed from CA bundle")
		}
		client.Transport = &http.Transport{TLSClientConfig: &tls.Config{RootCAs: pool, MinVersion: tls.VersionTLS12}}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("k8sauth: building jwks request: %w", err)
	}
	if cfg.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+cfg.BearerToken)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("k8sauth: fetching jwks: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("k8sauth: jwks endpoint returned %s", resp.Status)
	}

	var set JWKSet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("k8sauth: decoding jwks: %w", err)
	}
	if len(set.Keys) == 0 {
		return nil, fmt.Errorf("k8sauth: jwks has no keys")
	}
	return &set, nil
}
