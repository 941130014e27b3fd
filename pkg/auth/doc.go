// Package auth implements Authly's cluster coordination & mTLS auth
// component (spec §4.7): bearer session issuance, ES256 access-token
// signing/verification, argon2id password hashing, per-URI WebAuthn
// bookkeeping, and the OAuth foreign-persona link (SPEC_FULL.md §13).
package auth
