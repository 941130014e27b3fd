package id

// BuiltinProperty enumerates the closed set of reserved low-integer
// property/attribute/namespace IDs. Values and labels are transliterated
// from the original implementation's builtin ID table; order and numbering
// matter because some builtin IDs are referred to by literal value in
// stored documents and test fixtures.
type BuiltinProperty uint32

const (
	BuiltinAuthly BuiltinProperty = iota
	BuiltinEntity
	BuiltinAuthlyRole
	BuiltinUsername
	BuiltinEmail
	BuiltinPasswordHash
	BuiltinLabel
	BuiltinK8sServiceAccount
	BuiltinLocalCA
	BuiltinTlsIdentity
	BuiltinEntityMembership
	BuiltinAuthlyInstance
	BuiltinOAuthClientSecret
	BuiltinAttrAuthlyRoleGrantMandate
	BuiltinWebauthnCredential
	BuiltinOAuthForeignSubject
	BuiltinMandateSubmissionCode
)

// builtinLabels maps each builtin to its document-facing label, mirroring
// id.rs's label() returning Option<&str> (nil here means "no label", i.e.
// not directly nameable from document source).
var builtinLabels = map[BuiltinProperty]string{
	BuiltinAuthly:            "authly",
	BuiltinEntity:            "entity",
	BuiltinAuthlyRole:        "role",
	BuiltinUsername:          "username",
	BuiltinEmail:             "email",
	BuiltinPasswordHash:      "password_hash",
	BuiltinLabel:             "label",
	BuiltinK8sServiceAccount: "k8s_service_account",
	BuiltinLocalCA:           "local_ca",
	BuiltinTlsIdentity:       "tls_identity",
	BuiltinEntityMembership:  "entity_membership",
	BuiltinAuthlyInstance:    "authly_instance",
	BuiltinWebauthnCredential: "webauthn_credential",
	BuiltinOAuthForeignSubject: "oauth_foreign_subject",
}

// Label returns the document-facing label for b, and ok=false if b has no
// label (cannot be referenced by name from document source).
func (b BuiltinProperty) Label() (string, bool) {
	l, ok := builtinLabels[b]
	return l, ok
}

// encryptedProps is the fixed set of builtin properties whose values are
// stored encrypted (spec §4.2's is_encrypted_prop flag).
var encryptedProps = map[BuiltinProperty]bool{
	BuiltinUsername:          true,
	BuiltinEmail:             true,
	BuiltinPasswordHash:      true,
	BuiltinK8sServiceAccount: true,
	BuiltinAuthlyInstance:    true,
	BuiltinLocalCA:           true,
	BuiltinTlsIdentity:       true,
	BuiltinOAuthClientSecret: true,
	BuiltinWebauthnCredential:  true,
	BuiltinOAuthForeignSubject: true,
	BuiltinMandateSubmissionCode: true,
}

// IsEncryptedProp reports whether values stored under this builtin property
// must be held as EncryptedObjIdent rows rather than plaintext.
func (b BuiltinProperty) IsEncryptedProp() bool { return encryptedProps[b] }

// roleAttributes lists AuthlyRole's child attribute values: the fixed set of
// roles a service entity can be granted.
var roleAttributes = []string{
	"apply_document",
	"get_access_token",
	"authenticate",
	"grant_mandate",
}

// RoleAttributes returns AuthlyRole's attribute children (label form); only
// meaningful for b == BuiltinAuthlyRole.
func (b BuiltinProperty) RoleAttributes() []string {
	if b != BuiltinAuthlyRole {
		return nil
	}
	return roleAttributes
}

// ToPropertyID converts the builtin into its reserved PropertyID.
func (b BuiltinProperty) ToPropertyID() PropertyID {
	return FromUint64[kProperty](uint64(b))
}

// ToAttributeID converts the builtin into its reserved AttributeID (used
// for the AuthlyRole attribute children and other builtin attribute rows).
func (b BuiltinProperty) ToAttributeID() AttributeID {
	return FromUint64[kAttribute](uint64(b))
}

// PropKey is the row key a builtin property is addressed by in ObjIdent/
// ObjTextAttr rows. Builtins have no compiler-minted Property row, so
// their PropKey is just their reserved ID's low 8 bytes, which by
// construction of FromUint64's reserved-range check never collides with
// a compiler-minted Property.Key (those are drawn from outside the
// reserved range).
func (b BuiltinProperty) PropKey() uint64 { return uint64(b) }

// AllBuiltins iterates every builtin property in declaration order,
// mirroring id.rs's BuiltinID::iter().
func AllBuiltins() []BuiltinProperty {
	return []BuiltinProperty{
		BuiltinAuthly, BuiltinEntity, BuiltinAuthlyRole, BuiltinUsername,
		BuiltinEmail, BuiltinPasswordHash, BuiltinLabel,
		BuiltinK8sServiceAccount, BuiltinLocalCA, BuiltinTlsIdentity,
		BuiltinEntityMembership, BuiltinAuthlyInstance,
		BuiltinOAuthClientSecret, BuiltinAttrAuthlyRoleGrantMandate,
		BuiltinWebauthnCredential, BuiltinOAuthForeignSubject,
		BuiltinMandateSubmissionCode,
	}
}

// AllEncryptedProps returns the builtin properties flagged is_encrypted_prop,
// in a fixed order — spec §4.2's "for every builtin property whose
// is_encrypted_prop flag is true" iteration.
func AllEncryptedProps() []BuiltinProperty {
	var out []BuiltinProperty
	for _, b := range AllBuiltins() {
		if b.IsEncryptedProp() {
			out = append(out, b)
		}
	}
	return out
}

// RootDirectoryID is the zero-valued ID denoting the built-in Authly
// directory (spec §3.1).
var RootDirectoryID = FromUint64[kDirectory](0)

// RootNamespaceID is the zero-valued ID denoting the built-in Authly
// namespace.
var RootNamespaceID = FromUint64[kDomain](0)
