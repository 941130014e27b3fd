package types

import (
	"time"

	"github.com/protojour/authly/pkg/id"
)

// DirectoryKind distinguishes how a Directory's rows came to exist.
type DirectoryKind string

const (
	DirectoryKindAuthly   DirectoryKind = "authly"
	DirectoryKindDocument DirectoryKind = "document"
	DirectoryKindPersona  DirectoryKind = "persona"
)

// Directory is a top-level container for configuration rows, one per
// logical source (spec §3.2).
type Directory struct {
	Key   uint64 // synthetic row key; other tables reference a directory via DirKey
	ID    id.DirectoryID
	Kind  DirectoryKind
	URL   string
	Hash  []byte
	Label string
}

// NamespaceEntryKind distinguishes what a namespace label resolves to.
// Matched exhaustively wherever a namespace entry is consumed (design
// note: sum types over boolean flags).
type NamespaceEntryKind string

const (
	NamespaceEntryEntity   NamespaceEntryKind = "entity"
	NamespaceEntryService  NamespaceEntryKind = "service"
	NamespaceEntryProperty NamespaceEntryKind = "property"
	NamespaceEntryPolicy   NamespaceEntryKind = "policy"
	NamespaceEntryDomain   NamespaceEntryKind = "domain"
	NamespaceEntryBuiltin  NamespaceEntryKind = "builtin"
)

// Namespace is a scope within a Directory in which property and attribute
// labels are unique.
type Namespace struct {
	Key       uint64 // synthetic row key, directory-local
	DirKey    uint64
	ID        id.Any // Service or Domain
	Label     string
	EntryKind NamespaceEntryKind
}

// Service is a machine entity identified by an mTLS certificate.
type Service struct {
	Eid       id.ServiceID
	DirKey    uint64
	HostsJSON string
}

// PropertyKind distinguishes entity-scoped from resource-scoped properties.
type PropertyKind string

const (
	PropertyKindEntity   PropertyKind = "entity"
	PropertyKindResource PropertyKind = "resource"
)

// Property is a named dimension of entity or resource description (spec
// §3.2); owns a set of Attribute rows.
type Property struct {
	Key   uint64
	NsKey uint64
	ID    id.PropertyID
	Kind  PropertyKind
	Label string
}

// Attribute is a value within a Property.
type Attribute struct {
	Key     uint64
	PropKey uint64
	ID      id.AttributeID
	Label   string
}

// EntityRelation is a subject/relation/object triple (spec §3.2); relations
// are stored as triples, never as back-pointers (design note: no cyclic
// structures).
type EntityRelation struct {
	Subject  id.Any
	Relation id.PropertyID
	Object   id.Any
}

// EntityAttrAssignment attaches an attribute to an entity; replaced
// wholesale on document re-apply.
type EntityAttrAssignment struct {
	Eid     id.Any
	AttrKey uint64
}

// ObjIdent is an encrypted identifier row: fingerprint for equality lookup
// without decryption, nonce + ciphertext for recovering the plaintext
// (spec §4.2, §3.2).
type ObjIdent struct {
	ObjID       id.Any
	PropKey     uint64
	Fingerprint []byte
	Nonce       []byte
	Ciph        []byte
	Updated     time.Time
}

// ObjTextAttr is a plaintext attribute value row (used for properties that
// are not flagged is_encrypted_prop).
type ObjTextAttr struct {
	ObjID   id.Any
	PropKey uint64
	Value   string
}

// Policy is a labelled expression over subject/resource attributes,
// holding both the canonical AST and its derived bytecode cache (spec
// §3.3: "Policy bytecode is always produced from the stored AST").
type Policy struct {
	ID     id.PolicyID
	DirKey uint64
	Label  string
	Source string // the original allow/deny DSL text, for recompilation
	AST    []byte // serialized canonical Expr AST
	Code   []byte // derived OpCode bytecode, cache only
}

// PolicyBinding links an attribute-matcher set to a set of policies; the
// presence of matched attributes in a request triggers the linked
// policies.
type PolicyBinding struct {
	Key        uint64
	MatchAttrs []id.AttributeID
	PolicyIDs  []id.PolicyID
}

// Session is a bearer-token row with a fixed TTL (spec §3.2, §4.7).
type Session struct {
	Token     [20]byte // 160 random bits
	Eid       id.Any
	ExpiresAt time.Time
}

// TlsKeyPurpose distinguishes the two TlsKey rows an instance holds.
type TlsKeyPurpose string

const (
	TlsKeyPurposeLocalCA  TlsKeyPurpose = "local_ca"
	TlsKeyPurposeIdentity TlsKeyPurpose = "identity"
)

// TlsKey is an encrypted private key plus its certificate DER, rotated
// before expiry.
type TlsKey struct {
	Purpose      TlsKeyPurpose
	EncryptedKey []byte // encrypted under the LocalCA or TlsIdentity DEK
	Nonce        []byte
	CertDER      []byte
	ExpiresAt    time.Time
}

// MasterVersionKind distinguishes the provenance of a master secret row.
type MasterVersionKind string

const (
	MasterVersionKindSecretsBackend MasterVersionKind = "secrets_backend"
)

// MasterVersion is written once and is immutable thereafter (spec §3.2,
// §4.2).
type MasterVersion struct {
	Kind      MasterVersionKind
	Version   string
	CreatedAt time.Time
}

// PropDek is an append-only per-property data-encryption-key row, the
// ciphertext of a 32-byte DEK under the master key.
type PropDek struct {
	PropID    id.PropertyID
	Nonce     []byte
	Ciph      []byte
	CreatedAt time.Time
}

// MandateSubmissionCode is a single-use, 10-minute-TTL code an authority
// issues so a downstream mandate instance can submit its local-CA CSR
// (spec §3.2, supplemented in SPEC_FULL.md §13.1). Only the fingerprint is
// persisted, never the plaintext code.
type MandateSubmissionCode struct {
	CodeFingerprint []byte
	CreatedAt       time.Time
	CreatedByEid    id.Any
	ExpiresAt       time.Time
}

// AuthorityMandate is a persistent record of a downstream mandate instance
// this authority has signed for.
type AuthorityMandate struct {
	MandateEid         id.ServiceID
	GrantedByEid       id.ServiceID
	PublicKey          []byte
	MandateType        string
	LastConnectionTime time.Time
}
