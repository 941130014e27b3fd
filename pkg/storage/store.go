package storage

import (
	"io"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

// DirectorySnapshot is the full desired row set for one Directory, as
// produced by the document compiler's resolve&emit phase (spec §4.5).
// ApplyDirectorySnapshot replaces everything currently scoped to DirKey
// with exactly this set in one transaction (spec §4.4: "GC-on-rewrite").
// Re-applying an identical snapshot is a no-op (spec §4.4: "idempotent
// re-apply").
type DirectorySnapshot struct {
	DirKey      uint64
	Namespaces  []*types.Namespace
	Services    []*types.Service
	Properties  []*types.Property
	Attributes  []*types.Attribute
	Relations   []*types.EntityRelation
	Assignments []*types.EntityAttrAssignment
	ObjIdents   []*types.ObjIdent
	ObjTexts    []*types.ObjTextAttr
	Policies    []*types.Policy
	Bindings    []*types.PolicyBinding
}

// Store is the directory & object store of spec §4.4: a relational schema
// over BoltDB buckets, with directory-scoped garbage collection on
// rewrite. It also satisfies pkg/security's MasterStore and TlsKeyStore
// contracts so the encryption subsystem and certificate plane need no
// storage implementation of their own.
type Store interface {
	// Directories
	PutDirectory(d *types.Directory) error
	GetDirectory(key uint64) (*types.Directory, error)
	GetDirectoryByID(dirID id.DirectoryID) (*types.Directory, error)
	ListDirectories() ([]*types.Directory, error)
	DeleteDirectory(key uint64) error

	// ApplyDirectorySnapshot replaces every namespace/service/property/
	// attribute/relation/assignment/obj-ident/obj-text/policy/binding row
	// scoped to snap.DirKey with exactly the rows in snap.
	ApplyDirectorySnapshot(snap DirectorySnapshot) error

	// Namespaces
	ListNamespacesByDirectory(dirKey uint64) ([]*types.Namespace, error)
	GetNamespaceByLabel(dirKey uint64, label string) (*types.Namespace, error)

	// Services
	GetService(eid id.ServiceID) (*types.Service, error)
	ListServicesByDirectory(dirKey uint64) ([]*types.Service, error)

	// Properties / attributes
	GetProperty(propID id.PropertyID) (*types.Property, error)
	ListPropertiesByNamespace(nsKey uint64) ([]*types.Property, error)
	GetAttribute(attrID id.AttributeID) (*types.Attribute, error)
	GetAttributeByKey(key uint64) (*types.Attribute, error)
	ListAttributesByProperty(propKey uint64) ([]*types.Attribute, error)

	// Entity relations & assignments
	ListRelationsBySubject(subject id.Any) ([]*types.EntityRelation, error)
	ListRelationsByObject(object id.Any) ([]*types.EntityRelation, error)
	ListAssignmentsByEntity(eid id.Any) ([]*types.EntityAttrAssignment, error)

	// Object identities (encrypted) and text attributes (plaintext).
	// PutObjIdent is for rows created outside document compilation (e.g. a
	// WebAuthn credential or OAuth link registered at runtime); document
	// -compiled identifiers instead go through ApplyDirectorySnapshot so
	// they participate in its directory-scoped GC-on-rewrite.
	GetObjIdentByFingerprint(propKey uint64, fingerprint []byte) (*types.ObjIdent, error)
	GetObjIdent(objID id.Any, propKey uint64) (*types.ObjIdent, error)
	PutObjIdent(o *types.ObjIdent) error
	GetObjTextAttr(objID id.Any, propKey uint64) (*types.ObjTextAttr, error)
	ListObjTextAttrsByObject(objID id.Any) ([]*types.ObjTextAttr, error)

	// Policies
	GetPolicy(policyID id.PolicyID) (*types.Policy, error)
	ListPoliciesByDirectory(dirKey uint64) ([]*types.Policy, error)
	ListPolicyBindings() ([]*types.PolicyBinding, error)

	// Sessions
	PutSession(s *types.Session) error
	GetSession(token [20]byte) (*types.Session, error)
	DeleteSession(token [20]byte) error
	DeleteExpiredSessions() (int, error)

	// TLS keys (pkg/security.TlsKeyStore)
	GetTlsKey(purpose types.TlsKeyPurpose) (*types.TlsKey, error)
	PutTlsKey(key *types.TlsKey) error

	// Master version & property DEKs (pkg/security.MasterStore)
	GetMasterVersion() (*types.MasterVersion, error)
	PutMasterVersion(mv *types.MasterVersion) error
	GetPropDek(propID id.PropertyID) (*types.PropDek, error)
	PutPropDek(d *types.PropDek) error

	// Mandate bookkeeping (SPEC_FULL.md §13.1)
	PutMandateSubmissionCode(c *types.MandateSubmissionCode) error
	GetMandateSubmissionCode(fingerprint []byte) (*types.MandateSubmissionCode, error)
	DeleteMandateSubmissionCode(fingerprint []byte) error
	PutAuthorityMandate(m *types.AuthorityMandate) error
	GetAuthorityMandate(eid id.ServiceID) (*types.AuthorityMandate, error)
	ListAuthorityMandates() ([]*types.AuthorityMandate, error)

	// Backup/Restore snapshot the entire database for pkg/manager's Raft
	// FSM (spec §4.4's external "embedded Raft/SQL engine" collaborator).
	Backup(w io.Writer) error
	Restore(r io.Reader) error

	Close() error
}
