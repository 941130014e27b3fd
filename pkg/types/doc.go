/*
Package types defines Authly's persisted entity model: the directories,
namespaces, services, properties, attributes, relations, policies, and
session/credential rows described in the data model.

# Core Types

Directory & namespace:
  - Directory: top-level container for configuration rows, one per source
    (a document, a persona directory, the built-in root)
  - Namespace: a scope within a directory in which property/attribute
    labels are unique

Entities:
  - Service: a machine entity identified by an mTLS certificate
  - Property / Attribute: named dimensions of entity or resource
    description and their values
  - EntityRelation / EntityAttrAssignment: the relation and
    attribute-assignment triples that attach attributes to entities

Object store:
  - ObjIdent: an encrypted identifier row (fingerprint + nonce + ciphertext)
  - ObjTextAttr: a plaintext attribute value row

Policy:
  - Policy: a labelled expression (AST + derived bytecode) over
    subject/resource attributes
  - PolicyBinding: an attribute-matcher set mapped to a set of policies

Session & crypto state:
  - Session: a bearer token row with TTL
  - TlsKey: an encrypted private key + certificate DER, keyed by purpose
  - MasterVersion / PropDek: the master-secret and per-property DEK rows
  - MandateSubmissionCode / AuthorityMandate: the authority/mandate
    handshake rows

# Design

All IDs are typed via pkg/id — never bare strings or uint64s — so that an
AttributeID can never be silently used as a PolicyID. Enumerations
(DirectoryKind, PropertyKind, AuthlyCertKind, ...) are closed Go string or
byte constants, matched exhaustively at every use site per the "sum types
over boolean flags" design note.

# Thread Safety

Types in this package are plain data; pkg/storage owns synchronization for
persisted state, and pkg/security's atomic-swap snapshots (AuthlyInstance,
DecryptedDeks, Settings) own synchronization for in-memory derived state.
*/
package types
