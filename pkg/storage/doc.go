/*
Package storage provides BoltDB-backed persistence for Authly's directory and
object schema.

The storage package implements the Store interface using BoltDB as the
underlying database, providing ACID transactions for directories,
namespaces, services, properties, attributes, entity relations and
assignments, object identities and text attributes, policies and bindings,
sessions, TLS keys, and the encryption subsystem's master version and
per-property DEK rows. All data is serialized as JSON and stored in
separate buckets for isolation.

# Architecture

	┌──────────────────── BOLTDB STORAGE ──────────────────────┐
	│                                                            │
	│  ┌────────────────────────────────────────────┐          │
	│  │            BoltStore                        │          │
	│  │  - File: <dataDir>/authly.db                │          │
	│  │  - Format: B+tree with MVCC                 │          │
	│  │  - Transactions: ACID with fsync             │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │              Bucket Structure                │          │
	│  │  ┌────────────────────────────────┐         │          │
	│  │  │ directories       (Dir Key)     │         │          │
	│  │  │ namespaces        (Ns Key)      │         │          │
	│  │  │ services          (Service EID) │         │          │
	│  │  │ properties        (Prop Key)    │         │          │
	│  │  │ attributes        (Attr Key)    │         │          │
	│  │  │ entity_relations  (S/R/O triple)│         │          │
	│  │  │ entity_attr_assignments         │         │          │
	│  │  │ obj_idents        (obj, prop)   │         │          │
	│  │  │ obj_text_attrs    (obj, prop)   │         │          │
	│  │  │ policies          (Policy ID)   │         │          │
	│  │  │ policy_bindings   (Binding Key) │         │          │
	│  │  │ sessions          (token)       │         │          │
	│  │  │ tls_keys          (purpose)     │         │          │
	│  │  │ master_version    (fixed key)   │         │          │
	│  │  │ prop_deks         (Prop ID)     │         │          │
	│  │  │ mandate_submission_codes        │         │          │
	│  │  │ authority_mandates (Mandate EID)│         │          │
	│  │  │ directory_gc_index (Dir Key)    │         │          │
	│  │  └────────────────────────────────┘         │          │
	│  └──────────────────┬─────────────────────────┘          │
	│                     │                                      │
	│  ┌──────────────────▼─────────────────────────┐          │
	│  │        Transaction Management                │          │
	│  │  - Read: db.View() - Concurrent reads        │          │
	│  │  - Write: db.Update() - Serialized writes    │          │
	│  │  - Rollback: Automatic on error              │          │
	│  │  - Commit: Automatic on success + fsync      │          │
	│  └────────────────────────────────────────────┘           │
	└────────────────────────────────────────────────────────┘

# Core Components

BoltStore:
  - Implements the Store interface using BoltDB
  - Single database file per instance
  - Automatic bucket creation on initialization
  - Thread-safe via BoltDB's transaction model

Directory-scoped tables (namespaces, services, properties, attributes,
entity relations, entity attribute assignments, object identities, object
text attributes, policies, policy bindings) are each referenced via a
DirKey foreign key rather than a bucket-per-directory split; the
directory_gc_index bucket is what lets ApplyDirectorySnapshot find exactly
which rows a given directory owned last time.

# GC-on-rewrite

A document or the built-in Authly directory produces a complete desired
row set for itself on every compile (DirectorySnapshot). ApplyDirectorySnapshot
commits that set transactionally:

  1. Load the previous row-key index for snap.DirKey from directory_gc_index.
  2. Compute the new row-key index from snap.
  3. Delete every row present in the old index but absent from the new one,
     across all ten directory-scoped buckets.
  4. Upsert every row in snap.
  5. Persist the new index.

Re-applying an identical snapshot produces zero deletes: the two indexes
compare equal. This is the only mutation path for directory-scoped data;
there is no direct Create/Update/Delete per namespace or property, because
a document's declarations are always replaced as a whole (spec: "documents
are recompiled and reapplied atomically, never patched").

# Non-directory-scoped tables

Sessions, TLS keys, the master version row, property DEKs, and mandate
bookkeeping are not subject to GC-on-rewrite; they have their own
Put/Get/Delete methods and are mutated directly by the auth, certificate,
and encryption subsystems.

# Usage

Creating a Store:

	store, err := storage.NewBoltStore("/var/lib/authly")
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

Applying a compiled directory:

	err := store.ApplyDirectorySnapshot(storage.DirectorySnapshot{
		DirKey:     dir.Key,
		Namespaces: namespaces,
		Services:   services,
		Properties: properties,
		Attributes: attributes,
	})

Reading for policy evaluation:

	rels, err := store.ListRelationsBySubject(entityID)
	assigns, err := store.ListAssignmentsByEntity(entityID)

# Integration Points

This package integrates with:

  - pkg/document: the compiler commits resolved directories via ApplyDirectorySnapshot
  - pkg/policy: policy evaluation reads relations, assignments, and object attributes
  - pkg/auth: sessions and property DEKs
  - pkg/security: TLS keys, master version, property DEKs (TlsKeyStore / MasterStore)
  - pkg/manager: the Raft FSM applies committed commands through this Store

# Design Patterns

Upsert pattern: Put methods overwrite by key, no separate exists check.

Idempotent deletes: deleting an absent key is not an error.

Cursor iteration: ForEach over a bucket for scans without secondary
indexes; acceptable at Authly's per-directory row counts, same tradeoff
the teacher's storage layer makes for its own full-bucket scans.

Error wrapping: not found conditions return a plain fmt.Errorf, not a
sentinel — callers that need "does it exist" semantics use the Get*
methods that return (nil, nil) for the not-found case (TLS keys, master
version, property DEKs); callers needing a required row treat any error
as fatal.

# Security

Encryption at rest: the database file itself is not encrypted. Object
identities and TLS private keys are encrypted at the row level before
they ever reach a bucket (pkg/security's DEK/AEAD subsystem); the
database file only ever contains ciphertext for those fields, not
plaintext-then-disk-encryption.

File permissions: the database file is opened with mode 0600. This package
does not create the data directory; pkg/manager creates it with mode 0755.

# See Also

  - pkg/document for the compiler that produces DirectorySnapshot values
  - pkg/security for the encryption subsystem and certificate plane
  - pkg/policy for the consumers of relation/assignment/attribute reads
  - BoltDB documentation: https://github.com/etcd-io/bbolt
*/
package storage
