package storage

import (
	"encoding/binary"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

var (
	bucketDirectories  = []byte("directories")
	bucketNamespaces   = []byte("namespaces")
	bucketServices     = []byte("services")
	bucketProperties   = []byte("properties")
	bucketAttributes   = []byte("attributes")
	bucketRelations    = []byte("entity_relations")
	bucketAssignments  = []byte("entity_attr_assignments")
	bucketObjIdents    = []byte("obj_idents")
	bucketObjTexts     = []byte("obj_text_attrs")
	bucketPolicies     = []byte("policies")
	bucketBindings     = []byte("policy_bindings")
	bucketSessions     = []byte("sessions")
	bucketTlsKeys      = []byte("tls_keys")
	bucketMasterVer    = []byte("master_version")
	bucketPropDeks     = []byte("prop_deks")
	bucketMandateCodes = []byte("mandate_submission_codes")
	bucketMandates     = []byte("authority_mandates")
	bucketDirIndex     = []byte("directory_gc_index")

	allBuckets = [][]byte{
		bucketDirectories, bucketNamespaces, bucketServices, bucketProperties,
		bucketAttributes, bucketRelations, bucketAssignments, bucketObjIdents,
		bucketObjTexts, bucketPolicies, bucketBindings, bucketSessions,
		bucketTlsKeys, bucketMasterVer, bucketPropDeks, bucketMandateCodes,
		bucketMandates, bucketDirIndex,
	}
)

// BoltStore implements Store using BoltDB, one bucket per table (spec §4.4:
// a relational schema realized over an embedded KV store).
type BoltStore struct {
	db *bolt.DB
}

// NewBoltStore opens (creating if absent) the directory & object store at
// <dataDir>/authly.db.
func NewBoltStore(dataDir string) (*BoltStore, error) {
	dbPath := filepath.Join(dataDir, "authly.db")
	db, err := bolt.Open(dbPath, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		for _, b := range allBuckets {
			if _, err := tx.CreateBucketIfNotExists(b); err != nil {
				return fmt.Errorf("create bucket %s: %w", b, err)
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Close() error { return s.db.Close() }

// Backup streams a consistent point-in-time copy of the entire database to
// w, for use as a Raft FSM snapshot (pkg/manager): bbolt's own MVCC
// read-transaction snapshot guarantees a fully consistent copy without
// locking out concurrent writers.
func (s *BoltStore) Backup(w io.Writer) error {
	return s.db.View(func(tx *bolt.Tx) error {
		_, err := tx.WriteTo(w)
		return err
	})
}

// Restore replaces the database's contents with a file previously produced
// by Backup, by closing the handle, overwriting the on-disk file, and
// reopening at the same path.
func (s *BoltStore) Restore(r io.Reader) error {
	path := s.db.Path()
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("close database before restore: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("recreate database file: %w", err)
	}
	if _, err := io.Copy(f, r); err != nil {
		f.Close()
		return fmt.Errorf("write restored database: %w", err)
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("close restored database file: %w", err)
	}
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return fmt.Errorf("reopen restored database: %w", err)
	}
	s.db = db
	return nil
}

func u64key(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}

func putJSON(b *bolt.Bucket, key []byte, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return b.Put(key, data)
}

func getJSON(b *bolt.Bucket, key []byte, v any) (bool, error) {
	data := b.Get(key)
	if data == nil {
		return false, nil
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false, err
	}
	return true, nil
}

// --- Directories ---

func (s *BoltStore) PutDirectory(d *types.Directory) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		if d.Key == 0 {
			seq, err := tx.Bucket(bucketDirectories).NextSequence()
			if err != nil {
				return err
			}
			d.Key = seq
		}
		return putJSON(tx.Bucket(bucketDirectories), u64key(d.Key), d)
	})
}

func (s *BoltStore) GetDirectory(key uint64) (*types.Directory, error) {
	var d types.Directory
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketDirectories), u64key(key), &d)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("directory not found: %d", key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) GetDirectoryByID(dirID id.DirectoryID) (*types.Directory, error) {
	var found *types.Directory
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDirectories).ForEach(func(k, v []byte) error {
			var d types.Directory
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			if id.Eq(d.ID, dirID) {
				found = &d
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("directory not found: %s", dirID)
	}
	return found, nil
}

func (s *BoltStore) ListDirectories() ([]*types.Directory, error) {
	var out []*types.Directory
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDirectories).ForEach(func(k, v []byte) error {
			var d types.Directory
			if err := json.Unmarshal(v, &d); err != nil {
				return err
			}
			out = append(out, &d)
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) DeleteDirectory(key uint64) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketDirectories).Delete(u64key(key))
	})
}

// --- GC-on-rewrite (spec §4.4) ---

// dirIndex records the set of keys this directory owned in the bucket
// after the last ApplyDirectorySnapshot call, so the next call can compute
// exactly what to delete.
type dirIndex struct {
	NamespaceKeys  []uint64 `json:"namespace_keys"`
	ServiceKeys    [][]byte `json:"service_keys"`
	PropertyKeys   []uint64 `json:"property_keys"`
	AttributeKeys  []uint64 `json:"attribute_keys"`
	RelationKeys   [][]byte `json:"relation_keys"`
	AssignmentKeys [][]byte `json:"assignment_keys"`
	ObjIdentKeys   [][]byte `json:"obj_ident_keys"`
	ObjTextKeys    [][]byte `json:"obj_text_keys"`
	PolicyKeys     [][]byte `json:"policy_keys"`
	BindingKeys    []uint64 `json:"binding_keys"`
}

func relationKey(r *types.EntityRelation) []byte {
	return append(append(r.Subject.ToBlob(), r.Relation.ToBlob()...), r.Object.ToBlob()...)
}

func assignmentKey(a *types.EntityAttrAssignment) []byte {
	return append(a.Eid.ToBlob(), u64key(a.AttrKey)...)
}

func objIdentKey(objID id.Any, propKey uint64) []byte {
	return append(objID.ToBlob(), u64key(propKey)...)
}

func objTextKey(objID id.Any, propKey uint64) []byte {
	return append(objID.ToBlob(), u64key(propKey)...)
}

func bytesSliceContains(haystack [][]byte, needle []byte) bool {
	for _, h := range haystack {
		if string(h) == string(needle) {
			return true
		}
	}
	return false
}

func u64SliceContains(haystack []uint64, needle uint64) bool {
	for _, h := range haystack {
		if h == needle {
			return true
		}
	}
	return false
}

// ApplyDirectorySnapshot implements the document compiler's commit step
// (spec §4.4, §4.5): within one transaction, delete every row this
// directory owned in the prior snapshot that isn't in the new one, then
// upsert the new set. Applying the same snapshot twice in a row produces
// zero deletes — the index comparison is exact.
func (s *BoltStore) ApplyDirectorySnapshot(snap DirectorySnapshot) error {
	next := dirIndex{}
	for _, n := range snap.Namespaces {
		next.NamespaceKeys = append(next.NamespaceKeys, n.Key)
	}
	for _, svc := range snap.Services {
		next.ServiceKeys = append(next.ServiceKeys, svc.Eid.ToBlob())
	}
	for _, p := range snap.Properties {
		next.PropertyKeys = append(next.PropertyKeys, p.Key)
	}
	for _, a := range snap.Attributes {
		next.AttributeKeys = append(next.AttributeKeys, a.Key)
	}
	for _, r := range snap.Relations {
		next.RelationKeys = append(next.RelationKeys, relationKey(r))
	}
	for _, a := range snap.Assignments {
		next.AssignmentKeys = append(next.AssignmentKeys, assignmentKey(a))
	}
	for _, o := range snap.ObjIdents {
		next.ObjIdentKeys = append(next.ObjIdentKeys, objIdentKey(o.ObjID, o.PropKey))
	}
	for _, o := range snap.ObjTexts {
		next.ObjTextKeys = append(next.ObjTextKeys, objTextKey(o.ObjID, o.PropKey))
	}
	for _, p := range snap.Policies {
		next.PolicyKeys = append(next.PolicyKeys, p.ID.ToBlob())
	}
	for _, b := range snap.Bindings {
		next.BindingKeys = append(next.BindingKeys, b.Key)
	}

	return s.db.Update(func(tx *bolt.Tx) error {
		var prev dirIndex
		if _, err := getJSON(tx.Bucket(bucketDirIndex), u64key(snap.DirKey), &prev); err != nil {
			return err
		}

		nsB := tx.Bucket(bucketNamespaces)
		for _, k := range prev.NamespaceKeys {
			if !u64SliceContains(next.NamespaceKeys, k) {
				if err := nsB.Delete(u64key(k)); err != nil {
					return err
				}
			}
		}
		svcB := tx.Bucket(bucketServices)
		for _, k := range prev.ServiceKeys {
			if !bytesSliceContains(next.ServiceKeys, k) {
				if err := svcB.Delete(k); err != nil {
					return err
				}
			}
		}
		propB := tx.Bucket(bucketProperties)
		for _, k := range prev.PropertyKeys {
			if !u64SliceContains(next.PropertyKeys, k) {
				if err := propB.Delete(u64key(k)); err != nil {
					return err
				}
			}
		}
		attrB := tx.Bucket(bucketAttributes)
		for _, k := range prev.AttributeKeys {
			if !u64SliceContains(next.AttributeKeys, k) {
				if err := attrB.Delete(u64key(k)); err != nil {
					return err
				}
			}
		}
		relB := tx.Bucket(bucketRelations)
		for _, k := range prev.RelationKeys {
			if !bytesSliceContains(next.RelationKeys, k) {
				if err := relB.Delete(k); err != nil {
					return err
				}
			}
		}
		assignB := tx.Bucket(bucketAssignments)
		for _, k := range prev.AssignmentKeys {
			if !bytesSliceContains(next.AssignmentKeys, k) {
				if err := assignB.Delete(k); err != nil {
					return err
				}
			}
		}
		objIdentB := tx.Bucket(bucketObjIdents)
		for _, k := range prev.ObjIdentKeys {
			if !bytesSliceContains(next.ObjIdentKeys, k) {
				if err := objIdentB.Delete(k); err != nil {
					return err
				}
			}
		}
		objTextB := tx.Bucket(bucketObjTexts)
		for _, k := range prev.ObjTextKeys {
			if !bytesSliceContains(next.ObjTextKeys, k) {
				if err := objTextB.Delete(k); err != nil {
					return err
				}
			}
		}
		policyB := tx.Bucket(bucketPolicies)
		for _, k := range prev.PolicyKeys {
			if !bytesSliceContains(next.PolicyKeys, k) {
				if err := policyB.Delete(k); err != nil {
					return err
				}
			}
		}
		bindB := tx.Bucket(bucketBindings)
		for _, k := range prev.BindingKeys {
			if !u64SliceContains(next.BindingKeys, k) {
				if err := bindB.Delete(u64key(k)); err != nil {
					return err
				}
			}
		}

		for _, n := range snap.Namespaces {
			if n.Key == 0 {
				seq, err := nsB.NextSequence()
				if err != nil {
					return err
				}
				n.Key = seq
			}
			if err := putJSON(nsB, u64key(n.Key), n); err != nil {
				return err
			}
		}
		for _, svc := range snap.Services {
			if err := putJSON(svcB, svc.Eid.ToBlob(), svc); err != nil {
				return err
			}
		}
		for _, p := range snap.Properties {
			if p.Key == 0 {
				seq, err := propB.NextSequence()
				if err != nil {
					return err
				}
				p.Key = seq
			}
			if err := putJSON(propB, u64key(p.Key), p); err != nil {
				return err
			}
		}
		for _, a := range snap.Attributes {
			if a.Key == 0 {
				seq, err := attrB.NextSequence()
				if err != nil {
					return err
				}
				a.Key = seq
			}
			if err := putJSON(attrB, u64key(a.Key), a); err != nil {
				return err
			}
		}
		for _, r := range snap.Relations {
			if err := putJSON(relB, relationKey(r), r); err != nil {
				return err
			}
		}
		for _, a := range snap.Assignments {
			if err := putJSON(assignB, assignmentKey(a), a); err != nil {
				return err
			}
		}
		for _, o := range snap.ObjIdents {
			if err := putJSON(objIdentB, objIdentKey(o.ObjID, o.PropKey), o); err != nil {
				return err
			}
		}
		for _, o := range snap.ObjTexts {
			if err := putJSON(objTextB, objTextKey(o.ObjID, o.PropKey), o); err != nil {
				return err
			}
		}
		for _, p := range snap.Policies {
			if err := putJSON(policyB, p.ID.ToBlob(), p); err != nil {
				return err
			}
		}
		for _, b := range snap.Bindings {
			if b.Key == 0 {
				seq, err := bindB.NextSequence()
				if err != nil {
					return err
				}
				b.Key = seq
			}
			if err := putJSON(bindB, u64key(b.Key), b); err != nil {
				return err
			}
		}

		return putJSON(tx.Bucket(bucketDirIndex), u64key(snap.DirKey), next)
	})
}

// --- Namespaces ---

func (s *BoltStore) ListNamespacesByDirectory(dirKey uint64) ([]*types.Namespace, error) {
	var out []*types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNamespaces).ForEach(func(k, v []byte) error {
			var n types.Namespace
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.DirKey == dirKey {
				out = append(out, &n)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetNamespaceByLabel(dirKey uint64, label string) (*types.Namespace, error) {
	var found *types.Namespace
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketNamespaces).ForEach(func(k, v []byte) error {
			var n types.Namespace
			if err := json.Unmarshal(v, &n); err != nil {
				return err
			}
			if n.DirKey == dirKey && n.Label == label {
				found = &n
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("namespace not found: %s", label)
	}
	return found, nil
}

// --- Services ---

func (s *BoltStore) GetService(eid id.ServiceID) (*types.Service, error) {
	var svc types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketServices), eid.ToBlob(), &svc)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("service not found: %s", eid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &svc, nil
}

func (s *BoltStore) ListServicesByDirectory(dirKey uint64) ([]*types.Service, error) {
	var out []*types.Service
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketServices).ForEach(func(k, v []byte) error {
			var svc types.Service
			if err := json.Unmarshal(v, &svc); err != nil {
				return err
			}
			if svc.DirKey == dirKey {
				out = append(out, &svc)
			}
			return nil
		})
	})
	return out, err
}

// --- Properties / attributes ---

func (s *BoltStore) GetProperty(propID id.PropertyID) (*types.Property, error) {
	var found *types.Property
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProperties).ForEach(func(k, v []byte) error {
			var p types.Property
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if id.Eq(p.ID, propID) {
				found = &p
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("property not found: %s", propID)
	}
	return found, nil
}

func (s *BoltStore) ListPropertiesByNamespace(nsKey uint64) ([]*types.Property, error) {
	var out []*types.Property
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketProperties).ForEach(func(k, v []byte) error {
			var p types.Property
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.NsKey == nsKey {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) GetAttribute(attrID id.AttributeID) (*types.Attribute, error) {
	var found *types.Attribute
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttributes).ForEach(func(k, v []byte) error {
			var a types.Attribute
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if id.Eq(a.ID, attrID) {
				found = &a
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("attribute not found: %s", attrID)
	}
	return found, nil
}

// GetAttributeByKey looks up an attribute by its synthetic row key rather
// than its stable ID, for callers (pkg/document's runtime policy env
// resolution) that only hold the key side of an EntityAttrAssignment.
func (s *BoltStore) GetAttributeByKey(key uint64) (*types.Attribute, error) {
	var a types.Attribute
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketAttributes).Get(u64key(key))
		if v == nil {
			return fmt.Errorf("attribute not found for key %d", key)
		}
		return json.Unmarshal(v, &a)
	})
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func (s *BoltStore) ListAttributesByProperty(propKey uint64) ([]*types.Attribute, error) {
	var out []*types.Attribute
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAttributes).ForEach(func(k, v []byte) error {
			var a types.Attribute
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.PropKey == propKey {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

// --- Relations & assignments ---

func (s *BoltStore) ListRelationsBySubject(subject id.Any) ([]*types.EntityRelation, error) {
	var out []*types.EntityRelation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(k, v []byte) error {
			var r types.EntityRelation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Subject.Equal(subject) {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListRelationsByObject(object id.Any) ([]*types.EntityRelation, error) {
	var out []*types.EntityRelation
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketRelations).ForEach(func(k, v []byte) error {
			var r types.EntityRelation
			if err := json.Unmarshal(v, &r); err != nil {
				return err
			}
			if r.Object.Equal(object) {
				out = append(out, &r)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListAssignmentsByEntity(eid id.Any) ([]*types.EntityAttrAssignment, error) {
	var out []*types.EntityAttrAssignment
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketAssignments).ForEach(func(k, v []byte) error {
			var a types.EntityAttrAssignment
			if err := json.Unmarshal(v, &a); err != nil {
				return err
			}
			if a.Eid.Equal(eid) {
				out = append(out, &a)
			}
			return nil
		})
	})
	return out, err
}

// --- Object identities & text attributes ---

func (s *BoltStore) GetObjIdentByFingerprint(propKey uint64, fingerprint []byte) (*types.ObjIdent, error) {
	var found *types.ObjIdent
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjIdents).ForEach(func(k, v []byte) error {
			var o types.ObjIdent
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.PropKey == propKey && string(o.Fingerprint) == string(fingerprint) {
				found = &o
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	if found == nil {
		return nil, fmt.Errorf("object identity not found for fingerprint")
	}
	return found, nil
}

func (s *BoltStore) GetObjIdent(objID id.Any, propKey uint64) (*types.ObjIdent, error) {
	var o types.ObjIdent
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketObjIdents), objIdentKey(objID, propKey), &o)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("object identity not found: %s", objID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

// PutObjIdent writes or replaces a single encrypted identity row outside
// document compilation.
func (s *BoltStore) PutObjIdent(o *types.ObjIdent) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketObjIdents), objIdentKey(o.ObjID, o.PropKey), o)
	})
}

func (s *BoltStore) GetObjTextAttr(objID id.Any, propKey uint64) (*types.ObjTextAttr, error) {
	var o types.ObjTextAttr
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketObjTexts), objTextKey(objID, propKey), &o)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("object text attribute not found: %s", objID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *BoltStore) ListObjTextAttrsByObject(objID id.Any) ([]*types.ObjTextAttr, error) {
	var out []*types.ObjTextAttr
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketObjTexts).ForEach(func(k, v []byte) error {
			var o types.ObjTextAttr
			if err := json.Unmarshal(v, &o); err != nil {
				return err
			}
			if o.ObjID.Equal(objID) {
				out = append(out, &o)
			}
			return nil
		})
	})
	return out, err
}

// --- Policies ---

func (s *BoltStore) GetPolicy(policyID id.PolicyID) (*types.Policy, error) {
	var p types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketPolicies), policyID.ToBlob(), &p)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("policy not found: %s", policyID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *BoltStore) ListPoliciesByDirectory(dirKey uint64) ([]*types.Policy, error) {
	var out []*types.Policy
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketPolicies).ForEach(func(k, v []byte) error {
			var p types.Policy
			if err := json.Unmarshal(v, &p); err != nil {
				return err
			}
			if p.DirKey == dirKey {
				out = append(out, &p)
			}
			return nil
		})
	})
	return out, err
}

func (s *BoltStore) ListPolicyBindings() ([]*types.PolicyBinding, error) {
	var out []*types.PolicyBinding
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketBindings).ForEach(func(k, v []byte) error {
			var b types.PolicyBinding
			if err := json.Unmarshal(v, &b); err != nil {
				return err
			}
			out = append(out, &b)
			return nil
		})
	})
	return out, err
}

// --- Sessions ---

func (s *BoltStore) PutSession(sess *types.Session) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketSessions), sess.Token[:], sess)
	})
}

func (s *BoltStore) GetSession(token [20]byte) (*types.Session, error) {
	var sess types.Session
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketSessions), token[:], &sess)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("session not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *BoltStore) DeleteSession(token [20]byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketSessions).Delete(token[:])
	})
}

func (s *BoltStore) DeleteExpiredSessions() (int, error) {
	now := time.Now()
	n := 0
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketSessions)
		var expired [][]byte
		err := b.ForEach(func(k, v []byte) error {
			var sess types.Session
			if err := json.Unmarshal(v, &sess); err != nil {
				return err
			}
			if now.After(sess.ExpiresAt) {
				expired = append(expired, append([]byte{}, k...))
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range expired {
			if err := b.Delete(k); err != nil {
				return err
			}
			n++
		}
		return nil
	})
	return n, err
}

// --- TLS keys ---

func (s *BoltStore) GetTlsKey(purpose types.TlsKeyPurpose) (*types.TlsKey, error) {
	var key types.TlsKey
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketTlsKeys), []byte(purpose), &key)
		if err != nil {
			return err
		}
		if !ok {
			key = types.TlsKey{}
			return errNotFoundSentinel
		}
		return nil
	})
	if err == errNotFoundSentinel {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &key, nil
}

func (s *BoltStore) PutTlsKey(key *types.TlsKey) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketTlsKeys), []byte(key.Purpose), key)
	})
}

// --- Master version & property DEKs ---

var errNotFoundSentinel = fmt.Errorf("not found")

func (s *BoltStore) GetMasterVersion() (*types.MasterVersion, error) {
	var mv types.MasterVersion
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketMasterVer), []byte("v"), &mv)
		if err != nil {
			return err
		}
		if !ok {
			return errNotFoundSentinel
		}
		return nil
	})
	if err == errNotFoundSentinel {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &mv, nil
}

func (s *BoltStore) PutMasterVersion(mv *types.MasterVersion) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMasterVer), []byte("v"), mv)
	})
}

func (s *BoltStore) GetPropDek(propID id.PropertyID) (*types.PropDek, error) {
	var d types.PropDek
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketPropDeks), propID.ToBlob(), &d)
		if err != nil {
			return err
		}
		if !ok {
			return errNotFoundSentinel
		}
		return nil
	})
	if err == errNotFoundSentinel {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *BoltStore) PutPropDek(d *types.PropDek) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketPropDeks), d.PropID.ToBlob(), d)
	})
}

// --- Mandate bookkeeping ---

func (s *BoltStore) PutMandateSubmissionCode(c *types.MandateSubmissionCode) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMandateCodes), c.CodeFingerprint, c)
	})
}

func (s *BoltStore) GetMandateSubmissionCode(fingerprint []byte) (*types.MandateSubmissionCode, error) {
	var c types.MandateSubmissionCode
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketMandateCodes), fingerprint, &c)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("mandate submission code not found")
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *BoltStore) DeleteMandateSubmissionCode(fingerprint []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMandateCodes).Delete(fingerprint)
	})
}

func (s *BoltStore) PutAuthorityMandate(m *types.AuthorityMandate) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return putJSON(tx.Bucket(bucketMandates), m.MandateEid.ToBlob(), m)
	})
}

func (s *BoltStore) GetAuthorityMandate(eid id.ServiceID) (*types.AuthorityMandate, error) {
	var m types.AuthorityMandate
	err := s.db.View(func(tx *bolt.Tx) error {
		ok, err := getJSON(tx.Bucket(bucketMandates), eid.ToBlob(), &m)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("authority mandate not found: %s", eid)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (s *BoltStore) ListAuthorityMandates() ([]*types.AuthorityMandate, error) {
	var out []*types.AuthorityMandate
	err := s.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketMandates).ForEach(func(k, v []byte) error {
			var m types.AuthorityMandate
			if err := json.Unmarshal(v, &m); err != nil {
				return err
			}
			out = append(out, &m)
			return nil
		})
	})
	return out, err
}
