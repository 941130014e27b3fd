// Package id implements Authly's typed 128-bit identifier space: a single
// unsigned integer space partitioned by a leading tag byte into disjoint
// kinds, with safe upcast/downcast between a generic Any and a tagged Id[K].
package id

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// Kind tags the disjoint partitions of the 128-bit identifier space.
type Kind byte

const (
	KindAny Kind = iota
	KindDirectory
	KindPersona
	KindService
	KindAttribute
	KindProperty
	KindPolicy
	KindDomain
)

func (k Kind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindPersona:
		return "persona"
	case KindService:
		return "service"
	case KindAttribute:
		return "attribute"
	case KindProperty:
		return "property"
	case KindPolicy:
		return "policy"
	case KindDomain:
		return "domain"
	default:
		return "any"
	}
}

// literalPrefix is the single-letter form accepted in documents, e.g. "s.<hex>".
func (k Kind) literalPrefix() string {
	switch k {
	case KindPersona:
		return "e"
	case KindService:
		return "s"
	case KindDirectory:
		return "d"
	case KindAttribute:
		return "a"
	case KindProperty:
		return "p"
	case KindPolicy:
		return "pol"
	case KindDomain:
		return "dom"
	default:
		return "k"
	}
}

// reservedMax is the upper bound (exclusive) of the builtin/reserved ID
// range. Random generation must never land in [0, reservedMax).
const reservedMax = 1 << 16

// ErrKindMismatch is returned by Downcast when an Any value's kind byte does
// not match the requested kind.
type ErrKindMismatch struct {
	Want, Got Kind
}

func (e *ErrKindMismatch) Error() string {
	return fmt.Sprintf("id: kind mismatch: want %s, got %s", e.Want, e.Got)
}

// Id is a 128-bit identifier tagged at the type level with kind K. The
// underlying representation is always 16 raw bytes; K only exists to keep
// the Go compiler from letting an AttributeId be used where a PolicyId is
// expected.
type Id[K ~byte] struct {
	hi uint64
	lo uint64
}

// ServiceID, PersonaID, etc. are concrete aliases used throughout the rest
// of the module.
type (
	DirectoryID = Id[kDirectory]
	PersonaID   = Id[kPersona]
	ServiceID   = Id[kService]
	AttributeID = Id[kAttribute]
	PropertyID  = Id[kProperty]
	PolicyID    = Id[kPolicy]
	DomainID    = Id[kDomain]
)

// The kK phantom types pin each alias to a distinct Go type so that the
// generic Id[K] instantiations are themselves distinct types.
type (
	kDirectory byte
	kPersona   byte
	kService   byte
	kAttribute byte
	kProperty  byte
	kPolicy    byte
	kDomain    byte
)

func kindOf[K ~byte]() Kind {
	var zero K
	switch any(zero).(type) {
	case kDirectory:
		return KindDirectory
	case kPersona:
		return KindPersona
	case kService:
		return KindService
	case kAttribute:
		return KindAttribute
	case kProperty:
		return KindProperty
	case kPolicy:
		return KindPolicy
	case kDomain:
		return KindDomain
	default:
		return KindAny
	}
}

// Random generates a new Id[K], rejecting and retrying any draw that falls
// into the reserved builtin range.
func Random[K ~byte]() Id[K] {
	for {
		var buf [16]byte
		if _, err := rand.Read(buf[:]); err != nil {
			panic(fmt.Sprintf("id: crypto/rand unavailable: %v", err))
		}
		v := Id[K]{
			hi: binary.BigEndian.Uint64(buf[0:8]),
			lo: binary.BigEndian.Uint64(buf[8:16]),
		}
		if v.hi != 0 || v.lo >= reservedMax {
			return v
		}
	}
}

// FromRawArray builds an Id[K] from 16 big-endian bytes (the database and
// wire representation).
func FromRawArray[K ~byte](b [16]byte) Id[K] {
	return Id[K]{
		hi: binary.BigEndian.Uint64(b[0:8]),
		lo: binary.BigEndian.Uint64(b[8:16]),
	}
}

// FromUint64 builds a low, reserved-range Id[K] from a builtin constant.
// It panics if v falls outside the reserved range — this is the
// "compile-time check for constants" from spec.md, enforced at the call
// sites that define the builtin table in pkg/id/builtin.go.
func FromUint64[K ~byte](v uint64) Id[K] {
	if v >= reservedMax {
		panic(fmt.Sprintf("id: builtin constant %d is not in the reserved range", v))
	}
	return Id[K]{hi: 0, lo: v}
}

// ToBlob returns the 16 big-endian bytes of the identifier — the database
// and wire format.
func (x Id[K]) ToBlob() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], x.hi)
	binary.BigEndian.PutUint64(b[8:16], x.lo)
	return b[:]
}

// IsZero reports whether x is the zero-valued ID of its kind (the built-in
// Authly directory/namespace/core-property marker).
func (x Id[K]) IsZero() bool { return x.hi == 0 && x.lo == 0 }

// String renders the canonical `k.{hex}` literal form.
func (x Id[K]) String() string {
	return fmt.Sprintf("%s.%s", kindOf[K]().literalPrefix(), hex.EncodeToString(x.ToBlob()))
}

// MarshalJSON renders the same hex blob as ToBlob, for rows stored as JSON
// documents (pkg/storage).
func (x Id[K]) MarshalJSON() ([]byte, error) {
	return json.Marshal(hex.EncodeToString(x.ToBlob()))
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (x *Id[K]) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	raw, err := hex.DecodeString(s)
	if err != nil {
		return fmt.Errorf("id: bad hex in JSON: %w", err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("id: want 16 bytes, got %d", len(raw))
	}
	x.hi = binary.BigEndian.Uint64(raw[0:8])
	x.lo = binary.BigEndian.Uint64(raw[8:16])
	return nil
}

// Upcast erases the kind tag, producing an Any value carrying the kind byte
// alongside the 128-bit payload.
func (x Id[K]) Upcast() Any {
	return Any{kind: kindOf[K](), hi: x.hi, lo: x.lo}
}

// Any is a kind-tagged 128-bit value that has not yet been downcast to a
// concrete Id[K]. It is the representation used for literal IDs embedded in
// policy bytecode (LoadConstEntityId) and for values crossing a kind
// boundary (e.g. deserializing an unknown column).
type Any struct {
	kind Kind
	hi   uint64
	lo   uint64
}

// Kind reports the tag carried by a.
func (a Any) Kind() Kind { return a.kind }

// ToBlob returns the 16 big-endian bytes of the payload (the kind tag is not
// included — storage schemas carry kind out-of-band via the owning column).
func (a Any) ToBlob() []byte {
	var b [16]byte
	binary.BigEndian.PutUint64(b[0:8], a.hi)
	binary.BigEndian.PutUint64(b[8:16], a.lo)
	return b[:]
}

func (a Any) String() string {
	b := a.ToBlob()
	return fmt.Sprintf("%s.%s", a.kind.literalPrefix(), hex.EncodeToString(b))
}

// ToTaggedBlob returns the kind byte followed by the 16-byte payload — the
// wire format used wherever a kind must travel with the value itself, such
// as policy bytecode operands (pkg/policy).
func (a Any) ToTaggedBlob() []byte {
	return append([]byte{byte(a.kind)}, a.ToBlob()...)
}

// AnyFromTaggedBlob is the inverse of ToTaggedBlob.
func AnyFromTaggedBlob(b []byte) (Any, error) {
	if len(b) != 17 {
		return Any{}, fmt.Errorf("id: want 17 tagged bytes, got %d", len(b))
	}
	var raw [16]byte
	copy(raw[:], b[1:])
	return AnyFromRaw(Kind(b[0]), raw), nil
}

type anyJSON struct {
	Kind Kind   `json:"kind"`
	Blob string `json:"blob"`
}

// MarshalJSON renders Any as its kind tag plus a hex blob of the payload.
func (a Any) MarshalJSON() ([]byte, error) {
	return json.Marshal(anyJSON{Kind: a.kind, Blob: hex.EncodeToString(a.ToBlob())})
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (a *Any) UnmarshalJSON(b []byte) error {
	var aj anyJSON
	if err := json.Unmarshal(b, &aj); err != nil {
		return err
	}
	raw, err := hex.DecodeString(aj.Blob)
	if err != nil {
		return fmt.Errorf("id: bad hex in JSON: %w", err)
	}
	if len(raw) != 16 {
		return fmt.Errorf("id: want 16 bytes, got %d", len(raw))
	}
	a.kind = aj.Kind
	a.hi = binary.BigEndian.Uint64(raw[0:8])
	a.lo = binary.BigEndian.Uint64(raw[8:16])
	return nil
}

// AnyFromRaw builds an Any with an explicit kind and 16 raw bytes.
func AnyFromRaw(k Kind, b [16]byte) Any {
	return Any{kind: k, hi: binary.BigEndian.Uint64(b[0:8]), lo: binary.BigEndian.Uint64(b[8:16])}
}

// Downcast converts a into Id[K] iff a's kind tag matches the kind implied
// by K; otherwise it returns ErrKindMismatch. Upcast is always safe and
// lossless; Downcast is the only fallible direction.
func Downcast[K ~byte](a Any) (Id[K], error) {
	want := kindOf[K]()
	if a.kind != want {
		return Id[K]{}, &ErrKindMismatch{Want: want, Got: a.kind}
	}
	return Id[K]{hi: a.hi, lo: a.lo}, nil
}

// Equal reports whether two Any values are identical, including kind.
func (a Any) Equal(b Any) bool { return a.kind == b.kind && a.hi == b.hi && a.lo == b.lo }

// Eq reports whether two same-kind Id[K] values are identical.
func Eq[K ~byte](a, b Id[K]) bool { return a.hi == b.hi && a.lo == b.lo }

// Downcast is generic over the unexported marker types, so packages
// outside pkg/id cannot name a type argument for it. These per-kind
// wrappers are the downcast entry point the rest of the module actually
// uses.
func DowncastDirectory(a Any) (DirectoryID, error) { return Downcast[kDirectory](a) }
func DowncastPersona(a Any) (PersonaID, error)      { return Downcast[kPersona](a) }
func DowncastService(a Any) (ServiceID, error)      { return Downcast[kService](a) }
func DowncastAttribute(a Any) (AttributeID, error)  { return Downcast[kAttribute](a) }
func DowncastProperty(a Any) (PropertyID, error)    { return Downcast[kProperty](a) }
func DowncastPolicy(a Any) (PolicyID, error)        { return Downcast[kPolicy](a) }
func DowncastDomain(a Any) (DomainID, error)         { return Downcast[kDomain](a) }
