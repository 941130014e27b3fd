package id

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ErrBadLiteral is returned by ParseLiteral on malformed input.
type ErrBadLiteral struct{ Literal string }

func (e *ErrBadLiteral) Error() string { return fmt.Sprintf("id: bad literal %q", e.Literal) }

var literalKinds = map[string]Kind{
	"e":   KindPersona,
	"s":   KindService,
	"d":   KindDirectory,
	"a":   KindAttribute,
	"p":   KindProperty,
	"pol": KindPolicy,
	"dom": KindDomain,
}

// ParseLiteral parses the document literal form `k.{hex}` (e.g.
// "s.00000000000000000000000000012345") into an Any value.
func ParseLiteral(s string) (Any, error) {
	parts := strings.SplitN(s, ".", 2)
	if len(parts) != 2 {
		return Any{}, &ErrBadLiteral{s}
	}
	k, ok := literalKinds[parts[0]]
	if !ok {
		return Any{}, &ErrBadLiteral{s}
	}
	raw, err := hex.DecodeString(parts[1])
	if err != nil || len(raw) != 16 {
		return Any{}, &ErrBadLiteral{s}
	}
	var b [16]byte
	copy(b[:], raw)
	return AnyFromRaw(k, b), nil
}
