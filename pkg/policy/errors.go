package policy

import "fmt"

// Span is a half-open byte offset range into the policy source text.
type Span struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

// CompileErrorKind distinguishes the ways a policy body fails to compile,
// mirroring spec's PolicyCompileErrorKind taxonomy.
type CompileErrorKind string

const (
	ErrParse           CompileErrorKind = "parse"
	ErrUnknownLabel    CompileErrorKind = "unknown_label"
	ErrUnknownNamespace CompileErrorKind = "unknown_namespace"
	ErrUnknownProperty CompileErrorKind = "unknown_property"
	ErrUnknownAttribute CompileErrorKind = "unknown_attribute"
)

// CompileError is a single policy-compile failure with a span relative to
// the policy body's own source (not yet shifted into document coordinates
// — the caller in pkg/document does that shift, since only it knows where
// the body starts in the enclosing document).
type CompileError struct {
	Span Span
	Kind CompileErrorKind
	Msg  string
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("policy: %s at [%d:%d]: %s", e.Kind, e.Span.Start, e.Span.End, e.Msg)
}

// Bug is returned by Eval/evalPolicy for any internal invariant violation:
// stack underflow, wrong stack-item variant, or an unrecognized opcode
// byte. It is never produced by well-formed bytecode from Compile; seeing
// it means the bytecode was corrupted or hand-crafted incorrectly.
type Bug struct {
	Reason string
}

func (e *Bug) Error() string { return fmt.Sprintf("policy: engine bug: %s", e.Reason) }
