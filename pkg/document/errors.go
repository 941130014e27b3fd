package document

import (
	"fmt"

	"github.com/protojour/authly/pkg/policy"
)

// Span is a line/column position into the YAML source, the document
// compiler's analogue of pkg/policy's byte-offset Span (spec §4.5: "every
// error is a Spanned<DocError>").
type Span struct {
	Line   int
	Column int
}

// DocErrorKind enumerates the document compiler's closed error taxonomy
// (spec §7).
type DocErrorKind string

const (
	ErrLocalSettingNotFound     DocErrorKind = "local_setting_not_found"
	ErrInvalidSettingValue      DocErrorKind = "invalid_setting_value"
	ErrNameDefinedMultipleTimes DocErrorKind = "name_defined_multiple_times"
	ErrUnresolvedDomain         DocErrorKind = "unresolved_domain"
	ErrUnresolvedNamespace      DocErrorKind = "unresolved_namespace"
	ErrUnresolvedEntity         DocErrorKind = "unresolved_entity"
	ErrUnresolvedService        DocErrorKind = "unresolved_service"
	ErrUnresolvedProperty       DocErrorKind = "unresolved_property"
	ErrUnresolvedAttribute      DocErrorKind = "unresolved_attribute"
	ErrUnresolvedPolicy         DocErrorKind = "unresolved_policy"
	ErrPolicyBodyMissing        DocErrorKind = "policy_body_missing"
	ErrAmbiguousPolicyOutcome   DocErrorKind = "ambiguous_policy_outcome"
	ErrPolicyCompile            DocErrorKind = "policy"
	ErrConstraintViolation      DocErrorKind = "constraint_violation"
)

// DocError is one compilation failure, tied to the span in source that
// caused it.
type DocError struct {
	Span      Span
	Kind      DocErrorKind
	Msg       string
	PolicyErr *policy.CompileError // set only when Kind == ErrPolicyCompile
}

func (e *DocError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("document: %s at %d:%d: %s", e.Kind, e.Span.Line, e.Span.Column, e.Msg)
	}
	return fmt.Sprintf("document: %s at %d:%d", e.Kind, e.Span.Line, e.Span.Column)
}

// TxnError wraps every per-statement failure from applying a compiled
// document's snapshot to storage (spec §4.5: "DocumentDbTxnError::
// Transaction"). The document was already successfully compiled; this is
// strictly a storage-layer failure.
type TxnError struct {
	Err error
}

func (e *TxnError) Error() string { return fmt.Sprintf("document: transaction: %v", e.Err) }
func (e *TxnError) Unwrap() error { return e.Err }
