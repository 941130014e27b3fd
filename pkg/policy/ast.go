// Package policy implements the Authly access-control policy language: a
// allow/deny DSL parsed by a participle struct-tag grammar (operator
// precedence comes from the grammar's nesting, not from a Pratt parser),
// compiled to a small stack bytecode, and the
// deterministic engine that evaluates it against a request environment.
package policy

import "github.com/protojour/authly/pkg/id"

// Outcome is the verdict a policy (or the fallback rule) produces.
type Outcome int

const (
	Deny Outcome = iota
	Allow
)

func (o Outcome) String() string {
	if o == Allow {
		return "allow"
	}
	return "deny"
}

// ExprKind tags the variant of a stored Expr node.
type ExprKind string

const (
	ExprAnd      ExprKind = "and"
	ExprOr       ExprKind = "or"
	ExprNot      ExprKind = "not"
	ExprEquals   ExprKind = "equals"
	ExprContains ExprKind = "contains"
)

// Expr is the canonical, storable AST of a compiled policy body. Exactly
// one of the field groups is populated, selected by Kind.
type Expr struct {
	Kind ExprKind `json:"kind"`

	Left  *Expr `json:"left,omitempty"`  // And, Or
	Right *Expr `json:"right,omitempty"` // And, Or

	Operand *Expr `json:"operand,omitempty"` // Not

	LTerm *Term `json:"lterm,omitempty"` // Equals, Contains
	RTerm *Term `json:"rterm,omitempty"` // Equals, Contains
}

// TermKind tags the variant of a resolved Term.
type TermKind string

const (
	// TermConst is a literal ID: a declared entity/service/domain name, or
	// a resolved ns:prop:attr attribute.
	TermConst TermKind = "const"
	// TermSubjectID pushes the subject's own entity ID recorded under Prop.
	TermSubjectID TermKind = "subject_id"
	// TermResourceID pushes the resource's own entity ID recorded under Prop.
	TermResourceID TermKind = "resource_id"
	// TermSubjectAttrs pushes the full set of the subject's attribute IDs.
	TermSubjectAttrs TermKind = "subject_attrs"
	// TermResourceAttrs pushes the full set of the resource's attribute IDs.
	TermResourceAttrs TermKind = "resource_attrs"
)

// Term is a resolved operand of an Equals or Contains expression.
type Term struct {
	Kind TermKind    `json:"kind"`
	ID   id.Any      `json:"id,omitempty"`   // TermConst
	Prop id.Any      `json:"prop,omitempty"` // TermSubjectID, TermResourceID (upcast PropertyID)
}
