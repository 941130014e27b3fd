package policy

import "github.com/protojour/authly/pkg/id"

// Resolver looks up the labels a policy body references against a
// document's namespace table (spec §4.5 phase 2, step 1). Implemented by
// pkg/document, which is the only thing holding the namespace/property/
// attribute tables at compile time.
type Resolver interface {
	// ResolveLabel resolves a bare label (no namespace qualifier) to a
	// declared entity, service, or domain's ID.
	ResolveLabel(label string) (id.Any, bool)
	// ResolveProperty resolves "ns:prop" to a property ID.
	ResolveProperty(ns, prop string) (propID id.PropertyID, isEntityProp bool, ok bool)
	// ResolveAttribute resolves "ns:prop:attr" to an attribute ID.
	ResolveAttribute(ns, prop, attr string) (id.AttributeID, bool)
}

// Compile parses and resolves a policy body, returning its canonical AST,
// the derived bytecode, and the set of attribute IDs that trigger it. All
// errors are collected and returned together (spec: "compilation is
// all-or-nothing"); spans are relative to source, the body's own text.
func Compile(source string, outcome Outcome, resolver Resolver) (*Expr, []byte, []id.AttributeID, []*CompileError) {
	raw, err := parseRaw(source)
	if err != nil {
		return nil, nil, nil, []*CompileError{{Kind: ErrParse, Msg: err.Error()}}
	}

	c := &compiler{resolver: resolver, triggers: map[id.AttributeID]struct{}{}}
	expr := c.orExpr(raw.Expr)
	if len(c.errs) > 0 {
		return nil, nil, nil, c.errs
	}

	code := encode(expr, outcome)
	triggers := make([]id.AttributeID, 0, len(c.triggers))
	for a := range c.triggers {
		triggers = append(triggers, a)
	}
	return expr, code, triggers, nil
}

type compiler struct {
	resolver Resolver
	errs     []*CompileError
	triggers map[id.AttributeID]struct{}
}

func (c *compiler) fail(pos int, kind CompileErrorKind, msg string) {
	c.errs = append(c.errs, &CompileError{Span: Span{Start: pos, End: pos}, Kind: kind, Msg: msg})
}

func (c *compiler) orExpr(r *rawOrExpr) *Expr {
	left := c.andExpr(r.Left)
	for _, rhs := range r.Rest {
		left = &Expr{Kind: ExprOr, Left: left, Right: c.andExpr(rhs)}
	}
	return left
}

func (c *compiler) andExpr(r *rawAndExpr) *Expr {
	left := c.unary(r.Left)
	for _, rhs := range r.Rest {
		left = &Expr{Kind: ExprAnd, Left: left, Right: c.unary(rhs)}
	}
	return left
}

func (c *compiler) unary(r *rawUnary) *Expr {
	var inner *Expr
	if r.Cmp != nil {
		inner = c.compare(r.Cmp)
	} else if r.Sub != nil {
		inner = c.orExpr(r.Sub)
	}
	if r.Not {
		return &Expr{Kind: ExprNot, Operand: inner}
	}
	return inner
}

func (c *compiler) compare(r *rawCompare) *Expr {
	lterm := c.term(r.Left)
	if r.Op == nil {
		// A bare term is not a legal top-level expression; treat as an
		// equality against itself is wrong, flag it explicitly.
		c.fail(r.Pos.Offset, ErrParse, "expected == or contains after term")
		return &Expr{Kind: ExprEquals, LTerm: lterm, RTerm: lterm}
	}
	rterm := c.term(r.Right)
	if *r.Op == "contains" {
		if rterm != nil && rterm.Kind == TermConst {
			if attrID, err := id.DowncastAttribute(rterm.ID); err == nil {
				c.triggers[attrID] = struct{}{}
			}
		}
		return &Expr{Kind: ExprContains, LTerm: lterm, RTerm: rterm}
	}
	return &Expr{Kind: ExprEquals, LTerm: lterm, RTerm: rterm}
}

func (c *compiler) term(r *rawTerm) *Term {
	switch len(r.Path) {
	case 1:
		if r.Global != nil {
			c.fail(r.Pos.Offset, ErrParse, "global field reference requires ns:prop")
			return nil
		}
		entID, ok := c.resolver.ResolveLabel(r.Path[0])
		if !ok {
			c.fail(r.Pos.Offset, ErrUnknownLabel, "unresolved label: "+r.Path[0])
			return nil
		}
		return &Term{Kind: TermConst, ID: entID}

	case 2:
		ns, prop := r.Path[0], r.Path[1]
		propID, isEntityProp, ok := c.resolver.ResolveProperty(ns, prop)
		if !ok {
			c.fail(r.Pos.Offset, ErrUnknownProperty, "unresolved property: "+ns+":"+prop)
			return nil
		}
		if r.Global == nil {
			c.fail(r.Pos.Offset, ErrParse, "ns:prop term requires a Subject./Resource. prefix")
			return nil
		}
		if isEntityProp {
			if *r.Global == "Subject" {
				return &Term{Kind: TermSubjectID, Prop: propID.Upcast()}
			}
			return &Term{Kind: TermResourceID, Prop: propID.Upcast()}
		}
		if *r.Global == "Subject" {
			return &Term{Kind: TermSubjectAttrs}
		}
		return &Term{Kind: TermResourceAttrs}

	case 3:
		if r.Global != nil {
			c.fail(r.Pos.Offset, ErrParse, "attribute term cannot take a global prefix")
			return nil
		}
		ns, prop, attr := r.Path[0], r.Path[1], r.Path[2]
		attrID, ok := c.resolver.ResolveAttribute(ns, prop, attr)
		if !ok {
			c.fail(r.Pos.Offset, ErrUnknownAttribute, "unresolved attribute: "+ns+":"+prop+":"+attr)
			return nil
		}
		return &Term{Kind: TermConst, ID: attrID.Upcast()}

	default:
		c.fail(r.Pos.Offset, ErrParse, "malformed term")
		return nil
	}
}
