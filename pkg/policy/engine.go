package policy

import "github.com/protojour/authly/pkg/id"

// PolicyEnv is the per-request environment a policy is evaluated against
// (spec §4.6: "the caller passes resource_attrs, optional peer_entity_ids,
// and optional peer_entity_attributes"). SubjectIDs/ResourceIDs are keyed
// by the property under which that identity value was recorded, since a
// request may present more than one entity-id-shaped field (e.g. the
// calling service and the authenticated user both count as subject
// identities under different properties).
type PolicyEnv struct {
	SubjectIDs    map[id.PropertyID]id.Any
	SubjectAttrs  map[id.Any]struct{}
	ResourceIDs   map[id.PropertyID]id.Any
	ResourceAttrs map[id.Any]struct{}
}

// NewPolicyEnv returns an env with all maps initialized and ready to
// populate.
func NewPolicyEnv() *PolicyEnv {
	return &PolicyEnv{
		SubjectIDs:    map[id.PropertyID]id.Any{},
		SubjectAttrs:  map[id.Any]struct{}{},
		ResourceIDs:   map[id.PropertyID]id.Any{},
		ResourceAttrs: map[id.Any]struct{}{},
	}
}

// Engine holds the compiled policy set and the attribute-trigger index
// (spec §4.6).
type Engine struct {
	policies     map[id.PolicyID][]byte
	attrTriggers map[id.AttributeID][]id.PolicyID
}

// NewEngine builds an Engine from (policyID, bytecode, triggeringAttrs)
// triples, as produced by Compile for every policy in a directory.
func NewEngine(policies map[id.PolicyID][]byte, triggers map[id.PolicyID][]id.AttributeID) *Engine {
	e := &Engine{
		policies:     policies,
		attrTriggers: map[id.AttributeID][]id.PolicyID{},
	}
	for policyID, attrs := range triggers {
		for _, a := range attrs {
			e.attrTriggers[a] = append(e.attrTriggers[a], policyID)
		}
	}
	return e
}

// Eval runs every policy triggered by env's subject/resource attributes
// and combines their outcomes with deny-overrides (spec §4.6). If no
// policy is triggered, the fallback rule applies: allow iff the subject
// and resource attribute sets intersect.
func Eval(e *Engine, env *PolicyEnv) (Outcome, error) {
	seen := map[id.PolicyID]struct{}{}
	var outcomes []Outcome

	collect := func(attr id.Any) error {
		attrID, err := id.DowncastAttribute(attr)
		if err != nil {
			return nil // not an attribute-shaped key, no triggers possible
		}
		for _, policyID := range e.attrTriggers[attrID] {
			if _, ok := seen[policyID]; ok {
				continue
			}
			seen[policyID] = struct{}{}
			code, ok := e.policies[policyID]
			if !ok {
				continue
			}
			outcome, err := evalPolicy(code, env)
			if err != nil {
				return err
			}
			outcomes = append(outcomes, outcome)
		}
		return nil
	}

	for attr := range env.SubjectAttrs {
		if err := collect(attr); err != nil {
			return Deny, err
		}
	}
	for attr := range env.ResourceAttrs {
		if err := collect(attr); err != nil {
			return Deny, err
		}
	}

	if len(outcomes) == 0 {
		for attr := range env.SubjectAttrs {
			if _, ok := env.ResourceAttrs[attr]; ok {
				return Allow, nil
			}
		}
		return Deny, nil
	}

	for _, o := range outcomes {
		if o == Deny {
			return Deny, nil
		}
	}
	return Allow, nil
}

// stackItem is the engine's runtime value ADT.
type stackItem struct {
	isSet bool
	isID  bool
	u     uint64
	id    id.Any
	set   map[id.Any]struct{}
}

func uintItem(v uint64) stackItem        { return stackItem{u: v} }
func idItem(v id.Any) stackItem          { return stackItem{isID: true, id: v} }
func setItem(v map[id.Any]struct{}) stackItem { return stackItem{isSet: true, set: v} }

func boolU(v bool) uint64 {
	if v {
		return 1
	}
	return 0
}

// evalPolicy interprets one policy's bytecode against env. Any malformed
// program — stack underflow, wrong operand variant, unknown opcode —
// surfaces as Bug; the engine never downgrades a bug into a Deny.
func evalPolicy(code []byte, env *PolicyEnv) (Outcome, error) {
	var stack []stackItem
	pop := func() (stackItem, error) {
		if len(stack) == 0 {
			return stackItem{}, &Bug{Reason: "stack underflow"}
		}
		top := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return top, nil
	}

	pc := 0
	for pc < len(code) {
		op := OpCode(code[pc])
		pc++

		switch op {
		case OpLoadSubjectID, OpLoadResourceID:
			if pc+17 > len(code) {
				return Deny, &Bug{Reason: "truncated id operand"}
			}
			propAny, err := id.AnyFromTaggedBlob(code[pc : pc+17])
			if err != nil {
				return Deny, &Bug{Reason: err.Error()}
			}
			pc += 17
			propID, err := id.DowncastProperty(propAny)
			if err != nil {
				return Deny, &Bug{Reason: "operand is not a property id"}
			}
			var eid id.Any
			var ok bool
			if op == OpLoadSubjectID {
				eid, ok = env.SubjectIDs[propID]
			} else {
				eid, ok = env.ResourceIDs[propID]
			}
			if !ok {
				return Deny, &Bug{Reason: "no entity id recorded for property"}
			}
			stack = append(stack, idItem(eid))

		case OpLoadConstEntityID:
			if pc+17 > len(code) {
				return Deny, &Bug{Reason: "truncated id operand"}
			}
			val, err := id.AnyFromTaggedBlob(code[pc : pc+17])
			if err != nil {
				return Deny, &Bug{Reason: err.Error()}
			}
			pc += 17
			stack = append(stack, idItem(val))

		case OpLoadSubjectAttrs:
			stack = append(stack, setItem(env.SubjectAttrs))
		case OpLoadResourceAttrs:
			stack = append(stack, setItem(env.ResourceAttrs))

		case OpIsEq:
			a, err := pop()
			if err != nil {
				return Deny, err
			}
			b, err := pop()
			if err != nil {
				return Deny, err
			}
			if !a.isID || !b.isID {
				return Deny, &Bug{Reason: "IsEq on non-id operand"}
			}
			stack = append(stack, uintItem(boolU(a.id.Equal(b.id))))

		case OpSupersetOf:
			a, err := pop()
			if err != nil {
				return Deny, err
			}
			b, err := pop()
			if err != nil {
				return Deny, err
			}
			if !a.isSet || !b.isSet {
				return Deny, &Bug{Reason: "SupersetOf on non-set operand"}
			}
			superset := true
			for k := range b.set {
				if _, ok := a.set[k]; !ok {
					superset = false
					break
				}
			}
			stack = append(stack, uintItem(boolU(superset)))

		case OpIdSetContains:
			target, err := pop()
			if err != nil {
				return Deny, err
			}
			set, err := pop()
			if err != nil {
				return Deny, err
			}
			if !set.isSet || !target.isID {
				return Deny, &Bug{Reason: "IdSetContains on wrong operand types"}
			}
			_, contains := set.set[target.id]
			stack = append(stack, uintItem(boolU(contains)))

		case OpAnd:
			rhs, err := pop()
			if err != nil {
				return Deny, err
			}
			lhs, err := pop()
			if err != nil {
				return Deny, err
			}
			if rhs.isID || rhs.isSet || lhs.isID || lhs.isSet {
				return Deny, &Bug{Reason: "And on non-boolean operand"}
			}
			stack = append(stack, uintItem(boolU(lhs.u > 0 && rhs.u > 0)))

		case OpOr:
			rhs, err := pop()
			if err != nil {
				return Deny, err
			}
			lhs, err := pop()
			if err != nil {
				return Deny, err
			}
			if rhs.isID || rhs.isSet || lhs.isID || lhs.isSet {
				return Deny, &Bug{Reason: "Or on non-boolean operand"}
			}
			stack = append(stack, uintItem(boolU(lhs.u > 0 || rhs.u > 0)))

		case OpNot:
			v, err := pop()
			if err != nil {
				return Deny, err
			}
			if v.isID || v.isSet {
				return Deny, &Bug{Reason: "Not on non-boolean operand"}
			}
			stack = append(stack, uintItem(boolU(v.u == 0)))

		case OpTrueThenAllow:
			v, err := pop()
			if err != nil {
				return Deny, err
			}
			if v.u > 0 {
				return Allow, nil
			}

		case OpTrueThenDeny:
			v, err := pop()
			if err != nil {
				return Deny, err
			}
			if v.u > 0 {
				return Deny, nil
			}

		case OpFalseThenAllow:
			v, err := pop()
			if err != nil {
				return Deny, err
			}
			if v.u == 0 {
				return Allow, nil
			}

		case OpFalseThenDeny:
			v, err := pop()
			if err != nil {
				return Deny, err
			}
			if v.u == 0 {
				return Deny, nil
			}

		case OpReturn:
			return Deny, nil

		default:
			return Deny, &Bug{Reason: "unknown opcode"}
		}
	}

	return Deny, nil
}
