package policy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
)

// stubResolver resolves a small fixed namespace for tests: an "ns"
// namespace with an "entity" property (the core identity property) and a
// "role" property with attributes "admin"/"viewer", plus one declared
// service label "webapp".
type stubResolver struct {
	labels map[string]id.Any
	props  map[string]id.PropertyID
	attrs  map[string]id.AttributeID
}

func newStubResolver() *stubResolver {
	return &stubResolver{
		labels: map[string]id.Any{
			"webapp": id.Random[id.ServiceID]().Upcast(),
		},
		props: map[string]id.PropertyID{
			"ns:entity": id.Random[id.PropertyID](),
			"ns:role":   id.Random[id.PropertyID](),
		},
		attrs: map[string]id.AttributeID{
			"ns:role:admin":  id.Random[id.AttributeID](),
			"ns:role:viewer": id.Random[id.AttributeID](),
		},
	}
}

func (s *stubResolver) ResolveLabel(label string) (id.Any, bool) {
	v, ok := s.labels[label]
	return v, ok
}

func (s *stubResolver) ResolveProperty(ns, prop string) (id.PropertyID, bool, bool) {
	v, ok := s.props[ns+":"+prop]
	return v, prop == "entity", ok
}

func (s *stubResolver) ResolveAttribute(ns, prop, attr string) (id.AttributeID, bool) {
	v, ok := s.attrs[ns+":"+prop+":"+attr]
	return v, ok
}

func TestCompileEqualsEntityID(t *testing.T) {
	r := newStubResolver()
	_, code, triggers, errs := Compile("Subject.ns:entity == webapp", Allow, r)
	require.Empty(t, errs)
	assert.Empty(t, triggers)

	env := NewPolicyEnv()
	entityProp := r.props["ns:entity"]
	env.SubjectIDs[entityProp] = r.labels["webapp"]

	outcome, err := evalPolicy(code, env)
	require.NoError(t, err)
	assert.Equal(t, Allow, outcome)
}

func TestCompileContainsAttribute(t *testing.T) {
	r := newStubResolver()
	_, code, triggers, errs := Compile("Subject.ns:role contains ns:role:admin", Allow, r)
	require.Empty(t, errs)
	require.Len(t, triggers, 1)
	assert.Equal(t, r.attrs["ns:role:admin"], triggers[0])

	env := NewPolicyEnv()
	env.SubjectAttrs[r.attrs["ns:role:admin"].Upcast()] = struct{}{}

	outcome, err := evalPolicy(code, env)
	require.NoError(t, err)
	assert.Equal(t, Allow, outcome)

	env2 := NewPolicyEnv()
	env2.SubjectAttrs[r.attrs["ns:role:viewer"].Upcast()] = struct{}{}
	outcome, err = evalPolicy(code, env2)
	require.NoError(t, err)
	assert.Equal(t, Deny, outcome)
}

func TestCompileAndOrNot(t *testing.T) {
	r := newStubResolver()
	_, code, _, errs := Compile(
		"not (Subject.ns:role contains ns:role:viewer) and Subject.ns:role contains ns:role:admin",
		Allow, r,
	)
	require.Empty(t, errs)

	env := NewPolicyEnv()
	env.SubjectAttrs[r.attrs["ns:role:admin"].Upcast()] = struct{}{}
	outcome, err := evalPolicy(code, env)
	require.NoError(t, err)
	assert.Equal(t, Allow, outcome)
}

func TestCompileUnknownLabelProducesError(t *testing.T) {
	r := newStubResolver()
	_, _, _, errs := Compile("Subject.ns:entity == nosuchservice", Allow, r)
	require.NotEmpty(t, errs)
	assert.Equal(t, ErrUnknownLabel, errs[0].Kind)
}

func TestEngineFallbackRuleAllowsOnIntersection(t *testing.T) {
	eng := NewEngine(map[id.PolicyID][]byte{}, map[id.PolicyID][]id.AttributeID{})
	shared := id.Random[id.AttributeID]().Upcast()

	env := NewPolicyEnv()
	env.SubjectAttrs[shared] = struct{}{}
	env.ResourceAttrs[shared] = struct{}{}

	outcome, err := Eval(eng, env)
	require.NoError(t, err)
	assert.Equal(t, Allow, outcome)
}

func TestEngineFallbackRuleDeniesWithoutIntersection(t *testing.T) {
	eng := NewEngine(map[id.PolicyID][]byte{}, map[id.PolicyID][]id.AttributeID{})

	env := NewPolicyEnv()
	env.SubjectAttrs[id.Random[id.AttributeID]().Upcast()] = struct{}{}
	env.ResourceAttrs[id.Random[id.AttributeID]().Upcast()] = struct{}{}

	outcome, err := Eval(eng, env)
	require.NoError(t, err)
	assert.Equal(t, Deny, outcome)
}

func TestEngineDenyOverrides(t *testing.T) {
	r := newStubResolver()
	_, allowCode, _, errs := Compile("Subject.ns:role contains ns:role:admin", Allow, r)
	require.Empty(t, errs)
	_, denyCode, _, errs := Compile("Subject.ns:role contains ns:role:viewer", Deny, r)
	require.Empty(t, errs)

	allowID := id.Random[id.PolicyID]()
	denyID := id.Random[id.PolicyID]()

	eng := NewEngine(
		map[id.PolicyID][]byte{allowID: allowCode, denyID: denyCode},
		map[id.PolicyID][]id.AttributeID{
			allowID: {r.attrs["ns:role:admin"]},
			denyID:  {r.attrs["ns:role:viewer"]},
		},
	)

	env := NewPolicyEnv()
	env.SubjectAttrs[r.attrs["ns:role:admin"].Upcast()] = struct{}{}
	env.SubjectAttrs[r.attrs["ns:role:viewer"].Upcast()] = struct{}{}

	outcome, err := Eval(eng, env)
	require.NoError(t, err)
	assert.Equal(t, Deny, outcome)
}
