package document

import (
	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/policy"
	"github.com/protojour/authly/pkg/storage"
)

// LoadEngine rebuilds a runtime policy.Engine from whatever policy and
// binding rows a directory currently holds (spec §4.6: the engine is
// derived from persisted bytecode, never recompiled from source at
// evaluation time). Bindings are stored without a directory key, so a
// binding naming a policy from a different directory than dirKey is
// skipped rather than cross-wired.
func LoadEngine(store storage.Store, dirKey uint64) (*policy.Engine, error) {
	policies, err := store.ListPoliciesByDirectory(dirKey)
	if err != nil {
		return nil, err
	}
	inDir := make(map[id.PolicyID]bool, len(policies))
	code := make(map[id.PolicyID][]byte, len(policies))
	for _, p := range policies {
		inDir[p.ID] = true
		code[p.ID] = p.Code
	}

	bindings, err := store.ListPolicyBindings()
	if err != nil {
		return nil, err
	}
	triggers := make(map[id.PolicyID][]id.AttributeID)
	for _, b := range bindings {
		for _, policyID := range b.PolicyIDs {
			if !inDir[policyID] {
				continue
			}
			triggers[policyID] = append(triggers[policyID], b.MatchAttrs...)
		}
	}

	return policy.NewEngine(code, triggers), nil
}

// ResolveEnv fills a policy.PolicyEnv for a single subject/resource pair
// from their persisted attribute assignments (spec §4.6: "the caller
// passes resource_attrs, optional peer_entity_ids, and optional
// peer_entity_attributes" — here driven off stored assignments rather
// than a caller-supplied attribute list, since pkg/api's TestPolicy RPC
// operates on entities already known to the directory).
func ResolveEnv(store storage.Store, subjectProp id.PropertyID, subject id.Any, resourceProp id.PropertyID, resource id.Any) (*policy.PolicyEnv, error) {
	env := policy.NewPolicyEnv()
	env.SubjectIDs[subjectProp] = subject
	env.ResourceIDs[resourceProp] = resource

	subjectAssignments, err := store.ListAssignmentsByEntity(subject)
	if err != nil {
		return nil, err
	}
	for _, a := range subjectAssignments {
		attr, err := store.GetAttributeByKey(a.AttrKey)
		if err != nil {
			continue
		}
		env.SubjectAttrs[attr.ID.Upcast()] = struct{}{}
	}

	resourceAssignments, err := store.ListAssignmentsByEntity(resource)
	if err != nil {
		return nil, err
	}
	for _, a := range resourceAssignments {
		attr, err := store.GetAttributeByKey(a.AttrKey)
		if err != nil {
			continue
		}
		env.ResourceAttrs[attr.ID.Upcast()] = struct{}{}
	}
	return env, nil
}
