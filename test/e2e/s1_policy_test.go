package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/types"
)

// TestPolicyAllowsSubjectHoldingBoundAttribute applies a document granting
// subject_b the svc_a:trait:has_legs attribute, binds allow_trousers to
// that attribute, and expects TestPolicy to allow subject_b against
// resource_a.
func TestPolicyAllowsSubjectHoldingBoundAttribute(t *testing.T) {
	n, c := newSingleNodeClient(t)
	ctx := dialCtx(t)

	yaml := `
services:
  - label: svc_a
  - label: subject_b
  - label: resource_a

entity-properties:
  - scope: svc_a
    label: trait
    attributes: [has_legs]

entity-attr-assignments:
  - entity: subject_b
    attributes: [svc_a:trait:has_legs]
  - entity: resource_a
    attributes: [svc_a:trait:has_legs]

policies:
  - label: allow_trousers
    allow: "Subject.svc_a:trait contains svc_a:trait:has_legs"

policy-bindings:
  - attributes: [svc_a:trait:has_legs]
    policies: [allow_trousers]
`
	applyResp, err := c.ApplyDocument(ctx, "fleet", yaml)
	require.NoError(t, err)
	require.Empty(t, applyResp.Errors)
	require.True(t, applyResp.Applied)

	dirs, err := n.mgr.Store().ListDirectories()
	require.NoError(t, err)
	var dirKey uint64
	for _, d := range dirs {
		if d.Kind == types.DirectoryKindDocument && d.Label == "fleet" {
			dirKey = d.Key
		}
	}
	require.NotZero(t, dirKey)

	namespaces, err := n.mgr.Store().ListNamespacesByDirectory(dirKey)
	require.NoError(t, err)
	var subjectID, resourceID id.Any
	for _, ns := range namespaces {
		switch ns.Label {
		case "subject_b":
			subjectID = ns.ID
		case "resource_a":
			resourceID = ns.ID
		}
	}
	require.False(t, subjectID.IsZero())
	require.False(t, resourceID.IsZero())

	resp, err := c.TestPolicy(ctx, "fleet", literalOf(subjectID), literalOf(resourceID))
	require.NoError(t, err)
	require.Equal(t, "allow", resp.Outcome)
}

// TestPolicyDeniesSubjectMissingBoundAttribute applies the same shape of
// document but leaves a second subject without the bound attribute, and
// expects the default deny outcome.
func TestPolicyDeniesSubjectMissingBoundAttribute(t *testing.T) {
	n, c := newSingleNodeClient(t)
	ctx := dialCtx(t)

	yaml := `
services:
  - label: svc_a
  - label: subject_c
  - label: resource_a

entity-properties:
  - scope: svc_a
    label: trait
    attributes: [has_legs]

entity-attr-assignments:
  - entity: resource_a
    attributes: [svc_a:trait:has_legs]

policies:
  - label: allow_trousers
    allow: "Subject.svc_a:trait contains svc_a:trait:has_legs"

policy-bindings:
  - attributes: [svc_a:trait:has_legs]
    policies: [allow_trousers]
`
	applyResp, err := c.ApplyDocument(ctx, "fleet", yaml)
	require.NoError(t, err)
	require.Empty(t, applyResp.Errors)
	require.True(t, applyResp.Applied)

	dirs, err := n.mgr.Store().ListDirectories()
	require.NoError(t, err)
	var dirKey uint64
	for _, d := range dirs {
		if d.Kind == types.DirectoryKindDocument && d.Label == "fleet" {
			dirKey = d.Key
		}
	}
	require.NotZero(t, dirKey)

	namespaces, err := n.mgr.Store().ListNamespacesByDirectory(dirKey)
	require.NoError(t, err)
	var subjectID, resourceID id.Any
	for _, ns := range namespaces {
		switch ns.Label {
		case "subject_c":
			subjectID = ns.ID
		case "resource_a":
			resourceID = ns.ID
		}
	}
	require.False(t, subjectID.IsZero())
	require.False(t, resourceID.IsZero())

	resp, err := c.TestPolicy(ctx, "fleet", literalOf(subjectID), literalOf(resourceID))
	require.NoError(t, err)
	require.Equal(t, "deny", resp.Outcome)
}
