package e2e

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/types"
)

// TestReapplyGarbageCollectsRemovedAttributeAndAssignment applies a
// document declaring an attribute and assigning it to an entity, then
// re-applies an equivalent document with that attribute removed, and
// checks both the attribute row and the assignment referencing it are
// gone (storage.ApplyDirectorySnapshot's prev-vs-next index diff).
func TestReapplyGarbageCollectsRemovedAttributeAndAssignment(t *testing.T) {
	n, c := newSingleNodeClient(t)
	ctx := dialCtx(t)

	first := `
services:
  - label: svc_a
  - label: subject_b

entity-properties:
  - scope: svc_a
    label: trait
    attributes: [has_legs, has_tail]

entity-attr-assignments:
  - entity: subject_b
    attributes: [svc_a:trait:has_legs, svc_a:trait:has_tail]
`
	applyResp, err := c.ApplyDocument(ctx, "fleet", first)
	require.NoError(t, err)
	require.Empty(t, applyResp.Errors)
	require.True(t, applyResp.Applied)

	dirKey := dirKeyByLabel(t, n, "fleet")
	namespaces, err := n.mgr.Store().ListNamespacesByDirectory(dirKey)
	require.NoError(t, err)
	subjectEntity := findNamespaceID(t, namespaces, "subject_b")

	before, err := n.mgr.Store().ListAssignmentsByEntity(subjectEntity)
	require.NoError(t, err)
	require.Len(t, before, 2)

	second := `
services:
  - label: svc_a
  - label: subject_b

entity-properties:
  - scope: svc_a
    label: trait
    attributes: [has_legs]

entity-attr-assignments:
  - entity: subject_b
    attributes: [svc_a:trait:has_legs]
`
	applyResp2, err := c.ApplyDocument(ctx, "fleet", second)
	require.NoError(t, err)
	require.Empty(t, applyResp2.Errors)
	require.True(t, applyResp2.Applied)

	after, err := n.mgr.Store().ListAssignmentsByEntity(subjectEntity)
	require.NoError(t, err)
	require.Len(t, after, 1)

	props, err := n.mgr.Store().ListPropertiesByNamespace(namespaceRowKeyByLabel(t, n, dirKey, "svc_a"))
	require.NoError(t, err)
	var traitProp *types.Property
	for _, p := range props {
		if p.Label == "trait" {
			traitProp = p
		}
	}
	require.NotNil(t, traitProp)

	attrs, err := n.mgr.Store().ListAttributesByProperty(traitProp.Key)
	require.NoError(t, err)
	require.Len(t, attrs, 1)
	require.Equal(t, "has_legs", attrs[0].Label)
}

func dirKeyByLabel(t *testing.T, n *node, label string) uint64 {
	t.Helper()
	dirs, err := n.mgr.Store().ListDirectories()
	require.NoError(t, err)
	for _, d := range dirs {
		if d.Kind == types.DirectoryKindDocument && d.Label == label {
			return d.Key
		}
	}
	t.Fatalf("directory %q not found", label)
	return 0
}

func namespaceRowKeyByLabel(t *testing.T, n *node, dirKey uint64, label string) uint64 {
	t.Helper()
	namespaces, err := n.mgr.Store().ListNamespacesByDirectory(dirKey)
	require.NoError(t, err)
	for _, ns := range namespaces {
		if ns.Label == label {
			return ns.Key
		}
	}
	t.Fatalf("namespace %q not found", label)
	return 0
}
