package e2e

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/protojour/authly/pkg/client"
	"github.com/protojour/authly/pkg/types"
)

// TestFollowerObservesLeaderAppliedDocument builds a two-node cluster,
// applies a document through the leader's client, and checks the
// follower's own store eventually carries the replicated namespace rows.
// Each node's events.Broker is per-process (spec §4.3 draws no cluster-wide
// event bus), so the only cross-node signal that actually exists is Raft
// log replication into the follower's local BoltStore — this polls that
// directly rather than waiting on an event/message that was never meant to
// cross the wire.
func TestFollowerObservesLeaderAppliedDocument(t *testing.T) {
	leader := newBootstrapNode(t)
	certDir := writeClientCertDir(t, leader.mgr)
	leaderClient, err := client.NewClient(leader.addr, certDir)
	require.NoError(t, err)
	t.Cleanup(leaderClient.Close)

	follower := newFollowerNode(t, leader, leader.backend)

	yaml := `
services:
  - label: webshop
    hosts: ["webshop.example.com"]
`
	ctx := dialCtx(t)
	applyResp, err := leaderClient.ApplyDocument(ctx, "fleet", yaml)
	require.NoError(t, err)
	require.Empty(t, applyResp.Errors)
	require.True(t, applyResp.Applied)

	dirKey := dirKeyByLabel(t, leader, "fleet")

	require.Eventually(t, func() bool {
		dirs, err := follower.mgr.Store().ListDirectories()
		if err != nil {
			return false
		}
		for _, d := range dirs {
			if d.Kind == types.DirectoryKindDocument && d.Label == "fleet" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	require.Eventually(t, func() bool {
		namespaces, err := follower.mgr.Store().ListNamespacesByDirectory(dirKey)
		if err != nil {
			return false
		}
		for _, ns := range namespaces {
			if ns.Label == "webshop" {
				return true
			}
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	services, err := follower.mgr.Store().ListServicesByDirectory(dirKey)
	require.NoError(t, err)
	require.Len(t, services, 1)
}
