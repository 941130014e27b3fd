/*
Package manager implements an Authly instance's membership in a Raft quorum.

The manager package is the replication layer of Authly's control plane. An
Authly deployment runs one or more instances that form a Raft quorum over
directory state — the output of compiling and applying directory documents
(pkg/document). There is no scheduler and no workload orchestration here:
the one replicated write is "apply this compiled directory snapshot".
Authority-mandate bookkeeping (mandate.go, SPEC_FULL.md §13.1's
cross-instance CA delegation) writes the local store directly and is not
replicated; the FSM's mandate commands exist but this package never
proposes them.

# Architecture

	┌─────────────────────── AUTHLY INSTANCE ─────────────────────┐
	│                                                               │
	│  ┌──────────────────────────────────────────────┐           │
	│  │              gRPC API (pkg/api)               │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                         │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │                 Manager                        │           │
	│  │  - Proposes Raft commands                      │           │
	│  │  - Owns this instance's Raft membership        │           │
	│  │  - Issues/validates cluster-join tokens        │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                         │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │           Raft Consensus Layer                 │           │
	│  │  - Leader election (~1-2s failover)            │           │
	│  │  - Log replication across instances            │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                         │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │                   FSM                          │           │
	│  │  - Apply(): directory snapshot / mandate ops   │           │
	│  │  - Snapshot/Restore(): whole-database backup   │           │
	│  └──────────────────┬───────────────────────────┘           │
	│                     │                                         │
	│  ┌──────────────────▼───────────────────────────┐           │
	│  │            BoltDB Store (pkg/storage)          │           │
	│  └─────────────────────────────────────────────────┘          │
	└───────────────────────────────────────────────────────────────┘

# Core Components

Manager:
  - Owns this instance's store and decrypted property DEKs
  - Bootstraps or joins the Raft cluster
  - Routes directory-document applies through Raft; mandate writes go to
    the local store only

FSM:
  - Applies committed log entries to the local store
  - Snapshot/Restore hand the entire BoltDB file to Raft rather than
    reconstructing row-level state (see fsm.go's doc comment)

TokenManager:
  - Leader-local, non-replicated cluster-join tokens
  - A new instance contacts the leader with a token before its
    submission-code exchange (mandate.go) grants it a signed identity

# Raft Consensus

Authly uses HashiCorp's Raft library for the same reason a service mesh
control plane needs any consensus layer: every instance must agree on one
directory state, even across instance failures. Cluster sizing follows the
usual odd-N-tolerates-(N-1)/2-failures rule; a single instance is a
development convenience, not a supported production topology.

# Usage

	cfg := &manager.Config{
		EntityID: eid,
		BindAddr: "10.0.0.1:7946",
		DataDir:  "/var/lib/authly/instance",
		Backend:  security.NewDevBackend(),
		IsLeader: true,
	}
	mgr, err := manager.NewManager(ctx, cfg)
	if err != nil {
		log.Fatal(err.Error())
	}
	if err := mgr.Bootstrap(); err != nil {
		log.Fatal(err.Error())
	}

	snap, docErrs := document.Compile(doc, dirKey, mgr.Store(), mgr.Deks())
	if len(docErrs) == 0 {
		mgr.ApplyDirectorySnapshot(*snap)
	}

# Leadership

Only the leader accepts ApplyDirectorySnapshot and mandate-granting writes;
followers still serve reads directly from their local replica, since Raft
guarantees the replica reflects every committed write in order.

# Integration Points

This package integrates with:

  - pkg/document: supplies the DirectorySnapshot replicated by Apply
  - pkg/storage: the replica each instance's FSM applies to
  - pkg/security: instance identity, local CA, and property DEKs
  - pkg/api: exposes Manager operations over gRPC
  - pkg/metrics: Raft and directory gauges sampled by MetricsCollector

# See Also

  - pkg/document for directory compilation
  - pkg/security for the certificate plane
  - pkg/storage for the replicated schema
*/
package manager
