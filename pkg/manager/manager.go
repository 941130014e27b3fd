package manager

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"github.com/hashicorp/raft"
	raftboltdb "github.com/hashicorp/raft-boltdb"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/log"
	"github.com/protojour/authly/pkg/metrics"
	"github.com/protojour/authly/pkg/security"
	"github.com/protojour/authly/pkg/storage"
)

// Manager coordinates one Authly instance's membership in a Raft quorum and
// owns its storage. Unlike the teacher's node-orchestration manager, the
// only thing ever replicated here is directory state (compiled documents);
// authority-mandate rows are written to the local store only. There is no
// scheduler, no DNS server, no ingress proxy.
type Manager struct {
	eid      id.ServiceID
	bindAddr string
	dataDir  string

	raft         *raft.Raft
	fsm          *FSM
	store        storage.Store
	tokenManager *TokenManager
	deks         *security.DecryptedDeks
	instance     security.InstanceHolder
}

// Config holds the configuration needed to create a Manager.
type Config struct {
	EntityID id.ServiceID
	BindAddr string
	DataDir  string
	Backend  security.SecretsBackend
	// IsLeader gates whether LoadDecryptedDeks/BootstrapInstance are
	// allowed to create missing master-key/identity material, or must
	// load what the leader already created (spec §4.2/§4.3's leader-only
	// bootstrap gate).
	IsLeader bool
}

// NewManager opens the instance's store and decrypts its property DEKs, but
// does not yet start Raft — call Bootstrap or Join for that.
func NewManager(ctx context.Context, cfg *Config) (*Manager, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("manager: creating data directory: %w", err)
	}

	store, err := storage.NewBoltStore(cfg.DataDir)
	if err != nil {
		return nil, fmt.Errorf("manager: opening store: %w", err)
	}

	deks, err := security.LoadDecryptedDeks(ctx, store, cfg.Backend, cfg.EntityID.String(), cfg.IsLeader)
	if err != nil {
		return nil, fmt.Errorf("manager: loading property DEKs: %w", err)
	}

	return &Manager{
		eid:          cfg.EntityID,
		bindAddr:     cfg.BindAddr,
		dataDir:      cfg.DataDir,
		fsm:          NewFSM(store),
		store:        store,
		tokenManager: NewTokenManager(),
		deks:         deks,
	}, nil
}

// raftConfig builds the shared Raft tuning used by both Bootstrap and Join:
// faster heartbeat/election timeouts than hashicorp/raft's WAN-oriented
// defaults, aimed at sub-10s leader failover on a LAN-local control plane.
func (m *Manager) raftConfig() *raft.Config {
	config := raft.DefaultConfig()
	config.LocalID = raft.ServerID(m.eid.String())
	config.HeartbeatTimeout = 500 * time.Millisecond
	config.ElectionTimeout = 500 * time.Millisecond
	config.CommitTimeout = 50 * time.Millisecond
	config.LeaderLeaseTimeout = 250 * time.Millisecond
	return config
}

func (m *Manager) newRaft() (*raft.Raft, *raft.NetworkTransport, error) {
	addr, err := net.ResolveTCPAddr("tcp", m.bindAddr)
	if err != nil {
		return nil, nil, fmt.Errorf("manager: resolving bind address: %w", err)
	}
	transport, err := raft.NewTCPTransport(m.bindAddr, addr, 3, 10*time.Second, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("manager: creating raft transport: %w", err)
	}
	snapshotStore, err := raft.NewFileSnapshotStore(m.dataDir, 2, os.Stderr)
	if err != nil {
		return nil, nil, fmt.Errorf("manager: creating snapshot store: %w", err)
	}
	logStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-log.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("manager: creating raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(m.dataDir, "raft-stable.db"))
	if err != nil {
		return nil, nil, fmt.Errorf("manager: creating raft stable store: %w", err)
	}
	r, err := raft.NewRaft(m.raftConfig(), m.fsm, logStore, stableStore, snapshotStore, transport)
	if err != nil {
		return nil, nil, fmt.Errorf("manager: creating raft: %w", err)
	}
	return r, transport, nil
}

// Bootstrap initializes a new single-node cluster and mints this instance's
// root local CA and self-identity (spec §4.3: bootstrap is the one path
// allowed to create the CA key rather than merely load it).
func (m *Manager) Bootstrap() error {
	r, transport, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	future := m.raft.BootstrapCluster(raft.Configuration{
		Servers: []raft.Server{{ID: m.raftConfig().LocalID, Address: transport.LocalAddr()}},
	})
	if err := future.Error(); err != nil {
		return fmt.Errorf("manager: bootstrapping cluster: %w", err)
	}

	inst, err := security.BootstrapInstance(m.store, m.deks, m.eid, true)
	if err != nil {
		return fmt.Errorf("manager: bootstrapping instance identity: %w", err)
	}
	m.instance.Store(inst)
	log.WithComponent("manager").Info().Str("entity_id", m.eid.String()).Msg("instance bootstrapped")
	return nil
}

// Join starts Raft for a node that is expected to already be a voter in the
// leader's configuration (added via the leader's AddVoter, driven out of
// band through pkg/api's JoinCluster RPC and a submission code exchanged
// via pkg/manager.SubmitMandate). It loads, rather than creates, this
// instance's identity — BootstrapInstance's isLeader=false path — since the
// CA and self-identity were already minted by the bootstrap node.
func (m *Manager) Join() error {
	r, _, err := m.newRaft()
	if err != nil {
		return err
	}
	m.raft = r

	inst, err := security.BootstrapInstance(m.store, m.deks, m.eid, false)
	if err != nil {
		return fmt.Errorf("manager: loading instance identity: %w", err)
	}
	m.instance.Store(inst)
	log.WithComponent("manager").Info().Str("entity_id", m.eid.String()).Msg("instance joined cluster")
	return nil
}

// AddVoter adds a new node to the Raft cluster. Only the leader can do
// this; callers authenticate the request (e.g. a submission-code exchange)
// before invoking it.
func (m *Manager) AddVoter(nodeID, address string) error {
	if m.raft == nil {
		return fmt.Errorf("manager: raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("manager: not the leader, current leader: %s", m.LeaderAddr())
	}
	future := m.raft.AddVoter(raft.ServerID(nodeID), raft.ServerAddress(address), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("manager: adding voter: %w", err)
	}
	return nil
}

// RemoveServer removes a server from the Raft cluster.
func (m *Manager) RemoveServer(nodeID string) error {
	if m.raft == nil {
		return fmt.Errorf("manager: raft not initialized")
	}
	if !m.IsLeader() {
		return fmt.Errorf("manager: not the leader")
	}
	future := m.raft.RemoveServer(raft.ServerID(nodeID), 0, 10*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("manager: removing server: %w", err)
	}
	return nil
}

// GetClusterServers returns every server in the Raft configuration.
func (m *Manager) GetClusterServers() ([]raft.Server, error) {
	if m.raft == nil {
		return nil, fmt.Errorf("manager: raft not initialized")
	}
	future := m.raft.GetConfiguration()
	if err := future.Error(); err != nil {
		return nil, fmt.Errorf("manager: reading configuration: %w", err)
	}
	return future.Configuration().Servers, nil
}

// IsLeader reports whether this node currently holds Raft leadership.
func (m *Manager) IsLeader() bool {
	return m.raft != nil && m.raft.State() == raft.Leader
}

// LeaderAddr returns the current Raft leader's transport address, or "" if
// unknown.
func (m *Manager) LeaderAddr() string {
	if m.raft == nil {
		return ""
	}
	return string(m.raft.Leader())
}

// GetRaftStats reports Raft cluster diagnostics used by pkg/manager's
// metrics collector and pkg/api's cluster-status RPC.
func (m *Manager) GetRaftStats() map[string]any {
	if m.raft == nil {
		return nil
	}
	stats := map[string]any{
		"state":          m.raft.State().String(),
		"last_log_index": m.raft.LastIndex(),
		"applied_index":  m.raft.AppliedIndex(),
		"leader":         string(m.raft.Leader()),
	}
	if cfgFuture := m.raft.GetConfiguration(); cfgFuture.Error() == nil {
		stats["peers"] = uint64(len(cfgFuture.Configuration().Servers))
	} else {
		stats["peers"] = uint64(0)
	}
	return stats
}

// Apply replicates cmd through Raft and waits for the FSM to process it,
// returning any error the FSM's Apply produced.
func (m *Manager) Apply(cmd Command) error {
	timer := metrics.NewTimer()
	defer timer.ObserveDuration(metrics.RaftCommitDuration)

	if m.raft == nil {
		return fmt.Errorf("manager: raft not initialized")
	}
	data, err := json.Marshal(cmd)
	if err != nil {
		return fmt.Errorf("manager: marshaling command: %w", err)
	}
	future := m.raft.Apply(data, 5*time.Second)
	if err := future.Error(); err != nil {
		return fmt.Errorf("manager: applying command: %w", err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok && err != nil {
			return err
		}
	}
	return nil
}

// ApplyDirectorySnapshot replicates a compiled directory snapshot across
// the cluster (spec §4.4/§4.5: document apply is a single-writer, leader-
// routed operation).
func (m *Manager) ApplyDirectorySnapshot(snap storage.DirectorySnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("manager: marshaling directory snapshot: %w", err)
	}
	return m.Apply(Command{Op: opApplyDirectorySnapshot, Data: data})
}

// Instance returns the currently loaded AuthlyInstance, or nil before
// Bootstrap/Join has run.
func (m *Manager) Instance() *security.AuthlyInstance {
	return m.instance.Load()
}

// SetInstance atomically replaces the loaded AuthlyInstance, e.g. after
// pkg/reconcile rotates the self-identity certificate.
func (m *Manager) SetInstance(inst *security.AuthlyInstance) {
	m.instance.Store(inst)
}

// Deks returns this instance's decrypted property DEKs.
func (m *Manager) Deks() *security.DecryptedDeks {
	return m.deks
}

// Store exposes the underlying storage.Store for read paths (pkg/api
// handlers read directly from the local replica rather than routing
// through Raft, since every write is already linearized by the leader).
func (m *Manager) Store() storage.Store {
	return m.store
}

// EntityID returns this instance's own service entity ID.
func (m *Manager) EntityID() id.ServiceID {
	return m.eid
}

// GenerateJoinToken mints a cluster-join token; only the leader may do so.
func (m *Manager) GenerateJoinToken(role string) (*JoinToken, error) {
	if !m.IsLeader() {
		return nil, fmt.Errorf("manager: not the leader, tokens can only be generated by the leader")
	}
	return m.tokenManager.GenerateToken(role, 24*time.Hour)
}

// ValidateJoinToken validates a cluster-join token and returns its role.
func (m *Manager) ValidateJoinToken(token string) (string, error) {
	return m.tokenManager.ValidateToken(token)
}

// Shutdown gracefully shuts down Raft and closes the store.
func (m *Manager) Shutdown() error {
	if m.raft != nil {
		if err := m.raft.Shutdown().Error(); err != nil {
			return fmt.Errorf("manager: shutting down raft: %w", err)
		}
	}
	if m.store != nil {
		if err := m.store.Close(); err != nil {
			return fmt.Errorf("manager: closing store: %w", err)
		}
	}
	return nil
}
