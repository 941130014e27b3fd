package events

import (
	"context"
	"sync"
	"time"

	"github.com/protojour/authly/pkg/id"
	"github.com/protojour/authly/pkg/log"
)

// connectionBufferSize bounds how many pending ServiceMessages a single
// connection can queue before it is considered slow (SPEC_FULL.md §14's
// ServiceEventDispatcher, grounded on original_source's bus/service_events.rs).
const connectionBufferSize = 16

// slowConnectionTimeout is how long a full connection gets before it's
// dropped, matching original_source's 10-second grace period.
const slowConnectionTimeout = 10 * time.Second

// ServiceMessageKind identifies what a ServiceMessage is telling a
// connected peer service to do.
type ServiceMessageKind int

const (
	// ServiceMessagePing keeps a long-lived stream alive.
	ServiceMessagePing ServiceMessageKind = iota
	// ServiceMessageCertRotated tells a peer its cached identity material
	// (or the local CA it trusts) was just rotated; it should re-fetch.
	ServiceMessageCertRotated
	// ServiceMessagePolicyChanged tells a peer the directory it reads
	// policy from was just recompiled; cached policy bytecode is stale.
	ServiceMessagePolicyChanged
)

// ServiceMessage is pushed to a service over its gRPC Messages stream.
type ServiceMessage struct {
	Kind ServiceMessageKind
}

// ServiceConnection is one live Messages-stream connection a service holds
// open to an instance. Callers (pkg/api's streaming handler) create one per
// accepted stream and drain Messages() for the handler's lifetime; the
// connection's ctx is that handler's request context, so cancellation
// (client disconnect) is how the dispatcher notices the connection died —
// there is no separate close handshake.
type ServiceConnection struct {
	Addr string
	ctx  context.Context
	ch   chan ServiceMessage
}

// NewServiceConnection creates a connection bound to ctx's lifetime.
func NewServiceConnection(ctx context.Context, addr string) *ServiceConnection {
	return &ServiceConnection{Addr: addr, ctx: ctx, ch: make(chan ServiceMessage, connectionBufferSize)}
}

// Messages returns the channel the stream handler should range over.
func (c *ServiceConnection) Messages() <-chan ServiceMessage { return c.ch }

// ServiceEventDispatcher multiplexes ServiceMessages to every live
// connection a given service entity currently holds open. A service may
// have more than one connection (multiple replicas, or a single replica
// reconnecting before the old stream has been GCed).
type ServiceEventDispatcher struct {
	mu    sync.RWMutex
	conns map[id.ServiceID][]*ServiceConnection

	cancel context.Context
}

// NewServiceEventDispatcher creates a dispatcher. cancel, when done, stops
// every per-connection watcher goroutine the dispatcher has spawned.
func NewServiceEventDispatcher(cancel context.Context) *ServiceEventDispatcher {
	return &ServiceEventDispatcher{conns: make(map[id.ServiceID][]*ServiceConnection), cancel: cancel}
}

// Subscribe registers conn under svcEid and spawns the watcher that
// garbage-collects it once its context is done.
func (d *ServiceEventDispatcher) Subscribe(svcEid id.ServiceID, conn *ServiceConnection) {
	go d.watch(svcEid, conn)

	d.mu.Lock()
	defer d.mu.Unlock()
	d.conns[svcEid] = append(d.conns[svcEid], conn)
}

func (d *ServiceEventDispatcher) watch(svcEid id.ServiceID, conn *ServiceConnection) {
	select {
	case <-conn.ctx.Done():
		d.gc(svcEid, conn)
	case <-d.cancel.Done():
	}
}

// BroadcastAll sends msg to every connection of every connected service.
func (d *ServiceEventDispatcher) BroadcastAll(msg ServiceMessage) {
	for _, svcEid := range d.connectedServices() {
		d.Broadcast(svcEid, msg)
	}
}

// Broadcast sends msg to every connection svcEid currently holds open.
// A connection whose buffer is full is given slowConnectionTimeout to
// drain in a background goroutine before it is forgotten.
func (d *ServiceEventDispatcher) Broadcast(svcEid id.ServiceID, msg ServiceMessage) {
	d.mu.RLock()
	conns := append([]*ServiceConnection(nil), d.conns[svcEid]...)
	d.mu.RUnlock()

	for _, conn := range conns {
		select {
		case conn.ch <- msg:
		default:
			go d.sendSlow(svcEid, conn, msg)
		}
	}
}

func (d *ServiceEventDispatcher) sendSlow(svcEid id.ServiceID, conn *ServiceConnection, msg ServiceMessage) {
	logger := log.WithComponent("events")
	timer := time.NewTimer(slowConnectionTimeout)
	defer timer.Stop()

	select {
	case conn.ch <- msg:
	case <-timer.C:
		logger.Error().Str("service_id", svcEid.String()).Str("addr", conn.Addr).
			Msg("service connection not responding, forgetting it")
		d.forget(svcEid, conn)
	case <-conn.ctx.Done():
	case <-d.cancel.Done():
	}
}

// Statistics reports the number of live connections per connected service.
func (d *ServiceEventDispatcher) Statistics() map[id.ServiceID]int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	stats := make(map[id.ServiceID]int, len(d.conns))
	for svcEid, conns := range d.conns {
		stats[svcEid] = len(conns)
	}
	return stats
}

func (d *ServiceEventDispatcher) connectedServices() []id.ServiceID {
	d.mu.RLock()
	defer d.mu.RUnlock()
	svcs := make([]id.ServiceID, 0, len(d.conns))
	for svcEid := range d.conns {
		svcs = append(svcs, svcEid)
	}
	return svcs
}

func (d *ServiceEventDispatcher) gc(svcEid id.ServiceID, conn *ServiceConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(svcEid, conn)
}

func (d *ServiceEventDispatcher) forget(svcEid id.ServiceID, conn *ServiceConnection) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.removeLocked(svcEid, conn)
}

func (d *ServiceEventDispatcher) removeLocked(svcEid id.ServiceID, conn *ServiceConnection) {
	conns := d.conns[svcEid]
	for i, c := range conns {
		if c == conn {
			d.conns[svcEid] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(d.conns[svcEid]) == 0 {
		delete(d.conns, svcEid)
	}
}
