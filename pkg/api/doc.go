/*
Package api implements Authly's gRPC service: document apply, policy
testing, persona/service authentication, mandate exchange, and cluster
join/status (spec §4.7, §9). The TLS handshake requests but does not
require a client certificate (mtls.ServerTLSConfig); individual RPCs check
mtls.PeerServiceEntity where the caller's own identity matters.

# Wire format

No protoc-generated code exists for this service (see DESIGN.md's entry
on the codec decision): rather than hand-authoring a protobuf encoder to
imitate generated code, RPC messages are plain JSON-tagged structs
(messages.go) carried over a real gRPC transport via a hand-written
encoding.Codec (codec.go) and a hand-built grpc.ServiceDesc (service.go),
the same shape protoc-gen-go-grpc would emit. The server forces this
codec with grpc.ForceServerCodec, so a client's own CallOption must agree.

# RPCs

  - ApplyDocument: compile and apply a YAML document to a named directory
    (leader-only)
  - TestPolicy: evaluate a directory's persisted policy set for a
    subject/resource pair
  - Authenticate: persona username/password login, returns a bearer
    session token
  - RequestAccessToken: exchange a session (or the caller's own mTLS
    identity) for a short-lived signed access token
  - IssueMandateSubmissionCode / SubmitMandate / FetchMandate: the
    downstream-authority mandate exchange (SPEC_FULL.md §13 item 1)
  - GenerateJoinToken / JoinCluster / ClusterStatus: Raft cluster
    membership
  - Messages: server-streaming RPC delivering events.ServiceMessages to
    a connected peer for the life of its stream

# Usage

	srv, err := api.NewServer(mgr, broker, dispatcher)
	if err != nil {
		log.Fatal(err)
	}
	rec.Start() // pkg/reconcile; a rotation does not change this server's tls.Config
	if err := srv.Start("0.0.0.0:8443"); err != nil {
		log.Fatal(err)
	}

# Leader forwarding

Write RPCs (ApplyDocument, SubmitMandate, IssueMandateSubmissionCode,
JoinCluster) check ensureLeader and return codes.FailedPrecondition with
the current leader's address when called on a follower. Read RPCs
(TestPolicy, FetchMandate, ClusterStatus, Messages) are served by any
node from its local replica.

# See Also

  - pkg/manager for the Raft-replicated state every write RPC proposes to
  - pkg/mtls for peer certificate extraction
  - pkg/events for the Broker and ServiceEventDispatcher this package feeds
*/
package api
