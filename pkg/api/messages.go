package api

import "time"

// Wire messages for the hand-written gRPC service (see codec.go/service.go
// for why these carry json tags instead of being generated from .proto).
// Each mirrors one RPC's request/response pair, curated to SPEC_FULL.md's
// operations rather than the teacher's 30+ node/service/task/secret/volume
// methods.

// ApplyDocumentRequest carries one YAML document source to compile and
// apply against a named directory (spec §4.5). DirectoryLabel identifies
// an existing "document"-kind directory, or seeds a new one on first use.
type ApplyDocumentRequest struct {
	DirectoryLabel string `json:"directory_label"`
	DocumentYAML   string `json:"document_yaml"`
}

// DocErrorMessage is the wire form of document.DocError/policy.CompileError,
// flattened so a client never needs to import either package.
type DocErrorMessage struct {
	Kind   string `json:"kind"`
	Msg    string `json:"msg"`
	Line   int    `json:"line,omitempty"`
	Column int    `json:"column,omitempty"`
}

type ApplyDocumentResponse struct {
	Applied bool              `json:"applied"`
	Errors  []DocErrorMessage `json:"errors,omitempty"`
}

// TestPolicyRequest asks whether a known subject entity would be allowed
// against a known resource entity, under a directory's currently applied
// policy set (spec §4.6). Both refs are id.Any literal strings (e.g.
// "s.<hex>", "e.<hex>") already resolvable in storage — this RPC evaluates
// against persisted attribute assignments, it does not accept ad hoc
// attribute lists.
type TestPolicyRequest struct {
	DirectoryLabel string `json:"directory_label"`
	SubjectRef     string `json:"subject_ref"`
	ResourceRef    string `json:"resource_ref"`
}

type TestPolicyResponse struct {
	Outcome string `json:"outcome"` // "allow" or "deny"
}

// AuthenticateRequest is a persona password login (spec §3.2/§4.7).
type AuthenticateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type AuthenticateResponse struct {
	SessionToken string    `json:"session_token"`
	ExpiresAt    time.Time `json:"expires_at"`
}

// RequestAccessTokenRequest exchanges a bearer session (or, absent one,
// the mTLS-authenticated calling service's own identity) for a short-lived
// signed access token (spec §4.7).
type RequestAccessTokenRequest struct {
	SessionToken string   `json:"session_token,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

type RequestAccessTokenResponse struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// IssueMandateSubmissionCodeRequest mints a single-use code for a
// downstream authority-mandate exchange (SPEC_FULL.md §13 item 1). Only
// the calling authority's own mTLS identity is recorded as issuer — there
// is no request field for it.
type IssueMandateSubmissionCodeRequest struct{}

type IssueMandateSubmissionCodeResponse struct {
	Code      string    `json:"code"`
	ExpiresAt time.Time `json:"expires_at"`
}

// SubmitMandateRequest is the mandate instance side of the exchange:
// it presents the code out-of-band along with the local-CA public key it
// wants certified.
type SubmitMandateRequest struct {
	Code           string `json:"code"`
	MandateEntity  string `json:"mandate_entity"` // id.ServiceID literal
	PublicKeyDER   []byte `json:"public_key_der"`
}

type SubmitMandateResponse struct {
	CertificateDER []byte `json:"certificate_der"`
}

// FetchMandateRequest polls for a mandate grant recorded by SubmitMandate.
type FetchMandateRequest struct {
	MandateEntity string `json:"mandate_entity"`
}

type FetchMandateResponse struct {
	Granted            bool      `json:"granted"`
	GrantedByEntity     string    `json:"granted_by_entity,omitempty"`
	PublicKeyDER        []byte    `json:"public_key_der,omitempty"`
	LastConnectionTime time.Time `json:"last_connection_time,omitempty"`
}

// GenerateJoinTokenRequest mints a cluster-join token; leader-only.
type GenerateJoinTokenRequest struct {
	Role string `json:"role"` // "voter" or "nonvoter"
}

type GenerateJoinTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// JoinClusterRequest is presented by a new node once it holds a valid
// join token (out of band) and wants the leader to add it as a Raft
// voter.
type JoinClusterRequest struct {
	Token     string `json:"token"`
	NodeID    string `json:"node_id"`
	RaftAddr  string `json:"raft_addr"`
}

type JoinClusterResponse struct {
	Accepted bool `json:"accepted"`
}

// ClusterStatusRequest has no fields; status is read off the caller's own
// connected node.
type ClusterStatusRequest struct{}

type ClusterStatusResponse struct {
	IsLeader   bool     `json:"is_leader"`
	LeaderAddr string   `json:"leader_addr"`
	Peers      uint64   `json:"peers"`
	LastIndex  uint64   `json:"last_index"`
	Applied    uint64   `json:"applied"`
}

// MessagesRequest opens the server-streaming connection a connected
// service holds to receive ServiceMessages (spec §9's "fresh stream of
// ServerConfig values pushed to the gRPC server"). The peer's entity ID
// comes from its mTLS certificate, not this message.
type MessagesRequest struct{}

// MessageEnvelope is the wire form of events.ServiceMessage.
type MessageEnvelope struct {
	Kind string `json:"kind"`
}
