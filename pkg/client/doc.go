/*
Package client provides a Go client library for the Authly gRPC API.

It wraps pkg/api's hand-written json-codec gRPC service (see
pkg/api/codec.go and pkg/api/service.go) with a convenient, idiomatic Go
interface, handling mTLS connection setup and providing type-safe methods
for authlyctl's document-apply, policy-test, and mandate-submission
operations.

# Certificate loading

Unlike the teacher, Client never auto-requests a certificate: Authly's
certificate issuance is gated by the mandate-submission-code flow
(pkg/manager/mandate.go) or by cluster bootstrap, not a join token handed
to an arbitrary CLI invocation. NewClient loads an existing PEM
certificate/key/CA triple from a directory and dials with mTLS;
authlyctl's own "mandate submit" subcommand is what actually obtains that
triple, via SubmitMandate.

# Usage

	c, err := client.NewClient("authly.prod.svc:4433", "/home/op/.authly/cli")
	if err != nil {
		log.Fatal(err)
	}
	defer c.Close()

	resp, err := c.ApplyDocument(ctx, "fleet", documentYAML)
*/
package client
