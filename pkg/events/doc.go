/*
Package events provides two independent in-memory pub/sub mechanisms: a
cluster-wide Broker for security-relevant activity (logins, certificate
issuance, policy denials — spec §9's audit-adjacent structured logging,
not an audit-log export) and a ServiceEventDispatcher that pushes
ServiceMessages to the connected peer services holding open a gRPC
Messages stream (spec §9's "fresh stream of ServerConfig values pushed to
the gRPC server").

# Broker

Broker is topic-agnostic: every Event goes to every subscriber, same as
the teacher's cluster event bus. Subscribers are responsible for
filtering by EventType. Delivery is best-effort — a subscriber with a
full buffer simply misses the event rather than blocking the publisher.

	broker := events.NewBroker()
	broker.Start()
	defer broker.Stop()

	sub := broker.Subscribe()
	defer broker.Unsubscribe(sub)
	go func() {
		for ev := range sub {
			log.Info().Str("type", string(ev.Type)).Msg(ev.Message)
		}
	}()

	broker.Publish(&events.Event{Type: events.EventCertificateRotated, Message: "local identity rotated"})

# ServiceEventDispatcher

Unlike Broker's many-subscribers-get-everything model, ServiceEventDispatcher
targets a single service entity's open connections. pkg/api's Messages RPC
handler creates a ServiceConnection per accepted stream, subscribes it, and
ranges over Messages() for the life of the stream; cancelling the stream's
own context is how the dispatcher learns the connection is gone — there is
no separate unsubscribe call.

	conn := events.NewServiceConnection(stream.Context(), peerAddr)
	dispatcher.Subscribe(peerServiceID, conn)
	for msg := range conn.Messages() {
		stream.Send(toProto(msg))
	}

A slow connection (buffer full) gets a grace period before being dropped,
rather than blocking the broadcaster or silently dropping the message.

# See Also

  - pkg/api's ApplyDocument, which broadcasts ServiceMessagePolicyChanged
  - pkg/api for the gRPC surface both mechanisms feed
*/
package events
