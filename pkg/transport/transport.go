// Package transport moves protocol.Payload documents between instances.
// The Engine and Store never import this package; it is the other way
// around, so a deployment can swap HTTP for any other carrier without
// touching sync logic.
package transport

import (
	"context"

	"github.com/specai/graphsync/pkg/protocol"
)

// Transport carries the two halves of one bidirectional sync round with
// a peer at addr: ask for their state (RequestSync), then hand them ours
// (Apply).
type Transport interface {
	// RequestSync sends req (a RequestFull or RequestIncremental
	// payload carrying this instance's clock) and returns the peer's
	// Full or Incremental response.
	RequestSync(ctx context.Context, addr string, req protocol.Payload) (protocol.Payload, error)
	// Apply sends a Full or Incremental payload for the peer to apply
	// against its own store, returning its Ack.
	Apply(ctx context.Context, addr string, payload protocol.Payload) (protocol.Ack, error)
}
