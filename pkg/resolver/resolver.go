// Package resolver classifies a Concurrent conflict and chooses an
// outcome. It is invoked only after the Engine's causal comparison
// returns clock.Concurrent; a Before/After/Equal pair never reaches
// here.
package resolver

import (
	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

// Outcome is the tagged result of resolving a conflict.
type Outcome int

const (
	// AcceptRemote overwrites local with the incoming version.
	AcceptRemote Outcome = iota
	// KeepLocal discards the incoming version.
	KeepLocal
	// Merged applies a computed value instead of either side.
	Merged
	// RequiresManualReview escalates; neither side is applied.
	RequiresManualReview
)

func (o Outcome) String() string {
	switch o {
	case AcceptRemote:
		return "AcceptRemote"
	case KeepLocal:
		return "KeepLocal"
	case Merged:
		return "Merged"
	default:
		return "RequiresManualReview"
	}
}

// Resolution is the advisory result returned to the Engine, which is
// responsible for actually persisting it.
type Resolution struct {
	Outcome     Outcome
	MergedValue *graph.SyncedNode
}

// Policy is the pluggable conflict-resolution seam. The baseline policy
// is last-writer-wins by author id; production deployments can swap in
// a property-merge CRDT without the Engine changing at all.
type Policy interface {
	ResolveNode(incoming, local graph.SyncedNode, ourClock clock.Clock) Resolution
	ResolveEdge(incoming, local graph.SyncedEdge, ourClock clock.Clock) Resolution
}

// LastWriterWins is the baseline Policy: the version whose author id
// sorts lexicographically greater wins deterministically on both sides
// of a concurrent write.
type LastWriterWins struct{}

func (LastWriterWins) ResolveNode(incoming, local graph.SyncedNode, _ clock.Clock) Resolution {
	if incoming.LastModifiedBy > local.LastModifiedBy {
		return Resolution{Outcome: AcceptRemote}
	}
	return Resolution{Outcome: KeepLocal}
}

func (LastWriterWins) ResolveEdge(incoming, local graph.SyncedEdge, _ clock.Clock) Resolution {
	if incoming.LastModifiedBy > local.LastModifiedBy {
		return Resolution{Outcome: AcceptRemote}
	}
	return Resolution{Outcome: KeepLocal}
}

// DefaultPolicy is the Policy used when the Engine is not configured
// with a different one.
var DefaultPolicy Policy = LastWriterWins{}

// ResolveNode is a convenience wrapper over DefaultPolicy for callers
// that have not injected their own Policy.
func ResolveNode(incoming, local graph.SyncedNode, ourClock clock.Clock) Resolution {
	return DefaultPolicy.ResolveNode(incoming, local, ourClock)
}

// ResolveEdge mirrors ResolveNode for edges.
func ResolveEdge(incoming, local graph.SyncedEdge, ourClock clock.Clock) Resolution {
	return DefaultPolicy.ResolveEdge(incoming, local, ourClock)
}
