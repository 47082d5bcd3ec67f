// Package protocol defines the value types exchanged between
// instances during a sync round. Types here carry no behavior beyond
// construction helpers; the Engine does the work.
package protocol

import (
	"github.com/google/uuid"

	"github.com/specai/graphsync/pkg/clock"
	"github.com/specai/graphsync/pkg/graph"
)

// SyncType tags the kind of payload being exchanged.
type SyncType string

const (
	RequestFull        SyncType = "request_full"
	RequestIncremental SyncType = "request_incremental"
	Full               SyncType = "full"
	Incremental        SyncType = "incremental"
	AckType            SyncType = "ack"
	ConflictType       SyncType = "conflict"
)

// Payload is the structured document shipped over the transport.
// Request variants carry empty node/edge/tombstone collections but a
// non-empty vector_clock identifying the sender's state.
type Payload struct {
	SyncType     SyncType             `json:"sync_type"`
	SessionID    string               `json:"session_id"`
	GraphName    string               `json:"graph_name,omitempty"`
	VectorClock  clock.Clock          `json:"vector_clock"`
	Nodes        []graph.SyncedNode   `json:"nodes"`
	Edges        []graph.SyncedEdge   `json:"edges"`
	Tombstones   []graph.Tombstone    `json:"tombstones"`
	CorrelationID string              `json:"correlation_id,omitempty"`
	ConflictInfo *string              `json:"conflict_info,omitempty"`
}

// normalize replaces nil node/edge/tombstone collections with empty
// slices. The constructors below call it; a Payload decoded from JSON
// with absent collections is not normalized and holds nil slices.
func (p *Payload) normalize() {
	if p.Nodes == nil {
		p.Nodes = []graph.SyncedNode{}
	}
	if p.Edges == nil {
		p.Edges = []graph.SyncedEdge{}
	}
	if p.Tombstones == nil {
		p.Tombstones = []graph.Tombstone{}
	}
}

// Ack summarizes the result of applying a payload.
type Ack struct {
	NodesApplied       int         `json:"nodes_applied"`
	EdgesApplied       int         `json:"edges_applied"`
	TombstonesApplied  int         `json:"tombstones_applied"`
	ConflictsDetected  int         `json:"conflicts_detected"`
	VectorClock        clock.Clock `json:"vector_clock"`
}

// NewFullRequest builds a RequestFull payload carrying only the
// sender's current clock.
func NewFullRequest(session, graphName string, vc clock.Clock) Payload {
	p := Payload{
		SyncType:      RequestFull,
		SessionID:     session,
		GraphName:     graphName,
		VectorClock:   vc,
		CorrelationID: uuid.NewString(),
	}
	p.normalize()
	return p
}

// NewIncrementalRequest builds a RequestIncremental payload.
func NewIncrementalRequest(session, graphName string, vc clock.Clock) Payload {
	p := Payload{
		SyncType:      RequestIncremental,
		SessionID:     session,
		GraphName:     graphName,
		VectorClock:   vc,
		CorrelationID: uuid.NewString(),
	}
	p.normalize()
	return p
}

// NewFullPayload builds the response to a RequestFull: every live
// sync_enabled entity plus the sender's current clock and no
// tombstones.
func NewFullPayload(session, graphName string, vc clock.Clock, nodes []graph.SyncedNode, edges []graph.SyncedEdge) Payload {
	p := Payload{
		SyncType:    Full,
		SessionID:   session,
		GraphName:   graphName,
		VectorClock: vc,
		Nodes:       nodes,
		Edges:       edges,
	}
	p.normalize()
	return p
}

// NewIncrementalPayload builds an Incremental payload carrying only the
// entities and tombstones the peer has not yet observed.
func NewIncrementalPayload(session, graphName string, vc clock.Clock, nodes []graph.SyncedNode, edges []graph.SyncedEdge, tombstones []graph.Tombstone) Payload {
	p := Payload{
		SyncType:    Incremental,
		SessionID:   session,
		GraphName:   graphName,
		VectorClock: vc,
		Nodes:       nodes,
		Edges:       edges,
		Tombstones:  tombstones,
	}
	p.normalize()
	return p
}

// NewAck builds an Ack from the stats of an apply round.
func NewAck(nodesApplied, edgesApplied, tombstonesApplied, conflictsDetected int, vc clock.Clock) Ack {
	return Ack{
		NodesApplied:      nodesApplied,
		EdgesApplied:      edgesApplied,
		TombstonesApplied: tombstonesApplied,
		ConflictsDetected: conflictsDetected,
		VectorClock:       vc,
	}
}

// IsRequest reports whether p is one of the two request variants.
func (p Payload) IsRequest() bool {
	return p.SyncType == RequestFull || p.SyncType == RequestIncremental
}
