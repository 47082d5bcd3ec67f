// Package graph holds the node/edge domain entities shared by the store,
// the protocol, and the engine. Types here carry no sync behavior of
// their own; sync metadata is layered on top by Synced* wrappers.
package graph

import (
	"encoding/json"
	"time"

	"github.com/specai/graphsync/pkg/clock"
)

// NodeType is the closed enumeration of node kinds.
type NodeType string

const (
	NodeTypeEntity     NodeType = "Entity"
	NodeTypeConcept    NodeType = "Concept"
	NodeTypeFact       NodeType = "Fact"
	NodeTypeMessage    NodeType = "Message"
	NodeTypeToolResult NodeType = "ToolResult"
	NodeTypeEvent      NodeType = "Event"
	NodeTypeGoal       NodeType = "Goal"
)

// EdgeType is the edge-kind enumeration. Unlike NodeType it is open:
// any string not matching one of the named constants below is treated
// as a caller-defined custom relation.
type EdgeType string

const (
	EdgeTypeRelatesTo   EdgeType = "RelatesTo"
	EdgeTypeCausedBy    EdgeType = "CausedBy"
	EdgeTypePartOf      EdgeType = "PartOf"
	EdgeTypeMentions    EdgeType = "Mentions"
	EdgeTypeFollowsFrom EdgeType = "FollowsFrom"
	EdgeTypeUses        EdgeType = "Uses"
	EdgeTypeProduces    EdgeType = "Produces"
	EdgeTypeDependsOn   EdgeType = "DependsOn"
)

// IsCustom reports whether e does not match one of the named edge kinds.
func (e EdgeType) IsCustom() bool {
	switch e {
	case EdgeTypeRelatesTo, EdgeTypeCausedBy, EdgeTypePartOf, EdgeTypeMentions,
		EdgeTypeFollowsFrom, EdgeTypeUses, EdgeTypeProduces, EdgeTypeDependsOn:
		return false
	default:
		return true
	}
}

// Node is the externally visible entity surface. Sync metadata
// (vector clock, author, tombstone flag) is not part of this type; see
// SyncedNode.
type Node struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	NodeType    NodeType        `json:"node_type"`
	Label       string          `json:"label"`
	Properties  json.RawMessage `json:"properties,omitempty"`
	EmbeddingID *string         `json:"embedding_id,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// Edge mirrors Node for the edge relation.
type Edge struct {
	ID            int64           `json:"id"`
	SessionID     string          `json:"session_id"`
	SourceID      int64           `json:"source_id"`
	TargetID      int64           `json:"target_id"`
	EdgeType      EdgeType        `json:"edge_type"`
	Predicate     *string         `json:"predicate,omitempty"`
	Properties    json.RawMessage `json:"properties,omitempty"`
	Weight        float32         `json:"weight"`
	TemporalStart *time.Time      `json:"temporal_start,omitempty"`
	TemporalEnd   *time.Time      `json:"temporal_end,omitempty"`
}

// SyncMeta is the set of fields every sync-enabled entity carries in
// addition to its domain attributes.
type SyncMeta struct {
	VectorClock    clock.Clock `json:"vector_clock"`
	LastModifiedBy string      `json:"last_modified_by"`
	IsDeleted      bool        `json:"is_deleted"`
	SyncEnabled    bool        `json:"sync_enabled"`
}

// SyncedNode is a Node plus its sync metadata, returned by
// get_node_with_sync / list_nodes_with_sync.
type SyncedNode struct {
	Node
	SyncMeta
}

// SyncedEdge is an Edge plus its sync metadata.
type SyncedEdge struct {
	Edge
	SyncMeta
}

// EntityType names the two kinds of entity a Tombstone or ChangelogEntry
// can refer to.
type EntityType string

const (
	EntityTypeNode EntityType = "node"
	EntityTypeEdge EntityType = "edge"
)

// Tombstone is a durable marker that an entity has been deleted.
type Tombstone struct {
	EntityType EntityType  `json:"entity_type"`
	EntityID   int64       `json:"entity_id"`
	VectorClock clock.Clock `json:"vector_clock"`
	DeletedBy  string      `json:"deleted_by"`
	DeletedAt  time.Time   `json:"deleted_at"`
}

// Operation is the changelog's mutation kind.
type Operation string

const (
	OperationCreate Operation = "create"
	OperationUpdate Operation = "update"
	OperationDelete Operation = "delete"
)

// ChangelogEntry is one append-only audit row.
type ChangelogEntry struct {
	ID          int64           `json:"id"`
	SessionID   string          `json:"session_id"`
	InstanceID  string          `json:"instance_id"`
	EntityType  EntityType      `json:"entity_type"`
	EntityID    int64           `json:"entity_id"`
	Operation   Operation       `json:"operation"`
	VectorClock clock.Clock     `json:"vector_clock"`
	Data        json.RawMessage `json:"data,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
}

// Direction selects which edges traverse_neighbors follows from a node.
type Direction string

const (
	Outgoing Direction = "Outgoing"
	Incoming Direction = "Incoming"
	Both     Direction = "Both"
)

// Path is the result of find_shortest_path: an alternating node/edge
// sequence plus an informational weight sum.
type Path struct {
	Nodes  []Node  `json:"nodes"`
	Edges  []Edge  `json:"edges"`
	Weight float32 `json:"weight"`
	Hops   int     `json:"hops"`
}

// Stats summarizes the live state of one session's graph, as reported by
// Store.Stats and sampled by the metrics collector.
type Stats struct {
	SessionID      string   `json:"session_id"`
	NodeCount      int      `json:"node_count"`
	EdgeCount      int      `json:"edge_count"`
	TombstoneCount int      `json:"tombstone_count"`
	ChangelogCount int      `json:"changelog_count"`
	Graphs         []string `json:"graphs"`
}
