package store

import (
	bolt "go.etcd.io/bbolt"

	"github.com/specai/graphsync/pkg/graph"
)

const defaultMaxHops = 10

// liveEdgesTx returns every live edge for session, used as the BFS
// adjacency source for both traversal operations. It's a full bucket
// scan — graphs in this store are small enough per session that an
// in-memory adjacency build on each traversal call outperforms
// maintaining a separate on-disk index.
func (s *Store) liveEdgesTx(tx *bolt.Tx, session string) []graph.Edge {
	var out []graph.Edge
	_ = tx.Bucket([]byte(edgesBucket)).ForEach(func(_, v []byte) error {
		var e graph.SyncedEdge
		unmarshalLenient(s.logger, v, &e)
		if e.SessionID == session && !e.IsDeleted {
			out = append(out, e.Edge)
		}
		return nil
	})
	return out
}

// FindShortestPath runs unweighted BFS bounded by maxHops. Pass a
// negative maxHops to request the default of 10; maxHops=0 is a literal
// zero-hop search. path.weight is the informational sum of edge weights
// along the returned path; it is never used as search cost.
func (s *Store) FindShortestPath(session string, source, target int64, maxHops int) (*graph.Path, error) {
	if maxHops < 0 {
		maxHops = defaultMaxHops
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var result *graph.Path
	err := s.db.View(func(tx *bolt.Tx) error {
		src, ok := s.readNodeTx(tx, source)
		if !ok || src.IsDeleted {
			return nil
		}
		if source == target {
			result = &graph.Path{Nodes: []graph.Node{src.Node}, Edges: nil, Weight: 0, Hops: 0}
			return nil
		}
		tgt, ok := s.readNodeTx(tx, target)
		if !ok || tgt.IsDeleted {
			return nil
		}

		edges := s.liveEdgesTx(tx, session)
		adj := map[int64][]graph.Edge{}
		for _, e := range edges {
			adj[e.SourceID] = append(adj[e.SourceID], e)
		}

		type frame struct {
			node  int64
			path  []graph.Edge
			hops  int
		}
		visited := map[int64]bool{source: true}
		queue := []frame{{node: source, hops: 0}}

		for len(queue) > 0 {
			cur := queue[0]
			queue = queue[1:]

			if cur.hops >= maxHops {
				continue
			}
			for _, e := range adj[cur.node] {
				if visited[e.TargetID] {
					continue
				}
				nextPath := append(append([]graph.Edge{}, cur.path...), e)
				if e.TargetID == target {
					result = s.materializePathTx(tx, source, nextPath)
					return nil
				}
				visited[e.TargetID] = true
				queue = append(queue, frame{node: e.TargetID, path: nextPath, hops: cur.hops + 1})
			}
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "FindShortestPath", Err: err}
	}
	return result, nil
}

func (s *Store) materializePathTx(tx *bolt.Tx, source int64, edges []graph.Edge) *graph.Path {
	nodes := make([]graph.Node, 0, len(edges)+1)
	if n, ok := s.readNodeTx(tx, source); ok {
		nodes = append(nodes, n.Node)
	}
	var weight float32
	for _, e := range edges {
		weight += e.Weight
		if n, ok := s.readNodeTx(tx, e.TargetID); ok {
			nodes = append(nodes, n.Node)
		}
	}
	return &graph.Path{Nodes: nodes, Edges: edges, Weight: weight, Hops: len(edges)}
}

// TraverseNeighbors runs BFS up to depth hops from node, excluding the
// start node, following edges according to direction. depth=0 returns
// an empty slice.
func (s *Store) TraverseNeighbors(session string, node int64, direction graph.Direction, depth int) ([]graph.Node, error) {
	if depth <= 0 {
		return []graph.Node{}, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []graph.Node
	err := s.db.View(func(tx *bolt.Tx) error {
		if _, ok := s.readNodeTx(tx, node); !ok {
			return nil
		}

		edges := s.liveEdgesTx(tx, session)
		outAdj := map[int64][]int64{}
		inAdj := map[int64][]int64{}
		for _, e := range edges {
			outAdj[e.SourceID] = append(outAdj[e.SourceID], e.TargetID)
			inAdj[e.TargetID] = append(inAdj[e.TargetID], e.SourceID)
		}

		neighborsOf := func(id int64) []int64 {
			switch direction {
			case graph.Outgoing:
				return outAdj[id]
			case graph.Incoming:
				return inAdj[id]
			default:
				return append(append([]int64{}, outAdj[id]...), inAdj[id]...)
			}
		}

		visited := map[int64]bool{node: true}
		frontier := []int64{node}
		for d := 0; d < depth && len(frontier) > 0; d++ {
			var next []int64
			for _, cur := range frontier {
				for _, nb := range neighborsOf(cur) {
					if visited[nb] {
						continue
					}
					visited[nb] = true
					next = append(next, nb)
					if n, ok := s.readNodeTx(tx, nb); ok && !n.IsDeleted {
						out = append(out, n.Node)
					}
				}
			}
			frontier = next
		}
		return nil
	})
	if err != nil {
		return nil, &StorageError{Op: "TraverseNeighbors", Err: err}
	}
	if out == nil {
		out = []graph.Node{}
	}
	return out, nil
}
