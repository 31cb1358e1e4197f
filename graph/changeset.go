package graph

// ChangeSet is a batch of nodes and edges a single worker discovered,
// queued for serial application by one writer. Collecting ChangeSets
// from worker tasks and applying them serially avoids lock contention
// in the hot parsing loop.
type ChangeSet struct {
	Nodes []Node
	Edges []Edge
}

// Add appends a node/edge pair to cs, the shape every discovery site in
// the builder uses: "this edge, and the node it points at, if not already
// known".
func (cs *ChangeSet) Add(n Node, e Edge) {
	cs.Nodes = append(cs.Nodes, n)
	cs.Edges = append(cs.Edges, e)
}

// Merge folds other's nodes/edges into cs, for combining per-worker
// changesets before a single Apply call.
func (cs *ChangeSet) Merge(other ChangeSet) {
	cs.Nodes = append(cs.Nodes, other.Nodes...)
	cs.Edges = append(cs.Edges, other.Edges...)
}

// Apply writes cs into g under g's single writer lock. Nodes and edges
// already present are silently skipped, so applying the same ChangeSet
// twice never grows the graph: deleting and re-adding the same ChangeSet
// never increases the edge count.
func (cs ChangeSet) Apply(g *Graph) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, n := range cs.Nodes {
		g.addNode(n)
	}
	for _, e := range cs.Edges {
		g.addEdge(e)
	}
}

// Remove undoes cs's edges (nodes are left in place: other changesets may
// still reference them, and a node with no edges is harmless).
func (cs ChangeSet) Remove(g *Graph) {
	g.mu.Lock()
	defer g.mu.Unlock()
	for _, e := range cs.Edges {
		g.removeEdge(e)
	}
}
