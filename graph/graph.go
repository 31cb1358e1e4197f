package graph

import "sync"

// Graph is the super-graph: a set of nodes plus deduplicated directed
// edges between them, safe for concurrent readers once built. Mutation
// goes exclusively through ChangeSet.Apply/Remove, following a
// single-writer pattern: collect ChangeSets from worker tasks, then
// apply them serially.
type Graph struct {
	mu    sync.RWMutex
	nodes map[NodeKey]Node
	edges map[edgeKey]struct{}
	out   map[NodeKey][]Edge
	in    map[NodeKey][]Edge
}

// New returns an empty graph.
func New() *Graph {
	return &Graph{
		nodes: make(map[NodeKey]Node),
		edges: make(map[edgeKey]struct{}),
		out:   make(map[NodeKey][]Edge),
		in:    make(map[NodeKey][]Edge),
	}
}

func (g *Graph) addNode(n Node) {
	if _, exists := g.nodes[n.Key]; exists {
		return
	}
	g.nodes[n.Key] = n
}

func (g *Graph) addEdge(e Edge) {
	ek := edgeKey{From: e.From, To: e.To, Kind: e.Kind}
	if _, exists := g.edges[ek]; exists {
		return
	}
	g.edges[ek] = struct{}{}
	g.out[e.From] = append(g.out[e.From], e)
	g.in[e.To] = append(g.in[e.To], e)
}

func (g *Graph) removeEdge(e Edge) {
	ek := edgeKey{From: e.From, To: e.To, Kind: e.Kind}
	if _, exists := g.edges[ek]; !exists {
		return
	}
	delete(g.edges, ek)
	g.out[e.From] = removeEdgeFrom(g.out[e.From], e)
	g.in[e.To] = removeEdgeFrom(g.in[e.To], e)
}

func removeEdgeFrom(edges []Edge, target Edge) []Edge {
	out := edges[:0]
	for _, e := range edges {
		if e == target {
			continue
		}
		out = append(out, e)
	}
	return out
}

// NodeCount returns the number of distinct nodes.
func (g *Graph) NodeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// EdgeCount returns the number of distinct edges.
func (g *Graph) EdgeCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges)
}

// Nodes returns every node in the graph, in no particular order.
func (g *Graph) Nodes() []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]Node, 0, len(g.nodes))
	for _, n := range g.nodes {
		out = append(out, n)
	}
	return out
}

// Node returns the node stored under key, if any.
func (g *Graph) Node(key NodeKey) (Node, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	n, ok := g.nodes[key]
	return n, ok
}

// Neighbors returns every node key reachable from key by one outgoing
// edge.
func (g *Graph) Neighbors(key NodeKey) []NodeKey {
	g.mu.RLock()
	defer g.mu.RUnlock()
	edges := g.out[key]
	out := make([]NodeKey, 0, len(edges))
	seen := make(map[NodeKey]bool, len(edges))
	for _, e := range edges {
		if seen[e.To] {
			continue
		}
		seen[e.To] = true
		out = append(out, e.To)
	}
	return out
}

// Incoming returns the edges pointing into key.
func (g *Graph) Incoming(key NodeKey) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.in[key]...)
}

// Outgoing returns the edges leaving key.
func (g *Graph) Outgoing(key NodeKey) []Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]Edge(nil), g.out[key]...)
}

// WalkIncomingConstants walks key's incoming edges up to depth hops,
// collecting every constant-bearing node (string, array-bytes, dynamic or
// static argument/return) it passes through, surfacing the transitive
// set of constants that reach a parameter.
func (g *Graph) WalkIncomingConstants(key NodeKey, depth int) []Node {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []Node
	visited := map[NodeKey]bool{key: true}
	frontier := []NodeKey{key}
	for d := 0; d < depth && len(frontier) > 0; d++ {
		var next []NodeKey
		for _, k := range frontier {
			for _, e := range g.in[k] {
				if visited[e.From] {
					continue
				}
				visited[e.From] = true
				n, ok := g.nodes[e.From]
				if !ok {
					continue
				}
				if isConstantNode(n.Kind) {
					out = append(out, n)
				}
				next = append(next, e.From)
			}
		}
		frontier = next
	}
	return out
}

func isConstantNode(k NodeKind) bool {
	switch k {
	case NodeString, NodeArrayBytes, NodeDynamicArgument, NodeDynamicReturn, NodeStaticArgument:
		return true
	default:
		return false
	}
}

// Subgraph extracts the portion of g reachable from start: a breadth-first
// walk of outgoing edges copying every node and intra-walk edge it
// crosses, plus the incoming edges from field nodes and their constant
// predecessors, since data flowing into a method is part of its context.
func (g *Graph) Subgraph(start NodeKey) *Graph {
	g.mu.RLock()
	defer g.mu.RUnlock()

	out := New()
	if n, ok := g.nodes[start]; ok {
		out.addNode(n)
	}

	visited := map[NodeKey]bool{start: true}
	queue := []NodeKey{start}
	for len(queue) > 0 {
		k := queue[0]
		queue = queue[1:]
		for _, e := range g.out[k] {
			if n, ok := g.nodes[e.To]; ok {
				out.addNode(n)
			}
			out.addEdge(e)
			if !visited[e.To] {
				visited[e.To] = true
				queue = append(queue, e.To)
			}
		}
		fields := []NodeKey{}
		if n, ok := g.nodes[k]; ok && n.Kind == NodeField {
			fields = append(fields, k)
		}
		for _, e := range g.in[k] {
			if predKind(g, e.From) == NodeField {
				out.addNode(g.nodes[e.From])
				out.addEdge(e)
				fields = append(fields, e.From)
			}
		}
		for _, fk := range fields {
			for _, e := range g.in[fk] {
				if from, ok := g.nodes[e.From]; ok {
					out.addNode(from)
					out.addEdge(e)
					for _, pred := range g.in[e.From] {
						if isConstantNode(predKind(g, pred.From)) {
							if pn, ok := g.nodes[pred.From]; ok {
								out.addNode(pn)
							}
							out.addEdge(pred)
						}
					}
				}
			}
		}
	}
	return out
}

func predKind(g *Graph, key NodeKey) NodeKind {
	if n, ok := g.nodes[key]; ok {
		return n.Kind
	}
	return -1
}
