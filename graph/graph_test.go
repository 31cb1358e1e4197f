package graph_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lookbusy1344/dexlab/graph"
)

func line(key graph.NodeKey, kind graph.NodeKind) graph.Node {
	return graph.Node{Key: key, Kind: kind, Label: string(key)}
}

func TestChangeSetApplyIsIdempotent(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(line("m", graph.NodeMethod), graph.Edge{From: "c", To: "m", Kind: graph.EdgeCall})
	cs.Nodes = append(cs.Nodes, line("c", graph.NodeMethod))

	cs.Apply(g)
	nodes, edges := g.NodeCount(), g.EdgeCount()
	if nodes == 0 || edges == 0 {
		t.Fatalf("Apply did not populate graph: nodes=%d edges=%d", nodes, edges)
	}

	cs.Apply(g)
	if g.NodeCount() != nodes || g.EdgeCount() != edges {
		t.Fatalf("second Apply changed counts: got nodes=%d edges=%d, want nodes=%d edges=%d",
			g.NodeCount(), g.EdgeCount(), nodes, edges)
	}
}

func TestChangeSetRemoveThenReapplyNeverGrowsEdgeCount(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(line("m", graph.NodeMethod), graph.Edge{From: "c", To: "m", Kind: graph.EdgeCall})
	cs.Nodes = append(cs.Nodes, line("c", graph.NodeMethod))
	cs.Apply(g)

	before := g.EdgeCount()
	cs.Remove(g)
	cs.Apply(g)
	if g.EdgeCount() != before {
		t.Fatalf("remove+reapply changed edge count: got %d, want %d", g.EdgeCount(), before)
	}
}

func TestNeighborsDeduplicates(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(line("b", graph.NodeMethod), graph.Edge{From: "a", To: "b", Kind: graph.EdgeCall})
	cs.Add(line("b", graph.NodeMethod), graph.Edge{From: "a", To: "b", Kind: graph.EdgeStringRef})
	cs.Apply(g)

	got := g.Neighbors("a")
	if len(got) != 1 || got[0] != "b" {
		t.Fatalf("Neighbors(a) = %v, want exactly [b]", got)
	}
}

func TestWalkIncomingConstants(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(graph.Node{Key: "SN_secret", Kind: graph.NodeString, Label: "secret"},
		graph.Edge{From: "SN_secret", To: "m", Kind: graph.EdgeStringRef})
	cs.Nodes = append(cs.Nodes, line("m", graph.NodeMethod))
	cs.Apply(g)

	constants := g.WalkIncomingConstants("m", 2)
	if len(constants) != 1 || constants[0].Key != "SN_secret" {
		t.Fatalf("WalkIncomingConstants(m) = %+v, want [SN_secret]", constants)
	}
}

func TestWalkIncomingConstantsRespectsDepth(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(graph.Node{Key: "SN_secret", Kind: graph.NodeString, Label: "secret"},
		graph.Edge{From: "SN_secret", To: "mid", Kind: graph.EdgeStringRef})
	cs.Nodes = append(cs.Nodes, line("mid", graph.NodeMethod))
	cs.Edges = append(cs.Edges, graph.Edge{From: "mid", To: "m", Kind: graph.EdgeCall})
	cs.Nodes = append(cs.Nodes, line("m", graph.NodeMethod))
	cs.Apply(g)

	if got := g.WalkIncomingConstants("m", 1); len(got) != 0 {
		t.Fatalf("WalkIncomingConstants(m, 1) = %+v, want none (constant is two hops away)", got)
	}
	if got := g.WalkIncomingConstants("m", 2); len(got) != 1 || got[0].Key != "SN_secret" {
		t.Fatalf("WalkIncomingConstants(m, 2) = %+v, want [SN_secret]", got)
	}
}

func TestSubgraphIncludesFieldPredecessors(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(graph.Node{Key: "writer", Kind: graph.NodeMethod, Label: "writer"},
		graph.Edge{From: "writer", To: "f", Kind: graph.EdgeFieldWrite})
	cs.Nodes = append(cs.Nodes, graph.Node{Key: "f", Kind: graph.NodeField, Label: "f"})
	cs.Edges = append(cs.Edges, graph.Edge{From: "f", To: "reader", Kind: graph.EdgeFieldRead})
	cs.Nodes = append(cs.Nodes, graph.Node{Key: "reader", Kind: graph.NodeMethod, Label: "reader"})
	cs.Edges = append(cs.Edges, graph.Edge{From: "SN_lit", To: "writer", Kind: graph.EdgeStringRef})
	cs.Nodes = append(cs.Nodes, graph.Node{Key: "SN_lit", Kind: graph.NodeString, Label: "lit"})
	cs.Apply(g)

	sub := g.Subgraph("reader")
	if _, ok := sub.Node("f"); !ok {
		t.Fatalf("Subgraph(reader) missing field predecessor f")
	}
	if _, ok := sub.Node("writer"); !ok {
		t.Fatalf("Subgraph(reader) missing field's writer")
	}
	if _, ok := sub.Node("SN_lit"); !ok {
		t.Fatalf("Subgraph(reader) missing the constant feeding the field write")
	}
}

func TestNodesEnumeratesEverySubgraphMember(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(line("b", graph.NodeMethod), graph.Edge{From: "a", To: "b", Kind: graph.EdgeCall})
	cs.Nodes = append(cs.Nodes, line("a", graph.NodeMethod))
	cs.Apply(g)

	sub := g.Subgraph("a")
	require.Len(t, sub.Nodes(), 2)

	keys := make(map[graph.NodeKey]bool)
	for _, n := range sub.Nodes() {
		keys[n.Key] = true
	}
	assert.True(t, keys["a"])
	assert.True(t, keys["b"])
}

func TestSubgraphExcludesUnreachableNodes(t *testing.T) {
	g := graph.New()
	var cs graph.ChangeSet
	cs.Add(line("b", graph.NodeMethod), graph.Edge{From: "a", To: "b", Kind: graph.EdgeCall})
	cs.Nodes = append(cs.Nodes, line("unrelated", graph.NodeMethod))
	cs.Apply(g)

	sub := g.Subgraph("a")
	if _, ok := sub.Node("unrelated"); ok {
		t.Fatalf("Subgraph(a) should not contain an unreachable node")
	}
	if _, ok := sub.Node("b"); !ok {
		t.Fatalf("Subgraph(a) missing reachable node b")
	}
}
