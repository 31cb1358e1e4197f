package graph_test

import (
	"context"
	"testing"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/graph"
	"github.com/lookbusy1344/dexlab/internal/testfixture"
)

func loadTwoClass(t *testing.T) *dex.MultiDex {
	t.Helper()
	data := testfixture.TwoClassDex(t)
	f, err := dex.Decode(data, "twoclass.dex")
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	md := dex.NewMultiDex()
	if err := md.Add(f); err != nil {
		t.Fatalf("Add: %v", err)
	}
	return md
}

func TestBuildStructuralAndStaticEdges(t *testing.T) {
	md := loadTwoClass(t)
	g, err := graph.NewBuilder().Build(context.Background(), md, graph.DefaultBuildOptions())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	if _, ok := g.Node(graph.ClassKey("LA;")); !ok {
		t.Fatalf("missing class node for LA;")
	}
	if _, ok := g.Node(graph.ClassKey("LB;")); !ok {
		t.Fatalf("missing class node for LB;")
	}

	callerKey := graph.MethodKey("LA;->callB()V")
	calleeKey := graph.MethodKey("LB;->target()V")
	found := false
	for _, e := range g.Outgoing(callerKey) {
		if e.To == calleeKey && e.Kind == graph.EdgeCall {
			found = true
		}
	}
	if !found {
		t.Fatalf("missing EdgeCall from callB to target; outgoing=%v", g.Outgoing(callerKey))
	}

	stringFound := false
	for _, e := range g.Outgoing(graph.StringKey("secret")) {
		if e.To == calleeKey && e.Kind == graph.EdgeStringRef {
			stringFound = true
		}
	}
	if !stringFound {
		t.Fatalf("missing EdgeStringRef from \"secret\" to target")
	}
}

func TestBuildIsDeterministicAcrossRuns(t *testing.T) {
	md := loadTwoClass(t)
	b := graph.NewBuilder()
	g1, err := b.Build(context.Background(), md, graph.DefaultBuildOptions())
	if err != nil {
		t.Fatalf("Build #1: %v", err)
	}
	g2, err := b.Build(context.Background(), md, graph.DefaultBuildOptions())
	if err != nil {
		t.Fatalf("Build #2: %v", err)
	}
	if g1.NodeCount() != g2.NodeCount() || g1.EdgeCount() != g2.EdgeCount() {
		t.Fatalf("two builds over the same input disagree: (%d,%d) vs (%d,%d)",
			g1.NodeCount(), g1.EdgeCount(), g2.NodeCount(), g2.EdgeCount())
	}
}

func TestBuildWithWhitelistRunsDynamicPassWithoutError(t *testing.T) {
	md := loadTwoClass(t)
	opts := graph.DefaultBuildOptions()
	opts.Whitelist = []string{"LA;", "LB;"}
	g, err := graph.NewBuilder().Build(context.Background(), md, opts)
	if err != nil {
		t.Fatalf("Build with whitelist: %v", err)
	}
	if g.NodeCount() == 0 {
		t.Fatalf("whitelisted build produced an empty graph")
	}
}

func TestBuildRespectsCancelledContext(t *testing.T) {
	md := loadTwoClass(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := graph.NewBuilder().Build(ctx, md, graph.DefaultBuildOptions())
	if err == nil {
		t.Fatalf("Build with a pre-cancelled context returned no error")
	}
}
