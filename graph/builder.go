package graph

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/lookbusy1344/dexlab/dex"
)

// BuildOptions configures how Builder.Build explores a dex.MultiDex.
type BuildOptions struct {
	// Whitelist names the classes dynamic discovery is allowed to execute
	// code from, beyond the always-allowed <clinit> initializers, so the
	// builder never runs arbitrary untrusted app code by default.
	Whitelist []string

	// MaxDynamicResumes bounds how many breakpoint-resume round trips one
	// method's dynamic scan may take before giving up. Zero picks a value
	// derived from the breakpoints actually armed for that method.
	MaxDynamicResumes int

	// HeapSeed, MaxMallocRetries, MaxInstructions, MaxStackDepth are
	// forwarded to each scan's vm.Machine; zero values fall back to the
	// machine's own defaults.
	HeapSeed         uint32
	MaxMallocRetries int
	MaxInstructions  int
	MaxStackDepth    int
}

// DefaultBuildOptions returns the options Build uses when none are
// supplied, a deterministic heap seed paired with a small resume bound.
func DefaultBuildOptions() BuildOptions {
	return BuildOptions{HeapSeed: 0xFFFFFFFF, MaxDynamicResumes: 8}
}

// Builder assembles a Graph from a decoded dex.MultiDex in two passes:
// a structural pass wiring class/type/interface relationships, then a
// per-method pass combining static instruction scanning, symbolic
// constant-argument discovery, and bounded concrete execution.
type Builder struct{}

// NewBuilder returns a ready-to-use Builder.
func NewBuilder() *Builder { return &Builder{} }

// Build walks dexes and returns the resulting Graph. A non-nil error means
// ctx was cancelled partway through; the Graph returned still holds
// whatever the builder had already applied at that point.
func (b *Builder) Build(ctx context.Context, dexes *dex.MultiDex, opts BuildOptions) (*Graph, error) {
	if opts.HeapSeed == 0 {
		opts.HeapSeed = 0xFFFFFFFF
	}
	g := New()

	if err := b.structuralPass(ctx, dexes, g); err != nil {
		return g, fmt.Errorf("graph: structural pass: %w", err)
	}
	if err := b.methodPass(ctx, dexes, opts, g); err != nil {
		return g, fmt.Errorf("graph: method pass: %w", err)
	}
	return g, nil
}

// structuralPass wires class/type/supertype/interface edges for every
// class in dexes, fanning out one worker per DEX file and applying each
// file's ChangeSet serially once its worker returns.
func (b *Builder) structuralPass(ctx context.Context, dexes *dex.MultiDex, g *Graph) error {
	files := dexes.Files()
	sets := make([]ChangeSet, len(files))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, f := range files {
		i, f := i, f
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			cs := classHierarchyChangeSet(f)
			cs.Merge(implementerMethodChangeSet(f))
			sets[i] = cs
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for _, cs := range sets {
		cs.Apply(g)
	}
	return nil
}

// classHierarchyChangeSet wires one DEX file's class/type/supertype/
// interface-implements edges, forming the structural pass.
func classHierarchyChangeSet(f *dex.File) ChangeSet {
	var cs ChangeSet
	for _, cd := range f.Classes.All() {
		classKey := ClassKey(cd.Name)
		typeKey := TypeKey(cd.Name)
		cs.Add(Node{Key: classKey, Kind: NodeClass, Label: cd.Name, DexID: f.ID()},
			Edge{From: classKey, To: typeKey, Kind: EdgeInstanceOf})
		cs.Nodes = append(cs.Nodes, Node{Key: typeKey, Kind: NodeType, Label: cd.Name, DexID: f.ID()})

		if cd.SuperclassName != "" {
			superKey := TypeKey(cd.SuperclassName)
			cs.Nodes = append(cs.Nodes, Node{Key: superKey, Kind: NodeType, Label: cd.SuperclassName, DexID: f.ID()})
			cs.Edges = append(cs.Edges, Edge{From: typeKey, To: superKey, Kind: EdgeSupertype})
		}

		for _, ifaceIdx := range cd.Interfaces {
			ifaceName := f.Types.Name(ifaceIdx)
			ifaceKey := TypeKey(ifaceName)
			cs.Nodes = append(cs.Nodes, Node{Key: ifaceKey, Kind: NodeType, Label: ifaceName, DexID: f.ID()})
			cs.Edges = append(cs.Edges, Edge{From: ifaceKey, To: classKey, Kind: EdgeImplements})
		}
	}
	return cs
}

// implementerMethodChangeSet matches each interface's methods against its
// implementors' own methods by name and prototype, wiring an
// EdgeImplementsMethod edge for every override found.
func implementerMethodChangeSet(f *dex.File) ChangeSet {
	var cs ChangeSet
	for _, cd := range f.Classes.All() {
		if cd.AccessFlags&dex.AccInterface == 0 || cd.Stub || cd.Data == nil {
			continue
		}
		ifaceMethods := append(append([]dex.EncodedMember{}, cd.Data.DirectMethods...), cd.Data.VirtualMethods...)
		for _, implName := range f.Classes.Implementers(cd.Name) {
			implCD, ok := f.Classes.Get(implName)
			if !ok || implCD.Stub || implCD.Data == nil {
				continue
			}
			implMethods := append(append([]dex.EncodedMember{}, implCD.Data.DirectMethods...), implCD.Data.VirtualMethods...)
			for _, im := range ifaceMethods {
				imName := f.Methods.Name(im.Index)
				imProtoIdx := f.Methods.Get(im.Index).Proto
				for _, cm := range implMethods {
					if f.Methods.Name(cm.Index) != imName {
						continue
					}
					if f.Methods.Get(cm.Index).Proto != imProtoIdx {
						continue
					}
					ifaceSig := f.Methods.Signature(im.Index, f.Types, f.Protos)
					implSig := f.Methods.Signature(cm.Index, f.Types, f.Protos)
					cs.Add(Node{Key: MethodKey(implSig), Kind: NodeMethod, Label: implSig, DexID: f.ID()},
						Edge{From: MethodKey(ifaceSig), To: MethodKey(implSig), Kind: EdgeImplementsMethod})
					cs.Nodes = append(cs.Nodes, Node{Key: MethodKey(ifaceSig), Kind: NodeMethod, Label: ifaceSig, DexID: f.ID()})
					break
				}
			}
		}
	}
	return cs
}

// methodPass fans out one worker per (dex, class) pair over dexes, each
// worker building the ChangeSet for every method body and class-level
// annotation in its class, then applies every resulting ChangeSet serially.
func (b *Builder) methodPass(ctx context.Context, dexes *dex.MultiDex, opts BuildOptions, g *Graph) error {
	items := dexes.AllClasses()
	sets := make([][]ChangeSet, len(items))

	eg, egCtx := errgroup.WithContext(ctx)
	for i, item := range items {
		i, item := i, item
		eg.Go(func() error {
			if err := egCtx.Err(); err != nil {
				return err
			}
			sets[i] = classChangeSets(dexes, item.Dex, item.Class, opts)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return err
	}
	for _, classSets := range sets {
		for _, cs := range classSets {
			cs.Apply(g)
		}
	}
	return nil
}

// classChangeSets builds one ChangeSet per method body in cd, plus one for
// its class-level annotation literals. A panic from any one method (a
// malformed code body, a flow or vm bug) is recovered and drops that
// class's whole contribution rather than poisoning the whole build.
func classChangeSets(dexes *dex.MultiDex, f *dex.File, cd *dex.ClassDef, opts BuildOptions) (out []ChangeSet) {
	defer func() {
		if recover() != nil {
			out = nil
		}
	}()
	if cd.Stub || cd.Data == nil {
		return nil
	}

	members := append(append([]dex.EncodedMember{}, cd.Data.DirectMethods...), cd.Data.VirtualMethods...)
	for _, member := range members {
		code, ok := f.MethodCode(member.Index)
		if !ok {
			continue
		}
		out = append(out, methodChangeSet(dexes, f, cd, member, code, opts))
	}
	if len(cd.Annotations) > 0 {
		out = append(out, annotationChangeSet(f, cd))
	}
	return out
}

// methodChangeSet combines the static, symbolic, and (where permitted)
// dynamic discovery passes for one method body.
func methodChangeSet(dexes *dex.MultiDex, f *dex.File, cd *dex.ClassDef, member dex.EncodedMember, code *dex.CodeItem, opts BuildOptions) ChangeSet {
	sig := f.Methods.Signature(member.Index, f.Types, f.Protos)
	var cs ChangeSet
	cs.Nodes = append(cs.Nodes, Node{Key: MethodKey(sig), Kind: NodeMethod, Label: sig, DexID: f.ID()})

	staticScan(f, sig, code, &cs)
	symbolicScan(f, sig, code, &cs)

	if f.Methods.Name(member.Index) == "<clinit>" || whitelisted(cd.Name, opts.Whitelist) {
		dynamicScan(dexes, f, cd, member, sig, code, opts, &cs)
	}
	return cs
}

func whitelisted(className string, list []string) bool {
	for _, c := range list {
		if c == className {
			return true
		}
	}
	return false
}
