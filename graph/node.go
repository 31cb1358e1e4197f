// Package graph builds the information super-graph: a directed graph over
// every decoded class, type, method, field, and string literal, enriched
// by the discoveries the concrete vm and symbolic flow packages make while
// walking each method body.
package graph

import "fmt"

// NodeKind enumerates the node weights the super-graph carries.
type NodeKind int

const (
	NodeClass NodeKind = iota
	NodeType
	NodeMethod
	NodeField
	NodeString
	NodeArrayBytes
	NodeDynamicArgument
	NodeDynamicReturn
	NodeStaticArgument
)

func (k NodeKind) String() string {
	switch k {
	case NodeClass:
		return "class"
	case NodeType:
		return "type"
	case NodeMethod:
		return "method"
	case NodeField:
		return "field"
	case NodeString:
		return "string"
	case NodeArrayBytes:
		return "array-bytes"
	case NodeDynamicArgument:
		return "dynamic-argument"
	case NodeDynamicReturn:
		return "dynamic-return"
	case NodeStaticArgument:
		return "static-argument"
	default:
		return "unknown"
	}
}

// NodeKey uniquely identifies a node. Keys are deterministic functions of
// what they name, so re-running the builder over the same input produces
// the same keys and therefore the same deduplicated graph.
type NodeKey string

// Node is one vertex of the super-graph.
type Node struct {
	Key   NodeKey
	Kind  NodeKind
	Label string
	DexID string
}

// ClassKey names the class-declaration node for a fully qualified class
// descriptor, e.g. "Lcom/example/Foo;".
func ClassKey(className string) NodeKey { return NodeKey("C" + className) }

// TypeKey names the type node for a type descriptor: one node per type
// name, keyed "T<name>".
func TypeKey(typeName string) NodeKey { return NodeKey("T" + typeName) }

// FieldKey names a field node, keyed by owning DEX, class type index, and
// name index: "F<dex>_<classIdx>_<nameIdx>".
func FieldKey(dexID string, classIdx, nameIdx uint32) NodeKey {
	return NodeKey(fmt.Sprintf("F%s_%d_%d", dexID, classIdx, nameIdx))
}

// MethodKey names a method node by its fully qualified signature, the
// same string dex.MethodPool.Signature and xref use.
func MethodKey(signature string) NodeKey { return NodeKey(signature) }

// StringKey names a string-literal node by its content, keyed
// "SN_<content>".
func StringKey(content string) NodeKey { return NodeKey("SN_" + content) }

// dynamicArgKey and dynamicReturnKey are content-addressed so repeated
// discovery of the same value at the same method never grows the node
// count: re-adding a ChangeSet must never increase the edge count.
func dynamicArgKey(methodSig, content string) NodeKey {
	return NodeKey("DA_" + methodSig + "_" + content)
}

func dynamicReturnKey(methodSig, content string) NodeKey {
	return NodeKey("DR_" + methodSig + "_" + content)
}

func staticArgKey(callerSig, calleeSig string, index int, content string) NodeKey {
	return NodeKey(fmt.Sprintf("SA_%s_%s_%d_%s", callerSig, calleeSig, index, content))
}
