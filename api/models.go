package api

import (
	"time"

	"github.com/lookbusy1344/dexlab/graph"
	"github.com/lookbusy1344/dexlab/xref"
)

// SessionCreateResponse is returned by POST /api/v1/dex once the uploaded
// bytes decode into a valid primary DEX.
type SessionCreateResponse struct {
	SessionID  string    `json:"sessionId"`
	DexID      string    `json:"dexId"`
	ClassCount int       `json:"classCount"`
	CreatedAt  time.Time `json:"createdAt"`
}

// SessionStatusResponse reports what a session currently holds.
type SessionStatusResponse struct {
	SessionID   string   `json:"sessionId"`
	DexIDs      []string `json:"dexIds"`
	ClassCount  int      `json:"classCount"`
	HasGraph    bool     `json:"hasGraph"`
	GraphStatus string   `json:"graphStatus,omitempty"` // "building", "ready", ""
}

// AddDexResponse is returned by POST /api/v1/session/{id}/dex, which loads
// a secondary DEX into an already-open session.
type AddDexResponse struct {
	DexID      string `json:"dexId"`
	ClassCount int    `json:"classCount"`
	TotalDexes int    `json:"totalDexes"`
}

// XrefRequest drives POST /api/v1/session/{id}/xref. Exactly one of the
// two search modes is selected: declaration-based (Kind + identifying
// fields) or, when Pattern is non-empty, a regex surface search.
type XrefRequest struct {
	Kind        string `json:"kind"` // "class" | "method" | "field" | "string" | "type" | "proto" | "static-field"
	ClassName   string `json:"className,omitempty"`
	MethodName  string `json:"methodName,omitempty"`
	FieldName   string `json:"fieldName,omitempty"`
	StringValue string `json:"stringValue,omitempty"`

	Pattern string   `json:"pattern,omitempty"` // when set, runs SearchRegex instead of FindReferences
	Kinds   []string `json:"kinds,omitempty"`   // ObjectKinds to search, for Pattern mode
}

// EvidenceResponse mirrors xref.Evidence as wire JSON.
type EvidenceResponse struct {
	Kind       string `json:"kind"`
	Confidence string `json:"confidence,omitempty"`
	Detail     string `json:"detail,omitempty"`
	DexID      string `json:"dexId,omitempty"`
	ClassName  string `json:"className,omitempty"`
	MethodSig  string `json:"methodSig,omitempty"`
	Offset     int    `json:"offset,omitempty"`
}

// XrefResponse wraps the Evidence list returned by a search.
type XrefResponse struct {
	Evidence []EvidenceResponse `json:"evidence"`
	Count    int                `json:"count"`
}

// GraphBuildRequest drives POST /api/v1/session/{id}/graph.
type GraphBuildRequest struct {
	Whitelist []string `json:"whitelist,omitempty"` // classes allowed dynamic emulation beyond <clinit>
}

// GraphBuildResponse acknowledges a build job has started; progress and
// completion are pushed over the WebSocket under the same session id.
type GraphBuildResponse struct {
	Started bool   `json:"started"`
	Message string `json:"message,omitempty"`
}

// NodeResponse mirrors graph.Node as wire JSON.
type NodeResponse struct {
	Key   string `json:"key"`
	Kind  string `json:"kind"`
	Label string `json:"label"`
	DexID string `json:"dexId,omitempty"`
}

// EdgeResponse mirrors graph.Edge as wire JSON.
type EdgeResponse struct {
	From string `json:"from"`
	To   string `json:"to"`
	Kind string `json:"kind"`
}

// SubgraphResponse is returned by GET .../graph/subgraph.
type SubgraphResponse struct {
	Nodes []NodeResponse `json:"nodes"`
	Edges []EdgeResponse `json:"edges"`
}

// ErrorResponse is the uniform error body for non-2xx responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
	Code    int    `json:"code,omitempty"`
}

// SuccessResponse is a simple acknowledgement body.
type SuccessResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// toEvidenceResponse converts one xref.Evidence to its wire form.
func toEvidenceResponse(ev xref.Evidence) EvidenceResponse {
	return EvidenceResponse{
		Kind:       evidenceKindString(ev.Kind),
		Confidence: ev.Confidence.String(),
		Detail:     ev.Detail,
		DexID:      ev.Location.DexID,
		ClassName:  ev.Location.ClassName,
		MethodSig:  ev.Location.MethodSig,
		Offset:     ev.Location.Offset,
	}
}

func evidenceKindString(k xref.EvidenceKind) string {
	switch k {
	case xref.EvidenceStringMatch:
		return "string-match"
	case xref.EvidenceInstructionPattern:
		return "instruction-pattern"
	case xref.EvidenceCrossReference:
		return "cross-reference"
	case xref.EvidenceNativeBytePattern:
		return "native-byte-pattern"
	default:
		return "unknown"
	}
}

// toNodeResponse converts one graph.Node to its wire form.
func toNodeResponse(n graph.Node) NodeResponse {
	return NodeResponse{Key: string(n.Key), Kind: n.Kind.String(), Label: n.Label, DexID: n.DexID}
}

// toEdgeResponse converts one graph.Edge to its wire form.
func toEdgeResponse(e graph.Edge) EdgeResponse {
	return EdgeResponse{From: string(e.From), To: string(e.To), Kind: e.Kind.String()}
}
