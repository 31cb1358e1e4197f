package api

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"

	"github.com/lookbusy1344/dexlab/dex"
	"github.com/lookbusy1344/dexlab/graph"
	"github.com/lookbusy1344/dexlab/xref"
)

const maxDexUpload = 64 * 1024 * 1024 // 64MB

// handleLoadDex handles POST /api/v1/dex: the request body is a raw DEX
// byte image. A new session is opened with it as the primary DEX.
func (s *Server) handleLoadDex(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	data, err := readLimited(r, maxDexUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read body: %v", err))
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "upload.dex"
	}

	f, err := dex.Decode(data, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to decode DEX: %v", err))
		return
	}

	session, err := s.sessions.CreateSession()
	if err != nil {
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to create session: %v", err))
		return
	}
	if err := session.Dexes.Add(f); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	s.broadcastSession(session.ID, map[string]interface{}{"event": "dex_loaded", "dexId": f.ID()})

	writeJSON(w, http.StatusCreated, SessionCreateResponse{
		SessionID:  session.ID,
		DexID:      f.ID(),
		ClassCount: len(f.Classes.All()),
		CreatedAt:  session.CreatedAt,
	})
}

// handleListSessions handles GET /api/v1/session.
func (s *Server) handleListSessions(w http.ResponseWriter, r *http.Request) {
	ids := s.sessions.ListSessions()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"sessions": ids,
		"count":    len(ids),
	})
}

// handleGetSessionStatus handles GET /api/v1/session/{id}.
func (s *Server) handleGetSessionStatus(w http.ResponseWriter, r *http.Request, sessionID string) {
	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	dexIDs := make([]string, 0, session.Dexes.Len())
	classCount := 0
	for _, f := range session.Dexes.Files() {
		dexIDs = append(dexIDs, f.ID())
		classCount += len(f.Classes.All())
	}

	building, ready := session.status()
	status := ""
	switch {
	case building:
		status = "building"
	case ready:
		status = "ready"
	}

	writeJSON(w, http.StatusOK, SessionStatusResponse{
		SessionID:   sessionID,
		DexIDs:      dexIDs,
		ClassCount:  classCount,
		HasGraph:    ready,
		GraphStatus: status,
	})
}

// handleDestroySession handles DELETE /api/v1/session/{id}.
func (s *Server) handleDestroySession(w http.ResponseWriter, r *http.Request, sessionID string) {
	if err := s.sessions.DestroySession(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true, Message: "Session destroyed"})
}

// handleAddDex handles POST /api/v1/session/{id}/dex: loads a secondary
// DEX into an already-open session.
func (s *Server) handleAddDex(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	data, err := readLimited(r, maxDexUpload)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to read body: %v", err))
		return
	}

	name := r.URL.Query().Get("name")
	if name == "" {
		name = "secondary.dex"
	}

	f, err := dex.Decode(data, name)
	if err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("Failed to decode DEX: %v", err))
		return
	}
	if err := session.Dexes.Add(f); err != nil {
		writeError(w, http.StatusConflict, err.Error())
		return
	}

	s.broadcastSession(sessionID, map[string]interface{}{"event": "dex_loaded", "dexId": f.ID()})

	writeJSON(w, http.StatusOK, AddDexResponse{
		DexID:      f.ID(),
		ClassCount: len(f.Classes.All()),
		TotalDexes: session.Dexes.Len(),
	})
}

// handleXref handles POST /api/v1/session/{id}/xref.
func (s *Server) handleXref(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	var req XrefRequest
	if err := readJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	idx := xref.NewIndex()
	var evidence []xref.Evidence

	if req.Pattern != "" {
		re, err := regexp.Compile(req.Pattern)
		if err != nil {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Invalid pattern: %v", err))
			return
		}
		kinds := make([]xref.ObjectKind, 0, len(req.Kinds))
		for _, k := range req.Kinds {
			kind, ok := parseObjectKind(k)
			if !ok {
				writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown kind: %s", k))
				return
			}
			kinds = append(kinds, kind)
		}
		evidence = idx.SearchRegex(re, kinds, session.Dexes)
	} else {
		kind, ok := parseObjectKind(req.Kind)
		if !ok {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("Unknown kind: %s", req.Kind))
			return
		}
		ctx := xref.Context{
			Kind:        kind,
			ClassName:   req.ClassName,
			MethodName:  req.MethodName,
			FieldName:   req.FieldName,
			StringValue: req.StringValue,
		}
		evidence = idx.FindReferences(ctx, session.Dexes)
	}

	out := make([]EvidenceResponse, len(evidence))
	for i, ev := range evidence {
		out[i] = toEvidenceResponse(ev)
	}
	writeJSON(w, http.StatusOK, XrefResponse{Evidence: out, Count: len(out)})
}

// handleBuildGraph handles POST /api/v1/session/{id}/graph: starts a
// background super-graph build and immediately returns; progress and
// completion are pushed to any subscribed WebSocket client.
func (s *Server) handleBuildGraph(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}
	if building, _ := session.status(); building {
		writeError(w, http.StatusConflict, "Graph build already in progress")
		return
	}

	var req GraphBuildRequest
	_ = readJSON(r, &req) // empty body is a valid "no whitelist" request

	session.setBuilding(true)
	s.broadcastExecutionEvent(sessionID, "graph_build_started", nil)

	go func() {
		builder := graph.NewBuilder()
		opts := graph.DefaultBuildOptions()
		opts.Whitelist = req.Whitelist

		g, buildErr := builder.Build(context.Background(), session.Dexes, opts)
		if buildErr != nil {
			session.setBuilding(false)
			s.broadcastExecutionEvent(sessionID, "graph_build_failed", map[string]interface{}{
				"message": buildErr.Error(),
			})
			return
		}
		session.setGraph(g)
		s.broadcastExecutionEvent(sessionID, "graph_build_complete", map[string]interface{}{
			"nodeCount": g.NodeCount(),
			"edgeCount": g.EdgeCount(),
		})
	}()

	writeJSON(w, http.StatusAccepted, GraphBuildResponse{Started: true})
}

// handleSubgraph handles GET /api/v1/session/{id}/graph/subgraph?node=...
func (s *Server) handleSubgraph(w http.ResponseWriter, r *http.Request, sessionID string) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	session, err := s.sessions.GetSession(sessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "Session not found")
		return
	}

	g, ready := session.Graph()
	if !ready {
		writeError(w, http.StatusConflict, "Graph has not been built yet")
		return
	}

	nodeKey := r.URL.Query().Get("node")
	if nodeKey == "" {
		writeError(w, http.StatusBadRequest, "node query parameter required")
		return
	}

	sub := g.Subgraph(graph.NodeKey(nodeKey))
	resp := SubgraphResponse{}
	for _, n := range sub.Nodes() {
		resp.Nodes = append(resp.Nodes, toNodeResponse(n))
		for _, e := range sub.Outgoing(n.Key) {
			resp.Edges = append(resp.Edges, toEdgeResponse(e))
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

// parseObjectKind maps the wire string form to xref.ObjectKind.
func parseObjectKind(s string) (xref.ObjectKind, bool) {
	switch s {
	case "class":
		return xref.KindClass, true
	case "method":
		return xref.KindMethod, true
	case "field":
		return xref.KindField, true
	case "string":
		return xref.KindString, true
	case "type":
		return xref.KindType, true
	case "proto":
		return xref.KindProto, true
	case "static-field":
		return xref.KindStaticField, true
	default:
		return 0, false
	}
}

// broadcastExecutionEvent pushes a named event over the WebSocket, when a
// broadcaster is configured.
func (s *Server) broadcastExecutionEvent(sessionID, event string, details map[string]interface{}) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastExecutionEvent(sessionID, event, details)
}

// broadcastSession pushes a session state change, when a broadcaster is
// configured.
func (s *Server) broadcastSession(sessionID string, data map[string]interface{}) {
	if s.broadcaster == nil {
		return
	}
	s.broadcaster.BroadcastSession(sessionID, data)
}

// readLimited reads up to max bytes from the request body.
func readLimited(r *http.Request, max int64) ([]byte, error) {
	defer func() { _ = r.Body.Close() }()
	return io.ReadAll(http.MaxBytesReader(nil, r.Body, max))
}
