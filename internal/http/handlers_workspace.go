package http

import (
	"errors"
	"log/slog"
	"net/http"

	"scontrino/internal/auth"
	"scontrino/internal/core"
	"scontrino/internal/storage"
	"scontrino/internal/workspace"
)

// handleOpenWorkspace starts an assignment session from a completed
// scan.
func (s *Server) handleOpenWorkspace(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ScanID string `json:"scanId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if req.ScanID == "" {
		writeError(w, http.StatusBadRequest, "scanId is required")
		return
	}

	scan, err := s.scans.GetScan(r.Context(), req.ScanID, auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "scan not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get scan", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load scan")
		return
	}
	if scan.Status != core.ScanDone {
		writeError(w, http.StatusConflict, "scan is not ready")
		return
	}

	ws := s.sessions.Open(scan.UserID, scan.ImagePath, scan.Items)
	writeSnapshot(w, http.StatusCreated, ws)
}

// session loads the workspace named in the path, or replies 404.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*workspace.Workspace, bool) {
	ws, ok := s.sessions.Get(r.PathValue("id"))
	if !ok {
		writeError(w, http.StatusNotFound, "workspace not found")
		return nil, false
	}
	return ws, true
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.session(w, r)
	if !ok {
		return
	}
	writeSnapshot(w, http.StatusOK, ws)
}

func (s *Server) handleCloseWorkspace(w http.ResponseWriter, r *http.Request) {
	s.sessions.Close(r.PathValue("id"))
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveItem(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		ItemID      string `json:"itemId"`
		From        string `json:"from"`
		To          string `json:"to"`
		TargetIndex int    `json:"targetIndex"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := ws.MoveItem(req.ItemID, req.From, req.To, req.TargetIndex); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeSnapshot(w, http.StatusOK, ws)
}

func (s *Server) handleSetItemPrice(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Price string `json:"price"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := ws.SetItemPrice(r.PathValue("itemID"), req.Price); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeSnapshot(w, http.StatusOK, ws)
}

func (s *Server) handleSetItemCategory(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		CategoryID string `json:"categoryId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	if err := ws.SetItemCategory(r.PathValue("itemID"), req.CategoryID); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	writeSnapshot(w, http.StatusOK, ws)
}

func (s *Server) handleAddParticipant(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.session(w, r)
	if !ok {
		return
	}

	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	// Blank names are ignored without an error, matching the review
	// screen.
	_, err := ws.AddParticipant(sanitizeInput(req.Name))
	if err != nil && !errors.Is(err, core.ErrBlankName) {
		writeWorkspaceError(w, err)
		return
	}
	writeSnapshot(w, http.StatusOK, ws)
}

func (s *Server) handleSubmitWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, ok := s.session(w, r)
	if !ok {
		return
	}

	if err := ws.Submit(r.Context()); err != nil {
		writeWorkspaceError(w, err)
		return
	}
	// Submission outcome (in-flight, success banner, sink error) is on
	// the snapshot, not the status code.
	writeSnapshot(w, http.StatusOK, ws)
}
