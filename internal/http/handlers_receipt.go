package http

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"scontrino/internal/auth"
	"scontrino/internal/core"
	"scontrino/internal/storage"
	"scontrino/internal/workspace"
)

// handleCreateReceipt is the direct submission endpoint: multipart form
// with an optional `image` file and a `data` field holding the receipt
// JSON.
func (s *Server) handleCreateReceipt(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, "invalid multipart request")
		return
	}

	data := r.FormValue("data")
	if data == "" {
		writeError(w, http.StatusBadRequest, "missing data field")
		return
	}

	var payload struct {
		Items      []core.ReceiptItem `json:"items"`
		SharedWith []core.Share       `json:"sharedWith"`
	}
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid receipt data")
		return
	}

	receipt := &core.Receipt{
		UserID: auth.UserID(r.Context()),
		Items:  payload.Items,
		Shares: payload.SharedWith,
	}

	if file, header, err := r.FormFile("image"); err == nil {
		defer file.Close()
		path, err := s.images.Save(header.Filename, file)
		if err != nil {
			if errors.Is(err, storage.ErrUnsupportedImage) {
				writeError(w, http.StatusUnsupportedMediaType, "image must be jpg, jpeg or png")
				return
			}
			slog.ErrorContext(r.Context(), "Failed to store image", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to store image")
			return
		}
		receipt.ImagePath = path
	}

	id, err := s.sink.SaveReceipt(r.Context(), receipt)
	if err != nil {
		var sinkErr *workspace.SinkError
		switch {
		case errors.As(err, &sinkErr):
			writeError(w, http.StatusBadGateway, sinkErr.Message)
		case errors.Is(err, core.ErrEmptyReceipt), errors.Is(err, core.ErrInvalidPrice):
			writeError(w, http.StatusBadRequest, err.Error())
		default:
			slog.ErrorContext(r.Context(), "Failed to save receipt", "error", err)
			writeError(w, http.StatusInternalServerError, "Failed to save receipt. Please try again.")
		}
		return
	}

	receipt.ID = id
	writeJSON(w, http.StatusCreated, receipt)
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	limit, offset := parseListParams(r)
	receipts, err := s.receipts.ListReceipts(r.Context(), auth.UserID(r.Context()), limit, offset)
	if err != nil {
		slog.ErrorContext(r.Context(), "Failed to list receipts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load receipts")
		return
	}
	if receipts == nil {
		receipts = []core.Receipt{}
	}
	writeJSON(w, http.StatusOK, receipts)
}

func (s *Server) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := s.receipts.GetReceipt(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "receipt not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to get receipt", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load receipt")
		return
	}
	writeJSON(w, http.StatusOK, receipt)
}

func (s *Server) handleDeleteReceipt(w http.ResponseWriter, r *http.Request) {
	err := s.receipts.DeleteReceipt(r.Context(), r.PathValue("id"), auth.UserID(r.Context()))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeError(w, http.StatusNotFound, "receipt not found")
			return
		}
		slog.ErrorContext(r.Context(), "Failed to delete receipt", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to delete receipt")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
