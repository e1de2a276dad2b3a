package api

import (
	"errors"
	"net/http"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/scope"
	"github.com/loomhq/loom/syncer"
)

type syncFinanceRequest struct {
	// OverrideBy authorizes overwriting approved entities. Leave empty
	// for a normal run where conflicts are preserved.
	OverrideBy string `json:"override_by,omitempty"`
}

type approvalRequest struct {
	Approved   bool   `json:"approved"`
	ApprovedBy string `json:"approved_by,omitempty"`
}

func (h *Handler) syncHR(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	ctx := scope.WithInitiator(r.Context(), initiator(r))
	result, syncErr := h.syncSvc.SyncHR(ctx, connID)
	if syncErr != nil {
		h.writeSyncError(w, syncErr, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) syncFinance(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	var req syncFinanceRequest
	if r.ContentLength > 0 {
		if err := decodeJSON(r, &req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
	}

	ctx := scope.WithInitiator(r.Context(), initiator(r))
	result, syncErr := h.syncSvc.SyncFinance(ctx, connID, req.OverrideBy)
	if syncErr != nil {
		h.writeSyncError(w, syncErr, result)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (h *Handler) writeSyncError(w http.ResponseWriter, err error, result *syncer.BatchResult) {
	switch {
	case errors.Is(err, loom.ErrConnectorNotFound):
		writeError(w, http.StatusNotFound, "connector not found")
	case errors.Is(err, syncer.ErrConnectorType):
		writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, syncer.ErrConnectorDisabled):
		writeError(w, http.StatusConflict, err.Error())
	default:
		// The batch failed mid-run; return the partial counters with
		// the error so operators see how far it got.
		writeJSON(w, http.StatusBadGateway, map[string]any{
			"error":  err.Error(),
			"result": result,
		})
	}
}

func (h *Handler) setHRApproval(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseWithPrefix(r.PathValue("id"), id.PrefixHREntity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity ID")
		return
	}

	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if setErr := h.store.SetHRApproval(r.Context(), entID, req.Approved, req.ApprovedBy); setErr != nil {
		if errors.Is(setErr, loom.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, setErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) setFinanceApproval(w http.ResponseWriter, r *http.Request) {
	entID, err := id.ParseWithPrefix(r.PathValue("id"), id.PrefixFinEntity)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid entity ID")
		return
	}

	var req approvalRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if setErr := h.store.SetFinanceApproval(r.Context(), entID, req.Approved, req.ApprovedBy); setErr != nil {
		if errors.Is(setErr, loom.ErrEntityNotFound) {
			writeError(w, http.StatusNotFound, "entity not found")
			return
		}
		writeError(w, http.StatusInternalServerError, setErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

// initiator resolves the acting identity from the X-Initiator header.
func initiator(r *http.Request) string {
	if v := r.Header.Get("X-Initiator"); v != "" {
		return v
	}
	return "api"
}
