package api

import (
	"errors"
	"net/http"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
)

type connectorRequest struct {
	Name        string            `json:"name"`
	Type        string            `json:"type"`
	BaseURL     string            `json:"base_url"`
	AuthType    string            `json:"auth_type"`
	SecretRef   string            `json:"secret_ref,omitempty"`
	RetryPolicy backoff.Policy    `json:"retry_policy"`
	FieldMap    map[string]string `json:"field_map,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r connectorRequest) input() connector.Input {
	return connector.Input{
		Name:        r.Name,
		Type:        connector.Type(r.Type),
		BaseURL:     r.BaseURL,
		AuthType:    connector.AuthType(r.AuthType),
		SecretRef:   r.SecretRef,
		RetryPolicy: r.RetryPolicy,
		FieldMap:    r.FieldMap,
		Metadata:    r.Metadata,
	}
}

func (h *Handler) createConnector(w http.ResponseWriter, r *http.Request) {
	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conn, err := h.connectorSvc.Create(r.Context(), req.input())
	if err != nil {
		var verr *connector.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, conn)
}

func (h *Handler) listConnectors(w http.ResponseWriter, r *http.Request) {
	opts := connector.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   connector.Type(queryParam(r, "type")),
	}
	if s := queryParam(r, "status"); s != "" {
		status := connector.Status(s)
		opts.Status = &status
	}

	conns, err := h.connectorSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, conns)
}

func (h *Handler) getConnector(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	conn, getErr := h.connectorSvc.Get(r.Context(), connID)
	if getErr != nil {
		if errors.Is(getErr, loom.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) updateConnector(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	var req connectorRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	conn, updateErr := h.connectorSvc.Update(r.Context(), connID, req.input())
	if updateErr != nil {
		if errors.Is(updateErr, loom.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		var verr *connector.ValidationError
		if errors.As(updateErr, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, conn)
}

func (h *Handler) deleteConnector(w http.ResponseWriter, r *http.Request) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	if deleteErr := h.connectorSvc.Delete(r.Context(), connID); deleteErr != nil {
		if errors.Is(deleteErr, loom.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) enableConnector(w http.ResponseWriter, r *http.Request) {
	h.setConnectorStatus(w, r, true)
}

func (h *Handler) disableConnector(w http.ResponseWriter, r *http.Request) {
	h.setConnectorStatus(w, r, false)
}

func (h *Handler) setConnectorStatus(w http.ResponseWriter, r *http.Request, enable bool) {
	connID, err := id.ParseConnectorID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid connector ID")
		return
	}

	if enable {
		err = h.connectorSvc.Enable(r.Context(), connID)
	} else {
		err = h.connectorSvc.Disable(r.Context(), connID)
	}
	if err != nil {
		if errors.Is(err, loom.ErrConnectorNotFound) {
			writeError(w, http.StatusNotFound, "connector not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
