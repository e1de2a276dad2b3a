package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/catalog"
)

type createEventTypeRequest struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Group       string          `json:"group,omitempty"`
	Schema      json.RawMessage `json:"schema,omitempty"`
	Example     json.RawMessage `json:"example,omitempty"`
}

func (h *Handler) createEventType(w http.ResponseWriter, r *http.Request) {
	var req createEventTypeRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	def := catalog.Definition{
		Name:        req.Name,
		Description: req.Description,
		Group:       req.Group,
		Schema:      req.Schema,
		Example:     req.Example,
	}

	if _, err := h.catalog.RegisterType(r.Context(), def); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	et, err := h.catalog.GetType(r.Context(), req.Name)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, et)
}

func (h *Handler) listEventTypes(w http.ResponseWriter, r *http.Request) {
	opts := catalog.ListOpts{
		Offset:            queryInt(r, "offset", 0),
		Limit:             queryInt(r, "limit", 50),
		Group:             queryParam(r, "group"),
		IncludeDeprecated: queryParam(r, "include_deprecated") == "true",
	}

	types, err := h.catalog.ListTypes(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, types)
}

func (h *Handler) getEventType(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	et, err := h.catalog.GetType(r.Context(), name)
	if err != nil {
		if errors.Is(err, loom.ErrEventTypeNotFound) {
			writeError(w, http.StatusNotFound, "event type not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, et)
}

func (h *Handler) deprecateEventType(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")

	if err := h.catalog.DeprecateType(r.Context(), name); err != nil {
		if errors.Is(err, loom.ErrEventTypeNotFound) {
			writeError(w, http.StatusNotFound, "event type not found")
			return
		}
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
