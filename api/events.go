package api

import (
	"errors"
	"net/http"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/event"
	"github.com/loomhq/loom/id"
)

type dispatchEventRequest struct {
	Type           string `json:"type"`
	Data           any    `json:"data"`
	IdempotencyKey string `json:"idempotency_key,omitempty"`
	CorrelationID  string `json:"correlation_id,omitempty"`
}

func (h *Handler) dispatchEvent(w http.ResponseWriter, r *http.Request) {
	var req dispatchEventRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Type == "" {
		writeError(w, http.StatusBadRequest, "type is required")
		return
	}

	var opts []delivery.DispatchOption
	if req.IdempotencyKey != "" {
		opts = append(opts, delivery.WithIdempotencyKey(req.IdempotencyKey))
	}
	if req.CorrelationID != "" {
		opts = append(opts, delivery.WithCorrelationID(req.CorrelationID))
	}

	evt, err := h.dispatcher.Dispatch(r.Context(), req.Type, req.Data, opts...)
	if err != nil {
		switch {
		case errors.Is(err, catalog.ErrUnknownEventType):
			writeError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, catalog.ErrEventTypeDeprecated):
			writeError(w, http.StatusConflict, err.Error())
		default:
			writeError(w, http.StatusBadRequest, err.Error())
		}
		return
	}
	if evt == nil {
		// Duplicate idempotency key: already accepted.
		w.WriteHeader(http.StatusAccepted)
		return
	}

	writeJSON(w, http.StatusCreated, evt)
}

func (h *Handler) listEvents(w http.ResponseWriter, r *http.Request) {
	if corr := queryParam(r, "correlation_id"); corr != "" {
		events, err := h.store.ListEventsByCorrelation(r.Context(), corr)
		if err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, http.StatusOK, events)
		return
	}

	opts := event.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
		Type:   queryParam(r, "type"),
		From:   queryTime(r, "from"),
		To:     queryTime(r, "to"),
	}

	events, err := h.store.ListEvents(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, events)
}

func (h *Handler) getEvent(w http.ResponseWriter, r *http.Request) {
	evtID, err := id.ParseWithPrefix(r.PathValue("id"), id.PrefixEvent)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid event ID")
		return
	}

	evt, getErr := h.store.GetEvent(r.Context(), evtID)
	if getErr != nil {
		if errors.Is(getErr, loom.ErrEventNotFound) {
			writeError(w, http.StatusNotFound, "event not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, evt)
}
