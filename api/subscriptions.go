package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/backoff"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/webhook"
)

type subscriptionRequest struct {
	URL         string            `json:"url"`
	Description string            `json:"description,omitempty"`
	EventTypes  []string          `json:"event_types"`
	RetryPolicy backoff.Policy    `json:"retry_policy"`
	RateLimit   int               `json:"rate_limit,omitempty"`
	Headers     map[string]string `json:"headers,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

func (r subscriptionRequest) input() webhook.Input {
	return webhook.Input{
		URL:         r.URL,
		Description: r.Description,
		EventTypes:  r.EventTypes,
		RetryPolicy: r.RetryPolicy,
		RateLimit:   r.RateLimit,
		Headers:     r.Headers,
		Metadata:    r.Metadata,
	}
}

// subscriptionResponse exposes the signing secret exactly once, on
// creation and rotation. Reads never include it.
type subscriptionResponse struct {
	*webhook.Subscription
	Secret string `json:"secret,omitempty"`
}

func (h *Handler) createSubscription(w http.ResponseWriter, r *http.Request) {
	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, err := h.webhookSvc.Create(r.Context(), req.input())
	if err != nil {
		var verr *webhook.ValidationError
		if errors.As(err, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, subscriptionResponse{Subscription: sub, Secret: sub.Secret})
}

func (h *Handler) listSubscriptions(w http.ResponseWriter, r *http.Request) {
	opts := webhook.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := webhook.Status(s)
		opts.Status = &status
	}

	subs, err := h.webhookSvc.List(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, subs)
}

func (h *Handler) getSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	sub, getErr := h.webhookSvc.Get(r.Context(), subID)
	if getErr != nil {
		if errors.Is(getErr, loom.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, getErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) updateSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	var req subscriptionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	sub, updateErr := h.webhookSvc.Update(r.Context(), subID, req.input())
	if updateErr != nil {
		if errors.Is(updateErr, loom.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		var verr *webhook.ValidationError
		if errors.As(updateErr, &verr) {
			writeError(w, http.StatusBadRequest, verr.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, updateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, sub)
}

func (h *Handler) deleteSubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if deleteErr := h.webhookSvc.Delete(r.Context(), subID); deleteErr != nil {
		if errors.Is(deleteErr, loom.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, deleteErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) verifySubscription(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if verifyErr := h.webhookSvc.Verify(r.Context(), subID); verifyErr != nil {
		if errors.Is(verifyErr, loom.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusBadGateway, verifyErr.Error())
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) pauseSubscription(w http.ResponseWriter, r *http.Request) {
	h.transitionSubscription(w, r, h.webhookSvc.Pause)
}

func (h *Handler) activateSubscription(w http.ResponseWriter, r *http.Request) {
	h.transitionSubscription(w, r, h.webhookSvc.Activate)
}

func (h *Handler) transitionSubscription(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, subID id.ID) error) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	if transErr := fn(r.Context(), subID); transErr != nil {
		switch {
		case errors.Is(transErr, loom.ErrSubscriptionNotFound):
			writeError(w, http.StatusNotFound, "subscription not found")
		case errors.Is(transErr, webhook.ErrInvalidTransition):
			writeError(w, http.StatusConflict, transErr.Error())
		default:
			writeError(w, http.StatusInternalServerError, transErr.Error())
		}
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) rotateSecret(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	secret, rotateErr := h.webhookSvc.RotateSecret(r.Context(), subID)
	if rotateErr != nil {
		if errors.Is(rotateErr, loom.ErrSubscriptionNotFound) {
			writeError(w, http.StatusNotFound, "subscription not found")
			return
		}
		writeError(w, http.StatusInternalServerError, rotateErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"secret": secret})
}

func (h *Handler) listDeliveries(w http.ResponseWriter, r *http.Request) {
	subID, err := id.ParseSubscriptionID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid subscription ID")
		return
	}

	opts := delivery.ListOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "status"); s != "" {
		status := delivery.Status(s)
		opts.Status = &status
	}

	deliveries, listErr := h.store.ListBySubscription(r.Context(), subID, opts)
	if listErr != nil {
		writeError(w, http.StatusInternalServerError, listErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, deliveries)
}
