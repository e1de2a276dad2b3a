// Package api provides the admin HTTP API for Loom: connector and
// subscription management, sync triggers, event dispatch, and the
// monitoring views.
package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/loomhq/loom/catalog"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/delivery"
	"github.com/loomhq/loom/dlq"
	"github.com/loomhq/loom/monitor"
	"github.com/loomhq/loom/store"
	"github.com/loomhq/loom/syncer"
	"github.com/loomhq/loom/webhook"
)

// Handler is the root HTTP handler for the Loom admin API.
type Handler struct {
	store        store.Store
	catalog      *catalog.Catalog
	connectorSvc *connector.Service
	syncSvc      *syncer.Service
	webhookSvc   *webhook.Service
	dispatcher   *delivery.Dispatcher
	dlqSvc       *dlq.Service
	monitorSvc   *monitor.Service
	logger       *slog.Logger
	mux          *http.ServeMux
}

// NewHandler creates a new admin API handler.
func NewHandler(
	s store.Store,
	cat *catalog.Catalog,
	connSvc *connector.Service,
	syncSvc *syncer.Service,
	whSvc *webhook.Service,
	dispatcher *delivery.Dispatcher,
	dlqSvc *dlq.Service,
	monSvc *monitor.Service,
	logger *slog.Logger,
) *Handler {
	if logger == nil {
		logger = slog.Default()
	}

	h := &Handler{
		store:        s,
		catalog:      cat,
		connectorSvc: connSvc,
		syncSvc:      syncSvc,
		webhookSvc:   whSvc,
		dispatcher:   dispatcher,
		dlqSvc:       dlqSvc,
		monitorSvc:   monSvc,
		logger:       logger,
		mux:          http.NewServeMux(),
	}

	h.registerRoutes()
	return h
}

func (h *Handler) registerRoutes() {
	// Connectors
	h.mux.HandleFunc("POST /connectors", h.createConnector)
	h.mux.HandleFunc("GET /connectors", h.listConnectors)
	h.mux.HandleFunc("GET /connectors/{id}", h.getConnector)
	h.mux.HandleFunc("PUT /connectors/{id}", h.updateConnector)
	h.mux.HandleFunc("DELETE /connectors/{id}", h.deleteConnector)
	h.mux.HandleFunc("PATCH /connectors/{id}/enable", h.enableConnector)
	h.mux.HandleFunc("PATCH /connectors/{id}/disable", h.disableConnector)

	// Sync
	h.mux.HandleFunc("POST /connectors/{id}/sync/hr", h.syncHR)
	h.mux.HandleFunc("POST /connectors/{id}/sync/finance", h.syncFinance)
	h.mux.HandleFunc("PATCH /entities/hr/{id}/approval", h.setHRApproval)
	h.mux.HandleFunc("PATCH /entities/finance/{id}/approval", h.setFinanceApproval)

	// Event types
	h.mux.HandleFunc("POST /event-types", h.createEventType)
	h.mux.HandleFunc("GET /event-types", h.listEventTypes)
	h.mux.HandleFunc("GET /event-types/{name}", h.getEventType)
	h.mux.HandleFunc("DELETE /event-types/{name}", h.deprecateEventType)

	// Subscriptions
	h.mux.HandleFunc("POST /subscriptions", h.createSubscription)
	h.mux.HandleFunc("GET /subscriptions", h.listSubscriptions)
	h.mux.HandleFunc("GET /subscriptions/{id}", h.getSubscription)
	h.mux.HandleFunc("PUT /subscriptions/{id}", h.updateSubscription)
	h.mux.HandleFunc("DELETE /subscriptions/{id}", h.deleteSubscription)
	h.mux.HandleFunc("POST /subscriptions/{id}/verify", h.verifySubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}/pause", h.pauseSubscription)
	h.mux.HandleFunc("PATCH /subscriptions/{id}/activate", h.activateSubscription)
	h.mux.HandleFunc("POST /subscriptions/{id}/rotate-secret", h.rotateSecret)
	h.mux.HandleFunc("GET /subscriptions/{id}/deliveries", h.listDeliveries)

	// Events
	h.mux.HandleFunc("POST /events", h.dispatchEvent)
	h.mux.HandleFunc("GET /events", h.listEvents)
	h.mux.HandleFunc("GET /events/{id}", h.getEvent)

	// DLQ
	h.mux.HandleFunc("GET /dlq", h.listDLQ)
	h.mux.HandleFunc("POST /dlq/{id}/replay", h.replayDLQ)
	h.mux.HandleFunc("POST /dlq/replay", h.replayBulkDLQ)

	// Monitoring
	h.mux.HandleFunc("GET /jobs", h.searchJobs)
	h.mux.HandleFunc("GET /jobs/{id}", h.jobDetail)
	h.mux.HandleFunc("GET /approvals", h.approvalHistory)
	h.mux.HandleFunc("GET /stats", h.getStats)
}

// ServeHTTP implements http.Handler.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.withMiddleware(h.mux).ServeHTTP(w, r)
}

func (h *Handler) withMiddleware(next http.Handler) http.Handler {
	return h.panicRecovery(h.logging(next))
}

func (h *Handler) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rw := &responseWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rw, r)
		h.logger.Info("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", rw.status,
			"duration_ms", time.Since(start).Milliseconds(),
		)
	})
}

func (h *Handler) panicRecovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				h.logger.Error("panic recovered",
					"error", rec,
					"stack", string(debug.Stack()),
				)
				writeError(w, http.StatusInternalServerError, "internal server error")
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// responseWriter wraps http.ResponseWriter to capture the status code.
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// JSON helpers.

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck // best effort
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeJSON(r *http.Request, v any) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

// queryParam returns a query parameter value, or empty string if not present.
func queryParam(r *http.Request, key string) string {
	return r.URL.Query().Get(key)
}

// queryInt returns a query parameter as int or a default value.
func queryInt(r *http.Request, key string, defaultVal int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return defaultVal
	}
	var n int
	for _, c := range v {
		if c < '0' || c > '9' {
			return defaultVal
		}
		n = n*10 + int(c-'0')
	}
	return n
}

// queryTime parses an RFC3339 query parameter. Returns nil when absent
// or malformed.
func queryTime(r *http.Request, key string) *time.Time {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil
	}
	return &t
}
