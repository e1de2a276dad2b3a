package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/loomhq/loom"
	"github.com/loomhq/loom/connector"
	"github.com/loomhq/loom/id"
	"github.com/loomhq/loom/monitor"
	"github.com/loomhq/loom/syncer"
)

func (h *Handler) searchJobs(w http.ResponseWriter, r *http.Request) {
	opts := syncer.JobSearchOpts{
		Offset:    queryInt(r, "offset", 0),
		Limit:     queryInt(r, "limit", 50),
		From:      queryTime(r, "from"),
		To:        queryTime(r, "to"),
		Type:      connector.Type(queryParam(r, "type")),
		Initiator: queryParam(r, "initiator"),
	}
	if s := queryParam(r, "status"); s != "" {
		status := syncer.JobStatus(s)
		opts.Status = &status
	}
	if s := queryParam(r, "connector_id"); s != "" {
		connID, err := id.ParseConnectorID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid connector ID")
			return
		}
		opts.ConnectorID = &connID
	}

	jobs, err := h.monitorSvc.SearchJobs(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, jobs)
}

func (h *Handler) jobDetail(w http.ResponseWriter, r *http.Request) {
	jobID, err := id.ParseJobID(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job ID")
		return
	}

	detail, detailErr := h.monitorSvc.JobDetail(r.Context(), jobID)
	if detailErr != nil {
		if errors.Is(detailErr, loom.ErrJobNotFound) {
			writeError(w, http.StatusNotFound, "job not found")
			return
		}
		writeError(w, http.StatusInternalServerError, detailErr.Error())
		return
	}

	writeJSON(w, http.StatusOK, detail)
}

func (h *Handler) approvalHistory(w http.ResponseWriter, r *http.Request) {
	opts := monitor.ApprovalHistoryOpts{
		Offset: queryInt(r, "offset", 0),
		Limit:  queryInt(r, "limit", 50),
	}
	if s := queryParam(r, "connector_id"); s != "" {
		connID, err := id.ParseConnectorID(s)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid connector ID")
			return
		}
		opts.ConnectorID = &connID
	}

	history, err := h.monitorSvc.ApprovalHistory(r.Context(), opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, history)
}

type statsResponse struct {
	*monitor.Stats
	PendingDeliveries int64 `json:"pending_deliveries"`
	DLQSize           int64 `json:"dlq_size"`
}

func (h *Handler) getStats(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	to := time.Now().UTC()
	from := to.Add(-24 * time.Hour)
	if t := queryTime(r, "from"); t != nil {
		from = *t
	}
	if t := queryTime(r, "to"); t != nil {
		to = *t
	}

	stats, err := h.monitorSvc.Stats(ctx, from, to)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	pending, err := h.store.CountPending(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	dlqCount, err := h.dlqSvc.Count(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	writeJSON(w, http.StatusOK, statsResponse{
		Stats:             stats,
		PendingDeliveries: pending,
		DLQSize:           dlqCount,
	})
}
