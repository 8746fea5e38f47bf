package api

import (
	"net/http"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/chread"
)

func (d *Dependencies) handleListEvents(w http.ResponseWriter, r *http.Request) {
	if d.Reader == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "ClickHouse not configured"})
		return
	}

	q := r.URL.Query()
	params := chread.ListEventsParams{
		Page:     queryInt(q, "page", 1),
		PageSize: queryInt(q, "page_size", 50),
	}
	if params.PageSize > 200 {
		params.PageSize = 200
	}
	if params.PageSize < 1 {
		params.PageSize = 50
	}
	if params.Page < 1 {
		params.Page = 1
	}

	if v := q.Get("module"); v != "" {
		params.Module = &v
	}
	if v := q.Get("action_type"); v != "" {
		params.ActionType = &v
	}
	if v := q.Get("event"); v != "" {
		params.Event = &v
	}
	if v := q.Get("receipt_id"); v != "" {
		params.ReceiptID = &v
	}
	if v := q.Get("start_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.StartTime = &t
		}
	}
	if v := q.Get("end_time"); v != "" {
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			params.EndTime = &t
		}
	}

	events, total, err := d.Reader.ListEvents(r.Context(), params)
	if err != nil {
		d.Logger.Error("failed to list events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to list events"})
		return
	}

	resp := EventListResp{
		Events:   make([]EventResp, 0, len(events)),
		Total:    total,
		Page:     params.Page,
		PageSize: params.PageSize,
	}
	for _, e := range events {
		resp.Events = append(resp.Events, eventRowToResp(e))
	}
	writeJSON(w, http.StatusOK, resp)
}

// maxTrustEvents caps the limit query parameter of the trust event listing.
const maxTrustEvents = 500

func (d *Dependencies) handleListTrustEvents(w http.ResponseWriter, r *http.Request) {
	if d.TrustEvents == nil {
		writeJSON(w, http.StatusServiceUnavailable, ErrorResp{Detail: "Event stream not configured"})
		return
	}
	limit := queryInt(r.URL.Query(), "limit", 50)
	if limit < 1 {
		limit = 50
	}
	if limit > maxTrustEvents {
		limit = maxTrustEvents
	}

	list, err := d.TrustEvents.Recent(r.Context(), int64(limit))
	if err != nil {
		d.Logger.Error("failed to read trust events", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to read trust events"})
		return
	}
	resp := TrustEventListResp{Events: make([]TrustEventResp, 0, len(list))}
	for _, e := range list {
		resp.Events = append(resp.Events, TrustEventResp{
			ID:        e.ID,
			Topic:     e.Topic,
			Payload:   e.Payload,
			EmittedAt: e.EmittedAt,
		})
	}
	writeJSON(w, http.StatusOK, resp)
}

func eventRowToResp(e chread.EventRow) EventResp {
	return EventResp{
		ReceiptID:     e.ReceiptID,
		Module:        e.Module,
		ActionType:    e.ActionType,
		Event:         e.Event,
		Status:        e.Status,
		TrustLevel:    e.TrustLevel,
		Confidence:    e.Confidence,
		OutputPreview: nilIfEmpty(e.OutputPreview),
		Actor:         nilIfEmpty(e.Actor),
		DurationMs:    e.DurationMs,
		Timestamp:     e.Timestamp,
	}
}

func nilIfEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func queryInt(q interface{ Get(string) string }, key string, defaultVal int) int {
	v := q.Get(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}
