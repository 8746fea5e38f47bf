package chread

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestBuildFilter_NoFilters(t *testing.T) {
	where, args := buildFilter(ListEventsParams{Page: 1, PageSize: 50})
	assert.Equal(t, "1 = 1", where)
	assert.Empty(t, args)
}

func TestBuildFilter_AllFilters(t *testing.T) {
	module, action, event, id := "email", "classify", "expired", "r-1"
	start := time.Date(2026, 1, 5, 0, 0, 0, 0, time.UTC)
	end := start.Add(7 * 24 * time.Hour)

	where, args := buildFilter(ListEventsParams{
		Module:     &module,
		ActionType: &action,
		Event:      &event,
		ReceiptID:  &id,
		StartTime:  &start,
		EndTime:    &end,
	})

	assert.Contains(t, where, "module = @module")
	assert.Contains(t, where, "action_type = @action_type")
	assert.Contains(t, where, "event = @event")
	assert.Contains(t, where, "receipt_id = @receipt_id")
	assert.Contains(t, where, "timestamp >= @start_time")
	assert.Contains(t, where, "timestamp <= @end_time")
	assert.Len(t, args, 6)
}
