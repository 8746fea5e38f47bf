package storage

import "time"

// EventWriter is the interface for mirroring receipt lifecycle events.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *ReceiptEvent)
	Close()
}

// ReceiptEvent is one state change of an action receipt.
type ReceiptEvent struct {
	ReceiptID     string
	Module        string
	ActionType    string
	Timestamp     time.Time
	Event         string // "created", "approved", "rejected", "corrected", "expired", "executed", "error"
	Status        string
	TrustLevel    string
	Confidence    float32
	OutputPreview string // first 500 chars
	Actor         string
	DurationMs    float32
	Metadata      map[string]string
}

// PreviewLength is the max chars stored in output_preview.
const PreviewLength = 500

// Truncate returns the first maxLen characters (runes) of s.
// It never splits a multi-byte UTF-8 character.
func Truncate(s string, maxLen int) string {
	runes := []rune(s)
	if len(runes) <= maxLen {
		return s
	}
	return string(runes[:maxLen])
}
