package executor

import (
	"context"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Masterplan16/friday-trust/internal/schema"
)

// ActionKey is an allow-listed "<module>.<action-type>".
type ActionKey string

const (
	EmailSendReply         ActionKey = "email.send_reply"
	EmailMove              ActionKey = "email.move"
	ArchivisteMoveDocument ActionKey = "archiviste.move_document"
	CalendarCreateEvent    ActionKey = "calendar.create_event"
	FinanceTagTransaction  ActionKey = "finance.tag_transaction"
)

// allowList is the only source of execution authorization. Each entry
// carries the schema its arguments must satisfy.
var allowList = map[ActionKey]*jsonschema.Schema{
	EmailSendReply: schema.MustCompile("email.send_reply.json", `{
		"type": "object",
		"required": ["message_id", "body"],
		"properties": {
			"message_id": {"type": "string", "minLength": 1},
			"body": {"type": "string", "minLength": 1},
			"cc": {"type": "array", "items": {"type": "string"}}
		}
	}`),
	EmailMove: schema.MustCompile("email.move.json", `{
		"type": "object",
		"required": ["message_id", "folder"],
		"properties": {
			"message_id": {"type": "string", "minLength": 1},
			"folder": {"type": "string", "minLength": 1}
		}
	}`),
	ArchivisteMoveDocument: schema.MustCompile("archiviste.move_document.json", `{
		"type": "object",
		"required": ["document_id", "destination"],
		"properties": {
			"document_id": {"type": "string", "minLength": 1},
			"destination": {"type": "string", "minLength": 1}
		}
	}`),
	CalendarCreateEvent: schema.MustCompile("calendar.create_event.json", `{
		"type": "object",
		"required": ["title", "start", "end"],
		"properties": {
			"title": {"type": "string", "minLength": 1},
			"start": {"type": "string", "minLength": 1},
			"end": {"type": "string", "minLength": 1},
			"attendees": {"type": "array", "items": {"type": "string"}}
		}
	}`),
	FinanceTagTransaction: schema.MustCompile("finance.tag_transaction.json", `{
		"type": "object",
		"required": ["transaction_id", "tag"],
		"properties": {
			"transaction_id": {"type": "string", "minLength": 1},
			"tag": {"type": "string", "minLength": 1}
		}
	}`),
}

// ParseActionKey returns the typed key only if it is allow-listed.
func ParseActionKey(s string) (ActionKey, bool) {
	k := ActionKey(s)
	_, ok := allowList[k]
	return k, ok
}

// AllowedActions lists the allow-listed keys.
func AllowedActions() []ActionKey {
	out := make([]ActionKey, 0, len(allowList))
	for k := range allowList {
		out = append(out, k)
	}
	return out
}

// ActionFunc performs the side effect of an approved action.
type ActionFunc func(ctx context.Context, args map[string]any) error

// Registry maps action keys to callables. Registering a key grants nothing:
// the allow-list is checked first.
type Registry struct {
	mu    sync.RWMutex
	funcs map[string]ActionFunc
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]ActionFunc)}
}

// Register binds fn to key, replacing any previous binding.
func (r *Registry) Register(key string, fn ActionFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[key] = fn
}

func (r *Registry) lookup(key ActionKey) (ActionFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.funcs[string(key)]
	return fn, ok
}
