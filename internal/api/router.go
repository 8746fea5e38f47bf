// Package api serves the notification-channel callbacks and the operator API.
package api

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/approval"
	"github.com/Masterplan16/friday-trust/internal/auth"
	"github.com/Masterplan16/friday-trust/internal/chread"
	"github.com/Masterplan16/friday-trust/internal/events"
	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/trust"
)

// Dependencies holds shared state injected into all HTTP handlers.
type Dependencies struct {
	Receipts    governance.ReceiptStore
	Rules       governance.RuleStore
	Workflow    *approval.Workflow
	Proposer    *feedback.Proposer
	Registry    *trust.Registry
	Promoter    *trust.Promoter
	Reader      *chread.Reader   // nil if ClickHouse unavailable
	TrustEvents TrustEventSource // nil without Redis
	Auth        auth.Authenticator
	Operator    string
	Logger      *zap.Logger
}

// TrustEventSource reads back published trust-level events, newest first.
type TrustEventSource interface {
	Recent(ctx context.Context, count int64) ([]events.Event, error)
}

// NewRouter builds the HTTP mux with all routes wired up.
func NewRouter(deps *Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Notification channel callbacks
	mux.HandleFunc("POST /v1/receipts/{receipt_id}/approve", deps.authMiddleware(deps.handleApprove))
	mux.HandleFunc("POST /v1/receipts/{receipt_id}/reject", deps.authMiddleware(deps.handleReject))
	mux.HandleFunc("POST /v1/receipts/{receipt_id}/correct", deps.authMiddleware(deps.handleCorrect))
	mux.HandleFunc("GET /v1/receipts/{receipt_id}", deps.authMiddleware(deps.handleGetReceipt))
	mux.HandleFunc("POST /v1/proposals/{proposal_id}/resolve", deps.authMiddleware(deps.handleResolveProposal))

	// Trust levels
	mux.HandleFunc("GET /api/trust/levels", deps.authMiddleware(deps.handleListLevels))
	mux.HandleFunc("POST /api/trust/levels/{module}/{action}/promote", deps.authMiddleware(deps.handlePromote))
	mux.HandleFunc("PUT /api/trust/levels/{module}/{action}", deps.authMiddleware(deps.handleSetLevel))
	mux.HandleFunc("GET /api/trust/events", deps.authMiddleware(deps.handleListTrustEvents))

	// Rules
	mux.HandleFunc("POST /api/rules", deps.authMiddleware(deps.handleCreateRule))
	mux.HandleFunc("DELETE /api/rules/{rule_id}", deps.authMiddleware(deps.handleDeactivateRule))

	// Audit timeline
	mux.HandleFunc("GET /api/events", deps.authMiddleware(deps.handleListEvents))

	mux.Handle("GET /metrics", promhttp.Handler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	return corsMiddleware(requestLogging(mux, deps.Logger))
}
