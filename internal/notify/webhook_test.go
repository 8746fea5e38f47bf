package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

func TestWebhookNotifier_ApprovalCarriesThreeChoices(t *testing.T) {
	var (
		mu  sync.Mutex
		got webhookMessage
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		mu.Lock()
		defer mu.Unlock()
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, zap.NewNop())
	id, err := n.NotifyForApproval(context.Background(), &governance.Receipt{
		ID:            "r-1",
		Module:        "email",
		ActionType:    "send_reply",
		InputSummary:  "mail from the accountant",
		OutputSummary: "reply drafted with the receipt attached",
		Confidence:    0.8,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, id, got.CorrelationID)
	assert.Equal(t, "approval", got.Kind)
	require.Len(t, got.Choices, 3)
	assert.Equal(t, "/v1/receipts/r-1/approve", got.Choices[0].Action)
	assert.Contains(t, got.Text, "email.send_reply")
}

func TestWebhookNotifier_FailureSurfaces(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	n := NewWebhookNotifier(srv.URL, zap.NewNop())
	_, err := n.NotifyForApproval(context.Background(), &governance.Receipt{ID: "r-1", Module: "email", ActionType: "send_reply"})
	assert.ErrorContains(t, err, "502")

	// Best-effort never panics or returns.
	n.NotifyBestEffort(context.Background(), "3 approvals expired")
}

func TestProposalText(t *testing.T) {
	text := ProposalText(&RuleProposal{
		Module:     "archiviste",
		ActionType: "classify",
		Keywords:   []string{"urssaf", "finance"},
		Category:   "finance",
		Similarity: 0.91,
		Examples:   []string{"URSSAF → finance", "URSSAF  → finance"},
	})
	assert.Contains(t, text, "archiviste.classify")
	assert.Contains(t, text, "Suggested category: finance")
	assert.Contains(t, text, "- URSSAF → finance")
}
