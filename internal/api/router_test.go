package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"

	"github.com/Masterplan16/friday-trust/internal/approval"
	"github.com/Masterplan16/friday-trust/internal/auth"
	"github.com/Masterplan16/friday-trust/internal/events"
	"github.com/Masterplan16/friday-trust/internal/executor"
	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/store"
	"github.com/Masterplan16/friday-trust/internal/trust"
)

const (
	apiKey   = "test-api-key"
	owner    = "owner"
	operator = "ops"
)

type fixture struct {
	handler  http.Handler
	store    *store.MemoryStore
	registry *trust.Registry
	proposer *feedback.Proposer
	deps     *Dependencies
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zap.NewNop()
	s := store.NewMemoryStore()

	path := filepath.Join(t.TempDir(), "trust_levels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("modules:\n  email:\n    send_reply: propose\n    classify: auto\n"), 0o600))
	reg, err := trust.NewRegistry(trust.RegistryConfig{Path: path, Metrics: s, Logger: logger})
	require.NoError(t, err)

	actions := executor.NewRegistry()
	actions.Register(string(executor.EmailSendReply), func(context.Context, map[string]any) error { return nil })
	exec := executor.New(s, actions, nil, logger)

	hash, err := bcrypt.GenerateFromPassword([]byte(apiKey), bcrypt.MinCost)
	require.NoError(t, err)

	proposer := feedback.NewProposer(feedback.ProposerConfig{Rules: s, Approver: owner, Logger: logger})
	deps := &Dependencies{
		Receipts: s,
		Rules:    s,
		Workflow: approval.NewWorkflow(approval.Config{Receipts: s, Approver: owner, Executor: exec, Logger: logger}),
		Proposer: proposer,
		Registry: reg,
		Promoter: trust.NewPromoter(reg, s, operator, logger),
		Auth:     auth.NewKeyAuthenticator(string(hash), time.Minute),
		Operator: operator,
		Logger:   logger,
	}
	return &fixture{handler: NewRouter(deps), store: s, registry: reg, proposer: proposer, deps: deps}
}

func (f *fixture) seedPending(t *testing.T, id string) {
	t.Helper()
	require.NoError(t, f.store.InsertReceipt(context.Background(), &governance.Receipt{
		ID:         id,
		Module:     "email",
		ActionType: "send_reply",
		CreatedAt:  time.Now(),
		TrustLevel: governance.TrustPropose,
		Status:     governance.StatusPending,
		Payload:    map[string]any{"args": map[string]any{"message_id": "m-1", "body": "Merci, bien reçu."}},
	}))
}

func (f *fixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Authorization", "Bearer "+apiKey)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v any) {
	t.Helper()
	require.NoError(t, json.NewDecoder(rec.Body).Decode(v))
}

func TestHealthAndMetricsNeedNoAuth(t *testing.T) {
	f := newFixture(t)
	for _, path := range []string{"/healthz", "/metrics"} {
		rec := httptest.NewRecorder()
		f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
	}
}

func TestAuthRequired(t *testing.T) {
	f := newFixture(t)
	req := httptest.NewRequest(http.MethodGet, "/api/trust/levels", nil)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestApprove_ThenAlreadyProcessed(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, "r1")

	rec := f.do(t, http.MethodPost, "/v1/receipts/r1/approve", DecisionReq{Approver: owner})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DecisionResp
	decode(t, rec, &resp)
	assert.Equal(t, "applied", resp.Outcome)
	require.NotNil(t, resp.Executed)
	assert.True(t, *resp.Executed)
	assert.Equal(t, "executed", resp.Status)

	rec = f.do(t, http.MethodPost, "/v1/receipts/r1/approve", DecisionReq{Approver: owner})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"already_processed"}`, rec.Body.String())
}

func TestDecision_ForbiddenDoesNotRevealExistence(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, "r1")

	existing := f.do(t, http.MethodPost, "/v1/receipts/r1/reject", DecisionReq{Approver: "intruder"})
	missing := f.do(t, http.MethodPost, "/v1/receipts/nope/reject", DecisionReq{Approver: "intruder"})
	assert.Equal(t, http.StatusForbidden, existing.Code)
	assert.Equal(t, http.StatusForbidden, missing.Code)
	assert.Equal(t, existing.Body.String(), missing.Body.String())

	r, _ := f.store.GetReceipt(context.Background(), "r1")
	assert.Equal(t, governance.StatusPending, r.Status)
}

func TestDecision_NotFoundForApprover(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodPost, "/v1/receipts/nope/approve", DecisionReq{Approver: owner})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCorrect(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, "r1")

	rec := f.do(t, http.MethodPost, "/v1/receipts/r1/correct", CorrectionReq{Approver: owner, Correction: "   "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/v1/receipts/r1/correct", CorrectionReq{Approver: owner, Correction: "Facture URSSAF → finance"})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp DecisionResp
	decode(t, rec, &resp)
	assert.Equal(t, "applied", resp.Outcome)
	assert.Equal(t, "corrected", resp.Status)
}

func TestGetReceipt(t *testing.T) {
	f := newFixture(t)
	f.seedPending(t, "r1")

	rec := f.do(t, http.MethodGet, "/v1/receipts/r1", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ReceiptResp
	decode(t, rec, &resp)
	assert.Equal(t, "email", resp.Module)
	assert.Equal(t, "pending", resp.Status)

	rec = f.do(t, http.MethodGet, "/v1/receipts/nope", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestTrustLevels(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/trust/levels", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var levels []trust.LevelEntry
	decode(t, rec, &levels)
	assert.Len(t, levels, 2)

	rec = f.do(t, http.MethodPut, "/api/trust/levels/email/classify", SetLevelReq{Operator: "intruder", Level: "blocked"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/trust/levels/email/classify", SetLevelReq{Operator: operator, Level: "sometimes"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPut, "/api/trust/levels/email/classify", SetLevelReq{Operator: operator, Level: "blocked", Reason: "incident"})
	require.Equal(t, http.StatusOK, rec.Code)
	level, err := f.registry.Get("email", "classify")
	require.NoError(t, err)
	assert.Equal(t, governance.TrustBlocked, level)
}

func TestPromote(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/trust/levels/email/send_reply/promote", PromoteReq{Operator: "intruder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/trust/levels/calendar/create_event/promote", PromoteReq{Operator: operator})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/trust/levels/email/send_reply/promote", PromoteReq{Operator: operator})
	require.Equal(t, http.StatusOK, rec.Code)
	var res trust.PromotionResult
	decode(t, rec, &res)
	assert.False(t, res.Promoted)
	assert.Equal(t, trust.RefusedSample, res.Refusal)
}

func TestRules(t *testing.T) {
	f := newFixture(t)
	action := "classify"

	rec := f.do(t, http.MethodPost, "/api/rules", CreateRuleReq{
		Operator: operator, Module: "email", ActionType: &action, Priority: 200,
		Conditions: map[string]any{"keywords": []string{"urssaf"}},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = f.do(t, http.MethodPost, "/api/rules", CreateRuleReq{
		Operator: operator, Module: "email", ActionType: &action, Priority: 10,
		Conditions: map[string]any{"keywords": []string{"urssaf"}, "min_match": 1},
		Output:     map[string]any{"category": "finance"},
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	var rule governance.Rule
	decode(t, rec, &rule)
	assert.Equal(t, operator, rule.CreatedBy)
	assert.Equal(t, "action", rule.Scope)

	rec = f.do(t, http.MethodDelete, "/api/rules/"+rule.ID, OperatorReq{Operator: operator})
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = f.do(t, http.MethodDelete, "/api/rules/"+rule.ID, OperatorReq{Operator: operator})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestResolveProposal(t *testing.T) {
	f := newFixture(t)
	prop, err := f.proposer.Propose(context.Background(), feedback.PatternCluster{
		Module:      "email",
		ActionType:  "classify",
		ReceiptIDs:  []string{"r1", "r2"},
		Corrections: []string{"Facture URSSAF → finance", "Factures URSSAF → finance"},
		Keywords:    []string{"urssaf", "finance"},
		Category:    "finance",
		Similarity:  0.96,
	})
	require.NoError(t, err)
	path := "/v1/proposals/" + prop.ID + "/resolve?disposition=create"

	rec := f.do(t, http.MethodPost, path, ResolveProposalReq{Approver: "intruder"})
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = f.do(t, http.MethodPost, path, ResolveProposalReq{Approver: owner})
	require.Equal(t, http.StatusOK, rec.Code)
	var resp ResolveProposalResp
	decode(t, rec, &resp)
	assert.Equal(t, "applied", resp.Outcome)
	require.NotNil(t, resp.Rule)
	assert.Equal(t, governance.RuleCreatedByDetector, resp.Rule.CreatedBy)

	rec = f.do(t, http.MethodPost, path, ResolveProposalReq{Approver: owner})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"outcome":"already_processed"}`, rec.Body.String())
}

func TestEventsWithoutClickHouse(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, httptest.NewRequest(http.MethodOptions, "/v1/receipts/r1/approve", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "*", rec.Header().Get("Access-Control-Allow-Origin"))
}

type stubTrustEvents struct {
	events []events.Event
	err    error
	count  int64
}

func (s *stubTrustEvents) Recent(_ context.Context, count int64) ([]events.Event, error) {
	s.count = count
	return s.events, s.err
}

func TestListTrustEvents(t *testing.T) {
	f := newFixture(t)
	rec := f.do(t, http.MethodGet, "/api/trust/events", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	emitted := time.Date(2026, 10, 12, 8, 0, 0, 0, time.UTC)
	src := &stubTrustEvents{events: []events.Event{{
		ID:        "1760256000000-0",
		Topic:     "trust.level_changed",
		Payload:   map[string]any{"module": "email", "action": "classify", "to": "propose"},
		EmittedAt: emitted,
	}}}
	f.deps.TrustEvents = src

	rec = f.do(t, http.MethodGet, "/api/trust/events?limit=9999", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(maxTrustEvents), src.count)

	var resp TrustEventListResp
	decode(t, rec, &resp)
	require.Len(t, resp.Events, 1)
	assert.Equal(t, "trust.level_changed", resp.Events[0].Topic)
	assert.Equal(t, "propose", resp.Events[0].Payload["to"])
	assert.True(t, emitted.Equal(resp.Events[0].EmittedAt))

	src.err = errors.New("redis down")
	rec = f.do(t, http.MethodGet, "/api/trust/events", nil)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, int64(50), src.count)
}
