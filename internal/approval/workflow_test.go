package approval

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/store"
)

const owner = "owner"

type countingExecutor struct {
	calls atomic.Int32
	ok    bool
}

func (e *countingExecutor) Execute(context.Context, string) bool {
	e.calls.Add(1)
	return e.ok
}

type fakeAnonymizer struct {
	err error
}

func (a fakeAnonymizer) Anonymize(_ context.Context, text string) (string, error) {
	if a.err != nil {
		return "", a.err
	}
	return "[scrubbed] " + text, nil
}

func seed(t *testing.T, s *store.MemoryStore, id string, status governance.Status) {
	t.Helper()
	require.NoError(t, s.InsertReceipt(context.Background(), &governance.Receipt{
		ID:         id,
		Module:     "email",
		ActionType: "send_reply",
		CreatedAt:  time.Now(),
		TrustLevel: governance.TrustPropose,
		Status:     status,
	}))
}

func newWorkflow(s *store.MemoryStore, exec Executor, anon Anonymizer) *Workflow {
	return NewWorkflow(Config{
		Receipts:   s,
		Approver:   owner,
		Anonymizer: anon,
		Executor:   exec,
		Logger:     zap.NewNop(),
	})
}

func TestApprove_RunsExecutorOnce(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	exec := &countingExecutor{ok: true}
	w := newWorkflow(s, exec, nil)

	d, err := w.Approve(context.Background(), "r1", owner)
	require.NoError(t, err)
	assert.True(t, d.Applied())
	require.NotNil(t, d.Executed)
	assert.True(t, *d.Executed)
	assert.Equal(t, int32(1), exec.calls.Load())

	r, _ := s.GetReceipt(context.Background(), "r1")
	assert.Equal(t, governance.StatusApproved, r.Status)
	require.NotNil(t, r.ValidatedBy)
	assert.Equal(t, owner, *r.ValidatedBy)
}

func TestApprove_SecondCallAlreadyProcessed(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	exec := &countingExecutor{ok: true}
	w := newWorkflow(s, exec, nil)

	_, err := w.Approve(context.Background(), "r1", owner)
	require.NoError(t, err)

	d, err := w.Approve(context.Background(), "r1", owner)
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, d.Outcome)
	assert.Nil(t, d.Executed)
	assert.Equal(t, int32(1), exec.calls.Load())
}

func TestConcurrentDecisions_ExactlyOneApplies(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	exec := &countingExecutor{ok: true}
	w := newWorkflow(s, exec, nil)

	const n = 32
	var (
		wg       sync.WaitGroup
		applied  atomic.Int32
		already  atomic.Int32
		failures atomic.Int32
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			var (
				d   *Decision
				err error
			)
			if i%2 == 0 {
				d, err = w.Approve(context.Background(), "r1", owner)
			} else {
				d, err = w.Reject(context.Background(), "r1", owner)
			}
			switch {
			case err != nil:
				failures.Add(1)
			case d.Applied():
				applied.Add(1)
			default:
				already.Add(1)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, int32(1), applied.Load())
	assert.Equal(t, int32(n-1), already.Load())
	assert.Zero(t, failures.Load())
	assert.LessOrEqual(t, exec.calls.Load(), int32(1))
}

func TestReject(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	exec := &countingExecutor{}
	w := newWorkflow(s, exec, nil)

	d, err := w.Reject(context.Background(), "r1", owner)
	require.NoError(t, err)
	assert.True(t, d.Applied())
	assert.Equal(t, governance.StatusRejected, d.Receipt.Status)
	assert.Zero(t, exec.calls.Load())
}

func TestDecision_UnauthorizedDoesNotRevealExistence(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	w := newWorkflow(s, &countingExecutor{}, nil)

	_, errExisting := w.Approve(context.Background(), "r1", "mallory")
	_, errMissing := w.Approve(context.Background(), "does-not-exist", "mallory")

	assert.ErrorIs(t, errExisting, governance.ErrUnauthorized)
	assert.ErrorIs(t, errMissing, governance.ErrUnauthorized)
	assert.Equal(t, errExisting.Error(), errMissing.Error())

	r, _ := s.GetReceipt(context.Background(), "r1")
	assert.Equal(t, governance.StatusPending, r.Status)
}

func TestDecision_NoApproverConfiguredRefusesAll(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	w := NewWorkflow(Config{Receipts: s, Logger: zap.NewNop()})

	_, err := w.Approve(context.Background(), "r1", "")
	assert.ErrorIs(t, err, governance.ErrUnauthorized)
}

func TestDecision_UnknownReceipt(t *testing.T) {
	w := newWorkflow(store.NewMemoryStore(), nil, nil)
	_, err := w.Reject(context.Background(), "missing", owner)
	assert.ErrorIs(t, err, governance.ErrReceiptNotFound)
}

func TestSubmitCorrection_Anonymized(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	w := newWorkflow(s, nil, fakeAnonymizer{})

	d, err := w.SubmitCorrection(context.Background(), "r1", owner, "  URSSAF → finance  ")
	require.NoError(t, err)
	assert.True(t, d.Applied())

	r, _ := s.GetReceipt(context.Background(), "r1")
	assert.Equal(t, governance.StatusCorrected, r.Status)
	require.NotNil(t, r.Correction)
	assert.Equal(t, "[scrubbed] URSSAF → finance", *r.Correction)
	assert.Equal(t, true, r.Payload["correction_anonymized"])
}

func TestSubmitCorrection_AnonymizerFailureKeepsRawText(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusPending)
	w := newWorkflow(s, nil, fakeAnonymizer{err: errors.New("scrubber offline")})

	d, err := w.SubmitCorrection(context.Background(), "r1", owner, "URSSAF → finance")
	require.NoError(t, err)
	assert.True(t, d.Applied())

	r, _ := s.GetReceipt(context.Background(), "r1")
	require.NotNil(t, r.Correction)
	assert.Equal(t, "URSSAF → finance", *r.Correction)
	assert.Equal(t, false, r.Payload["correction_anonymized"])
}

func TestSubmitCorrection_AcceptsAutoReceipts(t *testing.T) {
	s := store.NewMemoryStore()
	seed(t, s, "r1", governance.StatusAuto)
	seed(t, s, "r2", governance.StatusRejected)
	w := newWorkflow(s, nil, fakeAnonymizer{})

	d, err := w.SubmitCorrection(context.Background(), "r1", owner, "should be personal")
	require.NoError(t, err)
	assert.True(t, d.Applied())

	d, err = w.SubmitCorrection(context.Background(), "r2", owner, "should be personal")
	require.NoError(t, err)
	assert.Equal(t, OutcomeAlreadyProcessed, d.Outcome)
}

func TestSubmitCorrection_Empty(t *testing.T) {
	w := newWorkflow(store.NewMemoryStore(), nil, nil)
	_, err := w.SubmitCorrection(context.Background(), "r1", owner, "   ")
	assert.ErrorIs(t, err, ErrEmptyCorrection)
}

func TestAttemptLog_WindowAndCap(t *testing.T) {
	l := newAttemptLog()
	now := time.Date(2026, 10, 16, 9, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	count, logged := l.record("mallory")
	assert.Equal(t, 1, count)
	assert.True(t, logged)

	for i := 0; i < 10; i++ {
		count, logged = l.record("mallory")
	}
	assert.Equal(t, 11, count)
	assert.False(t, logged, "log lines are rate limited per identity")

	now = now.Add(2 * attemptWindow)
	count, _ = l.record("mallory")
	assert.Equal(t, 1, count, "counter resets after the window")

	for i := 0; i < maxTrackedIDs+50; i++ {
		l.record(fmt.Sprintf("bot-%d", i))
	}
	assert.LessOrEqual(t, l.size(), maxTrackedIDs)
}
