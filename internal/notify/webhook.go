package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// DefaultWebhookTimeout bounds one delivery attempt.
const DefaultWebhookTimeout = 10 * time.Second

// webhookMessage is the JSON body posted to the channel.
type webhookMessage struct {
	CorrelationID string   `json:"correlation_id"`
	Kind          string   `json:"kind"` // "approval", "rule_proposal", "alert"
	Text          string   `json:"text"`
	ReceiptID     string   `json:"receipt_id,omitempty"`
	ProposalID    string   `json:"proposal_id,omitempty"`
	Choices       []Choice `json:"choices,omitempty"`
}

// WebhookNotifier posts messages to a chat bridge over HTTP.
// It is safe for concurrent use.
type WebhookNotifier struct {
	url        string
	httpClient *http.Client
	logger     *zap.Logger
}

// NewWebhookNotifier creates a notifier posting to url.
func NewWebhookNotifier(url string, logger *zap.Logger) *WebhookNotifier {
	return &WebhookNotifier{
		url:        url,
		httpClient: &http.Client{Timeout: DefaultWebhookTimeout},
		logger:     logger,
	}
}

func (n *WebhookNotifier) NotifyForApproval(ctx context.Context, r *governance.Receipt) (string, error) {
	msg := webhookMessage{
		CorrelationID: newCorrelationID(),
		Kind:          "approval",
		Text:          ApprovalText(r),
		ReceiptID:     r.ID,
		Choices:       ApprovalChoices(r.ID),
	}
	if err := n.post(ctx, msg); err != nil {
		return "", fmt.Errorf("NotifyForApproval: %w", err)
	}
	return msg.CorrelationID, nil
}

func (n *WebhookNotifier) NotifyRuleProposal(ctx context.Context, p *RuleProposal) (string, error) {
	msg := webhookMessage{
		CorrelationID: newCorrelationID(),
		Kind:          "rule_proposal",
		Text:          ProposalText(p),
		ProposalID:    p.ProposalID,
		Choices:       ProposalChoices(p.ProposalID),
	}
	if err := n.post(ctx, msg); err != nil {
		return "", fmt.Errorf("NotifyRuleProposal: %w", err)
	}
	return msg.CorrelationID, nil
}

func (n *WebhookNotifier) NotifyBestEffort(ctx context.Context, message string) {
	msg := webhookMessage{
		CorrelationID: newCorrelationID(),
		Kind:          "alert",
		Text:          message,
	}
	if err := n.post(ctx, msg); err != nil {
		n.logger.Warn("best-effort notification failed", zap.Error(err))
	}
}

func (n *WebhookNotifier) post(ctx context.Context, msg webhookMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("post: unexpected status %d", resp.StatusCode)
	}
	return nil
}

func newCorrelationID() string {
	return uuid.NewString()
}
