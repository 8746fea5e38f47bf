// Package notify delivers approval requests, rule proposals and alerts to the
// human-facing channel.
package notify

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// Choice is one actionable button on a message.
type Choice struct {
	Label  string `json:"label"`
	Action string `json:"action"` // relative API path the channel calls back
}

// RuleProposal is the human-readable form of a candidate rule.
type RuleProposal struct {
	ProposalID string   `json:"proposal_id"`
	Module     string   `json:"module"`
	ActionType string   `json:"action_type"`
	Keywords   []string `json:"keywords"`
	Category   string   `json:"category,omitempty"`
	Similarity float64  `json:"similarity"`
	Examples   []string `json:"examples"`
}

// Notifier is the notification channel. NotifyBestEffort never fails the caller.
type Notifier interface {
	NotifyForApproval(ctx context.Context, r *governance.Receipt) (string, error)
	NotifyRuleProposal(ctx context.Context, p *RuleProposal) (string, error)
	NotifyBestEffort(ctx context.Context, message string)
}

// ApprovalChoices are the three decisions offered on a pending receipt.
func ApprovalChoices(receiptID string) []Choice {
	return []Choice{
		{Label: "Approve", Action: fmt.Sprintf("/v1/receipts/%s/approve", receiptID)},
		{Label: "Reject", Action: fmt.Sprintf("/v1/receipts/%s/reject", receiptID)},
		{Label: "Correct", Action: fmt.Sprintf("/v1/receipts/%s/correct", receiptID)},
	}
}

// ProposalChoices are the three dispositions offered on a rule proposal.
func ProposalChoices(proposalID string) []Choice {
	action := fmt.Sprintf("/v1/proposals/%s/resolve", proposalID)
	return []Choice{
		{Label: "Create", Action: action + "?disposition=create"},
		{Label: "Modify", Action: action + "?disposition=modify"},
		{Label: "Ignore", Action: action + "?disposition=ignore"},
	}
}

// ApprovalText renders the body of an approval request.
func ApprovalText(r *governance.Receipt) string {
	return fmt.Sprintf("[%s] %s needs approval (confidence %.0f%%)\nInput: %s\nOutput: %s\nReasoning: %s",
		r.ActionKey(), r.ID, r.Confidence*100, r.InputSummary, r.OutputSummary, r.Reasoning)
}

// ProposalText renders the body of a rule proposal.
func ProposalText(p *RuleProposal) string {
	text := fmt.Sprintf("Recurring correction on %s.%s (%d examples, similarity %.0f%%)\nKeywords: %v",
		p.Module, p.ActionType, len(p.Examples), p.Similarity*100, p.Keywords)
	if p.Category != "" {
		text += "\nSuggested category: " + p.Category
	}
	for i, ex := range p.Examples {
		if i == 3 {
			break
		}
		text += "\n- " + ex
	}
	return text
}

// LogNotifier is the fallback Notifier for local development.
type LogNotifier struct {
	logger *zap.Logger
	nextID func() string
}

// NewLogNotifier creates a LogNotifier writing to logger.
func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger, nextID: newCorrelationID}
}

func (n *LogNotifier) NotifyForApproval(_ context.Context, r *governance.Receipt) (string, error) {
	id := n.nextID()
	n.logger.Info("approval_request",
		zap.String("correlation_id", id),
		zap.String("receipt_id", r.ID),
		zap.String("text", ApprovalText(r)),
	)
	return id, nil
}

func (n *LogNotifier) NotifyRuleProposal(_ context.Context, p *RuleProposal) (string, error) {
	id := n.nextID()
	n.logger.Info("rule_proposal",
		zap.String("correlation_id", id),
		zap.String("proposal_id", p.ProposalID),
		zap.String("text", ProposalText(p)),
	)
	return id, nil
}

func (n *LogNotifier) NotifyBestEffort(_ context.Context, message string) {
	n.logger.Info("notification", zap.String("text", message))
}
