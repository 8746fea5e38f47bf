package feedback

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
	"github.com/Masterplan16/friday-trust/internal/notify"
	"github.com/Masterplan16/friday-trust/internal/telemetry"
)

var (
	// ErrProposalNotFound means the proposal expired or was already resolved.
	ErrProposalNotFound = errors.New("proposal not found or already resolved")
	// ErrInvalidDisposition is returned for anything but create, modify or ignore.
	ErrInvalidDisposition = errors.New("invalid disposition")
)

// Disposition is the human answer to a proposal.
type Disposition string

const (
	DispositionCreate Disposition = "create"
	DispositionModify Disposition = "modify"
	DispositionIgnore Disposition = "ignore"
)

// Proposal is a candidate rule waiting for a disposition.
type Proposal struct {
	ID               string    `json:"id"`
	Module           string    `json:"module"`
	ActionType       string    `json:"action_type"`
	Keywords         []string  `json:"keywords"`
	Category         string    `json:"category,omitempty"`
	Similarity       float64   `json:"similarity"`
	SourceReceiptIDs []string  `json:"source_receipt_ids"`
	Examples         []string  `json:"examples"`
	CreatedAt        time.Time `json:"created_at"`
}

// Rule is the candidate rule as it would be inserted on create.
func (p *Proposal) Rule() *governance.Rule {
	action := p.ActionType
	return &governance.Rule{
		Module:           p.Module,
		ActionType:       &action,
		Scope:            ruleScope(&action),
		Priority:         DefaultRulePriority,
		Conditions:       RuleConditions(p.Keywords),
		Output:           RuleOutput(p.Category),
		SourceReceiptIDs: append([]string(nil), p.SourceReceiptIDs...),
		Active:           true,
		CreatedBy:        governance.RuleCreatedByDetector,
	}
}

// Resolution is a disposition plus the overrides a modify may carry.
type Resolution struct {
	Disposition Disposition
	Priority    *int
	Keywords    []string
	Category    *string
}

// ProposalNotifier sends a proposal to the human-facing channel.
type ProposalNotifier interface {
	NotifyRuleProposal(ctx context.Context, p *notify.RuleProposal) (string, error)
}

// RuleInserter stores accepted rules.
type RuleInserter interface {
	InsertRule(ctx context.Context, r *governance.Rule) error
}

// ProposerConfig wires a Proposer.
type ProposerConfig struct {
	Rules    RuleInserter
	Tracker  Tracker
	Notifier ProposalNotifier
	Approver string
	TTL      time.Duration
	Logger   *zap.Logger
}

// Proposer routes detected patterns to a human and turns accepted ones into rules.
type Proposer struct {
	rules    RuleInserter
	tracker  Tracker
	notifier ProposalNotifier
	approver string
	ttl      time.Duration
	logger   *zap.Logger
	now      func() time.Time
}

// NewProposer creates a Proposer.
func NewProposer(cfg ProposerConfig) *Proposer {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.TTL <= 0 {
		cfg.TTL = DefaultProposalTTL
	}
	if cfg.Tracker == nil {
		cfg.Tracker = NewMemoryTracker()
	}
	return &Proposer{
		rules:    cfg.Rules,
		tracker:  cfg.Tracker,
		notifier: cfg.Notifier,
		approver: cfg.Approver,
		ttl:      cfg.TTL,
		logger:   cfg.Logger,
		now:      time.Now,
	}
}

// Propose stores a proposal for the cluster and sends it for review. The
// proposal is tracked before the notification goes out.
func (p *Proposer) Propose(ctx context.Context, c PatternCluster) (*Proposal, error) {
	prop := &Proposal{
		ID:               uuid.NewString(),
		Module:           c.Module,
		ActionType:       c.ActionType,
		Keywords:         c.Keywords,
		Category:         c.Category,
		Similarity:       c.Similarity,
		SourceReceiptIDs: c.ReceiptIDs,
		Examples:         c.Corrections,
		CreatedAt:        p.now().UTC(),
	}
	if err := ValidateRule(prop.Rule()); err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}
	if err := p.tracker.Put(ctx, prop, p.ttl); err != nil {
		return nil, fmt.Errorf("Propose: %w", err)
	}
	telemetry.ProposalsTotal.WithLabelValues("proposed").Inc()

	if p.notifier != nil {
		_, err := p.notifier.NotifyRuleProposal(ctx, &notify.RuleProposal{
			ProposalID: prop.ID,
			Module:     prop.Module,
			ActionType: prop.ActionType,
			Keywords:   prop.Keywords,
			Category:   prop.Category,
			Similarity: prop.Similarity,
			Examples:   prop.Examples,
		})
		if err != nil {
			p.logger.Warn("rule proposal notification failed",
				zap.String("proposal_id", prop.ID),
				zap.Error(err),
			)
		}
	}
	return prop, nil
}

// ProposeAll proposes every cluster and returns the proposal ids. A cluster
// that cannot be proposed is logged and skipped.
func (p *Proposer) ProposeAll(ctx context.Context, clusters []PatternCluster) ([]string, error) {
	ids := make([]string, 0, len(clusters))
	for _, c := range clusters {
		prop, err := p.Propose(ctx, c)
		if err != nil {
			if ctx.Err() != nil {
				return ids, ctx.Err()
			}
			p.logger.Warn("skipping pattern",
				zap.String("module", c.Module),
				zap.String("action", c.ActionType),
				zap.Error(err),
			)
			continue
		}
		ids = append(ids, prop.ID)
	}
	return ids, nil
}

// Resolve applies a disposition. It returns the inserted rule, or nil for ignore.
func (p *Proposer) Resolve(ctx context.Context, proposalID, approver string, res Resolution) (*governance.Rule, error) {
	if p.approver == "" || approver != p.approver {
		telemetry.UnauthorizedAttempts.Inc()
		return nil, governance.ErrUnauthorized
	}
	switch res.Disposition {
	case DispositionCreate, DispositionModify, DispositionIgnore:
	default:
		return nil, fmt.Errorf("Resolve: %w: %q", ErrInvalidDisposition, res.Disposition)
	}

	// Build and check the rule before consuming the proposal, so a rejected
	// modify can be corrected and resubmitted.
	if res.Disposition != DispositionIgnore {
		peek, err := p.tracker.Get(ctx, proposalID)
		if err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
		if peek == nil {
			return nil, ErrProposalNotFound
		}
		if err := ValidateRule(candidate(peek, approver, res)); err != nil {
			return nil, fmt.Errorf("Resolve: %w", err)
		}
	}

	prop, err := p.tracker.Take(ctx, proposalID)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	if prop == nil {
		return nil, ErrProposalNotFound
	}
	telemetry.ProposalsTotal.WithLabelValues(string(res.Disposition)).Inc()

	if res.Disposition == DispositionIgnore {
		p.logger.Info("rule proposal ignored", zap.String("proposal_id", proposalID))
		return nil, nil
	}

	rule := candidate(prop, approver, res)
	if err := ValidateRule(rule); err != nil {
		p.restore(ctx, prop)
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	if err := p.rules.InsertRule(ctx, rule); err != nil {
		p.restore(ctx, prop)
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	p.logger.Info("rule created from proposal",
		zap.String("proposal_id", proposalID),
		zap.String("rule_id", rule.ID),
		zap.String("created_by", rule.CreatedBy),
	)
	return rule, nil
}

// candidate is the rule a disposition would insert for prop.
func candidate(prop *Proposal, approver string, res Resolution) *governance.Rule {
	rule := prop.Rule()
	if res.Disposition != DispositionModify {
		return rule
	}
	rule.CreatedBy = approver
	if res.Priority != nil {
		rule.Priority = *res.Priority
	}
	if len(res.Keywords) > 0 {
		rule.Conditions = RuleConditions(res.Keywords)
	}
	if res.Category != nil {
		rule.Output = RuleOutput(*res.Category)
	}
	return rule
}

// restore puts a taken proposal back for the rest of its TTL after the rule
// could not be stored.
func (p *Proposer) restore(ctx context.Context, prop *Proposal) {
	ttl := p.ttl - p.now().UTC().Sub(prop.CreatedAt)
	if ttl <= 0 {
		return
	}
	if err := p.tracker.Put(context.WithoutCancel(ctx), prop, ttl); err != nil {
		p.logger.Warn("failed to restore rule proposal",
			zap.String("proposal_id", prop.ID),
			zap.Error(err),
		)
	}
}
