package api

import (
	"time"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

// ErrorResp is the body of every non-2xx response.
type ErrorResp struct {
	Detail string `json:"detail"`
}

// forbiddenResp is the fixed 403 body. It never says whether the target exists.
var forbiddenResp = ErrorResp{Detail: "Not permitted."}

type DecisionReq struct {
	Approver string `json:"approver"`
}

type CorrectionReq struct {
	Approver   string `json:"approver"`
	Correction string `json:"correction"`
}

type DecisionResp struct {
	Outcome  string `json:"outcome"`
	Status   string `json:"status,omitempty"`
	Executed *bool  `json:"executed,omitempty"`
}

type ReceiptResp struct {
	ID            string         `json:"id"`
	Module        string         `json:"module"`
	ActionType    string         `json:"action_type"`
	InputSummary  string         `json:"input_summary"`
	OutputSummary string         `json:"output_summary"`
	Confidence    float64        `json:"confidence"`
	Reasoning     string         `json:"reasoning"`
	Payload       map[string]any `json:"payload"`
	CreatedAt     time.Time      `json:"created_at"`
	DurationMs    int64          `json:"duration_ms"`
	TrustLevel    string         `json:"trust_level"`
	Status        string         `json:"status"`
	Correction    *string        `json:"correction,omitempty"`
	ValidatedBy   *string        `json:"validated_by,omitempty"`
}

func receiptToResp(r *governance.Receipt) ReceiptResp {
	return ReceiptResp{
		ID:            r.ID,
		Module:        r.Module,
		ActionType:    r.ActionType,
		InputSummary:  r.InputSummary,
		OutputSummary: r.OutputSummary,
		Confidence:    r.Confidence,
		Reasoning:     r.Reasoning,
		Payload:       r.Payload,
		CreatedAt:     r.CreatedAt,
		DurationMs:    r.Duration.Milliseconds(),
		TrustLevel:    string(r.TrustLevel),
		Status:        string(r.Status),
		Correction:    r.Correction,
		ValidatedBy:   r.ValidatedBy,
	}
}

type ResolveProposalReq struct {
	Approver    string   `json:"approver"`
	Disposition string   `json:"disposition"`
	Priority    *int     `json:"priority,omitempty"`
	Keywords    []string `json:"keywords,omitempty"`
	Category    *string  `json:"category,omitempty"`
}

type ResolveProposalResp struct {
	Outcome     string           `json:"outcome"`
	Disposition string           `json:"disposition,omitempty"`
	Rule        *governance.Rule `json:"rule,omitempty"`
}

type PromoteReq struct {
	Operator string `json:"operator"`
}

type SetLevelReq struct {
	Operator string `json:"operator"`
	Level    string `json:"level"`
	Reason   string `json:"reason"`
}

type SetLevelResp struct {
	Module string `json:"module"`
	Action string `json:"action"`
	Level  string `json:"level"`
}

type CreateRuleReq struct {
	Operator   string         `json:"operator"`
	Module     string         `json:"module"`
	ActionType *string        `json:"action_type,omitempty"`
	Priority   int            `json:"priority"`
	Conditions map[string]any `json:"conditions"`
	Output     map[string]any `json:"output"`
}

type OperatorReq struct {
	Operator string `json:"operator"`
}

type EventListResp struct {
	Events   []EventResp `json:"events"`
	Total    int         `json:"total"`
	Page     int         `json:"page"`
	PageSize int         `json:"page_size"`
}

type EventResp struct {
	ReceiptID     string    `json:"receipt_id"`
	Module        string    `json:"module"`
	ActionType    string    `json:"action_type"`
	Event         string    `json:"event"`
	Status        string    `json:"status"`
	TrustLevel    string    `json:"trust_level"`
	Confidence    float32   `json:"confidence"`
	OutputPreview *string   `json:"output_preview,omitempty"`
	Actor         *string   `json:"actor,omitempty"`
	DurationMs    float32   `json:"duration_ms"`
	Timestamp     time.Time `json:"timestamp"`
}

type TrustEventResp struct {
	ID        string         `json:"id"`
	Topic     string         `json:"topic"`
	Payload   map[string]any `json:"payload"`
	EmittedAt time.Time      `json:"emitted_at"`
}

type TrustEventListResp struct {
	Events []TrustEventResp `json:"events"`
}
