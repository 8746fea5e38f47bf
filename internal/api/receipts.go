package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/approval"
	"github.com/Masterplan16/friday-trust/internal/governance"
)

func (d *Dependencies) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req DecisionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	decision, err := d.Workflow.Approve(r.Context(), r.PathValue("receipt_id"), req.Approver)
	d.writeDecision(w, "approve", decision, err)
}

func (d *Dependencies) handleReject(w http.ResponseWriter, r *http.Request) {
	var req DecisionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	decision, err := d.Workflow.Reject(r.Context(), r.PathValue("receipt_id"), req.Approver)
	d.writeDecision(w, "reject", decision, err)
}

func (d *Dependencies) handleCorrect(w http.ResponseWriter, r *http.Request) {
	var req CorrectionReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	decision, err := d.Workflow.SubmitCorrection(r.Context(), r.PathValue("receipt_id"), req.Approver, req.Correction)
	d.writeDecision(w, "correct", decision, err)
}

// writeDecision maps a workflow result to a response. Double clicks are a
// normal 200 outcome, never an error.
func (d *Dependencies) writeDecision(w http.ResponseWriter, op string, decision *approval.Decision, err error) {
	switch {
	case errors.Is(err, governance.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, forbiddenResp)
		return
	case errors.Is(err, governance.ErrReceiptNotFound):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Receipt not found."})
		return
	case errors.Is(err, approval.ErrEmptyCorrection):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "correction must not be empty"})
		return
	case err != nil:
		d.Logger.Error("decision failed", zap.String("decision", op), zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to record decision"})
		return
	}

	resp := DecisionResp{Outcome: string(decision.Outcome), Executed: decision.Executed}
	if decision.Applied() && decision.Receipt != nil {
		resp.Status = string(decision.Receipt.Status)
	}
	writeJSON(w, http.StatusOK, resp)
}

func (d *Dependencies) handleGetReceipt(w http.ResponseWriter, r *http.Request) {
	receipt, err := d.Receipts.GetReceipt(r.Context(), r.PathValue("receipt_id"))
	if err != nil {
		d.Logger.Error("failed to get receipt", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to get receipt"})
		return
	}
	if receipt == nil {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Receipt not found."})
		return
	}
	writeJSON(w, http.StatusOK, receiptToResp(receipt))
}
