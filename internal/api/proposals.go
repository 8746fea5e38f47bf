package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/approval"
	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
)

func (d *Dependencies) handleResolveProposal(w http.ResponseWriter, r *http.Request) {
	var req ResolveProposalReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	// Channel buttons carry the disposition in the query string.
	if req.Disposition == "" {
		req.Disposition = r.URL.Query().Get("disposition")
	}

	rule, err := d.Proposer.Resolve(r.Context(), r.PathValue("proposal_id"), req.Approver, feedback.Resolution{
		Disposition: feedback.Disposition(req.Disposition),
		Priority:    req.Priority,
		Keywords:    req.Keywords,
		Category:    req.Category,
	})
	switch {
	case errors.Is(err, governance.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, forbiddenResp)
	case errors.Is(err, feedback.ErrProposalNotFound):
		writeJSON(w, http.StatusOK, ResolveProposalResp{Outcome: string(approval.OutcomeAlreadyProcessed)})
	case errors.Is(err, feedback.ErrInvalidDisposition), errors.Is(err, governance.ErrInvalidResult):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
	case err != nil:
		d.Logger.Error("failed to resolve proposal", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to resolve proposal"})
	default:
		writeJSON(w, http.StatusOK, ResolveProposalResp{
			Outcome:     string(approval.OutcomeApplied),
			Disposition: req.Disposition,
			Rule:        rule,
		})
	}
}
