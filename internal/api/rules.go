package api

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/feedback"
	"github.com/Masterplan16/friday-trust/internal/governance"
)

func (d *Dependencies) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req CreateRuleReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if d.Operator == "" || req.Operator != d.Operator {
		writeJSON(w, http.StatusForbidden, forbiddenResp)
		return
	}

	scope := "action"
	if req.ActionType == nil {
		scope = "module"
	}
	output := req.Output
	if output == nil {
		output = map[string]any{}
	}
	rule := &governance.Rule{
		Module:     req.Module,
		ActionType: req.ActionType,
		Scope:      scope,
		Priority:   req.Priority,
		Conditions: req.Conditions,
		Output:     output,
		Active:     true,
		CreatedBy:  req.Operator,
	}
	if err := feedback.ValidateRule(rule); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
		return
	}
	if err := d.Rules.InsertRule(r.Context(), rule); err != nil {
		d.Logger.Error("failed to create rule", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to create rule"})
		return
	}
	writeJSON(w, http.StatusCreated, rule)
}

func (d *Dependencies) handleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	var req OperatorReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if d.Operator == "" || req.Operator != d.Operator {
		writeJSON(w, http.StatusForbidden, forbiddenResp)
		return
	}

	ok, err := d.Rules.DeactivateRule(r.Context(), r.PathValue("rule_id"))
	if err != nil {
		d.Logger.Error("failed to deactivate rule", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to deactivate rule"})
		return
	}
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Rule not found."})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
