package api

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/Masterplan16/friday-trust/internal/governance"
)

func (d *Dependencies) handleListLevels(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, d.Registry.Levels())
}

func (d *Dependencies) handlePromote(w http.ResponseWriter, r *http.Request) {
	var req PromoteReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	if d.Operator == "" || req.Operator != d.Operator {
		d.Logger.Warn("promotion refused for non-operator", zap.String("operator", req.Operator))
		writeJSON(w, http.StatusForbidden, forbiddenResp)
		return
	}

	res, err := d.Promoter.Promote(r.Context(), r.PathValue("module"), r.PathValue("action"))
	switch {
	case errors.Is(err, governance.ErrUnknownAction):
		writeJSON(w, http.StatusNotFound, ErrorResp{Detail: "Action is not configured."})
	case err != nil:
		d.Logger.Error("promotion failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to evaluate promotion"})
	default:
		writeJSON(w, http.StatusOK, res)
	}
}

func (d *Dependencies) handleSetLevel(w http.ResponseWriter, r *http.Request) {
	var req SetLevelReq
	if err := readJSON(r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "Invalid JSON body"})
		return
	}
	module, action := r.PathValue("module"), r.PathValue("action")

	err := d.Promoter.Override(r.Context(), req.Operator, module, action, governance.TrustLevel(req.Level), req.Reason)
	switch {
	case errors.Is(err, governance.ErrUnauthorized):
		writeJSON(w, http.StatusForbidden, forbiddenResp)
	case errors.Is(err, governance.ErrInvalidTrustLevel):
		writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: "level must be auto, propose or blocked"})
	case err != nil:
		d.Logger.Error("trust override failed", zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, ErrorResp{Detail: "Failed to set trust level"})
	default:
		writeJSON(w, http.StatusOK, SetLevelResp{Module: module, Action: action, Level: req.Level})
	}
}
