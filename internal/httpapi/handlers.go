package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"voucherops/backend/internal/domain"
)

func (a *API) handleListRetailers(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	items, err := a.service.ListRetailers(r.Context(), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateRetailer(w http.ResponseWriter, r *http.Request) {
	var req domain.RetailerCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	retailer, err := a.service.CreateRetailer(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, retailer)
}

func (a *API) handleGetRetailer(w http.ResponseWriter, r *http.Request) {
	retailer, err := a.service.GetRetailer(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, retailer)
}

func (a *API) handleRetailerStatus(w http.ResponseWriter, r *http.Request) {
	var req domain.RetailerStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	retailer, err := a.service.SetRetailerStatus(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, retailer)
}

func (a *API) handleAssignCommissionGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.CommissionGroupAssignRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	retailer, err := a.service.AssignCommissionGroup(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, retailer)
}

func (a *API) handleCreditLimitAdjustment(w http.ResponseWriter, r *http.Request) {
	var req domain.CreditLimitAdjustmentRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if !a.requireManagerPIN(w, r, "credit", req.ManagerPIN) {
		return
	}

	req.RetailerID = chi.URLParam(r, "id")
	adjustment, err := a.service.AdjustCreditLimit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, adjustment)
}

func (a *API) handleCreditLimitHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	items, err := a.service.CreditLimitHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleRetailerDeposit(w http.ResponseWriter, r *http.Request) {
	var req domain.RetailerDepositRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if strings.EqualFold(strings.TrimSpace(req.Direction), domain.DepositDirectionRemoval) {
		if !a.requireManagerPIN(w, r, "removal", req.ManagerPIN) {
			return
		}
	}

	req.RetailerID = chi.URLParam(r, "id")
	deposit, err := a.service.RecordDeposit(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, deposit)
}

func (a *API) handleDepositHistory(w http.ResponseWriter, r *http.Request) {
	limit := parsePositiveLimit(r.URL.Query().Get("limit"), 100, 500)
	items, err := a.service.DepositHistory(r.Context(), chi.URLParam(r, "id"), limit)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleListFeeConfigs(w http.ResponseWriter, r *http.Request) {
	items, err := a.service.ListFeeConfigs(r.Context())
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleUpsertFeeConfig(w http.ResponseWriter, r *http.Request) {
	var req domain.FeeConfigUpsertRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	cfg, err := a.service.UpsertFeeConfig(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, cfg)
}

func (a *API) handleListCommissionGroups(w http.ResponseWriter, r *http.Request) {
	includeArchived := strings.EqualFold(strings.TrimSpace(r.URL.Query().Get("include_archived")), "true")
	items, err := a.service.ListCommissionGroups(r.Context(), includeArchived)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}

func (a *API) handleCreateCommissionGroup(w http.ResponseWriter, r *http.Request) {
	var req domain.CommissionGroupCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	group, err := a.service.CreateCommissionGroup(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, group)
}

func (a *API) handleArchiveCommissionGroup(w http.ResponseWriter, r *http.Request) {
	group, err := a.service.ArchiveCommissionGroup(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, group)
}

func (a *API) handleSetCommissionOverride(w http.ResponseWriter, r *http.Request) {
	var req domain.CommissionOverride
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	override, err := a.service.SetCommissionOverride(r.Context(), chi.URLParam(r, "id"), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, override)
}

func (a *API) handleResolveCommission(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()

	var amount *decimal.Decimal
	if raw := strings.TrimSpace(query.Get("amount")); raw != "" {
		parsed, err := decimal.NewFromString(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, errors.New("amount must be a decimal number"))
			return
		}
		amount = &parsed
	}

	breakdown, err := a.service.ResolveCommission(
		r.Context(),
		query.Get("group_id"),
		query.Get("retailer_id"),
		query.Get("voucher_type"),
		amount,
	)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, breakdown)
}

func (a *API) handleListOperators(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"items": a.auth.ListOperators(r.Context())})
}

func (a *API) handleCreateOperator(w http.ResponseWriter, r *http.Request) {
	var req domain.OperatorCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	user, err := a.auth.CreateOperator(r.Context(), req)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, user)
}
