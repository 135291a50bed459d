package accounts

import (
	"log/slog"
	"net/http"

	"github.com/odyssey-erp/odyssey-gl/internal/platform/httpx"
)

type Handler struct {
	service *Service
	logger  *slog.Logger
}

func NewHandler(logger *slog.Logger, service *Service) *Handler {
	return &Handler{logger: logger, service: service}
}

type accountView struct {
	ID       int64       `json:"id"`
	Code     string      `json:"code"`
	Name     string      `json:"name"`
	Type     AccountType `json:"type"`
	ParentID *int64      `json:"parent_id,omitempty"`
	Postable bool        `json:"postable"`
	Active   bool        `json:"active"`
}

type mappingView struct {
	Module    string `json:"module"`
	Role      string `json:"role"`
	BranchID  *int64 `json:"branch_id,omitempty"`
	AccountID int64  `json:"account_id"`
}

// List renders the chart of accounts with its role mappings.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.service.List(r.Context())
	if err != nil {
		h.logger.Error("list accounts", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	mappings, err := h.service.Mappings(r.Context())
	if err != nil {
		h.logger.Error("list account roles", slog.Any("error", err))
		httpx.RespondError(w, err)
		return
	}
	resp := struct {
		Accounts []accountView `json:"accounts"`
		Mappings []mappingView `json:"mappings"`
	}{Accounts: make([]accountView, 0, len(accounts)), Mappings: make([]mappingView, 0, len(mappings))}
	for _, a := range accounts {
		resp.Accounts = append(resp.Accounts, accountView{ID: a.ID, Code: a.Code, Name: a.Name, Type: a.Type, ParentID: a.ParentID, Postable: a.Postable, Active: a.IsActive})
	}
	for _, m := range mappings {
		resp.Mappings = append(resp.Mappings, mappingView{Module: string(m.Module), Role: string(m.Role), BranchID: m.BranchID, AccountID: m.AccountID})
	}
	httpx.JSON(w, http.StatusOK, resp)
}
