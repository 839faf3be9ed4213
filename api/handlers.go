/*
handlers.go - HTTP API handlers for the commission engine

PURPOSE:
  Exposes the commission engine via REST API. Handles HTTP
  request/response, JSON serialization, and delegates to the engine
  commands and queries.

ENDPOINTS:
  Deals:
    GET    /api/deals                      List deals (visibility by role)
    POST   /api/deals                      Create deal
    POST   /api/deals/{id}/status          Update status
    POST   /api/deals/{id}/finalize        Finalize sale

  Transactions:
    GET    /api/transactions               List transactions (admin table)
    POST   /api/transactions/{id}/confirm  Operator reward confirmation

  Rewards and payouts:
    GET    /api/users/{id}/rewards         Reward summary + line items
    POST   /api/payouts/requests           Request payout (all eligible)
    GET    /api/payouts/requests           Admin payout queue
    POST   /api/payouts/requests/{id}/paid Operator settlement

  Directory and settings:
    GET/POST /api/users                    Partner directory
    GET/POST /api/products                 Catalog
    GET      /api/settings                 Rates + payout minimum
    PUT      /api/settings/rates           Operator rate change
    GET      /api/logs                     Operation log

IDENTITY:
  The acting user arrives in the X-Actor-ID header and is resolved
  against the directory by the engine. Authentication itself lives in
  front of this service.

ERROR HANDLING:
  Domain errors map onto HTTP status by taxonomy:
  - 400: validation (amount, date, status, rates, below minimum)
  - 403: permission denied
  - 404: unknown deal/transaction/user/payout
  - 409: conflict (deal locked, payout already paid)
  - 500: everything else

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
  - engine: command implementations
*/
package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/jnavi/commission-engine/commission"
	"github.com/jnavi/commission-engine/engine"
)

// =============================================================================
// HANDLER CONTEXT
// =============================================================================

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Engine *engine.Engine
}

// NewHandler creates a new handler around the engine.
func NewHandler(eng *engine.Engine) *Handler {
	return &Handler{Engine: eng}
}

const actorHeader = "X-Actor-ID"

// =============================================================================
// DEAL HANDLERS
// =============================================================================

// CreateDeal registers a new deal.
// POST /api/deals
func (h *Handler) CreateDeal(w http.ResponseWriter, r *http.Request) {
	var req CreateDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	deal, err := h.Engine.CreateDeal(r.Context(), r.Header.Get(actorHeader), engine.CreateDealInput{
		ConnectorID:         req.ConnectorID,
		ProductID:           req.ProductID,
		Source:              commission.DealSource(req.Source),
		CustomerCompanyName: req.CustomerCompanyName,
		CustomerName:        req.CustomerName,
		CustomerEmail:       req.CustomerEmail,
		CustomerPhone:       req.CustomerPhone,
		Memo:                req.Memo,
	})
	if err != nil {
		writeDomainError(w, "Failed to create deal", err)
		return
	}

	dto := toDealDTO(*deal)
	writeJSON(w, http.StatusCreated, CommandResponse{OK: true, Message: "deal created", Deal: &dto})
}

// ListDeals returns the deals visible to the acting user: operators see
// everything, agencies their connectors' deals, connectors their own.
// GET /api/deals
func (h *Handler) ListDeals(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	actorID := r.Header.Get(actorHeader)

	actor, err := h.Engine.Store.GetUser(ctx, actorID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve actor", err)
		return
	}
	if actor == nil {
		writeError(w, http.StatusForbidden, "Unknown actor", nil)
		return
	}

	deals, err := h.Engine.Store.ListDeals(ctx)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list deals", err)
		return
	}

	visible := make([]DealDTO, 0, len(deals))
	for _, d := range deals {
		ok, err := h.dealVisibleTo(ctx, *actor, d)
		if err != nil {
			writeError(w, http.StatusInternalServerError, "Failed to list deals", err)
			return
		}
		if ok {
			visible = append(visible, toDealDTO(d))
		}
	}
	writeJSON(w, http.StatusOK, visible)
}

func (h *Handler) dealVisibleTo(ctx context.Context, actor commission.User, d commission.Deal) (bool, error) {
	switch actor.Role {
	case commission.RoleOperator:
		return true, nil
	case commission.RoleConnector:
		return d.ConnectorID == actor.ID, nil
	case commission.RoleAgency:
		owner, err := h.Engine.Store.GetUser(ctx, d.ConnectorID)
		if err != nil {
			return false, err
		}
		return owner != nil && owner.AgencyID == actor.ID, nil
	}
	return false, nil
}

// UpdateDealStatus moves a deal to another intermediate status.
// POST /api/deals/{id}/status
func (h *Handler) UpdateDealStatus(w http.ResponseWriter, r *http.Request) {
	var req UpdateStatusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dealID := chi.URLParam(r, "id")
	err := h.Engine.UpdateDealStatus(r.Context(), r.Header.Get(actorHeader), dealID, commission.DealStatus(req.Status))
	if err != nil {
		writeDomainError(w, "Failed to update status", err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{OK: true, Message: "status updated"})
}

// FinalizeDeal executes the terminal transition and returns the created
// transaction.
// POST /api/deals/{id}/finalize
func (h *Handler) FinalizeDeal(w http.ResponseWriter, r *http.Request) {
	var req FinalizeDealRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	dealID := chi.URLParam(r, "id")
	tx, err := h.Engine.FinalizeDeal(r.Context(), r.Header.Get(actorHeader), dealID,
		req.FinalSaleAmountJPY, req.ClosingDate)
	if err != nil {
		writeDomainError(w, "Failed to finalize deal", err)
		return
	}

	dto := toTransactionDTO(*tx)
	writeJSON(w, http.StatusCreated, CommandResponse{OK: true, Message: "deal finalized", Transaction: &dto})
}

// =============================================================================
// TRANSACTION HANDLERS
// =============================================================================

// ListTransactions returns all transactions, newest first. Operator view.
// GET /api/transactions
func (h *Handler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}
	txs, err := h.Engine.Store.ListTransactions(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list transactions", err)
		return
	}

	dtos := make([]TransactionDTO, 0, len(txs))
	for _, t := range txs {
		dtos = append(dtos, toTransactionDTO(t))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// ConfirmRewards flips a transaction's unconfirmed rewards to confirmed.
// POST /api/transactions/{id}/confirm
func (h *Handler) ConfirmRewards(w http.ResponseWriter, r *http.Request) {
	txID := chi.URLParam(r, "id")
	if err := h.Engine.ConfirmRewards(r.Context(), r.Header.Get(actorHeader), txID); err != nil {
		writeDomainError(w, "Failed to confirm rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{OK: true, Message: "rewards confirmed"})
}

// =============================================================================
// REWARD AND PAYOUT HANDLERS
// =============================================================================

// GetUserRewards returns the reward summary plus line items.
// GET /api/users/{id}/rewards
func (h *Handler) GetUserRewards(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "id")
	summary, allocations, err := h.Engine.UserRewards(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load rewards", err)
		return
	}
	writeJSON(w, http.StatusOK, toRewardSummaryDTO(userID, summary, allocations))
}

// RequestPayout creates a payout request for everything the actor can
// claim.
// POST /api/payouts/requests
func (h *Handler) RequestPayout(w http.ResponseWriter, r *http.Request) {
	pr, err := h.Engine.RequestPayoutAll(r.Context(), r.Header.Get(actorHeader))
	if err != nil {
		writeDomainError(w, "Failed to request payout", err)
		return
	}

	dto := toPayoutRequestDTO(*pr)
	writeJSON(w, http.StatusCreated, CommandResponse{OK: true, Message: "payout requested", PayoutRequest: &dto})
}

// ListPayoutRequests returns the settlement queue, newest first.
// Operator view.
// GET /api/payouts/requests
func (h *Handler) ListPayoutRequests(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}
	requests, err := h.Engine.PayoutQueue(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list payout requests", err)
		return
	}

	dtos := make([]PayoutRequestDTO, 0, len(requests))
	for _, pr := range requests {
		dtos = append(dtos, toPayoutRequestDTO(pr))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// MarkPayoutPaid settles a payout request.
// POST /api/payouts/requests/{id}/paid
func (h *Handler) MarkPayoutPaid(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Engine.MarkPayoutPaid(r.Context(), r.Header.Get(actorHeader), id); err != nil {
		writeDomainError(w, "Failed to settle payout", err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{OK: true, Message: "payout marked paid"})
}

// =============================================================================
// DIRECTORY AND CATALOG HANDLERS
// =============================================================================

// ListUsers returns the partner directory. Operator view.
// GET /api/users
func (h *Handler) ListUsers(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}
	users, err := h.Engine.Store.ListUsers(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list users", err)
		return
	}

	dtos := make([]UserDTO, 0, len(users))
	for _, u := range users {
		dtos = append(dtos, toUserDTO(u))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateUser registers a partner or operator.
// POST /api/users
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	u, err := h.Engine.RegisterUser(r.Context(), r.Header.Get(actorHeader), commission.User{
		ID:       req.ID,
		Name:     req.Name,
		Email:    req.Email,
		Role:     commission.Role(req.Role),
		AgencyID: req.AgencyID,
	})
	if err != nil {
		writeDomainError(w, "Failed to create user", err)
		return
	}

	dto := toUserDTO(*u)
	writeJSON(w, http.StatusCreated, CommandResponse{OK: true, Message: "user created", User: &dto})
}

// ListProducts returns the catalog.
// GET /api/products
func (h *Handler) ListProducts(w http.ResponseWriter, r *http.Request) {
	products, err := h.Engine.Store.ListProducts(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list products", err)
		return
	}

	dtos := make([]ProductDTO, 0, len(products))
	for _, p := range products {
		dtos = append(dtos, toProductDTO(p))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// CreateProduct registers a catalog entry.
// POST /api/products
func (h *Handler) CreateProduct(w http.ResponseWriter, r *http.Request) {
	var req CreateProductRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	p, err := h.Engine.RegisterProduct(r.Context(), r.Header.Get(actorHeader), commission.Product{
		ID:           req.ID,
		SupplierID:   req.SupplierID,
		Name:         req.Name,
		Category:     commission.ProductCategory(req.Category),
		Type:         commission.ProductType(req.Type),
		ListPriceJPY: req.ListPriceJPY,
		Description:  req.Description,
		IsPublic:     req.IsPublic,
	})
	if err != nil {
		writeDomainError(w, "Failed to create product", err)
		return
	}

	dto := toProductDTO(*p)
	writeJSON(w, http.StatusCreated, CommandResponse{OK: true, Message: "product created", Product: &dto})
}

// =============================================================================
// SETTINGS AND LOG HANDLERS
// =============================================================================

// GetSettings returns the rates and payout minimum.
// GET /api/settings
func (h *Handler) GetSettings(w http.ResponseWriter, r *http.Request) {
	settings, err := h.Engine.Settings(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load settings", err)
		return
	}
	writeJSON(w, http.StatusOK, toSettingsDTO(settings))
}

// SetRates replaces the commission rate configuration.
// PUT /api/settings/rates
func (h *Handler) SetRates(w http.ResponseWriter, r *http.Request) {
	var req SetRatesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid request body", err)
		return
	}

	overall, err := decimal.NewFromString(req.OverallRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid overall_rate", err)
		return
	}
	connector, err := decimal.NewFromString(req.ConnectorRate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "Invalid connector_rate", err)
		return
	}

	err = h.Engine.SetCommissionRates(r.Context(), r.Header.Get(actorHeader), commission.RateConfig{
		OverallRate:   overall,
		ConnectorRate: connector,
	})
	if err != nil {
		writeDomainError(w, "Failed to set rates", err)
		return
	}
	writeJSON(w, http.StatusOK, CommandResponse{OK: true, Message: "rates updated"})
}

// ListLogs returns recent operation log entries, newest first.
// Operator view.
// GET /api/logs?limit=N
func (h *Handler) ListLogs(w http.ResponseWriter, r *http.Request) {
	if !h.requireOperator(w, r) {
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "Invalid limit", err)
			return
		}
		limit = n
	}

	logs, err := h.Engine.OperationLogs(r.Context(), limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list logs", err)
		return
	}

	dtos := make([]OperationLogDTO, 0, len(logs))
	for _, l := range logs {
		dtos = append(dtos, toOperationLogDTO(l))
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// HELPERS
// =============================================================================

// requireOperator resolves the acting user and rejects anyone but the
// operator. The admin list views share it so they carry the same
// posture as the role-scoped deal list.
func (h *Handler) requireOperator(w http.ResponseWriter, r *http.Request) bool {
	actor, err := h.Engine.Store.GetUser(r.Context(), r.Header.Get(actorHeader))
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to resolve actor", err)
		return false
	}
	if actor == nil || actor.Role != commission.RoleOperator {
		writeError(w, http.StatusForbidden, "Operator role required", nil)
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}

// writeDomainError maps an engine error onto the HTTP taxonomy.
func writeDomainError(w http.ResponseWriter, message string, err error) {
	switch {
	case commission.IsNotFound(err):
		writeError(w, http.StatusNotFound, message, err)
	case commission.IsForbidden(err):
		writeError(w, http.StatusForbidden, message, err)
	case commission.IsConflict(err):
		writeError(w, http.StatusConflict, message, err)
	case commission.IsClientError(err):
		writeError(w, http.StatusBadRequest, message, err)
	default:
		writeError(w, http.StatusInternalServerError, message, err)
	}
}
