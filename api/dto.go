/*
dto.go - Data Transfer Objects for API requests and responses

PURPOSE:
  Defines the JSON structures for API communication. These types decouple
  the internal domain model from the external API contract, allowing:
  - Field renaming without breaking clients
  - API-specific validation
  - Version evolution

NAMING CONVENTION:
  - *DTO: Response types returned to clients
  - *Request: Request body types from clients

ENVELOPE:
  Command endpoints answer with CommandResponse: {ok, message} plus the
  created or affected record when there is one. Query endpoints return
  plain DTOs or lists.

MONEY AND RATES:
  Amounts are int64 yen on the wire, exactly as in the domain. Rates
  travel as decimal strings ("0.15"), never floats.

SEE ALSO:
  - handlers.go: Uses these types
  - commission/types.go: Domain model these map from
*/
package api

import (
	"time"

	"github.com/jnavi/commission-engine/commission"
	"github.com/jnavi/commission-engine/engine"
)

// =============================================================================
// ENVELOPE
// =============================================================================

// CommandResponse is the uniform envelope for state-mutating endpoints.
type CommandResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message,omitempty"`

	Deal          *DealDTO          `json:"deal,omitempty"`
	Transaction   *TransactionDTO   `json:"transaction,omitempty"`
	PayoutRequest *PayoutRequestDTO `json:"payout_request,omitempty"`
	User          *UserDTO          `json:"user,omitempty"`
	Product       *ProductDTO       `json:"product,omitempty"`
}

// ErrorResponse is returned for all error statuses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

// =============================================================================
// DIRECTORY AND CATALOG
// =============================================================================

type UserDTO struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Email     string `json:"email,omitempty"`
	Role      string `json:"role"`
	AgencyID  string `json:"agency_id,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

type CreateUserRequest struct {
	ID       string `json:"id,omitempty"`
	Name     string `json:"name"`
	Email    string `json:"email,omitempty"`
	Role     string `json:"role"`
	AgencyID string `json:"agency_id,omitempty"`
}

type ProductDTO struct {
	ID           string `json:"id"`
	SupplierID   string `json:"supplier_id,omitempty"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Type         string `json:"type"`
	ListPriceJPY int64  `json:"list_price_jpy"`
	Description  string `json:"description,omitempty"`
	IsPublic     bool   `json:"is_public"`
	CreatedAt    string `json:"created_at,omitempty"`
}

type CreateProductRequest struct {
	ID           string `json:"id,omitempty"`
	SupplierID   string `json:"supplier_id,omitempty"`
	Name         string `json:"name"`
	Category     string `json:"category"`
	Type         string `json:"type"`
	ListPriceJPY int64  `json:"list_price_jpy"`
	Description  string `json:"description,omitempty"`
	IsPublic     bool   `json:"is_public"`
}

// =============================================================================
// DEALS
// =============================================================================

type DealDTO struct {
	ID                  string `json:"id"`
	CreatedAt           string `json:"created_at"`
	Locked              bool   `json:"locked"`
	Status              string `json:"status"`
	ConnectorID         string `json:"connector_id"`
	ProductID           string `json:"product_id"`
	CustomerCompanyName string `json:"customer_company_name,omitempty"`
	CustomerName        string `json:"customer_name,omitempty"`
	CustomerEmail       string `json:"customer_email,omitempty"`
	CustomerPhone       string `json:"customer_phone,omitempty"`
	Memo                string `json:"memo,omitempty"`
	Source              string `json:"source"`
	FinalSaleAmountJPY  int64  `json:"final_sale_amount_jpy,omitempty"`
	ClosingDate         string `json:"closing_date,omitempty"`
}

type CreateDealRequest struct {
	ConnectorID         string `json:"connector_id,omitempty"`
	ProductID           string `json:"product_id"`
	Source              string `json:"source,omitempty"`
	CustomerCompanyName string `json:"customer_company_name,omitempty"`
	CustomerName        string `json:"customer_name,omitempty"`
	CustomerEmail       string `json:"customer_email,omitempty"`
	CustomerPhone       string `json:"customer_phone,omitempty"`
	Memo                string `json:"memo,omitempty"`
}

type UpdateStatusRequest struct {
	Status string `json:"status"`
}

type FinalizeDealRequest struct {
	FinalSaleAmountJPY int64  `json:"final_sale_amount_jpy"`
	ClosingDate        string `json:"closing_date"` // YYYY-MM-DD
}

// =============================================================================
// TRANSACTIONS, ALLOCATIONS, REWARDS
// =============================================================================

type AllocationDTO struct {
	ID              string `json:"id"`
	TransactionID   string `json:"transaction_id"`
	Kind            string `json:"kind"`
	Label           string `json:"label"`
	AmountJPY       int64  `json:"amount_jpy"`
	UserID          string `json:"user_id,omitempty"`
	UserRole        string `json:"user_role,omitempty"`
	Rate            string `json:"rate,omitempty"`
	BaseAmountJPY   int64  `json:"base_amount_jpy,omitempty"`
	Status          string `json:"status,omitempty"`
	PayoutRequestID string `json:"payout_request_id,omitempty"`
}

type TransactionDTO struct {
	ID                 string          `json:"id"`
	DealID             string          `json:"deal_id"`
	CreatedAt          string          `json:"created_at"`
	ClosingDate        string          `json:"closing_date"`
	ProductName        string          `json:"product_name"`
	ProductCategory    string          `json:"product_category"`
	ConnectorID        string          `json:"connector_id"`
	AgencyID           string          `json:"agency_id"`
	SaleAmountJPY      int64           `json:"sale_amount_jpy"`
	BaseAmountJPY      int64           `json:"base_amount_jpy"`
	OverallRate        string          `json:"overall_rate"`
	ConnectorRate      string          `json:"connector_rate"`
	AgencyRewardJPY    int64           `json:"agency_reward_jpy"`
	ConnectorRewardJPY int64           `json:"connector_reward_jpy"`
	PlatformShareJPY   int64           `json:"platform_share_jpy"`
	Allocations        []AllocationDTO `json:"allocations"`
}

type RewardSummaryDTO struct {
	UserID         string          `json:"user_id"`
	UnconfirmedJPY int64           `json:"unconfirmed_jpy"`
	ConfirmedJPY   int64           `json:"confirmed_jpy"`
	RequestedJPY   int64           `json:"requested_jpy"`
	PaidJPY        int64           `json:"paid_jpy"`
	AvailableJPY   int64           `json:"available_jpy"`
	Allocations    []AllocationDTO `json:"allocations"`
}

// =============================================================================
// PAYOUTS
// =============================================================================

type PayoutRequestDTO struct {
	ID            string   `json:"id"`
	UserID        string   `json:"user_id"`
	RequestedAt   string   `json:"requested_at"`
	AmountJPY     int64    `json:"amount_jpy"`
	Status        string   `json:"status"`
	AllocationIDs []string `json:"allocation_ids"`
	ProcessedAt   string   `json:"processed_at,omitempty"`
}

// =============================================================================
// SETTINGS AND LOGS
// =============================================================================

type SettingsDTO struct {
	MinPayoutJPY  int64  `json:"min_payout_jpy"`
	OverallRate   string `json:"overall_rate"`
	ConnectorRate string `json:"connector_rate"`
}

type SetRatesRequest struct {
	OverallRate   string `json:"overall_rate"`
	ConnectorRate string `json:"connector_rate"`
}

type OperationLogDTO struct {
	ID        string `json:"id"`
	At        string `json:"at"`
	ActorID   string `json:"actor_id"`
	Action    string `json:"action"`
	Detail    string `json:"detail,omitempty"`
	RelatedID string `json:"related_id,omitempty"`
}

// =============================================================================
// MAPPERS
// =============================================================================

func toUserDTO(u commission.User) UserDTO {
	return UserDTO{
		ID:        u.ID,
		Name:      u.Name,
		Email:     u.Email,
		Role:      string(u.Role),
		AgencyID:  u.AgencyID,
		CreatedAt: u.CreatedAt.Format(time.RFC3339),
	}
}

func toProductDTO(p commission.Product) ProductDTO {
	return ProductDTO{
		ID:           p.ID,
		SupplierID:   p.SupplierID,
		Name:         p.Name,
		Category:     string(p.Category),
		Type:         string(p.Type),
		ListPriceJPY: p.ListPriceJPY,
		Description:  p.Description,
		IsPublic:     p.IsPublic,
		CreatedAt:    p.CreatedAt.Format(time.RFC3339),
	}
}

func toDealDTO(d commission.Deal) DealDTO {
	dto := DealDTO{
		ID:                  d.ID,
		CreatedAt:           d.CreatedAt.Format(time.RFC3339),
		Locked:              d.Locked,
		Status:              string(d.Status),
		ConnectorID:         d.ConnectorID,
		ProductID:           d.ProductID,
		CustomerCompanyName: d.CustomerCompanyName,
		CustomerName:        d.CustomerName,
		CustomerEmail:       d.CustomerEmail,
		CustomerPhone:       d.CustomerPhone,
		Memo:                d.Memo,
		Source:              string(d.Source),
		FinalSaleAmountJPY:  d.FinalSaleAmountJPY,
	}
	if d.ClosingDate != nil {
		dto.ClosingDate = d.ClosingDate.Format("2006-01-02")
	}
	return dto
}

func toAllocationDTO(a commission.Allocation) AllocationDTO {
	dto := AllocationDTO{
		ID:              a.ID,
		TransactionID:   a.TransactionID,
		Kind:            string(a.Kind),
		Label:           a.Label,
		AmountJPY:       a.AmountJPY,
		UserID:          a.UserID,
		UserRole:        string(a.UserRole),
		BaseAmountJPY:   a.BaseAmountJPY,
		Status:          string(a.Status),
		PayoutRequestID: a.PayoutRequestID,
	}
	if a.Kind == commission.KindUserReward {
		dto.Rate = a.Rate.String()
	}
	return dto
}

func toTransactionDTO(t commission.Transaction) TransactionDTO {
	dto := TransactionDTO{
		ID:                 t.ID,
		DealID:             t.DealID,
		CreatedAt:          t.CreatedAt.Format(time.RFC3339),
		ClosingDate:        t.ClosingDate.Format("2006-01-02"),
		ProductName:        t.Product.Name,
		ProductCategory:    string(t.Product.Category),
		ConnectorID:        t.ConnectorID,
		AgencyID:           t.AgencyID,
		SaleAmountJPY:      t.SaleAmountJPY,
		BaseAmountJPY:      t.BaseAmountJPY,
		OverallRate:        t.RatesUsed.OverallRate.String(),
		ConnectorRate:      t.RatesUsed.ConnectorRate.String(),
		AgencyRewardJPY:    t.AgencyRewardJPY,
		ConnectorRewardJPY: t.ConnectorRewardJPY,
		PlatformShareJPY:   t.PlatformShareJPY,
		Allocations:        make([]AllocationDTO, 0, len(t.Allocations)),
	}
	for _, a := range t.Allocations {
		dto.Allocations = append(dto.Allocations, toAllocationDTO(a))
	}
	return dto
}

func toPayoutRequestDTO(pr commission.PayoutRequest) PayoutRequestDTO {
	dto := PayoutRequestDTO{
		ID:            pr.ID,
		UserID:        pr.UserID,
		RequestedAt:   pr.RequestedAt.Format(time.RFC3339),
		AmountJPY:     pr.AmountJPY,
		Status:        string(pr.Status),
		AllocationIDs: pr.AllocationIDs,
	}
	if pr.ProcessedAt != nil {
		dto.ProcessedAt = pr.ProcessedAt.Format(time.RFC3339)
	}
	return dto
}

func toRewardSummaryDTO(userID string, s engine.RewardSummary, allocations []commission.Allocation) RewardSummaryDTO {
	dto := RewardSummaryDTO{
		UserID:         userID,
		UnconfirmedJPY: s.UnconfirmedJPY,
		ConfirmedJPY:   s.ConfirmedJPY,
		RequestedJPY:   s.RequestedJPY,
		PaidJPY:        s.PaidJPY,
		AvailableJPY:   s.AvailableJPY(),
		Allocations:    make([]AllocationDTO, 0, len(allocations)),
	}
	for _, a := range allocations {
		dto.Allocations = append(dto.Allocations, toAllocationDTO(a))
	}
	return dto
}

func toSettingsDTO(s commission.Settings) SettingsDTO {
	return SettingsDTO{
		MinPayoutJPY:  s.MinPayoutJPY,
		OverallRate:   s.Rates.OverallRate.String(),
		ConnectorRate: s.Rates.ConnectorRate.String(),
	}
}

func toOperationLogDTO(l commission.OperationLog) OperationLogDTO {
	return OperationLogDTO{
		ID:        l.ID,
		At:        l.At.Format(time.RFC3339),
		ActorID:   l.ActorID,
		Action:    l.Action,
		Detail:    l.Detail,
		RelatedID: l.RelatedID,
	}
}
