/*
Package commission provides the core commission allocation domain.

PURPOSE:
  This package contains the domain types and algorithms for splitting a
  finalized sale into partner rewards. A deal progresses through a
  per-category status lifecycle; when its sale is finalized, the base
  amount is split into a connector reward, an agency reward, and the
  platform remainder, recorded as an immutable transaction.

KEY CONCEPTS IN THIS FILE (types.go):
  - User: a partner (agency or connector) or the operator
  - Deal: a tracked sales opportunity owned by a connector
  - Transaction: the immutable financial record created at finalization
  - Allocation: one line of a transaction's split, addressable by id
  - PayoutRequest: a batched claim on confirmed allocations

DESIGN PRINCIPLES:
  1. Integer yen: all monetary amounts are int64 yen, no fractions
  2. Precision: rates use decimal.Decimal, never float64
  3. Immutability: transactions are written once; only allocation
     status fields change afterwards
  4. Remainder absorption: floor-rounding loss always lands in the
     platform share, never in a partner reward

SEE ALSO:
  - split.go: the allocation calculator
  - policy.go: per-category lifecycle tables
  - rates.go: commission rate configuration
  - store.go: persistence interfaces
*/
package commission

import (
	"time"

	"github.com/shopspring/decimal"
)

// =============================================================================
// ROLES AND USERS
// =============================================================================

type Role string

const (
	RoleOperator  Role = "operator"
	RoleAgency    Role = "agency"
	RoleConnector Role = "connector"
)

// User is a member of the three-tier partner structure:
// operator -> agency -> connector.
type User struct {
	ID    string
	Name  string
	Email string
	Role  Role

	// AgencyID is set for connectors only: the agency they belong to.
	AgencyID string

	CreatedAt time.Time
}

// Actor is the identity a command runs as. Resolved from the directory
// before permission checks; never trusted from request payloads.
type Actor struct {
	ID       string
	Role     Role
	AgencyID string
}

// ActorOf derives the command identity from a directory user.
func ActorOf(u User) Actor {
	return Actor{ID: u.ID, Role: u.Role, AgencyID: u.AgencyID}
}

// =============================================================================
// PRODUCTS
// =============================================================================

type ProductCategory string

const (
	CategorySignage ProductCategory = "signage"
	CategoryHotel   ProductCategory = "hotel"
	CategoryAdSlot  ProductCategory = "ad_slot"
)

// ProductType drives the deal lifecycle and allocation policy (see policy.go).
type ProductType string

const (
	TypeSignage         ProductType = "signage"
	TypeHotelMembership ProductType = "hotel_membership"
	TypeAdSlot          ProductType = "ad_slot"
)

type Product struct {
	ID          string
	SupplierID  string
	Name        string
	Category    ProductCategory
	Type        ProductType
	ListPriceJPY int64
	Description string
	IsPublic    bool
	CreatedAt   time.Time
}

// ProductSnapshot is the product state frozen into a transaction at
// finalization time. Later catalog edits never change past transactions.
type ProductSnapshot struct {
	ProductID    string          `json:"product_id"`
	Name         string          `json:"name"`
	Category     ProductCategory `json:"category"`
	Type         ProductType     `json:"type"`
	SupplierID   string          `json:"supplier_id"`
	ListPriceJPY int64           `json:"list_price_jpy"`
}

// =============================================================================
// DEALS
// =============================================================================

type DealStatus string

const (
	// Intermediate statuses (category membership in policy.go)
	StatusLeadCreated    DealStatus = "lead_created"
	StatusNegotiating    DealStatus = "negotiating"
	StatusContractSigned DealStatus = "contract_signed"
	StatusApplied        DealStatus = "applied"
	StatusUnderReview    DealStatus = "under_review"
	StatusLost           DealStatus = "lost"

	// Terminal "revenue confirmed" statuses, one per category
	StatusConstructionComplete DealStatus = "construction_complete"
	StatusPaymentComplete      DealStatus = "payment_complete"
	StatusPublished            DealStatus = "published"
)

type DealSource string

const (
	SourceReferral DealSource = "referral"
	SourceManual   DealSource = "manual"
)

// Deal is a tracked sales opportunity. Status moves freely within the
// category's intermediate set while Locked is false; finalization is the
// one-shot terminal transition that locks the deal forever.
type Deal struct {
	ID        string
	CreatedAt time.Time
	Locked    bool
	Status    DealStatus

	// ConnectorID is the owning connector (referral link issuer or
	// manual registrant).
	ConnectorID string
	ProductID   string

	CustomerCompanyName string
	CustomerName        string
	CustomerEmail       string
	CustomerPhone       string
	Memo                string

	Source DealSource

	// Stamped at finalization.
	FinalSaleAmountJPY int64
	ClosingDate        *time.Time
}

// =============================================================================
// TRANSACTIONS AND ALLOCATIONS
// =============================================================================

type AllocationStatus string

const (
	AllocationUnconfirmed AllocationStatus = "unconfirmed"
	AllocationConfirmed   AllocationStatus = "confirmed"
	AllocationPaid        AllocationStatus = "paid"
)

type AllocationKind string

const (
	// KindUserReward is a payable share for an agency or connector.
	KindUserReward AllocationKind = "user_reward"
	// KindPlatformShare is the informational remainder. It has no
	// status and can never be paid out.
	KindPlatformShare AllocationKind = "platform_share"
)

// Allocation is one line of a transaction's split. Allocations are owned
// by their transaction but addressable by id on their own, which is what
// the payout workflow needs for cross-transaction claims.
type Allocation struct {
	ID            string
	TransactionID string
	Kind          AllocationKind
	Label         string
	AmountJPY     int64

	// User-reward fields; zero values for the platform share.
	UserID        string
	UserRole      Role
	Rate          decimal.Decimal
	BaseAmountJPY int64
	Status        AllocationStatus

	// PayoutRequestID is set once a payout request claims this
	// allocation. At most one request may ever claim it.
	PayoutRequestID string
}

// Payable reports whether this allocation can flow into a payout request.
func (a Allocation) Payable() bool {
	return a.Kind == KindUserReward
}

// ClaimableBy reports whether userID could include this allocation in a
// new payout request right now.
func (a Allocation) ClaimableBy(userID string) bool {
	return a.Kind == KindUserReward &&
		a.UserID == userID &&
		a.Status == AllocationConfirmed &&
		a.PayoutRequestID == ""
}

// Transaction is created exactly once per deal, at finalization, and is
// immutable afterwards except for its allocations' status fields.
//
// INVARIANT: AgencyRewardJPY + ConnectorRewardJPY + PlatformShareJPY
// equals BaseAmountJPY for every transaction.
type Transaction struct {
	ID          string
	DealID      string
	CreatedAt   time.Time
	ClosingDate time.Time

	Product ProductSnapshot

	// ConnectorID closed the sale; AgencyID is that connector's agency
	// at finalization time.
	ConnectorID string
	AgencyID    string

	SaleAmountJPY int64
	BaseAmountJPY int64

	// RatesUsed is the rate configuration snapshot taken at
	// finalization. Later rate changes are never applied retroactively.
	RatesUsed RateConfig

	AgencyRewardJPY    int64
	ConnectorRewardJPY int64
	PlatformShareJPY   int64

	// Exactly three entries: agency reward, connector reward,
	// platform share, in that order.
	Allocations []Allocation
}

// =============================================================================
// PAYOUT REQUESTS
// =============================================================================

type PayoutStatus string

const (
	PayoutRequested PayoutStatus = "requested"
	PayoutPaid      PayoutStatus = "paid"
)

// PayoutRequest batches a user's confirmed, unclaimed allocations.
// AmountJPY is frozen at creation time.
type PayoutRequest struct {
	ID          string
	UserID      string
	RequestedAt time.Time
	AmountJPY   int64
	Status      PayoutStatus

	// AllocationIDs is a non-owning back-reference into allocations
	// that live inside transactions.
	AllocationIDs []string

	ProcessedAt *time.Time
}

// =============================================================================
// OPERATION LOG
// =============================================================================

// OperationLog is an append-only audit record written for every
// state-mutating command. Display only; the engine never reads it back.
type OperationLog struct {
	ID        string
	At        time.Time
	ActorID   string
	Action    string
	Detail    string
	RelatedID string
}
