/*
store.go - Persistence interfaces for the commission domain

PURPOSE:
  Defines the boundary between the command services and the database.
  One repository surface per entity type (users, products, deals,
  transactions, payout requests, settings, operation log), hiding the
  concrete representation behind an interface so the atomicity rules
  can be implemented with real locking or database transactions.

MUTATION CONTRACT:
  - Deals: SaveDeal upserts; the finalize lock guard is enforced by the
    engine inside WithTx, never by racing callers.
  - Transactions: SaveTransaction writes the record and its allocations
    once; there is NO update method for transaction rows.
  - Allocations: the only mutable fields are status and the payout
    claim, via UpdateAllocationStatus. Amounts never change.
  - Operation log: append-only, no update or delete.

ATOMICITY:
  WithTx executes fn against a transactional view of the store. If fn
  returns an error nothing is visible; otherwise everything commits as
  one unit. Finalize and payout-claim run inside WithTx so their
  read-check-write sequences cannot interleave.

IMPLEMENTATIONS:
  - commission/store: in-memory, for tests and dev
  - store/sqlite: production SQLite

SEE ALSO:
  - engine: the only writer; all mutation goes through its commands
*/
package commission

import "context"

// =============================================================================
// STORE - Per-entity repositories behind one interface
// =============================================================================

// Store is the persistence surface for all commission entities.
type Store interface {
	// Users (partner directory)
	SaveUser(ctx context.Context, u User) error
	GetUser(ctx context.Context, id string) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)

	// Products
	SaveProduct(ctx context.Context, p Product) error
	GetProduct(ctx context.Context, id string) (*Product, error)
	ListProducts(ctx context.Context) ([]Product, error)

	// Deals
	SaveDeal(ctx context.Context, d Deal) error
	GetDeal(ctx context.Context, id string) (*Deal, error)
	ListDeals(ctx context.Context) ([]Deal, error)

	// Transactions. SaveTransaction persists the record and its
	// allocations exactly once; transaction rows are never updated.
	SaveTransaction(ctx context.Context, t Transaction) error
	GetTransaction(ctx context.Context, id string) (*Transaction, error)
	GetTransactionByDeal(ctx context.Context, dealID string) (*Transaction, error)
	ListTransactions(ctx context.Context) ([]Transaction, error)

	// Allocations, addressable independently of their transaction.
	// UpdateAllocationStatus is the only allocation mutation: it sets
	// the status and (possibly empty) payout claim of one allocation.
	ListAllocationsByUser(ctx context.Context, userID string) ([]Allocation, error)
	GetAllocation(ctx context.Context, id string) (*Allocation, error)
	UpdateAllocationStatus(ctx context.Context, allocationID string, status AllocationStatus, payoutRequestID string) error

	// Payout requests
	SavePayoutRequest(ctx context.Context, pr PayoutRequest) error
	GetPayoutRequest(ctx context.Context, id string) (*PayoutRequest, error)
	ListPayoutRequests(ctx context.Context) ([]PayoutRequest, error)

	// Settings singleton. GetSettings returns nil when never saved.
	GetSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s Settings) error

	// Operation log (append-only)
	AppendLog(ctx context.Context, entry OperationLog) error
	ListLogs(ctx context.Context, limit int) ([]OperationLog, error)
}

// =============================================================================
// TRANSACTIONAL STORE
// =============================================================================

// TxStore adds atomic multi-write support. Commands whose correctness
// depends on a read-check-write sequence (finalize, payout claim) must
// run inside WithTx.
type TxStore interface {
	Store

	// WithTx executes fn within one atomic unit. If fn returns an
	// error the unit is rolled back; otherwise it commits.
	WithTx(ctx context.Context, fn func(Store) error) error
}
