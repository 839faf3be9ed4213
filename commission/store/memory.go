// Package store provides Store implementations.
package store

import (
	"context"
	"sort"
	"sync"

	"github.com/jnavi/commission-engine/commission"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu sync.RWMutex

	users    map[string]commission.User
	products map[string]commission.Product
	deals    map[string]commission.Deal

	// Transactions own their allocations; allocIndex maps an
	// allocation id to its transaction so allocations stay
	// addressable across aggregates.
	transactions map[string]commission.Transaction
	allocIndex   map[string]string

	payouts  map[string]commission.PayoutRequest
	settings *commission.Settings
	logs     []commission.OperationLog
}

func NewMemory() *Memory {
	return &Memory{
		users:        make(map[string]commission.User),
		products:     make(map[string]commission.Product),
		deals:        make(map[string]commission.Deal),
		transactions: make(map[string]commission.Transaction),
		allocIndex:   make(map[string]string),
		payouts:      make(map[string]commission.PayoutRequest),
	}
}

// -----------------------------------------------------------------------------
// Users
// -----------------------------------------------------------------------------

func (m *Memory) SaveUser(_ context.Context, u commission.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveUserLocked(u)
}

func (m *Memory) saveUserLocked(u commission.User) error {
	m.users[u.ID] = u
	return nil
}

func (m *Memory) GetUser(_ context.Context, id string) (*commission.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getUserLocked(id)
}

func (m *Memory) getUserLocked(id string) (*commission.User, error) {
	u, ok := m.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

func (m *Memory) ListUsers(_ context.Context) ([]commission.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listUsersLocked()
}

func (m *Memory) listUsersLocked() ([]commission.User, error) {
	out := make([]commission.User, 0, len(m.users))
	for _, u := range m.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Products
// -----------------------------------------------------------------------------

func (m *Memory) SaveProduct(_ context.Context, p commission.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveProductLocked(p)
}

func (m *Memory) saveProductLocked(p commission.Product) error {
	m.products[p.ID] = p
	return nil
}

func (m *Memory) GetProduct(_ context.Context, id string) (*commission.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getProductLocked(id)
}

func (m *Memory) getProductLocked(id string) (*commission.Product, error) {
	p, ok := m.products[id]
	if !ok {
		return nil, nil
	}
	return &p, nil
}

func (m *Memory) ListProducts(_ context.Context) ([]commission.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listProductsLocked()
}

func (m *Memory) listProductsLocked() ([]commission.Product, error) {
	out := make([]commission.Product, 0, len(m.products))
	for _, p := range m.products {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// -----------------------------------------------------------------------------
// Deals
// -----------------------------------------------------------------------------

func (m *Memory) SaveDeal(_ context.Context, d commission.Deal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveDealLocked(d)
}

func (m *Memory) saveDealLocked(d commission.Deal) error {
	m.deals[d.ID] = d
	return nil
}

func (m *Memory) GetDeal(_ context.Context, id string) (*commission.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getDealLocked(id)
}

func (m *Memory) getDealLocked(id string) (*commission.Deal, error) {
	d, ok := m.deals[id]
	if !ok {
		return nil, nil
	}
	return &d, nil
}

func (m *Memory) ListDeals(_ context.Context) ([]commission.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listDealsLocked()
}

func (m *Memory) listDealsLocked() ([]commission.Deal, error) {
	out := make([]commission.Deal, 0, len(m.deals))
	for _, d := range m.deals {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Transactions and allocations
// -----------------------------------------------------------------------------

func (m *Memory) SaveTransaction(_ context.Context, t commission.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveTransactionLocked(t)
}

func (m *Memory) saveTransactionLocked(t commission.Transaction) error {
	t.Allocations = append([]commission.Allocation(nil), t.Allocations...)
	m.transactions[t.ID] = t
	for _, a := range t.Allocations {
		m.allocIndex[a.ID] = t.ID
	}
	return nil
}

func (m *Memory) GetTransaction(_ context.Context, id string) (*commission.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionLocked(id)
}

func (m *Memory) getTransactionLocked(id string) (*commission.Transaction, error) {
	t, ok := m.transactions[id]
	if !ok {
		return nil, nil
	}
	t.Allocations = append([]commission.Allocation(nil), t.Allocations...)
	return &t, nil
}

func (m *Memory) GetTransactionByDeal(_ context.Context, dealID string) (*commission.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getTransactionByDealLocked(dealID)
}

func (m *Memory) getTransactionByDealLocked(dealID string) (*commission.Transaction, error) {
	for _, t := range m.transactions {
		if t.DealID == dealID {
			t.Allocations = append([]commission.Allocation(nil), t.Allocations...)
			return &t, nil
		}
	}
	return nil, nil
}

func (m *Memory) ListTransactions(_ context.Context) ([]commission.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listTransactionsLocked()
}

func (m *Memory) listTransactionsLocked() ([]commission.Transaction, error) {
	out := make([]commission.Transaction, 0, len(m.transactions))
	for _, t := range m.transactions {
		t.Allocations = append([]commission.Allocation(nil), t.Allocations...)
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) ListAllocationsByUser(_ context.Context, userID string) ([]commission.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listAllocationsByUserLocked(userID)
}

func (m *Memory) listAllocationsByUserLocked(userID string) ([]commission.Allocation, error) {
	var out []commission.Allocation
	for _, t := range m.transactions {
		for _, a := range t.Allocations {
			if a.Kind == commission.KindUserReward && a.UserID == userID {
				out = append(out, a)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *Memory) GetAllocation(_ context.Context, id string) (*commission.Allocation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getAllocationLocked(id)
}

func (m *Memory) getAllocationLocked(id string) (*commission.Allocation, error) {
	txID, ok := m.allocIndex[id]
	if !ok {
		return nil, nil
	}
	t := m.transactions[txID]
	for _, a := range t.Allocations {
		if a.ID == id {
			return &a, nil
		}
	}
	return nil, nil
}

func (m *Memory) UpdateAllocationStatus(_ context.Context, allocationID string, status commission.AllocationStatus, payoutRequestID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.updateAllocationStatusLocked(allocationID, status, payoutRequestID)
}

func (m *Memory) updateAllocationStatusLocked(allocationID string, status commission.AllocationStatus, payoutRequestID string) error {
	txID, ok := m.allocIndex[allocationID]
	if !ok {
		return commission.ErrNotFound
	}
	t := m.transactions[txID]
	allocs := append([]commission.Allocation(nil), t.Allocations...)
	for i, a := range allocs {
		if a.ID == allocationID {
			allocs[i].Status = status
			allocs[i].PayoutRequestID = payoutRequestID
		}
	}
	t.Allocations = allocs
	m.transactions[txID] = t
	return nil
}

// -----------------------------------------------------------------------------
// Payout requests
// -----------------------------------------------------------------------------

func (m *Memory) SavePayoutRequest(_ context.Context, pr commission.PayoutRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.savePayoutRequestLocked(pr)
}

func (m *Memory) savePayoutRequestLocked(pr commission.PayoutRequest) error {
	pr.AllocationIDs = append([]string(nil), pr.AllocationIDs...)
	m.payouts[pr.ID] = pr
	return nil
}

func (m *Memory) GetPayoutRequest(_ context.Context, id string) (*commission.PayoutRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getPayoutRequestLocked(id)
}

func (m *Memory) getPayoutRequestLocked(id string) (*commission.PayoutRequest, error) {
	pr, ok := m.payouts[id]
	if !ok {
		return nil, nil
	}
	pr.AllocationIDs = append([]string(nil), pr.AllocationIDs...)
	return &pr, nil
}

func (m *Memory) ListPayoutRequests(_ context.Context) ([]commission.PayoutRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listPayoutRequestsLocked()
}

func (m *Memory) listPayoutRequestsLocked() ([]commission.PayoutRequest, error) {
	out := make([]commission.PayoutRequest, 0, len(m.payouts))
	for _, pr := range m.payouts {
		pr.AllocationIDs = append([]string(nil), pr.AllocationIDs...)
		out = append(out, pr)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].RequestedAt.Equal(out[j].RequestedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].RequestedAt.After(out[j].RequestedAt)
	})
	return out, nil
}

// -----------------------------------------------------------------------------
// Settings
// -----------------------------------------------------------------------------

func (m *Memory) GetSettings(_ context.Context) (*commission.Settings, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getSettingsLocked()
}

func (m *Memory) getSettingsLocked() (*commission.Settings, error) {
	if m.settings == nil {
		return nil, nil
	}
	s := *m.settings
	return &s, nil
}

func (m *Memory) SaveSettings(_ context.Context, s commission.Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saveSettingsLocked(s)
}

func (m *Memory) saveSettingsLocked(s commission.Settings) error {
	m.settings = &s
	return nil
}

// -----------------------------------------------------------------------------
// Operation log
// -----------------------------------------------------------------------------

func (m *Memory) AppendLog(_ context.Context, entry commission.OperationLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendLogLocked(entry)
}

func (m *Memory) appendLogLocked(entry commission.OperationLog) error {
	m.logs = append(m.logs, entry)
	return nil
}

func (m *Memory) ListLogs(_ context.Context, limit int) ([]commission.OperationLog, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.listLogsLocked(limit)
}

func (m *Memory) listLogsLocked(limit int) ([]commission.OperationLog, error) {
	// Walk the slice backwards so entries sharing a timestamp still come
	// back newest-appended first; the stable sort only reorders entries
	// whose timestamps actually differ.
	out := make([]commission.OperationLog, 0, len(m.logs))
	for i := len(m.logs) - 1; i >= 0; i-- {
		out = append(out, m.logs[i])
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].At.After(out[j].At) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// =============================================================================
// TRANSACTIONAL MEMORY STORE
// =============================================================================

// TxMemory wraps Memory with transaction support.
type TxMemory struct {
	*Memory
}

func NewTxMemory() *TxMemory {
	return &TxMemory{Memory: NewMemory()}
}

// WithTx executes fn against a transactional view. For the memory store
// this is simulated with a snapshot + rollback on error; the mutex is
// held for the whole unit, so nothing interleaves.
func (tm *TxMemory) WithTx(ctx context.Context, fn func(commission.Store) error) error {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	snapshot := tm.snapshot()

	if err := fn(&txMemoryView{parent: tm.Memory}); err != nil {
		tm.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	users        map[string]commission.User
	products     map[string]commission.Product
	deals        map[string]commission.Deal
	transactions map[string]commission.Transaction
	allocIndex   map[string]string
	payouts      map[string]commission.PayoutRequest
	settings     *commission.Settings
	logs         []commission.OperationLog
}

func (tm *TxMemory) snapshot() memorySnapshot {
	s := memorySnapshot{
		users:        make(map[string]commission.User, len(tm.users)),
		products:     make(map[string]commission.Product, len(tm.products)),
		deals:        make(map[string]commission.Deal, len(tm.deals)),
		transactions: make(map[string]commission.Transaction, len(tm.transactions)),
		allocIndex:   make(map[string]string, len(tm.allocIndex)),
		payouts:      make(map[string]commission.PayoutRequest, len(tm.payouts)),
		logs:         append([]commission.OperationLog(nil), tm.logs...),
	}
	for k, v := range tm.users {
		s.users[k] = v
	}
	for k, v := range tm.products {
		s.products[k] = v
	}
	for k, v := range tm.deals {
		s.deals[k] = v
	}
	for k, v := range tm.transactions {
		v.Allocations = append([]commission.Allocation(nil), v.Allocations...)
		s.transactions[k] = v
	}
	for k, v := range tm.allocIndex {
		s.allocIndex[k] = v
	}
	for k, v := range tm.payouts {
		v.AllocationIDs = append([]string(nil), v.AllocationIDs...)
		s.payouts[k] = v
	}
	if tm.settings != nil {
		settings := *tm.settings
		s.settings = &settings
	}
	return s
}

func (tm *TxMemory) restore(s memorySnapshot) {
	tm.users = s.users
	tm.products = s.products
	tm.deals = s.deals
	tm.transactions = s.transactions
	tm.allocIndex = s.allocIndex
	tm.payouts = s.payouts
	tm.settings = s.settings
	tm.logs = s.logs
}

// txMemoryView calls the *Locked methods directly; the parent mutex is
// already held by WithTx.
type txMemoryView struct {
	parent *Memory
}

func (tv *txMemoryView) SaveUser(_ context.Context, u commission.User) error {
	return tv.parent.saveUserLocked(u)
}

func (tv *txMemoryView) GetUser(_ context.Context, id string) (*commission.User, error) {
	return tv.parent.getUserLocked(id)
}

func (tv *txMemoryView) ListUsers(_ context.Context) ([]commission.User, error) {
	return tv.parent.listUsersLocked()
}

func (tv *txMemoryView) SaveProduct(_ context.Context, p commission.Product) error {
	return tv.parent.saveProductLocked(p)
}

func (tv *txMemoryView) GetProduct(_ context.Context, id string) (*commission.Product, error) {
	return tv.parent.getProductLocked(id)
}

func (tv *txMemoryView) ListProducts(_ context.Context) ([]commission.Product, error) {
	return tv.parent.listProductsLocked()
}

func (tv *txMemoryView) SaveDeal(_ context.Context, d commission.Deal) error {
	return tv.parent.saveDealLocked(d)
}

func (tv *txMemoryView) GetDeal(_ context.Context, id string) (*commission.Deal, error) {
	return tv.parent.getDealLocked(id)
}

func (tv *txMemoryView) ListDeals(_ context.Context) ([]commission.Deal, error) {
	return tv.parent.listDealsLocked()
}

func (tv *txMemoryView) SaveTransaction(_ context.Context, t commission.Transaction) error {
	return tv.parent.saveTransactionLocked(t)
}

func (tv *txMemoryView) GetTransaction(_ context.Context, id string) (*commission.Transaction, error) {
	return tv.parent.getTransactionLocked(id)
}

func (tv *txMemoryView) GetTransactionByDeal(_ context.Context, dealID string) (*commission.Transaction, error) {
	return tv.parent.getTransactionByDealLocked(dealID)
}

func (tv *txMemoryView) ListTransactions(_ context.Context) ([]commission.Transaction, error) {
	return tv.parent.listTransactionsLocked()
}

func (tv *txMemoryView) ListAllocationsByUser(_ context.Context, userID string) ([]commission.Allocation, error) {
	return tv.parent.listAllocationsByUserLocked(userID)
}

func (tv *txMemoryView) GetAllocation(_ context.Context, id string) (*commission.Allocation, error) {
	return tv.parent.getAllocationLocked(id)
}

func (tv *txMemoryView) UpdateAllocationStatus(_ context.Context, allocationID string, status commission.AllocationStatus, payoutRequestID string) error {
	return tv.parent.updateAllocationStatusLocked(allocationID, status, payoutRequestID)
}

func (tv *txMemoryView) SavePayoutRequest(_ context.Context, pr commission.PayoutRequest) error {
	return tv.parent.savePayoutRequestLocked(pr)
}

func (tv *txMemoryView) GetPayoutRequest(_ context.Context, id string) (*commission.PayoutRequest, error) {
	return tv.parent.getPayoutRequestLocked(id)
}

func (tv *txMemoryView) ListPayoutRequests(_ context.Context) ([]commission.PayoutRequest, error) {
	return tv.parent.listPayoutRequestsLocked()
}

func (tv *txMemoryView) GetSettings(_ context.Context) (*commission.Settings, error) {
	return tv.parent.getSettingsLocked()
}

func (tv *txMemoryView) SaveSettings(_ context.Context, s commission.Settings) error {
	return tv.parent.saveSettingsLocked(s)
}

func (tv *txMemoryView) AppendLog(_ context.Context, entry commission.OperationLog) error {
	return tv.parent.appendLogLocked(entry)
}

func (tv *txMemoryView) ListLogs(_ context.Context, limit int) ([]commission.OperationLog, error) {
	return tv.parent.listLogsLocked(limit)
}
