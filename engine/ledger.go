/*
ledger.go - Reward confirmation and read-side aggregations

PURPOSE:
  The operator's confirm command plus the query surface collaborators
  read: per-user reward sums by status, team sales, per-category sales.
  Aggregations are recomputed on demand from the transaction and
  allocation collections; there are no cached totals to drift.
*/
package engine

import (
	"context"
	"fmt"

	"github.com/jnavi/commission-engine/commission"
)

// ConfirmRewards flips every unconfirmed allocation in the transaction
// to confirmed. Idempotent: re-invoking on an already-confirmed
// transaction is a no-op, not an error.
func (e *Engine) ConfirmRewards(ctx context.Context, actorID, transactionID string) error {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return err
	}
	if err := e.Auth.Allow(actor, commission.ActionConfirmRewards, nil); err != nil {
		return err
	}

	return e.Store.WithTx(ctx, func(store commission.Store) error {
		tx, err := store.GetTransaction(ctx, transactionID)
		if err != nil {
			return err
		}
		if tx == nil {
			return fmt.Errorf("transaction %q: %w", transactionID, commission.ErrNotFound)
		}

		confirmed := 0
		for _, a := range tx.Allocations {
			if a.Kind != commission.KindUserReward || a.Status != commission.AllocationUnconfirmed {
				continue
			}
			if err := store.UpdateAllocationStatus(ctx, a.ID, commission.AllocationConfirmed, a.PayoutRequestID); err != nil {
				return fmt.Errorf("confirm allocation %s: %w", a.ID, err)
			}
			confirmed++
		}
		if confirmed > 0 {
			e.logOp(ctx, store, actorID, commission.ActionConfirmRewards,
				fmt.Sprintf("%d allocation(s) confirmed", confirmed), transactionID)
		}
		return nil
	})
}

// =============================================================================
// READ SIDE
// =============================================================================

// RewardSummary breaks a user's reward total down by display state.
// RequestedJPY covers confirmed allocations already claimed by a payout
// request; ConfirmedJPY is what a new request could still claim.
type RewardSummary struct {
	UnconfirmedJPY int64
	ConfirmedJPY   int64
	RequestedJPY   int64
	PaidJPY        int64
}

// AvailableJPY is the amount a payout request would freeze right now.
func (s RewardSummary) AvailableJPY() int64 { return s.ConfirmedJPY }

// UserRewards returns the summary plus the underlying line items for a
// user's rewards page.
func (e *Engine) UserRewards(ctx context.Context, userID string) (RewardSummary, []commission.Allocation, error) {
	allocations, err := e.Store.ListAllocationsByUser(ctx, userID)
	if err != nil {
		return RewardSummary{}, nil, err
	}

	var s RewardSummary
	for _, a := range allocations {
		switch {
		case a.Status == commission.AllocationUnconfirmed:
			s.UnconfirmedJPY += a.AmountJPY
		case a.Status == commission.AllocationConfirmed && a.PayoutRequestID == "":
			s.ConfirmedJPY += a.AmountJPY
		case a.Status == commission.AllocationConfirmed:
			s.RequestedJPY += a.AmountJPY
		case a.Status == commission.AllocationPaid:
			s.PaidJPY += a.AmountJPY
		}
	}
	return s, allocations, nil
}

// SumUserRewards totals a user's allocation amounts with the given
// status. An empty status sums everything.
func (e *Engine) SumUserRewards(ctx context.Context, userID string, status commission.AllocationStatus) (int64, error) {
	allocations, err := e.Store.ListAllocationsByUser(ctx, userID)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, a := range allocations {
		if status == "" || a.Status == status {
			sum += a.AmountJPY
		}
	}
	return sum, nil
}

// AgencyTeamSales totals sale amounts across an agency's transactions.
func (e *Engine) AgencyTeamSales(ctx context.Context, agencyID string) (int64, error) {
	txs, err := e.Store.ListTransactions(ctx)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, t := range txs {
		if t.AgencyID == agencyID {
			sum += t.SaleAmountJPY
		}
	}
	return sum, nil
}

// ConnectorSales totals sale amounts across a connector's transactions.
func (e *Engine) ConnectorSales(ctx context.Context, connectorID string) (int64, error) {
	txs, err := e.Store.ListTransactions(ctx)
	if err != nil {
		return 0, err
	}
	var sum int64
	for _, t := range txs {
		if t.ConnectorID == connectorID {
			sum += t.SaleAmountJPY
		}
	}
	return sum, nil
}

// SalesByCategory totals sale amounts per product category.
func (e *Engine) SalesByCategory(ctx context.Context) (map[commission.ProductCategory]int64, error) {
	txs, err := e.Store.ListTransactions(ctx)
	if err != nil {
		return nil, err
	}
	sums := make(map[commission.ProductCategory]int64)
	for _, t := range txs {
		sums[t.Product.Category] += t.SaleAmountJPY
	}
	return sums, nil
}
