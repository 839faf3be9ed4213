/*
payout.go - Payout request workflow

PURPOSE:
  Batches a partner's confirmed, unclaimed allocations into a payout
  request, and settles requests on the operator's command.

CLAIM EXCLUSIVITY:
  At most one payout request may ever claim a given allocation. The
  eligibility re-check and the claim stamp run inside one store
  transaction: an allocation claimed by a concurrent request is simply
  excluded from the new total (optimistic re-filter), it does not fail
  the whole operation.

SETTLEMENT:
  MarkPayoutPaid flips the request and every referenced allocation to
  paid in the same unit. Re-applying fails with AlreadyPaid, so a retry
  cannot double-settle.
*/
package engine

import (
	"context"
	"fmt"

	"github.com/jnavi/commission-engine/commission"
)

// RequestPayoutAll creates a payout request covering every allocation
// the actor can claim right now. The request amount is frozen at
// creation. Fails with BelowMinimum when the claimable total is under
// the configured threshold.
func (e *Engine) RequestPayoutAll(ctx context.Context, actorID string) (*commission.PayoutRequest, error) {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Allow(actor, commission.ActionRequestPayout, actor.ID); err != nil {
		return nil, err
	}

	var created *commission.PayoutRequest
	err = e.Store.WithTx(ctx, func(store commission.Store) error {
		settings, err := e.settings(ctx, store)
		if err != nil {
			return err
		}

		// Re-read eligibility under the same transactional boundary
		// that performs the claim.
		allocations, err := store.ListAllocationsByUser(ctx, actor.ID)
		if err != nil {
			return err
		}

		var claimable []commission.Allocation
		var total int64
		for _, a := range allocations {
			if a.ClaimableBy(actor.ID) {
				claimable = append(claimable, a)
				total += a.AmountJPY
			}
		}

		if total < settings.MinPayoutJPY {
			return &commission.BelowMinimumError{
				UserID:       actor.ID,
				AvailableJPY: total,
				MinimumJPY:   settings.MinPayoutJPY,
			}
		}

		request := commission.PayoutRequest{
			ID:          e.NewID(),
			UserID:      actor.ID,
			RequestedAt: e.Now(),
			AmountJPY:   total,
			Status:      commission.PayoutRequested,
		}
		for _, a := range claimable {
			request.AllocationIDs = append(request.AllocationIDs, a.ID)
			if err := store.UpdateAllocationStatus(ctx, a.ID, commission.AllocationConfirmed, request.ID); err != nil {
				return fmt.Errorf("claim allocation %s: %w", a.ID, err)
			}
		}
		if err := store.SavePayoutRequest(ctx, request); err != nil {
			return fmt.Errorf("save payout request: %w", err)
		}
		e.logOp(ctx, store, actorID, commission.ActionRequestPayout,
			fmt.Sprintf("payout of %d yen requested over %d allocation(s)", total, len(claimable)), request.ID)
		created = &request
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("payout requested",
		"payout_request_id", created.ID, "user_id", actorID, "amount_jpy", created.AmountJPY)
	return created, nil
}

// MarkPayoutPaid settles a requested payout: the request and all of its
// allocations flip to paid atomically.
func (e *Engine) MarkPayoutPaid(ctx context.Context, actorID, payoutRequestID string) error {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return err
	}
	if err := e.Auth.Allow(actor, commission.ActionSettlePayout, nil); err != nil {
		return err
	}

	err = e.Store.WithTx(ctx, func(store commission.Store) error {
		request, err := store.GetPayoutRequest(ctx, payoutRequestID)
		if err != nil {
			return err
		}
		if request == nil {
			return fmt.Errorf("payout request %q: %w", payoutRequestID, commission.ErrNotFound)
		}
		if request.Status == commission.PayoutPaid {
			return fmt.Errorf("payout request %s: %w", payoutRequestID, commission.ErrAlreadyPaid)
		}

		now := e.Now()
		request.Status = commission.PayoutPaid
		request.ProcessedAt = &now
		if err := store.SavePayoutRequest(ctx, *request); err != nil {
			return fmt.Errorf("save payout request: %w", err)
		}
		for _, id := range request.AllocationIDs {
			if err := store.UpdateAllocationStatus(ctx, id, commission.AllocationPaid, request.ID); err != nil {
				return fmt.Errorf("settle allocation %s: %w", id, err)
			}
		}
		e.logOp(ctx, store, actorID, commission.ActionSettlePayout,
			fmt.Sprintf("payout of %d yen to %s marked paid", request.AmountJPY, request.UserID), request.ID)
		return nil
	})
	if err != nil {
		return err
	}

	e.Log.Info("payout settled", "payout_request_id", payoutRequestID, "actor", actorID)
	return nil
}

// PayoutQueue returns all payout requests, newest first, for the admin
// settlement view.
func (e *Engine) PayoutQueue(ctx context.Context) ([]commission.PayoutRequest, error) {
	return e.Store.ListPayoutRequests(ctx)
}
