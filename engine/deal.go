/*
deal.go - Deal lifecycle commands

PURPOSE:
  Creation, free-form status progression, and the one-shot finalize
  transition that locks the deal and writes the allocation transaction.

LIFECYCLE:
  CreateDeal        initial status from the category policy table
  UpdateDealStatus  any status within the category's intermediate set,
                    any order, while the deal is unlocked
  FinalizeDeal      terminal; locks the deal, stamps amount and closing
                    date, computes the split with the current rate
                    snapshot, writes one transaction with 3 allocations

EXACTLY-ONCE:
  The deal's locked flag is the double-submission guard. The lock
  check-and-set runs in the same store transaction as the transaction
  write, so a duplicate finalize can never produce a second
  transaction for one deal.
*/
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/jnavi/commission-engine/commission"
)

// CreateDealInput carries the intake fields for a new deal. ConnectorID
// defaults to the acting connector for manual entry; referral intake
// (operator-submitted) must name the owning connector.
type CreateDealInput struct {
	ConnectorID string
	ProductID   string
	Source      commission.DealSource

	CustomerCompanyName string
	CustomerName        string
	CustomerEmail       string
	CustomerPhone       string
	Memo                string
}

// CreateDeal registers a new deal in its category's initial status.
func (e *Engine) CreateDeal(ctx context.Context, actorID string, in CreateDealInput) (*commission.Deal, error) {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return nil, err
	}

	ownerID := in.ConnectorID
	if ownerID == "" {
		ownerID = actor.ID
	}
	if err := e.Auth.Allow(actor, commission.ActionCreateDeal, ownerID); err != nil {
		return nil, err
	}

	owner, err := e.Store.GetUser(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	if owner == nil || owner.Role != commission.RoleConnector {
		return nil, fmt.Errorf("connector %q: %w", ownerID, commission.ErrNotFound)
	}

	product, err := e.Store.GetProduct(ctx, in.ProductID)
	if err != nil {
		return nil, err
	}
	if product == nil {
		return nil, fmt.Errorf("product %q: %w", in.ProductID, commission.ErrNotFound)
	}
	policy, ok := commission.PolicyFor(product.Type)
	if !ok {
		return nil, fmt.Errorf("product type %q has no lifecycle policy: %w", product.Type, commission.ErrInvalidStatus)
	}

	source := in.Source
	if source == "" {
		source = commission.SourceManual
	}

	deal := commission.Deal{
		ID:                  e.NewID(),
		CreatedAt:           e.Now(),
		Locked:              false,
		Status:              policy.InitialStatus,
		ConnectorID:         owner.ID,
		ProductID:           product.ID,
		CustomerCompanyName: in.CustomerCompanyName,
		CustomerName:        in.CustomerName,
		CustomerEmail:       in.CustomerEmail,
		CustomerPhone:       in.CustomerPhone,
		Memo:                in.Memo,
		Source:              source,
	}

	if err := e.Store.SaveDeal(ctx, deal); err != nil {
		return nil, fmt.Errorf("save deal: %w", err)
	}
	e.logOp(ctx, e.Store, actorID, commission.ActionCreateDeal,
		fmt.Sprintf("deal registered for product %s (%s)", product.Name, source), deal.ID)
	e.Log.Info("deal created", "deal_id", deal.ID, "connector_id", owner.ID, "product_id", product.ID)
	return &deal, nil
}

// UpdateDealStatus overwrites the deal's status with another member of
// its category's intermediate set. Ordering among intermediate statuses
// is intentionally not enforced.
func (e *Engine) UpdateDealStatus(ctx context.Context, actorID, dealID string, status commission.DealStatus) error {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return err
	}

	return e.Store.WithTx(ctx, func(store commission.Store) error {
		deal, access, policy, err := e.loadDealForMutation(ctx, store, dealID)
		if err != nil {
			return err
		}
		if err := e.Auth.Allow(actor, commission.ActionUpdateDealStatus, access); err != nil {
			return err
		}
		if deal.Locked {
			return fmt.Errorf("deal %s: %w", dealID, commission.ErrDealLocked)
		}
		if !policy.AllowsIntermediate(status) {
			prod, _ := store.GetProduct(ctx, deal.ProductID)
			pt := commission.ProductType("")
			if prod != nil {
				pt = prod.Type
			}
			return &commission.InvalidStatusError{Status: status, ProductType: pt}
		}

		prev := deal.Status
		deal.Status = status
		if err := store.SaveDeal(ctx, *deal); err != nil {
			return fmt.Errorf("save deal: %w", err)
		}
		e.logOp(ctx, store, actorID, commission.ActionUpdateDealStatus,
			fmt.Sprintf("status %s -> %s", prev, status), dealID)
		return nil
	})
}

// FinalizeDeal executes the terminal transition: locks the deal and
// writes the allocation transaction, atomically.
func (e *Engine) FinalizeDeal(ctx context.Context, actorID, dealID string, finalSaleAmountJPY int64, closingDate string) (*commission.Transaction, error) {
	if finalSaleAmountJPY <= 0 {
		return nil, fmt.Errorf("final sale amount %d: %w", finalSaleAmountJPY, commission.ErrInvalidAmount)
	}
	closing, err := time.Parse("2006-01-02", closingDate)
	if err != nil {
		return nil, fmt.Errorf("closing date %q: %w", closingDate, commission.ErrInvalidDate)
	}

	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return nil, err
	}

	var created *commission.Transaction
	err = e.Store.WithTx(ctx, func(store commission.Store) error {
		deal, access, policy, err := e.loadDealForMutation(ctx, store, dealID)
		if err != nil {
			return err
		}
		if err := e.Auth.Allow(actor, commission.ActionFinalizeDeal, access); err != nil {
			return err
		}
		if deal.Locked {
			return fmt.Errorf("deal %s: %w", dealID, commission.ErrDealLocked)
		}

		product, err := store.GetProduct(ctx, deal.ProductID)
		if err != nil {
			return err
		}
		if product == nil {
			return fmt.Errorf("product %q: %w", deal.ProductID, commission.ErrNotFound)
		}

		settings, err := e.settings(ctx, store)
		if err != nil {
			return err
		}

		// The sale amount doubles as the reward calculation base.
		base := finalSaleAmountJPY
		split, err := commission.ComputeSplit(base, settings.Rates)
		if err != nil {
			return err
		}

		tx := e.buildTransaction(deal, product, access.OwnerAgencyID, policy, settings.Rates, base, finalSaleAmountJPY, closing, split)

		deal.Locked = true
		deal.Status = policy.TerminalStatus
		deal.FinalSaleAmountJPY = finalSaleAmountJPY
		deal.ClosingDate = &closing

		if err := store.SaveDeal(ctx, *deal); err != nil {
			return fmt.Errorf("save deal: %w", err)
		}
		if err := store.SaveTransaction(ctx, tx); err != nil {
			return fmt.Errorf("save transaction: %w", err)
		}
		e.logOp(ctx, store, actorID, commission.ActionFinalizeDeal,
			fmt.Sprintf("sale finalized at %d yen (agency %d / connector %d / platform %d)",
				finalSaleAmountJPY, split.AgencyJPY, split.ConnectorJPY, split.PlatformJPY), dealID)
		created = &tx
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Log.Info("deal finalized",
		"deal_id", dealID, "transaction_id", created.ID, "base_jpy", created.BaseAmountJPY)
	return created, nil
}

// loadDealForMutation fetches the deal plus the ownership and policy
// context every deal command needs.
func (e *Engine) loadDealForMutation(ctx context.Context, store commission.Store, dealID string) (*commission.Deal, commission.DealAccess, commission.CategoryPolicy, error) {
	deal, err := store.GetDeal(ctx, dealID)
	if err != nil {
		return nil, commission.DealAccess{}, commission.CategoryPolicy{}, err
	}
	if deal == nil {
		return nil, commission.DealAccess{}, commission.CategoryPolicy{},
			fmt.Errorf("deal %q: %w", dealID, commission.ErrNotFound)
	}

	owner, err := store.GetUser(ctx, deal.ConnectorID)
	if err != nil {
		return nil, commission.DealAccess{}, commission.CategoryPolicy{}, err
	}
	access := commission.DealAccess{OwnerConnectorID: deal.ConnectorID}
	if owner != nil {
		access.OwnerAgencyID = owner.AgencyID
	}

	product, err := store.GetProduct(ctx, deal.ProductID)
	if err != nil {
		return nil, commission.DealAccess{}, commission.CategoryPolicy{}, err
	}
	if product == nil {
		return nil, commission.DealAccess{}, commission.CategoryPolicy{},
			fmt.Errorf("product %q: %w", deal.ProductID, commission.ErrNotFound)
	}
	policy, ok := commission.PolicyFor(product.Type)
	if !ok {
		return nil, commission.DealAccess{}, commission.CategoryPolicy{},
			fmt.Errorf("product type %q has no lifecycle policy: %w", product.Type, commission.ErrInvalidStatus)
	}
	return deal, access, policy, nil
}

func (e *Engine) buildTransaction(
	deal *commission.Deal,
	product *commission.Product,
	agencyID string,
	policy commission.CategoryPolicy,
	rates commission.RateConfig,
	baseJPY, saleJPY int64,
	closing time.Time,
	split commission.Split,
) commission.Transaction {
	txID := e.NewID()

	allocations := []commission.Allocation{
		{
			ID:            e.NewID(),
			TransactionID: txID,
			Kind:          commission.KindUserReward,
			Label:         "agency reward",
			UserID:        agencyID,
			UserRole:      commission.RoleAgency,
			Rate:          rates.AgencyRate(),
			BaseAmountJPY: baseJPY,
			AmountJPY:     split.AgencyJPY,
			Status:        policy.InitialAllocationStatus,
		},
		{
			ID:            e.NewID(),
			TransactionID: txID,
			Kind:          commission.KindUserReward,
			Label:         "connector reward",
			UserID:        deal.ConnectorID,
			UserRole:      commission.RoleConnector,
			Rate:          rates.ConnectorRate,
			BaseAmountJPY: baseJPY,
			AmountJPY:     split.ConnectorJPY,
			Status:        policy.InitialAllocationStatus,
		},
		{
			ID:            e.NewID(),
			TransactionID: txID,
			Kind:          commission.KindPlatformShare,
			Label:         "platform share",
			AmountJPY:     split.PlatformJPY,
		},
	}

	return commission.Transaction{
		ID:          txID,
		DealID:      deal.ID,
		CreatedAt:   e.Now(),
		ClosingDate: closing,
		Product: commission.ProductSnapshot{
			ProductID:    product.ID,
			Name:         product.Name,
			Category:     product.Category,
			Type:         product.Type,
			SupplierID:   product.SupplierID,
			ListPriceJPY: product.ListPriceJPY,
		},
		ConnectorID:        deal.ConnectorID,
		AgencyID:           agencyID,
		SaleAmountJPY:      saleJPY,
		BaseAmountJPY:      baseJPY,
		RatesUsed:          rates,
		AgencyRewardJPY:    split.AgencyJPY,
		ConnectorRewardJPY: split.ConnectorJPY,
		PlatformShareJPY:   split.PlatformJPY,
		Allocations:        allocations,
	}
}
