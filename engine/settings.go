/*
settings.go - Operator configuration and directory commands

PURPOSE:
  Rate changes, partner registration, and connector-to-agency
  assignment. Rate changes affect future finalizations only; every
  transaction keeps the snapshot it was computed with.
*/
package engine

import (
	"context"
	"fmt"

	"github.com/jnavi/commission-engine/commission"
)

// Settings returns the current singleton configuration.
func (e *Engine) Settings(ctx context.Context) (commission.Settings, error) {
	return e.settings(ctx, e.Store)
}

// SetCommissionRates replaces the rate configuration. Operator-only;
// validates the subtractive precondition (connector <= overall).
func (e *Engine) SetCommissionRates(ctx context.Context, actorID string, rates commission.RateConfig) error {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return err
	}
	if err := e.Auth.Allow(actor, commission.ActionSetRates, nil); err != nil {
		return err
	}
	if err := rates.Validate(); err != nil {
		return err
	}

	return e.Store.WithTx(ctx, func(store commission.Store) error {
		settings, err := e.settings(ctx, store)
		if err != nil {
			return err
		}
		settings.Rates = rates
		if err := store.SaveSettings(ctx, settings); err != nil {
			return fmt.Errorf("save settings: %w", err)
		}
		e.logOp(ctx, store, actorID, commission.ActionSetRates,
			fmt.Sprintf("rates set to overall %s / connector %s", rates.OverallRate, rates.ConnectorRate), "")
		return nil
	})
}

// RegisterUser adds a partner or operator to the directory.
// Connectors must name an existing agency.
func (e *Engine) RegisterUser(ctx context.Context, actorID string, u commission.User) (*commission.User, error) {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Allow(actor, commission.ActionManageUsers, nil); err != nil {
		return nil, err
	}

	switch u.Role {
	case commission.RoleOperator, commission.RoleAgency, commission.RoleConnector:
	default:
		return nil, fmt.Errorf("unknown role %q", u.Role)
	}
	if u.Role == commission.RoleConnector {
		agency, err := e.Store.GetUser(ctx, u.AgencyID)
		if err != nil {
			return nil, err
		}
		if agency == nil || agency.Role != commission.RoleAgency {
			return nil, fmt.Errorf("agency %q: %w", u.AgencyID, commission.ErrNotFound)
		}
	} else {
		u.AgencyID = ""
	}

	if u.ID == "" {
		u.ID = e.NewID()
	}
	u.CreatedAt = e.Now()

	if err := e.Store.SaveUser(ctx, u); err != nil {
		return nil, fmt.Errorf("save user: %w", err)
	}
	e.logOp(ctx, e.Store, actorID, commission.ActionManageUsers,
		fmt.Sprintf("user %s registered as %s", u.Name, u.Role), u.ID)
	return &u, nil
}

// SetConnectorAgency reassigns a connector to another agency. Existing
// transactions keep the agency recorded at their finalization.
func (e *Engine) SetConnectorAgency(ctx context.Context, actorID, connectorID, agencyID string) error {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return err
	}
	if err := e.Auth.Allow(actor, commission.ActionManageUsers, nil); err != nil {
		return err
	}

	return e.Store.WithTx(ctx, func(store commission.Store) error {
		connector, err := store.GetUser(ctx, connectorID)
		if err != nil {
			return err
		}
		if connector == nil || connector.Role != commission.RoleConnector {
			return fmt.Errorf("connector %q: %w", connectorID, commission.ErrNotFound)
		}
		agency, err := store.GetUser(ctx, agencyID)
		if err != nil {
			return err
		}
		if agency == nil || agency.Role != commission.RoleAgency {
			return fmt.Errorf("agency %q: %w", agencyID, commission.ErrNotFound)
		}

		connector.AgencyID = agency.ID
		if err := store.SaveUser(ctx, *connector); err != nil {
			return fmt.Errorf("save user: %w", err)
		}
		e.logOp(ctx, store, actorID, commission.ActionManageUsers,
			fmt.Sprintf("connector %s assigned to agency %s", connector.Name, agency.Name), connectorID)
		return nil
	})
}

// RegisterProduct adds a catalog entry. The engine only needs the
// product's type (for the lifecycle policy) and its snapshot fields.
func (e *Engine) RegisterProduct(ctx context.Context, actorID string, p commission.Product) (*commission.Product, error) {
	actor, err := e.actor(ctx, e.Store, actorID)
	if err != nil {
		return nil, err
	}
	if err := e.Auth.Allow(actor, commission.ActionManageProducts, nil); err != nil {
		return nil, err
	}

	if _, ok := commission.PolicyFor(p.Type); !ok {
		return nil, fmt.Errorf("product type %q has no lifecycle policy: %w", p.Type, commission.ErrInvalidStatus)
	}
	if p.ID == "" {
		p.ID = e.NewID()
	}
	p.CreatedAt = e.Now()

	if err := e.Store.SaveProduct(ctx, p); err != nil {
		return nil, fmt.Errorf("save product: %w", err)
	}
	e.logOp(ctx, e.Store, actorID, commission.ActionManageProducts,
		fmt.Sprintf("product %s (%s) registered", p.Name, p.Type), p.ID)
	return &p, nil
}
