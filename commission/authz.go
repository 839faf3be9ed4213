/*
authz.go - Capability checks for commands

PURPOSE:
  One permission check implemented once and reused by every command,
  instead of ad-hoc role comparisons scattered per handler. A check
  takes (actor, action, resource) and answers allow/deny.

PERMISSION MATRIX:
  create deal            connector (own deals), operator (referral intake)
  update deal status     owning connector, that connector's agency, operator
  finalize deal          same as update
  confirm rewards        operator only
  request payout         the agency/connector themselves only
  settle payout          operator only
  set rates              operator only
  manage users/products  operator only

SEE ALSO:
  - types.go: Actor and Role
  - engine: resolves actors and resources before calling Allow
*/
package commission

import "fmt"

// Action names a state-mutating command for permission checks and the
// operation log.
type Action string

const (
	ActionCreateDeal       Action = "create_deal"
	ActionUpdateDealStatus Action = "update_deal_status"
	ActionFinalizeDeal     Action = "finalize_deal"
	ActionConfirmRewards   Action = "confirm_rewards"
	ActionRequestPayout    Action = "request_payout"
	ActionSettlePayout     Action = "settle_payout"
	ActionSetRates         Action = "set_rates"
	ActionManageUsers      Action = "manage_users"
	ActionManageProducts   Action = "manage_products"
)

// DealAccess describes who owns a deal, for ownership-scoped actions.
type DealAccess struct {
	OwnerConnectorID string
	OwnerAgencyID    string
}

// Authorizer decides whether an actor may perform an action on a
// resource. Implementations must be side-effect free.
type Authorizer interface {
	// Allow returns nil when permitted, or an error wrapping
	// ErrForbidden when not. The resource type depends on the action:
	// DealAccess for deal commands, the target user id (string) for
	// payout requests, nil for operator-only actions.
	Allow(actor Actor, action Action, resource any) error
}

// RoleAuthorizer is the standard three-role policy.
type RoleAuthorizer struct{}

func (RoleAuthorizer) Allow(actor Actor, action Action, resource any) error {
	switch action {
	case ActionConfirmRewards, ActionSettlePayout, ActionSetRates,
		ActionManageUsers, ActionManageProducts:
		if actor.Role != RoleOperator {
			return deny(actor, action, "requires operator role")
		}
		return nil

	case ActionCreateDeal:
		owner, _ := resource.(string)
		if actor.Role == RoleOperator {
			// Referral intake registers deals on a connector's behalf.
			return nil
		}
		if actor.Role == RoleConnector && actor.ID == owner {
			return nil
		}
		return deny(actor, action, "only the connector or the operator may register a deal")

	case ActionUpdateDealStatus, ActionFinalizeDeal:
		access, ok := resource.(DealAccess)
		if !ok {
			return deny(actor, action, "missing deal ownership")
		}
		switch {
		case actor.Role == RoleOperator:
			return nil
		case actor.Role == RoleConnector && actor.ID == access.OwnerConnectorID:
			return nil
		case actor.Role == RoleAgency && actor.ID == access.OwnerAgencyID:
			return nil
		}
		return deny(actor, action, "not the owning connector, their agency, or the operator")

	case ActionRequestPayout:
		// Only the partner themselves; the operator settles but never
		// requests on someone's behalf.
		userID, _ := resource.(string)
		if (actor.Role == RoleAgency || actor.Role == RoleConnector) && actor.ID == userID {
			return nil
		}
		return deny(actor, action, "payouts can only be requested by the recipient")
	}

	return deny(actor, action, "unknown action")
}

func deny(actor Actor, action Action, reason string) error {
	return fmt.Errorf("%s as %s (%s): %s: %w", action, actor.ID, actor.Role, reason, ErrForbidden)
}
