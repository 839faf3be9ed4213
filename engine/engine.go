/*
Package engine implements the command services of the commission core.

PURPOSE:
  The engine is the single writer: every state mutation (deal lifecycle,
  reward confirmation, payout workflow, settings) goes through one of
  its commands, never through direct store edits. Commands resolve the
  acting user, run the capability check, perform their read-check-write
  sequence inside a store transaction when atomicity matters, and
  append an operation-log entry.

COMMANDS:
  deal.go      CreateDeal, UpdateDealStatus, FinalizeDeal
  ledger.go    ConfirmRewards + read-side aggregations
  payout.go    RequestPayoutAll, MarkPayoutPaid
  settings.go  SetCommissionRates, SetConnectorAgency, registry commands

ERROR CONTRACT:
  Commands return domain errors from the commission package
  (ErrForbidden, ErrNotFound, ErrDealLocked, ...) wrapped with context.
  Callers recover them at the boundary; nothing here panics on user
  input. A missing Settings singleton is the one programmer error:
  the process is expected to seed it at startup.

SEE ALSO:
  - commission: domain types, calculator, policy tables
  - api: HTTP boundary that maps errors to structured results
*/
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/jnavi/commission-engine/commission"
)

// Engine executes all state-mutating commands against a TxStore.
type Engine struct {
	Store commission.TxStore
	Auth  commission.Authorizer
	Log   *slog.Logger

	// Now and NewID are injectable for tests.
	Now   func() time.Time
	NewID func() string
}

// New creates an engine with the standard authorizer, uuid ids, and the
// default slog logger.
func New(store commission.TxStore) *Engine {
	return &Engine{
		Store: store,
		Auth:  commission.RoleAuthorizer{},
		Log:   slog.Default(),
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// actor resolves the acting user from the directory. Unknown actors are
// a permission failure, not a lookup failure: the caller presented an
// identity the system does not recognize.
func (e *Engine) actor(ctx context.Context, store commission.Store, actorID string) (commission.Actor, error) {
	u, err := store.GetUser(ctx, actorID)
	if err != nil {
		return commission.Actor{}, fmt.Errorf("resolve actor: %w", err)
	}
	if u == nil {
		return commission.Actor{}, fmt.Errorf("unknown actor %q: %w", actorID, commission.ErrForbidden)
	}
	return commission.ActorOf(*u), nil
}

// settings loads the singleton. Absence is a deployment fault, not a
// user error: main seeds defaults before serving.
func (e *Engine) settings(ctx context.Context, store commission.Store) (commission.Settings, error) {
	s, err := store.GetSettings(ctx)
	if err != nil {
		return commission.Settings{}, fmt.Errorf("load settings: %w", err)
	}
	if s == nil {
		return commission.Settings{}, fmt.Errorf("system settings not seeded")
	}
	return *s, nil
}

// logOp appends an audit entry for a state-mutating command. Audit
// failures are reported but never fail the command that already
// committed its effect.
func (e *Engine) logOp(ctx context.Context, store commission.Store, actorID string, action commission.Action, detail, relatedID string) {
	entry := commission.OperationLog{
		ID:        e.NewID(),
		At:        e.Now(),
		ActorID:   actorID,
		Action:    string(action),
		Detail:    detail,
		RelatedID: relatedID,
	}
	if err := store.AppendLog(ctx, entry); err != nil {
		e.Log.Warn("operation log append failed", "action", action, "error", err)
	}
}

// OperationLogs returns recent audit entries, newest first.
func (e *Engine) OperationLogs(ctx context.Context, limit int) ([]commission.OperationLog, error) {
	return e.Store.ListLogs(ctx, limit)
}
