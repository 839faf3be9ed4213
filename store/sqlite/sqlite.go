/*
Package sqlite provides the SQLite-backed commission store.

PURPOSE:
  Implements commission.TxStore on SQLite. This is the production
  persistence path; the in-memory store under commission/store mirrors
  the same contract for tests and dev.

KEY TABLES:
  users:            Partner directory (operator, agencies, connectors)
  products:         Catalog entries
  deals:            Sales opportunities with the lifecycle lock flag
  transactions:     Immutable finalization records (never updated)
  allocations:      Split lines, addressable by id for payout claims
  payout_requests:  Batched claims on confirmed allocations
  system_settings:  Single-row configuration (rates, payout minimum)
  operation_logs:   Append-only audit trail

IMMUTABILITY ENFORCEMENT:
  - Transaction rows are inserted once; there is no UPDATE path.
  - Allocation rows only ever change status and payout_request_id.
  - Operation logs are insert-only.

CONCURRENCY:
  Uses sync.RWMutex for thread-safety on top of SQLite's single-writer
  model. WithTx holds the write lock for the whole unit, so the
  finalize and payout-claim read-check-write sequences cannot
  interleave.

WAL MODE:
  SQLite is opened with WAL (Write-Ahead Logging) and foreign keys on.

USAGE:
  store, err := sqlite.New("./data/commission.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  eng := engine.New(store)

MIGRATION:
  Schema is auto-migrated on New(). For production, use a proper
  migration tool (golang-migrate, goose) with versioned migrations.

SEE ALSO:
  - commission/store.go: Interface definitions
  - commission/store/memory.go: In-memory implementation for testing
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"

	"github.com/jnavi/commission-engine/commission"
)

// Store implements commission.TxStore using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// dbtx is the common surface of *sql.DB and *sql.Tx, so every query
// helper works both standalone and inside WithTx.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a SQLite store at the given path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on&_journal_mode=WAL")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	store := &Store{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	-- Partner directory
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		email TEXT,
		role TEXT NOT NULL,
		agency_id TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_agency ON users(agency_id);

	-- Catalog
	CREATE TABLE IF NOT EXISTS products (
		id TEXT PRIMARY KEY,
		supplier_id TEXT NOT NULL DEFAULT '',
		name TEXT NOT NULL,
		category TEXT NOT NULL,
		type TEXT NOT NULL,
		list_price_jpy INTEGER NOT NULL DEFAULT 0,
		description TEXT,
		is_public BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	-- Deals
	CREATE TABLE IF NOT EXISTS deals (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		locked BOOLEAN NOT NULL DEFAULT FALSE,
		status TEXT NOT NULL,
		connector_id TEXT NOT NULL,
		product_id TEXT NOT NULL,
		customer_company_name TEXT,
		customer_name TEXT,
		customer_email TEXT,
		customer_phone TEXT,
		memo TEXT,
		source TEXT NOT NULL,
		final_sale_amount_jpy INTEGER NOT NULL DEFAULT 0,
		closing_date TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_deals_connector ON deals(connector_id);
	CREATE INDEX IF NOT EXISTS idx_deals_status ON deals(status);

	-- Transactions (written once at finalization, never updated)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		deal_id TEXT NOT NULL UNIQUE,
		created_at TEXT NOT NULL,
		closing_date TEXT NOT NULL,
		product_json TEXT NOT NULL,
		connector_id TEXT NOT NULL,
		agency_id TEXT NOT NULL,
		sale_amount_jpy INTEGER NOT NULL,
		base_amount_jpy INTEGER NOT NULL,
		overall_rate TEXT NOT NULL,
		connector_rate TEXT NOT NULL,
		agency_reward_jpy INTEGER NOT NULL,
		connector_reward_jpy INTEGER NOT NULL,
		platform_share_jpy INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_connector ON transactions(connector_id);
	CREATE INDEX IF NOT EXISTS idx_transactions_agency ON transactions(agency_id);

	-- Allocations: the only mutable columns are status and
	-- payout_request_id.
	CREATE TABLE IF NOT EXISTS allocations (
		id TEXT PRIMARY KEY,
		transaction_id TEXT NOT NULL REFERENCES transactions(id),
		position INTEGER NOT NULL,
		kind TEXT NOT NULL,
		label TEXT NOT NULL,
		amount_jpy INTEGER NOT NULL,
		user_id TEXT NOT NULL DEFAULT '',
		user_role TEXT NOT NULL DEFAULT '',
		rate TEXT NOT NULL DEFAULT '0',
		base_amount_jpy INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT '',
		payout_request_id TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_allocations_transaction
		ON allocations(transaction_id, position);
	-- Hot path for the payout claim filter
	CREATE INDEX IF NOT EXISTS idx_allocations_user_status
		ON allocations(user_id, status);

	-- Payout requests
	CREATE TABLE IF NOT EXISTS payout_requests (
		id TEXT PRIMARY KEY,
		user_id TEXT NOT NULL,
		requested_at TEXT NOT NULL,
		amount_jpy INTEGER NOT NULL,
		status TEXT NOT NULL,
		allocation_ids_json TEXT NOT NULL,
		processed_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_payout_requests_user ON payout_requests(user_id);
	CREATE INDEX IF NOT EXISTS idx_payout_requests_status ON payout_requests(status);

	-- Settings singleton (one row, fixed id)
	CREATE TABLE IF NOT EXISTS system_settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		min_payout_jpy INTEGER NOT NULL,
		overall_rate TEXT NOT NULL,
		connector_rate TEXT NOT NULL
	);

	-- Operation log (append-only)
	CREATE TABLE IF NOT EXISTS operation_logs (
		id TEXT PRIMARY KEY,
		at TEXT NOT NULL,
		actor_id TEXT NOT NULL,
		action TEXT NOT NULL,
		detail TEXT,
		related_id TEXT,
		seq INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_operation_logs_at ON operation_logs(at DESC);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return err
	}

	// seq backs the newest-first ordering when entries share a timestamp.
	_, err := s.db.Exec(`
		CREATE TRIGGER IF NOT EXISTS operation_logs_seq
		AFTER INSERT ON operation_logs
		WHEN NEW.seq IS NULL
		BEGIN
			UPDATE operation_logs
			SET seq = (SELECT COALESCE(MAX(seq), 0) + 1 FROM operation_logs)
			WHERE id = NEW.id;
		END;
	`)
	return err
}

// =============================================================================
// COLUMN PARSING
// =============================================================================

// parseTime and parseDecimal surface corrupted rows as read errors
// instead of silently scanning zero values.

func parseTime(column, v string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse %s %q: %w", column, v, err)
	}
	return t, nil
}

func parseDecimal(column, v string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(v)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %s %q: %w", column, v, err)
	}
	return d, nil
}

// =============================================================================
// USERS
// =============================================================================

func (s *Store) SaveUser(ctx context.Context, u commission.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveUser(ctx, s.db, u)
}

func saveUser(ctx context.Context, db dbtx, u commission.User) error {
	query := `
		INSERT INTO users (id, name, email, role, agency_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			role = excluded.role,
			agency_id = excluded.agency_id
	`
	_, err := db.ExecContext(ctx, query,
		u.ID, u.Name, u.Email, u.Role, u.AgencyID,
		u.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetUser(ctx context.Context, id string) (*commission.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getUser(ctx, s.db, id)
}

func getUser(ctx context.Context, db dbtx, id string) (*commission.User, error) {
	var u commission.User
	var createdAt string

	err := db.QueryRowContext(ctx,
		"SELECT id, name, email, role, agency_id, created_at FROM users WHERE id = ?",
		id,
	).Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.AgencyID, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if u.CreatedAt, err = parseTime("users.created_at", createdAt); err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]commission.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listUsers(ctx, s.db)
}

func listUsers(ctx context.Context, db dbtx) ([]commission.User, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT id, name, email, role, agency_id, created_at FROM users ORDER BY id",
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var users []commission.User
	for rows.Next() {
		var u commission.User
		var createdAt string
		if err := rows.Scan(&u.ID, &u.Name, &u.Email, &u.Role, &u.AgencyID, &createdAt); err != nil {
			return nil, err
		}
		if u.CreatedAt, err = parseTime("users.created_at", createdAt); err != nil {
			return nil, err
		}
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// PRODUCTS
// =============================================================================

func (s *Store) SaveProduct(ctx context.Context, p commission.Product) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveProduct(ctx, s.db, p)
}

func saveProduct(ctx context.Context, db dbtx, p commission.Product) error {
	query := `
		INSERT INTO products
		(id, supplier_id, name, category, type, list_price_jpy, description, is_public, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			supplier_id = excluded.supplier_id,
			name = excluded.name,
			category = excluded.category,
			type = excluded.type,
			list_price_jpy = excluded.list_price_jpy,
			description = excluded.description,
			is_public = excluded.is_public
	`
	_, err := db.ExecContext(ctx, query,
		p.ID, p.SupplierID, p.Name, p.Category, p.Type,
		p.ListPriceJPY, p.Description, p.IsPublic,
		p.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetProduct(ctx context.Context, id string) (*commission.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getProduct(ctx, s.db, id)
}

func getProduct(ctx context.Context, db dbtx, id string) (*commission.Product, error) {
	var p commission.Product
	var createdAt string

	err := db.QueryRowContext(ctx,
		`SELECT id, supplier_id, name, category, type, list_price_jpy, description, is_public, created_at
		 FROM products WHERE id = ?`,
		id,
	).Scan(&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Type,
		&p.ListPriceJPY, &p.Description, &p.IsPublic, &createdAt)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if p.CreatedAt, err = parseTime("products.created_at", createdAt); err != nil {
		return nil, err
	}
	return &p, nil
}

func (s *Store) ListProducts(ctx context.Context) ([]commission.Product, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listProducts(ctx, s.db)
}

func listProducts(ctx context.Context, db dbtx) ([]commission.Product, error) {
	rows, err := db.QueryContext(ctx,
		`SELECT id, supplier_id, name, category, type, list_price_jpy, description, is_public, created_at
		 FROM products ORDER BY id`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var products []commission.Product
	for rows.Next() {
		var p commission.Product
		var createdAt string
		if err := rows.Scan(&p.ID, &p.SupplierID, &p.Name, &p.Category, &p.Type,
			&p.ListPriceJPY, &p.Description, &p.IsPublic, &createdAt); err != nil {
			return nil, err
		}
		if p.CreatedAt, err = parseTime("products.created_at", createdAt); err != nil {
			return nil, err
		}
		products = append(products, p)
	}
	return products, rows.Err()
}

// =============================================================================
// DEALS
// =============================================================================

func (s *Store) SaveDeal(ctx context.Context, d commission.Deal) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveDeal(ctx, s.db, d)
}

func saveDeal(ctx context.Context, db dbtx, d commission.Deal) error {
	var closingDate *string
	if d.ClosingDate != nil {
		v := d.ClosingDate.UTC().Format(time.RFC3339)
		closingDate = &v
	}

	query := `
		INSERT INTO deals
		(id, created_at, locked, status, connector_id, product_id,
		 customer_company_name, customer_name, customer_email, customer_phone,
		 memo, source, final_sale_amount_jpy, closing_date)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			locked = excluded.locked,
			status = excluded.status,
			customer_company_name = excluded.customer_company_name,
			customer_name = excluded.customer_name,
			customer_email = excluded.customer_email,
			customer_phone = excluded.customer_phone,
			memo = excluded.memo,
			final_sale_amount_jpy = excluded.final_sale_amount_jpy,
			closing_date = excluded.closing_date
	`
	_, err := db.ExecContext(ctx, query,
		d.ID, d.CreatedAt.UTC().Format(time.RFC3339), d.Locked, d.Status,
		d.ConnectorID, d.ProductID,
		d.CustomerCompanyName, d.CustomerName, d.CustomerEmail, d.CustomerPhone,
		d.Memo, d.Source, d.FinalSaleAmountJPY, closingDate,
	)
	return err
}

func (s *Store) GetDeal(ctx context.Context, id string) (*commission.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getDeal(ctx, s.db, id)
}

const dealColumns = `id, created_at, locked, status, connector_id, product_id,
	customer_company_name, customer_name, customer_email, customer_phone,
	memo, source, final_sale_amount_jpy, closing_date`

func getDeal(ctx context.Context, db dbtx, id string) (*commission.Deal, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+dealColumns+" FROM deals WHERE id = ?", id)

	d, err := scanDeal(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return d, nil
}

func (s *Store) ListDeals(ctx context.Context) ([]commission.Deal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listDeals(ctx, s.db)
}

func listDeals(ctx context.Context, db dbtx) ([]commission.Deal, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+dealColumns+" FROM deals ORDER BY created_at DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var deals []commission.Deal
	for rows.Next() {
		d, err := scanDeal(rows.Scan)
		if err != nil {
			return nil, err
		}
		deals = append(deals, *d)
	}
	return deals, rows.Err()
}

func scanDeal(scan func(dest ...any) error) (*commission.Deal, error) {
	var d commission.Deal
	var createdAt string
	var closingDate sql.NullString

	err := scan(&d.ID, &createdAt, &d.Locked, &d.Status, &d.ConnectorID, &d.ProductID,
		&d.CustomerCompanyName, &d.CustomerName, &d.CustomerEmail, &d.CustomerPhone,
		&d.Memo, &d.Source, &d.FinalSaleAmountJPY, &closingDate)
	if err != nil {
		return nil, err
	}

	if d.CreatedAt, err = parseTime("deals.created_at", createdAt); err != nil {
		return nil, err
	}
	if closingDate.Valid {
		t, err := parseTime("deals.closing_date", closingDate.String)
		if err != nil {
			return nil, err
		}
		d.ClosingDate = &t
	}
	return &d, nil
}

// =============================================================================
// TRANSACTIONS AND ALLOCATIONS
// =============================================================================

func (s *Store) SaveTransaction(ctx context.Context, t commission.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveTransaction(ctx, s.db, t)
}

func saveTransaction(ctx context.Context, db dbtx, t commission.Transaction) error {
	productJSON, err := json.Marshal(t.Product)
	if err != nil {
		return fmt.Errorf("marshal product snapshot: %w", err)
	}

	query := `
		INSERT INTO transactions
		(id, deal_id, created_at, closing_date, product_json, connector_id, agency_id,
		 sale_amount_jpy, base_amount_jpy, overall_rate, connector_rate,
		 agency_reward_jpy, connector_reward_jpy, platform_share_jpy)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = db.ExecContext(ctx, query,
		t.ID, t.DealID,
		t.CreatedAt.UTC().Format(time.RFC3339),
		t.ClosingDate.UTC().Format(time.RFC3339),
		string(productJSON), t.ConnectorID, t.AgencyID,
		t.SaleAmountJPY, t.BaseAmountJPY,
		t.RatesUsed.OverallRate.String(), t.RatesUsed.ConnectorRate.String(),
		t.AgencyRewardJPY, t.ConnectorRewardJPY, t.PlatformShareJPY,
	)
	if err != nil {
		return fmt.Errorf("failed to insert transaction: %w", err)
	}

	for i, a := range t.Allocations {
		_, err := db.ExecContext(ctx, `
			INSERT INTO allocations
			(id, transaction_id, position, kind, label, amount_jpy,
			 user_id, user_role, rate, base_amount_jpy, status, payout_request_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			a.ID, t.ID, i, a.Kind, a.Label, a.AmountJPY,
			a.UserID, a.UserRole, a.Rate.String(), a.BaseAmountJPY,
			a.Status, a.PayoutRequestID,
		)
		if err != nil {
			return fmt.Errorf("failed to insert allocation: %w", err)
		}
	}
	return nil
}

const transactionColumns = `id, deal_id, created_at, closing_date, product_json,
	connector_id, agency_id, sale_amount_jpy, base_amount_jpy,
	overall_rate, connector_rate, agency_reward_jpy, connector_reward_jpy, platform_share_jpy`

func (s *Store) GetTransaction(ctx context.Context, id string) (*commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransaction(ctx, s.db, id)
}

func getTransaction(ctx context.Context, db dbtx, id string) (*commission.Transaction, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE id = ?", id)
	return loadTransaction(ctx, db, row.Scan)
}

func (s *Store) GetTransactionByDeal(ctx context.Context, dealID string) (*commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getTransactionByDeal(ctx, s.db, dealID)
}

func getTransactionByDeal(ctx context.Context, db dbtx, dealID string) (*commission.Transaction, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions WHERE deal_id = ?", dealID)
	return loadTransaction(ctx, db, row.Scan)
}

func (s *Store) ListTransactions(ctx context.Context) ([]commission.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listTransactions(ctx, s.db)
}

func listTransactions(ctx context.Context, db dbtx) ([]commission.Transaction, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+transactionColumns+" FROM transactions ORDER BY created_at DESC, id")
	if err != nil {
		return nil, err
	}

	var txs []commission.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows.Scan)
		if err != nil {
			rows.Close()
			return nil, err
		}
		txs = append(txs, *t)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	// Allocations are attached after the transaction cursor closes;
	// SQLite dislikes interleaved statements on one connection.
	for i := range txs {
		allocations, err := listAllocationsByTransaction(ctx, db, txs[i].ID)
		if err != nil {
			return nil, err
		}
		txs[i].Allocations = allocations
	}
	return txs, nil
}

func loadTransaction(ctx context.Context, db dbtx, scan func(dest ...any) error) (*commission.Transaction, error) {
	t, err := scanTransaction(scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	allocations, err := listAllocationsByTransaction(ctx, db, t.ID)
	if err != nil {
		return nil, err
	}
	t.Allocations = allocations
	return t, nil
}

func scanTransaction(scan func(dest ...any) error) (*commission.Transaction, error) {
	var t commission.Transaction
	var createdAt, closingDate, productJSON, overallRate, connectorRate string

	err := scan(&t.ID, &t.DealID, &createdAt, &closingDate, &productJSON,
		&t.ConnectorID, &t.AgencyID, &t.SaleAmountJPY, &t.BaseAmountJPY,
		&overallRate, &connectorRate,
		&t.AgencyRewardJPY, &t.ConnectorRewardJPY, &t.PlatformShareJPY)
	if err != nil {
		return nil, err
	}

	if t.CreatedAt, err = parseTime("transactions.created_at", createdAt); err != nil {
		return nil, err
	}
	if t.ClosingDate, err = parseTime("transactions.closing_date", closingDate); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(productJSON), &t.Product); err != nil {
		return nil, fmt.Errorf("unmarshal product snapshot: %w", err)
	}
	if t.RatesUsed.OverallRate, err = parseDecimal("transactions.overall_rate", overallRate); err != nil {
		return nil, err
	}
	if t.RatesUsed.ConnectorRate, err = parseDecimal("transactions.connector_rate", connectorRate); err != nil {
		return nil, err
	}
	return &t, nil
}

const allocationColumns = `id, transaction_id, kind, label, amount_jpy,
	user_id, user_role, rate, base_amount_jpy, status, payout_request_id`

func listAllocationsByTransaction(ctx context.Context, db dbtx, txID string) ([]commission.Allocation, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+allocationColumns+" FROM allocations WHERE transaction_id = ? ORDER BY position",
		txID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []commission.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows.Scan)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, *a)
	}
	return allocations, rows.Err()
}

func (s *Store) ListAllocationsByUser(ctx context.Context, userID string) ([]commission.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listAllocationsByUser(ctx, s.db, userID)
}

func listAllocationsByUser(ctx context.Context, db dbtx, userID string) ([]commission.Allocation, error) {
	rows, err := db.QueryContext(ctx, `
		SELECT `+allocationColumns+` FROM allocations
		WHERE kind = ? AND user_id = ?
		ORDER BY transaction_id, position
	`, commission.KindUserReward, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var allocations []commission.Allocation
	for rows.Next() {
		a, err := scanAllocation(rows.Scan)
		if err != nil {
			return nil, err
		}
		allocations = append(allocations, *a)
	}
	return allocations, rows.Err()
}

func (s *Store) GetAllocation(ctx context.Context, id string) (*commission.Allocation, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getAllocation(ctx, s.db, id)
}

func getAllocation(ctx context.Context, db dbtx, id string) (*commission.Allocation, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+allocationColumns+" FROM allocations WHERE id = ?", id)

	a, err := scanAllocation(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) UpdateAllocationStatus(ctx context.Context, allocationID string, status commission.AllocationStatus, payoutRequestID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return updateAllocationStatus(ctx, s.db, allocationID, status, payoutRequestID)
}

func updateAllocationStatus(ctx context.Context, db dbtx, allocationID string, status commission.AllocationStatus, payoutRequestID string) error {
	res, err := db.ExecContext(ctx,
		"UPDATE allocations SET status = ?, payout_request_id = ? WHERE id = ?",
		status, payoutRequestID, allocationID)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("allocation %q: %w", allocationID, commission.ErrNotFound)
	}
	return nil
}

func scanAllocation(scan func(dest ...any) error) (*commission.Allocation, error) {
	var a commission.Allocation
	var rate string

	err := scan(&a.ID, &a.TransactionID, &a.Kind, &a.Label, &a.AmountJPY,
		&a.UserID, &a.UserRole, &rate, &a.BaseAmountJPY, &a.Status, &a.PayoutRequestID)
	if err != nil {
		return nil, err
	}

	if a.Rate, err = parseDecimal("allocations.rate", rate); err != nil {
		return nil, err
	}
	return &a, nil
}

// =============================================================================
// PAYOUT REQUESTS
// =============================================================================

func (s *Store) SavePayoutRequest(ctx context.Context, pr commission.PayoutRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return savePayoutRequest(ctx, s.db, pr)
}

func savePayoutRequest(ctx context.Context, db dbtx, pr commission.PayoutRequest) error {
	allocationIDs, err := json.Marshal(pr.AllocationIDs)
	if err != nil {
		return fmt.Errorf("marshal allocation ids: %w", err)
	}

	var processedAt *string
	if pr.ProcessedAt != nil {
		v := pr.ProcessedAt.UTC().Format(time.RFC3339)
		processedAt = &v
	}

	query := `
		INSERT INTO payout_requests
		(id, user_id, requested_at, amount_jpy, status, allocation_ids_json, processed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			processed_at = excluded.processed_at
	`
	_, err = db.ExecContext(ctx, query,
		pr.ID, pr.UserID, pr.RequestedAt.UTC().Format(time.RFC3339),
		pr.AmountJPY, pr.Status, string(allocationIDs), processedAt,
	)
	return err
}

const payoutColumns = `id, user_id, requested_at, amount_jpy, status, allocation_ids_json, processed_at`

func (s *Store) GetPayoutRequest(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getPayoutRequest(ctx, s.db, id)
}

func getPayoutRequest(ctx context.Context, db dbtx, id string) (*commission.PayoutRequest, error) {
	row := db.QueryRowContext(ctx,
		"SELECT "+payoutColumns+" FROM payout_requests WHERE id = ?", id)

	pr, err := scanPayoutRequest(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return pr, nil
}

func (s *Store) ListPayoutRequests(ctx context.Context) ([]commission.PayoutRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listPayoutRequests(ctx, s.db)
}

func listPayoutRequests(ctx context.Context, db dbtx) ([]commission.PayoutRequest, error) {
	rows, err := db.QueryContext(ctx,
		"SELECT "+payoutColumns+" FROM payout_requests ORDER BY requested_at DESC, id")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var requests []commission.PayoutRequest
	for rows.Next() {
		pr, err := scanPayoutRequest(rows.Scan)
		if err != nil {
			return nil, err
		}
		requests = append(requests, *pr)
	}
	return requests, rows.Err()
}

func scanPayoutRequest(scan func(dest ...any) error) (*commission.PayoutRequest, error) {
	var pr commission.PayoutRequest
	var requestedAt, allocationIDs string
	var processedAt sql.NullString

	err := scan(&pr.ID, &pr.UserID, &requestedAt, &pr.AmountJPY, &pr.Status,
		&allocationIDs, &processedAt)
	if err != nil {
		return nil, err
	}

	if pr.RequestedAt, err = parseTime("payout_requests.requested_at", requestedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(allocationIDs), &pr.AllocationIDs); err != nil {
		return nil, fmt.Errorf("unmarshal allocation ids: %w", err)
	}
	if processedAt.Valid {
		t, err := parseTime("payout_requests.processed_at", processedAt.String)
		if err != nil {
			return nil, err
		}
		pr.ProcessedAt = &t
	}
	return &pr, nil
}

// =============================================================================
// SETTINGS
// =============================================================================

func (s *Store) GetSettings(ctx context.Context) (*commission.Settings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getSettings(ctx, s.db)
}

func getSettings(ctx context.Context, db dbtx) (*commission.Settings, error) {
	var settings commission.Settings
	var overallRate, connectorRate string

	err := db.QueryRowContext(ctx,
		"SELECT min_payout_jpy, overall_rate, connector_rate FROM system_settings WHERE id = 1",
	).Scan(&settings.MinPayoutJPY, &overallRate, &connectorRate)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	if settings.Rates.OverallRate, err = parseDecimal("system_settings.overall_rate", overallRate); err != nil {
		return nil, err
	}
	if settings.Rates.ConnectorRate, err = parseDecimal("system_settings.connector_rate", connectorRate); err != nil {
		return nil, err
	}
	return &settings, nil
}

func (s *Store) SaveSettings(ctx context.Context, settings commission.Settings) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return saveSettings(ctx, s.db, settings)
}

func saveSettings(ctx context.Context, db dbtx, settings commission.Settings) error {
	query := `
		INSERT INTO system_settings (id, min_payout_jpy, overall_rate, connector_rate)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			min_payout_jpy = excluded.min_payout_jpy,
			overall_rate = excluded.overall_rate,
			connector_rate = excluded.connector_rate
	`
	_, err := db.ExecContext(ctx, query,
		settings.MinPayoutJPY,
		settings.Rates.OverallRate.String(),
		settings.Rates.ConnectorRate.String(),
	)
	return err
}

// =============================================================================
// OPERATION LOG
// =============================================================================

func (s *Store) AppendLog(ctx context.Context, entry commission.OperationLog) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendLog(ctx, s.db, entry)
}

func appendLog(ctx context.Context, db dbtx, entry commission.OperationLog) error {
	_, err := db.ExecContext(ctx, `
		INSERT INTO operation_logs (id, at, actor_id, action, detail, related_id)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		entry.ID, entry.At.UTC().Format(time.RFC3339),
		entry.ActorID, entry.Action, entry.Detail, entry.RelatedID,
	)
	return err
}

func (s *Store) ListLogs(ctx context.Context, limit int) ([]commission.OperationLog, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listLogs(ctx, s.db, limit)
}

func listLogs(ctx context.Context, db dbtx, limit int) ([]commission.OperationLog, error) {
	if limit <= 0 {
		limit = 100
	}

	rows, err := db.QueryContext(ctx, `
		SELECT id, at, actor_id, action, detail, related_id
		FROM operation_logs
		ORDER BY seq DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var logs []commission.OperationLog
	for rows.Next() {
		var entry commission.OperationLog
		var at string
		if err := rows.Scan(&entry.ID, &at, &entry.ActorID, &entry.Action,
			&entry.Detail, &entry.RelatedID); err != nil {
			return nil, err
		}
		if entry.At, err = parseTime("operation_logs.at", at); err != nil {
			return nil, err
		}
		logs = append(logs, entry)
	}
	return logs, rows.Err()
}

// =============================================================================
// TRANSACTIONAL STORE (commission.TxStore interface)
// =============================================================================

// WithTx executes fn within one database transaction. The store write
// lock is held for the whole unit.
func (s *Store) WithTx(ctx context.Context, fn func(store commission.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(&txStore{tx: sqlTx}); err != nil {
		return err
	}
	return sqlTx.Commit()
}

// txStore routes every Store call through one *sql.Tx.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) SaveUser(ctx context.Context, u commission.User) error {
	return saveUser(ctx, ts.tx, u)
}

func (ts *txStore) GetUser(ctx context.Context, id string) (*commission.User, error) {
	return getUser(ctx, ts.tx, id)
}

func (ts *txStore) ListUsers(ctx context.Context) ([]commission.User, error) {
	return listUsers(ctx, ts.tx)
}

func (ts *txStore) SaveProduct(ctx context.Context, p commission.Product) error {
	return saveProduct(ctx, ts.tx, p)
}

func (ts *txStore) GetProduct(ctx context.Context, id string) (*commission.Product, error) {
	return getProduct(ctx, ts.tx, id)
}

func (ts *txStore) ListProducts(ctx context.Context) ([]commission.Product, error) {
	return listProducts(ctx, ts.tx)
}

func (ts *txStore) SaveDeal(ctx context.Context, d commission.Deal) error {
	return saveDeal(ctx, ts.tx, d)
}

func (ts *txStore) GetDeal(ctx context.Context, id string) (*commission.Deal, error) {
	return getDeal(ctx, ts.tx, id)
}

func (ts *txStore) ListDeals(ctx context.Context) ([]commission.Deal, error) {
	return listDeals(ctx, ts.tx)
}

func (ts *txStore) SaveTransaction(ctx context.Context, t commission.Transaction) error {
	return saveTransaction(ctx, ts.tx, t)
}

func (ts *txStore) GetTransaction(ctx context.Context, id string) (*commission.Transaction, error) {
	return getTransaction(ctx, ts.tx, id)
}

func (ts *txStore) GetTransactionByDeal(ctx context.Context, dealID string) (*commission.Transaction, error) {
	return getTransactionByDeal(ctx, ts.tx, dealID)
}

func (ts *txStore) ListTransactions(ctx context.Context) ([]commission.Transaction, error) {
	return listTransactions(ctx, ts.tx)
}

func (ts *txStore) ListAllocationsByUser(ctx context.Context, userID string) ([]commission.Allocation, error) {
	return listAllocationsByUser(ctx, ts.tx, userID)
}

func (ts *txStore) GetAllocation(ctx context.Context, id string) (*commission.Allocation, error) {
	return getAllocation(ctx, ts.tx, id)
}

func (ts *txStore) UpdateAllocationStatus(ctx context.Context, allocationID string, status commission.AllocationStatus, payoutRequestID string) error {
	return updateAllocationStatus(ctx, ts.tx, allocationID, status, payoutRequestID)
}

func (ts *txStore) SavePayoutRequest(ctx context.Context, pr commission.PayoutRequest) error {
	return savePayoutRequest(ctx, ts.tx, pr)
}

func (ts *txStore) GetPayoutRequest(ctx context.Context, id string) (*commission.PayoutRequest, error) {
	return getPayoutRequest(ctx, ts.tx, id)
}

func (ts *txStore) ListPayoutRequests(ctx context.Context) ([]commission.PayoutRequest, error) {
	return listPayoutRequests(ctx, ts.tx)
}

func (ts *txStore) GetSettings(ctx context.Context) (*commission.Settings, error) {
	return getSettings(ctx, ts.tx)
}

func (ts *txStore) SaveSettings(ctx context.Context, settings commission.Settings) error {
	return saveSettings(ctx, ts.tx, settings)
}

func (ts *txStore) AppendLog(ctx context.Context, entry commission.OperationLog) error {
	return appendLog(ctx, ts.tx, entry)
}

func (ts *txStore) ListLogs(ctx context.Context, limit int) ([]commission.OperationLog, error) {
	return listLogs(ctx, ts.tx, limit)
}
