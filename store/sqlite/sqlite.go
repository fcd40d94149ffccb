/*
Package sqlite provides a SQLite-backed implementation of the points stores.

PURPOSE:
  Implements points.TxStore, points.CardStore and points.SlugStore plus
  the CRUD used by the HTTP layer (businesses, items, clients, users).

INTERFACES IMPLEMENTED:
  points.Store:     reads, balance write, entry append/list
  points.TxStore:   WithTx for the engine's atomic unit of work
  points.CardStore: card id uniqueness for the allocator
  points.SlugStore: slug uniqueness for businesses

APPEND-ONLY ENFORCEMENT:
  - No UpdateEntry or DeleteEntry method exists
  - A trigger aborts any UPDATE of ledger columns on transactions
    (item_id may still be nulled when an item is deleted)
  - Rows are removed only through the business cascade

KEY TABLES:
  businesses:   tenant root, unique name and slug
  clients:      unique (business_id, card_id)
  items:        earn/redeem catalog, points >= 1
  transactions: immutable ledger, CHECK(after = before + points)
  users:        operators, optionally scoped to a business

INDEXES:
  - idx_transactions_client_created:   client history (hot path)
  - idx_transactions_business_created: business history and stats
  - idx_clients_business_card:         card uniqueness per business

CONCURRENCY:
  One connection and a sync.RWMutex. WithTx holds the write lock for the
  whole closure and opens the transaction with BEGIN IMMEDIATE, so a
  balance read-modify-write is never interleaved with another writer.

USAGE:
  store, err := sqlite.New("./data/loyalty.db")
  if err != nil {
      log.Fatal(err)
  }
  defer store.Close()

  engine := points.NewEngine(store, logger)

SEE ALSO:
  - points/store.go: interface definitions
  - points/store/memory.go: in-memory implementation for tests
*/
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-sqlite3"
	"github.com/warp/loyalty-engine/points"
)

// Store implements all storage interfaces using SQLite.
type Store struct {
	db *sql.DB
	mu sync.RWMutex
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// New creates a new SQLite store with the given database path.
// Use ":memory:" for an in-memory database.
func New(dbPath string) (*Store, error) {
	dsn := dbPath + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	if dbPath != ":memory:" {
		dsn += "&_journal_mode=WAL"
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and serializes writers.
	db.SetMaxOpenConns(1)

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

// Ping checks the database connection.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// migrate creates the database schema.
func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS businesses (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		slug TEXT NOT NULL,
		allow_negative_points INTEGER NOT NULL DEFAULT 0,
		activation_code_hash TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_businesses_name
		ON businesses(name COLLATE NOCASE);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_businesses_slug
		ON businesses(slug);

	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		email TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		role TEXT NOT NULL CHECK (role IN ('admin', 'business')),
		business_id TEXT REFERENCES businesses(id) ON DELETE CASCADE,
		created_at TEXT NOT NULL
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_users_email
		ON users(email COLLATE NOCASE);
	CREATE INDEX IF NOT EXISTS idx_users_business
		ON users(business_id);

	CREATE TABLE IF NOT EXISTS clients (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		card_id TEXT NOT NULL,
		name TEXT NOT NULL DEFAULT '',
		phone TEXT NOT NULL DEFAULT '',
		email TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0,
		active INTEGER NOT NULL DEFAULT 0,
		metadata_json TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	-- Card ids are unique per business only, case-insensitively.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_clients_business_card
		ON clients(business_id, card_id COLLATE NOCASE);

	CREATE TABLE IF NOT EXISTS items (
		id TEXT PRIMARY KEY,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		name TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL CHECK (points >= 1),
		kind TEXT NOT NULL CHECK (kind IN ('earn', 'redeem')),
		visible INTEGER NOT NULL DEFAULT 1,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_items_business
		ON items(business_id);

	-- Transactions (append-only ledger)
	CREATE TABLE IF NOT EXISTS transactions (
		id TEXT PRIMARY KEY,
		client_id TEXT NOT NULL REFERENCES clients(id) ON DELETE CASCADE,
		business_id TEXT NOT NULL REFERENCES businesses(id) ON DELETE CASCADE,
		item_id TEXT REFERENCES items(id) ON DELETE SET NULL,
		points INTEGER NOT NULL CHECK (points <> 0),
		before_points INTEGER NOT NULL,
		after_points INTEGER NOT NULL,
		actor_id TEXT NOT NULL DEFAULT '',
		note TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL,
		CHECK (after_points = before_points + points)
	);

	CREATE INDEX IF NOT EXISTS idx_transactions_client_created
		ON transactions(client_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_business_created
		ON transactions(business_id, created_at DESC);
	CREATE INDEX IF NOT EXISTS idx_transactions_item
		ON transactions(item_id) WHERE item_id IS NOT NULL;

	CREATE TRIGGER IF NOT EXISTS trg_transactions_append_only
		BEFORE UPDATE OF id, client_id, business_id, points, before_points,
			after_points, actor_id, note, created_at
		ON transactions
	BEGIN
		SELECT RAISE(ABORT, 'transactions are append-only');
	END;
	`

	_, err := s.db.Exec(schema)
	return err
}

// =============================================================================
// TRANSACTIONAL STORE (points.TxStore interface)
// =============================================================================

// WithTx executes a function within a database transaction.
func (s *Store) WithTx(ctx context.Context, fn func(points.Store) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(tx *sql.Tx) error {
		return fn(&txStore{tx: tx})
	})
}

func (s *Store) withTxLocked(ctx context.Context, fn func(*sql.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer sqlTx.Rollback()

	if err := fn(sqlTx); err != nil {
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// txStore is the points.Store handed to WithTx callbacks.
// Every call runs on the open transaction; the parent lock is held.
type txStore struct {
	tx *sql.Tx
}

func (ts *txStore) GetBusiness(ctx context.Context, id points.BusinessID) (*points.Business, error) {
	return getBusiness(ctx, ts.tx, "id = ?", id)
}

func (ts *txStore) GetClient(ctx context.Context, id points.ClientID) (*points.Client, error) {
	return getClient(ctx, ts.tx, "id = ?", id)
}

func (ts *txStore) FindClientByCard(ctx context.Context, businessID points.BusinessID, cardID string) (*points.Client, error) {
	return getClient(ctx, ts.tx, "business_id = ? AND card_id = ? COLLATE NOCASE", businessID, cardID)
}

func (ts *txStore) GetItem(ctx context.Context, id points.ItemID) (*points.Item, error) {
	return getItem(ctx, ts.tx, id)
}

func (ts *txStore) GetEntry(ctx context.Context, id points.EntryID) (*points.Entry, error) {
	return getEntry(ctx, ts.tx, id)
}

func (ts *txStore) SetClientPoints(ctx context.Context, id points.ClientID, balance int64) error {
	return setClientPoints(ctx, ts.tx, id, balance)
}

func (ts *txStore) AppendEntry(ctx context.Context, entry points.Entry) error {
	return appendEntry(ctx, ts.tx, entry)
}

func (ts *txStore) ListEntries(ctx context.Context, filter points.EntryFilter, page points.Page) ([]points.Entry, int, error) {
	return listEntries(ctx, ts.tx, filter, page)
}

func (ts *txStore) LatestEntry(ctx context.Context, clientID points.ClientID) (*points.Entry, error) {
	return latestEntry(ctx, ts.tx, clientID)
}

// =============================================================================
// POINTS STORE (points.Store interface, outside a transaction)
// =============================================================================

func (s *Store) GetBusiness(ctx context.Context, id points.BusinessID) (*points.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBusiness(ctx, s.db, "id = ?", id)
}

func (s *Store) GetClient(ctx context.Context, id points.ClientID) (*points.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClient(ctx, s.db, "id = ?", id)
}

func (s *Store) FindClientByCard(ctx context.Context, businessID points.BusinessID, cardID string) (*points.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getClient(ctx, s.db, "business_id = ? AND card_id = ? COLLATE NOCASE", businessID, cardID)
}

func (s *Store) GetItem(ctx context.Context, id points.ItemID) (*points.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getItem(ctx, s.db, id)
}

func (s *Store) GetEntry(ctx context.Context, id points.EntryID) (*points.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getEntry(ctx, s.db, id)
}

// SetClientPoints writes a balance in its own transaction.
// The engine never uses this path; it writes through WithTx.
func (s *Store) SetClientPoints(ctx context.Context, id points.ClientID, balance int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return setClientPoints(ctx, s.db, id, balance)
}

func (s *Store) AppendEntry(ctx context.Context, entry points.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return appendEntry(ctx, s.db, entry)
}

func (s *Store) ListEntries(ctx context.Context, filter points.EntryFilter, page points.Page) ([]points.Entry, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return listEntries(ctx, s.db, filter, page)
}

func (s *Store) LatestEntry(ctx context.Context, clientID points.ClientID) (*points.Entry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return latestEntry(ctx, s.db, clientID)
}

// CardIDExists implements points.CardStore.
func (s *Store) CardIDExists(ctx context.Context, businessID points.BusinessID, cardID string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM clients WHERE business_id = ? AND card_id = ? COLLATE NOCASE",
		businessID, cardID,
	).Scan(&count)
	return count > 0, err
}

// SlugExists implements points.SlugStore.
func (s *Store) SlugExists(ctx context.Context, slug string, exclude points.BusinessID) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var count int
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM businesses WHERE slug = ? AND id <> ?",
		slug, exclude,
	).Scan(&count)
	return count > 0, err
}

// =============================================================================
// BUSINESS STORE
// =============================================================================

const businessColumns = `id, name, slug, allow_negative_points, activation_code_hash, created_at, updated_at`

// CreateBusiness inserts a business.
func (s *Store) CreateBusiness(ctx context.Context, b points.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO businesses (`+businessColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.Name, b.Slug, b.AllowNegativePoints, b.ActivationCodeHash,
		formatTime(b.CreatedAt), formatTime(b.UpdatedAt),
	)
	return translateError(err, "failed to create business")
}

// UpdateBusiness overwrites the mutable business fields.
func (s *Store) UpdateBusiness(ctx context.Context, b points.Business) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE businesses
		SET name = ?, slug = ?, allow_negative_points = ?, activation_code_hash = ?, updated_at = ?
		WHERE id = ?`,
		b.Name, b.Slug, b.AllowNegativePoints, b.ActivationCodeHash, formatTime(b.UpdatedAt), b.ID,
	)
	if err != nil {
		return translateError(err, "failed to update business")
	}
	return requireRow(res, "business", string(b.ID))
}

// GetBusinessBySlug retrieves a business by its public slug.
func (s *Store) GetBusinessBySlug(ctx context.Context, slug string) (*points.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return getBusiness(ctx, s.db, "slug = ?", slug)
}

// ListBusinesses returns all businesses ordered by name.
func (s *Store) ListBusinesses(ctx context.Context) ([]points.Business, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+businessColumns+" FROM businesses ORDER BY name COLLATE NOCASE",
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list businesses: %w", err)
	}
	defer rows.Close()

	var businesses []points.Business
	for rows.Next() {
		b, err := scanBusiness(rows)
		if err != nil {
			return nil, err
		}
		businesses = append(businesses, b)
	}
	return businesses, rows.Err()
}

// DeleteBusiness removes a business with its clients, items, ledger and users.
// All-or-nothing: the deletes run in one transaction.
func (s *Store) DeleteBusiness(ctx context.Context, id points.BusinessID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(tx *sql.Tx) error {
		statements := []string{
			"DELETE FROM transactions WHERE business_id = ?",
			"DELETE FROM clients WHERE business_id = ?",
			"DELETE FROM items WHERE business_id = ?",
			"DELETE FROM users WHERE business_id = ?",
		}
		for _, stmt := range statements {
			if _, err := tx.ExecContext(ctx, stmt, id); err != nil {
				return fmt.Errorf("failed to cascade business delete: %w", err)
			}
		}
		res, err := tx.ExecContext(ctx, "DELETE FROM businesses WHERE id = ?", id)
		if err != nil {
			return fmt.Errorf("failed to delete business: %w", err)
		}
		return requireRow(res, "business", string(id))
	})
}

// Stats aggregates the dashboard numbers of one business.
func (s *Store) Stats(ctx context.Context, businessID points.BusinessID) (points.StatsInput, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var in points.StatsInput
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*), COALESCE(SUM(active), 0), COALESCE(SUM(points), 0)
		FROM clients WHERE business_id = ?`,
		businessID,
	).Scan(&in.TotalClients, &in.ActiveClients, &in.Outstanding)
	if err != nil {
		return in, fmt.Errorf("failed to aggregate clients: %w", err)
	}

	err = s.db.QueryRowContext(ctx, `
		SELECT COUNT(*),
		       COALESCE(SUM(CASE WHEN points > 0 THEN points ELSE 0 END), 0),
		       COALESCE(SUM(CASE WHEN points < 0 THEN -points ELSE 0 END), 0)
		FROM transactions WHERE business_id = ?`,
		businessID,
	).Scan(&in.EntryCount, &in.PointsIssued, &in.PointsRedeemed)
	if err != nil {
		return in, fmt.Errorf("failed to aggregate transactions: %w", err)
	}
	return in, nil
}

func getBusiness(ctx context.Context, q querier, where string, args ...any) (*points.Business, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+businessColumns+" FROM businesses WHERE "+where, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query business: %w", err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	b, err := scanBusiness(rows)
	if err != nil {
		return nil, err
	}
	return &b, nil
}

func scanBusiness(rows *sql.Rows) (points.Business, error) {
	var (
		b                    points.Business
		createdAt, updatedAt string
	)
	err := rows.Scan(&b.ID, &b.Name, &b.Slug, &b.AllowNegativePoints, &b.ActivationCodeHash, &createdAt, &updatedAt)
	if err != nil {
		return b, fmt.Errorf("failed to scan business: %w", err)
	}
	b.CreatedAt = parseTime(createdAt)
	b.UpdatedAt = parseTime(updatedAt)
	return b, nil
}

// =============================================================================
// CLIENT STORE
// =============================================================================

const clientColumns = `id, business_id, card_id, name, phone, email, points, active, metadata_json, created_at, updated_at`

// CreateClient inserts a client. Returns points.ErrDuplicateCardID when the
// card id is taken within the business.
func (s *Store) CreateClient(ctx context.Context, c points.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return insertClient(ctx, s.db, c)
}

// CreateClients inserts clients atomically.
func (s *Store) CreateClients(ctx context.Context, clients []points.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(tx *sql.Tx) error {
		for _, c := range clients {
			if err := insertClient(ctx, tx, c); err != nil {
				return err
			}
		}
		return nil
	})
}

// UpdateClientProfile updates contact fields and metadata. Never the balance.
func (s *Store) UpdateClientProfile(ctx context.Context, c points.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	metadataJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE clients SET name = ?, phone = ?, email = ?, metadata_json = ?, updated_at = ?
		WHERE id = ?`,
		c.Name, c.Phone, c.Email, metadataJSON, formatTime(c.UpdatedAt), c.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update client: %w", err)
	}
	return requireRow(res, "client", string(c.ID))
}

// ActivateClient marks an inactive card as claimed and stores the holder's
// contact fields. Empty fields keep their current value.
func (s *Store) ActivateClient(ctx context.Context, id points.ClientID, name, phone, email string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(tx *sql.Tx) error {
		client, err := getClient(ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		if client == nil {
			return &points.NotFoundError{Kind: "client", ID: string(id)}
		}
		if client.Active {
			return points.ErrAlreadyActive
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE clients
			SET active = 1,
			    name = COALESCE(NULLIF(?, ''), name),
			    phone = COALESCE(NULLIF(?, ''), phone),
			    email = COALESCE(NULLIF(?, ''), email),
			    updated_at = ?
			WHERE id = ?`,
			name, phone, email, formatTime(at), id,
		)
		if err != nil {
			return fmt.Errorf("failed to activate client: %w", err)
		}
		return nil
	})
}

// ListClients returns a page of a business's clients, optionally filtered by
// a search term matched against name, card id, phone and email.
func (s *Store) ListClients(ctx context.Context, businessID points.BusinessID, search string, page points.Page) ([]points.Client, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	page = page.Normalize()
	where := "business_id = ?"
	args := []any{businessID}
	if search = strings.TrimSpace(search); search != "" {
		like := "%" + search + "%"
		where += " AND (name LIKE ? OR card_id LIKE ? OR phone LIKE ? OR email LIKE ?)"
		args = append(args, like, like, like, like)
	}

	var total int
	if err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM clients WHERE "+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count clients: %w", err)
	}

	rows, err := s.db.QueryContext(ctx,
		"SELECT "+clientColumns+" FROM clients WHERE "+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()

	clients, err := scanClients(rows)
	return clients, total, err
}

// AllClients returns every client of every business. Used by the ledger audit.
func (s *Store) AllClients(ctx context.Context) ([]points.Client, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients ORDER BY business_id, rowid")
	if err != nil {
		return nil, fmt.Errorf("failed to list clients: %w", err)
	}
	defer rows.Close()
	return scanClients(rows)
}

func insertClient(ctx context.Context, q querier, c points.Client) error {
	metadataJSON, err := marshalMetadata(c.Metadata)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		INSERT INTO clients (`+clientColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.BusinessID, c.CardID, c.Name, c.Phone, c.Email, c.Points, c.Active,
		metadataJSON, formatTime(c.CreatedAt), formatTime(c.UpdatedAt),
	)
	return translateError(err, "failed to create client")
}

func getClient(ctx context.Context, q querier, where string, args ...any) (*points.Client, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+clientColumns+" FROM clients WHERE "+where+" LIMIT 1", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query client: %w", err)
	}
	defer rows.Close()

	clients, err := scanClients(rows)
	if err != nil || len(clients) == 0 {
		return nil, err
	}
	return &clients[0], nil
}

func scanClients(rows *sql.Rows) ([]points.Client, error) {
	var clients []points.Client
	for rows.Next() {
		var (
			c                    points.Client
			metadataJSON         string
			createdAt, updatedAt string
		)
		err := rows.Scan(&c.ID, &c.BusinessID, &c.CardID, &c.Name, &c.Phone, &c.Email,
			&c.Points, &c.Active, &metadataJSON, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if metadataJSON != "" {
			if err := json.Unmarshal([]byte(metadataJSON), &c.Metadata); err != nil {
				return nil, fmt.Errorf("failed to decode client metadata: %w", err)
			}
		}
		c.CreatedAt = parseTime(createdAt)
		c.UpdatedAt = parseTime(updatedAt)
		clients = append(clients, c)
	}
	return clients, rows.Err()
}

func setClientPoints(ctx context.Context, q querier, id points.ClientID, balance int64) error {
	res, err := q.ExecContext(ctx,
		"UPDATE clients SET points = ?, updated_at = ? WHERE id = ?",
		balance, formatTime(time.Now().UTC()), id,
	)
	if err != nil {
		return fmt.Errorf("failed to update balance: %w", err)
	}
	return requireRow(res, "client", string(id))
}

// =============================================================================
// ITEM STORE
// =============================================================================

const itemColumns = `id, business_id, name, description, points, kind, visible, created_at, updated_at`

// CreateItem inserts an item.
func (s *Store) CreateItem(ctx context.Context, i points.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO items (`+itemColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		i.ID, i.BusinessID, i.Name, i.Description, i.Points, i.Kind, i.Visible,
		formatTime(i.CreatedAt), formatTime(i.UpdatedAt),
	)
	return translateError(err, "failed to create item")
}

// UpdateItem overwrites the mutable item fields.
func (s *Store) UpdateItem(ctx context.Context, i points.Item) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
		UPDATE items SET name = ?, description = ?, points = ?, kind = ?, visible = ?, updated_at = ?
		WHERE id = ?`,
		i.Name, i.Description, i.Points, i.Kind, i.Visible, formatTime(i.UpdatedAt), i.ID,
	)
	if err != nil {
		return translateError(err, "failed to update item")
	}
	return requireRow(res, "item", string(i.ID))
}

// DeleteItem removes an item. Ledger entries keep their history with a
// NULL item reference.
func (s *Store) DeleteItem(ctx context.Context, id points.ItemID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, "DELETE FROM items WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete item: %w", err)
	}
	return requireRow(res, "item", string(id))
}

// ListItems returns a business's items, optionally only the visible ones.
func (s *Store) ListItems(ctx context.Context, businessID points.BusinessID, visibleOnly bool) ([]points.Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + itemColumns + " FROM items WHERE business_id = ?"
	if visibleOnly {
		query += " AND visible = 1"
	}
	query += " ORDER BY kind, points, name"

	rows, err := s.db.QueryContext(ctx, query, businessID)
	if err != nil {
		return nil, fmt.Errorf("failed to list items: %w", err)
	}
	defer rows.Close()
	return scanItems(rows)
}

func getItem(ctx context.Context, q querier, id points.ItemID) (*points.Item, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+itemColumns+" FROM items WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query item: %w", err)
	}
	defer rows.Close()

	items, err := scanItems(rows)
	if err != nil || len(items) == 0 {
		return nil, err
	}
	return &items[0], nil
}

func scanItems(rows *sql.Rows) ([]points.Item, error) {
	var items []points.Item
	for rows.Next() {
		var (
			i                    points.Item
			createdAt, updatedAt string
		)
		err := rows.Scan(&i.ID, &i.BusinessID, &i.Name, &i.Description, &i.Points, &i.Kind,
			&i.Visible, &createdAt, &updatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan item: %w", err)
		}
		i.CreatedAt = parseTime(createdAt)
		i.UpdatedAt = parseTime(updatedAt)
		items = append(items, i)
	}
	return items, rows.Err()
}

// =============================================================================
// LEDGER (transactions table)
// =============================================================================

const entryColumns = `id, client_id, business_id, item_id, points, before_points, after_points, actor_id, note, created_at`

func appendEntry(ctx context.Context, q querier, e points.Entry) error {
	var itemID sql.NullString
	if e.ItemID != nil {
		itemID = sql.NullString{String: string(*e.ItemID), Valid: true}
	}
	_, err := q.ExecContext(ctx, `
		INSERT INTO transactions (`+entryColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.ClientID, e.BusinessID, itemID, e.Points, e.BeforePoints, e.AfterPoints,
		e.ActorID, e.Note, formatTime(e.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to append transaction: %w", err)
	}
	return nil
}

func getEntry(ctx context.Context, q querier, id points.EntryID) (*points.Entry, error) {
	rows, err := q.QueryContext(ctx, "SELECT "+entryColumns+" FROM transactions WHERE id = ?", id)
	if err != nil {
		return nil, fmt.Errorf("failed to query transaction: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func listEntries(ctx context.Context, q querier, filter points.EntryFilter, page points.Page) ([]points.Entry, int, error) {
	page = page.Normalize()

	var (
		conds []string
		args  []any
	)
	if filter.ClientID != "" {
		conds = append(conds, "client_id = ?")
		args = append(args, filter.ClientID)
	}
	if filter.BusinessID != "" {
		conds = append(conds, "business_id = ?")
		args = append(args, filter.BusinessID)
	}
	if filter.ItemID != "" {
		conds = append(conds, "item_id = ?")
		args = append(args, filter.ItemID)
	}
	if filter.From != nil {
		conds = append(conds, "created_at >= ?")
		args = append(args, formatTime(*filter.From))
	}
	if filter.To != nil {
		conds = append(conds, "created_at <= ?")
		args = append(args, formatTime(*filter.To))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := q.QueryRowContext(ctx, "SELECT COUNT(*) FROM transactions"+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count transactions: %w", err)
	}

	// rowid breaks ties between entries created within the same instant.
	rows, err := q.QueryContext(ctx,
		"SELECT "+entryColumns+" FROM transactions"+where+" ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		append(args, page.Limit, page.Offset)...,
	)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to query transactions: %w", err)
	}
	defer rows.Close()

	entries, err := scanEntries(rows)
	return entries, total, err
}

func latestEntry(ctx context.Context, q querier, clientID points.ClientID) (*points.Entry, error) {
	entries, _, err := listEntries(ctx, q, points.EntryFilter{ClientID: clientID}, points.Page{Limit: 1})
	if err != nil || len(entries) == 0 {
		return nil, err
	}
	return &entries[0], nil
}

func scanEntries(rows *sql.Rows) ([]points.Entry, error) {
	var entries []points.Entry
	for rows.Next() {
		var (
			e         points.Entry
			itemID    sql.NullString
			createdAt string
		)
		err := rows.Scan(&e.ID, &e.ClientID, &e.BusinessID, &itemID, &e.Points,
			&e.BeforePoints, &e.AfterPoints, &e.ActorID, &e.Note, &createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan transaction: %w", err)
		}
		if itemID.Valid {
			id := points.ItemID(itemID.String)
			e.ItemID = &id
		}
		e.CreatedAt = parseTime(createdAt)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// =============================================================================
// USER STORE
// =============================================================================

const userColumns = `id, email, name, role, business_id, created_at`

// CreateUser inserts a user.
func (s *Store) CreateUser(ctx context.Context, u points.User) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var businessID sql.NullString
	if u.BusinessID != nil {
		businessID = sql.NullString{String: string(*u.BusinessID), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO users (`+userColumns+`) VALUES (?, ?, ?, ?, ?, ?)`,
		u.ID, u.Email, u.Name, u.Role, businessID, formatTime(u.CreatedAt),
	)
	return translateError(err, "failed to create user")
}

// ListUsers returns users, all of them when businessID is empty.
func (s *Store) ListUsers(ctx context.Context, businessID points.BusinessID) ([]points.User, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	query := "SELECT " + userColumns + " FROM users"
	var args []any
	if businessID != "" {
		query += " WHERE business_id = ?"
		args = append(args, businessID)
	}
	query += " ORDER BY email"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	defer rows.Close()

	var users []points.User
	for rows.Next() {
		var (
			u          points.User
			businessID sql.NullString
			createdAt  string
		)
		if err := rows.Scan(&u.ID, &u.Email, &u.Name, &u.Role, &businessID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan user: %w", err)
		}
		if businessID.Valid {
			id := points.BusinessID(businessID.String)
			u.BusinessID = &id
		}
		u.CreatedAt = parseTime(createdAt)
		users = append(users, u)
	}
	return users, rows.Err()
}

// =============================================================================
// ADMIN OPERATIONS
// =============================================================================

// Reset deletes all data. Only for development scenarios.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.withTxLocked(ctx, func(tx *sql.Tx) error {
		for _, table := range []string{"transactions", "clients", "items", "users", "businesses"} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+table); err != nil {
				return fmt.Errorf("failed to reset %s: %w", table, err)
			}
		}
		return nil
	})
}

// =============================================================================
// HELPERS
// =============================================================================

// timeLayout is fixed width so stored timestamps sort lexically in time order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

func formatTime(t time.Time) string {
	if t.IsZero() {
		t = time.Now()
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	t, _ := time.Parse(time.RFC3339Nano, s)
	return t
}

func marshalMetadata(m map[string]any) (string, error) {
	if m == nil {
		return "{}", nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return "", fmt.Errorf("failed to encode metadata: %w", err)
	}
	return string(b), nil
}

func requireRow(res sql.Result, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return &points.NotFoundError{Kind: kind, ID: id}
	}
	return nil
}

// translateError maps unique and foreign key violations to domain errors.
func translateError(err error, msg string) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique:
			text := sqliteErr.Error()
			switch {
			case strings.Contains(text, "clients.card_id"):
				return points.ErrDuplicateCardID
			case strings.Contains(text, "businesses.slug"):
				return points.ErrDuplicateSlug
			case strings.Contains(text, "businesses.name"):
				return points.ErrDuplicateName
			case strings.Contains(text, "users.email"):
				return points.ErrDuplicateEmail
			}
		case sqlite3.ErrConstraintForeignKey:
			return fmt.Errorf("%w: referenced business does not exist", points.ErrNotFound)
		case sqlite3.ErrConstraintCheck:
			return fmt.Errorf("%w: %s", points.ErrValidation, sqliteErr.Error())
		}
	}
	return fmt.Errorf("%s: %w", msg, err)
}
