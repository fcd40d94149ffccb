/*
store.go - Persistence interfaces used by the engine

PURPOSE:
  Defines the boundary between the points core and the database. The
  core only needs point reads, a balance write and the append-only
  entry log; CRUD for businesses, items and clients lives on the
  concrete stores (store/sqlite, points/store).

KEY INTERFACES:
  Store:     reads, SetClientPoints, AppendEntry, ListEntries
  TxStore:   Store + WithTx for atomic read-modify-write
  CardStore: card id uniqueness check for the allocator

APPEND-ONLY CONTRACT:
  There is no UpdateEntry or DeleteEntry. Entries disappear only with
  their business (cascade), which is outside this interface.

NOT FOUND:
  Getters return (nil, nil) when the record does not exist, like the
  rest of the stores in this repository. The engine turns that into
  ErrNotFound with context.

IMPLEMENTATIONS:
  - store/sqlite/sqlite.go: SQLite, production
  - points/store/memory.go: in-memory, tests and demos
*/
package points

import (
	"context"
	"time"
)

// =============================================================================
// STORE - reads plus the two writes the engine performs
// =============================================================================

type Store interface {
	GetBusiness(ctx context.Context, id BusinessID) (*Business, error)
	GetClient(ctx context.Context, id ClientID) (*Client, error)
	// FindClientByCard looks a card up within one business.
	FindClientByCard(ctx context.Context, businessID BusinessID, cardID string) (*Client, error)
	GetItem(ctx context.Context, id ItemID) (*Item, error)
	GetEntry(ctx context.Context, id EntryID) (*Entry, error)

	// SetClientPoints overwrites the authoritative balance.
	// Only the engine calls it, always inside WithTx.
	SetClientPoints(ctx context.Context, id ClientID, points int64) error

	// AppendEntry persists a ledger entry. The ONLY entry write.
	AppendEntry(ctx context.Context, entry Entry) error

	// ListEntries returns matching entries newest first and the total match count.
	ListEntries(ctx context.Context, filter EntryFilter, page Page) ([]Entry, int, error)

	// LatestEntry returns the client's most recent entry, or nil.
	LatestEntry(ctx context.Context, clientID ClientID) (*Entry, error)
}

// TxStore wraps Store with transaction support.
type TxStore interface {
	Store

	// WithTx executes fn within a transaction.
	// If fn returns error, every write made through the Store passed to fn
	// is rolled back. If fn returns nil, the transaction is committed.
	// Concurrent WithTx calls are serialized.
	WithTx(ctx context.Context, fn func(Store) error) error
}

// CardStore answers the allocator's uniqueness question.
type CardStore interface {
	CardIDExists(ctx context.Context, businessID BusinessID, cardID string) (bool, error)
}

// =============================================================================
// QUERY TYPES
// =============================================================================

// EntryFilter narrows ListEntries. Zero fields are ignored.
type EntryFilter struct {
	ClientID   ClientID
	BusinessID BusinessID
	ItemID     ItemID
	From       *time.Time // inclusive
	To         *time.Time // inclusive
}

// Matches reports whether e passes the filter. Used by the memory store.
func (f EntryFilter) Matches(e Entry) bool {
	if f.ClientID != "" && e.ClientID != f.ClientID {
		return false
	}
	if f.BusinessID != "" && e.BusinessID != f.BusinessID {
		return false
	}
	if f.ItemID != "" && (e.ItemID == nil || *e.ItemID != f.ItemID) {
		return false
	}
	if f.From != nil && e.CreatedAt.Before(*f.From) {
		return false
	}
	if f.To != nil && e.CreatedAt.After(*f.To) {
		return false
	}
	return true
}

const (
	DefaultPageLimit = 50
	MaxPageLimit     = 500
)

// Page is an offset/limit window.
type Page struct {
	Limit  int
	Offset int
}

// Normalize clamps the page to sane bounds.
func (p Page) Normalize() Page {
	if p.Limit <= 0 {
		p.Limit = DefaultPageLimit
	}
	if p.Limit > MaxPageLimit {
		p.Limit = MaxPageLimit
	}
	if p.Offset < 0 {
		p.Offset = 0
	}
	return p
}
