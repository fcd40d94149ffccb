/*
ledger.go - Append-only balance history

PURPOSE:
  The Ledger explains every balance. Each applied operation leaves one
  Entry with the balance immediately before and after it, so "why does
  this client have N points" is answered by reading entries newest first.

CRITICAL INVARIANTS:
  1. APPEND-ONLY: no Update, no Delete.
  2. CONSISTENT: AfterPoints == BeforePoints + Points, checked on Append.
  3. CHAINED: for a client, each entry's BeforePoints equals the previous
     entry's AfterPoints, and the last AfterPoints equals Client.Points.
     The engine guarantees this by appending inside the same transaction
     that writes the balance.

CORRECTIONS:
  Never edit an entry. Append a counter-entry (Engine.Reverse).

SEE ALSO:
  - engine.go: the only caller of Append in production
  - store.go: persistence interface
*/
package points

import "context"

// =============================================================================
// LEDGER
// =============================================================================

// Ledger is the read/append surface over balance history.
type Ledger interface {
	// Balance returns the client's authoritative current balance.
	Balance(ctx context.Context, clientID ClientID) (int64, error)

	// Append adds an entry. The entry must already carry a consistent
	// before/after snapshot; it is not re-derived here.
	Append(ctx context.Context, entry Entry) error

	// Entries lists entries newest first.
	Entries(ctx context.Context, filter EntryFilter, page Page) (EntryPage, error)
}

// EntryPage is one page of entries plus the total match count.
type EntryPage struct {
	Entries []Entry
	Total   int
	Limit   int
	Offset  int
}

// =============================================================================
// DEFAULT LEDGER - Implementation using Store
// =============================================================================

type DefaultLedger struct {
	Store Store
}

func NewLedger(store Store) *DefaultLedger {
	return &DefaultLedger{Store: store}
}

func (l *DefaultLedger) Balance(ctx context.Context, clientID ClientID) (int64, error) {
	client, err := l.Store.GetClient(ctx, clientID)
	if err != nil {
		return 0, err
	}
	if client == nil {
		return 0, notFound("client", string(clientID))
	}
	return client.Points, nil
}

func (l *DefaultLedger) Append(ctx context.Context, entry Entry) error {
	if entry.ClientID == "" || entry.BusinessID == "" {
		return validationf("entry requires client and business")
	}
	if entry.Points == 0 {
		return validationf("entry delta must be non-zero")
	}
	if !entry.Consistent() {
		return &InconsistentEntryError{
			Before: entry.BeforePoints,
			Delta:  entry.Points,
			After:  entry.AfterPoints,
		}
	}
	return l.Store.AppendEntry(ctx, entry)
}

func (l *DefaultLedger) Entries(ctx context.Context, filter EntryFilter, page Page) (EntryPage, error) {
	page = page.Normalize()
	entries, total, err := l.Store.ListEntries(ctx, filter, page)
	if err != nil {
		return EntryPage{}, err
	}
	if entries == nil {
		entries = []Entry{}
	}
	return EntryPage{
		Entries: entries,
		Total:   total,
		Limit:   page.Limit,
		Offset:  page.Offset,
	}, nil
}
