package points

import (
	"context"
	"fmt"
)

// Drift describes a client whose ledger does not explain its balance.
type Drift struct {
	ClientID   ClientID
	BusinessID BusinessID
	Balance    int64   // Client.Points
	LedgerTail int64   // AfterPoints replayed up to the failure, 0 when none
	EntryID    EntryID // first entry breaking the chain, if any
	Reason     string
}

const auditPageSize = 200

// AuditClient replays a client's entries oldest first and checks that every
// entry is consistent, each BeforePoints continues the previous AfterPoints,
// and the last AfterPoints equals the stored balance. It returns nil when the
// ledger explains the balance, and the number of entries inspected.
func AuditClient(ctx context.Context, store Store, client Client) (*Drift, int, error) {
	filter := EntryFilter{ClientID: client.ID}

	// Entries come newest first; collect then walk backwards.
	var all []Entry
	for offset := 0; ; offset += auditPageSize {
		page, total, err := store.ListEntries(ctx, filter, Page{Limit: auditPageSize, Offset: offset})
		if err != nil {
			return nil, 0, fmt.Errorf("list entries of %s: %w", client.ID, err)
		}
		all = append(all, page...)
		if len(page) == 0 || len(all) >= total {
			break
		}
	}

	drift := func(reason string, entryID EntryID, tail int64) *Drift {
		return &Drift{
			ClientID:   client.ID,
			BusinessID: client.BusinessID,
			Balance:    client.Points,
			LedgerTail: tail,
			EntryID:    entryID,
			Reason:     reason,
		}
	}

	var running int64
	for i := len(all) - 1; i >= 0; i-- {
		e := all[i]
		if !e.Consistent() {
			return drift("entry arithmetic", e.ID, running), len(all), nil
		}
		if e.BeforePoints != running {
			return drift("broken chain", e.ID, running), len(all), nil
		}
		running = e.AfterPoints
	}

	if running != client.Points {
		return drift("balance mismatch", "", running), len(all), nil
	}
	return nil, len(all), nil
}
