// Package store provides an in-memory points.TxStore.
package store

import (
	"context"
	"sort"
	"strings"
	"sync"

	"github.com/warp/loyalty-engine/points"
)

// =============================================================================
// MEMORY STORE - In-memory implementation (for testing/dev)
// =============================================================================

type Memory struct {
	mu         sync.RWMutex
	businesses map[points.BusinessID]points.Business
	clients    map[points.ClientID]points.Client
	items      map[points.ItemID]points.Item
	entries    []points.Entry // append order

	// AppendErr, when set, makes every AppendEntry fail. Used to exercise rollback.
	AppendErr error
}

func NewMemory() *Memory {
	return &Memory{
		businesses: make(map[points.BusinessID]points.Business),
		clients:    make(map[points.ClientID]points.Client),
		items:      make(map[points.ItemID]points.Item),
	}
}

// PutBusiness inserts or replaces a business.
func (m *Memory) PutBusiness(b points.Business) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.businesses[b.ID] = b
}

// PutClient inserts or replaces a client.
func (m *Memory) PutClient(c points.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, existing := range m.clients {
		if id != c.ID && existing.BusinessID == c.BusinessID && strings.EqualFold(existing.CardID, c.CardID) {
			return points.ErrDuplicateCardID
		}
	}
	m.clients[c.ID] = c
	return nil
}

// PutItem inserts or replaces an item.
func (m *Memory) PutItem(i points.Item) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[i.ID] = i
}

// DeleteBusiness removes a business and everything it owns.
func (m *Memory) DeleteBusiness(_ context.Context, id points.BusinessID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.businesses[id]; !ok {
		return &points.NotFoundError{Kind: "business", ID: string(id)}
	}
	delete(m.businesses, id)
	for cid, c := range m.clients {
		if c.BusinessID == id {
			delete(m.clients, cid)
		}
	}
	for iid, i := range m.items {
		if i.BusinessID == id {
			delete(m.items, iid)
		}
	}
	kept := m.entries[:0:0]
	for _, e := range m.entries {
		if e.BusinessID != id {
			kept = append(kept, e)
		}
	}
	m.entries = kept
	return nil
}

func (m *Memory) GetBusiness(_ context.Context, id points.BusinessID) (*points.Business, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getBusinessLocked(id), nil
}

func (m *Memory) GetClient(_ context.Context, id points.ClientID) (*points.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getClientLocked(id), nil
}

func (m *Memory) FindClientByCard(_ context.Context, businessID points.BusinessID, cardID string) (*points.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findClientByCardLocked(businessID, cardID), nil
}

func (m *Memory) GetItem(_ context.Context, id points.ItemID) (*points.Item, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getItemLocked(id), nil
}

func (m *Memory) GetEntry(_ context.Context, id points.EntryID) (*points.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.getEntryLocked(id), nil
}

func (m *Memory) SetClientPoints(_ context.Context, id points.ClientID, balance int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.setClientPointsLocked(id, balance)
}

func (m *Memory) AppendEntry(_ context.Context, entry points.Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.appendEntryLocked(entry)
}

func (m *Memory) ListEntries(_ context.Context, filter points.EntryFilter, page points.Page) ([]points.Entry, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	entries, total := m.listEntriesLocked(filter, page)
	return entries, total, nil
}

func (m *Memory) LatestEntry(_ context.Context, clientID points.ClientID) (*points.Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.latestEntryLocked(clientID), nil
}

func (m *Memory) CardIDExists(_ context.Context, businessID points.BusinessID, cardID string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.findClientByCardLocked(businessID, cardID) != nil, nil
}

func (m *Memory) SlugExists(_ context.Context, slug string, exclude points.BusinessID) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for id, b := range m.businesses {
		if id != exclude && b.Slug == slug {
			return true, nil
		}
	}
	return false, nil
}

// =============================================================================
// LOCKED HELPERS - caller holds mu
// =============================================================================

func (m *Memory) getBusinessLocked(id points.BusinessID) *points.Business {
	b, ok := m.businesses[id]
	if !ok {
		return nil
	}
	return &b
}

func (m *Memory) getClientLocked(id points.ClientID) *points.Client {
	c, ok := m.clients[id]
	if !ok {
		return nil
	}
	return &c
}

func (m *Memory) findClientByCardLocked(businessID points.BusinessID, cardID string) *points.Client {
	for _, c := range m.clients {
		if c.BusinessID == businessID && strings.EqualFold(c.CardID, cardID) {
			found := c
			return &found
		}
	}
	return nil
}

func (m *Memory) getItemLocked(id points.ItemID) *points.Item {
	i, ok := m.items[id]
	if !ok {
		return nil
	}
	return &i
}

func (m *Memory) getEntryLocked(id points.EntryID) *points.Entry {
	for _, e := range m.entries {
		if e.ID == id {
			found := e
			return &found
		}
	}
	return nil
}

func (m *Memory) setClientPointsLocked(id points.ClientID, balance int64) error {
	c, ok := m.clients[id]
	if !ok {
		return &points.NotFoundError{Kind: "client", ID: string(id)}
	}
	c.Points = balance
	m.clients[id] = c
	return nil
}

func (m *Memory) appendEntryLocked(entry points.Entry) error {
	if m.AppendErr != nil {
		return m.AppendErr
	}
	m.entries = append(m.entries, entry)
	return nil
}

func (m *Memory) listEntriesLocked(filter points.EntryFilter, page points.Page) ([]points.Entry, int) {
	page = page.Normalize()
	var matched []points.Entry
	// Newest first: reverse append order, stable on equal timestamps.
	for i := len(m.entries) - 1; i >= 0; i-- {
		if filter.Matches(m.entries[i]) {
			matched = append(matched, m.entries[i])
		}
	}
	sort.SliceStable(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	total := len(matched)
	if page.Offset >= total {
		return []points.Entry{}, total
	}
	end := page.Offset + page.Limit
	if end > total {
		end = total
	}
	return append([]points.Entry{}, matched[page.Offset:end]...), total
}

func (m *Memory) latestEntryLocked(clientID points.ClientID) *points.Entry {
	entries, _ := m.listEntriesLocked(points.EntryFilter{ClientID: clientID}, points.Page{Limit: 1})
	if len(entries) == 0 {
		return nil
	}
	return &entries[0]
}

// =============================================================================
// TRANSACTIONS
// =============================================================================

// WithTx executes fn under the write lock.
// Simulated with a snapshot + rollback on error.
func (m *Memory) WithTx(_ context.Context, fn func(points.Store) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.snapshot()
	if err := fn(&txView{parent: m}); err != nil {
		m.restore(snapshot)
		return err
	}
	return nil
}

type memorySnapshot struct {
	clients map[points.ClientID]points.Client
	entries []points.Entry
}

// snapshot copies what a transaction can write: balances and entries.
func (m *Memory) snapshot() memorySnapshot {
	clients := make(map[points.ClientID]points.Client, len(m.clients))
	for k, v := range m.clients {
		clients[k] = v
	}
	return memorySnapshot{
		clients: clients,
		entries: append([]points.Entry{}, m.entries...),
	}
}

func (m *Memory) restore(s memorySnapshot) {
	m.clients = s.clients
	m.entries = s.entries
}

// txView is the Store handed to WithTx callbacks. The parent lock is held.
type txView struct {
	parent *Memory
}

func (v *txView) GetBusiness(_ context.Context, id points.BusinessID) (*points.Business, error) {
	return v.parent.getBusinessLocked(id), nil
}

func (v *txView) GetClient(_ context.Context, id points.ClientID) (*points.Client, error) {
	return v.parent.getClientLocked(id), nil
}

func (v *txView) FindClientByCard(_ context.Context, businessID points.BusinessID, cardID string) (*points.Client, error) {
	return v.parent.findClientByCardLocked(businessID, cardID), nil
}

func (v *txView) GetItem(_ context.Context, id points.ItemID) (*points.Item, error) {
	return v.parent.getItemLocked(id), nil
}

func (v *txView) GetEntry(_ context.Context, id points.EntryID) (*points.Entry, error) {
	return v.parent.getEntryLocked(id), nil
}

func (v *txView) SetClientPoints(_ context.Context, id points.ClientID, balance int64) error {
	return v.parent.setClientPointsLocked(id, balance)
}

func (v *txView) AppendEntry(_ context.Context, entry points.Entry) error {
	return v.parent.appendEntryLocked(entry)
}

func (v *txView) ListEntries(_ context.Context, filter points.EntryFilter, page points.Page) ([]points.Entry, int, error) {
	entries, total := v.parent.listEntriesLocked(filter, page)
	return entries, total, nil
}

func (v *txView) LatestEntry(_ context.Context, clientID points.ClientID) (*points.Entry, error) {
	return v.parent.latestEntryLocked(clientID), nil
}
