/*
scope.go - Tenant access scoping

PURPOSE:
  Decides which records a caller may act on. Two roles exist:

    admin     any business, any client
    business  only records whose BusinessID equals the caller's

CLIENT RESOLUTION:
  By record ID:
    missing                         -> ErrNotFound
    operator of another business    -> ErrForbidden
  By card ID (business-scoped):
    operator -> lookup restricted to the caller's business, so a card of
                another business is ErrNotFound
    admin    -> must name the business; card ids are unique only per
                business and guessing the first match is not allowed

SEE ALSO:
  - engine.go: authorizes the actor inside the atomic operation
  - api/handlers.go: resolves request references through Scope
*/
package points

import (
	"context"
	"strings"
)

// ClientRef identifies a client either by record ID or by card ID.
type ClientRef struct {
	ID         ClientID
	BusinessID BusinessID
	CardID     string
}

// Scope resolves records on behalf of a caller.
type Scope struct {
	Store Store
}

func NewScope(store Store) *Scope {
	return &Scope{Store: store}
}

// Authorize checks that the caller may act on the given business.
func Authorize(caller Caller, businessID BusinessID) error {
	switch caller.Role {
	case RoleAdmin:
		return nil
	case RoleBusiness:
		if caller.BusinessID != "" && caller.BusinessID == businessID {
			return nil
		}
		return ErrForbidden
	default:
		return ErrForbidden
	}
}

// ResolveClient finds and authorizes the client referenced by ref.
func (s *Scope) ResolveClient(ctx context.Context, caller Caller, ref ClientRef) (*Client, error) {
	if ref.ID != "" {
		client, err := s.Store.GetClient(ctx, ref.ID)
		if err != nil {
			return nil, err
		}
		if client == nil {
			return nil, notFound("client", string(ref.ID))
		}
		if err := Authorize(caller, client.BusinessID); err != nil {
			return nil, err
		}
		return client, nil
	}

	cardID := strings.TrimSpace(ref.CardID)
	if cardID == "" {
		return nil, validationf("client reference requires an id or a card id")
	}

	businessID := ref.BusinessID
	switch {
	case caller.IsAdmin():
		if businessID == "" {
			return nil, validationf("admin card lookups require a business id")
		}
	case caller.Role == RoleBusiness && caller.BusinessID != "":
		// Operators never see cards of other businesses, even when they name one.
		if businessID != "" && businessID != caller.BusinessID {
			return nil, notFound("client", cardID)
		}
		businessID = caller.BusinessID
	default:
		return nil, ErrForbidden
	}

	client, err := s.Store.FindClientByCard(ctx, businessID, cardID)
	if err != nil {
		return nil, err
	}
	if client == nil {
		return nil, notFound("client", cardID)
	}
	return client, nil
}

// ResolveItem finds and authorizes an item.
func (s *Scope) ResolveItem(ctx context.Context, caller Caller, id ItemID) (*Item, error) {
	item, err := s.Store.GetItem(ctx, id)
	if err != nil {
		return nil, err
	}
	if item == nil {
		return nil, notFound("item", string(id))
	}
	if err := Authorize(caller, item.BusinessID); err != nil {
		return nil, err
	}
	return item, nil
}

// ResolveBusiness finds and authorizes a business.
func (s *Scope) ResolveBusiness(ctx context.Context, caller Caller, id BusinessID) (*Business, error) {
	if err := Authorize(caller, id); err != nil {
		return nil, err
	}
	business, err := s.Store.GetBusiness(ctx, id)
	if err != nil {
		return nil, err
	}
	if business == nil {
		return nil, notFound("business", string(id))
	}
	return business, nil
}

// ResolveEntry finds and authorizes a ledger entry.
func (s *Scope) ResolveEntry(ctx context.Context, caller Caller, id EntryID) (*Entry, error) {
	entry, err := s.Store.GetEntry(ctx, id)
	if err != nil {
		return nil, err
	}
	if entry == nil {
		return nil, notFound("entry", string(id))
	}
	if err := Authorize(caller, entry.BusinessID); err != nil {
		return nil, err
	}
	return entry, nil
}
