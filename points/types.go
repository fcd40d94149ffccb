/*
types.go - Core entities of the loyalty points engine

PURPOSE:
  Defines the tenant-scoped entities the engine reads and writes:
  Business (tenant root), Client (a card holding a balance), Item
  (earn/redeem rule), Entry (immutable ledger row) and User (actor).

OWNERSHIP:
  A Business exclusively owns its Clients, Items, Entries and
  business-scoped Users. Deleting a Business removes all of them in
  one atomic cascade (see store/sqlite DeleteBusiness).

AUTHORITATIVE BALANCE:
  Client.Points is the current balance. Entries explain it:
  Client.Points always equals the AfterPoints of the client's most
  recent entry (or 0 when the client has none).

IDENTIFIERS:
  Record IDs (BusinessID, ClientID, ItemID, EntryID, UserID) are UUIDs.
  Client.CardID is the business-scoped human identifier printed on
  the card, e.g. "MYCO-7KQ2ZP". It is unique only within its business.

SEE ALSO:
  - ledger.go: Ledger over Entry
  - engine.go: the only code path that changes Client.Points
  - allocator.go: CardID generation
*/
package points

import (
	"time"

	"github.com/google/uuid"
)

// =============================================================================
// IDENTIFIERS
// =============================================================================

type (
	BusinessID string
	ClientID   string
	ItemID     string
	EntryID    string
	UserID     string
)

// NewID returns a fresh random record identifier.
func NewID() string {
	return uuid.NewString()
}

// =============================================================================
// BUSINESS
// =============================================================================

// Business is a tenant running its own loyalty program.
type Business struct {
	ID                  BusinessID
	Name                string
	Slug                string
	AllowNegativePoints bool
	// ActivationCodeHash is a bcrypt hash; empty means cards cannot be self-activated.
	ActivationCodeHash string
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// HasActivationCode reports whether end-users can claim cards of this business.
func (b Business) HasActivationCode() bool {
	return b.ActivationCodeHash != ""
}

// =============================================================================
// CLIENT
// =============================================================================

// Client is a loyalty card holder scoped to exactly one business.
type Client struct {
	ID         ClientID
	BusinessID BusinessID
	CardID     string
	Name       string
	Phone      string
	Email      string
	Points     int64
	Active     bool
	Metadata   map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// =============================================================================
// ITEM
// =============================================================================

// ItemKind tells whether an item awards or costs points.
type ItemKind string

const (
	ItemEarn   ItemKind = "earn"
	ItemRedeem ItemKind = "redeem"
)

// Valid reports whether k is a known kind.
func (k ItemKind) Valid() bool {
	return k == ItemEarn || k == ItemRedeem
}

// Item is a catalog rule with a fixed point value.
type Item struct {
	ID          ItemID
	BusinessID  BusinessID
	Name        string
	Description string
	Points      int64
	Kind        ItemKind
	Visible     bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// Delta returns the signed balance change applying this item produces.
func (i Item) Delta() int64 {
	if i.Kind == ItemRedeem {
		return -i.Points
	}
	return i.Points
}

// =============================================================================
// ENTRY (ledger row)
// =============================================================================

// Entry is one immutable balance change.
// INVARIANT: AfterPoints == BeforePoints + Points.
type Entry struct {
	ID           EntryID
	ClientID     ClientID
	BusinessID   BusinessID
	ItemID       *ItemID // nil for manual adjustments
	Points       int64
	BeforePoints int64
	AfterPoints  int64
	ActorID      UserID
	Note         string
	CreatedAt    time.Time
}

// Consistent reports whether the entry's snapshot matches its delta.
func (e Entry) Consistent() bool {
	return e.AfterPoints == e.BeforePoints+e.Points
}

// =============================================================================
// USERS AND CALLERS
// =============================================================================

// Role is the platform role of a user.
type Role string

const (
	RoleAdmin    Role = "admin"
	RoleBusiness Role = "business"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleAdmin || r == RoleBusiness
}

// User is an operator of the platform. Business users belong to one business.
type User struct {
	ID         UserID
	Email      string
	Name       string
	Role       Role
	BusinessID *BusinessID
	CreatedAt  time.Time
}

// Caller is the authenticated identity invoking an operation.
type Caller struct {
	UserID     UserID
	Role       Role
	BusinessID BusinessID // empty for admins
}

// IsAdmin reports whether the caller has platform-wide access.
func (c Caller) IsAdmin() bool {
	return c.Role == RoleAdmin
}
