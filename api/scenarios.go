/*
scenarios.go - Demo scenarios for development and manual testing

PURPOSE:
  Loads predefined datasets so the API can be explored without manual
  setup. Every balance change goes through the real engine, so the
  resulting ledgers are indistinguishable from production data.

SCENARIOS:
  coffee-shop:
    - Overdraft disabled
    - Items: Coffee (earn 10), Pastry (earn 5), Free Coffee (redeem 100)
    - Ana with 90 points, Ben with a fresh card, two unclaimed cards

  bar-tab:
    - Overdraft enabled (a tab may go negative)
    - Items: Pint (earn 3), House Round (redeem 20)
    - Carla running a -14 tab

USERS:
  Every load creates admin@demo.local plus one operator per business and
  returns signed tokens for them when the server has an authenticator.

RESET:
  Loading a scenario wipes the database first.

SEE ALSO:
  - handlers.go: the endpoints the scenarios exercise
*/
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/warp/loyalty-engine/points"
	"go.uber.org/zap"
)

// =============================================================================
// SCENARIO DEFINITIONS
// =============================================================================

var scenarios = []ScenarioDTO{
	{
		ID:          "coffee-shop",
		Name:        "Coffee Shop",
		Description: "Earn and redeem without overdraft; one redemption short of a free coffee",
	},
	{
		ID:          "bar-tab",
		Name:        "Bar Tab",
		Description: "Overdraft allowed; a client carrying a negative balance",
	},
}

const scenarioTokenTTL = 24 * time.Hour

// ListScenarios returns available scenarios.
func (h *Handler) ListScenarios(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, scenarios)
}

// GetCurrentScenario returns the currently loaded scenario, if any.
func (h *Handler) GetCurrentScenario(w http.ResponseWriter, r *http.Request) {
	current := h.currentScenarioID()
	for _, s := range scenarios {
		if s.ID == current {
			writeJSON(w, http.StatusOK, s)
			return
		}
	}
	writeJSON(w, http.StatusOK, nil)
}

// LoadScenario wipes the database and loads a predefined scenario.
func (h *Handler) LoadScenario(w http.ResponseWriter, r *http.Request) {
	var req LoadScenarioRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, r, err)
		return
	}

	var load func(context.Context, *scenarioBuilder) error
	switch req.ScenarioID {
	case "coffee-shop":
		load = loadCoffeeShop
	case "bar-tab":
		load = loadBarTab
	default:
		writeError(w, r, fmt.Errorf("%w: unknown scenario %q", points.ErrValidation, req.ScenarioID))
		return
	}

	ctx := background(r.Context())
	if err := h.Store.Reset(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	h.setCurrentScenario("")

	b := &scenarioBuilder{h: h, users: make(map[string]points.User)}
	if err := b.init(ctx); err != nil {
		writeError(w, r, err)
		return
	}
	if err := load(ctx, b); err != nil {
		writeError(w, r, fmt.Errorf("load scenario %s: %w", req.ScenarioID, err))
		return
	}
	h.setCurrentScenario(req.ScenarioID)

	tokens, err := b.tokens()
	if err != nil {
		writeError(w, r, err)
		return
	}

	h.Log.Info("scenario loaded", zap.String("scenario", req.ScenarioID))
	writeJSON(w, http.StatusOK, LoadScenarioResponse{
		Status:   "loaded",
		Scenario: req.ScenarioID,
		Tokens:   tokens,
	})
}

// ResetDatabase wipes all data.
func (h *Handler) ResetDatabase(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.Reset(r.Context()); err != nil {
		writeError(w, r, err)
		return
	}
	h.setCurrentScenario("")
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// =============================================================================
// SCENARIO LOADERS
// =============================================================================

func loadCoffeeShop(ctx context.Context, b *scenarioBuilder) error {
	shop, err := b.business(ctx, "Coffee Shop", false, "BREW")
	if err != nil {
		return err
	}
	coffee, err := b.item(ctx, shop, "Coffee", points.ItemEarn, 10)
	if err != nil {
		return err
	}
	if _, err := b.item(ctx, shop, "Pastry", points.ItemEarn, 5); err != nil {
		return err
	}
	if _, err := b.item(ctx, shop, "Free Coffee", points.ItemRedeem, 100); err != nil {
		return err
	}

	operator, err := b.operator(ctx, shop, "barista@coffee.demo")
	if err != nil {
		return err
	}

	ana, err := b.client(ctx, shop, "Ana", true)
	if err != nil {
		return err
	}
	for i := 0; i < 9; i++ {
		if err := b.applyItem(ctx, operator, ana, coffee); err != nil {
			return err
		}
	}

	if _, err := b.client(ctx, shop, "Ben", true); err != nil {
		return err
	}
	for i := 0; i < 2; i++ {
		if _, err := b.client(ctx, shop, "", false); err != nil {
			return err
		}
	}
	return nil
}

func loadBarTab(ctx context.Context, b *scenarioBuilder) error {
	bar, err := b.business(ctx, "Bar Tab", true, "")
	if err != nil {
		return err
	}
	pint, err := b.item(ctx, bar, "Pint", points.ItemEarn, 3)
	if err != nil {
		return err
	}
	round, err := b.item(ctx, bar, "House Round", points.ItemRedeem, 20)
	if err != nil {
		return err
	}

	operator, err := b.operator(ctx, bar, "bartender@bar.demo")
	if err != nil {
		return err
	}

	carla, err := b.client(ctx, bar, "Carla", true)
	if err != nil {
		return err
	}
	if err := b.applyItem(ctx, operator, carla, pint); err != nil {
		return err
	}
	if err := b.applyItem(ctx, operator, carla, pint); err != nil {
		return err
	}
	return b.applyItem(ctx, operator, carla, round)
}

// =============================================================================
// BUILDER
// =============================================================================

// scenarioBuilder creates records through the same paths the handlers use.
type scenarioBuilder struct {
	h     *Handler
	admin points.User
	users map[string]points.User // keyed by email
}

func (b *scenarioBuilder) init(ctx context.Context) error {
	admin := points.User{
		ID:        points.UserID(points.NewID()),
		Email:     "admin@demo.local",
		Name:      "Demo Admin",
		Role:      points.RoleAdmin,
		CreatedAt: b.h.Now(),
	}
	if err := b.h.Store.CreateUser(ctx, admin); err != nil {
		return err
	}
	b.admin = admin
	b.users[admin.Email] = admin
	return nil
}

func (b *scenarioBuilder) business(ctx context.Context, name string, overdraft bool, code string) (points.Business, error) {
	slug, err := points.UniqueSlug(ctx, b.h.Store, name, "")
	if err != nil {
		return points.Business{}, err
	}
	hash, err := points.HashActivationCode(code)
	if err != nil {
		return points.Business{}, err
	}
	now := b.h.Now()
	biz := points.Business{
		ID:                  points.BusinessID(points.NewID()),
		Name:                name,
		Slug:                slug,
		AllowNegativePoints: overdraft,
		ActivationCodeHash:  hash,
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	return biz, b.h.Store.CreateBusiness(ctx, biz)
}

func (b *scenarioBuilder) item(ctx context.Context, biz points.Business, name string, kind points.ItemKind, pts int64) (points.Item, error) {
	now := b.h.Now()
	item := points.Item{
		ID:         points.ItemID(points.NewID()),
		BusinessID: biz.ID,
		Name:       name,
		Points:     pts,
		Kind:       kind,
		Visible:    true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return item, b.h.Store.CreateItem(ctx, item)
}

func (b *scenarioBuilder) operator(ctx context.Context, biz points.Business, email string) (points.Caller, error) {
	bizID := biz.ID
	user := points.User{
		ID:         points.UserID(points.NewID()),
		Email:      email,
		Name:       biz.Name + " operator",
		Role:       points.RoleBusiness,
		BusinessID: &bizID,
		CreatedAt:  b.h.Now(),
	}
	if err := b.h.Store.CreateUser(ctx, user); err != nil {
		return points.Caller{}, err
	}
	b.users[email] = user
	return points.Caller{UserID: user.ID, Role: user.Role, BusinessID: biz.ID}, nil
}

func (b *scenarioBuilder) client(ctx context.Context, biz points.Business, name string, active bool) (points.Client, error) {
	cardID, err := b.h.Allocator.Allocate(ctx, biz)
	if err != nil {
		return points.Client{}, err
	}
	now := b.h.Now()
	c := points.Client{
		ID:         points.ClientID(points.NewID()),
		BusinessID: biz.ID,
		CardID:     cardID,
		Name:       name,
		Active:     active,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	return c, b.h.Store.CreateClient(ctx, c)
}

func (b *scenarioBuilder) applyItem(ctx context.Context, actor points.Caller, c points.Client, item points.Item) error {
	_, err := b.h.Engine.ApplyItem(ctx, points.ItemOperation{
		ClientID: c.ID,
		ItemID:   item.ID,
		Actor:    actor,
	})
	return err
}

// tokens signs a token per demo user, keyed by email.
func (b *scenarioBuilder) tokens() (map[string]string, error) {
	out := make(map[string]string, len(b.users))
	if b.h.Auth == nil {
		return out, nil
	}
	for email, u := range b.users {
		token, err := b.h.Auth.IssueToken(u, scenarioTokenTTL)
		if err != nil {
			return nil, fmt.Errorf("issue token for %s: %w", email, err)
		}
		out[email] = token
	}
	return out, nil
}
