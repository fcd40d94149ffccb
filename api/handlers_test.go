/*
handlers_test.go - HTTP tests for the points API

Tests for:
- Points operations by record id and by card id
- Error mapping (status, code, details)
- Business, item, client and user endpoints
- Tenant isolation between operators
*/
package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/points"
	"github.com/warp/loyalty-engine/store/sqlite"
	"go.uber.org/zap"
)

// =============================================================================
// TEST SETUP
// =============================================================================

type testServer struct {
	t      *testing.T
	h      *Handler
	router http.Handler
	admin  string
}

func newTestServer(t *testing.T) *testServer {
	store, err := sqlite.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	auth := NewAuthenticator("test-secret", "loyalty-test")
	h := NewHandler(store, auth, zap.NewNop())
	s := &testServer{t: t, h: h, router: NewRouter(h, RouterOptions{EnableScenarios: true})}
	s.admin = s.token(points.User{ID: "admin-1", Role: points.RoleAdmin})
	return s
}

func (s *testServer) token(u points.User) string {
	token, err := s.h.Auth.IssueToken(u, time.Hour)
	require.NoError(s.t, err)
	return token
}

func (s *testServer) operatorToken(businessID string) string {
	id := points.BusinessID(businessID)
	return s.token(points.User{ID: points.UserID("op-" + businessID), Role: points.RoleBusiness, BusinessID: &id})
}

func (s *testServer) do(method, path, token string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		require.NoError(s.t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	var out T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	return out
}

func (s *testServer) createBusiness(name string, overdraft bool, code string) BusinessDTO {
	rec := s.do(http.MethodPost, "/api/businesses", s.admin, CreateBusinessRequest{
		Name: name, AllowNegativePoints: overdraft, ActivationCode: code,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[BusinessDTO](s.t, rec)
}

func (s *testServer) createItem(businessID, name, kind string, pts int64) ItemDTO {
	rec := s.do(http.MethodPost, "/api/businesses/"+businessID+"/items", s.admin, ItemRequest{
		Name: name, Points: pts, Kind: kind,
	})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ItemDTO](s.t, rec)
}

func (s *testServer) createClient(businessID, name string) ClientDTO {
	rec := s.do(http.MethodPost, "/api/businesses/"+businessID+"/clients", s.admin, CreateClientRequest{Name: name})
	require.Equal(s.t, http.StatusCreated, rec.Code, rec.Body.String())
	return decode[ClientDTO](s.t, rec)
}

func (s *testServer) adjust(token, clientID string, delta int64) *httptest.ResponseRecorder {
	req := AdjustmentRequest{Delta: delta}
	req.ClientID = clientID
	return s.do(http.MethodPost, "/api/points/adjustments", token, req)
}

func (s *testServer) applyItem(token string, ref ClientRefRequest, itemID string) *httptest.ResponseRecorder {
	return s.do(http.MethodPost, "/api/points/operations", token, ItemOperationRequest{
		ClientRefRequest: ref, ItemID: itemID,
	})
}

// =============================================================================
// POINTS OPERATIONS
// =============================================================================

func TestApplyOperation_RedeemByCardID(t *testing.T) {
	// GIVEN: A client at 100 points and an operator of the business
	s := newTestServer(t)
	shop := s.createBusiness("My Coffee Shop", false, "")
	reward := s.createItem(shop.ID, "Free Coffee", "redeem", 50)
	client := s.createClient(shop.ID, "Ana")
	require.Equal(t, http.StatusOK, s.adjust(s.admin, client.ID, 100).Code)
	op := s.operatorToken(shop.ID)

	// WHEN: The operator scans the card and redeems
	rec := s.applyItem(op, ClientRefRequest{CardID: client.CardID}, reward.ID)

	// THEN: 100 -> 50
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[OperationResultDTO](t, rec)
	assert.Equal(t, int64(100), result.BeforePoints)
	assert.Equal(t, int64(50), result.AfterPoints)
	assert.Equal(t, int64(-50), result.Entry.Points)
	require.NotNil(t, result.Entry.ItemID)
	assert.Equal(t, reward.ID, *result.Entry.ItemID)
	assert.Equal(t, "Redeemed: Free Coffee", result.Entry.Note)
	assert.Equal(t, "op-"+shop.ID, result.Entry.ActorID)

	rec = s.do(http.MethodGet, "/api/clients/"+client.ID, op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(50), decode[ClientDTO](t, rec).Points)
}

func TestApplyOperation_InsufficientBalance(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("My Coffee Shop", false, "")
	big := s.createItem(shop.ID, "Espresso Machine", "redeem", 200)
	client := s.createClient(shop.ID, "Ana")
	require.Equal(t, http.StatusOK, s.adjust(s.admin, client.ID, 50).Code)

	rec := s.applyItem(s.admin, ClientRefRequest{ClientID: client.ID}, big.ID)

	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "insufficient_balance", resp.Code)
	assert.Equal(t, float64(50), resp.Details["available"])
	assert.Equal(t, float64(200), resp.Details["requested"])
	assert.Equal(t, float64(150), resp.Details["shortfall"])

	rec = s.do(http.MethodGet, "/api/clients/"+client.ID+"/entries", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[EntryPageDTO](t, rec).Total)
}

func TestApplyOperation_CrossTenant(t *testing.T) {
	// GIVEN: Item of A, client of B, operator of A
	s := newTestServer(t)
	a := s.createBusiness("Alpha Cafe", false, "")
	b := s.createBusiness("Beta Bar", false, "")
	itemA := s.createItem(a.ID, "Coffee", "earn", 10)
	clientB := s.createClient(b.ID, "Ben")

	// WHEN: Applying A's item to B's client by record id
	rec := s.applyItem(s.operatorToken(a.ID), ClientRefRequest{ClientID: clientB.ID}, itemA.ID)

	// THEN: cross_tenant without revealing the client's business
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "cross_tenant", resp.Code)
	assert.Equal(t, a.ID, resp.Details["itemBusinessId"])
	assert.NotContains(t, resp.Details, "clientBusinessId")
	assert.NotContains(t, rec.Body.String(), b.ID)

	// WHEN: An admin makes the same mistake
	rec = s.applyItem(s.admin, ClientRefRequest{ClientID: clientB.ID}, itemA.ID)

	// THEN: Both business ids are reported
	require.Equal(t, http.StatusBadRequest, rec.Code, rec.Body.String())
	resp = decode[ErrorResponse](t, rec)
	assert.Equal(t, a.ID, resp.Details["itemBusinessId"])
	assert.Equal(t, b.ID, resp.Details["clientBusinessId"])
}

func TestApplyOperation_TenantIsolation(t *testing.T) {
	s := newTestServer(t)
	a := s.createBusiness("Alpha Cafe", false, "")
	b := s.createBusiness("Beta Bar", false, "")
	itemB := s.createItem(b.ID, "Pint", "earn", 3)
	clientB := s.createClient(b.ID, "Ben")
	opA := s.operatorToken(a.ID)

	t.Run("record id of another business is forbidden", func(t *testing.T) {
		rec := s.adjust(opA, clientB.ID, 5)
		require.Equal(t, http.StatusForbidden, rec.Code)
		assert.Equal(t, "forbidden", decode[ErrorResponse](t, rec).Code)
	})

	t.Run("card id of another business is not found", func(t *testing.T) {
		rec := s.applyItem(opA, ClientRefRequest{CardID: clientB.CardID, BusinessID: b.ID}, itemB.ID)
		require.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("client and ledger reads are forbidden", func(t *testing.T) {
		assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/clients/"+clientB.ID, opA, nil).Code)
		assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/clients/"+clientB.ID+"/entries", opA, nil).Code)
		assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/businesses/"+b.ID+"/stats", opA, nil).Code)
	})

	t.Run("operator lists only their business", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/businesses", opA, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		list := decode[[]BusinessDTO](t, rec)
		require.Len(t, list, 1)
		assert.Equal(t, a.ID, list[0].ID)
	})

	rec := s.do(http.MethodGet, "/api/clients/"+clientB.ID, s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[ClientDTO](t, rec).Points)
}

func TestApplyOperation_AdminCardLookupNeedsBusiness(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	coffee := s.createItem(shop.ID, "Coffee", "earn", 10)
	client := s.createClient(shop.ID, "Ana")

	rec := s.applyItem(s.admin, ClientRefRequest{CardID: client.CardID}, coffee.ID)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.applyItem(s.admin, ClientRefRequest{CardID: client.CardID, BusinessID: shop.ID}, coffee.ID)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(10), decode[OperationResultDTO](t, rec).AfterPoints)
}

func TestApplyAdjustment_Validation(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	client := s.createClient(shop.ID, "Ana")

	t.Run("zero delta", func(t *testing.T) {
		rec := s.adjust(s.admin, client.ID, 0)
		require.Equal(t, http.StatusBadRequest, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "validation", resp.Code)
		assert.NotNil(t, resp.Details["fields"])
	})

	t.Run("no client reference", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/points/adjustments", s.admin, AdjustmentRequest{Delta: 5})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("malformed body", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/api/points/adjustments", bytes.NewBufferString("{"))
		req.Header.Set("Authorization", "Bearer "+s.admin)
		rec := httptest.NewRecorder()
		s.router.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("unknown item", func(t *testing.T) {
		rec := s.applyItem(s.admin, ClientRefRequest{ClientID: client.ID}, "missing")
		require.Equal(t, http.StatusNotFound, rec.Code)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "not_found", resp.Code)
		assert.Equal(t, "item", resp.Details["kind"])
	})

	t.Run("default note", func(t *testing.T) {
		rec := s.adjust(s.admin, client.ID, 7)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "Manual adjustment: +7 points", decode[OperationResultDTO](t, rec).Entry.Note)
	})
}

func TestReverseEntry(t *testing.T) {
	// GIVEN: A client who earned 10
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	coffee := s.createItem(shop.ID, "Coffee", "earn", 10)
	client := s.createClient(shop.ID, "Ana")
	rec := s.applyItem(s.admin, ClientRefRequest{ClientID: client.ID}, coffee.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	earned := decode[OperationResultDTO](t, rec)
	op := s.operatorToken(shop.ID)

	// WHEN: The operator reverses it without a body
	rec = s.do(http.MethodPost, "/api/points/entries/"+earned.Entry.ID+"/reverse", op, nil)

	// THEN: The balance is back to zero and both entries remain
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	reversal := decode[OperationResultDTO](t, rec)
	assert.Equal(t, int64(0), reversal.AfterPoints)
	assert.Equal(t, int64(-10), reversal.Entry.Points)

	rec = s.do(http.MethodGet, "/api/clients/"+client.ID+"/entries?limit=1", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[EntryPageDTO](t, rec)
	assert.Equal(t, 2, page.Total)
	require.Len(t, page.Entries, 1)
	assert.Equal(t, reversal.Entry.ID, page.Entries[0].ID)

	// And an operator of another business can not reverse
	other := s.createBusiness("Beta Bar", false, "")
	rec = s.do(http.MethodPost, "/api/points/entries/"+earned.Entry.ID+"/reverse", s.operatorToken(other.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(http.MethodPost, "/api/points/entries/missing/reverse", s.admin, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuthentication(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/businesses", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "unauthorized", decode[ErrorResponse](t, rec).Code)

	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/businesses", "garbage", nil).Code)

	other := NewAuthenticator("other-secret", "loyalty-test")
	forged, err := other.IssueToken(points.User{ID: "admin-1", Role: points.RoleAdmin}, time.Hour)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/businesses", forged, nil).Code)

	expired, err := s.h.Auth.IssueToken(points.User{ID: "admin-1", Role: points.RoleAdmin}, -time.Minute)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/businesses", expired, nil).Code)

	// Business tokens must name their business.
	noBiz := s.token(points.User{ID: "op", Role: points.RoleBusiness})
	assert.Equal(t, http.StatusUnauthorized, s.do(http.MethodGet, "/api/businesses", noBiz, nil).Code)

	// Admin-only routes
	op := s.operatorToken("biz")
	rec = s.do(http.MethodPost, "/api/businesses", op, CreateBusinessRequest{Name: "Sneaky"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, http.StatusForbidden, s.do(http.MethodGet, "/api/scenarios", op, nil).Code)
}

func TestAuthenticator_VerifyClaims(t *testing.T) {
	auth := NewAuthenticator("secret", "")
	bizID := points.BusinessID("biz-1")

	token, err := auth.IssueToken(points.User{ID: "u-1", Role: points.RoleBusiness, BusinessID: &bizID}, time.Hour)
	require.NoError(t, err)
	caller, err := auth.Verify(token)
	require.NoError(t, err)
	assert.Equal(t, points.Caller{UserID: "u-1", Role: points.RoleBusiness, BusinessID: bizID}, caller)

	// An admin token never carries a business scope.
	token, err = auth.IssueToken(points.User{ID: "u-2", Role: points.RoleAdmin, BusinessID: &bizID}, time.Hour)
	require.NoError(t, err)
	caller, err = auth.Verify(token)
	require.NoError(t, err)
	assert.Empty(t, caller.BusinessID)

	_, err = auth.Verify("")
	assert.ErrorIs(t, err, errUnauthorized)
}

// =============================================================================
// BUSINESSES
// =============================================================================

func TestBusinessLifecycle(t *testing.T) {
	s := newTestServer(t)

	// Create
	shop := s.createBusiness("My Coffee Shop", false, "BREW")
	assert.Equal(t, "my-coffee-shop", shop.Slug)
	assert.True(t, shop.HasActivationCode)

	// Same slug base, different name
	twin := s.createBusiness("My-Coffee Shop!", false, "")
	assert.Equal(t, "my-coffee-shop-2", twin.Slug)

	// Duplicate name (case-insensitive)
	rec := s.do(http.MethodPost, "/api/businesses", s.admin, CreateBusinessRequest{Name: "my coffee shop"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_name", decode[ErrorResponse](t, rec).Code)

	// Missing name
	rec = s.do(http.MethodPost, "/api/businesses", s.admin, CreateBusinessRequest{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Update: operators may change their own business
	name := "Coffee House"
	overdraft := true
	rec = s.do(http.MethodPut, "/api/businesses/"+shop.ID, s.operatorToken(shop.ID), UpdateBusinessRequest{
		Name: &name, AllowNegativePoints: &overdraft,
	})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	updated := decode[BusinessDTO](t, rec)
	assert.Equal(t, "Coffee House", updated.Name)
	assert.Equal(t, "my-coffee-shop", updated.Slug)
	assert.True(t, updated.AllowNegativePoints)
	assert.True(t, updated.HasActivationCode)

	blank := "  "
	rec = s.do(http.MethodPut, "/api/businesses/"+shop.ID, s.admin, UpdateBusinessRequest{Name: &blank})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	// Regenerate slug
	rec = s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/slug", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "coffee-house", decode[BusinessDTO](t, rec).Slug)

	// Delete
	rec = s.do(http.MethodDelete, "/api/businesses/"+shop.ID, s.admin, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/businesses/"+shop.ID, s.admin, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/businesses/"+shop.ID, s.admin, nil).Code)

	rec = s.do(http.MethodGet, "/api/businesses", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]BusinessDTO](t, rec), 1)
}

func TestBusinessStatsAndEntries(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	coffee := s.createItem(shop.ID, "Coffee", "earn", 30)
	ana := s.createClient(shop.ID, "Ana")
	s.createClient(shop.ID, "Ben")

	require.Equal(t, http.StatusOK, s.applyItem(s.admin, ClientRefRequest{ClientID: ana.ID}, coffee.ID).Code)
	require.Equal(t, http.StatusOK, s.adjust(s.admin, ana.ID, -10).Code)

	rec := s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/stats", s.operatorToken(shop.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := decode[StatsDTO](t, rec)
	assert.Equal(t, int64(2), stats.TotalClients)
	assert.Equal(t, int64(2), stats.ActiveClients)
	assert.Equal(t, int64(30), stats.PointsIssued)
	assert.Equal(t, int64(10), stats.PointsRedeemed)
	assert.Equal(t, int64(20), stats.OutstandingPoints)
	assert.Equal(t, "10.00", stats.AverageBalance)
	assert.Equal(t, "0.3333", stats.RedemptionRate)

	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/entries?itemId="+coffee.ID, s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	page := decode[EntryPageDTO](t, rec)
	assert.Equal(t, 1, page.Total)

	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/entries?from=yesterday", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/entries?limit=-1", s.admin, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

// =============================================================================
// ITEMS
// =============================================================================

func TestItems(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	op := s.operatorToken(shop.ID)
	coffee := s.createItem(shop.ID, "Coffee", "earn", 10)

	hidden := false
	rec := s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/items", op, ItemRequest{
		Name: "Staff Meal", Points: 5, Kind: "redeem", Visible: &hidden,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/items", op, ItemRequest{Name: "Bad", Points: 0, Kind: "earn"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/items", op, ItemRequest{Name: "Bad", Points: 3, Kind: "gift"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/items", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ItemDTO](t, rec), 2)
	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/items?visible=true", op, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]ItemDTO](t, rec), 1)

	rec = s.do(http.MethodPut, "/api/items/"+coffee.ID, op, ItemRequest{Name: "Large Coffee", Points: 15, Kind: "earn"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(15), decode[ItemDTO](t, rec).Points)

	other := s.createBusiness("Beta Bar", false, "")
	rec = s.do(http.MethodDelete, "/api/items/"+coffee.ID, s.operatorToken(other.ID), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	assert.Equal(t, http.StatusNoContent, s.do(http.MethodDelete, "/api/items/"+coffee.ID, op, nil).Code)
	assert.Equal(t, http.StatusNotFound, s.do(http.MethodDelete, "/api/items/"+coffee.ID, op, nil).Code)
}

// =============================================================================
// CLIENTS
// =============================================================================

func TestClients(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("My Coffee Shop", false, "")
	op := s.operatorToken(shop.ID)

	t.Run("create allocates a business card id", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/clients", op, CreateClientRequest{
			Name: "Ana", Email: "ana@example.com", Metadata: map[string]any{"tier": "gold"},
		})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		c := decode[ClientDTO](t, rec)
		assert.True(t, points.IsValidCardID(c.CardID))
		assert.Equal(t, "MYCO-", c.CardID[:5])
		assert.True(t, c.Active)
		assert.Equal(t, "gold", c.Metadata["tier"])
	})

	t.Run("invalid email", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/clients", op, CreateClientRequest{Email: "nope"})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("bulk creates distinct inactive cards", func(t *testing.T) {
		rec := s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/clients/bulk", op, BulkClientsRequest{Count: 5})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		cards := decode[[]ClientDTO](t, rec)
		require.Len(t, cards, 5)
		seen := map[string]bool{}
		for _, c := range cards {
			assert.False(t, c.Active)
			assert.False(t, seen[c.CardID])
			seen[c.CardID] = true
		}

		rec = s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/clients/bulk", op, BulkClientsRequest{Count: 501})
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("list with search and paging", func(t *testing.T) {
		rec := s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/clients?limit=2", op, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		page := decode[ClientPageDTO](t, rec)
		assert.Equal(t, 6, page.Total)
		assert.Len(t, page.Clients, 2)

		rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/clients?search=ana@", op, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, 1, decode[ClientPageDTO](t, rec).Total)
	})

	t.Run("profile update never moves points", func(t *testing.T) {
		c := s.createClient(shop.ID, "Ben")
		require.Equal(t, http.StatusOK, s.adjust(op, c.ID, 25).Code)

		rec := s.do(http.MethodPut, "/api/clients/"+c.ID, op, map[string]any{"name": "Benjamin", "points": 9999})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
		got := decode[ClientDTO](t, rec)
		assert.Equal(t, "Benjamin", got.Name)
		assert.Equal(t, int64(25), got.Points)
	})

	t.Run("unknown client", func(t *testing.T) {
		assert.Equal(t, http.StatusNotFound, s.do(http.MethodGet, "/api/clients/missing", op, nil).Code)
	})
}

// =============================================================================
// USERS
// =============================================================================

func TestUsers(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")

	rec := s.do(http.MethodPost, "/api/users", s.admin, CreateUserRequest{
		Email: "Barista@Alpha.test", Name: "Barista", Role: "business", BusinessID: shop.ID,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := decode[UserDTO](t, rec)
	assert.Equal(t, "barista@alpha.test", user.Email)
	require.NotNil(t, user.BusinessID)
	assert.Equal(t, shop.ID, *user.BusinessID)

	rec = s.do(http.MethodPost, "/api/users", s.admin, CreateUserRequest{Email: "barista@alpha.test", Role: "admin"})
	require.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "duplicate_email", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodPost, "/api/users", s.admin, CreateUserRequest{Email: "x@alpha.test", Role: "business"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = s.do(http.MethodPost, "/api/users", s.admin, CreateUserRequest{Email: "y@alpha.test", Role: "business", BusinessID: "ghost"})
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(http.MethodPost, "/api/users", s.admin, CreateUserRequest{Email: "root@alpha.test", Role: "admin"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(http.MethodGet, "/api/users", s.operatorToken(shop.ID), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]UserDTO](t, rec), 1)

	rec = s.do(http.MethodGet, "/api/users", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]UserDTO](t, rec), 2)
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rec := s.do(http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decode[map[string]string](t, rec)["status"])

	rec = s.do(http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

// freeCards reports every candidate as free, so collisions only show up at insert.
type freeCards struct{}

func (freeCards) CardIDExists(context.Context, points.BusinessID, string) (bool, error) {
	return false, nil
}

// suffixDraws returns random bytes that make the allocator draw one
// repeated alphabet letter per card, e.g. 0 -> AAAAAA, 3 -> DDDDDD.
func suffixDraws(letters ...byte) *bytes.Reader {
	var buf []byte
	for _, l := range letters {
		buf = append(buf, bytes.Repeat([]byte{l}, 6)...)
	}
	return bytes.NewReader(buf)
}

func TestClients_CardTakenAtInsert(t *testing.T) {
	// GIVEN: An allocator blind to existing cards and MYCO-AAAAAA already issued
	s := newTestServer(t)
	shop := s.createBusiness("My Coffee Shop", false, "")
	s.h.Allocator.Cards = freeCards{}
	s.h.Allocator.Rand = suffixDraws(0, 0, 1, 2, 3, 0, 4)
	ana := s.createClient(shop.ID, "Ana")
	require.Equal(t, "MYCO-AAAAAA", ana.CardID)

	// WHEN: Bulk creating three cards whose first draw is the taken id
	rec := s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/clients/bulk", s.admin, BulkClientsRequest{Count: 3})

	// THEN: The taken card is reallocated and the batch goes in whole
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var cards []string
	for _, c := range decode[[]ClientDTO](t, rec) {
		cards = append(cards, c.CardID)
	}
	assert.Equal(t, []string{"MYCO-DDDDDD", "MYCO-BBBBBB", "MYCO-CCCCCC"}, cards)

	// Single create retries the same way.
	ben := s.createClient(shop.ID, "Ben")
	assert.Equal(t, "MYCO-EEEEEE", ben.CardID)

	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/clients", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 5, decode[ClientPageDTO](t, rec).Total)
}

func TestClients_CardTakenAtInsert_GivesUp(t *testing.T) {
	// GIVEN: A random source that only ever draws AAAAAA, already issued
	s := newTestServer(t)
	shop := s.createBusiness("My Coffee Shop", false, "")
	s.h.Allocator.Cards = freeCards{}
	s.h.Allocator.Rand = bytes.NewReader(make([]byte, 1024))
	s.createClient(shop.ID, "Ana")

	// WHEN: Bulk creating a card that collides at insert and on every redraw
	rec := s.do(http.MethodPost, "/api/businesses/"+shop.ID+"/clients/bulk", s.admin, BulkClientsRequest{Count: 1})

	// THEN: A bounded number of retries, then a conflict and no partial batch
	require.Equal(t, http.StatusConflict, rec.Code, rec.Body.String())
	assert.Equal(t, "duplicate_card_id", decode[ErrorResponse](t, rec).Code)

	rec = s.do(http.MethodGet, "/api/businesses/"+shop.ID+"/clients", s.admin, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[ClientPageDTO](t, rec).Total)
}

func TestApplyOperation_MalformedCardID(t *testing.T) {
	s := newTestServer(t)
	shop := s.createBusiness("Alpha Cafe", false, "")
	coffee := s.createItem(shop.ID, "Coffee", "earn", 10)

	for _, card := range []string{"ALPH-12", "ALPHA-123456", "ALPH 123456", "../../x"} {
		rec := s.applyItem(s.operatorToken(shop.ID), ClientRefRequest{CardID: card}, coffee.ID)
		require.Equal(t, http.StatusBadRequest, rec.Code, card)
		resp := decode[ErrorResponse](t, rec)
		assert.Equal(t, "validation", resp.Code)
		assert.Contains(t, resp.Error, "cardId", card)
	}
}
