package points_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/points"
	"github.com/warp/loyalty-engine/points/store"
)

func newScopeFixture(t *testing.T) (*points.Scope, *store.Memory) {
	m := store.NewMemory()
	m.PutBusiness(points.Business{ID: "biz-a", Name: "Alpha"})
	m.PutBusiness(points.Business{ID: "biz-b", Name: "Beta"})
	require.NoError(t, m.PutClient(points.Client{ID: "c-a", BusinessID: "biz-a", CardID: "ALPH-AAAAAA"}))
	require.NoError(t, m.PutClient(points.Client{ID: "c-b", BusinessID: "biz-b", CardID: "BETA-BBBBBB"}))
	// Same card text in another business is allowed.
	require.NoError(t, m.PutClient(points.Client{ID: "c-b2", BusinessID: "biz-b", CardID: "ALPH-AAAAAA"}))
	m.PutItem(points.Item{ID: "i-a", BusinessID: "biz-a", Name: "Coffee", Points: 10, Kind: points.ItemEarn})
	return points.NewScope(m), m
}

var (
	opA = points.Caller{UserID: "u-a", Role: points.RoleBusiness, BusinessID: "biz-a"}
	opB = points.Caller{UserID: "u-b", Role: points.RoleBusiness, BusinessID: "biz-b"}
)

func TestAuthorize(t *testing.T) {
	assert.NoError(t, points.Authorize(admin, "biz-a"))
	assert.NoError(t, points.Authorize(opA, "biz-a"))
	assert.ErrorIs(t, points.Authorize(opA, "biz-b"), points.ErrForbidden)
	assert.ErrorIs(t, points.Authorize(points.Caller{Role: points.RoleBusiness}, ""), points.ErrForbidden)
	assert.ErrorIs(t, points.Authorize(points.Caller{UserID: "x", Role: "guest"}, "biz-a"), points.ErrForbidden)
}

func TestScope_ResolveClientByID(t *testing.T) {
	ctx := context.Background()
	scope, _ := newScopeFixture(t)

	c, err := scope.ResolveClient(ctx, opA, points.ClientRef{ID: "c-a"})
	require.NoError(t, err)
	assert.Equal(t, points.ClientID("c-a"), c.ID)

	_, err = scope.ResolveClient(ctx, opA, points.ClientRef{ID: "c-b"})
	assert.ErrorIs(t, err, points.ErrForbidden)

	_, err = scope.ResolveClient(ctx, admin, points.ClientRef{ID: "missing"})
	assert.ErrorIs(t, err, points.ErrNotFound)
}

func TestScope_ResolveClientByCard(t *testing.T) {
	ctx := context.Background()
	scope, _ := newScopeFixture(t)

	t.Run("operator sees only their own business", func(t *testing.T) {
		// GIVEN: Card text ALPH-AAAAAA exists in both businesses
		// WHEN: Each operator resolves it
		a, err := scope.ResolveClient(ctx, opA, points.ClientRef{CardID: "alph-aaaaaa"})
		require.NoError(t, err)
		b, err := scope.ResolveClient(ctx, opB, points.ClientRef{CardID: "ALPH-AAAAAA"})
		require.NoError(t, err)

		// THEN: Each gets the client of their own business
		assert.Equal(t, points.ClientID("c-a"), a.ID)
		assert.Equal(t, points.ClientID("c-b2"), b.ID)
	})

	t.Run("operator naming another business gets not found", func(t *testing.T) {
		_, err := scope.ResolveClient(ctx, opA, points.ClientRef{CardID: "BETA-BBBBBB", BusinessID: "biz-b"})
		assert.ErrorIs(t, err, points.ErrNotFound)

		_, err = scope.ResolveClient(ctx, opA, points.ClientRef{CardID: "BETA-BBBBBB"})
		assert.ErrorIs(t, err, points.ErrNotFound)
	})

	t.Run("admin must name the business", func(t *testing.T) {
		_, err := scope.ResolveClient(ctx, admin, points.ClientRef{CardID: "ALPH-AAAAAA"})
		assert.ErrorIs(t, err, points.ErrValidation)

		c, err := scope.ResolveClient(ctx, admin, points.ClientRef{CardID: "ALPH-AAAAAA", BusinessID: "biz-b"})
		require.NoError(t, err)
		assert.Equal(t, points.ClientID("c-b2"), c.ID)
	})

	t.Run("empty reference", func(t *testing.T) {
		_, err := scope.ResolveClient(ctx, admin, points.ClientRef{CardID: "   "})
		assert.ErrorIs(t, err, points.ErrValidation)
	})

	t.Run("caller without role", func(t *testing.T) {
		_, err := scope.ResolveClient(ctx, points.Caller{UserID: "x"}, points.ClientRef{CardID: "ALPH-AAAAAA"})
		assert.ErrorIs(t, err, points.ErrForbidden)
	})
}

func TestScope_ResolveItemBusinessEntry(t *testing.T) {
	ctx := context.Background()
	scope, m := newScopeFixture(t)

	item, err := scope.ResolveItem(ctx, opA, "i-a")
	require.NoError(t, err)
	assert.Equal(t, "Coffee", item.Name)
	_, err = scope.ResolveItem(ctx, opB, "i-a")
	assert.ErrorIs(t, err, points.ErrForbidden)
	_, err = scope.ResolveItem(ctx, opB, "missing")
	assert.ErrorIs(t, err, points.ErrNotFound)

	biz, err := scope.ResolveBusiness(ctx, opA, "biz-a")
	require.NoError(t, err)
	assert.Equal(t, "Alpha", biz.Name)
	_, err = scope.ResolveBusiness(ctx, opA, "biz-b")
	assert.ErrorIs(t, err, points.ErrForbidden)
	_, err = scope.ResolveBusiness(ctx, admin, "missing")
	assert.ErrorIs(t, err, points.ErrNotFound)

	e := points.NewEngine(m, nil)
	result, err := e.ApplyManual(ctx, points.ManualOperation{ClientID: "c-b", Delta: 5, Actor: opB})
	require.NoError(t, err)
	_, err = scope.ResolveEntry(ctx, opA, result.Entry.ID)
	assert.ErrorIs(t, err, points.ErrForbidden)
	entry, err := scope.ResolveEntry(ctx, opB, result.Entry.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(5), entry.Points)
}
