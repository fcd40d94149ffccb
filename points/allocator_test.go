package points_test

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/points"
	"github.com/warp/loyalty-engine/points/store"
)

func TestCardPrefix(t *testing.T) {
	tests := []struct {
		name string
		want string
	}{
		{"My Coffee Shop", "MYCO"},
		{"Bar", "BARX"},
		{"A&B", "ABXX"},
		{"", "XXXX"},
		{"  7-Eleven  ", "7ELE"},
		{"Café Noir", "CAFN"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, points.CardPrefix(tt.name))
		})
	}
}

func TestIsValidCardID(t *testing.T) {
	assert.True(t, points.IsValidCardID("MYCO-7KQ2ZP"))
	assert.True(t, points.IsValidCardID("myco-7kq2zp"))
	assert.True(t, points.IsValidCardID("MYCO-LQ3K9Z2AB"))
	assert.False(t, points.IsValidCardID("MYC-7KQ2ZP"))
	assert.False(t, points.IsValidCardID("MYCO7KQ2ZP"))
	assert.False(t, points.IsValidCardID("MYCO-7KQ"))
	assert.False(t, points.IsValidCardID(""))
}

func TestAllocator_TwoCardsAreDistinct(t *testing.T) {
	// GIVEN: Business "My Coffee Shop" with no clients
	ctx := context.Background()
	m := store.NewMemory()
	shop := points.Business{ID: "biz-1", Name: "My Coffee Shop"}
	m.PutBusiness(shop)
	alloc := points.NewAllocator(m)

	// WHEN: Allocating twice, inserting the first before the second
	first, err := alloc.Allocate(ctx, shop)
	require.NoError(t, err)
	require.NoError(t, m.PutClient(points.Client{ID: "c-1", BusinessID: shop.ID, CardID: first}))
	second, err := alloc.Allocate(ctx, shop)
	require.NoError(t, err)

	// THEN: Both carry the MYCO- prefix, a clean suffix, and differ
	for _, id := range []string{first, second} {
		assert.True(t, strings.HasPrefix(id, "MYCO-"), id)
		suffix := strings.TrimPrefix(id, "MYCO-")
		assert.Len(t, suffix, 6)
		for _, r := range suffix {
			assert.Contains(t, points.CardAlphabet, string(r))
		}
		assert.True(t, points.IsValidCardID(id))
	}
	assert.NotEqual(t, first, second)
}

// fixedCards reports every candidate as taken.
type fixedCards struct {
	calls int
	err   error
}

func (f *fixedCards) CardIDExists(context.Context, points.BusinessID, string) (bool, error) {
	f.calls++
	return true, f.err
}

func TestAllocator_FallbackAfterCollisions(t *testing.T) {
	// GIVEN: A store where every candidate collides
	cards := &fixedCards{}
	alloc := points.NewAllocator(cards)
	alloc.Now = func() time.Time { return time.UnixMilli(1700000000000) }

	// WHEN: Allocating
	id, err := alloc.Allocate(context.Background(), points.Business{ID: "b", Name: "Bar"})

	// THEN: The time-based fallback is returned after MaxAttempts checks
	require.NoError(t, err)
	assert.Equal(t, alloc.MaxAttempts, cards.calls)
	assert.True(t, strings.HasPrefix(id, "BARX-"), id)
	assert.Contains(t, id, "LOYW3V28")
	assert.True(t, points.IsValidCardID(id))
}

func TestAllocator_StoreError(t *testing.T) {
	alloc := points.NewAllocator(&fixedCards{err: errors.New("db down")})

	_, err := alloc.Allocate(context.Background(), points.Business{ID: "b", Name: "Bar"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "db down")
}

func TestAllocator_RandomSourceExhausted(t *testing.T) {
	alloc := points.NewAllocator(store.NewMemory())
	alloc.Rand = bytes.NewReader(nil)

	_, err := alloc.Allocate(context.Background(), points.Business{ID: "b", Name: "Bar"})

	assert.Error(t, err)
}
