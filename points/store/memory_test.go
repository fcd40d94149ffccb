package store

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/warp/loyalty-engine/points"
)

func TestMemory_DuplicateCardIsPerBusiness(t *testing.T) {
	m := NewMemory()

	require.NoError(t, m.PutClient(points.Client{ID: "c-1", BusinessID: "a", CardID: "ALPH-AAAAAA"}))
	require.NoError(t, m.PutClient(points.Client{ID: "c-2", BusinessID: "b", CardID: "ALPH-AAAAAA"}))
	err := m.PutClient(points.Client{ID: "c-3", BusinessID: "a", CardID: "alph-aaaaaa"})
	assert.ErrorIs(t, err, points.ErrDuplicateCardID)

	// Re-putting the same client is an update.
	assert.NoError(t, m.PutClient(points.Client{ID: "c-1", BusinessID: "a", CardID: "ALPH-AAAAAA", Name: "Ana"}))

	exists, err := m.CardIDExists(context.Background(), "a", "Alph-AAAAAA")
	require.NoError(t, err)
	assert.True(t, exists)
}

func TestMemory_WithTxRollsBackOnError(t *testing.T) {
	// GIVEN: A client at 10
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.PutClient(points.Client{ID: "c-1", BusinessID: "a", CardID: "ALPH-AAAAAA", Points: 10}))

	// WHEN: A transaction writes then fails
	err := m.WithTx(ctx, func(tx points.Store) error {
		if err := tx.SetClientPoints(ctx, "c-1", 99); err != nil {
			return err
		}
		if err := tx.AppendEntry(ctx, points.Entry{ID: "e-1", ClientID: "c-1", BusinessID: "a", Points: 89, BeforePoints: 10, AfterPoints: 99}); err != nil {
			return err
		}
		return errors.New("abort")
	})

	// THEN: Neither write survives
	require.EqualError(t, err, "abort")
	c, err := m.GetClient(ctx, "c-1")
	require.NoError(t, err)
	assert.Equal(t, int64(10), c.Points)
	latest, err := m.LatestEntry(ctx, "c-1")
	require.NoError(t, err)
	assert.Nil(t, latest)
}

func TestMemory_DeleteBusinessCascades(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutBusiness(points.Business{ID: "a", Name: "Alpha"})
	m.PutBusiness(points.Business{ID: "b", Name: "Beta"})
	m.PutItem(points.Item{ID: "i-a", BusinessID: "a"})
	require.NoError(t, m.PutClient(points.Client{ID: "c-a", BusinessID: "a", CardID: "ALPH-AAAAAA"}))
	require.NoError(t, m.PutClient(points.Client{ID: "c-b", BusinessID: "b", CardID: "BETA-BBBBBB"}))
	require.NoError(t, m.AppendEntry(ctx, points.Entry{ID: "e-a", ClientID: "c-a", BusinessID: "a", Points: 1, AfterPoints: 1}))
	require.NoError(t, m.AppendEntry(ctx, points.Entry{ID: "e-b", ClientID: "c-b", BusinessID: "b", Points: 1, AfterPoints: 1}))

	require.NoError(t, m.DeleteBusiness(ctx, "a"))

	b, _ := m.GetBusiness(ctx, "a")
	assert.Nil(t, b)
	c, _ := m.GetClient(ctx, "c-a")
	assert.Nil(t, c)
	i, _ := m.GetItem(ctx, "i-a")
	assert.Nil(t, i)
	e, _ := m.GetEntry(ctx, "e-a")
	assert.Nil(t, e)

	other, _ := m.GetEntry(ctx, "e-b")
	assert.NotNil(t, other)

	err := m.DeleteBusiness(ctx, "a")
	assert.ErrorIs(t, err, points.ErrNotFound)
}

func TestMemory_SlugExistsExcludesOwner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	m.PutBusiness(points.Business{ID: "a", Slug: "alpha"})

	taken, err := m.SlugExists(ctx, "alpha", "")
	require.NoError(t, err)
	assert.True(t, taken)

	taken, err = m.SlugExists(ctx, "alpha", "a")
	require.NoError(t, err)
	assert.False(t, taken)
}
