package session

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shopgraph/shopgraph/internal/shoperr"
)

func newTestStore(t *testing.T) (*Store, *time.Time) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	store := NewStoreFromClient(client, Config{
		SessionTTL:      24 * time.Hour,
		ConversationTTL: 2 * time.Hour,
	}, nil)

	now := time.Now().UTC().Truncate(time.Second)
	store.now = func() time.Time { return now }
	return store, &now
}

func TestGetOrCreateIdempotent(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	first, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", first.ID)

	second, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, first.CreatedAt, second.CreatedAt)
	assert.Equal(t, first.ID, second.ID)
}

func TestExpiredSessionReadsAsAbsent(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	created, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)

	// Past the session TTL by timestamp, even though the key still exists.
	*now = now.Add(25 * time.Hour)

	_, err = store.Get(ctx, "sess-1")
	require.Error(t, err)
	assert.True(t, shoperr.Is(err, shoperr.CodeNotFound))

	// GetOrCreate replaces it with a fresh session.
	fresh, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	assert.True(t, fresh.CreatedAt.After(created.CreatedAt))
}

func TestAppendTurnAndHistory(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleUser, "what is your return policy?"))
	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleAssistant, "Returns are accepted within 30 days."))
	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleUser, "and shipping?"))

	turns, err := store.History(ctx, "sess-1", 0)
	require.NoError(t, err)
	require.Len(t, turns, 3)
	assert.Equal(t, RoleUser, turns[0].Role)
	assert.Equal(t, "and shipping?", turns[2].Content)

	capped, err := store.History(ctx, "sess-1", 2)
	require.NoError(t, err)
	require.Len(t, capped, 2)
	assert.Equal(t, "Returns are accepted within 30 days.", capped[0].Content)

	info, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 3, info.ConversationCount)
}

func TestAppendTurnRejectsUnknownRole(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.AppendTurn(context.Background(), "sess-1", "system", "nope")
	require.Error(t, err)
	assert.True(t, shoperr.Is(err, shoperr.CodeValidationFailure))
}

func TestConversationExpiresIndependently(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleUser, "hello"))

	// Past the conversation TTL but inside the session TTL.
	*now = now.Add(3 * time.Hour)

	turns, err := store.History(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)

	info, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "sess-1", info.ID)
}

func TestUpdatePreferencesMerges(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpdatePreferences(ctx, "sess-1", map[string]any{
		"budget":   "under_100",
		"category": "electronics",
	}))
	require.NoError(t, store.UpdatePreferences(ctx, "sess-1", map[string]any{
		"budget": "under_50",
	}))

	info, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	assert.Equal(t, "under_50", info.Preferences["budget"])
	assert.Equal(t, "electronics", info.Preferences["category"])
}

func TestCartRoundTrip(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddCartItem(ctx, "sess-1", CartItem{Name: "Headphones", Price: 79.99, SKU: "HP-100"}))
	require.NoError(t, store.AddCartItem(ctx, "sess-1", CartItem{Name: "Charger", Price: 19.99}))

	cart, err := store.Cart(ctx, "sess-1")
	require.NoError(t, err)
	require.Len(t, cart, 2)
	assert.Equal(t, "Headphones", cart[0].Name)
	assert.False(t, cart[0].AddedAt.IsZero())

	require.NoError(t, store.ClearCart(ctx, "sess-1"))
	cart, err = store.Cart(ctx, "sess-1")
	require.NoError(t, err)
	assert.Empty(t, cart)
}

func TestCartValidation(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	err := store.AddCartItem(ctx, "sess-1", CartItem{Name: "", Price: 1})
	assert.True(t, shoperr.Is(err, shoperr.CodeValidationFailure))

	err = store.AddCartItem(ctx, "sess-1", CartItem{Name: "x", Price: -1})
	assert.True(t, shoperr.Is(err, shoperr.CodeValidationFailure))
}

func TestConcurrentCartAdds(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = store.AddCartItem(ctx, "sess-1", CartItem{Name: "Widget", Price: 5})
		}()
	}
	wg.Wait()

	cart, err := store.Cart(ctx, "sess-1")
	require.NoError(t, err)
	assert.Len(t, cart, 20, "serialized adds must not lose writes")
}

func TestAnalytics(t *testing.T) {
	store, now := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)

	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleUser, "wireless headphones with noise cancellation"))
	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleAssistant, "We carry several models."))
	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleUser, "cheapest wireless headphones"))

	*now = now.Add(10 * time.Minute)
	_, err = store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)

	analytics, err := store.Analytics(ctx, "sess-1")
	require.NoError(t, err)

	assert.Equal(t, "sess-1", analytics.SessionID)
	assert.Equal(t, 2, analytics.TurnCounts[RoleUser])
	assert.Equal(t, 1, analytics.TurnCounts[RoleAssistant])
	assert.InDelta(t, 600, analytics.DurationSeconds, 1)

	require.NotEmpty(t, analytics.TopTerms)
	assert.Equal(t, "headphones", analytics.TopTerms[0].Term)
	assert.Equal(t, 2, analytics.TopTerms[0].Count)
}

func TestAnalyticsUnknownSession(t *testing.T) {
	store, _ := newTestStore(t)

	_, err := store.Analytics(context.Background(), "missing")
	require.Error(t, err)
	assert.True(t, shoperr.Is(err, shoperr.CodeNotFound))
}

func TestDelete(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.AppendTurn(ctx, "sess-1", RoleUser, "hi"))

	require.NoError(t, store.Delete(ctx, "sess-1"))

	_, err = store.Get(ctx, "sess-1")
	assert.True(t, shoperr.Is(err, shoperr.CodeNotFound))
	turns, err := store.History(ctx, "sess-1", 0)
	require.NoError(t, err)
	assert.Empty(t, turns)
}

func TestDeleteDropsSessionLock(t *testing.T) {
	store, _ := newTestStore(t)
	ctx := context.Background()

	_, err := store.GetOrCreate(ctx, "sess-1")
	require.NoError(t, err)
	require.NoError(t, store.AddCartItem(ctx, "sess-1", CartItem{Name: "mug", Price: 9.99}))

	_, held := store.locks.Load("sess-1")
	require.True(t, held, "cart mutation populates the lock map")

	require.NoError(t, store.Delete(ctx, "sess-1"))
	_, held = store.locks.Load("sess-1")
	assert.False(t, held, "lock entry released with the session")
}
