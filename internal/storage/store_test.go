package storage

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// openTestStore creates a migrated in-memory Store for testing.
func openTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	db, err := Open(context.Background(), DriverCGO, MemoryPath)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	store, err := NewSQLiteStore(db)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	return store
}

// --- Actions ---

func TestAddAction_ListActions_Roundtrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := &Action{
		Kind:     "CREATE",
		Endpoint: "/api/posts",
		Method:   "POST",
		Headers:  map[string]string{"Content-Type": "application/json"},
		Body:     []byte(`{"title":"hello"}`),
	}
	require.NoError(t, store.AddAction(ctx, a))

	assert.NotEmpty(t, a.ID, "action ID should be generated")
	assert.Greater(t, a.Seq, int64(0))
	assert.False(t, a.CreatedAt.IsZero())

	got, err := store.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, a.ID, got[0].ID)
	assert.Equal(t, "CREATE", got[0].Kind)
	assert.Equal(t, "/api/posts", got[0].Endpoint)
	assert.Equal(t, "POST", got[0].Method)
	assert.Equal(t, "application/json", got[0].Headers["Content-Type"])
	assert.JSONEq(t, `{"title":"hello"}`, string(got[0].Body))
	assert.Equal(t, 0, got[0].RetryCount)
}

func TestListActions_InsertionOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// Identical timestamps must still come back in insertion order.
	fixed := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	for _, id := range []string{"c", "a", "b"} {
		require.NoError(t, store.AddAction(ctx, &Action{
			ID: id, Kind: "UPDATE", Endpoint: "/x/" + id, Method: "PUT", CreatedAt: fixed,
		}))
	}

	got, err := store.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "c", got[0].ID)
	assert.Equal(t, "a", got[1].ID)
	assert.Equal(t, "b", got[2].ID)
}

func TestListActions_EmptyIsNotNil(t *testing.T) {
	store := openTestStore(t)
	got, err := store.ListActions(context.Background())
	require.NoError(t, err)
	assert.NotNil(t, got)
	assert.Empty(t, got)
}

func TestUpdateActionRetry(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := &Action{Kind: "DELETE", Endpoint: "/api/posts/1", Method: "DELETE"}
	require.NoError(t, store.AddAction(ctx, a))
	require.NoError(t, store.UpdateActionRetry(ctx, a.ID, 2, "status 503"))

	got, err := store.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, 2, got[0].RetryCount)
	assert.Equal(t, "status 503", got[0].LastError)

	err = store.UpdateActionRetry(ctx, "missing", 1, "")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDeleteAction(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	a := &Action{Kind: "CREATE", Endpoint: "/a", Method: "POST"}
	require.NoError(t, store.AddAction(ctx, a))
	require.NoError(t, store.DeleteAction(ctx, a.ID))

	got, err := store.ListActions(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)

	assert.ErrorIs(t, store.DeleteAction(ctx, a.ID), ErrNotFound)
}

// --- Content ---

func TestUpsertContent_GetContent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	c := &ContentRecord{ID: "post-1", Title: "Draft", Content: "body", Type: "post", Status: "draft", LastModified: 5}
	require.NoError(t, store.UpsertContent(ctx, c))

	got, err := store.GetContent(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, *c, *got)

	c.Title = "Final"
	c.LastModified = 9
	require.NoError(t, store.UpsertContent(ctx, c))

	got, err = store.GetContent(ctx, "post-1")
	require.NoError(t, err)
	assert.Equal(t, "Final", got.Title)
	assert.Equal(t, int64(9), got.LastModified)

	_, err = store.GetContent(ctx, "nope")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, store.UpsertContent(ctx, &ContentRecord{}))
}

func TestListUnsyncedContent_MarkSynced(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.UpsertContent(ctx, &ContentRecord{ID: "a", LastModified: 1}))
	require.NoError(t, store.UpsertContent(ctx, &ContentRecord{ID: "b", LastModified: 2}))
	require.NoError(t, store.UpsertContent(ctx, &ContentRecord{ID: "c", LastModified: 3, Synced: true}))

	pending, err := store.ListUnsyncedContent(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, "a", pending[0].ID)
	assert.Equal(t, "b", pending[1].ID)

	require.NoError(t, store.MarkContentSynced(ctx, "a"))

	pending, err = store.ListUnsyncedContent(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "b", pending[0].ID)

	assert.ErrorIs(t, store.MarkContentSynced(ctx, "zzz"), ErrNotFound)
}

// --- Batches ---

func TestSaveBatch_ListBatches(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	b := &BatchRecord{Payload: []byte(`[{"id":"e1"}]`), EventCount: 1}
	dropped, err := store.SaveBatch(ctx, b, 10)
	require.NoError(t, err)
	assert.Equal(t, int64(0), dropped)
	assert.NotEmpty(t, b.ID)
	assert.Equal(t, int64(len(b.Payload)), b.SizeBytes)

	got, err := store.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, b.ID, got[0].ID)
	assert.Equal(t, 1, got[0].EventCount)
	assert.JSONEq(t, `[{"id":"e1"}]`, string(got[0].Payload))
}

func TestSaveBatch_UpsertKeepsPosition(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	first := &BatchRecord{ID: "first", Payload: []byte(`[]`)}
	second := &BatchRecord{ID: "second", Payload: []byte(`[]`)}
	_, err := store.SaveBatch(ctx, first, 0)
	require.NoError(t, err)
	_, err = store.SaveBatch(ctx, second, 0)
	require.NoError(t, err)

	first.RetryCount = 4
	_, err = store.SaveBatch(ctx, first, 0)
	require.NoError(t, err)

	got, err := store.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "first", got[0].ID)
	assert.Equal(t, 4, got[0].RetryCount)
}

func TestSaveBatch_CapDropsOldest(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	var total int64
	for i := 0; i < 5; i++ {
		dropped, err := store.SaveBatch(ctx, &BatchRecord{ID: fmt.Sprintf("b%d", i), Payload: []byte(`[]`)}, 3)
		require.NoError(t, err)
		total += dropped
	}
	assert.Equal(t, int64(2), total)

	got, err := store.ListBatches(ctx)
	require.NoError(t, err)
	require.Len(t, got, 3)
	assert.Equal(t, "b2", got[0].ID)
	assert.Equal(t, "b4", got[2].ID)
}

func TestUpdateAndDeleteBatch(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	_, err := store.SaveBatch(ctx, &BatchRecord{ID: "b", Payload: []byte(`[]`)}, 0)
	require.NoError(t, err)
	require.NoError(t, store.UpdateBatchRetry(ctx, "b", 2))

	got, err := store.ListBatches(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, got[0].RetryCount)

	require.NoError(t, store.DeleteBatch(ctx, "b"))
	assert.ErrorIs(t, store.DeleteBatch(ctx, "b"), ErrNotFound)
	assert.ErrorIs(t, store.UpdateBatchRetry(ctx, "b", 3), ErrNotFound)
}

// --- Settings ---

func TestPutSetting_GetSetting(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	require.NoError(t, store.PutSetting(ctx, "theme", "dark"))
	got, err := store.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "dark", got.Value)
	assert.True(t, now.Equal(got.LastModified))

	require.NoError(t, store.PutSetting(ctx, "theme", "light"))
	got, err = store.GetSetting(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, "light", got.Value)

	_, err = store.GetSetting(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

// --- Cache entries ---

func TestReplaceCacheEntries_Load(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Millisecond)
	rows := []CacheRow{
		{Key: "a", Data: []byte(`"x"`), CreatedAt: now, LastAccessedAt: now, SizeBytes: 3, Priority: 2, Tags: []string{"t1"}},
		{Key: "b", Data: []byte{1, 2, 3}, CreatedAt: now, ExpiresAt: now.Add(time.Hour), LastAccessedAt: now, Compressed: true, Encrypted: true},
	}
	require.NoError(t, store.ReplaceCacheEntries(ctx, rows))

	got, err := store.LoadCacheEntries(ctx)
	require.NoError(t, err)
	require.Len(t, got, 2)

	byKey := map[string]CacheRow{}
	for _, r := range got {
		byKey[r.Key] = r
	}
	assert.Equal(t, []string{"t1"}, byKey["a"].Tags)
	assert.Equal(t, 2, byKey["a"].Priority)
	assert.True(t, byKey["a"].ExpiresAt.IsZero())
	assert.True(t, now.Equal(byKey["a"].CreatedAt))
	assert.True(t, byKey["b"].Compressed)
	assert.True(t, byKey["b"].Encrypted)
	assert.Equal(t, []byte{1, 2, 3}, byKey["b"].Data)
	assert.True(t, now.Add(time.Hour).Equal(byKey["b"].ExpiresAt))

	// Replacing with a smaller set removes the rest.
	require.NoError(t, store.ReplaceCacheEntries(ctx, rows[:1]))
	got, err = store.LoadCacheEntries(ctx)
	require.NoError(t, err)
	assert.Len(t, got, 1)
}

// --- Maintenance ---

func TestPrune(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	store.SetClock(func() time.Time { return now })

	old := now.Add(-48 * time.Hour)
	require.NoError(t, store.AddAction(ctx, &Action{Kind: "CREATE", Endpoint: "/old", Method: "POST", CreatedAt: old}))
	require.NoError(t, store.AddAction(ctx, &Action{Kind: "CREATE", Endpoint: "/new", Method: "POST"}))
	_, err := store.SaveBatch(ctx, &BatchRecord{ID: "old", Payload: []byte(`[]`), CreatedAt: old}, 0)
	require.NoError(t, err)
	_, err = store.SaveBatch(ctx, &BatchRecord{ID: "new", Payload: []byte(`[]`)}, 0)
	require.NoError(t, err)
	require.NoError(t, store.ReplaceCacheEntries(ctx, []CacheRow{
		{Key: "expired", Data: []byte(`1`), CreatedAt: old, ExpiresAt: now.Add(-time.Minute), LastAccessedAt: old},
		{Key: "live", Data: []byte(`1`), CreatedAt: old, LastAccessedAt: old},
	}))

	res, err := store.Prune(ctx, now.Add(-24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Actions)
	assert.Equal(t, int64(1), res.Batches)
	assert.Equal(t, int64(1), res.CacheEntries)

	actions, err := store.ListActions(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, "/new", actions[0].Endpoint)
}

func TestPurgeAll(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.AddAction(ctx, &Action{Kind: "CREATE", Endpoint: "/a", Method: "POST"}))
	require.NoError(t, store.UpsertContent(ctx, &ContentRecord{ID: "c"}))
	_, err := store.SaveBatch(ctx, &BatchRecord{Payload: []byte(`[]`)}, 0)
	require.NoError(t, err)
	require.NoError(t, store.PutSetting(ctx, "k", "v"))

	require.NoError(t, store.PurgeAll(ctx))

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingActions)
	assert.Equal(t, int64(0), stats.ContentRecords)
	assert.Equal(t, int64(0), stats.OfflineBatches)
	assert.Equal(t, int64(0), stats.Settings)

	// Store remains usable after purge
	require.NoError(t, store.AddAction(ctx, &Action{Kind: "CREATE", Endpoint: "/b", Method: "POST"}))
}

func TestGetStats(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	stats, err := store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.PendingActions)
	assert.True(t, stats.OldestAction.IsZero())
	assert.Greater(t, stats.DatabaseSizeBytes, int64(0))

	created := time.Date(2026, 2, 2, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.AddAction(ctx, &Action{Kind: "CREATE", Endpoint: "/a", Method: "POST", CreatedAt: created}))
	require.NoError(t, store.UpsertContent(ctx, &ContentRecord{ID: "x"}))
	_, err = store.SaveBatch(ctx, &BatchRecord{Payload: []byte(`[]`), EventCount: 7}, 0)
	require.NoError(t, err)

	stats, err = store.GetStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.PendingActions)
	assert.Equal(t, int64(1), stats.ContentRecords)
	assert.Equal(t, int64(1), stats.UnsyncedContent)
	assert.Equal(t, int64(1), stats.OfflineBatches)
	assert.Equal(t, int64(7), stats.OfflineEvents)
	assert.True(t, created.Equal(stats.OldestAction))
}
