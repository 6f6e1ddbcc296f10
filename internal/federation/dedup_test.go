package federation

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupTestSharedStore(t *testing.T) (*SharedStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)

	config := DefaultSharedStoreConfig()
	config.RedisAddr = mr.Addr()
	config.DedupTTL = time.Minute
	config.IncompleteWorkbaseTTL = time.Minute

	store, err := NewSharedStore(config)
	require.NoError(t, err)

	return store, mr
}

func TestSharedStore_MarkSeenFirstTimeIsNotAlreadySeen(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	alreadySeen, err := store.MarkSeen(context.Background(), "peer-a", "fingerprint-1")
	require.NoError(t, err)
	assert.False(t, alreadySeen)
}

func TestSharedStore_MarkSeenSecondTimeIsAlreadySeen(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	_, err := store.MarkSeen(ctx, "peer-a", "fingerprint-1")
	require.NoError(t, err)

	alreadySeen, err := store.MarkSeen(ctx, "peer-a", "fingerprint-1")
	require.NoError(t, err)
	assert.True(t, alreadySeen)
}

func TestSharedStore_MarkSeenIsolatedByPeer(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	_, err := store.MarkSeen(ctx, "peer-a", "fingerprint-1")
	require.NoError(t, err)

	// Same fingerprint under a different peer namespace is unseen — each
	// party dedups its own space.
	alreadySeen, err := store.MarkSeen(ctx, "peer-b", "fingerprint-1")
	require.NoError(t, err)
	assert.False(t, alreadySeen)
}

func TestSharedStore_IncompleteWorkbaseRoundTrip(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	wb := &IncompleteWorkbase{
		PeerID:      "peer-a",
		WorkbaseID:  42,
		Height:      800000,
		CoinbasePfx: []byte{0x01, 0x02},
		CoinbaseSfx: []byte{0x03, 0x04},
	}
	require.NoError(t, store.StoreIncompleteWorkbase(ctx, wb))

	loaded, err := store.LoadIncompleteWorkbase(ctx, "peer-a", 42)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, wb.Height, loaded.Height)
	assert.Equal(t, wb.CoinbasePfx, loaded.CoinbasePfx)
	assert.False(t, loaded.ReceivedAt.IsZero())
}

func TestSharedStore_LoadIncompleteWorkbaseMissingReturnsNil(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	loaded, err := store.LoadIncompleteWorkbase(context.Background(), "peer-a", 999)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSharedStore_ClearIncompleteWorkbase(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	wb := &IncompleteWorkbase{PeerID: "peer-a", WorkbaseID: 7}
	require.NoError(t, store.StoreIncompleteWorkbase(ctx, wb))
	require.NoError(t, store.ClearIncompleteWorkbase(ctx, "peer-a", 7))

	loaded, err := store.LoadIncompleteWorkbase(ctx, "peer-a", 7)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestSharedStore_DeletePeerNamespace(t *testing.T) {
	store, mr := setupTestSharedStore(t)
	defer mr.Close()
	defer store.Close()

	ctx := context.Background()
	_, err := store.MarkSeen(ctx, "peer-a", "fp-1")
	require.NoError(t, err)
	require.NoError(t, store.StoreIncompleteWorkbase(ctx, &IncompleteWorkbase{PeerID: "peer-a", WorkbaseID: 1}))

	require.NoError(t, store.DeletePeerNamespace(ctx, "peer-a"))

	alreadySeen, err := store.MarkSeen(ctx, "peer-a", "fp-1")
	require.NoError(t, err)
	assert.False(t, alreadySeen, "dedup key should have been cleared by namespace deletion")

	loaded, err := store.LoadIncompleteWorkbase(ctx, "peer-a", 1)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}
