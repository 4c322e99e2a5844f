package kv

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStoreSetGet(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "a", []byte("one"), time.Time{}))

	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("one"), got)

	_, err = store.Get(ctx, "missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreTTL(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.Set(ctx, "short", []byte("x"), base.Add(time.Minute)))
	require.NoError(t, store.Set(ctx, "forever", []byte("y"), time.Time{}))

	_, err := store.Get(ctx, "short")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(2 * time.Minute) }

	_, err = store.Get(ctx, "short")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = store.Get(ctx, "forever")
	assert.NoError(t, err)
}

func TestMemoryStoreUpdate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	require.NoError(t, store.Set(ctx, "counter", []byte("0"), time.Time{}))

	err := store.Update(ctx, "counter", func(current []byte) ([]byte, time.Time, error) {
		assert.Equal(t, []byte("0"), current)
		return []byte("1"), time.Time{}, nil
	})
	require.NoError(t, err)

	got, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), got)
}

func TestMemoryStoreUpdateMissing(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	err := store.Update(ctx, "nope", func(current []byte) ([]byte, time.Time, error) {
		t.Fatal("fn must not run for a missing key")
		return nil, time.Time{}, nil
	})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateError(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "a", []byte("orig"), time.Time{}))

	boom := errors.New("boom")
	err := store.Update(ctx, "a", func(current []byte) ([]byte, time.Time, error) {
		return nil, time.Time{}, boom
	})
	assert.ErrorIs(t, err, boom)

	// A failed update leaves the value untouched.
	got, err := store.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, []byte("orig"), got)
}

func TestMemoryStoreUpdateKeepsExpiry(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now()
	store.now = func() time.Time { return base }
	require.NoError(t, store.Set(ctx, "a", []byte("v"), base.Add(time.Hour)))

	err := store.Update(ctx, "a", func(current []byte) ([]byte, time.Time, error) {
		return []byte("v2"), time.Time{}, nil
	})
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(30 * time.Minute) }
	_, err = store.Get(ctx, "a")
	require.NoError(t, err)

	store.now = func() time.Time { return base.Add(2 * time.Hour) }
	_, err = store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestMemoryStoreUpdateConcurrent(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "counter", []byte("0"), time.Time{}))

	const workers = 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			_ = store.Update(ctx, "counter", func(current []byte) ([]byte, time.Time, error) {
				n, err := strconv.Atoi(string(current))
				if err != nil {
					return nil, time.Time{}, err
				}
				return []byte(strconv.Itoa(n + 1)), time.Time{}, nil
			})
		}()
	}
	wg.Wait()

	got, err := store.Get(ctx, "counter")
	require.NoError(t, err)
	assert.Equal(t, strconv.Itoa(workers), string(got))
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	require.NoError(t, store.Set(ctx, "a", []byte("x"), time.Time{}))

	require.NoError(t, store.Delete(ctx, "a"))
	_, err := store.Get(ctx, "a")
	assert.ErrorIs(t, err, ErrNotFound)

	// Deleting a missing key is not an error.
	assert.NoError(t, store.Delete(ctx, "a"))
}

func TestMemoryStoreKeysPrefix(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	base := time.Now()
	store.now = func() time.Time { return base }

	require.NoError(t, store.Set(ctx, "ticket:1", []byte("a"), time.Time{}))
	require.NoError(t, store.Set(ctx, "ticket:2", []byte("b"), base.Add(time.Minute)))
	require.NoError(t, store.Set(ctx, "room:1", []byte("c"), time.Time{}))

	keys, err := store.Keys(ctx, "ticket:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ticket:1", "ticket:2"}, keys)

	// Expired keys drop out of listings.
	store.now = func() time.Time { return base.Add(2 * time.Minute) }
	keys, err = store.Keys(ctx, "ticket:")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"ticket:1"}, keys)
}
