package session

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grcbridge/internal/archer"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func testConn(tenantID string) archer.ConnectionParameters {
	return archer.ConnectionParameters{
		TenantID:   tenantID,
		BaseURL:    "https://grc.example.com",
		InstanceID: "PROD",
		Username:   "alice",
		UserDomain: "CORP",
	}
}

type storeFactory func(t *testing.T, clock *fakeClock) Store

// runStoreContract exercises the behaviour every Store must share.
func runStoreContract(t *testing.T, newStore storeFactory, sweepable bool) {
	ctx := context.Background()

	t.Run("create then fetch", func(t *testing.T) {
		clock := newFakeClock()
		st := newStore(t, clock)
		created, err := st.Create(ctx, "t1", testConn("t1"), "tok-1", DefaultTTL)
		require.NoError(t, err)
		_, err = uuid.Parse(created.ID)
		require.NoError(t, err)
		assert.True(t, created.ExpiresAt.Equal(clock.Now().Add(DefaultTTL)))

		got, err := st.FetchValid(ctx, "t1", created.ID)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", got.Token)
		assert.Equal(t, "alice", got.Username)
		assert.Equal(t, "PROD", got.InstanceID)
		assert.Equal(t, "https://grc.example.com", got.BaseURL)
		assert.Equal(t, "CORP", got.UserDomain)
		assert.True(t, got.ExpiresAt.Equal(created.ExpiresAt))
	})

	t.Run("ids are unique per create", func(t *testing.T) {
		st := newStore(t, newFakeClock())
		a, err := st.Create(ctx, "t1", testConn("t1"), "tok", DefaultTTL)
		require.NoError(t, err)
		b, err := st.Create(ctx, "t1", testConn("t1"), "tok", DefaultTTL)
		require.NoError(t, err)
		assert.NotEqual(t, a.ID, b.ID)
	})

	t.Run("unknown and malformed ids are not found", func(t *testing.T) {
		st := newStore(t, newFakeClock())
		for _, id := range []string{uuid.NewString(), "not-a-uuid", ""} {
			_, err := st.FetchValid(ctx, "t1", id)
			assert.ErrorIs(t, err, ErrSessionNotFound, id)
			_, err = st.FetchForRefresh(ctx, "t1", id)
			assert.ErrorIs(t, err, ErrSessionNotFound, id)
		}
	})

	t.Run("other tenant cannot see or touch the session", func(t *testing.T) {
		st := newStore(t, newFakeClock())
		s, err := st.Create(ctx, "tenant-a", testConn("tenant-a"), "tok-a", DefaultTTL)
		require.NoError(t, err)

		_, err = st.FetchValid(ctx, "tenant-b", s.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = st.FetchForRefresh(ctx, "tenant-b", s.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		ok, err := st.SwapToken(ctx, "tenant-b", s.ID, "evil", time.Now().Add(time.Hour))
		require.NoError(t, err)
		assert.False(t, ok)
		require.NoError(t, st.Delete(ctx, "tenant-b", s.ID))

		got, err := st.FetchValid(ctx, "tenant-a", s.ID)
		require.NoError(t, err)
		assert.Equal(t, "tok-a", got.Token)
	})

	t.Run("expired is distinct from not found", func(t *testing.T) {
		clock := newFakeClock()
		st := newStore(t, clock)
		s, err := st.Create(ctx, "t1", testConn("t1"), "tok-1", DefaultTTL)
		require.NoError(t, err)

		clock.Advance(DefaultTTL)
		_, err = st.FetchValid(ctx, "t1", s.ID)
		assert.ErrorIs(t, err, ErrSessionExpired, "valid strictly before expiresAt")

		clock.Advance(time.Minute)
		_, err = st.FetchValid(ctx, "t1", s.ID)
		assert.ErrorIs(t, err, ErrSessionExpired)

		row, err := st.FetchForRefresh(ctx, "t1", s.ID)
		require.NoError(t, err)
		assert.Equal(t, "tok-1", row.Token)
		assert.Equal(t, "alice", row.Username)
	})

	t.Run("past retention reads as not found without a sweep", func(t *testing.T) {
		clock := newFakeClock()
		st := newStore(t, clock)
		s, err := st.Create(ctx, "t1", testConn("t1"), "tok-1", DefaultTTL)
		require.NoError(t, err)

		clock.Advance(DefaultTTL + 24*time.Hour - time.Second)
		_, err = st.FetchForRefresh(ctx, "t1", s.ID)
		require.NoError(t, err, "still inside the default 24h retention")

		clock.Advance(time.Second)
		_, err = st.FetchForRefresh(ctx, "t1", s.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
		_, err = st.FetchValid(ctx, "t1", s.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("swap replaces token and expiry", func(t *testing.T) {
		clock := newFakeClock()
		st := newStore(t, clock)
		s, err := st.Create(ctx, "t1", testConn("t1"), "old", DefaultTTL)
		require.NoError(t, err)

		clock.Advance(25 * time.Minute)
		newExp := clock.Now().Add(DefaultTTL)
		ok, err := st.SwapToken(ctx, "t1", s.ID, "new", newExp)
		require.NoError(t, err)
		require.True(t, ok)

		got, err := st.FetchValid(ctx, "t1", s.ID)
		require.NoError(t, err)
		assert.Equal(t, "new", got.Token)
		assert.True(t, got.ExpiresAt.Equal(newExp))
		assert.Equal(t, s.Username, got.Username)
		assert.Equal(t, s.BaseURL, got.BaseURL)
	})

	t.Run("swap on missing session reports false", func(t *testing.T) {
		st := newStore(t, newFakeClock())
		ok, err := st.SwapToken(ctx, "t1", uuid.NewString(), "tok", time.Now())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		st := newStore(t, newFakeClock())
		s, err := st.Create(ctx, "t1", testConn("t1"), "tok", DefaultTTL)
		require.NoError(t, err)

		require.NoError(t, st.Delete(ctx, "t1", s.ID))
		require.NoError(t, st.Delete(ctx, "t1", s.ID))
		_, err = st.FetchForRefresh(ctx, "t1", s.ID)
		assert.ErrorIs(t, err, ErrSessionNotFound)
	})

	t.Run("readers never see a torn token and expiry", func(t *testing.T) {
		clock := newFakeClock()
		st := newStore(t, clock)
		base := clock.Now()
		s, err := st.Create(ctx, "t1", testConn("t1"), "tok-0", DefaultTTL)
		require.NoError(t, err)
		// token tok-i always pairs with expiry base+ttl+i minutes
		require.True(t, s.ExpiresAt.Equal(base.Add(DefaultTTL)))

		const swaps = 50
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 1; i <= swaps; i++ {
				_, err := st.SwapToken(ctx, "t1", s.ID, fmt.Sprintf("tok-%d", i), base.Add(DefaultTTL+time.Duration(i)*time.Minute))
				assert.NoError(t, err)
			}
		}()
		for r := 0; r < 4; r++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				for i := 0; i < swaps; i++ {
					got, err := st.FetchValid(ctx, "t1", s.ID)
					if !assert.NoError(t, err) {
						return
					}
					var n int
					_, err = fmt.Sscanf(got.Token, "tok-%d", &n)
					assert.NoError(t, err)
					assert.True(t, got.ExpiresAt.Equal(base.Add(DefaultTTL+time.Duration(n)*time.Minute)), "token %s with expiry %s", got.Token, got.ExpiresAt)
				}
			}()
		}
		wg.Wait()
	})

	if sweepable {
		t.Run("delete expired honours the cutoff", func(t *testing.T) {
			clock := newFakeClock()
			st := newStore(t, clock)
			old, err := st.Create(ctx, "t1", testConn("t1"), "old", time.Minute)
			require.NoError(t, err)
			fresh, err := st.Create(ctx, "t2", testConn("t2"), "fresh", time.Hour)
			require.NoError(t, err)

			n, err := st.DeleteExpired(ctx, clock.Now().Add(30*time.Minute))
			require.NoError(t, err)
			assert.GreaterOrEqual(t, n, int64(1))

			_, err = st.FetchForRefresh(ctx, "t1", old.ID)
			assert.ErrorIs(t, err, ErrSessionNotFound)
			_, err = st.FetchForRefresh(ctx, "t2", fresh.ID)
			assert.NoError(t, err)
		})
	}
}
