package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grcbridge/internal/archer"
)

func loginParams() archer.ConnectionParameters {
	p := testConn("T1")
	p.Password = "hunter2"
	return p
}

func TestService_LoginExpireRefresh(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := NewMemoryStore(WithClock(clock.Now))
	auth := tokens(archer.ProtocolREST, "tok-1", "tok-2")
	svc := NewService(st, auth, DefaultTTL, nopLog(), nil, WithServiceClock(clock.Now))

	sess, proto, err := svc.Login(ctx, loginParams())
	require.NoError(t, err)
	assert.Equal(t, archer.ProtocolREST, proto)
	assert.True(t, sess.ExpiresAt.Equal(clock.Now().Add(20*time.Minute)))

	clock.Advance(21 * time.Minute)
	_, err = svc.Check(ctx, "T1", sess.ID)
	assert.ErrorIs(t, err, ErrSessionExpired)

	res, err := svc.Refresh(ctx, "T1", sess.ID, "hunter2")
	require.NoError(t, err)
	assert.True(t, res.ExpiresAt.Equal(clock.Now().Add(20*time.Minute)))

	live, err := svc.Check(ctx, "T1", sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "tok-2", live.Token)
}

func TestService_LoginFailureCreatesNothing(t *testing.T) {
	st := NewMemoryStore()
	svc := NewService(st, rejecting(), DefaultTTL, nopLog(), nil)

	_, _, err := svc.Login(context.Background(), loginParams())
	assert.ErrorIs(t, err, archer.ErrAuthenticationFailed)
	n, _ := st.DeleteExpired(context.Background(), time.Now().Add(24*time.Hour))
	assert.Zero(t, n)
}

func TestService_ReloginIssuesNewSession(t *testing.T) {
	svc := NewService(NewMemoryStore(), tokens(archer.ProtocolREST, "a", "b"), DefaultTTL, nopLog(), nil)

	first, _, err := svc.Login(context.Background(), loginParams())
	require.NoError(t, err)
	second, _, err := svc.Login(context.Background(), loginParams())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)

	_, err = svc.Check(context.Background(), "T1", first.ID)
	assert.NoError(t, err)
}

func TestService_Logout(t *testing.T) {
	ctx := context.Background()
	svc := NewService(NewMemoryStore(), tokens(archer.ProtocolREST, "a"), 0, nopLog(), nil)
	sess, _, err := svc.Login(ctx, loginParams())
	require.NoError(t, err)

	require.NoError(t, svc.Logout(ctx, "T1", sess.ID))
	require.NoError(t, svc.Logout(ctx, "T1", sess.ID))
	_, err = svc.Check(ctx, "T1", sess.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweeper_RemovesPastRetention(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	st := NewMemoryStore(WithClock(clock.Now))
	old, err := st.Create(ctx, "t1", testConn("t1"), "old", DefaultTTL)
	require.NoError(t, err)

	sw := NewSweeper(st, time.Minute, time.Hour, nopLog(), nil)
	sw.now = clock.Now

	clock.Advance(30 * time.Minute)
	assert.Zero(t, sw.SweepOnce(ctx), "expired but within retention")
	_, err = st.FetchForRefresh(ctx, "t1", old.ID)
	require.NoError(t, err)

	clock.Advance(time.Hour)
	assert.Equal(t, int64(1), sw.SweepOnce(ctx))
	_, err = st.FetchForRefresh(ctx, "t1", old.ID)
	assert.ErrorIs(t, err, ErrSessionNotFound)
}

func TestSweeper_RunStopsWithContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewSweeper(NewMemoryStore(), time.Millisecond, time.Hour, nopLog(), nil).Run(ctx)
		close(done)
	}()
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
