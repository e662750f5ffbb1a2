package registry

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRegisterUnregisterTracksEntries(t *testing.T) {
	r := New(nil, nil)
	r.Register(111, 1)
	r.Register(222, 2)

	snap := r.Snapshot()
	require.Len(t, snap, 2)

	r.Unregister(111)
	require.Len(t, r.Snapshot(), 1)

	r.Unregister(111) // idempotent
	require.Len(t, r.Snapshot(), 1)
}

func TestAcquireSlotBlocksUntilFree(t *testing.T) {
	r := New(nil, nil)
	r.Register(1, 10)

	// max=1, registry already has one entry: AcquireSlot must block until
	// Unregister frees it, then return promptly rather than timing out.
	done := make(chan error, 1)
	go func() {
		done <- r.AcquireSlot(context.Background(), 1, 2*time.Second)
	}()

	select {
	case err := <-done:
		t.Fatalf("AcquireSlot returned early with err=%v, want it to block", err)
	case <-time.After(100 * time.Millisecond):
	}

	r.Unregister(1)

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("AcquireSlot never unblocked after a slot freed")
	}
}

func TestAcquireSlotTimesOut(t *testing.T) {
	r := New(nil, nil)
	r.Register(1, 10)

	err := r.AcquireSlot(context.Background(), 1, 50*time.Millisecond)
	require.Error(t, err)
}

func TestAcquireSlotRespectsContextCancellation(t *testing.T) {
	r := New(nil, nil)
	r.Register(1, 10)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.AcquireSlot(ctx, 1, time.Hour) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.ErrorIs(t, err, context.Canceled)
	case <-time.After(time.Second):
		t.Fatal("AcquireSlot did not respect context cancellation")
	}
}

func TestReapOrphansKillsEntriesForEndedSessions(t *testing.T) {
	r := New(nil, nil)
	r.Register(999999, 1) // a pid unlikely to exist; EnsureExit should tolerate ESRCH

	r.ReapOrphans([]int64{2, 3}) // session 1 is not active

	require.Empty(t, r.Snapshot())
}

func TestEnsureExitToleratesAlreadyGonePID(t *testing.T) {
	r := New(nil, nil)
	r.Register(999998, 5)
	require.NoError(t, r.EnsureExit(999998, 10*time.Millisecond))
	require.Empty(t, r.Snapshot())
}
