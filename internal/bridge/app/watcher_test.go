package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nightline/iphone-bridge/internal/bridge/domain"
	"github.com/nightline/iphone-bridge/internal/bridge/repository/chatdb"
)

func newTestWatcher(store *chatdb.Store, onMessage MessageHandler) *ChatDBWatcher {
	tracker := NewStatusTracker(nil, testLogger())
	return NewChatDBWatcher(store, tracker, onMessage, 10*time.Millisecond, testLogger())
}

func TestPollOnceDispatchesInboundOnly(t *testing.T) {
	store, db := newFixtureStore(t)
	handle := insertHandle(t, db, "+15551234567")

	insertMessage(t, db, fixtureMessage{guid: "g1", text: "hello", handleID: handle})
	insertMessage(t, db, fixtureMessage{guid: "g2", text: "me too", handleID: handle, isFromMe: true})
	insertMessage(t, db, fixtureMessage{guid: "g3", text: "again", handleID: handle})

	var got []domain.InboundMessage
	w := newTestWatcher(store, func(ctx context.Context, msg domain.InboundMessage) error {
		got = append(got, msg)
		return nil
	})

	require.NoError(t, w.pollOnce(context.Background()))

	require.Len(t, got, 2)
	assert.Equal(t, "g1", got[0].GUID)
	assert.Equal(t, "g3", got[1].GUID)
	// Own message advanced the cursor even though it was not dispatched.
	assert.Equal(t, int64(3), w.LastRowID())
}

func TestPollOnceCursorSurvivesHandlerError(t *testing.T) {
	store, db := newFixtureStore(t)
	handle := insertHandle(t, db, "+15551234567")
	insertMessage(t, db, fixtureMessage{guid: "g1", text: "hello", handleID: handle})

	calls := 0
	w := newTestWatcher(store, func(ctx context.Context, msg domain.InboundMessage) error {
		calls++
		return errors.New("webhook down")
	})

	require.NoError(t, w.pollOnce(context.Background()))
	assert.Equal(t, 1, calls)
	assert.Equal(t, int64(1), w.LastRowID())

	// The failed row is not replayed on the next cycle.
	require.NoError(t, w.pollOnce(context.Background()))
	assert.Equal(t, 1, calls)
}

func TestPollOnceSkipHistorical(t *testing.T) {
	store, db := newFixtureStore(t)
	handle := insertHandle(t, db, "+15551234567")
	insertMessage(t, db, fixtureMessage{guid: "old-1", text: "backlog", handleID: handle})
	insertMessage(t, db, fixtureMessage{guid: "old-2", text: "backlog", handleID: handle})

	var got []string
	w := newTestWatcher(store, func(ctx context.Context, msg domain.InboundMessage) error {
		got = append(got, msg.GUID)
		return nil
	})
	w.skipPending = true

	require.NoError(t, w.pollOnce(context.Background()))
	assert.Empty(t, got)
	assert.Equal(t, int64(2), w.LastRowID())

	insertMessage(t, db, fixtureMessage{guid: "fresh", text: "new", handleID: handle})
	require.NoError(t, w.pollOnce(context.Background()))
	assert.Equal(t, []string{"fresh"}, got)
}

func TestPollOnceMissingStore(t *testing.T) {
	store := chatdb.NewStore(t.TempDir()+"/absent/chat.db", testLogger())
	w := newTestWatcher(store, func(ctx context.Context, msg domain.InboundMessage) error {
		t.Fatal("handler must not run")
		return nil
	})

	err := w.pollOnce(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, chatdb.ErrStoreMissing)
}

func TestWatcherStartStop(t *testing.T) {
	store, db := newFixtureStore(t)
	handle := insertHandle(t, db, "+15551234567")

	received := make(chan string, 10)
	w := newTestWatcher(store, func(ctx context.Context, msg domain.InboundMessage) error {
		received <- msg.GUID
		return nil
	})

	require.NoError(t, w.Start(context.Background(), false))
	assert.True(t, w.IsRunning())

	// Second Start is a no-op.
	require.NoError(t, w.Start(context.Background(), false))

	insertMessage(t, db, fixtureMessage{guid: "live-1", text: "hi", handleID: handle})

	select {
	case guid := <-received:
		assert.Equal(t, "live-1", guid)
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for message dispatch")
	}

	w.Stop()
	assert.False(t, w.IsRunning())
	assert.Equal(t, int64(1), w.LastRowID())
}

func TestWatcherStopBeforeStart(t *testing.T) {
	store, _ := newFixtureStore(t)
	w := newTestWatcher(store, nil)
	w.Stop()
	assert.False(t, w.IsRunning())
}
