package watch

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mdm-api/internal/model"
)

func testHub() *Hub {
	logger := zerolog.New(io.Discard)
	return NewHub(nil, nil, &logger)
}

func newEncounter() *model.Encounter {
	enc := &model.Encounter{}
	enc.ID = uuid.New()
	enc.Normalize()
	return enc
}

func receive(t *testing.T, sub *Subscription) Event {
	t.Helper()
	select {
	case ev := <-sub.C:
		return ev
	case <-time.After(time.Second):
		t.Fatal("no event delivered")
		return Event{}
	}
}

func TestPublishReachesAllSubscribers(t *testing.T) {
	hub := testHub()
	enc := newEncounter()

	sub1 := hub.Subscribe(enc.ID)
	sub2 := hub.Subscribe(enc.ID)
	other := hub.Subscribe(uuid.New())
	defer sub1.Cancel()
	defer sub2.Cancel()
	defer other.Cancel()

	hub.Publish(context.Background(), enc)

	assert.Equal(t, enc.ID, receive(t, sub1).Encounter.ID)
	assert.Equal(t, enc.ID, receive(t, sub2).Encounter.ID)

	select {
	case <-other.C:
		t.Fatal("subscriber for another encounter received the event")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestCancelIsIdempotentAndStopsDelivery(t *testing.T) {
	hub := testHub()
	enc := newEncounter()

	sub := hub.Subscribe(enc.ID)
	sub.Cancel()
	sub.Cancel()

	// Publishing after cancel must not panic or deliver.
	hub.Publish(context.Background(), enc)

	_, open := <-sub.C
	assert.False(t, open)
}

func TestNotifyErrorSurfacesToSubscribers(t *testing.T) {
	hub := testHub()
	encID := uuid.New()

	sub := hub.Subscribe(encID)
	defer sub.Cancel()

	hub.NotifyError(encID, context.DeadlineExceeded)

	ev := receive(t, sub)
	require.Nil(t, ev.Encounter)
	assert.ErrorIs(t, ev.Err, context.DeadlineExceeded)
}

type recordingReconciler struct {
	mu  sync.Mutex
	ids []uuid.UUID
}

func (r *recordingReconciler) ApplySnapshot(enc *model.Encounter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ids = append(r.ids, enc.ID)
}

func (r *recordingReconciler) seen() []uuid.UUID {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]uuid.UUID(nil), r.ids...)
}

type fakeBroker struct {
	msgs chan []byte
}

func (f *fakeBroker) Publish(ctx context.Context, channel string, message interface{}) error {
	return nil
}

func (f *fakeBroker) Subscribe(ctx context.Context, channel string) (<-chan []byte, error) {
	return f.msgs, nil
}

func (f *fakeBroker) Close() error { return nil }

func TestReconcilerSeesLocalPublishes(t *testing.T) {
	hub := testHub()
	rec := &recordingReconciler{}
	hub.AddReconciler(rec)

	// No subscribers: reconciliation happens regardless of fanout targets.
	enc := newEncounter()
	hub.Publish(context.Background(), enc)

	require.Len(t, rec.seen(), 1)
	assert.Equal(t, enc.ID, rec.seen()[0])

	// Error events carry no snapshot and are not reconciled.
	hub.NotifyError(enc.ID, context.DeadlineExceeded)
	assert.Len(t, rec.seen(), 1)
}

func TestReconcilerSeesBrokerSnapshots(t *testing.T) {
	logger := zerolog.New(io.Discard)
	broker := &fakeBroker{msgs: make(chan []byte, 1)}
	hub := NewHub(broker, nil, &logger)

	rec := &recordingReconciler{}
	hub.AddReconciler(rec)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan error, 1)
	go func() { done <- hub.Run(ctx) }()

	enc := newEncounter()
	payload, err := json.Marshal(enc)
	require.NoError(t, err)
	broker.msgs <- payload

	require.Eventually(t, func() bool {
		ids := rec.seen()
		return len(ids) == 1 && ids[0] == enc.ID
	}, time.Second, 10*time.Millisecond)

	cancel()
	require.NoError(t, <-done)
}

func TestSlowConsumerDropsInsteadOfBlocking(t *testing.T) {
	hub := testHub()
	enc := newEncounter()

	sub := hub.Subscribe(enc.ID)
	defer sub.Cancel()

	// Overflow the buffer; Publish must never block.
	done := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			hub.Publish(context.Background(), enc)
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("publish blocked on a slow consumer")
	}
}
