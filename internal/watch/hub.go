package watch

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/pkg/messaging"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
)

const encounterChannel = "encounters"

// Event is one push on a live encounter subscription: either a full
// snapshot or a transport error, never both.
type Event struct {
	Encounter *model.Encounter
	Err       error
}

// Subscription is a cancellable live feed for one encounter. Cancel is
// idempotent and guarantees no delivery after it returns.
type Subscription struct {
	C chan Event

	hub         *Hub
	encounterID uuid.UUID
	mu          sync.Mutex
	cancelled   bool
}

// Cancel tears the subscription down. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.mu.Lock()
	if s.cancelled {
		s.mu.Unlock()
		return
	}
	s.cancelled = true
	s.mu.Unlock()

	s.hub.remove(s)
	close(s.C)
}

// deliver pushes an event unless the subscription is cancelled or the
// consumer has fallen behind. Holding the lock across the send ensures
// Cancel cannot close the channel mid-delivery.
func (s *Subscription) deliver(ev Event) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancelled {
		return
	}
	select {
	case s.C <- ev:
	default:
		// Slow consumer: drop this snapshot, the next one supersedes it.
	}
}

// Reconciler consumes every snapshot the hub sees, before subscriber
// fanout. It lets services with optimistic local state (CDR tracking)
// fold in writes landed by other instances.
type Reconciler interface {
	ApplySnapshot(enc *model.Encounter)
}

// Hub fans encounter snapshots out to live subscriptions. Local writes are
// published through the broker so every API instance sees them, and each
// instance's Run loop feeds its own subscribers.
type Hub struct {
	mu          sync.Mutex
	subs        map[uuid.UUID]map[*Subscription]struct{}
	reconcilers []Reconciler
	broker      messaging.Broker
	metrics     *metrics.Metrics
	logger      *zerolog.Logger
}

func NewHub(broker messaging.Broker, m *metrics.Metrics, logger *zerolog.Logger) *Hub {
	return &Hub{
		subs:    make(map[uuid.UUID]map[*Subscription]struct{}),
		broker:  broker,
		metrics: m,
		logger:  logger,
	}
}

// AddReconciler registers a snapshot consumer. Call during wiring, before
// any Publish or Run.
func (h *Hub) AddReconciler(r Reconciler) {
	h.mu.Lock()
	h.reconcilers = append(h.reconcilers, r)
	h.mu.Unlock()
}

// Subscribe opens a live feed for one encounter.
func (h *Hub) Subscribe(encounterID uuid.UUID) *Subscription {
	sub := &Subscription{
		C:           make(chan Event, 16),
		hub:         h,
		encounterID: encounterID,
	}

	h.mu.Lock()
	if h.subs[encounterID] == nil {
		h.subs[encounterID] = make(map[*Subscription]struct{})
	}
	h.subs[encounterID][sub] = struct{}{}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WatchSubscribers.Inc()
	}
	return sub
}

func (h *Hub) remove(sub *Subscription) {
	h.mu.Lock()
	if set, ok := h.subs[sub.encounterID]; ok {
		delete(set, sub)
		if len(set) == 0 {
			delete(h.subs, sub.encounterID)
		}
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WatchSubscribers.Dec()
	}
}

// Publish broadcasts a snapshot to the broker and to local subscribers.
// Broker failures are logged and swallowed: the local fanout already
// happened and the editing experience must not stall on the bus.
func (h *Hub) Publish(ctx context.Context, enc *model.Encounter) {
	h.fanout(enc.ID, Event{Encounter: enc})

	if h.broker == nil {
		return
	}
	if err := h.broker.Publish(ctx, encounterChannel, enc); err != nil {
		h.logger.Warn().Err(err).Str("encounter_id", enc.ID.String()).Msg("failed to publish encounter snapshot")
	}
}

// NotifyError surfaces a transport failure to subscribers so consumers can
// show an error state instead of hanging.
func (h *Hub) NotifyError(encounterID uuid.UUID, err error) {
	h.fanout(encounterID, Event{Err: err})
}

func (h *Hub) fanout(encounterID uuid.UUID, ev Event) {
	h.mu.Lock()
	targets := make([]*Subscription, 0, len(h.subs[encounterID]))
	for sub := range h.subs[encounterID] {
		targets = append(targets, sub)
	}
	reconcilers := h.reconcilers
	h.mu.Unlock()

	if ev.Encounter != nil {
		for _, r := range reconcilers {
			r.ApplySnapshot(ev.Encounter)
		}
	}

	for _, sub := range targets {
		sub.deliver(ev)
	}
	if h.metrics != nil && len(targets) > 0 {
		h.metrics.WatchEvents.Add(float64(len(targets)))
	}
}

// Run consumes the broker channel and fans remote snapshots out to local
// subscribers. Snapshots that originated locally are re-delivered, which is
// harmless: subscribers always receive the full current document.
func (h *Hub) Run(ctx context.Context) error {
	if h.broker == nil {
		<-ctx.Done()
		return nil
	}

	msgs, err := h.broker.Subscribe(ctx, encounterChannel)
	if err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case payload, ok := <-msgs:
			if !ok {
				return nil
			}
			var enc model.Encounter
			if err := json.Unmarshal(payload, &enc); err != nil {
				h.logger.Warn().Err(err).Msg("failed to decode encounter snapshot")
				continue
			}
			enc.Normalize()
			h.fanout(enc.ID, Event{Encounter: &enc})
		}
	}
}
