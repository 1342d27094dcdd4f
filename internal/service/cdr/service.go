package cdr

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
)

const flushTimeout = 5 * time.Second

// Service owns per-encounter CDR tracking state. Mutations apply to the
// in-memory session immediately and persist through a debounced write of
// the whole tracking map. While a write is pending, incoming store
// snapshots are not allowed to clobber the local state.
type Service struct {
	repo     repository.EncounterRepository
	library  *Library
	interval time.Duration
	logger   *logger.Logger
	metrics  *metrics.Metrics

	mu       sync.Mutex
	sessions map[uuid.UUID]*session
}

type session struct {
	svc         *Service
	encounterID uuid.UUID

	mu           sync.Mutex
	tracking     map[string]*model.CDRTrackingEntry
	pendingWrite bool
	deb          *Debouncer
}

func NewService(repo repository.EncounterRepository, library *Library, debounceInterval time.Duration, log *logger.Logger, m *metrics.Metrics) *Service {
	return &Service{
		repo:     repo,
		library:  library,
		interval: debounceInterval,
		logger:   log,
		metrics:  m,
		sessions: make(map[uuid.UUID]*session),
	}
}

// Library exposes the rule catalogue for read-only consumers.
func (s *Service) Library() *Library {
	return s.library
}

// AnswerComponent records a component answer, recomputes completeness and
// score, and stamps the first-completion section. Unknown rule IDs are
// ignored without error.
func (s *Service) AnswerComponent(ctx context.Context, encounterID uuid.UUID, cdrID, componentID string, value float64) (map[string]*model.CDRTrackingEntry, error) {
	sess, err := s.session(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, ok := sess.tracking[cdrID]
	if !ok {
		return copyTracking(sess.tracking), nil
	}

	wasCompleted := entry.Status == model.CDRStatusCompleted
	entry.Components[componentID] = model.ComponentAnswer{
		Value:    value,
		Answered: true,
		Source:   model.ComponentSourceUserInput,
	}
	s.recompute(cdrID, entry)

	if !wasCompleted && entry.Status == model.CDRStatusCompleted && entry.CompletedInSection == nil {
		// First completion wins; later recompletions leave the stamp alone.
		section := 1
		entry.CompletedInSection = &section
	}

	sess.markDirty("answer_component")
	return copyTracking(sess.tracking), nil
}

// Dismiss hides the rule. Component data is preserved so the dismissal is
// reversible.
func (s *Service) Dismiss(ctx context.Context, encounterID uuid.UUID, cdrID string) (map[string]*model.CDRTrackingEntry, error) {
	sess, err := s.session(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, ok := sess.tracking[cdrID]
	if !ok {
		return copyTracking(sess.tracking), nil
	}

	entry.Dismissed = true
	entry.Status = model.CDRStatusDismissed
	sess.markDirty("dismiss")
	return copyTracking(sess.tracking), nil
}

// Undismiss restores the rule; status and score come back from the
// untouched component data.
func (s *Service) Undismiss(ctx context.Context, encounterID uuid.UUID, cdrID string) (map[string]*model.CDRTrackingEntry, error) {
	sess, err := s.session(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, ok := sess.tracking[cdrID]
	if !ok {
		return copyTracking(sess.tracking), nil
	}

	entry.Dismissed = false
	s.recompute(cdrID, entry)
	sess.markDirty("undismiss")
	return copyTracking(sess.tracking), nil
}

// ToggleExcluded flips only the exclusion flag; status, score and
// components are untouched.
func (s *Service) ToggleExcluded(ctx context.Context, encounterID uuid.UUID, cdrID string) (map[string]*model.CDRTrackingEntry, error) {
	sess, err := s.session(ctx, encounterID)
	if err != nil {
		return nil, err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	entry, ok := sess.tracking[cdrID]
	if !ok {
		return copyTracking(sess.tracking), nil
	}

	entry.Excluded = !entry.Excluded
	sess.markDirty("toggle_excluded")
	return copyTracking(sess.tracking), nil
}

// SeedSuggestions adds pending entries for suggested rules that are not
// tracked yet. Rules missing from the library are skipped.
func (s *Service) SeedSuggestions(ctx context.Context, encounterID uuid.UUID, cdrIDs []string) error {
	sess, err := s.session(ctx, encounterID)
	if err != nil {
		return err
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()

	added := false
	for _, id := range cdrIDs {
		if _, tracked := sess.tracking[id]; tracked {
			continue
		}
		if _, known := s.library.Get(id); !known {
			s.logger.Warn("suggested rule not in library", "cdr_id", id)
			continue
		}
		entry := &model.CDRTrackingEntry{}
		entry.Normalize()
		sess.tracking[id] = entry
		added = true
	}
	if added {
		sess.markDirty("seed")
	}
	return nil
}

// Tracking returns a copy of the current tracking state.
func (s *Service) Tracking(ctx context.Context, encounterID uuid.UUID) (map[string]*model.CDRTrackingEntry, error) {
	sess, err := s.session(ctx, encounterID)
	if err != nil {
		return nil, err
	}
	sess.mu.Lock()
	defer sess.mu.Unlock()
	return copyTracking(sess.tracking), nil
}

// SuggestedTreatments collects the treatments attached to the risk band
// of every completed rule, in library order. Dismissed and excluded rules
// contribute nothing, matching what the finalized document includes.
func (s *Service) SuggestedTreatments(tracking map[string]*model.CDRTrackingEntry) []string {
	var out []string
	seen := make(map[string]struct{})
	for _, id := range s.library.order {
		entry, ok := tracking[id]
		if !ok || entry.Dismissed || entry.Excluded || entry.Status != model.CDRStatusCompleted || entry.Score == nil {
			continue
		}
		def, ok := s.library.Get(id)
		if !ok {
			continue
		}
		for _, rng := range def.Scoring.Ranges {
			if *entry.Score < rng.Min || *entry.Score > rng.Max {
				continue
			}
			for _, treatment := range rng.SuggestedTreatments {
				if _, dup := seen[treatment]; dup {
					continue
				}
				seen[treatment] = struct{}{}
				out = append(out, treatment)
			}
			break
		}
	}
	return out
}

// ApplySnapshot reconciles an incoming store snapshot. If a debounced
// write is still pending the snapshot is ignored; the local state is ahead
// of the store and will overwrite it on flush.
func (s *Service) ApplySnapshot(enc *model.Encounter) {
	s.mu.Lock()
	sess, ok := s.sessions[enc.ID]
	s.mu.Unlock()
	if !ok {
		return
	}

	sess.mu.Lock()
	defer sess.mu.Unlock()
	if sess.pendingWrite {
		return
	}
	sess.tracking = copyTracking(enc.CDRTracking)
}

// Flush forces any pending debounced write to run now.
func (s *Service) Flush(encounterID uuid.UUID) {
	s.mu.Lock()
	sess, ok := s.sessions[encounterID]
	s.mu.Unlock()
	if ok {
		sess.deb.Flush()
	}
}

// Teardown closes the session for an encounter, synchronously flushing any
// pending write so the last edit is never lost. Idempotent.
func (s *Service) Teardown(encounterID uuid.UUID) {
	s.mu.Lock()
	sess, ok := s.sessions[encounterID]
	delete(s.sessions, encounterID)
	s.mu.Unlock()
	if ok {
		sess.deb.Close()
	}
}

func (s *Service) session(ctx context.Context, encounterID uuid.UUID) (*session, error) {
	s.mu.Lock()
	if sess, ok := s.sessions[encounterID]; ok {
		s.mu.Unlock()
		return sess, nil
	}
	s.mu.Unlock()

	enc, err := s.repo.Get(ctx, encounterID)
	if err != nil {
		return nil, fmt.Errorf("failed to load encounter for cdr tracking: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if sess, ok := s.sessions[encounterID]; ok {
		return sess, nil
	}

	sess := &session{
		svc:         s,
		encounterID: encounterID,
		tracking:    copyTracking(enc.CDRTracking),
	}
	sess.deb = NewDebouncer(s.interval, sess.flushNow)
	s.sessions[encounterID] = sess
	return sess, nil
}

// recompute refreshes status, score and interpretation from the component
// answers. Dismissed entries keep their dismissed status but still carry
// fresh component data.
func (s *Service) recompute(cdrID string, entry *model.CDRTrackingEntry) {
	if entry.Dismissed {
		entry.Status = model.CDRStatusDismissed
		return
	}

	def, ok := s.library.Get(cdrID)
	if !ok {
		answered := 0
		for _, a := range entry.Components {
			if a.Answered {
				answered++
			}
		}
		if answered == 0 {
			entry.Status = model.CDRStatusPending
		} else {
			entry.Status = model.CDRStatusPartial
		}
		entry.Score = nil
		entry.Interpretation = nil
		return
	}

	entry.Status = Completeness(def, entry.Components)
	score, interpretation, err := Score(def, entry.Components)
	if err != nil {
		if !errors.Is(err, ErrUnsupportedScoringMethod) {
			s.logger.Warn("failed to score rule", "cdr_id", cdrID, "error", err.Error())
		}
		entry.Score = nil
		entry.Interpretation = nil
		return
	}
	entry.Score = score
	entry.Interpretation = interpretation
}

// markDirty is called with the session lock held.
func (sess *session) markDirty(intent string) {
	sess.pendingWrite = true
	sess.deb.Trigger()
	if sess.svc.metrics != nil {
		sess.svc.metrics.CDRIntentsApplied.WithLabelValues(intent).Inc()
	}
}

func (sess *session) flushNow() {
	sess.mu.Lock()
	snapshot := copyTracking(sess.tracking)
	sess.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), flushTimeout)
	defer cancel()

	if err := sess.svc.repo.UpdateCDRTracking(ctx, sess.encounterID, snapshot); err != nil {
		// Availability over durability: the edit survives in memory and
		// the next mutation reschedules the write.
		if sess.svc.metrics != nil {
			sess.svc.metrics.DebounceFlushErrors.Inc()
		}
		sess.svc.logger.Error(err, "failed to flush cdr tracking", "encounter_id", sess.encounterID.String())
		return
	}

	sess.mu.Lock()
	sess.pendingWrite = false
	sess.mu.Unlock()

	if sess.svc.metrics != nil {
		sess.svc.metrics.DebounceFlushes.Inc()
	}
}

func copyTracking(src map[string]*model.CDRTrackingEntry) map[string]*model.CDRTrackingEntry {
	dst := make(map[string]*model.CDRTrackingEntry, len(src))
	for id, entry := range src {
		copied := *entry
		copied.Components = make(map[string]model.ComponentAnswer, len(entry.Components))
		for cid, answer := range entry.Components {
			copied.Components[cid] = answer
		}
		if entry.CompletedInSection != nil {
			section := *entry.CompletedInSection
			copied.CompletedInSection = &section
		}
		if entry.Score != nil {
			score := *entry.Score
			copied.Score = &score
		}
		if entry.Interpretation != nil {
			interp := *entry.Interpretation
			copied.Interpretation = &interp
		}
		dst[id] = &copied
	}
	return dst
}
