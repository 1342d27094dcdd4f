package encounter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jwalitptl/mdm-api/internal/llm"
	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/internal/repository"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
)

// DefaultMaxSubmissionsPerSection bounds how many times one section may be
// submitted before it locks.
const DefaultMaxSubmissionsPerSection = 2

// CDRTracker is the slice of the CDR tracking service the state machine
// needs.
type CDRTracker interface {
	SeedSuggestions(ctx context.Context, encounterID uuid.UUID, cdrIDs []string) error
	Tracking(ctx context.Context, encounterID uuid.UUID) (map[string]*model.CDRTrackingEntry, error)
	SuggestedTreatments(tracking map[string]*model.CDRTrackingEntry) []string
	Flush(encounterID uuid.UUID)
	Teardown(encounterID uuid.UUID)
}

// QuotaService charges an encounter against the owner's monthly quota.
type QuotaService interface {
	ChargeEncounter(ctx context.Context, enc *model.Encounter) (remaining int, err error)
}

// Notifier delivers the finalized document to the clinician.
type Notifier interface {
	SendFinalizedDocument(ctx context.Context, userID uuid.UUID, encounterID uuid.UUID, document string) error
}

// SnapshotPublisher pushes full encounter snapshots to live subscribers.
type SnapshotPublisher interface {
	Publish(ctx context.Context, enc *model.Encounter)
}

type Config struct {
	MaxSubmissionsPerSection int
	ShiftWindow              time.Duration
}

// Service is the encounter section state machine: it owns section
// ordering, submission budgets, locking, and the calls out to the
// generation service.
type Service struct {
	repo      repository.EncounterRepository
	generator llm.Client
	tracker   CDRTracker
	quota     QuotaService
	notifier  Notifier
	publisher SnapshotPublisher
	cfg       Config
	logger    *logger.Logger
	metrics   *metrics.Metrics

	mu       sync.Mutex
	inFlight map[uuid.UUID]map[int]bool
}

func NewService(
	repo repository.EncounterRepository,
	generator llm.Client,
	tracker CDRTracker,
	quota QuotaService,
	notifier Notifier,
	publisher SnapshotPublisher,
	cfg Config,
	log *logger.Logger,
	m *metrics.Metrics,
) *Service {
	if cfg.MaxSubmissionsPerSection <= 0 {
		cfg.MaxSubmissionsPerSection = DefaultMaxSubmissionsPerSection
	}
	if cfg.ShiftWindow <= 0 {
		cfg.ShiftWindow = ShiftWindowDuration
	}
	return &Service{
		repo:      repo,
		generator: generator,
		tracker:   tracker,
		quota:     quota,
		notifier:  notifier,
		publisher: publisher,
		cfg:       cfg,
		logger:    log,
		metrics:   m,
		inFlight:  make(map[uuid.UUID]map[int]bool),
	}
}

func (s *Service) Create(ctx context.Context, userID uuid.UUID, mode model.EncounterMode, chiefComplaint string) (*model.Encounter, error) {
	if mode == "" {
		mode = model.EncounterModeBuild
	}

	now := time.Now()
	enc := &model.Encounter{
		UserID:         userID,
		Status:         model.EncounterStatusPending,
		Mode:           mode,
		CurrentSection: 1,
		ChiefComplaint: chiefComplaint,
		ShiftStartedAt: now,
	}
	enc.ID = uuid.New()
	enc.CreatedAt = now
	enc.UpdatedAt = now
	enc.Normalize()
	if mode == model.EncounterModeBuild {
		// The first section is on screen from the start; quick encounters
		// have no sections to open.
		enc.Section1.Status = model.SectionStatusInProgress
	}

	if err := s.repo.Create(ctx, enc); err != nil {
		return nil, fmt.Errorf("failed to create encounter: %w", err)
	}

	s.publish(ctx, enc)
	return enc, nil
}

func (s *Service) Get(ctx context.Context, userID, id uuid.UUID) (*model.Encounter, error) {
	return s.repo.GetForUser(ctx, userID, id)
}

func (s *Service) List(ctx context.Context, userID uuid.UUID) ([]*model.Encounter, error) {
	return s.repo.List(ctx, userID)
}

// ShiftStatus derives the countdown state for an encounter.
func (s *Service) ShiftStatus(enc *model.Encounter) ShiftWindow {
	return ComputeShiftWindow(enc.ShiftStartedAt, time.Now(), enc.Status)
}

// SubmitDifferential runs section 1: validates, calls the generation
// service with the narrative (and the validated trend location when the
// regional-trend feature is on), persists the result and advances to
// section 2.
func (s *Service) SubmitDifferential(ctx context.Context, userID, encounterID uuid.UUID, content string, trendLocation *string) (*model.Encounter, error) {
	enc, err := s.repo.GetForUser(ctx, userID, encounterID)
	if err != nil {
		return nil, err
	}

	if err := s.validateSubmission(enc, 1, content); err != nil {
		return nil, err
	}
	if err := s.beginSubmission(encounterID, 1); err != nil {
		return nil, err
	}
	defer s.endSubmission(encounterID, 1)

	timer := prometheus.NewTimer(s.metrics.GenerationLatency.WithLabelValues("1"))
	resp, err := s.generator.GenerateDifferential(ctx, &llm.DifferentialRequest{
		EncounterID:    encounterID.String(),
		ChiefComplaint: enc.ChiefComplaint,
		Content:        content,
		TrendLocation:  trendLocation,
	})
	timer.ObserveDuration()
	if err != nil {
		s.metrics.GenerationCalls.WithLabelValues("1", "error").Inc()
		return nil, fmt.Errorf("differential generation failed: %w", err)
	}
	s.metrics.GenerationCalls.WithLabelValues("1", "success").Inc()

	enc.Section1.Content = content
	enc.Section1.SubmissionCount = resp.SubmissionCount
	enc.Section1.IsLocked = resp.IsLocked || resp.SubmissionCount >= s.cfg.MaxSubmissionsPerSection
	enc.Section1.Status = model.SectionStatusCompleted
	enc.Section1.LLMResponse = resp.Differential
	enc.CurrentSection = 2
	if enc.Section2.Status == model.SectionStatusPending {
		enc.Section2.Status = model.SectionStatusInProgress
	}
	enc.Status = enc.DeriveStatus()

	if err := s.persistSections(ctx, enc, "section1", "section2"); err != nil {
		return nil, err
	}

	if err := s.tracker.SeedSuggestions(ctx, encounterID, resp.SuggestedCDRs); err != nil {
		// Secondary write: the differential is saved, tracking seeds can
		// be recreated on the next suggestion pass.
		s.logger.Error(err, "failed to seed cdr suggestions", "encounter_id", encounterID.String())
	}

	s.publish(ctx, enc)
	return enc, nil
}

// WorkupInput is the section 2 payload: selected tests and their results.
type WorkupInput struct {
	Content           string
	SelectedTests     []string
	TestResults       map[string]model.TestResult
	AllUnremarkable   bool
	RawLabText        string
	AppliedOrderSetID *uuid.UUID
}

// SubmitWorkup runs section 2. Pure local data entry: no generation call
// is made. The section locks after the submission budget is spent and the
// workflow advances to disposition.
func (s *Service) SubmitWorkup(ctx context.Context, userID, encounterID uuid.UUID, input WorkupInput) (*model.Encounter, error) {
	enc, err := s.repo.GetForUser(ctx, userID, encounterID)
	if err != nil {
		return nil, err
	}

	if err := s.validateSubmission(enc, 2, input.Content); err != nil {
		return nil, err
	}
	if err := s.beginSubmission(encounterID, 2); err != nil {
		return nil, err
	}
	defer s.endSubmission(encounterID, 2)

	enc.Section2.Content = input.Content
	enc.Section2.SelectedTests = input.SelectedTests
	enc.Section2.TestResults = input.TestResults
	enc.Section2.AllUnremarkable = input.AllUnremarkable
	enc.Section2.RawLabText = input.RawLabText
	enc.Section2.AppliedOrderSetID = input.AppliedOrderSetID
	enc.Section2.SubmissionCount++
	enc.Section2.Status = model.SectionStatusCompleted
	cols := []string{"section2"}
	if enc.Section2.SubmissionCount >= s.cfg.MaxSubmissionsPerSection {
		enc.Section2.IsLocked = true
		enc.CurrentSection = 3
		if enc.Section3.Status == model.SectionStatusPending {
			enc.Section3.Status = model.SectionStatusInProgress
			cols = append(cols, "section3")
		}
	}
	enc.Status = enc.DeriveStatus()
	enc.Normalize()

	if err := s.persistSections(ctx, enc, cols...); err != nil {
		return nil, err
	}

	s.publish(ctx, enc)
	return enc, nil
}

// FinalizeInput is the section 3 payload. In quick mode Content carries
// the whole narrative instead of a section 3 note.
type FinalizeInput struct {
	Content            string
	Treatments         []string
	Disposition        string
	FollowUps          []string
	AppliedDispoFlowID *uuid.UUID
}

// Finalize runs section 3: flushes pending CDR writes, calls the finalize
// service, charges the quota at most once, persists the terminal state and
// emails the document. The finalized fields are written exactly once here;
// no other code path touches them afterwards.
func (s *Service) Finalize(ctx context.Context, userID, encounterID uuid.UUID, input FinalizeInput) (*model.Encounter, *llm.FinalizeResponse, error) {
	enc, err := s.repo.GetForUser(ctx, userID, encounterID)
	if err != nil {
		return nil, nil, err
	}

	if err := s.validateSubmission(enc, 3, input.Content); err != nil {
		return nil, nil, err
	}
	if err := s.beginSubmission(encounterID, 3); err != nil {
		return nil, nil, err
	}
	defer s.endSubmission(encounterID, 3)

	// Land any debounced tracking write so the document reflects the
	// latest CDR answers.
	s.tracker.Flush(encounterID)
	tracking, err := s.tracker.Tracking(ctx, encounterID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to load cdr tracking: %w", err)
	}

	cdrSummary, err := json.Marshal(includedEntries(tracking))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal cdr summary: %w", err)
	}
	workup, err := json.Marshal(enc.Section2)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal workup: %w", err)
	}
	disposition, err := json.Marshal(input)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal disposition: %w", err)
	}

	timer := prometheus.NewTimer(s.metrics.GenerationLatency.WithLabelValues("3"))
	resp, err := s.generator.Finalize(ctx, &llm.FinalizeRequest{
		EncounterID: encounterID.String(),
		Mode:        string(enc.Mode),
		Narrative:   input.Content,
		Workup:      workup,
		Disposition: disposition,
		CDRSummary:  cdrSummary,
	})
	timer.ObserveDuration()
	if err != nil {
		s.metrics.GenerationCalls.WithLabelValues("3", "error").Inc()
		return nil, nil, fmt.Errorf("finalize failed: %w", err)
	}
	s.metrics.GenerationCalls.WithLabelValues("3", "success").Inc()

	if !enc.QuotaCounted {
		if _, err := s.quota.ChargeEncounter(ctx, enc); err != nil {
			// Quota accounting must not block the clinician's document.
			s.logger.Error(err, "failed to charge quota", "encounter_id", encounterID.String())
		}
	}

	llmPayload, err := json.Marshal(resp)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to marshal finalize response: %w", err)
	}

	if enc.Mode == model.EncounterModeQuick {
		enc.QuickNote = input.Content
	}
	enc.Section3.Content = input.Content
	enc.Section3.Treatments = input.Treatments
	enc.Section3.CDRSuggestedTreatments = s.tracker.SuggestedTreatments(tracking)
	enc.Section3.Disposition = input.Disposition
	enc.Section3.FollowUps = input.FollowUps
	enc.Section3.AppliedDispoFlowID = input.AppliedDispoFlowID
	enc.Section3.SubmissionCount = resp.SubmissionCount
	enc.Section3.IsLocked = true
	enc.Section3.Status = model.SectionStatusCompleted
	enc.Section3.LLMResponse = llmPayload
	enc.Status = model.EncounterStatusFinalized
	enc.Normalize()

	if err := s.persistSections(ctx, enc, "section3"); err != nil {
		return nil, nil, err
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.notifier.SendFinalizedDocument(ctx, userID, encounterID, resp.Document); err != nil {
			s.logger.Error(err, "failed to send finalized document", "encounter_id", encounterID.String())
		}
	}()

	s.tracker.Teardown(encounterID)
	s.publish(ctx, enc)
	return enc, resp, nil
}

// ArchiveExpired flips every encounter whose shift window has closed to
// archived. Returns the number archived.
func (s *Service) ArchiveExpired(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-s.cfg.ShiftWindow)
	expired, err := s.repo.ListExpired(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to list expired encounters: %w", err)
	}

	archived := 0
	for _, enc := range expired {
		if !ShouldArchive(enc.ShiftStartedAt, enc.Status, time.Now()) {
			continue
		}
		if err := s.repo.MarkArchived(ctx, enc.ID); err != nil {
			s.logger.Error(err, "failed to archive encounter", "encounter_id", enc.ID.String())
			continue
		}
		enc.Status = model.EncounterStatusArchived
		s.publish(ctx, enc)
		archived++
		s.metrics.EncountersArchived.Inc()
	}
	return archived, nil
}

// validateSubmission runs every guard before any network or database
// write. Failures are validation errors: surfaced verbatim, never retried.
func (s *Service) validateSubmission(enc *model.Encounter, section int, content string) error {
	if enc.Status == model.EncounterStatusFinalized || enc.Status == model.EncounterStatusArchived {
		return errors.NewValidation(fmt.Sprintf("encounter is %s and cannot be modified", enc.Status))
	}
	if enc.Mode == model.EncounterModeQuick && section != 3 {
		return errors.NewValidation("quick encounters take a single narrative and have no structured sections")
	}

	sec := enc.SectionByNumber(section)
	if sec == nil {
		return errors.NewValidation(fmt.Sprintf("invalid section %d", section))
	}
	if sec.IsLocked {
		return errors.NewValidation(fmt.Sprintf("section %d is locked", section))
	}
	if sec.SubmissionCount >= s.cfg.MaxSubmissionsPerSection {
		return errors.NewValidation(fmt.Sprintf("submission limit reached for section %d", section))
	}

	switch section {
	case 2:
		if enc.Section1.Status != model.SectionStatusCompleted {
			return errors.NewValidation("section 1 must be completed before submitting section 2")
		}
	case 3:
		// A quick encounter finalizes straight from its narrative; only
		// the structured flow walks through the earlier sections.
		if enc.Mode != model.EncounterModeQuick && enc.Section2.Status != model.SectionStatusCompleted {
			return errors.NewValidation("section 2 must be completed before finalizing")
		}
	}

	if strings.TrimSpace(content) == "" {
		return errors.NewValidation("content cannot be empty")
	}
	return nil
}

// beginSubmission marks a section submission in flight so the same section
// cannot be submitted concurrently.
func (s *Service) beginSubmission(encounterID uuid.UUID, section int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.inFlight[encounterID] == nil {
		s.inFlight[encounterID] = make(map[int]bool)
	}
	if s.inFlight[encounterID][section] {
		return errors.NewConflict(fmt.Sprintf("section %d submission already in progress", section))
	}
	s.inFlight[encounterID][section] = true
	return nil
}

func (s *Service) endSubmission(encounterID uuid.UUID, section int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.inFlight[encounterID], section)
	if len(s.inFlight[encounterID]) == 0 {
		delete(s.inFlight, encounterID)
	}
}

// persistSections writes only the named section columns plus the workflow
// markers, leaving every other column untouched.
func (s *Service) persistSections(ctx context.Context, enc *model.Encounter, sectionCols ...string) error {
	if err := enc.MarshalSections(); err != nil {
		return fmt.Errorf("failed to marshal encounter sections: %w", err)
	}

	fields := map[string]interface{}{
		"status":          enc.Status,
		"current_section": enc.CurrentSection,
	}
	for _, col := range sectionCols {
		switch col {
		case "section1":
			fields["section1"] = enc.Section1JSON
		case "section2":
			fields["section2"] = enc.Section2JSON
		case "section3":
			fields["section3"] = enc.Section3JSON
		}
	}
	if enc.Mode == model.EncounterModeQuick {
		fields["quick_note"] = enc.QuickNote
	}

	if err := s.repo.UpdateFields(ctx, enc.ID, fields); err != nil {
		return fmt.Errorf("failed to persist encounter: %w", err)
	}
	return nil
}

func (s *Service) publish(ctx context.Context, enc *model.Encounter) {
	if s.publisher != nil {
		s.publisher.Publish(ctx, enc)
	}
}

// includedEntries filters tracking down to what belongs in the finalized
// document: dismissed and excluded rules are omitted.
func includedEntries(tracking map[string]*model.CDRTrackingEntry) map[string]*model.CDRTrackingEntry {
	included := make(map[string]*model.CDRTrackingEntry)
	for id, entry := range tracking {
		if entry.Dismissed || entry.Excluded {
			continue
		}
		included[id] = entry
	}
	return included
}
