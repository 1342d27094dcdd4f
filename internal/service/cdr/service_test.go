package cdr

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/pkg/logger"
)

type fakeEncounterRepo struct {
	mu        sync.Mutex
	encounter *model.Encounter
	writes    []map[string]*model.CDRTrackingEntry
	failNext  bool
}

func (f *fakeEncounterRepo) Create(ctx context.Context, enc *model.Encounter) error { return nil }

func (f *fakeEncounterRepo) Get(ctx context.Context, id uuid.UUID) (*model.Encounter, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.encounter, nil
}

func (f *fakeEncounterRepo) GetForUser(ctx context.Context, userID, id uuid.UUID) (*model.Encounter, error) {
	return f.Get(ctx, id)
}

func (f *fakeEncounterRepo) List(ctx context.Context, userID uuid.UUID) ([]*model.Encounter, error) {
	return nil, nil
}

func (f *fakeEncounterRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return nil
}

func (f *fakeEncounterRepo) UpdateCDRTracking(ctx context.Context, id uuid.UUID, tracking map[string]*model.CDRTrackingEntry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNext {
		f.failNext = false
		return assertError
	}
	f.writes = append(f.writes, tracking)
	return nil
}

func (f *fakeEncounterRepo) ListExpired(ctx context.Context, before time.Time) ([]*model.Encounter, error) {
	return nil, nil
}

func (f *fakeEncounterRepo) MarkArchived(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeEncounterRepo) MarkQuotaCounted(ctx context.Context, id uuid.UUID, at time.Time) error {
	return nil
}

func (f *fakeEncounterRepo) writeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.writes)
}

func (f *fakeEncounterRepo) lastWrite() map[string]*model.CDRTrackingEntry {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.writes) == 0 {
		return nil
	}
	return f.writes[len(f.writes)-1]
}

var assertError = &writeError{}

type writeError struct{}

func (*writeError) Error() string { return "write failed" }

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func newTestService(repo *fakeEncounterRepo, interval time.Duration) *Service {
	return NewService(repo, DefaultLibrary(), interval, testLogger(), nil)
}

func newTestEncounter() (*fakeEncounterRepo, uuid.UUID) {
	enc := &model.Encounter{}
	enc.ID = uuid.New()
	enc.Normalize()
	return &fakeEncounterRepo{encounter: enc}, enc.ID
}

func answerAll(t *testing.T, svc *Service, encID uuid.UUID, cdrID string) map[string]*model.CDRTrackingEntry {
	t.Helper()
	def, ok := svc.Library().Get(cdrID)
	require.True(t, ok)

	var tracking map[string]*model.CDRTrackingEntry
	var err error
	for _, comp := range def.Components {
		tracking, err = svc.AnswerComponent(context.Background(), encID, cdrID, comp.ID, 1)
		require.NoError(t, err)
	}
	return tracking
}

func TestAnswerComponentUnknownRuleIsNoop(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)
	defer svc.Teardown(encID)

	tracking, err := svc.AnswerComponent(context.Background(), encID, "no-such-rule", "x", 1)
	require.NoError(t, err)
	assert.Empty(t, tracking)
}

func TestAnswerComponentStampsFirstCompletionOnce(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)
	defer svc.Teardown(encID)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"heart"}))

	tracking := answerAll(t, svc, encID, "heart")
	entry := tracking["heart"]
	require.NotNil(t, entry)
	assert.Equal(t, model.CDRStatusCompleted, entry.Status)
	require.NotNil(t, entry.CompletedInSection)
	first := *entry.CompletedInSection

	// Re-answering keeps the original stamp.
	tracking, err := svc.AnswerComponent(context.Background(), encID, "heart", "ecg", 2)
	require.NoError(t, err)
	require.NotNil(t, tracking["heart"].CompletedInSection)
	assert.Equal(t, first, *tracking["heart"].CompletedInSection)
}

func TestDismissUndismissRoundTrip(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)
	defer svc.Teardown(encID)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"heart"}))
	answerAll(t, svc, encID, "heart")

	tracking, err := svc.Dismiss(context.Background(), encID, "heart")
	require.NoError(t, err)
	entry := tracking["heart"]
	assert.True(t, entry.Dismissed)
	assert.Equal(t, model.CDRStatusDismissed, entry.Status)
	// Component data survives the dismissal.
	assert.Len(t, entry.Components, 5)

	tracking, err = svc.Undismiss(context.Background(), encID, "heart")
	require.NoError(t, err)
	entry = tracking["heart"]
	assert.False(t, entry.Dismissed)
	assert.Equal(t, model.CDRStatusCompleted, entry.Status)
	require.NotNil(t, entry.Score)
	assert.Equal(t, 5.0, *entry.Score)
}

func TestToggleExcludedTwiceRestoresBaseline(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)
	defer svc.Teardown(encID)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"heart"}))
	answerAll(t, svc, encID, "heart")

	tracking, err := svc.ToggleExcluded(context.Background(), encID, "heart")
	require.NoError(t, err)
	assert.True(t, tracking["heart"].Excluded)
	assert.Equal(t, model.CDRStatusCompleted, tracking["heart"].Status)

	tracking, err = svc.ToggleExcluded(context.Background(), encID, "heart")
	require.NoError(t, err)
	assert.False(t, tracking["heart"].Excluded)
	assert.Equal(t, model.CDRStatusCompleted, tracking["heart"].Status)
}

func TestTeardownFlushesLatestValueExactlyOnce(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"heart"}))
	_, err := svc.AnswerComponent(context.Background(), encID, "heart", "history", 1)
	require.NoError(t, err)
	_, err = svc.AnswerComponent(context.Background(), encID, "heart", "history", 2)
	require.NoError(t, err)

	svc.Teardown(encID)

	require.Equal(t, 1, repo.writeCount())
	written := repo.lastWrite()
	require.NotNil(t, written["heart"])
	assert.Equal(t, 2.0, written["heart"].Components["history"].Value)

	// Teardown is idempotent.
	svc.Teardown(encID)
	assert.Equal(t, 1, repo.writeCount())
}

func TestDebouncedFlushLandsWithoutTeardown(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, 20*time.Millisecond)
	defer svc.Teardown(encID)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"wells_pe"}))

	require.Eventually(t, func() bool {
		return repo.writeCount() == 1
	}, time.Second, 10*time.Millisecond)
}

func TestSuggestedTreatmentsFollowRiskBands(t *testing.T) {
	repo, _ := newTestEncounter()
	svc := newTestService(repo, time.Hour)

	tracking := map[string]*model.CDRTrackingEntry{
		"heart":    {Status: model.CDRStatusCompleted, Score: points(5)},
		"wells_pe": {Status: model.CDRStatusCompleted, Score: points(7)},
	}

	got := svc.SuggestedTreatments(tracking)
	assert.Equal(t, []string{
		"serial troponins", "observation admission",
		"CT pulmonary angiography", "consider empiric anticoagulation",
	}, got)
}

func TestSuggestedTreatmentsSkipUnusableRules(t *testing.T) {
	repo, _ := newTestEncounter()
	svc := newTestService(repo, time.Hour)

	tracking := map[string]*model.CDRTrackingEntry{
		"heart":    {Status: model.CDRStatusDismissed, Dismissed: true, Score: points(8)},
		"wells_pe": {Status: model.CDRStatusCompleted, Excluded: true, Score: points(7)},
		"perc":     {Status: model.CDRStatusPartial},
	}
	assert.Empty(t, svc.SuggestedTreatments(tracking))

	// A low-risk band carries no treatments either.
	tracking = map[string]*model.CDRTrackingEntry{
		"heart": {Status: model.CDRStatusCompleted, Score: points(2)},
	}
	assert.Empty(t, svc.SuggestedTreatments(tracking))
}

func TestApplySnapshotSkippedWhilePendingWrite(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)
	defer svc.Teardown(encID)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"heart"}))
	_, err := svc.AnswerComponent(context.Background(), encID, "heart", "history", 2)
	require.NoError(t, err)

	// A stale snapshot arrives while the write is still pending.
	stale := &model.Encounter{}
	stale.ID = encID
	stale.Normalize()
	svc.ApplySnapshot(stale)

	tracking, err := svc.Tracking(context.Background(), encID)
	require.NoError(t, err)
	require.NotNil(t, tracking["heart"])
	assert.Equal(t, 2.0, tracking["heart"].Components["history"].Value)

	// After the flush lands the next snapshot is authoritative.
	svc.Flush(encID)
	svc.ApplySnapshot(stale)
	tracking, err = svc.Tracking(context.Background(), encID)
	require.NoError(t, err)
	assert.Empty(t, tracking)
}

func TestFailedFlushKeepsLocalStateAhead(t *testing.T) {
	repo, encID := newTestEncounter()
	svc := newTestService(repo, time.Hour)
	defer svc.Teardown(encID)

	require.NoError(t, svc.SeedSuggestions(context.Background(), encID, []string{"heart"}))
	repo.mu.Lock()
	repo.failNext = true
	repo.mu.Unlock()

	svc.Flush(encID)
	assert.Equal(t, 0, repo.writeCount())

	// Snapshots are still fenced off because the write never landed.
	stale := &model.Encounter{}
	stale.ID = encID
	stale.Normalize()
	svc.ApplySnapshot(stale)

	tracking, err := svc.Tracking(context.Background(), encID)
	require.NoError(t, err)
	assert.NotEmpty(t, tracking)
}
