package quota

import (
	"context"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/logger"
	"github.com/jwalitptl/mdm-api/pkg/metrics"
)

type fakeEncounterRepo struct {
	counted map[uuid.UUID]bool
}

func (f *fakeEncounterRepo) Create(ctx context.Context, enc *model.Encounter) error { return nil }
func (f *fakeEncounterRepo) Get(ctx context.Context, id uuid.UUID) (*model.Encounter, error) {
	return nil, errors.NewNotFound("encounter", nil)
}
func (f *fakeEncounterRepo) GetForUser(ctx context.Context, userID, id uuid.UUID) (*model.Encounter, error) {
	return nil, errors.NewNotFound("encounter", nil)
}
func (f *fakeEncounterRepo) List(ctx context.Context, userID uuid.UUID) ([]*model.Encounter, error) {
	return nil, nil
}
func (f *fakeEncounterRepo) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]interface{}) error {
	return nil
}
func (f *fakeEncounterRepo) UpdateCDRTracking(ctx context.Context, id uuid.UUID, tracking map[string]*model.CDRTrackingEntry) error {
	return nil
}
func (f *fakeEncounterRepo) ListExpired(ctx context.Context, before time.Time) ([]*model.Encounter, error) {
	return nil, nil
}
func (f *fakeEncounterRepo) MarkArchived(ctx context.Context, id uuid.UUID) error { return nil }

func (f *fakeEncounterRepo) MarkQuotaCounted(ctx context.Context, id uuid.UUID, at time.Time) error {
	if f.counted[id] {
		return errors.NewConflict("encounter already counted")
	}
	f.counted[id] = true
	return nil
}

type fakeQuotaRepo struct {
	usage map[string]int
}

func (f *fakeQuotaRepo) IncrementUsage(ctx context.Context, userID uuid.UUID, month string) (int, error) {
	key := userID.String() + ":" + month
	f.usage[key]++
	return f.usage[key], nil
}

func (f *fakeQuotaRepo) GetUsage(ctx context.Context, userID uuid.UUID, month string) (int, error) {
	return f.usage[userID.String()+":"+month], nil
}

var testMetrics = metrics.NewMetrics("mdm", "quota_test")

func newTestService(monthly int) (*Service, *fakeEncounterRepo, *fakeQuotaRepo) {
	encounters := &fakeEncounterRepo{counted: make(map[uuid.UUID]bool)}
	usage := &fakeQuotaRepo{usage: make(map[string]int)}
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewService(encounters, usage, monthly, log, testMetrics), encounters, usage
}

func newEncounter() *model.Encounter {
	enc := &model.Encounter{UserID: uuid.New()}
	enc.ID = uuid.New()
	return enc
}

func TestChargeEncounterOnce(t *testing.T) {
	svc, _, usage := newTestService(150)
	enc := newEncounter()

	remaining, err := svc.ChargeEncounter(context.Background(), enc)
	require.NoError(t, err)
	assert.Equal(t, 149, remaining)
	assert.True(t, enc.QuotaCounted)
	assert.NotNil(t, enc.QuotaCountedAt)
	assert.Len(t, usage.usage, 1)

	// A retried finalize sees the flag and reads instead of charging.
	remaining, err = svc.ChargeEncounter(context.Background(), enc)
	require.NoError(t, err)
	assert.Equal(t, 149, remaining)
	for _, used := range usage.usage {
		assert.Equal(t, 1, used)
	}
}

func TestChargeConflictDoesNotIncrementUsage(t *testing.T) {
	svc, encounters, usage := newTestService(150)
	enc := newEncounter()

	// Another request already flipped the flag in the store.
	encounters.counted[enc.ID] = true

	_, err := svc.ChargeEncounter(context.Background(), enc)
	require.Error(t, err)
	assert.Empty(t, usage.usage)
}

func TestRemainingClampsAtZero(t *testing.T) {
	svc, _, usage := newTestService(1)
	userID := uuid.New()

	month := time.Now().UTC().Format("2006-01")
	usage.usage[userID.String()+":"+month] = 5

	remaining, err := svc.Remaining(context.Background(), userID)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)
}
