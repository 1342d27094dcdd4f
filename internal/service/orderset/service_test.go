package orderset

import (
	"context"
	"encoding/json"
	"io"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/logger"
)

type fakeOrderSetRepo struct {
	sets map[uuid.UUID]*model.OrderSet
}

func newFakeOrderSetRepo() *fakeOrderSetRepo {
	return &fakeOrderSetRepo{sets: make(map[uuid.UUID]*model.OrderSet)}
}

func (f *fakeOrderSetRepo) Create(ctx context.Context, set *model.OrderSet) error {
	f.sets[set.ID] = set
	return nil
}

func (f *fakeOrderSetRepo) Get(ctx context.Context, id uuid.UUID) (*model.OrderSet, error) {
	set, ok := f.sets[id]
	if !ok {
		return nil, errors.NewNotFound("order set", nil)
	}
	return set, nil
}

func (f *fakeOrderSetRepo) ListForUser(ctx context.Context, userID uuid.UUID) ([]*model.OrderSet, error) {
	var out []*model.OrderSet
	for _, set := range f.sets {
		if set.UserID == userID {
			out = append(out, set)
		}
	}
	return out, nil
}

func (f *fakeOrderSetRepo) Update(ctx context.Context, set *model.OrderSet) error {
	f.sets[set.ID] = set
	return nil
}

func (f *fakeOrderSetRepo) Delete(ctx context.Context, userID, id uuid.UUID) error {
	delete(f.sets, id)
	return nil
}

func (f *fakeOrderSetRepo) IncrementUsage(ctx context.Context, id uuid.UUID) error {
	if set, ok := f.sets[id]; ok {
		set.UsageCount++
	}
	return nil
}

type fakePrefRepo struct {
	prefs map[string]*model.Preference
}

func newFakePrefRepo() *fakePrefRepo {
	return &fakePrefRepo{prefs: make(map[string]*model.Preference)}
}

func (f *fakePrefRepo) key(userID uuid.UUID, key string) string {
	return userID.String() + ":" + key
}

func (f *fakePrefRepo) Get(ctx context.Context, userID uuid.UUID, key string) (*model.Preference, error) {
	pref, ok := f.prefs[f.key(userID, key)]
	if !ok {
		return nil, errors.NewNotFound("preference", nil)
	}
	return pref, nil
}

func (f *fakePrefRepo) Set(ctx context.Context, pref *model.Preference) error {
	f.prefs[f.key(pref.UserID, pref.Key)] = pref
	return nil
}

func (f *fakePrefRepo) ListKeys(ctx context.Context, userID uuid.UUID) ([]string, error) {
	var keys []string
	for _, pref := range f.prefs {
		if pref.UserID == userID {
			keys = append(keys, pref.Key)
		}
	}
	return keys, nil
}

func (f *fakePrefRepo) Delete(ctx context.Context, userID uuid.UUID, key string) error {
	delete(f.prefs, f.key(userID, key))
	return nil
}

func testLogger() *logger.Logger {
	return logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
}

func TestCreateValidatesInput(t *testing.T) {
	svc := NewService(newFakeOrderSetRepo(), newFakePrefRepo(), testLogger())
	userID := uuid.New()

	_, err := svc.Create(context.Background(), userID, "  ", []string{"cbc"}, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = svc.Create(context.Background(), userID, "Chest Pain", nil, nil)
	assert.True(t, errors.IsValidation(err))

	set, err := svc.Create(context.Background(), userID, " Chest Pain ", []string{"cbc", "cbc", "troponin"}, []string{"acs"})
	require.NoError(t, err)
	assert.Equal(t, "Chest Pain", set.Name)
	assert.Equal(t, []string{"cbc", "troponin"}, set.TestIDs)
}

func TestGetEnforcesOwnership(t *testing.T) {
	repo := newFakeOrderSetRepo()
	svc := NewService(repo, newFakePrefRepo(), testLogger())
	owner := uuid.New()

	set, err := svc.Create(context.Background(), owner, "Sepsis", []string{"lactate"}, nil)
	require.NoError(t, err)

	_, err = svc.Get(context.Background(), uuid.New(), set.ID)
	assert.True(t, errors.IsNotFound(err))

	got, err := svc.Get(context.Background(), owner, set.ID)
	require.NoError(t, err)
	assert.Equal(t, set.ID, got.ID)
}

func TestMigrateLegacyRunsOnce(t *testing.T) {
	repo := newFakeOrderSetRepo()
	prefs := newFakePrefRepo()
	svc := NewService(repo, prefs, testLogger())
	userID := uuid.New()

	legacy, _ := json.Marshal([]legacyOrderSet{
		{Name: "Chest Pain", Tests: []string{"troponin", "ecg"}, Tags: []string{"acs"}},
		{Name: "", Tests: []string{"cbc"}}, // unnamed, skipped
	})
	require.NoError(t, prefs.Set(context.Background(), &model.Preference{
		UserID:    userID,
		Key:       model.PrefKeyOrderSets,
		Value:     legacy,
		UpdatedAt: time.Now(),
	}))

	require.NoError(t, svc.MigrateLegacy(context.Background(), userID))
	sets, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	require.Len(t, sets, 1)
	assert.Equal(t, "Chest Pain", sets[0].Name)

	// Second run is a no-op thanks to the marker.
	require.NoError(t, svc.MigrateLegacy(context.Background(), userID))
	sets, err = svc.List(context.Background(), userID)
	require.NoError(t, err)
	assert.Len(t, sets, 1)
}

func TestMigrateLegacyCorruptBlobSkipsButMarks(t *testing.T) {
	repo := newFakeOrderSetRepo()
	prefs := newFakePrefRepo()
	svc := NewService(repo, prefs, testLogger())
	userID := uuid.New()

	require.NoError(t, prefs.Set(context.Background(), &model.Preference{
		UserID: userID,
		Key:    model.PrefKeyOrderSets,
		Value:  json.RawMessage(`{not json`),
	}))

	require.NoError(t, svc.MigrateLegacy(context.Background(), userID))
	sets, err := svc.List(context.Background(), userID)
	require.NoError(t, err)
	assert.Empty(t, sets)

	_, err = prefs.Get(context.Background(), userID, model.PrefKeyOrderSetsMigrated)
	assert.NoError(t, err)
}

func TestRecordUsageSwallowsFailures(t *testing.T) {
	repo := newFakeOrderSetRepo()
	svc := NewService(repo, newFakePrefRepo(), testLogger())
	owner := uuid.New()

	set, err := svc.Create(context.Background(), owner, "Stroke", []string{"ct"}, nil)
	require.NoError(t, err)

	svc.RecordUsage(context.Background(), set.ID)
	svc.RecordUsage(context.Background(), uuid.New()) // unknown id, no panic

	got, err := svc.Get(context.Background(), owner, set.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.UsageCount)
}
