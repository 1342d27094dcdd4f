package preference

import (
	"context"
	"encoding/json"
	"io"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwalitptl/mdm-api/internal/model"
	"github.com/jwalitptl/mdm-api/pkg/errors"
	"github.com/jwalitptl/mdm-api/pkg/logger"
)

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

func newTestService() (*Service, *fakePrefRepo) {
	repo := newFakePrefRepo()
	log := logger.NewLogger(&logger.Config{Level: logger.ErrorLevel, Output: io.Discard})
	return NewService(repo, log), repo
}

func TestGetMissingKeyReturnsDefault(t *testing.T) {
	svc, _ := newTestService()

	value, err := svc.Get(context.Background(), uuid.New(), model.PrefKeySavedComments)
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(value))
}

func TestGetCorruptValueDegradesToDefault(t *testing.T) {
	svc, repo := newTestService()
	userID := uuid.New()

	repo.prefs[repo.key(userID, "broken")] = &model.Preference{
		UserID: userID,
		Key:    "broken",
		Value:  json.RawMessage(`{"unterminated`),
	}

	value, err := svc.Get(context.Background(), userID, "broken")
	require.NoError(t, err)
	assert.JSONEq(t, `{}`, string(value))
}

func TestSetRoundTrip(t *testing.T) {
	svc, _ := newTestService()
	userID := uuid.New()

	payload := json.RawMessage(`{"trend":"north"}`)
	require.NoError(t, svc.Set(context.Background(), userID, model.PrefKeyTrendPrefs, payload))

	value, err := svc.Get(context.Background(), userID, model.PrefKeyTrendPrefs)
	require.NoError(t, err)
	assert.JSONEq(t, `{"trend":"north"}`, string(value))
}

func TestSetRejectsInvalidInput(t *testing.T) {
	svc, _ := newTestService()
	userID := uuid.New()

	err := svc.Set(context.Background(), userID, "  ", json.RawMessage(`{}`))
	assert.True(t, errors.IsValidation(err))

	err = svc.Set(context.Background(), userID, "key", json.RawMessage(`{broken`))
	assert.True(t, errors.IsValidation(err))
}
