package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Well-known preference keys carried over from the browser clients.
const (
	PrefKeyOrderSets         = "mdm-order-sets"
	PrefKeyDispoFlows        = "mdm-dispo-flows"
	PrefKeySavedComments     = "mdm-saved-comments"
	PrefKeyTrendPrefs        = "mdm-trend-prefs"
	PrefKeyOrderSetsMigrated = "mdm-order-sets-migrated"
)

// Preference is one user-scoped key with an opaque JSON value. Corrupt or
// missing values degrade to an empty default at the service layer.
type Preference struct {
	UserID    uuid.UUID       `db:"user_id" json:"user_id"`
	Key       string          `db:"key" json:"key"`
	Value     json.RawMessage `db:"value" json:"value"`
	UpdatedAt time.Time       `db:"updated_at" json:"updated_at"`
}
