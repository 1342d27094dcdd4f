package model

import (
	"encoding/json"

	"github.com/google/uuid"
)

// OrderSet is a named, reusable bundle of diagnostic test identifiers.
// Tags and name words feed the keyword matcher that suggests a set for a
// new encounter's differential text.
type OrderSet struct {
	Base
	UserID     uuid.UUID       `db:"user_id" json:"user_id"`
	Name       string          `db:"name" json:"name"`
	TestsJSON  json.RawMessage `db:"tests" json:"-"`
	TagsJSON   json.RawMessage `db:"tags" json:"-"`
	TestIDs    []string        `db:"-" json:"test_ids"`
	Tags       []string        `db:"-" json:"tags"`
	UsageCount int             `db:"usage_count" json:"usage_count"`
}

// MarshalLists serializes the slice fields into their jsonb columns.
func (o *OrderSet) MarshalLists() error {
	var err error
	if o.TestsJSON, err = json.Marshal(o.TestIDs); err != nil {
		return err
	}
	o.TagsJSON, err = json.Marshal(o.Tags)
	return err
}

// UnmarshalLists populates the slice fields from the jsonb columns.
func (o *OrderSet) UnmarshalLists() error {
	o.TestIDs = []string{}
	o.Tags = []string{}
	if len(o.TestsJSON) > 0 {
		if err := json.Unmarshal(o.TestsJSON, &o.TestIDs); err != nil {
			return err
		}
	}
	if len(o.TagsJSON) > 0 {
		return json.Unmarshal(o.TagsJSON, &o.Tags)
	}
	return nil
}
