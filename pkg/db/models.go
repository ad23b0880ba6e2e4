package db

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// jsonText marshals v to a TEXT column value; nil-ish values store as NULL.
func jsonText(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return string(data), nil
}

// fromJSONText unmarshals a nullable TEXT column into out. Empty columns
// leave out untouched.
func fromJSONText(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(col.String), out); err != nil {
		return fmt.Errorf("unmarshal json column: %w", err)
	}
	return nil
}

// nullTime converts an optional timestamp to a bindable value.
func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

// timePtr converts a scanned nullable timestamp back to a pointer.
func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	out := t.Time
	return &out
}
