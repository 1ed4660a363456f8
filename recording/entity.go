// Package recording persists Recording aggregates: named, ordered sequences
// of captured input actions, encrypted at rest.
package recording

import (
	"bytes"
	"encoding/json"
	"time"

	"github.com/macrokit/macrokit/errors"
)

// Status is a Recording lifecycle state.
type Status string

const (
	StatusCreated  Status = "created"
	StatusActive   Status = "active"
	StatusArchived Status = "archived"
)

// ValidStatus reports whether s is a known lifecycle state.
func ValidStatus(s Status) bool {
	switch s {
	case StatusCreated, StatusActive, StatusArchived:
		return true
	}
	return false
}

// Recording is a named, ordered sequence of captured actions. Actions are
// opaque to this layer: a JSON array whose element shape belongs to the
// capture/replay engine. Order is preserved exactly as stored; reordering
// happens only through a whole-object update.
type Recording struct {
	ID              string          `json:"id"`
	Name            string          `json:"name"`
	Status          Status          `json:"status"`
	Author          string          `json:"author,omitempty"`
	Category        string          `json:"category,omitempty"`
	Tags            []string        `json:"tags,omitempty"`
	Actions         json.RawMessage `json:"actions"`
	ActionCount     int             `json:"action_count"`
	TotalExecutions int             `json:"total_executions"`
	Version         int             `json:"version"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// HasTag reports whether the recording carries the given tag.
func (r *Recording) HasTag(tag string) bool {
	for _, t := range r.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// countActions returns the number of elements in a JSON action array without
// decoding the opaque element payloads.
func countActions(raw json.RawMessage) (int, error) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return 0, errors.NewValidationf("actions must be a JSON array, got empty payload")
	}

	dec := json.NewDecoder(bytes.NewReader(raw))
	tok, err := dec.Token()
	if err != nil {
		return 0, errors.NewValidationf("actions payload is not valid JSON: %v", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '[' {
		return 0, errors.NewValidationf("actions must be a JSON array")
	}

	count := 0
	for dec.More() {
		var elem json.RawMessage
		if err := dec.Decode(&elem); err != nil {
			return 0, errors.NewValidationf("action %d is malformed: %v", count, err)
		}
		count++
	}
	if _, err := dec.Token(); err != nil {
		return 0, errors.NewValidationf("actions array not terminated: %v", err)
	}
	return count, nil
}

// normalize validates the aggregate and recomputes ActionCount from the
// action payload. maxActions <= 0 disables the capacity check.
func (r *Recording) normalize(maxActions int) error {
	if r.Name == "" {
		return errors.NewValidationf("recording name must not be empty")
	}
	if r.Status == "" {
		r.Status = StatusCreated
	}
	if !ValidStatus(r.Status) {
		return errors.NewValidationf("unknown recording status %q", r.Status)
	}
	if r.Actions == nil {
		r.Actions = json.RawMessage("[]")
	}

	count, err := countActions(r.Actions)
	if err != nil {
		return err
	}
	if maxActions > 0 && count > maxActions {
		return errors.Wrapf(errors.ErrCapacity,
			"recording %q has %d actions, limit is %d", r.Name, count, maxActions)
	}
	r.ActionCount = count
	return nil
}

// clone returns a deep copy so cached aggregates cannot be mutated by callers.
func (r *Recording) clone() *Recording {
	cp := *r
	cp.Tags = append([]string(nil), r.Tags...)
	cp.Actions = append(json.RawMessage(nil), r.Actions...)
	return &cp
}
