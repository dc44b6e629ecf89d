package store

import (
	"encoding/json"
	"fmt"
	"time"

	"cronagent/internal/claim"
	"cronagent/internal/domain"
	"cronagent/internal/shared"
)

// Pick ranks the over-fetched window and returns at most n winners in
// execution order.
func Pick(window []domain.Claimed, now time.Time, n int) []domain.Claimed {
	byKey := make(map[domain.InstanceKey]domain.Claimed, len(window))
	cands := make([]claim.Candidate, 0, len(window))
	for _, c := range window {
		byKey[c.Instance.InstanceKey] = c
		cands = append(cands, claim.Candidate{
			Key:       c.Instance.InstanceKey,
			Frequency: c.Instance.Frequency,
			Priority:  c.Instance.Priority,
			NextRun:   c.Instance.NextRun,
		})
	}
	ranked := claim.Rank(cands, now, n)
	out := make([]domain.Claimed, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, byKey[r.Key])
	}
	return out
}

// EncodeJSON renders v for a text/jsonb column; nil slices become "[]".
func EncodeJSON[T any](v []T) (string, error) {
	if v == nil {
		return "[]", nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("%w: encode column: %w", shared.ErrValidation, err)
	}
	return string(b), nil
}

// DecodeJSON parses a text/jsonb column written by EncodeJSON.
func DecodeJSON[T any](raw string) ([]T, error) {
	if raw == "" || raw == "null" {
		return nil, nil
	}
	var out []T
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, fmt.Errorf("%w: decode column: %w", shared.ErrInvariantViolated, err)
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}

// Params renders constructor parameters for storage; empty stays empty.
func Params(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	return string(raw)
}

// RawParams is the inverse of Params.
func RawParams(s string) json.RawMessage {
	if s == "" {
		return nil
	}
	return json.RawMessage(s)
}

// Conflictf reports a lost claim or racing update.
func Conflictf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrConflict, fmt.Sprintf(format, args...))
}

// NotFoundf reports a missing row.
func NotFoundf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", shared.ErrNotFound, fmt.Sprintf(format, args...))
}
