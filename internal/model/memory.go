// Package model defines the core memory data types.
package model

import (
	"slices"
	"time"
)

// Record is a single persisted memory entry.
type Record struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Keywords  []string  `json:"keywords"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
	SizeBytes int       `json:"size_bytes"`
}

// Text is the content keywords are derived from.
func (r *Record) Text() string {
	return r.Title + "\n" + r.Body
}

// Clone returns a deep copy so callers can mutate without touching shared state.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	c := *r
	c.Keywords = slices.Clone(r.Keywords)
	return &c
}

// Action is the outcome of a memorize call.
type Action string

const (
	ActionCreated  Action = "created"
	ActionUpdated  Action = "updated"
	ActionDeclined Action = "declined"
)

// Verdict is the oracle's judgement of a candidate against an existing record.
type Verdict string

const (
	VerdictMerge     Verdict = "merge"
	VerdictDistinct  Verdict = "distinct"
	VerdictDuplicate Verdict = "duplicate"
)

// Valid reports whether v is one of the known verdicts.
func (v Verdict) Valid() bool {
	switch v {
	case VerdictMerge, VerdictDistinct, VerdictDuplicate:
		return true
	}
	return false
}
