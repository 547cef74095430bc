// Package store provides the memory record store: one Markdown file per
// record in a project's memories directory.
package store

import (
	"context"

	"github.com/rcliao/memory-mcp/internal/model"
)

// CreateParams holds parameters for creating a record.
type CreateParams struct {
	Title string
	Body  string
}

// Mutator edits a copy of a record during Update. Only Title and Body are
// honoured; derived fields are recomputed by the store.
type Mutator func(r *model.Record) error

// IntegrityWarning describes a record file skipped during a scan.
type IntegrityWarning struct {
	Path string `json:"path"`
	Err  string `json:"error"`
}

// ScanResult is the outcome of a full directory scan.
type ScanResult struct {
	Records   []*model.Record    `json:"-"`
	Warnings  []IntegrityWarning `json:"warnings,omitempty"`
	Repaired  int                `json:"repaired"`
	TempFiles int                `json:"temp_files_removed"`
}

// Store defines the record storage interface.
type Store interface {
	// Create allocates a fresh id and persists a new record.
	Create(ctx context.Context, p CreateParams) (*model.Record, error)

	// Read returns the record with the given id.
	Read(ctx context.Context, id string) (*model.Record, error)

	// Update applies fn to a copy of the record and persists the result.
	Update(ctx context.Context, id string, fn Mutator) (*model.Record, error)

	// Delete removes a record.
	Delete(ctx context.Context, id string) error

	// ListAll returns every readable record, unordered.
	ListAll(ctx context.Context) ([]*model.Record, error)

	// Scan reads the whole directory, repairing stale keyword sets and
	// reporting unreadable files instead of failing on them.
	Scan(ctx context.Context) (*ScanResult, error)

	// Dir returns the directory backing the store.
	Dir() string
}
