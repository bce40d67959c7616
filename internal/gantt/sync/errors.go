package sync

import (
	"fmt"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// Phase names one step of a changeset.
type Phase string

const (
	PhaseAdded   Phase = "added"
	PhaseUpdated Phase = "updated"
	PhaseRemoved Phase = "removed"
)

// SyncError reports which kind and phase of a sync failed.
type SyncError struct {
	Kind  schema.Kind
	Phase Phase
	// Index is the position of the failing record, or -1 for batch steps.
	Index int
	Err   error
}

func (e *SyncError) Error() string {
	if e.Index >= 0 {
		return fmt.Sprintf("sync %s %s[%d]: %v", e.Kind, e.Phase, e.Index, e.Err)
	}
	return fmt.Sprintf("sync %s %s: %v", e.Kind, e.Phase, e.Err)
}

func (e *SyncError) Unwrap() error {
	return e.Err
}

// LoadError reports which collection could not be read.
type LoadError struct {
	Kind schema.Kind
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("load %s: %v", e.Kind, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}
