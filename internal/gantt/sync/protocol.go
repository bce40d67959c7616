package sync

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"

	"github.com/MattDClarke/gantt-sync/internal/gantt/schema"
)

// Fixed client-facing failure messages.
const (
	LoadFailureMessage = "Tasks and dependencies could not be loaded"
	SyncFailureMessage = "There was an error syncing the data changes"
)

// Changeset holds the edits of one entity kind.
//
// A nil phase slice means the phase key was absent from the request; an
// empty non-nil slice means it was sent as []. A null phase reads as absent.
// The distinction matters for Added: its presence alone decides whether rows
// appear in the response.
type Changeset struct {
	Added   []schema.Record `json:"added"`
	Updated []schema.Record `json:"updated"`
	Removed []schema.Record `json:"removed"`
}

// Request is the body of a sync call.
type Request struct {
	// RequestID is echoed back verbatim. Any JSON value is accepted.
	RequestID    json.RawMessage `json:"requestId,omitempty"`
	Tasks        *Changeset      `json:"tasks,omitempty"`
	Dependencies *Changeset      `json:"dependencies,omitempty"`
}

// Changeset returns the edits for kind, or nil when the kind is absent.
func (r *Request) Changeset(kind schema.Kind) *Changeset {
	switch kind {
	case schema.KindTasks:
		return r.Tasks
	case schema.KindDependencies:
		return r.Dependencies
	default:
		return nil
	}
}

// IDMapping acknowledges one created record.
type IDMapping struct {
	PhantomID any   `json:"$PhantomId"`
	ID        int64 `json:"id"`
}

// Rows wraps a collection the way Gantt clients expect it.
type Rows[T any] struct {
	Rows []T `json:"rows"`
}

// Response is the acknowledgment of a sync call.
type Response struct {
	RequestID    json.RawMessage  `json:"requestId,omitempty"`
	Success      bool             `json:"success"`
	Tasks        *Rows[IDMapping] `json:"tasks,omitempty"`
	Dependencies *Rows[IDMapping] `json:"dependencies,omitempty"`
	Message      string           `json:"message,omitempty"`
}

func (r *Response) setRows(kind schema.Kind, rows *Rows[IDMapping]) {
	switch kind {
	case schema.KindTasks:
		r.Tasks = rows
	case schema.KindDependencies:
		r.Dependencies = rows
	}
}

// Rows returns the acknowledgment rows for kind, or nil.
func (r *Response) Rows(kind schema.Kind) *Rows[IDMapping] {
	switch kind {
	case schema.KindTasks:
		return r.Tasks
	case schema.KindDependencies:
		return r.Dependencies
	default:
		return nil
	}
}

// Failure builds the all-or-nothing failure acknowledgment.
func Failure(requestID json.RawMessage) *Response {
	return &Response{
		RequestID: requestID,
		Success:   false,
		Message:   SyncFailureMessage,
	}
}

// Snapshot is the full dataset returned by a load.
type Snapshot struct {
	Tasks        []schema.Record
	Dependencies []schema.Record
}

// LoadResponse is the body of a load call.
type LoadResponse struct {
	Success      bool                  `json:"success"`
	Tasks        *Rows[schema.Record] `json:"tasks,omitempty"`
	Dependencies *Rows[schema.Record] `json:"dependencies,omitempty"`
	Message      string                `json:"message,omitempty"`
}

// DecodeRequest reads a sync request. Numbers are kept as json.Number so
// ids and opaque values survive unchanged.
func DecodeRequest(r io.Reader) (*Request, error) {
	dec := json.NewDecoder(r)
	dec.UseNumber()

	var req Request
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("failed to decode sync request: %w", err)
	}
	if dec.More() {
		return nil, fmt.Errorf("failed to decode sync request: trailing data")
	}
	return &req, nil
}

// DecodeRequestBytes is DecodeRequest for an in-memory body.
func DecodeRequestBytes(data []byte) (*Request, error) {
	return DecodeRequest(bytes.NewReader(data))
}
