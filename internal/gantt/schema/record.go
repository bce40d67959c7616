package schema

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Kind identifies an entity collection.
type Kind string

const (
	KindTasks        Kind = "tasks"
	KindDependencies Kind = "dependencies"
)

// Reserved record keys.
const (
	IDField        = "id"
	PhantomIDField = "$PhantomId"
	ParentIDField  = "parentId"

	phantomPrefix = "$Phantom"
)

// Default dependency endpoint fields.
const (
	DefaultFromField = "fromEvent"
	DefaultToField   = "toEvent"
)

var (
	// ErrMissingID is returned when a record that must address a stored
	// entity has no id.
	ErrMissingID = errors.New("record has no id")

	// ErrMissingPhantomID is returned when a record in an added set carries
	// no $PhantomId.
	ErrMissingPhantomID = errors.New("record has no $PhantomId")

	// ErrInvalidID is returned when an id cannot be read as an integer.
	ErrInvalidID = errors.New("invalid id")

	// ErrUnknownKind is returned for a kind other than tasks or dependencies.
	ErrUnknownKind = errors.New("unknown entity kind")
)

// Kinds returns every kind in processing order.
func Kinds() []Kind {
	return []Kind{KindTasks, KindDependencies}
}

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	return k == KindTasks || k == KindDependencies
}

// Table returns the backing table name. Callers interpolate it into SQL,
// so only known kinds resolve.
func (k Kind) Table() (string, error) {
	switch k {
	case KindTasks:
		return "tasks", nil
	case KindDependencies:
		return "dependencies", nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, string(k))
	}
}

// Record is an open field-name to value mapping. Values decoded from JSON
// keep their original representation (json.Number for numbers).
type Record map[string]any

// ID returns the record's permanent id.
func (r Record) ID() (int64, error) {
	v, ok := r[IDField]
	if !ok || v == nil {
		return 0, ErrMissingID
	}
	return ParseID(v)
}

// PhantomID returns the client-side temporary id, exactly as received.
func (r Record) PhantomID() (any, bool) {
	v, ok := r[PhantomIDField]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

// Fields returns a copy of the record without id and phantom bookkeeping
// keys. This is the payload that gets persisted.
func (r Record) Fields() Record {
	out := make(Record, len(r))
	for k, v := range r {
		if k == IDField || strings.HasPrefix(k, phantomPrefix) {
			continue
		}
		out[k] = v
	}
	return out
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Ref reads an integer reference such as parentId or fromEvent.
// It returns false when the field is absent, null or not an integer.
func (r Record) Ref(field string) (int64, bool) {
	v, ok := r[field]
	if !ok || v == nil {
		return 0, false
	}
	id, err := ParseID(v)
	if err != nil {
		return 0, false
	}
	return id, true
}

// ValidateAdded checks a record from an added set.
func (r Record) ValidateAdded() error {
	if _, ok := r.PhantomID(); !ok {
		return ErrMissingPhantomID
	}
	return nil
}

// ValidateUpdated checks a record from an updated set.
func (r Record) ValidateUpdated() error {
	_, err := r.ID()
	return err
}

// ValidateRemoved checks a record from a removed set.
func (r Record) ValidateRemoved() error {
	_, err := r.ID()
	return err
}

// ParseID converts an id as decoded from JSON, YAML or TOML into int64.
func ParseID(v any) (int64, error) {
	switch id := v.(type) {
	case json.Number:
		n, err := id.Int64()
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrInvalidID, id.String())
		}
		return n, nil
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(id), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidID, id)
		}
		return n, nil
	case float64:
		if id != math.Trunc(id) || math.IsInf(id, 0) {
			return 0, fmt.Errorf("%w: %v", ErrInvalidID, id)
		}
		return int64(id), nil
	case int:
		return int64(id), nil
	case int32:
		return int64(id), nil
	case int64:
		return id, nil
	case uint64:
		if id > math.MaxInt64 {
			return 0, fmt.Errorf("%w: %d", ErrInvalidID, id)
		}
		return int64(id), nil
	default:
		return 0, fmt.Errorf("%w: unsupported type %T", ErrInvalidID, v)
	}
}
