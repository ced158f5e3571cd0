// Package id defines the TypeID identifiers used for tasks, dead-letter
// entries, workers and topic subscribers.
//
// Identifiers are K-sortable (UUIDv7 based) and render as "prefix_suffix",
// so a task id is recognisable in a log line without any context.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix names the kind of entity an ID refers to.
type Prefix string

const (
	PrefixTask       Prefix = "task"
	PrefixDLQ        Prefix = "dlq"
	PrefixWorker     Prefix = "wkr"
	PrefixSubscriber Prefix = "sub"
)

// ID is a prefix-qualified identifier. The zero value is Nil.
//
//nolint:recvcheck // pointer receivers only for UnmarshalText/Scan.
type ID struct {
	tid   typeid.TypeID
	valid bool
}

// Nil is the zero ID.
var Nil ID

type (
	TaskID       = ID
	DLQID        = ID
	WorkerID     = ID
	SubscriberID = ID
)

// New generates an ID with prefix. An invalid prefix is a programming error
// and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{tid: tid, valid: true}
}

func NewTaskID() TaskID             { return New(PrefixTask) }
func NewDLQID() DLQID               { return New(PrefixDLQ) }
func NewWorkerID() WorkerID         { return New(PrefixWorker) }
func NewSubscriberID() SubscriberID { return New(PrefixSubscriber) }

// Parse parses s, accepting any prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse: empty string")
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{tid: tid, valid: true}, nil
}

// ParseWithPrefix parses s and requires its prefix to be want.
func ParseWithPrefix(s string, want Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if got := parsed.Prefix(); got != want {
		return Nil, fmt.Errorf("id: %q has prefix %q, want %q", s, got, want)
	}
	return parsed, nil
}

func ParseTaskID(s string) (TaskID, error) { return ParseWithPrefix(s, PrefixTask) }
func ParseDLQID(s string) (DLQID, error)   { return ParseWithPrefix(s, PrefixDLQ) }

// MustParse is Parse that panics. Intended for literals in tests.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(err.Error())
	}
	return parsed
}

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.tid.String()
}

// Prefix returns the entity prefix, or "" for Nil.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.tid.Prefix())
}

// IsNil reports whether i is the zero ID.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) { return []byte(i.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer; Nil is stored as NULL.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // NULL
	}
	return i.tid.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T", src)
	}
}
