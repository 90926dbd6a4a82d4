// Package domain holds typed identifiers and value objects shared across features.
//
// Typed IDs keep job and lease identifiers from being mixed up at compile time.
// Construct them with the Parse functions at trust boundaries.
package domain

import (
	"strings"
	"unicode"

	"github.com/google/uuid"

	dErrors "beatframe/pkg/domain-errors"
)

type (
	JobID   uuid.UUID
	LeaseID uuid.UUID
)

// UserID is the opaque subject issued by the identity provider.
type UserID string

const maxUserIDLength = 128

func NewJobID() JobID     { return JobID(uuid.New()) }
func NewLeaseID() LeaseID { return LeaseID(uuid.New()) }

func (id JobID) String() string   { return uuid.UUID(id).String() }
func (id LeaseID) String() string { return uuid.UUID(id).String() }
func (id UserID) String() string  { return string(id) }

func (id JobID) IsNil() bool   { return uuid.UUID(id) == uuid.Nil }
func (id LeaseID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id UserID) IsNil() bool  { return id == "" }

func (id JobID) MarshalText() ([]byte, error)   { return []byte(id.String()), nil }
func (id LeaseID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *JobID) UnmarshalText(b []byte) error {
	parsed, err := ParseJobID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func (id *LeaseID) UnmarshalText(b []byte) error {
	parsed, err := ParseLeaseID(string(b))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

func ParseJobID(s string) (JobID, error) {
	u, err := parseUUID(s, "job id")
	return JobID(u), err
}

func ParseLeaseID(s string) (LeaseID, error) {
	u, err := parseUUID(s, "lease id")
	return LeaseID(u), err
}

// ParseUserID accepts any non-empty printable subject up to 128 bytes.
func ParseUserID(s string) (UserID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id is required")
	}
	if len(s) > maxUserIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "user id is too long")
	}
	for _, r := range s {
		if !unicode.IsPrint(r) || unicode.IsSpace(r) {
			return "", dErrors.New(dErrors.CodeInvalidInput, "user id contains invalid characters")
		}
	}
	return UserID(s), nil
}

func parseUUID(s, what string) (uuid.UUID, error) {
	if s == "" {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, "invalid "+what)
	}
	if u == uuid.Nil {
		return uuid.Nil, dErrors.New(dErrors.CodeInvalidInput, what+" cannot be nil")
	}
	return u, nil
}
