// Package domain defines typed identifiers shared across bounded contexts.
// Each id wraps a UUID so the compiler keeps a PersonID from being passed
// where a MembershipID is expected.
package domain

import (
	"database/sql/driver"
	"fmt"

	"github.com/google/uuid"

	dErrors "rollcall/pkg/domain-errors"
)

type (
	PersonID     uuid.UUID
	MembershipID uuid.UUID
	InvitationID uuid.UUID
	LectureID    uuid.UUID
	AccountID    uuid.UUID
	EventID      uuid.UUID
	ConflictID   uuid.UUID
	AuditID      uuid.UUID
)

func parseID[T ~[16]byte](s, kind string) (T, error) {
	var zero T
	if s == "" {
		return zero, dErrors.New(dErrors.CodeInvalidInput, kind+" is required")
	}
	u, err := uuid.Parse(s)
	if err != nil {
		return zero, dErrors.Wrap(err, dErrors.CodeInvalidInput, "invalid "+kind)
	}
	if u == uuid.Nil {
		return zero, dErrors.New(dErrors.CodeInvalidInput, kind+" must not be nil")
	}
	return T(u), nil
}

// NULL columns scan into the nil id.
func scanID(dst *uuid.UUID, src any) error {
	if src == nil {
		*dst = uuid.Nil
		return nil
	}
	if err := dst.Scan(src); err != nil {
		return fmt.Errorf("scan id: %w", err)
	}
	return nil
}

func unmarshalID(dst *uuid.UUID, b []byte) error {
	if len(b) == 0 {
		*dst = uuid.Nil
		return nil
	}
	return dst.UnmarshalText(b)
}

// Nil ids are written as NULL.
func valueID(u uuid.UUID) (driver.Value, error) {
	if u == uuid.Nil {
		return nil, nil
	}
	return u.String(), nil
}

func NewPersonID() PersonID { return PersonID(uuid.New()) }
func ParsePersonID(s string) (PersonID, error) { return parseID[PersonID](s, "person id") }
func (id PersonID) String() string { return uuid.UUID(id).String() }
func (id PersonID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *PersonID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id PersonID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id PersonID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *PersonID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewMembershipID() MembershipID { return MembershipID(uuid.New()) }
func ParseMembershipID(s string) (MembershipID, error) { return parseID[MembershipID](s, "membership id") }
func (id MembershipID) String() string { return uuid.UUID(id).String() }
func (id MembershipID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *MembershipID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id MembershipID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id MembershipID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *MembershipID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewInvitationID() InvitationID { return InvitationID(uuid.New()) }
func ParseInvitationID(s string) (InvitationID, error) { return parseID[InvitationID](s, "invitation id") }
func (id InvitationID) String() string { return uuid.UUID(id).String() }
func (id InvitationID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *InvitationID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id InvitationID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id InvitationID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *InvitationID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewLectureID() LectureID { return LectureID(uuid.New()) }
func ParseLectureID(s string) (LectureID, error) { return parseID[LectureID](s, "lecture id") }
func (id LectureID) String() string { return uuid.UUID(id).String() }
func (id LectureID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *LectureID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id LectureID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id LectureID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *LectureID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewAccountID() AccountID { return AccountID(uuid.New()) }
func ParseAccountID(s string) (AccountID, error) { return parseID[AccountID](s, "account id") }
func (id AccountID) String() string { return uuid.UUID(id).String() }
func (id AccountID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *AccountID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id AccountID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *AccountID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewEventID() EventID { return EventID(uuid.New()) }
func ParseEventID(s string) (EventID, error) { return parseID[EventID](s, "event id") }
func (id EventID) String() string { return uuid.UUID(id).String() }
func (id EventID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *EventID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id EventID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id EventID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *EventID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewConflictID() ConflictID { return ConflictID(uuid.New()) }
func ParseConflictID(s string) (ConflictID, error) { return parseID[ConflictID](s, "conflict id") }
func (id ConflictID) String() string { return uuid.UUID(id).String() }
func (id ConflictID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *ConflictID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id ConflictID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id ConflictID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *ConflictID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }

func NewAuditID() AuditID { return AuditID(uuid.New()) }
func ParseAuditID(s string) (AuditID, error) { return parseID[AuditID](s, "audit id") }
func (id AuditID) String() string { return uuid.UUID(id).String() }
func (id AuditID) IsNil() bool { return uuid.UUID(id) == uuid.Nil }
func (id *AuditID) Scan(src any) error { return scanID((*uuid.UUID)(id), src) }
func (id AuditID) Value() (driver.Value, error) { return valueID(uuid.UUID(id)) }
func (id AuditID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }
func (id *AuditID) UnmarshalText(b []byte) error { return unmarshalID((*uuid.UUID)(id), b) }
