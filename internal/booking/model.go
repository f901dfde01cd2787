package booking

import (
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCheckedIn Status = "CHECKED_IN"
	StatusCompleted Status = "COMPLETED"
	StatusCancelled Status = "CANCELLED"
	StatusNoShow    Status = "NO_SHOW"
)

// Terminal reports whether no further transition may leave s.
func (s Status) Terminal() bool {
	switch s {
	case StatusCompleted, StatusCancelled, StatusNoShow:
		return true
	}
	return false
}

// ConsumesBed reports whether an appointment in this status holds a bed.
// Beds are consumed at booking and returned only on cancellation; no-shows
// keep the bed they wasted.
func (s Status) ConsumesBed() bool {
	switch s {
	case StatusPending, StatusCheckedIn, StatusCompleted:
		return true
	}
	return false
}

type Patient struct {
	ID               uuid.UUID
	Name             string
	CredibilityScore int
	IsSuspended      bool
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

type Doctor struct {
	ID        uuid.UUID
	Name      string
	Specialty *string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Schedule is one (doctor, room, date) unit of work owning a set of slots.
type Schedule struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Room      string
	Date      time.Time
	CreatedAt time.Time
	UpdatedAt time.Time
}

type TimeSlot struct {
	ID            uuid.UUID
	ScheduleID    uuid.UUID
	StartTime     time.Time
	EndTime       time.Time
	BedCount      int
	AvailableBeds int
	IsActive      bool
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

type Appointment struct {
	ID         uuid.UUID
	PatientID  uuid.UUID
	DoctorID   uuid.UUID
	ScheduleID uuid.UUID
	TimeSlotID uuid.UUID
	BedIndex   *int
	Status     Status
	Reason     string
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// HistoryEntry is one row of an appointment's append-only status history.
// Seq is assigned by the store. FromStatus is nil for the creation row.
// Actor nil denotes a system-initiated change.
type HistoryEntry struct {
	AppointmentID uuid.UUID
	Seq           int
	FromStatus    *Status
	ToStatus      Status
	Actor         *string
	At            time.Time
}

// AuditEntry records one mutation performed by the core. Strictly
// append-only; Actor nil denotes the system.
type AuditEntry struct {
	ID         int64
	Actor      *string
	Action     string
	EntityType string
	EntityID   string
	Diff       map[string]any
	At         time.Time
}

type AppointmentDetail struct {
	Appointment
	Slot    *TimeSlot
	Patient *Patient
	Doctor  *Doctor
}

// PatientStream is the event stream key carrying everything that happens
// to one patient's appointments.
func PatientStream(id uuid.UUID) string {
	return "patient:" + id.String()
}

// DoctorStream is the per-doctor counterpart of PatientStream.
func DoctorStream(id uuid.UUID) string {
	return "doctor:" + id.String()
}
