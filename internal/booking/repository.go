package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrPatientNotFound     = errors.New("patient not found")
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrScheduleNotFound    = errors.New("schedule not found")
	ErrSlotNotFound        = errors.New("slot not found")
	ErrAppointmentNotFound = errors.New("appointment not found")

	// ErrStatusChanged means a conditional status update found the row in
	// a different state than expected. The caller classifies it as an
	// invalid transition or a lost race.
	ErrStatusChanged = errors.New("appointment status changed concurrently")
)

// Repository contains all storage interactions needed by the engine and
// the lifecycle state machine. WithinTx yields a Repository whose
// mutations commit or roll back as one unit.
type Repository interface {
	GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error)
	GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error)
	GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error)
	GetTimeSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error)
	GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error)
	GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error)
	ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error)

	// Bed accounting. Only the Ledger calls these.
	ReserveBed(ctx context.Context, slotID uuid.UUID) error
	ReleaseBed(ctx context.Context, slotID uuid.UUID) error
	CountBedHolders(ctx context.Context, slotID uuid.UUID) (int, error)

	CreateAppointment(ctx context.Context, appt *Appointment) error
	// UpdateAppointmentStatus performs an atomic conditional update: the
	// row moves to `to` only if it is currently in `from`, otherwise
	// ErrStatusChanged (or ErrAppointmentNotFound) is returned.
	UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error)
	// FindOverdue returns appointments still PENDING or CHECKED_IN whose
	// slot ended strictly before the given instant.
	FindOverdue(ctx context.Context, before time.Time) ([]Appointment, error)

	AppendHistory(ctx context.Context, entry HistoryEntry) error
	AppendAudit(ctx context.Context, entry AuditEntry) error
	AdjustCredibility(ctx context.Context, patientID uuid.UUID, delta int) (int, error)

	WithinTx(ctx context.Context, fn func(Repository) error) error
}
