package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/eventlog"
)

var (
	ErrPatientSuspended = errors.New("patient is suspended")
)

// Engine orchestrates bookings and cancellations. Each mutation runs as
// one atomic unit: the bed reservation, the appointment row, its history,
// the audit entry and the stream events commit or fail together.
type Engine struct {
	repo      Repository
	events    *eventSink
	lifecycle *Lifecycle
	logger    zerolog.Logger
}

func NewEngine(repo Repository, events eventlog.Log, lifecycle *Lifecycle, cfg config.Config, logger zerolog.Logger) *Engine {
	return &Engine{
		repo: repo,
		events: &eventSink{
			log:        events,
			bestEffort: cfg.EventsBestEffort,
			logger:     logger,
		},
		lifecycle: lifecycle,
		logger:    logger,
	}
}

// Book reserves a bed in the slot and creates a PENDING appointment for
// the patient. On ErrSlotFull nothing is written anywhere. There is no
// queueing: a full slot fails fast and retry policy belongs to the caller.
func (e *Engine) Book(ctx context.Context, patientID, slotID uuid.UUID, reason string, actor *string) (*Appointment, error) {
	var created *Appointment

	err := e.repo.WithinTx(ctx, func(tx Repository) error {
		patient, err := tx.GetPatient(ctx, patientID)
		if err != nil {
			return err
		}
		if patient.IsSuspended {
			return ErrPatientSuspended
		}

		slot, err := tx.GetTimeSlot(ctx, slotID)
		if err != nil {
			return err
		}
		schedule, err := tx.GetSchedule(ctx, slot.ScheduleID)
		if err != nil {
			return err
		}

		bedIndex, err := NewLedger(tx).TryReserve(ctx, slotID)
		if err != nil {
			return err
		}

		now := time.Now()
		appt := &Appointment{
			ID:         uuid.New(),
			PatientID:  patientID,
			DoctorID:   schedule.DoctorID,
			ScheduleID: schedule.ID,
			TimeSlotID: slotID,
			BedIndex:   &bedIndex,
			Status:     StatusPending,
			Reason:     reason,
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := tx.CreateAppointment(ctx, appt); err != nil {
			return fmt.Errorf("create appointment: %w", err)
		}

		if err := tx.AppendHistory(ctx, HistoryEntry{
			AppointmentID: appt.ID,
			ToStatus:      StatusPending,
			Actor:         actor,
			At:            now,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if err := NewTrail(tx).Record(ctx, actor, ActionBook, "appointment", appt.ID.String(), map[string]any{
			"patient_id": patientID.String(),
			"slot_id":    slotID.String(),
			"status":     string(StatusPending),
			"reason":     reason,
		}); err != nil {
			return err
		}

		if err := e.events.emit(ctx, EventAppointmentBooked, appt, map[string]any{"reason": reason}); err != nil {
			return err
		}

		created = appt
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.logger.Info().
		Str("appointment_id", created.ID.String()).
		Str("patient_id", patientID.String()).
		Str("slot_id", slotID.String()).
		Msg("appointment booked")

	return created, nil
}

// Cancel moves the appointment to CANCELLED and returns its bed to the
// slot, all in one atomic unit.
func (e *Engine) Cancel(ctx context.Context, apptID uuid.UUID, actor *string) error {
	if _, err := e.lifecycle.Cancel(ctx, apptID, actor); err != nil {
		return err
	}
	return nil
}

// Get retrieves a fully hydrated appointment by ID.
func (e *Engine) Get(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	detail, err := e.repo.GetAppointmentDetail(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get appointment: %w", err)
	}
	return detail, nil
}

// ListByPatient retrieves appointments for a specific patient.
func (e *Engine) ListByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	if limit <= 0 {
		limit = 20 // default
	}
	if limit > 100 {
		limit = 100 // max
	}
	if offset < 0 {
		offset = 0
	}

	appointments, err := e.repo.ListAppointmentsByPatient(ctx, patientID, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list appointments by patient: %w", err)
	}
	return appointments, nil
}
