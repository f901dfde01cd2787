package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// pgConn is satisfied by both *pgxpool.Pool and pgx.Tx, so the same
// repository code runs inside and outside a transaction.
type pgConn interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

type PgRepository struct {
	db pgConn
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{db: pool}
}

// WithinTx runs fn against a transaction-scoped repository. pgx
// savepoints make nested units work, though the core only nests one deep.
func (r *PgRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&PgRepository{db: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// Scan helpers

func scanPatient(row pgx.Row) (*Patient, error) {
	var p Patient

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.CredibilityScore,
		&p.IsSuspended,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}

	return &p, nil
}

func scanDoctor(row pgx.Row) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := row.Scan(
		&d.ID,
		&d.Name,
		&specialty,
		&d.CreatedAt,
		&d.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}

	d.Specialty = specialty
	return &d, nil
}

func scanSchedule(row pgx.Row) (*Schedule, error) {
	var s Schedule

	err := row.Scan(
		&s.ID,
		&s.DoctorID,
		&s.Room,
		&s.Date,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanTimeSlot(row pgx.Row) (*TimeSlot, error) {
	var s TimeSlot

	err := row.Scan(
		&s.ID,
		&s.ScheduleID,
		&s.StartTime,
		&s.EndTime,
		&s.BedCount,
		&s.AvailableBeds,
		&s.IsActive,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSlotNotFound
		}
		return nil, err
	}

	return &s, nil
}

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	var bedIndex *int

	err := row.Scan(
		&a.ID,
		&a.PatientID,
		&a.DoctorID,
		&a.ScheduleID,
		&a.TimeSlotID,
		&bedIndex,
		&a.Status,
		&a.Reason,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}

	a.BedIndex = bedIndex
	return &a, nil
}

const appointmentColumns = `id, patient_id, doctor_id, schedule_id, time_slot_id, bed_index, status, reason, created_at, updated_at`

// Reads

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, credibility_score, is_suspended, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id)
	return scanPatient(row)
}

func (r *PgRepository) GetDoctor(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, name, specialty, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id)
	return scanDoctor(row)
}

func (r *PgRepository) GetSchedule(ctx context.Context, id uuid.UUID) (*Schedule, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, doctor_id, room, date, created_at, updated_at
		FROM schedules
		WHERE id = $1
	`, id)
	return scanSchedule(row)
}

func (r *PgRepository) GetTimeSlot(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	row := r.db.QueryRow(ctx, `
		SELECT id, schedule_id, start_time, end_time, bed_count, available_beds, is_active, created_at, updated_at
		FROM time_slots
		WHERE id = $1
	`, id)
	return scanTimeSlot(row)
}

func (r *PgRepository) GetAppointment(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE id = $1
	`, id)
	return scanAppointment(row)
}

func (r *PgRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := r.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *appt}

	if detail.Slot, err = r.GetTimeSlot(ctx, appt.TimeSlotID); err != nil {
		return nil, err
	}
	if detail.Patient, err = r.GetPatient(ctx, appt.PatientID); err != nil {
		return nil, err
	}
	if detail.Doctor, err = r.GetDoctor(ctx, appt.DoctorID); err != nil {
		return nil, err
	}

	return detail, nil
}

func (r *PgRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	rows, err := r.db.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE patient_id = $1
		ORDER BY created_at DESC
		LIMIT $2 OFFSET $3
	`, patientID, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []AppointmentDetail
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, AppointmentDetail{Appointment: *a})
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range result {
		if result[i].Slot, err = r.GetTimeSlot(ctx, result[i].TimeSlotID); err != nil {
			return nil, err
		}
		if result[i].Doctor, err = r.GetDoctor(ctx, result[i].DoctorID); err != nil {
			return nil, err
		}
	}

	return result, nil
}

// Bed accounting

func (r *PgRepository) ReserveBed(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET available_beds = available_beds - 1,
		    updated_at = now()
		WHERE id = $1
		  AND is_active
		  AND available_beds >= 1
	`, slotID)
	if err != nil {
		return fmt.Errorf("reserve bed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	// No row matched: find out which precondition failed.
	slot, err := r.GetTimeSlot(ctx, slotID)
	if err != nil {
		return err
	}
	if !slot.IsActive {
		return ErrSlotInactive
	}
	return ErrSlotFull
}

func (r *PgRepository) ReleaseBed(ctx context.Context, slotID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE time_slots
		SET available_beds = available_beds + 1,
		    updated_at = now()
		WHERE id = $1
		  AND available_beds < bed_count
	`, slotID)
	if err != nil {
		return fmt.Errorf("release bed: %w", err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	if _, err := r.GetTimeSlot(ctx, slotID); err != nil {
		return err
	}
	return fmt.Errorf("slot %s already at full capacity: %w", slotID, ErrInvariantViolation)
}

func (r *PgRepository) CountBedHolders(ctx context.Context, slotID uuid.UUID) (int, error) {
	var n int
	err := r.db.QueryRow(ctx, `
		SELECT count(*)
		FROM appointments
		WHERE time_slot_id = $1
		  AND status = ANY($2)
	`, slotID, []string{string(StatusPending), string(StatusCheckedIn), string(StatusCompleted)}).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("count bed holders: %w", err)
	}
	return n, nil
}

// Appointment writes

func (r *PgRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointments (id, patient_id, doctor_id, schedule_id, time_slot_id, bed_index, status, reason, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, appt.ID, appt.PatientID, appt.DoctorID, appt.ScheduleID, appt.TimeSlotID, appt.BedIndex, appt.Status, appt.Reason, appt.CreatedAt, appt.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert appointment: %w", err)
	}
	return nil
}

func (r *PgRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	row := r.db.QueryRow(ctx, `
		UPDATE appointments
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+appointmentColumns+`
	`, id, to, from)

	appt, err := scanAppointment(row)
	if err == nil {
		return appt, nil
	}
	if !errors.Is(err, ErrAppointmentNotFound) {
		return nil, err
	}

	// Nothing updated: either the row is gone or someone beat us to it.
	if _, getErr := r.GetAppointment(ctx, id); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStatusChanged
}

func (r *PgRepository) FindOverdue(ctx context.Context, before time.Time) ([]Appointment, error) {
	rows, err := r.db.Query(ctx, `
		SELECT a.id, a.patient_id, a.doctor_id, a.schedule_id, a.time_slot_id, a.bed_index, a.status, a.reason, a.created_at, a.updated_at
		FROM appointments a
		JOIN time_slots t ON t.id = a.time_slot_id
		WHERE t.end_time < $1
		  AND a.status = ANY($2)
	`, before, []string{string(StatusPending), string(StatusCheckedIn)})
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

// Append-only tables

func (r *PgRepository) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO appointment_history (appointment_id, seq, from_status, to_status, actor, at)
		VALUES (
			$1,
			(SELECT COALESCE(MAX(seq), 0) + 1 FROM appointment_history WHERE appointment_id = $1),
			$2, $3, $4, $5
		)
	`, entry.AppointmentID, entry.FromStatus, entry.ToStatus, entry.Actor, entry.At)
	if err != nil {
		return fmt.Errorf("insert appointment history: %w", err)
	}
	return nil
}

func (r *PgRepository) AppendAudit(ctx context.Context, entry AuditEntry) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO audit_log (actor, action, entity_type, entity_id, diff, at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, entry.Actor, entry.Action, entry.EntityType, entry.EntityID, entry.Diff, entry.At)
	if err != nil {
		return fmt.Errorf("insert audit entry: %w", err)
	}
	return nil
}

func (r *PgRepository) AdjustCredibility(ctx context.Context, patientID uuid.UUID, delta int) (int, error) {
	var score int
	err := r.db.QueryRow(ctx, `
		UPDATE patients
		SET credibility_score = credibility_score + $2,
		    updated_at = now()
		WHERE id = $1
		RETURNING credibility_score
	`, patientID, delta).Scan(&score)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, ErrPatientNotFound
		}
		return 0, fmt.Errorf("adjust credibility: %w", err)
	}
	return score, nil
}
