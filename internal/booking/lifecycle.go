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
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrConcurrencyConflict means a conditional status update lost a
	// race. The whole operation is safe to retry.
	ErrConcurrencyConflict = errors.New("concurrent status change, retry")
)

// allowedSources lists the statuses a transition may start from.
// NO_SHOW is reachable only through the sweep, never through the public
// transition methods.
var allowedSources = map[Status][]Status{
	StatusCheckedIn: {StatusPending},
	StatusCompleted: {StatusCheckedIn},
	StatusCancelled: {StatusPending, StatusCheckedIn},
	StatusNoShow:    {StatusPending, StatusCheckedIn},
}

func canTransition(from, to Status) bool {
	for _, s := range allowedSources[to] {
		if s == from {
			return true
		}
	}
	return false
}

// Lifecycle validates and applies appointment status transitions and runs
// the no-show reconciliation sweep.
type Lifecycle struct {
	repo    Repository
	events  *eventSink
	tz      *time.Location
	penalty int
	logger  zerolog.Logger
}

func NewLifecycle(repo Repository, events eventlog.Log, cfg config.Config, logger zerolog.Logger) *Lifecycle {
	return &Lifecycle{
		repo: repo,
		events: &eventSink{
			log:        events,
			bestEffort: cfg.EventsBestEffort,
			logger:     logger,
		},
		tz:      cfg.ClinicTZ,
		penalty: cfg.NoShowPenalty,
		logger:  logger,
	}
}

func (lc *Lifecycle) CheckIn(ctx context.Context, id uuid.UUID, actor *string) (*Appointment, error) {
	return lc.transition(ctx, id, StatusCheckedIn, actor, ActionCheckIn, EventAppointmentCheckedIn)
}

func (lc *Lifecycle) Complete(ctx context.Context, id uuid.UUID, actor *string) (*Appointment, error) {
	return lc.transition(ctx, id, StatusCompleted, actor, ActionComplete, EventAppointmentCompleted)
}

// Cancel is the only transition that returns capacity: the bed release
// happens in the same atomic unit as the status write.
func (lc *Lifecycle) Cancel(ctx context.Context, id uuid.UUID, actor *string) (*Appointment, error) {
	return lc.transition(ctx, id, StatusCancelled, actor, ActionCancel, EventAppointmentCancelled)
}

func (lc *Lifecycle) transition(ctx context.Context, id uuid.UUID, to Status, actor *string, action, eventType string) (*Appointment, error) {
	var updated *Appointment

	err := lc.repo.WithinTx(ctx, func(tx Repository) error {
		appt, err := tx.GetAppointment(ctx, id)
		if err != nil {
			return err
		}
		from := appt.Status
		if !canTransition(from, to) {
			return fmt.Errorf("%s -> %s: %w", from, to, ErrInvalidTransition)
		}

		upd, err := tx.UpdateAppointmentStatus(ctx, id, from, to)
		if err != nil {
			if errors.Is(err, ErrStatusChanged) {
				return fmt.Errorf("transition to %s: %w", to, ErrConcurrencyConflict)
			}
			return err
		}

		if to == StatusCancelled {
			if err := NewLedger(tx).Release(ctx, upd.TimeSlotID); err != nil {
				return err
			}
		}

		if err := tx.AppendHistory(ctx, HistoryEntry{
			AppointmentID: id,
			FromStatus:    &from,
			ToStatus:      to,
			Actor:         actor,
			At:            upd.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if err := NewTrail(tx).Record(ctx, actor, action, "appointment", id.String(), map[string]any{
			"status_from": string(from),
			"status_to":   string(to),
		}); err != nil {
			return err
		}

		if err := lc.events.emit(ctx, eventType, upd, nil); err != nil {
			return err
		}

		updated = upd
		return nil
	})
	if err != nil {
		return nil, err
	}

	return updated, nil
}

// SweepReport summarizes one no-show sweep run.
type SweepReport struct {
	Examined int
	Marked   int
	Skipped  int // resolved by someone else between select and update
	Failed   int
}

var errSweepSkip = errors.New("appointment resolved concurrently")

// SweepNoShows marks every appointment whose slot ended in the past (in
// the clinic's zone) and which is still PENDING or CHECKED_IN as NO_SHOW,
// docking the patient's credibility. Each row commits independently, so
// one bad row cannot roll back the rest of the batch, and a re-run finds
// nothing left to do.
func (lc *Lifecycle) SweepNoShows(ctx context.Context) (SweepReport, error) {
	var report SweepReport

	now := time.Now().In(lc.tz)
	overdue, err := lc.repo.FindOverdue(ctx, now)
	if err != nil {
		return report, fmt.Errorf("find overdue appointments: %w", err)
	}
	report.Examined = len(overdue)

	for _, appt := range overdue {
		switch err := lc.sweepOne(ctx, appt); {
		case err == nil:
			report.Marked++
		case errors.Is(err, errSweepSkip):
			report.Skipped++
		default:
			report.Failed++
			lc.logger.Error().Err(err).
				Str("appointment_id", appt.ID.String()).
				Msg("no-show sweep row failed")
		}
	}

	lc.logger.Info().
		Int("examined", report.Examined).
		Int("marked", report.Marked).
		Int("skipped", report.Skipped).
		Int("failed", report.Failed).
		Msg("no-show sweep complete")

	return report, nil
}

func (lc *Lifecycle) sweepOne(ctx context.Context, appt Appointment) error {
	return lc.repo.WithinTx(ctx, func(tx Repository) error {
		from := appt.Status

		upd, err := tx.UpdateAppointmentStatus(ctx, appt.ID, from, StatusNoShow)
		if err != nil {
			if errors.Is(err, ErrStatusChanged) || errors.Is(err, ErrAppointmentNotFound) {
				return errSweepSkip
			}
			return err
		}

		score, err := tx.AdjustCredibility(ctx, appt.PatientID, -lc.penalty)
		if err != nil {
			return fmt.Errorf("adjust credibility: %w", err)
		}

		if err := tx.AppendHistory(ctx, HistoryEntry{
			AppointmentID: appt.ID,
			FromStatus:    &from,
			ToStatus:      StatusNoShow,
			At:            upd.UpdatedAt,
		}); err != nil {
			return fmt.Errorf("append history: %w", err)
		}

		if err := NewTrail(tx).Record(ctx, nil, ActionNoShow, "appointment", appt.ID.String(), map[string]any{
			"status_from":       string(from),
			"status_to":         string(StatusNoShow),
			"credibility_delta": -lc.penalty,
			"credibility_score": score,
		}); err != nil {
			return err
		}

		return lc.events.emit(ctx, EventAppointmentNoShow, upd, map[string]any{
			"credibility_delta": -lc.penalty,
		})
	})
}
