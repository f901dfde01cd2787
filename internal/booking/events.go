package booking

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/clinicore/scheduling/internal/eventlog"
)

const (
	EventAppointmentBooked    = "APPOINTMENT_BOOKED"
	EventAppointmentCancelled = "APPOINTMENT_CANCELLED"
	EventAppointmentCheckedIn = "APPOINTMENT_CHECKED_IN"
	EventAppointmentCompleted = "APPOINTMENT_COMPLETED"
	EventAppointmentNoShow    = "APPOINTMENT_NO_SHOW"
)

// eventSink publishes appointment events to the patient's and the
// doctor's streams. In strict mode a publish failure aborts the enclosing
// atomic unit; in best-effort mode it is logged and swallowed.
type eventSink struct {
	log        eventlog.Log
	bestEffort bool
	logger     zerolog.Logger
}

func (e *eventSink) emit(ctx context.Context, eventType string, appt *Appointment, extra map[string]any) error {
	payload := map[string]any{
		"appointment_id": appt.ID.String(),
		"patient_id":     appt.PatientID.String(),
		"doctor_id":      appt.DoctorID.String(),
		"slot_id":        appt.TimeSlotID.String(),
		"status":         string(appt.Status),
	}
	for k, v := range extra {
		payload[k] = v
	}

	for _, key := range []string{PatientStream(appt.PatientID), DoctorStream(appt.DoctorID)} {
		if _, err := e.log.Publish(ctx, key, eventType, payload); err != nil {
			if e.bestEffort {
				e.logger.Warn().Err(err).
					Str("stream", key).
					Str("event", eventType).
					Msg("event publish failed, continuing")
				continue
			}
			return fmt.Errorf("publish %s to %s: %w", eventType, key, err)
		}
	}

	return nil
}
