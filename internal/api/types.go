package api

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/scheduling/internal/booking"
	"github.com/clinicore/scheduling/internal/eventlog"
)

type BookAppointmentRequest struct {
	PatientID string `json:"patient_id"`
	SlotID    string `json:"slot_id"`
	Reason    string `json:"reason,omitempty"`
}

type AppointmentResponse struct {
	ID        uuid.UUID `json:"id"`
	PatientID uuid.UUID `json:"patient_id"`
	DoctorID  uuid.UUID `json:"doctor_id"`
	SlotID    uuid.UUID `json:"slot_id"`
	BedIndex  *int      `json:"bed_index,omitempty"`
	Status    string    `json:"status"`
	Reason    string    `json:"reason,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func appointmentResponse(a *booking.Appointment) AppointmentResponse {
	return AppointmentResponse{
		ID:        a.ID,
		PatientID: a.PatientID,
		DoctorID:  a.DoctorID,
		SlotID:    a.TimeSlotID,
		BedIndex:  a.BedIndex,
		Status:    string(a.Status),
		Reason:    a.Reason,
		CreatedAt: a.CreatedAt,
		UpdatedAt: a.UpdatedAt,
	}
}

type PublishEventRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type PublishEventResponse struct {
	ID string `json:"id"`
}

type StreamEntryResponse struct {
	ID      string         `json:"id"`
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload,omitempty"`
}

type RangeResponse struct {
	Entries []StreamEntryResponse `json:"entries"`
	LastID  string                `json:"last_id"`
}

func rangeResponse(entries []eventlog.Entry, from eventlog.EntryID) RangeResponse {
	resp := RangeResponse{
		Entries: make([]StreamEntryResponse, 0, len(entries)),
		LastID:  from.String(),
	}
	for _, e := range entries {
		resp.Entries = append(resp.Entries, StreamEntryResponse{
			ID:      e.ID.String(),
			Type:    e.Type,
			Payload: e.Payload,
		})
		resp.LastID = e.ID.String()
	}
	return resp
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}
