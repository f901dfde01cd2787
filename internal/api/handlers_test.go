package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/internal/booking"
	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/eventlog"
	"github.com/clinicore/scheduling/internal/notify"
)

type testServer struct {
	srv  *httptest.Server
	repo *booking.MemRepository

	patientID uuid.UUID
	slotID    uuid.UUID
}

func newTestServer(t *testing.T, bedCount int) *testServer {
	t.Helper()

	repo := booking.NewMemRepository()
	events := eventlog.NewMemoryLog()
	cfg := config.Config{ClinicTZ: time.UTC, NoShowPenalty: 5}
	logger := zerolog.Nop()

	lifecycle := booking.NewLifecycle(repo, events, cfg, logger)
	engine := booking.NewEngine(repo, events, lifecycle, cfg, logger)

	now := time.Now().UTC()
	ts := &testServer{
		repo:      repo,
		patientID: uuid.New(),
		slotID:    uuid.New(),
	}
	doctorID := uuid.New()
	scheduleID := uuid.New()

	repo.PutPatient(booking.Patient{ID: ts.patientID, Name: "Ada Byron", CredibilityScore: 100})
	repo.PutDoctor(booking.Doctor{ID: doctorID, Name: "Dr. Snow"})
	repo.PutSchedule(booking.Schedule{ID: scheduleID, DoctorID: doctorID, Room: "101", Date: now})
	repo.PutTimeSlot(booking.TimeSlot{
		ID:            ts.slotID,
		ScheduleID:    scheduleID,
		StartTime:     now.Add(time.Hour),
		EndTime:       now.Add(2 * time.Hour),
		BedCount:      bedCount,
		AvailableBeds: bedCount,
		IsActive:      true,
	})

	notifier := notify.NewDispatcher(events, 5*time.Millisecond, logger)
	notifierCtx, stopNotifier := context.WithCancel(context.Background())
	t.Cleanup(stopNotifier)
	go notifier.Run(notifierCtx)

	router := NewRouter(RouterConfig{
		Engine:    engine,
		Lifecycle: lifecycle,
		Events:    events,
		Notifier:  notifier,
		Logger:    logger,
		Env:       "test",
		Version:   "test",
	})

	ts.srv = httptest.NewServer(router)
	t.Cleanup(ts.srv.Close)
	return ts
}

func (ts *testServer) post(t *testing.T, path string, body any) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	resp, err := http.Post(ts.srv.URL+path, "application/json", &buf)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(ts.srv.URL + path)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (ts *testServer) book(t *testing.T) AppointmentResponse {
	t.Helper()
	resp := ts.post(t, "/appointments", BookAppointmentRequest{
		PatientID: ts.patientID.String(),
		SlotID:    ts.slotID.String(),
		Reason:    "checkup",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	var appt AppointmentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&appt))
	return appt
}

func decodeError(t *testing.T, resp *http.Response) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&e))
	return e
}

func TestBookEndpoint(t *testing.T) {
	ts := newTestServer(t, 2)

	appt := ts.book(t)
	assert.Equal(t, ts.patientID, appt.PatientID)
	assert.Equal(t, ts.slotID, appt.SlotID)
	assert.Equal(t, "PENDING", appt.Status)
	require.NotNil(t, appt.BedIndex)
	assert.Equal(t, 0, *appt.BedIndex)
}

func TestBookEndpointValidation(t *testing.T) {
	ts := newTestServer(t, 2)

	resp := ts.post(t, "/appointments", BookAppointmentRequest{PatientID: "nope", SlotID: ts.slotID.String()})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_patient_id", decodeError(t, resp).Error)

	resp = ts.post(t, "/appointments", BookAppointmentRequest{PatientID: ts.patientID.String(), SlotID: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "invalid_slot_id", decodeError(t, resp).Error)
}

func TestBookEndpointSlotFull(t *testing.T) {
	ts := newTestServer(t, 1)
	ts.book(t)

	other := uuid.New()
	ts.repo.PutPatient(booking.Patient{ID: other, Name: "Grace Hopper", CredibilityScore: 100})

	resp := ts.post(t, "/appointments", BookAppointmentRequest{
		PatientID: other.String(),
		SlotID:    ts.slotID.String(),
	})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "slot_full", decodeError(t, resp).Error)
}

func TestBookEndpointUnknownPatient(t *testing.T) {
	ts := newTestServer(t, 1)

	resp := ts.post(t, "/appointments", BookAppointmentRequest{
		PatientID: uuid.NewString(),
		SlotID:    ts.slotID.String(),
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "patient_not_found", decodeError(t, resp).Error)
}

func TestLifecycleEndpoints(t *testing.T) {
	ts := newTestServer(t, 1)
	appt := ts.book(t)

	resp := ts.post(t, fmt.Sprintf("/appointments/%s/checkin", appt.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var upd AppointmentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&upd))
	assert.Equal(t, "CHECKED_IN", upd.Status)

	resp = ts.post(t, fmt.Sprintf("/appointments/%s/complete", appt.ID), nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	// A completed appointment rejects further transitions.
	resp = ts.post(t, fmt.Sprintf("/appointments/%s/cancel", appt.ID), nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "invalid_status_transition", decodeError(t, resp).Error)
}

func TestCancelEndpoint(t *testing.T) {
	ts := newTestServer(t, 1)
	appt := ts.book(t)

	resp := ts.post(t, fmt.Sprintf("/appointments/%s/cancel", appt.ID), nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	// The bed is back: a second booking succeeds.
	ts.book(t)
}

func TestGetAndListEndpoints(t *testing.T) {
	ts := newTestServer(t, 3)
	appt := ts.book(t)
	ts.book(t)

	resp := ts.get(t, "/appointments/"+appt.ID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var got AppointmentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&got))
	assert.Equal(t, appt.ID, got.ID)

	resp = ts.get(t, "/appointments/"+uuid.NewString())
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = ts.get(t, "/appointments?patient_id="+ts.patientID.String())
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var list []AppointmentResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&list))
	assert.Len(t, list, 2)
}

func TestStreamEndpoints(t *testing.T) {
	ts := newTestServer(t, 1)
	appt := ts.book(t)

	// Booking published to the patient stream; read it back over HTTP.
	resp := ts.get(t, "/streams/patient:"+ts.patientID.String()+"/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var page RangeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&page))
	require.Len(t, page.Entries, 1)
	assert.Equal(t, "APPOINTMENT_BOOKED", page.Entries[0].Type)
	assert.Equal(t, appt.ID.String(), page.Entries[0].Payload["appointment_id"])
	assert.Equal(t, page.Entries[0].ID, page.LastID)

	// Resuming from last_id yields an empty page.
	resp = ts.get(t, "/streams/patient:"+ts.patientID.String()+"/events?from="+page.LastID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var next RangeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&next))
	assert.Empty(t, next.Entries)
	assert.Equal(t, page.LastID, next.LastID)

	// Debug injection round-trips through the same contract.
	resp = ts.post(t, "/streams/ops:test/events", PublishEventRequest{
		Type:    "PING",
		Payload: map[string]any{"n": 1},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var pub PublishEventResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&pub))
	assert.NotEmpty(t, pub.ID)

	resp = ts.get(t, "/streams/ops:test/events")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var ops RangeResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&ops))
	require.Len(t, ops.Entries, 1)
	assert.Equal(t, pub.ID, ops.Entries[0].ID)
}

func TestStreamSubscribeEndpoint(t *testing.T) {
	ts := newTestServer(t, 1)
	appt := ts.book(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		ts.srv.URL+"/streams/patient:"+ts.patientID.String()+"/subscribe", nil)
	require.NoError(t, err)

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	// The booking happened before we subscribed; the ZeroID cursor
	// replays it as the first event on the wire.
	reader := bufio.NewReader(resp.Body)
	var idLine, dataLine string
	for idLine == "" || dataLine == "" {
		line, err := reader.ReadString('\n')
		require.NoError(t, err)
		line = strings.TrimRight(line, "\n")
		if strings.HasPrefix(line, "id: ") {
			idLine = strings.TrimPrefix(line, "id: ")
		}
		if strings.HasPrefix(line, "data: ") {
			dataLine = strings.TrimPrefix(line, "data: ")
		}
	}

	var entry StreamEntryResponse
	require.NoError(t, json.Unmarshal([]byte(dataLine), &entry))
	assert.Equal(t, idLine, entry.ID)
	assert.Equal(t, "APPOINTMENT_BOOKED", entry.Type)
	assert.Equal(t, appt.ID.String(), entry.Payload["appointment_id"])
}

func TestStreamSubscribeBadCursor(t *testing.T) {
	ts := newTestServer(t, 1)

	resp := ts.get(t, "/streams/k/subscribe?from=garbage")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStreamEndpointValidation(t *testing.T) {
	ts := newTestServer(t, 1)

	resp := ts.post(t, "/streams/k/events", PublishEventRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.get(t, "/streams/k/events?count=9999")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = ts.get(t, "/streams/k/events?from=garbage")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLivenessEndpoint(t *testing.T) {
	ts := newTestServer(t, 1)

	resp := ts.get(t, "/health/live")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var live LivenessResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&live))
	assert.Equal(t, "ok", live.Status)
}
