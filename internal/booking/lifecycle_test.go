package booking

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/scheduling/internal/eventlog"
)

func TestTransitionTable(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusPending, StatusCheckedIn, true},
		{StatusPending, StatusCancelled, true},
		{StatusCheckedIn, StatusCompleted, true},
		{StatusCheckedIn, StatusCancelled, true},
		{StatusPending, StatusCompleted, false},
		{StatusCheckedIn, StatusCheckedIn, false},
		{StatusCompleted, StatusCheckedIn, false},
		{StatusCompleted, StatusCancelled, false},
		{StatusCancelled, StatusCheckedIn, false},
		{StatusNoShow, StatusCheckedIn, false},
		{StatusNoShow, StatusCancelled, false},
	}
	for _, tc := range tests {
		assert.Equal(t, tc.ok, canTransition(tc.from, tc.to), "%s -> %s", tc.from, tc.to)
	}
}

func TestCheckInThenComplete(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)

	upd, err := f.lifecycle.CheckIn(ctx, appt.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCheckedIn, upd.Status)

	upd, err = f.lifecycle.Complete(ctx, appt.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, upd.Status)

	// Completion keeps the bed: the slot stays at reduced capacity.
	assert.Equal(t, 1, f.availableBeds(t))

	// Terminal states reject further transitions.
	_, err = f.lifecycle.CheckIn(ctx, appt.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	_, err = f.lifecycle.Cancel(ctx, appt.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCompleteRequiresCheckIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)

	_, err = f.lifecycle.Complete(ctx, appt.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestCancelReleasesBed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	assert.Equal(t, 0, f.availableBeds(t))

	upd, err := f.lifecycle.Cancel(ctx, appt.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, upd.Status)
	assert.Equal(t, 1, f.availableBeds(t))

	// Cancelling twice is an invalid transition, and the bed is not
	// released a second time.
	_, err = f.lifecycle.Cancel(ctx, appt.ID, nil)
	assert.ErrorIs(t, err, ErrInvalidTransition)
	assert.Equal(t, 1, f.availableBeds(t))
}

func TestCancelAfterCheckIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 1)

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	_, err = f.lifecycle.CheckIn(ctx, appt.ID, nil)
	require.NoError(t, err)

	_, err = f.lifecycle.Cancel(ctx, appt.ID, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, f.availableBeds(t))
}

func TestTransitionUnknownAppointment(t *testing.T) {
	f := newFixture(t, 1)

	_, err := f.lifecycle.CheckIn(context.Background(), uuid.New(), nil)
	assert.ErrorIs(t, err, ErrAppointmentNotFound)
}

func TestTransitionRecordsHistoryAndEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)
	actor := "nurse-3"

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	_, err = f.lifecycle.CheckIn(ctx, appt.ID, &actor)
	require.NoError(t, err)

	history := f.repo.History(appt.ID)
	require.Len(t, history, 2)
	require.NotNil(t, history[1].FromStatus)
	assert.Equal(t, StatusPending, *history[1].FromStatus)
	assert.Equal(t, StatusCheckedIn, history[1].ToStatus)
	assert.Equal(t, 2, history[1].Seq)

	entries, err := f.events.Range(ctx, PatientStream(f.patient.ID), eventlog.ZeroID, 10)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, EventAppointmentBooked, entries[0].Type)
	assert.Equal(t, EventAppointmentCheckedIn, entries[1].Type)
	assert.True(t, entries[1].ID.After(entries[0].ID))
}

// pastSlot rewires the fixture's slot so it ended an hour ago, making any
// unresolved appointment in it overdue.
func pastSlot(f *fixture) {
	slot := f.slot
	slot.StartTime = time.Now().UTC().Add(-2 * time.Hour)
	slot.EndTime = time.Now().UTC().Add(-time.Hour)
	f.repo.PutTimeSlot(slot)
}

func TestSweepMarksNoShow(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	pastSlot(f)

	report, err := f.lifecycle.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{Examined: 1, Marked: 1}, report)

	got, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)

	// The no-show keeps its bed.
	assert.Equal(t, 1, f.availableBeds(t))

	patient, err := f.repo.GetPatient(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 95, patient.CredibilityScore)

	audits := f.repo.AuditLog()
	require.Len(t, audits, 2) // book + no-show
	noShow := audits[1]
	assert.Equal(t, ActionNoShow, noShow.Action)
	assert.Nil(t, noShow.Actor)
	assert.Equal(t, -5, noShow.Diff["credibility_delta"])
	assert.Equal(t, 95, noShow.Diff["credibility_score"])

	for _, key := range []string{PatientStream(f.patient.ID), DoctorStream(f.doctor.ID)} {
		entries, err := f.events.Range(ctx, key, eventlog.ZeroID, 10)
		require.NoError(t, err)
		require.Len(t, entries, 2)
		assert.Equal(t, EventAppointmentNoShow, entries[1].Type)
	}
}

func TestSweepCatchesCheckedIn(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	appt, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	_, err = f.lifecycle.CheckIn(ctx, appt.ID, nil)
	require.NoError(t, err)
	pastSlot(f)

	report, err := f.lifecycle.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Marked)

	got, err := f.repo.GetAppointment(ctx, appt.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)
}

func TestSweepIsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 2)

	_, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	pastSlot(f)

	report, err := f.lifecycle.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Marked)

	// The second run finds nothing: the penalty is applied exactly once.
	report, err = f.lifecycle.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, SweepReport{}, report)

	patient, err := f.repo.GetPatient(ctx, f.patient.ID)
	require.NoError(t, err)
	assert.Equal(t, 95, patient.CredibilityScore)
}

func TestSweepSkipsResolvedAndFresh(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	pB := f.addPatient()

	overdue, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	resolved, err := f.engine.Book(ctx, pB.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	pastSlot(f)

	// Resolve one before the sweep runs.
	_, err = f.lifecycle.CheckIn(ctx, resolved.ID, nil)
	require.NoError(t, err)
	_, err = f.lifecycle.Complete(ctx, resolved.ID, nil)
	require.NoError(t, err)

	report, err := f.lifecycle.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Examined)
	assert.Equal(t, 1, report.Marked)

	got, err := f.repo.GetAppointment(ctx, overdue.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)

	got, err = f.repo.GetAppointment(ctx, resolved.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, got.Status)
}

func TestSweepRowFailureIsolated(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, 3)
	pB := f.addPatient()

	bad, err := f.engine.Book(ctx, f.patient.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	good, err := f.engine.Book(ctx, pB.ID, f.slot.ID, "checkup", nil)
	require.NoError(t, err)
	pastSlot(f)

	// Removing the patient makes the credibility adjustment fail for one
	// row; the other row must still be marked.
	f.repo.mu.Lock()
	delete(f.repo.st.patients, f.patient.ID)
	f.repo.mu.Unlock()

	report, err := f.lifecycle.SweepNoShows(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, report.Examined)
	assert.Equal(t, 1, report.Marked)
	assert.Equal(t, 1, report.Failed)

	got, err := f.repo.GetAppointment(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusNoShow, got.Status)

	// The failed row rolled back whole and stays eligible for the next
	// run.
	got, err = f.repo.GetAppointment(ctx, bad.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, got.Status)
}
