package booking

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemRepository is an in-memory Repository used by tests and local
// development. Atomic units are copy-on-write: WithinTx runs against a
// clone of the state and swaps it in only on success, so a failing unit
// leaves nothing behind.
type MemRepository struct {
	mu sync.Mutex
	st *memState
}

type memState struct {
	patients    map[uuid.UUID]Patient
	doctors     map[uuid.UUID]Doctor
	schedules   map[uuid.UUID]Schedule
	slots       map[uuid.UUID]TimeSlot
	appts       map[uuid.UUID]Appointment
	history     map[uuid.UUID][]HistoryEntry
	audits      []AuditEntry
	nextAuditID int64
}

func newMemState() *memState {
	return &memState{
		patients:    make(map[uuid.UUID]Patient),
		doctors:     make(map[uuid.UUID]Doctor),
		schedules:   make(map[uuid.UUID]Schedule),
		slots:       make(map[uuid.UUID]TimeSlot),
		appts:       make(map[uuid.UUID]Appointment),
		history:     make(map[uuid.UUID][]HistoryEntry),
		nextAuditID: 1,
	}
}

func (st *memState) clone() *memState {
	cp := &memState{
		patients:    make(map[uuid.UUID]Patient, len(st.patients)),
		doctors:     make(map[uuid.UUID]Doctor, len(st.doctors)),
		schedules:   make(map[uuid.UUID]Schedule, len(st.schedules)),
		slots:       make(map[uuid.UUID]TimeSlot, len(st.slots)),
		appts:       make(map[uuid.UUID]Appointment, len(st.appts)),
		history:     make(map[uuid.UUID][]HistoryEntry, len(st.history)),
		audits:      append([]AuditEntry(nil), st.audits...),
		nextAuditID: st.nextAuditID,
	}
	for k, v := range st.patients {
		cp.patients[k] = v
	}
	for k, v := range st.doctors {
		cp.doctors[k] = v
	}
	for k, v := range st.schedules {
		cp.schedules[k] = v
	}
	for k, v := range st.slots {
		cp.slots[k] = v
	}
	for k, v := range st.appts {
		cp.appts[k] = v
	}
	for k, v := range st.history {
		cp.history[k] = append([]HistoryEntry(nil), v...)
	}
	return cp
}

func NewMemRepository() *MemRepository {
	return &MemRepository{st: newMemState()}
}

// Seeding helpers for tests and local setups. Slot and schedule creation
// is otherwise owned by the scheduling-administration side.

func (r *MemRepository) PutPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.patients[p.ID] = p
}

func (r *MemRepository) PutDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.doctors[d.ID] = d
}

func (r *MemRepository) PutSchedule(s Schedule) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.schedules[s.ID] = s
}

func (r *MemRepository) PutTimeSlot(s TimeSlot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.st.slots[s.ID] = s
}

// AuditLog returns a snapshot of all audit entries in append order.
func (r *MemRepository) AuditLog() []AuditEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]AuditEntry(nil), r.st.audits...)
}

// History returns a snapshot of an appointment's status history.
func (r *MemRepository) History(id uuid.UUID) []HistoryEntry {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]HistoryEntry(nil), r.st.history[id]...)
}

func (r *MemRepository) WithinTx(ctx context.Context, fn func(Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	work := r.st.clone()
	if err := fn(&memView{st: work}); err != nil {
		return err
	}
	r.st = work
	return nil
}

func (r *MemRepository) view(fn func(*memView) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return fn(&memView{st: r.st})
}

// Repository delegation outside a transaction.

func (r *MemRepository) GetPatient(ctx context.Context, id uuid.UUID) (p *Patient, err error) {
	err = r.view(func(v *memView) error { p, err = v.GetPatient(ctx, id); return err })
	return
}

func (r *MemRepository) GetDoctor(ctx context.Context, id uuid.UUID) (d *Doctor, err error) {
	err = r.view(func(v *memView) error { d, err = v.GetDoctor(ctx, id); return err })
	return
}

func (r *MemRepository) GetSchedule(ctx context.Context, id uuid.UUID) (s *Schedule, err error) {
	err = r.view(func(v *memView) error { s, err = v.GetSchedule(ctx, id); return err })
	return
}

func (r *MemRepository) GetTimeSlot(ctx context.Context, id uuid.UUID) (s *TimeSlot, err error) {
	err = r.view(func(v *memView) error { s, err = v.GetTimeSlot(ctx, id); return err })
	return
}

func (r *MemRepository) GetAppointment(ctx context.Context, id uuid.UUID) (a *Appointment, err error) {
	err = r.view(func(v *memView) error { a, err = v.GetAppointment(ctx, id); return err })
	return
}

func (r *MemRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (d *AppointmentDetail, err error) {
	err = r.view(func(v *memView) error { d, err = v.GetAppointmentDetail(ctx, id); return err })
	return
}

func (r *MemRepository) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) (out []AppointmentDetail, err error) {
	err = r.view(func(v *memView) error {
		out, err = v.ListAppointmentsByPatient(ctx, patientID, limit, offset)
		return err
	})
	return
}

func (r *MemRepository) ReserveBed(ctx context.Context, slotID uuid.UUID) error {
	return r.view(func(v *memView) error { return v.ReserveBed(ctx, slotID) })
}

func (r *MemRepository) ReleaseBed(ctx context.Context, slotID uuid.UUID) error {
	return r.view(func(v *memView) error { return v.ReleaseBed(ctx, slotID) })
}

func (r *MemRepository) CountBedHolders(ctx context.Context, slotID uuid.UUID) (n int, err error) {
	err = r.view(func(v *memView) error { n, err = v.CountBedHolders(ctx, slotID); return err })
	return
}

func (r *MemRepository) CreateAppointment(ctx context.Context, appt *Appointment) error {
	return r.view(func(v *memView) error { return v.CreateAppointment(ctx, appt) })
}

func (r *MemRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to Status) (a *Appointment, err error) {
	err = r.view(func(v *memView) error { a, err = v.UpdateAppointmentStatus(ctx, id, from, to); return err })
	return
}

func (r *MemRepository) FindOverdue(ctx context.Context, before time.Time) (out []Appointment, err error) {
	err = r.view(func(v *memView) error { out, err = v.FindOverdue(ctx, before); return err })
	return
}

func (r *MemRepository) AppendHistory(ctx context.Context, entry HistoryEntry) error {
	return r.view(func(v *memView) error { return v.AppendHistory(ctx, entry) })
}

func (r *MemRepository) AppendAudit(ctx context.Context, entry AuditEntry) error {
	return r.view(func(v *memView) error { return v.AppendAudit(ctx, entry) })
}

func (r *MemRepository) AdjustCredibility(ctx context.Context, patientID uuid.UUID, delta int) (n int, err error) {
	err = r.view(func(v *memView) error { n, err = v.AdjustCredibility(ctx, patientID, delta); return err })
	return
}

// memView operates on a state without locking; the MemRepository holds
// the lock for the duration of the call or transaction.
type memView struct {
	st *memState
}

func (v *memView) WithinTx(_ context.Context, fn func(Repository) error) error {
	// Already inside an atomic unit.
	return fn(v)
}

func (v *memView) GetPatient(_ context.Context, id uuid.UUID) (*Patient, error) {
	p, ok := v.st.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	return &p, nil
}

func (v *memView) GetDoctor(_ context.Context, id uuid.UUID) (*Doctor, error) {
	d, ok := v.st.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	return &d, nil
}

func (v *memView) GetSchedule(_ context.Context, id uuid.UUID) (*Schedule, error) {
	s, ok := v.st.schedules[id]
	if !ok {
		return nil, ErrScheduleNotFound
	}
	return &s, nil
}

func (v *memView) GetTimeSlot(_ context.Context, id uuid.UUID) (*TimeSlot, error) {
	s, ok := v.st.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	return &s, nil
}

func (v *memView) GetAppointment(_ context.Context, id uuid.UUID) (*Appointment, error) {
	a, ok := v.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	return &a, nil
}

func (v *memView) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := v.GetAppointment(ctx, id)
	if err != nil {
		return nil, err
	}

	detail := &AppointmentDetail{Appointment: *appt}
	if detail.Slot, err = v.GetTimeSlot(ctx, appt.TimeSlotID); err != nil {
		return nil, err
	}
	if detail.Patient, err = v.GetPatient(ctx, appt.PatientID); err != nil {
		return nil, err
	}
	if detail.Doctor, err = v.GetDoctor(ctx, appt.DoctorID); err != nil {
		return nil, err
	}
	return detail, nil
}

func (v *memView) ListAppointmentsByPatient(ctx context.Context, patientID uuid.UUID, limit, offset int) ([]AppointmentDetail, error) {
	var matched []Appointment
	for _, a := range v.st.appts {
		if a.PatientID == patientID {
			matched = append(matched, a)
		}
	}
	sort.Slice(matched, func(i, j int) bool {
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if offset >= len(matched) {
		return nil, nil
	}
	matched = matched[offset:]
	if limit < len(matched) {
		matched = matched[:limit]
	}

	out := make([]AppointmentDetail, 0, len(matched))
	for _, a := range matched {
		d, err := v.GetAppointmentDetail(ctx, a.ID)
		if err != nil {
			return nil, err
		}
		out = append(out, *d)
	}
	return out, nil
}

func (v *memView) ReserveBed(_ context.Context, slotID uuid.UUID) error {
	slot, ok := v.st.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if !slot.IsActive {
		return ErrSlotInactive
	}
	if slot.AvailableBeds < 1 {
		return ErrSlotFull
	}
	slot.AvailableBeds--
	slot.UpdatedAt = time.Now()
	v.st.slots[slotID] = slot
	return nil
}

func (v *memView) ReleaseBed(_ context.Context, slotID uuid.UUID) error {
	slot, ok := v.st.slots[slotID]
	if !ok {
		return ErrSlotNotFound
	}
	if slot.AvailableBeds >= slot.BedCount {
		return fmt.Errorf("slot %s already at full capacity: %w", slotID, ErrInvariantViolation)
	}
	slot.AvailableBeds++
	slot.UpdatedAt = time.Now()
	v.st.slots[slotID] = slot
	return nil
}

func (v *memView) CountBedHolders(_ context.Context, slotID uuid.UUID) (int, error) {
	n := 0
	for _, a := range v.st.appts {
		if a.TimeSlotID == slotID && a.Status.ConsumesBed() {
			n++
		}
	}
	return n, nil
}

func (v *memView) CreateAppointment(_ context.Context, appt *Appointment) error {
	if _, exists := v.st.appts[appt.ID]; exists {
		return fmt.Errorf("appointment %s already exists", appt.ID)
	}
	v.st.appts[appt.ID] = *appt
	return nil
}

func (v *memView) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to Status) (*Appointment, error) {
	a, ok := v.st.appts[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, ErrStatusChanged
	}
	a.Status = to
	a.UpdatedAt = time.Now()
	v.st.appts[id] = a
	return &a, nil
}

func (v *memView) FindOverdue(_ context.Context, before time.Time) ([]Appointment, error) {
	var out []Appointment
	for _, a := range v.st.appts {
		if a.Status != StatusPending && a.Status != StatusCheckedIn {
			continue
		}
		slot, ok := v.st.slots[a.TimeSlotID]
		if !ok {
			continue
		}
		if slot.EndTime.Before(before) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (v *memView) AppendHistory(_ context.Context, entry HistoryEntry) error {
	entry.Seq = len(v.st.history[entry.AppointmentID]) + 1
	v.st.history[entry.AppointmentID] = append(v.st.history[entry.AppointmentID], entry)
	return nil
}

func (v *memView) AppendAudit(_ context.Context, entry AuditEntry) error {
	entry.ID = v.st.nextAuditID
	v.st.nextAuditID++
	v.st.audits = append(v.st.audits, entry)
	return nil
}

func (v *memView) AdjustCredibility(_ context.Context, patientID uuid.UUID, delta int) (int, error) {
	p, ok := v.st.patients[patientID]
	if !ok {
		return 0, ErrPatientNotFound
	}
	p.CredibilityScore += delta
	p.UpdatedAt = time.Now()
	v.st.patients[patientID] = p
	return p.CredibilityScore, nil
}
