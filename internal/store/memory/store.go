// Package memory is an in-process store used for local runs and tests. A
// single mutex stands in for the database: every transaction holds it for
// its whole duration and is rolled back from a snapshot on error.
package memory

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

type Store struct {
	mu sync.Mutex

	specialists  map[uuid.UUID]booking.Specialist
	patients     map[uuid.UUID]booking.Patient
	templates    map[uuid.UUID]schedule.Template
	appointments map[uuid.UUID]booking.Appointment
	reminders    map[uuid.UUID]reminder.Reminder
	events       []booking.EventLog
	nextEventID  int64
}

var (
	_ booking.Repository = (*Store)(nil)
	_ reminder.Store     = (*Store)(nil)
)

func New() *Store {
	return &Store{
		specialists:  make(map[uuid.UUID]booking.Specialist),
		patients:     make(map[uuid.UUID]booking.Patient),
		templates:    make(map[uuid.UUID]schedule.Template),
		appointments: make(map[uuid.UUID]booking.Appointment),
		reminders:    make(map[uuid.UUID]reminder.Reminder),
	}
}

// Seeding

func (s *Store) AddSpecialist(sp booking.Specialist) booking.Specialist {
	s.mu.Lock()
	defer s.mu.Unlock()

	if sp.ID == uuid.Nil {
		sp.ID = uuid.New()
	}
	if sp.Timezone == "" {
		sp.Timezone = "UTC"
	}
	s.specialists[sp.ID] = sp
	return sp
}

func (s *Store) AddPatient(p booking.Patient) booking.Patient {
	s.mu.Lock()
	defer s.mu.Unlock()

	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	s.patients[p.ID] = p
	return p
}

func (s *Store) AddTemplate(t schedule.Template) (schedule.Template, error) {
	if err := t.Validate(); err != nil {
		return schedule.Template{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.specialists[t.SpecialistID]; !ok {
		return schedule.Template{}, booking.ErrSpecialistNotFound
	}
	if t.ID == uuid.Nil {
		t.ID = uuid.New()
	}
	s.templates[t.ID] = t
	return t, nil
}

// Events returns the event log in insertion order.
func (s *Store) Events() []booking.EventLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]booking.EventLog(nil), s.events...)
}

// Reminders returns every reminder of an appointment ordered by schedule.
func (s *Store) Reminders(appointmentID uuid.UUID) []reminder.Reminder {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reminder.Reminder
	for _, r := range s.reminders {
		if r.AppointmentID == appointmentID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	return out
}

// booking.Repository

func (s *Store) GetSpecialist(_ context.Context, id uuid.UUID) (*booking.Specialist, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sp, ok := s.specialists[id]
	if !ok {
		return nil, booking.ErrSpecialistNotFound
	}
	return &sp, nil
}

func (s *Store) GetPatient(_ context.Context, id uuid.UUID) (*booking.Patient, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.patients[id]
	if !ok {
		return nil, booking.ErrPatientNotFound
	}
	return &p, nil
}

func (s *Store) ListTemplates(_ context.Context, specialistID uuid.UUID, weekday time.Weekday) ([]schedule.Template, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []schedule.Template
	for _, t := range s.templates {
		if t.SpecialistID == specialistID && t.Weekday == weekday && t.Active {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartMinute < out[j].StartMinute })
	return out, nil
}

func (s *Store) GetAppointmentByID(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return &a, nil
}

func (s *Store) ListAppointments(_ context.Context, specialistID uuid.UUID, from, to time.Time, statuses ...booking.AppointmentStatus) ([]booking.Appointment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.overlapping(specialistID, schedule.Interval{Start: from, End: to}, statuses), nil
}

func (s *Store) overlapping(specialistID uuid.UUID, iv schedule.Interval, statuses []booking.AppointmentStatus) []booking.Appointment {
	var out []booking.Appointment
	for _, a := range s.appointments {
		if a.SpecialistID != specialistID || !schedule.Overlaps(a.Interval(), iv) {
			continue
		}
		if len(statuses) > 0 && !hasStatus(statuses, a.Status) {
			continue
		}
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartAt.Before(out[j].StartAt) })
	return out
}

func hasStatus(statuses []booking.AppointmentStatus, st booking.AppointmentStatus) bool {
	for _, s := range statuses {
		if s == st {
			return true
		}
	}
	return false
}

func (s *Store) InSpecialistTx(ctx context.Context, specialistID uuid.UUID, fn func(ctx context.Context, tx booking.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.specialists[specialistID]; !ok {
		return booking.ErrSpecialistNotFound
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	appointments := maps.Clone(s.appointments)
	reminders := maps.Clone(s.reminders)
	events := len(s.events)
	nextEventID := s.nextEventID

	if err := fn(ctx, &memTx{s: s}); err != nil {
		s.appointments = appointments
		s.reminders = reminders
		s.events = s.events[:events]
		s.nextEventID = nextEventID
		return err
	}
	return nil
}

// memTx runs with s.mu already held.
type memTx struct {
	s *Store
}

func (t *memTx) FindOverlapping(_ context.Context, specialistID uuid.UUID, iv schedule.Interval) ([]booking.Appointment, error) {
	return t.s.overlapping(specialistID, iv, booking.ActiveStatuses), nil
}

func (t *memTx) GetAppointmentForUpdate(_ context.Context, id uuid.UUID) (*booking.Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	return &a, nil
}

func (t *memTx) InsertAppointment(_ context.Context, a *booking.Appointment) error {
	if _, ok := t.s.appointments[a.ID]; ok {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	if _, ok := t.s.patients[a.PatientID]; !ok {
		return booking.ErrPatientNotFound
	}
	if a.Status.Active() && len(t.s.overlapping(a.SpecialistID, a.Interval(), booking.ActiveStatuses)) > 0 {
		return booking.ErrSlotConflict
	}
	t.s.appointments[a.ID] = *a
	return nil
}

func (t *memTx) UpdateAppointmentStatus(_ context.Context, id uuid.UUID, from, to booking.AppointmentStatus, now time.Time) (*booking.Appointment, error) {
	a, ok := t.s.appointments[id]
	if !ok {
		return nil, booking.ErrAppointmentNotFound
	}
	if a.Status != from {
		return nil, fmt.Errorf("%w: appointment %s is no longer %s", booking.ErrInvalidTransition, id, from)
	}

	a.Status = to
	a.UpdatedAt = now
	if to == booking.StatusCancelled {
		cancelledAt := now
		a.CancelledAt = &cancelledAt
	}
	t.s.appointments[id] = a
	return &a, nil
}

func (t *memTx) InsertReminders(_ context.Context, reminders []reminder.Reminder) error {
	for _, r := range reminders {
		if t.hasKind(r.AppointmentID, r.Kind) {
			continue
		}
		t.s.reminders[r.ID] = r
	}
	return nil
}

func (t *memTx) hasKind(appointmentID uuid.UUID, kind reminder.Kind) bool {
	for _, r := range t.s.reminders {
		if r.AppointmentID == appointmentID && r.Kind == kind {
			return true
		}
	}
	return false
}

func (t *memTx) CancelPendingReminders(_ context.Context, appointmentID uuid.UUID, now time.Time) (int, error) {
	n := 0
	for id, r := range t.s.reminders {
		if r.AppointmentID != appointmentID || r.Status != reminder.StatusPending {
			continue
		}
		r.Status = reminder.StatusCancelled
		r.ClaimToken = nil
		r.ClaimedUntil = nil
		r.UpdatedAt = now
		t.s.reminders[id] = r
		n++
	}
	return n, nil
}

func (t *memTx) InsertEvent(_ context.Context, ev booking.EventLog) error {
	t.s.nextEventID++
	ev.ID = t.s.nextEventID
	t.s.events = append(t.s.events, ev)
	return nil
}

// reminder.Store

func (s *Store) ClaimDue(_ context.Context, now time.Time, lease time.Duration, limit int) ([]reminder.Delivery, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []reminder.Reminder
	for _, r := range s.reminders {
		if !reminder.Claimable(r, now) {
			continue
		}
		a, ok := s.appointments[r.AppointmentID]
		if !ok || !deliverable(r.Kind, a.Status) {
			continue
		}
		due = append(due, r)
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}

	token := uuid.New()
	until := now.Add(lease)

	out := make([]reminder.Delivery, 0, len(due))
	for _, r := range due {
		r.ClaimToken = &token
		r.ClaimedUntil = &until
		r.UpdatedAt = now
		s.reminders[r.ID] = r

		a := s.appointments[r.AppointmentID]
		p := s.patients[a.PatientID]
		sp := s.specialists[a.SpecialistID]

		out = append(out, reminder.Delivery{
			Reminder:         r,
			ClaimToken:       token,
			Destination:      p.ContactChannel,
			PatientName:      p.Name,
			SpecialistName:   sp.Name,
			AppointmentStart: a.StartAt,
			Timezone:         sp.Timezone,
		})
	}
	return out, nil
}

func deliverable(kind reminder.Kind, status booking.AppointmentStatus) bool {
	if kind == reminder.KindFollowUp {
		return status == booking.StatusCompleted
	}
	return status.Active()
}

func (s *Store) RecordResult(_ context.Context, id, token uuid.UUID, outcome reminder.Outcome, policy reminder.RetryPolicy, now time.Time) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return nil, reminder.ErrReminderNotFound
	}
	if err := reminder.ApplyOutcome(&r, token, outcome, policy, now); err != nil {
		return nil, err
	}
	s.reminders[id] = r

	if r.Status == reminder.StatusSent && r.Kind.CountsAsReminder() {
		if a, ok := s.appointments[r.AppointmentID]; ok {
			a.ReminderSent = true
			a.UpdatedAt = now
			s.appointments[a.ID] = a
		}
	}
	if eventType, payload, ok := reminder.OutcomeEvent(r); ok {
		apptID := r.AppointmentID
		s.nextEventID++
		s.events = append(s.events, booking.EventLog{
			ID:            s.nextEventID,
			EventType:     eventType,
			AppointmentID: &apptID,
			Payload:       payload,
			CreatedAt:     now,
		})
	}
	return &r, nil
}

func (s *Store) ListDue(_ context.Context, now time.Time, limit int) ([]reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []reminder.Reminder
	for _, r := range s.reminders {
		if r.Status == reminder.StatusPending && !r.ScheduledAt.After(now) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.Before(out[j].ScheduledAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) GetReminder(_ context.Context, id uuid.UUID) (*reminder.Reminder, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	r, ok := s.reminders[id]
	if !ok {
		return nil, reminder.ErrReminderNotFound
	}
	return &r, nil
}
