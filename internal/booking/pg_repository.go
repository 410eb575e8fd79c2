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

	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

// SQLSTATE exclusion_violation, raised by appointments_no_overlap.
const pgExclusionViolation = "23P01"

type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	SendBatch(ctx context.Context, b *pgx.Batch) pgx.BatchResults
}

type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

// Helpers

const appointmentColumns = `id, specialist_id, patient_id, start_at, duration_minutes, status, reason, reminder_sent, created_at, updated_at, cancelled_at`

func scanAppointment(row pgx.Row) (*Appointment, error) {
	var a Appointment
	err := row.Scan(
		&a.ID,
		&a.SpecialistID,
		&a.PatientID,
		&a.StartAt,
		&a.DurationMinutes,
		&a.Status,
		&a.Reason,
		&a.ReminderSent,
		&a.CreatedAt,
		&a.UpdatedAt,
		&a.CancelledAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrAppointmentNotFound
		}
		return nil, err
	}
	return &a, nil
}

func collectAppointments(rows pgx.Rows) ([]Appointment, error) {
	defer rows.Close()

	var out []Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func statusStrings(statuses []AppointmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

// Interface methods

func (r *PgRepository) GetSpecialist(ctx context.Context, id uuid.UUID) (*Specialist, error) {
	var s Specialist
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, contact_channel, timezone, active, created_at, updated_at
		FROM specialists
		WHERE id = $1
	`, id).Scan(&s.ID, &s.Name, &s.ContactChannel, &s.Timezone, &s.Active, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrSpecialistNotFound
		}
		return nil, err
	}
	return &s, nil
}

func (r *PgRepository) GetPatient(ctx context.Context, id uuid.UUID) (*Patient, error) {
	var p Patient
	err := r.pool.QueryRow(ctx, `
		SELECT id, name, contact_channel, email, created_at, updated_at
		FROM patients
		WHERE id = $1
	`, id).Scan(&p.ID, &p.Name, &p.ContactChannel, &p.Email, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPatientNotFound
		}
		return nil, err
	}
	return &p, nil
}

func (r *PgRepository) ListTemplates(ctx context.Context, specialistID uuid.UUID, weekday time.Weekday) ([]schedule.Template, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, specialist_id, weekday, start_minute, end_minute, slot_minutes, active
		FROM availability_templates
		WHERE specialist_id = $1 AND weekday = $2 AND active
		ORDER BY start_minute
	`, specialistID, int(weekday))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []schedule.Template
	for rows.Next() {
		var (
			t       schedule.Template
			weekday int16
		)
		if err := rows.Scan(&t.ID, &t.SpecialistID, &weekday, &t.StartMinute, &t.EndMinute, &t.SlotMinutes, &t.Active); err != nil {
			return nil, err
		}
		t.Weekday = time.Weekday(weekday)
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *PgRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	return scanAppointment(row)
}

// ListAppointments returns appointments overlapping [from, to). With no
// statuses every status is returned.
func (r *PgRepository) ListAppointments(ctx context.Context, specialistID uuid.UUID, from, to time.Time, statuses ...AppointmentStatus) ([]Appointment, error) {
	var (
		rows pgx.Rows
		err  error
	)
	if len(statuses) == 0 {
		rows, err = r.pool.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE specialist_id = $1 AND start_at < $3 AND end_at > $2
			ORDER BY start_at
		`, specialistID, from, to)
	} else {
		rows, err = r.pool.Query(ctx, `
			SELECT `+appointmentColumns+`
			FROM appointments
			WHERE specialist_id = $1 AND start_at < $3 AND end_at > $2 AND status = ANY($4)
			ORDER BY start_at
		`, specialistID, from, to, statusStrings(statuses))
	}
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

// InSpecialistTx opens a READ COMMITTED transaction and locks the specialist
// row, which serializes every writer for that specialist.
func (r *PgRepository) InSpecialistTx(ctx context.Context, specialistID uuid.UUID, fn func(ctx context.Context, tx Tx) error) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var locked uuid.UUID
	err = tx.QueryRow(ctx, `SELECT id FROM specialists WHERE id = $1 FOR UPDATE`, specialistID).Scan(&locked)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrSpecialistNotFound
		}
		return fmt.Errorf("lock specialist: %w", err)
	}

	if err := fn(ctx, &pgTx{q: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return mapPgError(fmt.Errorf("commit tx: %w", err))
	}
	return nil
}

// mapPgError turns the overlap exclusion constraint into ErrSlotConflict.
func mapPgError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgExclusionViolation {
		return ErrSlotConflict
	}
	return err
}

type pgTx struct {
	q querier
}

func (t *pgTx) FindOverlapping(ctx context.Context, specialistID uuid.UUID, iv schedule.Interval) ([]Appointment, error) {
	rows, err := t.q.Query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE specialist_id = $1
		  AND status IN ('pending', 'confirmed')
		  AND start_at < $3 AND end_at > $2
		ORDER BY start_at
	`, specialistID, iv.Start, iv.End)
	if err != nil {
		return nil, err
	}
	return collectAppointments(rows)
}

func (t *pgTx) GetAppointmentForUpdate(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1 FOR UPDATE`, id)
	return scanAppointment(row)
}

func (t *pgTx) InsertAppointment(ctx context.Context, a *Appointment) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO appointments (id, specialist_id, patient_id, start_at, end_at, duration_minutes,
		                          status, reason, reminder_sent, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, a.ID, a.SpecialistID, a.PatientID, a.StartAt, a.EndAt(), a.DurationMinutes,
		string(a.Status), a.Reason, a.ReminderSent, a.CreatedAt, a.UpdatedAt)
	if err != nil {
		return mapPgError(fmt.Errorf("insert appointment: %w", err))
	}
	return nil
}

// UpdateAppointmentStatus is conditional on the current status so a stale
// read can never overwrite a concurrent transition.
func (t *pgTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, now time.Time) (*Appointment, error) {
	row := t.q.QueryRow(ctx, `
		UPDATE appointments
		SET status = $3::text,
		    updated_at = $4,
		    cancelled_at = CASE WHEN $3::text = 'cancelled' THEN $4 ELSE cancelled_at END
		WHERE id = $1 AND status = $2
		RETURNING `+appointmentColumns, id, string(from), string(to), now)

	a, err := scanAppointment(row)
	if errors.Is(err, ErrAppointmentNotFound) {
		return nil, fmt.Errorf("%w: appointment %s is no longer %s", ErrInvalidTransition, id, from)
	}
	return a, err
}

func (t *pgTx) InsertReminders(ctx context.Context, reminders []reminder.Reminder) error {
	batch := &pgx.Batch{}
	for _, rm := range reminders {
		batch.Queue(`
			INSERT INTO reminders (id, appointment_id, kind, scheduled_at, status, attempts, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			ON CONFLICT (appointment_id, kind) DO NOTHING
		`, rm.ID, rm.AppointmentID, string(rm.Kind), rm.ScheduledAt, string(rm.Status), rm.Attempts, rm.CreatedAt, rm.UpdatedAt)
	}
	return t.q.SendBatch(ctx, batch).Close()
}

func (t *pgTx) CancelPendingReminders(ctx context.Context, appointmentID uuid.UUID, now time.Time) (int, error) {
	tag, err := t.q.Exec(ctx, `
		UPDATE reminders
		SET status = 'cancelled',
		    claim_token = NULL,
		    claimed_until = NULL,
		    updated_at = $2
		WHERE appointment_id = $1 AND status = 'pending'
	`, appointmentID, now)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := t.q.Exec(ctx, `
		INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
		VALUES ($1, $2, $3, $4)
	`, ev.EventType, ev.AppointmentID, ev.Payload, ev.CreatedAt)
	return err
}
