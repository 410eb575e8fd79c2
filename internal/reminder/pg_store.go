package reminder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PgStore struct {
	pool *pgxpool.Pool
}

func NewPgStore(pool *pgxpool.Pool) *PgStore {
	return &PgStore{pool: pool}
}

const reminderColumns = `id, appointment_id, kind, scheduled_at, sent_at, status, attempts, last_error, claim_token, claimed_until, created_at, updated_at`

func scanReminder(row pgx.Row) (*Reminder, error) {
	var r Reminder
	err := row.Scan(
		&r.ID,
		&r.AppointmentID,
		&r.Kind,
		&r.ScheduledAt,
		&r.SentAt,
		&r.Status,
		&r.Attempts,
		&r.LastError,
		&r.ClaimToken,
		&r.ClaimedUntil,
		&r.CreatedAt,
		&r.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReminderNotFound
		}
		return nil, err
	}
	return &r, nil
}

// ClaimDue leases due reminders with FOR UPDATE SKIP LOCKED so concurrent
// dispatchers partition the batch instead of blocking on each other.
func (s *PgStore) ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Delivery, error) {
	token := uuid.New()

	rows, err := s.pool.Query(ctx, `
		UPDATE reminders r
		SET claim_token = $1,
		    claimed_until = $2,
		    updated_at = $3
		FROM appointments a
		JOIN patients p ON p.id = a.patient_id
		JOIN specialists s ON s.id = a.specialist_id
		WHERE a.id = r.appointment_id
		  AND r.id IN (
			SELECT r2.id
			FROM reminders r2
			JOIN appointments a2 ON a2.id = r2.appointment_id
			WHERE r2.status = 'pending'
			  AND r2.scheduled_at <= $3
			  AND (r2.claimed_until IS NULL OR r2.claimed_until <= $3)
			  AND (a2.status IN ('pending', 'confirmed')
			       OR (r2.kind = 'follow_up' AND a2.status = 'completed'))
			ORDER BY r2.scheduled_at
			LIMIT $4
			FOR UPDATE OF r2 SKIP LOCKED
		  )
		RETURNING r.id, r.appointment_id, r.kind, r.scheduled_at, r.sent_at, r.status, r.attempts,
		          r.last_error, r.claim_token, r.claimed_until, r.created_at, r.updated_at,
		          p.contact_channel, p.name, s.name, a.start_at, s.timezone
	`, token, now.Add(lease), now, limit)
	if err != nil {
		return nil, fmt.Errorf("claim reminders: %w", err)
	}
	defer rows.Close()

	var out []Delivery
	for rows.Next() {
		var d Delivery
		err := rows.Scan(
			&d.ID,
			&d.AppointmentID,
			&d.Kind,
			&d.ScheduledAt,
			&d.SentAt,
			&d.Status,
			&d.Attempts,
			&d.LastError,
			&d.Reminder.ClaimToken,
			&d.ClaimedUntil,
			&d.CreatedAt,
			&d.UpdatedAt,
			&d.Destination,
			&d.PatientName,
			&d.SpecialistName,
			&d.AppointmentStart,
			&d.Timezone,
		)
		if err != nil {
			return nil, err
		}
		d.ClaimToken = token
		out = append(out, d)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return out, nil
}

func (s *PgStore) RecordResult(ctx context.Context, id, token uuid.UUID, outcome Outcome, policy RetryPolicy, now time.Time) (*Reminder, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	r, err := scanReminder(tx.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1
		FOR UPDATE
	`, id))
	if err != nil {
		return nil, err
	}

	if err := ApplyOutcome(r, token, outcome, policy, now); err != nil {
		return nil, err
	}

	_, err = tx.Exec(ctx, `
		UPDATE reminders
		SET status = $2,
		    sent_at = $3,
		    attempts = $4,
		    last_error = $5,
		    claim_token = $6,
		    claimed_until = $7,
		    updated_at = $8
		WHERE id = $1
	`, r.ID, r.Status, r.SentAt, r.Attempts, r.LastError, r.ClaimToken, r.ClaimedUntil, r.UpdatedAt)
	if err != nil {
		return nil, fmt.Errorf("update reminder: %w", err)
	}

	if r.Status == StatusSent && r.Kind.CountsAsReminder() {
		_, err = tx.Exec(ctx, `
			UPDATE appointments
			SET reminder_sent = true,
			    updated_at = $2
			WHERE id = $1
		`, r.AppointmentID, now)
		if err != nil {
			return nil, fmt.Errorf("flag appointment reminder: %w", err)
		}
	}

	if eventType, payload, ok := OutcomeEvent(*r); ok {
		_, err = tx.Exec(ctx, `
			INSERT INTO event_logs (event_type, appointment_id, payload, created_at)
			VALUES ($1, $2, $3, $4)
		`, eventType, r.AppointmentID, payload, now)
		if err != nil {
			return nil, fmt.Errorf("insert event: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return r, nil
}

func (s *PgStore) ListDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE status = 'pending'
		  AND scheduled_at <= $1
		ORDER BY scheduled_at
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *PgStore) GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error) {
	return scanReminder(s.pool.QueryRow(ctx, `
		SELECT `+reminderColumns+`
		FROM reminders
		WHERE id = $1
	`, id))
}
