package reminder

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

type Kind string

const (
	KindDayBefore    Kind = "reminder_24h"
	KindHourBefore   Kind = "reminder_1h"
	KindConfirmation Kind = "confirmation"
	KindFollowUp     Kind = "follow_up"
)

// Offset is how long before the appointment start a pre-appointment
// reminder fires. Other kinds have no fixed offset.
func (k Kind) Offset() time.Duration {
	switch k {
	case KindDayBefore:
		return 24 * time.Hour
	case KindHourBefore:
		return time.Hour
	default:
		return 0
	}
}

// CountsAsReminder reports whether a successful delivery sets the
// appointment reminder_sent flag.
func (k Kind) CountsAsReminder() bool {
	return k == KindDayBefore || k == KindHourBefore
}

type Status string

const (
	StatusPending   Status = "pending"
	StatusSent      Status = "sent"
	StatusFailed    Status = "failed"
	StatusCancelled Status = "cancelled"
)

var (
	ErrReminderNotFound   = errors.New("reminder not found")
	ErrReminderNotPending = errors.New("reminder is not pending")
	ErrLeaseLost          = errors.New("reminder claim no longer held")
	ErrDeliveryFailure    = errors.New("delivery failed")
)

type Reminder struct {
	ID            uuid.UUID
	AppointmentID uuid.UUID
	Kind          Kind
	ScheduledAt   time.Time
	SentAt        *time.Time
	Status        Status
	Attempts      int
	LastError     *string
	ClaimToken    *uuid.UUID
	ClaimedUntil  *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Delivery is a claimed reminder joined with what is needed to send it.
type Delivery struct {
	Reminder
	ClaimToken       uuid.UUID
	Destination      string
	PatientName      string
	SpecialistName   string
	AppointmentStart time.Time
	Timezone         string
}

// Outcome of one delivery attempt.
type Outcome struct {
	Delivered bool
	Error     string
}

type RetryPolicy struct {
	MaxAttempts int
	RetryDelay  time.Duration
}

// New builds a pending reminder.
func New(appointmentID uuid.UUID, kind Kind, scheduledAt, now time.Time) Reminder {
	return Reminder{
		ID:            uuid.New(),
		AppointmentID: appointmentID,
		Kind:          kind,
		ScheduledAt:   scheduledAt,
		Status:        StatusPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
}

// ApplyOutcome moves r through its state machine. token must match the
// current claim unless it is uuid.Nil, which skips the lease check.
//
//	pending --delivered--> sent
//	pending --failed, attempts < max--> pending (not before now+RetryDelay)
//	pending --failed, attempts == max--> failed
func ApplyOutcome(r *Reminder, token uuid.UUID, outcome Outcome, policy RetryPolicy, now time.Time) error {
	if r.Status != StatusPending {
		return fmt.Errorf("%w: %s", ErrReminderNotPending, r.Status)
	}
	if token != uuid.Nil && (r.ClaimToken == nil || *r.ClaimToken != token) {
		return ErrLeaseLost
	}

	r.ClaimToken = nil
	r.UpdatedAt = now

	if outcome.Delivered {
		sentAt := now
		r.Status = StatusSent
		r.SentAt = &sentAt
		r.ClaimedUntil = nil
		r.LastError = nil
		return nil
	}

	r.Attempts++
	msg := outcome.Error
	if msg == "" {
		msg = ErrDeliveryFailure.Error()
	}
	r.LastError = &msg

	if r.Attempts >= policy.MaxAttempts {
		r.Status = StatusFailed
		r.ClaimedUntil = nil
		return nil
	}

	notBefore := now.Add(policy.RetryDelay)
	r.ClaimedUntil = &notBefore
	return nil
}

const (
	EventReminderSent   = "REMINDER_SENT"
	EventReminderFailed = "REMINDER_FAILED"
)

// OutcomeEvent returns the event log type and payload for a reminder that
// has just reached sent or failed. ok is false for any other state.
func OutcomeEvent(r Reminder) (eventType string, payload []byte, ok bool) {
	switch r.Status {
	case StatusSent:
		eventType = EventReminderSent
	case StatusFailed:
		eventType = EventReminderFailed
	default:
		return "", nil, false
	}

	body := map[string]any{
		"reminder_id": r.ID,
		"kind":        r.Kind,
		"attempts":    r.Attempts,
	}
	if r.LastError != nil {
		body["error"] = *r.LastError
	}
	payload, _ = json.Marshal(body)
	return eventType, payload, true
}

// Claimable reports whether a dispatcher may claim r at now.
func Claimable(r Reminder, now time.Time) bool {
	if r.Status != StatusPending || r.ScheduledAt.After(now) {
		return false
	}
	return r.ClaimedUntil == nil || !r.ClaimedUntil.After(now)
}
