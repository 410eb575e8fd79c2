package reminder

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Store is the persistence the dispatcher needs.
type Store interface {
	// ClaimDue atomically leases up to limit claimable reminders whose
	// appointment is still active (follow-ups: completed) so that no other
	// dispatcher sees them until now+lease.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration, limit int) ([]Delivery, error)

	// RecordResult applies an outcome under ApplyOutcome rules. A successful
	// pre-appointment reminder also sets the appointment reminder_sent flag.
	RecordResult(ctx context.Context, id, token uuid.UUID, outcome Outcome, policy RetryPolicy, now time.Time) (*Reminder, error)

	// ListDue returns pending reminders scheduled at or before now, regardless of lease.
	ListDue(ctx context.Context, now time.Time, limit int) ([]Reminder, error)

	GetReminder(ctx context.Context, id uuid.UUID) (*Reminder, error)
}
