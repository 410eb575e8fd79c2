//go:build integration

package booking_test

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/db"
	redisclient "github.com/hackgods/specialist-booking/internal/redis"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
	"github.com/hackgods/specialist-booking/internal/seed"
)

var pgPool *pgxpool.Pool

func TestMain(m *testing.M) {
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "booking",
				"POSTGRES_PASSWORD": "booking",
				"POSTGRES_DB":       "booking_test",
			},
			WaitingFor: wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "start postgres container: %v\n", err)
		os.Exit(1)
	}

	code := func() int {
		defer func() { _ = container.Terminate(ctx) }()

		host, err := container.Host(ctx)
		if err != nil {
			fmt.Fprintf(os.Stderr, "container host: %v\n", err)
			return 1
		}
		port, err := container.MappedPort(ctx, "5432/tcp")
		if err != nil {
			fmt.Fprintf(os.Stderr, "container port: %v\n", err)
			return 1
		}

		dsn := fmt.Sprintf("postgres://booking:booking@%s:%s/booking_test?sslmode=disable", host, port.Port())
		pgPool, err = db.ConnectPostgres(ctx, dsn, "booking-integration-test")
		if err != nil {
			fmt.Fprintf(os.Stderr, "connect: %v\n", err)
			return 1
		}
		defer pgPool.Close()

		if err := db.Migrate(ctx, pgPool); err != nil {
			fmt.Fprintf(os.Stderr, "migrate: %v\n", err)
			return 1
		}
		return m.Run()
	}()
	os.Exit(code)
}

type pgFixture struct {
	repo       *booking.PgRepository
	svc        *booking.Service
	specialist booking.Specialist
	patients   []booking.Patient
	day        time.Time
}

// newPgFixture seeds one UTC specialist working 08:00-18:00 every day in
// 30 minute slots, and a handful of patients.
func newPgFixture(t *testing.T) *pgFixture {
	t.Helper()
	ctx := context.Background()

	ds := seed.Generate(seed.Options{Specialists: 1, Patients: 5})
	ds.Specialists[0].Timezone = "UTC"
	ds.Templates = nil
	for wd := time.Sunday; wd <= time.Saturday; wd++ {
		ds.Templates = append(ds.Templates, schedule.Template{
			ID:           uuid.New(),
			SpecialistID: ds.Specialists[0].ID,
			Weekday:      wd,
			StartMinute:  8 * 60,
			EndMinute:    18 * 60,
			SlotMinutes:  30,
			Active:       true,
		})
	}
	require.NoError(t, seed.WritePostgres(ctx, pgPool, ds, zerolog.Nop()))

	repo := booking.NewPgRepository(pgPool)
	cfg := config.Config{
		DefaultTimezone: "UTC",
		Reminder:        config.ReminderConfig{OneHourEnabled: true, MaxAttempts: 3},
	}

	today := time.Now().UTC().Truncate(24 * time.Hour)
	return &pgFixture{
		repo:       repo,
		svc:        booking.NewService(repo, redisclient.NopLocker(), cfg, zerolog.Nop()),
		specialist: ds.Specialists[0],
		patients:   ds.Patients,
		day:        today.AddDate(0, 0, 7),
	}
}

func (f *pgFixture) at(hour, minute int) time.Time {
	return f.day.Add(time.Duration(hour)*time.Hour + time.Duration(minute)*time.Minute)
}

func TestPg_ConcurrentCreateOneWins(t *testing.T) {
	f := newPgFixture(t)

	const workers = 20
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		conflicts int
		other     []error
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := f.svc.CreateAppointment(systemCtx(), booking.CreateAppointmentInput{
				SpecialistID:    f.specialist.ID,
				PatientID:       f.patients[i%len(f.patients)].ID,
				StartAt:         f.at(10, 0),
				DurationMinutes: 30,
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case errors.Is(err, booking.ErrSlotConflict):
				conflicts++
			default:
				other = append(other, err)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, workers-1, conflicts)
	assert.Empty(t, other)

	active, err := f.repo.ListAppointments(context.Background(), f.specialist.ID, f.at(0, 0), f.at(23, 0), booking.ActiveStatuses...)
	require.NoError(t, err)
	assert.Len(t, active, 1)
}

func TestPg_ExclusionConstraintMapsToConflict(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	now := time.Now().UTC()

	newAppt := func(start time.Time) *booking.Appointment {
		return &booking.Appointment{
			ID:              uuid.New(),
			SpecialistID:    f.specialist.ID,
			PatientID:       f.patients[0].ID,
			StartAt:         start,
			DurationMinutes: 60,
			Status:          booking.StatusPending,
			CreatedAt:       now,
			UpdatedAt:       now,
		}
	}

	require.NoError(t, f.repo.InSpecialistTx(ctx, f.specialist.ID, func(ctx context.Context, tx booking.Tx) error {
		return tx.InsertAppointment(ctx, newAppt(f.at(14, 0)))
	}))

	// skip the application check so only the constraint can reject it
	err := f.repo.InSpecialistTx(ctx, f.specialist.ID, func(ctx context.Context, tx booking.Tx) error {
		return tx.InsertAppointment(ctx, newAppt(f.at(14, 30)))
	})
	require.ErrorIs(t, err, booking.ErrSlotConflict)

	// back-to-back is allowed
	require.NoError(t, f.repo.InSpecialistTx(ctx, f.specialist.ID, func(ctx context.Context, tx booking.Tx) error {
		return tx.InsertAppointment(ctx, newAppt(f.at(15, 0)))
	}))
}

func TestPg_CancelFreesSlotAndReminders(t *testing.T) {
	f := newPgFixture(t)

	appt, err := f.svc.CreateAppointment(systemCtx(), booking.CreateAppointmentInput{
		SpecialistID:    f.specialist.ID,
		PatientID:       f.patients[0].ID,
		StartAt:         f.at(9, 0),
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	slots, err := f.svc.ListAvailableSlots(context.Background(), f.specialist.ID, f.day)
	require.NoError(t, err)
	for _, s := range slots {
		assert.NotEqual(t, f.at(9, 0), s.Start)
	}

	cancelled, err := f.svc.Cancel(systemCtx(), appt.ID)
	require.NoError(t, err)
	assert.Equal(t, booking.StatusCancelled, cancelled.Status)
	require.NotNil(t, cancelled.CancelledAt)

	var pending int
	require.NoError(t, pgPool.QueryRow(context.Background(),
		`SELECT count(*) FROM reminders WHERE appointment_id = $1 AND status = 'pending'`, appt.ID).Scan(&pending))
	assert.Zero(t, pending)

	_, err = f.svc.CreateAppointment(systemCtx(), booking.CreateAppointmentInput{
		SpecialistID:    f.specialist.ID,
		PatientID:       f.patients[1].ID,
		StartAt:         f.at(9, 0),
		DurationMinutes: 30,
	})
	require.NoError(t, err)
}

func TestPgStore_ClaimDueSkipsLockedRows(t *testing.T) {
	f := newPgFixture(t)
	ctx := context.Background()
	store := reminder.NewPgStore(pgPool)

	appt, err := f.svc.CreateAppointment(systemCtx(), booking.CreateAppointmentInput{
		SpecialistID:    f.specialist.ID,
		PatientID:       f.patients[0].ID,
		StartAt:         f.at(11, 0),
		DurationMinutes: 30,
	})
	require.NoError(t, err)

	// both pre-appointment reminders are due
	claimAt := appt.StartAt.Add(-30 * time.Minute)

	const claimers = 8
	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		mine []reminder.Delivery
	)
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := store.ClaimDue(ctx, claimAt, time.Minute, 100)
			assert.NoError(t, err)

			mu.Lock()
			defer mu.Unlock()
			for _, d := range got {
				if d.AppointmentID == appt.ID {
					mine = append(mine, d)
				}
			}
		}()
	}
	wg.Wait()

	seen := map[uuid.UUID]bool{}
	for _, d := range mine {
		assert.False(t, seen[d.ID], "reminder %s claimed twice", d.ID)
		seen[d.ID] = true
	}
	require.Len(t, mine, 2)

	for _, d := range mine {
		updated, err := store.RecordResult(ctx, d.ID, d.ClaimToken, reminder.Outcome{Delivered: true},
			reminder.RetryPolicy{MaxAttempts: 3}, claimAt)
		require.NoError(t, err)
		assert.Equal(t, reminder.StatusSent, updated.Status)
	}

	got, err := f.repo.GetAppointmentByID(ctx, appt.ID)
	require.NoError(t, err)
	assert.True(t, got.ReminderSent)

	var sentEvents int
	require.NoError(t, pgPool.QueryRow(ctx,
		`SELECT count(*) FROM event_logs WHERE appointment_id = $1 AND event_type = $2`,
		appt.ID, reminder.EventReminderSent).Scan(&sentEvents))
	assert.Equal(t, 2, sentEvents)
}

func TestConnectPostgres_SessionSettings(t *testing.T) {
	ctx := context.Background()

	var tz, app string
	require.NoError(t, pgPool.QueryRow(ctx, `SELECT current_setting('TimeZone'), current_setting('application_name')`).Scan(&tz, &app))
	assert.Equal(t, "UTC", tz)
	assert.Equal(t, "booking-integration-test", app)
}
