package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/booking"
	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/metrics"
	redisclient "github.com/hackgods/specialist-booking/internal/redis"
	"github.com/hackgods/specialist-booking/internal/reminder"
	"github.com/hackgods/specialist-booking/internal/schedule"
	"github.com/hackgods/specialist-booking/internal/store/memory"
)

var apiNow = time.Date(2030, 1, 5, 10, 0, 0, 0, time.UTC)

type testAPI struct {
	handler    http.Handler
	issuer     *auth.Issuer
	specialist booking.Specialist
	patient    booking.Patient
}

func newTestAPI(t *testing.T, deps ...Dependency) *testAPI {
	t.Helper()

	store := memory.New()
	sp := store.AddSpecialist(booking.Specialist{Name: "Dr. Ana", ContactChannel: "ana", Timezone: "UTC", Active: true})
	p := store.AddPatient(booking.Patient{Name: "Luis", ContactChannel: "+34600000001"})
	_, err := store.AddTemplate(schedule.Template{
		SpecialistID: sp.ID, Weekday: time.Monday, StartMinute: 9 * 60, EndMinute: 13 * 60, SlotMinutes: 30, Active: true,
	})
	require.NoError(t, err)

	cfg := config.Config{
		DefaultTimezone: "UTC",
		Reminder:        config.ReminderConfig{OneHourEnabled: true, MaxAttempts: 3, RetryDelay: time.Minute},
	}
	clock := func() time.Time { return apiNow }

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	svc := booking.NewService(store, redisclient.NopLocker(), cfg, zerolog.Nop(),
		booking.WithClock(clock), booking.WithMetrics(m))
	dispatcher := reminder.NewDispatcher(store, reminder.LogSender{Log: zerolog.Nop()}, cfg.Reminder, zerolog.Nop(),
		reminder.WithClock(func() time.Time { return apiNow.Add(48 * time.Hour) }))

	issuer := auth.NewIssuer("test-secret", "booking-test")

	return &testAPI{
		handler: NewRouter(RouterConfig{
			Bookings:    svc,
			Reminders:   dispatcher,
			Issuer:      issuer,
			Health:      NewHealthHandler("test", "v0", deps...),
			Metrics:     metrics.Handler(reg),
			CORSOrigins: []string{"http://front.test"},
			Log:         zerolog.Nop(),
		}),
		issuer:     issuer,
		specialist: sp,
		patient:    p,
	}
}

func (a *testAPI) token(t *testing.T, c auth.Caller) string {
	t.Helper()
	tok, err := a.issuer.Issue(c, time.Hour)
	require.NoError(t, err)
	return tok
}

func (a *testAPI) system(t *testing.T) string {
	return a.token(t, auth.Caller{Subject: "bot", Role: auth.RoleSystem})
}

func (a *testAPI) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func (a *testAPI) create(t *testing.T, token string, start time.Time) *httptest.ResponseRecorder {
	return a.do(t, http.MethodPost, "/appointments", token, CreateAppointmentRequest{
		SpecialistID:    a.specialist.ID.String(),
		PatientID:       a.patient.ID.String(),
		StartAt:         start,
		DurationMinutes: 30,
		Reason:          "checkup",
	})
}

func TestSlots(t *testing.T) {
	a := newTestAPI(t)
	path := "/specialists/" + a.specialist.ID.String() + "/slots"

	rec := a.do(t, http.MethodGet, path+"?date=2030-01-07", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[SlotsResponse](t, rec)
	assert.Len(t, resp.Slots, 8)
	assert.Equal(t, "2030-01-07", resp.Date)

	rec = a.do(t, http.MethodGet, path+"?date=07/01/2030", "", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodGet, "/specialists/"+uuid.NewString()+"/slots?date=2030-01-07", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "specialist_not_found", decode[ErrorResponse](t, rec).Error)
}

func TestCreateAppointment(t *testing.T) {
	a := newTestAPI(t)
	start := time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC)

	rec := a.create(t, "", start)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	stranger := a.token(t, auth.Caller{Subject: "dr-x", Role: auth.RoleSpecialist, SpecialistID: uuid.New()})
	rec = a.create(t, stranger, start)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.create(t, a.system(t), start)
	require.Equal(t, http.StatusCreated, rec.Code)
	appt := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "pending", appt.Status)
	assert.Equal(t, start.Add(30*time.Minute), appt.EndAt)
	assert.Equal(t, "checkup", appt.Reason)

	rec = a.create(t, a.system(t), start.Add(15*time.Minute))
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "slot_conflict", decode[ErrorResponse](t, rec).Error)

	rec = a.create(t, a.system(t), apiNow.Add(-time.Hour))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_interval", decode[ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodPost, "/appointments", a.system(t), map[string]string{"specialist_id": "nope"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = a.do(t, http.MethodPost, "/appointments", "not-a-jwt", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAppointmentLifecycle(t *testing.T) {
	a := newTestAPI(t)
	owner := a.token(t, auth.Caller{Subject: "dr-ana", Role: auth.RoleSpecialist, SpecialistID: a.specialist.ID})
	start := time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)

	rec := a.create(t, owner, start)
	require.Equal(t, http.StatusCreated, rec.Code)
	id := decode[AppointmentResponse](t, rec).ID.String()

	rec = a.do(t, http.MethodGet, "/appointments/"+id, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = a.do(t, http.MethodPost, "/appointments/"+id+"/state", owner, UpdateStateRequest{Status: "confirmed"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "confirmed", decode[AppointmentResponse](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/appointments/"+id+"/state", owner, UpdateStateRequest{Status: "pending"})
	assert.Equal(t, http.StatusConflict, rec.Code)
	assert.Equal(t, "invalid_transition", decode[ErrorResponse](t, rec).Error)

	rec = a.do(t, http.MethodPost, "/appointments/"+id+"/reschedule", owner, RescheduleRequest{
		StartAt: start.Add(2 * time.Hour), DurationMinutes: 60,
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	moved := decode[AppointmentResponse](t, rec)
	assert.Equal(t, "confirmed", moved.Status)
	assert.Equal(t, 60, moved.DurationMinutes)

	for i := 0; i < 2; i++ {
		rec = a.do(t, http.MethodPost, "/appointments/"+moved.ID.String()+"/cancel", owner, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "cancelled", decode[AppointmentResponse](t, rec).Status)
	}

	from := start.Add(-time.Hour).Format(time.RFC3339)
	to := start.Add(4 * time.Hour).Format(time.RFC3339)
	rec = a.do(t, http.MethodGet, "/specialists/"+a.specialist.ID.String()+"/appointments?from="+from+"&to="+to, owner, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[[]AppointmentResponse](t, rec), 2)

	rec = a.do(t, http.MethodGet, "/appointments/"+uuid.NewString(), owner, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = a.do(t, http.MethodGet, "/appointments/not-a-uuid", owner, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReminderEndpoints(t *testing.T) {
	a := newTestAPI(t)
	rec := a.create(t, a.system(t), time.Date(2030, 1, 7, 11, 0, 0, 0, time.UTC))
	require.Equal(t, http.StatusCreated, rec.Code)

	specialist := a.token(t, auth.Caller{Subject: "dr-ana", Role: auth.RoleSpecialist, SpecialistID: a.specialist.ID})
	rec = a.do(t, http.MethodGet, "/reminders/due", specialist, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = a.do(t, http.MethodGet, "/reminders/due", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = a.do(t, http.MethodGet, "/reminders/due", a.system(t), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	due := decode[[]ReminderResponse](t, rec)
	require.Len(t, due, 2)
	assert.Equal(t, string(reminder.KindDayBefore), due[0].Kind)

	rec = a.do(t, http.MethodPost, "/reminders/"+due[0].ID.String()+"/result", a.system(t), ReminderResultRequest{Delivered: true})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "sent", decode[ReminderResponse](t, rec).Status)

	rec = a.do(t, http.MethodPost, "/reminders/"+due[0].ID.String()+"/result", a.system(t), ReminderResultRequest{Delivered: true})
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = a.do(t, http.MethodPost, "/reminders/"+uuid.NewString()+"/result", a.system(t), ReminderResultRequest{Delivered: true})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHealth(t *testing.T) {
	up := func(context.Context) error { return nil }
	down := func(context.Context) error { return errors.New("connection refused") }

	a := newTestAPI(t, Dependency{Name: "postgres", Critical: true, Ping: up}, Dependency{Name: "redis", Ping: down})
	rec := a.do(t, http.MethodGet, "/health/ready", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	ready := decode[ReadinessResponse](t, rec)
	assert.Equal(t, "degraded", ready.Status)
	assert.Equal(t, map[string]string{"postgres": "ok", "redis": "down"}, ready.Dependencies)

	a = newTestAPI(t, Dependency{Name: "postgres", Critical: true, Ping: down})
	rec = a.do(t, http.MethodGet, "/health/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	rec = a.do(t, http.MethodGet, "/health/live", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestMiddleware(t *testing.T) {
	a := newTestAPI(t)

	req := httptest.NewRequest(http.MethodGet, "/health/live", nil)
	req.Header.Set("X-Request-ID", "req-42")
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	assert.Equal(t, "req-42", rec.Header().Get("X-Request-ID"))

	rec = a.do(t, http.MethodGet, "/health/live", "", nil)
	assert.NotEmpty(t, rec.Header().Get("X-Request-ID"))

	preflight := httptest.NewRequest(http.MethodOptions, "/appointments", nil)
	preflight.Header.Set("Origin", "http://front.test")
	preflight.Header.Set("Access-Control-Request-Method", http.MethodPost)
	rec = httptest.NewRecorder()
	a.handler.ServeHTTP(rec, preflight)
	assert.Equal(t, "http://front.test", rec.Header().Get("Access-Control-Allow-Origin"))

	a.create(t, a.system(t), time.Date(2030, 1, 7, 9, 0, 0, 0, time.UTC))
	rec = a.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `booking_requests_total{result="created"} 1`)
}
