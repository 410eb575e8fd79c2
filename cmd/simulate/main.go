package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/hackgods/specialist-booking/internal/api"
	"github.com/hackgods/specialist-booking/internal/auth"
	"github.com/hackgods/specialist-booking/internal/config"
	"github.com/hackgods/specialist-booking/internal/db"
	"github.com/hackgods/specialist-booking/internal/logger"
	"github.com/hackgods/specialist-booking/internal/schedule"
)

type SimConfig struct {
	APIBaseURL    string
	Duration      time.Duration
	Workers       int
	Specialists   int
	Days          int
	OverlapRatio  float64
	CancelRatio   float64
	SpecialistIDs []uuid.UUID
	PatientIDs    []uuid.UUID
	Token         string
}

type DataPool struct {
	Patients []uuid.UUID
	// Slots per specialist, the contended resource
	Slots map[uuid.UUID][]schedule.Slot

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) GetRandomAppointment(rng *rand.Rand) (uuid.UUID, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, success bool, conflict bool) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case success:
		atomic.AddInt64(&om.Success, 1)
	case conflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, min, max, p50, p95, p99 time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0, 0
	}

	latencies := make([]time.Duration, len(om.Latencies))
	copy(latencies, om.Latencies)
	sort.Slice(latencies, func(i, j int) bool { return latencies[i] < latencies[j] })

	var sum time.Duration
	for _, l := range latencies {
		sum += l
	}

	pct := func(p int) time.Duration {
		idx := len(latencies) * p / 100
		if idx >= len(latencies) {
			idx = len(latencies) - 1
		}
		return latencies[idx]
	}

	return sum / time.Duration(len(latencies)), latencies[0], latencies[len(latencies)-1], pct(50), pct(95), pct(99)
}

type Metrics struct {
	Booking    OperationMetrics
	Cancel     OperationMetrics
	ListSlots  OperationMetrics
	Violations int
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fallback := zerolog.New(os.Stderr)
		fallback.Fatal().Err(err).Msg("config load error")
	}
	log := logger.New(cfg.Env, "simulate")

	simCfg, err := loadSimConfig(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", simCfg.Duration).
		Int("workers", simCfg.Workers).
		Float64("overlap_ratio", simCfg.OverlapRatio).
		Float64("cancel_ratio", simCfg.CancelRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if len(simCfg.SpecialistIDs) == 0 || len(simCfg.PatientIDs) == 0 {
		if err := loadIDsFromPostgres(ctx, cfg, &simCfg); err != nil {
			log.Fatal().Err(err).Msg("load ids")
		}
	}

	sim := &Simulator{
		config: simCfg,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	if err := sim.loadSlots(ctx); err != nil {
		log.Fatal().Err(err).Msg("load slots")
	}

	sim.Run()
	sim.Verify(context.Background())
	sim.PrintReport()

	if sim.metrics.Violations > 0 {
		os.Exit(1)
	}
}

func loadSimConfig(cfg config.Config) (SimConfig, error) {
	v := viper.New()
	v.AutomaticEnv()
	v.SetDefault("SIM_API_BASE_URL", "http://localhost:8080")
	v.SetDefault("SIM_DURATION", "30s")
	v.SetDefault("SIM_WORKERS", 20)
	v.SetDefault("SIM_SPECIALISTS", 3)
	v.SetDefault("SIM_DAYS", 7)
	v.SetDefault("SIM_OVERLAP_RATIO", 0.3)
	v.SetDefault("SIM_CANCEL_RATIO", 0.1)

	sc := SimConfig{
		APIBaseURL:   strings.TrimRight(v.GetString("SIM_API_BASE_URL"), "/"),
		Duration:     v.GetDuration("SIM_DURATION"),
		Workers:      v.GetInt("SIM_WORKERS"),
		Specialists:  v.GetInt("SIM_SPECIALISTS"),
		Days:         v.GetInt("SIM_DAYS"),
		OverlapRatio: v.GetFloat64("SIM_OVERLAP_RATIO"),
		CancelRatio:  v.GetFloat64("SIM_CANCEL_RATIO"),
	}

	var err error
	if sc.SpecialistIDs, err = parseIDs(v.GetString("SIM_SPECIALIST_IDS")); err != nil {
		return sc, fmt.Errorf("SIM_SPECIALIST_IDS: %w", err)
	}
	if sc.PatientIDs, err = parseIDs(v.GetString("SIM_PATIENT_IDS")); err != nil {
		return sc, fmt.Errorf("SIM_PATIENT_IDS: %w", err)
	}

	if sc.Workers <= 0 {
		return sc, fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if sc.Duration <= 0 {
		return sc, fmt.Errorf("SIM_DURATION must be > 0")
	}

	secret := cfg.JWTSecret
	if secret == "" {
		secret = "dev-secret"
	}
	sc.Token, err = auth.NewIssuer(secret, cfg.JWTIssuer).Issue(auth.Caller{Subject: "simulator", Role: auth.RoleSystem}, time.Hour)
	if err != nil {
		return sc, err
	}

	return sc, nil
}

func parseIDs(raw string) ([]uuid.UUID, error) {
	var out []uuid.UUID
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := uuid.Parse(part)
		if err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, nil
}

func loadIDsFromPostgres(ctx context.Context, cfg config.Config, sc *SimConfig) error {
	if cfg.PostgresDSN == "" {
		return fmt.Errorf("set SIM_SPECIALIST_IDS and SIM_PATIENT_IDS, or POSTGRES_DSN")
	}

	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, "booking-simulate")
	if err != nil {
		return err
	}
	defer pool.Close()

	if len(sc.SpecialistIDs) == 0 {
		rows, err := pool.Query(ctx, `
			SELECT s.id FROM specialists s
			WHERE s.active AND EXISTS (SELECT 1 FROM availability_templates t WHERE t.specialist_id = s.id AND t.active)
			LIMIT $1
		`, sc.Specialists)
		if err != nil {
			return fmt.Errorf("load specialists: %w", err)
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			sc.SpecialistIDs = append(sc.SpecialistIDs, id)
		}
		rows.Close()
	}

	if len(sc.PatientIDs) == 0 {
		rows, err := pool.Query(ctx, `SELECT id FROM patients LIMIT 2000`)
		if err != nil {
			return fmt.Errorf("load patients: %w", err)
		}
		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				rows.Close()
				return err
			}
			sc.PatientIDs = append(sc.PatientIDs, id)
		}
		rows.Close()
	}

	if len(sc.SpecialistIDs) == 0 || len(sc.PatientIDs) == 0 {
		return fmt.Errorf("no specialists or patients found, run the seed first")
	}
	return nil
}

// loadSlots fetches free slots for the next Days days of every specialist.
func (s *Simulator) loadSlots(ctx context.Context) error {
	s.pool = &DataPool{Patients: s.config.PatientIDs, Slots: map[uuid.UUID][]schedule.Slot{}}

	today := time.Now().UTC()
	total := 0
	for _, id := range s.config.SpecialistIDs {
		for d := 0; d < s.config.Days; d++ {
			date := today.AddDate(0, 0, d).Format("2006-01-02")
			slots, err := s.fetchSlots(ctx, id, date)
			if err != nil {
				return err
			}
			s.pool.Slots[id] = append(s.pool.Slots[id], slots...)
			total += len(slots)
		}
	}

	if total == 0 {
		return fmt.Errorf("no free slots in the next %d days", s.config.Days)
	}
	s.log.Info().Int("specialists", len(s.config.SpecialistIDs)).Int("slots", total).Int("patients", len(s.pool.Patients)).Msg("data loaded")
	return nil
}

func (s *Simulator) fetchSlots(ctx context.Context, specialistID uuid.UUID, date string) ([]schedule.Slot, error) {
	start := time.Now()

	u := fmt.Sprintf("%s/specialists/%s/slots?date=%s", s.config.APIBaseURL, specialistID, url.QueryEscape(date))
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		s.metrics.ListSlots.Record(latency, false, false)
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		s.metrics.ListSlots.Record(latency, false, false)
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("list slots: %d %s", resp.StatusCode, body)
	}
	s.metrics.ListSlots.Record(latency, true, false)

	var out api.SlotsResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	slots := make([]schedule.Slot, len(out.Slots))
	for i, sl := range out.Slots {
		slots[i] = schedule.Slot{Start: sl.Start, End: sl.End}
	}
	return slots, nil
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.Info().Dur("duration", s.config.Duration).Int("workers", s.config.Workers).Msg("starting simulation")

	var wg sync.WaitGroup
	for i := 0; i < s.config.Workers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			s.worker(ctx, workerID)
		}(i)
	}

	wg.Wait()
	s.log.Info().Msg("simulation complete")
}

func (s *Simulator) worker(ctx context.Context, workerID int) {
	rng := rand.New(rand.NewSource(time.Now().UnixNano() + int64(workerID)))

	for {
		select {
		case <-ctx.Done():
			return
		default:
			if rng.Float64() < s.config.CancelRatio {
				s.doCancel(ctx, rng)
			} else {
				s.doBooking(ctx, rng)
			}
		}
	}
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	specialistID := s.config.SpecialistIDs[rng.Intn(len(s.config.SpecialistIDs))]
	slots := s.pool.Slots[specialistID]
	if len(slots) == 0 {
		return
	}
	slot := slots[rng.Intn(len(slots))]
	minutes := int(slot.Duration() / time.Minute)

	// straddle two slots to exercise partial overlaps
	startAt := slot.Start
	if rng.Float64() < s.config.OverlapRatio {
		startAt = startAt.Add(slot.Duration() / 2)
	}

	body, _ := json.Marshal(api.CreateAppointmentRequest{
		SpecialistID:    specialistID.String(),
		PatientID:       s.pool.Patients[rng.Intn(len(s.pool.Patients))].String(),
		StartAt:         startAt,
		DurationMinutes: minutes,
		Reason:          "simulation",
	})

	start := time.Now()
	resp, err := s.post(ctx, "/appointments", body)
	latency := time.Since(start)

	success, conflict := false, false
	if err == nil {
		defer resp.Body.Close()

		switch resp.StatusCode {
		case http.StatusCreated:
			success = true
			var appt api.AppointmentResponse
			if err := json.NewDecoder(resp.Body).Decode(&appt); err == nil && appt.ID != uuid.Nil {
				s.pool.AddAppointment(appt.ID)
			}
		case http.StatusConflict:
			conflict = true
		}
	}

	s.metrics.Booking.Record(latency, success, conflict)
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	resp, err := s.post(ctx, "/appointments/"+apptID.String()+"/cancel", nil)
	latency := time.Since(start)

	success := false
	if err == nil {
		defer resp.Body.Close()
		success = resp.StatusCode == http.StatusOK
	}
	s.metrics.Cancel.Record(latency, success, false)
}

func (s *Simulator) post(ctx context.Context, path string, body []byte) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.config.APIBaseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.config.Token)
	return s.client.Do(req)
}

// Verify lists every specialist calendar and counts pairs of active
// appointments that overlap. Anything above zero is a double booking.
func (s *Simulator) Verify(ctx context.Context) {
	from := time.Now().UTC().Add(-time.Hour)
	to := from.AddDate(0, 0, s.config.Days+1)

	for _, id := range s.config.SpecialistIDs {
		u := fmt.Sprintf("%s/specialists/%s/appointments?from=%s&to=%s", s.config.APIBaseURL, id,
			url.QueryEscape(from.Format(time.RFC3339)), url.QueryEscape(to.Format(time.RFC3339)))
		req, _ := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		req.Header.Set("Authorization", "Bearer "+s.config.Token)

		resp, err := s.client.Do(req)
		if err != nil {
			s.log.Error().Err(err).Str("specialist_id", id.String()).Msg("verify: list appointments")
			continue
		}
		var appts []api.AppointmentResponse
		err = json.NewDecoder(resp.Body).Decode(&appts)
		resp.Body.Close()
		if err != nil {
			s.log.Error().Err(err).Str("specialist_id", id.String()).Msg("verify: decode appointments")
			continue
		}

		var active []schedule.Interval
		for _, a := range appts {
			if a.Status == "pending" || a.Status == "confirmed" {
				active = append(active, schedule.Interval{Start: a.StartAt, End: a.EndAt})
			}
		}
		for i := range active {
			for j := i + 1; j < len(active); j++ {
				if schedule.Overlaps(active[i], active[j]) {
					s.metrics.Violations++
					s.log.Error().
						Str("specialist_id", id.String()).
						Time("a_start", active[i].Start).
						Time("b_start", active[j].Start).
						Msg("overlapping active appointments")
				}
			}
		}
	}
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Specialists: %d\n", len(s.config.SpecialistIDs))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("List slots", &s.metrics.ListSlots)

	if s.metrics.Violations == 0 {
		fmt.Println("Verification: no overlapping active appointments")
	} else {
		fmt.Printf("Verification: %d OVERLAPPING PAIRS\n", s.metrics.Violations)
	}
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	avg, min, max, p50, p95, p99 := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, float64(success)/float64(total)*100)
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, float64(conflict)/float64(total)*100)
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, float64(failed)/float64(total)*100)
	}
	fmt.Printf("  Latency: avg=%s min=%s max=%s p50=%s p95=%s p99=%s\n",
		avg.Round(time.Millisecond), min.Round(time.Millisecond), max.Round(time.Millisecond),
		p50.Round(time.Millisecond), p95.Round(time.Millisecond), p99.Round(time.Millisecond))
	fmt.Println()
}
