package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand/v2"
	"net/http"
	"os"
	"sort"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/hackgods/clinic-admission/internal/appointment"
	"github.com/hackgods/clinic-admission/internal/config"
	"github.com/hackgods/clinic-admission/internal/db"
	"github.com/hackgods/clinic-admission/internal/logging"
)

type SimConfig struct {
	APIBaseURL      string
	Duration        time.Duration
	Workers         int
	BookingRatio    float64
	CancelRatio     float64
	RescheduleRatio float64
	ReadRatio       float64
	HotDays         int // how many (doctor, day) queues take most bookings
	PatientLimit    int
	PostgresDSN     string
}

// dayQueue is one bookable (doctor, date) pair.
type dayQueue struct {
	DoctorID uuid.UUID
	Date     string
	Capacity int
}

type DataPool struct {
	Patients []uuid.UUID
	Days     []dayQueue
	Hot      []dayQueue

	mu           sync.RWMutex
	appointments []uuid.UUID // Thread-safe list of created appointment IDs
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
	return dp.appointments[rng.IntN(len(dp.appointments))], true
}

// OperationMetrics counts outcomes of one operation type. Rejected means an
// expected admission outcome (4xx), Busy a 503 from lock contention.
type OperationMetrics struct {
	Total     int64
	Success   int64
	Rejected  int64
	Busy      int64
	Error     int64
	Latencies []time.Duration
	mu        sync.Mutex
}

func (om *OperationMetrics) Record(latency time.Duration, status int, err error) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case err != nil:
		atomic.AddInt64(&om.Error, 1)
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusServiceUnavailable:
		atomic.AddInt64(&om.Busy, 1)
	case status >= 400 && status < 500:
		atomic.AddInt64(&om.Rejected, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}

	om.mu.Lock()
	om.Latencies = append(om.Latencies, latency)
	om.mu.Unlock()
}

func (om *OperationMetrics) Stats() (avg, p50, p95, p99, max time.Duration) {
	om.mu.Lock()
	defer om.mu.Unlock()

	if len(om.Latencies) == 0 {
		return 0, 0, 0, 0, 0
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

	return sum / time.Duration(len(latencies)), pct(50), pct(95), pct(99), latencies[len(latencies)-1]
}

type Metrics struct {
	Booking       OperationMetrics
	Cancel        OperationMetrics
	Reschedule    OperationMetrics
	ReadByID      OperationMetrics
	ListByPatient OperationMetrics
	ListDoctorDay OperationMetrics
}

type Simulator struct {
	config  SimConfig
	pool    *DataPool
	client  *http.Client
	metrics Metrics
	log     zerolog.Logger
}

func main() {
	baseCfg, err := config.Load()
	if err != nil {
		bootLog := logging.New("prod", "error", "simulate")
		bootLog.Fatal().Err(err).Msg("failed to load base config")
	}
	log := logging.New(baseCfg.Env, baseCfg.LogLevel, "simulate")

	cfg := loadConfig(baseCfg)
	if err := validateConfig(cfg); err != nil {
		log.Fatal().Err(err).Msg("invalid config")
	}

	log.Info().
		Dur("duration", cfg.Duration).
		Int("workers", cfg.Workers).
		Float64("booking", cfg.BookingRatio).
		Float64("cancel", cfg.CancelRatio).
		Float64("reschedule", cfg.RescheduleRatio).
		Float64("read", cfg.ReadRatio).
		Msg("simulator starting")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, db.PoolOptions{MaxConns: 4, AppName: "simulate"})
	if err != nil {
		log.Fatal().Err(err).Msg("connect postgres")
	}
	defer pgPool.Close()

	dataPool, err := loadDataPool(ctx, pgPool, cfg, baseCfg.Location())
	if err != nil {
		log.Fatal().Err(err).Msg("load data pool")
	}
	log.Info().Int("patients", len(dataPool.Patients)).Int("day_queues", len(dataPool.Days)).Int("hot", len(dataPool.Hot)).Msg("data loaded")

	sim := &Simulator{
		config: cfg,
		pool:   dataPool,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.Run()
	sim.PrintReport()

	verifyCtx, cancelVerify := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelVerify()
	violations, err := verifyQueues(verifyCtx, pgPool, dataPool.Days)
	if err != nil {
		log.Fatal().Err(err).Msg("verify queues")
	}
	if len(violations) > 0 {
		for _, v := range violations {
			fmt.Println("  VIOLATION:", v)
		}
		os.Exit(1)
	}
	fmt.Println("Queue invariants hold for every simulated day.")
}

func loadConfig(base config.Config) SimConfig {
	cfg := SimConfig{
		APIBaseURL:      getEnv("SIM_API_BASE_URL", "http://localhost:8080"),
		Duration:        getDuration("SIM_DURATION", 30*time.Second),
		Workers:         getInt("SIM_WORKERS", 20),
		BookingRatio:    getFloat("SIM_BOOKING_RATIO", 0.5),
		CancelRatio:     getFloat("SIM_CANCEL_RATIO", 0.1),
		RescheduleRatio: getFloat("SIM_RESCHEDULE_RATIO", 0.1),
		ReadRatio:       getFloat("SIM_READ_RATIO", 0.3),
		HotDays:         getInt("SIM_HOT_DAYS", 3),
		PatientLimit:    getInt("SIM_PATIENT_LIMIT", 4000),
		PostgresDSN:     base.PostgresDSN,
	}

	// Normalize ratios
	total := cfg.BookingRatio + cfg.CancelRatio + cfg.RescheduleRatio + cfg.ReadRatio
	if total > 0 {
		cfg.BookingRatio /= total
		cfg.CancelRatio /= total
		cfg.RescheduleRatio /= total
		cfg.ReadRatio /= total
	}

	return cfg
}

func validateConfig(cfg SimConfig) error {
	if cfg.Workers <= 0 {
		return fmt.Errorf("SIM_WORKERS must be > 0")
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("SIM_DURATION must be > 0")
	}
	if cfg.HotDays <= 0 {
		return fmt.Errorf("SIM_HOT_DAYS must be > 0")
	}
	return nil
}

// loadDataPool picks active patients and, for every active doctor's weekly
// availability, the next two dates falling on that weekday.
func loadDataPool(ctx context.Context, pool *pgxpool.Pool, cfg SimConfig, loc *time.Location) (*DataPool, error) {
	dataPool := &DataPool{}

	rows, err := pool.Query(ctx, `
		SELECT id FROM users
		WHERE role = 'patient' AND status = 'active'
		LIMIT $1
	`, cfg.PatientLimit)
	if err != nil {
		return nil, fmt.Errorf("load patients: %w", err)
	}
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		dataPool.Patients = append(dataPool.Patients, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}

	rows, err = pool.Query(ctx, `
		SELECT a.doctor_id, a.day_of_week, a.daily_capacity
		FROM availabilities a
		JOIN users u ON u.id = a.doctor_id
		WHERE u.status = 'active'
	`)
	if err != nil {
		return nil, fmt.Errorf("load availability: %w", err)
	}
	defer rows.Close()

	today := appointment.DateOf(time.Now().In(loc))
	for rows.Next() {
		var (
			doctorID uuid.UUID
			dow      int16
			capacity int
		)
		if err := rows.Scan(&doctorID, &dow, &capacity); err != nil {
			return nil, err
		}

		offset := (int(dow) - int(today.Weekday()) + 7) % 7
		for week := 0; week < 2; week++ {
			date := today.AddDate(0, 0, offset+7*week)
			dataPool.Days = append(dataPool.Days, dayQueue{
				DoctorID: doctorID,
				Date:     appointment.FormatDate(date),
				Capacity: capacity,
			})
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	if len(dataPool.Patients) == 0 {
		return nil, fmt.Errorf("no patients loaded")
	}
	if len(dataPool.Days) == 0 {
		return nil, fmt.Errorf("no availability loaded")
	}

	// the smallest queues contend the hardest
	hot := append([]dayQueue(nil), dataPool.Days...)
	sort.Slice(hot, func(i, j int) bool { return hot[i].Capacity < hot[j].Capacity })
	dataPool.Hot = hot[:min(cfg.HotDays, len(hot))]

	return dataPool, nil
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
	rng := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(workerID)))

	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			s.doBooking(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio:
			s.doCancel(ctx, rng)
		case r < s.config.BookingRatio+s.config.CancelRatio+s.config.RescheduleRatio:
			s.doReschedule(ctx, rng)
		default:
			switch rng.IntN(3) {
			case 0:
				s.doReadByID(ctx, rng)
			case 1:
				s.doListByPatient(ctx, rng)
			case 2:
				s.doListDoctorDay(ctx, rng)
			}
		}
	}
}

// pickDay returns a hot queue four times out of five.
func (s *Simulator) pickDay(rng *rand.Rand) dayQueue {
	if rng.IntN(5) > 0 {
		return s.pool.Hot[rng.IntN(len(s.pool.Hot))]
	}
	return s.pool.Days[rng.IntN(len(s.pool.Days))]
}

func (s *Simulator) call(ctx context.Context, method, path string, body any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return 0, nil, err
		}
		reader = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	return resp.StatusCode, respBody, err
}

// record drops calls cut short by the end of the run.
func record(ctx context.Context, om *OperationMetrics, start time.Time, status int, err error) {
	if ctx.Err() != nil {
		return
	}
	om.Record(time.Since(start), status, err)
}

func (s *Simulator) doBooking(ctx context.Context, rng *rand.Rand) {
	day := s.pickDay(rng)
	patientID := s.pool.Patients[rng.IntN(len(s.pool.Patients))]

	start := time.Now()
	status, body, err := s.call(ctx, http.MethodPost, "/appointments", map[string]string{
		"doctor_id":  day.DoctorID.String(),
		"patient_id": patientID.String(),
		"date":       day.Date,
	})
	record(ctx, &s.metrics.Booking, start, status, err)

	if err == nil && status == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if json.Unmarshal(body, &created) == nil && created.ID != uuid.Nil {
			s.pool.AddAppointment(created.ID)
		}
	}
}

func (s *Simulator) doCancel(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPatch, "/appointments/"+apptID.String()+"/status",
		map[string]string{"status": string(appointment.StatusCancelled)})
	record(ctx, &s.metrics.Cancel, start, status, err)
}

func (s *Simulator) doReschedule(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	// only some targets belong to the appointment's doctor; the rest are
	// rejected as unavailable, which is part of the exercise
	day := s.pickDay(rng)

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodPost, "/appointments/"+apptID.String()+"/reschedule",
		map[string]string{"date": day.Date})
	record(ctx, &s.metrics.Reschedule, start, status, err)
}

func (s *Simulator) doReadByID(ctx context.Context, rng *rand.Rand) {
	apptID, ok := s.pool.GetRandomAppointment(rng)
	if !ok {
		return
	}

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet, "/appointments/"+apptID.String(), nil)
	record(ctx, &s.metrics.ReadByID, start, status, err)
}

func (s *Simulator) doListByPatient(ctx context.Context, rng *rand.Rand) {
	patientID := s.pool.Patients[rng.IntN(len(s.pool.Patients))]

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments?patient_id=%s&limit=20&offset=0", patientID), nil)
	record(ctx, &s.metrics.ListByPatient, start, status, err)
}

func (s *Simulator) doListDoctorDay(ctx context.Context, rng *rand.Rand) {
	day := s.pickDay(rng)

	start := time.Now()
	status, _, err := s.call(ctx, http.MethodGet,
		fmt.Sprintf("/appointments?doctor_id=%s&date=%s", day.DoctorID, day.Date), nil)
	record(ctx, &s.metrics.ListDoctorDay, start, status, err)
}

// verifyQueues checks capacity and queue density for every simulated day
// directly in the ledger.
func verifyQueues(ctx context.Context, pool *pgxpool.Pool, days []dayQueue) ([]string, error) {
	var violations []string

	for _, day := range days {
		rows, err := pool.Query(ctx, `
			SELECT queue_number
			FROM appointments
			WHERE doctor_id = $1 AND appt_date = $2 AND status <> 'cancelled'
			ORDER BY queue_number
		`, day.DoctorID, day.Date)
		if err != nil {
			return nil, err
		}

		var numbers []int
		for rows.Next() {
			var n int
			if err := rows.Scan(&n); err != nil {
				rows.Close()
				return nil, err
			}
			numbers = append(numbers, n)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return nil, err
		}

		if len(numbers) > day.Capacity {
			violations = append(violations, fmt.Sprintf("doctor %s on %s: %d active over capacity %d",
				day.DoctorID, day.Date, len(numbers), day.Capacity))
		}
		for i, n := range numbers {
			if n != i+1 {
				violations = append(violations, fmt.Sprintf("doctor %s on %s: queue %v is not 1..%d",
					day.DoctorID, day.Date, numbers, len(numbers)))
				break
			}
		}
	}

	return violations, nil
}

func (s *Simulator) PrintReport() {
	fmt.Println("\n" + strings.Repeat("=", 80))
	fmt.Println("SIMULATION REPORT")
	fmt.Println(strings.Repeat("=", 80))
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Printf("Hot day queues: %d\n", len(s.pool.Hot))
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Cancel", &s.metrics.Cancel)
	printOperationReport("Reschedule", &s.metrics.Reschedule)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("List by Patient", &s.metrics.ListByPatient)
	printOperationReport("List Doctor Day", &s.metrics.ListDoctorDay)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}

	share := func(n int64) float64 { return float64(n) / float64(total) * 100 }
	success := atomic.LoadInt64(&om.Success)
	rejected := atomic.LoadInt64(&om.Rejected)
	busy := atomic.LoadInt64(&om.Busy)
	failed := atomic.LoadInt64(&om.Error)

	avg, p50, p95, p99, max := om.Stats()

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, share(success))
	if rejected > 0 {
		fmt.Printf("  Rejected: %d (%.1f%%)\n", rejected, share(rejected))
	}
	if busy > 0 {
		fmt.Printf("  Busy: %d (%.1f%%)\n", busy, share(busy))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, share(failed))
	}
	fmt.Printf("  Latency: avg=%s p50=%s p95=%s p99=%s max=%s\n",
		avg.Round(time.Millisecond), p50.Round(time.Millisecond), p95.Round(time.Millisecond),
		p99.Round(time.Millisecond), max.Round(time.Millisecond))
	fmt.Println()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getFloat(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}
