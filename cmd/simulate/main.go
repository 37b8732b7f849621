package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc/pool"
	"github.com/spf13/pflag"

	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/db"
	"github.com/hackgods/telehealth-scheduling/internal/identity"
	"github.com/hackgods/telehealth-scheduling/internal/obs"
)

type SimConfig struct {
	APIBaseURL   string
	Duration     time.Duration
	Workers      int
	Racers       int
	Patients     int
	SlotLimit    int
	BookingRatio float64
	ConfirmRatio float64
	SearchRatio  float64
	ReadRatio    float64
	Lat, Lng     float64
}

type slotRef struct {
	DoctorID uuid.UUID
	Time     time.Time
}

type booked struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	PatientID uuid.UUID
}

type DataPool struct {
	Patients []identity.Actor
	Slots    []slotRef
	tokens   map[uuid.UUID]string

	mu           sync.RWMutex
	appointments []booked
}

func (dp *DataPool) AddAppointment(b booked) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, b)
}

func (dp *DataPool) RandomAppointment(rng *rand.Rand) (booked, bool) {
	dp.mu.RLock()
	defer dp.mu.RUnlock()
	if len(dp.appointments) == 0 {
		return booked{}, false
	}
	return dp.appointments[rng.Intn(len(dp.appointments))], true
}

type OperationMetrics struct {
	Total     int64
	Success   int64
	Conflict  int64
	Error     int64
	mu        sync.Mutex
	latencies []time.Duration
}

func (om *OperationMetrics) Record(latency time.Duration, status int) {
	atomic.AddInt64(&om.Total, 1)
	switch {
	case status >= 200 && status < 300:
		atomic.AddInt64(&om.Success, 1)
	case status == http.StatusConflict:
		atomic.AddInt64(&om.Conflict, 1)
	default:
		atomic.AddInt64(&om.Error, 1)
	}
	om.mu.Lock()
	om.latencies = append(om.latencies, latency)
	om.mu.Unlock()
}

// Percentile returns the q-th latency percentile (0 < q <= 1).
func (om *OperationMetrics) Percentile(q float64) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	idx := int(float64(len(sorted)) * q)
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

type Metrics struct {
	Race     OperationMetrics
	Booking  OperationMetrics
	Confirm  OperationMetrics
	ReadByID OperationMetrics
	Search   OperationMetrics
}

type Simulator struct {
	config  SimConfig
	data    *DataPool
	client  *http.Client
	log     *logrus.Logger
	metrics Metrics
}

func main() {
	var sc SimConfig
	pflag.StringVar(&sc.APIBaseURL, "api", "http://localhost:8080", "API base URL")
	pflag.DurationVar(&sc.Duration, "duration", 30*time.Second, "length of the load phase")
	pflag.IntVar(&sc.Workers, "workers", 10, "concurrent load workers")
	pflag.IntVar(&sc.Racers, "racers", 50, "patients racing for one slot in the race phase")
	pflag.IntVar(&sc.Patients, "patients", 1000, "synthetic patients")
	pflag.IntVar(&sc.SlotLimit, "slots", 2000, "open slots to load")
	pflag.Float64Var(&sc.BookingRatio, "booking-ratio", 0.5, "share of booking requests")
	pflag.Float64Var(&sc.ConfirmRatio, "confirm-ratio", 0.15, "share of confirm requests")
	pflag.Float64Var(&sc.SearchRatio, "search-ratio", 0.2, "share of geo searches")
	pflag.Float64Var(&sc.ReadRatio, "read-ratio", 0.15, "share of appointment reads")
	pflag.Float64Var(&sc.Lat, "lat", 22.5726, "search centre latitude")
	pflag.Float64Var(&sc.Lng, "lng", 88.3639, "search centre longitude")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}
	log := obs.NewLogger(cfg, "simulate")

	if sc.Workers <= 0 || sc.Duration <= 0 {
		log.Fatal("--workers and --duration must be positive")
	}
	total := sc.BookingRatio + sc.ConfirmRatio + sc.SearchRatio + sc.ReadRatio
	if total <= 0 {
		log.Fatal("at least one ratio must be positive")
	}
	sc.BookingRatio /= total
	sc.ConfirmRatio /= total
	sc.SearchRatio /= total
	sc.ReadRatio /= total

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pgPool, err := db.ConnectPostgres(ctx, cfg)
	if err != nil {
		log.WithError(err).Fatal("connect postgres")
	}
	defer pgPool.Close()

	data, err := loadDataPool(ctx, pgPool, cfg.JWTSecret, sc)
	if err != nil {
		log.WithError(err).Fatal("load data pool")
	}
	log.WithFields(logrus.Fields{
		"patients": len(data.Patients),
		"slots":    len(data.Slots),
	}).Info("data pool loaded")

	sim := &Simulator{
		config: sc,
		data:   data,
		client: &http.Client{Timeout: 10 * time.Second},
		log:    log,
	}

	sim.RunRace()
	sim.Run()
	sim.PrintReport()
}

// loadDataPool reads future slots nobody holds and issues tokens for the
// doctors who own them and for synthetic patients.
func loadDataPool(ctx context.Context, pg *pgxpool.Pool, secret string, sc SimConfig) (*DataPool, error) {
	data := &DataPool{tokens: make(map[uuid.UUID]string)}

	rows, err := pg.Query(ctx, `
		SELECT s.doctor_id, slot
		FROM schedules s, unnest(s.slots) AS slot
		WHERE slot > now()
		  AND NOT EXISTS (
			SELECT 1 FROM appointments a
			WHERE a.doctor_id = s.doctor_id AND a.slot_time = slot AND a.status <> 'cancelled')
		ORDER BY random()
		LIMIT $1
	`, sc.SlotLimit)
	if err != nil {
		return nil, fmt.Errorf("load slots: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var s slotRef
		if err := rows.Scan(&s.DoctorID, &s.Time); err != nil {
			return nil, err
		}
		data.Slots = append(data.Slots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(data.Slots) == 0 {
		return nil, fmt.Errorf("no open slots loaded; run cmd/seed first")
	}

	issue := func(a identity.Actor) error {
		if _, ok := data.tokens[a.ID]; ok {
			return nil
		}
		token, err := identity.Issue(secret, a, 2*time.Hour)
		if err != nil {
			return err
		}
		data.tokens[a.ID] = token
		return nil
	}
	for _, s := range data.Slots {
		if err := issue(identity.Actor{ID: s.DoctorID, Role: identity.RoleDoctor}); err != nil {
			return nil, err
		}
	}
	for i := 0; i < sc.Patients; i++ {
		p := identity.Actor{ID: uuid.New(), Role: identity.RolePatient}
		if err := issue(p); err != nil {
			return nil, err
		}
		data.Patients = append(data.Patients, p)
	}
	return data, nil
}

// RunRace sends Racers concurrent bookings for the same slot. Exactly one
// should win.
func (s *Simulator) RunRace() {
	if s.config.Racers <= 0 || len(s.data.Slots) < 2 {
		return
	}
	target := s.data.Slots[0]
	s.data.Slots = s.data.Slots[1:]
	s.log.WithFields(logrus.Fields{
		"doctor_id": target.DoctorID,
		"slot":      target.Time,
		"racers":    s.config.Racers,
	}).Info("starting booking race")

	ctx := context.Background()
	start := make(chan struct{})
	p := pool.New()
	for i := 0; i < s.config.Racers; i++ {
		patient := s.data.Patients[i%len(s.data.Patients)]
		p.Go(func() {
			<-start
			s.book(ctx, &s.metrics.Race, target, patient)
		})
	}
	close(start)
	p.Wait()
}

func (s *Simulator) Run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.config.Duration)
	defer cancel()

	s.log.WithFields(logrus.Fields{
		"duration": s.config.Duration.String(),
		"workers":  s.config.Workers,
	}).Info("starting load phase")

	p := pool.New().WithMaxGoroutines(s.config.Workers)
	for i := 0; i < s.config.Workers; i++ {
		seed := time.Now().UnixNano() + int64(i)
		p.Go(func() {
			s.worker(ctx, rand.New(rand.NewSource(seed)))
		})
	}
	p.Wait()
	s.log.Info("load phase complete")
}

func (s *Simulator) worker(ctx context.Context, rng *rand.Rand) {
	for ctx.Err() == nil {
		r := rng.Float64()
		switch {
		case r < s.config.BookingRatio:
			slot := s.data.Slots[rng.Intn(len(s.data.Slots))]
			patient := s.data.Patients[rng.Intn(len(s.data.Patients))]
			s.book(ctx, &s.metrics.Booking, slot, patient)
		case r < s.config.BookingRatio+s.config.ConfirmRatio:
			s.confirm(ctx, rng)
		case r < s.config.BookingRatio+s.config.ConfirmRatio+s.config.SearchRatio:
			s.search(ctx, rng)
		default:
			s.readByID(ctx, rng)
		}
	}
}

func (s *Simulator) book(ctx context.Context, om *OperationMetrics, slot slotRef, patient identity.Actor) {
	body := map[string]any{
		"doctor_id": slot.DoctorID.String(),
		"slot_time": slot.Time,
	}
	var resp struct {
		ID uuid.UUID `json:"id"`
	}
	status := s.call(ctx, om, http.MethodPost, "/v1/appointments", patient.ID, body, &resp)
	if status == http.StatusCreated && resp.ID != uuid.Nil {
		s.data.AddAppointment(booked{ID: resp.ID, DoctorID: slot.DoctorID, PatientID: patient.ID})
	}
}

func (s *Simulator) confirm(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.data.RandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.Confirm, http.MethodPost, "/v1/appointments/"+appt.ID.String()+"/confirm", appt.DoctorID, nil, nil)
}

func (s *Simulator) readByID(ctx context.Context, rng *rand.Rand) {
	appt, ok := s.data.RandomAppointment(rng)
	if !ok {
		return
	}
	s.call(ctx, &s.metrics.ReadByID, http.MethodGet, "/v1/appointments/"+appt.ID.String(), appt.PatientID, nil, nil)
}

func (s *Simulator) search(ctx context.Context, rng *rand.Rand) {
	patient := s.data.Patients[rng.Intn(len(s.data.Patients))]
	radius := 2000 + rng.Intn(20000)
	path := fmt.Sprintf("/v1/doctors/search?lat=%f&lng=%f&radius_m=%d&limit=20", s.config.Lat, s.config.Lng, radius)
	s.call(ctx, &s.metrics.Search, http.MethodGet, path, patient.ID, nil, nil)
}

// call performs one request as actorID, records it in om and returns the
// status code (0 on transport error).
func (s *Simulator) call(ctx context.Context, om *OperationMetrics, method, path string, actorID uuid.UUID, body, out any) int {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return 0
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, s.config.APIBaseURL+path, reader)
	if err != nil {
		return 0
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+s.data.tokens[actorID])

	start := time.Now()
	resp, err := s.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		if ctx.Err() == nil {
			om.Record(latency, 0)
		}
		return 0
	}
	defer resp.Body.Close()

	if out != nil && resp.StatusCode < 300 {
		_ = json.NewDecoder(resp.Body).Decode(out)
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	om.Record(latency, resp.StatusCode)
	return resp.StatusCode
}

func (s *Simulator) PrintReport() {
	line := strings.Repeat("=", 80)
	fmt.Println("\n" + line)
	fmt.Println("SIMULATION REPORT")
	fmt.Println(line)
	fmt.Printf("Duration: %s\n", s.config.Duration)
	fmt.Printf("Workers: %d\n", s.config.Workers)
	fmt.Println()

	race := &s.metrics.Race
	fmt.Printf("Race (%d patients, one slot):\n", s.config.Racers)
	fmt.Printf("  Winners: %d  Conflicts: %d  Errors: %d\n",
		atomic.LoadInt64(&race.Success), atomic.LoadInt64(&race.Conflict), atomic.LoadInt64(&race.Error))
	if w := atomic.LoadInt64(&race.Success); w != 1 {
		fmt.Printf("  WARNING: expected exactly one winner, got %d\n", w)
	}
	fmt.Println()

	printOperationReport("Booking", &s.metrics.Booking)
	printOperationReport("Confirm", &s.metrics.Confirm)
	printOperationReport("Read by ID", &s.metrics.ReadByID)
	printOperationReport("Search", &s.metrics.Search)
}

func printOperationReport(name string, om *OperationMetrics) {
	total := atomic.LoadInt64(&om.Total)
	if total == 0 {
		return
	}
	pct := func(n int64) float64 { return float64(n) / float64(total) * 100 }

	success := atomic.LoadInt64(&om.Success)
	conflict := atomic.LoadInt64(&om.Conflict)
	failed := atomic.LoadInt64(&om.Error)

	fmt.Printf("%s:\n", name)
	fmt.Printf("  Total: %d\n", total)
	fmt.Printf("  Success: %d (%.1f%%)\n", success, pct(success))
	if conflict > 0 {
		fmt.Printf("  Conflicts: %d (%.1f%%)\n", conflict, pct(conflict))
	}
	if failed > 0 {
		fmt.Printf("  Errors: %d (%.1f%%)\n", failed, pct(failed))
	}
	fmt.Printf("  Latency: p50=%s p95=%s p99=%s\n",
		om.Percentile(0.50).Round(time.Millisecond),
		om.Percentile(0.95).Round(time.Millisecond),
		om.Percentile(0.99).Round(time.Millisecond))
	fmt.Println()
}
