package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"math/rand"
	"net/http"
	"os"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/scheduling/internal/config"
	"github.com/clinicore/scheduling/internal/db"
)

// simulate drives concurrent booking traffic against a running
// api-server to observe contention behavior on slot capacity.

type SimConfig struct {
	APIBaseURL  string
	Duration    time.Duration
	Workers     int
	CancelRatio float64
	PatientMax  int
	SlotMax     int
}

type DataPool struct {
	Patients []uuid.UUID
	Slots    []uuid.UUID

	mu           sync.RWMutex
	appointments []uuid.UUID
}

func (dp *DataPool) AddAppointment(id uuid.UUID) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	dp.appointments = append(dp.appointments, id)
}

func (dp *DataPool) TakeRandomAppointment() (uuid.UUID, bool) {
	dp.mu.Lock()
	defer dp.mu.Unlock()
	if len(dp.appointments) == 0 {
		return uuid.Nil, false
	}
	idx := rand.Intn(len(dp.appointments))
	id := dp.appointments[idx]
	dp.appointments = append(dp.appointments[:idx], dp.appointments[idx+1:]...)
	return id, true
}

type OperationMetrics struct {
	Total    int64
	Success  int64
	Conflict int64
	Error    int64

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

func (om *OperationMetrics) Percentile(p int) time.Duration {
	om.mu.Lock()
	defer om.mu.Unlock()
	if len(om.latencies) == 0 {
		return 0
	}
	sorted := make([]time.Duration, len(om.latencies))
	copy(sorted, om.latencies)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
	idx := len(sorted) * p / 100
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)

	sim := SimConfig{
		APIBaseURL:  getEnv("SIM_API_URL", "http://127.0.0.1:8080"),
		Duration:    getDurationEnv("SIM_DURATION", 30*time.Second),
		Workers:     getIntEnv("SIM_WORKERS", 16),
		CancelRatio: 0.2,
		PatientMax:  2000,
		SlotMax:     2000,
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config load error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	pool, err := db.ConnectPostgres(ctx, cfg.PostgresDSN, cfg.PgMaxConns)
	cancel()
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	data := &DataPool{}
	if data.Patients, err = loadIDs(pool, "SELECT id FROM patients LIMIT $1", sim.PatientMax); err != nil {
		log.Fatalf("load patients: %v", err)
	}
	if data.Slots, err = loadIDs(pool, `
		SELECT id FROM time_slots
		WHERE is_active AND start_time > now()
		LIMIT $1`, sim.SlotMax); err != nil {
		log.Fatalf("load slots: %v", err)
	}
	if len(data.Patients) == 0 || len(data.Slots) == 0 {
		log.Fatal("no patients or slots; run cmd/seed first")
	}

	log.Printf("simulating: workers=%d duration=%s patients=%d slots=%d",
		sim.Workers, sim.Duration, len(data.Patients), len(data.Slots))

	var bookings, cancels OperationMetrics
	client := &http.Client{Timeout: 5 * time.Second}

	runCtx, stop := context.WithTimeout(context.Background(), sim.Duration)
	defer stop()

	var wg sync.WaitGroup
	for i := 0; i < sim.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for runCtx.Err() == nil {
				if rand.Float64() < sim.CancelRatio {
					doCancel(client, sim, data, &cancels)
				} else {
					doBook(client, sim, data, &bookings)
				}
			}
		}()
	}
	wg.Wait()

	report("book", &bookings)
	report("cancel", &cancels)
}

func doBook(client *http.Client, sim SimConfig, data *DataPool, m *OperationMetrics) {
	body, _ := json.Marshal(map[string]string{
		"patient_id": data.Patients[rand.Intn(len(data.Patients))].String(),
		"slot_id":    data.Slots[rand.Intn(len(data.Slots))].String(),
		"reason":     "simulated visit",
	})

	start := time.Now()
	resp, err := client.Post(sim.APIBaseURL+"/appointments", "application/json", bytes.NewReader(body))
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusCreated {
		var created struct {
			ID uuid.UUID `json:"id"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&created); err == nil {
			data.AddAppointment(created.ID)
		}
	} else {
		_, _ = io.Copy(io.Discard, resp.Body)
	}
	m.Record(time.Since(start), resp.StatusCode)
}

func doCancel(client *http.Client, sim SimConfig, data *DataPool, m *OperationMetrics) {
	id, ok := data.TakeRandomAppointment()
	if !ok {
		return
	}

	start := time.Now()
	resp, err := client.Post(fmt.Sprintf("%s/appointments/%s/cancel", sim.APIBaseURL, id), "application/json", nil)
	if err != nil {
		m.Record(time.Since(start), 0)
		return
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	m.Record(time.Since(start), resp.StatusCode)
}

func loadIDs(pool *pgxpool.Pool, query string, limit int) ([]uuid.UUID, error) {
	rows, err := pool.Query(context.Background(), query, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func report(name string, m *OperationMetrics) {
	log.Printf("%s: total=%d success=%d conflict=%d error=%d p50=%s p95=%s",
		name,
		atomic.LoadInt64(&m.Total),
		atomic.LoadInt64(&m.Success),
		atomic.LoadInt64(&m.Conflict),
		atomic.LoadInt64(&m.Error),
		m.Percentile(50),
		m.Percentile(95),
	)
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getIntEnv(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func getDurationEnv(key string, def time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}
