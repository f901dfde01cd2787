package main

import (
	"context"
	"log"
	"os"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/clinicore/scheduling/internal/db"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lshortfile)
	log.Println("seed starting")

	dsn := os.Getenv("POSTGRES_DSN")
	if dsn == "" {
		log.Fatal("POSTGRES_DSN is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := db.ConnectPostgres(ctx, dsn, 10)
	if err != nil {
		log.Fatalf("connect postgres: %v", err)
	}
	defer pool.Close()

	gofakeit.Seed(time.Now().UnixNano())

	doctors, err := seedDoctors(context.Background(), pool, 50)
	if err != nil {
		log.Fatalf("seed doctors: %v", err)
	}
	if err := seedPatients(context.Background(), pool, 5000); err != nil {
		log.Fatalf("seed patients: %v", err)
	}
	if err := seedSchedules(context.Background(), pool, doctors, 14); err != nil {
		log.Fatalf("seed schedules: %v", err)
	}

	log.Println("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int) ([]uuid.UUID, error) {
	log.Printf("seeding %d doctors", count)

	specialties := []string{
		"Dermatology",
		"Cardiology",
		"General Practice",
		"Orthopedics",
		"Endocrinology",
		"Neurology",
		"Pediatrics",
		"Psychiatry",
		"Ophthalmology",
		"ENT",
	}

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		name := gofakeit.Name()
		spec := specialties[gofakeit.Number(0, len(specialties)-1)]

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specialty, created_at, updated_at)
			VALUES ($1, $2, $3, now(), now())
		`, id, name, spec)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}

	log.Println("doctors seeded")
	return ids, nil
}

func seedPatients(ctx context.Context, pool *pgxpool.Pool, count int) error {
	log.Printf("seeding %d patients", count)

	const batchSize = 500

	for offset := 0; offset < count; offset += batchSize {
		end := offset + batchSize
		if end > count {
			end = count
		}

		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for i := offset; i < end; i++ {
			id := uuid.New()
			name := gofakeit.Name()
			score := gofakeit.Number(40, 100)

			_, err := tx.Exec(ctx, `
				INSERT INTO patients (id, name, credibility_score, is_suspended, created_at, updated_at)
				VALUES ($1, $2, $3, false, now(), now())
			`, id, name, score)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}

		log.Printf("patients seeded: %d/%d", end, count)
	}

	log.Println("patients seeded")
	return nil
}

// seedSchedules creates one schedule per doctor per day with hourly
// two-bed slots between 09:00 and 17:00.
func seedSchedules(ctx context.Context, pool *pgxpool.Pool, doctors []uuid.UUID, days int) error {
	log.Printf("seeding schedules for %d doctors over %d days", len(doctors), days)

	rooms := []string{"A-101", "A-102", "B-201", "B-202", "C-301"}

	for _, doctorID := range doctors {
		tx, err := pool.Begin(ctx)
		if err != nil {
			return err
		}

		for d := 0; d < days; d++ {
			scheduleID := uuid.New()
			date := time.Now().AddDate(0, 0, d).Truncate(24 * time.Hour)
			room := rooms[gofakeit.Number(0, len(rooms)-1)]

			_, err := tx.Exec(ctx, `
				INSERT INTO schedules (id, doctor_id, room, date, created_at, updated_at)
				VALUES ($1, $2, $3, $4, now(), now())
			`, scheduleID, doctorID, room, date)
			if err != nil {
				_ = tx.Rollback(ctx)
				return err
			}

			for hour := 9; hour < 17; hour++ {
				start := date.Add(time.Duration(hour) * time.Hour)
				_, err := tx.Exec(ctx, `
					INSERT INTO time_slots (id, schedule_id, start_time, end_time, bed_count, available_beds, is_active, created_at, updated_at)
					VALUES ($1, $2, $3, $4, $5, $5, true, now(), now())
				`, uuid.New(), scheduleID, start, start.Add(time.Hour), 2)
				if err != nil {
					_ = tx.Rollback(ctx)
					return err
				}
			}
		}

		if err := tx.Commit(ctx); err != nil {
			return err
		}
	}

	log.Println("schedules seeded")
	return nil
}
