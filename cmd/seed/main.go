// Package main provides a CLI tool for seeding the database with demo data:
// a small music school with students, lessons, attendance and the related
// side collections. Useful for exercising deletion previews and maintenance
// scans against realistic volumes.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"strconv"
	"time"

	"cantus/internal/core/id"
	"cantus/internal/domain/schema"
	"cantus/internal/infrastructure/storage/postgres"
	"cantus/pkg/logger"
)

var (
	firstNames  = []string{"Anna", "Boris", "Clara", "Dmitri", "Elena", "Felix", "Greta", "Henrik", "Ilse", "Jonas"}
	lastNames   = []string{"Bauer", "Fischer", "Hoffmann", "Keller", "Lehmann", "Meyer", "Neumann", "Richter", "Schmidt", "Wagner"}
	subjects    = []string{"violin", "piano", "cello", "flute", "clarinet", "voice"}
	ensembles   = []string{"junior strings", "wind ensemble", "chamber orchestra", "choir"}
	lessonState = []string{"completed", "completed", "completed", "scheduled", "cancelled"}
)

func main() {
	log, err := logger.New(logger.Config{
		Level:       "info",
		Development: true,
	})
	if err != nil {
		fmt.Printf("failed to create logger: %v\n", err)
		os.Exit(1)
	}

	ctx := context.Background()

	dbURL := os.Getenv("DATABASE_URL")
	if dbURL == "" {
		log.Fatal("DATABASE_URL environment variable is required")
	}

	pool, err := postgres.NewPool(ctx, postgres.DefaultPoolConfig(dbURL))
	if err != nil {
		log.Fatalw("failed to connect to database", "error", err)
	}
	defer pool.Close()

	log.Info("connected to database")

	sch := schema.Default()
	if err := postgres.Migrate(ctx, pool, sch); err != nil {
		log.Fatalw("failed to run migrations", "error", err)
	}

	studentCount := 20
	if v := os.Getenv("SEED_STUDENTS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			studentCount = n
		}
	}

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	batches := buildDemoData(rng, studentCount)

	inserter := postgres.NewBatchInserter(postgres.NewTxManager(pool))
	total := int64(0)
	for _, collection := range sch.Collections() {
		rows := batches[collection]
		if len(rows) == 0 {
			continue
		}
		inserted, err := inserter.CopyFromSlice(ctx, "rec_"+collection, []string{"id", "fields"}, rows)
		if err != nil {
			log.Fatalw("failed to seed collection", "collection", collection, "error", err)
		}
		log.Infow("seeded collection", "collection", collection, "rows", inserted)
		total += inserted
	}

	log.Infow("seeding completed successfully", "students", studentCount, "total_rows", total)
}

// buildDemoData generates one batch of rows per collection, keyed by
// collection name. Every dependent row references a freshly generated
// owner, so a fresh seed never contains orphans; run a deletion with the
// sweep disabled to manufacture some.
func buildDemoData(rng *rand.Rand, studentCount int) map[string][][]any {
	batches := make(map[string][][]any)

	addWith := func(collection string, recID id.ID, fields map[string]any) {
		payload, _ := json.Marshal(fields)
		batches[collection] = append(batches[collection], []any{recID, payload})
	}
	add := func(collection string, fields map[string]any) {
		addWith(collection, id.New(), fields)
	}

	for i := 0; i < studentCount; i++ {
		studentID := id.New()
		addWith(schema.Students, studentID, map[string]any{
			"first_name": firstNames[rng.Intn(len(firstNames))],
			"last_name":  lastNames[rng.Intn(len(lastNames))],
			"status":     "active",
			"enrolled":   time.Now().AddDate(0, -rng.Intn(36), 0).Format("2006-01-02"),
		})

		subject := subjects[rng.Intn(len(subjects))]
		for j := 0; j < 2+rng.Intn(6); j++ {
			lessonID := id.New()
			addWith(schema.Lessons, lessonID, map[string]any{
				"student_id": studentID.String(),
				"subject":    subject,
				"status":     lessonState[rng.Intn(len(lessonState))],
			})

			add(schema.Attendance, map[string]any{
				"lesson_id": lessonID.String(),
				"status":    []string{"present", "absent", "excused"}[rng.Intn(3)],
			})
		}

		if rng.Intn(2) == 0 {
			add(schema.Orchestras, map[string]any{
				"student_id": studentID.String(),
				"name":       ensembles[rng.Intn(len(ensembles))],
			})
		}

		add(schema.Documents, map[string]any{
			"student_id": studentID.String(),
			"title":      "enrollment contract",
		})

		for j := 0; j < 1+rng.Intn(4); j++ {
			add(schema.Payments, map[string]any{
				"student_id": studentID.String(),
				"amount":     fmt.Sprintf("%d.00", 40+rng.Intn(80)),
				"status":     "paid",
			})
		}

		if rng.Intn(3) == 0 {
			add(schema.Notes, map[string]any{
				"student_id": studentID.String(),
				"body":       "progressing well",
			})
		}
	}

	return batches
}
