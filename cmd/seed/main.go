package main

import (
	"context"
	"math"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/pflag"

	"github.com/hackgods/telehealth-scheduling/internal/app"
	"github.com/hackgods/telehealth-scheduling/internal/config"
	"github.com/hackgods/telehealth-scheduling/internal/geo"
	"github.com/hackgods/telehealth-scheduling/internal/obs"
)

var specializations = []string{
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

var languages = []string{"English", "Hindi", "Bengali", "Tamil", "Urdu"}

func main() {
	doctors := pflag.Int("doctors", 100, "number of doctors to create")
	days := pflag.Int("days", 7, "days of schedule per doctor")
	centerLat := pflag.Float64("lat", 22.5726, "latitude of the city centre")
	centerLng := pflag.Float64("lng", 88.3639, "longitude of the city centre")
	spreadKm := pflag.Float64("spread-km", 25, "maximum distance from the centre")
	pflag.Parse()

	cfg, err := config.Load()
	if err != nil {
		logrus.WithError(err).Fatal("config load error")
	}
	cfg.StoreBackend = "postgres"
	log := obs.NewLogger(cfg, "seed")
	log.Info("seed starting")

	ctx := context.Background()
	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.WithError(err).Fatal("startup error")
	}
	defer a.Close()

	gofakeit.Seed(time.Now().UnixNano())

	center := geo.Point{Lat: *centerLat, Lng: *centerLng}
	ids, err := seedDoctors(ctx, a.Pool, *doctors, center, *spreadKm*1000, log)
	if err != nil {
		log.WithError(err).Fatal("seed doctors")
	}

	scheduled := 0
	for _, id := range ids {
		if _, _, err := a.Schedules.SetSchedule(ctx, id, workingSlots(time.Now(), *days, cfg.SlotDuration.Std())); err != nil {
			log.WithError(err).WithField("doctor_id", id).Warn("set schedule failed")
			continue
		}
		scheduled++
	}

	n, err := a.Indexer.Rebuild(ctx)
	if err != nil {
		log.WithError(err).Warn("geo index rebuild failed")
	}

	log.WithFields(logrus.Fields{
		"doctors":   len(ids),
		"scheduled": scheduled,
		"indexed":   n,
	}).Info("seed complete")
}

func seedDoctors(ctx context.Context, pool *pgxpool.Pool, count int, center geo.Point, spreadMeters float64, log *logrus.Logger) ([]uuid.UUID, error) {
	log.WithField("count", count).Info("seeding doctors")

	tx, err := pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	ids := make([]uuid.UUID, 0, count)
	for i := 0; i < count; i++ {
		id := uuid.New()
		p := scatter(center, spreadMeters)
		specs := []string{gofakeit.RandomString(specializations)}
		if gofakeit.Number(0, 3) == 0 {
			specs = append(specs, gofakeit.RandomString(specializations))
		}
		langs := []string{"English", gofakeit.RandomString(languages)}
		fee := decimal.NewFromInt(int64(gofakeit.Number(20, 200) * 10))

		_, err := tx.Exec(ctx, `
			INSERT INTO doctors (id, name, specializations, languages, verified, rating, review_count,
				experience_years, consultation_fee, latitude, longitude)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9::numeric, $10, $11)
		`, id, "Dr. "+gofakeit.Name(), specs, langs, gofakeit.Number(0, 9) > 0,
			math.Round(gofakeit.Float64Range(3, 5)*10)/10, gofakeit.Number(0, 500),
			gofakeit.Number(1, 35), fee.String(), p.Lat, p.Lng)
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return ids, nil
}

// scatter returns a point uniformly distributed within radius meters of c.
func scatter(c geo.Point, radius float64) geo.Point {
	const metersPerDegree = 111_320.0
	r := radius * math.Sqrt(gofakeit.Float64Range(0, 1))
	theta := gofakeit.Float64Range(0, 2*math.Pi)
	return geo.Point{
		Lat: c.Lat + r*math.Cos(theta)/metersPerDegree,
		Lng: c.Lng + r*math.Sin(theta)/(metersPerDegree*math.Cos(c.Lat*math.Pi/180)),
	}
}

// workingSlots returns 09:00-17:00 UTC slots for the next days, starting
// tomorrow.
func workingSlots(now time.Time, days int, slot time.Duration) []time.Time {
	var out []time.Time
	start := now.UTC().Truncate(24 * time.Hour).AddDate(0, 0, 1)
	for d := 0; d < days; d++ {
		day := start.AddDate(0, 0, d)
		for t := day.Add(9 * time.Hour); t.Before(day.Add(17 * time.Hour)); t = t.Add(slot) {
			out = append(out, t)
		}
	}
	return out
}
