// Package store persists venue records in PostgreSQL. The index is rebuilt
// from here at startup and the crowd refresher can read live crowd levels
// from the same table.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/cafeindex/internal/geo"
	"github.com/onnwee/cafeindex/internal/ranking"
	"github.com/onnwee/cafeindex/internal/stats"
	"github.com/onnwee/cafeindex/internal/tracing"
	"github.com/onnwee/cafeindex/internal/venue"
)

// ErrVenueNotFound is returned when a delete matches no row.
var ErrVenueNotFound = errors.New("venue not found")

const tableCafes = "cafes"

// Open connects to PostgreSQL using the lib/pq driver and verifies the
// connection with a ping.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

// PostgresStore reads and writes venue records in the cafes table.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
	stats  *stats.UpsertStats
}

// NewPostgresStore creates a new PostgresStore.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
		stats:  stats.NewUpsertStats(),
	}
}

// Stats returns the insert and update counts of every committed upsert
// since the store was created.
func (s *PostgresStore) Stats() *stats.UpsertStats {
	return s.stats
}

// UpsertVenues inserts or updates recs in a single transaction and returns
// the number of rows written. Either every record is stored or none is.
func (s *PostgresStore) UpsertVenues(ctx context.Context, recs []venue.Record) (n int, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableCafes, tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := s.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}

	// Always attempt rollback on function exit (no-op after successful commit)
	defer func() {
		if err := tx.Rollback(); err != nil && err != sql.ErrTxDone {
			s.logger.Warn("failed to rollback transaction",
				slog.String("error", err.Error()))
		}
	}()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cafes (id, name, latitude, longitude, rating, price_level, current_crowd, extra_features)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			latitude = EXCLUDED.latitude,
			longitude = EXCLUDED.longitude,
			rating = EXCLUDED.rating,
			price_level = EXCLUDED.price_level,
			current_crowd = EXCLUDED.current_crowd,
			extra_features = EXCLUDED.extra_features,
			updated_at = NOW()
		RETURNING (xmax = 0) AS inserted
	`)
	if err != nil {
		return 0, fmt.Errorf("failed to prepare upsert: %w", err)
	}
	defer stmt.Close()

	tally := stats.NewUpsertStats()
	for _, rec := range recs {
		if err := rec.Validate(); err != nil {
			return 0, fmt.Errorf("venue %d: %w", rec.ID, err)
		}
		row, err := toRow(rec)
		if err != nil {
			return 0, fmt.Errorf("venue %d: %w", rec.ID, err)
		}
		// xmax is zero only on a row version created by this insert.
		var inserted bool
		if err := stmt.QueryRowContext(ctx, row.args()...).Scan(&inserted); err != nil {
			return 0, fmt.Errorf("failed to upsert venue %d: %w", rec.ID, err)
		}
		tally.Record(inserted)
		n++
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit transaction: %w", err)
	}
	s.stats.Merge(tally)
	s.logger.Info("venues upserted",
		slog.Int64("inserted", tally.Inserted()),
		slog.Int64("updated", tally.Updated()))
	return n, nil
}

// ListVenues loads every stored venue ordered by id.
func (s *PostgresStore) ListVenues(ctx context.Context) (recs []venue.Record, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableCafes, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, latitude, longitude, rating, price_level, current_crowd, extra_features
		FROM cafes
		ORDER BY id
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query venues: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var r row
		if err := rows.Scan(&r.id, &r.name, &r.lat, &r.lon, &r.rating, &r.priceLevel, &r.crowd, &r.extra); err != nil {
			return nil, fmt.Errorf("failed to scan venue: %w", err)
		}
		rec, err := r.record()
		if err != nil {
			return nil, fmt.Errorf("venue %d: %w", r.id, err)
		}
		recs = append(recs, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate venues: %w", err)
	}
	return recs, nil
}

// CrowdLevels returns the stored current_crowd of every venue that has one.
func (s *PostgresStore) CrowdLevels(ctx context.Context) (levels map[int64]float64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableCafes, tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, `SELECT id, current_crowd FROM cafes WHERE current_crowd IS NOT NULL`)
	if err != nil {
		return nil, fmt.Errorf("failed to query crowd levels: %w", err)
	}
	defer rows.Close()

	levels = make(map[int64]float64)
	for rows.Next() {
		var id int64
		var crowd float64
		if err := rows.Scan(&id, &crowd); err != nil {
			return nil, fmt.Errorf("failed to scan crowd level: %w", err)
		}
		levels[id] = crowd
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate crowd levels: %w", err)
	}
	return levels, nil
}

// DeleteVenue removes one venue. It returns ErrVenueNotFound when no row
// has the id.
func (s *PostgresStore) DeleteVenue(ctx context.Context, id int64) error {
	n, err := s.DeleteVenues(ctx, []int64{id})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %d", ErrVenueNotFound, id)
	}
	return nil
}

// DeleteVenues removes every venue whose id is listed and reports how many
// rows were deleted.
func (s *PostgresStore) DeleteVenues(ctx context.Context, ids []int64) (n int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, tableCafes, tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	res, err := s.db.ExecContext(ctx, `DELETE FROM cafes WHERE id = ANY($1)`, pq.Array(ids))
	if err != nil {
		return 0, fmt.Errorf("failed to delete venues: %w", err)
	}
	n, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read affected rows: %w", err)
	}
	s.logger.Info("venues deleted", slog.Int64("count", n))
	return n, nil
}

// row is the column layout of the cafes table.
type row struct {
	id         int64
	name       string
	lat, lon   float64
	rating     sql.NullFloat64
	priceLevel sql.NullFloat64
	crowd      sql.NullFloat64
	extra      []byte
}

func (r row) args() []any {
	return []any{r.id, r.name, r.lat, r.lon, r.rating, r.priceLevel, r.crowd, r.extra}
}

// columnFeatures are the features stored in dedicated columns.
var columnFeatures = []string{ranking.FeatureRating, ranking.FeaturePriceLevel, ranking.FeatureCurrentCrowd}

func toRow(rec venue.Record) (row, error) {
	r := row{
		id:   rec.ID,
		name: rec.Name,
		lat:  rec.Location.Lat,
		lon:  rec.Location.Lon,
	}
	extra := make(map[string]float64)
	for k, v := range rec.Features {
		switch k {
		case ranking.FeatureRating:
			r.rating = sql.NullFloat64{Float64: v, Valid: true}
		case ranking.FeaturePriceLevel:
			r.priceLevel = sql.NullFloat64{Float64: v, Valid: true}
		case ranking.FeatureCurrentCrowd:
			r.crowd = sql.NullFloat64{Float64: v, Valid: true}
		default:
			extra[k] = v
		}
	}
	data, err := json.Marshal(extra)
	if err != nil {
		return row{}, fmt.Errorf("failed to encode extra features: %w", err)
	}
	r.extra = data
	return r, nil
}

func (r row) record() (venue.Record, error) {
	features := make(map[string]float64, len(columnFeatures))
	if len(r.extra) > 0 {
		if err := json.Unmarshal(r.extra, &features); err != nil {
			return venue.Record{}, fmt.Errorf("failed to decode extra features: %w", err)
		}
	}
	for i, col := range []sql.NullFloat64{r.rating, r.priceLevel, r.crowd} {
		if col.Valid {
			features[columnFeatures[i]] = col.Float64
		}
	}
	return venue.Record{
		ID:       r.id,
		Name:     r.name,
		Location: geo.Point{Lon: r.lon, Lat: r.lat},
		Features: features,
	}, nil
}
