// Package warehouse pushes canonical records and validation results into the
// dashboard Postgres. The local store stays the source of truth; every push
// is an idempotent upsert keyed on the row's natural ID, and a watermark in
// the local store tracks how far the warehouse has been brought up to date.
package warehouse

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/shoplens/pipeline-cli/internal/model"
	"github.com/shoplens/pipeline-cli/internal/store"
)

// watermarkName keys the sync watermark in the local store.
const watermarkName = "warehouse"

// Pool is the subset of pgxpool.Pool the syncer uses. pgxmock satisfies it
// in tests.
type Pool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Ping(ctx context.Context) error
}

// NewPool creates a pgx connection pool for the warehouse and verifies
// connectivity.
func NewPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: parse database url")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "warehouse: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "warehouse: ping")
	}
	return pool, nil
}

const migration = `
CREATE TABLE IF NOT EXISTS listing_records (
	crawl_id     TEXT PRIMARY KEY,
	url          TEXT NOT NULL,
	product_code TEXT NOT NULL DEFAULT '',
	record       JSONB NOT NULL,
	created_at   TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listing_records_product_code ON listing_records(product_code);
CREATE INDEX IF NOT EXISTS idx_listing_records_created_at ON listing_records(created_at);

CREATE TABLE IF NOT EXISTS listing_validations (
	analysis_id     TEXT PRIMARY KEY,
	crawl_id        TEXT NOT NULL,
	score           DOUBLE PRECISION NOT NULL,
	unresolved      INTEGER NOT NULL,
	tracked_version INTEGER NOT NULL,
	result          JSONB NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listing_validations_crawl_id ON listing_validations(crawl_id);
CREATE INDEX IF NOT EXISTS idx_listing_validations_created_at ON listing_validations(created_at);
`

var (
	recordColumns     = []string{"crawl_id", "url", "product_code", "record", "created_at"}
	validationColumns = []string{"analysis_id", "crawl_id", "score", "unresolved", "tracked_version", "result", "created_at"}
)

// SyncStats summarizes one sync run.
type SyncStats struct {
	Records     int64     `json:"records"`
	Validations int64     `json:"validations"`
	Watermark   time.Time `json:"watermark"`
}

// Syncer pushes local rows newer than the watermark to the warehouse.
type Syncer struct {
	pool  Pool
	store store.Store
}

func NewSyncer(pool Pool, st store.Store) *Syncer {
	return &Syncer{pool: pool, store: st}
}

// Migrate creates the warehouse tables.
func (s *Syncer) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, migration)
	return eris.Wrap(err, "warehouse: migrate")
}

// Sync pushes everything newer than the last watermark and advances it. The
// new watermark is captured before reading, so rows written while the sync
// runs are picked up by the next one.
func (s *Syncer) Sync(ctx context.Context) (*SyncStats, error) {
	watermark, err := s.store.SyncWatermark(ctx, watermarkName)
	if err != nil {
		return nil, err
	}
	started := time.Now().UTC()

	recs, err := s.store.RecordsSince(ctx, watermark)
	if err != nil {
		return nil, err
	}
	vals, err := s.store.ValidationsSince(ctx, watermark)
	if err != nil {
		return nil, err
	}

	nRecs, err := s.pushRecords(ctx, recs)
	if err != nil {
		return nil, err
	}
	nVals, err := s.pushValidations(ctx, vals)
	if err != nil {
		return nil, err
	}

	if err := s.store.SetSyncWatermark(ctx, watermarkName, started); err != nil {
		return nil, err
	}

	zap.L().Info("warehouse: sync complete",
		zap.Int64("records", nRecs),
		zap.Int64("validations", nVals),
		zap.Time("watermark", started))
	return &SyncStats{Records: nRecs, Validations: nVals, Watermark: started}, nil
}

func (s *Syncer) pushRecords(ctx context.Context, recs []model.CanonicalRecord) (int64, error) {
	rows := make([][]any, 0, len(recs))
	for i := range recs {
		payload, err := json.Marshal(&recs[i])
		if err != nil {
			return 0, eris.Wrapf(err, "warehouse: marshal record %s", recs[i].CrawlID)
		}
		rows = append(rows, []any{
			recs[i].CrawlID, recs[i].URL, recs[i].ProductCode,
			string(payload), recs[i].CreatedAt.UTC(),
		})
	}
	return bulkUpsert(ctx, s.pool, upsertConfig{
		Table:        "listing_records",
		Columns:      recordColumns,
		ConflictKeys: []string{"crawl_id"},
	}, rows)
}

func (s *Syncer) pushValidations(ctx context.Context, vals []model.ValidationResult) (int64, error) {
	rows := make([][]any, 0, len(vals))
	for i := range vals {
		payload, err := json.Marshal(&vals[i])
		if err != nil {
			return 0, eris.Wrapf(err, "warehouse: marshal validation %s", vals[i].AnalysisID)
		}
		rows = append(rows, []any{
			vals[i].AnalysisID, vals[i].CrawlID, vals[i].Score, vals[i].UnresolvedCount(),
			vals[i].TrackedVersion, string(payload), vals[i].CreatedAt.UTC(),
		})
	}
	return bulkUpsert(ctx, s.pool, upsertConfig{
		Table:        "listing_validations",
		Columns:      validationColumns,
		ConflictKeys: []string{"analysis_id"},
	}, rows)
}
