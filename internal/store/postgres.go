package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// PgxPool is the subset of pgxpool.Pool the Postgres store uses. pgxmock
// satisfies it in tests.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Begin(ctx context.Context) (pgx.Tx, error)
	Ping(ctx context.Context) error
	Close()
}

// PostgresStore implements Store on a pgx connection pool, for deployments
// where several crawler hosts share one learning state.
type PostgresStore struct {
	pool PgxPool
}

// NewPostgres creates a PostgresStore and verifies connectivity.
func NewPostgres(ctx context.Context, connString string) (*PostgresStore, error) {
	cfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}
	cfg.MaxConns = 10
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 30 * time.Minute
	cfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool}, nil
}

// NewPostgresFromPool wraps an existing pool, used by tests.
func NewPostgresFromPool(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS strategy_performance (
	id              BIGSERIAL PRIMARY KEY,
	field_name      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	payload_hash    TEXT NOT NULL,
	channel         TEXT NOT NULL DEFAULT '',
	attempts        BIGINT NOT NULL DEFAULT 0,
	successes       BIGINT NOT NULL DEFAULT 0,
	last_success_at TIMESTAMPTZ,
	last_used_at    TIMESTAMPTZ,
	UNIQUE(field_name, kind, payload_hash, channel)
);

CREATE TABLE IF NOT EXISTS identity_performance (
	id           BIGSERIAL PRIMARY KEY,
	kind         TEXT NOT NULL,
	value        TEXT NOT NULL,
	attempts     BIGINT NOT NULL DEFAULT 0,
	successes    BIGINT NOT NULL DEFAULT 0,
	blocked      BIGINT NOT NULL DEFAULT 0,
	last_used_at TIMESTAMPTZ,
	UNIQUE(kind, value)
);

CREATE TABLE IF NOT EXISTS priority_chunks (
	id              TEXT PRIMARY KEY,
	field_name      TEXT NOT NULL,
	selector        TEXT NOT NULL,
	related_classes JSONB,
	report_id       TEXT NOT NULL,
	created_at      TIMESTAMPTZ NOT NULL,
	superseded_at   TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS error_reports (
	id               TEXT PRIMARY KEY,
	analysis_id      TEXT NOT NULL,
	field_name       TEXT NOT NULL,
	issue_type       TEXT NOT NULL,
	severity         TEXT NOT NULL,
	user_description TEXT,
	crawler_value    TEXT,
	report_value     TEXT,
	status           TEXT NOT NULL DEFAULT 'pending',
	created_at       TIMESTAMPTZ NOT NULL,
	resolved_at      TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	crawl_id    TEXT NOT NULL,
	analysis_id TEXT NOT NULL,
	url         TEXT NOT NULL,
	body        BYTEA NOT NULL,
	fetched_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	id          BIGSERIAL PRIMARY KEY,
	crawl_id    TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms DOUBLE PRECISION NOT NULL,
	metadata    JSONB,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregated_rates (
	period_type     TEXT NOT NULL,
	period_start    TIMESTAMPTZ NOT NULL,
	stage           TEXT NOT NULL,
	success_count   BIGINT NOT NULL DEFAULT 0,
	failure_count   BIGINT NOT NULL DEFAULT 0,
	avg_duration_ms DOUBLE PRECISION NOT NULL DEFAULT 0,
	PRIMARY KEY(period_type, period_start, stage)
);

CREATE TABLE IF NOT EXISTS canonical_records (
	crawl_id   TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_artifacts (
	analysis_id TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_results (
	id          TEXT PRIMARY KEY,
	analysis_id TEXT NOT NULL,
	score       DOUBLE PRECISION NOT NULL,
	payload     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	name      TEXT PRIMARY KEY,
	synced_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_strategy_perf_field ON strategy_performance(field_name);
CREATE INDEX IF NOT EXISTS idx_chunks_field ON priority_chunks(field_name, superseded_at);
CREATE INDEX IF NOT EXISTS idx_reports_status ON error_reports(status);
CREATE INDEX IF NOT EXISTS idx_reports_field ON error_reports(field_name);
CREATE INDEX IF NOT EXISTS idx_documents_analysis ON documents(analysis_id, fetched_at);
CREATE INDEX IF NOT EXISTS idx_events_stage ON pipeline_events(stage, created_at);
CREATE INDEX IF NOT EXISTS idx_events_created ON pipeline_events(created_at);
CREATE INDEX IF NOT EXISTS idx_validations_analysis ON validation_results(analysis_id, created_at);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return eris.Wrap(s.pool.Ping(ctx), "postgres: ping")
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

// --- strategy performance ---

func (s *PostgresStore) RecordStrategyAttempt(ctx context.Context, att model.Attempt, channel string) error {
	success := 0
	var lastSuccess *time.Time
	if att.Success() {
		success = 1
		at := att.At.UTC()
		lastSuccess = &at
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO strategy_performance
		   (field_name, kind, payload, payload_hash, channel, attempts, successes, last_success_at, last_used_at)
		 VALUES ($1, $2, $3, $4, $5, 1, $6, $7, $8)
		 ON CONFLICT(field_name, kind, payload_hash, channel) DO UPDATE SET
		   attempts        = strategy_performance.attempts + 1,
		   successes       = strategy_performance.successes + excluded.successes,
		   last_success_at = COALESCE(excluded.last_success_at, strategy_performance.last_success_at),
		   last_used_at    = excluded.last_used_at`,
		att.Strategy.Field, string(att.Strategy.Kind), att.Strategy.Payload, att.Strategy.PayloadHash(),
		channel, success, lastSuccess, att.At.UTC(),
	)
	return eris.Wrap(err, "postgres: record strategy attempt")
}

func (s *PostgresStore) StrategyScores(ctx context.Context, field string) ([]model.StrategyScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_name, kind, payload, payload_hash, channel, attempts, successes, last_success_at, last_used_at
		 FROM strategy_performance WHERE field_name = $1`,
		field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: strategy scores")
	}
	defer rows.Close()

	var scores []model.StrategyScore
	for rows.Next() {
		var sc model.StrategyScore
		if err := rows.Scan(&sc.Field, &sc.Kind, &sc.Payload, &sc.PayloadHash, &sc.Channel,
			&sc.Attempts, &sc.Successes, &sc.LastSuccessAt, &sc.LastUsedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan strategy score")
		}
		scores = append(scores, sc)
	}
	return scores, eris.Wrap(rows.Err(), "postgres: strategy scores iterate")
}

// --- identity performance ---

func (s *PostgresStore) RecordIdentityResult(ctx context.Context, kind, value string, success, blocked bool) error {
	succ, blk := 0, 0
	if success {
		succ = 1
	}
	if blocked {
		blk = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO identity_performance (kind, value, attempts, successes, blocked, last_used_at)
		 VALUES ($1, $2, 1, $3, $4, $5)
		 ON CONFLICT(kind, value) DO UPDATE SET
		   attempts     = identity_performance.attempts + 1,
		   successes    = identity_performance.successes + excluded.successes,
		   blocked      = identity_performance.blocked + excluded.blocked,
		   last_used_at = excluded.last_used_at`,
		kind, value, succ, blk, time.Now().UTC(),
	)
	return eris.Wrap(err, "postgres: record identity result")
}

func (s *PostgresStore) IdentityScores(ctx context.Context, kind string) ([]model.IdentityScore, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT kind, value, attempts, successes, blocked, last_used_at
		 FROM identity_performance WHERE kind = $1`,
		kind,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: identity scores")
	}
	defer rows.Close()

	var scores []model.IdentityScore
	for rows.Next() {
		var sc model.IdentityScore
		if err := rows.Scan(&sc.Kind, &sc.Value, &sc.Attempts, &sc.Successes, &sc.Blocked, &sc.LastUsedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan identity score")
		}
		scores = append(scores, sc)
	}
	return scores, eris.Wrap(rows.Err(), "postgres: identity scores iterate")
}

// --- priority chunks ---

func (s *PostgresStore) InsertChunk(ctx context.Context, chunk *model.PriorityChunk) error {
	classesJSON, err := json.Marshal(chunk.RelatedClasses)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal related classes")
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin insert chunk")
	}
	defer tx.Rollback(ctx)

	now := chunk.CreatedAt.UTC()
	if _, err := tx.Exec(ctx,
		`UPDATE priority_chunks SET superseded_at = $1 WHERE field_name = $2 AND superseded_at IS NULL`,
		now, chunk.FieldName,
	); err != nil {
		return eris.Wrap(err, "postgres: supersede chunks")
	}
	if _, err := tx.Exec(ctx,
		`INSERT INTO priority_chunks (id, field_name, selector, related_classes, report_id, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		chunk.ID, chunk.FieldName, chunk.Selector, classesJSON, chunk.ReportID, now,
	); err != nil {
		return eris.Wrap(err, "postgres: insert chunk")
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit insert chunk")
}

func (s *PostgresStore) ChunksForField(ctx context.Context, field string) ([]model.PriorityChunk, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, field_name, selector, related_classes, report_id, created_at, superseded_at
		 FROM priority_chunks
		 WHERE field_name = $1 AND superseded_at IS NULL
		 ORDER BY created_at DESC`,
		field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: chunks for field")
	}
	defer rows.Close()

	var chunks []model.PriorityChunk
	for rows.Next() {
		var c model.PriorityChunk
		var classesJSON []byte
		if err := rows.Scan(&c.ID, &c.FieldName, &c.Selector, &classesJSON, &c.ReportID, &c.CreatedAt, &c.SupersededAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan chunk")
		}
		if len(classesJSON) > 0 {
			if err := json.Unmarshal(classesJSON, &c.RelatedClasses); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal related classes")
			}
		}
		chunks = append(chunks, c)
	}
	return chunks, eris.Wrap(rows.Err(), "postgres: chunks iterate")
}

// --- error reports ---

func (s *PostgresStore) InsertReport(ctx context.Context, r *model.ErrorReport) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO error_reports
		   (id, analysis_id, field_name, issue_type, severity, user_description, crawler_value, report_value, status, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		r.ID, r.AnalysisID, r.FieldName, string(r.IssueType), string(r.Severity),
		r.Description, r.CrawlerValue, r.ReportValue, string(r.Status), r.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert report")
}

func (s *PostgresStore) GetReport(ctx context.Context, id string) (*model.ErrorReport, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, analysis_id, field_name, issue_type, severity, user_description, crawler_value, report_value, status, created_at, resolved_at
		 FROM error_reports WHERE id = $1`,
		id,
	)
	return scanReportRow(row)
}

func (s *PostgresStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.ErrorReport, error) {
	query := `SELECT id, analysis_id, field_name, issue_type, severity, user_description, crawler_value, report_value, status, created_at, resolved_at
	          FROM error_reports WHERE true`
	var args []any
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.FieldName != "" {
		query += fmt.Sprintf(` AND field_name = $%d`, argIdx)
		args = append(args, filter.FieldName)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list reports")
	}
	defer rows.Close()

	var reports []model.ErrorReport
	for rows.Next() {
		r, err := scanReportRow(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "postgres: list reports iterate")
}

func (s *PostgresStore) ResolveReport(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE error_reports SET status = $1, resolved_at = $2 WHERE id = $3`,
		string(model.ReportResolved), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: resolve report %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "report %s", id)
	}
	return nil
}

func (s *PostgresStore) PendingReportCounts(ctx context.Context) ([]model.FieldPriority, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT field_name, COUNT(*) AS pending
		 FROM error_reports WHERE status = $1
		 GROUP BY field_name
		 ORDER BY pending DESC, field_name ASC
		 LIMIT 10`,
		string(model.ReportPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: pending report counts")
	}
	defer rows.Close()

	var priorities []model.FieldPriority
	for rows.Next() {
		var p model.FieldPriority
		if err := rows.Scan(&p.FieldName, &p.Pending); err != nil {
			return nil, eris.Wrap(err, "postgres: scan priority")
		}
		priorities = append(priorities, p)
	}
	return priorities, eris.Wrap(rows.Err(), "postgres: priorities iterate")
}

func scanReportRow(row scannable) (*model.ErrorReport, error) {
	var r model.ErrorReport
	err := row.Scan(&r.ID, &r.AnalysisID, &r.FieldName, &r.IssueType, &r.Severity,
		&r.Description, &r.CrawlerValue, &r.ReportValue, &r.Status, &r.CreatedAt, &r.ResolvedAt)
	if err == pgx.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "report")
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: scan report")
	}
	return &r, nil
}

// --- documents ---

func (s *PostgresStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (id, crawl_id, analysis_id, url, body, fetched_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		doc.ID, doc.CrawlID, doc.AnalysisID, doc.URL, doc.Body, doc.FetchedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save document")
}

func (s *PostgresStore) LatestDocumentForAnalysis(ctx context.Context, analysisID string) (*model.Document, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, crawl_id, analysis_id, url, body, fetched_at
		 FROM documents WHERE analysis_id = $1
		 ORDER BY fetched_at DESC LIMIT 1`,
		analysisID,
	)
	var d model.Document
	err := row.Scan(&d.ID, &d.CrawlID, &d.AnalysisID, &d.URL, &d.Body, &d.FetchedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: latest document")
	}
	return &d, nil
}

// --- telemetry ---

func (s *PostgresStore) InsertStageEvent(ctx context.Context, ev *model.StageEvent) error {
	var metaJSON []byte
	if len(ev.Metadata) > 0 {
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal event metadata")
		}
		metaJSON = data
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO pipeline_events (crawl_id, stage, status, duration_ms, metadata, created_at)
		 VALUES ($1, $2, $3, $4, $5, $6)`,
		ev.CrawlID, ev.Stage, string(ev.Status), ev.DurationMS, metaJSON, ev.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: insert stage event")
}

func (s *PostgresStore) UpsertAggregate(ctx context.Context, periodType model.PeriodType, periodStart time.Time, stage string, success bool, durationMS float64) error {
	succ, fail := 0, 0
	if success {
		succ = 1
	} else {
		fail = 1
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO aggregated_rates (period_type, period_start, stage, success_count, failure_count, avg_duration_ms)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT(period_type, period_start, stage) DO UPDATE SET
		   success_count   = aggregated_rates.success_count + excluded.success_count,
		   failure_count   = aggregated_rates.failure_count + excluded.failure_count,
		   avg_duration_ms = ((aggregated_rates.avg_duration_ms * (aggregated_rates.success_count + aggregated_rates.failure_count)) + $6)
		                     / (aggregated_rates.success_count + aggregated_rates.failure_count + 1)`,
		string(periodType), periodStart.UTC(), stage, succ, fail, durationMS,
	)
	return eris.Wrap(err, "postgres: upsert aggregate")
}

func (s *PostgresStore) AggregatesByPeriod(ctx context.Context, periodType model.PeriodType, since time.Time) ([]model.AggregatedRate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT period_type, period_start, stage, success_count, failure_count, avg_duration_ms
		 FROM aggregated_rates
		 WHERE period_type = $1 AND period_start >= $2
		 ORDER BY period_start ASC, stage ASC`,
		string(periodType), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aggregates by period")
	}
	return scanAggregateRows(rows)
}

func (s *PostgresStore) AggregatesForStage(ctx context.Context, stage string, periodType model.PeriodType, since time.Time) ([]model.AggregatedRate, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT period_type, period_start, stage, success_count, failure_count, avg_duration_ms
		 FROM aggregated_rates
		 WHERE stage = $1 AND period_type = $2 AND period_start >= $3
		 ORDER BY period_start ASC`,
		stage, string(periodType), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: aggregates for stage")
	}
	return scanAggregateRows(rows)
}

func scanAggregateRows(rows pgx.Rows) ([]model.AggregatedRate, error) {
	defer rows.Close()
	var aggs []model.AggregatedRate
	for rows.Next() {
		var a model.AggregatedRate
		if err := rows.Scan(&a.PeriodType, &a.PeriodStart, &a.Stage, &a.SuccessCount, &a.FailureCount, &a.AvgDurationMS); err != nil {
			return nil, eris.Wrap(err, "postgres: scan aggregate")
		}
		aggs = append(aggs, a)
	}
	return aggs, eris.Wrap(rows.Err(), "postgres: aggregates iterate")
}

func (s *PostgresStore) StageEventsSince(ctx context.Context, since time.Time) ([]model.StageEvent, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, crawl_id, stage, status, duration_ms, metadata, created_at
		 FROM pipeline_events WHERE created_at >= $1
		 ORDER BY id ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: stage events since")
	}
	defer rows.Close()

	var events []model.StageEvent
	for rows.Next() {
		var ev model.StageEvent
		var metaJSON []byte
		if err := rows.Scan(&ev.ID, &ev.CrawlID, &ev.Stage, &ev.Status, &ev.DurationMS, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan stage event")
		}
		if len(metaJSON) > 0 {
			if err := json.Unmarshal(metaJSON, &ev.Metadata); err != nil {
				return nil, eris.Wrap(err, "postgres: unmarshal event metadata")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "postgres: stage events iterate")
}

func (s *PostgresStore) ReplaceAggregates(ctx context.Context, aggs []model.AggregatedRate) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin replace aggregates")
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM aggregated_rates`); err != nil {
		return eris.Wrap(err, "postgres: clear aggregates")
	}
	for _, a := range aggs {
		if _, err := tx.Exec(ctx,
			`INSERT INTO aggregated_rates (period_type, period_start, stage, success_count, failure_count, avg_duration_ms)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			string(a.PeriodType), a.PeriodStart.UTC(), a.Stage, a.SuccessCount, a.FailureCount, a.AvgDurationMS,
		); err != nil {
			return eris.Wrap(err, "postgres: insert aggregate")
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit replace aggregates")
}

// --- crawl output ---

func (s *PostgresStore) SaveRecord(ctx context.Context, rec *model.CanonicalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal record")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO canonical_records (crawl_id, url, payload, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT(crawl_id) DO UPDATE SET payload = excluded.payload`,
		rec.CrawlID, rec.URL, payload, rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save record")
}

func (s *PostgresStore) SaveArtifact(ctx context.Context, art *model.AnalysisArtifact) error {
	payload, err := json.Marshal(art)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal artifact")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO analysis_artifacts (analysis_id, url, payload, created_at) VALUES ($1, $2, $3, $4)
		 ON CONFLICT(analysis_id) DO UPDATE SET payload = excluded.payload`,
		art.AnalysisID, art.URL, payload, art.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save artifact")
}

func (s *PostgresStore) SaveValidation(ctx context.Context, v *model.ValidationResult) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal validation")
	}
	_, err = s.pool.Exec(ctx,
		`INSERT INTO validation_results (id, analysis_id, score, payload, created_at) VALUES ($1, $2, $3, $4, $5)`,
		v.ID, v.AnalysisID, v.Score, payload, v.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "postgres: save validation")
}

func (s *PostgresStore) GetValidation(ctx context.Context, analysisID string) (*model.ValidationResult, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT payload FROM validation_results WHERE analysis_id = $1
		 ORDER BY created_at DESC LIMIT 1`,
		analysisID,
	)
	var payload []byte
	err := row.Scan(&payload)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "postgres: get validation")
	}
	var v model.ValidationResult
	if err := json.Unmarshal(payload, &v); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal validation")
	}
	return &v, nil
}

func (s *PostgresStore) RecordsSince(ctx context.Context, since time.Time) ([]model.CanonicalRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM canonical_records WHERE created_at > $1 ORDER BY created_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: records since")
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal(payload, &rec); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "postgres: records iterate")
}

func (s *PostgresStore) ValidationsSince(ctx context.Context, since time.Time) ([]model.ValidationResult, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT payload FROM validation_results WHERE created_at > $1 ORDER BY created_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: validations since")
	}
	defer rows.Close()

	var validations []model.ValidationResult
	for rows.Next() {
		var payload []byte
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "postgres: scan validation")
		}
		var v model.ValidationResult
		if err := json.Unmarshal(payload, &v); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal validation")
		}
		validations = append(validations, v)
	}
	return validations, eris.Wrap(rows.Err(), "postgres: validations iterate")
}

// --- sync watermarks ---

func (s *PostgresStore) SyncWatermark(ctx context.Context, name string) (time.Time, error) {
	row := s.pool.QueryRow(ctx, `SELECT synced_at FROM sync_state WHERE name = $1`, name)
	var at time.Time
	err := row.Scan(&at)
	if err == pgx.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "postgres: sync watermark")
	}
	return at, nil
}

func (s *PostgresStore) SetSyncWatermark(ctx context.Context, name string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO sync_state (name, synced_at) VALUES ($1, $2)
		 ON CONFLICT(name) DO UPDATE SET synced_at = excluded.synced_at`,
		name, at.UTC(),
	)
	return eris.Wrap(err, "postgres: set sync watermark")
}
