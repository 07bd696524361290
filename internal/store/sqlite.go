package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/shoplens/pipeline-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS strategy_performance (
	id              INTEGER PRIMARY KEY AUTOINCREMENT,
	field_name      TEXT NOT NULL,
	kind            TEXT NOT NULL,
	payload         TEXT NOT NULL,
	payload_hash    TEXT NOT NULL,
	channel         TEXT NOT NULL DEFAULT '',
	attempts        INTEGER NOT NULL DEFAULT 0,
	successes       INTEGER NOT NULL DEFAULT 0,
	last_success_at DATETIME,
	last_used_at    DATETIME,
	UNIQUE(field_name, kind, payload_hash, channel)
);

CREATE TABLE IF NOT EXISTS identity_performance (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	kind         TEXT NOT NULL,
	value        TEXT NOT NULL,
	attempts     INTEGER NOT NULL DEFAULT 0,
	successes    INTEGER NOT NULL DEFAULT 0,
	blocked      INTEGER NOT NULL DEFAULT 0,
	last_used_at DATETIME,
	UNIQUE(kind, value)
);

CREATE TABLE IF NOT EXISTS priority_chunks (
	id              TEXT PRIMARY KEY,
	field_name      TEXT NOT NULL,
	selector        TEXT NOT NULL,
	related_classes TEXT,
	report_id       TEXT NOT NULL,
	created_at      DATETIME NOT NULL,
	superseded_at   DATETIME
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
	created_at       DATETIME NOT NULL,
	resolved_at      DATETIME
);

CREATE TABLE IF NOT EXISTS documents (
	id          TEXT PRIMARY KEY,
	crawl_id    TEXT NOT NULL,
	analysis_id TEXT NOT NULL,
	url         TEXT NOT NULL,
	body        BLOB NOT NULL,
	fetched_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS pipeline_events (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	crawl_id    TEXT NOT NULL,
	stage       TEXT NOT NULL,
	status      TEXT NOT NULL,
	duration_ms REAL NOT NULL,
	metadata    TEXT,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS aggregated_rates (
	period_type     TEXT NOT NULL,
	period_start    DATETIME NOT NULL,
	stage           TEXT NOT NULL,
	success_count   INTEGER NOT NULL DEFAULT 0,
	failure_count   INTEGER NOT NULL DEFAULT 0,
	avg_duration_ms REAL NOT NULL DEFAULT 0,
	PRIMARY KEY(period_type, period_start, stage)
);

CREATE TABLE IF NOT EXISTS canonical_records (
	crawl_id   TEXT PRIMARY KEY,
	url        TEXT NOT NULL,
	payload    TEXT NOT NULL,
	created_at DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS analysis_artifacts (
	analysis_id TEXT PRIMARY KEY,
	url         TEXT NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS validation_results (
	id          TEXT PRIMARY KEY,
	analysis_id TEXT NOT NULL,
	score       REAL NOT NULL,
	payload     TEXT NOT NULL,
	created_at  DATETIME NOT NULL
);

CREATE TABLE IF NOT EXISTS sync_state (
	name      TEXT PRIMARY KEY,
	synced_at DATETIME NOT NULL
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

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- strategy performance ---

func (s *SQLiteStore) RecordStrategyAttempt(ctx context.Context, att model.Attempt, channel string) error {
	success := 0
	var lastSuccess any
	if att.Success() {
		success = 1
		lastSuccess = att.At.UTC()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO strategy_performance
		   (field_name, kind, payload, payload_hash, channel, attempts, successes, last_success_at, last_used_at)
		 VALUES (?, ?, ?, ?, ?, 1, ?, ?, ?)
		 ON CONFLICT(field_name, kind, payload_hash, channel) DO UPDATE SET
		   attempts        = attempts + 1,
		   successes       = successes + excluded.successes,
		   last_success_at = COALESCE(excluded.last_success_at, last_success_at),
		   last_used_at    = excluded.last_used_at`,
		att.Strategy.Field, string(att.Strategy.Kind), att.Strategy.Payload, att.Strategy.PayloadHash(),
		channel, success, lastSuccess, att.At.UTC(),
	)
	return eris.Wrap(err, "sqlite: record strategy attempt")
}

func (s *SQLiteStore) StrategyScores(ctx context.Context, field string) ([]model.StrategyScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_name, kind, payload, payload_hash, channel, attempts, successes, last_success_at, last_used_at
		 FROM strategy_performance WHERE field_name = ?`,
		field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: strategy scores")
	}
	defer rows.Close()

	var scores []model.StrategyScore
	for rows.Next() {
		var sc model.StrategyScore
		var lastSuccess, lastUsed sql.NullTime
		if err := rows.Scan(&sc.Field, &sc.Kind, &sc.Payload, &sc.PayloadHash, &sc.Channel,
			&sc.Attempts, &sc.Successes, &lastSuccess, &lastUsed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan strategy score")
		}
		if lastSuccess.Valid {
			t := lastSuccess.Time
			sc.LastSuccessAt = &t
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			sc.LastUsedAt = &t
		}
		scores = append(scores, sc)
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: strategy scores iterate")
}

// --- identity performance ---

func (s *SQLiteStore) RecordIdentityResult(ctx context.Context, kind, value string, success, blocked bool) error {
	succ, blk := 0, 0
	if success {
		succ = 1
	}
	if blocked {
		blk = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO identity_performance (kind, value, attempts, successes, blocked, last_used_at)
		 VALUES (?, ?, 1, ?, ?, ?)
		 ON CONFLICT(kind, value) DO UPDATE SET
		   attempts     = attempts + 1,
		   successes    = successes + excluded.successes,
		   blocked      = blocked + excluded.blocked,
		   last_used_at = excluded.last_used_at`,
		kind, value, succ, blk, time.Now().UTC(),
	)
	return eris.Wrap(err, "sqlite: record identity result")
}

func (s *SQLiteStore) IdentityScores(ctx context.Context, kind string) ([]model.IdentityScore, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT kind, value, attempts, successes, blocked, last_used_at
		 FROM identity_performance WHERE kind = ?`,
		kind,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: identity scores")
	}
	defer rows.Close()

	var scores []model.IdentityScore
	for rows.Next() {
		var sc model.IdentityScore
		var lastUsed sql.NullTime
		if err := rows.Scan(&sc.Kind, &sc.Value, &sc.Attempts, &sc.Successes, &sc.Blocked, &lastUsed); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan identity score")
		}
		if lastUsed.Valid {
			t := lastUsed.Time
			sc.LastUsedAt = &t
		}
		scores = append(scores, sc)
	}
	return scores, eris.Wrap(rows.Err(), "sqlite: identity scores iterate")
}

// --- priority chunks ---

func (s *SQLiteStore) InsertChunk(ctx context.Context, chunk *model.PriorityChunk) error {
	classesJSON, err := json.Marshal(chunk.RelatedClasses)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal related classes")
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin insert chunk")
	}
	defer tx.Rollback()

	now := chunk.CreatedAt.UTC()
	if _, err := tx.ExecContext(ctx,
		`UPDATE priority_chunks SET superseded_at = ? WHERE field_name = ? AND superseded_at IS NULL`,
		now, chunk.FieldName,
	); err != nil {
		return eris.Wrap(err, "sqlite: supersede chunks")
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO priority_chunks (id, field_name, selector, related_classes, report_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		chunk.ID, chunk.FieldName, chunk.Selector, string(classesJSON), chunk.ReportID, now,
	); err != nil {
		return eris.Wrap(err, "sqlite: insert chunk")
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit insert chunk")
}

func (s *SQLiteStore) ChunksForField(ctx context.Context, field string) ([]model.PriorityChunk, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, field_name, selector, related_classes, report_id, created_at, superseded_at
		 FROM priority_chunks
		 WHERE field_name = ? AND superseded_at IS NULL
		 ORDER BY created_at DESC`,
		field,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: chunks for field")
	}
	defer rows.Close()

	var chunks []model.PriorityChunk
	for rows.Next() {
		c, err := scanChunk(rows)
		if err != nil {
			return nil, err
		}
		chunks = append(chunks, *c)
	}
	return chunks, eris.Wrap(rows.Err(), "sqlite: chunks iterate")
}

func scanChunk(row scannable) (*model.PriorityChunk, error) {
	var c model.PriorityChunk
	var classesJSON sql.NullString
	var superseded sql.NullTime
	if err := row.Scan(&c.ID, &c.FieldName, &c.Selector, &classesJSON, &c.ReportID, &c.CreatedAt, &superseded); err != nil {
		return nil, eris.Wrap(err, "sqlite: scan chunk")
	}
	if classesJSON.Valid && classesJSON.String != "" {
		if err := json.Unmarshal([]byte(classesJSON.String), &c.RelatedClasses); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal related classes")
		}
	}
	if superseded.Valid {
		t := superseded.Time
		c.SupersededAt = &t
	}
	return &c, nil
}

// --- error reports ---

func (s *SQLiteStore) InsertReport(ctx context.Context, r *model.ErrorReport) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO error_reports
		   (id, analysis_id, field_name, issue_type, severity, user_description, crawler_value, report_value, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.AnalysisID, r.FieldName, string(r.IssueType), string(r.Severity),
		r.Description, r.CrawlerValue, r.ReportValue, string(r.Status), r.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert report")
}

func (s *SQLiteStore) GetReport(ctx context.Context, id string) (*model.ErrorReport, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, analysis_id, field_name, issue_type, severity, user_description, crawler_value, report_value, status, created_at, resolved_at
		 FROM error_reports WHERE id = ?`,
		id,
	)
	return scanReport(row)
}

func (s *SQLiteStore) ListReports(ctx context.Context, filter ReportFilter) ([]model.ErrorReport, error) {
	query := `SELECT id, analysis_id, field_name, issue_type, severity, user_description, crawler_value, report_value, status, created_at, resolved_at
	          FROM error_reports WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.FieldName != "" {
		query += ` AND field_name = ?`
		args = append(args, filter.FieldName)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list reports")
	}
	defer rows.Close()

	var reports []model.ErrorReport
	for rows.Next() {
		r, err := scanReport(rows)
		if err != nil {
			return nil, err
		}
		reports = append(reports, *r)
	}
	return reports, eris.Wrap(rows.Err(), "sqlite: list reports iterate")
}

func (s *SQLiteStore) ResolveReport(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE error_reports SET status = ?, resolved_at = ? WHERE id = ?`,
		string(model.ReportResolved), time.Now().UTC(), id,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: resolve report %s", id)
	}
	return checkRowsAffected(res, "report", id)
}

func (s *SQLiteStore) PendingReportCounts(ctx context.Context) ([]model.FieldPriority, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT field_name, COUNT(*) AS pending
		 FROM error_reports WHERE status = ?
		 GROUP BY field_name
		 ORDER BY pending DESC, field_name ASC
		 LIMIT 10`,
		string(model.ReportPending),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: pending report counts")
	}
	defer rows.Close()

	var priorities []model.FieldPriority
	for rows.Next() {
		var p model.FieldPriority
		if err := rows.Scan(&p.FieldName, &p.Pending); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan priority")
		}
		priorities = append(priorities, p)
	}
	return priorities, eris.Wrap(rows.Err(), "sqlite: priorities iterate")
}

func scanReport(row scannable) (*model.ErrorReport, error) {
	var r model.ErrorReport
	var resolved sql.NullTime
	err := row.Scan(&r.ID, &r.AnalysisID, &r.FieldName, &r.IssueType, &r.Severity,
		&r.Description, &r.CrawlerValue, &r.ReportValue, &r.Status, &r.CreatedAt, &resolved)
	if err == sql.ErrNoRows {
		return nil, eris.Wrap(ErrNotFound, "report")
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan report")
	}
	if resolved.Valid {
		t := resolved.Time
		r.ResolvedAt = &t
	}
	return &r, nil
}

// --- documents ---

func (s *SQLiteStore) SaveDocument(ctx context.Context, doc *model.Document) error {
	if doc.ID == "" {
		doc.ID = uuid.New().String()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, crawl_id, analysis_id, url, body, fetched_at) VALUES (?, ?, ?, ?, ?, ?)`,
		doc.ID, doc.CrawlID, doc.AnalysisID, doc.URL, doc.Body, doc.FetchedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save document")
}

func (s *SQLiteStore) LatestDocumentForAnalysis(ctx context.Context, analysisID string) (*model.Document, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, crawl_id, analysis_id, url, body, fetched_at
		 FROM documents WHERE analysis_id = ?
		 ORDER BY fetched_at DESC LIMIT 1`,
		analysisID,
	)
	var d model.Document
	err := row.Scan(&d.ID, &d.CrawlID, &d.AnalysisID, &d.URL, &d.Body, &d.FetchedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: latest document")
	}
	return &d, nil
}

// --- telemetry ---

func (s *SQLiteStore) InsertStageEvent(ctx context.Context, ev *model.StageEvent) error {
	var metaJSON any
	if len(ev.Metadata) > 0 {
		data, err := json.Marshal(ev.Metadata)
		if err != nil {
			return eris.Wrap(err, "sqlite: marshal event metadata")
		}
		metaJSON = string(data)
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_events (crawl_id, stage, status, duration_ms, metadata, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		ev.CrawlID, ev.Stage, string(ev.Status), ev.DurationMS, metaJSON, ev.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: insert stage event")
}

func (s *SQLiteStore) UpsertAggregate(ctx context.Context, periodType model.PeriodType, periodStart time.Time, stage string, success bool, durationMS float64) error {
	succ, fail := 0, 0
	if success {
		succ = 1
	} else {
		fail = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO aggregated_rates (period_type, period_start, stage, success_count, failure_count, avg_duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(period_type, period_start, stage) DO UPDATE SET
		   success_count   = success_count + excluded.success_count,
		   failure_count   = failure_count + excluded.failure_count,
		   avg_duration_ms = ((avg_duration_ms * (success_count + failure_count)) + ?)
		                     / (success_count + failure_count + 1)`,
		string(periodType), periodStart.UTC(), stage, succ, fail, durationMS, durationMS,
	)
	return eris.Wrap(err, "sqlite: upsert aggregate")
}

func (s *SQLiteStore) AggregatesByPeriod(ctx context.Context, periodType model.PeriodType, since time.Time) ([]model.AggregatedRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_type, period_start, stage, success_count, failure_count, avg_duration_ms
		 FROM aggregated_rates
		 WHERE period_type = ? AND period_start >= ?
		 ORDER BY period_start ASC, stage ASC`,
		string(periodType), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregates by period")
	}
	return scanAggregates(rows)
}

func (s *SQLiteStore) AggregatesForStage(ctx context.Context, stage string, periodType model.PeriodType, since time.Time) ([]model.AggregatedRate, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT period_type, period_start, stage, success_count, failure_count, avg_duration_ms
		 FROM aggregated_rates
		 WHERE stage = ? AND period_type = ? AND period_start >= ?
		 ORDER BY period_start ASC`,
		stage, string(periodType), since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: aggregates for stage")
	}
	return scanAggregates(rows)
}

func scanAggregates(rows *sql.Rows) ([]model.AggregatedRate, error) {
	defer rows.Close()
	var aggs []model.AggregatedRate
	for rows.Next() {
		var a model.AggregatedRate
		if err := rows.Scan(&a.PeriodType, &a.PeriodStart, &a.Stage, &a.SuccessCount, &a.FailureCount, &a.AvgDurationMS); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan aggregate")
		}
		aggs = append(aggs, a)
	}
	return aggs, eris.Wrap(rows.Err(), "sqlite: aggregates iterate")
}

func (s *SQLiteStore) StageEventsSince(ctx context.Context, since time.Time) ([]model.StageEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, crawl_id, stage, status, duration_ms, metadata, created_at
		 FROM pipeline_events WHERE created_at >= ?
		 ORDER BY id ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: stage events since")
	}
	defer rows.Close()

	var events []model.StageEvent
	for rows.Next() {
		var ev model.StageEvent
		var metaJSON sql.NullString
		if err := rows.Scan(&ev.ID, &ev.CrawlID, &ev.Stage, &ev.Status, &ev.DurationMS, &metaJSON, &ev.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan stage event")
		}
		if metaJSON.Valid && metaJSON.String != "" {
			if err := json.Unmarshal([]byte(metaJSON.String), &ev.Metadata); err != nil {
				return nil, eris.Wrap(err, "sqlite: unmarshal event metadata")
			}
		}
		events = append(events, ev)
	}
	return events, eris.Wrap(rows.Err(), "sqlite: stage events iterate")
}

func (s *SQLiteStore) ReplaceAggregates(ctx context.Context, aggs []model.AggregatedRate) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin replace aggregates")
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM aggregated_rates`); err != nil {
		return eris.Wrap(err, "sqlite: clear aggregates")
	}
	for _, a := range aggs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO aggregated_rates (period_type, period_start, stage, success_count, failure_count, avg_duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?)`,
			string(a.PeriodType), a.PeriodStart.UTC(), a.Stage, a.SuccessCount, a.FailureCount, a.AvgDurationMS,
		); err != nil {
			return eris.Wrap(err, "sqlite: insert aggregate")
		}
	}
	return eris.Wrap(tx.Commit(), "sqlite: commit replace aggregates")
}

// --- crawl output ---

func (s *SQLiteStore) SaveRecord(ctx context.Context, rec *model.CanonicalRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal record")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO canonical_records (crawl_id, url, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(crawl_id) DO UPDATE SET payload = excluded.payload`,
		rec.CrawlID, rec.URL, string(payload), rec.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save record")
}

func (s *SQLiteStore) SaveArtifact(ctx context.Context, art *model.AnalysisArtifact) error {
	payload, err := json.Marshal(art)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal artifact")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analysis_artifacts (analysis_id, url, payload, created_at) VALUES (?, ?, ?, ?)
		 ON CONFLICT(analysis_id) DO UPDATE SET payload = excluded.payload`,
		art.AnalysisID, art.URL, string(payload), art.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save artifact")
}

func (s *SQLiteStore) SaveValidation(ctx context.Context, v *model.ValidationResult) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal validation")
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO validation_results (id, analysis_id, score, payload, created_at) VALUES (?, ?, ?, ?, ?)`,
		v.ID, v.AnalysisID, v.Score, string(payload), v.CreatedAt.UTC(),
	)
	return eris.Wrap(err, "sqlite: save validation")
}

func (s *SQLiteStore) GetValidation(ctx context.Context, analysisID string) (*model.ValidationResult, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT payload FROM validation_results WHERE analysis_id = ?
		 ORDER BY created_at DESC LIMIT 1`,
		analysisID,
	)
	var payload string
	err := row.Scan(&payload)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: get validation")
	}
	var v model.ValidationResult
	if err := json.Unmarshal([]byte(payload), &v); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal validation")
	}
	return &v, nil
}

func (s *SQLiteStore) RecordsSince(ctx context.Context, since time.Time) ([]model.CanonicalRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM canonical_records WHERE created_at > ? ORDER BY created_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: records since")
	}
	defer rows.Close()

	var records []model.CanonicalRecord
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan record")
		}
		var rec model.CanonicalRecord
		if err := json.Unmarshal([]byte(payload), &rec); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal record")
		}
		records = append(records, rec)
	}
	return records, eris.Wrap(rows.Err(), "sqlite: records iterate")
}

func (s *SQLiteStore) ValidationsSince(ctx context.Context, since time.Time) ([]model.ValidationResult, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT payload FROM validation_results WHERE created_at > ? ORDER BY created_at ASC`,
		since.UTC(),
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: validations since")
	}
	defer rows.Close()

	var validations []model.ValidationResult
	for rows.Next() {
		var payload string
		if err := rows.Scan(&payload); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan validation")
		}
		var v model.ValidationResult
		if err := json.Unmarshal([]byte(payload), &v); err != nil {
			return nil, eris.Wrap(err, "sqlite: unmarshal validation")
		}
		validations = append(validations, v)
	}
	return validations, eris.Wrap(rows.Err(), "sqlite: validations iterate")
}

// --- sync watermarks ---

func (s *SQLiteStore) SyncWatermark(ctx context.Context, name string) (time.Time, error) {
	row := s.db.QueryRowContext(ctx, `SELECT synced_at FROM sync_state WHERE name = ?`, name)
	var at time.Time
	err := row.Scan(&at)
	if err == sql.ErrNoRows {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, eris.Wrap(err, "sqlite: sync watermark")
	}
	return at, nil
}

func (s *SQLiteStore) SetSyncWatermark(ctx context.Context, name string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sync_state (name, synced_at) VALUES (?, ?)
		 ON CONFLICT(name) DO UPDATE SET synced_at = excluded.synced_at`,
		name, at.UTC(),
	)
	return eris.Wrap(err, "sqlite: set sync watermark")
}

// helpers

func checkRowsAffected(res sql.Result, entity, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "%s %s", entity, id)
	}
	return nil
}

type scannable interface {
	Scan(dest ...any) error
}
