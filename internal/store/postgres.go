package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/gridseal/compliance-cli/internal/db"
	"github.com/gridseal/compliance-cli/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"get_analysis":      `SELECT id, company_id, test_type, status, documents, extraction, non_conformities, verdict, score, confidence, input_tokens, output_tokens, cost_usd, error, created_at, updated_at, completed_at FROM analyses WHERE id = $1`,
	"transition_status": `UPDATE analyses SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
	"insert_embedding":  `INSERT INTO knowledge_embeddings (id, company_id, analysis_id, content_type, test_type, verdict, content, embedding, metadata, was_correct, use_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
	"touch_use_count":   `UPDATE knowledge_embeddings SET use_count = use_count + 1 WHERE id = ANY($1)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sqlText := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sqlText); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// Pool returns the underlying database pool for subsystems that need direct
// query access (e.g., bulk knowledge seeding).
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id               TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id       TEXT NOT NULL,
	test_type        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	documents        JSONB NOT NULL,
	extraction       JSONB,
	non_conformities JSONB,
	verdict          TEXT,
	score            DOUBLE PRECISION NOT NULL DEFAULT 0,
	confidence       DOUBLE PRECISION NOT NULL DEFAULT 0,
	input_tokens     BIGINT NOT NULL DEFAULT 0,
	output_tokens    BIGINT NOT NULL DEFAULT 0,
	cost_usd         DOUBLE PRECISION NOT NULL DEFAULT 0,
	error            TEXT,
	created_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT now(),
	completed_at     TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_analyses_company_id ON analyses(company_id);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);
CREATE INDEX IF NOT EXISTS idx_analyses_company_status ON analyses(company_id, status);

CREATE TABLE IF NOT EXISTS feedback (
	id              TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	analysis_id     TEXT NOT NULL REFERENCES analyses(id),
	company_id      TEXT NOT NULL,
	field           TEXT NOT NULL,
	original_value  TEXT NOT NULL,
	corrected_value TEXT NOT NULL,
	explanation     TEXT,
	incorporated    BOOLEAN NOT NULL DEFAULT false,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_feedback_analysis_id ON feedback(analysis_id);

CREATE TABLE IF NOT EXISTS knowledge_embeddings (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	company_id   TEXT,
	analysis_id  TEXT,
	content_type TEXT NOT NULL,
	test_type    TEXT,
	verdict      TEXT,
	content      TEXT NOT NULL,
	embedding    FLOAT8[] NOT NULL,
	metadata     JSONB,
	was_correct  BOOLEAN NOT NULL DEFAULT true,
	use_count    INTEGER NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_knowledge_content_type ON knowledge_embeddings(content_type);
CREATE INDEX IF NOT EXISTS idx_knowledge_company_id ON knowledge_embeddings(company_id);
CREATE INDEX IF NOT EXISTS idx_knowledge_test_type ON knowledge_embeddings(test_type);
CREATE INDEX IF NOT EXISTS idx_knowledge_analysis_id ON knowledge_embeddings(analysis_id);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = model.StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	docsJSON, err := json.Marshal(a.Documents)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal documents")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO analyses (id, company_id, test_type, status, documents, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		a.ID, a.CompanyID, string(a.TestType), string(a.Status), docsJSON, now, now,
	)
	return eris.Wrap(err, "postgres: insert analysis")
}

func (s *PostgresStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT id, company_id, test_type, status, documents, extraction, non_conformities, verdict, score, confidence, input_tokens, output_tokens, cost_usd, error, created_at, updated_at, completed_at FROM analyses WHERE id = $1`,
		id,
	)
	a, err := scanAnalysis(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrNotFound, "postgres: analysis %s", id)
		}
		return nil, eris.Wrapf(err, "postgres: get analysis %s", id)
	}
	return a, nil
}

func (s *PostgresStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT id, company_id, test_type, status, documents, extraction, non_conformities, verdict, score, confidence, input_tokens, output_tokens, cost_usd, error, created_at, updated_at, completed_at FROM analyses WHERE true`
	args := []any{}
	argIdx := 1

	if filter.CompanyID != "" {
		query += fmt.Sprintf(` AND company_id = $%d`, argIdx)
		args = append(args, filter.CompanyID)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.TestType != "" {
		query += fmt.Sprintf(` AND test_type = $%d`, argIdx)
		args = append(args, string(filter.TestType))
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list analyses")
	}
	defer rows.Close()

	var analyses []model.Analysis
	for rows.Next() {
		a, err := scanAnalysis(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan analysis")
		}
		analyses = append(analyses, *a)
	}
	return analyses, eris.Wrap(rows.Err(), "postgres: list analyses iterate")
}

func (s *PostgresStore) TransitionStatus(ctx context.Context, id string, expected []model.AnalysisStatus, to model.AnalysisStatus) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, updated_at = $2 WHERE id = $3 AND status = ANY($4)`,
		string(to), time.Now().UTC(), id, statusStrings(expected),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: transition analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id, expected, to)
	}
	return nil
}

// transitionFailure distinguishes a missing record from a guard mismatch.
func (s *PostgresStore) transitionFailure(ctx context.Context, id string, expected []model.AnalysisStatus, to model.AnalysisStatus) error {
	var current string
	err := s.pool.QueryRow(ctx, `SELECT status FROM analyses WHERE id = $1`, id).Scan(&current)
	if errors.Is(err, pgx.ErrNoRows) {
		return eris.Wrapf(ErrNotFound, "postgres: analysis %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "postgres: check analysis %s", id)
	}
	return eris.Wrapf(ErrConflict, "postgres: analysis %s is %s, wanted one of %v before %s", id, current, expected, to)
}

func (s *PostgresStore) CompleteAnalysis(ctx context.Context, a *model.Analysis) error {
	extractionJSON, err := json.Marshal(a.Extraction)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal extraction")
	}
	ncJSON, err := json.Marshal(a.NonConformities)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal non-conformities")
	}
	now := time.Now().UTC()

	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, extraction = $2, non_conformities = $3, verdict = $4, score = $5, confidence = $6, input_tokens = $7, output_tokens = $8, cost_usd = $9, updated_at = $10, completed_at = $10 WHERE id = $11 AND status = $12`,
		string(model.StatusCompleted), extractionJSON, ncJSON, string(a.Verdict),
		a.Score, a.Confidence, a.Usage.InputTokens, a.Usage.OutputTokens, a.CostUSD,
		now, a.ID, string(model.StatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: complete analysis %s", a.ID)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, a.ID, []model.AnalysisStatus{model.StatusProcessing}, model.StatusCompleted)
	}
	return nil
}

func (s *PostgresStore) FailAnalysis(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC()
	tag, err := s.pool.Exec(ctx,
		`UPDATE analyses SET status = $1, error = $2, updated_at = $3, completed_at = $3 WHERE id = $4 AND status = ANY($5)`,
		string(model.StatusFailed), errMsg, now, id,
		statusStrings([]model.AnalysisStatus{model.StatusPending, model.StatusProcessing}),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: fail analysis %s", id)
	}
	if tag.RowsAffected() == 0 {
		return s.transitionFailure(ctx, id,
			[]model.AnalysisStatus{model.StatusPending, model.StatusProcessing}, model.StatusFailed)
	}
	return nil
}

func (s *PostgresStore) CreateFeedback(ctx context.Context, fb *model.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	fb.CreatedAt = time.Now().UTC()

	_, err := s.pool.Exec(ctx,
		`INSERT INTO feedback (id, analysis_id, company_id, field, original_value, corrected_value, explanation, incorporated, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		fb.ID, fb.AnalysisID, fb.CompanyID, fb.Field, fb.OriginalValue, fb.CorrectedValue, fb.Explanation, fb.Incorporated, fb.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert feedback")
}

func (s *PostgresStore) ListFeedback(ctx context.Context, analysisID string) ([]model.Feedback, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, analysis_id, company_id, field, original_value, corrected_value, explanation, incorporated, created_at FROM feedback WHERE analysis_id = $1 ORDER BY created_at ASC`,
		analysisID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var fb model.Feedback
		var explanation sql.NullString
		if err := rows.Scan(&fb.ID, &fb.AnalysisID, &fb.CompanyID, &fb.Field,
			&fb.OriginalValue, &fb.CorrectedValue, &explanation, &fb.Incorporated, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan feedback")
		}
		fb.Explanation = explanation.String
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "postgres: list feedback iterate")
}

func (s *PostgresStore) MarkFeedbackIncorporated(ctx context.Context, feedbackID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE feedback SET incorporated = true WHERE id = $1`,
		feedbackID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark feedback %s", feedbackID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrNotFound, "postgres: feedback %s", feedbackID)
	}
	return nil
}

func (s *PostgresStore) InsertEmbedding(ctx context.Context, e *model.KnowledgeEmbedding) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return eris.Wrap(err, "postgres: marshal embedding metadata")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO knowledge_embeddings (id, company_id, analysis_id, content_type, test_type, verdict, content, embedding, metadata, was_correct, use_count, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`,
		e.ID, e.CompanyID, e.AnalysisID, string(e.ContentType),
		optStr((*string)(e.TestType)), optStr((*string)(e.Verdict)),
		e.Content, encodeVector(e.Embedding), metaJSON, e.WasCorrect, e.UseCount, e.CreatedAt,
	)
	return eris.Wrap(err, "postgres: insert embedding")
}

// BulkInsertEmbeddings upserts entries via COPY into a temp table keyed on
// id, so re-seeding the same entries is idempotent. Used by knowledge seeding.
func (s *PostgresStore) BulkInsertEmbeddings(ctx context.Context, entries []model.KnowledgeEmbedding) (int64, error) {
	columns := []string{"id", "company_id", "analysis_id", "content_type", "test_type", "verdict", "content", "embedding", "metadata", "was_correct", "use_count", "created_at"}
	rows := make([][]any, 0, len(entries))
	for _, e := range entries {
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "postgres: marshal embedding metadata")
		}
		rows = append(rows, []any{
			e.ID, e.CompanyID, e.AnalysisID, string(e.ContentType),
			optStr((*string)(e.TestType)), optStr((*string)(e.Verdict)),
			e.Content, encodeVector(e.Embedding), metaJSON, e.WasCorrect, e.UseCount, e.CreatedAt,
		})
	}
	return db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "knowledge_embeddings",
		Columns:      columns,
		ConflictKeys: []string{"id"},
	}, rows)
}

func (s *PostgresStore) CandidateEmbeddings(ctx context.Context, f model.EmbeddingFilter) ([]model.KnowledgeEmbedding, error) {
	query := `SELECT id, company_id, analysis_id, content_type, test_type, verdict, content, embedding, metadata, was_correct, use_count, created_at FROM knowledge_embeddings WHERE (company_id = $1 OR company_id IS NULL)`
	args := []any{f.CompanyID}
	argIdx := 2

	if len(f.ContentTypes) > 0 {
		types := make([]string, len(f.ContentTypes))
		for i, ct := range f.ContentTypes {
			types[i] = string(ct)
		}
		query += fmt.Sprintf(` AND content_type = ANY($%d)`, argIdx)
		args = append(args, types)
		argIdx++
	}
	if f.TestType != nil {
		query += fmt.Sprintf(` AND (test_type = $%d OR test_type IS NULL)`, argIdx)
		args = append(args, string(*f.TestType))
		argIdx++
	}
	if f.Verdict != nil {
		query += fmt.Sprintf(` AND verdict = $%d`, argIdx)
		args = append(args, string(*f.Verdict))
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: candidate embeddings")
	}
	defer rows.Close()

	var out []model.KnowledgeEmbedding
	for rows.Next() {
		e, err := scanEmbedding(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan embedding")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "postgres: candidate embeddings iterate")
}

func (s *PostgresStore) IncrementUseCount(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_embeddings SET use_count = use_count + 1 WHERE id = ANY($1)`,
		ids,
	)
	return eris.Wrap(err, "postgres: increment use count")
}

func (s *PostgresStore) SetEmbeddingCorrectness(ctx context.Context, analysisID string, wasCorrect bool) error {
	_, err := s.pool.Exec(ctx,
		`UPDATE knowledge_embeddings SET was_correct = $1 WHERE analysis_id = $2`,
		wasCorrect, analysisID,
	)
	return eris.Wrapf(err, "postgres: set correctness for analysis %s", analysisID)
}

// helpers

type pgScannable interface {
	Scan(dest ...any) error
}

func scanAnalysis(row pgScannable) (*model.Analysis, error) {
	var a model.Analysis
	var docsJSON []byte
	var extractionJSON, ncJSON *[]byte
	var verdict, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&a.ID, &a.CompanyID, &a.TestType, &a.Status, &docsJSON,
		&extractionJSON, &ncJSON, &verdict, &a.Score, &a.Confidence,
		&a.Usage.InputTokens, &a.Usage.OutputTokens, &a.CostUSD, &errMsg,
		&a.CreatedAt, &a.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal(docsJSON, &a.Documents); err != nil {
		return nil, eris.Wrap(err, "unmarshal documents")
	}
	if extractionJSON != nil && len(*extractionJSON) > 0 {
		a.Extraction = &model.ConsolidatedExtraction{}
		if err := json.Unmarshal(*extractionJSON, a.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	if ncJSON != nil && len(*ncJSON) > 0 {
		if err := json.Unmarshal(*ncJSON, &a.NonConformities); err != nil {
			return nil, eris.Wrap(err, "unmarshal non-conformities")
		}
	}
	a.Verdict = model.Verdict(verdict.String)
	a.Error = errMsg.String
	if completedAt.Valid {
		t := completedAt.Time
		a.CompletedAt = &t
	}
	return &a, nil
}

func scanEmbedding(row pgScannable) (*model.KnowledgeEmbedding, error) {
	var e model.KnowledgeEmbedding
	var testType, verdict sql.NullString
	var vec []float64
	var metaJSON []byte

	err := row.Scan(&e.ID, &e.CompanyID, &e.AnalysisID, &e.ContentType,
		&testType, &verdict, &e.Content, &vec, &metaJSON,
		&e.WasCorrect, &e.UseCount, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if testType.Valid {
		tt := model.TestType(testType.String)
		e.TestType = &tt
	}
	if verdict.Valid {
		v := model.Verdict(verdict.String)
		e.Verdict = &v
	}
	e.Embedding = decodeVector(vec)
	if len(metaJSON) > 0 {
		if err := json.Unmarshal(metaJSON, &e.Metadata); err != nil {
			return nil, eris.Wrap(err, "unmarshal embedding metadata")
		}
	}
	return &e, nil
}

// encodeVector widens to float64 for storage as FLOAT8[].
func encodeVector(v []float32) []float64 {
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return out
}

func decodeVector(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}

func optStr(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}
