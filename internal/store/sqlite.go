package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/gridseal/compliance-cli/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := sqlDB.Exec(pragma); err != nil {
			sqlDB.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: sqlDB}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS analyses (
	id               TEXT PRIMARY KEY,
	company_id       TEXT NOT NULL,
	test_type        TEXT NOT NULL,
	status           TEXT NOT NULL DEFAULT 'PENDING',
	documents        TEXT NOT NULL,
	extraction       TEXT,
	non_conformities TEXT,
	verdict          TEXT,
	score            REAL NOT NULL DEFAULT 0,
	confidence       REAL NOT NULL DEFAULT 0,
	input_tokens     INTEGER NOT NULL DEFAULT 0,
	output_tokens    INTEGER NOT NULL DEFAULT 0,
	cost_usd         REAL NOT NULL DEFAULT 0,
	error            TEXT,
	created_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at       DATETIME NOT NULL DEFAULT (datetime('now')),
	completed_at     DATETIME
);

CREATE INDEX IF NOT EXISTS idx_analyses_company_id ON analyses(company_id);
CREATE INDEX IF NOT EXISTS idx_analyses_status ON analyses(status);

CREATE TABLE IF NOT EXISTS feedback (
	id              TEXT PRIMARY KEY,
	analysis_id     TEXT NOT NULL REFERENCES analyses(id),
	company_id      TEXT NOT NULL,
	field           TEXT NOT NULL,
	original_value  TEXT NOT NULL,
	corrected_value TEXT NOT NULL,
	explanation     TEXT,
	incorporated    INTEGER NOT NULL DEFAULT 0,
	created_at      DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_feedback_analysis_id ON feedback(analysis_id);

CREATE TABLE IF NOT EXISTS knowledge_embeddings (
	id           TEXT PRIMARY KEY,
	company_id   TEXT,
	analysis_id  TEXT,
	content_type TEXT NOT NULL,
	test_type    TEXT,
	verdict      TEXT,
	content      TEXT NOT NULL,
	embedding    TEXT NOT NULL,
	metadata     TEXT,
	was_correct  INTEGER NOT NULL DEFAULT 1,
	use_count    INTEGER NOT NULL DEFAULT 0,
	created_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_knowledge_content_type ON knowledge_embeddings(content_type);
CREATE INDEX IF NOT EXISTS idx_knowledge_company_id ON knowledge_embeddings(company_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateAnalysis(ctx context.Context, a *model.Analysis) error {
	if a.ID == "" {
		a.ID = uuid.New().String()
	}
	now := time.Now().UTC()
	a.Status = model.StatusPending
	a.CreatedAt = now
	a.UpdatedAt = now

	docsJSON, err := json.Marshal(a.Documents)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal documents")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO analyses (id, company_id, test_type, status, documents, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.CompanyID, string(a.TestType), string(a.Status), string(docsJSON), now, now,
	)
	return eris.Wrap(err, "sqlite: insert analysis")
}

func (s *SQLiteStore) GetAnalysis(ctx context.Context, id string) (*model.Analysis, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, company_id, test_type, status, documents, extraction, non_conformities, verdict, score, confidence, input_tokens, output_tokens, cost_usd, error, created_at, updated_at, completed_at FROM analyses WHERE id = ?`,
		id,
	)
	a, err := scanAnalysisLite(row)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrNotFound, "sqlite: analysis %s", id)
	}
	if err != nil {
		return nil, eris.Wrapf(err, "sqlite: get analysis %s", id)
	}
	return a, nil
}

func (s *SQLiteStore) ListAnalyses(ctx context.Context, filter AnalysisFilter) ([]model.Analysis, error) {
	query := `SELECT id, company_id, test_type, status, documents, extraction, non_conformities, verdict, score, confidence, input_tokens, output_tokens, cost_usd, error, created_at, updated_at, completed_at FROM analyses WHERE 1=1`
	var args []any

	if filter.CompanyID != "" {
		query += ` AND company_id = ?`
		args = append(args, filter.CompanyID)
	}
	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.TestType != "" {
		query += ` AND test_type = ?`
		args = append(args, string(filter.TestType))
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list analyses")
	}
	defer rows.Close()

	var analyses []model.Analysis
	for rows.Next() {
		a, err := scanAnalysisLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan analysis")
		}
		analyses = append(analyses, *a)
	}
	return analyses, eris.Wrap(rows.Err(), "sqlite: list analyses iterate")
}

func (s *SQLiteStore) TransitionStatus(ctx context.Context, id string, expected []model.AnalysisStatus, to model.AnalysisStatus) error {
	query := fmt.Sprintf(
		`UPDATE analyses SET status = ?, updated_at = ? WHERE id = ? AND status IN (%s)`,
		placeholders(len(expected)),
	)
	args := []any{string(to), time.Now().UTC(), id}
	for _, st := range statusStrings(expected) {
		args = append(args, st)
	}

	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return eris.Wrapf(err, "sqlite: transition analysis %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.transitionFailure(ctx, id, expected, to)
	}
	return nil
}

func (s *SQLiteStore) transitionFailure(ctx context.Context, id string, expected []model.AnalysisStatus, to model.AnalysisStatus) error {
	var current string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM analyses WHERE id = ?`, id).Scan(&current)
	if err == sql.ErrNoRows {
		return eris.Wrapf(ErrNotFound, "sqlite: analysis %s", id)
	}
	if err != nil {
		return eris.Wrapf(err, "sqlite: check analysis %s", id)
	}
	return eris.Wrapf(ErrConflict, "sqlite: analysis %s is %s, wanted one of %v before %s", id, current, expected, to)
}

func (s *SQLiteStore) CompleteAnalysis(ctx context.Context, a *model.Analysis) error {
	extractionJSON, err := json.Marshal(a.Extraction)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal extraction")
	}
	ncJSON, err := json.Marshal(a.NonConformities)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal non-conformities")
	}
	now := time.Now().UTC()

	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, extraction = ?, non_conformities = ?, verdict = ?, score = ?, confidence = ?, input_tokens = ?, output_tokens = ?, cost_usd = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status = ?`,
		string(model.StatusCompleted), string(extractionJSON), string(ncJSON), string(a.Verdict),
		a.Score, a.Confidence, a.Usage.InputTokens, a.Usage.OutputTokens, a.CostUSD,
		now, now, a.ID, string(model.StatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: complete analysis %s", a.ID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.transitionFailure(ctx, a.ID, []model.AnalysisStatus{model.StatusProcessing}, model.StatusCompleted)
	}
	return nil
}

func (s *SQLiteStore) FailAnalysis(ctx context.Context, id, errMsg string) error {
	now := time.Now().UTC()
	res, err := s.db.ExecContext(ctx,
		`UPDATE analyses SET status = ?, error = ?, updated_at = ?, completed_at = ? WHERE id = ? AND status IN (?, ?)`,
		string(model.StatusFailed), errMsg, now, now, id,
		string(model.StatusPending), string(model.StatusProcessing),
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: fail analysis %s", id)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return s.transitionFailure(ctx, id,
			[]model.AnalysisStatus{model.StatusPending, model.StatusProcessing}, model.StatusFailed)
	}
	return nil
}

func (s *SQLiteStore) CreateFeedback(ctx context.Context, fb *model.Feedback) error {
	if fb.ID == "" {
		fb.ID = uuid.New().String()
	}
	fb.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO feedback (id, analysis_id, company_id, field, original_value, corrected_value, explanation, incorporated, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		fb.ID, fb.AnalysisID, fb.CompanyID, fb.Field, fb.OriginalValue, fb.CorrectedValue, fb.Explanation, fb.Incorporated, fb.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert feedback")
}

func (s *SQLiteStore) ListFeedback(ctx context.Context, analysisID string) ([]model.Feedback, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, analysis_id, company_id, field, original_value, corrected_value, explanation, incorporated, created_at FROM feedback WHERE analysis_id = ? ORDER BY created_at ASC`,
		analysisID,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list feedback")
	}
	defer rows.Close()

	var out []model.Feedback
	for rows.Next() {
		var fb model.Feedback
		var explanation sql.NullString
		if err := rows.Scan(&fb.ID, &fb.AnalysisID, &fb.CompanyID, &fb.Field,
			&fb.OriginalValue, &fb.CorrectedValue, &explanation, &fb.Incorporated, &fb.CreatedAt); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		fb.Explanation = explanation.String
		out = append(out, fb)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: list feedback iterate")
}

func (s *SQLiteStore) MarkFeedbackIncorporated(ctx context.Context, feedbackID string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE feedback SET incorporated = 1 WHERE id = ?`,
		feedbackID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: mark feedback %s", feedbackID)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrNotFound, "sqlite: feedback %s", feedbackID)
	}
	return nil
}

func (s *SQLiteStore) InsertEmbedding(ctx context.Context, e *model.KnowledgeEmbedding) error {
	if e.ID == "" {
		e.ID = uuid.New().String()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}

	vecJSON, err := json.Marshal(e.Embedding)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal embedding vector")
	}
	metaJSON, err := json.Marshal(e.Metadata)
	if err != nil {
		return eris.Wrap(err, "sqlite: marshal embedding metadata")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO knowledge_embeddings (id, company_id, analysis_id, content_type, test_type, verdict, content, embedding, metadata, was_correct, use_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.CompanyID, e.AnalysisID, string(e.ContentType),
		optStr((*string)(e.TestType)), optStr((*string)(e.Verdict)),
		e.Content, string(vecJSON), string(metaJSON), e.WasCorrect, e.UseCount, e.CreatedAt,
	)
	return eris.Wrap(err, "sqlite: insert embedding")
}

// BulkInsertEmbeddings inserts entries one by one inside a transaction.
// SQLite has no COPY protocol; a transaction keeps the seed atomic.
func (s *SQLiteStore) BulkInsertEmbeddings(ctx context.Context, entries []model.KnowledgeEmbedding) (int64, error) {
	if len(entries) == 0 {
		return 0, nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: begin bulk insert")
	}
	defer tx.Rollback()

	var n int64
	for i := range entries {
		e := &entries[i]
		if e.ID == "" {
			e.ID = uuid.New().String()
		}
		if e.CreatedAt.IsZero() {
			e.CreatedAt = time.Now().UTC()
		}
		vecJSON, err := json.Marshal(e.Embedding)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal embedding vector")
		}
		metaJSON, err := json.Marshal(e.Metadata)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: marshal embedding metadata")
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO knowledge_embeddings (id, company_id, analysis_id, content_type, test_type, verdict, content, embedding, metadata, was_correct, use_count, created_at) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			e.ID, e.CompanyID, e.AnalysisID, string(e.ContentType),
			optStr((*string)(e.TestType)), optStr((*string)(e.Verdict)),
			e.Content, string(vecJSON), string(metaJSON), e.WasCorrect, e.UseCount, e.CreatedAt,
		)
		if err != nil {
			return 0, eris.Wrap(err, "sqlite: bulk insert embedding")
		}
		n++
	}
	if err := tx.Commit(); err != nil {
		return 0, eris.Wrap(err, "sqlite: commit bulk insert")
	}
	return n, nil
}

func (s *SQLiteStore) CandidateEmbeddings(ctx context.Context, f model.EmbeddingFilter) ([]model.KnowledgeEmbedding, error) {
	query := `SELECT id, company_id, analysis_id, content_type, test_type, verdict, content, embedding, metadata, was_correct, use_count, created_at FROM knowledge_embeddings WHERE (company_id = ? OR company_id IS NULL)`
	args := []any{f.CompanyID}

	if len(f.ContentTypes) > 0 {
		query += fmt.Sprintf(` AND content_type IN (%s)`, placeholders(len(f.ContentTypes)))
		for _, ct := range f.ContentTypes {
			args = append(args, string(ct))
		}
	}
	if f.TestType != nil {
		query += ` AND (test_type = ? OR test_type IS NULL)`
		args = append(args, string(*f.TestType))
	}
	if f.Verdict != nil {
		query += ` AND verdict = ?`
		args = append(args, string(*f.Verdict))
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: candidate embeddings")
	}
	defer rows.Close()

	var out []model.KnowledgeEmbedding
	for rows.Next() {
		e, err := scanEmbeddingLite(rows)
		if err != nil {
			return nil, eris.Wrap(err, "sqlite: scan embedding")
		}
		out = append(out, *e)
	}
	return out, eris.Wrap(rows.Err(), "sqlite: candidate embeddings iterate")
}

func (s *SQLiteStore) IncrementUseCount(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	query := fmt.Sprintf(
		`UPDATE knowledge_embeddings SET use_count = use_count + 1 WHERE id IN (%s)`,
		placeholders(len(ids)),
	)
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	_, err := s.db.ExecContext(ctx, query, args...)
	return eris.Wrap(err, "sqlite: increment use count")
}

func (s *SQLiteStore) SetEmbeddingCorrectness(ctx context.Context, analysisID string, wasCorrect bool) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE knowledge_embeddings SET was_correct = ? WHERE analysis_id = ?`,
		wasCorrect, analysisID,
	)
	return eris.Wrapf(err, "sqlite: set correctness for analysis %s", analysisID)
}

// helpers

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

type scannable interface {
	Scan(dest ...any) error
}

func scanAnalysisLite(row scannable) (*model.Analysis, error) {
	var a model.Analysis
	var docsJSON string
	var extractionJSON, ncJSON, verdict, errMsg sql.NullString
	var completedAt sql.NullTime

	err := row.Scan(&a.ID, &a.CompanyID, &a.TestType, &a.Status, &docsJSON,
		&extractionJSON, &ncJSON, &verdict, &a.Score, &a.Confidence,
		&a.Usage.InputTokens, &a.Usage.OutputTokens, &a.CostUSD, &errMsg,
		&a.CreatedAt, &a.UpdatedAt, &completedAt)
	if err != nil {
		return nil, err
	}

	if err := json.Unmarshal([]byte(docsJSON), &a.Documents); err != nil {
		return nil, eris.Wrap(err, "unmarshal documents")
	}
	if extractionJSON.Valid && extractionJSON.String != "" && extractionJSON.String != "null" {
		a.Extraction = &model.ConsolidatedExtraction{}
		if err := json.Unmarshal([]byte(extractionJSON.String), a.Extraction); err != nil {
			return nil, eris.Wrap(err, "unmarshal extraction")
		}
	}
	if ncJSON.Valid && ncJSON.String != "" && ncJSON.String != "null" {
		if err := json.Unmarshal([]byte(ncJSON.String), &a.NonConformities); err != nil {
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

func scanEmbeddingLite(row scannable) (*model.KnowledgeEmbedding, error) {
	var e model.KnowledgeEmbedding
	var companyID, analysisID, testType, verdict, metaJSON sql.NullString
	var vecJSON string

	err := row.Scan(&e.ID, &companyID, &analysisID, &e.ContentType,
		&testType, &verdict, &e.Content, &vecJSON, &metaJSON,
		&e.WasCorrect, &e.UseCount, &e.CreatedAt)
	if err != nil {
		return nil, err
	}

	if companyID.Valid {
		v := companyID.String
		e.CompanyID = &v
	}
	if analysisID.Valid {
		v := analysisID.String
		e.AnalysisID = &v
	}
	if testType.Valid {
		tt := model.TestType(testType.String)
		e.TestType = &tt
	}
	if verdict.Valid {
		v := model.Verdict(verdict.String)
		e.Verdict = &v
	}
	if err := json.Unmarshal([]byte(vecJSON), &e.Embedding); err != nil {
		return nil, eris.Wrap(err, "unmarshal embedding vector")
	}
	if metaJSON.Valid && metaJSON.String != "" && metaJSON.String != "null" {
		if err := json.Unmarshal([]byte(metaJSON.String), &e.Metadata); err != nil {
			return nil, eris.Wrap(err, "unmarshal embedding metadata")
		}
	}
	return &e, nil
}
