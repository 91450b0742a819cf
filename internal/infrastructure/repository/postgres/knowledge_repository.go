package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/kirillkom/fso-faq-assistant/internal/core/domain"
)

// KnowledgeRepository keeps the durable copy of every indexed record so the vector
// index can be rebuilt without the original dataset.
type KnowledgeRepository struct {
	db *sql.DB
}

func NewKnowledgeRepository(db *sql.DB) *KnowledgeRepository {
	return &KnowledgeRepository{db: db}
}

func OpenDB(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("sql open: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("db ping: %w", err)
	}
	return db, nil
}

func (r *KnowledgeRepository) EnsureSchema(ctx context.Context) error {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin schema tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	// Serialize bootstrap DDL across api/worker/indexer startups.
	if _, err := tx.ExecContext(ctx, `SELECT pg_advisory_xact_lock($1)`, int64(2026100101)); err != nil {
		return fmt.Errorf("acquire schema lock: %w", err)
	}

	const query = `
CREATE TABLE IF NOT EXISTS knowledge_records (
	id TEXT PRIMARY KEY,
	lang TEXT NOT NULL,
	question TEXT NOT NULL,
	answer TEXT NOT NULL,
	meta TEXT NOT NULL DEFAULT '',
	source TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_knowledge_records_lang ON knowledge_records(lang, created_at);
`
	if _, err := tx.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("execute schema ddl: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit schema tx: %w", err)
	}
	return nil
}

// InsertRecords is append-only: records whose id already exists are skipped, and the
// count of newly stored rows is returned.
func (r *KnowledgeRepository) InsertRecords(ctx context.Context, records []domain.KnowledgeRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin insert tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	inserted := 0
	for _, rec := range records {
		createdAt := rec.CreatedAt
		if createdAt.IsZero() {
			createdAt = time.Now().UTC()
		}
		res, err := tx.ExecContext(ctx, `
INSERT INTO knowledge_records (id, lang, question, answer, meta, source, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
ON CONFLICT (id) DO NOTHING
`, rec.ID, string(rec.Language), rec.Question, rec.Answer, rec.Meta, rec.Source, createdAt)
		if err != nil {
			return 0, fmt.Errorf("insert knowledge record: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return 0, fmt.Errorf("insert knowledge record rows affected: %w", err)
		}
		inserted += int(affected)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit insert tx: %w", err)
	}
	return inserted, nil
}

// ListRecords returns records oldest first. An empty lang lists every language and a
// non-positive limit lists everything.
func (r *KnowledgeRepository) ListRecords(ctx context.Context, lang domain.Language, limit int) ([]domain.KnowledgeRecord, error) {
	var limitArg sql.NullInt64
	if limit > 0 {
		limitArg = sql.NullInt64{Int64: int64(limit), Valid: true}
	}

	rows, err := r.db.QueryContext(ctx, `
SELECT id, lang, question, answer, meta, source, created_at
FROM knowledge_records
WHERE ($1 = '' OR lang = $1)
ORDER BY created_at ASC, id ASC
LIMIT $2
`, string(lang), limitArg)
	if err != nil {
		return nil, fmt.Errorf("list knowledge records: %w", err)
	}
	defer rows.Close()

	out := make([]domain.KnowledgeRecord, 0)
	for rows.Next() {
		var rec domain.KnowledgeRecord
		var recLang string
		if err := rows.Scan(&rec.ID, &recLang, &rec.Question, &rec.Answer, &rec.Meta, &rec.Source, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan knowledge record: %w", err)
		}
		rec.Language = domain.Language(recLang)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge records: %w", err)
	}
	return out, nil
}

func (r *KnowledgeRepository) CountByLanguage(ctx context.Context) (map[domain.Language]int, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT lang, COUNT(*) FROM knowledge_records GROUP BY lang`)
	if err != nil {
		return nil, fmt.Errorf("count knowledge records: %w", err)
	}
	defer rows.Close()

	out := make(map[domain.Language]int)
	for rows.Next() {
		var lang string
		var count int
		if err := rows.Scan(&lang, &count); err != nil {
			return nil, fmt.Errorf("scan knowledge count: %w", err)
		}
		out[domain.Language(lang)] = count
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate knowledge counts: %w", err)
	}
	return out, nil
}

func (r *KnowledgeRepository) Truncate(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `TRUNCATE TABLE knowledge_records`); err != nil {
		return fmt.Errorf("truncate knowledge records: %w", err)
	}
	return nil
}
