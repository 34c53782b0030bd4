package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kriti-agrawal-52/document-intelligence-platform-gcp/internal/domain"
)

const uniqueViolation = "23505"

const documentColumns = `id, owner_id, display_name, file_type, status, extracted_text, summary,
	error_message, source_uri, page_count, size_bytes, created_at, updated_at`

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	id             TEXT PRIMARY KEY,
	owner_id       TEXT NOT NULL,
	display_name   TEXT NOT NULL,
	file_type      TEXT NOT NULL,
	status         TEXT NOT NULL,
	extracted_text TEXT NOT NULL DEFAULT '',
	summary        TEXT NOT NULL DEFAULT '',
	error_message  TEXT NOT NULL DEFAULT '',
	source_uri     TEXT NOT NULL DEFAULT '',
	page_count     INTEGER NOT NULL DEFAULT 0,
	size_bytes     BIGINT NOT NULL DEFAULT 0,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS documents_owner_display_name_idx ON documents (owner_id, display_name);
CREATE INDEX IF NOT EXISTS documents_owner_created_idx ON documents (owner_id, created_at DESC);
`

type PostgresDocumentsRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresDocumentsRepository(ctx context.Context, databaseURL string) (*PostgresDocumentsRepository, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create pg pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping pg: %w", err)
	}
	return &PostgresDocumentsRepository{pool: pool}, nil
}

func (r *PostgresDocumentsRepository) Close() {
	r.pool.Close()
}

// EnsureSchema creates the documents table and its indexes when missing.
func (r *PostgresDocumentsRepository) EnsureSchema(ctx context.Context) error {
	if _, err := r.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("ensure documents schema: %w", err)
	}
	return nil
}

func (r *PostgresDocumentsRepository) Create(ctx context.Context, doc *domain.Document) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO documents (`+documentColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13)
	`,
		doc.ID,
		doc.OwnerID,
		doc.DisplayName,
		string(doc.FileType),
		string(doc.Status),
		doc.ExtractedText,
		doc.Summary,
		doc.ErrorMessage,
		doc.SourceURI,
		doc.PageCount,
		doc.SizeBytes,
		doc.CreatedAt,
		doc.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return &domain.ConflictError{OwnerID: doc.OwnerID, DisplayName: doc.DisplayName}
		}
		return fmt.Errorf("insert document: %w", err)
	}
	return nil
}

func (r *PostgresDocumentsRepository) Get(ctx context.Context, documentID string) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, documentID)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query document: %w", err)
	}
	return doc, nil
}

func (r *PostgresDocumentsRepository) GetOwned(ctx context.Context, ownerID, documentID string) (*domain.Document, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+documentColumns+` FROM documents WHERE id = $1 AND owner_id = $2`,
		documentID, ownerID,
	)
	doc, err := scanDocument(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("query owned document: %w", err)
	}
	return doc, nil
}

func (r *PostgresDocumentsRepository) List(
	ctx context.Context,
	ownerID string,
	limit, skip int,
) ([]*domain.Document, error) {
	limit, skip = NormalizePage(limit, skip)

	rows, err := r.pool.Query(ctx, `
		SELECT `+documentColumns+`
		FROM documents
		WHERE owner_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, ownerID, limit, skip)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	items := make([]*domain.Document, 0)
	for rows.Next() {
		doc, err := scanDocument(rows)
		if err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		items = append(items, doc)
	}
	if rows.Err() != nil {
		return nil, fmt.Errorf("iterate documents: %w", rows.Err())
	}
	return items, nil
}

func (r *PostgresDocumentsRepository) Transition(
	ctx context.Context,
	documentID string,
	from domain.DocumentStatus,
	update domain.Update,
) (*domain.Document, error) {
	if !domain.CanTransition(from, update.Status) {
		return nil, ErrStaleStatus
	}

	// NULLIF keeps write-once columns on their first non-empty value.
	row := r.pool.QueryRow(ctx, `
		UPDATE documents
		SET status = $3,
			extracted_text = COALESCE(NULLIF(extracted_text, ''), $4),
			summary = COALESCE(NULLIF(summary, ''), $5),
			error_message = COALESCE(NULLIF($6, ''), error_message),
			source_uri = COALESCE(NULLIF(source_uri, ''), $7),
			updated_at = $8
		WHERE id = $1 AND status = $2
		RETURNING `+documentColumns,
		documentID,
		string(from),
		string(update.Status),
		update.ExtractedText,
		update.Summary,
		update.ErrorMessage,
		update.SourceURI,
		time.Now().UTC(),
	)
	doc, err := scanDocument(row)
	if err == nil {
		return doc, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("transition document: %w", err)
	}

	// Zero rows: the document is either gone or in another status.
	if _, getErr := r.Get(ctx, documentID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrStaleStatus
}

func scanDocument(row pgx.Row) (*domain.Document, error) {
	var (
		doc      domain.Document
		fileType string
		status   string
	)
	err := row.Scan(
		&doc.ID,
		&doc.OwnerID,
		&doc.DisplayName,
		&fileType,
		&status,
		&doc.ExtractedText,
		&doc.Summary,
		&doc.ErrorMessage,
		&doc.SourceURI,
		&doc.PageCount,
		&doc.SizeBytes,
		&doc.CreatedAt,
		&doc.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	doc.FileType = domain.FileType(fileType)
	doc.Status = domain.DocumentStatus(status)
	return &doc, nil
}
