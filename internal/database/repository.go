package database

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/therealutkarshpriyadarshi/panocam/pkg/models"
)

// ErrNotFound is returned when a record does not exist
var ErrNotFound = errors.New("record not found")

// Repository provides database operations
type Repository struct {
	db *DB
}

// NewRepository creates a new repository
func NewRepository(db *DB) *Repository {
	return &Repository{db: db}
}

// Media

// CreateMedia records a captured or stitched file
func (r *Repository) CreateMedia(ctx context.Context, m *models.MediaRecord) error {
	if m.ID == "" {
		m.ID = uuid.New().String()
	}
	if m.Metadata == nil {
		m.Metadata = models.Metadata{}
	}

	query := `
		INSERT INTO media_records (id, kind, mode, path, metadata)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING created_at
	`

	err := r.db.Pool.QueryRow(ctx, query,
		m.ID, m.Kind, string(m.Mode), m.Path, m.Metadata,
	).Scan(&m.CreatedAt)

	if err != nil {
		return fmt.Errorf("failed to create media record: %w", err)
	}

	return nil
}

// GetMedia retrieves a media record by ID
func (r *Repository) GetMedia(ctx context.Context, id string) (*models.MediaRecord, error) {
	var m models.MediaRecord

	query := `
		SELECT id, kind, mode, path, metadata, created_at
		FROM media_records
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&m.ID, &m.Kind, &m.Mode, &m.Path, &m.Metadata, &m.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get media record: %w", err)
	}

	return &m, nil
}

// MediaFilter narrows ListMedia. Zero fields match everything.
type MediaFilter struct {
	Kind   string
	Mode   models.CaptureMode
	Limit  int
	Offset int
}

func buildListMediaQuery(f MediaFilter) (string, []interface{}) {
	var (
		where []string
		args  []interface{}
	)
	if f.Kind != "" {
		args = append(args, f.Kind)
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}
	if f.Mode != "" {
		args = append(args, string(f.Mode))
		where = append(where, fmt.Sprintf("mode = $%d", len(args)))
	}

	limit := f.Limit
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	offset := f.Offset
	if offset < 0 {
		offset = 0
	}

	var b strings.Builder
	b.WriteString("SELECT id, kind, mode, path, metadata, created_at FROM media_records")
	if len(where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(where, " AND "))
	}
	args = append(args, limit, offset)
	fmt.Fprintf(&b, " ORDER BY created_at DESC LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	return b.String(), args
}

// ListMedia retrieves media records, newest first
func (r *Repository) ListMedia(ctx context.Context, f MediaFilter) ([]*models.MediaRecord, error) {
	query, args := buildListMediaQuery(f)

	rows, err := r.db.Pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list media records: %w", err)
	}
	defer rows.Close()

	var records []*models.MediaRecord
	for rows.Next() {
		var m models.MediaRecord
		if err := rows.Scan(&m.ID, &m.Kind, &m.Mode, &m.Path, &m.Metadata, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan media record: %w", err)
		}
		records = append(records, &m)
	}

	return records, rows.Err()
}

// Stitch tasks

// UpsertStitchTask stores the latest state of a stitch task
func (r *Repository) UpsertStitchTask(ctx context.Context, t *models.StitchTask) error {
	query := `
		INSERT INTO stitch_tasks (id, source_path, output_width, output_height, fps, bitrate,
		                          double_stream, priority, state, progress_percent, output_path, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (id) DO UPDATE
		SET state = EXCLUDED.state,
		    progress_percent = EXCLUDED.progress_percent,
		    output_path = EXCLUDED.output_path,
		    updated_at = NOW()
	`

	_, err := r.db.Pool.Exec(ctx, query,
		t.ID, t.SourcePath, t.OutputDims.Width, t.OutputDims.Height, t.Fps, t.Bitrate,
		t.DoubleStream, t.Priority, string(t.State), t.ProgressPercent, t.OutputPath, t.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert stitch task: %w", err)
	}

	return nil
}

// GetStitchTask retrieves a stitch task by ID
func (r *Repository) GetStitchTask(ctx context.Context, id string) (*models.StitchTask, error) {
	var t models.StitchTask

	query := `
		SELECT id, source_path, output_width, output_height, fps, bitrate, double_stream,
		       priority, state, progress_percent, output_path, created_at
		FROM stitch_tasks
		WHERE id = $1
	`

	err := r.db.Pool.QueryRow(ctx, query, id).Scan(
		&t.ID, &t.SourcePath, &t.OutputDims.Width, &t.OutputDims.Height, &t.Fps, &t.Bitrate,
		&t.DoubleStream, &t.Priority, &t.State, &t.ProgressPercent, &t.OutputPath, &t.CreatedAt,
	)

	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get stitch task: %w", err)
	}

	return &t, nil
}
