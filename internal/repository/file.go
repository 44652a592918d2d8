package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dharsanguruparan/CatalogDrop/internal/model"
)

const uniqueViolation = "23505"

// mapErr translates driver errors into the model sentinels callers match on.
func mapErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		return fmt.Errorf("%w: %s", model.ErrDuplicateKey, pgErr.ConstraintName)
	}
	return err
}

const fileColumns = `id, original_name, object_key, size, media_type, extension, content_hash,
	metadata, processed, job, uploaded_at, updated_at`

// FileRepository stores uploaded-file rows in file_uploads.
type FileRepository struct {
	pool *pgxpool.Pool
}

// NewFileRepository constructs a repository.
func NewFileRepository(pool *pgxpool.Pool) *FileRepository {
	return &FileRepository{pool: pool}
}

// CreateOrGet inserts f unless its content hash is already stored. The
// unique constraint arbitrates concurrent inserts; the loser reads the
// winner's row and reports created=false.
func (r *FileRepository) CreateOrGet(ctx context.Context, f *model.UploadedFile) (*model.UploadedFile, bool, error) {
	now := time.Now().UTC()
	if f.UploadedAt.IsZero() {
		f.UploadedAt = now
	}
	f.UpdatedAt = now
	metadata, job, err := encodeFile(f)
	if err != nil {
		return nil, false, err
	}
	var id string
	err = r.pool.QueryRow(ctx, `
		INSERT INTO file_uploads (`+fileColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)
		ON CONFLICT (content_hash) DO NOTHING
		RETURNING id
	`, f.ID, f.OriginalName, f.ObjectKey, f.Size, f.MediaType, f.Extension, f.ContentHash,
		metadata, f.Processed, job, f.UploadedAt, f.UpdatedAt).Scan(&id)
	switch {
	case err == nil:
		created := *f
		return &created, true, nil
	case errors.Is(err, pgx.ErrNoRows):
		existing, err := r.FindByHash(ctx, f.ContentHash)
		if err != nil {
			return nil, false, err
		}
		return existing, false, nil
	default:
		return nil, false, fmt.Errorf("insert file: %w", mapErr(err))
	}
}

// FindByHash returns the row for a content hash or model.ErrNotFound.
func (r *FileRepository) FindByHash(ctx context.Context, hash string) (*model.UploadedFile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_uploads WHERE content_hash=$1`, hash)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("select file by hash: %w", mapErr(err))
	}
	return f, nil
}

// Get returns a row by id or model.ErrNotFound.
func (r *FileRepository) Get(ctx context.Context, id string) (*model.UploadedFile, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+fileColumns+` FROM file_uploads WHERE id=$1`, id)
	f, err := scanFile(row)
	if err != nil {
		return nil, fmt.Errorf("select file: %w", mapErr(err))
	}
	return f, nil
}

// UpdateJob writes the job state, the processed flag and the update time in
// one statement so readers never see a partial transition.
func (r *FileRepository) UpdateJob(ctx context.Context, id string, state model.JobState) error {
	job, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode job state: %w", err)
	}
	tag, err := r.pool.Exec(ctx, `
		UPDATE file_uploads SET job=$1, processed=$2, updated_at=$3 WHERE id=$4
	`, job, state.Status() == model.StatusCompleted, time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("update file job: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update file job %s: %w", id, model.ErrNotFound)
	}
	return nil
}

// List returns up to limit rows, newest upload first.
func (r *FileRepository) List(ctx context.Context, limit int) ([]*model.UploadedFile, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := r.pool.Query(ctx, `SELECT `+fileColumns+` FROM file_uploads ORDER BY uploaded_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()
	var out []*model.UploadedFile
	for rows.Next() {
		f, err := scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		out = append(out, f)
	}
	return out, rows.Err()
}

func encodeFile(f *model.UploadedFile) (metadata, job []byte, err error) {
	md := f.Metadata
	if md == nil {
		md = map[string]string{}
	}
	if metadata, err = json.Marshal(md); err != nil {
		return nil, nil, fmt.Errorf("encode metadata: %w", err)
	}
	if job, err = json.Marshal(f.Job); err != nil {
		return nil, nil, fmt.Errorf("encode job state: %w", err)
	}
	return metadata, job, nil
}

func scanFile(row pgx.Row) (*model.UploadedFile, error) {
	var (
		f        model.UploadedFile
		metadata []byte
		job      []byte
	)
	if err := row.Scan(&f.ID, &f.OriginalName, &f.ObjectKey, &f.Size, &f.MediaType, &f.Extension,
		&f.ContentHash, &metadata, &f.Processed, &job, &f.UploadedAt, &f.UpdatedAt); err != nil {
		return nil, err
	}
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &f.Metadata); err != nil {
			return nil, fmt.Errorf("decode metadata: %w", err)
		}
	}
	if len(job) > 0 {
		if err := json.Unmarshal(job, &f.Job); err != nil {
			return nil, err
		}
	}
	return &f, nil
}
