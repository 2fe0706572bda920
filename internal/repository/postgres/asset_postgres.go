package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"imgapi/internal/model"
	"imgapi/internal/repository"
)

// uniqueViolation is the PostgreSQL error code raised when the partial unique
// index on (project_id, fingerprint) rejects an insert.
const uniqueViolation = "23505"

const assetColumns = `id, project_id, original_filename, content_type, size_bytes, fingerprint,
	object_key, thumbnail_key, status, soft_deleted, tags, memo, version, created_at, updated_at`

// AssetPostgres is a PostgreSQL implementation of repository.AssetRepository.
// It uses database/sql with parameterized queries and contains no business logic.
type AssetPostgres struct {
	db *sql.DB
}

// NewAssetPostgres creates a new AssetPostgres repository.
func NewAssetPostgres(db *sql.DB) *AssetPostgres {
	return &AssetPostgres{db: db}
}

var _ repository.AssetRepository = (*AssetPostgres)(nil)

func scanAsset(row interface{ Scan(dest ...any) error }) (*model.Asset, error) {
	var a model.Asset
	if err := row.Scan(
		&a.ID,
		&a.ProjectID,
		&a.OriginalFilename,
		&a.ContentType,
		&a.SizeBytes,
		&a.Fingerprint,
		&a.ObjectKey,
		&a.ThumbnailKey,
		&a.Status,
		&a.SoftDeleted,
		&a.Tags,
		&a.Memo,
		&a.Version,
		&a.CreatedAt,
		&a.UpdatedAt,
	); err != nil {
		return nil, err
	}
	return &a, nil
}

// Create inserts a new asset row and returns the stored record including the
// DB-assigned id, version and timestamps. A unique-index rejection is mapped
// to repository.ErrDuplicateFingerprint.
func (r *AssetPostgres) Create(ctx context.Context, a *model.Asset) (*model.Asset, error) {
	const q = `
		INSERT INTO image_assets (project_id, original_filename, content_type, size_bytes, fingerprint, object_key, status, tags, memo)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + assetColumns
	row := r.db.QueryRowContext(ctx, q,
		a.ProjectID,
		a.OriginalFilename,
		a.ContentType,
		a.SizeBytes,
		a.Fingerprint,
		a.ObjectKey,
		a.Status,
		a.Tags,
		a.Memo,
	)
	out, err := scanAsset(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return nil, repository.ErrDuplicateFingerprint
		}
		return nil, err
	}
	return out, nil
}

// FindByID fetches a single non-soft-deleted asset by its ID.
func (r *AssetPostgres) FindByID(ctx context.Context, id int64) (*model.Asset, error) {
	const q = `
		SELECT ` + assetColumns + `
		FROM image_assets
		WHERE id = $1 AND NOT soft_deleted
	`
	return scanAsset(r.db.QueryRowContext(ctx, q, id))
}

// ExistsByProjectAndFingerprint reports whether a live asset with the given
// fingerprint already exists in the project.
func (r *AssetPostgres) ExistsByProjectAndFingerprint(ctx context.Context, projectID int64, fingerprint string) (bool, error) {
	const q = `
		SELECT EXISTS (
			SELECT 1 FROM image_assets
			WHERE project_id = $1 AND fingerprint = $2 AND NOT soft_deleted
		)
	`
	var exists bool
	if err := r.db.QueryRowContext(ctx, q, projectID, fingerprint).Scan(&exists); err != nil {
		return false, err
	}
	return exists, nil
}

// ListOffset returns one page of matching assets ordered by id DESC, plus the
// live total count of all matching rows.
func (r *AssetPostgres) ListOffset(ctx context.Context, f repository.AssetFilter, page, size int) (*repository.PageResult[model.Asset], error) {
	const qCount = `
		SELECT COUNT(*)
		FROM image_assets
		WHERE project_id = $1 AND NOT soft_deleted
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR tags ILIKE '%' || $3 || '%')
	`
	var total int
	if err := r.db.QueryRowContext(ctx, qCount, f.ProjectID, statusArg(f.Status), tagsArg(f.Tags)).Scan(&total); err != nil {
		return nil, err
	}

	const qList = `
		SELECT ` + assetColumns + `
		FROM image_assets
		WHERE project_id = $1 AND NOT soft_deleted
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR tags ILIKE '%' || $3 || '%')
		ORDER BY id DESC
		LIMIT $4 OFFSET $5
	`
	rows, err := r.db.QueryContext(ctx, qList, f.ProjectID, statusArg(f.Status), tagsArg(f.Tags), size, page*size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items, err := collectAssets(rows)
	if err != nil {
		return nil, err
	}
	return &repository.PageResult[model.Asset]{Items: items, Total: total}, nil
}

// ListCursor returns up to size matching assets below the cursor (exclusive),
// ordered by id DESC. A nil cursor starts from the newest row.
func (r *AssetPostgres) ListCursor(ctx context.Context, f repository.AssetFilter, cursor *int64, size int) ([]model.Asset, error) {
	const q = `
		SELECT ` + assetColumns + `
		FROM image_assets
		WHERE project_id = $1 AND NOT soft_deleted
		  AND ($2::text IS NULL OR status = $2)
		  AND ($3::text IS NULL OR tags ILIKE '%' || $3 || '%')
		  AND ($4::bigint IS NULL OR id < $4)
		ORDER BY id DESC
		LIMIT $5
	`
	rows, err := r.db.QueryContext(ctx, q, f.ProjectID, statusArg(f.Status), tagsArg(f.Tags), cursor, size)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return collectAssets(rows)
}

// UpdateVersioned applies tags, memo and status with a compare-and-swap on the
// version counter. The affected-row count detects a lost race.
func (r *AssetPostgres) UpdateVersioned(ctx context.Context, a *model.Asset, expectedVersion int64) (bool, error) {
	const q = `
		UPDATE image_assets
		SET tags = $3, memo = $4, status = $5, version = version + 1, updated_at = now()
		WHERE id = $1 AND version = $2 AND NOT soft_deleted
	`
	res, err := r.db.ExecContext(ctx, q, a.ID, expectedVersion, a.Tags, a.Memo, a.Status)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetThumbnail moves a PROCESSING asset to READY. The status guard keeps a
// late thumbnail from resurrecting a soft-deleted or already-terminal row.
func (r *AssetPostgres) SetThumbnail(ctx context.Context, id int64, thumbnailKey string) (bool, error) {
	const q = `
		UPDATE image_assets
		SET status = 'READY', thumbnail_key = $2, version = version + 1, updated_at = now()
		WHERE id = $1 AND NOT soft_deleted AND status = 'PROCESSING'
	`
	res, err := r.db.ExecContext(ctx, q, id, thumbnailKey)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SetFailed moves a PROCESSING asset to FAILED under the same guard as SetThumbnail.
func (r *AssetPostgres) SetFailed(ctx context.Context, id int64) (bool, error) {
	const q = `
		UPDATE image_assets
		SET status = 'FAILED', version = version + 1, updated_at = now()
		WHERE id = $1 AND NOT soft_deleted AND status = 'PROCESSING'
	`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// SoftDelete marks the asset deleted. A second call finds no live row and
// returns false.
func (r *AssetPostgres) SoftDelete(ctx context.Context, id int64) (bool, error) {
	const q = `
		UPDATE image_assets
		SET soft_deleted = TRUE, status = 'DELETED', version = version + 1, updated_at = now()
		WHERE id = $1 AND NOT soft_deleted
	`
	res, err := r.db.ExecContext(ctx, q, id)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func collectAssets(rows *sql.Rows) ([]model.Asset, error) {
	items := make([]model.Asset, 0)
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, *a)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

// statusArg converts an optional status to a nullable query argument.
func statusArg(s *model.AssetStatus) any {
	if s == nil {
		return nil
	}
	return string(*s)
}

// tagsArg converts an optional tags substring to a nullable query argument.
func tagsArg(tags string) any {
	if tags == "" {
		return nil
	}
	return tags
}
