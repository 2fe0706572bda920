package repository

// Package repository contains data access layer abstractions.
// Implementations can live in subpackages (e.g., postgres) inside this directory.

import (
	"context"
	"errors"

	"imgapi/internal/model"
)

// ErrDuplicateFingerprint is returned by Create when the storage-layer uniqueness
// constraint on (project_id, fingerprint) rejects the insert. Callers treat this
// as the normal concurrent-duplicate path, not a failure.
var ErrDuplicateFingerprint = errors.New("duplicate fingerprint for project")

// AssetFilter is the shared predicate for both listing modes:
// project match, soft-deleted rows excluded, optional status equality,
// optional case-insensitive substring match on tags.
type AssetFilter struct {
	ProjectID int64
	Status    *model.AssetStatus
	Tags      string
}

// PageResult is a generic pagination result wrapper.
// Total is the live count of all rows matching the filter, ignoring paging.
type PageResult[T any] struct {
	Items []T
	Total int
}

// AssetRepository defines data access for image assets using SQL queries only.
// No business logic here — strictly persistence operations. All read methods
// exclude soft-deleted rows.
type AssetRepository interface {
	// Create inserts a new asset row and returns the stored record with its
	// DB-assigned ID, version and timestamps. Returns ErrDuplicateFingerprint
	// when the (project_id, fingerprint) constraint rejects the insert.
	Create(ctx context.Context, a *model.Asset) (*model.Asset, error)

	// FindByID returns a non-soft-deleted asset by ID, or sql.ErrNoRows.
	FindByID(ctx context.Context, id int64) (*model.Asset, error)

	// ExistsByProjectAndFingerprint reports whether a non-soft-deleted asset
	// with the given fingerprint already exists in the project. Advisory only;
	// the unique constraint is the authoritative guard.
	ExistsByProjectAndFingerprint(ctx context.Context, projectID int64, fingerprint string) (bool, error)

	// ListOffset returns one page of matching assets ordered by id DESC plus
	// the total match count. Page is zero-based.
	ListOffset(ctx context.Context, f AssetFilter, page, size int) (*PageResult[model.Asset], error)

	// ListCursor returns up to size matching assets with id < cursor (when
	// cursor is non-nil), ordered by id DESC.
	ListCursor(ctx context.Context, f AssetFilter, cursor *int64, size int) ([]model.Asset, error)

	// UpdateVersioned writes tags, memo and status with a compare-and-swap on
	// the version counter (WHERE id AND version AND NOT soft_deleted), bumping
	// version by one. Returns false when no row matched.
	UpdateVersioned(ctx context.Context, a *model.Asset, expectedVersion int64) (bool, error)

	// SetThumbnail moves a PROCESSING asset to READY with the given thumbnail
	// key. Returns false when the asset is gone, soft-deleted, or no longer
	// PROCESSING — the caller must discard its result in that case.
	SetThumbnail(ctx context.Context, id int64, thumbnailKey string) (bool, error)

	// SetFailed moves a PROCESSING asset to FAILED under the same guard as
	// SetThumbnail.
	SetFailed(ctx context.Context, id int64) (bool, error)

	// SoftDelete marks the asset soft-deleted with status DELETED. Returns
	// false when the asset does not exist or was already soft-deleted.
	SoftDelete(ctx context.Context, id int64) (bool, error)
}
