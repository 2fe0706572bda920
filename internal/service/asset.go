package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"time"

	"imgapi/internal/model"
	"imgapi/internal/repository"
	"imgapi/internal/storage"
)

var (
	ErrIDRequired      = errors.New("id is required")
	ErrNotFound        = errors.New("asset not found")
	ErrEmptyBatch      = errors.New("upload batch is empty")
	ErrVersionConflict = errors.New("version conflict")
	ErrInvalidStatus   = errors.New("invalid status")
	ErrTagsTooLong     = errors.New("tags exceed 1000 characters")
	ErrMemoTooLong     = errors.New("memo exceeds 2000 characters")
)

const (
	maxTagsLen = 1000
	maxMemoLen = 2000

	defaultOffsetSize = 20
	maxOffsetSize     = 100
	defaultCursorSize = 50
	maxCursorSize     = 200
)

// UploadFile is one named byte stream in an upload batch.
type UploadFile struct {
	Name        string
	ContentType string
	Size        int64
	Reader      io.Reader
}

// PatchRequest carries a partial metadata update. Nil fields are left
// untouched. ExpectedVersion, when set, must match the stored version.
type PatchRequest struct {
	Tags            *string
	Memo            *string
	Status          *model.AssetStatus
	ExpectedVersion *int64
}

// ListItem is the listing projection of an asset.
type ListItem struct {
	ID        int64             `json:"id"`
	Filename  string            `json:"filename"`
	Status    model.AssetStatus `json:"status"`
	Tags      string            `json:"tags"`
	SizeBytes int64             `json:"size_bytes"`
	CreatedAt time.Time         `json:"created_at"`
}

// OffsetListResult is the service-level DTO for page/offset listings.
type OffsetListResult struct {
	Items []ListItem `json:"items"`
	Total int        `json:"total"`
	Page  int        `json:"page"`
	Size  int        `json:"size"`
}

// CursorListResult is the service-level DTO for keyset listings. NextCursor is
// nil when the scan is exhausted.
type CursorListResult struct {
	Items      []ListItem `json:"items"`
	NextCursor *int64     `json:"next_cursor,omitempty"`
}

// AssetDetail is the full single-asset view including presigned URLs.
type AssetDetail struct {
	ID           int64             `json:"id"`
	ProjectID    int64             `json:"project_id"`
	Filename     string            `json:"filename"`
	ContentType  string            `json:"content_type"`
	SizeBytes    int64             `json:"size_bytes"`
	Tags         string            `json:"tags"`
	Memo         string            `json:"memo"`
	Status       model.AssetStatus `json:"status"`
	OriginalURL  string            `json:"original_url"`
	ThumbnailURL string            `json:"thumbnail_url,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`
	Version      int64             `json:"version"`
}

// ThumbnailEnqueuer accepts asset IDs for asynchronous thumbnail generation.
// Enqueue must not block; it reports false when the queue is saturated.
type ThumbnailEnqueuer interface {
	Enqueue(id int64) bool
}

// AssetService defines the use cases for handling image assets.
type AssetService interface {
	// Upload ingests a batch of files into the project. Each file is handled
	// independently: content already present in the project (by fingerprint)
	// is skipped silently, and a failure affects only that file. Returned IDs
	// preserve input order. An empty batch is a validation error.
	Upload(ctx context.Context, projectID int64, files []UploadFile) ([]int64, error)

	// ListOffset returns one page of the filtered project listing plus the
	// live total count.
	ListOffset(ctx context.Context, projectID int64, status *model.AssetStatus, tags string, page, size int) (*OffsetListResult, error)

	// ListCursor returns up to size items below the cursor, with the next
	// cursor when more rows may remain.
	ListCursor(ctx context.Context, projectID int64, status *model.AssetStatus, tags string, cursor *int64, size int) (*CursorListResult, error)

	// Get returns full detail for a single asset with presigned URLs valid
	// for the given expiry.
	Get(ctx context.Context, id int64, expiry time.Duration) (*AssetDetail, error)

	// Patch applies a partial, optimistically-versioned metadata update.
	Patch(ctx context.Context, id int64, req PatchRequest) error

	// SoftDelete hides the asset from all reads. A second call on the same ID
	// fails with ErrNotFound.
	SoftDelete(ctx context.Context, id int64) error
}

// assetService is a concrete implementation of AssetService.
type assetService struct {
	repo          repository.AssetRepository
	store         storage.BlobStorage
	thumbs        ThumbnailEnqueuer
	presignExpiry time.Duration
}

// NewAssetService constructs a new AssetService. presignExpiry is the default
// URL lifetime used when a caller does not supply one.
func NewAssetService(repo repository.AssetRepository, store storage.BlobStorage, thumbs ThumbnailEnqueuer, presignExpiry time.Duration) AssetService {
	return &assetService{repo: repo, store: store, thumbs: thumbs, presignExpiry: presignExpiry}
}

func (s *assetService) Upload(ctx context.Context, projectID int64, files []UploadFile) ([]int64, error) {
	if len(files) == 0 {
		return nil, ErrEmptyBatch
	}

	ids := make([]int64, 0, len(files))
	for _, f := range files {
		id, created, err := s.ingestOne(ctx, projectID, f)
		if err != nil || !created {
			// A failed or duplicate file is simply absent from the result;
			// sibling files in the batch are unaffected.
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ingestOne runs the per-file pipeline: tee-fingerprint while streaming to the
// blob store, advisory dedup check, metadata insert, thumbnail enqueue. The
// unique constraint on (project, fingerprint) is the authoritative dedup
// guard; a constraint rejection at insert time is the normal skip path.
func (s *assetService) ingestOne(ctx context.Context, projectID int64, f UploadFile) (int64, bool, error) {
	hasher := newFingerprinter()
	tee := io.TeeReader(f.Reader, hasher)

	info, err := s.store.Put(ctx, fmt.Sprintf("original/%d", projectID), tee, storage.PutObjectOptions{
		Size:        f.Size,
		ContentType: safeType(f.ContentType),
		Metadata: map[string]string{
			"original-filename": f.Name,
		},
	})
	if err != nil {
		return 0, false, fmt.Errorf("upload to storage: %w", err)
	}
	fingerprint := fingerprintHex(hasher)

	// Advisory check; keeps the common duplicate out of the insert path but
	// two concurrent uploads can both pass it.
	exists, err := s.repo.ExistsByProjectAndFingerprint(ctx, projectID, fingerprint)
	if err != nil {
		s.rollbackBlob(ctx, info.Key)
		return 0, false, fmt.Errorf("dedup check: %w", err)
	}
	if exists {
		s.rollbackBlob(ctx, info.Key)
		return 0, false, nil
	}

	name := f.Name
	if name == "" {
		name = "unnamed"
	}
	stored, err := s.repo.Create(ctx, &model.Asset{
		ProjectID:        projectID,
		OriginalFilename: name,
		ContentType:      safeType(f.ContentType),
		SizeBytes:        info.Size,
		Fingerprint:      fingerprint,
		ObjectKey:        info.Key,
		Status:           model.StatusProcessing,
	})
	if errors.Is(err, repository.ErrDuplicateFingerprint) {
		// Lost the race against a concurrent identical upload.
		s.rollbackBlob(ctx, info.Key)
		return 0, false, nil
	}
	if err != nil {
		s.rollbackBlob(ctx, info.Key)
		return 0, false, fmt.Errorf("db save failed: %w", err)
	}

	// Fire-and-forget; a saturated queue leaves the asset PROCESSING and is
	// not retried by the pipeline.
	s.thumbs.Enqueue(stored.ID)

	return stored.ID, true, nil
}

// rollbackBlob removes a blob whose registry row never materialized. Best
// effort: a leftover blob is an accepted orphan, never a corrupt row.
func (s *assetService) rollbackBlob(ctx context.Context, key string) {
	_ = s.store.Delete(ctx, key)
}

func (s *assetService) ListOffset(ctx context.Context, projectID int64, status *model.AssetStatus, tags string, page, size int) (*OffsetListResult, error) {
	if page < 0 {
		page = 0
	}
	if size <= 0 {
		size = defaultOffsetSize
	}
	if size > maxOffsetSize {
		size = maxOffsetSize
	}

	res, err := s.repo.ListOffset(ctx, repository.AssetFilter{ProjectID: projectID, Status: status, Tags: tags}, page, size)
	if err != nil {
		return nil, err
	}
	return &OffsetListResult{Items: toItems(res.Items), Total: res.Total, Page: page, Size: size}, nil
}

func (s *assetService) ListCursor(ctx context.Context, projectID int64, status *model.AssetStatus, tags string, cursor *int64, size int) (*CursorListResult, error) {
	if size <= 0 {
		size = defaultCursorSize
	}
	if size > maxCursorSize {
		size = maxCursorSize
	}

	rows, err := s.repo.ListCursor(ctx, repository.AssetFilter{ProjectID: projectID, Status: status, Tags: tags}, cursor, size)
	if err != nil {
		return nil, err
	}

	var next *int64
	if len(rows) == size {
		last := rows[len(rows)-1].ID
		next = &last
	}
	return &CursorListResult{Items: toItems(rows), NextCursor: next}, nil
}

func (s *assetService) Get(ctx context.Context, id int64, expiry time.Duration) (*AssetDetail, error) {
	if id <= 0 {
		return nil, ErrIDRequired
	}
	if expiry <= 0 {
		expiry = s.presignExpiry
	}

	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	origURL, err := s.store.PresignGet(ctx, a.ObjectKey, expiry)
	if err != nil {
		return nil, fmt.Errorf("presign original: %w", err)
	}
	var thumbURL string
	if a.ThumbnailKey != nil {
		thumbURL, err = s.store.PresignGet(ctx, *a.ThumbnailKey, expiry)
		if err != nil {
			return nil, fmt.Errorf("presign thumbnail: %w", err)
		}
	}

	return &AssetDetail{
		ID:           a.ID,
		ProjectID:    a.ProjectID,
		Filename:     a.OriginalFilename,
		ContentType:  a.ContentType,
		SizeBytes:    a.SizeBytes,
		Tags:         a.Tags,
		Memo:         a.Memo,
		Status:       a.Status,
		OriginalURL:  origURL,
		ThumbnailURL: thumbURL,
		CreatedAt:    a.CreatedAt,
		UpdatedAt:    a.UpdatedAt,
		Version:      a.Version,
	}, nil
}

func (s *assetService) Patch(ctx context.Context, id int64, req PatchRequest) error {
	if id <= 0 {
		return ErrIDRequired
	}
	if req.Tags != nil && len(*req.Tags) > maxTagsLen {
		return ErrTagsTooLong
	}
	if req.Memo != nil && len(*req.Memo) > maxMemoLen {
		return ErrMemoTooLong
	}
	if req.Status != nil && !req.Status.Valid() {
		return ErrInvalidStatus
	}

	a, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		return err
	}
	if req.ExpectedVersion != nil && *req.ExpectedVersion != a.Version {
		return ErrVersionConflict
	}

	if req.Tags != nil {
		a.Tags = *req.Tags
	}
	if req.Memo != nil {
		a.Memo = *req.Memo
	}
	if req.Status != nil {
		a.Status = *req.Status
	}

	// Compare-and-swap on the version read above; losing the race is a
	// conflict even when the caller supplied no expected version.
	ok, err := s.repo.UpdateVersioned(ctx, a, a.Version)
	if err != nil {
		return err
	}
	if !ok {
		return ErrVersionConflict
	}
	return nil
}

func (s *assetService) SoftDelete(ctx context.Context, id int64) error {
	if id <= 0 {
		return ErrIDRequired
	}
	ok, err := s.repo.SoftDelete(ctx, id)
	if err != nil {
		return err
	}
	if !ok {
		return ErrNotFound
	}
	return nil
}

func safeType(ct string) string {
	if ct == "" {
		return "application/octet-stream"
	}
	return ct
}

func toItems(assets []model.Asset) []ListItem {
	items := make([]ListItem, 0, len(assets))
	for _, a := range assets {
		items = append(items, ListItem{
			ID:        a.ID,
			Filename:  a.OriginalFilename,
			Status:    a.Status,
			Tags:      a.Tags,
			SizeBytes: a.SizeBytes,
			CreatedAt: a.CreatedAt,
		})
	}
	return items
}
