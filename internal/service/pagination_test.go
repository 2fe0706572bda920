package service

import (
	"context"
	"database/sql"
	"sort"
	"strings"
	"testing"
	"time"

	"imgapi/internal/model"
	"imgapi/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeAssetRepo is an in-memory AssetRepository implementing the shared list
// predicate, used to check that both pagination modes walk the same view.
type fakeAssetRepo struct {
	assets []model.Asset
}

func (f *fakeAssetRepo) matches(a model.Asset, flt repository.AssetFilter) bool {
	if a.ProjectID != flt.ProjectID || a.SoftDeleted {
		return false
	}
	if flt.Status != nil && a.Status != *flt.Status {
		return false
	}
	if flt.Tags != "" && !strings.Contains(strings.ToLower(a.Tags), strings.ToLower(flt.Tags)) {
		return false
	}
	return true
}

func (f *fakeAssetRepo) filtered(flt repository.AssetFilter) []model.Asset {
	out := make([]model.Asset, 0)
	for _, a := range f.assets {
		if f.matches(a, flt) {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID > out[j].ID })
	return out
}

func (f *fakeAssetRepo) ListOffset(_ context.Context, flt repository.AssetFilter, page, size int) (*repository.PageResult[model.Asset], error) {
	all := f.filtered(flt)
	start := page * size
	if start > len(all) {
		start = len(all)
	}
	end := start + size
	if end > len(all) {
		end = len(all)
	}
	return &repository.PageResult[model.Asset]{Items: all[start:end], Total: len(all)}, nil
}

func (f *fakeAssetRepo) ListCursor(_ context.Context, flt repository.AssetFilter, cursor *int64, size int) ([]model.Asset, error) {
	out := make([]model.Asset, 0, size)
	for _, a := range f.filtered(flt) {
		if cursor != nil && a.ID >= *cursor {
			continue
		}
		out = append(out, a)
		if len(out) == size {
			break
		}
	}
	return out, nil
}

func (f *fakeAssetRepo) Create(context.Context, *model.Asset) (*model.Asset, error) {
	panic("not used")
}

func (f *fakeAssetRepo) FindByID(_ context.Context, id int64) (*model.Asset, error) {
	for i := range f.assets {
		if f.assets[i].ID == id && !f.assets[i].SoftDeleted {
			a := f.assets[i]
			return &a, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (f *fakeAssetRepo) ExistsByProjectAndFingerprint(context.Context, int64, string) (bool, error) {
	panic("not used")
}

func (f *fakeAssetRepo) UpdateVersioned(context.Context, *model.Asset, int64) (bool, error) {
	panic("not used")
}

func (f *fakeAssetRepo) SetThumbnail(context.Context, int64, string) (bool, error) {
	panic("not used")
}

func (f *fakeAssetRepo) SetFailed(context.Context, int64) (bool, error) {
	panic("not used")
}

func (f *fakeAssetRepo) SoftDelete(context.Context, int64) (bool, error) {
	panic("not used")
}

func seededRepo() *fakeAssetRepo {
	repo := &fakeAssetRepo{}
	statuses := []model.AssetStatus{model.StatusProcessing, model.StatusReady, model.StatusFailed}
	for i := int64(1); i <= 25; i++ {
		a := model.Asset{
			ID:        i,
			ProjectID: 1,
			Status:    statuses[i%3],
			Tags:      "Batch,holiday",
		}
		if i%5 == 0 {
			a.SoftDeleted = true
		}
		if i%4 == 0 {
			a.Tags = "work"
		}
		repo.assets = append(repo.assets, a)
	}
	// Another project's rows must never leak into project 1 listings.
	repo.assets = append(repo.assets, model.Asset{ID: 100, ProjectID: 2, Status: model.StatusReady})
	return repo
}

func collectCursorIDs(t *testing.T, svc AssetService, status *model.AssetStatus, tags string, size int) []int64 {
	t.Helper()
	ctx := context.Background()

	ids := make([]int64, 0)
	var cursor *int64
	for {
		res, err := svc.ListCursor(ctx, 1, status, tags, cursor, size)
		require.NoError(t, err)
		for _, it := range res.Items {
			ids = append(ids, it.ID)
		}
		if res.NextCursor == nil {
			break
		}
		cursor = res.NextCursor
	}
	return ids
}

func collectOffsetIDs(t *testing.T, svc AssetService, status *model.AssetStatus, tags string, size int) []int64 {
	t.Helper()
	ctx := context.Background()

	ids := make([]int64, 0)
	for page := 0; ; page++ {
		res, err := svc.ListOffset(ctx, 1, status, tags, page, size)
		require.NoError(t, err)
		if len(res.Items) == 0 {
			break
		}
		for _, it := range res.Items {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Both modes must walk the same filtered view in the same id-descending order.
func TestPagination_CursorMatchesOffset(t *testing.T) {
	ready := model.StatusReady

	tests := []struct {
		name   string
		status *model.AssetStatus
		tags   string
		size   int
	}{
		{name: "no filter, size 4", size: 4},
		{name: "no filter, size 1", size: 1},
		{name: "status filter", status: &ready, size: 3},
		{name: "tags substring is case-insensitive", tags: "HOLIDAY", size: 5},
		{name: "status and tags", status: &ready, tags: "work", size: 2},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewAssetService(seededRepo(), nil, &stubEnqueuer{}, 5*time.Minute)

			cursorIDs := collectCursorIDs(t, svc, tt.status, tt.tags, tt.size)
			offsetIDs := collectOffsetIDs(t, svc, tt.status, tt.tags, tt.size)

			assert.Equal(t, offsetIDs, cursorIDs)
			assert.True(t, sort.SliceIsSorted(cursorIDs, func(i, j int) bool {
				return cursorIDs[i] > cursorIDs[j]
			}), "ids must be strictly descending")
			for _, id := range cursorIDs {
				assert.NotEqual(t, int64(100), id, "foreign project row leaked")
				assert.NotZero(t, id%5, "soft-deleted row leaked")
			}
		})
	}
}

// Soft-deleted rows disappear from listings and direct lookup.
func TestPagination_SoftDeleteVisibility(t *testing.T) {
	ctx := context.Background()
	repo := seededRepo()
	svc := NewAssetService(repo, nil, &stubEnqueuer{}, 5*time.Minute)

	res, err := svc.ListOffset(ctx, 1, nil, "", 0, 100)
	require.NoError(t, err)
	for _, it := range res.Items {
		assert.NotZero(t, it.ID%5)
	}

	_, err = repo.FindByID(ctx, 5)
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
