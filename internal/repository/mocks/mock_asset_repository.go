package mocks

import (
	"context"

	"imgapi/internal/model"
	"imgapi/internal/repository"
	"github.com/stretchr/testify/mock"
)

type MockAssetRepository struct {
	mock.Mock
}

func (m *MockAssetRepository) Create(ctx context.Context, a *model.Asset) (*model.Asset, error) {
	args := m.Called(ctx, a)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Asset), args.Error(1)
}

func (m *MockAssetRepository) FindByID(ctx context.Context, id int64) (*model.Asset, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*model.Asset), args.Error(1)
}

func (m *MockAssetRepository) ExistsByProjectAndFingerprint(ctx context.Context, projectID int64, fingerprint string) (bool, error) {
	args := m.Called(ctx, projectID, fingerprint)
	return args.Bool(0), args.Error(1)
}

func (m *MockAssetRepository) ListOffset(ctx context.Context, f repository.AssetFilter, page, size int) (*repository.PageResult[model.Asset], error) {
	args := m.Called(ctx, f, page, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*repository.PageResult[model.Asset]), args.Error(1)
}

func (m *MockAssetRepository) ListCursor(ctx context.Context, f repository.AssetFilter, cursor *int64, size int) ([]model.Asset, error) {
	args := m.Called(ctx, f, cursor, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Asset), args.Error(1)
}

func (m *MockAssetRepository) UpdateVersioned(ctx context.Context, a *model.Asset, expectedVersion int64) (bool, error) {
	args := m.Called(ctx, a, expectedVersion)
	return args.Bool(0), args.Error(1)
}

func (m *MockAssetRepository) SetThumbnail(ctx context.Context, id int64, thumbnailKey string) (bool, error) {
	args := m.Called(ctx, id, thumbnailKey)
	return args.Bool(0), args.Error(1)
}

func (m *MockAssetRepository) SetFailed(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}

func (m *MockAssetRepository) SoftDelete(ctx context.Context, id int64) (bool, error) {
	args := m.Called(ctx, id)
	return args.Bool(0), args.Error(1)
}
