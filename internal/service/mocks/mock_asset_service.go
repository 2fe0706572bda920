package mocks

import (
	"context"
	"time"

	"imgapi/internal/model"
	"imgapi/internal/service"
	"github.com/stretchr/testify/mock"
)

type MockAssetService struct {
	mock.Mock
}

func (m *MockAssetService) Upload(ctx context.Context, projectID int64, files []service.UploadFile) ([]int64, error) {
	args := m.Called(ctx, projectID, files)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]int64), args.Error(1)
}

func (m *MockAssetService) ListOffset(ctx context.Context, projectID int64, status *model.AssetStatus, tags string, page, size int) (*service.OffsetListResult, error) {
	args := m.Called(ctx, projectID, status, tags, page, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.OffsetListResult), args.Error(1)
}

func (m *MockAssetService) ListCursor(ctx context.Context, projectID int64, status *model.AssetStatus, tags string, cursor *int64, size int) (*service.CursorListResult, error) {
	args := m.Called(ctx, projectID, status, tags, cursor, size)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.CursorListResult), args.Error(1)
}

func (m *MockAssetService) Get(ctx context.Context, id int64, expiry time.Duration) (*service.AssetDetail, error) {
	args := m.Called(ctx, id, expiry)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*service.AssetDetail), args.Error(1)
}

func (m *MockAssetService) Patch(ctx context.Context, id int64, req service.PatchRequest) error {
	args := m.Called(ctx, id, req)
	return args.Error(0)
}

func (m *MockAssetService) SoftDelete(ctx context.Context, id int64) error {
	args := m.Called(ctx, id)
	return args.Error(0)
}
