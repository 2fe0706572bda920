package service

import (
	"bytes"
	"context"
	"database/sql"
	"image"
	"image/color"
	"image/png"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"imgapi/internal/config"
	"imgapi/internal/model"
	repoMocks "imgapi/internal/repository/mocks"
	"imgapi/internal/storage"
	storeMocks "imgapi/internal/storage/mocks"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestWorker(t *testing.T, repo *repoMocks.MockAssetRepository, store *storeMocks.MockBlobStorage) *ThumbnailWorker {
	t.Helper()
	w, err := NewThumbnailWorker(repo, store, config.ThumbnailConfig{
		Workers:     1,
		QueueSize:   4,
		MaxAttempts: 3,
		RetryBaseMS: 1,
	}, prometheus.NewRegistry())
	require.NoError(t, err)
	return w
}

// pngBytes encodes a solid-color PNG of the given dimensions.
func pngBytes(t *testing.T, width, height int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, width, height))
	for x := 0; x < width; x++ {
		for y := 0; y < height; y++ {
			img.Set(x, y, color.RGBA{R: 200, G: 120, B: 40, A: 255})
		}
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func serveBytes(t *testing.T, body []byte) *httptest.Server {
	t.Helper()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write(body)
	}))
	t.Cleanup(ts.Close)
	return ts
}

func TestThumbnailWorker_GenerateSuccess(t *testing.T) {
	ctx := context.Background()
	ts := serveBytes(t, pngBytes(t, 1024, 768))

	mRepo := new(repoMocks.MockAssetRepository)
	mStore := new(storeMocks.MockBlobStorage)

	mRepo.On("FindByID", ctx, int64(7)).Return(&model.Asset{
		ID: 7, ProjectID: 42, ObjectKey: "original/42/o", Status: model.StatusProcessing,
	}, nil)
	mStore.On("PresignGet", ctx, "original/42/o", originalPresignExpiry).Return(ts.URL, nil)
	mStore.On("Put", ctx, "thumbnail/42", mock.Anything, mock.MatchedBy(func(opt storage.PutObjectOptions) bool {
		return opt.ContentType == "image/jpeg" && opt.Size > 0
	})).Return(storage.ObjectInfo{Key: "thumbnail/42/t"}, nil)
	mRepo.On("SetThumbnail", ctx, int64(7), "thumbnail/42/t").Return(true, nil)

	w := newTestWorker(t, mRepo, mStore)
	w.process(ctx, 7)

	mRepo.AssertExpectations(t)
	mStore.AssertExpectations(t)
	mRepo.AssertNotCalled(t, "SetFailed", mock.Anything, mock.Anything)
}

// A corrupt original exhausts all three attempts and lands in FAILED, never to
// be retried again.
func TestThumbnailWorker_DecodeFailureExhaustsRetries(t *testing.T) {
	ctx := context.Background()
	ts := serveBytes(t, []byte("definitely not an image"))

	mRepo := new(repoMocks.MockAssetRepository)
	mStore := new(storeMocks.MockBlobStorage)

	mRepo.On("FindByID", ctx, int64(7)).Return(&model.Asset{
		ID: 7, ProjectID: 42, ObjectKey: "original/42/o", Status: model.StatusProcessing,
	}, nil)
	mStore.On("PresignGet", ctx, "original/42/o", originalPresignExpiry).Return(ts.URL, nil)
	mRepo.On("SetFailed", ctx, int64(7)).Return(true, nil)

	w := newTestWorker(t, mRepo, mStore)
	w.process(ctx, 7)

	mRepo.AssertNumberOfCalls(t, "FindByID", 3)
	mRepo.AssertNumberOfCalls(t, "SetFailed", 1)
	mStore.AssertNotCalled(t, "Put", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// An asset soft-deleted between read and terminal write must not be
// resurrected: the derivative is discarded and no status is written.
func TestThumbnailWorker_SoftDeleteRaceDiscardsResult(t *testing.T) {
	ctx := context.Background()
	ts := serveBytes(t, pngBytes(t, 64, 64))

	mRepo := new(repoMocks.MockAssetRepository)
	mStore := new(storeMocks.MockBlobStorage)

	mRepo.On("FindByID", ctx, int64(7)).Return(&model.Asset{
		ID: 7, ProjectID: 42, ObjectKey: "original/42/o", Status: model.StatusProcessing,
	}, nil)
	mStore.On("PresignGet", ctx, "original/42/o", originalPresignExpiry).Return(ts.URL, nil)
	mStore.On("Put", ctx, "thumbnail/42", mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{Key: "thumbnail/42/t"}, nil)
	// Zero rows matched: the asset left PROCESSING while we worked.
	mRepo.On("SetThumbnail", ctx, int64(7), "thumbnail/42/t").Return(false, nil)
	mStore.On("Delete", ctx, "thumbnail/42/t").Return(nil)

	w := newTestWorker(t, mRepo, mStore)
	w.process(ctx, 7)

	// One attempt only; the gone asset is not an error to retry.
	mRepo.AssertNumberOfCalls(t, "FindByID", 1)
	mRepo.AssertNotCalled(t, "SetFailed", mock.Anything, mock.Anything)
	mStore.AssertExpectations(t)
}

func TestThumbnailWorker_SkipsAssetAlreadyDeleted(t *testing.T) {
	ctx := context.Background()

	mRepo := new(repoMocks.MockAssetRepository)
	mStore := new(storeMocks.MockBlobStorage)
	mRepo.On("FindByID", ctx, int64(7)).Return(nil, sql.ErrNoRows)

	w := newTestWorker(t, mRepo, mStore)
	w.process(ctx, 7)

	mRepo.AssertNumberOfCalls(t, "FindByID", 1)
	mRepo.AssertNotCalled(t, "SetFailed", mock.Anything, mock.Anything)
	mStore.AssertNotCalled(t, "PresignGet", mock.Anything, mock.Anything, mock.Anything)
}

func TestThumbnailWorker_EnqueueBackpressure(t *testing.T) {
	mRepo := new(repoMocks.MockAssetRepository)
	mStore := new(storeMocks.MockBlobStorage)
	w, err := NewThumbnailWorker(mRepo, mStore, config.ThumbnailConfig{
		Workers:     1,
		QueueSize:   1,
		MaxAttempts: 3,
		RetryBaseMS: 1,
	}, prometheus.NewRegistry())
	require.NoError(t, err)

	// Not started: the first job fills the queue, the second is dropped.
	assert.True(t, w.Enqueue(1))
	assert.False(t, w.Enqueue(2))
}

func TestThumbnailWorker_EndToEndThroughQueue(t *testing.T) {
	ts := serveBytes(t, pngBytes(t, 800, 600))

	mRepo := new(repoMocks.MockAssetRepository)
	mStore := new(storeMocks.MockBlobStorage)

	done := make(chan struct{})
	mRepo.On("FindByID", mock.Anything, int64(7)).Return(&model.Asset{
		ID: 7, ProjectID: 42, ObjectKey: "original/42/o", Status: model.StatusProcessing,
	}, nil)
	mStore.On("PresignGet", mock.Anything, "original/42/o", originalPresignExpiry).Return(ts.URL, nil)
	mStore.On("Put", mock.Anything, "thumbnail/42", mock.Anything, mock.Anything).
		Return(storage.ObjectInfo{Key: "thumbnail/42/t"}, nil)
	mRepo.On("SetThumbnail", mock.Anything, int64(7), "thumbnail/42/t").
		Run(func(mock.Arguments) { close(done) }).
		Return(true, nil)

	w := newTestWorker(t, mRepo, mStore)
	w.Start(context.Background())
	defer w.Stop()

	require.True(t, w.Enqueue(7))

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("thumbnail job did not complete")
	}
}
