package service

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"log"
	"math"
	"net/http"
	"sync"
	"time"

	// Decoders for the supported input formats.
	_ "image/gif"
	_ "image/png"

	"github.com/nfnt/resize"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"imgapi/internal/config"
	"imgapi/internal/model"
	"imgapi/internal/repository"
	"imgapi/internal/storage"
)

const (
	// thumbnailWidth is the fixed target width; height preserves aspect ratio.
	thumbnailWidth = 512

	// originalPresignExpiry limits how long the worker's own download URL for
	// the original stays valid.
	originalPresignExpiry = 300 * time.Second
)

// errAssetGone signals that the asset vanished or left PROCESSING while the
// job was in flight (typically a concurrent soft-delete). The job is discarded
// without consuming further attempts.
var errAssetGone = errors.New("asset gone or no longer processing")

// ThumbnailWorker consumes enqueued asset IDs and produces JPEG thumbnails.
// It is the only writer of the READY and FAILED statuses. Jobs are retried
// with exponential backoff and terminate in READY or FAILED.
type ThumbnailWorker struct {
	repo  repository.AssetRepository
	store storage.BlobStorage

	queue       chan int64
	workers     int
	maxAttempts int
	retryBase   time.Duration
	client      *http.Client

	wg     sync.WaitGroup
	cancel context.CancelFunc

	generated prometheus.Counter
	failed    prometheus.Counter
	dropped   prometheus.Counter
}

// NewThumbnailWorker constructs a worker pool sized from cfg and registers its
// metrics on reg.
func NewThumbnailWorker(repo repository.AssetRepository, store storage.BlobStorage, cfg config.ThumbnailConfig, reg prometheus.Registerer) (*ThumbnailWorker, error) {
	w := &ThumbnailWorker{
		repo:        repo,
		store:       store,
		queue:       make(chan int64, cfg.QueueSize),
		workers:     cfg.Workers,
		maxAttempts: cfg.MaxAttempts,
		retryBase:   time.Duration(cfg.RetryBaseMS) * time.Millisecond,
		client: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
		generated: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgapi_thumbnails_generated_total",
			Help: "Total number of thumbnails generated successfully.",
		}),
		failed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgapi_thumbnails_failed_total",
			Help: "Total number of assets marked FAILED after exhausting retries.",
		}),
		dropped: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "imgapi_thumbnail_enqueue_dropped_total",
			Help: "Total number of thumbnail jobs dropped because the queue was full.",
		}),
	}

	for _, c := range []prometheus.Counter{w.generated, w.failed, w.dropped} {
		if err := reg.Register(c); err != nil {
			return nil, err
		}
	}
	return w, nil
}

var _ ThumbnailEnqueuer = (*ThumbnailWorker)(nil)

// Enqueue hands an asset ID to the pool without blocking. When the queue is
// saturated the job is dropped and the asset stays PROCESSING.
func (w *ThumbnailWorker) Enqueue(id int64) bool {
	select {
	case w.queue <- id:
		return true
	default:
		w.dropped.Inc()
		logWorkerEvent(map[string]any{
			"event":    "thumbnail_enqueue_dropped",
			"asset_id": id,
		})
		return false
	}
}

// Start launches the worker goroutines. They run until Stop is called or the
// parent context is cancelled.
func (w *ThumbnailWorker) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)
	for i := 0; i < w.workers; i++ {
		w.wg.Add(1)
		go func() {
			defer w.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id := <-w.queue:
					w.process(ctx, id)
				}
			}
		}()
	}
}

// Stop cancels in-flight jobs and waits for the pool to drain.
func (w *ThumbnailWorker) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
}

// process drives one asset through the retry loop. Delays between attempts
// follow retryBase, retryBase*2, ... After the final failed attempt the asset
// is moved to FAILED and never retried again.
func (w *ThumbnailWorker) process(ctx context.Context, id int64) {
	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		err := w.generate(ctx, id)
		if err == nil {
			w.generated.Inc()
			return
		}
		if errors.Is(err, errAssetGone) {
			return
		}
		logWorkerEvent(map[string]any{
			"event":    "thumbnail_attempt_failed",
			"asset_id": id,
			"attempt":  attempt,
			"error":    err.Error(),
		})
		if attempt < w.maxAttempts {
			delay := w.retryBase << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return
			}
		}
	}

	w.failed.Inc()
	if _, err := w.repo.SetFailed(ctx, id); err != nil {
		logWorkerEvent(map[string]any{
			"event":    "thumbnail_mark_failed_error",
			"asset_id": id,
			"error":    err.Error(),
		})
	}
}

// generate runs a single attempt: download the original via a presigned URL,
// decode, resize to the fixed width, encode as JPEG, store the derivative and
// flip the asset to READY.
func (w *ThumbnailWorker) generate(ctx context.Context, id int64) error {
	a, err := w.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return errAssetGone
		}
		return fmt.Errorf("load asset: %w", err)
	}
	if a.Status != model.StatusProcessing {
		return errAssetGone
	}

	src, err := w.fetchOriginal(ctx, a.ObjectKey)
	if err != nil {
		return err
	}

	b := src.Bounds()
	th := uint(math.Round(float64(b.Dy()) * thumbnailWidth / float64(b.Dx())))
	if th == 0 {
		th = 1
	}
	thumb := resize.Resize(thumbnailWidth, th, src, resize.Lanczos3)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, thumb, nil); err != nil {
		return fmt.Errorf("encode thumbnail: %w", err)
	}

	info, err := w.store.Put(ctx, fmt.Sprintf("thumbnail/%d", a.ProjectID), &buf, storage.PutObjectOptions{
		Size:        int64(buf.Len()),
		ContentType: "image/jpeg",
	})
	if err != nil {
		return fmt.Errorf("store thumbnail: %w", err)
	}

	ok, err := w.repo.SetThumbnail(ctx, id, info.Key)
	if err != nil {
		return fmt.Errorf("mark ready: %w", err)
	}
	if !ok {
		// Soft-deleted (or otherwise left PROCESSING) between read and write;
		// the derivative must not resurrect the row.
		_ = w.store.Delete(ctx, info.Key)
		return errAssetGone
	}
	return nil
}

// fetchOriginal downloads and decodes the original image through a
// short-lived presigned URL. A decode failure counts as an attempt failure
// like any other.
func (w *ThumbnailWorker) fetchOriginal(ctx context.Context, objectKey string) (image.Image, error) {
	url, err := w.store.PresignGet(ctx, objectKey, originalPresignExpiry)
	if err != nil {
		return nil, fmt.Errorf("presign original: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("build download request: %w", err)
	}
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("download original: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("download original: unexpected status %d", resp.StatusCode)
	}

	src, _, err := image.Decode(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("decode original: %w", err)
	}
	return src, nil
}

func logWorkerEvent(data map[string]any) {
	data["ts"] = time.Now().UTC().Format(time.RFC3339Nano)
	data["component"] = "thumbnail_worker"
	if _, ok := data["level"]; !ok {
		data["level"] = "info"
	}

	b, err := json.Marshal(data)
	if err != nil {
		log.Printf("failed to marshal worker log: %v", err)
		return
	}
	log.SetFlags(0)
	log.Println(string(b))
}
