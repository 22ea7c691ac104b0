package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/foodior/apiserver/internal/metrics"
	"github.com/foodior/apiserver/internal/mq"
	"github.com/foodior/apiserver/internal/storage"
)

// MediaStore is the media host contract used by the services.
type MediaStore interface {
	Upload(ctx context.Context, file storage.File) (string, error)
	Delete(ctx context.Context, url string) error
	Owns(url string) bool
}

// Publisher queues JSON payloads on a named channel.
type Publisher interface {
	PublishJSON(ctx context.Context, channel string, payload any) (string, error)
}

// MediaCleanup is the payload of a queued media deletion.
type MediaCleanup struct {
	URL    string `json:"url"`
	Reason string `json:"reason"`
}

// MediaJanitor uploads media and releases it on a best-effort basis.
// Failed deletions are logged, counted and, when a queue is configured,
// handed to the worker for retry. They never fail the caller.
type MediaJanitor struct {
	media   MediaStore
	queue   Publisher
	channel string
	logger  *slog.Logger
}

// NewMediaJanitor wraps media. queue may be nil.
func NewMediaJanitor(media MediaStore, queue Publisher, channel string, logger *slog.Logger) *MediaJanitor {
	if logger == nil {
		logger = slog.Default()
	}
	return &MediaJanitor{media: media, queue: queue, channel: channel, logger: logger}
}

// Upload stores file and returns its URL. Failures are reported as
// *UploadError attributed to field.
func (j *MediaJanitor) Upload(ctx context.Context, field string, file storage.File) (string, error) {
	url, err := j.media.Upload(ctx, file)
	if err != nil {
		metrics.MediaOperations.WithLabelValues("upload", "error").Inc()
		return "", &UploadError{Field: field, Message: "Failed to upload media", Err: err}
	}
	metrics.MediaOperations.WithLabelValues("upload", "ok").Inc()
	return url, nil
}

// Release deletes the media behind url. External URLs are left alone.
func (j *MediaJanitor) Release(ctx context.Context, url, reason string) {
	if url == "" {
		return
	}
	if !j.media.Owns(url) {
		j.logger.Debug("skipping release of external media", "url", url)
		return
	}

	err := j.media.Delete(ctx, url)
	if err == nil {
		metrics.MediaOperations.WithLabelValues("delete", "ok").Inc()
		return
	}

	metrics.MediaOperations.WithLabelValues("delete", "error").Inc()
	j.logger.Warn("media release failed", "url", url, "reason", reason, "error", err)
	if j.queue == nil {
		return
	}
	if _, err := j.queue.PublishJSON(ctx, j.channel, MediaCleanup{URL: url, Reason: reason}); err != nil {
		j.logger.Error("media cleanup not queued", "url", url, "error", err)
	}
}

// HandleCleanup processes a queued MediaCleanup. Returning an error asks the
// queue to redeliver.
func (j *MediaJanitor) HandleCleanup(ctx context.Context, msg mq.Message) error {
	var job MediaCleanup
	if err := json.Unmarshal(msg.Data, &job); err != nil {
		j.logger.Error("discarding malformed media cleanup", "id", msg.ID, "error", err)
		return nil
	}

	err := j.media.Delete(ctx, job.URL)
	if errors.Is(err, storage.ErrForeignURL) {
		return nil
	}
	if err != nil {
		metrics.MediaOperations.WithLabelValues("delete", "error").Inc()
		return fmt.Errorf("delete %s: %w", job.URL, err)
	}
	metrics.MediaOperations.WithLabelValues("delete", "ok").Inc()
	j.logger.Info("queued media released", "url", job.URL, "attempt", msg.Attempt())
	return nil
}
