package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/foodior/apiserver/config"
)

const mediaCacheControl = "public, max-age=31536000, immutable"

// ErrForeignURL is returned when asked to delete a URL that does not point
// into this media host, such as an external recipe image link.
var ErrForeignURL = errors.New("url is not managed by this media host")

// File is an uploaded image held in memory.
type File struct {
	Filename    string
	ContentType string
	Data        []byte
}

// Size returns the file size in bytes.
func (f File) Size() int64 {
	return int64(len(f.Data))
}

// MediaHost uploads images to an object storage backend and maps object
// keys to public URLs.
type MediaHost struct {
	backend ObjectStorage
	baseURL string
	now     func() time.Time
}

// NewMediaHost wraps backend. Stored objects are served under baseURL.
func NewMediaHost(backend ObjectStorage, baseURL string) *MediaHost {
	return &MediaHost{
		backend: backend,
		baseURL: strings.TrimRight(baseURL, "/"),
		now:     time.Now,
	}
}

// NewBackend constructs the object storage backend selected in cfg.
func NewBackend(ctx context.Context, cfg config.MediaConfig) (ObjectStorage, error) {
	switch cfg.Backend {
	case config.MediaBackendMinio:
		return NewMinioClient(cfg.Minio)
	case config.MediaBackendGCS:
		return NewGCSClient(ctx, cfg.GCS)
	case config.MediaBackendS3:
		return NewS3Client(ctx, cfg.S3)
	default:
		return nil, fmt.Errorf("unsupported media backend %q", cfg.Backend)
	}
}

// EnsureBucket prepares the backend bucket.
func (h *MediaHost) EnsureBucket(ctx context.Context) error {
	return h.backend.EnsureBucket(ctx)
}

// Upload stores file under a fresh key and returns its public URL.
func (h *MediaHost) Upload(ctx context.Context, file File) (string, error) {
	if len(file.Data) == 0 {
		return "", errors.New("empty media file")
	}
	contentType := file.ContentType
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = http.DetectContentType(file.Data)
	}
	if !strings.HasPrefix(contentType, "image/") {
		return "", fmt.Errorf("unsupported media type %q", contentType)
	}

	key := h.objectKey(file.Filename)
	if err := h.backend.Put(ctx, key, bytes.NewReader(file.Data), file.Size(), contentType); err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	return h.baseURL + "/" + key, nil
}

// Delete removes the object behind url.
func (h *MediaHost) Delete(ctx context.Context, url string) error {
	key, err := h.KeyFromURL(url)
	if err != nil {
		return err
	}
	return h.backend.Delete(ctx, key)
}

// KeyFromURL returns the object key for a URL produced by Upload.
func (h *MediaHost) KeyFromURL(url string) (string, error) {
	prefix := h.baseURL + "/"
	if !strings.HasPrefix(url, prefix) {
		return "", ErrForeignURL
	}
	key := strings.TrimPrefix(url, prefix)
	if key == "" || strings.Contains(key, "..") {
		return "", ErrForeignURL
	}
	return key, nil
}

// Owns reports whether url points into this media host.
func (h *MediaHost) Owns(url string) bool {
	_, err := h.KeyFromURL(url)
	return err == nil
}

func (h *MediaHost) objectKey(filename string) string {
	d := h.now().UTC()
	ext := strings.ToLower(path.Ext(path.Base(filename)))
	if len(ext) > 6 || strings.ContainsAny(ext, `/\ `) {
		ext = ""
	}
	return fmt.Sprintf("images/%d/%02d/%02d/%s%s", d.Year(), d.Month(), d.Day(), uuid.New(), ext)
}
