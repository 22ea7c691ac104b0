package storage

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/foodior/apiserver/config"
)

// pngHeader is enough for http.DetectContentType to report image/png.
var pngHeader = []byte("\x89PNG\r\n\x1a\n0000")

func TestMediaHostUploadAndDelete(t *testing.T) {
	ctx := context.Background()
	backend := NewMemoryStorage()
	host := NewMediaHost(backend, "https://cdn.example.com/foodior/")
	host.now = func() time.Time { return time.Date(2026, 3, 7, 0, 0, 0, 0, time.UTC) }

	url, err := host.Upload(ctx, File{Filename: "Cake.PNG", Data: pngHeader})
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(url, "https://cdn.example.com/foodior/images/2026/03/07/"))
	require.True(t, strings.HasSuffix(url, ".png"))
	require.Len(t, backend.Keys(), 1)
	require.True(t, host.Owns(url))

	require.NoError(t, host.Delete(ctx, url))
	require.Empty(t, backend.Keys())
	require.Len(t, backend.Deleted(), 1)
}

func TestMediaHostRejectsNonImages(t *testing.T) {
	host := NewMediaHost(NewMemoryStorage(), "https://cdn.example.com")

	_, err := host.Upload(context.Background(), File{Filename: "notes.txt", Data: []byte("plain text")})
	require.Error(t, err)

	_, err = host.Upload(context.Background(), File{Filename: "empty.png"})
	require.Error(t, err)
}

func TestMediaHostForeignURL(t *testing.T) {
	backend := NewMemoryStorage()
	host := NewMediaHost(backend, "https://cdn.example.com/foodior")

	for _, url := range []string{
		"https://images.unsplash.com/photo.jpg",
		"https://cdn.example.com/foodior/",
		"https://cdn.example.com/foodior/../secrets",
		"https://cdn.example.com/foodiorX/a.png",
	} {
		err := host.Delete(context.Background(), url)
		require.ErrorIsf(t, err, ErrForeignURL, "url %q", url)
	}
	require.Empty(t, backend.Deleted())
}

func TestMediaHostUploadFailure(t *testing.T) {
	backend := NewMemoryStorage()
	backend.PutErr = errors.New("host down")
	host := NewMediaHost(backend, "https://cdn.example.com")

	_, err := host.Upload(context.Background(), File{Filename: "a.png", Data: pngHeader})
	require.ErrorIs(t, err, backend.PutErr)
}

func TestNewBackendUnsupported(t *testing.T) {
	_, err := NewBackend(context.Background(), config.MediaConfig{Backend: "ftp"})
	require.Error(t, err)
}

func TestNewMinioClientValidatesConfig(t *testing.T) {
	_, err := NewMinioClient(config.MinioConfig{})
	require.Error(t, err)

	_, err = NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b"})
	require.Error(t, err)

	client, err := NewMinioClient(config.MinioConfig{Endpoint: "localhost:9000", AccessKey: "a", SecretKey: "b", Bucket: "foodior"})
	require.NoError(t, err)
	require.Equal(t, "foodior", client.Bucket())
}
