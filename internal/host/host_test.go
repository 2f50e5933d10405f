// SPDX-License-Identifier: MIT

package host

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/civicast/civicast/internal/worker"
)

func TestUpload(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("video-bytes"), 0o644))
	tokenPath := filepath.Join(dir, "token")
	require.NoError(t, os.WriteFile(tokenPath, []byte("s3cret\n"), 0o600))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/videos", r.URL.Path)
		require.Equal(t, "Bearer s3cret", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseMultipartForm(1<<20))

		assert.Equal(t, "City Commission - 2025-06-05 | Springfield", r.FormValue("title"))
		assert.Equal(t, "chapters here", r.FormValue("description"))
		assert.Equal(t, "P1,P2", r.FormValue("playlists"))

		file, _, err := r.FormFile("video")
		require.NoError(t, err)
		defer file.Close()

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"url":"https://video.example.com/v/x1","playlists":{"P1":"ok","P2":"ok"}}`))
	}))
	defer srv.Close()

	c := New(srv.URL, tokenPath)
	result, err := c.Upload(context.Background(), worker.UploadRequest{
		Title:       "City Commission - 2025-06-05 | Springfield",
		Description: "chapters here",
		Tags:        []string{"municipal government"},
		Playlists:   []string{"P1", "P2"},
		VideoPath:   videoPath,
	})
	require.NoError(t, err)
	assert.Equal(t, "https://video.example.com/v/x1", result.URL)
	assert.Equal(t, "ok", result.Playlists["P1"])
}

func TestUploadRejected(t *testing.T) {
	dir := t.TempDir()
	videoPath := filepath.Join(dir, "video.mp4")
	require.NoError(t, os.WriteFile(videoPath, []byte("x"), 0o644))

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte(`{"error":"quota exceeded"}`))
	}))
	defer srv.Close()

	_, err := New(srv.URL, "").Upload(context.Background(), worker.UploadRequest{VideoPath: videoPath})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quota exceeded")
}
