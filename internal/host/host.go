// SPDX-License-Identifier: MIT

// Package host is the client for the external video host's publishing API.
package host

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"

	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/httpx"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/worker"
)

// Client publishes videos via a single multipart POST. Uploads are
// long-running; the underlying transport has connection-level timeouts only.
type Client struct {
	baseURL   string
	tokenFile string
	http      *http.Client
	logger    zerolog.Logger
}

// New returns a client for the host API at baseURL. tokenFile holds the
// bearer token and is re-read per request so rotation needs no restart.
func New(baseURL, tokenFile string) *Client {
	return &Client{
		baseURL:   strings.TrimRight(baseURL, "/"),
		tokenFile: tokenFile,
		http:      httpx.NewTransferClient(),
		logger:    log.WithComponent("host"),
	}
}

type uploadResponse struct {
	URL       string            `json:"url"`
	Playlists map[string]string `json:"playlists"`
	Error     string            `json:"error"`
}

// Upload publishes the video and returns the published URL plus the
// per-playlist outcomes.
func (c *Client) Upload(ctx context.Context, req worker.UploadRequest) (*worker.UploadResult, error) {
	video, err := os.Open(req.VideoPath)
	if err != nil {
		return nil, fmt.Errorf("open video: %w", err)
	}
	defer video.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		err := writeUploadForm(mw, req, video)
		if cerr := mw.Close(); err == nil {
			err = cerr
		}
		pw.CloseWithError(err)
	}()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/videos", pr)
	if err != nil {
		return nil, fmt.Errorf("build upload request: %w", err)
	}
	httpReq.Header.Set("Content-Type", mw.FormDataContentType())
	if c.tokenFile != "" {
		token, err := os.ReadFile(c.tokenFile)
		if err != nil {
			return nil, fmt.Errorf("read host token: %w", err)
		}
		httpReq.Header.Set("Authorization", "Bearer "+strings.TrimSpace(string(token)))
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("upload: %w", err)
	}
	defer resp.Body.Close()

	var decoded uploadResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode upload response (status %d): %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("upload rejected (status %d): %s", resp.StatusCode, decoded.Error)
	}

	c.logger.Info().Str("url", decoded.URL).Msg("video published")
	return &worker.UploadResult{
		URL:       decoded.URL,
		Playlists: decoded.Playlists,
	}, nil
}

// writeUploadForm streams the metadata fields and the video into the form.
func writeUploadForm(mw *multipart.Writer, req worker.UploadRequest, video io.Reader) error {
	fields := map[string]string{
		"title":       req.Title,
		"description": req.Description,
		"tags":        strings.Join(req.Tags, ","),
		"playlists":   strings.Join(req.Playlists, ","),
	}
	for name, value := range fields {
		if err := mw.WriteField(name, value); err != nil {
			return err
		}
	}
	fw, err := mw.CreateFormFile("video", "video.mp4")
	if err != nil {
		return err
	}
	_, err = io.Copy(fw, video)
	return err
}
