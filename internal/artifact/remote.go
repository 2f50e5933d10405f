// SPDX-License-Identifier: MIT

package artifact

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"github.com/civicast/civicast/internal/httpx"
	"github.com/google/renameio/v2"
)

// Remote stores artifacts behind the pipeline's HTTP file server, letting a
// worker run on a different machine than the storage (e.g. a GPU-only
// diarize node).
type Remote struct {
	baseURL string
	client  *http.Client
}

// NewRemote returns a remote store against the file server at baseURL.
func NewRemote(baseURL string) *Remote {
	return &Remote{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  httpx.NewTransferClient(),
	}
}

// PathFor returns the storage-root-relative canonical path. This matches the
// path the file server reports on upload.
func (r *Remote) PathFor(kind Kind, meetingID string) string {
	return kind.RelPath(meetingID)
}

// URLFor returns the download URL of the artifact.
func (r *Remote) URLFor(kind Kind, meetingID string) string {
	return r.baseURL + "/files/" + kind.RelPath(meetingID)
}

// ReadInto downloads the artifact to localPath.
func (r *Remote) ReadInto(ctx context.Context, kind Kind, meetingID, localPath string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, r.URLFor(kind, meetingID), nil)
	if err != nil {
		return err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("fetch artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return fmt.Errorf("%w: %s %s", ErrNotExist, kind, meetingID)
	default:
		return fmt.Errorf("fetch artifact: unexpected status %d", resp.StatusCode)
	}

	pending, err := renameio.TempFile("", localPath)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if _, err := io.Copy(pending, resp.Body); err != nil {
		return fmt.Errorf("download: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}

type uploadResponse struct {
	Success bool   `json:"success"`
	Path    string `json:"path"`
	Error   string `json:"error,omitempty"`
}

// WriteFrom uploads localPath as the artifact via the multipart endpoint.
// The upload streams through a pipe; the file is never buffered in memory.
func (r *Remote) WriteFrom(ctx context.Context, localPath string, kind Kind, meetingID string) error {
	f, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	go func() {
		part, err := mw.CreateFormFile("file", filepath.Base(localPath))
		if err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, f); err != nil {
			_ = pw.CloseWithError(err)
			return
		}
		_ = pw.CloseWithError(mw.Close())
	}()

	// Escape the meeting ID so characters like "/" or "%" cannot reroute or
	// malform the request path.
	endpoint := fmt.Sprintf("%s/upload/%s/%s", r.baseURL, kind, url.PathEscape(meetingID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, pr)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload artifact: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("upload artifact: status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out uploadResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return fmt.Errorf("upload artifact: decode response: %w", err)
	}
	if !out.Success {
		return fmt.Errorf("upload artifact: server rejected: %s", out.Error)
	}
	return nil
}

// Exists probes the artifact with a HEAD request.
func (r *Remote) Exists(ctx context.Context, kind Kind, meetingID string) (bool, error) {
	resp, err := r.head(ctx, kind, meetingID)
	if err != nil {
		return false, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		return true, nil
	case http.StatusNotFound:
		return false, nil
	default:
		return false, fmt.Errorf("probe artifact: unexpected status %d", resp.StatusCode)
	}
}

// SizeOf returns the Content-Length reported for the artifact.
func (r *Remote) SizeOf(ctx context.Context, kind Kind, meetingID string) (int64, error) {
	resp, err := r.head(ctx, kind, meetingID)
	if err != nil {
		return 0, err
	}
	defer func() { _ = resp.Body.Close() }()

	switch resp.StatusCode {
	case http.StatusOK:
		if resp.ContentLength < 0 {
			return 0, fmt.Errorf("probe artifact: missing content length")
		}
		return resp.ContentLength, nil
	case http.StatusNotFound:
		return 0, fmt.Errorf("%w: %s %s", ErrNotExist, kind, meetingID)
	default:
		return 0, fmt.Errorf("probe artifact: unexpected status %d", resp.StatusCode)
	}
}

func (r *Remote) head(ctx context.Context, kind Kind, meetingID string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, r.URLFor(kind, meetingID), nil)
	if err != nil {
		return nil, err
	}
	return r.client.Do(req)
}
