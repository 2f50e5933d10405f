// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/store"
)

// Downloader fetches a meeting video from its source page to a local file.
type Downloader interface {
	Download(ctx context.Context, sourceURL, destPath string) error
}

// Download returns the DISCOVERED phase function: fetch the source video and
// persist it as RAW_VIDEO.
func Download(art artifact.Store, dl Downloader, runRoot string) PhaseFunc {
	return func(ctx context.Context, m *meeting.Meeting) (store.FieldPatch, error) {
		if m.SourceURL == "" {
			return store.FieldPatch{}, fmt.Errorf("%w: meeting %s has no source URL", ErrPrecondition, m.ID)
		}

		if err := fsutil.EnsureDir(runRoot); err != nil {
			return store.FieldPatch{}, fmt.Errorf("prepare run root: %w", err)
		}
		tmp, err := os.MkdirTemp(runRoot, "download_")
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)

		dest := filepath.Join(tmp, "video.mp4")
		if err := dl.Download(ctx, m.SourceURL, dest); err != nil {
			return store.FieldPatch{}, fmt.Errorf("download %s: %w", m.ID, err)
		}
		if err := fsutil.IsRegularFile(dest); err != nil {
			return store.FieldPatch{}, fmt.Errorf("download %s produced no file: %w", m.ID, err)
		}

		if err := art.WriteFrom(ctx, dest, artifact.RawVideo, m.ID); err != nil {
			return store.FieldPatch{}, fmt.Errorf("store video %s: %w", m.ID, err)
		}
		return store.FieldPatch{
			RawVideoPath: store.StrPtr(artifact.RawVideo.RelPath(m.ID)),
		}, nil
	}
}
