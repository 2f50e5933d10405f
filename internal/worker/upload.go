// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/config"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/store"
)

// UploadRequest carries everything the external video host needs.
type UploadRequest struct {
	Title       string
	Description string
	Tags        []string
	Playlists   []string
	VideoPath   string
}

// UploadResult is the host's response: the published URL plus the outcome
// per requested playlist ("ok" or an error text).
type UploadResult struct {
	URL       string
	Playlists map[string]string
}

// HostClient publishes a video to the external host.
type HostClient interface {
	Upload(ctx context.Context, req UploadRequest) (*UploadResult, error)
}

// Upload returns the EXTRACTED phase function: publish the video with the
// chapter description and playlist assignments, patch the published URL.
func Upload(art artifact.Store, host HostClient, rules []config.PlaylistRule, locationTag, runRoot string, getenv func(string) string) PhaseFunc {
	return func(ctx context.Context, m *meeting.Meeting) (store.FieldPatch, error) {
		description := m.ChaptersBlob
		if description == "" {
			var err error
			description, err = readChapters(ctx, art, m.ID, runRoot)
			if err != nil {
				return store.FieldPatch{}, fmt.Errorf("%w: chapters for %s unavailable: %v", ErrPrecondition, m.ID, err)
			}
		}

		if err := fsutil.EnsureDir(runRoot); err != nil {
			return store.FieldPatch{}, fmt.Errorf("prepare run root: %w", err)
		}
		tmp, err := os.MkdirTemp(runRoot, "upload_")
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)

		videoPath := filepath.Join(tmp, "video.mp4")
		if err := art.ReadInto(ctx, artifact.RawVideo, m.ID, videoPath); err != nil {
			return store.FieldPatch{}, fmt.Errorf("%w: raw video for %s unavailable: %v", ErrPrecondition, m.ID, err)
		}

		tags := []string{"municipal government", "public meeting"}
		if locationTag != "" {
			tags = append(tags, locationTag)
		}
		req := UploadRequest{
			Title:       fmt.Sprintf("%s - %s | %s", m.Title, m.DateToken(), locationTag),
			Description: description,
			Tags:        tags,
			Playlists:   config.ResolvePlaylists(rules, m.Title, getenv),
			VideoPath:   videoPath,
		}

		result, err := host.Upload(ctx, req)
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("upload %s: %w", m.ID, err)
		}
		logger := log.WithComponentFromContext(ctx, "upload")
		for playlist, outcome := range result.Playlists {
			logger.Info().
				Str("playlist", playlist).
				Str("outcome", outcome).
				Msg("playlist assignment")
		}

		return store.FieldPatch{
			PublishedURL: store.StrPtr(result.URL),
		}, nil
	}
}

// readChapters falls back to the stored chapters artifact when the state
// store's blob is empty.
func readChapters(ctx context.Context, art artifact.Store, meetingID, runRoot string) (string, error) {
	if err := fsutil.EnsureDir(runRoot); err != nil {
		return "", err
	}
	tmp, err := os.MkdirTemp(runRoot, "chapters_")
	if err != nil {
		return "", err
	}
	defer os.RemoveAll(tmp)

	local := filepath.Join(tmp, "chapters.txt")
	if err := art.ReadInto(ctx, artifact.DerivedChapters, meetingID, local); err != nil {
		return "", err
	}
	data, err := os.ReadFile(local)
	if err != nil {
		return "", err
	}
	return string(data), nil
}
