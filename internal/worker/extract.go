// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/civicast/civicast/internal/agenda"
	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/log"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/store"
)

// AgendaFetcher fetches a meeting's agenda page.
type AgendaFetcher interface {
	AgendaHTML(ctx context.Context, meetingID string) (string, error)
}

// AudioExtractor derives an audio track from a local video file.
type AudioExtractor interface {
	Extract(ctx context.Context, videoPath, audioPath string) error
}

// Extract returns the DOWNLOADED phase function: fetch and parse the agenda,
// synthesize the chapter description, write the metadata record, and attempt
// the derived audio track. Audio failure does not fail the phase; it only
// leaves the audio artifact absent and is recorded in the metadata.
func Extract(art artifact.Store, fetch AgendaFetcher, audio AudioExtractor, runRoot string) PhaseFunc {
	return func(ctx context.Context, m *meeting.Meeting) (store.FieldPatch, error) {
		if err := fsutil.EnsureDir(runRoot); err != nil {
			return store.FieldPatch{}, fmt.Errorf("prepare run root: %w", err)
		}
		tmp, err := os.MkdirTemp(runRoot, "extract_")
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("scratch dir: %w", err)
		}
		defer os.RemoveAll(tmp)

		pageHTML, err := fetch.AgendaHTML(ctx, m.ID)
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("fetch agenda %s: %w", m.ID, err)
		}
		agendaPath := filepath.Join(tmp, "agenda.html")
		if err := os.WriteFile(agendaPath, []byte(pageHTML), 0o644); err != nil {
			return store.FieldPatch{}, fmt.Errorf("write agenda %s: %w", m.ID, err)
		}
		if err := art.WriteFrom(ctx, agendaPath, artifact.RawAgenda, m.ID); err != nil {
			return store.FieldPatch{}, fmt.Errorf("store agenda %s: %w", m.ID, err)
		}

		bookmarks, err := agenda.ParseBookmarks(pageHTML)
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("parse bookmarks %s: %w", m.ID, err)
		}
		items := agenda.Join(agenda.ParseItems(pageHTML), bookmarks)

		doc := agenda.ChapterDoc(m.Title, m.DateToken(), items)
		chaptersPath := filepath.Join(tmp, "chapters.txt")
		if err := os.WriteFile(chaptersPath, []byte(doc), 0o644); err != nil {
			return store.FieldPatch{}, fmt.Errorf("write chapters %s: %w", m.ID, err)
		}
		if err := art.WriteFrom(ctx, chaptersPath, artifact.DerivedChapters, m.ID); err != nil {
			return store.FieldPatch{}, fmt.Errorf("store chapters %s: %w", m.ID, err)
		}

		// Audio is optional: diarization is skipped when it is absent.
		audioErr := deriveAudio(ctx, art, audio, m.ID, tmp)
		if audioErr != nil {
			logger := log.WithComponentFromContext(ctx, "extract")
			logger.Warn().Err(audioErr).
				Msg("audio extraction failed, continuing without audio")
		}

		meta := agenda.Metadata{
			MeetingID: m.ID,
			Title:     m.Title,
			Date:      m.Date,
			AgendaData: agenda.Data{
				Items:     items,
				Bookmarks: bookmarks,
			},
			ExtractedAt: time.Now().UTC(),
		}
		if audioErr != nil {
			meta.AudioError = audioErr.Error()
		}
		metaJSON, err := json.Marshal(meta)
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("encode metadata %s: %w", m.ID, err)
		}
		metaPath := filepath.Join(tmp, "metadata.json")
		if err := os.WriteFile(metaPath, metaJSON, 0o644); err != nil {
			return store.FieldPatch{}, fmt.Errorf("write metadata %s: %w", m.ID, err)
		}
		if err := art.WriteFrom(ctx, metaPath, artifact.DerivedMetadata, m.ID); err != nil {
			return store.FieldPatch{}, fmt.Errorf("store metadata %s: %w", m.ID, err)
		}

		patch := store.FieldPatch{
			DerivedChaptersPath: store.StrPtr(artifact.DerivedChapters.RelPath(m.ID)),
			DerivedMetadataPath: store.StrPtr(artifact.DerivedMetadata.RelPath(m.ID)),
			AgendaBlob:          store.StrPtr(string(metaJSON)),
			ChaptersBlob:        store.StrPtr(doc),
		}
		if audioErr == nil {
			patch.DerivedAudioPath = store.StrPtr(artifact.DerivedAudio.RelPath(m.ID))
		}
		return patch, nil
	}
}

// deriveAudio materializes the raw video and extracts its audio track.
func deriveAudio(ctx context.Context, art artifact.Store, audio AudioExtractor, meetingID, tmp string) error {
	videoPath := filepath.Join(tmp, "video.mp4")
	if err := art.ReadInto(ctx, artifact.RawVideo, meetingID, videoPath); err != nil {
		return fmt.Errorf("materialize video: %w", err)
	}
	audioPath := filepath.Join(tmp, "audio.m4a")
	if err := audio.Extract(ctx, videoPath, audioPath); err != nil {
		return fmt.Errorf("extract audio: %w", err)
	}
	if err := art.WriteFrom(ctx, audioPath, artifact.DerivedAudio, meetingID); err != nil {
		return fmt.Errorf("store audio: %w", err)
	}
	return nil
}
