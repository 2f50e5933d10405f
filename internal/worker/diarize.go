// SPDX-License-Identifier: MIT

package worker

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/civicast/civicast/internal/artifact"
	"github.com/civicast/civicast/internal/fsutil"
	"github.com/civicast/civicast/internal/meeting"
	"github.com/civicast/civicast/internal/store"
)

// Diarizer runs the external diarization tool over an audio file inside
// scratchDir and returns the path of the produced JSON document.
type Diarizer interface {
	Diarize(ctx context.Context, scratchDir, audioFile string) (outputFile string, err error)
}

// Diarize returns the UPLOADED phase function: materialize the derived audio
// into a per-job scratch directory, run the diarization tool, persist its
// JSON output. Missing audio is a precondition failure (extraction chose to
// continue without it), not a retryable error.
//
// The scratch directory is world-writable because the tool runs in a
// container whose subordinate user must write into it. It is unique per job
// and removed on every exit path.
func Diarize(art artifact.Store, diar Diarizer, runRoot string) PhaseFunc {
	return func(ctx context.Context, m *meeting.Meeting) (store.FieldPatch, error) {
		ok, err := art.Exists(ctx, artifact.DerivedAudio, m.ID)
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("check audio %s: %w", m.ID, err)
		}
		if !ok {
			return store.FieldPatch{}, fmt.Errorf("%w: derived audio for %s is absent, diarization impossible", ErrPrecondition, m.ID)
		}

		scratch := filepath.Join(runRoot, fmt.Sprintf("diarize_%s_%d", meeting.SanitizeID(m.ID), time.Now().UnixMilli()))
		if err := fsutil.WorldWritableDir(scratch); err != nil {
			return store.FieldPatch{}, fmt.Errorf("scratch dir: %w", err)
		}
		defer os.RemoveAll(scratch)

		audioPath := filepath.Join(scratch, "audio.m4a")
		if err := art.ReadInto(ctx, artifact.DerivedAudio, m.ID, audioPath); err != nil {
			return store.FieldPatch{}, fmt.Errorf("materialize audio %s: %w", m.ID, err)
		}

		output, err := diar.Diarize(ctx, scratch, "audio.m4a")
		if err != nil {
			return store.FieldPatch{}, fmt.Errorf("diarize %s: %w", m.ID, err)
		}
		if err := fsutil.IsRegularFile(output); err != nil {
			return store.FieldPatch{}, fmt.Errorf("diarize %s produced no output: %w", m.ID, err)
		}

		if err := art.WriteFrom(ctx, output, artifact.DerivedDiarized, m.ID); err != nil {
			return store.FieldPatch{}, fmt.Errorf("store diarization %s: %w", m.ID, err)
		}
		return store.FieldPatch{
			DerivedDiarizedPath: store.StrPtr(artifact.DerivedDiarized.RelPath(m.ID)),
		}, nil
	}
}
