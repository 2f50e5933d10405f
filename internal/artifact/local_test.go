// SPDX-License-Identifier: MIT

package artifact

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindRelPath(t *testing.T) {
	cases := map[Kind]string{
		RawVideo:        "raw/videos/m1.mp4",
		RawAgenda:       "raw/agendas/m1_agenda.html",
		DerivedAudio:    "derived/audio/m1.m4a",
		DerivedChapters: "derived/chapters/m1_chapters.txt",
		DerivedMetadata: "derived/metadata/m1_metadata.json",
		DerivedDiarized: "derived/diarized/m1_diarized.json",
	}
	for kind, want := range cases {
		assert.Equal(t, want, kind.RelPath("m1"))
	}

	// IDs are sanitized before path derivation, and the mapping is
	// deterministic.
	assert.Equal(t, "raw/videos/__m1_.mp4", RawVideo.RelPath("./m1!"))
	assert.Equal(t, RawVideo.RelPath("m1"), RawVideo.RelPath("m1"))
}

func TestParseKind(t *testing.T) {
	k, ok := ParseKind("RAW_VIDEO")
	require.True(t, ok)
	assert.Equal(t, RawVideo, k)

	for _, bad := range []string{"", "raw_video", "VIDEO", ".."} {
		_, ok := ParseKind(bad)
		assert.False(t, ok, "kind %q must be rejected", bad)
	}
}

func TestLocalRoundTrip(t *testing.T) {
	ctx := context.Background()
	l := NewLocal(t.TempDir())
	work := t.TempDir()

	src := filepath.Join(work, "in.txt")
	require.NoError(t, os.WriteFile(src, []byte("chapter data"), 0o644))

	ok, err := l.Exists(ctx, DerivedChapters, "m1")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, l.WriteFrom(ctx, src, DerivedChapters, "m1"))

	ok, err = l.Exists(ctx, DerivedChapters, "m1")
	require.NoError(t, err)
	assert.True(t, ok)

	size, err := l.SizeOf(ctx, DerivedChapters, "m1")
	require.NoError(t, err)
	assert.Equal(t, int64(len("chapter data")), size)

	dest := filepath.Join(work, "out.txt")
	require.NoError(t, l.ReadInto(ctx, DerivedChapters, "m1", dest))
	got, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, []byte("chapter data"), got, "write-then-read yields byte-identical content")
}

func TestLocalReadMissing(t *testing.T) {
	l := NewLocal(t.TempDir())
	err := l.ReadInto(context.Background(), RawVideo, "ghost", filepath.Join(t.TempDir(), "out.mp4"))
	assert.ErrorIs(t, err, ErrNotExist)

	_, err = l.SizeOf(context.Background(), RawVideo, "ghost")
	assert.ErrorIs(t, err, ErrNotExist)
}
