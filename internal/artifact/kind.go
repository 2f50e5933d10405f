// SPDX-License-Identifier: MIT

// Package artifact provides the content-addressed artifact layout and a
// uniform store abstraction over local and remote (HTTP) file storage.
package artifact

import (
	"path"

	"github.com/civicast/civicast/internal/meeting"
)

// Kind tags the artifacts the pipeline produces or consumes. Adding a kind
// is a compile-time checked change: RelPath's switch is exhaustive.
type Kind string

const (
	RawVideo        Kind = "RAW_VIDEO"
	RawAgenda       Kind = "RAW_AGENDA"
	DerivedAudio    Kind = "DERIVED_AUDIO"
	DerivedChapters Kind = "DERIVED_CHAPTERS"
	DerivedMetadata Kind = "DERIVED_METADATA"
	DerivedDiarized Kind = "DERIVED_DIARIZED"
)

// Kinds returns every artifact kind.
func Kinds() []Kind {
	return []Kind{RawVideo, RawAgenda, DerivedAudio, DerivedChapters, DerivedMetadata, DerivedDiarized}
}

// ParseKind validates a kind string.
func ParseKind(s string) (Kind, bool) {
	k := Kind(s)
	switch k {
	case RawVideo, RawAgenda, DerivedAudio, DerivedChapters, DerivedMetadata, DerivedDiarized:
		return k, true
	}
	return "", false
}

// RelPath returns the canonical storage path of (kind, meetingID) relative
// to the storage root. It is pure: no I/O, no further state. The meeting ID
// is sanitized to [A-Za-z0-9_] before use.
func (k Kind) RelPath(meetingID string) string {
	id := meeting.SanitizeID(meetingID)
	switch k {
	case RawVideo:
		return path.Join("raw", "videos", id+".mp4")
	case RawAgenda:
		return path.Join("raw", "agendas", id+"_agenda.html")
	case DerivedAudio:
		return path.Join("derived", "audio", id+".m4a")
	case DerivedChapters:
		return path.Join("derived", "chapters", id+"_chapters.txt")
	case DerivedMetadata:
		return path.Join("derived", "metadata", id+"_metadata.json")
	case DerivedDiarized:
		return path.Join("derived", "diarized", id+"_diarized.json")
	}
	// Unreachable for parsed kinds; keep the zero value loud.
	return path.Join("unknown", id)
}
