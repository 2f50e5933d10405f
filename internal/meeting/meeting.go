// SPDX-License-Identifier: MIT

package meeting

import (
	"strings"
	"time"
)

// Meeting is the central pipeline entity. Created by discovery, mutated only
// by the orchestrator, never deleted by the core.
type Meeting struct {
	ID        string
	Title     string
	Date      string // as reported by the calendar, e.g. "2025/06/05 19:00"
	SourceURL string
	Phase     Phase

	RawVideoPath        string
	DerivedChaptersPath string
	DerivedMetadataPath string
	DerivedAudioPath    string
	DerivedDiarizedPath string
	PublishedURL        string

	ErrorMessage  string
	FailedAtPhase Phase

	// AgendaBlob and ChaptersBlob carry the extract phase's parsed agenda
	// metadata and rendered chapter document for downstream phases that
	// prefer not to re-read the artifact store.
	AgendaBlob   string
	ChaptersBlob string

	CreatedAt time.Time
	UpdatedAt time.Time
}

// DateToken returns the date portion of Date in YYYY-MM-DD form: the first
// whitespace-separated token with slashes mapped to dashes.
func (m *Meeting) DateToken() string {
	fields := strings.Fields(m.Date)
	if len(fields) == 0 {
		return ""
	}
	return strings.ReplaceAll(fields[0], "/", "-")
}
