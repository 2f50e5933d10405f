// SPDX-License-Identifier: MIT

// Package agenda parses municipal agenda pages and synthesizes the chapter
// description consumed by the video host.
package agenda

import (
	"encoding/json"
	"fmt"
	"html"
	"regexp"
	"sort"
	"strings"
	"time"
)

// Bookmark is one element of the page's embedded "Bookmarks: [...]" array.
// Times are milliseconds from video start.
type Bookmark struct {
	AgendaItemID json.Number `json:"AgendaItemId"`
	TimeStart    int64       `json:"TimeStart"`
	TimeEnd      int64       `json:"TimeEnd"`
}

// Item is an agenda item joined with its bookmark, if any.
type Item struct {
	ID        string `json:"id"`
	Title     string `json:"title"`
	TimeStart int64  `json:"time_start"`
	TimeEnd   int64  `json:"time_end"`
	HasTime   bool   `json:"has_time"`
}

var (
	bookmarksRe = regexp.MustCompile(`(?s)Bookmarks:\s*(\[.*?\])`)
	// Matches <DIV class="AgendaItem AgendaItemN"> ... <DIV
	// class="AgendaItemTitle"> ... <a ...>title</a>. The page mixes tag
	// casing, hence (?i).
	itemRe = regexp.MustCompile(`(?is)<div[^>]*class="AgendaItem AgendaItem(\d+)"[^>]*>.*?<div[^>]*class="AgendaItemTitle"[^>]*>.*?<a[^>]*>(.*?)</a>`)
	tagRe  = regexp.MustCompile(`<[^>]*>`)
)

// ParseBookmarks extracts the embedded bookmark array. A page with no
// bookmarks (no video annotations yet) yields an empty slice, not an error.
func ParseBookmarks(pageHTML string) ([]Bookmark, error) {
	m := bookmarksRe.FindStringSubmatch(pageHTML)
	if m == nil {
		return nil, nil
	}
	var bookmarks []Bookmark
	if err := json.Unmarshal([]byte(m[1]), &bookmarks); err != nil {
		return nil, fmt.Errorf("decode bookmarks: %w", err)
	}
	return bookmarks, nil
}

// ParseItems extracts the ordered agenda items from the page. Titles are
// entity-decoded and stripped of nested markup.
func ParseItems(pageHTML string) []Item {
	matches := itemRe.FindAllStringSubmatch(pageHTML, -1)
	items := make([]Item, 0, len(matches))
	for _, m := range matches {
		title := html.UnescapeString(tagRe.ReplaceAllString(m[2], ""))
		items = append(items, Item{
			ID:    m[1],
			Title: strings.TrimSpace(title),
		})
	}
	return items
}

// Join attaches bookmarks to items by agenda-item id and sorts ascending by
// TimeStart. Items without a bookmark keep their page order and sort last.
func Join(items []Item, bookmarks []Bookmark) []Item {
	byID := make(map[string]Bookmark, len(bookmarks))
	for _, b := range bookmarks {
		byID[b.AgendaItemID.String()] = b
	}

	joined := make([]Item, len(items))
	copy(joined, items)
	for i := range joined {
		if b, ok := byID[joined[i].ID]; ok {
			joined[i].TimeStart = b.TimeStart
			joined[i].TimeEnd = b.TimeEnd
			joined[i].HasTime = true
		}
	}

	sort.SliceStable(joined, func(i, j int) bool {
		a, b := joined[i], joined[j]
		if a.HasTime != b.HasTime {
			return a.HasTime
		}
		if !a.HasTime {
			return false
		}
		return a.TimeStart < b.TimeStart
	})
	return joined
}

// ChapterDoc renders the chapter description. The video host requires the
// first chapter at origin, so a synthetic Pre-meeting entry is prepended
// unless the earliest item already renders as 00:00:00.
func ChapterDoc(title, dateToken string, items []Item) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s - %s\n\nChapters:\n", title, dateToken)

	wroteFirst := false
	for _, item := range items {
		if !item.HasTime {
			continue
		}
		if !wroteFirst && Timestamp(item.TimeStart) != "00:00:00" {
			sb.WriteString("00:00:00 Pre-meeting\n")
		}
		wroteFirst = true
		fmt.Fprintf(&sb, "%s %s\n", Timestamp(item.TimeStart), item.Title)
	}
	return sb.String()
}

// Timestamp formats milliseconds from video start as HH:MM:SS.
func Timestamp(ms int64) string {
	s := ms / 1000
	return fmt.Sprintf("%02d:%02d:%02d", s/3600, (s%3600)/60, s%60)
}

// Data is the agenda portion of the metadata record: the joined items plus
// the raw bookmarks as received.
type Data struct {
	Items     []Item     `json:"items"`
	Bookmarks []Bookmark `json:"bookmarks"`
}

// Metadata is the extract phase's JSON artifact.
type Metadata struct {
	MeetingID   string    `json:"meeting_id"`
	Title       string    `json:"title"`
	Date        string    `json:"date"`
	AgendaData  Data      `json:"agenda_data"`
	AudioError  string    `json:"audio_error,omitempty"`
	ExtractedAt time.Time `json:"extracted_at"`
}
