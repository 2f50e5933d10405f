// SPDX-License-Identifier: MIT

package agenda

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const samplePage = `<html><body>
<script>
var meeting = { Bookmarks: [{"AgendaItemId":101,"TimeStart":5000,"TimeEnd":60000},
{"AgendaItemId":102,"TimeStart":65000,"TimeEnd":3600000},
{"AgendaItemId":103,"TimeStart":3665000,"TimeEnd":7200000}] };
</script>
<DIV class="AgendaItem AgendaItem101"><DIV class="AgendaItemTitle"><a href="#">Item A</a></DIV></DIV>
<DIV class="AgendaItem AgendaItem102"><DIV class="AgendaItemTitle"><a href="#">Item B</a></DIV></DIV>
<DIV class="AgendaItem AgendaItem103"><DIV class="AgendaItemTitle"><a href="#">Item C</a></DIV></DIV>
<DIV class="AgendaItem AgendaItem104"><DIV class="AgendaItemTitle"><a href="#">Adjournment &amp; Close</a></DIV></DIV>
</body></html>`

func TestParseBookmarks(t *testing.T) {
	bookmarks, err := ParseBookmarks(samplePage)
	require.NoError(t, err)
	require.Len(t, bookmarks, 3)
	assert.Equal(t, "101", bookmarks[0].AgendaItemID.String())
	assert.Equal(t, int64(5000), bookmarks[0].TimeStart)
	assert.Equal(t, int64(3665000), bookmarks[2].TimeStart)
}

func TestParseBookmarksAbsent(t *testing.T) {
	bookmarks, err := ParseBookmarks("<html>no annotations yet</html>")
	require.NoError(t, err)
	assert.Empty(t, bookmarks)
}

func TestParseItems(t *testing.T) {
	items := ParseItems(samplePage)
	require.Len(t, items, 4)
	assert.Equal(t, "101", items[0].ID)
	assert.Equal(t, "Item A", items[0].Title)
	assert.Equal(t, "Adjournment & Close", items[3].Title, "entities are decoded")
}

func TestJoinSortsTimedFirstTimelessLast(t *testing.T) {
	items := []Item{
		{ID: "3", Title: "Late"},
		{ID: "1", Title: "Second"},
		{ID: "2", Title: "First"},
		{ID: "4", Title: "Timeless"},
	}
	bookmarks := []Bookmark{
		{AgendaItemID: "1", TimeStart: 9000},
		{AgendaItemID: "2", TimeStart: 1000},
		{AgendaItemID: "3", TimeStart: 20000},
	}

	joined := Join(items, bookmarks)
	require.Len(t, joined, 4)
	assert.Equal(t, "First", joined[0].Title)
	assert.Equal(t, "Second", joined[1].Title)
	assert.Equal(t, "Late", joined[2].Title)
	assert.Equal(t, "Timeless", joined[3].Title)
	assert.False(t, joined[3].HasTime)
}

func TestChapterDocPrependsPreMeeting(t *testing.T) {
	items := Join([]Item{
		{ID: "101", Title: "Item A"},
		{ID: "102", Title: "Item B"},
		{ID: "103", Title: "Item C"},
	}, []Bookmark{
		{AgendaItemID: "101", TimeStart: 5000},
		{AgendaItemID: "102", TimeStart: 65000},
		{AgendaItemID: "103", TimeStart: 3665000},
	})

	doc := ChapterDoc("City Commission - Regular", "2025-06-05", items)
	assert.Equal(t, `City Commission - Regular - 2025-06-05

Chapters:
00:00:00 Pre-meeting
00:00:05 Item A
00:01:05 Item B
01:01:05 Item C
`, doc)
}

func TestChapterDocOriginFirstItem(t *testing.T) {
	items := Join([]Item{{ID: "1", Title: "Call to Order"}},
		[]Bookmark{{AgendaItemID: "1", TimeStart: 0}})

	doc := ChapterDoc("Planning Board", "2025-06-10", items)
	assert.Equal(t, "Planning Board - 2025-06-10\n\nChapters:\n00:00:00 Call to Order\n", doc)
}

func TestChapterDocSubSecondFirstItem(t *testing.T) {
	// 500ms renders as 00:00:00, so the first chapter already sits at origin
	// and no synthetic entry is needed.
	items := Join([]Item{{ID: "1", Title: "Call to Order"}, {ID: "2", Title: "Minutes"}},
		[]Bookmark{{AgendaItemID: "1", TimeStart: 500}, {AgendaItemID: "2", TimeStart: 61000}})

	doc := ChapterDoc("Planning Board", "2025-06-10", items)
	assert.Equal(t, "Planning Board - 2025-06-10\n\nChapters:\n00:00:00 Call to Order\n00:01:01 Minutes\n", doc)
	assert.NotContains(t, doc, "Pre-meeting")
}

func TestChapterDocNoTimedItems(t *testing.T) {
	doc := ChapterDoc("Budget Hearing", "2025-06-12", []Item{{ID: "1", Title: "Untimed"}})
	assert.Equal(t, "Budget Hearing - 2025-06-12\n\nChapters:\n", doc)
}

func TestTimestamp(t *testing.T) {
	assert.Equal(t, "00:00:00", Timestamp(0))
	assert.Equal(t, "00:00:05", Timestamp(5000))
	assert.Equal(t, "00:01:05", Timestamp(65000))
	assert.Equal(t, "01:01:05", Timestamp(3665000))
	assert.Equal(t, "27:46:39", Timestamp(99999000))
}

func TestMetadataRoundTrip(t *testing.T) {
	bookmarks, err := ParseBookmarks(samplePage)
	require.NoError(t, err)
	joined := Join(ParseItems(samplePage), bookmarks)

	meta := Metadata{
		MeetingID: "m1",
		Title:     "City Commission - Regular",
		Date:      "2025/06/05 19:00",
		AgendaData: Data{
			Items:     joined,
			Bookmarks: bookmarks,
		},
	}

	raw, err := json.Marshal(meta)
	require.NoError(t, err)

	var decoded Metadata
	require.NoError(t, json.Unmarshal(raw, &decoded))
	assert.Equal(t, meta.AgendaData.Items, decoded.AgendaData.Items, "item order survives the round trip")
	assert.Equal(t, meta.AgendaData.Bookmarks, decoded.AgendaData.Bookmarks)
	assert.NotContains(t, string(raw), "audio_error", "empty audio error is omitted")
}
