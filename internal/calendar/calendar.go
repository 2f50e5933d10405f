// SPDX-License-Identifier: MIT

// Package calendar talks to the municipal meeting calendar, an ASP.NET
// WebMethod endpoint plus the per-meeting agenda page.
package calendar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/civicast/civicast/internal/httpx"
	"github.com/civicast/civicast/internal/log"
)

// maxBodySize caps calendar and agenda responses. Agenda pages for long
// meetings run to a few hundred KB; 8 MiB is far above anything observed.
const maxBodySize = 8 << 20

// RawMeeting is one element of the calendar response, untouched.
type RawMeeting struct {
	ID          json.Number `json:"ID"`
	MeetingName string      `json:"MeetingName"`
	StartDate   string      `json:"StartDate"`
	HasVideo    bool        `json:"HasVideo"`
}

// Client fetches the meeting calendar and agenda pages.
type Client struct {
	baseURL string
	http    *http.Client
	logger  zerolog.Logger
}

// New returns a client for the calendar rooted at baseURL.
func New(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    httpx.NewClient(30 * time.Second),
		logger:  log.WithComponent("calendar"),
	}
}

// calendarRequest is the WebMethod's expected body. Dates carry an explicit
// offset, e.g. "2025-06-01T00:00:00-04:00".
type calendarRequest struct {
	CalendarStartDate string `json:"calendarStartDate"`
	CalendarEndDate   string `json:"calendarEndDate"`
}

// calendarResponse is the ASP.NET envelope around the payload.
type calendarResponse struct {
	D []RawMeeting `json:"d"`
}

// Meetings fetches all meetings scheduled in [start, end). The times should
// already be in the calendar's zone; their offsets are sent verbatim.
func (c *Client) Meetings(ctx context.Context, start, end time.Time) ([]RawMeeting, error) {
	body, err := json.Marshal(calendarRequest{
		CalendarStartDate: start.Format("2006-01-02T15:04:05-07:00"),
		CalendarEndDate:   end.Format("2006-01-02T15:04:05-07:00"),
	})
	if err != nil {
		return nil, fmt.Errorf("encode calendar request: %w", err)
	}

	endpoint := c.baseURL + "/MeetingsCalendarView.aspx/GetCalendarMeetings"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build calendar request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch calendar: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch calendar: unexpected status %d", resp.StatusCode)
	}

	var envelope calendarResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxBodySize)).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode calendar response: %w", err)
	}

	c.logger.Debug().
		Int("meetings", len(envelope.D)).
		Str("start", start.Format(time.RFC3339)).
		Str("end", end.Format(time.RFC3339)).
		Msg("calendar fetched")
	return envelope.D, nil
}

// VideoURL returns the public meeting page carrying the video player. The
// download tool scrapes the stream URL from this page.
func (c *Client) VideoURL(meetingID string) string {
	return fmt.Sprintf("%s/Meeting.aspx?Id=%s", c.baseURL, url.QueryEscape(meetingID))
}

// AgendaURL returns the public agenda page URL for a meeting.
func (c *Client) AgendaURL(meetingID string) string {
	return fmt.Sprintf("%s/Meeting.aspx?Id=%s&Agenda=Agenda&lang=English", c.baseURL, url.QueryEscape(meetingID))
}

// AgendaHTML fetches the agenda page for a meeting and returns the raw HTML.
func (c *Client) AgendaHTML(ctx context.Context, meetingID string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.AgendaURL(meetingID), nil)
	if err != nil {
		return "", fmt.Errorf("build agenda request: %w", err)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch agenda %s: %w", meetingID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch agenda %s: unexpected status %d", meetingID, resp.StatusCode)
	}

	html, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return "", fmt.Errorf("read agenda %s: %w", meetingID, err)
	}
	return string(html), nil
}
