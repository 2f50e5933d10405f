// SPDX-License-Identifier: MIT

package meeting

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionTable(t *testing.T) {
	cases := []struct {
		from  Phase
		queue Queue
		next  Phase
	}{
		{PhaseDiscovered, QueueDownload, PhaseDownloaded},
		{PhaseDownloaded, QueueExtract, PhaseExtracted},
		{PhaseExtracted, QueueUpload, PhaseUploaded},
		{PhaseUploaded, QueueDiarize, PhaseDiarized},
	}
	for _, tc := range cases {
		q, next, ok := tc.from.Next()
		require.True(t, ok, "phase %s must have a transition", tc.from)
		assert.Equal(t, tc.queue, q)
		assert.Equal(t, tc.next, next)
		assert.Equal(t, tc.from, q.Expects())
	}
}

func TestTerminalPhases(t *testing.T) {
	assert.True(t, PhaseDiarized.Terminal())
	assert.True(t, PhaseFailed.Terminal())
	_, _, ok := PhaseDiarized.Next()
	assert.False(t, ok)
	_, _, ok = PhaseFailed.Next()
	assert.False(t, ok)

	for _, p := range []Phase{PhaseDiscovered, PhaseDownloaded, PhaseExtracted, PhaseUploaded} {
		assert.False(t, p.Terminal(), "phase %s must not be terminal", p)
	}
}

func TestParsePhase(t *testing.T) {
	p, err := ParsePhase("DOWNLOADED")
	require.NoError(t, err)
	assert.Equal(t, PhaseDownloaded, p)

	_, err = ParsePhase("downloaded")
	assert.Error(t, err)
	_, err = ParsePhase("")
	assert.Error(t, err)
}

func TestJobID(t *testing.T) {
	assert.Equal(t, "download-m1", JobID(QueueDownload, "m1"))
	assert.Equal(t, "diarize-42", JobID(QueueDiarize, "42"))
}

func TestSanitizeID(t *testing.T) {
	re := regexp.MustCompile(`^[A-Za-z0-9_]+$`)
	cases := map[string]string{
		"m1":            "m1",
		"abc-def":       "abc_def",
		"../etc/passwd": "___etc_passwd",
		"":              "_",
		"A1_b2":         "A1_b2",
		"über meeting":  "_ber_meeting",
	}
	for in, want := range cases {
		got := SanitizeID(in)
		assert.Equal(t, want, got)
		assert.Regexp(t, re, got, "sanitize(%q) must match the class", in)
	}
}

func TestDateToken(t *testing.T) {
	m := &Meeting{Date: "2025/06/05 19:00"}
	assert.Equal(t, "2025-06-05", m.DateToken())

	m = &Meeting{Date: "2025-06-05 19:00"}
	assert.Equal(t, "2025-06-05", m.DateToken())

	m = &Meeting{Date: ""}
	assert.Equal(t, "", m.DateToken())
}
