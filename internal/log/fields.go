// SPDX-License-Identifier: MIT

package log

// Canonical field name constants for structured logging.
const (
	// Identity fields
	FieldMeetingID = "meeting_id"
	FieldJobID     = "job_id"

	// Pipeline fields
	FieldComponent = "component"
	FieldStep      = "step"
	FieldQueue     = "queue"
	FieldPhase     = "phase"
	FieldEvent     = "event"
	FieldAttempt   = "attempt"

	// Path / URL fields
	FieldPath    = "path"
	FieldBaseURL = "base_url"
)
