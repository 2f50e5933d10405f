// SPDX-License-Identifier: MIT

// Package meeting holds the pipeline's domain model: the Meeting record,
// its Phase state machine, and the queue naming scheme that drives it.
package meeting

import "fmt"

// Phase is a meeting's position in the pipeline.
type Phase string

const (
	PhaseDiscovered Phase = "DISCOVERED"
	PhaseDownloaded Phase = "DOWNLOADED"
	PhaseExtracted  Phase = "EXTRACTED"
	PhaseUploaded   Phase = "UPLOADED"
	PhaseDiarized   Phase = "DIARIZED"
	PhaseFailed     Phase = "FAILED"
)

// Queue names a per-phase job queue.
type Queue string

const (
	QueueDownload Queue = "download"
	QueueExtract  Queue = "extract"
	QueueUpload   Queue = "upload"
	QueueDiarize  Queue = "diarize"
)

// transition is one row of the phase transition table.
type transition struct {
	queue Queue
	next  Phase
}

// transitions is the authoritative phase transition table. Terminal phases
// have no row.
var transitions = map[Phase]transition{
	PhaseDiscovered: {QueueDownload, PhaseDownloaded},
	PhaseDownloaded: {QueueExtract, PhaseExtracted},
	PhaseExtracted:  {QueueUpload, PhaseUploaded},
	PhaseUploaded:   {QueueDiarize, PhaseDiarized},
}

// Valid reports whether p is one of the defined phases.
func (p Phase) Valid() bool {
	switch p {
	case PhaseDiscovered, PhaseDownloaded, PhaseExtracted, PhaseUploaded, PhaseDiarized, PhaseFailed:
		return true
	}
	return false
}

// Terminal reports whether p has no outgoing transition.
func (p Phase) Terminal() bool {
	_, ok := transitions[p]
	return !ok
}

// Next returns the queue that drives p's transition and the phase reached on
// success. ok is false for terminal phases.
func (p Phase) Next() (queue Queue, next Phase, ok bool) {
	t, ok := transitions[p]
	return t.queue, t.next, ok
}

// ParsePhase validates and returns a Phase from its string form.
func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("unknown phase %q", s)
	}
	return p, nil
}

// Queues returns every queue in pipeline order.
func Queues() []Queue {
	return []Queue{QueueDownload, QueueExtract, QueueUpload, QueueDiarize}
}

// Valid reports whether q is one of the defined queues.
func (q Queue) Valid() bool {
	switch q {
	case QueueDownload, QueueExtract, QueueUpload, QueueDiarize:
		return true
	}
	return false
}

// Expects returns the phase a meeting must be in for q's worker to accept it.
func (q Queue) Expects() Phase {
	switch q {
	case QueueDownload:
		return PhaseDiscovered
	case QueueExtract:
		return PhaseDownloaded
	case QueueUpload:
		return PhaseExtracted
	case QueueDiarize:
		return PhaseUploaded
	}
	return ""
}

// ParseQueue validates and returns a Queue from its string form.
func ParseQueue(s string) (Queue, error) {
	q := Queue(s)
	if !q.Valid() {
		return "", fmt.Errorf("unknown queue %q", s)
	}
	return q, nil
}

// JobID derives the deterministic job identifier used as the dedup key for a
// meeting on a queue.
func JobID(q Queue, meetingID string) string {
	return string(q) + "-" + meetingID
}
