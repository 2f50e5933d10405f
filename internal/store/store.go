// SPDX-License-Identifier: MIT

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/civicast/civicast/internal/meeting"
)

const schemaVersion = 1

// ErrNotFound is returned when the requested meeting does not exist.
var ErrNotFound = errors.New("meeting not found")

// Store is the durable mapping from meeting ID to the meeting record. It is
// the pipeline's only source of truth; the job queue and temporary files are
// both recoverable from it.
type Store struct {
	db *sql.DB
}

// New opens (and if needed migrates) the state store at dbPath.
func New(dbPath string) (*Store, error) {
	db, err := openSQLite(dbPath, defaultSQLiteConfig())
	if err != nil {
		return nil, err
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("state store: migration failed: %w", err)
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	var currentVersion int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&currentVersion); err != nil {
		return err
	}
	if currentVersion >= schemaVersion {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	schema := `
	CREATE TABLE IF NOT EXISTS meetings (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		date TEXT NOT NULL,
		source_url TEXT NOT NULL,
		phase TEXT NOT NULL,
		raw_video_path TEXT NOT NULL DEFAULT '',
		derived_chapters_path TEXT NOT NULL DEFAULT '',
		derived_metadata_path TEXT NOT NULL DEFAULT '',
		derived_audio_path TEXT NOT NULL DEFAULT '',
		derived_diarized_path TEXT NOT NULL DEFAULT '',
		published_url TEXT NOT NULL DEFAULT '',
		error_message TEXT NOT NULL DEFAULT '',
		failed_at_phase TEXT NOT NULL DEFAULT '',
		agenda_blob TEXT NOT NULL DEFAULT '',
		chapters_blob TEXT NOT NULL DEFAULT '',
		created_at_ms INTEGER NOT NULL,
		updated_at_ms INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_meetings_phase ON meetings(phase);
	CREATE INDEX IF NOT EXISTS idx_meetings_date ON meetings(date);
	`

	if _, err := tx.Exec(schema); err != nil {
		return err
	}
	if _, err := tx.Exec(fmt.Sprintf("PRAGMA user_version = %d", schemaVersion)); err != nil {
		return err
	}
	return tx.Commit()
}

const meetingColumns = `id, title, date, source_url, phase,
	raw_video_path, derived_chapters_path, derived_metadata_path,
	derived_audio_path, derived_diarized_path, published_url,
	error_message, failed_at_phase, agenda_blob, chapters_blob,
	created_at_ms, updated_at_ms`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanMeeting(row rowScanner) (*meeting.Meeting, error) {
	var m meeting.Meeting
	var phase, failedAt string
	var createdMs, updatedMs int64
	err := row.Scan(
		&m.ID, &m.Title, &m.Date, &m.SourceURL, &phase,
		&m.RawVideoPath, &m.DerivedChaptersPath, &m.DerivedMetadataPath,
		&m.DerivedAudioPath, &m.DerivedDiarizedPath, &m.PublishedURL,
		&m.ErrorMessage, &failedAt, &m.AgendaBlob, &m.ChaptersBlob,
		&createdMs, &updatedMs,
	)
	if err != nil {
		return nil, err
	}
	m.Phase = meeting.Phase(phase)
	m.FailedAtPhase = meeting.Phase(failedAt)
	m.CreatedAt = time.UnixMilli(createdMs).UTC()
	m.UpdatedAt = time.UnixMilli(updatedMs).UTC()
	return &m, nil
}

// Get returns the meeting with the given ID, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*meeting.Meeting, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+meetingColumns+" FROM meetings WHERE id = ?", id)
	m, err := scanMeeting(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get meeting %s: %w", id, err)
	}
	return m, nil
}

// ByPhase returns all meetings currently in the given phase, ordered by date.
func (s *Store) ByPhase(ctx context.Context, phase meeting.Phase) ([]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+meetingColumns+" FROM meetings WHERE phase = ? ORDER BY date", string(phase))
	if err != nil {
		return nil, fmt.Errorf("query by phase %s: %w", phase, err)
	}
	defer func() { _ = rows.Close() }()

	var out []meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// All returns every meeting in the store, ordered by date.
func (s *Store) All(ctx context.Context) ([]meeting.Meeting, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+meetingColumns+" FROM meetings ORDER BY date")
	if err != nil {
		return nil, fmt.Errorf("query all meetings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []meeting.Meeting
	for rows.Next() {
		m, err := scanMeeting(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	return out, rows.Err()
}

// InsertIfAbsent inserts a new meeting record. It is idempotent: if a row
// with the same ID exists, nothing changes and inserted is false.
func (s *Store) InsertIfAbsent(ctx context.Context, m *meeting.Meeting) (inserted bool, err error) {
	now := time.Now().UnixMilli()
	res, err := s.db.ExecContext(ctx, `
		INSERT OR IGNORE INTO meetings (id, title, date, source_url, phase, created_at_ms, updated_at_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Title, m.Date, m.SourceURL, string(m.Phase), now, now,
	)
	if err != nil {
		return false, fmt.Errorf("insert meeting %s: %w", m.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// FieldPatch is the set of optional fields an update may touch. Nil fields
// are left unchanged.
type FieldPatch struct {
	RawVideoPath        *string
	DerivedChaptersPath *string
	DerivedMetadataPath *string
	DerivedAudioPath    *string
	DerivedDiarizedPath *string
	PublishedURL        *string
	ErrorMessage        *string
	FailedAtPhase       *meeting.Phase
	AgendaBlob          *string
	ChaptersBlob        *string
}

// Update atomically sets the meeting's phase plus any non-nil patch fields,
// and bumps updated_at. Readers observe the update as a whole.
func (s *Store) Update(ctx context.Context, id string, phase meeting.Phase, patch FieldPatch) error {
	sets := []string{"phase = ?", "updated_at_ms = ?"}
	args := []any{string(phase), time.Now().UnixMilli()}

	add := func(col string, v *string) {
		if v != nil {
			sets = append(sets, col+" = ?")
			args = append(args, *v)
		}
	}
	add("raw_video_path", patch.RawVideoPath)
	add("derived_chapters_path", patch.DerivedChaptersPath)
	add("derived_metadata_path", patch.DerivedMetadataPath)
	add("derived_audio_path", patch.DerivedAudioPath)
	add("derived_diarized_path", patch.DerivedDiarizedPath)
	add("published_url", patch.PublishedURL)
	add("error_message", patch.ErrorMessage)
	add("agenda_blob", patch.AgendaBlob)
	add("chapters_blob", patch.ChaptersBlob)
	if patch.FailedAtPhase != nil {
		sets = append(sets, "failed_at_phase = ?")
		args = append(args, string(*patch.FailedAtPhase))
	}

	args = append(args, id)
	res, err := s.db.ExecContext(ctx, "UPDATE meetings SET "+strings.Join(sets, ", ")+" WHERE id = ?", args...)
	if err != nil {
		return fmt.Errorf("update meeting %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// StrPtr is a small helper for building FieldPatch values.
func StrPtr(s string) *string { return &s }

// PhasePtr is a small helper for building FieldPatch values.
func PhasePtr(p meeting.Phase) *meeting.Phase { return &p }
