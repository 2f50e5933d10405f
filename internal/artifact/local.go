// SPDX-License-Identifier: MIT

package artifact

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"

	"github.com/civicast/civicast/internal/fsutil"
	"github.com/google/renameio/v2"
)

// Local stores artifacts directly under a filesystem root.
type Local struct {
	root string
}

// NewLocal returns a local store rooted at root.
func NewLocal(root string) *Local {
	return &Local{root: root}
}

// PathFor returns the absolute canonical path of the artifact.
func (l *Local) PathFor(kind Kind, meetingID string) string {
	return filepath.Join(l.root, filepath.FromSlash(kind.RelPath(meetingID)))
}

// URLFor returns a file:// URL for the artifact.
func (l *Local) URLFor(kind Kind, meetingID string) string {
	return (&url.URL{Scheme: "file", Path: l.PathFor(kind, meetingID)}).String()
}

// ReadInto copies the artifact to localPath.
func (l *Local) ReadInto(ctx context.Context, kind Kind, meetingID, localPath string) error {
	src := l.PathFor(kind, meetingID)
	if err := fsutil.IsRegularFile(src); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s %s", ErrNotExist, kind, meetingID)
		}
		return err
	}
	return copyFileAtomic(ctx, src, localPath)
}

// WriteFrom copies localPath into the canonical location. The write is
// atomic: a partially copied file is never visible at the canonical path.
func (l *Local) WriteFrom(ctx context.Context, localPath string, kind Kind, meetingID string) error {
	dest := l.PathFor(kind, meetingID)
	if err := fsutil.EnsureDir(filepath.Dir(dest)); err != nil {
		return fmt.Errorf("prepare artifact dir: %w", err)
	}
	return copyFileAtomic(ctx, localPath, dest)
}

// Exists reports whether the artifact is present.
func (l *Local) Exists(ctx context.Context, kind Kind, meetingID string) (bool, error) {
	_, err := os.Stat(l.PathFor(kind, meetingID))
	if err == nil {
		return true, nil
	}
	if os.IsNotExist(err) {
		return false, nil
	}
	return false, err
}

// SizeOf returns the artifact size in bytes.
func (l *Local) SizeOf(ctx context.Context, kind Kind, meetingID string) (int64, error) {
	info, err := os.Stat(l.PathFor(kind, meetingID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, fmt.Errorf("%w: %s %s", ErrNotExist, kind, meetingID)
		}
		return 0, err
	}
	return info.Size(), nil
}

// copyFileAtomic streams src into a pending temp file next to dest and
// renames it into place on success.
func copyFileAtomic(ctx context.Context, src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open source: %w", err)
	}
	defer func() { _ = in.Close() }()

	pending, err := renameio.TempFile("", dest)
	if err != nil {
		return fmt.Errorf("create pending file: %w", err)
	}
	defer func() { _ = pending.Cleanup() }()

	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := io.Copy(pending, in); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return pending.CloseAtomicallyReplace()
}
