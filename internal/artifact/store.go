// SPDX-License-Identifier: MIT

package artifact

import (
	"context"
	"errors"

	"github.com/civicast/civicast/internal/config"
)

// ErrNotExist is returned by SizeOf/ReadInto when the artifact is absent.
var ErrNotExist = errors.New("artifact does not exist")

// Store is a single abstraction over artifact files regardless of whether
// they live on the local filesystem or behind the remote file server.
// Workers stay identical on a standalone node or split across machines.
type Store interface {
	// PathFor returns the canonical path string of (kind, meetingID):
	// an absolute path for the local store, the storage-root-relative
	// path for the remote store. Pure, no I/O.
	PathFor(kind Kind, meetingID string) string
	// URLFor returns a URL under which the artifact can be fetched.
	URLFor(kind Kind, meetingID string) string
	// ReadInto materializes the artifact to a local working path.
	ReadInto(ctx context.Context, kind Kind, meetingID, localPath string) error
	// WriteFrom persists the file at localPath as the artifact.
	WriteFrom(ctx context.Context, localPath string, kind Kind, meetingID string) error
	// Exists reports whether the artifact is present.
	Exists(ctx context.Context, kind Kind, meetingID string) (bool, error)
	// SizeOf returns the artifact's size in bytes.
	SizeOf(ctx context.Context, kind Kind, meetingID string) (int64, error)
}

// FromConfig selects the store implementation: local when IS_LOCAL is set,
// remote against the configured file server otherwise.
func FromConfig(cfg config.Config) Store {
	if cfg.IsLocal {
		return NewLocal(cfg.StorageRoot)
	}
	return NewRemote(cfg.FileServerURL())
}
