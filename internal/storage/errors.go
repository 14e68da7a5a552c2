package storage

import "github.com/taskweave/taskweave/internal/storage/sqlite"

// Re-exported backend sentinels so callers can errors.Is against the
// storage package without importing the backend directly.
var (
	ErrNotFound = sqlite.ErrNotFound
	ErrConflict = sqlite.ErrConflict
)
