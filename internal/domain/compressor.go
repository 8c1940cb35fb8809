package domain

import "context"

// Archiver bundles files into a single archive. files maps a path on disk
// to its name inside the archive.
type Archiver interface {
	Archive(ctx context.Context, files map[string]string, destPath string) error
	Extension() string
}
