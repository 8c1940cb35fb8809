package compressor

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"os"

	"github.com/mholt/archives"

	"github.com/semmidev/vigil/internal/domain"
)

const (
	FormatZip   = "zip"
	FormatTarGz = "tar.gz"
)

type Bundler struct {
	format string
	arc    archives.Archiver
}

var _ domain.Archiver = (*Bundler)(nil)

// New returns a bundler for format, "zip" when empty.
func New(format string) (*Bundler, error) {
	switch format {
	case "", FormatZip:
		return &Bundler{format: FormatZip, arc: archives.Zip{}}, nil
	case FormatTarGz, "tgz":
		return &Bundler{
			format: FormatTarGz,
			arc: archives.CompressedArchive{
				Compression: archives.Gz{},
				Archival:    archives.Tar{},
			},
		}, nil
	default:
		return nil, fmt.Errorf("unsupported archive format %q", format)
	}
}

func (b *Bundler) Extension() string {
	return b.format
}

// Archive writes files (disk path -> name inside the archive) to destPath.
// A partially written archive is removed on failure.
func (b *Bundler) Archive(ctx context.Context, files map[string]string, destPath string) error {
	if len(files) == 0 {
		return fmt.Errorf("nothing to archive")
	}

	infos, err := archives.FilesFromDisk(ctx, nil, files)
	if err != nil {
		return fmt.Errorf("failed to read source files: %w", err)
	}

	out, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("failed to create dest file: %w", err)
	}

	if err := b.arc.Archive(ctx, out, infos); err != nil {
		out.Close()
		os.Remove(destPath)
		return fmt.Errorf("failed to write archive: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(destPath)
		return fmt.Errorf("failed to close archive: %w", err)
	}
	return nil
}

// Checksum returns the hex SHA-256 of the file at path.
func Checksum(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("failed to open file: %w", err)
	}
	defer f.Close()

	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("failed to hash file: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
