package domain

import (
	"context"
	"time"
)

type Storage interface {
	Upload(ctx context.Context, localPath string, remoteName string) error
	List(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, remoteName string) error
	GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error)
}

// UploadTarget is one named destination artifacts are delivered to.
type UploadTarget struct {
	Name    string
	Storage Storage
}

// Checker is implemented by storages that can verify their credentials and
// destination without uploading anything.
type Checker interface {
	Check(ctx context.Context) error
}

// ArtifactUploader is implemented by storages that render artifact metadata
// alongside the file, such as chat integrations.
type ArtifactUploader interface {
	UploadArtifact(ctx context.Context, artifact Artifact) error
}
