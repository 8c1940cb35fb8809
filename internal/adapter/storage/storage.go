// Package storage holds the upload targets artifacts are delivered to.
package storage

import (
	"context"
	"fmt"

	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
)

var (
	_ domain.Storage = (*LocalStorage)(nil)
	_ domain.Storage = (*S3Storage)(nil)
	_ domain.Storage = (*GDriveStorage)(nil)
	_ domain.Storage = (*TelegramStorage)(nil)
	_ domain.Storage = (*DiscordStorage)(nil)
)

// New builds the storage for one configured upload target.
func New(ctx context.Context, cfg *config.UploadTarget) (domain.Storage, error) {
	switch cfg.Type {
	case "local":
		return NewLocal(cfg.Path)
	case "s3":
		return NewS3(ctx, cfg)
	case "gdrive":
		return NewGDrive(ctx, cfg)
	case "telegram":
		return NewTelegram(cfg)
	case "discord":
		return NewDiscord(cfg)
	default:
		return nil, fmt.Errorf("unsupported upload target type %q", cfg.Type)
	}
}
