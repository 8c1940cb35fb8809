package storage

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/option"

	"github.com/semmidev/vigil/internal/config"
)

type GDriveStorage struct {
	service  *drive.Service
	folderID string
}

// NewGDrive authenticates with a service account file, or with an OAuth
// client secret plus a refresh token obtained from the dashboard's
// /auth/google/drive flow.
func NewGDrive(ctx context.Context, cfg *config.UploadTarget) (*GDriveStorage, error) {
	var opt option.ClientOption
	switch {
	case cfg.ClientSecretFile != "" && cfg.RefreshToken != "":
		oauthCfg, err := OAuthConfig(cfg.ClientSecretFile)
		if err != nil {
			return nil, err
		}
		opt = option.WithTokenSource(oauthCfg.TokenSource(ctx, &oauth2.Token{RefreshToken: cfg.RefreshToken}))
	default:
		opt = option.WithCredentialsFile(cfg.CredentialsFile)
	}

	service, err := drive.NewService(ctx, opt)
	if err != nil {
		return nil, fmt.Errorf("failed to create drive service: %w", err)
	}

	return &GDriveStorage{
		service:  service,
		folderID: cfg.FolderID,
	}, nil
}

// OAuthConfig reads an OAuth client secret for the drive.file scope.
func OAuthConfig(clientSecretPath string) (*oauth2.Config, error) {
	b, err := os.ReadFile(clientSecretPath)
	if err != nil {
		return nil, fmt.Errorf("unable to read client secret: %w", err)
	}
	cfg, err := google.ConfigFromJSON(b, drive.DriveFileScope)
	if err != nil {
		return nil, fmt.Errorf("unable to parse client secret: %w", err)
	}
	return cfg, nil
}

const driveFolderMimeType = "application/vnd.google-apps.folder"

// Check verifies that the configured folder is reachable and is a folder.
func (g *GDriveStorage) Check(ctx context.Context) error {
	f, err := g.service.Files.Get(g.folderID).
		Fields("id, name, mimeType").
		SupportsAllDrives(true).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to access gdrive folder %s: %w", g.folderID, err)
	}
	if f.MimeType != driveFolderMimeType {
		return fmt.Errorf("gdrive %s (%s) is not a folder", g.folderID, f.Name)
	}
	return nil
}

func (g *GDriveStorage) Upload(ctx context.Context, localPath string, remoteName string) error {
	file, err := os.Open(localPath)
	if err != nil {
		return fmt.Errorf("failed to open file: %w", err)
	}
	defer file.Close()

	fileMetadata := &drive.File{
		Name:    remoteName,
		Parents: []string{g.folderID},
	}

	_, err = g.service.Files.Create(fileMetadata).
		Media(file).
		Context(ctx).
		Do()
	if err != nil {
		return fmt.Errorf("failed to upload to gdrive: %w", err)
	}

	return nil
}

// query lists files in the folder matching extra, following pagination.
func (g *GDriveStorage) query(ctx context.Context, extra string) ([]*drive.File, error) {
	q := fmt.Sprintf("'%s' in parents and trashed=false", g.folderID)
	if extra != "" {
		q += " and " + extra
	}

	var files []*drive.File
	err := g.service.Files.List().
		Q(q).
		Fields("nextPageToken, files(id, name, createdTime)").
		Context(ctx).
		Pages(ctx, func(page *drive.FileList) error {
			files = append(files, page.Files...)
			return nil
		})
	if err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

func (g *GDriveStorage) List(ctx context.Context) ([]string, error) {
	files, err := g.query(ctx, "")
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}

func (g *GDriveStorage) Delete(ctx context.Context, remoteName string) error {
	escaped := strings.ReplaceAll(remoteName, "'", `\'`)
	files, err := g.query(ctx, fmt.Sprintf("name='%s'", escaped))
	if err != nil {
		return fmt.Errorf("failed to find file: %w", err)
	}
	if len(files) == 0 {
		return fmt.Errorf("file not found: %s", remoteName)
	}

	if err := g.service.Files.Delete(files[0].Id).Context(ctx).Do(); err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

func (g *GDriveStorage) GetOldFiles(ctx context.Context, cutoffTime time.Time) ([]string, error) {
	files, err := g.query(ctx, fmt.Sprintf("createdTime < '%s'", cutoffTime.UTC().Format(time.RFC3339)))
	if err != nil {
		return nil, fmt.Errorf("failed to list old files: %w", err)
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		names = append(names, f.Name)
	}
	return names, nil
}
