package usecase

import (
	"context"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/vigil/internal/domain"
)

var timestampPattern = regexp.MustCompile(`(\d{8})_(\d{6})`)

// Cleanup deletes artifacts older than the retention window from every
// target that supports listing.
type Cleanup struct {
	targets       []domain.UploadTarget
	logger        Logger
	retentionDays int
	now           func() time.Time
}

func NewCleanup(
	targets []domain.UploadTarget,
	logger Logger,
	retentionDays int,
) *Cleanup {
	return &Cleanup{
		targets:       targets,
		logger:        logger,
		retentionDays: retentionDays,
		now:           time.Now,
	}
}

// Execute returns the number of deleted artifacts per target.
func (uc *Cleanup) Execute(ctx context.Context) (map[string]int, error) {
	if uc.retentionDays <= 0 {
		uc.logger.Infof("Retention disabled, skipping cleanup")
		return nil, nil
	}
	uc.logger.Infof("Starting cleanup, retention: %d days", uc.retentionDays)

	cutoff := uc.now().AddDate(0, 0, -uc.retentionDays)

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		deleted = make(map[string]int, len(uc.targets))
		failed  []string
	)
	for _, target := range uc.targets {
		wg.Add(1)
		go func(t domain.UploadTarget) {
			defer wg.Done()

			n, err := uc.cleanupTarget(ctx, t, cutoff)
			mu.Lock()
			defer mu.Unlock()
			deleted[t.Name] = n
			if err != nil {
				uc.logger.Errorf("Cleanup failed for %s: %v", t.Name, err)
				failed = append(failed, t.Name)
			}
		}(target)
	}
	wg.Wait()

	if len(failed) > 0 {
		return deleted, fmt.Errorf("cleanup failed for %s", strings.Join(failed, ", "))
	}
	uc.logger.Infof("Cleanup completed")
	return deleted, nil
}

func (uc *Cleanup) cleanupTarget(ctx context.Context, target domain.UploadTarget, cutoff time.Time) (int, error) {
	files, err := target.Storage.GetOldFiles(ctx, cutoff)
	if err != nil {
		files, err = uc.fallbackListFiles(ctx, target, cutoff)
		if err != nil {
			return 0, err
		}
	}

	deleted := 0
	for _, filename := range files {
		if !IsArtifactName(filename) {
			continue
		}
		uc.logger.Infof("Deleting old backup from %s: %s", target.Name, filename)

		if err := target.Storage.Delete(ctx, filename); err != nil {
			uc.logger.Errorf("Failed to delete %s from %s: %v", filename, target.Name, err)
		} else {
			deleted++
		}
	}

	uc.logger.Infof("Deleted %d old backup(s) from %s", deleted, target.Name)
	return deleted, nil
}

func (uc *Cleanup) fallbackListFiles(ctx context.Context, target domain.UploadTarget, cutoff time.Time) ([]string, error) {
	files, err := target.Storage.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}

	oldFiles := make([]string, 0)
	for _, filename := range files {
		timestamp, err := extractTimestamp(filename)
		if err != nil {
			uc.logger.Warnf("Could not parse timestamp from %s: %v", filename, err)
			continue
		}

		if timestamp.Before(cutoff) {
			oldFiles = append(oldFiles, filename)
		}
	}

	return oldFiles, nil
}

// IsArtifactName reports whether filename looks like a bundle this
// program wrote.
func IsArtifactName(filename string) bool {
	return strings.HasPrefix(filename, "backup_") && timestampPattern.MatchString(filename)
}

func extractTimestamp(filename string) (time.Time, error) {
	matches := timestampPattern.FindStringSubmatch(filename)
	if len(matches) < 3 {
		return time.Time{}, fmt.Errorf("invalid filename format: no timestamp found")
	}

	return time.Parse(timestampLayout, matches[1]+"_"+matches[2])
}
