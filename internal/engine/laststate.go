package engine

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// LastRunStore persists the start time of each job's last run so due times
// survive a restart.
type LastRunStore interface {
	Load() (map[string]time.Time, error)
	Save(job string, at time.Time) error
}

type lastRunFile struct {
	Version int                  `json:"version"`
	Jobs    map[string]time.Time `json:"jobs"`
}

// FileLastRuns keeps last run times in a small JSON document.
type FileLastRuns struct {
	path string

	mu   sync.Mutex
	jobs map[string]time.Time
}

func NewFileLastRuns(path string) *FileLastRuns {
	return &FileLastRuns{path: path}
}

// Load reads the state file. A missing file is an empty state.
func (f *FileLastRuns) Load() (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.loadLocked(); err != nil {
		return nil, err
	}
	out := make(map[string]time.Time, len(f.jobs))
	for k, v := range f.jobs {
		out[k] = v
	}
	return out, nil
}

func (f *FileLastRuns) loadLocked() error {
	f.jobs = make(map[string]time.Time)
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read state file: %w", err)
	}

	var doc lastRunFile
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("failed to parse state file %s: %w", f.path, err)
	}
	for k, v := range doc.Jobs {
		f.jobs[k] = v
	}
	return nil
}

// Save records at for job and rewrites the file atomically.
func (f *FileLastRuns) Save(job string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.jobs == nil {
		if err := f.loadLocked(); err != nil {
			f.jobs = make(map[string]time.Time)
		}
	}
	f.jobs[job] = at.UTC()

	data, err := json.MarshalIndent(lastRunFile{Version: 1, Jobs: f.jobs}, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(f.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	tmp, err := os.CreateTemp(dir, ".vigil-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}
	if err := os.Rename(tmp.Name(), f.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}
