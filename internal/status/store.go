// Package status holds the live, read-mostly view of the engine.
//
// Every mutation goes through a single lock, and Snapshot copies the whole
// aggregate under that lock, so readers never see counters that disagree
// with the history they were derived from.
package status

import (
	"sync"
	"time"

	"github.com/semmidev/vigil/internal/domain"
)

const DefaultHistorySize = 50

// Counters are monotonically non-decreasing for the lifetime of a Store.
type Counters struct {
	TotalRuns int   `json:"total_runs"`
	Successes int   `json:"successes"`
	Failures  int   `json:"failures"`
	Bytes     int64 `json:"bytes"`
}

type UploadCounters struct {
	Delivered int `json:"delivered"`
	Failed    int `json:"failed"`
}

// Summary describes the loaded configuration for dashboards.
type Summary struct {
	DatabaseTargets int      `json:"database_targets"`
	Jobs            int      `json:"jobs"`
	UploadTargets   []string `json:"upload_targets"`
	BackupDirectory string   `json:"backup_directory"`
}

type JobStatus struct {
	Name       string               `json:"name"`
	Target     string               `json:"target"`
	Databases  []string             `json:"databases"`
	Schedule   string               `json:"schedule"`
	InFlight   bool                 `json:"in_flight"`
	NextDue    *time.Time           `json:"next_due,omitempty"`
	LastRun    *domain.JobRun       `json:"last_run,omitempty"`
	LastUpload *domain.UploadResult `json:"last_upload,omitempty"`
}

// Snapshot is a point in time copy of the store.
type Snapshot struct {
	SchedulerRunning bool           `json:"scheduler_running"`
	StartedAt        time.Time      `json:"started_at"`
	TakenAt          time.Time      `json:"taken_at"`
	NextRun          *time.Time     `json:"next_run,omitempty"`
	Counters         Counters       `json:"counters"`
	Uploads          UploadCounters `json:"uploads"`
	Jobs             []JobStatus    `json:"jobs"`
	Summary          Summary        `json:"summary"`
}

// SuccessRate is the percentage of successful runs, 100 when nothing ran.
func (s Snapshot) SuccessRate() float64 {
	if s.Counters.TotalRuns == 0 {
		return 100
	}
	return float64(s.Counters.Successes) / float64(s.Counters.TotalRuns) * 100
}

func (s Snapshot) Job(name string) (JobStatus, bool) {
	for _, j := range s.Jobs {
		if j.Name == name {
			return j, true
		}
	}
	return JobStatus{}, false
}

type jobState struct {
	status  JobStatus
	history []domain.JobRun
}

type Store struct {
	mu          sync.RWMutex
	running     bool
	startedAt   time.Time
	counters    Counters
	uploads     UploadCounters
	jobs        map[string]*jobState
	order       []string
	recent      []domain.JobRun
	historySize int
	summary     Summary
	now         func() time.Time
}

func New(historySize int) *Store {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &Store{
		startedAt:   time.Now(),
		jobs:        make(map[string]*jobState),
		historySize: historySize,
		now:         time.Now,
	}
}

// RegisterJobs makes jobs visible before their first run. Known jobs keep
// their history; their descriptive fields are refreshed.
func (s *Store) RegisterJobs(specs []domain.JobSpec) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, spec := range specs {
		st := s.job(spec.Name)
		st.status.Target = spec.Target.Name
		st.status.Databases = append([]string(nil), spec.Databases...)
		st.status.Schedule = spec.Schedule.String()
	}
}

// job returns the state for name, creating it. Caller holds s.mu.
func (s *Store) job(name string) *jobState {
	st, ok := s.jobs[name]
	if !ok {
		st = &jobState{status: JobStatus{Name: name}}
		s.jobs[name] = st
		s.order = append(s.order, name)
	}
	return st
}

// Record appends a finalized run and updates the aggregates atomically.
func (s *Store) Record(run domain.JobRun) {
	run = run.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recordLocked(run)
}

// Finalize records a finished run, clears the job's in-flight mark and sets
// its next due time in one step. A zero nextDue clears it.
func (s *Store) Finalize(run domain.JobRun, nextDue time.Time) {
	run = run.Clone()

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.recordLocked(run)
	st.status.InFlight = false
	st.setNextDue(nextDue)
}

// recordLocked appends run to the history and the counters. Caller holds
// s.mu.
func (s *Store) recordLocked(run domain.JobRun) *jobState {
	st := s.job(run.Job)
	st.history = appendBounded(st.history, run, s.historySize)
	last := run
	st.status.LastRun = &last
	if st.status.Target == "" {
		st.status.Target = run.Target
	}

	s.recent = appendBounded(s.recent, run, s.historySize)

	s.counters.TotalRuns++
	if run.Succeeded() {
		s.counters.Successes++
	} else {
		s.counters.Failures++
	}
	s.counters.Bytes += run.Bytes
	return st
}

func (s *Store) RecordUpload(result domain.UploadResult) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if result.Succeeded() {
		s.uploads.Delivered++
	} else {
		s.uploads.Failed++
	}
	if result.Job != "" {
		r := result
		s.job(result.Job).status.LastUpload = &r
	}
}

func (s *Store) SetSchedulerRunning(running bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

func (s *Store) SchedulerRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// SetNextDue records when a job is due next. A zero time clears it.
func (s *Store) SetNextDue(job string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job(job).setNextDue(at)
}

func (st *jobState) setNextDue(at time.Time) {
	if at.IsZero() {
		st.status.NextDue = nil
		return
	}
	t := at
	st.status.NextDue = &t
}

func (s *Store) SetInFlight(job string, inFlight bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.job(job).status.InFlight = inFlight
}

func (s *Store) SetSummary(summary Summary) {
	s.mu.Lock()
	defer s.mu.Unlock()
	summary.UploadTargets = append([]string(nil), summary.UploadTargets...)
	s.summary = summary
}

func (s *Store) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := Snapshot{
		SchedulerRunning: s.running,
		StartedAt:        s.startedAt,
		TakenAt:          s.now(),
		Counters:         s.counters,
		Uploads:          s.uploads,
		Jobs:             make([]JobStatus, 0, len(s.order)),
		Summary:          s.summary,
	}
	snap.Summary.UploadTargets = append([]string(nil), s.summary.UploadTargets...)

	for _, name := range s.order {
		js := copyStatus(s.jobs[name].status)
		if js.NextDue != nil && (snap.NextRun == nil || js.NextDue.Before(*snap.NextRun)) {
			t := *js.NextDue
			snap.NextRun = &t
		}
		snap.Jobs = append(snap.Jobs, js)
	}
	return snap
}

// History returns the retained runs of a job, oldest first.
func (s *Store) History(job string) []domain.JobRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	st, ok := s.jobs[job]
	if !ok {
		return nil
	}
	return cloneRuns(st.history)
}

// Recent returns up to n runs across all jobs, newest first.
func (s *Store) Recent(n int) []domain.JobRun {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if n <= 0 || n > len(s.recent) {
		n = len(s.recent)
	}
	out := make([]domain.JobRun, 0, n)
	for i := len(s.recent) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, s.recent[i].Clone())
	}
	return out
}

func copyStatus(js JobStatus) JobStatus {
	c := js
	c.Databases = append([]string(nil), js.Databases...)
	if js.NextDue != nil {
		t := *js.NextDue
		c.NextDue = &t
	}
	if js.LastRun != nil {
		r := js.LastRun.Clone()
		c.LastRun = &r
	}
	if js.LastUpload != nil {
		u := *js.LastUpload
		c.LastUpload = &u
	}
	return c
}

func cloneRuns(runs []domain.JobRun) []domain.JobRun {
	out := make([]domain.JobRun, len(runs))
	for i, r := range runs {
		out[i] = r.Clone()
	}
	return out
}

func appendBounded(runs []domain.JobRun, run domain.JobRun, limit int) []domain.JobRun {
	runs = append(runs, run)
	if over := len(runs) - limit; over > 0 {
		runs = append(runs[:0:0], runs[over:]...)
	}
	return runs
}
