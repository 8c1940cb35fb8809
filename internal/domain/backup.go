package domain

import (
	"context"
	"time"
)

type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// FailureKind classifies why a run failed. Empty for successful runs.
type FailureKind string

const (
	KindConnection FailureKind = "connection"
	KindDump       FailureKind = "dump"
	KindPartial    FailureKind = "partial"
	KindArchive    FailureKind = "archive"
	KindTimeout    FailureKind = "timeout"
	KindInternal   FailureKind = "internal"
)

type Trigger string

const (
	TriggerSchedule Trigger = "schedule"
	TriggerManual   Trigger = "manual"
)

// Artifact is the bundle a run leaves on local disk.
type Artifact struct {
	Job       string        `json:"job"`
	Target    string        `json:"target"`
	Name      string        `json:"name"`
	Path      string        `json:"path"`
	Size      int64         `json:"size"`
	SHA256    string        `json:"sha256,omitempty"`
	Databases []string      `json:"databases"`
	CreatedAt time.Time     `json:"created_at"`
	Duration  time.Duration `json:"duration"`
}

// DatabaseResult is the outcome of dumping one database of a job.
type DatabaseResult struct {
	Name  string `json:"name"`
	Path  string `json:"-"`
	Size  int64  `json:"size"`
	Error string `json:"error,omitempty"`
}

func (r DatabaseResult) Succeeded() bool {
	return r.Error == ""
}

// JobRun is one finalized execution attempt of a job.
type JobRun struct {
	ID        string           `json:"id"`
	Job       string           `json:"job"`
	Target    string           `json:"target"`
	Trigger   Trigger          `json:"trigger"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	Outcome   Outcome          `json:"outcome"`
	Kind      FailureKind      `json:"kind,omitempty"`
	Error     string           `json:"error,omitempty"`
	Databases []DatabaseResult `json:"databases"`
	Bytes     int64            `json:"bytes"`
	Artifact  *Artifact        `json:"artifact,omitempty"`
}

func (r JobRun) Succeeded() bool {
	return r.Outcome == OutcomeSuccess
}

func (r JobRun) Duration() time.Duration {
	return r.Finished.Sub(r.Started)
}

// FailedDatabases returns the names of databases whose dump failed.
func (r JobRun) FailedDatabases() []string {
	var failed []string
	for _, db := range r.Databases {
		if !db.Succeeded() {
			failed = append(failed, db.Name)
		}
	}
	return failed
}

// Clone returns a copy that shares no slices or pointers with r.
func (r JobRun) Clone() JobRun {
	c := r
	if r.Databases != nil {
		c.Databases = append([]DatabaseResult(nil), r.Databases...)
	}
	if r.Artifact != nil {
		a := *r.Artifact
		a.Databases = append([]string(nil), r.Artifact.Databases...)
		c.Artifact = &a
	}
	return c
}

// UploadResult reports the delivery of one artifact to one upload target.
type UploadResult struct {
	Job      string    `json:"job"`
	Artifact string    `json:"artifact"`
	Target   string    `json:"target"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error,omitempty"`
	At       time.Time `json:"at"`
}

func (r UploadResult) Succeeded() bool {
	return r.Error == ""
}

// BackupExecutor runs one job to completion. It never returns an error:
// every failure is folded into the returned run.
type BackupExecutor interface {
	Execute(ctx context.Context, spec JobSpec, trigger Trigger) JobRun
}
