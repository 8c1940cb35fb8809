// Package engine drives backup jobs: the tick based scheduler, the upload
// dispatcher and the shutdown coordinator.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sourcegraph/conc"
	"github.com/sourcegraph/conc/panics"

	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/infrastructure/metrics"
	"github.com/semmidev/vigil/internal/status"
)

const DefaultTickInterval = 5 * time.Second

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Submitter receives artifacts of finished runs.
type Submitter interface {
	Submit(artifact domain.Artifact)
}

type SchedulerOptions struct {
	TickInterval time.Duration
	// Now is the clock used for due time decisions. Defaults to time.Now.
	Now func() time.Time
}

type SchedulerDeps struct {
	Executor domain.BackupExecutor
	Store    *status.Store
	Events   domain.Publisher
	Logger   Logger
	// Optional
	Uploads  Submitter
	LastRuns LastRunStore
}

type jobState struct {
	spec         domain.JobSpec
	lastRun      time.Time
	nextDue      time.Time
	inFlight     bool
	skipReported bool
}

// Scheduler launches due jobs on a fixed tick. A job never has more than
// one run in flight; a slot that comes due while the job is still running
// is skipped, not queued.
type Scheduler struct {
	opts SchedulerOptions
	deps SchedulerDeps

	mu       sync.Mutex
	jobs     map[string]*jobState
	running  bool
	closing  bool
	stopCh   chan struct{}
	loopDone chan struct{}

	wg      conc.WaitGroup
	jobCtx  context.Context
	abandon context.CancelFunc
}

func NewScheduler(opts SchedulerOptions, deps SchedulerDeps) *Scheduler {
	if opts.TickInterval <= 0 {
		opts.TickInterval = DefaultTickInterval
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		opts:    opts,
		deps:    deps,
		jobs:    make(map[string]*jobState),
		jobCtx:  ctx,
		abandon: cancel,
	}
}

func (s *Scheduler) now() time.Time {
	return s.opts.Now()
}

func (s *Scheduler) publish(sev domain.Severity, origin, format string, args ...interface{}) {
	if s.deps.Events != nil {
		s.deps.Events.Publish(domain.NewEvent(sev, origin, format, args...))
	}
}

// Register makes jobs known without starting the tick loop, so they can be
// triggered manually. Jobs already known keep their last run; jobs no
// longer configured are dropped unless in flight.
func (s *Scheduler) Register(jobs []domain.JobSpec) error {
	seen := make(map[string]bool, len(jobs))
	for _, j := range jobs {
		if j.Name == "" {
			return fmt.Errorf("job without a name")
		}
		if seen[j.Name] {
			return fmt.Errorf("duplicate job %q", j.Name)
		}
		seen[j.Name] = true
	}

	var lastRuns map[string]time.Time
	if s.deps.LastRuns != nil {
		var err error
		if lastRuns, err = s.deps.LastRuns.Load(); err != nil {
			s.deps.Logger.Warnf("Could not load last run times, treating jobs as never run: %v", err)
		}
	}

	now := s.now()
	s.mu.Lock()
	for name, st := range s.jobs {
		if !seen[name] && !st.inFlight {
			delete(s.jobs, name)
		}
	}
	due := make(map[string]time.Time, len(jobs))
	for _, spec := range jobs {
		st, ok := s.jobs[spec.Name]
		if !ok {
			st = &jobState{lastRun: lastRuns[spec.Name]}
			s.jobs[spec.Name] = st
		}
		st.spec = spec
		if !st.inFlight {
			st.nextDue = firstDue(spec.Schedule, st.lastRun, now)
		}
		due[spec.Name] = st.nextDue
	}
	s.mu.Unlock()

	s.deps.Store.RegisterJobs(jobs)
	for name, at := range due {
		s.deps.Store.SetNextDue(name, at)
	}
	return nil
}

// firstDue is Next(last), or now for a job that never ran. Zero when the
// schedule is disabled.
func firstDue(sched domain.Schedule, last, now time.Time) time.Time {
	if !sched.Enabled() {
		return time.Time{}
	}
	if last.IsZero() {
		return now
	}
	return sched.Next(last)
}

// Start registers jobs and starts the tick loop.
func (s *Scheduler) Start(jobs []domain.JobSpec) error {
	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		return domain.ErrSchedulerStopped
	}
	if s.running {
		s.mu.Unlock()
		return domain.ErrSchedulerRunning
	}
	s.mu.Unlock()

	if err := s.Register(jobs); err != nil {
		return err
	}

	s.mu.Lock()
	if s.running || s.closing {
		s.mu.Unlock()
		return domain.ErrSchedulerRunning
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.loopDone = make(chan struct{})
	go s.loop(s.stopCh, s.loopDone)
	s.mu.Unlock()

	s.deps.Store.SetSchedulerRunning(true)
	s.deps.Logger.Infof("Scheduler started with %d job(s), tick %s", len(jobs), s.opts.TickInterval)
	s.publish(domain.SeverityInfo, domain.OriginScheduler, "scheduler started with %d job(s)", len(jobs))
	return nil
}

func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Stop ends the tick loop. Runs in flight continue and are still recorded.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return domain.ErrSchedulerStopped
	}
	s.running = false
	close(s.stopCh)
	done := s.loopDone
	s.mu.Unlock()

	s.deps.Store.SetSchedulerRunning(false)
	s.deps.Logger.Infof("Scheduler stopped")
	s.publish(domain.SeverityInfo, domain.OriginScheduler, "scheduler stopped")

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops admitting runs, scheduled or manual, and waits for the
// runs in flight to be recorded.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	inFlight := s.inFlightLocked()
	s.mu.Unlock()

	if err := s.Stop(ctx); err != nil && !errors.Is(err, domain.ErrSchedulerStopped) {
		return err
	}

	if len(inFlight) > 0 {
		s.deps.Logger.Infof("Waiting for %d running job(s): %v", len(inFlight), inFlight)
		s.publish(domain.SeverityInfo, domain.OriginScheduler, "waiting for %d running job(s) to finish", len(inFlight))
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StopAdmitting refuses new runs, scheduled or manual, without waiting for
// the runs in flight.
func (s *Scheduler) StopAdmitting() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closing = true
}

// Abandon is the forced path: nothing new is admitted and the context of
// every running job is cancelled. It does not wait.
func (s *Scheduler) Abandon() {
	s.mu.Lock()
	s.closing = true
	wasRunning := s.running
	if s.running {
		s.running = false
		close(s.stopCh)
	}
	inFlight := s.inFlightLocked()
	s.mu.Unlock()

	s.abandon()
	if wasRunning {
		s.deps.Store.SetSchedulerRunning(false)
	}
	if len(inFlight) > 0 {
		s.deps.Logger.Warnf("Abandoning %d running job(s): %v", len(inFlight), inFlight)
		s.publish(domain.SeverityWarn, domain.OriginScheduler, "abandoning %d running job(s)", len(inFlight))
	}
}

func (s *Scheduler) inFlightLocked() []string {
	var names []string
	for name, st := range s.jobs {
		if st.inFlight {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

// Trigger runs a job now, bypassing its schedule, and waits for the run.
func (s *Scheduler) Trigger(ctx context.Context, name string) (domain.JobRun, error) {
	s.mu.Lock()
	st, ok := s.jobs[name]
	switch {
	case !ok:
		s.mu.Unlock()
		return domain.JobRun{}, fmt.Errorf("%w: %s", domain.ErrUnknownJob, name)
	case s.closing:
		s.mu.Unlock()
		return domain.JobRun{}, domain.ErrSchedulerStopped
	case st.inFlight:
		s.mu.Unlock()
		return domain.JobRun{}, fmt.Errorf("%w: %s", domain.ErrJobInFlight, name)
	}
	result := s.launchLocked(st, domain.TriggerManual)
	s.mu.Unlock()

	select {
	case run := <-result:
		return run, nil
	case <-ctx.Done():
		return domain.JobRun{}, ctx.Err()
	}
}

func (s *Scheduler) loop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(s.opts.TickInterval)
	defer ticker.Stop()

	s.tick()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.tick()
		}
	}
}

func (s *Scheduler) jobNames() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.jobs))
	for name := range s.jobs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// tick scans every job once. A panic while admitting one job is reported
// as a SchedulerInternalError and does not keep the other jobs from being
// scanned.
func (s *Scheduler) tick() {
	metrics.SchedulerTicks.Inc()
	now := s.now()
	for _, name := range s.jobNames() {
		var pc panics.Catcher
		pc.Try(func() { s.admitDue(name, now) })
		if r := pc.Recovered(); r != nil {
			s.internalError(name, r)
		}
	}
}

func (s *Scheduler) internalError(job string, r *panics.Recovered) {
	err := &domain.SchedulerInternalError{Value: r.Value, Stack: string(r.Stack)}
	metrics.SchedulerInternalErrors.Inc()
	s.deps.Logger.Errorf("[%s] %v\n%s", job, err, err.Stack)

	// The publisher itself may be what panicked.
	var pc panics.Catcher
	pc.Try(func() {
		s.publish(domain.SeverityError, domain.OriginScheduler, "internal error while scanning %s: %v", job, r.Value)
	})
}

func (s *Scheduler) admitDue(name string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()

	st, ok := s.jobs[name]
	if !ok || s.closing || st.nextDue.IsZero() || now.Before(st.nextDue) {
		return
	}
	if st.inFlight {
		if !st.skipReported {
			st.skipReported = true
			metrics.JobsSkipped.WithLabelValues(name).Inc()
			s.publish(domain.SeverityWarn, domain.JobOrigin(name), "still running, skipping the slot due %s", st.nextDue.Format(time.RFC3339))
		}
		return
	}
	s.launchLocked(st, domain.TriggerSchedule)
}

// launchLocked marks st in flight and runs it on its own goroutine. The
// returned channel receives the finalized run. Caller holds s.mu.
func (s *Scheduler) launchLocked(st *jobState, trigger domain.Trigger) <-chan domain.JobRun {
	spec := st.spec
	started := s.now()
	st.inFlight = true
	st.skipReported = false
	s.deps.Store.SetInFlight(spec.Name, true)

	result := make(chan domain.JobRun, 1)
	s.wg.Go(func() {
		s.run(spec, trigger, started, result)
	})
	return result
}

func (s *Scheduler) run(spec domain.JobSpec, trigger domain.Trigger, started time.Time, result chan<- domain.JobRun) {
	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()
	s.publish(domain.SeverityInfo, domain.JobOrigin(spec.Name), "starting %s backup of %d database(s) on %s", trigger, len(spec.Databases), spec.Target.Name)

	ctx, cancel := s.jobCtx, context.CancelFunc(func() {})
	if spec.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.jobCtx, spec.Timeout)
	}
	defer cancel()

	done := make(chan domain.JobRun, 1)
	go func() {
		var pc panics.Catcher
		var run domain.JobRun
		pc.Try(func() { run = s.deps.Executor.Execute(ctx, spec, trigger) })
		if r := pc.Recovered(); r != nil {
			s.deps.Logger.Errorf("[%s] executor panicked: %v\n%s", spec.Name, r.Value, r.Stack)
			run = s.failedRun(spec, trigger, started, domain.KindInternal, fmt.Sprintf("panic: %v", r.Value))
		}
		done <- run
	}()

	var run domain.JobRun
	select {
	case run = <-done:
	case <-ctx.Done():
		if !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			// Abandoned: the run is left unfinalized.
			return
		}
		s.deps.Logger.Warnf("[%s] Timed out after %s, abandoning the run", spec.Name, spec.Timeout)
		run = s.failedRun(spec, trigger, started, domain.KindTimeout, fmt.Sprintf("timeout after %s", spec.Timeout))
	}
	s.finalize(spec, started, run, result)
}

func (s *Scheduler) failedRun(spec domain.JobSpec, trigger domain.Trigger, started time.Time, kind domain.FailureKind, msg string) domain.JobRun {
	return domain.JobRun{
		ID:       uuid.NewString(),
		Job:      spec.Name,
		Target:   spec.Target.Name,
		Trigger:  trigger,
		Started:  started,
		Finished: s.now(),
		Outcome:  domain.OutcomeFailure,
		Kind:     kind,
		Error:    msg,
	}
}

// finalize records the run together with the cleared in-flight mark and
// the next due time, then reports it.
func (s *Scheduler) finalize(spec domain.JobSpec, started time.Time, run domain.JobRun, result chan<- domain.JobRun) {
	if run.Job == "" {
		run.Job = spec.Name
	}
	if run.Finished.IsZero() {
		run.Finished = s.now()
	}

	next, missed := nextDue(spec.Schedule, started, s.now())

	s.mu.Lock()
	if st, ok := s.jobs[spec.Name]; ok {
		st.inFlight = false
		st.lastRun = started
		st.nextDue = next
	}
	s.deps.Store.Finalize(run, next)
	s.mu.Unlock()

	metrics.RecordJobRun(run.Job, string(run.Outcome), run.Duration(), run.Bytes)

	origin := domain.JobOrigin(spec.Name)
	if run.Succeeded() {
		s.publish(domain.SeverityInfo, origin, "backup completed in %s, %.2f MB", run.Duration().Round(time.Second), float64(run.Bytes)/(1024*1024))
	} else {
		s.publish(domain.SeverityError, origin, "backup failed (%s): %s", run.Kind, run.Error)
	}
	if missed {
		s.publish(domain.SeverityWarn, origin, "run outlasted its schedule, missed slot skipped; next run %s", next.Format(time.RFC3339))
	}

	if run.Artifact != nil && s.deps.Uploads != nil {
		s.deps.Uploads.Submit(*run.Artifact)
	}

	if s.deps.LastRuns != nil {
		if err := s.deps.LastRuns.Save(spec.Name, started); err != nil {
			s.deps.Logger.Warnf("[%s] Could not persist last run time: %v", spec.Name, err)
		}
	}

	result <- run
}

// nextDue is Next(started), or Next(finished) when the run outlasted that
// slot.
func nextDue(sched domain.Schedule, started, finished time.Time) (time.Time, bool) {
	if !sched.Enabled() {
		return time.Time{}, false
	}
	next := sched.Next(started)
	if next.After(finished) {
		return next, false
	}
	return sched.Next(finished), true
}
