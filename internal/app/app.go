package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sourcegraph/conc"

	"github.com/semmidev/vigil/internal/adapter/compressor"
	"github.com/semmidev/vigil/internal/adapter/database"
	"github.com/semmidev/vigil/internal/adapter/storage"
	"github.com/semmidev/vigil/internal/adapter/web"
	"github.com/semmidev/vigil/internal/config"
	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/engine"
	"github.com/semmidev/vigil/internal/eventbus"
	"github.com/semmidev/vigil/internal/infrastructure/logger"
	"github.com/semmidev/vigil/internal/infrastructure/scheduler"
	"github.com/semmidev/vigil/internal/status"
	"github.com/semmidev/vigil/internal/usecase"
)

const (
	drainTimeout   = 2 * time.Minute
	webStopTimeout = 5 * time.Second
)

type App struct {
	config      *config.Config
	logger      *logger.Logger
	store       *status.Store
	events      *eventbus.Broadcaster
	jobs        []domain.JobSpec
	targets     []domain.UploadTarget
	scheduler   *engine.Scheduler
	dispatcher  *engine.Dispatcher
	maintenance *scheduler.Scheduler
	cleanupUC   *usecase.Cleanup
	web         *web.Server
	coordinator *engine.Coordinator

	shutdownOnce sync.Once
}

type options struct {
	executor domain.BackupExecutor
}

type Option func(*options)

// WithExecutor replaces the backup executor built from the config.
func WithExecutor(executor domain.BackupExecutor) Option {
	return func(o *options) {
		o.executor = executor
	}
}

func New(cfg *config.Config, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	// Initialize logger
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	log.Infof("Starting %s", cfg.App.Name)

	jobs, err := cfg.JobSpecs()
	if err != nil {
		return nil, err
	}
	log.Infof("Found %d database target(s) and %d job(s) configured", len(cfg.Databases), len(jobs))

	// Local storage holds the artifacts and is always cleaned
	localStorage, err := storage.NewLocal(cfg.Backup.LocalPath)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize local storage: %w", err)
	}

	archiver, err := compressor.New(cfg.Backup.Archive)
	if err != nil {
		return nil, err
	}

	targets := initializeUploadTargets(cfg, log)

	store := status.New(cfg.Engine.HistorySize)
	events := eventbus.New(cfg.Engine.ReplaySize, cfg.Engine.SubscriberBuffer)

	names := make([]string, 0, len(targets))
	for _, t := range targets {
		names = append(names, t.Name)
	}
	store.SetSummary(status.Summary{
		DatabaseTargets: len(cfg.Databases),
		Jobs:            len(jobs),
		UploadTargets:   names,
		BackupDirectory: cfg.Backup.LocalPath,
	})

	dispatcher := engine.NewDispatcher(engine.DispatcherOptions{
		Attempts:   cfg.Engine.UploadAttempts,
		Backoff:    cfg.Engine.UploadBackoff,
		MaxBackoff: cfg.Engine.UploadMaxBackoff,
		QueueSize:  cfg.Engine.UploadQueueSize,
		RatePerSec: cfg.Engine.UploadRate,
	}, targets, store, events, log.Named("upload"))

	executor := o.executor
	if executor == nil {
		executor = usecase.NewBackup(database.New, archiver, cfg.Backup.LocalPath, log.Named("backup"))
	}

	deps := engine.SchedulerDeps{
		Executor: executor,
		Store:    store,
		Events:   events,
		Logger:   log.Named("scheduler"),
		Uploads:  dispatcher,
	}
	if cfg.Backup.StateFile != "" {
		deps.LastRuns = engine.NewFileLastRuns(cfg.Backup.StateFile)
	}
	sched := engine.NewScheduler(engine.SchedulerOptions{TickInterval: cfg.Engine.TickInterval}, deps)

	cleanupTargets := append([]domain.UploadTarget{{Name: "local", Storage: localStorage}}, targets...)
	cleanupUC := usecase.NewCleanup(cleanupTargets, log.Named("cleanup"), cfg.Backup.RetentionDays)

	a := &App{
		config:      cfg,
		logger:      log,
		store:       store,
		events:      events,
		jobs:        jobs,
		targets:     targets,
		scheduler:   sched,
		dispatcher:  dispatcher,
		maintenance: scheduler.New(log.Named("maintenance")),
		cleanupUC:   cleanupUC,
		coordinator: engine.NewCoordinator(),
	}

	if cfg.Backup.RetentionDays > 0 && cfg.Backup.CleanupSchedule != "" {
		if err := a.maintenance.AddTask("cleanup", cfg.Backup.CleanupSchedule, a.cleanup); err != nil {
			return nil, fmt.Errorf("failed to schedule cleanup: %w", err)
		}
	}

	if cfg.Web.Enabled {
		a.web, err = web.New(cfg.Web, store, events, a, log.Named("web"))
		if err != nil {
			return nil, fmt.Errorf("failed to initialize dashboard: %w", err)
		}
	}

	return a, nil
}

func initializeUploadTargets(cfg *config.Config, log *logger.Logger) []domain.UploadTarget {
	var targets []domain.UploadTarget

	for _, targetCfg := range cfg.GetEnabledUploadTargets() {
		targetCfg := targetCfg
		stor, err := storage.New(context.Background(), &targetCfg)
		if err != nil {
			log.Errorf("Failed to initialize %s upload target: %v", targetCfg.DisplayName(), err)
			continue
		}
		log.Infof("✓ %s upload enabled (%s)", targetCfg.DisplayName(), targetCfg.Type)

		targets = append(targets, domain.UploadTarget{
			Name:    targetCfg.DisplayName(),
			Storage: stor,
		})
	}

	return targets
}

func (a *App) cleanup(ctx context.Context) error {
	deleted, err := a.cleanupUC.Execute(ctx)
	total := 0
	for _, n := range deleted {
		total += n
	}
	if err != nil {
		a.events.Publish(domain.NewEvent(domain.SeverityError, domain.OriginScheduler, "cleanup failed: %v", err))
		return err
	}
	a.events.Publish(domain.NewEvent(domain.SeverityInfo, domain.OriginScheduler, "cleanup removed %d expired artifact(s)", total))
	return nil
}

// Store is the live status of the engine.
func (a *App) Store() *status.Store {
	return a.store
}

// Events is the live event stream.
func (a *App) Events() *eventbus.Broadcaster {
	return a.events
}

func (a *App) Coordinator() *engine.Coordinator {
	return a.coordinator
}

func (a *App) StartScheduler() error {
	return a.scheduler.Start(a.jobs)
}

func (a *App) StopScheduler(ctx context.Context) error {
	return a.scheduler.Stop(ctx)
}

func (a *App) TriggerJob(ctx context.Context, name string) (domain.JobRun, error) {
	return a.scheduler.Trigger(ctx, name)
}

// RequestShutdown behaves like an interrupt: the first asks for a graceful
// stop, the second forces it.
func (a *App) RequestShutdown() {
	state := a.coordinator.Interrupt()
	a.logger.Warnf("Shutdown requested, state: %s", state)
}

// Run starts the scheduler, the maintenance tasks and the dashboard, then
// blocks until a shutdown is requested or ctx ends.
func (a *App) Run(ctx context.Context) error {
	if err := a.StartScheduler(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}
	a.maintenance.Start()
	if len(a.maintenance.Tasks()) > 0 {
		a.logger.Infof("Cleanup scheduled: %s (retention %d days)", a.config.Backup.CleanupSchedule, a.config.Backup.RetentionDays)
	}
	if a.web != nil {
		if err := a.web.Start(); err != nil {
			return err
		}
	}

	a.logger.Infof("Application started with %d backup job(s)", len(a.jobs))
	a.logger.Infof("Backup destinations: local + %d remote target(s)", len(a.targets))

	select {
	case <-ctx.Done():
		a.coordinator.Interrupt()
	case <-a.coordinator.Requested():
	}
	return a.shutdown()
}

// shutdown waits for runs in flight and queued uploads unless a second
// interrupt forces the stop.
func (a *App) shutdown() error {
	a.logger.Infof("Shutting down, waiting for running backups (interrupt again to force)")
	a.events.Publish(domain.NewEvent(domain.SeverityWarn, domain.OriginScheduler, "shutdown requested"))
	a.maintenance.Stop()

	waitCtx, cancelWait := context.WithCancel(context.Background())
	defer cancelWait()
	go func() {
		select {
		case <-a.coordinator.Forced():
			cancelWait()
		case <-waitCtx.Done():
		}
	}()

	if err := a.scheduler.Shutdown(waitCtx); err != nil {
		return a.forceStop()
	}

	drainCtx, cancelDrain := context.WithTimeout(waitCtx, drainTimeout)
	defer cancelDrain()
	if err := a.dispatcher.Stop(drainCtx); err != nil {
		if a.coordinator.State() == engine.StateForceStopped {
			return a.forceStop()
		}
		a.logger.Warnf("Gave up on queued uploads: %v", err)
	}

	a.stopWeb()
	if !a.coordinator.MarkStopped() {
		return a.forceStop()
	}
	a.events.Publish(domain.NewEvent(domain.SeverityInfo, domain.OriginScheduler, "stopped"))
	a.events.Close()
	a.logger.Infof("Shutdown complete")
	return nil
}

func (a *App) forceStop() error {
	a.scheduler.Abandon()
	a.logger.Warnf("Forced shutdown, running backups abandoned")
	a.stopWeb()
	a.events.Close()
	return domain.ErrForceStopped
}

func (a *App) stopWeb() {
	a.shutdownOnce.Do(func() {
		if a.web == nil {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), webStopTimeout)
		defer cancel()
		if err := a.web.Shutdown(ctx); err != nil {
			a.logger.Warnf("%v", err)
		}
	})
}

// RunOnce runs every job now, waits for them and for their uploads, and
// returns the runs ordered by job name.
func (a *App) RunOnce(ctx context.Context) ([]domain.JobRun, error) {
	if err := a.Register(); err != nil {
		return nil, err
	}

	var (
		runs []domain.JobRun
		errs []error
	)
	err := a.oneShot(ctx, func(ctx context.Context) {
		var (
			wg conc.WaitGroup
			mu sync.Mutex
		)
		for _, spec := range a.jobs {
			name := spec.Name
			wg.Go(func() {
				run, err := a.scheduler.Trigger(ctx, name)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					errs = append(errs, fmt.Errorf("%s: %w", name, err))
					return
				}
				runs = append(runs, run)
			})
		}
		wg.Wait()
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].Job < runs[j].Job })
	return runs, errors.Join(errs...)
}

// RunJob runs one job now and waits for it and its uploads.
func (a *App) RunJob(ctx context.Context, name string) (domain.JobRun, error) {
	if err := a.Register(); err != nil {
		return domain.JobRun{}, err
	}

	var (
		run    domain.JobRun
		runErr error
	)
	err := a.oneShot(ctx, func(ctx context.Context) {
		run, runErr = a.scheduler.Trigger(ctx, name)
	})
	if err != nil {
		return domain.JobRun{}, err
	}
	if runErr != nil {
		return domain.JobRun{}, fmt.Errorf("run %s: %w", name, runErr)
	}
	return run, nil
}

// oneShot runs fn, then drains the uploads, under the same interrupt rules
// as Run: the first interrupt stops admitting runs and lets the running ones
// finish, the second abandons them and oneShot returns
// domain.ErrForceStopped.
func (a *App) oneShot(ctx context.Context, fn func(ctx context.Context)) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	go func() {
		select {
		case <-a.coordinator.Requested():
		case <-ctx.Done():
			return
		}
		a.logger.Infof("Shutting down, waiting for running backups (interrupt again to force)")
		a.scheduler.StopAdmitting()
		select {
		case <-a.coordinator.Forced():
			a.scheduler.Abandon()
			cancel()
		case <-ctx.Done():
		}
	}()

	fn(ctx)
	a.DrainUploads(ctx)

	if a.coordinator.State() == engine.StateForceStopped {
		a.logger.Warnf("Forced shutdown, running backups abandoned")
		return domain.ErrForceStopped
	}
	a.coordinator.MarkStopped()
	return nil
}

// Register makes the configured jobs triggerable without starting the
// tick loop.
func (a *App) Register() error {
	return a.scheduler.Register(a.jobs)
}

// DrainUploads stops admitting runs and waits for the queued uploads.
func (a *App) DrainUploads(ctx context.Context) {
	_ = a.scheduler.Shutdown(ctx)

	drainCtx, cancel := context.WithTimeout(ctx, drainTimeout)
	defer cancel()
	if err := a.dispatcher.Stop(drainCtx); err != nil {
		a.logger.Warnf("Gave up on queued uploads: %v", err)
	}
}

const (
	CheckDatabase = "database"
	CheckUpload   = "upload"
)

// CheckResult is the outcome of probing one database or upload target.
type CheckResult struct {
	Kind   string
	Target string
	Engine domain.Engine
	Err    error
}

// Check probes every configured database target and every upload target
// that can verify its access.
func (a *App) Check(ctx context.Context) []CheckResult {
	targets := a.config.Targets()
	names := make([]string, 0, len(targets))
	for name := range targets {
		names = append(names, name)
	}
	sort.Strings(names)

	results := make([]CheckResult, len(names)+len(a.targets))
	var wg conc.WaitGroup
	for i, name := range names {
		i, target := i, targets[name]
		wg.Go(func() {
			res := CheckResult{Kind: CheckDatabase, Target: target.Name, Engine: target.Engine}
			db, err := database.New(target)
			if err == nil {
				err = db.Ping(ctx)
			}
			if err != nil {
				res.Err = &domain.ConnectionError{Target: target.Name, Err: err}
				a.logger.Errorf("✗ %s (%s): %v", target.Name, target.Engine, err)
			} else {
				a.logger.Infof("✓ Connected to %s (%s)", target.Name, target.Engine)
			}
			results[i] = res
		})
	}
	for i, target := range a.targets {
		i, target := len(names)+i, target
		wg.Go(func() {
			res := CheckResult{Kind: CheckUpload, Target: target.Name}
			if checker, ok := target.Storage.(domain.Checker); ok {
				res.Err = checker.Check(ctx)
			}
			if res.Err != nil {
				a.logger.Errorf("✗ %s upload: %v", target.Name, res.Err)
			} else {
				a.logger.Infof("✓ %s upload reachable", target.Name)
			}
			results[i] = res
		})
	}
	wg.Wait()
	return results
}

// FailedChecks names the targets of failed results.
func FailedChecks(results []CheckResult) string {
	var failed []string
	for _, r := range results {
		if r.Err != nil {
			failed = append(failed, r.Kind+" "+r.Target)
		}
	}
	return strings.Join(failed, ", ")
}

func (a *App) Close() {
	a.logger.Close()
}
