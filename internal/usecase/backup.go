package usecase

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/semmidev/vigil/internal/adapter/compressor"
	"github.com/semmidev/vigil/internal/domain"
)

const timestampLayout = "20060102_150405"

type Logger interface {
	Infof(template string, args ...interface{})
	Errorf(template string, args ...interface{})
	Warnf(template string, args ...interface{})
}

// Backup runs one job: ping the target, dump every database, then bundle
// the successful dumps into a single archive under localPath.
type Backup struct {
	factory   domain.DatabaseFactory
	archiver  domain.Archiver
	localPath string
	logger    Logger
	now       func() time.Time
}

var _ domain.BackupExecutor = (*Backup)(nil)

func NewBackup(
	factory domain.DatabaseFactory,
	archiver domain.Archiver,
	localPath string,
	logger Logger,
) *Backup {
	return &Backup{
		factory:   factory,
		archiver:  archiver,
		localPath: localPath,
		logger:    logger,
		now:       time.Now,
	}
}

// ArtifactName is the file name of a job's bundle started at t.
func ArtifactName(job string, t time.Time, ext string) string {
	return fmt.Sprintf("backup_%s_%s.%s", job, t.Format(timestampLayout), ext)
}

func (uc *Backup) Execute(ctx context.Context, spec domain.JobSpec, trigger domain.Trigger) domain.JobRun {
	run := domain.JobRun{
		ID:      uuid.NewString(),
		Job:     spec.Name,
		Target:  spec.Target.Name,
		Trigger: trigger,
		Started: uc.now(),
	}
	uc.logger.Infof("[%s] Starting backup of %d database(s) on %s...", spec.Name, len(spec.Databases), spec.Target.Name)

	db, err := uc.factory(spec.Target)
	if err != nil {
		return uc.fail(run, domain.KindConnection, &domain.ConnectionError{Target: spec.Target.Name, Err: err})
	}
	if err := db.Ping(ctx); err != nil {
		return uc.fail(run, domain.KindConnection, &domain.ConnectionError{Target: spec.Target.Name, Err: err})
	}

	if err := os.MkdirAll(uc.localPath, 0755); err != nil {
		return uc.fail(run, domain.KindArchive, fmt.Errorf("create backup directory: %w", err))
	}
	workDir, err := os.MkdirTemp(uc.localPath, ".work-"+spec.Name+"-")
	if err != nil {
		return uc.fail(run, domain.KindArchive, fmt.Errorf("create work directory: %w", err))
	}
	defer os.RemoveAll(workDir)

	var failed []*domain.DumpError
	var dumped []string
	files := make(map[string]string, len(spec.Databases))
	for _, name := range spec.Databases {
		res, dumpErr := uc.dump(ctx, db, name, workDir)
		run.Databases = append(run.Databases, res)
		if dumpErr != nil {
			failed = append(failed, dumpErr)
			continue
		}
		run.Bytes += res.Size
		files[res.Path] = filepath.Base(res.Path)
		dumped = append(dumped, name)
	}

	var failure *domain.PartialJobFailure
	if len(failed) > 0 {
		failure = &domain.PartialJobFailure{Job: spec.Name, Failed: failed, Total: len(spec.Databases)}
	}
	if len(files) == 0 {
		if failure == nil {
			return uc.fail(run, domain.KindDump, fmt.Errorf("no databases configured"))
		}
		return uc.fail(run, domain.KindDump, failure)
	}

	artifact, err := uc.bundle(ctx, spec, run.Started, files, dumped)
	if err != nil {
		return uc.fail(run, domain.KindArchive, err)
	}
	artifact.Duration = uc.now().Sub(run.Started)
	run.Artifact = artifact

	if failure != nil {
		return uc.fail(run, domain.KindPartial, failure)
	}

	run.Outcome = domain.OutcomeSuccess
	run.Finished = uc.now()
	uc.logger.Infof("[%s] Backup completed in %s: %s (%.2f MB)",
		spec.Name, run.Duration().Round(time.Second), artifact.Name, float64(artifact.Size)/(1024*1024))
	return run
}

func (uc *Backup) dump(ctx context.Context, db domain.Database, name, workDir string) (domain.DatabaseResult, *domain.DumpError) {
	res := domain.DatabaseResult{Name: name}
	fail := func(err error) (domain.DatabaseResult, *domain.DumpError) {
		dumpErr := &domain.DumpError{Database: name, Err: err}
		res.Error = dumpErr.Error()
		uc.logger.Errorf("[%s] %v", db.Name(), dumpErr)
		return res, dumpErr
	}

	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	path := filepath.Join(workDir, name+db.Engine().DumpExtension())
	uc.logger.Infof("[%s] Dumping %s...", db.Name(), name)
	if err := db.Dump(ctx, name, path); err != nil {
		return fail(err)
	}

	info, err := os.Stat(path)
	if err != nil {
		return fail(fmt.Errorf("stat dump file: %w", err))
	}
	res.Path = path
	res.Size = info.Size()
	uc.logger.Infof("[%s] Dumped %s, size: %.2f MB", db.Name(), name, float64(res.Size)/(1024*1024))
	return res, nil
}

func (uc *Backup) bundle(ctx context.Context, spec domain.JobSpec, started time.Time, files map[string]string, databases []string) (*domain.Artifact, error) {
	name := ArtifactName(spec.Name, started, uc.archiver.Extension())
	path := filepath.Join(uc.localPath, name)

	if err := uc.archiver.Archive(ctx, files, path); err != nil {
		return nil, fmt.Errorf("archive: %w", err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("stat archive: %w", err)
	}
	sum, err := compressor.Checksum(path)
	if err != nil {
		uc.logger.Warnf("[%s] Could not checksum %s: %v", spec.Name, name, err)
	}

	return &domain.Artifact{
		Job:       spec.Name,
		Target:    spec.Target.Name,
		Name:      name,
		Path:      path,
		Size:      info.Size(),
		SHA256:    sum,
		Databases: databases,
		CreatedAt: uc.now(),
	}, nil
}

func (uc *Backup) fail(run domain.JobRun, kind domain.FailureKind, err error) domain.JobRun {
	run.Outcome = domain.OutcomeFailure
	run.Kind = kind
	run.Error = err.Error()
	run.Finished = uc.now()
	uc.logger.Errorf("[%s] Backup failed (%s): %v", run.Job, kind, err)
	return run
}
