// Package scheduler runs housekeeping tasks (retention cleanup and the like)
// on cron expressions. Backup jobs have their own engine scheduler.
package scheduler

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"

	"github.com/semmidev/vigil/internal/infrastructure/logger"
)

// Parser accepts standard five field expressions, an optional leading
// seconds field and descriptors such as @daily.
var Parser = cron.NewParser(
	cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
)

type Task func(ctx context.Context) error

type Scheduler struct {
	cron   *cron.Cron
	log    *logger.Logger
	ctx    context.Context
	cancel context.CancelFunc

	mu    sync.Mutex
	names map[cron.EntryID]string
}

func New(log *logger.Logger) *Scheduler {
	cl := logger.NewCronLogger(log)
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron: cron.New(
			cron.WithParser(Parser),
			cron.WithLogger(cl),
			cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
		),
		log:    log,
		ctx:    ctx,
		cancel: cancel,
		names:  make(map[cron.EntryID]string),
	}
}

// AddTask registers task under name. Overlapping invocations are skipped.
func (s *Scheduler) AddTask(name, spec string, task Task) error {
	id, err := s.cron.AddFunc(spec, func() {
		s.log.Debugf("[%s] maintenance task started", name)
		if err := task(s.ctx); err != nil {
			s.log.Errorf("[%s] maintenance task failed: %v", name, err)
			return
		}
		s.log.Debugf("[%s] maintenance task finished", name)
	})
	if err != nil {
		return fmt.Errorf("invalid schedule %q for %s: %w", spec, name, err)
	}

	s.mu.Lock()
	s.names[id] = name
	s.mu.Unlock()
	return nil
}

// Tasks lists the registered task names.
func (s *Scheduler) Tasks() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.names))
	for _, e := range s.cron.Entries() {
		out = append(out, s.names[e.ID])
	}
	return out
}

func (s *Scheduler) Start() {
	s.cron.Start()
}

// Stop prevents new invocations, cancels the running ones and waits for them.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	s.cancel()
	<-ctx.Done()
}
