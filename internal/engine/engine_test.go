package engine

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/semmidev/vigil/internal/domain"
)

var t0 = time.Date(2026, 10, 16, 0, 0, 0, 0, time.UTC)

type nopLogger struct{}

func (nopLogger) Infof(string, ...interface{})  {}
func (nopLogger) Errorf(string, ...interface{}) {}
func (nopLogger) Warnf(string, ...interface{})  {}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func newClock(t time.Time) *clock {
	return &clock{t: t}
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = t
}

// recorder is a Publisher that remembers events. It panics on messages
// containing panicOn and hands every event to observe when set.
type recorder struct {
	mu      sync.Mutex
	events  []domain.Event
	panicOn string
	observe func(domain.Event)
}

func (r *recorder) Publish(e domain.Event) {
	r.mu.Lock()
	trip := r.panicOn != "" && strings.Contains(e.Message, r.panicOn)
	if !trip {
		r.events = append(r.events, e)
	}
	observe := r.observe
	r.mu.Unlock()
	if trip {
		panic("publisher exploded")
	}
	if observe != nil {
		observe(e)
	}
}

func (r *recorder) onPublish(fn func(domain.Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.observe = fn
}

func (r *recorder) panicWhen(substr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.panicOn = substr
}

func (r *recorder) has(substr string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, e := range r.events {
		if strings.Contains(e.Message, substr) {
			return true
		}
	}
	return false
}

type fakeExecutor struct {
	now func() time.Time

	mu        sync.Mutex
	calls     map[string]int
	active    map[string]int
	maxActive int
	// release blocks runs of the named jobs until closed, ignoring ctx.
	release   map[string]chan struct{}
	panicWith interface{}
}

func newFakeExecutor(now func() time.Time) *fakeExecutor {
	return &fakeExecutor{
		now:     now,
		calls:   make(map[string]int),
		active:  make(map[string]int),
		release: make(map[string]chan struct{}),
	}
}

func (f *fakeExecutor) block(job string) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.release[job] = ch
	return ch
}

func (f *fakeExecutor) Calls(job string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[job]
}

func (f *fakeExecutor) MaxActive() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.maxActive
}

func (f *fakeExecutor) Execute(ctx context.Context, spec domain.JobSpec, trigger domain.Trigger) domain.JobRun {
	f.mu.Lock()
	f.calls[spec.Name]++
	f.active[spec.Name]++
	if f.active[spec.Name] > f.maxActive {
		f.maxActive = f.active[spec.Name]
	}
	release := f.release[spec.Name]
	panicWith := f.panicWith
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.active[spec.Name]--
		f.mu.Unlock()
	}()

	if panicWith != nil {
		panic(panicWith)
	}

	started := f.now()
	if release != nil {
		<-release
	}
	return domain.JobRun{
		ID:       fmt.Sprintf("%s-%d", spec.Name, started.UnixNano()),
		Job:      spec.Name,
		Target:   spec.Target.Name,
		Trigger:  trigger,
		Started:  started,
		Finished: f.now(),
		Outcome:  domain.OutcomeSuccess,
		Bytes:    10,
		Artifact: &domain.Artifact{Job: spec.Name, Name: "backup_" + spec.Name + ".zip"},
	}
}

type fakeLastRuns struct {
	mu    sync.Mutex
	runs  map[string]time.Time
	saved map[string]time.Time
}

func (f *fakeLastRuns) Load() (map[string]time.Time, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]time.Time, len(f.runs))
	for k, v := range f.runs {
		out[k] = v
	}
	return out, nil
}

func (f *fakeLastRuns) Save(job string, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saved == nil {
		f.saved = make(map[string]time.Time)
	}
	f.saved[job] = at
	return nil
}

func (f *fakeLastRuns) Saved(job string) time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.saved[job]
}

type submissions struct {
	mu        sync.Mutex
	artifacts []domain.Artifact
}

func (s *submissions) Submit(a domain.Artifact) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts = append(s.artifacts, a)
}

func (s *submissions) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.artifacts)
}

func eventually(cond func() bool) bool {
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(2 * time.Millisecond)
	}
	return cond()
}

func job(name string, sched domain.Schedule) domain.JobSpec {
	return domain.JobSpec{
		Name:      name,
		Target:    domain.DatabaseTarget{Name: "primary", Engine: domain.EngineMySQL},
		Databases: []string{"app"},
		Schedule:  sched,
	}
}
