package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v3"
	"golang.org/x/time/rate"

	"github.com/semmidev/vigil/internal/domain"
	"github.com/semmidev/vigil/internal/infrastructure/metrics"
	"github.com/semmidev/vigil/internal/status"
)

var (
	errQueueFull         = errors.New("upload queue full")
	errDispatcherStopped = errors.New("upload dispatcher stopped")
)

type DispatcherOptions struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
	QueueSize  int
	RatePerSec float64
	Now        func() time.Time

	newBackOff func() backoff.BackOff
}

func (o *DispatcherOptions) setDefaults() {
	if o.Attempts <= 0 {
		o.Attempts = 3
	}
	if o.Backoff <= 0 {
		o.Backoff = 2 * time.Second
	}
	if o.MaxBackoff < o.Backoff {
		o.MaxBackoff = 30 * time.Second
		if o.MaxBackoff < o.Backoff {
			o.MaxBackoff = o.Backoff
		}
	}
	if o.QueueSize <= 0 {
		o.QueueSize = 64
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.newBackOff == nil {
		initial, maxInterval := o.Backoff, o.MaxBackoff
		o.newBackOff = func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = initial
			b.MaxInterval = maxInterval
			b.MaxElapsedTime = 0
			return b
		}
	}
}

// Dispatcher delivers artifacts to the upload targets off the caller's
// goroutine. Delivery failures are reported on their own and never change
// the outcome of the run that produced the artifact.
type Dispatcher struct {
	opts    DispatcherOptions
	targets []domain.UploadTarget
	store   *status.Store
	events  domain.Publisher
	logger  Logger
	limiter *rate.Limiter

	mu     sync.Mutex
	closed bool
	queue  chan domain.Artifact
	done   chan struct{}
	ctx    context.Context
	cancel context.CancelFunc
}

func NewDispatcher(opts DispatcherOptions, targets []domain.UploadTarget, store *status.Store, events domain.Publisher, logger Logger) *Dispatcher {
	opts.setDefaults()
	limit := rate.Inf
	if opts.RatePerSec > 0 {
		limit = rate.Limit(opts.RatePerSec)
	}
	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		opts:    opts,
		targets: targets,
		store:   store,
		events:  events,
		logger:  logger,
		limiter: rate.NewLimiter(limit, 1),
		queue:   make(chan domain.Artifact, opts.QueueSize),
		done:    make(chan struct{}),
		ctx:     ctx,
		cancel:  cancel,
	}
	go d.work()
	return d
}

func (d *Dispatcher) publish(sev domain.Severity, format string, args ...interface{}) {
	if d.events != nil {
		d.events.Publish(domain.NewEvent(sev, domain.OriginUpload, format, args...))
	}
}

// Targets returns the names of the configured upload targets.
func (d *Dispatcher) Targets() []string {
	names := make([]string, 0, len(d.targets))
	for _, t := range d.targets {
		names = append(names, t.Name)
	}
	return names
}

// Submit enqueues an artifact and returns immediately. A full queue or a
// stopped dispatcher is recorded as a failed delivery.
func (d *Dispatcher) Submit(artifact domain.Artifact) {
	if len(d.targets) == 0 {
		return
	}

	err := errDispatcherStopped
	d.mu.Lock()
	if !d.closed {
		select {
		case d.queue <- artifact:
			metrics.UploadQueueDepth.Set(float64(len(d.queue)))
			d.mu.Unlock()
			return
		default:
			err = errQueueFull
		}
	}
	d.mu.Unlock()

	for _, t := range d.targets {
		d.report(artifact, t.Name, 0, err)
	}
}

// Stop delivers what is already queued, then returns. Uploads still
// running when ctx expires are cancelled.
func (d *Dispatcher) Stop(ctx context.Context) error {
	d.mu.Lock()
	if !d.closed {
		d.closed = true
		close(d.queue)
	}
	d.mu.Unlock()

	select {
	case <-d.done:
		return nil
	case <-ctx.Done():
		d.cancel()
		<-d.done
		return ctx.Err()
	}
}

func (d *Dispatcher) work() {
	defer close(d.done)
	for artifact := range d.queue {
		metrics.UploadQueueDepth.Set(float64(len(d.queue)))
		for _, t := range d.targets {
			attempts, err := d.deliver(d.ctx, t, artifact)
			d.report(artifact, t.Name, attempts, err)
		}
	}
}

// deliver uploads one artifact to one target with bounded retries.
func (d *Dispatcher) deliver(ctx context.Context, t domain.UploadTarget, artifact domain.Artifact) (int, error) {
	attempts := 0
	op := func() error {
		if err := d.limiter.Wait(ctx); err != nil {
			return err
		}
		attempts++
		if u, ok := t.Storage.(domain.ArtifactUploader); ok {
			return u.UploadArtifact(ctx, artifact)
		}
		return t.Storage.Upload(ctx, artifact.Path, artifact.Name)
	}
	notify := func(err error, wait time.Duration) {
		d.logger.Warnf("Upload of %s to %s failed (attempt %d/%d), retrying in %s: %v",
			artifact.Name, t.Name, attempts, d.opts.Attempts, wait.Round(time.Millisecond), err)
	}

	b := backoff.WithContext(backoff.WithMaxRetries(d.opts.newBackOff(), uint64(d.opts.Attempts-1)), ctx)
	err := backoff.RetryNotify(op, b, notify)
	return attempts, err
}

func (d *Dispatcher) report(artifact domain.Artifact, target string, attempts int, err error) {
	result := domain.UploadResult{
		Job:      artifact.Job,
		Artifact: artifact.Name,
		Target:   target,
		Attempts: attempts,
		At:       d.opts.Now(),
	}
	if err != nil {
		uerr := &domain.UploadError{Target: target, Artifact: artifact.Name, Attempts: attempts, Err: err}
		result.Error = uerr.Error()
		d.logger.Errorf("%v", uerr)
		d.publish(domain.SeverityError, "%v", uerr)
	} else {
		d.logger.Infof("Uploaded %s to %s", artifact.Name, target)
		d.publish(domain.SeverityInfo, "uploaded %s to %s (%s)", artifact.Name, target, pluralAttempts(attempts))
	}

	if d.store != nil {
		d.store.RecordUpload(result)
	}
	metrics.RecordUpload(target, err == nil, attempts)
}

func pluralAttempts(n int) string {
	if n == 1 {
		return "1 attempt"
	}
	return fmt.Sprintf("%d attempts", n)
}
