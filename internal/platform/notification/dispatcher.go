package notification

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Dispatcher sends templated notifications asynchronously so callers never
// block on a slow email provider. Failed sends are retried a bounded number
// of times, then logged and dropped.
type Dispatcher struct {
	manager    *NotificationManager
	log        zerolog.Logger
	queue      chan dispatchJob
	maxRetries int
	retryDelay time.Duration
	wg         sync.WaitGroup
	closeOnce  sync.Once
}

type dispatchJob struct {
	templateID string
	recipient  string
	data       map[string]string
	attempt    int
}

const (
	defaultQueueSize  = 256
	defaultMaxRetries = 3
	defaultRetryDelay = 2 * time.Second
)

// NewDispatcher starts a background worker draining the dispatch queue.
// Call Close to flush and stop it.
func NewDispatcher(mgr *NotificationManager, log zerolog.Logger) *Dispatcher {
	d := &Dispatcher{
		manager:    mgr,
		log:        log.With().Str("component", "notification_dispatcher").Logger(),
		queue:      make(chan dispatchJob, defaultQueueSize),
		maxRetries: defaultMaxRetries,
		retryDelay: defaultRetryDelay,
	}
	d.wg.Add(1)
	go d.run()
	return d
}

// Notify enqueues a templated notification. It never blocks: when the queue
// is full the notification is dropped with a warning, since delivery is
// best-effort and must not stall request handling.
func (d *Dispatcher) Notify(templateID, recipient string, data map[string]string) {
	select {
	case d.queue <- dispatchJob{templateID: templateID, recipient: recipient, data: data}:
	default:
		d.log.Warn().
			Str("template_id", templateID).
			Str("recipient", recipient).
			Msg("notification queue full, dropping")
	}
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	for job := range d.queue {
		d.deliver(job)
	}
}

func (d *Dispatcher) deliver(job dispatchJob) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := d.manager.SendFromTemplate(ctx, job.templateID, job.data, job.recipient)
	if err == nil {
		return
	}

	if job.attempt+1 >= d.maxRetries {
		d.log.Error().Err(err).
			Str("template_id", job.templateID).
			Str("recipient", job.recipient).
			Int("attempts", job.attempt+1).
			Msg("notification delivery failed, giving up")
		return
	}

	d.log.Warn().Err(err).
		Str("template_id", job.templateID).
		Str("recipient", job.recipient).
		Int("attempt", job.attempt+1).
		Msg("notification delivery failed, retrying")

	time.Sleep(d.retryDelay)
	job.attempt++
	d.deliver(job)
}

// Close stops accepting new notifications and waits for queued ones to drain.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
