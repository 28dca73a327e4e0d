package services

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	defaultNotificationWorkers     = 2
	defaultNotificationQueueSize   = 256
	defaultNotificationSendTimeout = 10 * time.Second
	defaultNotificationAttempts    = 3
	defaultNotificationBackoff     = 500 * time.Millisecond

	notificationEventSent    = "notification.confirmation.sent"
	notificationEventRetry   = "notification.confirmation.retry.warn"
	notificationEventFailed  = "notification.confirmation.failed"
	notificationEventDropped = "notification.confirmation.dropped.warn"
)

var (
	// ErrNotificationQueueFull indicates the dispatcher could not accept more work.
	ErrNotificationQueueFull = errors.New("notification: queue full")
	// ErrNotificationDispatcherClosed indicates the dispatcher is shutting down.
	ErrNotificationDispatcherClosed = errors.New("notification: dispatcher closed")
)

// NotificationDispatcherConfig configures the background confirmation workers.
type NotificationDispatcherConfig struct {
	Sender      NotificationSender
	Workers     int
	QueueSize   int
	SendTimeout time.Duration
	MaxAttempts int
	// Backoff is multiplied by the attempt number between retries. Negative disables waiting.
	Backoff time.Duration
	Logger  Logger
}

type notificationJob struct {
	ctx context.Context
	msg OrderConfirmation
}

// NotificationWorkerPool delivers order confirmations on a bounded queue drained by a fixed
// number of workers. Delivery failures are retried, then logged and dropped.
type NotificationWorkerPool struct {
	sender      NotificationSender
	timeout     time.Duration
	maxAttempts int
	backoff     time.Duration
	logger      Logger

	mu     sync.RWMutex
	closed bool
	queue  chan notificationJob
	wg     sync.WaitGroup
}

var _ NotificationDispatcher = (*NotificationWorkerPool)(nil)

// NewNotificationWorkerPool starts the workers and returns the pool.
func NewNotificationWorkerPool(cfg NotificationDispatcherConfig) (*NotificationWorkerPool, error) {
	if cfg.Sender == nil {
		return nil, errors.New("notification dispatcher: sender is required")
	}
	workers := cfg.Workers
	if workers <= 0 {
		workers = defaultNotificationWorkers
	}
	size := cfg.QueueSize
	if size <= 0 {
		size = defaultNotificationQueueSize
	}
	timeout := cfg.SendTimeout
	if timeout <= 0 {
		timeout = defaultNotificationSendTimeout
	}
	attempts := cfg.MaxAttempts
	if attempts <= 0 {
		attempts = defaultNotificationAttempts
	}
	backoff := cfg.Backoff
	if backoff < 0 {
		backoff = 0
	} else if backoff == 0 {
		backoff = defaultNotificationBackoff
	}
	logger := cfg.Logger
	if logger == nil {
		logger = noopLogger
	}

	pool := &NotificationWorkerPool{
		sender:      cfg.Sender,
		timeout:     timeout,
		maxAttempts: attempts,
		backoff:     backoff,
		logger:      logger,
		queue:       make(chan notificationJob, size),
	}
	pool.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go pool.work()
	}
	return pool, nil
}

// EnqueueOrderConfirmation never blocks. The request context's values are kept for logging
// but its cancellation is not, so delivery outlives the request.
func (p *NotificationWorkerPool) EnqueueOrderConfirmation(ctx context.Context, msg OrderConfirmation) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrNotificationDispatcherClosed
	}
	select {
	case p.queue <- notificationJob{ctx: context.WithoutCancel(ctx), msg: msg}:
		return nil
	default:
		p.logger(ctx, notificationEventDropped, map[string]any{"orderId": msg.OrderID})
		return ErrNotificationQueueFull
	}
}

// Close stops accepting work and waits for queued confirmations until ctx expires.
func (p *NotificationWorkerPool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *NotificationWorkerPool) work() {
	defer p.wg.Done()
	for job := range p.queue {
		p.deliver(job)
	}
}

func (p *NotificationWorkerPool) deliver(job notificationJob) {
	var lastErr error
	for attempt := 1; attempt <= p.maxAttempts; attempt++ {
		sendCtx, cancel := context.WithTimeout(job.ctx, p.timeout)
		lastErr = p.sender.SendOrderConfirmation(sendCtx, job.msg)
		cancel()
		if lastErr == nil {
			p.logger(job.ctx, notificationEventSent, map[string]any{
				"orderId":  job.msg.OrderID,
				"attempts": attempt,
			})
			return
		}
		if attempt < p.maxAttempts {
			p.logger(job.ctx, notificationEventRetry, map[string]any{
				"orderId": job.msg.OrderID,
				"attempt": attempt,
				"error":   lastErr,
			})
			time.Sleep(p.backoff * time.Duration(attempt))
		}
	}
	p.logger(job.ctx, notificationEventFailed, map[string]any{
		"orderId":  job.msg.OrderID,
		"attempts": p.maxAttempts,
		"error":    lastErr,
	})
}
