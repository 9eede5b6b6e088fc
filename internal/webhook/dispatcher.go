package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"chat_service/internal/config"
	"chat_service/internal/metrics"
	"chat_service/pkg/logger"

	"github.com/cenkalti/backoff/v4"
)

// Dispatcher доставляет события на WEBHOOK_URL: одна горутина на доставку,
// число одновременных доставок ограничено семафором.
type Dispatcher struct {
	url     string
	secret  string
	policy  RetryPolicy
	client  *http.Client
	sem     chan struct{}
	mu      sync.Mutex
	wg      sync.WaitGroup
	closed  bool
	ctx     context.Context
	cancel  context.CancelFunc
	timer   func() backoff.Timer
	log     logger.Logger
	metrics *metrics.Metrics
}

type Option func(*Dispatcher)

// WithTimerFactory подменяет таймер пауз между попытками (в тестах: без реального ожидания).
func WithTimerFactory(f func() backoff.Timer) Option {
	return func(d *Dispatcher) { d.timer = f }
}

func WithHTTPClient(c *http.Client) Option {
	return func(d *Dispatcher) { d.client = c }
}

func NewDispatcher(cfg config.WebhookConfig, log logger.Logger, m *metrics.Metrics, opts ...Option) *Dispatcher {
	policy := DefaultRetryPolicy()
	if cfg.MaxRetries >= 0 {
		policy.MaxRetries = cfg.MaxRetries
	}
	if cfg.RetryDelay > 0 {
		policy.InitialInterval = cfg.RetryDelay
	}
	if cfg.Timeout > 0 {
		policy.Timeout = cfg.Timeout
	}
	concurrency := cfg.Concurrency
	if concurrency <= 0 {
		concurrency = 16
	}

	ctx, cancel := context.WithCancel(context.Background())
	d := &Dispatcher{
		url:     cfg.URL,
		secret:  cfg.Secret,
		policy:  policy,
		client:  &http.Client{Timeout: policy.Timeout},
		sem:     make(chan struct{}, concurrency),
		ctx:     ctx,
		cancel:  cancel,
		log:     log,
		metrics: m,
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dispatcher) Enabled() bool {
	return d.url != ""
}

// Send ставит событие в доставку и сразу возвращается. Без URL: no-op.
func (d *Dispatcher) Send(event Event) {
	if !d.Enabled() {
		return
	}

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		d.log.Warn("Webhook dropped after shutdown", "event_id", event.ID, "event_type", event.Type)
		return
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()

		select {
		case d.sem <- struct{}{}:
		case <-d.ctx.Done():
			return
		}
		defer func() { <-d.sem }()

		if err := d.Deliver(d.ctx, event); err != nil {
			d.log.Error("Webhook delivery failed",
				"error", err,
				"event_id", event.ID,
				"event_type", event.Type,
				"attempts", d.policy.MaxRetries+1,
			)
		}
	}()
}

// Deliver синхронно отправляет событие с повторами по политике.
func (d *Dispatcher) Deliver(ctx context.Context, event Event) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal webhook event: %w", err)
	}
	signature := Sign(d.secret, body)

	attempt := 0
	operation := func() error {
		attempt++
		d.metrics.WebhookAttempts.WithLabelValues(event.Type).Inc()
		return d.post(ctx, event, body, signature)
	}
	notify := func(err error, next time.Duration) {
		d.log.Warn("Webhook attempt failed, retrying",
			"error", err,
			"event_id", event.ID,
			"attempt", attempt,
			"retry_in", next,
		)
	}

	var timer backoff.Timer
	if d.timer != nil {
		timer = d.timer()
	}

	b := backoff.WithContext(d.policy.newBackOff(), ctx)
	if err := backoff.RetryNotifyWithTimer(operation, b, notify, timer); err != nil {
		d.metrics.WebhookDeliveries.WithLabelValues(event.Type, "failed").Inc()
		return err
	}

	d.metrics.WebhookDeliveries.WithLabelValues(event.Type, "success").Inc()
	d.log.Debug("Webhook delivered", "event_id", event.ID, "event_type", event.Type, "attempts", attempt)
	return nil
}

func (d *Dispatcher) post(ctx context.Context, event Event, body []byte, signature string) error {
	reqCtx, cancel := context.WithTimeout(ctx, d.policy.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return backoff.Permanent(fmt.Errorf("build webhook request: %w", err))
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Signature", signature)
	req.Header.Set("X-Webhook-Event", event.Type)
	req.Header.Set("X-Webhook-Id", event.ID.String())

	resp, err := d.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &StatusError{StatusCode: resp.StatusCode}
	}
	return nil
}

// Shutdown ждет завершения доставок; по истечении ctx прерывает оставшиеся.
func (d *Dispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}

type StatusError struct {
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("webhook endpoint returned status %d", e.StatusCode)
}
