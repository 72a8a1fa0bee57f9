package router

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/auditpulse/pulse-monitor/internal/metrics"
)

// Request is one routed remediation request.
type Request struct {
	RouteKey    string    `json:"route_key"`
	AlertID     string    `json:"alert_id"`
	RequestedAt time.Time `json:"requested_at"`
}

// Handler delivers a request to the tool catalog.
type Handler interface {
	Deliver(ctx context.Context, req Request) error
}

// AsyncRouter queues requests and delivers them from a single worker goroutine.
// RouteAction never blocks: when the queue is full the request is dropped.
type AsyncRouter struct {
	handler Handler
	logger  *zap.Logger
	timeout time.Duration

	mu     sync.RWMutex
	closed bool
	queue  chan Request
	wg     sync.WaitGroup
}

// NewAsyncRouter starts the delivery worker.
func NewAsyncRouter(handler Handler, queueSize int, timeout time.Duration, logger *zap.Logger) *AsyncRouter {
	if queueSize <= 0 {
		queueSize = 64
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	r := &AsyncRouter{
		handler: handler,
		logger:  logger,
		timeout: timeout,
		queue:   make(chan Request, queueSize),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// RouteAction enqueues a request without waiting for delivery.
func (r *AsyncRouter) RouteAction(routeKey, alertID string) {
	req := Request{RouteKey: routeKey, AlertID: alertID, RequestedAt: time.Now().UTC()}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		metrics.ActionsRoutedTotal.WithLabelValues(routeKey, "dropped").Inc()
		return
	}
	select {
	case r.queue <- req:
	default:
		metrics.ActionsRoutedTotal.WithLabelValues(routeKey, "dropped").Inc()
		r.logger.Warn("action queue full, dropping request",
			zap.String("route", routeKey), zap.String("alert_id", alertID))
	}
}

// Close stops accepting requests, delivers what is already queued and waits
// for the worker to exit.
func (r *AsyncRouter) Close() {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()
	r.wg.Wait()
}

func (r *AsyncRouter) run() {
	defer r.wg.Done()
	for req := range r.queue {
		ctx, cancel := context.WithTimeout(context.Background(), r.timeout)
		err := r.handler.Deliver(ctx, req)
		cancel()
		if err != nil {
			metrics.ActionsRoutedTotal.WithLabelValues(req.RouteKey, "failed").Inc()
			r.logger.Warn("action delivery failed",
				zap.String("route", req.RouteKey), zap.String("alert_id", req.AlertID), zap.Error(err))
			continue
		}
		metrics.ActionsRoutedTotal.WithLabelValues(req.RouteKey, "delivered").Inc()
	}
}

// ─── Handlers ─────────────────────────────────────────────────────────────────

// LogHandler records requests in the log. Used when no tool catalog is configured.
type LogHandler struct {
	Logger *zap.Logger
}

func (h LogHandler) Deliver(_ context.Context, req Request) error {
	if h.Logger != nil {
		h.Logger.Info("remediation requested",
			zap.String("route", req.RouteKey), zap.String("alert_id", req.AlertID))
	}
	return nil
}

// WebhookHandler POSTs each request as JSON to the tool catalog endpoint.
type WebhookHandler struct {
	URL    string
	Client *http.Client
}

// NewWebhookHandler creates a handler posting to url.
func NewWebhookHandler(url string, timeout time.Duration) *WebhookHandler {
	return &WebhookHandler{URL: url, Client: &http.Client{Timeout: timeout}}
}

func (h *WebhookHandler) Deliver(ctx context.Context, req Request) error {
	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, h.URL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	client := h.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("post to %s: %w", h.URL, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("tool catalog returned %s", resp.Status)
	}
	return nil
}
