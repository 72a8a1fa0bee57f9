package router

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/auditpulse/pulse-monitor/internal/models"
)

type recordingHandler struct {
	mu    sync.Mutex
	got   []Request
	block chan struct{}
	err   error
}

func (h *recordingHandler) Deliver(_ context.Context, req Request) error {
	if h.block != nil {
		<-h.block
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.got = append(h.got, req)
	return h.err
}

func (h *recordingHandler) requests() []Request {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]Request(nil), h.got...)
}

func TestDefaultTable(t *testing.T) {
	table := DefaultTable()
	cases := []struct {
		kind models.AlertKind
		cond models.Condition
		want string
	}{
		{models.KindAnomaly, models.ConditionScoreDrop, RouteAudit},
		{models.KindAnomaly, models.ConditionSubscoreDrop, RouteAudit},
		{models.KindPredictive, models.ConditionDecliningTrend, RoutePlaybook},
		{models.KindMilestone, models.ConditionMilestone, RouteCompetitive},
		{models.KindCompetitor, models.ConditionCompetitorGain, RouteCompetitive},
		{models.KindIndustryTrend, models.ConditionIndustryGap, RoutePlaybook},
		{models.KindRecommendation, models.ConditionWeakDimension, RouteContent},
		{models.KindRecommendation, models.ConditionInactivity, RouteAudit},
	}
	for _, tc := range cases {
		got, ok := table.Lookup(tc.kind, tc.cond)
		if !ok {
			t.Errorf("%s/%s: no route", tc.kind, tc.cond)
			continue
		}
		if got.RouteKey != tc.want {
			t.Errorf("%s/%s: expected %s, got %s", tc.kind, tc.cond, tc.want, got.RouteKey)
		}
		if got.Label == "" {
			t.Errorf("%s/%s: empty label", tc.kind, tc.cond)
		}
	}

	if _, ok := table.Lookup("unknown", "unknown"); ok {
		t.Error("expected no route for an unknown kind")
	}
	if len(table.Kinds()) != 6 {
		t.Errorf("expected 6 routed kinds, got %d", len(table.Kinds()))
	}
}

func TestAsyncRouter_DeliversInOrder(t *testing.T) {
	h := &recordingHandler{}
	r := NewAsyncRouter(h, 8, time.Second, nil)

	r.RouteAction(RouteAudit, "a1")
	r.RouteAction(RoutePlaybook, "a2")
	r.Close()

	got := h.requests()
	if len(got) != 2 {
		t.Fatalf("expected 2 deliveries, got %d", len(got))
	}
	if got[0].AlertID != "a1" || got[1].RouteKey != RoutePlaybook {
		t.Errorf("unexpected deliveries %+v", got)
	}
}

func TestAsyncRouter_NeverBlocksWhenFull(t *testing.T) {
	h := &recordingHandler{block: make(chan struct{})}
	r := NewAsyncRouter(h, 1, time.Second, nil)

	done := make(chan struct{})
	go func() {
		for i := 0; i < 10; i++ {
			r.RouteAction(RouteAudit, "a")
		}
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("RouteAction blocked on a full queue")
	}
	close(h.block)
	r.Close()

	// one in the worker, one queued; the rest dropped
	if n := len(h.requests()); n < 1 || n > 2 {
		t.Errorf("expected 1-2 deliveries, got %d", n)
	}
}

func TestAsyncRouter_AfterCloseIsNoop(t *testing.T) {
	h := &recordingHandler{}
	r := NewAsyncRouter(h, 4, time.Second, nil)
	r.Close()
	r.Close()
	r.RouteAction(RouteAudit, "late")
	if len(h.requests()) != 0 {
		t.Error("expected no delivery after Close")
	}
}

func TestAsyncRouter_HandlerErrorDoesNotStopWorker(t *testing.T) {
	h := &recordingHandler{err: errors.New("catalog down")}
	r := NewAsyncRouter(h, 4, time.Second, nil)
	r.RouteAction(RouteAudit, "a1")
	r.RouteAction(RouteAudit, "a2")
	r.Close()
	if len(h.requests()) != 2 {
		t.Errorf("expected both requests attempted, got %d", len(h.requests()))
	}
}

func TestWebhookHandler(t *testing.T) {
	var got Request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	h := NewWebhookHandler(srv.URL, time.Second)
	if err := h.Deliver(context.Background(), Request{RouteKey: RouteContent, AlertID: "x1"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if got.RouteKey != RouteContent || got.AlertID != "x1" {
		t.Errorf("unexpected payload %+v", got)
	}
}

func TestWebhookHandler_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	if err := NewWebhookHandler(srv.URL, time.Second).Deliver(context.Background(), Request{}); err == nil {
		t.Fatal("expected error for 500 response")
	}
}
