package randomness

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	domain "github.com/R3E-Network/lotto_layer/internal/domain/randomness"
	"github.com/R3E-Network/lotto_layer/internal/storage/memory"
)

type recordingHandler struct {
	mu    sync.Mutex
	calls []uint64
	err   error
}

func (h *recordingHandler) HandleFulfillment(_ context.Context, _ int64, rawValue uint64) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return h.err
	}
	h.calls = append(h.calls, rawValue)
	return nil
}

func (h *recordingHandler) values() []uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	out := make([]uint64, len(h.calls))
	copy(out, h.calls)
	return out
}

func TestRequestAndFulfill(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	handler := &recordingHandler{}
	svc.SetHandler(handler)

	ctx := context.Background()
	req, err := svc.Request(ctx, 42, "")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if req.ID == "" || req.Seed == "" {
		t.Fatalf("request missing id or derived seed: %+v", req)
	}
	if req.Status != domain.StatusPending {
		t.Fatalf("expected pending, got %s", req.Status)
	}

	if err := svc.Fulfill(ctx, req.ID, 12345, "proof"); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := handler.values(); len(got) != 1 || got[0] != 12345 {
		t.Fatalf("handler calls: %v", got)
	}

	stored, err := svc.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.StatusFulfilled || !stored.Consumed || stored.RawValue != 12345 {
		t.Fatalf("unexpected stored request: %+v", stored)
	}
}

func TestFulfillReplayRejected(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	handler := &recordingHandler{}
	svc.SetHandler(handler)

	ctx := context.Background()
	req, err := svc.Request(ctx, 1, "seed")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := svc.Fulfill(ctx, req.ID, 7, ""); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if err := svc.Fulfill(ctx, req.ID, 8, ""); !errors.Is(err, ErrRequestConsumed) {
		t.Fatalf("expected consumed, got %v", err)
	}
	// The handler only ever saw the first value.
	if got := handler.values(); len(got) != 1 || got[0] != 7 {
		t.Fatalf("handler calls: %v", got)
	}
}

func TestFulfillHandlerErrorKeepsRequestPending(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	handler := &recordingHandler{err: errors.New("round not closed")}
	svc.SetHandler(handler)

	ctx := context.Background()
	req, err := svc.Request(ctx, 1, "seed")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := svc.Fulfill(ctx, req.ID, 7, ""); err == nil {
		t.Fatalf("expected handler error to propagate")
	}

	// A failed handoff leaves the request pending so the oracle can retry.
	stored, err := svc.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.StatusPending || stored.Consumed {
		t.Fatalf("request should remain pending: %+v", stored)
	}

	handler.err = nil
	if err := svc.Fulfill(ctx, req.ID, 7, ""); err != nil {
		t.Fatalf("retry fulfill: %v", err)
	}
}

func TestFail(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	svc.SetHandler(&recordingHandler{})

	ctx := context.Background()
	req, err := svc.Request(ctx, 1, "seed")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	if err := svc.Fail(ctx, req.ID, "oracle offline"); err != nil {
		t.Fatalf("fail: %v", err)
	}
	stored, err := svc.GetRequest(ctx, req.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if stored.Status != domain.StatusFailed || stored.Error != "oracle offline" {
		t.Fatalf("unexpected stored request: %+v", stored)
	}
	// Failed requests cannot be fulfilled afterwards.
	if err := svc.Fulfill(ctx, req.ID, 7, ""); !errors.Is(err, ErrRequestConsumed) {
		t.Fatalf("expected consumed, got %v", err)
	}
}

func TestHTTPResolver(t *testing.T) {
	var gotAuth, gotRequestID string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		gotRequestID = r.URL.Query().Get("request_id")
		fmt.Fprint(w, `{"done":true,"success":true,"value":"18446744073709551615","proof":"p"}`)
	}))
	defer server.Close()

	resolver, err := NewHTTPResolver(nil, server.URL, "secret", nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	done, success, raw, proof, _, _, err := resolver.Resolve(context.Background(), domain.Request{ID: "req-1", Seed: "s"})
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !done || !success || raw != 18446744073709551615 || proof != "p" {
		t.Fatalf("unexpected result: done=%v success=%v raw=%d proof=%q", done, success, raw, proof)
	}
	if gotAuth != "Bearer secret" || gotRequestID != "req-1" {
		t.Fatalf("unexpected upstream request: auth=%q id=%q", gotAuth, gotRequestID)
	}
}

func TestHTTPResolverPendingAndFailure(t *testing.T) {
	responses := []string{
		`{"done":false,"retry_after_seconds":2.5}`,
		`{"done":true,"success":false,"error":"beacon unavailable"}`,
	}
	var call int
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, responses[call])
		call++
	}))
	defer server.Close()

	resolver, err := NewHTTPResolver(nil, server.URL, "", nil)
	if err != nil {
		t.Fatalf("new resolver: %v", err)
	}

	done, _, _, _, _, retry, err := resolver.Resolve(context.Background(), domain.Request{ID: "req-1"})
	if err != nil {
		t.Fatalf("resolve pending: %v", err)
	}
	if done || retry != 2500*time.Millisecond {
		t.Fatalf("expected pending with 2.5s retry, got done=%v retry=%v", done, retry)
	}

	done, success, _, _, errMsg, _, err := resolver.Resolve(context.Background(), domain.Request{ID: "req-1"})
	if err != nil {
		t.Fatalf("resolve failure: %v", err)
	}
	if !done || success || errMsg != "beacon unavailable" {
		t.Fatalf("expected terminal failure, got done=%v success=%v msg=%q", done, success, errMsg)
	}
}

type scriptedResolver struct {
	mu      sync.Mutex
	pending int // remaining not-done answers before a success
	raw     uint64
	polls   int
}

func (r *scriptedResolver) Resolve(_ context.Context, _ domain.Request) (bool, bool, uint64, string, string, time.Duration, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.polls++
	if r.pending > 0 {
		r.pending--
		return false, false, 0, "", "", time.Millisecond, nil
	}
	return true, true, r.raw, "proof", "", 0, nil
}

func TestDispatcherResolvesPending(t *testing.T) {
	store := memory.New()
	svc := New(store, nil)
	handler := &recordingHandler{}
	svc.SetHandler(handler)

	ctx := context.Background()
	req, err := svc.Request(ctx, 9, "seed")
	if err != nil {
		t.Fatalf("request: %v", err)
	}

	dispatcher := NewDispatcher(svc, nil)
	dispatcher.WithInterval(5 * time.Millisecond)
	dispatcher.WithResolver(&scriptedResolver{pending: 2, raw: 777})

	if err := dispatcher.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}
	defer dispatcher.Stop(context.Background())

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		stored, err := svc.GetRequest(ctx, req.ID)
		if err != nil {
			t.Fatalf("get request: %v", err)
		}
		if stored.Status == domain.StatusFulfilled {
			if stored.RawValue != 777 {
				t.Fatalf("unexpected value: %d", stored.RawValue)
			}
			if got := handler.values(); len(got) != 1 || got[0] != 777 {
				t.Fatalf("handler calls: %v", got)
			}
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("dispatcher never fulfilled the request")
}

func TestDispatcherStartWithoutResolver(t *testing.T) {
	dispatcher := NewDispatcher(New(memory.New(), nil), nil)
	if err := dispatcher.Start(context.Background()); err != nil {
		t.Fatalf("start without resolver should be a no-op: %v", err)
	}
	if err := dispatcher.Stop(context.Background()); err != nil {
		t.Fatalf("stop: %v", err)
	}
}
