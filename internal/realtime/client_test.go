package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// testChannel — минимальный сервер канала для тестов: записывает входящие
// кадры и умеет рассылать события подключённым клиентам.
type testChannel struct {
	upgrader websocket.Upgrader

	mu     sync.Mutex
	events []recordedFrame
	conns  []*websocket.Conn
}

type recordedFrame struct {
	event string
	data  string
}

func (tc *testChannel) handler(w http.ResponseWriter, r *http.Request) {
	conn, err := tc.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	tc.mu.Lock()
	tc.conns = append(tc.conns, conn)
	tc.mu.Unlock()

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var f frame
		if err := json.Unmarshal(payload, &f); err != nil {
			continue
		}

		var data string
		_ = json.Unmarshal(f.Data, &data)

		tc.mu.Lock()
		tc.events = append(tc.events, recordedFrame{event: f.Event, data: data})
		tc.mu.Unlock()
	}
}

func (tc *testChannel) publish(t *testing.T, event string, data any) {
	t.Helper()

	raw, err := json.Marshal(data)
	if err != nil {
		t.Fatalf("marshal event data: %v", err)
	}
	payload, err := json.Marshal(frame{Event: event, Data: raw})
	if err != nil {
		t.Fatalf("marshal frame: %v", err)
	}

	tc.mu.Lock()
	defer tc.mu.Unlock()

	for _, conn := range tc.conns {
		// Соединения, закрытые клиентом, пропускаются.
		_ = conn.WriteMessage(websocket.TextMessage, payload)
	}
}

func (tc *testChannel) recorded() []recordedFrame {
	tc.mu.Lock()
	defer tc.mu.Unlock()

	out := make([]recordedFrame, len(tc.events))
	copy(out, tc.events)
	return out
}

func (tc *testChannel) waitEvents(t *testing.T, n int) []recordedFrame {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if got := tc.recorded(); len(got) >= n {
			return got
		}
		time.Sleep(10 * time.Millisecond)
	}

	t.Fatalf("timed out waiting for %d events, got %+v", n, tc.recorded())
	return nil
}

func newTestChannel(t *testing.T) (*testChannel, *httptest.Server) {
	t.Helper()

	tc := &testChannel{}
	ts := httptest.NewServer(http.HandlerFunc(tc.handler))
	t.Cleanup(ts.Close)

	return tc, ts
}

type stubMarkers struct {
	orderCode  string
	inProgress bool
}

func (m stubMarkers) Current() (string, bool) {
	return m.orderCode, m.inProgress
}

func TestConnect_Idempotent(t *testing.T) {
	_, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", nil, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("expected connected state")
	}

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("second Connect error: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("expected connected state after repeated Connect")
	}
}

func TestJoinOrder_NotConnected(t *testing.T) {
	client := NewClient("ws://localhost:1/ws", nil, zap.NewNop())

	if client.JoinOrder("123") {
		t.Fatalf("JoinOrder must fail without a connection")
	}
}

func TestJoinOrder_SingleActiveRoom(t *testing.T) {
	tc, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", nil, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	for _, code := range []string{"a", "b", "c"} {
		if !client.JoinOrder(code) {
			t.Fatalf("JoinOrder(%s) failed", code)
		}
	}

	got := tc.waitEvents(t, 5)
	want := []recordedFrame{
		{event: "join-order", data: "a"},
		{event: "leave-order", data: "a"},
		{event: "join-order", data: "b"},
		{event: "leave-order", data: "b"},
		{event: "join-order", data: "c"},
	}

	if len(got) != len(want) {
		t.Fatalf("events = %+v, want %+v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("event[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}

	if client.CurrentOrder() != "c" {
		t.Fatalf("current order = %q, want c", client.CurrentOrder())
	}
}

func TestLeaveOrder_MismatchedCodeKeepsCurrent(t *testing.T) {
	_, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", nil, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	client.JoinOrder("a")
	client.LeaveOrder("b")

	if client.CurrentOrder() != "a" {
		t.Fatalf("current order = %q, want a", client.CurrentOrder())
	}
}

func TestSubscribe_CancelRemovesExactRegistration(t *testing.T) {
	tc, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", nil, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	var mu sync.Mutex
	var firstCalls, secondCalls int

	first := client.Subscribe("ping", func(json.RawMessage) {
		mu.Lock()
		firstCalls++
		mu.Unlock()
	})
	second := client.Subscribe("ping", func(json.RawMessage) {
		mu.Lock()
		secondCalls++
		mu.Unlock()
	})

	first.Cancel()
	first.Cancel() // повторная отмена безвредна

	tc.publish(t, "ping", "x")

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		mu.Lock()
		done := secondCalls == 1
		mu.Unlock()
		if done {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}

	mu.Lock()
	defer mu.Unlock()
	if firstCalls != 0 {
		t.Fatalf("cancelled handler invoked %d times", firstCalls)
	}
	if secondCalls != 1 {
		t.Fatalf("remaining handler invoked %d times, want 1", secondCalls)
	}

	second.Cancel()

	var empty *Subscription
	empty.Cancel() // нулевой дескриптор тоже безвреден
}

func TestConnect_RejoinsFromMarkers(t *testing.T) {
	tc, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", stubMarkers{orderCode: "777", inProgress: true}, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	got := tc.waitEvents(t, 1)
	if got[0].event != "join-order" || got[0].data != "777" {
		t.Fatalf("expected automatic join-order 777, got %+v", got[0])
	}
	if client.CurrentOrder() != "777" {
		t.Fatalf("current order = %q, want 777", client.CurrentOrder())
	}
}

func TestConnect_NoRejoinWithoutInProgress(t *testing.T) {
	tc, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", stubMarkers{orderCode: "777", inProgress: false}, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	time.Sleep(100 * time.Millisecond)
	if got := tc.recorded(); len(got) != 0 {
		t.Fatalf("unexpected events: %+v", got)
	}
}

func TestCleanup_Idempotent(t *testing.T) {
	_, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	client.JoinOrder("42")

	client.Cleanup()
	client.Cleanup()

	if client.IsConnected() {
		t.Fatalf("expected disconnected state after Cleanup")
	}
	if client.CurrentOrder() != "" {
		t.Fatalf("current order must be cleared by Cleanup")
	}
}

func TestConnect_AfterCleanupStartsFreshLifecycle(t *testing.T) {
	tc, ts := newTestChannel(t)

	client := NewClient(ts.URL+"/ws", nil, zap.NewNop())
	defer client.Cleanup()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect error: %v", err)
	}

	var staleCalls int
	client.Subscribe("ping", func(json.RawMessage) {
		staleCalls++
	})

	client.Cleanup()

	if err := client.Connect(ctx); err != nil {
		t.Fatalf("Connect after Cleanup error: %v", err)
	}
	if !client.IsConnected() {
		t.Fatalf("expected connected state after reconnect")
	}
	if !client.JoinOrder("42") {
		t.Fatalf("JoinOrder failed after reconnect")
	}

	// Подписки прошлого жизненного цикла не переживают Cleanup.
	tc.publish(t, "ping", "x")

	got := tc.waitEvents(t, 1)
	if got[len(got)-1].event != "join-order" || got[len(got)-1].data != "42" {
		t.Fatalf("expected join-order 42, got %+v", got)
	}

	time.Sleep(100 * time.Millisecond)
	if staleCalls != 0 {
		t.Fatalf("stale handler invoked %d times after Cleanup", staleCalls)
	}
}

func TestConnect_FailureLeavesDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:1/ws", nil, zap.NewNop())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	if err := client.Connect(ctx); err == nil {
		t.Fatalf("expected connect error")
	}
	if client.IsConnected() {
		t.Fatalf("client must stay disconnected after failed Connect")
	}
}
