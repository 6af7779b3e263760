package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bryanchriswhite/windowobserver/internal/event"
	"github.com/bryanchriswhite/windowobserver/internal/observer"
	"github.com/bryanchriswhite/windowobserver/internal/window"
	"github.com/gorilla/websocket"
)

type fakeObserver struct {
	mu     sync.Mutex
	filter event.Filter
	state  observer.State
	err    error
}

func (o *fakeObserver) PID() int        { return 42 }
func (o *fakeObserver) Backend() string { return "fake" }

func (o *fakeObserver) State() observer.State {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.state
}

func (o *fakeObserver) Filter() event.Filter {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.filter
}

func (o *fakeObserver) AddEvent(k event.Kind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.filter = o.filter.With(k)
	return nil
}

func (o *fakeObserver) RemoveEvent(k event.Kind) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.err != nil {
		return o.err
	}
	o.filter = o.filter.Without(k)
	return nil
}

type testWindow struct{ id window.ID }

func (w testWindow) ID() window.ID                  { return w.id }
func (w testWindow) Title() (string, error)         { return "Editor", nil }
func (w testWindow) Bounds() (window.Rect, error)   { return window.Rect{X: 1, Y: 2, Width: 3, Height: 4}, nil }
func (w testWindow) Focused() (bool, error)         { return true, nil }
func (w testWindow) Equal(other window.Handle) bool { return other != nil && other.ID() == w.id }

func newTestServer(t *testing.T, obs *fakeObserver) (*Server, *httptest.Server) {
	t.Helper()
	s := NewServer(obs)
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return s, ts
}

func TestSessionStatus(t *testing.T) {
	obs := &fakeObserver{filter: event.Empty().With(event.Moved), state: observer.Running}
	_, ts := newTestServer(t, obs)

	resp, err := http.Get(ts.URL + "/api/session")
	if err != nil {
		t.Fatalf("GET: %v", err)
	}
	defer resp.Body.Close()

	var status sessionStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if status.PID != 42 || status.Backend != "fake" || status.State != "running" {
		t.Errorf("status = %+v", status)
	}
	if len(status.Events) != 1 || status.Events[0] != "moved" {
		t.Errorf("events = %v", status.Events)
	}
}

func TestFilterMutation(t *testing.T) {
	obs := &fakeObserver{state: observer.Running}
	_, ts := newTestServer(t, obs)

	resp, err := http.Post(ts.URL+"/api/filter/closed", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("POST status = %d", resp.StatusCode)
	}
	if !obs.Filter().Has(event.Closed) {
		t.Fatal("kind not added")
	}

	req, _ := http.NewRequest(http.MethodDelete, ts.URL+"/api/filter/closed", nil)
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("DELETE: %v", err)
	}
	var f event.Filter
	json.NewDecoder(resp.Body).Decode(&f)
	resp.Body.Close()
	if f.Has(event.Closed) || obs.Filter().Has(event.Closed) {
		t.Error("kind not removed")
	}
}

func TestFilterMutationErrors(t *testing.T) {
	obs := &fakeObserver{state: observer.Stopped}
	_, ts := newTestServer(t, obs)

	resp, err := http.Post(ts.URL+"/api/filter/teleported", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown kind status = %d", resp.StatusCode)
	}

	obs.err = observer.ErrNotRunning
	resp, err = http.Post(ts.URL+"/api/filter/moved", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("not running status = %d", resp.StatusCode)
	}

	obs.err = errors.New("boom")
	resp, err = http.Post(ts.URL+"/api/filter/moved", "application/json", nil)
	if err != nil {
		t.Fatalf("POST: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusInternalServerError {
		t.Errorf("failure status = %d", resp.StatusCode)
	}
}

func TestHealthAndMetrics(t *testing.T) {
	_, ts := newTestServer(t, &fakeObserver{state: observer.Running})

	for _, path := range []string{"/api/health", "/metrics"} {
		resp, err := http.Get(ts.URL + path)
		if err != nil {
			t.Fatalf("GET %s: %v", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			t.Errorf("GET %s = %d", path, resp.StatusCode)
		}
	}
}

func waitForSubscribers(t *testing.T, s *Server, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.RLock()
		got := len(s.subscribers)
		s.mu.RUnlock()
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("subscribers = %d, want %d", got, n)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestEventStream(t *testing.T) {
	s, ts := newTestServer(t, &fakeObserver{state: observer.Running})

	events := make(chan event.Result)
	go s.Broadcast(events)

	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/events"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitForSubscribers(t, s, 1)

	events <- event.Result{Payload: event.Payload{Window: testWindow{id: 7}, Event: event.Event{Kind: event.Focused}}}
	events <- event.Result{Payload: event.Payload{Event: event.ClosedEvent(7)}}
	close(events)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var rec event.Record
	if err := conn.ReadJSON(&rec); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Kind != "focused" || rec.WindowID != 7 || rec.Window == nil || rec.Window.Title != "Editor" {
		t.Errorf("first record = %+v", rec)
	}

	rec = event.Record{}
	if err := conn.ReadJSON(&rec); err != nil {
		t.Fatalf("read: %v", err)
	}
	if rec.Kind != "closed" || rec.WindowID != 7 || rec.Window != nil {
		t.Errorf("second record = %+v", rec)
	}

	_, _, err = conn.ReadMessage()
	if !websocket.IsCloseError(err, websocket.CloseNormalClosure) {
		t.Errorf("expected normal close, got %v", err)
	}
}

func TestSubscribeAfterStreamEnded(t *testing.T) {
	s := NewServer(&fakeObserver{})
	events := make(chan event.Result)
	close(events)
	s.Broadcast(events)

	if _, ok := <-s.Subscribe(); ok {
		t.Error("subscription to an ended stream is open")
	}
}
