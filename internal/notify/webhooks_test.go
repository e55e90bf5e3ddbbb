package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"anagami/internal/config"
	"anagami/internal/db"
	"anagami/internal/events"
	"anagami/internal/migrate"
	"anagami/internal/repo"
)

type received struct {
	mu      sync.Mutex
	headers []http.Header
	bodies  []eventBody
}

func (r *received) handler(status int) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		var body eventBody
		_ = json.NewDecoder(req.Body).Decode(&body)
		r.mu.Lock()
		r.headers = append(r.headers, req.Header.Clone())
		r.bodies = append(r.bodies, body)
		r.mu.Unlock()
		w.WriteHeader(status)
	}
}

func newRepo(t *testing.T) repo.Repo {
	t.Helper()
	conn, err := db.Open(db.Config{Workspace: t.TempDir()})
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { conn.Close() })
	if err := migrate.Migrate(conn); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return repo.Repo{DB: conn}
}

func appendEvent(t *testing.T, r repo.Repo, evtType, id string) {
	t.Helper()
	ctx := context.Background()
	tx, err := r.DB.BeginTx(ctx, nil)
	if err != nil {
		t.Fatal(err)
	}
	w := events.Writer{DB: r.DB, Now: func() time.Time { return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC) }}
	if err := w.Append(ctx, tx, evtType, "task", id, "agent", events.EventPayload{"module": "offers"}); err != nil {
		t.Fatal(err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal(err)
	}
}

func TestDispatchDeliversFilteredEvents(t *testing.T) {
	r := newRepo(t)
	appendEvent(t, r, events.TaskCreate, "old")

	got := &received{}
	srv := httptest.NewServer(got.handler(http.StatusNoContent))
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL, Secret: "s3cret", Events: []string{events.TaskApprove}}}, nil)
	ctx := context.Background()
	d.DispatchOnce(ctx)
	if len(got.bodies) != 0 {
		t.Fatalf("history should not be replayed, got %d deliveries", len(got.bodies))
	}

	appendEvent(t, r, events.TaskGenerate, "t1")
	appendEvent(t, r, events.TaskApprove, "t1")
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	if len(got.bodies) != 1 {
		t.Fatalf("expected 1 delivery, got %d", len(got.bodies))
	}
	if got.bodies[0].Type != events.TaskApprove || got.bodies[0].EntityID != "t1" {
		t.Fatalf("unexpected body: %+v", got.bodies[0])
	}
	if string(got.bodies[0].Payload) != `{"module":"offers"}` {
		t.Fatalf("unexpected payload: %s", got.bodies[0].Payload)
	}
	h := got.headers[0]
	if h.Get("X-Anagami-Event") != events.TaskApprove || h.Get("X-Anagami-Secret") != "s3cret" || h.Get("X-Anagami-Delivery") == "" {
		t.Fatalf("unexpected headers: %v", h)
	}
}

func TestDispatchRetriesFailedDelivery(t *testing.T) {
	r := newRepo(t)
	got := &received{}
	status := http.StatusInternalServerError
	var mu sync.Mutex
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		mu.Lock()
		s := status
		mu.Unlock()
		got.handler(s)(w, req)
	}))
	defer srv.Close()

	d := New(r, []config.WebhookConfig{{URL: srv.URL}}, nil)
	ctx := context.Background()
	d.DispatchOnce(ctx)
	appendEvent(t, r, events.TaskCreate, "t1")
	d.DispatchOnce(ctx)

	mu.Lock()
	status = http.StatusOK
	mu.Unlock()
	d.DispatchOnce(ctx)
	d.DispatchOnce(ctx)

	if len(got.bodies) != 2 {
		t.Fatalf("expected failed attempt plus one retry, got %d", len(got.bodies))
	}
}

func TestCursorInitFailureDoesNotReplayHistory(t *testing.T) {
	r := newRepo(t)
	appendEvent(t, r, events.TaskCreate, "old")

	got := &received{}
	srv := httptest.NewServer(got.handler(http.StatusNoContent))
	defer srv.Close()

	ctx := context.Background()
	d := New(r, []config.WebhookConfig{{URL: srv.URL}}, nil)
	if _, err := r.DB.ExecContext(ctx, `ALTER TABLE events RENAME TO events_hold`); err != nil {
		t.Fatal(err)
	}
	d.DispatchOnce(ctx)
	if _, ok := d.cursors[0]; ok {
		t.Fatalf("cursor stored after failed init: %v", d.cursors)
	}
	if _, err := r.DB.ExecContext(ctx, `ALTER TABLE events_hold RENAME TO events`); err != nil {
		t.Fatal(err)
	}
	d.DispatchOnce(ctx)
	if len(got.bodies) != 0 {
		t.Fatalf("history replayed after recovery: %+v", got.bodies)
	}

	appendEvent(t, r, events.TaskGenerate, "t1")
	d.DispatchOnce(ctx)
	if len(got.bodies) != 1 || got.bodies[0].EntityID != "t1" {
		t.Fatalf("expected only the new event, got %+v", got.bodies)
	}
}

func TestRunReturnsWithoutEnabledHooks(t *testing.T) {
	off := false
	d := New(newRepo(t), []config.WebhookConfig{{URL: "http://127.0.0.1:1", Enabled: &off}}, nil)
	done := make(chan struct{})
	go func() {
		d.Run(context.Background())
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return")
	}
}
