package services

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"gorm.io/gorm"

	"github.com/tbourn/phishguard-gateway/internal/repo"
	"github.com/tbourn/phishguard-gateway/internal/telemetry"
	"github.com/tbourn/phishguard-gateway/internal/upstream"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := repo.OpenSQLite(dsn)
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() { _ = repo.Close(db) })
	return db
}

// fakeUpstream answers every call with do/stream and records the calls.
type fakeUpstream struct {
	mu     sync.Mutex
	calls  []upstream.Call
	do     func(upstream.Call) (*upstream.Response, error)
	stream func(upstream.Call) (*upstream.Stream, error)
}

func (f *fakeUpstream) Do(_ context.Context, c upstream.Call) (*upstream.Response, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return f.do(c)
}

func (f *fakeUpstream) Stream(_ context.Context, c upstream.Call) (*upstream.Stream, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	f.mu.Unlock()
	return f.stream(c)
}

func (f *fakeUpstream) last() upstream.Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[len(f.calls)-1]
}

func (f *fakeUpstream) count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.calls)
}

func okJSON(body string) func(upstream.Call) (*upstream.Response, error) {
	return func(upstream.Call) (*upstream.Response, error) {
		return &upstream.Response{Status: http.StatusOK, Body: []byte(body), ContentType: "application/json", Duration: 42 * time.Millisecond}, nil
	}
}

func refused(c upstream.Call) (*upstream.Response, error) {
	return nil, &upstream.Error{Kind: upstream.KindUnavailable, Capability: c.Capability, Err: errors.New("connection refused")}
}

func upstreamStatus(status int, body string) func(upstream.Call) (*upstream.Response, error) {
	return func(c upstream.Call) (*upstream.Response, error) {
		return nil, &upstream.Error{Kind: upstream.KindUpstream, Capability: c.Capability, Status: status, Body: []byte(body)}
	}
}

// recordingSink keeps submitted events in memory.
type recordingSink struct {
	mu     sync.Mutex
	events []telemetry.Event
}

func (s *recordingSink) Submit(e telemetry.Event) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return true
}

func (s *recordingSink) kinds() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.Kind())
	}
	return out
}

func (s *recordingSink) detections() []telemetry.DetectionEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.DetectionEvent
	for _, e := range s.events {
		if d, ok := e.(telemetry.DetectionEvent); ok {
			out = append(out, d)
		}
	}
	return out
}

func (s *recordingSink) chats() []telemetry.ChatEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []telemetry.ChatEvent
	for _, e := range s.events {
		if c, ok := e.(telemetry.ChatEvent); ok {
			out = append(out, c)
		}
	}
	return out
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
