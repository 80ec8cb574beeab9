package rooms_test

import (
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/o-farouk/stockwire/internal/rooms"
)

// --- Test Suite Setup ---

func newTestLogger() *slog.Logger {
	// Discard logger output during tests by setting a high level
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

func newTestDirectory() *rooms.Directory {
	return rooms.NewDirectory(newTestLogger())
}

type fakeSink struct {
	id uuid.UUID

	mu     sync.Mutex
	frames [][]byte
	closed bool
}

func newFakeSink() *fakeSink {
	return &fakeSink{id: uuid.New()}
}

func (s *fakeSink) ID() uuid.UUID { return s.id }

func (s *fakeSink) Send(msg []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames = append(s.frames, msg)
}

func (s *fakeSink) Close(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
}

// --- Connection Lifecycle Tests ---

func TestRegisterAndDeregister(t *testing.T) {
	d := newTestDirectory()
	sink := newFakeSink()

	if err := d.Register(sink); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := d.Register(sink); err == nil {
		t.Error("Expected error registering the same connection twice")
	}
	if got := len(d.All()); got != 1 {
		t.Fatalf("Expected 1 registered connection, got %d", got)
	}

	d.Deregister(sink.ID())
	if got := len(d.All()); got != 0 {
		t.Errorf("Expected 0 connections after deregister, got %d", got)
	}

	// Deregistering an unknown connection is a no-op.
	d.Deregister(uuid.New())
}

func TestAnnounceComputesRoomNames(t *testing.T) {
	d := newTestDirectory()
	sink := newFakeSink()
	d.Register(sink)

	userRoom, roleRoom, err := d.Announce(sink.ID(), "u1", "staff")
	if err != nil {
		t.Fatalf("Announce failed: %v", err)
	}
	if userRoom != "user-u1" {
		t.Errorf("Expected user room 'user-u1', got %q", userRoom)
	}
	if roleRoom != "role-staff" {
		t.Errorf("Expected role room 'role-staff', got %q", roleRoom)
	}

	if got := len(d.Members("user-u1")); got != 1 {
		t.Errorf("Expected 1 member in user room, got %d", got)
	}
	if got := len(d.Members("role-staff")); got != 1 {
		t.Errorf("Expected 1 member in role room, got %d", got)
	}
}

func TestAnnounceUnknownConnection(t *testing.T) {
	d := newTestDirectory()
	if _, _, err := d.Announce(uuid.New(), "u1", "staff"); err == nil {
		t.Error("Expected error announcing an unregistered connection")
	}
}

func TestAnnounceToleratesEmptyIdentity(t *testing.T) {
	d := newTestDirectory()
	sink := newFakeSink()
	d.Register(sink)

	userRoom, roleRoom, err := d.Announce(sink.ID(), "", "")
	if err != nil {
		t.Fatalf("Announce with empty identity failed: %v", err)
	}
	if userRoom != "user-" || roleRoom != "role-" {
		t.Errorf("Unexpected room names: %q / %q", userRoom, roleRoom)
	}
}

func TestReannounceReplacesMembership(t *testing.T) {
	d := newTestDirectory()
	sink := newFakeSink()
	d.Register(sink)

	d.Announce(sink.ID(), "u1", "staff")
	d.Announce(sink.ID(), "u1", "manager")

	if got := len(d.Members("role-staff")); got != 0 {
		t.Errorf("Expected old role room to be empty after re-announce, got %d members", got)
	}
	if got := len(d.Members("role-manager")); got != 1 {
		t.Errorf("Expected 1 member in new role room, got %d", got)
	}
	if got := len(d.Members("user-u1")); got != 1 {
		t.Errorf("Expected re-announce to keep a single user room membership, got %d", got)
	}
}

func TestMultipleConnectionsPerUser(t *testing.T) {
	d := newTestDirectory()
	tab1, tab2 := newFakeSink(), newFakeSink()
	d.Register(tab1)
	d.Register(tab2)
	d.Announce(tab1.ID(), "u1", "staff")
	d.Announce(tab2.ID(), "u1", "staff")

	if got := len(d.Members("user-u1")); got != 2 {
		t.Fatalf("Expected 2 members in user room, got %d", got)
	}
	if got := d.ConnectionCount("u1"); got != 2 {
		t.Errorf("Expected connection count 2, got %d", got)
	}

	d.Deregister(tab1.ID())
	if got := d.ConnectionCount("u1"); got != 1 {
		t.Errorf("Expected connection count 1 after deregister, got %d", got)
	}
}

func TestEmptyRoomCleanup(t *testing.T) {
	d := newTestDirectory()
	sink := newFakeSink()
	d.Register(sink)
	d.Announce(sink.ID(), "u1", "keeper")

	d.Deregister(sink.ID())

	if got := d.Members("user-u1"); got != nil {
		t.Errorf("Expected user room to be gone, got %d members", len(got))
	}
	if got := d.Members("role-keeper"); got != nil {
		t.Errorf("Expected role room to be gone, got %d members", len(got))
	}
}

func TestOldestConnection(t *testing.T) {
	d := newTestDirectory()
	first, second := newFakeSink(), newFakeSink()
	d.Register(first)
	time.Sleep(5 * time.Millisecond) // Ensure timestamps are different
	d.Register(second)
	d.Announce(first.ID(), "u1", "staff")
	d.Announce(second.ID(), "u1", "staff")

	oldest, found := d.OldestConnection("u1")
	if !found {
		t.Fatal("Expected to find oldest connection, but did not")
	}
	if oldest.ID() != first.ID() {
		t.Errorf("Expected oldest connection %s, got %s", first.ID(), oldest.ID())
	}

	if _, found := d.OldestConnection("nobody"); found {
		t.Error("Expected no oldest connection for unknown user")
	}
}
