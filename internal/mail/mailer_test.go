package mail

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/o-farouk/stockwire/pkg/config"
)

func newTestLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError + 1})
	return slog.New(handler)
}

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *fakeClock) now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type capturedSend struct {
	msg   Message
	rcpts []string
}

func newTestMailer() (*Mailer, *fakeClock, *[]capturedSend) {
	clock := &fakeClock{t: time.Unix(1700000000, 0)}
	var sent []capturedSend

	m := New(config.MailConfig{Host: "smtp.test", Port: 587, From: "noreply@stockwire.test"}, newTestLogger())
	m.guard = newGuard(dedupWindow, clock.now)
	m.send = func(ctx context.Context, cfg config.MailConfig, msg Message, rcpts []string) (Result, error) {
		sent = append(sent, capturedSend{msg: msg, rcpts: rcpts})
		return Result{MessageID: "msg-1", Accepted: rcpts, Response: "250 2.0.0 OK"}, nil
	}
	return m, clock, &sent
}

func TestDuplicateWithinWindowIsSkipped(t *testing.T) {
	m, _, sent := newTestMailer()
	msg := Message{To: []string{"a@x.com"}, Subject: "Transfer approved", HTML: "<p>done</p>"}

	first, err := m.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("First send failed: %v", err)
	}
	if first.MessageID == SkippedMessageID {
		t.Fatal("First send was unexpectedly suppressed")
	}

	second, err := m.Send(context.Background(), msg)
	if err != nil {
		t.Fatalf("Second send failed: %v", err)
	}
	if second.MessageID != SkippedMessageID {
		t.Errorf("Expected MessageID %q for duplicate, got %q", SkippedMessageID, second.MessageID)
	}
	if len(*sent) != 1 {
		t.Errorf("Expected exactly 1 transport delivery, got %d", len(*sent))
	}
}

func TestDuplicateAfterTTLIsDelivered(t *testing.T) {
	m, clock, sent := newTestMailer()
	msg := Message{To: []string{"a@x.com"}, Subject: "Transfer approved", HTML: "<p>done</p>"}

	if _, err := m.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	clock.advance(dedupWindow + time.Second)
	if _, err := m.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}

	if len(*sent) != 2 {
		t.Errorf("Expected 2 transport deliveries across the TTL boundary, got %d", len(*sent))
	}
}

// A guard hit must not refresh the recorded timestamp: a burst of
// duplicates cannot extend suppression past the TTL of the first send.
func TestGuardHitDoesNotExtendWindow(t *testing.T) {
	m, clock, sent := newTestMailer()
	msg := Message{To: []string{"a@x.com"}, Subject: "s", Text: "b"}

	m.Send(context.Background(), msg)
	clock.advance(15 * time.Second)
	if res, _ := m.Send(context.Background(), msg); res.MessageID != SkippedMessageID {
		t.Fatal("Expected duplicate at +15s to be suppressed")
	}
	clock.advance(6 * time.Second) // +21s from the first send
	if res, _ := m.Send(context.Background(), msg); res.MessageID == SkippedMessageID {
		t.Error("Duplicate hit at +15s extended the window; send at +21s was suppressed")
	}
	if len(*sent) != 2 {
		t.Errorf("Expected 2 transport deliveries, got %d", len(*sent))
	}
}

func TestRecipientDeduplication(t *testing.T) {
	m, _, sent := newTestMailer()
	msg := Message{
		To:      []string{"a@x.com", "A@x.com", "a@x.com"},
		Subject: "s",
		Text:    "b",
	}

	if _, err := m.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(*sent) != 1 {
		t.Fatalf("Expected 1 transport delivery, got %d", len(*sent))
	}
	rcpts := (*sent)[0].rcpts
	if len(rcpts) != 1 || rcpts[0] != "a@x.com" {
		t.Errorf("Expected one lowercased recipient, got %v", rcpts)
	}
}

func TestFingerprintIgnoresRecipientOrderAndCase(t *testing.T) {
	m, _, sent := newTestMailer()

	m.Send(context.Background(), Message{To: []string{"a@x.com", "b@x.com"}, Subject: "s", Text: "b"})
	res, err := m.Send(context.Background(), Message{To: []string{"B@X.com", "A@x.com"}, Subject: "s", Text: "b"})
	if err != nil {
		t.Fatal(err)
	}
	if res.MessageID != SkippedMessageID {
		t.Error("Reordered/recased recipient list produced a different fingerprint")
	}
	if len(*sent) != 1 {
		t.Errorf("Expected 1 transport delivery, got %d", len(*sent))
	}
}

func TestDifferentBodyIsNotSuppressed(t *testing.T) {
	m, _, sent := newTestMailer()

	m.Send(context.Background(), Message{To: []string{"a@x.com"}, Subject: "s", Text: "first"})
	m.Send(context.Background(), Message{To: []string{"a@x.com"}, Subject: "s", Text: "second"})

	if len(*sent) != 2 {
		t.Errorf("Expected 2 transport deliveries for distinct bodies, got %d", len(*sent))
	}
}

func TestValidationErrors(t *testing.T) {
	m, _, _ := newTestMailer()
	ctx := context.Background()

	if _, err := m.Send(ctx, Message{Subject: "s", Text: "b"}); !errors.Is(err, ErrNoRecipients) {
		t.Errorf("Expected ErrNoRecipients, got %v", err)
	}
	if _, err := m.Send(ctx, Message{To: []string{"a@x.com"}, Text: "b"}); !errors.Is(err, ErrNoSubject) {
		t.Errorf("Expected ErrNoSubject, got %v", err)
	}
	if _, err := m.Send(ctx, Message{To: []string{"a@x.com"}, Subject: "s"}); !errors.Is(err, ErrNoBody) {
		t.Errorf("Expected ErrNoBody, got %v", err)
	}
}

func TestMissingHostFailsFast(t *testing.T) {
	m := New(config.MailConfig{}, newTestLogger())
	_, err := m.Send(context.Background(), Message{To: []string{"a@x.com"}, Subject: "s", Text: "b"})
	if err == nil {
		t.Fatal("Expected configuration error for missing SMTP host")
	}
}
