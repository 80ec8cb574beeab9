package mail

import (
	"crypto/sha256"
	"encoding/hex"
	"sort"
	"strings"
	"sync"
	"time"
)

// dedupWindow is how long an identical send request is suppressed after a
// successful attempt. The guard is process-local burst suppression, not an
// exactly-once guarantee: it resets on restart and does not coordinate
// across instances.
const dedupWindow = 20 * time.Second

type guard struct {
	mu   sync.Mutex
	seen map[string]time.Time
	ttl  time.Duration
	now  func() time.Time
}

func newGuard(ttl time.Duration, now func() time.Time) *guard {
	if now == nil {
		now = time.Now
	}
	return &guard{
		seen: make(map[string]time.Time),
		ttl:  ttl,
		now:  now,
	}
}

// shouldSkip reports whether a send with this fingerprint happened within
// the TTL. Expired entries are swept lazily on every call; there is no
// background timer. A hit does not refresh the recorded timestamp.
func (g *guard) shouldSkip(fingerprint string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.now()
	for fp, at := range g.seen {
		if now.Sub(at) > g.ttl {
			delete(g.seen, fp)
		}
	}

	if _, hit := g.seen[fingerprint]; hit {
		return true
	}
	g.seen[fingerprint] = now
	return false
}

// fingerprint builds a deterministic identity for a logical email: the
// lowercased, deduplicated, sorted recipient list plus subject and body
// (HTML preferred, plain text as fallback).
func fingerprint(to []string, subject, html, text string) string {
	rcpts := dedupeRecipients(to)
	sort.Strings(rcpts)

	body := html
	if body == "" {
		body = text
	}

	h := sha256.New()
	h.Write([]byte(strings.Join(rcpts, ",")))
	h.Write([]byte{0})
	h.Write([]byte(subject))
	h.Write([]byte{0})
	h.Write([]byte(body))
	return hex.EncodeToString(h.Sum(nil))
}

// dedupeRecipients lowercases the recipient list and removes
// case-insensitive duplicates, preserving first-seen order.
func dedupeRecipients(to []string) []string {
	seen := make(map[string]struct{}, len(to))
	out := make([]string, 0, len(to))
	for _, addr := range to {
		lower := strings.ToLower(strings.TrimSpace(addr))
		if lower == "" {
			continue
		}
		if _, dup := seen[lower]; dup {
			continue
		}
		seen[lower] = struct{}{}
		out = append(out, lower)
	}
	return out
}
