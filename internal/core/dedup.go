package core

import (
	"crypto/sha256"
	"encoding/hex"
	"sync"
	"time"
)

// ThreatDedup is a short-lived deduplication cache that prevents the same
// threat event from triggering a second response plan. The threat stream is
// at-least-once: JetStream redelivers on slow acks, and a detection layer
// restart can re-emit its recent findings. Fingerprint covers the event ID,
// type, and the response-relevant details, remembered for a TTL window.
type ThreatDedup struct {
	mu      sync.Mutex
	seen    map[string]time.Time
	ttl     time.Duration
	maxSize int
}

// NewThreatDedup creates a dedup cache. TTL controls how long a fingerprint
// is remembered. maxSize caps memory usage by evicting oldest entries.
func NewThreatDedup(ttl time.Duration, maxSize int) *ThreatDedup {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	if maxSize <= 0 {
		maxSize = 50000
	}
	return &ThreatDedup{
		seen:    make(map[string]time.Time, maxSize/2),
		ttl:     ttl,
		maxSize: maxSize,
	}
}

// IsDuplicate returns true if this event was seen within the TTL window.
// If not a duplicate, it records the event fingerprint.
func (d *ThreatDedup) IsDuplicate(event *ThreatEvent) bool {
	hash := d.hash(event)

	d.mu.Lock()
	defer d.mu.Unlock()

	now := time.Now()

	if seenAt, ok := d.seen[hash]; ok {
		if now.Sub(seenAt) < d.ttl {
			return true
		}
	}

	d.seen[hash] = now
	if len(d.seen) > d.maxSize {
		d.evictLocked(now)
	}

	return false
}

// hash produces a compact fingerprint of the event. ID alone is not enough:
// a restarted detector assigns fresh IDs to re-emitted findings, so the
// type and the targeting details participate too.
func (d *ThreatDedup) hash(event *ThreatEvent) string {
	h := sha256.New()
	h.Write([]byte(event.ID))
	h.Write([]byte{0})
	h.Write([]byte(event.Type))
	h.Write([]byte{0})
	h.Write([]byte(event.SourceAddress()))
	h.Write([]byte{0})
	h.Write([]byte(event.DeviceID()))
	h.Write([]byte{0})
	h.Write([]byte(event.AccountID()))

	return hex.EncodeToString(h.Sum(nil)[:16]) // 128-bit hash is plenty
}

// evictLocked removes entries older than TTL. Called when cache exceeds maxSize.
func (d *ThreatDedup) evictLocked(now time.Time) {
	for k, t := range d.seen {
		if now.Sub(t) >= d.ttl {
			delete(d.seen, k)
		}
	}
	// If still over capacity after TTL eviction, drop oldest half
	if len(d.seen) > d.maxSize {
		count := 0
		target := len(d.seen) / 2
		for k := range d.seen {
			delete(d.seen, k)
			count++
			if count >= target {
				break
			}
		}
	}
}

// StartCleanup runs a background goroutine that periodically evicts expired
// entries. Call the returned function to stop it.
func (d *ThreatDedup) StartCleanup(interval time.Duration) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				d.mu.Lock()
				now := time.Now()
				for k, t := range d.seen {
					if now.Sub(t) >= d.ttl {
						delete(d.seen, k)
					}
				}
				d.mu.Unlock()
			}
		}
	}()
	return func() { close(done) }
}

// Size returns the current number of entries in the cache.
func (d *ThreatDedup) Size() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
