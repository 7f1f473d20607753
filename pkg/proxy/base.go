package proxy

import "sync/atomic"

// Alive reports the last health-check's outcome for this proxy.
func (b *base) Alive() bool { return atomic.LoadInt32(&b.alive) != 0 }

// SetAlive is called by a health-check loop (group or provider) after a
// probe completes.
func (b *base) SetAlive(v bool) {
	i := int32(0)
	if v {
		i = 1
	}
	atomic.StoreInt32(&b.alive, i)
}

// LastDelayMs returns the most recent health-check round-trip time.
func (b *base) LastDelayMs() int64 { return atomic.LoadInt64(&b.delayMs) }

// SetDelayMs records a new health-check sample.
func (b *base) SetDelayMs(ms int64) { atomic.StoreInt64(&b.delayMs, ms) }
