package clock

import (
	"sync"
	"time"
)

// Clock abstracts time.Now so the token-bucket and expiry math can be
// driven deterministically in tests.
type Clock interface {
	Now() time.Time
}

// Real is a Clock backed by the system clock
type Real struct{}

// NewReal returns a system-clock Clock
func NewReal() *Real { return &Real{} }

// Now returns the current time
func (Real) Now() time.Time { return time.Now() }

// Fake is a manually advanced Clock for tests
type Fake struct {
	mu  sync.Mutex
	now time.Time
}

// NewFake returns a Fake clock starting at the given time
func NewFake(start time.Time) *Fake {
	return &Fake{now: start}
}

// Now returns the fake current time
func (f *Fake) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

// Advance moves the fake clock forward by d
func (f *Fake) Advance(d time.Duration) {
	f.mu.Lock()
	f.now = f.now.Add(d)
	f.mu.Unlock()
}

// Set moves the fake clock to t
func (f *Fake) Set(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}
