// Package globaltime is the process clock. Tests pin it with SetMockTime and
// move it forward with Advance so retry delays and lookback windows can be
// exercised without sleeping.
package globaltime

import (
	"sync"
	"time"
)

var (
	mu     sync.RWMutex
	pinned *time.Time
)

func Now() time.Time {
	mu.RLock()
	defer mu.RUnlock()
	if pinned != nil {
		return *pinned
	}
	return time.Now()
}

func UTC() time.Time {
	return Now().UTC()
}

// Since is time.Since against the process clock.
func Since(t time.Time) time.Duration {
	return Now().Sub(t)
}

func SetMockTime(t time.Time) {
	mu.Lock()
	defer mu.Unlock()
	pinned = &t
}

// Advance moves a pinned clock forward by d. It does nothing on the wall clock.
func Advance(d time.Duration) {
	mu.Lock()
	defer mu.Unlock()
	if pinned == nil {
		return
	}
	next := pinned.Add(d)
	pinned = &next
}

func ResetTime() {
	mu.Lock()
	defer mu.Unlock()
	pinned = nil
}
