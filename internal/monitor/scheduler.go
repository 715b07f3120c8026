package monitor

import (
	"sync"
	"time"
)

// Scheduler runs fn repeatedly at the given interval until the returned stop func is called.
// Calls to fn must not overlap, and stop must not wait for an in-flight fn to return.
type Scheduler interface {
	Every(interval time.Duration, fn func()) (stop func())
}

// TickerScheduler is the Scheduler backed by time.Ticker.
type TickerScheduler struct{}

func (TickerScheduler) Every(interval time.Duration, fn func()) func() {
	ticker := time.NewTicker(interval)
	done := make(chan struct{})
	var once sync.Once

	go func() {
		defer ticker.Stop()

		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				// a tick may race with stop; stop wins
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	return func() {
		once.Do(func() { close(done) })
	}
}
