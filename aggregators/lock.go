package aggregators

import "sync"

// Locker guards aggregator state. Inline mode, where one goroutine both
// receives and aggregates, uses NopLocker.
type Locker = sync.Locker

// NopLocker is a Locker whose critical sections do nothing.
type NopLocker struct{}

func (NopLocker) Lock()   {}
func (NopLocker) Unlock() {}

// NewLocker returns a real mutex when ingestion runs on a dedicated
// goroutine and a NopLocker otherwise.
func NewLocker(dedicated bool) Locker {
	if dedicated {
		return &sync.Mutex{}
	}
	return NopLocker{}
}
