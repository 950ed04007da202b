package meter

import "sync"

// PositionSource delivers device samples to a subscriber until the returned
// unsubscribe function is called.
type PositionSource interface {
	Subscribe(fn func(Sample)) (unsubscribe func())
}

// Feed is an in-memory PositionSource that fans published samples out to
// every current subscriber.
type Feed struct {
	mu     sync.RWMutex
	nextID int
	subs   map[int]func(Sample)
}

// NewFeed creates an empty feed.
func NewFeed() *Feed {
	return &Feed{subs: make(map[int]func(Sample))}
}

// Subscribe registers fn. The returned function is idempotent.
func (f *Feed) Subscribe(fn func(Sample)) func() {
	f.mu.Lock()
	id := f.nextID
	f.nextID++
	f.subs[id] = fn
	f.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			f.mu.Lock()
			delete(f.subs, id)
			f.mu.Unlock()
		})
	}
}

// Publish delivers s synchronously to all subscribers.
func (f *Feed) Publish(s Sample) {
	f.mu.RLock()
	subs := make([]func(Sample), 0, len(f.subs))
	for _, fn := range f.subs {
		subs = append(subs, fn)
	}
	f.mu.RUnlock()

	for _, fn := range subs {
		fn(s)
	}
}

// Subscribers returns the number of active subscriptions.
func (f *Feed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.subs)
}
