package auth

import "sync"

// Feed holds the latest Session and fans it out to subscribers.
//
// Each subscriber channel has a buffer of one: a subscriber that falls behind
// only ever holds the newest value, never a backlog of intermediate ones.
// Initializing can only be the initial value; publishing it is ignored, as is
// publishing a value equal to the current one.
type Feed struct {
	mu     sync.Mutex
	cur    Session
	subs   map[chan Session]struct{}
	closed bool
}

// NewFeed constructs a feed whose current value is initial.
func NewFeed(initial Session) *Feed {
	if initial == nil {
		initial = Initializing{}
	}
	return &Feed{
		cur:  initial,
		subs: make(map[chan Session]struct{}),
	}
}

// Current returns the latest published value.
func (f *Feed) Current() Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.cur
}

// Publish makes s the current value and delivers it to every subscriber.
// It reports whether the value was accepted.
func (f *Feed) Publish(s Session) bool {
	if s == nil {
		return false
	}
	if _, ok := s.(Initializing); ok {
		return false
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed || SessionsEqual(f.cur, s) {
		return false
	}
	f.cur = s
	for ch := range f.subs {
		replace(ch, s)
	}
	return true
}

// Subscribe registers a subscriber. The returned channel immediately holds the
// current value. The returned func unsubscribes and closes the channel; it is
// safe to call more than once.
func (f *Feed) Subscribe() (func(), <-chan Session) {
	f.mu.Lock()
	defer f.mu.Unlock()

	ch := make(chan Session, 1)
	if f.closed {
		close(ch)
		return func() {}, ch
	}
	ch <- f.cur
	f.subs[ch] = struct{}{}

	unsub := func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if _, ok := f.subs[ch]; !ok {
			return
		}
		delete(f.subs, ch)
		close(ch)
	}
	return unsub, ch
}

// Close closes every subscriber channel. Later publishes are ignored and later
// subscribers receive a closed channel.
func (f *Feed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.closed {
		return
	}
	f.closed = true
	for ch := range f.subs {
		close(ch)
		delete(f.subs, ch)
	}
}

// replace swaps any unread value in ch for s. Callers hold the feed lock, so
// the feed is the only sender and the send cannot block.
func replace(ch chan Session, s Session) {
	select {
	case <-ch:
	default:
	}
	ch <- s
}
