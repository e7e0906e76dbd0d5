package sandbox

import "sync"

// listener fires at most once for the first matching envelope from source.
type listener struct {
	source  string
	match   Match
	deliver chan Envelope
}

// bus routes envelopes posted by sandboxes to one-shot host listeners.
type bus struct {
	mu        sync.Mutex
	next      uint64
	listeners map[uint64]*listener
}

func newBus() *bus {
	return &bus{listeners: make(map[uint64]*listener)}
}

// once registers a listener and returns its delivery channel plus a cancel
// function that deregisters it. The channel receives at most one envelope.
func (b *bus) once(source string, match Match) (<-chan Envelope, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	key := b.next
	l := &listener{source: source, match: match, deliver: make(chan Envelope, 1)}
	b.listeners[key] = l

	return l.deliver, func() {
		b.mu.Lock()
		delete(b.listeners, key)
		b.mu.Unlock()
	}
}

// publish delivers env to every listener waiting on its source whose match
// accepts it. It reports how many listeners fired.
func (b *bus) publish(env Envelope) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	fired := 0
	for key, l := range b.listeners {
		if l.source != env.Source {
			continue
		}
		if l.match != nil && !l.match(env) {
			continue
		}
		delete(b.listeners, key)
		l.deliver <- env
		fired++
	}
	return fired
}

func (b *bus) pending() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.listeners)
}
