package bus

import "sync"

// Emitter is the producer side of the bus: a named source that delivers
// events to a single attached sink. Attach returns the detach func the bus
// uses to unbind the source; after detach returns the source must stop
// calling the sink.
type Emitter interface {
	Name() string
	Attach(sink func(Event)) (detach func())
}

// Closer is implemented by sources whose resources should be released when
// they are unregistered.
type Closer interface {
	Close() error
}

// Feed is a minimal Emitter for in-process producers: anything written via
// Publish reaches the attached sink. It is the building block for sources
// that do not manage their own device lifecycle.
type Feed struct {
	name string

	mu   sync.Mutex
	sink func(Event)
}

// NewFeed returns a Feed emitting under the given source name.
func NewFeed(name string) *Feed {
	return &Feed{name: name}
}

// Name implements Emitter.
func (f *Feed) Name() string { return f.name }

// Attach implements Emitter.
func (f *Feed) Attach(sink func(Event)) (detach func()) {
	f.mu.Lock()
	f.sink = sink
	f.mu.Unlock()

	return func() {
		f.mu.Lock()
		f.sink = nil
		f.mu.Unlock()
	}
}

// Publish delivers ev to the attached sink, if any.
func (f *Feed) Publish(ev Event) {
	f.mu.Lock()
	sink := f.sink
	f.mu.Unlock()

	if sink != nil {
		sink(ev)
	}
}
