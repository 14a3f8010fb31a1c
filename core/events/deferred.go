package events

import (
	"context"
	"sync"
)

// Deferred holds events emitted on behalf of an in-flight operation. Commit
// forwards them in emission order once the operation succeeds; Discard drops
// them when it is rolled back.
type Deferred struct {
	mu      sync.Mutex
	pending []deferredEvent
}

type deferredEvent struct {
	to  Emitter
	evt Event
}

// Len reports the number of queued events.
func (d *Deferred) Len() int {
	if d == nil {
		return 0
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.pending)
}

// Commit emits every queued event and empties the queue.
func (d *Deferred) Commit() {
	if d == nil {
		return
	}
	d.mu.Lock()
	pending := d.pending
	d.pending = nil
	d.mu.Unlock()
	for _, p := range pending {
		p.to.Emit(p.evt)
	}
}

// Discard drops every queued event.
func (d *Deferred) Discard() {
	if d == nil {
		return
	}
	d.mu.Lock()
	d.pending = nil
	d.mu.Unlock()
}

type deferredKey struct{}

// WithDeferred returns a context whose emissions through EmitContext are
// queued on d.
func WithDeferred(ctx context.Context, d *Deferred) context.Context {
	return context.WithValue(ctx, deferredKey{}, d)
}

// DeferredFrom returns the queue carried by ctx, or nil.
func DeferredFrom(ctx context.Context) *Deferred {
	if ctx == nil {
		return nil
	}
	d, _ := ctx.Value(deferredKey{}).(*Deferred)
	return d
}

// EmitContext sends evt to to, or queues it when ctx carries a Deferred.
func EmitContext(ctx context.Context, to Emitter, evt Event) {
	if to == nil || evt == nil {
		return
	}
	if d := DeferredFrom(ctx); d != nil {
		d.mu.Lock()
		d.pending = append(d.pending, deferredEvent{to: to, evt: evt})
		d.mu.Unlock()
		return
	}
	to.Emit(evt)
}
