package router

import (
	"errors"

	"github.com/parley-im/parley/pkg/protocol"
)

// ErrUnknownRecipient is returned when a message targets an identity that was
// never registered.
var ErrUnknownRecipient = errors.New("unknown recipient")

// OfflineQueue holds a per-identity FIFO of chat frames awaiting delivery.
// The set of keys doubles as the relay's known-identity set: an entry is
// created (empty) at registration and lives for the identity's lifetime.
//
// Like Registry, it is not internally synchronized; the Router serializes
// access so a drain is indivisible with respect to concurrent enqueues.
type OfflineQueue struct {
	pending map[string][]protocol.Frame
}

// NewOfflineQueue creates an empty queue.
func NewOfflineQueue() *OfflineQueue {
	return &OfflineQueue{pending: make(map[string][]protocol.Frame)}
}

// Register creates an empty backlog for identity. Registering an existing
// identity is a no-op and preserves any pending frames.
func (q *OfflineQueue) Register(identity string) {
	if _, ok := q.pending[identity]; !ok {
		q.pending[identity] = nil
	}
}

// Known reports whether identity has been registered.
func (q *OfflineQueue) Known(identity string) bool {
	_, ok := q.pending[identity]
	return ok
}

// Enqueue appends a frame to the identity's backlog.
func (q *OfflineQueue) Enqueue(identity string, f protocol.Frame) error {
	if _, ok := q.pending[identity]; !ok {
		return ErrUnknownRecipient
	}
	q.pending[identity] = append(q.pending[identity], f)
	return nil
}

// Requeue puts frames back at the front of the identity's backlog, preserving
// their order. Used when delivery of a drained backlog fails partway.
func (q *OfflineQueue) Requeue(identity string, frames []protocol.Frame) {
	if len(frames) == 0 {
		return
	}
	if _, ok := q.pending[identity]; !ok {
		return
	}
	q.pending[identity] = append(append([]protocol.Frame{}, frames...), q.pending[identity]...)
}

// Drain atomically takes the identity's backlog, leaving it empty. Returns
// nil when nothing was queued.
func (q *OfflineQueue) Drain(identity string) []protocol.Frame {
	frames, ok := q.pending[identity]
	if !ok {
		return nil
	}
	q.pending[identity] = nil
	return frames
}

// Rename moves the backlog of oldIdentity to newIdentity.
func (q *OfflineQueue) Rename(oldIdentity, newIdentity string) error {
	frames, ok := q.pending[oldIdentity]
	if !ok {
		return ErrUnknownRecipient
	}
	delete(q.pending, oldIdentity)
	q.pending[newIdentity] = frames
	return nil
}
