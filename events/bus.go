// Package events implements the per-event-type broadcast bus the channel
// service publishes on, plus the filtered single-shot wait the coordinator
// builds its protocol steps from.
package events

import (
	"context"
	"errors"
	"sync"
	"time"
)

// Name identifies an event stream on the bus.
type Name string

// Event is one published occurrence on a named stream.
type Event struct {
	Name    Name
	Payload any
}

// ErrWaitTimeout is returned when a WaitFor deadline elapses before a
// matching event arrives. Callers decide whether that is fatal.
var ErrWaitTimeout = errors.New("timed out waiting for event")

const subscriptionBuffer = 16

// Bus is a broadcast channel keyed by event name. Publishing never blocks:
// a subscriber that cannot keep up loses events rather than stalling the
// publisher.
type Bus struct {
	mu   sync.Mutex
	subs map[Name][]*Subscription
	next int
}

func NewBus() *Bus {
	return &Bus{subs: make(map[Name][]*Subscription)}
}

// Subscription is one listener on a named stream. Close is idempotent and
// must be called to release the listener; WaitFor does this for its callers.
type Subscription struct {
	name Name
	id   int
	ch   chan Event
	bus  *Bus
	once sync.Once
}

// C returns the subscription's event channel.
func (s *Subscription) C() <-chan Event {
	return s.ch
}

// Close detaches the subscription from the bus.
func (s *Subscription) Close() {
	s.once.Do(func() {
		s.bus.remove(s)
	})
}

// Subscribe registers a listener for the named stream.
func (b *Bus) Subscribe(name Name) *Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.next++
	sub := &Subscription{
		name: name,
		id:   b.next,
		ch:   make(chan Event, subscriptionBuffer),
		bus:  b,
	}
	b.subs[name] = append(b.subs[name], sub)
	return sub
}

// Publish fans the event out to every current subscriber of its name.
func (b *Bus) Publish(evt Event) {
	b.mu.Lock()
	listeners := make([]*Subscription, len(b.subs[evt.Name]))
	copy(listeners, b.subs[evt.Name])
	b.mu.Unlock()

	for _, sub := range listeners {
		select {
		case sub.ch <- evt:
		default:
			// Subscriber buffer full; drop rather than block the publisher.
		}
	}
}

func (b *Bus) remove(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()

	list := b.subs[sub.name]
	for i, s := range list {
		if s.id == sub.id {
			b.subs[sub.name] = append(list[:i], list[i+1:]...)
			break
		}
	}
}

// WaitFor blocks until an event on the named stream satisfies the predicate,
// the timeout elapses, or the context is cancelled. The subscription is
// always released before returning, so a timed-out wait does not leak.
func WaitFor(ctx context.Context, bus *Bus, name Name, timeout time.Duration, pred func(Event) bool) (Event, error) {
	sub := bus.Subscribe(name)
	defer sub.Close()
	return WaitOn(ctx, sub, timeout, pred)
}

// WaitOn is WaitFor over an already open subscription. Callers subscribe
// ahead of the action that triggers the event, so a publish racing the wait
// is buffered instead of lost. The subscription stays owned by the caller.
func WaitOn(ctx context.Context, sub *Subscription, timeout time.Duration, pred func(Event) bool) (Event, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return Event{}, ctx.Err()
		case <-timer.C:
			return Event{}, ErrWaitTimeout
		case evt := <-sub.C():
			if pred == nil || pred(evt) {
				return evt, nil
			}
		}
	}
}
