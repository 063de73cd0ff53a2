package utils

import "sync"

// Subscription receives values fired on its Dispatcher until Unsubscribe is called
type Subscription[T any] struct {
	channel    chan T
	dispatcher *Dispatcher[T]
	once       sync.Once
}

// Dispatcher fans values out to subscribers without blocking the sender.
// A subscriber whose buffer is full loses its oldest queued value, so the
// most recent value fired is always delivered.
type Dispatcher[T any] struct {
	mu            sync.Mutex
	subscriptions []*Subscription[T]
}

// Subscribe registers a new subscription with a buffered channel of the given capacity (at least 1)
func (d *Dispatcher[T]) Subscribe(capacity int) *Subscription[T] {
	if capacity < 1 {
		capacity = 1
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	sub := &Subscription[T]{
		channel:    make(chan T, capacity),
		dispatcher: d,
	}
	d.subscriptions = append(d.subscriptions, sub)
	return sub
}

// Channel returns the receive side of the subscription. It is closed on Unsubscribe.
func (s *Subscription[T]) Channel() <-chan T {
	return s.channel
}

// Unsubscribe detaches the subscription and closes its channel. Safe to call more than once.
func (s *Subscription[T]) Unsubscribe() {
	s.once.Do(func() {
		s.dispatcher.remove(s)
	})
}

func (d *Dispatcher[T]) remove(sub *Subscription[T]) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for i, s := range d.subscriptions {
		if s == sub {
			d.subscriptions = append(d.subscriptions[:i], d.subscriptions[i+1:]...)
			break
		}
	}
	close(sub.channel)
}

// Fire delivers data to every subscriber, evicting the oldest queued value when a buffer is full
func (d *Dispatcher[T]) Fire(data T) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, s := range d.subscriptions {
		s.push(data)
	}
}

// push must be called with the dispatcher lock held; Fire is the only sender
func (s *Subscription[T]) push(data T) {
	for {
		select {
		case s.channel <- data:
			return
		default:
		}

		select {
		case <-s.channel:
		default:
		}
	}
}

// Len returns the number of live subscriptions
func (d *Dispatcher[T]) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.subscriptions)
}
