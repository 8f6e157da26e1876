package common

import "sync"

// Stream fan-outs values to any number of subscribers. Each subscriber owns a
// buffered channel; when the buffer is full the oldest element is dropped so
// Publish never blocks the producer.
type Stream[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	buffer int
}

// NewStream creates a fan-out stream with the given per-subscriber buffer.
func NewStream[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe returns a receive channel and an unsubscribe function. The channel
// is closed on unsubscribe.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan T, s.buffer)
	s.subs[id] = ch

	unsub := func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
	return ch, unsub
}

// Publish delivers v to every subscriber, evicting the oldest buffered value
// when a subscriber has fallen behind.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch: // evict oldest
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Close unsubscribes everyone.
func (s *Stream[T]) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, ch := range s.subs {
		delete(s.subs, id)
		close(ch)
	}
}

// Len returns the current subscriber count.
func (s *Stream[T]) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.subs)
}
