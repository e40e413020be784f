package bus

import (
	"sync"

	"ticketing-refund-core/internal/domain/model"
)

// Stream is an in-process broadcast channel with per-subscriber bounded
// buffers. When a subscriber's buffer is full the oldest element is dropped:
// these streams carry advisory rendering updates, the authoritative state
// lives in the repositories, so a slow subscriber must never stall
// settlement.
type Stream[T any] struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan T
	buffer int
}

func NewStream[T any](buffer int) *Stream[T] {
	if buffer <= 0 {
		buffer = 64
	}
	return &Stream[T]{subs: make(map[int]chan T), buffer: buffer}
}

// Subscribe returns a receive channel and a cancel function. The channel is
// closed on cancel.
func (s *Stream[T]) Subscribe() (<-chan T, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.nextID
	s.nextID++
	ch := make(chan T, s.buffer)
	s.subs[id] = ch
	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if c, ok := s.subs[id]; ok {
			delete(s.subs, id)
			close(c)
		}
	}
}

// Publish fans the value out to every subscriber, dropping the oldest
// buffered element when a subscriber is full. Publish never blocks.
func (s *Stream[T]) Publish(v T) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- v:
		default:
			// full: evict the oldest and retry once
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

// Bus bundles the two notification streams the core exposes: refund status
// changes and cancellation progress.
type Bus struct {
	RefundStatus *Stream[model.RefundStatusChanged]
	Progress     *Stream[model.CancellationProgress]
}

func New(buffer int) *Bus {
	return &Bus{
		RefundStatus: NewStream[model.RefundStatusChanged](buffer),
		Progress:     NewStream[model.CancellationProgress](buffer),
	}
}
