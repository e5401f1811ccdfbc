package events

import (
	"context"
	"sync"

	"github.com/core-coin/x402/internal/models"
)

// Stream forwards events to in-process subscribers. Slow subscribers miss
// events rather than block delivery.
type Stream struct {
	mu     sync.Mutex
	nextID int
	subs   map[int]chan *models.Event
}

func NewStream() *Stream {
	return &Stream{subs: make(map[int]chan *models.Event)}
}

func (s *Stream) Name() string { return "stream" }

// Subscribe returns a channel of events and a function that ends the subscription.
func (s *Stream) Subscribe(buffer int) (<-chan *models.Event, func()) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.nextID
	s.nextID++
	ch := make(chan *models.Event, buffer)
	s.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
			close(ch)
		})
	}
}

func (s *Stream) Send(_ context.Context, event *models.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ch := range s.subs {
		select {
		case ch <- event:
		default:
		}
	}
	return nil
}
