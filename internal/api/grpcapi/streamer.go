package grpcapi

import (
	"sync"

	"github.com/KevinKickass/OpenStageCore/internal/stage"
)

// EventStreamer fans stage events out to WatchPosition streams. Subscribers
// registered under "" receive the events of every stage.
type EventStreamer struct {
	mu          sync.RWMutex
	subscribers map[string][]chan stage.Event
}

func NewEventStreamer() *EventStreamer {
	return &EventStreamer{
		subscribers: make(map[string][]chan stage.Event),
	}
}

func (s *EventStreamer) Subscribe(stageName string) <-chan stage.Event {
	s.mu.Lock()
	defer s.mu.Unlock()

	ch := make(chan stage.Event, 100)
	s.subscribers[stageName] = append(s.subscribers[stageName], ch)
	return ch
}

func (s *EventStreamer) Unsubscribe(stageName string, ch <-chan stage.Event) {
	s.mu.Lock()
	defer s.mu.Unlock()

	subs := s.subscribers[stageName]
	for i, sub := range subs {
		if sub == ch {
			s.subscribers[stageName] = append(subs[:i], subs[i+1:]...)
			close(sub)
			break
		}
	}
	if len(s.subscribers[stageName]) == 0 {
		delete(s.subscribers, stageName)
	}
}

// Broadcast never blocks; a subscriber with a full buffer misses the event.
func (s *EventStreamer) Broadcast(e stage.Event) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, key := range []string{e.Stage, ""} {
		for _, ch := range s.subscribers[key] {
			select {
			case ch <- e:
			default:
			}
		}
	}
}

func (s *EventStreamer) SubscriberCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	n := 0
	for _, subs := range s.subscribers {
		n += len(subs)
	}
	return n
}
