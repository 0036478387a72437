// Package stream fan-outs store change notifications to realtime
// subscribers. The leaderboard is recomputed from a fresh collection read on
// every team event, so subscribers never see a partially applied write.
package stream

import (
	"context"
	"sync"
	"time"
)

// Event kinds published by the API layer.
const (
	KindMember   = "member"
	KindTeam     = "team"
	KindTreasury = "treasury"
)

// ChangeEvent describes one persisted write.
type ChangeEvent struct {
	Kind      string    `json:"kind"`
	ID        string    `json:"id"`
	Action    string    `json:"action"` // save | delete
	Timestamp time.Time `json:"timestamp"`
}

// Stream fan-outs change events to all active subscribers (SSE clients).
type Stream struct {
	mu   sync.RWMutex
	subs map[int]chan ChangeEvent
	next int
}

// New initialises an empty stream.
func New() *Stream {
	return &Stream{subs: make(map[int]chan ChangeEvent)}
}

// Subscribe registers a subscriber and returns a channel which will receive
// events. The channel is closed when the provided context ends.
func (s *Stream) Subscribe(ctx context.Context) <-chan ChangeEvent {
	ch := make(chan ChangeEvent, 16)

	s.mu.Lock()
	id := s.next
	s.next++
	s.subs[id] = ch
	s.mu.Unlock()

	go func() {
		<-ctx.Done()
		s.mu.Lock()
		delete(s.subs, id)
		close(ch)
		s.mu.Unlock()
	}()

	return ch
}

// Publish fan-outs the event to all subscribers.
func (s *Stream) Publish(evt ChangeEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, ch := range s.subs {
		select {
		case ch <- evt:
		default:
			// Drop when subscriber is slow to avoid blocking.
		}
	}
}

// Subscribers returns the current subscriber count.
func (s *Stream) Subscribers() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.subs)
}
