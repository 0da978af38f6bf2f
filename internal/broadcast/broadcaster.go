package broadcast

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/mzani/taskd/internal/observability"
	"github.com/mzani/taskd/internal/protocol"
)

// Sink receives one encoded event frame per broadcast. A non-nil error
// drops the sink from the subscriber set.
type Sink interface {
	WriteFrame(frame []byte) error
}

// Broadcaster owns the live subscriber set and pushes every event to all of
// it. Delivery is best-effort and synchronous: by the time Broadcast
// returns, the write has been attempted on every subscriber known at entry,
// and failed subscribers are gone.
type Broadcaster struct {
	mu      sync.Mutex
	subs    map[int]Sink
	nextID  int
	metrics *observability.Metrics
}

func New(metrics *observability.Metrics) *Broadcaster {
	return &Broadcaster{
		subs:    make(map[int]Sink),
		metrics: metrics,
	}
}

// Add registers a subscriber and returns its handle for Remove.
func (b *Broadcaster) Add(s Sink) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.addLocked(s)
}

// Subscribe writes the acknowledgment frame and registers the sink as one
// step under the broadcaster lock. No event broadcast after the ack can slip
// past the new subscriber, and no event can precede the ack on its wire. A
// failed ack write leaves the sink unregistered.
func (b *Broadcaster) Subscribe(s Sink, ack []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if err := s.WriteFrame(ack); err != nil {
		return 0, err
	}
	return b.addLocked(s), nil
}

func (b *Broadcaster) addLocked(s Sink) int {
	b.nextID++
	id := b.nextID
	b.subs[id] = s
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subs)))
	}
	return id
}

// Remove drops a subscriber; safe to call after it was already dropped by a
// failed write.
func (b *Broadcaster) Remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.subs, id)
	if b.metrics != nil {
		b.metrics.Subscribers.Set(float64(len(b.subs)))
	}
}

func (b *Broadcaster) Count() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Broadcast encodes the event once and writes it to every subscriber. A
// write failure removes that subscriber; there is no retry and no queue, a
// slow subscriber is dropped rather than blocked on.
func (b *Broadcaster) Broadcast(evt protocol.Event) {
	frame, err := json.Marshal(evt)
	if err != nil {
		log.Printf("broadcast: drop unencodable %s event: %v", evt.Type, err)
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.observeLocked(evt)
	for id, sink := range b.subs {
		if err := sink.WriteFrame(frame); err != nil {
			delete(b.subs, id)
			if b.metrics != nil {
				b.metrics.BroadcastDrops.Inc()
				b.metrics.Subscribers.Set(float64(len(b.subs)))
			}
		}
	}
}

// observeLocked counts event traffic; the broadcaster sees every event, so
// this is the one place lifecycle metrics are recorded.
func (b *Broadcaster) observeLocked(evt protocol.Event) {
	if b.metrics == nil {
		return
	}
	b.metrics.Events.WithLabelValues(string(evt.Type)).Inc()
	switch evt.Type {
	case protocol.EventTask:
		switch evt.Status {
		case "completed", "failed", "cancelled":
			b.metrics.TasksFinished.WithLabelValues(evt.Status).Inc()
		}
	case protocol.EventSession:
		b.metrics.SessionsCreated.Inc()
	case protocol.EventChat:
		if evt.IsFinal {
			outcome := "ok"
			if evt.Error != "" {
				outcome = "error"
			}
			b.metrics.ChatTurns.WithLabelValues(outcome).Inc()
		}
	}
}
