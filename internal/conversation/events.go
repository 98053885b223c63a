package conversation

import (
	"context"
	"sync"

	"din/internal/protocol"
	"din/internal/scene"
)

type EventKind string

const (
	EventMessage      EventKind = "message"
	EventScenesAdded  EventKind = "scenes_added"
	EventSceneUpdated EventKind = "scene_updated"
	EventFinalBrief   EventKind = "final_brief"
	EventTurnState    EventKind = "turn_state"
	EventImageStarted EventKind = "image_started"
	EventImageReady   EventKind = "image_ready"
	EventImageFailed  EventKind = "image_failed"
	EventReset        EventKind = "reset"
)

// Event notifies subscribers of a session change.
type Event struct {
	Kind       EventKind            `json:"kind"`
	Message    *Message             `json:"message,omitempty"`
	Scenes     []scene.Scene        `json:"scenes,omitempty"`
	Scene      *scene.Scene         `json:"scene,omitempty"`
	FinalBrief *protocol.MetaPrompt `json:"finalBrief,omitempty"`
	TurnState  TurnState            `json:"turnState,omitempty"`
	Error      string               `json:"error,omitempty"`
}

const subscriberBuffer = 32

// broker fans events out to subscribers. A slow subscriber loses its oldest
// pending events rather than blocking the publisher.
type broker struct {
	mu     sync.Mutex
	next   int
	subs   map[int]*subscriber
	closed bool
}

type subscriber struct {
	ch   chan Event
	stop func() bool
}

func newBroker() *broker {
	return &broker{subs: make(map[int]*subscriber)}
}

func (b *broker) subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, subscriberBuffer)
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch
	}
	id := b.next
	b.next++
	sub := &subscriber{ch: ch}
	b.subs[id] = sub
	sub.stop = context.AfterFunc(ctx, func() { b.remove(id) })
	return ch
}

func (b *broker) remove(id int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if sub, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(sub.ch)
	}
}

func (b *broker) publish(ev Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, sub := range b.subs {
		pushEvent(sub.ch, ev)
	}
}

func (b *broker) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, sub := range b.subs {
		sub.stop()
		delete(b.subs, id)
		close(sub.ch)
	}
}

func pushEvent(out chan Event, ev Event) {
	select {
	case out <- ev:
		return
	default:
	}
	select {
	case <-out:
	default:
	}
	select {
	case out <- ev:
	default:
	}
}
