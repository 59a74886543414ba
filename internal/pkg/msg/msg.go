package msg

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// Topic is the class of a published message.
type Topic int

// Topics
const (
	Status Topic = iota // one engine.TickResult per committed tick
	Fault               // one asset.TransportError per failed command publish
)

func (t Topic) String() string {
	switch t {
	case Status:
		return "status"
	case Fault:
		return "fault"
	}
	return "unknown"
}

// Publisher is an interface for objects that allow subscription to their events
type Publisher interface {
	Subscribe(uuid.UUID, Topic) (<-chan Msg, error)
	Unsubscribe(uuid.UUID)
}

// Msg is a payload stamped with its sender and topic.
type Msg struct {
	sender  uuid.UUID
	topic   Topic
	payload interface{}
}

// New is the Msg factory function
func New(sender uuid.UUID, topic Topic, payload interface{}) Msg {
	return Msg{sender, topic, payload}
}

// PID returns the sender's PID
func (v Msg) PID() uuid.UUID {
	return v.sender
}

// Topic returns the message topic
func (v Msg) Topic() Topic {
	return v.topic
}

// Payload returns the message data
func (v Msg) Payload() interface{} {
	return v.payload
}

// SubscriberBuffer is the channel depth given to each subscriber. A
// subscriber that falls further behind misses messages.
const SubscriberBuffer = 8

var (
	// ErrClosed is returned when subscribing to a closed PubSub.
	ErrClosed = errors.New("publisher closed")
	// ErrSubscribed is returned when a pid subscribes to a topic twice.
	ErrSubscribed = errors.New("already subscribed")
)

// PubSub fans published messages out to subscribers without blocking the
// publisher.
type PubSub struct {
	mux    *sync.Mutex
	pid    uuid.UUID
	subs   map[Topic]map[uuid.UUID]chan Msg
	closed bool
}

// NewPublisher returns a PubSub that stamps messages with pid.
func NewPublisher(pid uuid.UUID) *PubSub {
	return &PubSub{
		mux:  &sync.Mutex{},
		pid:  pid,
		subs: make(map[Topic]map[uuid.UUID]chan Msg),
	}
}

// PID of the publisher.
func (p *PubSub) PID() uuid.UUID {
	return p.pid
}

// Subscribe returns a read only channel of messages on topic.
func (p *PubSub) Subscribe(pid uuid.UUID, topic Topic) (<-chan Msg, error) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return nil, ErrClosed
	}
	if _, ok := p.subs[topic]; !ok {
		p.subs[topic] = make(map[uuid.UUID]chan Msg)
	}
	if _, ok := p.subs[topic][pid]; ok {
		return nil, ErrSubscribed
	}
	ch := make(chan Msg, SubscriberBuffer)
	p.subs[topic][pid] = ch
	return ch, nil
}

// Unsubscribe pid from all topic broadcasts and close its channels.
func (p *PubSub) Unsubscribe(pid uuid.UUID) {
	p.mux.Lock()
	defer p.mux.Unlock()
	for _, subs := range p.subs {
		if ch, ok := subs[pid]; ok {
			delete(subs, pid)
			close(ch)
		}
	}
}

// Publish sends payload to every subscriber of topic. Full subscriber
// channels are skipped.
func (p *PubSub) Publish(topic Topic, payload interface{}) {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return
	}
	m := New(p.pid, topic, payload)
	for _, ch := range p.subs[topic] {
		select {
		case ch <- m:
		default:
		}
	}
}

// Close unsubscribes everyone.
func (p *PubSub) Close() {
	p.mux.Lock()
	defer p.mux.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	for _, subs := range p.subs {
		for pid, ch := range subs {
			delete(subs, pid)
			close(ch)
		}
	}
}
