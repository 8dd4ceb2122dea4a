// Package bus fans out entity-change events to topic subscribers. Each
// topic keeps a bounded backlog of recent events so a late subscriber
// receives a short replay on join.
package bus

import "time"

const (
	// retainedEvents is how many events a topic keeps for replay.
	retainedEvents = 50
	// replayEvents is how many of those a new subscriber is sent.
	replayEvents = 10
	// sendBuffer bounds each subscriber's queue. A subscriber that
	// cannot drain it is dropped, never waited on.
	sendBuffer = 16
)

type Event struct {
	Topic string         `json:"topic"`
	Type  string         `json:"type"`
	Data  map[string]any `json:"data,omitempty"`
	At    time.Time      `json:"at"`
}

// Subscriber is one live connection. Events arrive on C until the hub
// closes it.
type Subscriber struct {
	send chan Event
}

// C is the subscriber's event stream. It is closed when the subscriber is
// dropped or the hub stops.
func (s *Subscriber) C() <-chan Event {
	return s.send
}

type commandKind int

const (
	cmdRegister commandKind = iota
	cmdUnregister
	cmdSubscribe
	cmdUnsubscribe
	cmdPublish
)

type command struct {
	kind  commandKind
	sub   *Subscriber
	topic string
	event Event
}

type topicState struct {
	subscribers map[*Subscriber]struct{}
	backlog     []Event
}

// Hub owns all per-topic state. Every operation funnels through a single
// command channel drained by one run loop, so operations take effect in
// call order and all subscribers of a topic observe publishes in the same
// order. Actual delivery drains each subscriber's own buffered channel.
type Hub struct {
	commands chan command
	stop     chan struct{}
	stopped  chan struct{}
}

func NewHub() *Hub {
	return &Hub{
		commands: make(chan command),
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Run processes hub commands until Stop is called. Construct the hub at
// startup and run this in its own goroutine; nothing else touches the
// topic state.
func (h *Hub) Run() {
	subscribers := make(map[*Subscriber]map[string]struct{})
	topics := make(map[string]*topicState)

	topicFor := func(name string) *topicState {
		state, ok := topics[name]
		if !ok {
			state = &topicState{subscribers: make(map[*Subscriber]struct{})}
			topics[name] = state
		}
		return state
	}

	drop := func(sub *Subscriber) {
		memberships, ok := subscribers[sub]
		if !ok {
			return
		}
		for topic := range memberships {
			delete(topicFor(topic).subscribers, sub)
		}
		delete(subscribers, sub)
		close(sub.send)
	}

	// trySend never blocks: a full queue means the subscriber is too
	// slow and gets dropped so it cannot stall the topic. It reports
	// whether the subscriber survived; after a drop its channel is
	// closed and must not be sent to again.
	trySend := func(sub *Subscriber, event Event) bool {
		select {
		case sub.send <- event:
			return true
		default:
			drop(sub)
			return false
		}
	}

	defer func() {
		for sub := range subscribers {
			drop(sub)
		}
		close(h.stopped)
	}()

	for {
		var cmd command
		select {
		case <-h.stop:
			return
		case cmd = <-h.commands:
		}

		switch cmd.kind {
		case cmdRegister:
			subscribers[cmd.sub] = make(map[string]struct{})

		case cmdUnregister:
			drop(cmd.sub)

		case cmdSubscribe:
			memberships, ok := subscribers[cmd.sub]
			if !ok {
				continue
			}
			state := topicFor(cmd.topic)
			if _, already := state.subscribers[cmd.sub]; already {
				continue
			}
			state.subscribers[cmd.sub] = struct{}{}
			memberships[cmd.topic] = struct{}{}

			replay := state.backlog
			if len(replay) > replayEvents {
				replay = replay[len(replay)-replayEvents:]
			}
			for _, event := range replay {
				if !trySend(cmd.sub, event) {
					break
				}
			}

		case cmdUnsubscribe:
			memberships, ok := subscribers[cmd.sub]
			if !ok {
				continue
			}
			delete(topicFor(cmd.topic).subscribers, cmd.sub)
			delete(memberships, cmd.topic)

		case cmdPublish:
			state := topicFor(cmd.event.Topic)
			state.backlog = append(state.backlog, cmd.event)
			if len(state.backlog) > retainedEvents {
				state.backlog = state.backlog[len(state.backlog)-retainedEvents:]
			}
			for sub := range state.subscribers {
				trySend(sub, cmd.event)
			}
		}
	}
}

func (h *Hub) Stop() {
	close(h.stop)
	<-h.stopped
}

func (h *Hub) send(cmd command) {
	select {
	case h.commands <- cmd:
	case <-h.stop:
	}
}

// NewSubscriber registers a fresh connection with no topic memberships.
func (h *Hub) NewSubscriber() *Subscriber {
	sub := &Subscriber{send: make(chan Event, sendBuffer)}
	select {
	case h.commands <- command{kind: cmdRegister, sub: sub}:
	case <-h.stop:
		close(sub.send)
	}
	return sub
}

func (h *Hub) Subscribe(sub *Subscriber, topic string) {
	h.send(command{kind: cmdSubscribe, sub: sub, topic: topic})
}

func (h *Hub) Unsubscribe(sub *Subscriber, topic string) {
	h.send(command{kind: cmdUnsubscribe, sub: sub, topic: topic})
}

// Close drops a subscriber from every topic. Safe to call repeatedly and
// after the hub has already dropped it.
func (h *Hub) Close(sub *Subscriber) {
	h.send(command{kind: cmdUnregister, sub: sub})
}

// Publish queues an event for fan-out. Delivery is best-effort per
// subscriber; the publisher is never blocked by a slow consumer.
func (h *Hub) Publish(topic, eventType string, data map[string]any) {
	h.send(command{kind: cmdPublish, event: Event{
		Topic: topic,
		Type:  eventType,
		Data:  data,
		At:    time.Now(),
	}})
}
