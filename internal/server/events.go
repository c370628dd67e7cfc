package server

import (
	"context"
	"sync"
	"time"
)

const (
	// EventPortfolioChanged fires when a portfolio's document advanced
	// to a new version, by direct update or by an applied sync.
	EventPortfolioChanged = "portfolio-change"
	// EventPortfolioDeleted fires when a portfolio was removed.
	EventPortfolioDeleted = "portfolio-delete"
)

// PortfolioEvent notifies a user's other devices that server state
// moved, so they can pull instead of polling sync status.
type PortfolioEvent struct {
	UserID      uint
	EventType   string
	PortfolioID uint
	Version     int64
	Timestamp   time.Time
}

// EventDispatcher fans portfolio events out to per-user subscribers.
// Slow subscribers drop events rather than blocking publishers; a
// dropped event only costs the client one extra status poll.
type EventDispatcher struct {
	mu          sync.RWMutex
	subscribers map[uint]map[int64]*eventSubscriber
	nextID      int64
	bufferSize  int
}

type eventSubscriber struct {
	id     int64
	stream chan PortfolioEvent
}

// NewEventDispatcher constructs a dispatcher with a small per-client
// buffer.
func NewEventDispatcher() *EventDispatcher {
	return &EventDispatcher{
		subscribers: make(map[uint]map[int64]*eventSubscriber),
		bufferSize:  16,
	}
}

// Subscribe registers a listener for the user's events. The stream is
// closed for reading when the context ends or cleanup is called.
func (d *EventDispatcher) Subscribe(ctx context.Context, userID uint) (<-chan PortfolioEvent, func()) {
	if userID == 0 {
		ch := make(chan PortfolioEvent)
		close(ch)
		return ch, func() {}
	}
	subscriber := &eventSubscriber{
		id:     d.nextSequence(),
		stream: make(chan PortfolioEvent, d.bufferSize),
	}
	d.registerSubscriber(userID, subscriber)
	cleanup := func() {
		d.unregisterSubscriber(userID, subscriber.id)
	}
	go func() {
		<-ctx.Done()
		cleanup()
	}()
	return subscriber.stream, cleanup
}

// Publish delivers an event to every live subscriber of its user.
func (d *EventDispatcher) Publish(event PortfolioEvent) {
	if event.UserID == 0 || event.EventType == "" {
		return
	}
	d.mu.RLock()
	subscribers := d.subscribers[event.UserID]
	if len(subscribers) == 0 {
		d.mu.RUnlock()
		return
	}
	copies := make([]*eventSubscriber, 0, len(subscribers))
	for _, subscriber := range subscribers {
		copies = append(copies, subscriber)
	}
	d.mu.RUnlock()
	for _, subscriber := range copies {
		select {
		case subscriber.stream <- event:
		default:
		}
	}
}

func (d *EventDispatcher) nextSequence() int64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.nextID++
	return d.nextID
}

func (d *EventDispatcher) registerSubscriber(userID uint, subscriber *eventSubscriber) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.subscribers[userID]; !ok {
		d.subscribers[userID] = make(map[int64]*eventSubscriber)
	}
	d.subscribers[userID][subscriber.id] = subscriber
}

func (d *EventDispatcher) unregisterSubscriber(userID uint, subscriberID int64) {
	d.mu.Lock()
	subscribers := d.subscribers[userID]
	if subscribers != nil {
		delete(subscribers, subscriberID)
		if len(subscribers) == 0 {
			delete(d.subscribers, userID)
		}
	}
	d.mu.Unlock()
}
