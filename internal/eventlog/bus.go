package eventlog

import "sync"

// Notification is what subscribers receive on each append.
type Notification struct {
	EventsFilePath string
	Event          Envelope
}

// Bus is a process-local fanout: subscribers register a callback and
// receive every appended event across every events.jsonl file in the
// process. Publishing walks subscribers under a read lock; a slow
// subscriber's bounded channel is drained under backpressure rather
// than blocking the publisher.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[int64]chan Notification
	nextID      int64
	dropped     map[int64]int64
	bufferSize  int
}

const defaultBusBuffer = 256

func NewBus() *Bus {
	return &Bus{
		subscribers: make(map[int64]chan Notification),
		dropped:     make(map[int64]int64),
		bufferSize:  defaultBusBuffer,
	}
}

// Subscribe registers fn to be called (on a dedicated goroutine) for
// every published notification, returning an unsubscribe function.
func (b *Bus) Subscribe(fn func(Notification)) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Notification, b.bufferSize)
	b.subscribers[id] = ch
	b.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for {
			select {
			case n, ok := <-ch:
				if !ok {
					return
				}
				fn(n)
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subscribers, id)
			delete(b.dropped, id)
			b.mu.Unlock()
			close(done)
			close(ch)
		})
	}
}

// Publish fans n out to every subscriber. A slow subscriber whose buffer
// is full has its oldest pending notification dropped in favor of n, so
// one slow reader never blocks the bus.
func (b *Bus) Publish(eventsFilePath string, e Envelope) {
	n := Notification{EventsFilePath: eventsFilePath, Event: e}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for id, ch := range b.subscribers {
		select {
		case ch <- n:
		default:
			select {
			case <-ch:
				b.dropped[id]++
			default:
			}
			select {
			case ch <- n:
			default:
			}
		}
	}
}

// SubscriberCount reports how many subscriptions are currently registered
// (for tests/observability).
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
