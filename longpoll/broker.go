// Package longpoll implements the optional Comet/server-push overlay: a
// pub-sub broker that pushes events to clients over a long-lived connection.
// It is deliberately isolated from route table, cache and dispatch internals
// — it consumes only a response's underlying connection handle (see
// dispatch.Response.Connection and connection.go's Serve).
package longpoll

import (
	"fmt"
	"sync"
	"time"
)

// Event is a single push notification delivered to a long-poll client. Data
// is framed as an SSE record by FormatEvent, or written as a raw chunk by
// Broker.Serve under FramingChunked.
type Event struct {
	ID    string
	Event string
	Data  string
	Retry int // milliseconds
}

// Client is one subscriber registered with a Broker: a buffered channel of
// pending Events plus the close signalling that Serve and other receivers
// wait on.
type Client struct {
	ID        string
	Channel   chan *Event
	LastID    string
	closeCh   chan struct{}
	closeOnce sync.Once
}

// NewClient creates a client identified by id with a channel buffered to
// bufferSize pending events.
func NewClient(id string, bufferSize int) *Client {
	if bufferSize <= 0 {
		bufferSize = 100
	}

	return &Client{
		ID:      id,
		Channel: make(chan *Event, bufferSize),
		closeCh: make(chan struct{}),
	}
}

// Close disconnects the client, unblocking any goroutine waiting on Channel
// or closeCh. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		close(c.closeCh)
		close(c.Channel)
	})
}

// IsClosed reports whether Close has run.
func (c *Client) IsClosed() bool {
	select {
	case <-c.closeCh:
		return true
	default:
		return false
	}
}

// Send enqueues event for delivery, dropping it rather than blocking if the
// client's channel is full or already closed.
func (c *Client) Send(event *Event) bool {
	if c.IsClosed() {
		return false
	}

	select {
	case c.Channel <- event:
		return true
	default:
		return false
	}
}

// Broker fans Events out to registered Clients and runs a periodic keepalive
// broadcast so idle long-lived connections aren't reaped by intermediaries.
type Broker struct {
	clients     sync.Map
	newClients  chan *Client
	deadClients chan *Client
	messages    chan *Event

	totalClients  int64
	messagesCount int64
	droppedCount  int64

	keepaliveInterval time.Duration
	maxClients        int
}

// NewBroker creates a Broker accepting up to maxClients concurrent
// subscribers and sending a keepalive event every keepaliveInterval.
func NewBroker(maxClients int, keepaliveInterval time.Duration) *Broker {
	if maxClients <= 0 {
		maxClients = 10000
	}
	if keepaliveInterval <= 0 {
		keepaliveInterval = 30 * time.Second
	}

	broker := &Broker{
		newClients:        make(chan *Client, 100),
		deadClients:       make(chan *Client, 100),
		messages:          make(chan *Event, 1000),
		keepaliveInterval: keepaliveInterval,
		maxClients:        maxClients,
	}

	go broker.run()
	go broker.keepalive()

	return broker
}

func (b *Broker) run() {
	for {
		select {
		case client := <-b.newClients:
			b.clients.Store(client.ID, client)
			b.totalClients++

		case client := <-b.deadClients:
			b.clients.Delete(client.ID)
			client.Close()

		case event := <-b.messages:
			b.messagesCount++
			b.broadcast(event)
		}
	}
}

func (b *Broker) keepalive() {
	ticker := time.NewTicker(b.keepaliveInterval)
	defer ticker.Stop()

	for range ticker.C {
		keepaliveEvent := &Event{
			Event: "keepalive",
			Data:  fmt.Sprintf("timestamp:%d", time.Now().Unix()),
		}
		b.broadcast(keepaliveEvent)
	}
}

func (b *Broker) broadcast(event *Event) {
	b.clients.Range(func(key, value interface{}) bool {
		client := value.(*Client)
		if !client.Send(event) {
			b.droppedCount++
		}
		return true
	})
}

// Register admits client, failing once maxClients concurrent subscribers are
// already registered.
func (b *Broker) Register(client *Client) error {
	count := 0
	b.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})

	if count >= b.maxClients {
		return fmt.Errorf("max clients reached (%d)", b.maxClients)
	}

	b.newClients <- client
	return nil
}

// Unregister removes client and closes its channel.
func (b *Broker) Unregister(client *Client) {
	b.deadClients <- client
}

// Publish broadcasts event to every currently registered client.
func (b *Broker) Publish(event *Event) {
	b.messages <- event
}

// PublishToClient delivers event to a single subscriber by ID, reporting
// whether the client was found and accepted the event.
func (b *Broker) PublishToClient(clientID string, event *Event) bool {
	val, ok := b.clients.Load(clientID)
	if !ok {
		return false
	}

	client := val.(*Client)
	return client.Send(event)
}

// ClientCount returns the number of currently registered subscribers.
func (b *Broker) ClientCount() int {
	count := 0
	b.clients.Range(func(_, _ interface{}) bool {
		count++
		return true
	})
	return count
}

// Stats returns a point-in-time snapshot of broker counters.
func (b *Broker) Stats() map[string]interface{} {
	return map[string]interface{}{
		"total_clients":    b.totalClients,
		"current_clients":  b.ClientCount(),
		"messages_sent":    b.messagesCount,
		"messages_dropped": b.droppedCount,
	}
}

// FormatEvent renders event as a text/event-stream record.
func FormatEvent(event *Event) []byte {
	var buf []byte

	if event.ID != "" {
		buf = append(buf, []byte(fmt.Sprintf("id: %s\n", event.ID))...)
	}

	if event.Event != "" {
		buf = append(buf, []byte(fmt.Sprintf("event: %s\n", event.Event))...)
	}

	if event.Retry > 0 {
		buf = append(buf, []byte(fmt.Sprintf("retry: %d\n", event.Retry))...)
	}

	if event.Data != "" {
		buf = append(buf, []byte(fmt.Sprintf("data: %s\n", event.Data))...)
	}

	buf = append(buf, '\n')
	return buf
}
