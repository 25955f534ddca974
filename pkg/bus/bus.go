// Package bus is the in-process publish/subscribe hub that multiplexes
// coordinator state to operator browsers. It adapts the connection
// registry and per-connection subscription bookkeeping of a Postgres
// LISTEN/NOTIFY connection manager into a purely in-process hub: topics are
// named values with an on-demand emitter instead of database channels, and
// "catch up" is replaced by "send the current snapshot on subscribe" since
// there is no missed-event backlog to replay.
package bus

import (
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
)

// Emitter produces the current value of a topic. The bool return reports
// whether the topic's value is currently known; false causes the topic to
// be omitted from a subscribe reply, and Notify to send nothing, rather
// than sending null.
type Emitter func() (any, bool)

// CommandHandler validates and executes a single named command. data is the
// raw "data" field of the incoming command message.
type CommandHandler func(data json.RawMessage) error

// Sender abstracts the WebSocket connection a Client writes to, so the bus
// can be tested without a real socket.
type Sender interface {
	WriteJSON(v any) error
}

// Bus is the single process-wide hub instance. All methods are safe for
// concurrent use.
type Bus struct {
	mu       sync.RWMutex
	topics   map[string]Emitter
	commands map[string]CommandHandler

	clientsMu sync.RWMutex
	clients   map[string]*Client

	// subscribers maps topic name -> set of client ids subscribed to it.
	subscribersMu sync.RWMutex
	subscribers   map[string]map[string]bool

	log *slog.Logger
}

// New creates an empty Bus.
func New() *Bus {
	return &Bus{
		topics:      make(map[string]Emitter),
		commands:    make(map[string]CommandHandler),
		clients:     make(map[string]*Client),
		subscribers: make(map[string]map[string]bool),
		log:         slog.With("component", "bus"),
	}
}

// AddEventType registers a topic name with the emitter that produces its
// current value. Registering the same name twice replaces the emitter.
func (b *Bus) AddEventType(name string, emitter Emitter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.topics[name] = emitter
}

// AddCommandHandler registers a named command handler. Validating the
// command's data payload is left to handler implementations, which decode
// `data` into a typed struct with encoding/json before acting on it (see
// the coordinator's command handlers).
func (b *Bus) AddCommandHandler(name string, handler CommandHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.commands[name] = handler
}

// Notify publishes the current value of a topic (from its emitter) to every
// subscriber of that topic. The subscriber set is snapshotted before
// iterating so a concurrent unsubscribe never races the send loop. A send
// failure to one subscriber removes it from the topic but does not stop
// delivery to the others.
func (b *Bus) Notify(name string) {
	b.mu.RLock()
	emitter, ok := b.topics[name]
	b.mu.RUnlock()
	if !ok {
		b.log.Warn("notify for unknown topic", "topic", name)
		return
	}

	value, known := emitter()
	if !known {
		return
	}
	b.notifyValue(name, value)
}

func (b *Bus) notifyValue(name string, value any) {
	b.subscribersMu.RLock()
	subs, ok := b.subscribers[name]
	if !ok {
		b.subscribersMu.RUnlock()
		return
	}
	ids := make([]string, 0, len(subs))
	for id := range subs {
		ids = append(ids, id)
	}
	b.subscribersMu.RUnlock()

	msg := ServerMessage{Type: MessageTypeEvent, EventType: name, Data: value}

	b.clientsMu.RLock()
	clients := make([]*Client, 0, len(ids))
	for _, id := range ids {
		if c, ok := b.clients[id]; ok {
			clients = append(clients, c)
		}
	}
	b.clientsMu.RUnlock()

	for _, c := range clients {
		if err := c.send(msg); err != nil {
			b.log.Warn("failed to deliver event, dropping subscriber", "client_id", c.ID, "topic", name, "error", err)
			b.removeSubscriber(name, c.ID)
		}
	}
}

// ReloadClients broadcasts an out-of-band reload message to every connected
// client, regardless of subscription.
func (b *Bus) ReloadClients() {
	b.clientsMu.RLock()
	clients := make([]*Client, 0, len(b.clients))
	for _, c := range b.clients {
		clients = append(clients, c)
	}
	b.clientsMu.RUnlock()

	msg := ServerMessage{Type: MessageTypeReload}
	for _, c := range clients {
		if err := c.send(msg); err != nil {
			b.log.Warn("failed to deliver reload", "client_id", c.ID, "error", err)
		}
	}
}

// Client is a single operator connection's subscription state. It is owned
// exclusively by the goroutine running that connection's read loop (the
// gateway's websocket handler): subscriptions is read and written only
// there, so it needs no lock of its own.
type Client struct {
	ID            string
	sender        Sender
	subscriptions map[string]bool
}

func (c *Client) send(msg ServerMessage) error {
	return c.sender.WriteJSON(msg)
}

// NewClient registers a new client connection with the bus and returns the
// handle used to drive its lifecycle from the connection's read loop.
func (b *Bus) NewClient(sender Sender) *Client {
	c := &Client{
		ID:            uuid.NewString(),
		sender:        sender,
		subscriptions: make(map[string]bool),
	}
	b.clientsMu.Lock()
	b.clients[c.ID] = c
	b.clientsMu.Unlock()
	return c
}

// RemoveClient unregisters a client and removes it from every topic it was
// subscribed to. Call when the connection closes.
func (b *Bus) RemoveClient(c *Client) {
	for topic := range c.subscriptions {
		b.removeSubscriber(topic, c.ID)
	}
	b.clientsMu.Lock()
	delete(b.clients, c.ID)
	b.clientsMu.Unlock()
}

func (b *Bus) removeSubscriber(topic, clientID string) {
	b.subscribersMu.Lock()
	if subs, ok := b.subscribers[topic]; ok {
		delete(subs, clientID)
		if len(subs) == 0 {
			delete(b.subscribers, topic)
		}
	}
	b.subscribersMu.Unlock()
}

// HandleSubscribe subscribes c to the given topics and returns the initial
// snapshot of the ones whose value is currently known. Unknown topic names
// are logged and omitted from the reply.
func (b *Bus) HandleSubscribe(c *Client, topicNames []string) map[string]any {
	initial := make(map[string]any)

	for _, name := range topicNames {
		b.mu.RLock()
		emitter, ok := b.topics[name]
		b.mu.RUnlock()
		if !ok {
			b.log.Warn("subscribe for unknown topic", "topic", name)
			continue
		}

		b.subscribersMu.Lock()
		if _, ok := b.subscribers[name]; !ok {
			b.subscribers[name] = make(map[string]bool)
		}
		b.subscribers[name][c.ID] = true
		b.subscribersMu.Unlock()
		c.subscriptions[name] = true

		if value, known := emitter(); known {
			initial[name] = value
		}
	}

	return initial
}

// HandleUnsubscribe removes c from the given topics and returns the list
// actually unsubscribed (a subset of topicNames — only ones c was
// subscribed to).
func (b *Bus) HandleUnsubscribe(c *Client, topicNames []string) []string {
	unsubscribed := make([]string, 0, len(topicNames))
	for _, name := range topicNames {
		if !c.subscriptions[name] {
			continue
		}
		b.removeSubscriber(name, c.ID)
		delete(c.subscriptions, name)
		unsubscribed = append(unsubscribed, name)
	}
	return unsubscribed
}

// HandleCommand decodes and dispatches a command by name. Unknown command
// names and handlers that return an error are both logged and dropped —
// there is no error reply on the wire.
func (b *Bus) HandleCommand(name string, data json.RawMessage) {
	b.mu.RLock()
	handler, ok := b.commands[name]
	b.mu.RUnlock()
	if !ok {
		b.log.Warn("unknown command, dropping", "command", name)
		return
	}
	if err := handler(data); err != nil {
		b.log.Warn("command handler failed, dropping", "command", name, "error", err)
	}
}
