// Package broker provides the publish/subscribe fabric that mediates
// all messages between the orchestrator and worker agents.
package broker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ShayCichocki/hive/pkg/models"
)

// ErrBrokerStopped indicates an operation arrived after Stop.
var ErrBrokerStopped = errors.New("broker stopped")

// ErrRequestTimeout indicates a request/response wait expired.
var ErrRequestTimeout = errors.New("request timed out")

// DefaultHistorySize bounds the retained message history.
const DefaultHistorySize = 1000

// DefaultRequestTimeout bounds Request when the caller passes zero.
const DefaultRequestTimeout = 30 * time.Second

// defaultInboxSize is the per-subscription delivery buffer.
const defaultInboxSize = 256

// Handler consumes one delivered message. Handlers run on the
// subscription's delivery goroutine, so deliveries to one subscription
// are strictly ordered.
type Handler func(msg *models.Message)

// subscription is a single (channel, handler) registration. The broker
// is the sole owner; callers hold only the opaque id.
type subscription struct {
	id      string
	channel string
	handler Handler
	inbox   chan *models.Message
}

// channelState tracks one named channel and its subscribers.
type channelState struct {
	name     string
	ctype    models.ChannelType
	subs     map[string]*subscription
	messages int64
}

// systemChannels exist from startup and are never detached.
var systemChannels = []string{"system", "broadcast", "notifications"}

// Broker routes messages between publishers and subscribers with FIFO
// delivery per (channel, subscriber) pair.
type Broker struct {
	mu       sync.RWMutex
	channels map[string]*channelState
	subs     map[string]*subscription
	history  []*models.Message
	stopped  bool
	wg       sync.WaitGroup

	historySize    int
	requestTimeout time.Duration
	inboxSize      int
	debugLog       func(format string, args ...interface{})
	onDelivered    func(count int)
}

// Option configures a Broker.
type Option func(*Broker)

// WithHistorySize overrides the retained history length.
func WithHistorySize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.historySize = n
		}
	}
}

// WithRequestTimeout overrides the default request/response timeout.
func WithRequestTimeout(d time.Duration) Option {
	return func(b *Broker) {
		if d > 0 {
			b.requestTimeout = d
		}
	}
}

// WithInboxSize overrides the per-subscription delivery buffer.
func WithInboxSize(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.inboxSize = n
		}
	}
}

// WithDebugLog sets the debug logging function.
func WithDebugLog(fn func(format string, args ...interface{})) Option {
	return func(b *Broker) {
		if fn != nil {
			b.debugLog = fn
		}
	}
}

// WithDeliveryObserver registers a callback invoked with the delivery
// count of every publish. Used for metrics.
func WithDeliveryObserver(fn func(count int)) Option {
	return func(b *Broker) {
		b.onDelivered = fn
	}
}

// New creates a broker with the system channels pre-registered.
func New(opts ...Option) *Broker {
	b := &Broker{
		channels:       make(map[string]*channelState),
		subs:           make(map[string]*subscription),
		historySize:    DefaultHistorySize,
		requestTimeout: DefaultRequestTimeout,
		inboxSize:      defaultInboxSize,
		debugLog:       func(format string, args ...interface{}) {},
	}
	for _, opt := range opts {
		opt(b)
	}
	for _, name := range systemChannels {
		b.channels[name] = &channelState{
			name:  name,
			ctype: deriveChannelType(name),
			subs:  make(map[string]*subscription),
		}
	}
	return b
}

// deriveChannelType classifies a channel by its name.
func deriveChannelType(name string) models.ChannelType {
	switch {
	case name == "system":
		return models.ChannelSystem
	case name == "broadcast":
		return models.ChannelBroadcast
	case name == "notifications":
		return models.ChannelNotifications
	case hasPrefix(name, "agent:"):
		return models.ChannelAgent
	case hasPrefix(name, "response:"):
		return models.ChannelSystem
	case hasPrefix(name, "project:"):
		return models.ChannelProject
	case hasPrefix(name, "workflow:"):
		return models.ChannelWorkflow
	default:
		return models.ChannelBroadcast
	}
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// Publish enqueues the message to every inbox currently subscribed to
// its channel and returns the delivery count. Expired messages are
// dropped with a zero count and never delivered.
func (b *Broker) Publish(msg *models.Message) (int, error) {
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now()
	}
	if msg.Expired(time.Now()) {
		b.debugLog("[broker.Publish] dropping expired message %s on %s", msg.ID, msg.Channel)
		return 0, nil
	}

	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return 0, ErrBrokerStopped
	}

	b.history = append(b.history, msg)
	if len(b.history) > b.historySize {
		b.history = b.history[len(b.history)-b.historySize:]
	}

	ch := b.channels[msg.Channel]
	if ch == nil {
		b.mu.Unlock()
		b.debugLog("[broker.Publish] no channel %q for message %s", msg.Channel, msg.ID)
		return 0, nil
	}
	ch.messages++

	delivered := 0
	for _, sub := range ch.subs {
		select {
		case sub.inbox <- msg:
			delivered++
		default:
			b.debugLog("[broker.Publish] inbox full, dropping message %s for subscription %s", msg.ID, sub.id)
		}
	}
	b.mu.Unlock()

	if b.onDelivered != nil {
		b.onDelivered(delivered)
	}
	b.debugLog("[broker.Publish] message %s type=%s channel=%s delivered=%d", msg.ID, msg.Type, msg.Channel, delivered)
	return delivered, nil
}

// Subscribe registers a handler on a channel and returns the opaque
// subscription id used to unsubscribe. Each subscription gets its own
// FIFO delivery goroutine; the handler is invoked at most once per
// delivered message.
func (b *Broker) Subscribe(channel string, handler Handler) (string, error) {
	if channel == "" {
		return "", fmt.Errorf("subscribe: empty channel name")
	}
	if handler == nil {
		return "", fmt.Errorf("subscribe: nil handler")
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.stopped {
		return "", ErrBrokerStopped
	}

	ch := b.channels[channel]
	if ch == nil {
		ch = &channelState{
			name:  channel,
			ctype: deriveChannelType(channel),
			subs:  make(map[string]*subscription),
		}
		b.channels[channel] = ch
	}

	sub := &subscription{
		id:      uuid.New().String()[:8],
		channel: channel,
		handler: handler,
		inbox:   make(chan *models.Message, b.inboxSize),
	}
	ch.subs[sub.id] = sub
	b.subs[sub.id] = sub

	b.wg.Add(1)
	go b.deliver(sub)

	b.debugLog("[broker.Subscribe] subscription %s on channel %s", sub.id, channel)
	return sub.id, nil
}

// deliver drains one subscription inbox in FIFO order. Handler panics
// are recovered so one bad subscriber cannot affect the others.
func (b *Broker) deliver(sub *subscription) {
	defer b.wg.Done()
	for msg := range sub.inbox {
		if msg.Expired(time.Now()) {
			b.debugLog("[broker.deliver] message %s expired in queue for %s", msg.ID, sub.id)
			continue
		}
		b.invoke(sub, msg)
	}
}

func (b *Broker) invoke(sub *subscription, msg *models.Message) {
	defer func() {
		if r := recover(); r != nil {
			b.debugLog("[broker.deliver] handler panic on subscription %s: %v", sub.id, r)
		}
	}()
	sub.handler(msg)
}

// Unsubscribe removes a subscription. When the channel has no
// subscribers left it is detached, except for system channels.
func (b *Broker) Unsubscribe(subscriptionID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	sub, ok := b.subs[subscriptionID]
	if !ok {
		return fmt.Errorf("unsubscribe: unknown subscription %s", subscriptionID)
	}
	delete(b.subs, subscriptionID)

	if ch := b.channels[sub.channel]; ch != nil {
		delete(ch.subs, subscriptionID)
		if len(ch.subs) == 0 && !isSystemChannel(ch.name) {
			delete(b.channels, sub.channel)
		}
	}

	// No publisher can hold the subscription anymore; safe to close.
	close(sub.inbox)

	b.debugLog("[broker.Unsubscribe] removed subscription %s from %s", subscriptionID, sub.channel)
	return nil
}

func isSystemChannel(name string) bool {
	for _, s := range systemChannels {
		if s == name {
			return true
		}
	}
	return false
}

// SendDirect publishes a message to one agent's inbox channel.
func (b *Broker) SendDirect(recipientID string, msg *models.Message) (int, error) {
	msg.Recipient = recipientID
	msg.Channel = models.AgentChannel(recipientID)
	return b.Publish(msg)
}

// Broadcast publishes a broadcast-typed message on the given channel.
func (b *Broker) Broadcast(channel, sender string, payload map[string]interface{}) (int, error) {
	return b.Publish(&models.Message{
		Type:     models.MessageBroadcast,
		Sender:   sender,
		Channel:  channel,
		Payload:  payload,
		Priority: models.MessagePriorityNormal,
	})
}

// Request publishes the message with a fresh correlation id and waits
// for a response on response:<corrId>. The one-shot response
// subscription is removed on every exit path. A zero timeout uses the
// broker default.
func (b *Broker) Request(ctx context.Context, msg *models.Message, timeout time.Duration) (*models.Message, error) {
	if timeout <= 0 {
		timeout = b.requestTimeout
	}
	corrID := uuid.New().String()
	msg.CorrelationID = corrID

	respCh := make(chan *models.Message, 1)
	subID, err := b.Subscribe(models.ResponseChannel(corrID), func(resp *models.Message) {
		if resp.CorrelationID != corrID {
			b.debugLog("[broker.Request] ignoring mis-correlated response %s", resp.ID)
			return
		}
		select {
		case respCh <- resp:
		default:
			// A response already won; at most one is returned.
		}
	})
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = b.Unsubscribe(subID)
	}()

	if _, err := b.Publish(msg); err != nil {
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case resp := <-respCh:
		return resp, nil
	case <-timer.C:
		return nil, fmt.Errorf("request %s after %s: %w", corrID, timeout, ErrRequestTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Respond publishes a reply to a correlated request, echoing the
// request's correlation id unchanged.
func (b *Broker) Respond(req *models.Message, sender string, payload map[string]interface{}) (int, error) {
	if req.CorrelationID == "" {
		return 0, fmt.Errorf("respond: request %s has no correlation id", req.ID)
	}
	respType := models.MessageSystem
	if req.Type == models.MessageReflexionRequest {
		respType = models.MessageReflexionResponse
	}
	return b.Publish(&models.Message{
		Type:          respType,
		Sender:        sender,
		Recipient:     req.Sender,
		Channel:       models.ResponseChannel(req.CorrelationID),
		Payload:       payload,
		Priority:      models.MessagePriorityNormal,
		CorrelationID: req.CorrelationID,
	})
}

// History returns up to n of the most recent published messages,
// oldest first.
func (b *Broker) History(n int) []*models.Message {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n <= 0 || n > len(b.history) {
		n = len(b.history)
	}
	out := make([]*models.Message, n)
	copy(out, b.history[len(b.history)-n:])
	return out
}

// SubscriberCount returns the number of active subscriptions on a channel.
func (b *Broker) SubscriberCount(channel string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if ch := b.channels[channel]; ch != nil {
		return len(ch.subs)
	}
	return 0
}

// Channels returns a snapshot of the known channels.
func (b *Broker) Channels() []models.ChannelInfo {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]models.ChannelInfo, 0, len(b.channels))
	for _, ch := range b.channels {
		out = append(out, models.ChannelInfo{
			Name:        ch.name,
			Type:        ch.ctype,
			Subscribers: len(ch.subs),
			Messages:    ch.messages,
		})
	}
	return out
}

// Stop shuts the broker down: no further publishes or subscribes are
// accepted, all delivery loops drain and exit, and pending Request
// calls time out normally.
func (b *Broker) Stop() {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}
	b.stopped = true
	for id, sub := range b.subs {
		delete(b.subs, id)
		if ch := b.channels[sub.channel]; ch != nil {
			delete(ch.subs, id)
		}
		close(sub.inbox)
	}
	b.mu.Unlock()

	b.wg.Wait()
	b.debugLog("[broker.Stop] broker stopped")
}
