package sse

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	redisclient "github.com/astrosevaa/sessiond/internal/redis"
)

const (
	HeartbeatInterval = 30 * time.Second
	clientBuffer      = 100
)

type Event struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

type Client struct {
	Events chan Event
	Done   chan struct{}
}

// Broker fans UI events out to connected SSE clients. With a redis client the
// events travel through the user's pub/sub channel so several processes can
// serve the same stream; without one they are delivered in process.
type Broker struct {
	redis   *redisclient.Client
	channel string
	clients map[*Client]bool
	mu      sync.RWMutex
	ctx     context.Context
	cancel  context.CancelFunc
	started sync.Once
}

func NewBroker(redisClient *redisclient.Client, userID string) *Broker {
	ctx, cancel := context.WithCancel(context.Background())
	return &Broker{
		redis:   redisClient,
		channel: redisclient.EventChannel(userID),
		clients: make(map[*Client]bool),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func (b *Broker) Subscribe() *Client {
	client := &Client{
		Events: make(chan Event, clientBuffer),
		Done:   make(chan struct{}),
	}

	if b.redis != nil {
		b.started.Do(func() {
			ready := make(chan struct{})
			go b.subscribeToRedis(ready)
			<-ready
		})
	}

	b.mu.Lock()
	b.clients[client] = true
	clientCount := len(b.clients)
	b.mu.Unlock()

	log.Info().Int("clientCount", clientCount).Msg("sse client subscribed")

	return client
}

func (b *Broker) Unsubscribe(client *Client) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients[client]; ok {
		delete(b.clients, client)
		close(client.Done)

		log.Info().Int("clientCount", len(b.clients)).Msg("sse client unsubscribed")
	}
}

// Emit encodes data and hands it to every subscriber. Failures are logged.
func (b *Broker) Emit(ctx context.Context, eventType string, data any) {
	payload, err := json.Marshal(data)
	if err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to marshal event")
		return
	}
	if err := b.Publish(ctx, Event{Type: eventType, Data: payload}); err != nil {
		log.Error().Err(err).Str("type", eventType).Msg("failed to publish event")
	}
}

func (b *Broker) Publish(ctx context.Context, event Event) error {
	if b.redis == nil {
		b.broadcast(event)
		return nil
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return b.redis.Publish(ctx, b.channel, data).Err()
}

func (b *Broker) subscribeToRedis(ready chan<- struct{}) {
	pubsub := b.redis.Subscribe(b.ctx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(b.ctx); err != nil {
		log.Error().Err(err).Str("channel", b.channel).Msg("redis pubsub subscribe failed")
	}
	close(ready)

	log.Debug().Str("channel", b.channel).Msg("redis pubsub subscribed")

	ch := pubsub.Channel()

	for {
		select {
		case <-b.ctx.Done():
			return

		case msg, ok := <-ch:
			if !ok {
				return
			}

			var event Event
			if err := json.Unmarshal([]byte(msg.Payload), &event); err != nil {
				log.Error().Err(err).Msg("failed to unmarshal event")
				continue
			}

			b.broadcast(event)
		}
	}
}

func (b *Broker) broadcast(event Event) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for client := range b.clients {
		select {
		case client.Events <- event:
		default:
			log.Warn().Str("type", event.Type).Msg("client event buffer full, dropping event")
		}
	}
}

func (b *Broker) Close() {
	b.cancel()

	b.mu.Lock()
	defer b.mu.Unlock()

	for client := range b.clients {
		close(client.Done)
	}
	b.clients = make(map[*Client]bool)
}

func (b *Broker) ClientCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.clients)
}
