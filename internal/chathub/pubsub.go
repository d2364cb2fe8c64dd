package chathub

import (
	"context"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Broker carries change signals. A signal says "topic changed"; subscribers
// re-read the latest state from the store, so lost or coalesced signals only
// delay a view, they never corrupt it.
type Broker interface {
	Publish(ctx context.Context, topic string) error
	Subscribe(ctx context.Context, topic string) (Subscription, error)
	Close() error
}

// Subscription delivers at most one pending signal at a time.
type Subscription interface {
	C() <-chan struct{}
	Close() error
}

// Topic names.
func TicketTopic(sessionID string) string { return "ticket:" + sessionID }
func RoomTopic(roomID string) string      { return "room:" + roomID }
func MessagesTopic(roomID string) string  { return "messages:" + roomID }
func TypingTopic(roomID string) string    { return "typing:" + roomID }

const QueueTopic = "queue"

func signal(ch chan struct{}) {
	select {
	case ch <- struct{}{}:
	default:
	}
}

// MemoryBroker fans signals out inside one process.
type MemoryBroker struct {
	mu   sync.Mutex
	subs map[string]map[*memorySub]struct{}
}

func NewMemoryBroker() *MemoryBroker {
	return &MemoryBroker{subs: make(map[string]map[*memorySub]struct{})}
}

type memorySub struct {
	b     *MemoryBroker
	topic string
	ch    chan struct{}
	once  sync.Once
}

func (s *memorySub) C() <-chan struct{} { return s.ch }

func (s *memorySub) Close() error {
	s.once.Do(func() {
		s.b.mu.Lock()
		defer s.b.mu.Unlock()
		delete(s.b.subs[s.topic], s)
		if len(s.b.subs[s.topic]) == 0 {
			delete(s.b.subs, s.topic)
		}
	})
	return nil
}

func (b *MemoryBroker) Publish(ctx context.Context, topic string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for s := range b.subs[topic] {
		signal(s.ch)
	}
	return nil
}

func (b *MemoryBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	s := &memorySub{b: b, topic: topic, ch: make(chan struct{}, 1)}
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.subs[topic] == nil {
		b.subs[topic] = make(map[*memorySub]struct{})
	}
	b.subs[topic][s] = struct{}{}
	return s, nil
}

// Subscribers returns the number of live subscriptions on topic.
func (b *MemoryBroker) Subscribers(topic string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs[topic])
}

func (b *MemoryBroker) Close() error { return nil }

// RedisBroker relays signals through Redis Pub/Sub so that several server
// instances sharing one SQL store see each other's writes.
type RedisBroker struct {
	Redis  *redis.Client
	Prefix string
}

// NewRedisBroker uses "whisper:" as channel prefix when prefix is empty.
func NewRedisBroker(rdb *redis.Client, prefix string) *RedisBroker {
	if prefix == "" {
		prefix = "whisper:"
	}
	return &RedisBroker{Redis: rdb, Prefix: prefix}
}

// Channel maps a topic to its Redis channel.
func (b *RedisBroker) Channel(topic string) string { return b.Prefix + topic }

func (b *RedisBroker) Publish(ctx context.Context, topic string) error {
	return b.Redis.Publish(ctx, b.Channel(topic), "changed").Err()
}

func (b *RedisBroker) Subscribe(ctx context.Context, topic string) (Subscription, error) {
	pubsub := b.Redis.Subscribe(ctx, b.Channel(topic))
	// Wait for the confirmation so no publish after Subscribe returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", topic, err)
	}
	s := &redisSub{pubsub: pubsub, ch: make(chan struct{}, 1)}
	go func() {
		for range pubsub.Channel() {
			signal(s.ch)
		}
	}()
	return s, nil
}

func (b *RedisBroker) Close() error { return b.Redis.Close() }

type redisSub struct {
	pubsub *redis.PubSub
	ch     chan struct{}
}

func (s *redisSub) C() <-chan struct{} { return s.ch }
func (s *redisSub) Close() error       { return s.pubsub.Close() }

// publish signals topics after a committed write. A failed publish only
// delays subscribers, so it is logged and otherwise ignored.
func publish(ctx context.Context, b Broker, topics ...string) {
	for _, t := range topics {
		if err := b.Publish(ctx, t); err != nil {
			log.Warn().Err(err).Str("topic", t).Msg("failed to publish change signal")
		}
	}
}

// watch delivers load's result once right away and again after every signal
// on topic, until ctx ends or the returned func is called. The subscription
// is opened before the first load so no change in between is missed.
func watch[T any](ctx context.Context, b Broker, topic string, load func(context.Context) (T, error), onChange func(T)) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	sub, err := b.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, err
	}

	go func() {
		defer sub.Close()
		deliver := func() {
			v, err := load(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Str("topic", topic).Msg("watch: failed to load state")
				}
				return
			}
			if ctx.Err() == nil {
				onChange(v)
			}
		}
		deliver()
		for {
			select {
			case <-ctx.Done():
				return
			case <-sub.C():
				deliver()
			}
		}
	}()
	return cancel, nil
}

func noop() {}
