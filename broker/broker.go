// Package broker is an in-process fan-out of chirps. The node publishes every
// chirp it sends here so local consumers (the console stream, the loopback
// transport) can follow them without a real MQTT broker.
package broker

import (
	"log/slog"
	"sync"

	"github.com/mbocsi/botanynet/proto"
)

// AllTopics subscribes to every topic.
const AllTopics = "#"

type Broker struct {
	mu     sync.RWMutex
	subs   map[string]map[chan proto.Message]struct{} // Map topic to hashset of Message channels
	logger *slog.Logger
}

func NewBroker(logger *slog.Logger) *Broker {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broker{
		subs:   make(map[string]map[chan proto.Message]struct{}),
		logger: logger,
	}
}

func (b *Broker) Subscribe(topic string, ch chan proto.Message) {
	b.logger.Debug("Subscribing", "topic", topic)
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.subs[topic] == nil {
		b.subs[topic] = make(map[chan proto.Message]struct{})
	}
	b.subs[topic][ch] = struct{}{}
}

// Publish never blocks: a subscriber whose buffer is full misses the message.
func (b *Broker) Publish(msg proto.Message) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	topics := []string{msg.Topic, AllTopics}
	if msg.Topic == AllTopics {
		topics = topics[:1]
	}

	delivered, dropped := 0, 0
	for _, topic := range topics {
		for ch := range b.subs[topic] {
			select {
			case ch <- msg:
				delivered++
			default:
				dropped++
			}
		}
	}
	if dropped > 0 {
		b.logger.Warn("Dropped message for slow subscribers", "topic", msg.Topic, "dropped", dropped)
	}
	b.logger.Debug("Message published",
		"topic", msg.Topic,
		"sender", msg.Sender,
		"subscribers", delivered,
		"size", len(msg.Payload),
	)
}

func (b *Broker) Unsubscribe(topic string, ch chan proto.Message) {
	b.logger.Debug("Unsubscribing", "topic", topic)
	b.mu.Lock()
	defer b.mu.Unlock()

	if subs, ok := b.subs[topic]; ok {
		if _, exists := subs[ch]; exists {
			delete(subs, ch)
		} else {
			b.logger.Warn("Did not find channel in topic subs", "topic", topic)
		}
		if len(subs) == 0 {
			delete(b.subs, topic)
		}
	}
}

// Subscribers returns the number of channels subscribed to topic.
func (b *Broker) Subscribers(topic string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic])
}
