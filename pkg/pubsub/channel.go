package pubsub

import (
	"context"
	"path"
	"sync"
)

// ChannelBridge implements Bridge with in-process Go channels. It serves
// single-instance deployments where no backplane is configured, and tests.
type ChannelBridge struct {
	mu       sync.RWMutex
	subs     map[string][]chan *Event // exact channel -> subscribers
	patterns map[string][]chan *Event // glob pattern -> subscribers
	closed   bool
}

// NewChannelBridge creates an in-process Bridge.
func NewChannelBridge() *ChannelBridge {
	return &ChannelBridge{
		subs:     make(map[string][]chan *Event),
		patterns: make(map[string][]chan *Event),
	}
}

// Publish delivers the event to every exact and pattern subscriber.
func (b *ChannelBridge) Publish(ctx context.Context, channel string, event *Event) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return nil
	}

	for _, ch := range b.subs[channel] {
		select {
		case ch <- event:
		default:
			// Subscriber full, skip
		}
	}
	for pattern, chans := range b.patterns {
		if ok, _ := path.Match(pattern, channel); !ok {
			continue
		}
		for _, ch := range chans {
			select {
			case ch <- event:
			default:
			}
		}
	}
	return nil
}

// Subscribe subscribes to a specific channel.
func (b *ChannelBridge) Subscribe(ctx context.Context, channel string) (<-chan *Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 100)
	b.subs[channel] = append(b.subs[channel], ch)
	return ch, nil
}

// SubscribePattern subscribes to channels matching a glob pattern.
func (b *ChannelBridge) SubscribePattern(ctx context.Context, pattern string) (<-chan *Event, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan *Event, 100)
	b.patterns[pattern] = append(b.patterns[pattern], ch)
	return ch, nil
}

// Unsubscribe drops all subscribers for the channel or pattern.
func (b *ChannelBridge) Unsubscribe(ctx context.Context, channel string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	for _, ch := range b.subs[channel] {
		close(ch)
	}
	delete(b.subs, channel)
	for _, ch := range b.patterns[channel] {
		close(ch)
	}
	delete(b.patterns, channel)
	return nil
}

// Close closes all subscriber channels.
func (b *ChannelBridge) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true
	for _, chans := range b.subs {
		for _, ch := range chans {
			close(ch)
		}
	}
	for _, chans := range b.patterns {
		for _, ch := range chans {
			close(ch)
		}
	}
	b.subs = make(map[string][]chan *Event)
	b.patterns = make(map[string][]chan *Event)
	return nil
}
