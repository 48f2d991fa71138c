// internal/bridge/bridge.go
package bridge

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// MessageType names the events exchanged between the page watcher and the
// harvest orchestrator.
type MessageType string

const (
	// TypeAuthenticated is posted once the portal shows a logged-in landing.
	// The payload is an AuthenticatedPayload.
	TypeAuthenticated MessageType = "authenticated"
	// TypeProgress reports harvest progress. The payload is a Progress.
	TypeProgress MessageType = "progress"
)

// Message is the envelope for data transmitted over the Bridge.
type Message struct {
	ID        string
	Timestamp time.Time
	Type      MessageType
	Payload   interface{}
}

// Bridge is a small pub/sub channel standing in for the worker/pilot
// message dispatch of the page automation.
type Bridge struct {
	logger *zap.Logger

	subscribers map[MessageType][]chan Message
	// retired holds unsubscribed channels an in-flight Post may still fill.
	retired    []chan Message
	mu         sync.RWMutex
	bufferSize int

	// processingWg counts delivered but unacknowledged messages.
	processingWg  sync.WaitGroup
	activePostsWg sync.WaitGroup

	shutdownChan chan struct{}
	shutdownOnce sync.Once
	isShutdown   bool
	shutdownMu   sync.Mutex
}

// New creates a Bridge whose subscriber channels hold bufferSize messages.
func New(logger *zap.Logger, bufferSize int) *Bridge {
	if bufferSize < 0 {
		bufferSize = 0
	}
	return &Bridge{
		logger:       logger.Named("bridge"),
		subscribers:  make(map[MessageType][]chan Message),
		bufferSize:   bufferSize,
		shutdownChan: make(chan struct{}),
	}
}

// Post delivers a message to every subscriber of msgType. It blocks while a
// subscriber buffer is full.
func (b *Bridge) Post(ctx context.Context, msgType MessageType, payload interface{}) error {
	b.shutdownMu.Lock()
	if b.isShutdown {
		b.shutdownMu.Unlock()
		return fmt.Errorf("cannot post %s: bridge is shut down", msgType)
	}
	b.activePostsWg.Add(1)
	b.shutdownMu.Unlock()
	defer b.activePostsWg.Done()

	msg := Message{
		ID:        uuid.New().String(),
		Timestamp: time.Now().UTC(),
		Type:      msgType,
		Payload:   payload,
	}
	b.logger.Debug("Posting message", zap.String("type", string(msg.Type)), zap.String("id", msg.ID))

	b.mu.RLock()
	subs := make([]chan Message, len(b.subscribers[msgType]))
	copy(subs, b.subscribers[msgType])
	b.mu.RUnlock()

	for _, ch := range subs {
		b.processingWg.Add(1)
		select {
		case ch <- msg:
		case <-ctx.Done():
			b.processingWg.Done()
			return ctx.Err()
		case <-b.shutdownChan:
			b.processingWg.Done()
			return fmt.Errorf("failed to post %s: bridge is shutting down", msgType)
		}
	}
	return nil
}

// Subscribe returns a channel receiving msgTypes and a function removing the
// subscription. Consumers must Acknowledge every message they receive.
func (b *Bridge) Subscribe(msgTypes ...MessageType) (<-chan Message, func()) {
	if len(msgTypes) == 0 {
		panic("must subscribe to at least one message type")
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.shutdownMu.Lock()
	closed := b.isShutdown
	b.shutdownMu.Unlock()
	if closed {
		ch := make(chan Message)
		close(ch)
		return ch, func() {}
	}

	ch := make(chan Message, b.bufferSize)
	types := append([]MessageType(nil), msgTypes...)
	for _, t := range types {
		b.subscribers[t] = append(b.subscribers[t], ch)
	}

	unsubscribe := func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for _, t := range types {
			subs := b.subscribers[t]
			for i, sub := range subs {
				if sub == ch {
					b.subscribers[t] = append(subs[:i:i], subs[i+1:]...)
					break
				}
			}
			if len(b.subscribers[t]) == 0 {
				delete(b.subscribers, t)
			}
		}
		b.retired = append(b.retired, ch)
		// Messages already buffered are never acknowledged by anyone else.
		for {
			select {
			case _, ok := <-ch:
				if !ok {
					return
				}
				b.processingWg.Done()
			default:
				return
			}
		}
	}
	return ch, unsubscribe
}

// Acknowledge marks msg as processed.
func (b *Bridge) Acknowledge(msg Message) {
	b.processingWg.Done()
}

// Expect subscribes to msgType immediately and returns a function blocking
// until the first such message arrives. Subscribing before triggering the
// action that causes the event avoids missing it.
func (b *Bridge) Expect(msgType MessageType) (wait func(ctx context.Context) (Message, error), cancel func()) {
	ch, unsubscribe := b.Subscribe(msgType)
	var once sync.Once
	cancel = func() { once.Do(unsubscribe) }

	wait = func(ctx context.Context) (Message, error) {
		defer cancel()
		select {
		case msg, ok := <-ch:
			if !ok {
				return Message{}, fmt.Errorf("bridge shut down while waiting for %s", msgType)
			}
			b.Acknowledge(msg)
			return msg, nil
		case <-ctx.Done():
			return Message{}, fmt.Errorf("waiting for %s: %w", msgType, ctx.Err())
		}
	}
	return wait, cancel
}

// WaitFor blocks until a message of msgType is posted or ctx ends.
func (b *Bridge) WaitFor(ctx context.Context, msgType MessageType) (Message, error) {
	wait, _ := b.Expect(msgType)
	return wait(ctx)
}

// Shutdown stops accepting posts, closes every subscriber channel and waits
// for delivered messages to be acknowledged.
func (b *Bridge) Shutdown() {
	b.shutdownOnce.Do(func() {
		b.logger.Debug("Shutting down bridge.")

		b.shutdownMu.Lock()
		b.isShutdown = true
		b.shutdownMu.Unlock()

		close(b.shutdownChan)
		b.activePostsWg.Wait()

		b.mu.Lock()
		unique := make(map[chan Message]struct{})
		for _, subs := range b.subscribers {
			for _, ch := range subs {
				unique[ch] = struct{}{}
			}
		}
		for _, ch := range b.retired {
			unique[ch] = struct{}{}
		}
		for ch := range unique {
			close(ch)
		}
		drained := 0
		for ch := range unique {
			for range ch {
				drained++
				b.processingWg.Done()
			}
		}
		b.subscribers = make(map[MessageType][]chan Message)
		b.retired = nil
		b.mu.Unlock()

		if drained > 0 {
			b.logger.Debug("Drained buffered messages during shutdown.", zap.Int("count", drained))
		}
		b.processingWg.Wait()
	})
}
