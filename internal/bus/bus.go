// jellysync - Headless Jellyfin Client State Sync
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/jellysync

// Package bus is the dispatch bus between the socket transport and the stores.
//
// The transport is the only publisher. Every published envelope is stamped
// with a fresh identity, stored in the latest-message slot and fanned out to
// every subscriber through a watermill gochannel configured to block until
// each subscriber has acknowledged it. Each subscriber therefore sees every
// envelope once, in arrival order, and Publish returns only after all
// handlers ran. Ordering across subscribers is not defined.
//
// Handlers must not publish: Publish waits for the publishing handler's own
// acknowledgement and would deadlock.
package bus

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/google/uuid"

	"github.com/tomtom215/jellysync/internal/logging"
	"github.com/tomtom215/jellysync/internal/metrics"
	"github.com/tomtom215/jellysync/internal/socket"
)

const topic = "socket.envelopes"

// ErrClosed is returned by Subscribe after Close.
var ErrClosed = errors.New("bus: closed")

// Handler reacts to one envelope. Panics are recovered by the bus.
type Handler func(env *socket.Envelope)

// Bus implements socket.Publisher.
type Bus struct {
	pubsub *gochannel.GoChannel
	latest atomic.Pointer[socket.Envelope]

	// inflight maps a message UUID to its envelope while Publish is blocked.
	inflight sync.Map

	mu     sync.Mutex
	closed bool
	subs   sync.WaitGroup
}

var _ socket.Publisher = (*Bus)(nil)

// New creates an empty bus.
func New() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(
			gochannel.Config{BlockPublishUntilSubscriberAck: true},
			logging.NewWatermillAdapter("bus"),
		),
	}
}

// Latest returns the most recently published envelope, or nil.
func (b *Bus) Latest() *socket.Envelope {
	return b.latest.Load()
}

// Publish stamps env with an identity when it has none, stores it as the
// latest envelope and delivers it to every subscriber.
func (b *Bus) Publish(env *socket.Envelope) {
	if env == nil {
		return
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	b.latest.Store(env)
	metrics.BusPublished.WithLabelValues(env.Kind).Inc()

	msg := message.NewMessage(env.ID, message.Payload(env.Data))
	msg.Metadata.Set("message_type", env.Kind)

	b.inflight.Store(env.ID, env)
	defer b.inflight.Delete(env.ID)

	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.Warn().Err(err).Str("message_type", env.Kind).Msg("[bus] publish failed")
	}
}

// Subscribe registers h under name. The returned function removes the
// subscription and waits for an in-progress handler to return; it must not
// be called from inside a handler.
func (b *Bus) Subscribe(name string, h Handler) (unsubscribe func(), err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}

	ctx, cancel := context.WithCancel(context.Background())
	messages, err := b.pubsub.Subscribe(ctx, topic)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("subscribe %s: %w", name, err)
	}

	done := make(chan struct{})
	b.subs.Add(1)
	go func() {
		defer b.subs.Done()
		defer close(done)
		b.consume(name, messages, h)
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			cancel()
			<-done
		})
	}, nil
}

func (b *Bus) consume(name string, messages <-chan *message.Message, h Handler) {
	var lastID string
	for msg := range messages {
		if msg.UUID != lastID {
			lastID = msg.UUID
			if v, ok := b.inflight.Load(msg.UUID); ok {
				b.dispatch(name, v.(*socket.Envelope), h)
			}
		}
		msg.Ack()
	}
}

func (b *Bus) dispatch(name string, env *socket.Envelope, h Handler) {
	defer func() {
		if r := recover(); r != nil {
			metrics.BusHandlerPanics.WithLabelValues(name).Inc()
			logging.Error().
				Str("subscriber", name).
				Str("message_type", env.Kind).
				Interface("panic", r).
				Msg("[bus] handler panicked")
		}
	}()
	h(env)
	metrics.BusDelivered.WithLabelValues(name).Inc()
}

// Close stops every subscription and waits for their handlers to return.
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	b.mu.Unlock()

	err := b.pubsub.Close()
	b.subs.Wait()
	return err
}
