package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// Broadcaster fans invalidation events out over the store's pub/sub
// channel so sibling processes drop their copies too. Publishing is
// fire-and-forget; the subscribe loop reconnects with backoff when the
// subscription drops. Each instance stamps its events with an origin id
// and skips its own on receive.
type Broadcaster struct {
	ctx     context.Context
	cancel  context.CancelFunc
	logger  types.Logger
	store   types.Store
	channel string
	origin  string
	mu      sync.Mutex
	sub     types.Subscription
	done    chan struct{}
	started int32
}

func NewBroadcaster(ctx context.Context, logger types.Logger, store types.Store, channel string) *Broadcaster {
	broadcasterCtx, cancel := context.WithCancel(ctx)

	return &Broadcaster{
		ctx:     broadcasterCtx,
		cancel:  cancel,
		logger:  logger,
		store:   store,
		channel: channel,
		origin:  uuid.NewString(),
	}
}

func (b *Broadcaster) Origin() string {
	return b.origin
}

func (b *Broadcaster) Publish(ctx context.Context, event types.InvalidationEvent) {
	event.Origin = b.origin
	event.At = time.Now().UnixMilli()

	data, err := utils.Marshal(event)
	if err != nil {
		b.logger.Warn("Failed to serialize invalidation event",
			zap.Error(err))
		return
	}

	if _, err := b.store.Publish(ctx, b.channel, data); err != nil {
		b.logger.Warn("Invalidation broadcast failed",
			zap.String("channel", b.channel),
			zap.Error(err))
	}
}

func (b *Broadcaster) Start(handler func(types.InvalidationEvent)) error {
	if !atomic.CompareAndSwapInt32(&b.started, 0, 1) {
		return types.ErrServerAlreadyRunning
	}

	b.done = make(chan struct{})
	go b.run(handler)

	b.logger.Info("Invalidation broadcaster started",
		zap.String("channel", b.channel))

	return nil
}

func (b *Broadcaster) Stop() error {
	if !atomic.CompareAndSwapInt32(&b.started, 1, 0) {
		return types.ErrServerNotRunning
	}

	b.cancel()
	b.closeSub()

	select {
	case <-b.done:
	case <-time.After(5 * time.Second):
		b.logger.Warn("Invalidation broadcaster stop timeout")
	}

	return nil
}

func (b *Broadcaster) run(handler func(types.InvalidationEvent)) {
	defer close(b.done)

	backoff := time.Second
	for {
		sub, err := b.store.Subscribe(b.ctx, b.channel)
		if err != nil {
			b.logger.Warn("Invalidation subscribe failed, retrying",
				zap.String("channel", b.channel),
				zap.Error(err))

			select {
			case <-b.ctx.Done():
				return
			case <-time.After(backoff):
			}
			continue
		}

		b.setSub(sub)
		b.consume(sub, handler)

		select {
		case <-b.ctx.Done():
			return
		default:
		}

		b.logger.Warn("Invalidation subscription lost, reconnecting",
			zap.String("channel", b.channel))

		select {
		case <-b.ctx.Done():
			return
		case <-time.After(backoff):
		}
	}
}

func (b *Broadcaster) consume(sub types.Subscription, handler func(types.InvalidationEvent)) {
	for data := range sub.Messages() {
		var event types.InvalidationEvent
		if err := utils.Unmarshal(data, &event); err != nil {
			b.logger.Warn("Dropping malformed invalidation event",
				zap.Error(err))
			continue
		}

		if event.Origin == b.origin {
			continue
		}

		b.apply(handler, event)
	}
}

func (b *Broadcaster) apply(handler func(types.InvalidationEvent), event types.InvalidationEvent) {
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("Invalidation handler panicked",
				zap.Any("panic", r))
		}
	}()

	handler(event)
}

func (b *Broadcaster) setSub(sub types.Subscription) {
	b.mu.Lock()
	b.sub = sub
	b.mu.Unlock()
}

func (b *Broadcaster) closeSub() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sub != nil {
		_ = b.sub.Close()
		b.sub = nil
	}
}
