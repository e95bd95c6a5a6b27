package bot

import (
	"context"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"go.uber.org/zap"
)

// UpdateSource is the long-polling half of *tgbotapi.BotAPI.
type UpdateSource interface {
	GetUpdatesChan(config tgbotapi.UpdateConfig) tgbotapi.UpdatesChannel
	StopReceivingUpdates()
}

// UpdateHandler handles a single update.
type UpdateHandler interface {
	HandleUpdate(ctx context.Context, update tgbotapi.Update)
}

// queueSize is the per-worker backlog before dispatch blocks.
const queueSize = 2

// Poller receives updates by long polling and fans them out to a fixed pool of workers.
type Poller struct {
	source      UpdateSource
	handler     UpdateHandler
	workers     int
	pollTimeout time.Duration
	logger      *zap.Logger
	inFlight    *InFlightTracker
}

// NewPoller returns a Poller. workers <= 0 uses 4.
func NewPoller(source UpdateSource, handler UpdateHandler, workers int, pollTimeout time.Duration, logger *zap.Logger) *Poller {
	if workers <= 0 {
		workers = 4
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		source:      source,
		handler:     handler,
		workers:     workers,
		pollTimeout: pollTimeout,
		logger:      logger,
		inFlight:    &InFlightTracker{},
	}
}

// Run polls until ctx is cancelled or the source closes its channel. On return, polling has
// stopped and every update already handed to a worker has been handled.
//
// Each worker owns a queue and every update of a chat lands on the same queue, so a chat's
// updates are handled one at a time and in arrival order.
func (p *Poller) Run(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = int(p.pollTimeout / time.Second)
	updates := p.source.GetUpdatesChan(u)

	queues := make([]chan tgbotapi.Update, p.workers)
	var wg sync.WaitGroup
	for i := range queues {
		queues[i] = make(chan tgbotapi.Update, queueSize)
		wg.Add(1)
		go func(id int, jobs <-chan tgbotapi.Update) {
			defer wg.Done()
			for up := range jobs {
				p.handle(ctx, id, up)
			}
		}(i, queues[i])
	}
	p.logger.Info("polling started", zap.Int("workers", p.workers), zap.Int("timeout_seconds", u.Timeout))

	err := p.dispatch(ctx, updates, queues)

	p.source.StopReceivingUpdates()
	for _, q := range queues {
		close(q)
	}
	wg.Wait()
	p.logger.Info("polling stopped")
	return err
}

func (p *Poller) dispatch(ctx context.Context, updates tgbotapi.UpdatesChannel, queues []chan tgbotapi.Update) error {
	var next int
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case up, ok := <-updates:
			if !ok {
				return nil
			}
			idx, keyed := queueIndex(up, len(queues))
			if !keyed {
				idx = next
				next = (next + 1) % len(queues)
			}
			select {
			case queues[idx] <- up:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}

// queueIndex picks the worker for up by chat, falling back to the sender for inline
// callbacks. It reports false when the update carries neither.
func queueIndex(up tgbotapi.Update, n int) (int, bool) {
	key, ok := updateChatID(up)
	if !ok && up.CallbackQuery != nil && up.CallbackQuery.From != nil {
		key, ok = up.CallbackQuery.From.ID, true
	}
	if !ok {
		return 0, false
	}
	return int(uint64(key) % uint64(n)), true
}

func (p *Poller) handle(ctx context.Context, worker int, up tgbotapi.Update) {
	p.inFlight.Increment()
	defer p.inFlight.Decrement()
	defer func() {
		if rec := recover(); rec != nil {
			p.logger.Error("update handler panic",
				zap.Int("worker", worker),
				zap.Int("update_id", up.UpdateID),
				zap.Any("panic", rec))
		}
	}()
	p.handler.HandleUpdate(ctx, up)
}

// InFlight returns the number of updates currently being handled.
func (p *Poller) InFlight() int64 {
	return p.inFlight.Count()
}

// WaitIdle blocks until no update is being handled or ctx is done.
func (p *Poller) WaitIdle(ctx context.Context, checkInterval time.Duration) error {
	return p.inFlight.WaitForZero(ctx, checkInterval)
}
