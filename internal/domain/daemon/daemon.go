// Package daemon implements the due-item processor shared by the notification
// and status transition daemons.
//
// A processor repeatedly asks its store for the soonest unprocessed item, sleeps
// on the change-notification listener until that item is due (bounded by
// MaxTimeout), and processes whatever is due. Items are processed one at a time.
package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/dto"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/effect"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger/types"
)

const (
	DefaultMaxTimeout   = 900 * time.Second
	DefaultRetryBackoff = 5 * time.Second
)

// Item is a row of a schedule table
type Item interface {
	ScheduleID() string
	GameSessionID() string
	DueAt() time.Time
}

// Tx is the unit of work of a single item. Nothing is committed until the
// function passed to Store.Transaction returns nil.
type Tx interface {
	// GetGame returns nil without an error when the game does not exist
	GetGame(ctx context.Context, id string) (*entity.GameSession, error)
	UpdateGameStatus(ctx context.Context, id string, status entity.GameStatus, at time.Time) error
	// MarkDone returns false when no unprocessed row matched id
	MarkDone(ctx context.Context, id string) (bool, error)
}

// Store is the due-item query layer of one schedule table
type Store[T Item] interface {
	// GetNextDue returns the unprocessed item with the smallest due time, overdue
	// items included, skipping the ids in exclude. It returns nil without an
	// error when nothing is pending.
	GetNextDue(ctx context.Context, exclude ...string) (*T, error)
	Transaction(ctx context.Context, fn func(tx Tx) error) error
	// Reconnect replaces the underlying session after a failure
	Reconnect(ctx context.Context) error
	Close() error
}

// Listener is a wakeup signal. Payloads are advisory only.
type Listener interface {
	Connect(ctx context.Context) error
	Listen(channel string) error
	WaitForNotification(ctx context.Context, timeout time.Duration) (received bool, payload string, err error)
	Close() error
}

type Publisher interface {
	Publish(ctx context.Context, msg dto.NotificationDue) error
}

// Recorder receives operational measurements of a processor
type Recorder interface {
	ObserveLag(daemon string, lag time.Duration)
	IncProcessed(daemon string, outcome Outcome)
	IncWake(daemon string, reason WakeReason)
}

// EffectBuilder turns an item into the effect to execute
type EffectBuilder[T Item] func(item T, now time.Time) (effect.Effect, error)

type Config[T Item] struct {
	Name         string
	Channel      string
	Store        Store[T]
	Listener     Listener
	BuildEffect  EffectBuilder[T]
	Publisher    Publisher
	MaxTimeout   time.Duration
	RetryBackoff time.Duration
	Now          func() time.Time
	Logger       *types.Logger
	Recorder     Recorder
}

type Processor[T Item] struct {
	name         string
	channel      string
	store        Store[T]
	listener     Listener
	buildEffect  EffectBuilder[T]
	publisher    Publisher
	maxTimeout   time.Duration
	retryBackoff time.Duration
	now          func() time.Time
	logger       *types.Logger
	recorder     Recorder

	state atomic.Int32

	// failed items backing off, only touched by the loop goroutine
	retries map[string]retryState
}

type retryState struct {
	attempts int
	after    time.Time
}

func New[T Item](cfg Config[T]) (*Processor[T], error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("daemon: store is required")
	case cfg.Listener == nil:
		return nil, errors.New("daemon: listener is required")
	case cfg.BuildEffect == nil:
		return nil, errors.New("daemon: effect builder is required")
	case cfg.Channel == "":
		return nil, errors.New("daemon: channel is required")
	}

	p := &Processor[T]{
		name:         cfg.Name,
		channel:      cfg.Channel,
		store:        cfg.Store,
		listener:     cfg.Listener,
		buildEffect:  cfg.BuildEffect,
		publisher:    cfg.Publisher,
		maxTimeout:   cfg.MaxTimeout,
		retryBackoff: cfg.RetryBackoff,
		now:          cfg.Now,
		logger:       cfg.Logger,
		recorder:     cfg.Recorder,
		retries:      make(map[string]retryState),
	}
	if p.name == "" {
		p.name = cfg.Channel
	}
	if p.maxTimeout <= 0 {
		p.maxTimeout = DefaultMaxTimeout
	}
	if p.retryBackoff <= 0 {
		p.retryBackoff = DefaultRetryBackoff
	}
	if p.now == nil {
		p.now = func() time.Time { return time.Now().UTC() }
	}
	if p.logger == nil {
		p.logger = types.Nop()
	}
	if p.recorder == nil {
		p.recorder = nopRecorder{}
	}
	p.setState(StateStarting)
	return p, nil
}

// State returns the current state of the processor
func (p *Processor[T]) State() State {
	return State(p.state.Load())
}

func (p *Processor[T]) setState(s State) {
	p.state.Store(int32(s))
}

// Run connects the listener and loops until ctx is cancelled.
//
// A connect failure is returned as is and the processor ends up STOPPED.
// Cancellation lets an in-flight item finish before the listener and store are closed.
func (p *Processor[T]) Run(ctx context.Context) error {
	p.setState(StateStarting)
	if err := p.connect(ctx); err != nil {
		p.shutdown()
		return fmt.Errorf("failed to start %s daemon: %w", p.name, err)
	}
	defer p.shutdown()

	p.logger.Infof("Daemon started (channel=%s, max_timeout=%s)", p.channel, p.maxTimeout)
	for ctx.Err() == nil {
		p.RunOnce(ctx)
	}
	p.logger.Info("Shutdown requested")
	return nil
}

func (p *Processor[T]) connect(ctx context.Context) error {
	if err := p.listener.Connect(ctx); err != nil {
		return fmt.Errorf("connect listener: %w", err)
	}
	if err := p.listener.Listen(p.channel); err != nil {
		return fmt.Errorf("listen on %s: %w", p.channel, err)
	}
	return nil
}

func (p *Processor[T]) shutdown() {
	p.setState(StateShuttingDown)
	if err := p.listener.Close(); err != nil {
		p.logger.Warnf("Failed to close listener: %v", err)
	}
	if err := p.store.Close(); err != nil {
		p.logger.Warnf("Failed to close store: %v", err)
	}
	p.setState(StateStopped)
	p.logger.Info("Daemon stopped")
}

// RunOnce performs a single loop iteration: it either processes one due item
// or blocks on the listener until the next item is due, a signal arrives,
// MaxTimeout elapses or ctx is cancelled.
func (p *Processor[T]) RunOnce(ctx context.Context) {
	p.setState(StatePolling)

	now := p.now()
	backingOff, retryAt := p.backingOff(now)

	item, err := p.nextDue(ctx, backingOff)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Errorf("Failed to query next due item, retrying in %s: %v", p.retryBackoff, err)
		p.sleep(ctx, p.retryBackoff)
		return
	}

	wait := p.maxTimeout
	if item != nil {
		untilDue := (*item).DueAt().Sub(now)
		if untilDue <= 0 {
			// in-flight processing is never aborted by shutdown
			p.process(context.WithoutCancel(ctx), *item)
			return
		}
		wait = min(untilDue, p.maxTimeout)
		p.logger.Debugf("Next item due in %s (item_id=%s, game_id=%s)", untilDue, (*item).ScheduleID(), (*item).GameSessionID())
	} else {
		p.logger.Debugf("No pending items, waiting up to %s", wait)
	}
	if !retryAt.IsZero() {
		wait = min(wait, retryAt.Sub(now))
	}

	p.setState(StateWaiting)
	received, payload, err := p.listener.WaitForNotification(ctx, wait)
	if err != nil {
		if ctx.Err() != nil {
			return
		}
		p.logger.Errorf("Listener wait failed, reconnecting: %v", err)
		p.reconnectListener(ctx)
		return
	}

	reason := classifyWake(received, item != nil || !retryAt.IsZero(), wait, p.maxTimeout)
	p.recorder.IncWake(p.name, reason)
	switch reason {
	case WakeSignal:
		p.logger.Debugf("Woken by change signal (payload=%q)", payload)
	case WakePeriodic:
		p.logger.Debug("Periodic check")
	case WakeDue:
		p.logger.Debug("Next item due time reached")
	}
}

func (p *Processor[T]) nextDue(ctx context.Context, exclude []string) (*T, error) {
	item, err := p.store.GetNextDue(ctx, exclude...)
	if err == nil {
		return item, nil
	}

	p.logger.Warnf("Next due query failed, recreating session: %v", err)
	if errReconnect := p.store.Reconnect(ctx); errReconnect != nil {
		return nil, errors.Join(err, fmt.Errorf("reconnect: %w", errReconnect))
	}
	return p.store.GetNextDue(ctx, exclude...)
}

// backingOff returns the ids of failed items that must not be retried yet and
// the earliest time one of them becomes eligible again.
func (p *Processor[T]) backingOff(now time.Time) ([]string, time.Time) {
	var (
		ids      []string
		earliest time.Time
	)
	for id, r := range p.retries {
		if !r.after.After(now) {
			// the item was not picked up again for a whole period, so it is gone
			if now.Sub(r.after) > p.maxTimeout {
				delete(p.retries, id)
			}
			continue
		}
		ids = append(ids, id)
		if earliest.IsZero() || r.after.Before(earliest) {
			earliest = r.after
		}
	}
	return ids, earliest
}

// retryLater puts a failed item on hold. The delay doubles with every
// consecutive failure, up to MaxTimeout.
func (p *Processor[T]) retryLater(id string) time.Duration {
	r := p.retries[id]
	r.attempts++
	delay := p.retryBackoff
	for i := 1; i < r.attempts && delay < p.maxTimeout; i++ {
		delay *= 2
	}
	delay = min(delay, p.maxTimeout)
	r.after = p.now().Add(delay)
	p.retries[id] = r
	return delay
}

func (p *Processor[T]) reconnectListener(ctx context.Context) {
	if err := p.listener.Close(); err != nil {
		p.logger.Warnf("Failed to close listener: %v", err)
	}
	if err := p.connect(ctx); err != nil {
		p.logger.Errorf("Failed to reconnect listener, retrying in %s: %v", p.retryBackoff, err)
		p.sleep(ctx, p.retryBackoff)
	}
}

// process handles one due item inside a single transaction and reports whether it succeeded.
// A failed item is left unprocessed and skipped by the next queries until its
// retry delay passes, so later items keep flowing.
func (p *Processor[T]) process(ctx context.Context, item T) (ok bool) {
	p.setState(StateProcessing)
	id, gameID := item.ScheduleID(), item.GameSessionID()
	outcome := OutcomeProcessed

	defer func() {
		if r := recover(); r != nil {
			p.logger.Errorw("Panic while processing item", "item_id", id, "game_id", gameID, "panic", r)
			outcome, ok = OutcomeFailed, false
			p.retryLater(id)
		}
		p.recorder.IncProcessed(p.name, outcome)
		if outcome != OutcomeFailed {
			p.recorder.ObserveLag(p.name, p.now().Sub(item.DueAt()))
		}
	}()

	err := p.store.Transaction(ctx, func(tx Tx) error {
		game, err := tx.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("get game: %w", err)
		}
		if game == nil {
			outcome = OutcomeGameMissing
			p.logger.Infof("Game no longer exists, marking item done (item_id=%s, game_id=%s)", id, gameID)
			return p.markDone(ctx, tx, id)
		}

		eff, err := p.buildEffect(item, p.now())
		if err != nil {
			// the effect depends on the row alone, a retry would fail the same way
			outcome = OutcomeDiscarded
			p.logger.Errorw("Discarding item without a valid effect", "item_id", id, "game_id", gameID, "error", err)
			return p.markDone(ctx, tx, id)
		}

		if !eff.Applies(game.Status) {
			outcome = OutcomeSkipped
			p.logger.Warnf(
				"Game status is %s, expected %s; skipping transition to %s (item_id=%s, game_id=%s)",
				game.Status, eff.From, eff.To, id, gameID,
			)
			return p.markDone(ctx, tx, id)
		}

		if err = p.execute(ctx, tx, game, eff); err != nil {
			return err
		}
		return p.markDone(ctx, tx, id)
	})
	if err != nil {
		outcome = OutcomeFailed
		delay := p.retryLater(id)
		p.logger.Errorw("Failed to process item", "item_id", id, "game_id", gameID, "retry_in", delay, "error", err)
		return false
	}
	delete(p.retries, id)

	if outcome == OutcomeProcessed {
		p.logger.Infof("Processed item (item_id=%s, game_id=%s, due_at=%s)", id, gameID, item.DueAt().Format(time.RFC3339))
	}
	return true
}

func (p *Processor[T]) execute(ctx context.Context, tx Tx, game *entity.GameSession, eff effect.Effect) error {
	switch eff.Kind {
	case effect.KindMutateStatus:
		if err := tx.UpdateGameStatus(ctx, game.ID, eff.To, p.now()); err != nil {
			return fmt.Errorf("update game status: %w", err)
		}
		p.logger.Infof("Game status changed %s -> %s (game_id=%s)", eff.From, eff.To, game.ID)
		return nil
	case effect.KindPublish:
		if p.publisher == nil {
			return errors.New("no publisher configured")
		}
		if err := p.publisher.Publish(ctx, eff.Message); err != nil {
			return fmt.Errorf("publish notification: %w", err)
		}
		return nil
	default:
		return fmt.Errorf("unknown effect %s", eff.Kind)
	}
}

func (p *Processor[T]) markDone(ctx context.Context, tx Tx, id string) error {
	marked, err := tx.MarkDone(ctx, id)
	if err != nil {
		return fmt.Errorf("mark done: %w", err)
	}
	if !marked {
		p.logger.Infof("Item was already processed or deleted (item_id=%s)", id)
	}
	return nil
}

func (p *Processor[T]) sleep(ctx context.Context, d time.Duration) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
	case <-timer.C:
	}
}

func classifyWake(received, hadItem bool, wait, maxTimeout time.Duration) WakeReason {
	switch {
	case received:
		return WakeSignal
	case !hadItem || wait >= maxTimeout:
		return WakePeriodic
	default:
		return WakeDue
	}
}

type nopRecorder struct{}

func (nopRecorder) ObserveLag(string, time.Duration) {}
func (nopRecorder) IncProcessed(string, Outcome)     {}
func (nopRecorder) IncWake(string, WakeReason)       {}
