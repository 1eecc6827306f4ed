package daemon

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/dto"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"github.com/stretchr/testify/mock"
)

// memStore keeps schedule rows and games in memory and restores them when a
// transaction function fails.
type memStore[T Item] struct {
	mu sync.Mutex

	games map[string]entity.GameSession
	items []T
	done  map[string]bool

	nextDueErrs  []error
	reconnectErr error
	reconnects   int
	closed       int
	lostMarks    bool
}

func newMemStore[T Item](items ...T) *memStore[T] {
	return &memStore[T]{
		games: make(map[string]entity.GameSession),
		items: items,
		done:  make(map[string]bool),
	}
}

func (s *memStore[T]) addGame(id string, status entity.GameStatus) {
	s.games[id] = entity.GameSession{ID: id, Status: status}
}

func (s *memStore[T]) isDone(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.done[id]
}

func (s *memStore[T]) gameStatus(id string) entity.GameStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.games[id].Status
}

func (s *memStore[T]) GetNextDue(_ context.Context, exclude ...string) (*T, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.nextDueErrs) > 0 {
		err := s.nextDueErrs[0]
		s.nextDueErrs = s.nextDueErrs[1:]
		if err != nil {
			return nil, err
		}
	}

	skip := make(map[string]bool, len(exclude))
	for _, id := range exclude {
		skip[id] = true
	}

	var next *T
	for i := range s.items {
		item := s.items[i]
		if s.done[item.ScheduleID()] || skip[item.ScheduleID()] {
			continue
		}
		if next == nil || item.DueAt().Before((*next).DueAt()) {
			next = &item
		}
	}
	return next, nil
}

func (s *memStore[T]) Transaction(_ context.Context, fn func(tx Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	games := make(map[string]entity.GameSession, len(s.games))
	for k, v := range s.games {
		games[k] = v
	}
	done := make(map[string]bool, len(s.done))
	for k, v := range s.done {
		done[k] = v
	}

	committed := false
	defer func() {
		if !committed {
			s.games, s.done = games, done
		}
	}()

	if err := fn(&memTx[T]{store: s}); err != nil {
		return err
	}
	committed = true
	return nil
}

func (s *memStore[T]) Reconnect(_ context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reconnects++
	return s.reconnectErr
}

func (s *memStore[T]) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed++
	return nil
}

type memTx[T Item] struct {
	store *memStore[T]
}

func (t *memTx[T]) GetGame(_ context.Context, id string) (*entity.GameSession, error) {
	game, ok := t.store.games[id]
	if !ok {
		return nil, nil
	}
	return &game, nil
}

func (t *memTx[T]) UpdateGameStatus(_ context.Context, id string, status entity.GameStatus, at time.Time) error {
	game, ok := t.store.games[id]
	if !ok {
		return errors.New("game not found")
	}
	game.Status = status
	game.UpdatedAt = at
	t.store.games[id] = game
	return nil
}

func (t *memTx[T]) MarkDone(_ context.Context, id string) (bool, error) {
	if t.store.lostMarks {
		return false, nil
	}
	for _, item := range t.store.items {
		if item.ScheduleID() == id && !t.store.done[id] {
			t.store.done[id] = true
			return true, nil
		}
	}
	return false, nil
}

type wakeResult struct {
	received bool
	payload  string
	err      error
}

type fakeListener struct {
	mu sync.Mutex

	connectErr error
	results    []wakeResult
	waits      []time.Duration
	channels   []string
	connects   int
	closes     int
	block      bool
}

func (l *fakeListener) Connect(_ context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.connects++
	return l.connectErr
}

func (l *fakeListener) Listen(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.channels = append(l.channels, channel)
	return nil
}

func (l *fakeListener) WaitForNotification(ctx context.Context, timeout time.Duration) (bool, string, error) {
	l.mu.Lock()
	l.waits = append(l.waits, timeout)
	block := l.block
	var res wakeResult
	if len(l.results) > 0 {
		res = l.results[0]
		l.results = l.results[1:]
	}
	l.mu.Unlock()

	if block {
		<-ctx.Done()
		return false, "", ctx.Err()
	}
	return res.received, res.payload, res.err
}

func (l *fakeListener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.closes++
	return nil
}

func (l *fakeListener) waitCalls() []time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]time.Duration(nil), l.waits...)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, msg dto.NotificationDue) error {
	args := m.Called(ctx, msg)
	return args.Error(0)
}

type recorder struct {
	mu       sync.Mutex
	wakes    []WakeReason
	outcomes []Outcome
	lags     []time.Duration
}

func (r *recorder) ObserveLag(_ string, lag time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lags = append(r.lags, lag)
}

func (r *recorder) IncProcessed(_ string, outcome Outcome) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.outcomes = append(r.outcomes, outcome)
}

func (r *recorder) IncWake(_ string, reason WakeReason) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.wakes = append(r.wakes, reason)
}
