package postgres

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/Badsnus/game-scheduler-bot/pkg/logger/types"
	"github.com/lib/pq"
)

var ErrListenerClosed = errors.New("listener is not connected")

type ListenerOptions struct {
	MinReconnectInterval time.Duration
	MaxReconnectInterval time.Duration
}

// Listener is a LISTEN/NOTIFY subscription on a dedicated connection
type Listener struct {
	connString string
	opts       ListenerOptions
	logger     *types.Logger

	mu       sync.Mutex
	listener *pq.Listener
}

func NewListener(connString string, opts ListenerOptions, logger *types.Logger) *Listener {
	if opts.MinReconnectInterval <= 0 {
		opts.MinReconnectInterval = time.Second
	}
	if opts.MaxReconnectInterval < opts.MinReconnectInterval {
		opts.MaxReconnectInterval = time.Minute
	}
	if logger == nil {
		logger = types.Nop()
	}
	return &Listener{
		connString: connString,
		opts:       opts,
		logger:     logger,
	}
}

// Connect opens the listener connection and waits for the first connection attempt to finish
func (l *Listener) Connect(ctx context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener != nil {
		return nil
	}

	events := make(chan pq.ListenerEventType, 1)
	listener := pq.NewListener(l.connString, l.opts.MinReconnectInterval, l.opts.MaxReconnectInterval, func(event pq.ListenerEventType, err error) {
		l.onEvent(event, err)
		select {
		case events <- event:
		default:
		}
	})

	select {
	case event := <-events:
		if event == pq.ListenerEventConnectionAttemptFailed {
			_ = listener.Close()
			return fmt.Errorf("failed to connect listener")
		}
	case <-ctx.Done():
		_ = listener.Close()
		return ctx.Err()
	}

	if err := listener.Ping(); err != nil {
		_ = listener.Close()
		return fmt.Errorf("failed to ping listener connection: %w", err)
	}

	l.listener = listener
	return nil
}

func (l *Listener) onEvent(event pq.ListenerEventType, err error) {
	switch event {
	case pq.ListenerEventConnected:
		l.logger.Debug("Listener connected")
	case pq.ListenerEventDisconnected:
		l.logger.Warnf("Listener disconnected: %v", err)
	case pq.ListenerEventReconnected:
		l.logger.Info("Listener reconnected")
	case pq.ListenerEventConnectionAttemptFailed:
		l.logger.Errorf("Listener connection attempt failed: %v", err)
	}
}

// Listen subscribes to a channel
func (l *Listener) Listen(channel string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener == nil {
		return ErrListenerClosed
	}
	if err := l.listener.Listen(channel); err != nil && !errors.Is(err, pq.ErrChannelAlreadyOpen) {
		return err
	}
	l.logger.Infof("Listening on %s", channel)
	return nil
}

// WaitForNotification blocks for at most timeout. received is false when the
// timeout elapsed. A reconnect counts as a received signal since notifications
// may have been lost while disconnected.
func (l *Listener) WaitForNotification(ctx context.Context, timeout time.Duration) (bool, string, error) {
	l.mu.Lock()
	listener := l.listener
	l.mu.Unlock()
	if listener == nil {
		return false, "", ErrListenerClosed
	}

	if timeout <= 0 {
		timeout = time.Millisecond
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case n, ok := <-listener.Notify:
		if !ok {
			return false, "", ErrListenerClosed
		}
		if n == nil {
			return true, "", nil
		}
		return true, n.Extra, nil
	case <-timer.C:
		return false, "", nil
	case <-ctx.Done():
		return false, "", ctx.Err()
	}
}

// Close releases the connection. It is safe to call more than once and before Connect.
func (l *Listener) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.listener == nil {
		return nil
	}
	err := l.listener.Close()
	l.listener = nil
	return err
}
