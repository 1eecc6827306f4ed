package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/common/errorz"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger/types"
)

// DefaultJoinNotificationDelay is how long after joining a participant gets the join notification
const DefaultJoinNotificationDelay = 60 * time.Second

// ScheduleWriter is the transactional write side of the schedule tables
type ScheduleWriter interface {
	// GetGame returns nil without an error when the game does not exist
	GetGame(ctx context.Context, id string) (*entity.GameSession, error)
	CreateGame(ctx context.Context, game *entity.GameSession) error
	SaveGame(ctx context.Context, game *entity.GameSession) error
	UpdateGameStatus(ctx context.Context, id string, status entity.GameStatus, at time.Time) error
	AddParticipant(ctx context.Context, participant *entity.GameParticipant) error
	// RemoveParticipant returns false when the user was not a participant
	RemoveParticipant(ctx context.Context, gameID, userID string) (bool, error)
	CreateNotification(ctx context.Context, notification *entity.NotificationSchedule) error
	DeleteReminders(ctx context.Context, gameID string) error
	DeleteNotifications(ctx context.Context, gameID string) error
	UpsertTransition(ctx context.Context, gameID string, target entity.GameStatus, at time.Time) error
	DeleteTransitions(ctx context.Context, gameID string) error
}

type scheduleStore interface {
	InTx(ctx context.Context, fn func(w ScheduleWriter) error) error
	Notify(ctx context.Context, channel, payload string) error
}

type ScheduleChannels struct {
	Notifications     string
	StatusTransitions string
}

// ScheduleService keeps the schedule tables in sync with game sessions.
// Every write happens in one transaction, change signals are sent after commit.
type ScheduleService struct {
	logger *types.Logger
	store  scheduleStore

	channels  ScheduleChannels
	joinDelay time.Duration
	now       func() time.Time
}

func NewScheduleService(logger *types.Logger, store scheduleStore, channels ScheduleChannels, joinDelay time.Duration) *ScheduleService {
	if joinDelay <= 0 {
		joinDelay = DefaultJoinNotificationDelay
	}
	if logger == nil {
		logger = types.Nop()
	}
	return &ScheduleService{
		logger:    logger,
		store:     store,
		channels:  channels,
		joinDelay: joinDelay,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// ScheduleGame creates a SCHEDULED game with its reminders and status transitions
func (s *ScheduleService) ScheduleGame(ctx context.Context, game *entity.GameSession) error {
	if game.ScheduledAt.IsZero() {
		return fmt.Errorf("%w: scheduled time is required", errorz.ErrInvalidSchedule)
	}
	game.ScheduledAt = game.ScheduledAt.UTC()
	game.Status = entity.GameStatusScheduled
	now := s.now()

	err := s.store.InTx(ctx, func(w ScheduleWriter) error {
		if err := w.CreateGame(ctx, game); err != nil {
			return fmt.Errorf("create game: %w", err)
		}
		if err := s.scheduleReminders(ctx, w, game, now); err != nil {
			return err
		}
		return s.scheduleTransitions(ctx, w, game)
	})
	if err != nil {
		return err
	}

	s.signal(ctx, game.ID, s.channels.Notifications, s.channels.StatusTransitions)
	return nil
}

// RescheduleGame moves a game to a new start time and duration and replaces its reminders
func (s *ScheduleService) RescheduleGame(ctx context.Context, gameID string, scheduledAt time.Time, durationMinutes *int, reminderMinutes []int64) (*entity.GameSession, error) {
	if scheduledAt.IsZero() {
		return nil, fmt.Errorf("%w: scheduled time is required", errorz.ErrInvalidSchedule)
	}
	now := s.now()

	var game *entity.GameSession
	err := s.store.InTx(ctx, func(w ScheduleWriter) error {
		var err error
		game, err = w.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("get game: %w", err)
		}
		if game == nil {
			return errorz.ErrGameNotFound
		}
		if game.Status != entity.GameStatusScheduled && game.Status != entity.GameStatusInProgress {
			return fmt.Errorf("%w: %s", errorz.ErrInvalidStatus, game.Status)
		}

		game.ScheduledAt = scheduledAt.UTC()
		game.ExpectedDurationMinutes = durationMinutes
		if reminderMinutes != nil {
			game.ReminderMinutes = reminderMinutes
		}
		game.UpdatedAt = now
		if err = w.SaveGame(ctx, game); err != nil {
			return fmt.Errorf("save game: %w", err)
		}

		if err = w.DeleteReminders(ctx, game.ID); err != nil {
			return fmt.Errorf("delete reminders: %w", err)
		}
		if err = s.scheduleReminders(ctx, w, game, now); err != nil {
			return err
		}
		return s.scheduleTransitions(ctx, w, game)
	})
	if err != nil {
		return nil, err
	}

	s.signal(ctx, game.ID, s.channels.Notifications, s.channels.StatusTransitions)
	return game, nil
}

// CancelGame marks a game CANCELLED and drops everything still scheduled for it
func (s *ScheduleService) CancelGame(ctx context.Context, gameID string) error {
	now := s.now()
	err := s.store.InTx(ctx, func(w ScheduleWriter) error {
		game, err := w.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("get game: %w", err)
		}
		if game == nil {
			return errorz.ErrGameNotFound
		}
		if game.Status == entity.GameStatusCompleted || game.Status == entity.GameStatusCancelled {
			return fmt.Errorf("%w: %s", errorz.ErrInvalidStatus, game.Status)
		}

		if err = w.DeleteTransitions(ctx, gameID); err != nil {
			return fmt.Errorf("delete transitions: %w", err)
		}
		if err = w.DeleteNotifications(ctx, gameID); err != nil {
			return fmt.Errorf("delete notifications: %w", err)
		}
		return w.UpdateGameStatus(ctx, gameID, entity.GameStatusCancelled, now)
	})
	if err != nil {
		return err
	}

	s.signal(ctx, gameID, s.channels.Notifications, s.channels.StatusTransitions)
	return nil
}

// JoinGame registers a participant and schedules their join notification
func (s *ScheduleService) JoinGame(ctx context.Context, gameID, userID string) (*entity.GameParticipant, error) {
	now := s.now()
	participant := &entity.GameParticipant{
		GameSessionID: gameID,
		UserID:        userID,
		JoinedAt:      now,
	}

	err := s.store.InTx(ctx, func(w ScheduleWriter) error {
		game, err := w.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("get game: %w", err)
		}
		if game == nil {
			return errorz.ErrGameNotFound
		}
		if game.Status != entity.GameStatusScheduled {
			return fmt.Errorf("%w: %s", errorz.ErrInvalidStatus, game.Status)
		}

		if err = w.AddParticipant(ctx, participant); err != nil {
			return fmt.Errorf("add participant: %w", err)
		}

		scheduledAt := game.ScheduledAt
		return w.CreateNotification(ctx, &entity.NotificationSchedule{
			GameID:           game.ID,
			NotificationType: entity.NotificationTypeJoin,
			ParticipantID:    &participant.ID,
			NotificationTime: now.Add(s.joinDelay),
			GameScheduledAt:  &scheduledAt,
		})
	})
	if err != nil {
		return nil, err
	}

	s.signal(ctx, gameID, s.channels.Notifications)
	return participant, nil
}

// LeaveGame removes a participant; their pending join notification goes with them
func (s *ScheduleService) LeaveGame(ctx context.Context, gameID, userID string) error {
	err := s.store.InTx(ctx, func(w ScheduleWriter) error {
		game, err := w.GetGame(ctx, gameID)
		if err != nil {
			return fmt.Errorf("get game: %w", err)
		}
		if game == nil {
			return errorz.ErrGameNotFound
		}
		if game.Status == entity.GameStatusCompleted || game.Status == entity.GameStatusCancelled {
			return fmt.Errorf("%w: %s", errorz.ErrInvalidStatus, game.Status)
		}

		removed, err := w.RemoveParticipant(ctx, gameID, userID)
		if err != nil {
			return fmt.Errorf("remove participant: %w", err)
		}
		if !removed {
			return errorz.ErrNotJoined
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.signal(ctx, gameID, s.channels.Notifications)
	return nil
}

func (s *ScheduleService) scheduleReminders(ctx context.Context, w ScheduleWriter, game *entity.GameSession, now time.Time) error {
	seen := make(map[int64]bool, len(game.ReminderMinutes))
	for _, m := range game.ReminderMinutes {
		if m <= 0 || seen[m] {
			continue
		}
		seen[m] = true

		at := game.ScheduledAt.Add(-time.Duration(m) * time.Minute)
		if !at.After(now) {
			s.logger.Debugf("Skipping reminder in the past (game_id=%s, reminder_minutes=%d)", game.ID, m)
			continue
		}

		minutes := int(m)
		scheduledAt := game.ScheduledAt
		err := w.CreateNotification(ctx, &entity.NotificationSchedule{
			GameID:           game.ID,
			NotificationType: entity.NotificationTypeReminder,
			ReminderMinutes:  &minutes,
			NotificationTime: at,
			GameScheduledAt:  &scheduledAt,
		})
		if err != nil {
			return fmt.Errorf("create %d minute reminder: %w", m, err)
		}
	}
	return nil
}

func (s *ScheduleService) scheduleTransitions(ctx context.Context, w ScheduleWriter, game *entity.GameSession) error {
	if game.Status == entity.GameStatusScheduled {
		if err := w.UpsertTransition(ctx, game.ID, entity.GameStatusInProgress, game.ScheduledAt); err != nil {
			return err
		}
	}
	return w.UpsertTransition(ctx, game.ID, entity.GameStatusCompleted, game.EndsAt())
}

// signal is best effort: the daemons re-poll periodically anyway
func (s *ScheduleService) signal(ctx context.Context, payload string, channels ...string) {
	var errs []error
	for _, channel := range channels {
		if channel == "" {
			continue
		}
		if err := s.store.Notify(ctx, channel, payload); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", channel, err))
		}
	}
	if err := errors.Join(errs...); err != nil {
		s.logger.Warnf("Failed to send change signal (game_id=%s): %v", payload, err)
	}
}
