package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/service"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ScheduleWriter is used by API side code to populate the schedule tables
type ScheduleWriter struct {
	db    *gorm.DB
	games *GameStorage
}

func NewScheduleWriter(db *gorm.DB) *ScheduleWriter {
	return &ScheduleWriter{
		db:    db,
		games: NewGameStorage(db),
	}
}

func (w *ScheduleWriter) GetGame(ctx context.Context, id string) (*entity.GameSession, error) {
	return w.games.GetForUpdate(ctx, id)
}

func (w *ScheduleWriter) CreateGame(ctx context.Context, game *entity.GameSession) error {
	_, err := w.games.Create(ctx, game)
	return err
}

func (w *ScheduleWriter) SaveGame(ctx context.Context, game *entity.GameSession) error {
	_, err := w.games.Update(ctx, game)
	return err
}

func (w *ScheduleWriter) UpdateGameStatus(ctx context.Context, id string, status entity.GameStatus, at time.Time) error {
	return w.games.UpdateStatus(ctx, id, status, at)
}

func (w *ScheduleWriter) AddParticipant(ctx context.Context, participant *entity.GameParticipant) error {
	_, err := w.games.AddParticipant(ctx, participant)
	return err
}

func (w *ScheduleWriter) RemoveParticipant(ctx context.Context, gameID, userID string) (bool, error) {
	return w.games.RemoveParticipant(ctx, gameID, userID)
}

func (w *ScheduleWriter) CreateNotification(ctx context.Context, notification *entity.NotificationSchedule) error {
	return w.db.WithContext(ctx).Omit(clause.Associations).Create(notification).Error
}

// DeleteReminders removes every reminder row of a game, sent or not
func (w *ScheduleWriter) DeleteReminders(ctx context.Context, gameID string) error {
	return w.db.WithContext(ctx).
		Where("game_id = ? AND notification_type = ?", gameID, entity.NotificationTypeReminder).
		Delete(&entity.NotificationSchedule{}).Error
}

// DeleteNotifications removes every notification row of a game
func (w *ScheduleWriter) DeleteNotifications(ctx context.Context, gameID string) error {
	return w.db.WithContext(ctx).Where("game_id = ?", gameID).Delete(&entity.NotificationSchedule{}).Error
}

// CreateTransition inserts a transition and fails on a duplicate (game_id, target_status)
func (w *ScheduleWriter) CreateTransition(ctx context.Context, transition *entity.GameStatusSchedule) error {
	return w.db.WithContext(ctx).Omit(clause.Associations).Create(transition).Error
}

// UpsertTransition schedules a transition, resetting executed when it already exists
func (w *ScheduleWriter) UpsertTransition(ctx context.Context, gameID string, target entity.GameStatus, at time.Time) error {
	transition := entity.GameStatusSchedule{
		GameID:         gameID,
		TargetStatus:   target,
		TransitionTime: at.UTC(),
		Executed:       false,
	}
	err := w.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "game_id"}, {Name: "target_status"}},
			DoUpdates: clause.AssignmentColumns([]string{"transition_time", "executed"}),
		}).
		Create(&transition).Error
	if err != nil {
		return fmt.Errorf("upsert %s transition: %w", target, err)
	}
	return nil
}

func (w *ScheduleWriter) DeleteTransitions(ctx context.Context, gameID string) error {
	return w.db.WithContext(ctx).Where("game_id = ?", gameID).Delete(&entity.GameStatusSchedule{}).Error
}

// ScheduleStore runs ScheduleWriter transactions and emits change signals
type ScheduleStore struct {
	db *gorm.DB
}

func NewScheduleStore(db *gorm.DB) *ScheduleStore {
	return &ScheduleStore{
		db: db,
	}
}

func (s *ScheduleStore) InTx(ctx context.Context, fn func(w service.ScheduleWriter) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(NewScheduleWriter(tx))
	})
}

var _ service.ScheduleWriter = (*ScheduleWriter)(nil)

func (s *ScheduleStore) Notify(ctx context.Context, channel, payload string) error {
	return Notify(ctx, s.db, channel, payload)
}
