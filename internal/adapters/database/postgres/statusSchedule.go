package postgres

import (
	"context"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/daemon"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"gorm.io/gorm"
)

var _ daemon.Store[entity.GameStatusSchedule] = (*StatusScheduleStorage)(nil)

// StatusScheduleStorage is the due-item query layer of game_status_schedule
type StatusScheduleStorage struct {
	session *Session
}

func NewStatusScheduleStorage(session *Session) *StatusScheduleStorage {
	return &StatusScheduleStorage{
		session: session,
	}
}

// GetNextDue returns the unexecuted transition with the earliest transition_time,
// including ones already in the past and skipping the ids in exclude.
// It returns nil when nothing is pending.
func (s *StatusScheduleStorage) GetNextDue(ctx context.Context, exclude ...string) (*entity.GameStatusSchedule, error) {
	var transitions []entity.GameStatusSchedule
	err := pendingQuery(s.session.DB().WithContext(ctx), "executed", "transition_time", exclude).
		Find(&transitions).Error
	if err != nil {
		return nil, err
	}
	if len(transitions) == 0 {
		return nil, nil
	}
	return &transitions[0], nil
}

// MarkExecuted flags one transition as executed inside tx without committing it.
// It returns false when the row is gone or was already executed.
func (s *StatusScheduleStorage) MarkExecuted(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&entity.GameStatusSchedule{}).
		Where("id = ? AND executed = false", id).
		Update("executed", true)
	return res.RowsAffected == 1, res.Error
}

func (s *StatusScheduleStorage) Transaction(ctx context.Context, fn func(tx daemon.Tx) error) error {
	return s.session.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newScheduleTx(tx, s.MarkExecuted))
	})
}

func (s *StatusScheduleStorage) Reconnect(ctx context.Context) error {
	return s.session.Reconnect(ctx)
}

func (s *StatusScheduleStorage) Close() error {
	return s.session.Close()
}
