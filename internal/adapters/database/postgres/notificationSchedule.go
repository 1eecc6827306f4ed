package postgres

import (
	"context"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/daemon"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"gorm.io/gorm"
)

var _ daemon.Store[entity.NotificationSchedule] = (*NotificationScheduleStorage)(nil)

// NotificationScheduleStorage is the due-item query layer of notification_schedule
type NotificationScheduleStorage struct {
	session *Session
}

func NewNotificationScheduleStorage(session *Session) *NotificationScheduleStorage {
	return &NotificationScheduleStorage{
		session: session,
	}
}

// GetNextDue returns the unsent notification with the earliest notification_time,
// including ones already in the past and skipping the ids in exclude.
// It returns nil when nothing is pending.
func (s *NotificationScheduleStorage) GetNextDue(ctx context.Context, exclude ...string) (*entity.NotificationSchedule, error) {
	var notifications []entity.NotificationSchedule
	err := pendingQuery(s.session.DB().WithContext(ctx), "sent", "notification_time", exclude).
		Find(&notifications).Error
	if err != nil {
		return nil, err
	}
	if len(notifications) == 0 {
		return nil, nil
	}
	return &notifications[0], nil
}

// MarkSent flags one notification as sent inside tx without committing it.
// It returns false when the row is gone or was already sent.
func (s *NotificationScheduleStorage) MarkSent(ctx context.Context, tx *gorm.DB, id string) (bool, error) {
	res := tx.WithContext(ctx).
		Model(&entity.NotificationSchedule{}).
		Where("id = ? AND sent = false", id).
		Update("sent", true)
	return res.RowsAffected == 1, res.Error
}

func (s *NotificationScheduleStorage) Transaction(ctx context.Context, fn func(tx daemon.Tx) error) error {
	return s.session.DB().WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(newScheduleTx(tx, s.MarkSent))
	})
}

func (s *NotificationScheduleStorage) Reconnect(ctx context.Context) error {
	return s.session.Reconnect(ctx)
}

func (s *NotificationScheduleStorage) Close() error {
	return s.session.Close()
}
