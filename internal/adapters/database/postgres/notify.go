package postgres

import (
	"context"

	"gorm.io/gorm"
)

const (
	NotificationScheduleChannel = "notification_schedule_changed"
	StatusScheduleChannel       = "game_status_schedule_changed"
)

// Notify publishes a change signal. Listeners only use it as a hint to re-poll.
func Notify(ctx context.Context, db *gorm.DB, channel, payload string) error {
	return db.WithContext(ctx).Exec("SELECT pg_notify(?, ?)", channel, payload).Error
}
