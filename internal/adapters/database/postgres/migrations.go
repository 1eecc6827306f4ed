package postgres

import (
	"context"
	"fmt"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"gorm.io/gorm"
)

// Migrations is a list of all gorm migrations for the database.
var Migrations = []interface{}{
	&entity.GameSession{},
	&entity.GameParticipant{},
	&entity.NotificationSchedule{},
	&entity.GameStatusSchedule{},
}

// indexes gorm tags cannot express: partial indexes over unprocessed rows keep
// the next-due lookups independent of table size
var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_notification_schedule_next_due
		ON notification_schedule (notification_time) WHERE sent = false`,
	`CREATE INDEX IF NOT EXISTS idx_game_status_schedule_next_due
		ON game_status_schedule (transition_time) WHERE executed = false`,
}

// Migrate creates or updates the schema
func Migrate(ctx context.Context, db *gorm.DB) error {
	db = db.WithContext(ctx)
	if err := db.AutoMigrate(Migrations...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to create index: %w", err)
		}
	}
	return nil
}
