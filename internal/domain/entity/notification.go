package entity

import "time"

type NotificationType string

const (
	NotificationTypeReminder NotificationType = "reminder"
	NotificationTypeJoin     NotificationType = "join_notification"
)

// NotificationSchedule is a notification that becomes due at NotificationTime.
//
// Reminder rows carry ReminderMinutes and no ParticipantID, join rows carry
// ParticipantID and no ReminderMinutes.
type NotificationSchedule struct {
	ID               string           `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	GameID           string           `gorm:"not null;type:uuid;uniqueIndex:uq_notification_schedule_game_reminder"`
	NotificationType NotificationType `gorm:"not null;type:varchar(50);default:'reminder'"`
	ParticipantID    *string          `gorm:"type:uuid"`
	ReminderMinutes  *int             `gorm:"uniqueIndex:uq_notification_schedule_game_reminder"`
	NotificationTime time.Time        `gorm:"not null;type:timestamp"`
	GameScheduledAt  *time.Time       `gorm:"type:timestamp"`
	Sent             bool             `gorm:"not null;default:false"`
	CreatedAt        time.Time

	Game        GameSession      `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
	Participant *GameParticipant `gorm:"foreignKey:ParticipantID;constraint:OnDelete:CASCADE"`
}

func (NotificationSchedule) TableName() string {
	return "notification_schedule"
}

func (n NotificationSchedule) ScheduleID() string    { return n.ID }
func (n NotificationSchedule) GameSessionID() string { return n.GameID }
func (n NotificationSchedule) DueAt() time.Time      { return n.NotificationTime }
