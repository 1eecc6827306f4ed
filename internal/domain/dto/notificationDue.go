package dto

import (
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
)

// NotificationDue is handed to the message bus when a scheduled notification fires.
//
// ExpirationMs is nil when the message never expires.
type NotificationDue struct {
	ScheduleID       string                  `json:"schedule_id"`
	GameID           string                  `json:"game_id"`
	NotificationType entity.NotificationType `json:"notification_type"`
	ParticipantID    *string                 `json:"participant_id"`
	ReminderMinutes  *int                    `json:"reminder_minutes,omitempty"`
	DueAt            time.Time               `json:"due_at"`
	ExpirationMs     *int64                  `json:"expiration_ms,omitempty"`
}

func NewNotificationDueFromEntity(n entity.NotificationSchedule) NotificationDue {
	return NotificationDue{
		ScheduleID:       n.ID,
		GameID:           n.GameID,
		NotificationType: n.NotificationType,
		ParticipantID:    n.ParticipantID,
		ReminderMinutes:  n.ReminderMinutes,
		DueAt:            n.NotificationTime,
	}
}

// TTL returns the message expiration as a duration, zero when it never expires
func (m NotificationDue) TTL() time.Duration {
	if m.ExpirationMs == nil {
		return 0
	}
	return time.Duration(*m.ExpirationMs) * time.Millisecond
}
