package entity

import "time"

// GameStatusSchedule is a pending status transition of a game session
type GameStatusSchedule struct {
	ID             string     `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	GameID         string     `gorm:"not null;type:uuid;uniqueIndex:uq_game_status_schedule_game_target"`
	TargetStatus   GameStatus `gorm:"not null;type:varchar(20);uniqueIndex:uq_game_status_schedule_game_target"`
	TransitionTime time.Time  `gorm:"not null;type:timestamp"`
	Executed       bool       `gorm:"not null;default:false"`
	CreatedAt      time.Time

	Game GameSession `gorm:"foreignKey:GameID;constraint:OnDelete:CASCADE"`
}

func (GameStatusSchedule) TableName() string {
	return "game_status_schedule"
}

func (s GameStatusSchedule) ScheduleID() string    { return s.ID }
func (s GameStatusSchedule) GameSessionID() string { return s.GameID }
func (s GameStatusSchedule) DueAt() time.Time      { return s.TransitionTime }
