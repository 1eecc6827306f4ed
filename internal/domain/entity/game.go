package entity

import (
	"time"

	"github.com/lib/pq"
)

type GameStatus string

const (
	GameStatusScheduled  GameStatus = "SCHEDULED"
	GameStatusInProgress GameStatus = "IN_PROGRESS"
	GameStatusCompleted  GameStatus = "COMPLETED"
	GameStatusCancelled  GameStatus = "CANCELLED"
)

// DefaultGameDuration is used for the COMPLETED transition when a game has no expected duration
const DefaultGameDuration = 60 * time.Minute

type GameSession struct {
	ID                      string `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	CreatedAt               time.Time
	UpdatedAt               time.Time
	GuildID                 string        `gorm:"not null;index"`
	ChannelID               string        `gorm:"not null"`
	HostID                  string        `gorm:"not null"`
	Title                   string        `gorm:"not null"`
	ScheduledAt             time.Time     `gorm:"not null;type:timestamp"`
	ExpectedDurationMinutes *int          `gorm:"column:expected_duration_minutes"`
	Status                  GameStatus    `gorm:"not null;type:varchar(20);default:'SCHEDULED';index"`
	ReminderMinutes         pq.Int64Array `gorm:"type:integer[]"`

	Participants []GameParticipant `gorm:"foreignKey:GameSessionID;constraint:OnDelete:CASCADE"`
}

// Duration returns the expected length of the game session
func (g *GameSession) Duration() time.Duration {
	if g.ExpectedDurationMinutes == nil || *g.ExpectedDurationMinutes <= 0 {
		return DefaultGameDuration
	}
	return time.Duration(*g.ExpectedDurationMinutes) * time.Minute
}

// EndsAt returns the time at which the game is expected to be completed
func (g *GameSession) EndsAt() time.Time {
	return g.ScheduledAt.Add(g.Duration())
}

type GameParticipant struct {
	ID            string    `gorm:"primaryKey;type:uuid;default:gen_random_uuid()"`
	GameSessionID string    `gorm:"not null;type:uuid;uniqueIndex:idx_participant_game_user"`
	UserID        string    `gorm:"not null;uniqueIndex:idx_participant_game_user"`
	JoinedAt      time.Time `gorm:"not null;type:timestamp"`
}
