package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/common/errorz"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type GameStorage struct {
	db *gorm.DB
}

func NewGameStorage(db *gorm.DB) *GameStorage {
	return &GameStorage{
		db: db,
	}
}

// Create is a function that creates a new game session in the database.
func (s *GameStorage) Create(ctx context.Context, game *entity.GameSession) (*entity.GameSession, error) {
	err := s.db.WithContext(ctx).Create(game).Error
	return game, err
}

// Get returns the game session by id, gorm.ErrRecordNotFound when it does not exist.
func (s *GameStorage) Get(ctx context.Context, id string) (*entity.GameSession, error) {
	var game entity.GameSession
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&game).Error
	return &game, err
}

// GetForUpdate is like Get but locks the row until the transaction ends.
// It returns nil without an error when the game does not exist.
func (s *GameStorage) GetForUpdate(ctx context.Context, id string) (*entity.GameSession, error) {
	var game entity.GameSession
	err := s.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", id).
		Take(&game).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &game, nil
}

func (s *GameStorage) Update(ctx context.Context, game *entity.GameSession) (*entity.GameSession, error) {
	err := s.db.WithContext(ctx).Save(game).Error
	return game, err
}

// UpdateStatus sets the status and updated_at of a game
func (s *GameStorage) UpdateStatus(ctx context.Context, id string, status entity.GameStatus, at time.Time) error {
	res := s.db.WithContext(ctx).
		Model(&entity.GameSession{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{
			"status":     status,
			"updated_at": at,
		})
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

func (s *GameStorage) Delete(ctx context.Context, id string) error {
	return s.db.WithContext(ctx).Where("id = ?", id).Delete(&entity.GameSession{}).Error
}

// AddParticipant registers a user in a game session
func (s *GameStorage) AddParticipant(ctx context.Context, participant *entity.GameParticipant) (*entity.GameParticipant, error) {
	err := s.db.WithContext(ctx).Create(participant).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return nil, errorz.ErrAlreadyJoined
	}
	return participant, err
}

// RemoveParticipant deletes the user from a game session together with their pending
// join notification. It returns false when the user was not a participant.
func (s *GameStorage) RemoveParticipant(ctx context.Context, gameID, userID string) (bool, error) {
	res := s.db.WithContext(ctx).
		Where("game_session_id = ? AND user_id = ?", gameID, userID).
		Delete(&entity.GameParticipant{})
	return res.RowsAffected > 0, res.Error
}
