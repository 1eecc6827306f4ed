package postgres

import (
	"context"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"gorm.io/gorm"
)

type markDoneFunc func(ctx context.Context, tx *gorm.DB, id string) (bool, error)

// scheduleTx exposes the operations a daemon may perform while processing one item
type scheduleTx struct {
	tx       *gorm.DB
	games    *GameStorage
	markDone markDoneFunc
}

func newScheduleTx(tx *gorm.DB, markDone markDoneFunc) *scheduleTx {
	return &scheduleTx{
		tx:       tx,
		games:    NewGameStorage(tx),
		markDone: markDone,
	}
}

func (t *scheduleTx) GetGame(ctx context.Context, id string) (*entity.GameSession, error) {
	return t.games.GetForUpdate(ctx, id)
}

func (t *scheduleTx) UpdateGameStatus(ctx context.Context, id string, status entity.GameStatus, at time.Time) error {
	return t.games.UpdateStatus(ctx, id, status, at)
}

func (t *scheduleTx) MarkDone(ctx context.Context, id string) (bool, error) {
	return t.markDone(ctx, t.tx, id)
}

// pendingQuery selects the earliest unprocessed row. The flag is compared with a
// literal so that even a generic plan matches the partial next-due index.
func pendingQuery(db *gorm.DB, doneColumn, dueColumn string, exclude []string) *gorm.DB {
	query := db.Where(doneColumn + " = false")
	if len(exclude) > 0 {
		query = query.Where("id NOT IN ?", exclude)
	}
	return query.Order(dueColumn + " ASC").Limit(1)
}
