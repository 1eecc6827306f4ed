package postgres_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/postgres"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/common/errorz"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/daemon"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/effect"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/service"
	"github.com/Badsnus/game-scheduler-bot/internal/testutil"
	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"gorm.io/gorm"
)

type ScheduleStorageIntegrationTestSuite struct {
	suite.Suite
	container testcontainers.Container
	opts      postgres.Options
	db        *gorm.DB
	ctx       context.Context

	session       *postgres.Session
	notifications *postgres.NotificationScheduleStorage
	transitions   *postgres.StatusScheduleStorage
	writer        *postgres.ScheduleWriter
}

func (suite *ScheduleStorageIntegrationTestSuite) SetupSuite() {
	suite.ctx = context.Background()
	suite.container, suite.opts, suite.db = testutil.SetupTestDatabase(suite.T(), suite.ctx)
}

func (suite *ScheduleStorageIntegrationTestSuite) TearDownSuite() {
	testutil.CleanupTestDatabase(suite.T(), suite.ctx, suite.container, suite.db)
}

func (suite *ScheduleStorageIntegrationTestSuite) SetupTest() {
	testutil.TruncateTables(suite.T(), suite.ctx, suite.db)

	session, err := postgres.NewSession(suite.ctx, suite.opts)
	require.NoError(suite.T(), err)
	suite.session = session
	suite.notifications = postgres.NewNotificationScheduleStorage(session)
	suite.transitions = postgres.NewStatusScheduleStorage(session)
	suite.writer = postgres.NewScheduleWriter(suite.db)
}

func (suite *ScheduleStorageIntegrationTestSuite) TearDownTest() {
	_ = suite.session.Close()
}

func (suite *ScheduleStorageIntegrationTestSuite) createGame(status entity.GameStatus, scheduledAt time.Time) *entity.GameSession {
	game := &entity.GameSession{
		GuildID:     "guild-1",
		ChannelID:   "channel-1",
		HostID:      "host-1",
		Title:       "Friday raid",
		ScheduledAt: scheduledAt.UTC(),
		Status:      status,
	}
	require.NoError(suite.T(), suite.writer.CreateGame(suite.ctx, game))
	require.NotEmpty(suite.T(), game.ID)
	return game
}

func (suite *ScheduleStorageIntegrationTestSuite) createReminder(gameID string, minutes int, at time.Time) *entity.NotificationSchedule {
	n := &entity.NotificationSchedule{
		GameID:           gameID,
		NotificationType: entity.NotificationTypeReminder,
		ReminderMinutes:  &minutes,
		NotificationTime: at.UTC(),
	}
	require.NoError(suite.T(), suite.writer.CreateNotification(suite.ctx, n))
	return n
}

func (suite *ScheduleStorageIntegrationTestSuite) TestGetNextDueNotificationEmpty() {
	next, err := suite.notifications.GetNextDue(suite.ctx)

	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), next)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestGetNextDueNotificationReturnsEarliest() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now.Add(3*time.Hour))

	// inserted latest-first on purpose
	suite.createReminder(game.ID, 60, now.Add(2*time.Hour))
	soonest := suite.createReminder(game.ID, 15, now.Add(45*time.Minute))

	next, err := suite.notifications.GetNextDue(suite.ctx)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), soonest.ID, next.ID)
	assert.Equal(suite.T(), 15, *next.ReminderMinutes)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestGetNextDueNotificationIncludesOverdue() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now.Add(time.Hour))
	overdue := suite.createReminder(game.ID, 120, now.Add(-time.Hour))
	suite.createReminder(game.ID, 30, now.Add(30*time.Minute))

	next, err := suite.notifications.GetNextDue(suite.ctx)

	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), overdue.ID, next.ID)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestGetNextDueSkipsExcludedIDs() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now.Add(time.Hour))
	held := suite.createReminder(game.ID, 120, now.Add(-2*time.Hour))
	next := suite.createReminder(game.ID, 60, now.Add(-time.Hour))

	got, err := suite.notifications.GetNextDue(suite.ctx, held.ID)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), got)
	assert.Equal(suite.T(), next.ID, got.ID)

	got, err = suite.notifications.GetNextDue(suite.ctx, held.ID, next.ID)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), got)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestNextDueQueryUsesPartialIndex() {
	cases := []struct {
		rows  interface{}
		done  string
		due   string
		index string
	}{
		{&[]entity.NotificationSchedule{}, "sent", "notification_time", "idx_notification_schedule_next_due"},
		{&[]entity.GameStatusSchedule{}, "executed", "transition_time", "idx_game_status_schedule_next_due"},
	}

	for _, tc := range cases {
		stmt := postgres.PendingQuery(suite.db.Session(&gorm.Session{DryRun: true}), tc.done, tc.due, nil).
			Find(tc.rows).Statement
		assert.Empty(suite.T(), stmt.Vars, "done flag must not be a bind parameter")

		var plan []string
		err := suite.db.Transaction(func(tx *gorm.DB) error {
			if err := tx.Exec("SET LOCAL enable_seqscan = off").Error; err != nil {
				return err
			}
			return tx.Raw("EXPLAIN " + stmt.SQL.String()).Scan(&plan).Error
		})
		require.NoError(suite.T(), err)
		assert.Contains(suite.T(), strings.Join(plan, "\n"), tc.index)
	}
}

func (suite *ScheduleStorageIntegrationTestSuite) TestMarkSentIsIdempotent() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now.Add(time.Hour))
	n := suite.createReminder(game.ID, 60, now)

	first, err := suite.notifications.MarkSent(suite.ctx, suite.db, n.ID)
	assert.NoError(suite.T(), err)
	assert.True(suite.T(), first)

	second, err := suite.notifications.MarkSent(suite.ctx, suite.db, n.ID)
	assert.NoError(suite.T(), err)
	assert.False(suite.T(), second)

	next, err := suite.notifications.GetNextDue(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), next)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestMarkSentUnknownID() {
	marked, err := suite.notifications.MarkSent(suite.ctx, suite.db, uuid.NewString())

	assert.NoError(suite.T(), err)
	assert.False(suite.T(), marked)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestMarkExecutedRolledBackWithTransaction() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now)
	require.NoError(suite.T(), suite.writer.UpsertTransition(suite.ctx, game.ID, entity.GameStatusInProgress, now))
	pending, err := suite.transitions.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), pending)

	err = suite.transitions.Transaction(suite.ctx, func(tx daemon.Tx) error {
		marked, errMark := tx.MarkDone(suite.ctx, pending.ID)
		require.NoError(suite.T(), errMark)
		assert.True(suite.T(), marked)
		return assert.AnError
	})
	assert.ErrorIs(suite.T(), err, assert.AnError)

	next, err := suite.transitions.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), pending.ID, next.ID)
	assert.False(suite.T(), next.Executed)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestDuplicateTransitionViolatesUniqueness() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now)

	first := &entity.GameStatusSchedule{GameID: game.ID, TargetStatus: entity.GameStatusCompleted, TransitionTime: now.Add(time.Hour)}
	second := &entity.GameStatusSchedule{GameID: game.ID, TargetStatus: entity.GameStatusCompleted, TransitionTime: now.Add(2 * time.Hour)}

	assert.NoError(suite.T(), suite.writer.CreateTransition(suite.ctx, first))
	assert.ErrorIs(suite.T(), suite.writer.CreateTransition(suite.ctx, second), gorm.ErrDuplicatedKey)

	var count int64
	require.NoError(suite.T(), suite.db.Model(&entity.GameStatusSchedule{}).Where("game_id = ?", game.ID).Count(&count).Error)
	assert.Equal(suite.T(), int64(1), count)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestDuplicateReminderViolatesUniqueness() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now.Add(time.Hour))
	suite.createReminder(game.ID, 15, now)

	minutes := 15
	err := suite.writer.CreateNotification(suite.ctx, &entity.NotificationSchedule{
		GameID:           game.ID,
		NotificationType: entity.NotificationTypeReminder,
		ReminderMinutes:  &minutes,
		NotificationTime: now,
	})
	assert.Error(suite.T(), err)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestUpsertTransitionResetsExecuted() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now)
	require.NoError(suite.T(), suite.writer.UpsertTransition(suite.ctx, game.ID, entity.GameStatusInProgress, now))

	pending, err := suite.transitions.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), pending)
	marked, err := suite.transitions.MarkExecuted(suite.ctx, suite.db, pending.ID)
	require.NoError(suite.T(), err)
	require.True(suite.T(), marked)

	later := now.Add(time.Hour).Truncate(time.Microsecond)
	require.NoError(suite.T(), suite.writer.UpsertTransition(suite.ctx, game.ID, entity.GameStatusInProgress, later))

	next, err := suite.transitions.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), pending.ID, next.ID)
	assert.False(suite.T(), next.Executed)
	assert.True(suite.T(), later.Equal(next.TransitionTime))
}

func (suite *ScheduleStorageIntegrationTestSuite) TestDeletingGameCascades() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now)
	suite.createReminder(game.ID, 15, now)
	require.NoError(suite.T(), suite.writer.UpsertTransition(suite.ctx, game.ID, entity.GameStatusInProgress, now))

	require.NoError(suite.T(), postgres.NewGameStorage(suite.db).Delete(suite.ctx, game.ID))

	n, err := suite.notifications.GetNextDue(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), n)
	tr, err := suite.transitions.GetNextDue(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), tr)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestProcessOverdueTransition() {
	now := time.Now().UTC()
	game := suite.createGame(entity.GameStatusScheduled, now.Add(-time.Second))
	require.NoError(suite.T(), suite.writer.UpsertTransition(suite.ctx, game.ID, entity.GameStatusInProgress, now.Add(-time.Second)))

	listener := postgres.NewListener(suite.opts.ConnString(), postgres.ListenerOptions{}, nil)
	defer listener.Close()

	p, err := daemon.New(daemon.Config[entity.GameStatusSchedule]{
		Name:        "status-transitions",
		Channel:     postgres.StatusScheduleChannel,
		Store:       suite.transitions,
		Listener:    listener,
		BuildEffect: effect.ForStatusTransition,
	})
	require.NoError(suite.T(), err)

	p.RunOnce(suite.ctx)

	updated, err := postgres.NewGameStorage(suite.db).Get(suite.ctx, game.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), entity.GameStatusInProgress, updated.Status)

	var transition entity.GameStatusSchedule
	require.NoError(suite.T(), suite.db.Where("game_id = ? AND target_status = ?", game.ID, entity.GameStatusInProgress).First(&transition).Error)
	assert.True(suite.T(), transition.Executed)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestListenerReceivesSignal() {
	listener := postgres.NewListener(suite.opts.ConnString(), postgres.ListenerOptions{}, nil)
	require.NoError(suite.T(), listener.Connect(suite.ctx))
	defer listener.Close()
	require.NoError(suite.T(), listener.Listen(postgres.NotificationScheduleChannel))

	received, _, err := listener.WaitForNotification(suite.ctx, 50*time.Millisecond)
	require.NoError(suite.T(), err)
	assert.False(suite.T(), received)

	require.NoError(suite.T(), postgres.Notify(suite.ctx, suite.db, postgres.NotificationScheduleChannel, "game-1"))

	received, payload, err := listener.WaitForNotification(suite.ctx, 5*time.Second)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), received)
	assert.Equal(suite.T(), "game-1", payload)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestListenerCloseIsIdempotent() {
	listener := postgres.NewListener(suite.opts.ConnString(), postgres.ListenerOptions{}, nil)

	assert.NoError(suite.T(), listener.Close())
	require.NoError(suite.T(), listener.Connect(suite.ctx))
	assert.NoError(suite.T(), listener.Close())
	assert.NoError(suite.T(), listener.Close())

	_, _, err := listener.WaitForNotification(suite.ctx, time.Millisecond)
	assert.ErrorIs(suite.T(), err, postgres.ErrListenerClosed)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestSessionReconnect() {
	require.NoError(suite.T(), suite.session.Reconnect(suite.ctx))

	next, err := suite.notifications.GetNextDue(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), next)
}

func (suite *ScheduleStorageIntegrationTestSuite) newScheduleService() *service.ScheduleService {
	return service.NewScheduleService(nil, postgres.NewScheduleStore(suite.db), service.ScheduleChannels{
		Notifications:     postgres.NotificationScheduleChannel,
		StatusTransitions: postgres.StatusScheduleChannel,
	}, 0)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestScheduleServiceLifecycle() {
	svc := suite.newScheduleService()
	start := time.Now().UTC().Add(2 * time.Hour).Truncate(time.Microsecond)

	listener := postgres.NewListener(suite.opts.ConnString(), postgres.ListenerOptions{}, nil)
	require.NoError(suite.T(), listener.Connect(suite.ctx))
	defer listener.Close()
	require.NoError(suite.T(), listener.Listen(postgres.StatusScheduleChannel))

	game := &entity.GameSession{
		GuildID:         "guild-1",
		ChannelID:       "channel-1",
		HostID:          "host-1",
		Title:           "Board game night",
		ScheduledAt:     start,
		ReminderMinutes: pq.Int64Array{60, 15},
	}
	require.NoError(suite.T(), svc.ScheduleGame(suite.ctx, game))

	received, payload, err := listener.WaitForNotification(suite.ctx, 5*time.Second)
	require.NoError(suite.T(), err)
	assert.True(suite.T(), received)
	assert.Equal(suite.T(), game.ID, payload)

	next, err := suite.notifications.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), 60, *next.ReminderMinutes)
	assert.True(suite.T(), start.Add(-time.Hour).Equal(next.NotificationTime))

	transition, err := suite.transitions.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), transition)
	assert.Equal(suite.T(), entity.GameStatusInProgress, transition.TargetStatus)
	assert.True(suite.T(), start.Equal(transition.TransitionTime))

	participant, err := svc.JoinGame(suite.ctx, game.ID, "user-1")
	require.NoError(suite.T(), err)
	assert.NotEmpty(suite.T(), participant.ID)

	_, err = svc.JoinGame(suite.ctx, game.ID, "user-1")
	assert.ErrorIs(suite.T(), err, errorz.ErrAlreadyJoined)

	next, err = suite.notifications.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), entity.NotificationTypeJoin, next.NotificationType)
	require.NotNil(suite.T(), next.ParticipantID)
	assert.Equal(suite.T(), participant.ID, *next.ParticipantID)

	require.NoError(suite.T(), svc.LeaveGame(suite.ctx, game.ID, "user-1"))
	assert.ErrorIs(suite.T(), svc.LeaveGame(suite.ctx, game.ID, "user-1"), errorz.ErrNotJoined)

	next, err = suite.notifications.GetNextDue(suite.ctx)
	require.NoError(suite.T(), err)
	require.NotNil(suite.T(), next)
	assert.Equal(suite.T(), entity.NotificationTypeReminder, next.NotificationType)

	require.NoError(suite.T(), svc.CancelGame(suite.ctx, game.ID))

	cancelled, err := postgres.NewGameStorage(suite.db).Get(suite.ctx, game.ID)
	require.NoError(suite.T(), err)
	assert.Equal(suite.T(), entity.GameStatusCancelled, cancelled.Status)

	next, err = suite.notifications.GetNextDue(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), next)
	transition, err = suite.transitions.GetNextDue(suite.ctx)
	assert.NoError(suite.T(), err)
	assert.Nil(suite.T(), transition)
}

func (suite *ScheduleStorageIntegrationTestSuite) TestRescheduleGameReplacesReminders() {
	svc := suite.newScheduleService()
	start := time.Now().UTC().Add(3 * time.Hour).Truncate(time.Microsecond)
	game := &entity.GameSession{
		GuildID:         "guild-1",
		ChannelID:       "channel-1",
		HostID:          "host-1",
		Title:           "Campaign session",
		ScheduledAt:     start,
		ReminderMinutes: pq.Int64Array{30},
	}
	require.NoError(suite.T(), svc.ScheduleGame(suite.ctx, game))

	later := start.Add(24 * time.Hour)
	duration := 120
	_, err := svc.RescheduleGame(suite.ctx, game.ID, later, &duration, nil)
	require.NoError(suite.T(), err)

	var reminders []entity.NotificationSchedule
	require.NoError(suite.T(), suite.db.Where("game_id = ?", game.ID).Find(&reminders).Error)
	require.Len(suite.T(), reminders, 1)
	assert.True(suite.T(), later.Add(-30*time.Minute).Equal(reminders[0].NotificationTime))

	var completion entity.GameStatusSchedule
	require.NoError(suite.T(), suite.db.
		Where("game_id = ? AND target_status = ?", game.ID, entity.GameStatusCompleted).
		First(&completion).Error)
	assert.True(suite.T(), later.Add(2*time.Hour).Equal(completion.TransitionTime))
}

func TestScheduleStorageIntegrationTestSuite(t *testing.T) {
	suite.Run(t, new(ScheduleStorageIntegrationTestSuite))
}
