package scheduler

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/Badsnus/game-scheduler-bot/internal/adapters/broker/kafka"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/config"
	httpController "github.com/Badsnus/game-scheduler-bot/internal/adapters/controller/http"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/postgres"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/redis"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/database/redis/notifications"
	"github.com/Badsnus/game-scheduler-bot/internal/adapters/metrics"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/daemon"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/effect"
	"github.com/Badsnus/game-scheduler-bot/internal/domain/entity"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger"
	"github.com/Badsnus/game-scheduler-bot/pkg/logger/types"
)

const (
	Notifications     = "notifications"
	StatusTransitions = "status-transitions"
)

type publisher interface {
	daemon.Publisher
	Close() error
}

type runner interface {
	Run(ctx context.Context) error
	State() daemon.State
}

// App holds the process wide dependencies shared by both daemons
type App struct {
	Config  *config.Config
	Logger  *types.Logger
	Metrics *metrics.Metrics
	Session *postgres.Session
}

// New initializes logging and metrics and opens the database session
func New(ctx context.Context, cfg *config.Config, name string) (*App, error) {
	err := logger.Init(logger.Config{
		Name:         name,
		Debug:        cfg.Settings.Debug,
		TimeLocation: cfg.Location(),
		LogToFile:    cfg.Settings.LogToFile,
		LogsDir:      cfg.Settings.LogsDir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to init logger: %w", err)
	}

	m := metrics.New()
	logger.SetLogHook(m.LogHook())

	session, err := postgres.NewSession(ctx, DatabaseOptions(cfg))
	if err != nil {
		logger.Log.Errorf("Failed to connect to the database: %v", err)
		return nil, err
	}
	logger.Log.Info("Successfully connected to the database")

	return &App{
		Config:  cfg,
		Logger:  logger.Log,
		Metrics: m,
		Session: session,
	}, nil
}

func DatabaseOptions(cfg *config.Config) postgres.Options {
	return postgres.Options{
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		Name:     cfg.Database.Name,
		SSLMode:  cfg.Database.SSLMode,
		DSN:      cfg.Database.DSN,
		Debug:    cfg.Settings.Debug,
	}
}

// Run starts the named daemon and blocks until ctx is cancelled
func (a *App) Run(ctx context.Context, name string) error {
	defer logger.Sync()

	listenerLogger, err := logger.Named("listener")
	if err != nil {
		return err
	}
	listener := postgres.NewListener(DatabaseOptions(a.Config).ConnString(), postgres.ListenerOptions{
		MinReconnectInterval: a.Config.Daemon.ListenerMinReconnect,
		MaxReconnectInterval: a.Config.Daemon.ListenerMaxReconnect,
	}, listenerLogger)

	daemonLogger, err := logger.Named(name)
	if err != nil {
		return err
	}

	var r runner
	switch name {
	case Notifications:
		pub, errPub := a.newPublisher(ctx)
		if errPub != nil {
			_ = a.Session.Close()
			return errPub
		}
		defer func() {
			if errClose := pub.Close(); errClose != nil {
				a.Logger.Warnf("Failed to close publisher: %v", errClose)
			}
		}()

		r, err = daemon.New(daemon.Config[entity.NotificationSchedule]{
			Name:         name,
			Channel:      postgres.NotificationScheduleChannel,
			Store:        postgres.NewNotificationScheduleStorage(a.Session),
			Listener:     listener,
			BuildEffect:  effect.ForNotification,
			Publisher:    pub,
			MaxTimeout:   a.Config.Daemon.MaxTimeout,
			RetryBackoff: a.Config.Daemon.RetryBackoff,
			Logger:       daemonLogger,
			Recorder:     a.Metrics,
		})
	case StatusTransitions:
		r, err = daemon.New(daemon.Config[entity.GameStatusSchedule]{
			Name:         name,
			Channel:      postgres.StatusScheduleChannel,
			Store:        postgres.NewStatusScheduleStorage(a.Session),
			Listener:     listener,
			BuildEffect:  effect.ForStatusTransition,
			MaxTimeout:   a.Config.Daemon.MaxTimeout,
			RetryBackoff: a.Config.Daemon.RetryBackoff,
			Logger:       daemonLogger,
			Recorder:     a.Metrics,
		})
	default:
		err = fmt.Errorf("unknown daemon %q", name)
	}
	if err != nil {
		_ = a.Session.Close()
		return err
	}

	stopServer := a.serveMetrics(r)
	defer stopServer()

	return r.Run(ctx)
}

func (a *App) newPublisher(ctx context.Context) (publisher, error) {
	switch a.Config.Publisher.Driver {
	case config.PublisherKafka:
		producer, err := kafka.NewSyncProducer(a.Config.Kafka.Brokers)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to kafka: %w", err)
		}
		kafkaLogger, err := logger.Named("kafka")
		if err != nil {
			return nil, err
		}
		a.Logger.Infof("Publishing notifications to kafka topic %s", a.Config.Kafka.Topic)
		return kafka.NewPublisher(producer, a.Config.Kafka.Topic, kafkaLogger), nil
	default:
		client, err := redis.New(ctx, redis.Options{
			Host:     a.Config.Redis.Host,
			Port:     a.Config.Redis.Port,
			Password: a.Config.Redis.Password,
			DB:       a.Config.Redis.DB,
			Channel:  a.Config.Redis.Channel,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.Logger.Infof("Publishing notifications to redis channel %s", client.Notifications.Channel())
		return &redisPublisher{Publisher: client.Notifications, client: client}, nil
	}
}

type redisPublisher struct {
	*notifications.Publisher
	client *redis.Client
}

func (p *redisPublisher) Close() error {
	return p.client.Close()
}

func (a *App) serveMetrics(r runner) func() {
	if a.Config.Settings.MetricsAddr == "" {
		return func() {}
	}

	server := &http.Server{
		Addr:              a.Config.Settings.MetricsAddr,
		Handler:           httpController.NewRouter(httpController.NewHealthHandler(r, a.Session), a.Metrics.Registry),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		a.Logger.Infof("Serving metrics on %s", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.Logger.Errorf("Metrics server failed: %v", err)
		}
	}()

	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			a.Logger.Warnf("Failed to stop metrics server: %v", err)
		}
	}
}
