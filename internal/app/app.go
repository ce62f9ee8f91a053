package app

import (
	"context"
	"fmt"

	badgerdb "github.com/dgraph-io/badger/v4"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/courseforge/internal/common"
	"github.com/ternarybob/courseforge/internal/handlers"
	"github.com/ternarybob/courseforge/internal/interfaces"
	"github.com/ternarybob/courseforge/internal/queue"
	"github.com/ternarybob/courseforge/internal/queue/workers"
	"github.com/ternarybob/courseforge/internal/services/content"
	"github.com/ternarybob/courseforge/internal/services/events"
	jobsvc "github.com/ternarybob/courseforge/internal/services/jobs"
	"github.com/ternarybob/courseforge/internal/services/llm"
	"github.com/ternarybob/courseforge/internal/services/progress"
	"github.com/ternarybob/courseforge/internal/services/scheduler"
	"github.com/ternarybob/courseforge/internal/storage"
)

// App holds all application components and dependencies
type App struct {
	Config         *common.Config
	Logger         arbor.ILogger
	StorageManager interfaces.StorageManager

	// Progress tracking
	Notifier interfaces.ProgressNotifier
	Reporter *progress.Reporter

	// Job execution
	QueueManager *queue.Manager
	JobProcessor *workers.JobProcessor
	JobService   *jobsvc.Service

	// Generation
	ProviderFactory  *llm.ProviderFactory
	ImageService     *llm.ImageService
	ContentGenerator *content.Generator

	SchedulerService interfaces.SchedulerService

	// HTTP handlers
	APIHandler *handlers.APIHandler
	JobHandler *handlers.JobHandler
	WSHandler  *handlers.WebSocketHandler
}

// New initializes the application with all dependencies
func New(cfg *common.Config, logger arbor.ILogger) (*App, error) {
	app := &App{
		Config: cfg,
		Logger: logger,
	}

	if err := app.initDatabase(); err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	if err := app.initServices(); err != nil {
		app.Close()
		return nil, fmt.Errorf("failed to initialize services: %w", err)
	}

	app.initHandlers()

	logger.Info().Msg("Application initialized")
	return app, nil
}

func (a *App) initDatabase() error {
	storageManager, err := storage.NewStorageManager(a.Logger, a.Config)
	if err != nil {
		return fmt.Errorf("failed to create storage manager: %w", err)
	}

	a.StorageManager = storageManager
	a.Logger.Debug().
		Str("storage", "badger").
		Str("path", a.Config.Storage.Badger.Path).
		Msg("Storage layer initialized")

	return nil
}

func (a *App) initServices() error {
	// 1. Progress fan-out, relayed through Redis when instances share a store
	hub := events.NewService(a.Logger, a.Config.WebSocket.SubscriberBuffer)
	a.Notifier = hub
	if a.Config.Notifications.RedisEnabled {
		relay, err := events.NewRedisRelay(&a.Config.Notifications, hub, a.Logger)
		if err != nil {
			hub.Close()
			return fmt.Errorf("failed to start redis relay: %w", err)
		}
		a.Notifier = relay
		a.Logger.Info().Str("addr", a.Config.Notifications.RedisAddr).Msg("Progress notifications relayed through redis")
	}

	a.Reporter = progress.NewReporter(a.StorageManager.ProgressStorage(), a.Notifier, a.Logger)

	// 2. Queues share the storage connection
	db, ok := a.StorageManager.DB().(*badgerdb.DB)
	if !ok {
		return fmt.Errorf("storage manager does not expose a badger database")
	}
	queues, err := queue.NewManager(db, &a.Config.Queue, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create queue manager: %w", err)
	}
	a.QueueManager = queues

	a.JobService = jobsvc.NewService(queues, a.Reporter, a.StorageManager.ProgressStorage(), &a.Config.Generation, a.Logger)

	// 3. Generation services
	a.ProviderFactory = llm.NewProviderFactory(&a.Config.Gemini, &a.Config.Claude, &a.Config.LLM, a.Logger)
	a.ImageService = llm.NewImageService(a.ProviderFactory, &a.Config.Gemini, &a.Config.Storage.Filesystem, a.Logger)
	a.ContentGenerator = content.NewGenerator(a.ProviderFactory, &a.Config.Generation, a.Logger)

	// 4. Workers, one per job family
	courses := a.StorageManager.CourseStorage()
	a.JobProcessor = workers.NewJobProcessor(queues, a.Reporter, a.Logger)
	for _, worker := range []workers.Worker{
		workers.NewImageWorker(a.ImageService, a.Logger),
		workers.NewSubtopicWorker(courses, a.ContentGenerator, a.ImageService, &a.Config.Generation, a.Logger),
		workers.NewTopicWorker(courses, a.ContentGenerator, a.ImageService, &a.Config.Generation, a.Logger),
		workers.NewCourseWorker(courses, a.ContentGenerator, a.JobService, &a.Config.Generation, a.Logger),
	} {
		if err := a.JobProcessor.RegisterWorker(worker); err != nil {
			return fmt.Errorf("failed to register %s worker: %w", worker.Family(), err)
		}
	}

	// 5. Housekeeping
	sched := scheduler.NewService(a.Logger)
	if schedule := a.Config.Queue.StatsSchedule; schedule != "" {
		if err := sched.RegisterJob(scheduler.QueueStatsJobName, schedule, scheduler.QueueStatsJob(queues, a.Logger)); err != nil {
			return fmt.Errorf("failed to register queue stats job: %w", err)
		}
	}
	a.SchedulerService = sched

	return nil
}

func (a *App) initHandlers() {
	a.APIHandler = handlers.NewAPIHandler(a.Logger)
	a.JobHandler = handlers.NewJobHandler(a.JobService, a.StorageManager.CourseStorage(), a.QueueManager, a.Logger)
	a.WSHandler = handlers.NewWebSocketHandler(a.Notifier, a.Logger, &a.Config.WebSocket)
}

// Start begins consuming every job queue and the housekeeping schedule
func (a *App) Start() error {
	if err := a.QueueManager.Start(); err != nil {
		return fmt.Errorf("failed to start job queues: %w", err)
	}
	a.Logger.Info().Msg("Job queues started")

	if err := a.SchedulerService.Start(); err != nil {
		return fmt.Errorf("failed to start scheduler: %w", err)
	}

	a.logQueueDepth()
	return nil
}

// logQueueDepth reports jobs left over from a previous run
func (a *App) logQueueDepth() {
	stats, err := a.QueueManager.Stats(context.Background())
	if err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to read queue stats")
		return
	}
	for _, s := range stats {
		if s.Ready+s.Scheduled > 0 {
			a.Logger.Info().
				Str("queue", s.Name).
				Int("pending", s.Ready+s.Scheduled).
				Msg("Resuming queued jobs")
		}
	}
}

// Close stops consumers before releasing the storage they write to
func (a *App) Close() error {
	if a.SchedulerService != nil {
		if err := a.SchedulerService.Stop(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to stop scheduler service")
		}
	}

	if a.QueueManager != nil {
		a.QueueManager.Stop()
		a.Logger.Info().Msg("Job queues stopped")
	}

	if a.ProviderFactory != nil {
		if err := a.ProviderFactory.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close LLM providers")
		}
	}

	if a.Notifier != nil {
		if err := a.Notifier.Close(); err != nil {
			a.Logger.Warn().Err(err).Msg("Failed to close progress notifier")
		}
	}

	if a.StorageManager != nil {
		if err := a.StorageManager.Close(); err != nil {
			return fmt.Errorf("failed to close storage: %w", err)
		}
		a.Logger.Info().Msg("Storage closed")
	}

	return nil
}
