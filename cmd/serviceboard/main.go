package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/contrib/swagger"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"

	"github.com/ManuelReschke/ServiceBoard/app/models"
	"github.com/ManuelReschke/ServiceBoard/app/repository"
	apiv1 "github.com/ManuelReschke/ServiceBoard/internal/api/v1"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/account"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/cache"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/database"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/env"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/jobqueue"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/mail"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/counter"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/metrics/prom"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/notify"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/publication"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/ratelimit"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/router"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/statistics"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/sweep"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/tariff"
	"github.com/ManuelReschke/ServiceBoard/internal/pkg/topup"
)

func main() {
	env.SetupEnvFile()
	database.SetupDatabase()
	cache.SetupCache()
	prom.Init()

	if err := models.LoadSettings(database.GetDB()); err != nil {
		log.Fatalf("[Settings] could not load settings: %v", err)
	}

	app, background := NewApplication()
	background.Start()

	go func() {
		addr := fmt.Sprintf("%s:%s", env.GetEnv("APP_HOST", "localhost"), env.GetEnv("APP_PORT", "4000"))
		if err := app.Listen(addr); err != nil {
			log.Fatal(err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	log.Info("Shutting down...")
	if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
		log.Errorf("HTTP shutdown: %v", err)
	}
	background.Stop()
}

// background bundles everything that runs outside request handling.
type background struct {
	manager    *jobqueue.Manager
	dispatcher *notify.Dispatcher
	mirror     *ratelimit.MirrorStore
}

func (b *background) Start() {
	b.manager.Start()
}

func (b *background) Stop() {
	b.manager.Stop()
	if err := b.dispatcher.Close(); err != nil {
		log.Errorf("[Notify] close: %v", err)
	}
	if b.mirror != nil {
		if err := b.mirror.Close(); err != nil {
			log.Errorf("[RateLimit] mirror close: %v", err)
		}
	}
}

func NewApplication() (*fiber.App, *background) {
	repository.InitializeFactory(database.GetDB())
	factory := repository.GetGlobalFactory()
	redisClient := cache.GetClient()

	queue := jobqueue.NewQueue(redisClient, env.GetEnvInt("JOBQUEUE_WORKERS", 3))

	sinks := []notify.Sink{notify.NewDBSink(factory)}
	if brokers := env.GetEnvList("KAFKA_BROKERS"); len(brokers) > 0 {
		topic := env.GetEnv("KAFKA_NOTIFICATION_TOPIC", "serviceboard.notifications")
		sinks = append(sinks, notify.NewKafkaSink(brokers, topic))
		log.Infof("[Notify] publishing to kafka topic %s", topic)
	}
	if mailCfg := mail.ConfigFromEnv(); mailCfg.Enabled() {
		sinks = append(sinks, notify.NewEmailSink(factory, mail.NewSMTPMailer(mailCfg), env.GetEnv("PUBLIC_BASE_URL", "")))
		log.Infof("[Notify] mailing via %s", mailCfg.Host)
	}
	dispatcher := notify.NewDispatcher(queue, float64(env.GetEnvInt("NOTIFY_MAX_PER_SECOND", 50)), sinks...)
	queue.RegisterHandler(jobqueue.JobTypeNotification, dispatcher.ProcessJob)

	var store ratelimit.Store = ratelimit.NewMemoryStore()
	if env.GetEnv("RATE_LIMIT_BACKEND", "memory") == "redis" {
		store = ratelimit.NewRedisStore(redisClient)
	}
	var mirror *ratelimit.MirrorStore
	if env.GetEnvBool("RATE_LIMIT_MIRROR", false) {
		mirror = ratelimit.NewMirrorStore(store, factory)
		store = mirror
	}
	limiter := ratelimit.New(store)

	sweeper := sweep.New(factory)
	views := counter.NewViews(redisClient, factory)

	accounts := account.NewService(factory)
	catalog := tariff.NewCatalog(factory, tariff.RedisPlanCache{})
	publications := publication.NewService(factory, sweeper, publication.Options{
		Limiter:  limiter,
		Notifier: dispatcher,
		Views:    views,
	})
	topups := topup.NewService(factory, sweeper, topup.Options{
		Limiter:  limiter,
		Notifier: dispatcher,
	})

	manager := jobqueue.NewManager(queue, jobqueue.ManagerOptions{
		Sweep: sweeper.Run,
		SweepInterval: func() time.Duration {
			return models.GetAppSettings().SweepInterval()
		},
		FlushCounters:        views.Flush,
		CounterFlushInterval: env.GetEnvDuration("COUNTER_FLUSH_INTERVAL", 5*time.Second),
	})

	app := fiber.New(fiber.Config{
		AppName:   "ServiceBoard",
		BodyLimit: 1 << 20,
	})

	// recovery, logging and request metrics
	app.Use(recover.New(), logger.New(), prom.Instrument())

	// SWAGGER / OPENAPI
	docPath := findProjectFile("public/docs/v1/openapi.yml")
	if _, err := apiv1.LoadDocument(context.Background(), docPath); err != nil {
		log.Fatalf("[OpenAPI] %v", err)
	}
	app.Use(swagger.New(swagger.Config{
		BasePath: "/docs/api/",
		FilePath: docPath,
		Path:     "v1",
	}))

	var respondRule func() ratelimit.Rule
	if limit := env.GetEnvInt("RESPOND_RATE_LIMIT", 0); limit > 0 {
		window := env.GetEnvDuration("RESPOND_RATE_WINDOW", time.Hour)
		respondRule = func() ratelimit.Rule {
			return ratelimit.Rule{Limit: limit, Window: window}
		}
	}

	// ROUTER
	router.InstallRouter(app, router.Deps{
		Factory:              factory,
		Accounts:             accounts,
		Catalog:              catalog,
		Publications:         publications,
		TopUps:               topups,
		Sweeper:              sweeper,
		Limiter:              limiter,
		Queue:                queue,
		Stats:                statistics.New(factory, true),
		Redis:                redisClient,
		LimiterStorage:       router.NewLimiterStorage(),
		APIRequestsPerMinute: env.GetEnvInt("API_REQUESTS_PER_MINUTE", 120),
		RespondRule:          respondRule,
		MetricsUser:          env.GetEnv("METRICS_USER", ""),
		MetricsPassword:      env.GetEnv("METRICS_PASSWORD", ""),
	})

	return app, &background{manager: manager, dispatcher: dispatcher, mirror: mirror}
}

// findProjectFile resolves rel against the usual working directories.
func findProjectFile(rel string) string {
	basePaths := []string{
		"./",        // Current directory
		"../../",    // From cmd/serviceboard to project root
		"../../../", // Fallback
	}
	for _, base := range basePaths {
		if _, err := os.Stat(base + rel); err == nil {
			return base + rel
		}
	}
	return rel
}
