package bootstrap

import (
	"context"

	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"github.com/prometheus/client_golang/prometheus"

	"foresight/internal/adapters/ai"
	chclient "foresight/internal/adapters/clickhouse"
	"foresight/internal/adapters/config"
	"foresight/internal/adapters/kafka"
	"foresight/internal/adapters/market"
	"foresight/internal/adapters/notify"
	pgclient "foresight/internal/adapters/postgres"
	redisclient "foresight/internal/adapters/redis"
	"foresight/internal/adapters/search"
	"foresight/internal/api"
	"foresight/internal/api/health"
	researchapi "foresight/internal/api/research"
	"foresight/internal/domain/aiusage"
	"foresight/internal/domain/research"
	"foresight/internal/metrics"
	chrepo "foresight/internal/repository/clickhouse"
	pgrepo "foresight/internal/repository/postgres"
	redisrepo "foresight/internal/repository/redis"
	researchsvc "foresight/internal/services/research"
	"foresight/internal/workers"
	researchworker "foresight/internal/workers/research"
	"foresight/pkg/errors"
	"foresight/pkg/logger"
)

// Container holds all application dependencies in initialization order.
type Container struct {
	Config       *config.Config
	Log          *logger.Logger
	ErrorTracker errors.Tracker

	// Infrastructure
	PG       *pgclient.Client
	CH       *chclient.Client
	Redis    *redisclient.Client
	Producer *kafka.Producer

	// Repositories
	Jobs     research.JobStore
	EventBus research.EventBus
	Usage    aiusage.Repository

	// Services
	Orchestrator *researchsvc.Orchestrator

	// Application
	Server    *api.Server
	Scheduler *workers.Scheduler
}

// NewContainer wires the full dependency graph. Fails fast on required
// backends (Postgres, Redis); optional ones (ClickHouse, Kafka) degrade to
// nil with a log line.
func NewContainer(cfg *config.Config, tracker errors.Tracker) (*Container, error) {
	log := logger.Get()

	c := &Container{
		Config:       cfg,
		Log:          log,
		ErrorTracker: tracker,
	}

	if err := c.initInfrastructure(); err != nil {
		return nil, err
	}
	c.initRepositories()
	c.initServices()
	c.initApplication()

	log.Info("Container initialized")
	return c, nil
}

func (c *Container) initInfrastructure() error {
	cfg := c.Config

	pg, err := pgclient.NewClient(cfg.Postgres)
	if err != nil {
		return errors.Wrap(err, "connect postgres")
	}
	c.PG = pg

	rd, err := redisclient.NewClient(cfg.Redis)
	if err != nil {
		return errors.Wrap(err, "connect redis")
	}
	c.Redis = rd

	if cfg.ClickHouse.Enabled {
		ch, err := chclient.NewClient(cfg.ClickHouse)
		if err != nil {
			// Usage accounting is not worth refusing to start over.
			c.Log.Warnf("ClickHouse unavailable, usage accounting disabled: %v", err)
		} else {
			c.CH = ch
		}
	}

	if cfg.Kafka.Enabled {
		c.Producer = kafka.NewProducer(kafka.ProducerConfig{Brokers: cfg.Kafka.Brokers})
	}

	return nil
}

func (c *Container) initRepositories() {
	c.EventBus = redisrepo.NewJobEventBus(c.Redis.Client())
	c.Jobs = pgrepo.NewResearchJobRepository(c.PG.DB(), c.EventBus)
	if c.CH != nil {
		c.Usage = chrepo.NewAIUsageRepository(c.CH.Conn())
	}
}

func (c *Container) initServices() {
	cfg := c.Config

	provider := ai.NewOpenRouterProvider(cfg.AI.OpenRouterKey, cfg.AI.BaseURL, cfg.AI.Timeout, cfg.AI.ReqPerMinute)
	searcher := search.NewBraveClient(cfg.Search.BraveKey, cfg.Search.BaseURL, cfg.Search.Timeout, cfg.Search.ReqPerMinute)
	markets := market.NewGammaClient(cfg.Market.GammaBaseURL, cfg.Market.Timeout)

	var notifier research.Notifier
	if cfg.Notify.Enabled {
		notifier = notify.NewResendNotifier(cfg.Notify.ResendKey, cfg.Notify.FromAddress)
	}

	var producer researchsvc.LifecyclePublisher
	if c.Producer != nil {
		producer = c.Producer
	}

	c.Orchestrator = researchsvc.NewOrchestrator(researchsvc.Deps{
		Store:     c.Jobs,
		QueryGen:  researchsvc.NewQueryGenerator(provider, cfg.AI.QueryModel, cfg.Research.QueriesPerIteration),
		Collector: researchsvc.NewCollector(searcher, cfg.Research.ResultsPerQuery),
		Analyzer: researchsvc.NewAnalyzer(provider, c.Jobs, cfg.AI.AnalysisModel,
			cfg.Research.AnalysisCharBudget, cfg.Research.WriteRetryAttempts, cfg.Research.WriteRetryBackoff),
		Synth: researchsvc.NewSynthesizer(provider, c.Jobs, cfg.AI.AnalysisModel,
			cfg.Research.FinalCharBudget, cfg.Research.WriteRetryAttempts, cfg.Research.WriteRetryBackoff),
		Extractor:    researchsvc.NewExtractor(provider, cfg.AI.ExtractionModel),
		Markets:      markets,
		Notifier:     notifier,
		Producer:     producer,
		Usage:        c.Usage,
		ProviderName: provider.Name(),
		AI:           cfg.AI,
		Research:     cfg.Research,
	})
}

func (c *Container) initApplication() {
	cfg := c.Config

	metrics.Init()
	if err := registerJobStats(c); err != nil {
		c.Log.Warnf("Failed to register job stats collector: %v", err)
	}

	var chConn = anyConn(c.CH)
	healthHandler := health.New(c.PG.DB(), chConn, c.Redis.Client(), cfg.App.Name, cfg.App.Version)

	var producer researchapi.LifecyclePublisher
	if c.Producer != nil {
		producer = c.Producer
	}
	researchHandler := researchapi.New(c.Jobs, c.EventBus, c.Orchestrator, producer, cfg.Research)

	c.Server = api.NewServer(api.ServerConfig{
		Port:        cfg.Server.Port,
		ServiceName: cfg.App.Name,
		Version:     cfg.App.Version,
	}, healthHandler, researchHandler)

	c.Scheduler = workers.NewScheduler()
	c.Scheduler.RegisterWorker(researchworker.NewQueueWorker(c.Jobs, c.Orchestrator, cfg.Research.QueuePollInterval))
}

// Start launches background processing. The HTTP server is started by the
// caller since it blocks.
func (c *Container) Start(ctx context.Context) error {
	return c.Scheduler.Start(ctx)
}

func anyConn(ch *chclient.Client) driver.Conn {
	if ch == nil {
		return nil
	}
	return ch.Conn()
}

func registerJobStats(c *Container) error {
	return prometheus.Register(metrics.NewJobStatsCollector(c.PG.DB()))
}
