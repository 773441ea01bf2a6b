// tabulard wires the core services: config, logging, tracing, the Postgres
// and Redis pools, the asset stores, the sharing resolver, and the agent
// runtime. Transport layers (HTTP/WebSocket) mount on top of the assembled
// services.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"tabular/internal/catalog"
	"tabular/internal/chats"
	"tabular/internal/config"
	"tabular/internal/database"
	"tabular/internal/files"
	"tabular/internal/llm"
	"tabular/internal/observability"
	"tabular/internal/queryengine"
	"tabular/internal/search"
	"tabular/internal/sharing"
	"tabular/internal/stores"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		observability.InitLogger("", "info")
		log.Fatal().Err(err).Msg("config_load_failed")
	}
	observability.InitLogger(cfg.LogPath, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownOTel, err := observability.InitOTel(ctx, cfg.OTLPEndpoint, string(cfg.Environment))
	if err != nil {
		log.Fatal().Err(err).Msg("otel_init_failed")
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownOTel(sctx)
	}()

	pool, err := database.OpenPool(ctx, cfg.PoolerURL)
	if err != nil {
		log.Fatal().Err(err).Msg("postgres_open_failed")
	}
	defer pool.Close()

	var sessionCache *database.SessionCache
	if cfg.RedisURL != "" {
		redisClient, err := database.OpenRedis(ctx, cfg.RedisURL)
		if err != nil {
			log.Fatal().Err(err).Msg("redis_open_failed")
		}
		defer func() { _ = redisClient.Close() }()
		sessionCache = database.NewSessionCache(redisClient, 30*time.Minute)
	}

	httpClient := &http.Client{Timeout: 120 * time.Second}

	metricStore := stores.NewPostgresMetricStore(pool)
	dashboardStore := stores.NewPostgresDashboardStore(pool)
	collectionStore := stores.NewPostgresCollectionStore(pool)
	chatStore := stores.NewPostgresChatStore(pool)
	permissionStore := stores.NewPostgresPermissionStore(pool)
	datasetStore := stores.NewPostgresDatasetStore(pool)
	orgStore := stores.NewPostgresOrganizationStore(pool)
	index := search.NewPostgres(pool)

	resolver := sharing.NewResolver(sharing.NewStore(
		metricStore, dashboardStore, collectionStore, chatStore, permissionStore))

	engine := queryengine.NewHTTPEngine(cfg.QueryEngineURL, cfg.WebhookToken, httpClient)

	deps := &files.Deps{
		Metrics:       metricStore,
		Dashboards:    dashboardStore,
		Collections:   collectionStore,
		Datasets:      datasetStore,
		Orgs:          orgStore,
		Permissions:   permissionStore,
		Resolver:      resolver,
		Engine:        engine,
		Index:         index,
		PaymentGating: cfg.PaymentGatingEnabled(),
	}
	metricService := files.NewMetricService(deps)
	dashboardService := files.NewDashboardService(deps)
	collectionService := files.NewCollectionService(deps)

	provider := llm.NewOpenAIClient(cfg.LLMBaseURL, cfg.LLMAPIKey, cfg.LLMModel, httpClient)
	embedder := llm.NewEmbedder(cfg.EmbedBaseURL, cfg.EmbedAPIKey, cfg.EmbedModel, httpClient)
	reranker := llm.NewReranker(cfg.RerankBaseURL, cfg.RerankAPIKey, cfg.RerankModel, httpClient)
	searcher := catalog.NewSearcher(datasetStore, catalog.NewPostgresValueStore(pool), embedder, reranker)

	chatService := chats.NewService(chats.ServiceConfig{
		Chats:      chatStore,
		Metrics:    metricService,
		Dashboards: dashboardService,
		MetricRows: metricStore,
		DashRows:   dashboardStore,
		Perms:      permissionStore,
		Resolver:   resolver,
		Index:      index,
		Provider:   provider,
		TitleModel: cfg.LLMModel,
		Cache:      sessionCache,
	})

	app := &App{
		Config:      cfg,
		Metrics:     metricService,
		Dashboards:  dashboardService,
		Collections: collectionService,
		Chats:       chatService,
		Catalog:     searcher,
		Resolver:    resolver,
		Provider:    provider,
		Engine:      engine,
		Index:       index,
	}
	_ = app // transports mount on the assembled app

	log.Info().
		Str("environment", string(cfg.Environment)).
		Bool("payment_gating", cfg.PaymentGatingEnabled()).
		Msg("tabulard_ready")

	<-ctx.Done()
	log.Info().Msg("tabulard_shutdown")
}

// App is the assembled service graph a transport layer consumes.
type App struct {
	Config      *config.Config
	Metrics     *files.MetricService
	Dashboards  *files.DashboardService
	Collections *files.CollectionService
	Chats       *chats.Service
	Catalog     *catalog.Searcher
	Resolver    *sharing.Resolver
	Provider    llm.Provider
	Engine      queryengine.Engine
	Index       search.Index
}
