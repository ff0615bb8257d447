package svc

import (
	"context"
	"log"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx driver
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/stores/cache"
	"github.com/zeromicro/go-zero/core/stores/sqlx"
	"github.com/zeromicro/go-zero/core/syncx"

	cachekeys "chatpipe/internal/cache"
	"chatpipe/internal/config"
	"chatpipe/internal/model"
	"chatpipe/internal/repo"
	"chatpipe/pkg/catalog"
	"chatpipe/pkg/confkit"
	invokerpkg "chatpipe/pkg/invoker"
	"chatpipe/pkg/journal"
	pipelinepkg "chatpipe/pkg/pipeline"
)

type ServiceContext struct {
	Config config.Config

	PipelineConfig *pipelinepkg.Config
	InvokerConfig  *invokerpkg.Config

	Store     repo.Store
	Pipelines *pipelinepkg.Handler
	Plugins   *pipelinepkg.Registry
	Builder   *invokerpkg.Builder
	Journal   *journal.Writer

	TTL cachekeys.TTLSet

	// Optional DB wiring (only when Postgres and cache redis are configured)
	DBConn              sqlx.SqlConn
	Cache               cache.Cache
	ChatbotConfigsModel model.ChatbotConfigsModel
}

func NewServiceContext(c config.Config, mainConfigPath string) *ServiceContext {
	svc := &ServiceContext{
		Config:  c,
		TTL:     cachekeys.NewTTLSet(c.TTL),
		Journal: journal.NewWriter(c.JournalDir),
	}

	baseDir := confkit.BaseDir(mainConfigPath)

	// Pipeline config: prefer the section hydrated during config load,
	// otherwise load it from the referenced file.
	pipelineCfg := c.Pipeline.Value
	if pipelineCfg == nil && c.Pipeline.File != "" {
		cfg, err := pipelinepkg.LoadConfig(confkit.ResolvePath(baseDir, c.Pipeline.File))
		if err != nil {
			log.Fatalf("failed to load pipeline config: %v", err)
		}
		pipelineCfg = cfg
	}
	svc.PipelineConfig = pipelineCfg

	// Invoker config: same section treatment, with built-in defaults when
	// the deployment does not carry an invoker file at all.
	invokerCfg := c.Invoker.Value
	if invokerCfg == nil && c.Invoker.File != "" {
		cfg, err := invokerpkg.LoadConfig(confkit.ResolvePath(baseDir, c.Invoker.File))
		if err != nil {
			log.Fatalf("failed to load invoker config: %v", err)
		}
		invokerCfg = cfg
	}
	if invokerCfg == nil {
		cfg, err := invokerpkg.DefaultConfig()
		if err != nil {
			log.Fatalf("failed to build default invoker config: %v", err)
		}
		invokerCfg = cfg
	}
	// Apply test environment defaults: fail fast instead of retrying upstreams.
	if c.IsTestEnv() && invokerCfg.MaxRetries > 1 {
		invokerCfg.MaxRetries = 1
	}
	svc.InvokerConfig = invokerCfg

	// File-defined chatbots and their prompt catalogs come from the pipeline
	// config. They serve as the fallback source when Postgres is wired and as
	// the only source when it is not.
	var prompts map[string]catalog.PromptBuilderCatalog
	var fallback *repo.FileStore
	if pipelineCfg != nil {
		catalogs, err := pipelineCfg.PromptCatalogs()
		if err != nil {
			log.Fatalf("failed to build prompt catalogs: %v", err)
		}
		prompts = catalogs
		store, err := repo.NewFileStore(pipelineCfg, nil)
		if err != nil {
			log.Fatalf("failed to build file store: %v", err)
		}
		fallback = store
	}

	if len(c.CacheRedis) > 0 {
		svc.Cache = cache.New(c.CacheRedis, syncx.NewSingleFlight(), cache.NewStat(cachekeys.Namespace), model.ErrNotFound)
	}

	// Only inject the DB model when DSN provided; the goctl model layer needs
	// cache nodes, so Postgres without CacheRedis is a deployment error.
	if c.Postgres.DSN != "" {
		if len(c.CacheRedis) == 0 {
			log.Fatalf("postgres is configured but cacheredis is empty; the chatbot config model requires cache nodes")
		}
		conn := sqlx.NewSqlConn("pgx", c.Postgres.DSN)
		svc.DBConn = conn
		svc.ChatbotConfigsModel = model.NewChatbotConfigsModel(conn, c.CacheRedis)
	}

	store, err := repo.NewStore(repo.Dependencies{
		DBConn:              svc.DBConn,
		Cache:               svc.Cache,
		TTL:                 svc.TTL,
		ChatbotConfigsModel: svc.ChatbotConfigsModel,
		Fallback:            fallback,
		Prompts:             prompts,
	})
	if err != nil {
		log.Fatalf("failed to build chatbot config store: %v", err)
	}
	svc.Store = store

	builder, err := invokerpkg.NewBuilder(invokerCfg)
	if err != nil {
		log.Fatalf("failed to build lm invoker: %v", err)
	}
	svc.Builder = builder

	svc.Plugins = pipelinepkg.NewRegistry()
	if err := svc.Plugins.Register(builder.PluginInfo(), builder); err != nil {
		log.Fatalf("failed to register lm invoker plugin: %v", err)
	}

	svc.Pipelines = pipelinepkg.NewHandler(pipelinepkg.WithLogger(pipelinepkg.NewLogger(invokerCfg.LogLevel)))
	svc.bootstrapPipelines(context.Background())
	return svc
}

// bootstrapPipelines registers every known chatbot config and installs the
// registered plugins, which builds all pipelines up front. Build failures
// are logged and retried by the next refresh; they never block startup.
func (s *ServiceContext) bootstrapPipelines(ctx context.Context) {
	ids, err := s.Store.ChatbotIDs(ctx)
	if err != nil {
		logx.Errorf("list chatbots at startup: %v", err)
	}
	for _, id := range ids {
		cfg, err := s.Store.Config(ctx, id)
		if err != nil {
			logx.Errorf("load chatbot %s at startup: %v", id, err)
			continue
		}
		s.Pipelines.RegisterConfig(cfg)
	}
	if err := s.Plugins.Install(ctx, s.Pipelines); err != nil {
		logx.Errorf("initial pipeline builds: %v", err)
	}
}

// Close tears down built pipelines. Intended for deferred use at shutdown.
func (s *ServiceContext) Close() {
	if err := s.Pipelines.CleanupAll(context.Background()); err != nil {
		logx.Errorf("pipeline cleanup: %v", err)
	}
}
