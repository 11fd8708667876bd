package bootstrap

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/sync/errgroup"

	"audiobrand-backend/internal/analyses"
	"audiobrand-backend/internal/artifacts"
	"audiobrand-backend/internal/chat"
	"audiobrand-backend/internal/jobs"
	"audiobrand-backend/internal/llm"
	"audiobrand-backend/internal/llm/perplexity"
	"audiobrand-backend/internal/media"
	"audiobrand-backend/internal/media/elevenlabs"
	"audiobrand-backend/internal/media/replicate"
	"audiobrand-backend/internal/projects"
	"audiobrand-backend/internal/queue"
	"audiobrand-backend/internal/report"
	"audiobrand-backend/internal/shared/config"
	"audiobrand-backend/internal/shared/server"
	"audiobrand-backend/internal/shared/storage/db"
	"audiobrand-backend/internal/shared/storage/object"
	localstore "audiobrand-backend/internal/shared/storage/object/local"
	s3store "audiobrand-backend/internal/shared/storage/object/s3"
	"audiobrand-backend/internal/shared/telemetry"
	"audiobrand-backend/internal/snapshots"
	"audiobrand-backend/internal/workerproc"
	"audiobrand-backend/internal/workers"
)

// App holds the wired dependencies shared by the api and worker binaries.
type App struct {
	Config config.Config
	Router *gin.Engine
	DB     *sql.DB
	Store  object.ObjectStore
	Queue  *jobs.Queue

	AnalysesService *analyses.Service
	ProjectsService *projects.Service
	Processor       *workerproc.Processor
	Refresher       *snapshots.Refresher

	AnalysisPool *workers.Pool
	FinalizePool *workers.Pool
}

// Build wires repositories, the job queue, providers, worker pools and the
// HTTP router from cfg.
func Build(ctx context.Context, cfg config.Config) (_ *App, err error) {
	if strings.TrimSpace(cfg.Env) == "" {
		cfg.Env = "dev"
	}

	sqlDB, err := buildDB(ctx, cfg)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil && sqlDB != nil {
			_ = sqlDB.Close()
		}
	}()
	store, err := buildStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	signal, err := buildSignal(ctx, cfg)
	if err != nil {
		return nil, err
	}
	llmClient, err := buildLLM(cfg)
	if err != nil {
		return nil, err
	}
	composer, err := buildComposer(cfg)
	if err != nil {
		return nil, err
	}

	var (
		analysisRepo analyses.Repo
		projectRepo  projects.Repo
		artifactRepo artifacts.Repo
		jobStore     jobs.Store
	)
	if sqlDB != nil {
		analysisRepo = &analyses.PGRepo{DB: sqlDB}
		projectRepo = &projects.PGRepo{DB: sqlDB}
		artifactRepo = &artifacts.PGRepo{DB: sqlDB}
		jobStore = &jobs.PGStore{DB: sqlDB}
	} else {
		analysisRepo = analyses.NewMemoryRepo()
		projectRepo = projects.NewMemoryRepo()
		artifactRepo = artifacts.NewMemoryRepo()
		jobStore = jobs.NewMemoryStore()
	}
	q := jobs.New(jobStore, signal)

	builder := &snapshots.Builder{Projects: projectRepo, Store: store}
	policy := snapshots.DefaultPolicy()
	if cfg.SnapshotMessageModulus > 0 {
		policy.MessageModulus = cfg.SnapshotMessageModulus
	}
	if cfg.SnapshotTimeThreshold > 0 {
		policy.TimeThreshold = cfg.SnapshotTimeThreshold
	}
	refresher := snapshots.NewRefresher(builder, policy)

	projectSvc := &projects.Service{
		Repo:      projectRepo,
		Store:     store,
		Snapshots: refresher,
		UploadTTL: cfg.PresignTTL,
	}
	if p, ok := store.(object.UploadPresigner); ok {
		projectSvc.Presigner = p
	}
	analysisSvc := &analyses.Service{
		Repo:      analysisRepo,
		Projects:  projectRepo,
		Artifacts: artifactRepo,
		Jobs:      q,
	}
	chatSvc := &chat.Service{Projects: projectSvc, LLM: llmClient, Model: cfg.PerplexityModelExploratory}

	proc := &workerproc.Processor{
		Analyses:  analysisRepo,
		Projects:  projectRepo,
		Artifacts: artifactRepo,
		Store:     store,
		LLM:       llmClient,
		Composer:  composer,
		Sanitizer: media.DefaultSanitizer(),
		Reports:   report.NewRenderer(),
		Snapshots: builder,
		Refresher: refresher,
		Config: workerproc.Config{
			ExploratoryModel:  cfg.PerplexityModelExploratory,
			FinalModel:        cfg.PerplexityModelFinal,
			AudioDurationMs:   cfg.AudioDurationMs,
			AudioOutputFormat: cfg.AudioOutputFormat,
		},
	}
	analysisPool := workers.NewPool(q, jobs.QueueAnalysis, poolOptions(cfg, cfg.AnalysisConcurrency))
	finalizePool := workers.NewPool(q, jobs.QueueFinalize, poolOptions(cfg, cfg.FinalizeConcurrency))
	proc.Register(analysisPool, finalizePool)

	app := &App{
		Config:          cfg,
		DB:              sqlDB,
		Store:           store,
		Queue:           q,
		AnalysesService: analysisSvc,
		ProjectsService: projectSvc,
		Processor:       proc,
		Refresher:       refresher,
		AnalysisPool:    analysisPool,
		FinalizePool:    finalizePool,
	}
	app.Router = server.NewRouter(server.Options{
		Env:             cfg.Env,
		CORSAllowOrigin: cfg.CORSAllowOrigin,
		Ready:           app.ready,
		Handlers: []server.Routes{
			projects.NewHandler(projectSvc),
			analyses.NewHandler(analysisSvc),
			artifacts.NewHandler(artifactRepo, store, cfg.PresignTTL),
			chat.NewHandler(chatSvc),
			jobs.NewHandler(q),
		},
	})
	return app, nil
}

// RunWorkers runs both pools until ctx is cancelled or one of them fails.
func (a *App) RunWorkers(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error { return a.AnalysisPool.Run(ctx) })
	g.Go(func() error { return a.FinalizePool.Run(ctx) })
	return g.Wait()
}

// Close stops pending queue wake-ups, waits for snapshot refreshes and
// releases the database.
func (a *App) Close() error {
	a.Queue.Close()
	a.Refresher.Wait()
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}

func (a *App) ready(ctx context.Context) error {
	if a.DB == nil {
		return nil
	}
	return a.DB.PingContext(ctx)
}

func poolOptions(cfg config.Config, concurrency int) workers.Options {
	return workers.Options{
		Concurrency:     concurrency,
		PollInterval:    cfg.JobPollInterval,
		Lease:           cfg.JobLease,
		ShutdownTimeout: cfg.WorkerShutdownTimeout,
	}
}

// connectDB is replaced in tests.
var connectDB = db.Connect

func buildDB(ctx context.Context, cfg config.Config) (*sql.DB, error) {
	if strings.TrimSpace(cfg.DatabaseURL) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.memory_repos", map[string]any{"reason": "DATABASE_URL empty"})
			return nil, nil
		}
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	defaults := db.DefaultServerOptions()
	if cfg.RunWorkersInline || cfg.Role == "worker" {
		defaults = db.DefaultWorkerOptions(cfg.AnalysisConcurrency + cfg.FinalizeConcurrency)
	}
	opts := db.OptionsFromEnv(defaults)
	sqlDB, err := connectDB(ctx, cfg.DatabaseURL, opts)
	if err != nil {
		return nil, err
	}
	return sqlDB, nil
}

func buildStore(ctx context.Context, cfg config.Config) (object.ObjectStore, error) {
	switch cfg.ObjectStoreType {
	case "s3":
		return s3store.New(ctx, s3store.Options{
			Region:         cfg.AWSRegion,
			Bucket:         cfg.S3Bucket,
			Prefix:         cfg.S3Prefix,
			KMSKeyID:       cfg.SSEKMSKeyID,
			Endpoint:       cfg.S3Endpoint,
			ForcePathStyle: cfg.S3ForcePathStyle,
		})
	default:
		return localstore.New(cfg.LocalStoreDir), nil
	}
}

// buildSignal returns nil, meaning an in-process channel, unless SQS urls are set.
func buildSignal(ctx context.Context, cfg config.Config) (queue.Signal, error) {
	urls := map[string]string{
		jobs.QueueAnalysis: cfg.SQSAnalysisQueueURL,
		jobs.QueueFinalize: cfg.SQSFinalizeQueueURL,
	}
	if strings.TrimSpace(cfg.SQSAnalysisQueueURL) == "" && strings.TrimSpace(cfg.SQSFinalizeQueueURL) == "" {
		return nil, nil
	}
	return queue.NewSQSSignal(ctx, cfg.AWSRegion, urls)
}

func buildLLM(cfg config.Config) (llm.Client, error) {
	if strings.TrimSpace(cfg.PerplexityAPIKey) == "" {
		if isDevLike(cfg.Env) {
			telemetry.Warn("bootstrap.llm_unconfigured", map[string]any{"provider": "perplexity"})
			return unconfiguredLLM{}, nil
		}
		return nil, fmt.Errorf("PERPLEXITY_API_KEY is required")
	}
	return perplexity.NewClient(cfg.PerplexityAPIKey, cfg.PerplexityBaseURL, cfg.LLMTimeout)
}

func buildComposer(cfg config.Config) (media.Composer, error) {
	switch cfg.MusicProvider {
	case "replicate":
		if strings.TrimSpace(cfg.ReplicateAPIToken) == "" && isDevLike(cfg.Env) {
			return unconfiguredComposer{name: "replicate"}, nil
		}
		return replicate.NewClient(cfg.ReplicateAPIToken, cfg.AceStepModelVersion, cfg.ReplicateBaseURL, cfg.LLMTimeout)
	default:
		if strings.TrimSpace(cfg.ElevenLabsAPIKey) == "" && isDevLike(cfg.Env) {
			return unconfiguredComposer{name: "elevenlabs"}, nil
		}
		return elevenlabs.NewClient(cfg.ElevenLabsAPIKey, cfg.ElevenLabsBaseURL, cfg.LLMTimeout)
	}
}

func isDevLike(env string) bool {
	switch strings.ToLower(strings.TrimSpace(env)) {
	case "dev", "local":
		return true
	default:
		return false
	}
}

var errUnconfigured = errors.New("provider not configured")

type unconfiguredLLM struct{}

func (unconfiguredLLM) Complete(ctx context.Context, req llm.Request) (llm.Response, error) {
	return llm.Response{}, fmt.Errorf("perplexity: %w", errUnconfigured)
}

func (unconfiguredLLM) Stream(ctx context.Context, req llm.Request) (llm.Stream, error) {
	return nil, fmt.Errorf("perplexity: %w", errUnconfigured)
}

type unconfiguredComposer struct{ name string }

func (c unconfiguredComposer) Compose(ctx context.Context, req media.ComposeRequest) ([]byte, error) {
	return nil, fmt.Errorf("%s: %w", c.name, errUnconfigured)
}

func (c unconfiguredComposer) Name() string { return c.name }
