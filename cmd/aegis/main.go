// Command aegis boots the Investigation Engine: it wires configuration,
// persistence, the LLM and vector adapters, the background worker pool,
// and the Milestone Engine behind a thin Gin HTTP layer.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"

	"github.com/gin-gonic/gin"

	"github.com/aegisops/aegis/pkg/cache"
	"github.com/aegisops/aegis/pkg/config"
	"github.com/aegisops/aegis/pkg/engine"
	"github.com/aegisops/aegis/pkg/engine/prompt"
	"github.com/aegisops/aegis/pkg/investigation"
	"github.com/aegisops/aegis/pkg/jobs"
	"github.com/aegisops/aegis/pkg/llmadapter"
	"github.com/aegisops/aegis/pkg/services"
	"github.com/aegisops/aegis/pkg/storage"
	"github.com/aegisops/aegis/pkg/transport"
	"github.com/aegisops/aegis/pkg/vectoradapter"
)

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	flag.Parse()

	ctx := context.Background()

	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		log.Fatalf("failed to initialize configuration: %v", err)
	}
	gin.SetMode(cfg.Server.GinMode)

	dbClient, err := storage.NewClient(ctx, storage.Config{
		Host:            cfg.Database.Host,
		Port:            cfg.Database.Port,
		User:            cfg.Database.User,
		Password:        cfg.Database.Password,
		Database:        cfg.Database.Database,
		SSLMode:         cfg.Database.SSLMode,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
	})
	if err != nil {
		log.Fatalf("failed to connect to database: %v", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			slog.Warn("error closing database client", "error", err)
		}
	}()
	slog.Info("connected to PostgreSQL, migrations applied")

	redisCache := cache.Dial(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)

	vectorStore, err := vectoradapter.New(cfg.Vector.PersistPath)
	if err != nil {
		log.Fatalf("failed to open vector store: %v", err)
	}

	llmCfg := llmadapter.NewConfig(cfg.LLM.Model)
	llmCfg.Temperature = cfg.LLM.Temperature
	llmCfg.MaxTokens = int64(cfg.LLM.MaxTokens)
	llmCfg.CallTimeout = cfg.LLM.CallTimeout
	llmCfg.MaxRetries = uint64(cfg.LLM.MaxRetries)
	llmCfg.BackoffBase = cfg.LLM.BackoffBase
	llmCfg.BackoffCap = cfg.LLM.BackoffCap
	llmCfg.BreakerFailures = cfg.LLM.BreakerFailures
	llmClient := llmadapter.New(cfg.LLM.APIKey, llmCfg)
	// No Embedder is attached: the Anthropic Messages API adapter does
	// not support embeddings (llmadapter.Adapter.Embed always errors),
	// so evidence indexing jobs carry a pre-computed vector rather than
	// raw text (see DESIGN.md).

	workerPool := jobs.NewPool(cfg.Queue.WorkerCount, cfg.Queue.QueueDepth)
	defer workerPool.Stop()
	registerJobHandlers(workerPool, vectorStore)

	hyp := investigation.NewHypothesisManager()
	builder := prompt.NewDefaultBuilder(hyp)
	milestoneEngine := engine.NewMilestoneEngine(llmClient, builder)

	caseRepo := dbClient.CaseRepository()
	reportStore := dbClient.ReportStore()

	caseService := services.NewInvestigationService(caseRepo)
	reportService := services.NewReportService(reportStore, llmClient)
	locks := investigation.NewCaseLockTable()

	server := transport.NewServer(caseRepo, milestoneEngine, caseService, reportService, locks, redisCache)
	router := server.Router()

	slog.Info("aegis listening", "port", cfg.Server.HTTPPort)
	if err := router.Run(":" + cfg.Server.HTTPPort); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}

// evidenceIndexJob is the payload shape for the "evidence.index" job
// type: callers outside this process compute the embedding vector
// (the Anthropic adapter does not support embeddings) and enqueue it
// for upsert into the vector store off the request path.
type evidenceIndexJob struct {
	ID       string            `json:"id"`
	Vector   []float32         `json:"vector"`
	Metadata map[string]string `json:"metadata"`
}

// registerJobHandlers wires the background job types the outer layer
// may enqueue. Only evidence indexing runs here today; report
// generation stays synchronous on the request path (pkg/transport).
func registerJobHandlers(pool *jobs.Pool, vectorStore *vectoradapter.Adapter) {
	pool.RegisterHandler("evidence.index", func(ctx context.Context, payload []byte) ([]byte, error) {
		var job evidenceIndexJob
		if err := json.Unmarshal(payload, &job); err != nil {
			return nil, fmt.Errorf("evidence.index: decoding payload: %w", err)
		}
		if err := vectorStore.Upsert(ctx, "evidence", job.ID, job.Vector, job.Metadata); err != nil {
			return nil, err
		}
		return nil, nil
	})
}
