package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"

	"github.com/driverline/screener/internal/cache"
	"github.com/driverline/screener/internal/criteria"
	"github.com/driverline/screener/internal/domain"
	"github.com/driverline/screener/internal/llm"
	"github.com/driverline/screener/internal/llm/gemini"
	"github.com/driverline/screener/internal/logger"
	"github.com/driverline/screener/internal/screening"
	"github.com/driverline/screener/internal/secrets"
	"github.com/driverline/screener/internal/storage"
	"github.com/driverline/screener/internal/storage/memory"
	"github.com/driverline/screener/internal/storage/postgres"
	"github.com/driverline/screener/internal/transport/ws"
)

const (
	defaultListen       = ":8080"
	defaultRedisTTL     = 5 * time.Minute
	shutdownGracePeriod = 15 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the screening WebSocket server",
	Run: func(cmd *cobra.Command, _ []string) {
		serve(cmd)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringP("listen", "l", defaultListen, "address to listen on")
	serveCmd.Flags().Bool("dev", false, "in-memory store seeded with a sample job, no database needed")

	viper.BindPFlag("listen", serveCmd.Flags().Lookup("listen"))
	viper.BindPFlag("dev", serveCmd.Flags().Lookup("dev"))
}

func serve(_ *cobra.Command) {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger, err := logger.New(viper.GetBool("json"), viper.GetBool("debug"))
	if err != nil {
		log.Fatalf("creating a logger: %s", err)
	}

	config, err := getConfig()
	if err != nil {
		logger.Fatal("getting a config", zap.Error(err))
	}
	if config == nil {
		config = &Config{}
	}

	logger.Info("starting the screener", zap.String("version", version))

	// do not bother error since there is a valid parseable config
	pretty, _ := json.MarshalIndent(config, "", "  ")
	logger.Debug(fmt.Sprintf("starting with config: \n %s", pretty))

	store, closeStore, err := buildStore(ctx, config, logger)
	if err != nil {
		logger.Fatal("building storage", zap.Error(err))
	}
	defer closeStore()

	store = cache.Wrap(store, buildCacheBackend(config, logger), logger)

	client, err := buildLLMClient(ctx, config.AI, logger)
	if err != nil {
		logger.Fatal("building completion client",
			zap.Error(err),
			zap.String("hint", "set ai.gemini.api-key-file or GEMINI_API_KEY_FILE"),
		)
	}

	maxLogLength := 0
	if config.AI != nil && config.AI.Gemini != nil {
		maxLogLength = config.AI.Gemini.MaxLogLength
	}

	orchestrator := screening.NewOrchestrator(
		store,
		client,
		screening.NewEvaluator(client, logger, maxLogLength),
		screening.NewIntentClassifier(client, logger),
		screening.NewCompleter(store, client, logger),
		logger,
	)

	listen := viper.GetString("listen")
	if listen == "" {
		listen = defaultListen
	}

	srv := &http.Server{
		Addr:              listen,
		Handler:           ws.NewServer(orchestrator, logger).Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		logger.Info("listening", zap.String("addr", listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn("shutdown incomplete", zap.Error(err))
	}
}

func buildStore(ctx context.Context, config *Config, logger *zap.Logger) (storage.Store, func(), error) {
	if viper.GetBool("dev") || config.Dev {
		store := memory.New()
		applicationID := seedDevData(store)
		logger.Info("dev mode: in-memory store seeded",
			zap.String("application_id", applicationID.String()),
			zap.String("hint", "send a start frame with this application_id"),
		)
		return store, func() {}, nil
	}

	if config.Database == nil || strings.TrimSpace(config.Database.URL) == "" {
		return nil, nil, errors.New("database.url is required (or run with --dev)")
	}

	store, err := postgres.New(ctx, config.Database.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		store.Close()
		return nil, nil, fmt.Errorf("migrating schema: %w", err)
	}
	return store, store.Close, nil
}

func buildCacheBackend(config *Config, logger *zap.Logger) cache.Backend {
	if config.Redis == nil || strings.TrimSpace(config.Redis.Addr) == "" {
		return cache.NewMemory()
	}

	ttl := defaultRedisTTL
	if config.Redis.TTLSeconds > 0 {
		ttl = time.Duration(config.Redis.TTLSeconds) * time.Second
	}

	logger.Info("using redis cache", zap.String("addr", config.Redis.Addr))
	return cache.NewRedis(redis.NewClient(&redis.Options{Addr: config.Redis.Addr}), ttl)
}

func buildLLMClient(ctx context.Context, cfg *AIConfig, logger *zap.Logger) (llm.Client, error) {
	if cfg == nil {
		cfg = &AIConfig{}
	}

	provider := strings.TrimSpace(strings.ToLower(cfg.Provider))
	if provider != "" && provider != "gemini" {
		return nil, fmt.Errorf("unsupported ai provider: %s", cfg.Provider)
	}

	gcfg := cfg.Gemini
	if gcfg == nil {
		gcfg = &GeminiConfig{APIKeyFile: viper.GetString("ai.gemini.api-key-file")}
	}

	apiKey, err := secrets.Load(secrets.Source{
		Name:  "gemini api key",
		Value: gcfg.APIKey,
		File:  gcfg.APIKeyFile,
	})
	if err != nil {
		return nil, err
	}

	clientLogger := logger.With(zap.Int("ai_retry_attempts", gcfg.MaxRetries))

	return gemini.NewClient(ctx, apiKey, gcfg.Model, gcfg.MaxRetries, clientLogger)
}

// seedDevData loads one regional-driver job with three screening
// requirements and an application ready to start a conversation.
func seedDevData(store *memory.Store) uuid.UUID {
	jobID := uuid.New()
	userID := uuid.New()
	applicationID := uuid.New()

	store.AddJob(domain.Job{ID: jobID, Title: "CDL-A Regional Driver"})
	store.AddUser(domain.User{ID: userID, FirstName: "Alex"})
	store.AddApplication(domain.Application{ID: applicationID, JobID: jobID, UserID: userID})

	store.AddRequirement(domain.Requirement{
		ID:          uuid.New(),
		JobID:       jobID,
		Type:        criteria.TypeCDLClass,
		Description: "Valid Class A commercial driver's license",
		Criteria:    map[string]any{"required": true, "cdl_class": "A"},
		Priority:    1,
	})
	store.AddRequirement(domain.Requirement{
		ID:          uuid.New(),
		JobID:       jobID,
		Type:        criteria.TypeYearsExperience,
		Description: "At least 2 years of verifiable OTR driving experience",
		Criteria:    map[string]any{"required": true, "min_years": 2},
		Priority:    2,
	})
	store.AddRequirement(domain.Requirement{
		ID:          uuid.New(),
		JobID:       jobID,
		Type:        criteria.TypeDrivingRecord,
		Description: "No more than 2 moving violations in the last 3 years",
		Criteria:    map[string]any{"required": true, "max_violations": 2, "max_accidents": 1},
		Priority:    3,
	})

	store.AddJobFact(domain.JobFact{ID: uuid.New(), JobID: jobID, FactType: "pay", Content: "$0.58-$0.65 per mile, weekly settlements"})
	store.AddJobFact(domain.JobFact{ID: uuid.New(), JobID: jobID, FactType: "home_time", Content: "Home every weekend, regional routes within 500 miles"})
	store.AddJobFact(domain.JobFact{ID: uuid.New(), JobID: jobID, FactType: "equipment", Content: "2022 or newer Freightliner Cascadias, automatic transmission"})

	return applicationID
}
