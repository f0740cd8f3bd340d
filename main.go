package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/spf13/viper"

	"github.com/goldfish-inc/oceanid/apps/conll-ingestion-worker/conll"
)

const serviceName = "conll-ingestion-worker"

// Config holds application configuration
type Config struct {
	Port              string `mapstructure:"port"`
	DataDir           string `mapstructure:"data_dir"`
	ModelsDir         string `mapstructure:"models_dir"`
	TagMappingFile    string `mapstructure:"tag_mapping_file"`
	DefaultRatios     string `mapstructure:"default_ratios"`
	DynamicTags       bool   `mapstructure:"dynamic_tags"`
	NormalizeUnicode  bool   `mapstructure:"normalize_unicode"`
	MaxUploadMB       int64  `mapstructure:"max_upload_mb"`
	DatabaseURL       string `mapstructure:"database_url"`
	S3Bucket          string `mapstructure:"s3_bucket"`
	S3Region          string `mapstructure:"s3_region"`
	S3Endpoint        string `mapstructure:"s3_endpoint"` // For testing with MinIO
	S3Prefix          string `mapstructure:"s3_prefix"`
	UploadConcurrency int    `mapstructure:"upload_concurrency"`
	LogLevel          string `mapstructure:"log_level"`

	ratios conll.Ratios
}

// Worker runs corpus conversion jobs
type Worker struct {
	config   *Config
	log      zerolog.Logger
	db       *sql.DB      // nil when DATABASE_URL is unset
	s3Client objectPutter // nil when S3_BUCKET is unset

	newRand func() conll.Shuffler
	now     func() time.Time

	// jobMu serializes jobs; every job still gets its own tag registry.
	jobMu sync.Mutex
}

func main() {
	cfg, err := loadConfig(os.Getenv("CONFIG_FILE"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel)

	worker, err := newWorker(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("Failed to initialize worker")
	}
	if worker.db != nil {
		defer worker.db.Close()
	}

	initMetrics()

	server := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           worker.routes(),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       2 * time.Minute,
		WriteTimeout:      5 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}

	// Graceful shutdown
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info().Msg("Shutting down gracefully...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error().Err(err).Msg("Server shutdown error")
		}
	}()

	logger.Info().
		Str("port", cfg.Port).
		Str("data_dir", cfg.DataDir).
		Str("ratios", cfg.ratios.String()).
		Bool("dynamic_tags", cfg.DynamicTags).
		Bool("s3", cfg.S3Bucket != "").
		Bool("database", cfg.DatabaseURL != "").
		Msg("CoNLL ingestion worker starting")

	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatal().Err(err).Msg("Server error")
	}
}

// loadConfig reads an optional YAML file and the environment. Environment
// variables use the upper-cased key names (PORT, DATA_DIR, S3_BUCKET, ...).
func loadConfig(path string) (*Config, error) {
	v := viper.New()

	v.SetDefault("port", "8080")
	v.SetDefault("data_dir", "./data")
	v.SetDefault("models_dir", "./models")
	v.SetDefault("tag_mapping_file", "")
	v.SetDefault("default_ratios", "0.7,0.15,0.15")
	v.SetDefault("dynamic_tags", true)
	v.SetDefault("normalize_unicode", false)
	v.SetDefault("max_upload_mb", 100)
	v.SetDefault("database_url", "")
	v.SetDefault("s3_bucket", "")
	v.SetDefault("s3_region", "us-east-1")
	v.SetDefault("s3_endpoint", "")
	v.SetDefault("s3_prefix", "conll")
	v.SetDefault("upload_concurrency", 4)
	v.SetDefault("log_level", "info")

	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unable to decode config: %w", err)
	}

	ratios, err := conll.ParseRatios(cfg.DefaultRatios)
	if err != nil {
		return nil, fmt.Errorf("DEFAULT_RATIOS: %w", err)
	}
	cfg.ratios = ratios

	if cfg.MaxUploadMB <= 0 {
		cfg.MaxUploadMB = 100
	}
	if cfg.UploadConcurrency <= 0 {
		cfg.UploadConcurrency = 1
	}

	return cfg, nil
}

func newLogger(level string) zerolog.Logger {
	lvl, err := zerolog.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil || lvl == zerolog.NoLevel {
		lvl = zerolog.InfoLevel
	}
	return zerolog.New(os.Stderr).Level(lvl).With().Timestamp().Str("service", serviceName).Logger()
}

func newWorker(ctx context.Context, cfg *Config, logger zerolog.Logger) (*Worker, error) {
	w := &Worker{
		config: cfg,
		log:    logger,
		newRand: func() conll.Shuffler {
			return rand.New(rand.NewSource(time.Now().UnixNano()))
		},
		now: time.Now,
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	if cfg.DatabaseURL != "" {
		db, err := initDatabase(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		w.db = db
	} else {
		logger.Info().Msg("DATABASE_URL not set, running without job audit store")
	}

	if cfg.S3Bucket != "" {
		client, err := initS3Client(ctx, cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize S3 client: %w", err)
		}
		w.s3Client = client
	}

	return w, nil
}

func (w *Worker) routes() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/process_conll", w.handleProcess)
	mux.HandleFunc("/health", w.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

func initDatabase(ctx context.Context, dbURL string) (*sql.DB, error) {
	db, err := sql.Open("postgres", dbURL)
	if err != nil {
		return nil, err
	}

	// Jobs are serialized, so a small pool is enough
	db.SetMaxOpenConns(5)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(5 * time.Minute)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping failed: %w", err)
	}

	if err := ensureSchema(ctx, db); err != nil {
		db.Close()
		return nil, fmt.Errorf("schema setup failed: %w", err)
	}

	return db, nil
}

func initS3Client(ctx context.Context, cfg *Config) (*s3.Client, error) {
	awsCfg, err := config.LoadDefaultConfig(ctx,
		config.WithRegion(cfg.S3Region),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	opts := []func(*s3.Options){}
	if cfg.S3Endpoint != "" {
		// For MinIO/testing
		opts = append(opts, func(o *s3.Options) {
			o.BaseEndpoint = &cfg.S3Endpoint
			o.UsePathStyle = true
		})
	}

	return s3.NewFromConfig(awsCfg, opts...), nil
}
