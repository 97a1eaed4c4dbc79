// Command asynchttp-demo runs the AsyncHTTP Dispatcher as a standalone
// process: load config, wire the KV/JobQueue collaborators against Redis
// and the BlobStore backend selected by blob_store.kind (filesystem,
// redis, sql or s3), start the dispatcher, and serve
// metrics/health/admin endpoints until signaled to shut down.
//
// Grounded on the teacher's cmd/job-queue-system/main.go: config load,
// logger, optional tracing, an HTTP server for /metrics+/healthz, and a
// signal handler that cancels a shared context and force-exits on a
// second signal, all follow that file's shape. Where the teacher
// dispatches on a --role flag to producer/worker/admin, this command
// has one role: run the dispatcher and its admin surface.
package main

import (
	"context"
	"database/sql"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/bdurand/asynchttp-dispatcher/internal/adminapi"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/clientpool"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/dispatcher"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/payload"
	"github.com/bdurand/asynchttp-dispatcher/internal/asynchttp/registry"
	"github.com/bdurand/asynchttp-dispatcher/internal/config"
	"github.com/bdurand/asynchttp-dispatcher/internal/jobqueue"
	"github.com/bdurand/asynchttp-dispatcher/internal/kv"
	"github.com/bdurand/asynchttp-dispatcher/internal/obs"
)

var version = "dev"

func main() {
	var configPath string
	var payloadDir string
	var adminAddr string
	var showVersion bool
	var printConfig bool

	fs := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	fs.StringVar(&configPath, "config", "config/config.yaml", "Path to YAML config")
	fs.StringVar(&payloadDir, "payload-dir", "data/payloads", "Directory backing the filesystem BlobStore for externalized response bodies")
	fs.StringVar(&adminAddr, "admin-addr", ":8090", "Listen address for the admin status/drain API")
	fs.BoolVar(&showVersion, "version", false, "Print version and exit")
	fs.BoolVar(&printConfig, "print-config", false, "Print the effective configuration as YAML and exit")
	_ = fs.Parse(os.Args[1:])

	if showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	if printConfig {
		enc := yaml.NewEncoder(os.Stdout)
		enc.SetIndent(2)
		if err := enc.Encode(cfg); err != nil {
			fmt.Fprintf(os.Stderr, "failed to render config: %v\n", err)
			os.Exit(1)
		}
		_ = enc.Close()
		return
	}

	logger, err := obs.NewLogger(cfg.Observability.LogLevel)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	tp, err := obs.MaybeInitTracing(cfg)
	if err != nil {
		logger.Warn("tracing init failed", obs.Err(err))
	}
	if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	redisClient := newRedisClient(cfg)
	defer redisClient.Close()

	backingKV := kv.NewRedisKVFromClient(redisClient)

	store, err := newBlobStore(cfg, payloadDir, backingKV)
	if err != nil {
		logger.Fatal("failed to open payload store", obs.Err(err))
	}
	externalizer := payload.NewExternalizer(store, cfg.PayloadStoreThreshold)

	pool, err := clientpool.New(cfg)
	if err != nil {
		logger.Fatal("failed to build client pool", obs.Err(err))
	}
	defer pool.Close()

	jobQueue := jobqueue.NewRedisJobQueue(redisClient, "async_http:callbacks")
	processID := uuid.NewString()
	reg := registry.New(backingKV, jobQueue, processID, cfg.InflightTTL(), cfg.GCLockTTL())

	disp := dispatcher.New(cfg, pool, reg, externalizer, logger)
	disp.Start()
	logger.Info("dispatcher started", obs.String("process_id", processID))

	readyCheck := func(ctx context.Context) error {
		return redisClient.Ping(ctx).Err()
	}
	httpSrv := obs.StartHTTPServer(cfg, readyCheck)
	defer func() { _ = httpSrv.Shutdown(context.Background()) }()

	admin := adminapi.NewServer(adminAddr, disp, logger)
	admin.Start()
	defer func() { _ = admin.Shutdown(context.Background()) }()

	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("signal received, shutting down", obs.String("signal", sig.String()))

	go func() {
		select {
		case sig2 := <-sigCh:
			logger.Warn("second signal received, exiting immediately", obs.String("signal", sig2.String()))
			os.Exit(1)
		case <-time.After(cfg.ShutdownTimeout + 5*time.Second):
		}
	}()

	disp.Stop(cfg.ShutdownTimeout)
	logger.Info("dispatcher stopped")
}

// newBlobStore builds the PayloadStore backend selected by
// cfg.BlobStore.Kind, sharing the KV collaborator's Redis connection
// for the "redis" kind instead of opening a second one.
func newBlobStore(cfg *config.Config, payloadDir string, backingKV *kv.RedisKV) (payload.BlobStore, error) {
	switch cfg.BlobStore.Kind {
	case "redis":
		return payload.NewRedisStore(backingKV, cfg.BlobStore.RedisPrefix, cfg.BlobStore.RedisTTL), nil
	case "sql":
		driverName := cfg.BlobStore.SQL.Driver
		dialect := payload.DialectPostgres
		if driverName == "sqlite" {
			driverName = "sqlite3"
			dialect = payload.DialectSQLite
		}
		db, err := sql.Open(driverName, cfg.BlobStore.SQL.DSN)
		if err != nil {
			return nil, fmt.Errorf("open sql blob store: %w", err)
		}
		return payload.NewSQLStore(db, cfg.BlobStore.SQL.Table, dialect), nil
	case "s3":
		return payload.NewS3Store(payload.S3Config{
			Bucket:          cfg.BlobStore.S3.Bucket,
			Region:          cfg.BlobStore.S3.Region,
			Endpoint:        cfg.BlobStore.S3.Endpoint,
			AccessKeyID:     cfg.BlobStore.S3.AccessKeyID,
			SecretAccessKey: cfg.BlobStore.S3.SecretAccessKey,
			KeyPrefix:       cfg.BlobStore.S3.KeyPrefix,
		})
	default:
		dir := cfg.BlobStore.Dir
		if dir == "" {
			dir = payloadDir
		}
		return payload.NewFilesystemStore(dir)
	}
}

// newRedisClient builds the shared *redis.Client backing both the KV
// collaborator and the JobQueue producer side, following the same
// pool-size-multiplier-times-NumCPU defaults kv.NewRedisKV applies
// internally, kept in sync here since main needs the raw client to
// hand to jobqueue.NewRedisJobQueue as well.
func newRedisClient(cfg *config.Config) *redis.Client {
	poolSize := cfg.Redis.PoolSizeMultiplier * runtime.NumCPU()
	if poolSize <= 0 {
		poolSize = 10 * runtime.NumCPU()
	}
	return redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     poolSize,
		MinIdleConns: cfg.Redis.MinIdleConns,
		DialTimeout:  cfg.Redis.DialTimeout,
		ReadTimeout:  cfg.Redis.ReadTimeout,
		WriteTimeout: cfg.Redis.WriteTimeout,
		MaxRetries:   cfg.Redis.MaxRetries,
	})
}
