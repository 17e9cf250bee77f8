package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/common/storage"
	"ojcore/internal/judge/fallback"
	"ojcore/internal/judge/httpapi"
	"ojcore/internal/judge/logstore"
	"ojcore/internal/judge/orchestrator"
	"ojcore/internal/judge/repository"
	"ojcore/internal/judge/sandbox"
	"ojcore/internal/judge/sandbox/engine"
	"ojcore/internal/judge/sandbox/observer"
	"ojcore/internal/judge/sandbox/profile"
	"ojcore/internal/judge/spj"
	"ojcore/pkg/utils/logger"
)

const defaultConfigPath = "configs/judge-service.yaml"

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to config file")
	flag.Parse()

	appCfg, err := loadAppConfig(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load app config failed: %v\n", err)
		return
	}

	if err := logger.Init(appCfg.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "init logger failed: %v\n", err)
		return
	}
	defer func() {
		_ = logger.Sync()
	}()
	ctx := context.Background()

	var redisCache cache.Cache
	if appCfg.Redis.Addr != "" {
		client, err := cache.NewRedisCacheWithConfig(&appCfg.Redis)
		if err != nil {
			logger.Error(ctx, "init redis failed", zap.Error(err))
			return
		}
		defer func() {
			_ = client.Close()
		}()
		redisCache = client
	}

	var dbProvider db.Provider
	if appCfg.Database.DSN != "" {
		mysqlDB, err := db.NewMySQLWithConfig(&appCfg.Database)
		if err != nil {
			logger.Error(ctx, "init database failed", zap.Error(err))
			return
		}
		defer func() {
			_ = mysqlDB.Close()
		}()
		dbProvider = db.NewManager(mysqlDB)
	}

	var objStorage storage.ObjectStorage
	if appCfg.MinIO.Endpoint != "" {
		objStorage, err = storage.NewMinIOStorage(appCfg.MinIO)
		if err != nil {
			logger.Error(ctx, "init minio failed", zap.Error(err))
			return
		}
	}

	repo, err := buildRepository(appCfg, dbProvider)
	if err != nil {
		logger.Error(ctx, "init repository failed", zap.Error(err))
		return
	}
	logs, err := buildLogStore(appCfg, dbProvider, redisCache)
	if err != nil {
		logger.Error(ctx, "init log store failed", zap.Error(err))
		return
	}
	spjStore, err := buildSPJStore(appCfg, objStorage)
	if err != nil {
		logger.Error(ctx, "init spj store failed", zap.Error(err))
		return
	}
	if err := os.MkdirAll(appCfg.Judge.WorkRoot, 0755); err != nil {
		logger.Error(ctx, "create work root failed", zap.Error(err))
		return
	}
	spjRunner, err := spj.NewRunner(spjStore, appCfg.Judge.WorkRoot)
	if err != nil {
		logger.Error(ctx, "init spj runner failed", zap.Error(err))
		return
	}

	resolver := profile.NewStaticResolver(nil)
	eng, err := engine.NewEngine(engine.Config{
		CgroupRoot:           appCfg.Sandbox.CgroupRoot,
		SeccompDir:           appCfg.Sandbox.SeccompDir,
		HelperPath:           appCfg.Sandbox.HelperPath,
		StdoutStderrMaxBytes: appCfg.Sandbox.StdoutStderrMaxBytes,
		EnableSeccomp:        appCfg.Sandbox.EnableSeccomp,
		EnableCgroup:         appCfg.Sandbox.EnableCgroup,
		EnableNamespaces:     appCfg.Sandbox.EnableNamespaces,
	}, resolver)
	if err != nil {
		logger.Error(ctx, "init sandbox engine failed", zap.Error(err))
		return
	}
	sandboxExec, err := sandbox.NewExecutor(appCfg.Sandbox.toExecutorConfig(appCfg.Judge.WorkRoot), eng, observer.NoopMetricsRecorder{})
	if err != nil {
		logger.Error(ctx, "init sandbox executor failed", zap.Error(err))
		return
	}

	var fallbackExec orchestrator.Runner
	if appCfg.Sandbox.RequireContainer {
		if !sandboxExec.Available() {
			logger.Error(ctx, "sandbox runtime unavailable and requireContainer is set")
			return
		}
	} else {
		fb, err := fallback.New(fallback.Config{WorkRoot: appCfg.Judge.WorkRoot, PythonBin: appCfg.Sandbox.PythonBin})
		if err != nil {
			logger.Error(ctx, "init fallback executor failed", zap.Error(err))
			return
		}
		fallbackExec = fb
	}

	orch, err := orchestrator.New(orchestrator.Config{
		Workers:   appCfg.Worker.PoolSize,
		QueueSize: appCfg.Worker.QueueSize,
		LockTTL:   appCfg.Judge.JudgeLockTTL,
		Sync:      appCfg.Worker.Sync,
	}, repo, logs, sandboxExec, fallbackExec, spjRunner, redisCache)
	if err != nil {
		logger.Error(ctx, "init orchestrator failed", zap.Error(err))
		return
	}
	orch.Start()

	handler := httpapi.NewHandler(repo, logs, orch, spjStore, spjRunner, redisCache)
	httpServer := &http.Server{
		Addr:         appCfg.Server.Addr,
		Handler:      httpapi.NewRouter(handler),
		ReadTimeout:  appCfg.Server.ReadTimeout,
		WriteTimeout: appCfg.Server.WriteTimeout,
		IdleTimeout:  appCfg.Server.IdleTimeout,
	}
	listener, err := net.Listen("tcp", appCfg.Server.Addr)
	if err != nil {
		logger.Error(ctx, "init http listener failed", zap.Error(err))
		return
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info(ctx, "judge http server started", zap.String("addr", appCfg.Server.Addr))
		errCh <- httpServer.Serve(listener)
	}()

	shutdownCtx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error(ctx, "http server stopped", zap.Error(err))
		}
	case <-shutdownCtx.Done():
		logger.Info(ctx, "shutdown signal received")
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, defaultShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(timeoutCtx); err != nil {
		logger.Error(ctx, "http server shutdown failed", zap.Error(err))
	}
	orch.Stop()
}

func buildRepository(cfg *AppConfig, provider db.Provider) (repository.Repository, error) {
	if cfg.Judge.Repository == backendMySQL {
		return repository.NewMySQLRepository(provider)
	}
	return repository.NewFileRepository(cfg.Judge.DataDir)
}

func buildLogStore(cfg *AppConfig, provider db.Provider, redisCache cache.Cache) (logstore.Store, error) {
	var store logstore.Store
	var err error
	if cfg.Judge.LogBackend == backendMySQL {
		store, err = logstore.NewMySQLStore(provider)
	} else {
		store, err = logstore.NewFileStore(cfg.Judge.DataDir, cfg.Judge.CompressLogs)
	}
	if err != nil {
		return nil, err
	}
	if redisCache != nil {
		store = logstore.NewCachedStore(store, redisCache, cfg.Judge.LogCacheTTL)
	}
	return store, nil
}

func buildSPJStore(cfg *AppConfig, objStorage storage.ObjectStorage) (spj.ScriptStore, error) {
	if cfg.Judge.SPJBackend == backendMinIO {
		return spj.NewObjectStore(objStorage, cfg.MinIO.Bucket, cfg.Judge.SPJObjectKey)
	}
	return spj.NewLocalStore(cfg.Judge.SPJScriptDir)
}
