package main

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"ojcore/internal/common/cache"
	"ojcore/internal/common/db"
	"ojcore/internal/common/storage"
	"ojcore/internal/judge/sandbox"
	"ojcore/pkg/utils/logger"
)

const (
	defaultHTTPAddr        = "0.0.0.0:8085"
	defaultReadTimeout     = 5 * time.Second
	defaultWriteTimeout    = 30 * time.Second
	defaultIdleTimeout     = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
	defaultLockTTL         = 10 * time.Minute
	defaultLogCacheTTL     = 10 * time.Minute
)

// Backend names selectable per store.
const (
	backendFile  = "file"
	backendMySQL = "mysql"
	backendLocal = "local"
	backendMinIO = "minio"
)

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr         string        `yaml:"addr"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	IdleTimeout  time.Duration `yaml:"idleTimeout"`
}

// WorkerConfig holds judge pool settings.
type WorkerConfig struct {
	PoolSize  int  `yaml:"poolSize"`
	QueueSize int  `yaml:"queueSize"`
	Sync      bool `yaml:"sync"`
}

// SandboxConfig holds sandbox engine settings.
type SandboxConfig struct {
	CgroupRoot           string `yaml:"cgroupRoot"`
	SeccompDir           string `yaml:"seccompDir"`
	HelperPath           string `yaml:"helperPath"`
	PythonBin            string `yaml:"pythonBin"`
	StdoutStderrMaxBytes int64  `yaml:"stdoutStderrMaxBytes"`
	EnableSeccomp        bool   `yaml:"enableSeccomp"`
	EnableCgroup         bool   `yaml:"enableCgroup"`
	EnableNamespaces     bool   `yaml:"enableNamespaces"`
	// RequireContainer refuses to judge when the sandbox runtime is
	// unavailable instead of degrading to the fallback executor.
	RequireContainer bool `yaml:"requireContainer"`
}

// JudgeConfig holds judge data locations and backend selection.
type JudgeConfig struct {
	DataDir      string        `yaml:"dataDir"`
	WorkRoot     string        `yaml:"workRoot"`
	SPJScriptDir string        `yaml:"spjScriptDir"`
	Repository   string        `yaml:"repository"`   // file | mysql
	LogBackend   string        `yaml:"logBackend"`   // file | mysql
	SPJBackend   string        `yaml:"spjBackend"`   // local | minio
	CompressLogs bool          `yaml:"compressLogs"` // zstd at rest (file backend)
	LogCacheTTL  time.Duration `yaml:"logCacheTTL"`  // redis read-through TTL
	JudgeLockTTL time.Duration `yaml:"judgeLockTTL"` // per-submission lock bound
	SPJObjectKey string        `yaml:"spjObjectKey"` // key prefix in object storage
}

// AppConfig holds judge-service config.
type AppConfig struct {
	Server   ServerConfig        `yaml:"server"`
	Logger   logger.Config       `yaml:"logger"`
	Redis    cache.RedisConfig   `yaml:"redis"`
	Database db.MySQLConfig      `yaml:"database"`
	MinIO    storage.MinIOConfig `yaml:"minio"`
	Worker   WorkerConfig        `yaml:"worker"`
	Sandbox  SandboxConfig       `yaml:"sandbox"`
	Judge    JudgeConfig         `yaml:"judge"`
}

func loadYAML(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file failed: %w", err)
	}
	if err := yaml.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config file failed: %w", err)
	}
	return nil
}

func loadAppConfig(path string) (*AppConfig, error) {
	var cfg AppConfig
	if err := loadYAML(path, &cfg); err != nil {
		return nil, err
	}
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = defaultHTTPAddr
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = defaultReadTimeout
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = defaultWriteTimeout
	}
	if cfg.Server.IdleTimeout == 0 {
		cfg.Server.IdleTimeout = defaultIdleTimeout
	}
	if cfg.Worker.PoolSize <= 0 {
		cfg.Worker.PoolSize = 4
	}
	if cfg.Worker.QueueSize <= 0 {
		cfg.Worker.QueueSize = 256
	}
	if cfg.Judge.DataDir == "" {
		cfg.Judge.DataDir = "data"
	}
	if cfg.Judge.WorkRoot == "" {
		cfg.Judge.WorkRoot = "work"
	}
	if cfg.Judge.SPJScriptDir == "" {
		cfg.Judge.SPJScriptDir = "spj_scripts"
	}
	if cfg.Judge.Repository == "" {
		cfg.Judge.Repository = backendFile
	}
	if cfg.Judge.LogBackend == "" {
		cfg.Judge.LogBackend = backendFile
	}
	if cfg.Judge.SPJBackend == "" {
		cfg.Judge.SPJBackend = backendLocal
	}
	if cfg.Judge.LogCacheTTL == 0 {
		cfg.Judge.LogCacheTTL = defaultLogCacheTTL
	}
	if cfg.Judge.JudgeLockTTL == 0 {
		cfg.Judge.JudgeLockTTL = defaultLockTTL
	}
	if err := validateBackends(&cfg); err != nil {
		return nil, err
	}
	if cfg.Redis.Addr != "" {
		applyRedisDefaults(&cfg.Redis)
	}
	return &cfg, nil
}

func validateBackends(cfg *AppConfig) error {
	switch cfg.Judge.Repository {
	case backendFile:
	case backendMySQL:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("repository backend mysql requires database dsn")
		}
	default:
		return fmt.Errorf("unknown repository backend: %s", cfg.Judge.Repository)
	}
	switch cfg.Judge.LogBackend {
	case backendFile:
	case backendMySQL:
		if cfg.Database.DSN == "" {
			return fmt.Errorf("log backend mysql requires database dsn")
		}
	default:
		return fmt.Errorf("unknown log backend: %s", cfg.Judge.LogBackend)
	}
	switch cfg.Judge.SPJBackend {
	case backendLocal:
	case backendMinIO:
		if cfg.MinIO.Endpoint == "" || cfg.MinIO.Bucket == "" {
			return fmt.Errorf("spj backend minio requires endpoint and bucket")
		}
	default:
		return fmt.Errorf("unknown spj backend: %s", cfg.Judge.SPJBackend)
	}
	return nil
}

func applyRedisDefaults(cfg *cache.RedisConfig) {
	defaults := cache.DefaultRedisConfig()
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = defaults.MaxRetries
	}
	if cfg.MinRetryBackoff == 0 {
		cfg.MinRetryBackoff = defaults.MinRetryBackoff
	}
	if cfg.MaxRetryBackoff == 0 {
		cfg.MaxRetryBackoff = defaults.MaxRetryBackoff
	}
	if cfg.DialTimeout == 0 {
		cfg.DialTimeout = defaults.DialTimeout
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = defaults.ReadTimeout
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.PoolSize == 0 {
		cfg.PoolSize = defaults.PoolSize
	}
	if cfg.MinIdleConns == 0 {
		cfg.MinIdleConns = defaults.MinIdleConns
	}
	if cfg.PoolTimeout == 0 {
		cfg.PoolTimeout = defaults.PoolTimeout
	}
	if cfg.ConnMaxIdleTime == 0 {
		cfg.ConnMaxIdleTime = defaults.ConnMaxIdleTime
	}
	if cfg.ConnMaxLifetime == 0 {
		cfg.ConnMaxLifetime = defaults.ConnMaxLifetime
	}
}

func (s SandboxConfig) toExecutorConfig(workRoot string) sandbox.ExecutorConfig {
	return sandbox.ExecutorConfig{
		WorkRoot:   workRoot,
		PythonBin:  s.PythonBin,
		HelperPath: s.HelperPath,
	}
}
