// Package config loads control-plane configuration from an optional file
// (JSON or YAML) with environment variable overrides layered on top, the
// same two-step pattern every service entrypoint in this tree uses.
package config

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type ServerConfig struct {
	Host string `json:"host" yaml:"host"`
	Port int    `json:"port" yaml:"port"`
}

type DatabaseConfig struct {
	Driver          string `json:"driver" yaml:"driver"`
	DSN             string `json:"dsn" yaml:"dsn"`
	Host            string `json:"host" yaml:"host"`
	Port            int    `json:"port" yaml:"port"`
	User            string `json:"user" yaml:"user"`
	Password        string `json:"password" yaml:"password"`
	Name            string `json:"name" yaml:"name"`
	SSLMode         string `json:"sslmode" yaml:"sslmode"`
	MaxOpenConns    int    `json:"max_open_conns" yaml:"max_open_conns"`
	MaxIdleConns    int    `json:"max_idle_conns" yaml:"max_idle_conns"`
	ConnMaxLifetime int    `json:"conn_max_lifetime" yaml:"conn_max_lifetime"` // seconds
}

// ConnectionString builds a lib/pq keyword/value DSN. Ignored when DSN is
// already set directly (most deployments set DATABASE_URL instead).
func (d DatabaseConfig) ConnectionString() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode)
}

type LoggingConfig struct {
	Level      string `json:"level" yaml:"level"`
	Format     string `json:"format" yaml:"format"`
	Output     string `json:"output" yaml:"output"`
	FilePrefix string `json:"file_prefix" yaml:"file_prefix"`
}

type SecurityConfig struct {
	SecretEncryptionKey string `json:"secret_encryption_key" yaml:"secret_encryption_key"`
	MaxRequestBodyBytes int64  `json:"max_request_body_bytes" yaml:"max_request_body_bytes"`
	RateLimitPerMinute  int    `json:"rate_limit_per_minute" yaml:"rate_limit_per_minute"`
	RateLimitBurst      int    `json:"rate_limit_burst" yaml:"rate_limit_burst"`
}

type AuthUser struct {
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	Role     string `json:"role" yaml:"role"`
}

// AuthConfig seeds static bearer tokens and local accounts. Real user/session
// state lives in the store once the appliance is running; these are the
// bootstrap credentials used before any admin account exists.
type AuthConfig struct {
	Tokens    []string   `json:"tokens" yaml:"tokens"`
	JWTSecret string     `json:"jwt_secret" yaml:"jwt_secret"`
	Users     []AuthUser `json:"users" yaml:"users"`
}

// GPUConfig bootstraps the scheduler before quarantine.strictness_level-style
// SystemConfig overrides are available (there's nothing to read from until
// the store is up).
type GPUConfig struct {
	DeviceIndex         int     `json:"device_index" yaml:"device_index"`
	MemoryThresholdPct  float64 `json:"memory_threshold_pct" yaml:"memory_threshold_pct"`
	PollIntervalSeconds int     `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
}

// QuarantineConfig bootstraps the pipeline's staging layout and the
// per-submission tunables also mirrored into SystemConfig under the
// "quarantine." prefix; LoadQuarantineConfig is the source of truth for the
// latter once the store is up.
type QuarantineConfig struct {
	UploadDir           string  `json:"upload_dir" yaml:"upload_dir"`
	HeldDir             string  `json:"held_dir" yaml:"held_dir"`
	DestinationDir      string  `json:"destination_dir" yaml:"destination_dir"`
	SignaturesDir       string  `json:"signatures_dir" yaml:"signatures_dir"`
	ClamAVSocket        string  `json:"clamav_socket" yaml:"clamav_socket"`
	YARARulesDir        string  `json:"yara_rules_dir" yaml:"yara_rules_dir"`
	YARABinary          string  `json:"yara_binary" yaml:"yara_binary"`
	HashBlacklistPath   string  `json:"hash_blacklist_path" yaml:"hash_blacklist_path"`
	StrictnessLevel     string  `json:"strictness_level" yaml:"strictness_level"`
	MaxFileSize         int64   `json:"max_file_size" yaml:"max_file_size"`
	MaxBatchFiles       int     `json:"max_batch_files" yaml:"max_batch_files"`
	MaxCompressionRatio int     `json:"max_compression_ratio" yaml:"max_compression_ratio"`
	MaxArchiveDepth     int     `json:"max_archive_depth" yaml:"max_archive_depth"`
	AutoApproveClean    bool    `json:"auto_approve_clean" yaml:"auto_approve_clean"`
	AISafetyEnabled     bool    `json:"ai_safety_enabled" yaml:"ai_safety_enabled"`
	PIIEnabled          bool    `json:"pii_enabled" yaml:"pii_enabled"`
	PIIAction           string  `json:"pii_action" yaml:"pii_action"`
	InjectionDetection  bool    `json:"injection_detection_enabled" yaml:"injection_detection_enabled"`
	ModelHashVerify     bool    `json:"model_hash_verification" yaml:"model_hash_verification"`
}

type UpdateConfig struct {
	BundleDir      string `json:"bundle_dir" yaml:"bundle_dir"`
	BackupDir      string `json:"backup_dir" yaml:"backup_dir"`
	TrustedKeyring string `json:"trusted_keyring" yaml:"trusted_keyring"`
	VersionFile    string `json:"version_file" yaml:"version_file"`
	CurrentVersion string `json:"current_version" yaml:"current_version"`
	// ComponentDirs maps a manifest component name to the live directory it
	// replaces on apply. Only components present here are ever installed,
	// regardless of what a manifest claims.
	ComponentDirs map[string]string `json:"component_dirs" yaml:"component_dirs"`
	// ScanDirs lists removable-media mount points ScanForUpdates looks under
	// for vault-update-*.tar bundles.
	ScanDirs []string `json:"scan_dirs" yaml:"scan_dirs"`
}

type UptimeConfig struct {
	PollIntervalSeconds int `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	WindowHours         int `json:"window_hours" yaml:"window_hours"`
}

// ServiceManagerConfig pins the fixed allowlist of systemd units the
// appliance is allowed to query, restart, and tail logs for. UnitMap
// translates a friendly service name (as used in the API and in
// RestartBlocked) to the actual systemd unit name; a service absent from
// UnitMap uses its own name as the unit.
type ServiceManagerConfig struct {
	ManagedServices []string          `json:"managed_services" yaml:"managed_services"`
	RestartBlocked  []string          `json:"restart_blocked" yaml:"restart_blocked"`
	UnitMap         map[string]string `json:"unit_map" yaml:"unit_map"`
}

// AdapterManagerConfig locates the engine's LoRA placement file and the
// on-disk adapter artifact tree, and configures the synchronous health
// probe the manager polls after triggering a coordinated engine restart.
type AdapterManagerConfig struct {
	EngineConfigPath      string `json:"engine_config_path" yaml:"engine_config_path"`
	AdaptersDir           string `json:"adapters_dir" yaml:"adapters_dir"`
	EngineServiceName     string `json:"engine_service_name" yaml:"engine_service_name"`
	HealthProbeURL        string `json:"health_probe_url" yaml:"health_probe_url"`
	HealthProbeTimeoutSec int    `json:"health_probe_timeout_seconds" yaml:"health_probe_timeout_seconds"`
	HealthPollIntervalMS  int    `json:"health_poll_interval_ms" yaml:"health_poll_interval_ms"`
}

type DevModeConfig struct {
	Enabled bool `json:"enabled" yaml:"enabled"`
}

// InferenceConfig locates the inference backend the byte-pipe proxy
// forwards /v1/* requests to, and the per-leg timeout budgets spec §5
// prescribes (suggested 5s connect, 120s read, 5s write).
type InferenceConfig struct {
	BackendURL        string `json:"backend_url" yaml:"backend_url"`
	ConnectTimeoutSec int    `json:"connect_timeout_seconds" yaml:"connect_timeout_seconds"`
	ReadTimeoutSec    int    `json:"read_timeout_seconds" yaml:"read_timeout_seconds"`
	WriteTimeoutSec   int    `json:"write_timeout_seconds" yaml:"write_timeout_seconds"`
}

// JobRunnerConfig locates the per-workload worker entrypoints the job
// runner spawns as child processes, and the status-file polling cadence.
type JobRunnerConfig struct {
	StatusDirRoot       string `json:"status_dir_root" yaml:"status_dir_root"`
	TrainingInterpreter string `json:"training_interpreter" yaml:"training_interpreter"`
	TrainingScript      string `json:"training_script" yaml:"training_script"`
	EvalInterpreter     string `json:"eval_interpreter" yaml:"eval_interpreter"`
	EvalScript          string `json:"eval_script" yaml:"eval_script"`
	PollIntervalSeconds int    `json:"poll_interval_seconds" yaml:"poll_interval_seconds"`
	EvalDatasetsDir     string `json:"eval_datasets_dir" yaml:"eval_datasets_dir"`
}

type LDAPConfig struct {
	Enabled         bool   `json:"enabled" yaml:"enabled"`
	URL             string `json:"url" yaml:"url"`
	BindDN          string `json:"bind_dn" yaml:"bind_dn"`
	BindPassword    string `json:"bind_password" yaml:"bind_password"`
	BaseDN          string `json:"base_dn" yaml:"base_dn"`
	UserFilter      string `json:"user_filter" yaml:"user_filter"`
	GroupSearchBase string `json:"group_search_base" yaml:"group_search_base"`
	UseSSL          bool   `json:"use_ssl" yaml:"use_ssl"`
	DefaultRole     string `json:"default_role" yaml:"default_role"`
}

// Config is the fully-resolved process configuration: defaults, overlaid by
// an optional config file, overlaid by environment variables.
type Config struct {
	Server     ServerConfig     `json:"server" yaml:"server"`
	Database   DatabaseConfig   `json:"database" yaml:"database"`
	Logging    LoggingConfig    `json:"logging" yaml:"logging"`
	Security   SecurityConfig   `json:"security" yaml:"security"`
	Auth       AuthConfig       `json:"auth" yaml:"auth"`
	GPU        GPUConfig        `json:"gpu" yaml:"gpu"`
	Quarantine QuarantineConfig `json:"quarantine" yaml:"quarantine"`
	Update     UpdateConfig     `json:"update" yaml:"update"`
	Uptime     UptimeConfig     `json:"uptime" yaml:"uptime"`
	ServiceMgr   ServiceManagerConfig `json:"service_manager" yaml:"service_manager"`
	AdapterMgr   AdapterManagerConfig `json:"adapter_manager" yaml:"adapter_manager"`
	JobRunner  JobRunnerConfig  `json:"job_runner" yaml:"job_runner"`
	DevMode    DevModeConfig    `json:"devmode" yaml:"devmode"`
	LDAP       LDAPConfig       `json:"ldap" yaml:"ldap"`
	Inference  InferenceConfig  `json:"inference" yaml:"inference"`
	JWTExpiry  time.Duration    `json:"-" yaml:"-"`
}

func defaultConfig() *Config {
	return &Config{
		Server: ServerConfig{Host: "0.0.0.0", Port: 8080},
		Database: DatabaseConfig{
			Driver:          "postgres",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    5,
			ConnMaxLifetime: 300,
		},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout", FilePrefix: "vault-backend"},
		Security: SecurityConfig{
			MaxRequestBodyBytes: 8 << 20,
			RateLimitPerMinute:  300,
			RateLimitBurst:      50,
		},
		GPU: GPUConfig{
			DeviceIndex:         0,
			MemoryThresholdPct:  90,
			PollIntervalSeconds: 5,
		},
		Quarantine: QuarantineConfig{
			UploadDir:           "/var/lib/vault/quarantine/staging",
			HeldDir:             "/var/lib/vault/quarantine/held",
			DestinationDir:      "/var/lib/vault/quarantine/approved",
			SignaturesDir:       "/var/lib/vault/quarantine/signatures",
			ClamAVSocket:        "/var/run/clamav/clamd.ctl",
			YARARulesDir:        "/var/lib/vault/quarantine/signatures/yara_rules",
			YARABinary:          "yara",
			HashBlacklistPath:   "/var/lib/vault/quarantine/signatures/blacklist.json",
			StrictnessLevel:     "standard",
			MaxFileSize:         1 << 30,
			MaxBatchFiles:       100,
			MaxCompressionRatio: 100,
			MaxArchiveDepth:     3,
			AutoApproveClean:    true,
			AISafetyEnabled:     true,
			PIIEnabled:          true,
			PIIAction:           "flag",
			InjectionDetection:  true,
			ModelHashVerify:     true,
		},
		Update: UpdateConfig{
			BundleDir:      "/var/lib/vault/updates",
			BackupDir:      "/var/lib/vault/backups",
			TrustedKeyring: "/etc/vault/update-signing.asc",
			VersionFile:    "/var/lib/vault/VERSION",
			CurrentVersion: "1.0.0",
			ComponentDirs: map[string]string{
				"migrations": "/opt/vault/migrations",
				"backend":    "/opt/vault/backend",
				"frontend":   "/opt/vault/frontend",
				"config":     "/etc/vault",
				"containers": "/opt/vault/containers",
				"signatures": "/var/lib/vault/quarantine/signatures",
			},
			ScanDirs: []string{"/media", "/mnt"},
		},
		Uptime: UptimeConfig{PollIntervalSeconds: 30, WindowHours: 24 * 30},
		ServiceMgr: ServiceManagerConfig{
			ManagedServices: []string{"vault-vllm", "vault-backend", "caddy", "prometheus", "grafana", "cockpit"},
			RestartBlocked:  []string{"vault-backend"},
			UnitMap: map[string]string{
				"vllm":        "vault-vllm",
				"api-gateway": "vault-backend",
				"prometheus":  "prometheus",
				"grafana":     "grafana-server",
				"caddy":       "caddy",
				"cockpit":     "cockpit",
			},
		},
		AdapterMgr: AdapterManagerConfig{
			EngineConfigPath:      "/etc/vault/gpu-config.yaml",
			AdaptersDir:           "/var/lib/vault/adapters",
			EngineServiceName:     "vault-vllm",
			HealthProbeURL:        "http://127.0.0.1:8000/health",
			HealthProbeTimeoutSec: 60,
			HealthPollIntervalMS:  500,
		},
		JobRunner: JobRunnerConfig{
			StatusDirRoot:       "/var/lib/vault/jobs",
			TrainingInterpreter: "/opt/vault/envs/training/bin/python",
			TrainingScript:      "/opt/vault/workers/train.py",
			EvalInterpreter:     "/opt/vault/envs/eval/bin/python",
			EvalScript:          "/opt/vault/workers/evaluate.py",
			PollIntervalSeconds: 2,
			EvalDatasetsDir:     "/var/lib/vault/eval/datasets",
		},
		DevMode: DevModeConfig{Enabled: false},
		LDAP: LDAPConfig{
			Enabled:     false,
			UserFilter:  "(sAMAccountName={username})",
			DefaultRole: "user",
		},
		Inference: InferenceConfig{
			BackendURL:        "http://127.0.0.1:8000",
			ConnectTimeoutSec: 5,
			ReadTimeoutSec:    120,
			WriteTimeoutSec:   5,
		},
		JWTExpiry: 15 * time.Minute,
	}
}

// New returns the default configuration with no file or environment overlay.
func New() *Config {
	return defaultConfig()
}

// Load resolves CONFIG_FILE (if set) through LoadFile or LoadConfig depending
// on its extension, then applies environment overrides. With no CONFIG_FILE
// it starts from defaults.
func Load() (*Config, error) {
	// A missing .env is normal on the appliance itself, where operators set
	// real environment variables; godotenv.Load only helps local
	// development, so its error is deliberately ignored.
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_FILE")
	if path == "" {
		cfg := defaultConfig()
		applyEnvOverrides(cfg)
		return cfg, nil
	}
	if strings.ToLower(filepath.Ext(path)) == ".json" {
		return LoadConfig(path)
	}
	return LoadFile(path)
}

// LoadConfig loads a JSON config file onto the defaults. Unlike LoadFile, a
// missing file is an error — this entrypoint is used where the caller named
// the file explicitly and expects it to exist.
func LoadConfig(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

// LoadFile loads a YAML config file onto the defaults. A missing file is not
// an error; it returns plain defaults plus environment overrides, since
// CONFIG_FILE is optional in most deployments.
func LoadFile(path string) (*Config, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config file %s: %w", path, err)
	}
	applyEnvOverrides(cfg)
	return cfg, nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("SERVER_PORT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = n
		}
	}
	if v := os.Getenv("DATABASE_HOST"); v != "" {
		cfg.Database.Host = v
	}
	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.DSN = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("LOG_OUTPUT"); v != "" {
		cfg.Logging.Output = v
	}
	if v := os.Getenv("SECRET_ENCRYPTION_KEY"); v != "" {
		cfg.Security.SecretEncryptionKey = v
	}
	if v := os.Getenv("MAX_REQUEST_BODY_BYTES"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Security.MaxRequestBodyBytes = n
		}
	}
	if v := os.Getenv("RATE_LIMIT_PER_MINUTE"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Security.RateLimitPerMinute = n
		}
	}
	if v := os.Getenv("JWT_SECRET"); v != "" {
		cfg.Auth.JWTSecret = v
	}
	if v := os.Getenv("JWT_EXPIRY"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.JWTExpiry = d
		}
	}
	if v := os.Getenv("GPU_DEVICE_INDEX"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.GPU.DeviceIndex = n
		}
	}
	if v := os.Getenv("GPU_MEMORY_THRESHOLD_PCT"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.GPU.MemoryThresholdPct = f
		}
	}
	if v := os.Getenv("QUARANTINE_UPLOAD_DIR"); v != "" {
		cfg.Quarantine.UploadDir = v
	}
	if v := os.Getenv("QUARANTINE_CLAMAV_SOCKET"); v != "" {
		cfg.Quarantine.ClamAVSocket = v
	}
	if v := os.Getenv("QUARANTINE_YARA_RULES_DIR"); v != "" {
		cfg.Quarantine.YARARulesDir = v
	}
	if v := os.Getenv("QUARANTINE_STRICTNESS_LEVEL"); v != "" {
		cfg.Quarantine.StrictnessLevel = v
	}
	if v := os.Getenv("UPDATE_BUNDLE_DIR"); v != "" {
		cfg.Update.BundleDir = v
	}
	if v := os.Getenv("UPDATE_BACKUP_DIR"); v != "" {
		cfg.Update.BackupDir = v
	}
	if v := os.Getenv("UPDATE_TRUSTED_KEYRING"); v != "" {
		cfg.Update.TrustedKeyring = v
	}
	if v := os.Getenv("JOBRUNNER_STATUS_DIR_ROOT"); v != "" {
		cfg.JobRunner.StatusDirRoot = v
	}
	if v := os.Getenv("JOBRUNNER_TRAINING_INTERPRETER"); v != "" {
		cfg.JobRunner.TrainingInterpreter = v
	}
	if v := os.Getenv("JOBRUNNER_TRAINING_SCRIPT"); v != "" {
		cfg.JobRunner.TrainingScript = v
	}
	if v := os.Getenv("JOBRUNNER_EVAL_INTERPRETER"); v != "" {
		cfg.JobRunner.EvalInterpreter = v
	}
	if v := os.Getenv("JOBRUNNER_EVAL_SCRIPT"); v != "" {
		cfg.JobRunner.EvalScript = v
	}
	if v := os.Getenv("JOBRUNNER_EVAL_DATASETS_DIR"); v != "" {
		cfg.JobRunner.EvalDatasetsDir = v
	}
	if v := os.Getenv("DEVMODE_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.DevMode.Enabled = b
		}
	}
	if v := os.Getenv("LDAP_ENABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.LDAP.Enabled = b
		}
	}
	if v := os.Getenv("LDAP_URL"); v != "" {
		cfg.LDAP.URL = v
	}
	if v := os.Getenv("LDAP_BIND_DN"); v != "" {
		cfg.LDAP.BindDN = v
	}
	if v := os.Getenv("LDAP_BIND_PASSWORD"); v != "" {
		cfg.LDAP.BindPassword = v
	}
	if v := os.Getenv("LDAP_BASE_DN"); v != "" {
		cfg.LDAP.BaseDN = v
	}
	if v := os.Getenv("LDAP_USER_FILTER"); v != "" {
		cfg.LDAP.UserFilter = v
	}
	if v := os.Getenv("INFERENCE_BACKEND_URL"); v != "" {
		cfg.Inference.BackendURL = v
	}
	if v := os.Getenv("INFERENCE_CONNECT_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inference.ConnectTimeoutSec = n
		}
	}
	if v := os.Getenv("INFERENCE_READ_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inference.ReadTimeoutSec = n
		}
	}
	if v := os.Getenv("INFERENCE_WRITE_TIMEOUT_SEC"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.Inference.WriteTimeoutSec = n
		}
	}
}

// SystemConfigReader is satisfied by internal/store's SystemConfig
// repository. Declared here, rather than imported from internal/store, to
// keep config free of a dependency on the persistence layer.
type SystemConfigReader interface {
	GetSystemConfig(ctx context.Context, key string) (value string, ok bool, err error)
}

// LoadQuarantineConfig re-reads quarantine.strictness_level from the
// SystemConfig table, the way GPUScheduler._get_training_config re-reads its
// tunables from the settings store on every call rather than caching them at
// startup. Falls back to the bootstrap value when the key was never set or
// the store can't be reached.
func (c *Config) LoadQuarantineConfig(ctx context.Context, reader SystemConfigReader) QuarantineConfig {
	qc := c.Quarantine
	if reader == nil {
		return qc
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.strictness_level"); ok && v != "" {
		qc.StrictnessLevel = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.pii_action"); ok && v != "" {
		qc.PIIAction = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.max_file_size"); ok {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			qc.MaxFileSize = n
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.max_batch_files"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			qc.MaxBatchFiles = n
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.max_compression_ratio"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			qc.MaxCompressionRatio = n
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.max_archive_depth"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			qc.MaxArchiveDepth = n
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.auto_approve_clean"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			qc.AutoApproveClean = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.ai_safety_enabled"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			qc.AISafetyEnabled = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.pii_enabled"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			qc.PIIEnabled = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.injection_detection_enabled"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			qc.InjectionDetection = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "quarantine.model_hash_verification"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			qc.ModelHashVerify = b
		}
	}
	return qc
}

// TrainingConfig is the GPU scheduler's admission-control tunables.
type TrainingConfig struct {
	Enabled       bool
	GPUIndex      int
	MaxMemoryPct  float64
}

// LoadTrainingConfig re-reads training.enabled / training.gpu_index /
// training.max_memory_pct from SystemConfig on every admission check, the
// way the Python original's GPUScheduler._get_training_config never caches
// its tunables — an admin flipping training.enabled off takes effect on the
// very next submission, not on the next restart.
func (c *Config) LoadTrainingConfig(ctx context.Context, reader SystemConfigReader) TrainingConfig {
	tc := TrainingConfig{Enabled: true, GPUIndex: c.GPU.DeviceIndex, MaxMemoryPct: c.GPU.MemoryThresholdPct}
	if reader == nil {
		return tc
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "training.enabled"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			tc.Enabled = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "training.gpu_index"); ok {
		if n, err := strconv.Atoi(v); err == nil {
			tc.GPUIndex = n
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "training.max_memory_pct"); ok {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			tc.MaxMemoryPct = f
		}
	}
	return tc
}

// LoadDirectoryConfig re-reads the LDAP directory settings on every login
// attempt so an admin toggling directory.enabled takes effect without a
// restart.
func (c *Config) LoadDirectoryConfig(ctx context.Context, reader SystemConfigReader) LDAPConfig {
	ld := c.LDAP
	if reader == nil {
		return ld
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.enabled"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			ld.Enabled = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.url"); ok && v != "" {
		ld.URL = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.bind_dn"); ok && v != "" {
		ld.BindDN = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.bind_password"); ok && v != "" {
		ld.BindPassword = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.base_dn"); ok && v != "" {
		ld.BaseDN = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.user_filter"); ok && v != "" {
		ld.UserFilter = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.group_search_base"); ok && v != "" {
		ld.GroupSearchBase = v
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.use_ssl"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			ld.UseSSL = b
		}
	}
	if v, ok, _ := reader.GetSystemConfig(ctx, "directory.default_role"); ok && v != "" {
		ld.DefaultRole = v
	}
	return ld
}
