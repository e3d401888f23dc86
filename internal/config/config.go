package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the codereview server.
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Redis     RedisConfig
	Functions FunctionsConfig
	Archive   ArchiveConfig
	Pipeline  PipelineConfig
}

type ServerConfig struct {
	Port            int
	Env             string
	CORSOrigins     []string
	RequestsPerMin  int
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	URL             string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	URL string
}

// FunctionsConfig selects the backend that hosts the three stage functions.
type FunctionsConfig struct {
	Backend     string
	Timeout     time.Duration
	Screening   string
	Detection   string
	Suggestions string
	Lambda      LambdaConfig
	HTTP        HTTPFunctionsConfig
	OpenAI      OpenAIConfig
}

type LambdaConfig struct {
	Region string
}

type HTTPFunctionsConfig struct {
	BaseURL string
	APIKey  string
}

type OpenAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

// ArchiveConfig points at the S3-compatible bucket that receives archived reports.
// Archiving is disabled when Endpoint is empty.
type ArchiveConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

func (a ArchiveConfig) Enabled() bool { return a.Endpoint != "" }

// PipelineConfig holds every tunable of the analysis pipeline. It can be seeded from
// a YAML file named by PIPELINE_CONFIG_FILE; environment variables take precedence.
type PipelineConfig struct {
	Budget     BudgetConfig     `yaml:"budget"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Batching   BatchingConfig   `yaml:"batching"`
	Polling    PollingConfig    `yaml:"polling"`
	Routing    RoutingConfig    `yaml:"routing"`
	Results    ResultsConfig    `yaml:"results"`
}

type BudgetConfig struct {
	TotalTokenBudget    int     `yaml:"total_token_budget"`
	TokensPerSuggestion int     `yaml:"tokens_per_suggestion"`
	SecurityShare       float64 `yaml:"security_share"`
	PerformanceShare    float64 `yaml:"performance_share"`
	QualityShare        float64 `yaml:"quality_share"`
	SecurityMin         int     `yaml:"security_min"`
	PerformanceMin      int     `yaml:"performance_min"`
	QualityMin          int     `yaml:"quality_min"`
}

// MaxSuggestions is the per-scan suggestion budget N.
func (b BudgetConfig) MaxSuggestions() int {
	if b.TokensPerSuggestion <= 0 {
		return 0
	}
	return b.TotalTokenBudget / b.TokensPerSuggestion
}

type ResilienceConfig struct {
	RateLimitDelay   time.Duration `yaml:"rate_limit_delay"`
	MaxRetries       int           `yaml:"max_retries"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	BreakerThreshold int           `yaml:"breaker_threshold"`
	BreakerTimeout   time.Duration `yaml:"breaker_timeout"`
	LockTTL          time.Duration `yaml:"lock_ttl"`
}

type BatchingConfig struct {
	ScreeningBatchSize  int `yaml:"screening_batch_size"`
	DetectionBatchSize  int `yaml:"detection_batch_size"`
	SuggestionBatchSize int `yaml:"suggestion_batch_size"`
	MaxPayloadBytes     int `yaml:"max_payload_bytes"`
}

type PollingConfig struct {
	Mode            string        `yaml:"mode"`
	InitialInterval time.Duration `yaml:"initial_interval"`
	MaxInterval     time.Duration `yaml:"max_interval"`
	BackoffAfter    int           `yaml:"backoff_after"`
	MaxWait         time.Duration `yaml:"max_wait"`
}

type RoutingConfig struct {
	CheapModel   string `yaml:"cheap_model"`
	PremiumModel string `yaml:"premium_model"`
}

type ResultsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	StatusTTL     time.Duration `yaml:"status_ttl"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

var validBackends = map[string]bool{
	"lambda": true,
	"http":   true,
	"openai": true,
	"mock":   true,
}

// DefaultPipeline returns the pipeline tunables used when nothing overrides them.
func DefaultPipeline() PipelineConfig {
	return PipelineConfig{
		Budget: BudgetConfig{
			TotalTokenBudget:    70000,
			TokensPerSuggestion: 3500,
			SecurityShare:       0.5,
			PerformanceShare:    0.3,
			QualityShare:        0.2,
			SecurityMin:         3,
			PerformanceMin:      2,
			QualityMin:          1,
		},
		Resilience: ResilienceConfig{
			RateLimitDelay:   time.Second,
			MaxRetries:       3,
			BaseDelay:        time.Second,
			MaxDelay:         30 * time.Second,
			BreakerThreshold: 5,
			BreakerTimeout:   60 * time.Second,
			LockTTL:          time.Hour,
		},
		Batching: BatchingConfig{
			ScreeningBatchSize:  50,
			DetectionBatchSize:  20,
			SuggestionBatchSize: 10,
			MaxPayloadBytes:     5 << 20,
		},
		Polling: PollingConfig{
			Mode:            "sync",
			InitialInterval: 2 * time.Second,
			MaxInterval:     15 * time.Second,
			BackoffAfter:    3,
			MaxWait:         20 * time.Minute,
		},
		Routing: RoutingConfig{
			CheapModel:   "amazon.nova-lite-v1:0",
			PremiumModel: "us.amazon.nova-premier-v1:0",
		},
		Results: ResultsConfig{
			TTL:           7 * 24 * time.Hour,
			StatusTTL:     24 * time.Hour,
			SweepInterval: time.Hour,
		},
	}
}

// Load reads configuration from environment variables and returns a validated Config.
// Returns an error with a descriptive message if any required value is missing or invalid.
func Load() (*Config, error) {
	pipeline, err := LoadPipeline()
	if err != nil {
		return nil, err
	}

	cfg := &Config{
		Server: ServerConfig{
			Port:            envInt("CODEREVIEW_PORT", 8080),
			Env:             envString("CODEREVIEW_ENV", "development"),
			CORSOrigins:     envList("CORS_ALLOWED_ORIGINS"),
			RequestsPerMin:  envInt("API_REQUESTS_PER_MIN", 60),
			ShutdownTimeout: envDuration("SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			URL:             os.Getenv("DATABASE_URL"),
			MaxOpenConns:    envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns:    envInt("DATABASE_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: envDuration("DATABASE_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			URL: os.Getenv("REDIS_URL"),
		},
		Functions: loadFunctions(""),
		Archive: ArchiveConfig{
			Endpoint:  os.Getenv("ARCHIVE_ENDPOINT"),
			AccessKey: os.Getenv("ARCHIVE_ACCESS_KEY"),
			SecretKey: os.Getenv("ARCHIVE_SECRET_KEY"),
			Bucket:    envString("ARCHIVE_BUCKET", "codereview-reports"),
			UseSSL:    envBool("ARCHIVE_USE_SSL", false),
		},
		Pipeline: pipeline,
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

func loadFunctions(defaultBackend string) FunctionsConfig {
	return FunctionsConfig{
		Backend:     envString("FUNCTIONS_BACKEND", defaultBackend),
		Timeout:     envDurationSecs("FUNCTION_TIMEOUT_SECS", 300*time.Second),
		Screening:   envString("SCREENING_FUNCTION", "code-analysis-screening"),
		Detection:   envString("DETECTION_FUNCTION", "code-analysis-detection"),
		Suggestions: envString("SUGGESTIONS_FUNCTION", "code-analysis-suggestions"),
		Lambda: LambdaConfig{
			Region: envString("AWS_REGION", "us-east-1"),
		},
		HTTP: HTTPFunctionsConfig{
			BaseURL: os.Getenv("FUNCTIONS_BASE_URL"),
			APIKey:  os.Getenv("FUNCTIONS_API_KEY"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  os.Getenv("OPENAI_API_KEY"),
			BaseURL: os.Getenv("OPENAI_BASE_URL"),
			Model:   envString("OPENAI_MODEL", "gpt-4o-mini"),
		},
	}
}

// LoadLocal reads only what a run without database or cache needs: the functions
// backend (mock unless FUNCTIONS_BACKEND says otherwise) and the pipeline tunables.
func LoadLocal() (FunctionsConfig, PipelineConfig, error) {
	pipeline, err := LoadPipeline()
	if err != nil {
		return FunctionsConfig{}, pipeline, err
	}
	fns := loadFunctions("mock")
	if err := fns.validate(pipeline.Polling.Mode); err != nil {
		return fns, pipeline, err
	}
	return fns, pipeline, nil
}

// LoadPipeline builds the pipeline tunables from defaults, the optional YAML file and
// environment overrides, in that order.
func LoadPipeline() (PipelineConfig, error) {
	p := DefaultPipeline()

	if path := os.Getenv("PIPELINE_CONFIG_FILE"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return p, fmt.Errorf("read pipeline config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &p); err != nil {
			return p, fmt.Errorf("parse pipeline config %s: %w", path, err)
		}
	}

	b := &p.Budget
	b.TotalTokenBudget = envInt("TOTAL_TOKEN_BUDGET", b.TotalTokenBudget)
	b.TokensPerSuggestion = envInt("TOKENS_PER_SUGGESTION", b.TokensPerSuggestion)
	b.SecurityShare = envFloat("SECURITY_ALLOCATION", b.SecurityShare)
	b.PerformanceShare = envFloat("PERFORMANCE_ALLOCATION", b.PerformanceShare)
	b.QualityShare = envFloat("QUALITY_ALLOCATION", b.QualityShare)
	b.SecurityMin = envInt("MIN_SECURITY_ISSUES", b.SecurityMin)
	b.PerformanceMin = envInt("MIN_PERFORMANCE_ISSUES", b.PerformanceMin)
	b.QualityMin = envInt("MIN_QUALITY_ISSUES", b.QualityMin)

	r := &p.Resilience
	r.RateLimitDelay = envDuration("RATE_LIMIT_DELAY", r.RateLimitDelay)
	r.MaxRetries = envInt("MAX_RETRIES", r.MaxRetries)
	r.BaseDelay = envDuration("BASE_DELAY", r.BaseDelay)
	r.MaxDelay = envDuration("MAX_DELAY", r.MaxDelay)
	r.BreakerThreshold = envInt("CIRCUIT_BREAKER_FAILURE_THRESHOLD", r.BreakerThreshold)
	r.BreakerTimeout = envDuration("CIRCUIT_BREAKER_TIMEOUT", r.BreakerTimeout)
	r.LockTTL = envDuration("STAGE_LOCK_TTL", r.LockTTL)

	bt := &p.Batching
	bt.ScreeningBatchSize = envInt("SCREENING_BATCH_SIZE", bt.ScreeningBatchSize)
	bt.DetectionBatchSize = envInt("DETECTION_BATCH_SIZE", bt.DetectionBatchSize)
	bt.SuggestionBatchSize = envInt("SUGGESTION_BATCH_SIZE", bt.SuggestionBatchSize)
	bt.MaxPayloadBytes = envInt("MAX_PAYLOAD_BYTES", bt.MaxPayloadBytes)

	pl := &p.Polling
	pl.Mode = envString("SUGGESTION_MODE", pl.Mode)
	pl.InitialInterval = envDuration("POLL_INITIAL_INTERVAL", pl.InitialInterval)
	pl.MaxInterval = envDuration("POLL_MAX_INTERVAL", pl.MaxInterval)
	pl.BackoffAfter = envInt("POLL_BACKOFF_AFTER", pl.BackoffAfter)
	pl.MaxWait = envDuration("POLL_MAX_WAIT", pl.MaxWait)

	p.Routing.CheapModel = envString("CHEAP_MODEL_ID", p.Routing.CheapModel)
	p.Routing.PremiumModel = envString("PREMIUM_MODEL_ID", p.Routing.PremiumModel)

	p.Results.TTL = envDuration("RESULT_TTL", p.Results.TTL)
	p.Results.StatusTTL = envDuration("STATUS_TTL", p.Results.StatusTTL)
	p.Results.SweepInterval = envDuration("RESULT_SWEEP_INTERVAL", p.Results.SweepInterval)

	if err := p.Validate(); err != nil {
		return p, err
	}
	return p, nil
}

func (c *Config) validate() error {
	if c.Database.URL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}

	if c.Redis.URL == "" {
		return fmt.Errorf("REDIS_URL is required")
	}

	if err := c.Functions.validate(c.Pipeline.Polling.Mode); err != nil {
		return err
	}

	if c.Archive.Enabled() && (c.Archive.AccessKey == "" || c.Archive.SecretKey == "") {
		return fmt.Errorf("ARCHIVE_ACCESS_KEY and ARCHIVE_SECRET_KEY are required when ARCHIVE_ENDPOINT is set")
	}

	return nil
}

func (f FunctionsConfig) validate(mode string) error {
	if f.Backend == "" {
		return fmt.Errorf("FUNCTIONS_BACKEND is required")
	}
	if !validBackends[f.Backend] {
		return fmt.Errorf("FUNCTIONS_BACKEND must be one of lambda, http, openai, mock; got %q", f.Backend)
	}

	if f.Backend == "http" {
		u := f.HTTP.BaseURL
		if !strings.HasPrefix(u, "http://") && !strings.HasPrefix(u, "https://") {
			return fmt.Errorf("FUNCTIONS_BASE_URL must start with http:// or https://, got %q", u)
		}
	}
	if f.Backend == "openai" && f.OpenAI.APIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required when FUNCTIONS_BACKEND is openai")
	}
	if f.Backend == "openai" && mode == "async" {
		return fmt.Errorf("SUGGESTION_MODE async is not supported by the openai backend")
	}
	return nil
}

// Validate checks the pipeline tunables for values the pipeline cannot run with.
func (p PipelineConfig) Validate() error {
	if p.Budget.MaxSuggestions() <= 0 {
		return fmt.Errorf("TOTAL_TOKEN_BUDGET must be at least TOKENS_PER_SUGGESTION (got %d / %d)",
			p.Budget.TotalTokenBudget, p.Budget.TokensPerSuggestion)
	}
	shares := p.Budget.SecurityShare + p.Budget.PerformanceShare + p.Budget.QualityShare
	if shares <= 0 || shares > 1.0001 {
		return fmt.Errorf("category allocation shares must sum to (0, 1], got %.3f", shares)
	}
	if p.Resilience.MaxRetries < 1 {
		return fmt.Errorf("MAX_RETRIES must be at least 1, got %d", p.Resilience.MaxRetries)
	}
	if p.Resilience.BreakerThreshold < 1 {
		return fmt.Errorf("CIRCUIT_BREAKER_FAILURE_THRESHOLD must be at least 1, got %d", p.Resilience.BreakerThreshold)
	}
	if p.Resilience.BreakerTimeout <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_TIMEOUT must be positive, got %s", p.Resilience.BreakerTimeout)
	}
	if p.Resilience.LockTTL <= 0 {
		// a lock without expiry outlives a crashed holder
		return fmt.Errorf("STAGE_LOCK_TTL must be positive, got %s", p.Resilience.LockTTL)
	}
	if p.Polling.InitialInterval <= 0 {
		return fmt.Errorf("POLL_INITIAL_INTERVAL must be positive, got %s", p.Polling.InitialInterval)
	}
	if p.Polling.MaxInterval < p.Polling.InitialInterval {
		return fmt.Errorf("POLL_MAX_INTERVAL (%s) must not be below POLL_INITIAL_INTERVAL (%s)",
			p.Polling.MaxInterval, p.Polling.InitialInterval)
	}
	if p.Polling.MaxWait <= 0 {
		return fmt.Errorf("POLL_MAX_WAIT must be positive, got %s", p.Polling.MaxWait)
	}
	if p.Batching.ScreeningBatchSize < 1 || p.Batching.DetectionBatchSize < 1 || p.Batching.SuggestionBatchSize < 1 {
		return fmt.Errorf("batch sizes must be positive")
	}
	if p.Polling.Mode != "sync" && p.Polling.Mode != "async" {
		return fmt.Errorf("SUGGESTION_MODE must be sync or async, got %q", p.Polling.Mode)
	}
	if p.Results.TTL <= 0 {
		return fmt.Errorf("RESULT_TTL must be positive")
	}
	return nil
}

func envString(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return i
}

func envFloat(key string, defaultVal float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return defaultVal
	}
	return f
}

func envBool(key string, defaultVal bool) bool {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return defaultVal
	}
	return b
}

func envList(key string) []string {
	v := os.Getenv(key)
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return defaultVal
	}
	return d
}

func envDurationSecs(key string, defaultVal time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	secs, err := strconv.Atoi(v)
	if err != nil {
		return defaultVal
	}
	return time.Duration(secs) * time.Second
}
