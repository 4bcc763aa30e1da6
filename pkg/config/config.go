package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
)

// Provider names accepted by TEXT_PROVIDER and IMAGE_PROVIDER.
const (
	ProviderHuggingFace = "huggingface"
	ProviderOpenAI      = "openai"
	ProviderGemini      = "gemini"
	ProviderWebUI       = "webui"
)

// Job store backends accepted by JOB_STORE.
const (
	StoreMemory   = "memory"
	StoreRedis    = "redis"
	StoreSupabase = "supabase"
)

// Config holds every environment setting the service reads.
type Config struct {
	Port     string
	LogLevel string

	OutputDir string
	TempDir   string
	MediaRoot string

	// Text generation
	TextProvider        string
	HuggingFaceToken    string
	HuggingFaceBaseURL  string
	HuggingFaceImageURL string
	TextModel           string
	OpenAIKey           string
	OpenAIModel         string
	OpenAIBaseURL       string
	GeminiKey           string
	GeminiModel         string

	// Image generation
	ImageProvider    string
	ImageModel       string
	GeminiImageModel string
	WebUIURL         string
	ImageWidth       int
	ImageHeight      int
	RemoveThreshold  int
	ImageCacheTTL    time.Duration

	APITimeout    time.Duration
	MaxRetries    int
	RateLimitWait time.Duration

	// Jobs
	Workers   int
	QueueSize int
	JobStore  string
	JobsFile  string

	RedisHost     string
	RedisPort     string
	RedisUsername string
	RedisPassword string
	RedisUseTLS   bool
	RedisJobTTL   time.Duration

	SupabaseURL       string
	SupabaseKey       string
	SupabaseJobsTable string
}

// Load reads a .env file when present, then the process environment.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil {
		log.Debug(".env file not found, using environment variables")
	}

	cfg := &Config{
		Port:     getEnv("PORT", "8080"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		OutputDir: getEnv("OUTPUT_DIR", "./outputs"),
		TempDir:   getEnv("TEMP_DIR", "./temp"),
		MediaRoot: getEnv("MEDIA_ROOT", "./media"),

		TextProvider:        getEnv("TEXT_PROVIDER", ProviderHuggingFace),
		HuggingFaceToken:    getEnv("HUGGINGFACE_API_TOKEN", os.Getenv("HUGGINGFACEHUB_API_TOKEN")),
		HuggingFaceBaseURL:  getEnv("HUGGINGFACE_BASE_URL", "https://router.huggingface.co/v1"),
		HuggingFaceImageURL: getEnv("HUGGINGFACE_API_URL", "https://api-inference.huggingface.co/models"),
		TextModel:           getEnv("TEXT_GENERATION_MODEL", "microsoft/Phi-3-mini-4k-instruct"),
		OpenAIKey:           os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:         getEnv("OPENAI_MODEL", "gpt-4o-mini"),
		OpenAIBaseURL:       os.Getenv("OPENAI_BASE_URL"),
		GeminiKey:           os.Getenv("GEMINI_API_KEY"),
		GeminiModel:         getEnv("GEMINI_MODEL", "gemini-2.5-flash"),

		ImageProvider:    getEnv("IMAGE_PROVIDER", ProviderHuggingFace),
		ImageModel:       getEnv("IMAGE_GENERATION_MODEL", "stabilityai/sdxl-base-1.0"),
		GeminiImageModel: getEnv("GEMINI_IMAGE_MODEL", "gemini-2.5-flash-image"),
		WebUIURL:         getEnv("SD_WEBUI_URL", "http://127.0.0.1:7860"),
		ImageWidth:       getInt("IMAGE_WIDTH", 1024),
		ImageHeight:      getInt("IMAGE_HEIGHT", 1024),
		RemoveThreshold:  getInt("BACKGROUND_REMOVE_THRESHOLD", 240),
		ImageCacheTTL:    getDuration("IMAGE_CACHE_TTL", time.Hour),

		APITimeout:    getDuration("API_TIMEOUT", 60*time.Second),
		MaxRetries:    getInt("MAX_RETRIES", 3),
		RateLimitWait: getDuration("RATE_LIMIT_WAIT", 2*time.Second),

		Workers:   getInt("WORKERS", 2),
		QueueSize: getInt("QUEUE_SIZE", 32),
		JobStore:  getEnv("JOB_STORE", StoreMemory),
		JobsFile:  getEnv("JOBS_FILE", "jobs.json"),

		RedisHost:     getEnv("REDIS_HOST", "localhost"),
		RedisPort:     getEnv("REDIS_PORT", "6379"),
		RedisUsername: os.Getenv("REDIS_USERNAME"),
		RedisPassword: os.Getenv("REDIS_PASSWORD"),
		RedisUseTLS:   getBool("REDIS_USE_TLS", false),
		RedisJobTTL:   getDuration("REDIS_JOB_TTL", 7*24*time.Hour),

		SupabaseURL:       os.Getenv("SUPABASE_URL"),
		SupabaseKey:       os.Getenv("SUPABASE_SERVICE_KEY"),
		SupabaseJobsTable: getEnv("SUPABASE_JOBS_TABLE", "story_generation_jobs"),
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		"text", cfg.TextProvider,
		"image", cfg.ImageProvider,
		"store", cfg.JobStore,
		"workers", cfg.Workers,
	)
	return cfg, nil
}

func (c *Config) validate() error {
	switch c.TextProvider {
	case ProviderHuggingFace:
		if c.HuggingFaceToken == "" {
			return fmt.Errorf("HUGGINGFACE_API_TOKEN is required for text provider %q", c.TextProvider)
		}
	case ProviderOpenAI:
		if c.OpenAIKey == "" && c.OpenAIBaseURL == "" {
			return fmt.Errorf("OPENAI_API_KEY or OPENAI_BASE_URL is required for text provider %q", c.TextProvider)
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for text provider %q", c.TextProvider)
		}
	default:
		return fmt.Errorf("unknown TEXT_PROVIDER %q", c.TextProvider)
	}

	switch c.ImageProvider {
	case ProviderHuggingFace:
		if c.HuggingFaceToken == "" {
			return fmt.Errorf("HUGGINGFACE_API_TOKEN is required for image provider %q", c.ImageProvider)
		}
	case ProviderGemini:
		if c.GeminiKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for image provider %q", c.ImageProvider)
		}
	case ProviderWebUI:
		if c.WebUIURL == "" {
			return fmt.Errorf("SD_WEBUI_URL is required for image provider %q", c.ImageProvider)
		}
	default:
		return fmt.Errorf("unknown IMAGE_PROVIDER %q", c.ImageProvider)
	}

	switch c.JobStore {
	case StoreMemory, StoreRedis:
	case StoreSupabase:
		if c.SupabaseURL == "" || c.SupabaseKey == "" {
			return fmt.Errorf("SUPABASE_URL and SUPABASE_SERVICE_KEY are required for job store %q", c.JobStore)
		}
	default:
		return fmt.Errorf("unknown JOB_STORE %q", c.JobStore)
	}

	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.QueueSize <= 0 {
		return fmt.Errorf("QUEUE_SIZE must be positive, got %d", c.QueueSize)
	}
	if c.RemoveThreshold < 0 || c.RemoveThreshold > 255 {
		return fmt.Errorf("BACKGROUND_REMOVE_THRESHOLD must be within 0..255, got %d", c.RemoveThreshold)
	}
	return nil
}

// RedisAddr joins host and port for the redis client.
func (c *Config) RedisAddr() string {
	return fmt.Sprintf("%s:%s", c.RedisHost, c.RedisPort)
}

// EnsureDirs creates the output, temp and media directories.
func (c *Config) EnsureDirs() error {
	for _, dir := range []string{c.OutputDir, c.TempDir, c.MediaRoot} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// LevelFromString maps LOG_LEVEL onto a charmbracelet level, defaulting to info.
func LevelFromString(s string) log.Level {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) int {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			return v
		}
		log.Warn("invalid integer in environment, using default", "key", key, "value", s)
	}
	return defaultValue
}

func getBool(key string, defaultValue bool) bool {
	if s := os.Getenv(key); s != "" {
		if v, err := strconv.ParseBool(s); err == nil {
			return v
		}
	}
	return defaultValue
}

// getDuration accepts Go durations ("90s") or bare seconds ("60").
func getDuration(key string, defaultValue time.Duration) time.Duration {
	s := os.Getenv(key)
	if s == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(s); err == nil {
		return d
	}
	if secs, err := strconv.Atoi(s); err == nil {
		return time.Duration(secs) * time.Second
	}
	log.Warn("invalid duration in environment, using default", "key", key, "value", s)
	return defaultValue
}
