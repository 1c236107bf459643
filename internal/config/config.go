package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server  ServerConfig
	Storage StorageConfig
	Objects ObjectsConfig
	Vision  VisionConfig
	Audio   AudioConfig
	Reports ReportsConfig
	Worker  WorkerConfig
	Auth    AuthConfig
	Log     LogConfig
}

type ServerConfig struct {
	Host          string `env:"PERSONA_SERVER_HOST"`
	Port          int    `env:"PERSONA_SERVER_PORT"`
	PublicBaseURL string `env:"PERSONA_SERVER_PUBLIC_BASE_URL"`
	// CORSOrigins is a comma-separated list of allowed browser origins.
	CORSOrigins string `env:"PERSONA_SERVER_CORS_ORIGINS"`
}

type StorageConfig struct {
	DataDir string `env:"PERSONA_STORAGE_DATA_DIR"`
}

type ObjectsConfig struct {
	// Backend is "local" or "s3".
	Backend        string `env:"PERSONA_OBJECTS_BACKEND"`
	ImagesBucket   string `env:"PERSONA_OBJECTS_IMAGES_BUCKET"`
	AudioBucket    string `env:"PERSONA_OBJECTS_AUDIO_BUCKET"`
	LocalDir       string `env:"PERSONA_OBJECTS_LOCAL_DIR"`
	UploadTTL      string `env:"PERSONA_OBJECTS_UPLOAD_TTL"`
	S3Endpoint     string `env:"PERSONA_OBJECTS_S3_ENDPOINT"`
	S3Region       string `env:"PERSONA_OBJECTS_S3_REGION"`
	S3UsePathStyle bool   `env:"PERSONA_OBJECTS_S3_USE_PATH_STYLE"`
	S3AccessKey    string `env:"PERSONA_S3_ACCESS_KEY"`
	S3SecretKey    string `env:"PERSONA_S3_SECRET_KEY"`
}

type VisionConfig struct {
	BaseURL string `env:"PERSONA_VISION_BASE_URL"`
	Model   string `env:"PERSONA_VISION_MODEL"`
	MaxEdge int    `env:"PERSONA_VISION_MAX_EDGE"`
	Timeout string `env:"PERSONA_VISION_TIMEOUT"`
	// APIKey is shared with report generation.
	APIKey string `env:"PERSONA_OPENAI_API_KEY"`
}

type AudioConfig struct {
	BaseURL        string `env:"PERSONA_AUDIO_BASE_URL"`
	PollAttempts   int    `env:"PERSONA_AUDIO_POLL_ATTEMPTS"`
	PollInterval   string `env:"PERSONA_AUDIO_POLL_INTERVAL"`
	RequestTimeout string `env:"PERSONA_AUDIO_REQUEST_TIMEOUT"`
	APIKey         string `env:"PERSONA_HUME_API_KEY"`
}

type ReportsConfig struct {
	// Provider is "openai" or "ollama".
	Provider    string  `env:"PERSONA_REPORTS_PROVIDER"`
	OllamaURL   string  `env:"PERSONA_REPORTS_OLLAMA_URL"`
	Timeout     string  `env:"PERSONA_REPORTS_TIMEOUT"`
	Model       string  `env:"PERSONA_REPORTS_MODEL"`
	MaxTokens   int     `env:"PERSONA_REPORTS_MAX_TOKENS"`
	Temperature float64 `env:"PERSONA_REPORTS_TEMPERATURE"`
}

type WorkerConfig struct {
	Concurrency  int    `env:"PERSONA_WORKER_CONCURRENCY"`
	PollInterval string `env:"PERSONA_WORKER_POLL_INTERVAL"`
	LeaseTimeout string `env:"PERSONA_WORKER_LEASE_TIMEOUT"`
}

type AuthConfig struct {
	JWTSecret string `env:"PERSONA_JWT_SECRET"`
}

type LogConfig struct {
	Level string `env:"PERSONA_LOG_LEVEL"`
}

func defaults() Config {
	dataDir := defaultDataDir()
	return Config{
		Server: ServerConfig{
			Host:          "127.0.0.1",
			Port:          4100,
			PublicBaseURL: "http://127.0.0.1:4100",
		},
		Storage: StorageConfig{
			DataDir: dataDir,
		},
		Objects: ObjectsConfig{
			Backend:      "local",
			ImagesBucket: "images",
			AudioBucket:  "audio",
			LocalDir:     dataDir + "/objects",
			UploadTTL:    "15m",
			S3Region:     "us-east-1",
		},
		Vision: VisionConfig{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o",
			MaxEdge: 768,
			Timeout: "60s",
		},
		Audio: AudioConfig{
			BaseURL:        "https://api.hume.ai/v0",
			PollAttempts:   30,
			PollInterval:   "10s",
			RequestTimeout: "30s",
		},
		Reports: ReportsConfig{
			Provider:    "openai",
			OllamaURL:   "http://localhost:11434",
			Timeout:     "120s",
			Model:       "gpt-4",
			MaxTokens:   4000,
			Temperature: 0.7,
		},
		Worker: WorkerConfig{
			Concurrency:  4,
			PollInterval: "500ms",
			LeaseTimeout: "15m",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads configuration from the JSON file backend, then applies PERSONA_*
// environment overrides. Secrets are only ever read from the environment,
// except the token signing secret, which is generated on first use and kept
// in the local secret store.
//
// Missing provider keys are not an error: the affected adapter reports
// "not configured" on each analysis instead.
func Load() (Config, error) {
	f, err := openJSONFile(configFilePath())
	if err != nil {
		return Config{}, err
	}
	return loadWith(f, NewKeychain())
}

// keychain abstracts the local secret store for testing.
type keychain interface {
	Get(service, account string) (string, error)
	Set(service, account, value string) error
}

func loadWith(b ConfigBackend, kc keychain) (Config, error) {
	cfg := defaults()

	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}

	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parsing environment overrides: %w", err)
	}

	if cfg.Auth.JWTSecret == "" {
		secret, err := GetSigningSecret(kc)
		if err != nil {
			return Config{}, err
		}
		cfg.Auth.JWTSecret = secret
	}

	if err := validate(cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// minLeaseTimeout keeps the job heartbeat (a third of the lease) well clear
// of the queue's one-second timestamp precision.
const minLeaseTimeout = 10 * time.Second

func validate(cfg Config) error {
	switch cfg.Objects.Backend {
	case "local", "s3":
	default:
		return fmt.Errorf("objects.backend must be %q or %q, got %q", "local", "s3", cfg.Objects.Backend)
	}
	switch cfg.Reports.Provider {
	case "openai", "ollama":
	default:
		return fmt.Errorf("reports.provider must be %q or %q, got %q", "openai", "ollama", cfg.Reports.Provider)
	}
	for _, d := range []struct{ key, val string }{
		{"objects.upload_ttl", cfg.Objects.UploadTTL},
		{"vision.timeout", cfg.Vision.Timeout},
		{"audio.poll_interval", cfg.Audio.PollInterval},
		{"audio.request_timeout", cfg.Audio.RequestTimeout},
		{"reports.timeout", cfg.Reports.Timeout},
		{"worker.poll_interval", cfg.Worker.PollInterval},
		{"worker.lease_timeout", cfg.Worker.LeaseTimeout},
	} {
		if _, err := time.ParseDuration(d.val); err != nil {
			return fmt.Errorf("invalid duration for %s: %w", d.key, err)
		}
	}
	if lease := Duration(cfg.Worker.LeaseTimeout); lease < minLeaseTimeout {
		return fmt.Errorf("worker.lease_timeout must be at least %s, got %s", minLeaseTimeout, lease)
	}
	if cfg.Audio.PollAttempts <= 0 {
		return fmt.Errorf("audio.poll_attempts must be positive, got %d", cfg.Audio.PollAttempts)
	}
	return nil
}

// Duration parses a duration value that has already passed validation.
func Duration(v string) time.Duration {
	d, _ := time.ParseDuration(v)
	return d
}

// Origins splits server.cors_origins into a list.
func (c ServerConfig) Origins() []string {
	var out []string
	for _, o := range strings.Split(c.CORSOrigins, ",") {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}
