package config

import (
	"fmt"
	"math"
	"strconv"
)

type keyType int

const (
	kString keyType = iota
	kInt
	kBool
	kFloat
)

type keySpec struct {
	key     string
	typ     keyType
	env     string // display only; overrides are read via the struct tags
	secret  bool
	apply   func(cfg *Config, v any)
	extract func(cfg Config) any
}

var specs = []keySpec{
	{
		key: "server.host", typ: kString, env: "PERSONA_SERVER_HOST",
		apply:   func(cfg *Config, v any) { cfg.Server.Host = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.Host },
	},
	{
		key: "server.port", typ: kInt, env: "PERSONA_SERVER_PORT",
		apply:   func(cfg *Config, v any) { cfg.Server.Port = v.(int) },
		extract: func(cfg Config) any { return cfg.Server.Port },
	},
	{
		key: "server.public_base_url", typ: kString, env: "PERSONA_SERVER_PUBLIC_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Server.PublicBaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.PublicBaseURL },
	},
	{
		key: "server.cors_origins", typ: kString, env: "PERSONA_SERVER_CORS_ORIGINS",
		apply:   func(cfg *Config, v any) { cfg.Server.CORSOrigins = v.(string) },
		extract: func(cfg Config) any { return cfg.Server.CORSOrigins },
	},
	{
		key: "storage.data_dir", typ: kString, env: "PERSONA_STORAGE_DATA_DIR",
		apply:   func(cfg *Config, v any) { cfg.Storage.DataDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Storage.DataDir },
	},
	{
		key: "objects.backend", typ: kString, env: "PERSONA_OBJECTS_BACKEND",
		apply:   func(cfg *Config, v any) { cfg.Objects.Backend = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.Backend },
	},
	{
		key: "objects.images_bucket", typ: kString, env: "PERSONA_OBJECTS_IMAGES_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Objects.ImagesBucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.ImagesBucket },
	},
	{
		key: "objects.audio_bucket", typ: kString, env: "PERSONA_OBJECTS_AUDIO_BUCKET",
		apply:   func(cfg *Config, v any) { cfg.Objects.AudioBucket = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.AudioBucket },
	},
	{
		key: "objects.local_dir", typ: kString, env: "PERSONA_OBJECTS_LOCAL_DIR",
		apply:   func(cfg *Config, v any) { cfg.Objects.LocalDir = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.LocalDir },
	},
	{
		key: "objects.upload_ttl", typ: kString, env: "PERSONA_OBJECTS_UPLOAD_TTL",
		apply:   func(cfg *Config, v any) { cfg.Objects.UploadTTL = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.UploadTTL },
	},
	{
		key: "objects.s3_endpoint", typ: kString, env: "PERSONA_OBJECTS_S3_ENDPOINT",
		apply:   func(cfg *Config, v any) { cfg.Objects.S3Endpoint = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.S3Endpoint },
	},
	{
		key: "objects.s3_region", typ: kString, env: "PERSONA_OBJECTS_S3_REGION",
		apply:   func(cfg *Config, v any) { cfg.Objects.S3Region = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.S3Region },
	},
	{
		key: "objects.s3_use_path_style", typ: kBool, env: "PERSONA_OBJECTS_S3_USE_PATH_STYLE",
		apply:   func(cfg *Config, v any) { cfg.Objects.S3UsePathStyle = v.(bool) },
		extract: func(cfg Config) any { return cfg.Objects.S3UsePathStyle },
	},
	{
		key: "objects.s3_access_key", typ: kString, env: "PERSONA_S3_ACCESS_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Objects.S3AccessKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.S3AccessKey },
	},
	{
		key: "objects.s3_secret_key", typ: kString, env: "PERSONA_S3_SECRET_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Objects.S3SecretKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Objects.S3SecretKey },
	},
	{
		key: "vision.base_url", typ: kString, env: "PERSONA_VISION_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Vision.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Vision.BaseURL },
	},
	{
		key: "vision.model", typ: kString, env: "PERSONA_VISION_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Vision.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Vision.Model },
	},
	{
		key: "vision.max_edge", typ: kInt, env: "PERSONA_VISION_MAX_EDGE",
		apply:   func(cfg *Config, v any) { cfg.Vision.MaxEdge = v.(int) },
		extract: func(cfg Config) any { return cfg.Vision.MaxEdge },
	},
	{
		key: "vision.timeout", typ: kString, env: "PERSONA_VISION_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Vision.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Vision.Timeout },
	},
	{
		key: "vision.api_key", typ: kString, env: "PERSONA_OPENAI_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Vision.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Vision.APIKey },
	},
	{
		key: "audio.base_url", typ: kString, env: "PERSONA_AUDIO_BASE_URL",
		apply:   func(cfg *Config, v any) { cfg.Audio.BaseURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.BaseURL },
	},
	{
		key: "audio.poll_attempts", typ: kInt, env: "PERSONA_AUDIO_POLL_ATTEMPTS",
		apply:   func(cfg *Config, v any) { cfg.Audio.PollAttempts = v.(int) },
		extract: func(cfg Config) any { return cfg.Audio.PollAttempts },
	},
	{
		key: "audio.poll_interval", typ: kString, env: "PERSONA_AUDIO_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Audio.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.PollInterval },
	},
	{
		key: "audio.request_timeout", typ: kString, env: "PERSONA_AUDIO_REQUEST_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Audio.RequestTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.RequestTimeout },
	},
	{
		key: "audio.api_key", typ: kString, env: "PERSONA_HUME_API_KEY",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Audio.APIKey = v.(string) },
		extract: func(cfg Config) any { return cfg.Audio.APIKey },
	},
	{
		key: "reports.provider", typ: kString, env: "PERSONA_REPORTS_PROVIDER",
		apply:   func(cfg *Config, v any) { cfg.Reports.Provider = v.(string) },
		extract: func(cfg Config) any { return cfg.Reports.Provider },
	},
	{
		key: "reports.ollama_url", typ: kString, env: "PERSONA_REPORTS_OLLAMA_URL",
		apply:   func(cfg *Config, v any) { cfg.Reports.OllamaURL = v.(string) },
		extract: func(cfg Config) any { return cfg.Reports.OllamaURL },
	},
	{
		key: "reports.timeout", typ: kString, env: "PERSONA_REPORTS_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Reports.Timeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Reports.Timeout },
	},
	{
		key: "reports.model", typ: kString, env: "PERSONA_REPORTS_MODEL",
		apply:   func(cfg *Config, v any) { cfg.Reports.Model = v.(string) },
		extract: func(cfg Config) any { return cfg.Reports.Model },
	},
	{
		key: "reports.max_tokens", typ: kInt, env: "PERSONA_REPORTS_MAX_TOKENS",
		apply:   func(cfg *Config, v any) { cfg.Reports.MaxTokens = v.(int) },
		extract: func(cfg Config) any { return cfg.Reports.MaxTokens },
	},
	{
		key: "reports.temperature", typ: kFloat, env: "PERSONA_REPORTS_TEMPERATURE",
		apply:   func(cfg *Config, v any) { cfg.Reports.Temperature = v.(float64) },
		extract: func(cfg Config) any { return cfg.Reports.Temperature },
	},
	{
		key: "worker.concurrency", typ: kInt, env: "PERSONA_WORKER_CONCURRENCY",
		apply:   func(cfg *Config, v any) { cfg.Worker.Concurrency = v.(int) },
		extract: func(cfg Config) any { return cfg.Worker.Concurrency },
	},
	{
		key: "worker.poll_interval", typ: kString, env: "PERSONA_WORKER_POLL_INTERVAL",
		apply:   func(cfg *Config, v any) { cfg.Worker.PollInterval = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.PollInterval },
	},
	{
		key: "worker.lease_timeout", typ: kString, env: "PERSONA_WORKER_LEASE_TIMEOUT",
		apply:   func(cfg *Config, v any) { cfg.Worker.LeaseTimeout = v.(string) },
		extract: func(cfg Config) any { return cfg.Worker.LeaseTimeout },
	},
	{
		key: "auth.jwt_secret", typ: kString, env: "PERSONA_JWT_SECRET",
		secret:  true,
		apply:   func(cfg *Config, v any) { cfg.Auth.JWTSecret = v.(string) },
		extract: func(cfg Config) any { return cfg.Auth.JWTSecret },
	},
	{
		key: "log.level", typ: kString, env: "PERSONA_LOG_LEVEL",
		apply:   func(cfg *Config, v any) { cfg.Log.Level = v.(string) },
		extract: func(cfg Config) any { return cfg.Log.Level },
	},
}

func applyBackend(cfg *Config, b ConfigBackend) error {
	for _, s := range specs {
		if s.secret {
			continue
		}
		raw, ok := b.Lookup(s.key)
		if !ok {
			continue
		}
		v, err := s.typ.decode(raw)
		if err != nil {
			return fmt.Errorf("config key %s: %w", s.key, err)
		}
		s.apply(cfg, v)
	}
	return nil
}

func lookupSpec(key string) (keySpec, bool) {
	for _, s := range specs {
		if s.key == key {
			return s, true
		}
	}
	return keySpec{}, false
}

// decode converts a JSON scalar or a command-line string to the key's Go
// type: string, int, bool or float64.
func (t keyType) decode(raw any) (any, error) {
	switch t {
	case kString:
		if s, ok := raw.(string); ok {
			return s, nil
		}
		return fmt.Sprint(raw), nil
	case kInt:
		switch v := raw.(type) {
		case float64:
			if v < math.MinInt || v > math.MaxInt || v != math.Trunc(v) {
				return nil, fmt.Errorf("%v is not a valid integer", v)
			}
			return int(v), nil
		case string:
			i, err := strconv.Atoi(v)
			if err != nil {
				return nil, fmt.Errorf("invalid integer %q", v)
			}
			return i, nil
		}
	case kBool:
		switch v := raw.(type) {
		case bool:
			return v, nil
		case string:
			b, err := strconv.ParseBool(v)
			if err != nil {
				return nil, fmt.Errorf("invalid boolean %q", v)
			}
			return b, nil
		}
	case kFloat:
		switch v := raw.(type) {
		case float64:
			return v, nil
		case string:
			f, err := strconv.ParseFloat(v, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid number %q", v)
			}
			return f, nil
		}
	}
	return nil, fmt.Errorf("unexpected value %v (%T)", raw, raw)
}
