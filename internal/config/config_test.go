package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// mockKeychain is a test double for the keychain interface.
type mockKeychain struct {
	values map[string]string
	err    error
}

func (m *mockKeychain) Get(service, account string) (string, error) {
	if m.err != nil {
		return "", m.err
	}
	v, ok := m.values[service+"/"+account]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}

func (m *mockKeychain) Set(service, account, value string) error {
	if m.values == nil {
		m.values = make(map[string]string)
	}
	m.values[service+"/"+account] = value
	return nil
}

func writeTempConfig(t *testing.T, content string) ConfigBackend {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := openJSONFile(path)
	if err != nil {
		t.Fatalf("openJSONFile: %v", err)
	}
	return f
}

// TestDefaults verifies all default values are applied when loading an empty config file.
func TestDefaults(t *testing.T) {
	b := writeTempConfig(t, `{}`)

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 4100 {
		t.Errorf("Server.Port = %d, want 4100", cfg.Server.Port)
	}
	if cfg.Vision.MaxEdge != 768 {
		t.Errorf("Vision.MaxEdge = %d, want 768", cfg.Vision.MaxEdge)
	}
	if cfg.Audio.PollAttempts != 30 || cfg.Audio.PollInterval != "10s" {
		t.Errorf("Audio poll = (%d, %s), want (30, 10s)", cfg.Audio.PollAttempts, cfg.Audio.PollInterval)
	}
	if cfg.Reports.Provider != "openai" || cfg.Reports.OllamaURL != "http://localhost:11434" {
		t.Errorf("Reports provider = (%q, %q)", cfg.Reports.Provider, cfg.Reports.OllamaURL)
	}
	if cfg.Reports.Model != "gpt-4" || cfg.Reports.MaxTokens != 4000 || cfg.Reports.Temperature != 0.7 {
		t.Errorf("Reports = %+v", cfg.Reports)
	}
	if cfg.Objects.Backend != "local" || cfg.Objects.UploadTTL != "15m" {
		t.Errorf("Objects = %+v", cfg.Objects)
	}
}

// TestMissingProviderKeysDoNotFail verifies startup config loads with no
// provider credentials anywhere.
func TestMissingProviderKeysDoNotFail(t *testing.T) {
	t.Setenv("PERSONA_OPENAI_API_KEY", "")
	t.Setenv("PERSONA_HUME_API_KEY", "")

	cfg, err := loadWith(writeTempConfig(t, `{}`), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vision.APIKey != "" || cfg.Audio.APIKey != "" {
		t.Errorf("keys = (%q, %q), want empty", cfg.Vision.APIKey, cfg.Audio.APIKey)
	}
}

// TestEnvOverride verifies that environment variables override config file values.
func TestEnvOverride(t *testing.T) {
	b := writeTempConfig(t, `{"server.port": 5000, "vision.model": "file-model"}`)

	t.Setenv("PERSONA_VISION_MODEL", "env-model")
	t.Setenv("PERSONA_HUME_API_KEY", "hume-key")
	t.Setenv("PERSONA_OBJECTS_S3_USE_PATH_STYLE", "true")
	t.Setenv("PERSONA_REPORTS_TEMPERATURE", "0.2")

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Port != 5000 {
		t.Errorf("Server.Port = %d, want 5000 from file", cfg.Server.Port)
	}
	if cfg.Vision.Model != "env-model" {
		t.Errorf("Vision.Model = %q, want %q", cfg.Vision.Model, "env-model")
	}
	if cfg.Audio.APIKey != "hume-key" {
		t.Errorf("Audio.APIKey = %q", cfg.Audio.APIKey)
	}
	if !cfg.Objects.S3UsePathStyle {
		t.Error("Objects.S3UsePathStyle = false, want true")
	}
	if cfg.Reports.Temperature != 0.2 {
		t.Errorf("Reports.Temperature = %v, want 0.2", cfg.Reports.Temperature)
	}
}

// TestSecretsIgnoredInFile verifies API keys cannot be smuggled in via the file.
func TestSecretsIgnoredInFile(t *testing.T) {
	t.Setenv("PERSONA_OPENAI_API_KEY", "")
	b := writeTempConfig(t, `{"vision.api_key": "leaked"}`)

	cfg, err := loadWith(b, &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Vision.APIKey != "" {
		t.Errorf("Vision.APIKey = %q, want empty", cfg.Vision.APIKey)
	}
}

func TestFileParsing(t *testing.T) {
	content := `{
  "server.host": "0.0.0.0",
  "storage.data_dir": "/tmp/persona-test",
  "objects.backend": "s3",
  "objects.s3_use_path_style": true,
  "audio.poll_attempts": 5,
  "audio.poll_interval": "2s",
  "reports.temperature": "0.5",
  "worker.concurrency": 8
}`
	cfg, err := loadWith(writeTempConfig(t, content), &mockKeychain{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("Server.Host = %q", cfg.Server.Host)
	}
	if cfg.Storage.DataDir != "/tmp/persona-test" {
		t.Errorf("Storage.DataDir = %q", cfg.Storage.DataDir)
	}
	if cfg.Objects.Backend != "s3" || !cfg.Objects.S3UsePathStyle {
		t.Errorf("Objects = %+v", cfg.Objects)
	}
	if cfg.Audio.PollAttempts != 5 || cfg.Audio.PollInterval != "2s" {
		t.Errorf("Audio = %+v", cfg.Audio)
	}
	if cfg.Reports.Temperature != 0.5 {
		t.Errorf("Reports.Temperature = %v", cfg.Reports.Temperature)
	}
	if cfg.Worker.Concurrency != 8 {
		t.Errorf("Worker.Concurrency = %d", cfg.Worker.Concurrency)
	}
}

func TestValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"bad backend", `{"objects.backend": "ftp"}`, "objects.backend"},
		{"bad duration", `{"audio.poll_interval": "soon"}`, "audio.poll_interval"},
		{"zero attempts", `{"audio.poll_attempts": 0}`, "audio.poll_attempts"},
		{"short lease", `{"worker.lease_timeout": "2s"}`, "worker.lease_timeout"},
		{"bad report provider", `{"reports.provider": "anthropic"}`, "reports.provider"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(writeTempConfig(t, tt.content), &mockKeychain{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("loadWith = %v, want error mentioning %q", err, tt.want)
			}
		})
	}
}

// TestSigningSecretGeneratedOnce verifies the secret is created on first load
// and reused afterwards.
func TestSigningSecretGeneratedOnce(t *testing.T) {
	t.Setenv("PERSONA_JWT_SECRET", "")
	kc := &mockKeychain{}

	first, err := loadWith(writeTempConfig(t, `{}`), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(first.Auth.JWTSecret) != 64 {
		t.Fatalf("generated secret length = %d, want 64 hex chars", len(first.Auth.JWTSecret))
	}

	second, err := loadWith(writeTempConfig(t, `{}`), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if second.Auth.JWTSecret != first.Auth.JWTSecret {
		t.Error("signing secret changed between loads")
	}

	t.Setenv("PERSONA_JWT_SECRET", "from-env")
	third, err := loadWith(writeTempConfig(t, `{}`), kc)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if third.Auth.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want env value", third.Auth.JWTSecret)
	}
}

func TestKeychainFileRoundTrip(t *testing.T) {
	kc := Keychain{path: filepath.Join(t.TempDir(), "persona", "secrets.json")}
	if _, err := kc.Get("persona", "jwt_secret"); err == nil {
		t.Fatal("Get on missing file succeeded")
	}
	secret, err := GetSigningSecret(kc)
	if err != nil {
		t.Fatalf("GetSigningSecret: %v", err)
	}
	got, err := kc.Get("persona", "jwt_secret")
	if err != nil || got != secret {
		t.Errorf("Get = (%q, %v), want %q", got, err, secret)
	}
}

func TestShowAllHidesSecrets(t *testing.T) {
	cfg := defaults()
	cfg.Vision.APIKey = "sk-secret"
	for _, k := range ShowAll(cfg) {
		if strings.Contains(k.Value, "sk-secret") {
			t.Errorf("ShowAll leaked secret under %s", k.Key)
		}
		if !strings.HasPrefix(k.EnvVar, "PERSONA_") {
			t.Errorf("key %s has env var %q", k.Key, k.EnvVar)
		}
	}
}

func TestSetKey(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())

	if err := SetKey("audio.poll_attempts", "12"); err != nil {
		t.Fatalf("SetKey: %v", err)
	}
	if err := SetKey("objects.s3_use_path_style", "true"); err != nil {
		t.Fatalf("SetKey bool: %v", err)
	}
	if err := SetKey("audio.poll_attempts", "many"); err == nil {
		t.Error("SetKey accepted a non-integer")
	}
	if err := SetKey("audio.api_key", "x"); err == nil || !strings.Contains(err.Error(), "PERSONA_HUME_API_KEY") {
		t.Errorf("SetKey(secret) = %v, want env var hint", err)
	}
	if err := SetKey("nope", "x"); err == nil {
		t.Error("SetKey accepted an unknown key")
	}

	f, err := openJSONFile(configFilePath())
	if err != nil {
		t.Fatalf("openJSONFile: %v", err)
	}
	cfg, err := loadWith(f, &mockKeychain{})
	if err != nil {
		t.Fatalf("loadWith: %v", err)
	}
	if cfg.Audio.PollAttempts != 12 || !cfg.Objects.S3UsePathStyle {
		t.Errorf("persisted values not loaded: %+v %+v", cfg.Audio, cfg.Objects)
	}

	raw, err := os.ReadFile(configFilePath())
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), `"objects.s3_use_path_style": true`) {
		t.Errorf("bool not stored as a JSON bool:\n%s", raw)
	}
	entries, _ := os.ReadDir(filepath.Dir(configFilePath()))
	if len(entries) != 1 {
		t.Errorf("config dir has %d entries, want only config.json", len(entries))
	}
}

func TestMalformedFileIsAnError(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := os.WriteFile(path, []byte(`{"server.port": `), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := openJSONFile(path); err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Errorf("openJSONFile = %v, want parse error", err)
	}

	missing, err := openJSONFile(filepath.Join(t.TempDir(), "absent.json"))
	if err != nil {
		t.Fatalf("openJSONFile(missing) = %v, want empty config", err)
	}
	if _, ok := missing.Lookup("server.port"); ok {
		t.Error("missing file reported a value")
	}
}

func TestFileValueTypes(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"fractional int", `{"server.port": 41.5}`, "server.port"},
		{"word for bool", `{"objects.s3_use_path_style": "sometimes"}`, "objects.s3_use_path_style"},
		{"word for float", `{"reports.temperature": "warm"}`, "reports.temperature"},
		{"array for int", `{"worker.concurrency": [4]}`, "worker.concurrency"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := loadWith(writeTempConfig(t, tt.content), &mockKeychain{})
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("loadWith = %v, want error naming %q", err, tt.want)
			}
		})
	}
}
