package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap/zapcore"
)

var settingsEnvKeys = []string{
	"API_V1_STR", "PROJECT_NAME",
	"POSTGRES_SERVER", "POSTGRES_USER", "POSTGRES_PASSWORD", "POSTGRES_DB", "POSTGRES_PORT",
	"HTTP_PORT", "SHUTDOWN_GRACE_PERIOD", "READ_HEADER_TIMEOUT", "WRITE_TIMEOUT", "IDLE_TIMEOUT",
	"ENABLE_REQUEST_LOGGING", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "EXPOSE_SETTINGS",
	"LOG_LEVEL", "LOG_FILE",
}

func clearSettingsEnv(t *testing.T) {
	t.Helper()
	for _, key := range settingsEnvKeys {
		// Setenv registers the restore; the variable itself must be absent.
		t.Setenv(key, "")
		if err := os.Unsetenv(key); err != nil {
			t.Fatalf("unset %s: %v", key, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearSettingsEnv(t)

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	want := Settings{
		APIPrefix:   "/api/v1",
		ProjectName: "QuestForge",
		DBHost:      "localhost",
		DBUser:      "postgres",
		DBPassword:  "postgres",
		DBName:      "questforge",
		DBPort:      "5432",
	}
	want.Server = Defaults().Server
	want.Log = Defaults().Log

	if cfg != want {
		t.Fatalf("expected defaults %+v, got %+v", want, cfg)
	}
	if cfg.Server.ShutdownGracePeriod != 10*time.Second {
		t.Fatalf("unexpected shutdown grace period: %s", cfg.Server.ShutdownGracePeriod)
	}
}

func TestLoadFromEmptyEnvironment(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{}, nil)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg != Defaults() {
		t.Fatalf("expected defaults, got %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("API_V1_STR", "/api/v2")
	t.Setenv("PROJECT_NAME", "MyGame")
	t.Setenv("POSTGRES_SERVER", "db.internal")
	t.Setenv("POSTGRES_USER", "gm")
	t.Setenv("POSTGRES_PASSWORD", "s3cret")
	t.Setenv("POSTGRES_DB", "campaigns")
	t.Setenv("POSTGRES_PORT", "6543")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	checks := map[string][2]string{
		"APIPrefix":   {cfg.APIPrefix, "/api/v2"},
		"ProjectName": {cfg.ProjectName, "MyGame"},
		"DBHost":      {cfg.DBHost, "db.internal"},
		"DBUser":      {cfg.DBUser, "gm"},
		"DBPassword":  {cfg.DBPassword, "s3cret"},
		"DBName":      {cfg.DBName, "campaigns"},
		"DBPort":      {cfg.DBPort, "6543"},
	}
	for field, pair := range checks {
		if pair[0] != pair[1] {
			t.Errorf("%s: expected %q, got %q", field, pair[1], pair[0])
		}
	}
}

func TestLoadIsCaseSensitive(t *testing.T) {
	clearSettingsEnv(t)
	t.Setenv("POSTGRES_SERVER", "db.internal")
	t.Setenv("postgres_server", "ignored-me")
	t.Setenv("project_name", "ignored-too")

	cfg, err := Load(nil)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.DBHost != "db.internal" {
		t.Fatalf("expected db.internal, got %q", cfg.DBHost)
	}
	if cfg.ProjectName != defaultProjectName {
		t.Fatalf("lowercase variable must be ignored, got %q", cfg.ProjectName)
	}
}

func TestLoadFromLowercaseOnlyUsesDefault(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"postgres_server": "ignored-me", "Postgres_Server": "ignored"}, nil)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.DBHost != defaultDBHost {
		t.Fatalf("expected default host, got %q", cfg.DBHost)
	}
}

func TestLoadFromSingleOverrideKeepsOtherDefaults(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"PROJECT_NAME": "MyGame"}, nil)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}

	want := Defaults()
	want.ProjectName = "MyGame"
	if cfg != want {
		t.Fatalf("expected %+v, got %+v", want, cfg)
	}
}

func TestLoadFromEmptyValueIsKept(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"POSTGRES_SERVER": "", "PROJECT_NAME": ""}, nil)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.DBHost != "" || cfg.ProjectName != "" {
		t.Fatalf("expected empty values to be kept, got host=%q project=%q", cfg.DBHost, cfg.ProjectName)
	}
	if cfg.DBName != defaultDBName {
		t.Fatalf("unset variables must keep defaults, got %q", cfg.DBName)
	}
}

func TestLoadFromEmptyValueOverridesLowerLayers(t *testing.T) {
	path := writeFile(t, "settings.yaml", "postgres_db: yaml-db\n")

	cfg, err := LoadFrom(map[string]string{"POSTGRES_DB": ""}, &CLIOverrides{ConfigFile: path})
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.DBName != "" {
		t.Fatalf("expected empty environment value to win over YAML, got %q", cfg.DBName)
	}
}

func TestLoadFromEmptyTypedValueIsRejected(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"HTTP_PORT": ""}, nil)

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if vErr.Key != "HTTP_PORT" || vErr.Field != "Port" {
		t.Fatalf("unexpected error details: %+v", vErr)
	}
	if cfg != (Settings{}) {
		t.Fatalf("expected zero snapshot on failure, got %+v", cfg)
	}
}

func TestLoadFromPortIsNotValidated(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{"POSTGRES_PORT": "not-a-number"}, nil)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.DBPort != "not-a-number" {
		t.Fatalf("expected port to pass through verbatim, got %q", cfg.DBPort)
	}
}

func TestLoadFromIsIdempotent(t *testing.T) {
	environ := map[string]string{
		"POSTGRES_SERVER": "db.internal",
		"HTTP_PORT":       "9000",
		"LOG_LEVEL":       "debug",
	}

	first, err := LoadFrom(environ, nil)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	second, err := LoadFrom(environ, nil)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if first != second {
		t.Fatalf("expected equal snapshots, got %+v and %+v", first, second)
	}
}

func TestLoadFromTypedFields(t *testing.T) {
	cfg, err := LoadFrom(map[string]string{
		"HTTP_PORT":              "9000",
		"SHUTDOWN_GRACE_PERIOD":  "3s",
		"ENABLE_REQUEST_LOGGING": "false",
		"RATE_LIMIT_RPS":         "2.5",
		"RATE_LIMIT_BURST":       "4",
		"EXPOSE_SETTINGS":        "true",
		"LOG_LEVEL":              "warn",
	}, nil)
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}

	if cfg.Server.Port != 9000 {
		t.Fatalf("unexpected port %d", cfg.Server.Port)
	}
	if cfg.Server.ShutdownGracePeriod != 3*time.Second {
		t.Fatalf("unexpected grace period %s", cfg.Server.ShutdownGracePeriod)
	}
	if cfg.Server.EnableRequestLogging {
		t.Fatalf("expected request logging disabled")
	}
	if cfg.Server.RateLimitRPS != 2.5 || cfg.Server.RateLimitBurst != 4 {
		t.Fatalf("unexpected rate limit %v/%d", cfg.Server.RateLimitRPS, cfg.Server.RateLimitBurst)
	}
	if !cfg.Server.ExposeSettings {
		t.Fatalf("expected settings exposure enabled")
	}
	if cfg.Log.Level != zapcore.WarnLevel {
		t.Fatalf("unexpected log level %s", cfg.Log.Level)
	}
}

func TestLoadFromRejectsUncoercibleValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
		field string
	}{
		{name: "int", key: "HTTP_PORT", value: "abc", field: "Port"},
		{name: "duration", key: "SHUTDOWN_GRACE_PERIOD", value: "soon", field: "ShutdownGracePeriod"},
		{name: "bool", key: "ENABLE_REQUEST_LOGGING", value: "maybe", field: "EnableRequestLogging"},
		{name: "float", key: "RATE_LIMIT_RPS", value: "fast", field: "RateLimitRPS"},
		{name: "level", key: "LOG_LEVEL", value: "loud", field: "Level"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			cfg, err := LoadFrom(map[string]string{tc.key: tc.value}, nil)
			if err == nil {
				t.Fatalf("expected error for %s=%s", tc.key, tc.value)
			}
			if cfg != (Settings{}) {
				t.Fatalf("expected zero snapshot on failure, got %+v", cfg)
			}

			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %T: %v", err, err)
			}
			if vErr.Key != tc.key || vErr.Field != tc.field || vErr.Value != tc.value {
				t.Fatalf("unexpected error details: %+v", vErr)
			}
			if !errors.Is(err, ErrInvalidSettings) {
				t.Fatalf("expected errors.Is ErrInvalidSettings")
			}
		})
	}
}

func TestLoadFromRejectsRuleViolations(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{name: "port above range", key: "HTTP_PORT", val: "70000"},
		{name: "negative port", key: "HTTP_PORT", val: "-1"},
		{name: "negative rps", key: "RATE_LIMIT_RPS", val: "-2"},
		{name: "negative burst", key: "RATE_LIMIT_BURST", val: "-5"},
		{name: "negative timeout", key: "WRITE_TIMEOUT", val: "-1s"},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadFrom(map[string]string{tc.key: tc.val}, nil)
			var vErr *ValidationError
			if !errors.As(err, &vErr) {
				t.Fatalf("expected *ValidationError, got %v", err)
			}
			if vErr.Key != tc.key {
				t.Fatalf("expected key %s, got %s", tc.key, vErr.Key)
			}
		})
	}
}

func TestLoadFromYAMLFile(t *testing.T) {
	path := writeFile(t, "settings.yaml", `
project_name: FromYAML
postgres_server: yaml-host
server:
  http_port: 7000
  shutdown_grace_period: 2s
log:
  level: debug
`)

	cfg, err := LoadFrom(map[string]string{"POSTGRES_SERVER": "env-host"}, &CLIOverrides{ConfigFile: path})
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}

	if cfg.ProjectName != "FromYAML" {
		t.Fatalf("expected YAML project name, got %q", cfg.ProjectName)
	}
	if cfg.DBHost != "env-host" {
		t.Fatalf("expected environment to win over YAML, got %q", cfg.DBHost)
	}
	if cfg.Server.Port != 7000 || cfg.Server.ShutdownGracePeriod != 2*time.Second {
		t.Fatalf("unexpected server section %+v", cfg.Server)
	}
	if cfg.Log.Level != zapcore.DebugLevel {
		t.Fatalf("unexpected log level %s", cfg.Log.Level)
	}
	if cfg.DBName != defaultDBName {
		t.Fatalf("keys absent from YAML must keep defaults, got %q", cfg.DBName)
	}
}

func TestLoadFromYAMLErrors(t *testing.T) {
	t.Run("missing file", func(t *testing.T) {
		missing := filepath.Join(t.TempDir(), "nope.yaml")
		if _, err := LoadFrom(nil, &CLIOverrides{ConfigFile: missing}); err == nil {
			t.Fatalf("expected error for missing file")
		}
	})

	t.Run("unknown key", func(t *testing.T) {
		path := writeFile(t, "bad.yaml", "postgres_hostname: typo\n")
		_, err := LoadFrom(nil, &CLIOverrides{ConfigFile: path})
		if err == nil {
			t.Fatalf("expected error for unknown key")
		}
		var vErr *ValidationError
		if errors.As(err, &vErr) {
			t.Fatalf("unknown key is a file error, not a field error: %v", err)
		}
	})

	t.Run("uncoercible value", func(t *testing.T) {
		path := writeFile(t, "typed.yaml", "project_name: ok\nserver:\n  http_port: abc\n")
		cfg, err := LoadFrom(nil, &CLIOverrides{ConfigFile: path})

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %T: %v", err, err)
		}
		if vErr.Key != "server.http_port" || vErr.Field != "Port" || vErr.Value != "abc" {
			t.Fatalf("unexpected error details: %+v", vErr)
		}
		if !errors.Is(err, ErrInvalidSettings) {
			t.Fatalf("expected errors.Is ErrInvalidSettings")
		}
		if cfg != (Settings{}) {
			t.Fatalf("expected zero snapshot on failure, got %+v", cfg)
		}
	})

	t.Run("uncoercible duration", func(t *testing.T) {
		path := writeFile(t, "duration.yaml", "server:\n  shutdown_grace_period: soon\n")
		_, err := LoadFrom(nil, &CLIOverrides{ConfigFile: path})

		var vErr *ValidationError
		if !errors.As(err, &vErr) {
			t.Fatalf("expected *ValidationError, got %T: %v", err, err)
		}
		if vErr.Key != "server.shutdown_grace_period" || vErr.Field != "ShutdownGracePeriod" {
			t.Fatalf("unexpected error details: %+v", vErr)
		}
	})

	t.Run("empty file keeps defaults", func(t *testing.T) {
		path := writeFile(t, "empty.yaml", "")
		cfg, err := LoadFrom(nil, &CLIOverrides{ConfigFile: path})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if cfg != Defaults() {
			t.Fatalf("expected defaults, got %+v", cfg)
		}
	})
}

func TestLoadFromDotEnvFile(t *testing.T) {
	path := writeFile(t, ".env", "POSTGRES_USER=dotenv-user\nPOSTGRES_DB=dotenv-db\n")

	cfg, err := LoadFrom(map[string]string{"POSTGRES_DB": "env-db"}, &CLIOverrides{DotEnvFile: path})
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.DBUser != "dotenv-user" {
		t.Fatalf("expected dotenv user, got %q", cfg.DBUser)
	}
	if cfg.DBName != "env-db" {
		t.Fatalf("expected environment to win over dotenv, got %q", cfg.DBName)
	}
	if os.Getenv("POSTGRES_USER") == "dotenv-user" {
		t.Fatalf("dotenv values must not leak into the process environment")
	}
}

func TestLoadFromCLIOverridesWin(t *testing.T) {
	prefix := "/v3"
	host := "cli-host"
	port := 8181
	level := "error"

	cfg, err := LoadFrom(map[string]string{"POSTGRES_SERVER": "env-host", "HTTP_PORT": "9000"}, &CLIOverrides{
		APIPrefix: &prefix,
		DBHost:    &host,
		HTTPPort:  &port,
		LogLevel:  &level,
	})
	if err != nil {
		t.Fatalf("LoadFrom returned error: %v", err)
	}
	if cfg.APIPrefix != prefix || cfg.DBHost != host || cfg.Server.Port != port {
		t.Fatalf("CLI overrides not applied: %+v", cfg)
	}
	if cfg.Log.Level != zapcore.ErrorLevel {
		t.Fatalf("unexpected log level %s", cfg.Log.Level)
	}
}

func TestLoadFromCLIInvalidLogLevel(t *testing.T) {
	level := "chatty"
	_, err := LoadFrom(nil, &CLIOverrides{LogLevel: &level})

	var vErr *ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ValidationError, got %v", err)
	}
	if vErr.Key != "--log-level" {
		t.Fatalf("unexpected key %q", vErr.Key)
	}
}

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
	return path
}
