package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"reflect"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	"go.uber.org/zap/zapcore"
	"gopkg.in/yaml.v3"
)

const (
	defaultAPIPrefix   = "/api/v1"
	defaultProjectName = "QuestForge"
	defaultDBHost      = "localhost"
	defaultDBUser      = "postgres"
	defaultDBPassword  = "postgres"
	defaultDBName      = "questforge"
	defaultDBPort      = "5432"

	defaultHTTPPort       = 8000
	defaultRateLimitRPS   = 25.0
	defaultRateLimitBurst = 50
)

// Settings is the configuration snapshot shared by every component.
// It holds only value-typed fields, so copies never alias each other.
// The core string fields accept any value, the empty string included.
type Settings struct {
	APIPrefix   string `env:"API_V1_STR" yaml:"api_v1_str" json:"apiPrefix"`
	ProjectName string `env:"PROJECT_NAME" yaml:"project_name" json:"projectName"`

	DBHost     string `env:"POSTGRES_SERVER" yaml:"postgres_server" json:"dbHost"`
	DBUser     string `env:"POSTGRES_USER" yaml:"postgres_user" json:"dbUser"`
	DBPassword string `env:"POSTGRES_PASSWORD" yaml:"postgres_password" json:"dbPassword"`
	DBName     string `env:"POSTGRES_DB" yaml:"postgres_db" json:"dbName"`
	// DBPort stays a string; the connection string consumer owns parsing it.
	DBPort string `env:"POSTGRES_PORT" yaml:"postgres_port" json:"dbPort"`

	Server Server `yaml:"server" json:"server"`
	Log    Log    `yaml:"log" json:"log"`
}

// Server holds HTTP listener tunables.
type Server struct {
	Port                 int           `env:"HTTP_PORT" yaml:"http_port" json:"port" validate:"min=0,max=65535"`
	ShutdownGracePeriod  time.Duration `env:"SHUTDOWN_GRACE_PERIOD" yaml:"shutdown_grace_period" json:"shutdownGracePeriod" validate:"min=0"`
	ReadHeaderTimeout    time.Duration `env:"READ_HEADER_TIMEOUT" yaml:"read_header_timeout" json:"readHeaderTimeout" validate:"min=0"`
	WriteTimeout         time.Duration `env:"WRITE_TIMEOUT" yaml:"write_timeout" json:"writeTimeout" validate:"min=0"`
	IdleTimeout          time.Duration `env:"IDLE_TIMEOUT" yaml:"idle_timeout" json:"idleTimeout" validate:"min=0"`
	EnableRequestLogging bool          `env:"ENABLE_REQUEST_LOGGING" yaml:"enable_request_logging" json:"enableRequestLogging"`
	RateLimitRPS         float64       `env:"RATE_LIMIT_RPS" yaml:"rate_limit_rps" json:"rateLimitRps" validate:"min=0"`
	RateLimitBurst       int           `env:"RATE_LIMIT_BURST" yaml:"rate_limit_burst" json:"rateLimitBurst" validate:"min=0"`
	ExposeSettings       bool          `env:"EXPOSE_SETTINGS" yaml:"expose_settings" json:"exposeSettings"`
}

// Log selects the logger level and optional file sink.
type Log struct {
	Level zapcore.Level `env:"LOG_LEVEL" yaml:"level" json:"level"`
	File  string        `env:"LOG_FILE" yaml:"file" json:"file"`
}

// CLIOverrides holds command-line flag overrides and optional source files.
type CLIOverrides struct {
	ConfigFile  string
	DotEnvFile  string
	APIPrefix   *string
	ProjectName *string
	DBHost      *string
	DBPort      *string
	HTTPPort    *int
	LogLevel    *string
}

// Load builds Settings from the process environment with precedence:
// CLI flags > environment > dotenv file > YAML config > defaults
func Load(overrides *CLIOverrides) (Settings, error) {
	return LoadFrom(processEnviron(), overrides)
}

// LoadFrom is Load with an explicit environment. Keys are matched exactly.
func LoadFrom(environ map[string]string, overrides *CLIOverrides) (Settings, error) {
	cfg := Defaults()

	if overrides != nil && overrides.ConfigFile != "" {
		if err := applyYAMLFile(&cfg, overrides.ConfigFile); err != nil {
			return Settings{}, fmt.Errorf("load YAML config: %w", err)
		}
	}

	merged := environ
	if overrides != nil && overrides.DotEnvFile != "" {
		dotenv, err := godotenv.Read(overrides.DotEnvFile)
		if err != nil {
			return Settings{}, fmt.Errorf("read dotenv file: %w", err)
		}
		merged = mergeEnviron(dotenv, environ)
	}

	if err := applyEnv(&cfg, merged); err != nil {
		return Settings{}, err
	}

	if overrides != nil {
		if err := applyCLIOverrides(&cfg, overrides); err != nil {
			return Settings{}, err
		}
	}

	if err := validateSettings(cfg); err != nil {
		return Settings{}, err
	}

	return cfg, nil
}

// Defaults returns the compiled-in settings.
func Defaults() Settings {
	return Settings{
		APIPrefix:   defaultAPIPrefix,
		ProjectName: defaultProjectName,
		DBHost:      defaultDBHost,
		DBUser:      defaultDBUser,
		DBPassword:  defaultDBPassword,
		DBName:      defaultDBName,
		DBPort:      defaultDBPort,
		Server: Server{
			Port:                 defaultHTTPPort,
			ShutdownGracePeriod:  10 * time.Second,
			ReadHeaderTimeout:    5 * time.Second,
			WriteTimeout:         15 * time.Second,
			IdleTimeout:          60 * time.Second,
			EnableRequestLogging: true,
			RateLimitRPS:         defaultRateLimitRPS,
			RateLimitBurst:       defaultRateLimitBurst,
		},
		Log: Log{
			Level: zapcore.InfoLevel,
		},
	}
}

// applyYAMLFile decodes the file over cfg; keys absent from the file keep their value.
func applyYAMLFile(cfg *Settings, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}

	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return nil
		}
		var typeErr *yaml.TypeError
		if errors.As(err, &typeErr) {
			if vErr := yamlTypeError(typeErr, data); vErr != nil {
				return vErr
			}
		}
		return fmt.Errorf("parse YAML: %w", err)
	}
	return nil
}

// applyEnv binds environment values onto cfg. Presence of a key decides,
// so a variable set to "" replaces the current value of a string field.
func applyEnv(cfg *Settings, environ map[string]string) error {
	if err := env.ParseWithOptions(cfg, env.Options{Environment: environ}); err != nil {
		return envError(err, environ)
	}
	return applyEmptyValues(reflect.ValueOf(cfg).Elem(), environ)
}

// applyEmptyValues assigns variables that are present but empty, which
// env.Parse skips. Only string fields can hold an empty value.
func applyEmptyValues(v reflect.Value, environ map[string]string) error {
	t := v.Type()
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		key := envKey(sf)
		if key == "" {
			if sf.Type.Kind() == reflect.Struct {
				if err := applyEmptyValues(v.Field(i), environ); err != nil {
					return err
				}
			}
			continue
		}

		value, ok := environ[key]
		if !ok || value != "" {
			continue
		}
		if sf.Type.Kind() != reflect.String {
			return &ValidationError{Field: sf.Name, Key: key, Err: errEmptyValue}
		}
		v.Field(i).SetString("")
	}
	return nil
}

// applyCLIOverrides applies command-line flag overrides.
func applyCLIOverrides(cfg *Settings, overrides *CLIOverrides) error {
	if overrides.APIPrefix != nil && *overrides.APIPrefix != "" {
		cfg.APIPrefix = *overrides.APIPrefix
	}

	if overrides.ProjectName != nil && *overrides.ProjectName != "" {
		cfg.ProjectName = *overrides.ProjectName
	}

	if overrides.DBHost != nil && *overrides.DBHost != "" {
		cfg.DBHost = *overrides.DBHost
	}

	if overrides.DBPort != nil && *overrides.DBPort != "" {
		cfg.DBPort = *overrides.DBPort
	}

	if overrides.HTTPPort != nil {
		cfg.Server.Port = *overrides.HTTPPort
	}

	if overrides.LogLevel != nil && *overrides.LogLevel != "" {
		level, err := zapcore.ParseLevel(*overrides.LogLevel)
		if err != nil {
			return &ValidationError{Field: "Level", Key: "--log-level", Value: *overrides.LogLevel, Err: err}
		}
		cfg.Log.Level = level
	}

	return nil
}

func processEnviron() map[string]string {
	vars := os.Environ()
	environ := make(map[string]string, len(vars))
	for _, kv := range vars {
		key, value, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		environ[key] = value
	}
	return environ
}

// mergeEnviron overlays top onto base without touching either map.
func mergeEnviron(base, top map[string]string) map[string]string {
	out := make(map[string]string, len(base)+len(top))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range top {
		out[k] = v
	}
	return out
}
