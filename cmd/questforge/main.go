package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/KerubinDev/Quest-Forge/internal/application"
	"github.com/KerubinDev/Quest-Forge/internal/config"
	"github.com/KerubinDev/Quest-Forge/internal/logging"
	"github.com/KerubinDev/Quest-Forge/internal/metrics"
	"github.com/KerubinDev/Quest-Forge/internal/secrets"
)

var signalNotify = signal.Notify

type cli struct {
	app *kingpin.Application

	configFile     *string
	envFile        *string
	apiPrefix      *string
	projectName    *string
	dbHost         *string
	dbPort         *string
	httpPort       *int
	logLevel       *string
	resolveSecrets *bool
	vaultCacheTTL  *time.Duration

	serve       *kingpin.CmdClause
	settings    *kingpin.CmdClause
	format      *string
	showSecrets *bool
	check       *kingpin.CmdClause
}

func newCLI() *cli {
	app := kingpin.New("questforge", "QuestForge API service")
	c := &cli{app: app}

	c.configFile = app.Flag("config", "Path to YAML settings file").String()
	c.envFile = app.Flag("env-file", "Path to dotenv file; real environment variables take precedence").String()
	c.apiPrefix = app.Flag("api-prefix", "API path prefix (API_V1_STR)").String()
	c.projectName = app.Flag("project-name", "Project name (PROJECT_NAME)").String()
	c.dbHost = app.Flag("db-host", "PostgreSQL host (POSTGRES_SERVER)").String()
	c.dbPort = app.Flag("db-port", "PostgreSQL port (POSTGRES_PORT)").String()
	c.httpPort = app.Flag("http-port", "HTTP port exposed by the service (HTTP_PORT)").Default("-1").Int()
	c.logLevel = app.Flag("log-level", "Log level (LOG_LEVEL)").String()
	c.resolveSecrets = app.Flag("resolve-secrets", "Resolve vault: references through VAULT_ADDR").Bool()
	c.vaultCacheTTL = app.Flag("vault-cache-ttl", "Cache resolved secrets for this long").Default("0s").Duration()

	c.serve = app.Command("serve", "Run the HTTP server").Default()
	c.settings = app.Command("settings", "Print the resolved settings snapshot")
	c.format = c.settings.Flag("format", "Output format").Default("yaml").Enum("yaml", "json")
	c.showSecrets = c.settings.Flag("show-secrets", "Print secrets in clear text").Bool()
	c.check = app.Command("check", "Load and validate settings, then exit")

	return c
}

func (c *cli) overrides() *config.CLIOverrides {
	overrides := &config.CLIOverrides{
		ConfigFile: *c.configFile,
		DotEnvFile: *c.envFile,
	}

	if *c.apiPrefix != "" {
		overrides.APIPrefix = c.apiPrefix
	}

	if *c.projectName != "" {
		overrides.ProjectName = c.projectName
	}

	if *c.dbHost != "" {
		overrides.DBHost = c.dbHost
	}

	if *c.dbPort != "" {
		overrides.DBPort = c.dbPort
	}

	if *c.httpPort >= 0 {
		overrides.HTTPPort = c.httpPort
	}

	if *c.logLevel != "" {
		overrides.LogLevel = c.logLevel
	}

	return overrides
}

func main() {
	c := newCLI()
	command := kingpin.MustParse(c.app.Parse(os.Args[1:]))

	settings, err := loadSettings(context.Background(), c.overrides(), *c.resolveSecrets, *c.vaultCacheTTL)
	c.app.FatalIfError(err, "load settings")

	switch command {
	case c.settings.FullCommand():
		c.app.FatalIfError(printSettings(os.Stdout, settings, *c.format, *c.showSecrets), "print settings")
	case c.check.FullCommand():
		fmt.Fprintln(os.Stdout, "settings OK")
	default:
		c.app.FatalIfError(serve(settings), "serve")
	}
}

// loadSettings builds the process-wide snapshot exactly once.
func loadSettings(ctx context.Context, overrides *config.CLIOverrides, resolve bool, cacheTTL time.Duration) (config.Settings, error) {
	settings, err := config.Load(overrides)
	if err == nil && resolve {
		var resolver *secrets.VaultResolver
		resolver, err = secrets.NewVaultResolver(secrets.VaultConfig{CacheTTL: cacheTTL})
		if err == nil {
			settings, err = resolver.Resolve(ctx, settings)
		}
	}
	metrics.RecordSettingsLoad(settings.ProjectName, settings.APIPrefix, err)
	if err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

func printSettings(w io.Writer, settings config.Settings, format string, showSecrets bool) error {
	if !showSecrets {
		settings = settings.Redacted()
	}

	switch format {
	case "json":
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(settings)
	case "yaml":
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(settings); err != nil {
			return err
		}
		return enc.Close()
	default:
		return fmt.Errorf("unknown format %q", format)
	}
}

func serve(settings config.Settings) error {
	logger, err := logging.New(logging.Options{Level: settings.Log.Level, File: settings.Log.File})
	if err != nil {
		return fmt.Errorf("initialize logger: %w", err)
	}
	defer func() {
		_ = logger.Sync()
	}()

	logger.Info("settings loaded", zap.Object("settings", settings))

	app, err := application.New(settings, logger)
	if err != nil {
		logger.Error("failed to initialize application", zap.Error(err))
		return err
	}

	if err := app.Start(); err != nil {
		logger.Error("failed to start server", zap.Error(err))
		return err
	}

	shutdown(app.Server(), settings.Server.ShutdownGracePeriod, logger)
	return nil
}

func shutdown(server *http.Server, timeout time.Duration, logger *zap.Logger) {
	quit := make(chan os.Signal, 1)
	signalNotify(quit, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	<-quit
	logger.Info("shutting down server")

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", zap.Error(err))
		if closeErr := server.Close(); closeErr != nil {
			logger.Error("forced close failed", zap.Error(closeErr))
		}
	}
}
