package config

import (
	"net"
	"net/url"
	"strconv"

	"go.uber.org/zap/zapcore"
)

const redactedSecret = "********"

// DatabaseURL formats the PostgreSQL connection URL. The port is used as-is.
func (s Settings) DatabaseURL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(s.DBUser, s.DBPassword),
		Host:     net.JoinHostPort(s.DBHost, s.DBPort),
		Path:     "/" + s.DBName,
		RawQuery: "sslmode=disable",
	}
	return u.String()
}

// ListenAddr returns the HTTP bind address.
func (s Settings) ListenAddr() string {
	return ":" + strconv.Itoa(s.Server.Port)
}

// Redacted returns a copy safe to print or log.
func (s Settings) Redacted() Settings {
	if s.DBPassword != "" {
		s.DBPassword = redactedSecret
	}
	return s
}

// MarshalLogObject implements zapcore.ObjectMarshaler. The password is never emitted.
func (s Settings) MarshalLogObject(enc zapcore.ObjectEncoder) error {
	enc.AddString("api_prefix", s.APIPrefix)
	enc.AddString("project_name", s.ProjectName)
	enc.AddString("db_host", s.DBHost)
	enc.AddString("db_port", s.DBPort)
	enc.AddString("db_user", s.DBUser)
	enc.AddString("db_name", s.DBName)
	enc.AddString("db_password", redactedSecret)
	enc.AddInt("http_port", s.Server.Port)
	enc.AddDuration("shutdown_grace_period", s.Server.ShutdownGracePeriod)
	enc.AddBool("request_logging", s.Server.EnableRequestLogging)
	enc.AddFloat64("rate_limit_rps", s.Server.RateLimitRPS)
	enc.AddInt("rate_limit_burst", s.Server.RateLimitBurst)
	enc.AddString("log_level", s.Log.Level.String())
	return nil
}
