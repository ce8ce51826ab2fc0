package connreg

import (
	"net"
	"strconv"

	"github.com/jackc/pgx/v5"

	"github.com/gaborage/querytap/config"
	"github.com/gaborage/querytap/metricname"
)

// FromPgx builds a Config from a pgx connection configuration.
func FromPgx(cfg *pgx.ConnConfig) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		Adapter:  "postgresql",
		Host:     cfg.Host,
		Port:     int(cfg.Port),
		Database: cfg.Database,
		Username: cfg.User,
	}
}

// FromDatabaseConfig builds a Config from the static database section.
func FromDatabaseConfig(cfg *config.DatabaseConfig) Config {
	if cfg == nil {
		return Config{}
	}
	return Config{
		Adapter:  metricname.NormalizeAdapter(cfg.Type),
		Host:     cfg.Host,
		Port:     cfg.Port,
		Database: cfg.Database,
		Username: cfg.Username,
	}
}

// FromAddress builds a Config from a "host:port" address as reported by drivers
// that only expose the remote endpoint (e.g. the MongoDB command monitor).
func FromAddress(adapter, address string) Config {
	cfg := Config{Adapter: metricname.NormalizeAdapter(adapter), Host: address}
	host, port, err := net.SplitHostPort(address)
	if err != nil {
		return cfg
	}
	cfg.Host = host
	if p, err := strconv.Atoi(port); err == nil {
		cfg.Port = p
	}
	return cfg
}
