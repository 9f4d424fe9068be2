package main

import (
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

// Environment variables controlling store availability. A store's tools are
// registered iff its variable is present; see LoadConfig.
const (
	EnvMssqlConnectionString = "MSSQL_CONNECTION_STRING"
	EnvMssqlQueryTimeout     = "MSSQL_QUERY_TIMEOUT"
	EnvCosmosEndpoint        = "COSMOS_ENDPOINT"
	EnvCosmosKey             = "COSMOS_KEY"
	EnvCosmosDefaultDatabase = "COSMOS_DEFAULT_DATABASE"

	// EnvConfigFile optionally names a TOML file supplying the same settings.
	// Environment variables take precedence over the file.
	EnvConfigFile = "AZURE_DATA_MCP_CONFIG"
)

const defaultQueryTimeout = 30 * time.Second

// MssqlConfig holds the connection settings for Azure SQL / MSSQL.
// ConnectionString is an opaque ADO-style string ("server=...;database=...;
// user id=...;password=...;encrypt=true"); it is not parsed or validated
// here — a malformed string fails at connection time.
type MssqlConfig struct {
	ConnectionString string
	QueryTimeout     time.Duration
}

// CosmosConfig holds the connection settings for Azure Cosmos DB.
// Key may be empty: the tools are still registered so callers get a
// descriptive authentication error instead of an unknown-tool error.
type CosmosConfig struct {
	Endpoint        string
	Key             string
	DefaultDatabase string
}

// Config is the immutable top-level configuration, assembled once at startup
// and shared read-only by every tool invocation.
type Config struct {
	Mssql  *MssqlConfig
	Cosmos *CosmosConfig
}

// fileConfig is the on-disk TOML shape.
type fileConfig struct {
	Mssql struct {
		ConnectionString string `toml:"connection_string"`
		QueryTimeout     string `toml:"query_timeout"`
	} `toml:"mssql"`
	Cosmos struct {
		Endpoint        string `toml:"endpoint"`
		Key             string `toml:"key"`
		DefaultDatabase string `toml:"default_database"`
	} `toml:"cosmos"`
}

// LoadConfig assembles the configuration from the optional TOML file at path
// and the process environment, environment winning per field. At least one
// store must end up configured.
func LoadConfig(path string) (*Config, error) {
	var fc fileConfig
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &fc); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}

	if v := os.Getenv(EnvMssqlConnectionString); v != "" {
		fc.Mssql.ConnectionString = v
	}
	if v := os.Getenv(EnvMssqlQueryTimeout); v != "" {
		fc.Mssql.QueryTimeout = v
	}
	if v := os.Getenv(EnvCosmosEndpoint); v != "" {
		fc.Cosmos.Endpoint = v
	}
	if v := os.Getenv(EnvCosmosKey); v != "" {
		fc.Cosmos.Key = v
	}
	if v := os.Getenv(EnvCosmosDefaultDatabase); v != "" {
		fc.Cosmos.DefaultDatabase = v
	}

	cfg := &Config{}

	if fc.Mssql.ConnectionString != "" {
		timeout := defaultQueryTimeout
		if fc.Mssql.QueryTimeout != "" {
			d, err := time.ParseDuration(fc.Mssql.QueryTimeout)
			if err != nil {
				return nil, fmt.Errorf("invalid %s value %q: %w", EnvMssqlQueryTimeout, fc.Mssql.QueryTimeout, err)
			}
			timeout = d
		}
		cfg.Mssql = &MssqlConfig{
			ConnectionString: fc.Mssql.ConnectionString,
			QueryTimeout:     timeout,
		}
		slog.Info("MSSQL connection string found, MSSQL tools will be available")
	}

	if fc.Cosmos.Endpoint != "" {
		cfg.Cosmos = &CosmosConfig{
			Endpoint:        fc.Cosmos.Endpoint,
			Key:             fc.Cosmos.Key,
			DefaultDatabase: fc.Cosmos.DefaultDatabase,
		}
		if fc.Cosmos.Key != "" {
			slog.Info("Cosmos DB endpoint and account key found, Cosmos tools will be available")
		} else {
			slog.Warn(EnvCosmosEndpoint + " is set but " + EnvCosmosKey + " is missing, " +
				"Cosmos DB tools will return an error until " + EnvCosmosKey + " is configured")
		}
	}

	if cfg.Mssql == nil && cfg.Cosmos == nil {
		return nil, fmt.Errorf("no data-store configuration found: set at least one of %s or %s",
			EnvMssqlConnectionString, EnvCosmosEndpoint)
	}

	return cfg, nil
}

// RequireMssql returns the MSSQL config or an ErrNotConfigured naming the
// variable that would enable it. Every MSSQL tool handler calls this before
// doing any I/O.
func (c *Config) RequireMssql() (*MssqlConfig, error) {
	if c.Mssql == nil {
		return nil, fmt.Errorf("%w: MSSQL (%s not set)", ErrNotConfigured, EnvMssqlConnectionString)
	}
	return c.Mssql, nil
}

// RequireCosmos returns the Cosmos config or an ErrNotConfigured naming the
// variable that would enable it.
func (c *Config) RequireCosmos() (*CosmosConfig, error) {
	if c.Cosmos == nil {
		return nil, fmt.Errorf("%w: Cosmos DB (%s not set)", ErrNotConfigured, EnvCosmosEndpoint)
	}
	return c.Cosmos, nil
}
