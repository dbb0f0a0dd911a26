package snapmongo

import (
	"fmt"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/joho/godotenv"
)

// Config represents the snapmongo configuration
type Config struct {
	Connection ConnectionConfig  `yaml:"connection"`
	Client     ClientConfig      `yaml:"client"`
	Tables     []TableDefinition `yaml:"tables"`
	Resolve    ResolveConfig     `yaml:"resolve"`
	Logging    LoggingConfig     `yaml:"logging"`
	Metrics    MetricsConfig     `yaml:"metrics"`
}

// ConnectionConfig is the store descriptor of every table in the file.
type ConnectionConfig struct {
	URI      string `yaml:"uri"`
	Database string `yaml:"database"` // Overrides the database part of the URI (optional)
}

// ClientConfig carries the driver pooling and timeout knobs.
type ClientConfig struct {
	ConnectTimeout         time.Duration `yaml:"connect_timeout"`
	SocketTimeout          time.Duration `yaml:"socket_timeout"` // 0 means no timeout
	ServerSelectionTimeout time.Duration `yaml:"server_selection_timeout"`
	HeartbeatInterval      time.Duration `yaml:"heartbeat_interval"`
	LocalThreshold         time.Duration `yaml:"local_threshold"`
	MaxConnIdleTime        time.Duration `yaml:"max_conn_idle_time"`
	MaxPoolSize            uint64        `yaml:"max_pool_size"`
	MinPoolSize            uint64        `yaml:"min_pool_size"`
	ReadPreference         string        `yaml:"read_preference"`
	ReadConcern            string        `yaml:"read_concern"`
	WriteConcern           string        `yaml:"write_concern"`
	ReplicaSet             string        `yaml:"replica_set"`
	AppName                string        `yaml:"app_name"`
	TLS                    bool          `yaml:"tls"`
}

// ResolveConfig controls how large delete/update batches are resolved.
type ResolveConfig struct {
	Workers           int `yaml:"workers"`
	ParallelThreshold int `yaml:"parallel_threshold"`
}

// LoggingConfig represents logger settings
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text, json
	SeqURL string `yaml:"seq_url"`
}

// MetricsConfig represents metric naming settings
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

var (
	validReadPreferences = map[string]bool{
		"primary":            true,
		"primarypreferred":   true,
		"secondary":          true,
		"secondarypreferred": true,
		"nearest":            true,
	}
	validReadConcerns = map[string]bool{
		"default":      true,
		"local":        true,
		"available":    true,
		"majority":     true,
		"linearizable": true,
		"snapshot":     true,
	}
	validWriteConcerns = map[string]bool{
		"acknowledged":   true,
		"w1":             true,
		"w2":             true,
		"w3":             true,
		"majority":       true,
		"journaled":      true,
		"unacknowledged": true,
	}
	validLogLevels = map[string]bool{
		"debug": true,
		"info":  true,
		"warn":  true,
		"error": true,
	}
)

// LoadConfig loads configuration from the specified file
func LoadConfig(configPath string) (*Config, error) {
	err := loadEnvFiles()
	if err != nil {
		return nil, fmt.Errorf("failed to load environment files: %w", err)
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	return ParseConfig(data)
}

// ParseConfig parses, validates and completes a YAML configuration document.
func ParseConfig(data []byte) (*Config, error) {
	var config Config

	// Strict mode rejects unknown keys so typos in option names surface early
	err := yaml.UnmarshalWithOptions(data, &config, yaml.Strict())
	if err != nil {
		return nil, fmt.Errorf("%w: failed to parse config file: %w", ErrConfigValidation, err)
	}

	expandConfigEnvVars(&config)

	if err := validateConfig(&config); err != nil {
		return nil, err
	}

	applyDefaults(&config)

	return &config, nil
}

// Table returns the table definition with the given name.
func (c *Config) Table(name string) (*TableDefinition, bool) {
	for i := range c.Tables {
		if c.Tables[i].Name == name {
			return &c.Tables[i], true
		}
	}

	return nil, false
}

// validateConfig validates the configuration for common errors and inconsistencies
func validateConfig(config *Config) error {
	if strings.TrimSpace(config.Connection.URI) == "" {
		return fmt.Errorf("%w: connection.uri must be set", ErrMissingURI)
	}

	if !strings.HasPrefix(config.Connection.URI, "mongodb://") && !strings.HasPrefix(config.Connection.URI, "mongodb+srv://") {
		return fmt.Errorf("%w: '%s' must start with mongodb:// or mongodb+srv://", ErrInvalidURI, config.Connection.URI)
	}

	client := config.Client
	for name, d := range map[string]time.Duration{
		"connect_timeout":          client.ConnectTimeout,
		"socket_timeout":           client.SocketTimeout,
		"server_selection_timeout": client.ServerSelectionTimeout,
		"heartbeat_interval":       client.HeartbeatInterval,
		"local_threshold":          client.LocalThreshold,
		"max_conn_idle_time":       client.MaxConnIdleTime,
	} {
		if d < 0 {
			return fmt.Errorf("%w: client.%s must be non-negative, got %s", ErrConfigValidation, name, d)
		}
	}

	if client.MinPoolSize > 0 && client.MaxPoolSize > 0 && client.MinPoolSize > client.MaxPoolSize {
		return fmt.Errorf("%w: client.min_pool_size %d exceeds client.max_pool_size %d", ErrConfigValidation, client.MinPoolSize, client.MaxPoolSize)
	}

	if client.ReadPreference != "" && !validReadPreferences[strings.ToLower(client.ReadPreference)] {
		return fmt.Errorf("%w: client.read_preference '%s' is invalid", ErrConfigValidation, client.ReadPreference)
	}

	if client.ReadConcern != "" && !validReadConcerns[strings.ToLower(client.ReadConcern)] {
		return fmt.Errorf("%w: client.read_concern '%s' is invalid", ErrConfigValidation, client.ReadConcern)
	}

	if client.WriteConcern != "" && !validWriteConcerns[strings.ToLower(client.WriteConcern)] {
		return fmt.Errorf("%w: client.write_concern '%s' is invalid", ErrConfigValidation, client.WriteConcern)
	}

	if config.Resolve.Workers < 0 {
		return fmt.Errorf("%w: resolve.workers must be non-negative, got %d", ErrConfigValidation, config.Resolve.Workers)
	}

	if config.Resolve.ParallelThreshold < 0 {
		return fmt.Errorf("%w: resolve.parallel_threshold must be non-negative, got %d", ErrConfigValidation, config.Resolve.ParallelThreshold)
	}

	if config.Logging.Level != "" && !validLogLevels[strings.ToLower(config.Logging.Level)] {
		return fmt.Errorf("%w: logging.level '%s' is invalid: must be one of debug, info, warn, error", ErrConfigValidation, config.Logging.Level)
	}

	if config.Logging.Format != "" && config.Logging.Format != "text" && config.Logging.Format != "json" {
		return fmt.Errorf("%w: logging.format '%s' is invalid: must be text or json", ErrConfigValidation, config.Logging.Format)
	}

	names := make(map[string]bool, len(config.Tables))
	for i := range config.Tables {
		table := &config.Tables[i]
		if names[table.Name] {
			return fmt.Errorf("%w: table '%s' is defined twice", ErrConfigValidation, table.Name)
		}

		names[table.Name] = true

		if err := table.Validate(); err != nil {
			return err
		}
	}

	return nil
}

// DefaultClientConfig returns the driver settings used when a knob is omitted.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ConnectTimeout:         10 * time.Second,
		ServerSelectionTimeout: 30 * time.Second,
		HeartbeatInterval:      10 * time.Second,
		LocalThreshold:         15 * time.Millisecond,
		MaxPoolSize:            100,
		ReadPreference:         "primary",
		ReadConcern:            "default",
		WriteConcern:           "acknowledged",
	}
}

// applyDefaults applies default values to missing configuration fields
func applyDefaults(config *Config) {
	defaults := DefaultClientConfig()

	if config.Client.ConnectTimeout == 0 {
		config.Client.ConnectTimeout = defaults.ConnectTimeout
	}

	if config.Client.ServerSelectionTimeout == 0 {
		config.Client.ServerSelectionTimeout = defaults.ServerSelectionTimeout
	}

	if config.Client.HeartbeatInterval == 0 {
		config.Client.HeartbeatInterval = defaults.HeartbeatInterval
	}

	if config.Client.LocalThreshold == 0 {
		config.Client.LocalThreshold = defaults.LocalThreshold
	}

	if config.Client.MaxPoolSize == 0 {
		config.Client.MaxPoolSize = defaults.MaxPoolSize
	}

	if config.Client.ReadPreference == "" {
		config.Client.ReadPreference = defaults.ReadPreference
	}

	if config.Client.ReadConcern == "" {
		config.Client.ReadConcern = defaults.ReadConcern
	}

	if config.Client.WriteConcern == "" {
		config.Client.WriteConcern = defaults.WriteConcern
	}

	if config.Resolve.Workers == 0 {
		config.Resolve.Workers = 8
	}

	if config.Resolve.ParallelThreshold == 0 {
		config.Resolve.ParallelThreshold = 256
	}

	if config.Logging.Level == "" {
		config.Logging.Level = "info"
	}

	if config.Logging.Format == "" {
		config.Logging.Format = "text"
	}

	if config.Metrics.Namespace == "" {
		config.Metrics.Namespace = "snapmongo"
	}
}

// loadEnvFiles loads .env files if they exist
func loadEnvFiles() error {
	for _, name := range []string{".env", ".env.local"} {
		if !fileExists(name) {
			continue
		}

		if err := godotenv.Load(name); err != nil {
			return fmt.Errorf("failed to load %s file: %w", name, err)
		}
	}

	return nil
}

var (
	bracedEnvVar = regexp.MustCompile(`\$\{([^}]+)\}`)
	bareEnvVar   = regexp.MustCompile(`\$([A-Za-z_][A-Za-z0-9_]*)`)
)

// expandEnvVars expands environment variables in the format ${VAR} or $VAR
func expandEnvVars(s string) string {
	s = bracedEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[2 : len(match)-1])
	})

	return bareEnvVar.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(match[1:])
	})
}

// expandConfigEnvVars expands environment variables in connection-related fields.
// Table definitions are left alone: index option documents legitimately contain '$'.
func expandConfigEnvVars(config *Config) {
	config.Connection.URI = expandEnvVars(config.Connection.URI)
	config.Connection.Database = expandEnvVars(config.Connection.Database)
	config.Client.ReplicaSet = expandEnvVars(config.Client.ReplicaSet)
	config.Client.AppName = expandEnvVars(config.Client.AppName)
	config.Logging.SeqURL = expandEnvVars(config.Logging.SeqURL)
}

// fileExists checks if a file exists
func fileExists(path string) bool {
	_, err := os.Stat(path)
	return !os.IsNotExist(err)
}
