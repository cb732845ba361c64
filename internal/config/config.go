// Package config loads indexsync configuration from defaults, the user
// config file, the project .indexsync.yaml and INDEXSYNC_* environment
// variables, in increasing precedence.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	syncerr "github.com/Aman-CERP/indexsync/internal/errors"
	"github.com/Aman-CERP/indexsync/internal/index"
)

// Journal backends.
const (
	JournalSQLite = "sqlite"
	JournalPebble = "pebble"
)

// Config represents the complete indexsync configuration.
type Config struct {
	Version int    `yaml:"version" json:"version"`
	DataDir string `yaml:"data_dir" json:"data_dir"`

	Source  SourceConfig  `yaml:"source" json:"source"`
	Store   StoreConfig   `yaml:"store" json:"store"`
	Import  ImportConfig  `yaml:"import" json:"import"`
	Journal JournalConfig `yaml:"journal" json:"journal"`
	Sync    SyncConfig    `yaml:"sync" json:"sync"`
	Queue   QueueConfig   `yaml:"queue" json:"queue"`
	Logging LoggingConfig `yaml:"logging" json:"logging"`
	Metrics MetricsConfig `yaml:"metrics" json:"metrics"`
	Indexes []IndexConfig `yaml:"indexes" json:"indexes"`
}

// SourceConfig points at the authoritative record database.
type SourceConfig struct {
	Path string `yaml:"path" json:"path"`
}

// StoreConfig configures the bleve index store.
type StoreConfig struct {
	// Dir holds one bleve index per name. Empty uses <data_dir>/indexes.
	Dir     string   `yaml:"dir" json:"dir"`
	Timeout Duration `yaml:"timeout" json:"timeout"`
	Retries int      `yaml:"retries" json:"retries"`
}

// ImportConfig holds the default import options.
type ImportConfig struct {
	BatchSize      int       `yaml:"batch_size" json:"batch_size"`
	BulkSize       SizeBytes `yaml:"bulk_size" json:"bulk_size"`
	Refresh        bool      `yaml:"refresh" json:"refresh"`
	Journal        bool      `yaml:"journal" json:"journal"`
	UpdateFailover bool      `yaml:"update_failover" json:"update_failover"`
	Parallel       int       `yaml:"parallel" json:"parallel"`
	Strategy       string    `yaml:"strategy" json:"strategy"`
}

// JournalConfig selects the journal backend.
type JournalConfig struct {
	Backend    string `yaml:"backend" json:"backend"`
	Path       string `yaml:"path" json:"path"`
	FetchLimit int    `yaml:"fetch_limit" json:"fetch_limit"`
}

// SyncConfig configures drift detection.
type SyncConfig struct {
	// Field is the default freshness field compared between source and index.
	Field         string   `yaml:"field" json:"field"`
	Parallel      int      `yaml:"parallel" json:"parallel"`
	WatchDebounce Duration `yaml:"watch_debounce" json:"watch_debounce"`
}

// QueueConfig configures the deferred import queue and its worker.
type QueueConfig struct {
	Path         string   `yaml:"path" json:"path"`
	PollInterval Duration `yaml:"poll_interval" json:"poll_interval"`
	Visibility   Duration `yaml:"visibility_timeout" json:"visibility_timeout"`
	RetryDelay   Duration `yaml:"retry_delay" json:"retry_delay"`
	RateLimit    float64  `yaml:"rate_limit" json:"rate_limit"`
	DedupSize    int      `yaml:"dedup_size" json:"dedup_size"`
	MaxAttempts  int      `yaml:"max_attempts" json:"max_attempts"`
}

// LoggingConfig configures log output.
type LoggingConfig struct {
	Level      string `yaml:"level" json:"level"`
	File       string `yaml:"file" json:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups" json:"max_backups"`
	Stderr     bool   `yaml:"stderr" json:"stderr"`
}

// MetricsConfig configures the Prometheus endpoint. Empty Addr disables it.
type MetricsConfig struct {
	Addr string `yaml:"addr" json:"addr"`
}

// IndexConfig defines one index over one source table.
type IndexConfig struct {
	Name           string        `yaml:"name" json:"name"`
	Type           string        `yaml:"type" json:"type"`
	Table          string        `yaml:"table" json:"table"`
	Fields         []FieldConfig `yaml:"fields" json:"fields"`
	FreshnessField string        `yaml:"freshness_field" json:"freshness_field"`
}

// TableName returns the source table, defaulting to the index name.
func (ic IndexConfig) TableName() string {
	if ic.Table != "" {
		return ic.Table
	}
	return ic.Name
}

// Indexes reports whether the named document field is indexed. An index
// without explicit fields indexes every record field.
func (ic IndexConfig) Indexes(name string) bool {
	if len(ic.Fields) == 0 {
		return true
	}
	for _, f := range ic.Fields {
		if f.Name == name {
			return true
		}
	}
	return false
}

// Definition converts the config to an index definition.
func (ic IndexConfig) Definition() index.Definition {
	def := index.Definition{Name: ic.Name, TypeName: ic.Type}
	for _, f := range ic.Fields {
		def.Fields = append(def.Fields, index.Field{Name: f.Name, Source: f.Source})
	}
	return def
}

// DefaultConfig returns a configuration with all defaults applied.
func DefaultConfig() *Config {
	return &Config{
		Version: 1,
		DataDir: ".indexsync",
		Store: StoreConfig{
			Timeout: Duration(30 * time.Second),
			Retries: 3,
		},
		Import: ImportConfig{
			BatchSize:      index.DefaultBatchSize,
			Refresh:        true,
			UpdateFailover: true,
			Strategy:       "urgent",
		},
		Journal: JournalConfig{
			Backend:    JournalSQLite,
			FetchLimit: 1000,
		},
		Sync: SyncConfig{
			WatchDebounce: Duration(500 * time.Millisecond),
		},
		Queue: QueueConfig{
			PollInterval: Duration(500 * time.Millisecond),
			Visibility:   Duration(30 * time.Second),
			RetryDelay:   Duration(5 * time.Second),
			DedupSize:    1024,
			MaxAttempts:  5,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
	}
}

// Options returns the import options the config selects.
func (c *Config) Options() index.Options {
	o := index.DefaultOptions()
	o.BatchSize = c.Import.BatchSize
	o.BulkSize = c.Import.BulkSize.Int64()
	o.Refresh = c.Import.Refresh
	o.Journal = c.Import.Journal
	o.UpdateFailover = c.Import.UpdateFailover
	o.Parallel.Workers = c.Import.Parallel
	return o
}

// RetryConfig returns the bleve client retry policy.
func (c *Config) RetryConfig() syncerr.RetryConfig {
	r := syncerr.DefaultRetryConfig()
	r.MaxRetries = c.Store.Retries
	return r
}

// JournalPath returns the journal location, defaulting into DataDir.
func (c *Config) JournalPath() string {
	if c.Journal.Path != "" {
		return c.Journal.Path
	}
	if c.Journal.Backend == JournalPebble {
		return filepath.Join(c.DataDir, "journal")
	}
	return filepath.Join(c.DataDir, "journal.db")
}

// QueuePath returns the queue database location, defaulting into DataDir.
func (c *Config) QueuePath() string {
	if c.Queue.Path != "" {
		return c.Queue.Path
	}
	return filepath.Join(c.DataDir, "queue.db")
}

// StoreDir returns the bleve index directory, defaulting into DataDir.
func (c *Config) StoreDir() string {
	if c.Store.Dir != "" {
		return c.Store.Dir
	}
	return filepath.Join(c.DataDir, "indexes")
}

// ResolvePaths makes every relative path in c relative to base.
func (c *Config) ResolvePaths(base string) {
	for _, p := range []*string{&c.DataDir, &c.Source.Path, &c.Store.Dir, &c.Journal.Path, &c.Queue.Path, &c.Logging.File} {
		if *p != "" && *p != ":memory:" && !filepath.IsAbs(*p) {
			*p = filepath.Join(base, *p)
		}
	}
}

// StatsPath returns the import statistics database location.
func (c *Config) StatsPath() string {
	return filepath.Join(c.DataDir, "stats.db")
}

// LockPath returns the lock file guarding exclusive commands.
func (c *Config) LockPath() string {
	return filepath.Join(c.DataDir, "indexsync.lock")
}

// Index returns the named index config.
func (c *Config) Index(name string) (IndexConfig, bool) {
	for _, ic := range c.Indexes {
		if ic.Name == name {
			return ic, true
		}
	}
	return IndexConfig{}, false
}

// GetUserConfigPath returns the path to the user configuration file:
//   - $XDG_CONFIG_HOME/indexsync/config.yaml (if XDG_CONFIG_HOME is set)
//   - ~/.config/indexsync/config.yaml (default)
func GetUserConfigPath() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "indexsync", "config.yaml")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), ".config", "indexsync", "config.yaml")
	}
	return filepath.Join(home, ".config", "indexsync", "config.yaml")
}

// Load builds the configuration for the project in dir.
func Load(dir string) (*Config, error) {
	// Step 1: .env values become environment variables without replacing
	// ones already set.
	if err := godotenv.Load(filepath.Join(dir, ".env")); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, syncerr.ConfigError("failed to load .env", err)
	}

	cfg := DefaultConfig()

	// Step 2: user config
	if path := GetUserConfigPath(); fileExists(path) {
		if err := cfg.loadYAML(path); err != nil {
			return nil, err
		}
	}

	// Step 3: project config (overrides user config)
	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	// Step 4: environment overrides (highest precedence)
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, syncerr.ConfigError("invalid configuration", err)
	}
	return cfg, nil
}

// LoadFile builds the configuration from one explicit file.
func LoadFile(path string) (*Config, error) {
	cfg := DefaultConfig()
	if err := cfg.loadYAML(path); err != nil {
		return nil, err
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, syncerr.ConfigError("invalid configuration", err)
	}
	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	// Try .yaml first (takes precedence)
	for _, name := range []string{".indexsync.yaml", ".indexsync.yml"} {
		path := filepath.Join(dir, name)
		if fileExists(path) {
			return c.loadYAML(path)
		}
	}
	// No config file is fine - use defaults
	return nil
}

// loadYAML decodes path over the current values, so absent keys keep them.
func (c *Config) loadYAML(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return syncerr.New(syncerr.ErrCodeConfigNotFound, fmt.Sprintf("failed to read config file %s", path), err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return syncerr.ConfigError(fmt.Sprintf("failed to parse config file %s", path), err)
	}
	return nil
}

func (c *Config) applyEnvOverrides() error {
	str := map[string]*string{
		"INDEXSYNC_DATA_DIR":        &c.DataDir,
		"INDEXSYNC_SOURCE_PATH":     &c.Source.Path,
		"INDEXSYNC_STORE_DIR":       &c.Store.Dir,
		"INDEXSYNC_STRATEGY":        &c.Import.Strategy,
		"INDEXSYNC_JOURNAL_BACKEND": &c.Journal.Backend,
		"INDEXSYNC_JOURNAL_PATH":    &c.Journal.Path,
		"INDEXSYNC_SYNC_FIELD":      &c.Sync.Field,
		"INDEXSYNC_QUEUE_PATH":      &c.Queue.Path,
		"INDEXSYNC_LOG_LEVEL":       &c.Logging.Level,
		"INDEXSYNC_LOG_FILE":        &c.Logging.File,
		"INDEXSYNC_METRICS_ADDR":    &c.Metrics.Addr,
	}
	for key, dst := range str {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	ints := map[string]*int{
		"INDEXSYNC_BATCH_SIZE":    &c.Import.BatchSize,
		"INDEXSYNC_PARALLEL":      &c.Import.Parallel,
		"INDEXSYNC_SYNC_PARALLEL": &c.Sync.Parallel,
		"INDEXSYNC_STORE_RETRIES": &c.Store.Retries,
	}
	for key, dst := range ints {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				return syncerr.ConfigError(fmt.Sprintf("%s must be an integer, got %q", key, v), err)
			}
			*dst = n
		}
	}

	bools := map[string]*bool{
		"INDEXSYNC_REFRESH":         &c.Import.Refresh,
		"INDEXSYNC_JOURNAL":         &c.Import.Journal,
		"INDEXSYNC_UPDATE_FAILOVER": &c.Import.UpdateFailover,
	}
	for key, dst := range bools {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				return syncerr.ConfigError(fmt.Sprintf("%s must be a boolean, got %q", key, v), err)
			}
			*dst = b
		}
	}

	if v := os.Getenv("INDEXSYNC_BULK_SIZE"); v != "" {
		size, err := ParseSize(v)
		if err != nil {
			return syncerr.ConfigError("INDEXSYNC_BULK_SIZE", err)
		}
		c.Import.BulkSize = size
	}
	return nil
}

// FreshnessField returns the field compared by sync for ic: its own
// freshness_field, falling back to sync.field.
func (c *Config) FreshnessField(ic IndexConfig) string {
	if ic.FreshnessField != "" {
		return ic.FreshnessField
	}
	return c.Sync.Field
}

// Validate checks the configuration for invalid values.
func (c *Config) Validate() error {
	if c.Import.BatchSize <= 0 {
		return fmt.Errorf("import.batch_size must be positive, got %d", c.Import.BatchSize)
	}
	if c.Import.BulkSize < 0 {
		return fmt.Errorf("import.bulk_size must be non-negative, got %d", c.Import.BulkSize)
	}
	if c.Import.Parallel < 0 || c.Sync.Parallel < 0 {
		return fmt.Errorf("parallel worker counts must be non-negative")
	}
	if c.Store.Retries < 0 {
		return fmt.Errorf("store.retries must be non-negative, got %d", c.Store.Retries)
	}

	switch strings.ToLower(c.Journal.Backend) {
	case JournalSQLite, JournalPebble:
	default:
		return fmt.Errorf("journal.backend must be 'sqlite' or 'pebble', got %s", c.Journal.Backend)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if !validLevels[strings.ToLower(c.Logging.Level)] {
		return fmt.Errorf("logging.level must be 'debug', 'info', 'warn', or 'error', got %s", c.Logging.Level)
	}

	if c.Queue.RateLimit < 0 {
		return fmt.Errorf("queue.rate_limit must be non-negative, got %f", c.Queue.RateLimit)
	}

	seen := make(map[string]bool, len(c.Indexes))
	for n, ic := range c.Indexes {
		if ic.Name == "" {
			return fmt.Errorf("indexes[%d].name is required", n)
		}
		if seen[ic.Name] {
			return fmt.Errorf("duplicate index name %q", ic.Name)
		}
		seen[ic.Name] = true
		for _, f := range ic.Fields {
			if f.Name == "" {
				return fmt.Errorf("index %s has a field without a name", ic.Name)
			}
		}
		if field := c.FreshnessField(ic); field != "" && !ic.Indexes(field) {
			return fmt.Errorf("index %s: freshness field %q is not an indexed field", ic.Name, field)
		}
	}
	if len(c.Indexes) > 0 && c.Source.Path == "" {
		return fmt.Errorf("source.path is required when indexes are defined")
	}
	return nil
}

// WriteYAML writes the configuration to path.
func (c *Config) WriteYAML(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	return err == nil && !info.IsDir()
}
