package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cleared-dev/recon/internal/matching"
	"github.com/cleared-dev/recon/internal/model"
)

// FileName is the config file created by `recon init`.
const FileName = "recon.yaml"

// Config represents the top-level recon.yaml configuration.
type Config struct {
	Organization string              `yaml:"organization"`
	Store        StoreConfig         `yaml:"store"`
	BankAccounts []model.BankAccount `yaml:"bank_accounts,omitempty"`
	ChargesFile  string              `yaml:"charges_file,omitempty"`
	Matching     matching.Config     `yaml:"matching"`
	Thresholds   ThresholdsConfig    `yaml:"thresholds"`
	Import       ImportConfig        `yaml:"import"`
	Events       EventsConfig        `yaml:"events"`
	Archive      ArchiveConfig       `yaml:"archive"`
	BankLink     BankLinkConfig      `yaml:"bank_link"`
	Server       ServerConfig        `yaml:"server"`
	Log          LogConfig           `yaml:"log"`
}

// StoreConfig selects the persistence backend.
type StoreConfig struct {
	Driver string `yaml:"driver"` // "memory" or "postgres"
	DSN    string `yaml:"dsn,omitempty"`
}

// ThresholdsConfig controls auto-matching.
type ThresholdsConfig struct {
	AutoConfirm      int `yaml:"auto_confirm"`
	ReviewFlag       int `yaml:"review_flag"`
	AmbiguityEpsilon int `yaml:"ambiguity_epsilon"`
}

// ImportConfig tunes file ingestion.
type ImportConfig struct {
	Dir           string `yaml:"dir"`
	DefaultFormat string `yaml:"default_format"`
	ChunkSize     int    `yaml:"chunk_size"`
	Workers       int    `yaml:"workers"`
}

// EventsConfig wires the notification collaborators.
type EventsConfig struct {
	KafkaBrokers []string `yaml:"kafka_brokers,omitempty"`
	KafkaTopic   string   `yaml:"kafka_topic"`
	AuditLog     string   `yaml:"audit_log,omitempty"` // CSV path, empty disables
}

// ArchiveConfig decides where raw uploads are kept. A bucket wins over a
// local directory.
type ArchiveConfig struct {
	Dir    string `yaml:"dir,omitempty"`
	Bucket string `yaml:"bucket,omitempty"`
	Prefix string `yaml:"prefix,omitempty"`
}

// BankLinkConfig bounds the bank-linking handshake.
type BankLinkConfig struct {
	Timeout time.Duration `yaml:"timeout"`
}

// ServerConfig configures `recon serve`.
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LogConfig configures the logger.
type LogConfig struct {
	Level   string `yaml:"level"`
	Console bool   `yaml:"console"`
}

// Load reads a recon.yaml file from disk. Missing sections keep their
// defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config: %w", err)
	}
	cfg := Default("")
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// Save writes a Config to a YAML file.
func Save(path string, cfg *Config) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshaling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Default returns a Config with sensible defaults for a new project.
func Default(organization string) *Config {
	return &Config{
		Organization: organization,
		Store:        StoreConfig{Driver: "memory"},
		Matching:     matching.DefaultConfig(),
		Thresholds: ThresholdsConfig{
			AutoConfirm:      80,
			ReviewFlag:       60,
			AmbiguityEpsilon: 5,
		},
		Import: ImportConfig{
			Dir:           "import",
			DefaultFormat: "auto",
			ChunkSize:     500,
			Workers:       4,
		},
		Events: EventsConfig{
			KafkaTopic: "recon.events",
		},
		Archive:  ArchiveConfig{Dir: "archive"},
		BankLink: BankLinkConfig{Timeout: 15 * time.Minute},
		Server:   ServerConfig{Addr: ":8080"},
		Log:      LogConfig{Level: "info"},
	}
}

// LoadEnv reads KEY=value pairs from an optional .env file into the process
// environment. Variables that are already set win.
func LoadEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file: %w", err)
	}
	return nil
}

// ApplyEnv overrides settings from RECON_* environment variables.
func (c *Config) ApplyEnv() {
	if v, ok := os.LookupEnv("RECON_STORE_DRIVER"); ok && v != "" {
		c.Store.Driver = v
	}
	if v, ok := os.LookupEnv("RECON_DATABASE_URL"); ok && v != "" {
		c.Store.DSN = v
		if _, set := os.LookupEnv("RECON_STORE_DRIVER"); !set {
			c.Store.Driver = "postgres"
		}
	}
	if v, ok := os.LookupEnv("RECON_HTTP_ADDR"); ok && v != "" {
		c.Server.Addr = v
	}
	if v, ok := os.LookupEnv("RECON_KAFKA_BROKERS"); ok {
		c.Events.KafkaBrokers = splitList(v)
	}
	if v, ok := os.LookupEnv("RECON_LOG_LEVEL"); ok && v != "" {
		c.Log.Level = v
	}
	if v, ok := os.LookupEnv("RECON_ARCHIVE_BUCKET"); ok {
		c.Archive.Bucket = v
	}
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store.Driver {
	case "memory":
	case "postgres":
		if c.Store.DSN == "" {
			errs = append(errs, errors.New("store: postgres driver needs a dsn"))
		}
	default:
		errs = append(errs, fmt.Errorf("store: unknown driver %q", c.Store.Driver))
	}

	seen := make(map[string]bool)
	for i, a := range c.BankAccounts {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("bank_accounts[%d]: id is required", i))
			continue
		}
		if seen[a.ID] {
			errs = append(errs, fmt.Errorf("bank_accounts[%d]: duplicate id %q", i, a.ID))
		}
		seen[a.ID] = true
		if a.PortfolioID == "" {
			errs = append(errs, fmt.Errorf("bank_accounts[%d]: portfolio is required", i))
		}
	}

	if err := c.Matching.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("matching: %w", err))
	}

	t := c.Thresholds
	if t.AutoConfirm < 0 || t.AutoConfirm > 100 {
		errs = append(errs, fmt.Errorf("thresholds: auto_confirm must be between 0 and 100: %d", t.AutoConfirm))
	}
	if t.ReviewFlag < 0 || t.ReviewFlag > t.AutoConfirm {
		errs = append(errs, fmt.Errorf("thresholds: review_flag must be between 0 and auto_confirm: %d", t.ReviewFlag))
	}
	if t.AmbiguityEpsilon < 0 {
		errs = append(errs, fmt.Errorf("thresholds: ambiguity_epsilon cannot be negative: %d", t.AmbiguityEpsilon))
	}

	if c.Import.ChunkSize < 1 {
		errs = append(errs, fmt.Errorf("import: chunk_size must be at least 1: %d", c.Import.ChunkSize))
	}
	if c.Import.Workers < 1 {
		errs = append(errs, fmt.Errorf("import: workers must be at least 1: %d", c.Import.Workers))
	}
	if len(c.Events.KafkaBrokers) > 0 && c.Events.KafkaTopic == "" {
		errs = append(errs, errors.New("events: kafka_topic is required with brokers"))
	}
	if c.BankLink.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("bank_link: timeout must be positive: %s", c.BankLink.Timeout))
	}
	return errors.Join(errs...)
}

// Account returns the bank account with the given id.
func (c *Config) Account(id string) (model.BankAccount, bool) {
	for _, a := range c.BankAccounts {
		if a.ID == id {
			return a, true
		}
	}
	return model.BankAccount{}, false
}

// ResolveAccount finds a bank account by id, display name or IBAN.
// Names compare case-insensitively and IBANs ignore spacing.
func (c *Config) ResolveAccount(ref string) (model.BankAccount, bool) {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return model.BankAccount{}, false
	}
	if a, ok := c.Account(ref); ok {
		return a, true
	}
	iban := compactIBAN(ref)
	for _, a := range c.BankAccounts {
		if strings.EqualFold(a.Name, ref) || (a.IBAN != "" && compactIBAN(a.IBAN) == iban) {
			return a, true
		}
	}
	return model.BankAccount{}, false
}

// PortfolioFor returns the portfolio whose charges a bank account collects.
func (c *Config) PortfolioFor(accountID string) (string, bool) {
	a, ok := c.Account(accountID)
	if !ok {
		return "", false
	}
	return a.PortfolioID, true
}

func compactIBAN(s string) string {
	return strings.ToUpper(strings.ReplaceAll(s, " ", ""))
}
