package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"

	"github.com/sigweihq/dotclaim/pkg/chains/evm"
	"github.com/sigweihq/dotclaim/pkg/chains/substrate"
	"github.com/sigweihq/dotclaim/pkg/constants"
	"github.com/sigweihq/dotclaim/pkg/utils"
)

// EnvPrefix prefixes every environment override, e.g. DOTCLAIM_LEDGER_ENDPOINT
const EnvPrefix = "DOTCLAIM"

// Config holds the agent configuration
type Config struct {
	Logging struct {
		Level  string `yaml:"level"`
		Format string `yaml:"format"`
	} `yaml:"logging"`

	Server struct {
		Host               string        `yaml:"host"`
		Port               int           `yaml:"port"`
		RateLimit          float64       `yaml:"rateLimit" split_words:"true"`
		RateBurst          int           `yaml:"rateBurst" split_words:"true"`
		SessionIdleTimeout time.Duration `yaml:"sessionIdleTimeout" split_words:"true"`
	} `yaml:"server"`

	Ledger struct {
		Endpoint             string        `yaml:"endpoint"`
		Pallet               string        `yaml:"pallet"`
		ClaimsStorage        string        `yaml:"claimsStorage" split_words:"true"`
		TotalStorage         string        `yaml:"totalStorage" split_words:"true"`
		KeyHasher            string        `yaml:"keyHasher" split_words:"true"`
		PalletIndex          uint8         `yaml:"palletIndex" split_words:"true"`
		ClaimCallIndex       uint8         `yaml:"claimCallIndex" split_words:"true"`
		SS58Prefix           uint16        `yaml:"ss58Prefix" envconfig:"SS58_PREFIX"`
		FinalityTimeout      time.Duration `yaml:"finalityTimeout" split_words:"true"`
		FinalityPollInterval time.Duration `yaml:"finalityPollInterval" split_words:"true"`
	} `yaml:"ledger"`

	Wallet struct {
		Scheme              string        `yaml:"scheme"`
		PrivateKey          string        `yaml:"privateKey" split_words:"true"`
		Keystore            string        `yaml:"keystore"`
		KeystorePassword    string        `yaml:"keystorePassword" split_words:"true"`
		SignerURL           string        `yaml:"signerUrl" envconfig:"SIGNER_URL"`
		AccountPollInterval time.Duration `yaml:"accountPollInterval" split_words:"true"`
	} `yaml:"wallet"`

	Domain struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
		ChainID int64  `yaml:"chainId" envconfig:"CHAIN_ID"`
	} `yaml:"domain"`
}

// Default returns the built-in configuration
func Default() *Config {
	cfg := &Config{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	cfg.Server.Host = "127.0.0.1"
	cfg.Server.Port = 8480
	cfg.Server.RateLimit = 5
	cfg.Server.RateBurst = 10
	cfg.Server.SessionIdleTimeout = constants.SessionIdleTimeout

	ledger := substrate.DefaultLedgerConfig()
	cfg.Ledger.Endpoint = constants.DefaultLedgerEndpoint
	cfg.Ledger.Pallet = ledger.Pallet
	cfg.Ledger.ClaimsStorage = ledger.ClaimsStorage
	cfg.Ledger.TotalStorage = ledger.TotalStorage
	cfg.Ledger.KeyHasher = string(ledger.KeyHasher)
	cfg.Ledger.SS58Prefix = ledger.SS58Prefix
	cfg.Ledger.FinalityTimeout = ledger.FinalityTimeout
	cfg.Ledger.FinalityPollInterval = ledger.FinalityPollInterval

	cfg.Wallet.Scheme = constants.SchemePersonalSign
	cfg.Wallet.AccountPollInterval = constants.AccountPollInterval

	cfg.Domain.Name = constants.DomainName
	cfg.Domain.Version = constants.DomainVersion
	cfg.Domain.ChainID = constants.DomainChainID

	return cfg
}

// Load reads defaults, then the YAML file at path (if any), then DOTCLAIM_* environment overrides
func Load(path string) (*Config, error) {
	cfg := Default()

	if err := readConfigFile(cfg, path); err != nil {
		return nil, err
	}
	if err := readConfigEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func readConfigFile(cfg *Config, path string) error {
	if path == "" {
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("error opening config file %v: %w", path, err)
	}
	defer f.Close()

	decoder := yaml.NewDecoder(f)
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("error decoding config file %v: %w", path, err)
	}
	return nil
}

func readConfigEnv(cfg *Config) error {
	if err := envconfig.Process(EnvPrefix, cfg); err != nil {
		return fmt.Errorf("error reading environment: %w", err)
	}
	return nil
}

// Validate reports the first invalid setting
func (c *Config) Validate() error {
	if _, err := ParseLevel(c.Logging.Level); err != nil {
		return err
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format must be text or json, got %q", c.Logging.Format)
	}

	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Server.RateLimit <= 0 || c.Server.RateBurst <= 0 {
		return fmt.Errorf("server.rateLimit and server.rateBurst must be positive")
	}
	if c.Server.SessionIdleTimeout <= 0 {
		return fmt.Errorf("server.sessionIdleTimeout must be positive")
	}

	if c.Ledger.Endpoint == "" {
		return fmt.Errorf("ledger.endpoint is required")
	}
	if err := utils.ValidateLedgerEndpoint(c.Ledger.Endpoint); err != nil {
		return fmt.Errorf("invalid ledger.endpoint: %w", err)
	}
	if c.Ledger.Pallet == "" || c.Ledger.ClaimsStorage == "" || c.Ledger.TotalStorage == "" {
		return fmt.Errorf("ledger pallet and storage names are required")
	}
	if !substrate.Hasher(c.Ledger.KeyHasher).Valid() {
		return fmt.Errorf("unsupported ledger.keyHasher %q", c.Ledger.KeyHasher)
	}
	if c.Ledger.SS58Prefix >= 1<<14 {
		return fmt.Errorf("ledger.ss58Prefix %d out of range", c.Ledger.SS58Prefix)
	}

	switch c.Wallet.Scheme {
	case constants.SchemePersonalSign, constants.SchemeEIP712:
	default:
		return &evm.UnsupportedSchemeError{Scheme: c.Wallet.Scheme}
	}
	if c.Wallet.PrivateKey != "" && c.Wallet.Keystore != "" {
		return fmt.Errorf("wallet.privateKey and wallet.keystore are mutually exclusive")
	}

	if c.Domain.Name == "" || c.Domain.Version == "" {
		return fmt.Errorf("domain name and version are required")
	}
	return nil
}

// Addr returns the listen address of the API server
func (c *Config) Addr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// LedgerConfig converts the ledger section for substrate.NewLedger
func (c *Config) LedgerConfig() substrate.LedgerConfig {
	return substrate.LedgerConfig{
		Pallet:        c.Ledger.Pallet,
		ClaimsStorage: c.Ledger.ClaimsStorage,
		TotalStorage:  c.Ledger.TotalStorage,
		KeyHasher:     substrate.Hasher(c.Ledger.KeyHasher),
		ClaimCall: substrate.CallIndex{
			Pallet: c.Ledger.PalletIndex,
			Call:   c.Ledger.ClaimCallIndex,
		},
		SS58Prefix:           c.Ledger.SS58Prefix,
		FinalityTimeout:      c.Ledger.FinalityTimeout,
		FinalityPollInterval: c.Ledger.FinalityPollInterval,
	}
}

// DomainConfig converts the domain section for the typed-data scheme
func (c *Config) DomainConfig() *evm.DomainConfig {
	return &evm.DomainConfig{
		Name:    c.Domain.Name,
		Version: c.Domain.Version,
		ChainID: c.Domain.ChainID,
	}
}

// ParseLevel maps a level name to a slog level
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(strings.TrimSpace(level)))); err != nil {
		return l, fmt.Errorf("invalid logging.level %q: %w", level, err)
	}
	return l, nil
}

// NewLogger builds the process logger from the logging section
func (c *Config) NewLogger(w io.Writer) *slog.Logger {
	level, err := ParseLevel(c.Logging.Level)
	if err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if c.Logging.Format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
