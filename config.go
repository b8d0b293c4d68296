package harness

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/urfave/cli/v2"
	"gopkg.in/yaml.v3"

	"github.com/ethereum/go-ethereum/log"

	"github.com/translator-sri/trapi-acceptor/flags"
	"github.com/translator-sri/trapi-acceptor/report"
)

// StoreConfig mirrors the optional YAML report store configuration file.
// Values set on the command line take precedence over the file.
type StoreConfig struct {
	Backend      string `yaml:"backend"` // "file" or "postgres"
	DatabaseURL  string `yaml:"database_url"`
	DatabaseName string `yaml:"database_name"`
	ResultsDir   string `yaml:"results_dir"`
}

// Config holds the application configuration
type Config struct {
	Command     string   // Batch test command launched for each run
	CommandArgs []string // Arguments placed before the run parameters

	ResultsDir   string // Root directory of the file report store backend
	DatabaseURL  string // Postgres connection string; empty selects the file backend
	DatabaseName string // Logical report database name (postgres schema)

	LogDir         string        // Directory to store worker process logs
	DefaultTimeout time.Duration // Default timeout for a test run
	PollInterval   time.Duration // Interval between status polls in the driver

	Run RunParameters // Parameters of the run launched by the driver

	Log log.Logger
}

// NewConfig creates a new Config from cli context
func NewConfig(ctx *cli.Context, logger log.Logger) (*Config, error) {
	if err := flags.CheckRequired(ctx); err != nil {
		return nil, fmt.Errorf("missing required flags: %w", err)
	}

	cfg := &Config{
		Command:        ctx.String(flags.Command.Name),
		CommandArgs:    ctx.StringSlice(flags.CommandArgs.Name),
		ResultsDir:     ctx.String(flags.ResultsDir.Name),
		DatabaseURL:    ctx.String(flags.DatabaseURL.Name),
		DatabaseName:   ctx.String(flags.DatabaseName.Name),
		LogDir:         ctx.String(flags.LogDir.Name),
		DefaultTimeout: ctx.Duration(flags.DefaultTimeout.Name),
		PollInterval:   ctx.Duration(flags.PollInterval.Name),
		Run: RunParameters{
			KPID:           ctx.String(flags.KPID.Name),
			ARAID:          ctx.String(flags.ARAID.Name),
			XMaturity:      ctx.String(flags.XMaturity.Name),
			TRAPIVersion:   ctx.String(flags.TRAPIVersion.Name),
			BiolinkVersion: ctx.String(flags.BiolinkVersion.Name),
			OneOnly:        ctx.Bool(flags.One.Name),
			MaxEdges:       ctx.Int(flags.MaxEdges.Name),
			LogLevel:       ctx.String(flags.TestLogLevel.Name),
		},
		Log: logger,
	}

	if path := ctx.String(flags.StoreConfig.Name); path != "" {
		sc, err := LoadStoreConfig(path)
		if err != nil {
			return nil, err
		}
		cfg.applyStoreConfig(ctx, sc)
	}

	var err error
	cfg.ResultsDir, err = filepath.Abs(cfg.ResultsDir)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve absolute path for results directory: %w", err)
	}
	if cfg.LogDir != "" {
		cfg.LogDir, err = filepath.Abs(cfg.LogDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve absolute path for log directory: %w", err)
		}
	}
	return cfg, nil
}

// LoadStoreConfig reads and validates a report store configuration file.
func LoadStoreConfig(path string) (*StoreConfig, error) {
	body, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read store config %q: %w", path, err)
	}
	var sc StoreConfig
	if err := yaml.Unmarshal(body, &sc); err != nil {
		return nil, fmt.Errorf("cannot parse store config %q: %w", path, err)
	}
	switch sc.Backend {
	case "", "file", "postgres":
	default:
		return nil, fmt.Errorf("store config %q: unknown backend %q", path, sc.Backend)
	}
	return &sc, nil
}

// applyStoreConfig fills in file-provided values for any store flag the user
// left at its default.
func (c *Config) applyStoreConfig(ctx *cli.Context, sc *StoreConfig) {
	if sc.DatabaseURL != "" && !ctx.IsSet(flags.DatabaseURL.Name) {
		c.DatabaseURL = sc.DatabaseURL
	}
	if sc.DatabaseName != "" && !ctx.IsSet(flags.DatabaseName.Name) {
		c.DatabaseName = sc.DatabaseName
	}
	if sc.ResultsDir != "" && !ctx.IsSet(flags.ResultsDir.Name) {
		c.ResultsDir = sc.ResultsDir
	}
	if sc.Backend == "file" && !ctx.IsSet(flags.DatabaseURL.Name) {
		c.DatabaseURL = ""
	}
}

// NewStore opens the report store the configuration selects: postgres when a
// database URL is configured, the filesystem tree otherwise. A configured but
// unreachable database is an error, not a silent fallback.
func (c *Config) NewStore(ctx context.Context) (report.Store, error) {
	if c.DatabaseURL != "" {
		return report.NewPGStore(ctx, c.DatabaseURL, c.DatabaseName, c.Log)
	}
	return report.NewFileStore(c.ResultsDir, c.Log)
}
