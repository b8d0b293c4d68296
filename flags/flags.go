package flags

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	opservice "github.com/ethereum-optimism/optimism/op-service"
	oplog "github.com/ethereum-optimism/optimism/op-service/log"
	opmetrics "github.com/ethereum-optimism/optimism/op-service/metrics"
)

const EnvVarPrefix = "TRAPI_ACCEPTOR"

var (
	Command = &cli.StringFlag{
		Name:     "command",
		Value:    "",
		Required: true,
		EnvVars:  opservice.PrefixEnvVar(EnvVarPrefix, "COMMAND"),
		Usage:    "Batch test command to launch for each test run (eg. a pytest wrapper script)",
	}
	CommandArgs = &cli.StringSliceFlag{
		Name:    "command-arg",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "COMMAND_ARGS"),
		Usage:   "Extra argument placed before the run parameters on the batch command line (repeatable)",
	}
	StoreConfig = &cli.StringFlag{
		Name:    "store-config",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "STORE_CONFIG"),
		Usage:   "Path to an optional report store config file (eg. 'store.yaml'); flags override its values",
	}
	ResultsDir = &cli.StringFlag{
		Name:    "results-dir",
		Value:   "results",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "RESULTS_DIR"),
		Usage:   "Directory for the file report store backend",
	}
	DatabaseURL = &cli.StringFlag{
		Name:    "database-url",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DATABASE_URL"),
		Usage:   "Postgres connection string for the database report store backend. Leave empty to store reports on the filesystem.",
	}
	DatabaseName = &cli.StringFlag{
		Name:    "database-name",
		Value:   "sri_testing",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DATABASE_NAME"),
		Usage:   "Logical report database name used by the database backend",
	}
	LogDir = &cli.StringFlag{
		Name:    "logdir",
		Value:   "logs",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "LOGDIR"),
		Usage:   "Directory to store worker process logs",
	}
	DefaultTimeout = &cli.DurationFlag{
		Name:    "default-timeout",
		Value:   2 * time.Minute,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "DEFAULT_TIMEOUT"),
		Usage:   "Default timeout for a test run, after which its worker is terminated",
	}
	PollInterval = &cli.DurationFlag{
		Name:    "poll-interval",
		Value:   time.Second,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "POLL_INTERVAL"),
		Usage:   "Interval between test run status polls",
	}
	KPID = &cli.StringFlag{
		Name:    "kp",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "KP"),
		Usage:   "Knowledge provider identifier(s) to test, comma-separated, '*' wildcards allowed",
	}
	ARAID = &cli.StringFlag{
		Name:    "ara",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ARA"),
		Usage:   "Autonomous relay agent identifier(s) to test, comma-separated, '*' wildcards allowed",
	}
	XMaturity = &cli.StringFlag{
		Name:    "x-maturity",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "X_MATURITY"),
		Usage:   "Target x-maturity environment of the resources under test",
	}
	TRAPIVersion = &cli.StringFlag{
		Name:    "trapi-version",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TRAPI_VERSION"),
		Usage:   "TRAPI version override for the test run",
	}
	BiolinkVersion = &cli.StringFlag{
		Name:    "biolink-version",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "BIOLINK_VERSION"),
		Usage:   "Biolink model version override for the test run",
	}
	One = &cli.BoolFlag{
		Name:    "one",
		Value:   false,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "ONE"),
		Usage:   "Run a single test case per edge (smoke test mode)",
	}
	MaxEdges = &cli.IntFlag{
		Name:    "max-edges",
		Value:   0,
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "MAX_EDGES"),
		Usage:   "Maximum number of edges tested per resource (0 = no cap)",
	}
	TestLogLevel = &cli.StringFlag{
		Name:    "test-log-level",
		Value:   "",
		EnvVars: opservice.PrefixEnvVar(EnvVarPrefix, "TEST_LOG_LEVEL"),
		Usage:   "Log level forwarded to the batch test command",
	}
)

var requiredFlags = []cli.Flag{
	Command,
}

var optionalFlags = []cli.Flag{
	CommandArgs,
	StoreConfig,
	ResultsDir,
	DatabaseURL,
	DatabaseName,
	LogDir,
	DefaultTimeout,
	PollInterval,
	KPID,
	ARAID,
	XMaturity,
	TRAPIVersion,
	BiolinkVersion,
	One,
	MaxEdges,
	TestLogLevel,
}
var Flags []cli.Flag

func init() {
	optionalFlags = append(optionalFlags, oplog.CLIFlags(EnvVarPrefix)...)
	optionalFlags = append(optionalFlags, opmetrics.CLIFlags(EnvVarPrefix)...)

	Flags = append(requiredFlags, optionalFlags...)
}

func CheckRequired(ctx *cli.Context) error {
	for _, f := range requiredFlags {
		if !ctx.IsSet(f.Names()[0]) {
			return fmt.Errorf("flag %s is required", f.Names()[0])
		}
	}
	return nil
}
