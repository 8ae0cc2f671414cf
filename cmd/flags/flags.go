package flags

import (
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/ruteri/social-recovery-backend/api"
	"github.com/ruteri/social-recovery-backend/common"
	"github.com/ruteri/social-recovery-backend/recovery"
	"github.com/urfave/cli/v2"
)

func SetupLogger(cCtx *cli.Context) (log *slog.Logger) {
	return SetupLoggerTo(cCtx, nil)
}

// SetupLoggerTo is SetupLogger writing to w instead of stdout.
func SetupLoggerTo(cCtx *cli.Context, w io.Writer) (log *slog.Logger) {
	logJSON := cCtx.Bool(LogJsonFlag.Name)
	logDebug := cCtx.Bool(LogDebugFlag.Name)
	logUID := cCtx.Bool(LogUidFlag.Name)
	logService := cCtx.String("log-service")

	logger := common.SetupLogger(&common.LoggingOpts{
		Debug:   logDebug,
		JSON:    logJSON,
		Service: logService,
		Version: common.Version,
		Writer:  w,
	})

	if logUID {
		id := uuid.Must(uuid.NewRandom())
		logger = logger.With("uid", id.String())
	}
	return logger
}

func ConfigureServer(cCtx *cli.Context, logger *slog.Logger, listenAddr string) *api.HTTPServerConfig {
	metricsAddr := cCtx.String("metrics-addr")
	enablePprof := cCtx.Bool("pprof")
	drainDuration := time.Duration(cCtx.Int64("drain-seconds")) * time.Second

	cfg := &api.HTTPServerConfig{
		ListenAddr:    listenAddr,
		MetricsAddr:   metricsAddr,
		Log:           logger,
		EnablePprof:   enablePprof,
		DrainDuration: drainDuration,
	}
	return cfg.WithDefaults()
}

// RecoveryConfig reads the recovery parameters shared by the relay and the CLI.
func RecoveryConfig(cCtx *cli.Context) (recovery.Config, error) {
	cfg := recovery.Config{
		Threshold:        cCtx.Int(ThresholdFlag.Name),
		InitialShares:    cCtx.Int(InitialSharesFlag.Name),
		InactivityWindow: cCtx.Duration(InactivityWindowFlag.Name),
		SupersedeAfter:   cCtx.Duration(SupersedeAfterFlag.Name),
		JanitorInterval:  cCtx.Duration(JanitorIntervalFlag.Name),
	}
	if err := cfg.Validate(); err != nil {
		return recovery.Config{}, fmt.Errorf("invalid recovery parameters: %w", err)
	}
	return cfg, nil
}

var ListenAddrFlag = &cli.StringFlag{
	Name:    "listen-addr",
	Value:   "127.0.0.1:8080",
	Usage:   "address to listen on for API",
	EnvVars: []string{"LISTEN_ADDR"},
}

var DatabaseDialectFlag = &cli.StringFlag{
	Name:    "db-dialect",
	Value:   "sqlite",
	Usage:   "record store dialect: 'sqlite' or 'postgres'",
	EnvVars: []string{"DB_DIALECT"},
}

var DatabaseDSNFlag = &cli.StringFlag{
	Name:    "db-dsn",
	Value:   "file:social-recovery.db?_pragma=busy_timeout(5000)",
	Usage:   "record store connection string",
	EnvVars: []string{"DB_DSN"},
}

var BlobStorageFlag = &cli.StringSliceFlag{
	Name:    "blob-storage",
	Value:   cli.NewStringSlice("file:///var/lib/social-recovery/blobs"),
	Usage:   "blob backend URI, repeat for redundancy (file://, s3://, ipfs://, vault://)",
	EnvVars: []string{"BLOB_STORAGE"},
}

var VaultClientCertFlag = &cli.StringFlag{
	Name:    "vault-client-cert",
	Usage:   "PEM client certificate for vault:// blob backends using cert auth",
	EnvVars: []string{"VAULT_CLIENT_CERT"},
}

var VaultClientKeyFlag = &cli.StringFlag{
	Name:    "vault-client-key",
	Usage:   "PEM private key matching --vault-client-cert",
	EnvVars: []string{"VAULT_CLIENT_KEY"},
}

var JWTSecretFlag = &cli.StringFlag{
	Name:     "jwt-secret",
	Usage:    "HMAC secret for login tokens, at least 16 bytes",
	EnvVars:  []string{"JWT_SECRET"},
	Required: true,
}

var TokenTTLFlag = &cli.DurationFlag{
	Name:    "token-ttl",
	Value:   12 * time.Hour,
	Usage:   "lifetime of login tokens",
	EnvVars: []string{"TOKEN_TTL"},
}

var WriteRateFlag = &cli.Float64Flag{
	Name:    "write-rate",
	Value:   6,
	Usage:   "anonymous writes (accounts, blobs, recoveries) allowed per minute per client address",
	EnvVars: []string{"WRITE_RATE"},
}

var WriteBurstFlag = &cli.IntFlag{
	Name:    "write-burst",
	Value:   20,
	Usage:   "anonymous writes a client address may make at once",
	EnvVars: []string{"WRITE_BURST"},
}

var ThresholdFlag = &cli.IntFlag{
	Name:    "threshold",
	Value:   recovery.DefaultConfig().Threshold,
	Usage:   "number of trustee shares required to recover an account",
	EnvVars: []string{"RECOVERY_THRESHOLD"},
}

var InitialSharesFlag = &cli.IntFlag{
	Name:    "initial-shares",
	Value:   recovery.DefaultConfig().InitialShares,
	Usage:   "number of shares generated at enrollment",
	EnvVars: []string{"RECOVERY_INITIAL_SHARES"},
}

var InactivityWindowFlag = &cli.DurationFlag{
	Name:    "inactivity-window",
	Value:   recovery.DefaultConfig().InactivityWindow,
	Usage:   "abandon recoveries idle for longer than this",
	EnvVars: []string{"RECOVERY_INACTIVITY_WINDOW"},
}

var SupersedeAfterFlag = &cli.DurationFlag{
	Name:    "supersede-after",
	Value:   recovery.DefaultConfig().SupersedeAfter,
	Usage:   "idle time after which a recovery may be replaced by a new one",
	EnvVars: []string{"RECOVERY_SUPERSEDE_AFTER"},
}

var JanitorIntervalFlag = &cli.DurationFlag{
	Name:    "janitor-interval",
	Value:   recovery.DefaultConfig().JanitorInterval,
	Usage:   "how often to sweep for idle recoveries",
	EnvVars: []string{"RECOVERY_JANITOR_INTERVAL"},
}

var RecoveryFlags = []cli.Flag{
	ThresholdFlag,
	InitialSharesFlag,
	InactivityWindowFlag,
	SupersedeAfterFlag,
	JanitorIntervalFlag,
}

var LogJsonFlag = &cli.BoolFlag{
	Name:  "log-json",
	Value: false,
	Usage: "log in JSON format",
}
var LogDebugFlag = &cli.BoolFlag{
	Name:  "log-debug",
	Value: false,
	Usage: "log debug messages",
}
var LogUidFlag = &cli.BoolFlag{
	Name:  "log-uid",
	Value: false,
	Usage: "generate a uuid and add to all log messages",
}

var LogServiceFlagFn = func(service string) *cli.StringFlag {
	return &cli.StringFlag{
		Name:  "log-service",
		Value: service,
		Usage: "add 'service' tag to logs",
	}
}

var PprofFlag = &cli.BoolFlag{
	Name:  "pprof",
	Value: false,
	Usage: "enable pprof debug endpoint",
}
var DrainSecondsFlag = &cli.Int64Flag{
	Name:  "drain-seconds",
	Value: 45,
	Usage: "seconds to wait in drain HTTP request",
}
var MetricsAddrFlag = &cli.StringFlag{
	Name:  "metrics-addr",
	Value: "127.0.0.1:8090",
	Usage: "address to listen on for Prometheus metrics",
}

var LogFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
}

var CommonFlags = []cli.Flag{
	LogJsonFlag,
	LogDebugFlag,
	LogUidFlag,
	PprofFlag,
	DrainSecondsFlag,
	MetricsAddrFlag,
}
