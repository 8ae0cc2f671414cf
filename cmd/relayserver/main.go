package main

import (
	"context"
	"crypto/tls"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/ruteri/social-recovery-backend/api/relay"
	"github.com/ruteri/social-recovery-backend/auth"
	"github.com/ruteri/social-recovery-backend/cmd/flags"
	"github.com/ruteri/social-recovery-backend/httpserver"
	"github.com/ruteri/social-recovery-backend/interfaces"
	"github.com/ruteri/social-recovery-backend/metrics"
	"github.com/ruteri/social-recovery-backend/recovery"
	"github.com/ruteri/social-recovery-backend/storage"
	"github.com/urfave/cli/v2"
)

func main() {
	app := &cli.App{
		Name:  "relay-server",
		Usage: "Serve the social recovery relay API",
		Flags: append(append([]cli.Flag{
			flags.ListenAddrFlag,
			flags.DatabaseDialectFlag,
			flags.DatabaseDSNFlag,
			flags.BlobStorageFlag,
			flags.VaultClientCertFlag,
			flags.VaultClientKeyFlag,
			flags.JWTSecretFlag,
			flags.TokenTTLFlag,
			flags.WriteRateFlag,
			flags.WriteBurstFlag,
			flags.LogServiceFlagFn("social-recovery-relay"),
		}, flags.RecoveryFlags...), flags.CommonFlags...),
		Action: runRelay,
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func runRelay(cCtx *cli.Context) error {
	logger := flags.SetupLogger(cCtx)
	cfg := flags.ConfigureServer(cCtx, logger, cCtx.String(flags.ListenAddrFlag.Name))

	recoveryCfg, err := flags.RecoveryConfig(cCtx)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Record store
	dialect, err := storage.ParseDialect(cCtx.String(flags.DatabaseDialectFlag.Name))
	if err != nil {
		return err
	}
	store, err := storage.OpenSQLStore(ctx, dialect, cCtx.String(flags.DatabaseDSNFlag.Name), logger)
	if err != nil {
		logger.Error("Failed to open record store", "err", err)
		return err
	}
	defer store.Close()

	if err := store.Migrate(ctx); err != nil {
		logger.Error("Failed to migrate record store", "err", err)
		return err
	}

	// Blob store
	var locations []interfaces.StorageBackendLocation
	for _, uri := range cCtx.StringSlice(flags.BlobStorageFlag.Name) {
		location, err := interfaces.NewStorageBackendLocation(uri)
		if err != nil {
			return err
		}
		locations = append(locations, location)
	}
	var factory interfaces.StorageBackendFactory = storage.NewStorageBackendFactory(logger)
	if certFile := cCtx.String(flags.VaultClientCertFlag.Name); certFile != "" {
		keyFile := cCtx.String(flags.VaultClientKeyFlag.Name)
		factory = factory.WithTLSAuth(func() (tls.Certificate, error) {
			return tls.LoadX509KeyPair(certFile, keyFile)
		})
	}
	blobs, err := factory.CreateMultiBackend(locations)
	if err != nil {
		logger.Error("Failed to create blob storage", "err", err)
		return err
	}

	tokens, err := auth.NewTokenIssuer([]byte(cCtx.String(flags.JWTSecretFlag.Name)), cCtx.Duration(flags.TokenTTLFlag.Name))
	if err != nil {
		return fmt.Errorf("invalid token configuration: %w", err)
	}

	collector := metrics.NewCollector()
	writeRate, writeBurst := cCtx.Float64(flags.WriteRateFlag.Name), cCtx.Int(flags.WriteBurstFlag.Name)
	if writeRate <= 0 || writeBurst < 1 {
		return fmt.Errorf("invalid write limit: rate %v, burst %d", writeRate, writeBurst)
	}
	handler := relay.NewHandler(store, store, store, blobs, tokens, logger).
		WithMetrics(collector).
		WithSupersedeAfter(recoveryCfg.SupersedeAfter).
		WithWriteLimit(writeRate, writeBurst)

	server, err := httpserver.New(cfg, handler, collector)
	if err != nil {
		logger.Error("Failed to create server", "err", err)
		return err
	}

	janitor := recovery.NewJanitor(recoveryCfg, store, store, collector, logger)
	go janitor.Run(ctx)

	logger.Info("Starting relay", "dialect", dialect, "blobBackends", len(locations), "threshold", recoveryCfg.Threshold)
	server.RunInBackground()

	exit := make(chan os.Signal, 1)
	signal.Notify(exit, os.Interrupt, syscall.SIGTERM)

	logger.Info("Server is running, press Ctrl+C to stop")
	<-exit
	logger.Info("Shutdown signal received")

	cancel()
	server.Shutdown()
	logger.Info("Server shutdown complete")

	return nil
}
