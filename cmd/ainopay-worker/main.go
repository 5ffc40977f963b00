package main

import (
	"context"
	"errors"
	"os"

	"golang.org/x/sync/errgroup"

	"ainopay/internal/amqp"
	"ainopay/internal/cli"
	"ainopay/internal/log"
	"ainopay/internal/mail"
	"ainopay/internal/sheets"
	gsheet "ainopay/internal/sheets/google"
	"ainopay/internal/worker"
)

func main() {
	cli.LoadEnvFile()
	cfg := cli.LoadAndValidateConfig()
	logger := cli.SetupLogger(cfg.LogLevel)

	logger.Info("Starting ainopay-worker")

	if cfg.AMQPURL == "" {
		logger.Error("AMQP_URL is required by the worker")
		os.Exit(1)
	}

	ctx, cancel := cli.SignalContext(logger)
	defer cancel()

	be := cli.InitBackend(ctx, logger, cfg)
	defer func() {
		if err := be.Cleanup(); err != nil {
			logger.Error("Failed to close store", log.FieldError, err)
		}
	}()

	// Leave the mirror a nil interface when Sheets is off so payment events
	// are acknowledged without mirroring.
	var mirror sheets.PaymentMirror
	if cfg.SheetsEnabled() {
		client, err := gsheet.NewFromConfig(ctx, cfg)
		if err != nil {
			logger.Error("Failed to initialize Google Sheets client", log.FieldError, err)
			os.Exit(1)
		}
		mirror = client
		logger.Info("Google Sheets mirror enabled", "spreadsheet_id", cfg.GoogleSpreadsheetID)
	} else {
		logger.Info("Google Sheets disabled - no GOOGLE_SPREADSHEET_ID provided")
	}

	amqpClient, err := amqp.NewClient(cfg.AMQPURL, cfg.AMQPExchange, cfg.AMQPQueue)
	if err != nil {
		logger.Error("Failed to initialize AMQP client", log.FieldError, err)
		os.Exit(1)
	}
	defer amqpClient.Close()

	syncWorker := worker.NewSyncWorker(be.Store, mirror, mail.NewLogSender(logger), cfg.SyncBatchSize, logger)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return amqpClient.Run(gctx, syncWorker)
	})
	if mirror != nil {
		// Catch up on anything published while the worker was down.
		if err := syncWorker.StartupSyncCheck(ctx); err != nil {
			logger.Error("Failed startup sync check", log.FieldError, err)
		}
		g.Go(func() error {
			return syncWorker.RunSweep(gctx, cfg.SyncInterval)
		})
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("Worker stopped with error", log.FieldError, err)
		cancel()
		os.Exit(1)
	}
	logger.Info("Worker shutdown complete")
}
