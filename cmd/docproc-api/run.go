package main

import (
	"context"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	apiserver "github.com/formahead/docproc/internal/api_server"
	"github.com/formahead/docproc/internal/config"
	"github.com/formahead/docproc/internal/events"
	"github.com/formahead/docproc/internal/filestore"
	"github.com/formahead/docproc/internal/ocr"
	"github.com/formahead/docproc/internal/queue"
	"github.com/formahead/docproc/internal/sealed"
	"github.com/formahead/docproc/internal/service"
	"github.com/formahead/docproc/internal/store"
	"github.com/formahead/docproc/pkg/log"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the docproc api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.New()
		if err != nil {
			zap.S().Fatalw("reading configuration", "error", err)
		}

		logLvl, err := zap.ParseAtomicLevel(cfg.Service.LogLevel)
		if err != nil {
			logLvl = zap.NewAtomicLevelAt(zapcore.InfoLevel)
		}

		logger := log.InitLog(logLvl)
		defer func() { _ = logger.Sync() }()

		undo := zap.ReplaceGlobals(logger)
		defer undo()

		zap.S().Info("Starting API service")
		defer zap.S().Info("API service stopped")

		zap.S().Info("Initializing data store")
		db, err := store.InitDB(cfg)
		if err != nil {
			zap.S().Fatalw("initializing data store", "error", err)
		}

		st := store.NewStore(db)
		defer st.Close()

		if err := st.InitialMigration(context.Background()); err != nil {
			zap.S().Fatalw("running initial migration", "error", err)
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGHUP, syscall.SIGTERM, syscall.SIGQUIT)
		defer cancel()

		files, err := filestore.New(cfg)
		if err != nil {
			zap.S().Fatalw("initializing file storage", "error", err)
		}
		if s3, ok := files.(*filestore.S3Storage); ok {
			if err := s3.EnsureBucket(ctx); err != nil {
				zap.S().Fatalw("ensuring bucket", "error", err)
			}
		}

		keys, err := sealed.NewDerivingKeyProvider(cfg.Service.MasterKey)
		if err != nil {
			zap.S().Fatalw("initializing sealing keys", "error", err)
		}

		producer := events.NewEventProducer(&events.StdoutWriter{})
		defer func() { _ = producer.Close() }()

		documentSrv := service.NewDocumentService(st, files, keys, cfg, service.WithPublisher(producer))

		engine := ocr.NewTesseractEngine(ocr.Config{
			Tesseract: cfg.OCR.Tesseract,
			Pdftoppm:  cfg.OCR.Pdftoppm,
			Language:  cfg.OCR.Language,
			DPI:       cfg.OCR.DPI,
		})
		processor := service.NewJobProcessor(documentSrv, engine)

		pool := queue.NewPool(st, processor, queue.Config{
			Workers:       cfg.Queue.Workers,
			PollInterval:  cfg.Queue.PollInterval,
			Heartbeat:     cfg.Queue.Heartbeat,
			LeaseDuration: cfg.Queue.LeaseDuration,
			JobTimeout:    cfg.Queue.JobTimeout,
			MaxAttempts:   cfg.Queue.MaxAttempts,
			Backoff:       queue.Backoff{Base: cfg.Queue.BackoffBase, Cap: cfg.Queue.BackoffCap},
			GCRetention:   cfg.Queue.GCRetention,
		}, queue.WithPublisher(producer))

		go func() {
			defer cancel()
			if err := pool.Run(ctx); err != nil {
				zap.S().Errorw("worker pool stopped", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.Address)
			if err != nil {
				zap.S().Fatalw("creating listener", "error", err)
			}

			server := apiserver.New(cfg, documentSrv, listener)
			if err := server.Run(ctx); err != nil {
				zap.S().Fatalw("running server", "error", err)
			}
		}()

		go func() {
			defer cancel()
			listener, err := newListener(cfg.Service.MetricsAddress)
			if err != nil {
				zap.S().Fatalw("creating metrics listener", "error", err)
			}

			metricsServer := apiserver.NewMetricServer(cfg.Service.MetricsAddress, listener, documentSrv)
			if err := metricsServer.Run(ctx); err != nil {
				zap.S().Fatalw("running metrics server", "error", err)
			}
		}()

		<-ctx.Done()
		return nil
	},
}

func newListener(address string) (net.Listener, error) {
	if address == "" {
		address = "localhost:0"
	}
	return net.Listen("tcp", address)
}
