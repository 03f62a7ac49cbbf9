package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/miragespace/vpsdash/config"
	"github.com/miragespace/vpsdash/notify"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

// alert consumer: drains admin_alerts into the structured log, and into
// sentry for deposit errors
func main() {
	var logger *zap.Logger
	var err error

	queue := flag.String("queue", "", "durable queue bound to the alert exchange, overrides ALERT_QUEUE")
	flag.Parse()

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if config.EnvProduction == env {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))

	// Load configurations from dotFile
	if err := config.LoadDotFile(env); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}
	cfg, err := config.LoadWorker()
	if err != nil {
		logger.Fatal("Invalid configuration",
			zap.Error(err),
		)
	}
	if *queue != "" {
		cfg.AlertQueue = *queue
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Dsn:         cfg.SentryDSN,
		Environment: cfg.Environment,
		Release:     Version,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	sentryCfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "worker",
		},
	}
	core, err := zapsentry.NewCore(sentryCfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err == nil {
		logger = zapsentry.AttachCoreToLogger(core, logger)
	}
	defer logger.Sync()

	sink, err := notify.NewAMQPSink(notify.AMQPOptions{
		Logger: logger,
		URI:    cfg.AMQPURI,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer sink.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	alerts, err := sink.Receive(ctx, cfg.AlertQueue)
	if err != nil {
		logger.Fatal("Cannot receive alerts",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	logger.Info("Alert worker started",
		zap.String("Queue", cfg.AlertQueue),
	)

	for {
		select {
		case <-c:
			return
		case alert, ok := <-alerts:
			if !ok {
				logger.Error("Alert stream closed")
				return
			}
			fields := []zap.Field{
				zap.String("Event", string(alert.Event)),
				zap.Time("Time", alert.Time),
			}
			for _, k := range alert.FieldKeys() {
				fields = append(fields, zap.String(k, alert.Fields[k]))
			}
			if alert.Event == notify.EventDepositError {
				logger.Error("Deposit processing failed", fields...)
			} else {
				logger.Info("Deposit alert", fields...)
			}
		}
	}
}
